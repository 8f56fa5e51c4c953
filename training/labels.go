package training

import (
	"fmt"
	"sort"
)

// EmotionLabels is the label space of the facial emotion dataset, in class
// index order
var EmotionLabels = []string{"focused", "happy", "neutral", "surprised"}

// LabelMap maps label strings to class indices and back
type LabelMap struct {
	toIndex map[string]int
	toName  []string
}

// NewLabelMap builds a map where names[i] is class i
func NewLabelMap(names []string) (*LabelMap, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("label map cannot be empty")
	}

	lm := &LabelMap{
		toIndex: make(map[string]int, len(names)),
		toName:  make([]string, len(names)),
	}
	for i, name := range names {
		if _, dup := lm.toIndex[name]; dup {
			return nil, fmt.Errorf("duplicate label %q", name)
		}
		lm.toIndex[name] = i
		lm.toName[i] = name
	}
	return lm, nil
}

// DefaultLabelMap returns the emotion label map
func DefaultLabelMap() *LabelMap {
	lm, _ := NewLabelMap(EmotionLabels)
	return lm
}

// NumClasses returns the size of the label space
func (lm *LabelMap) NumClasses() int {
	return len(lm.toName)
}

// Index returns the class index of a label string
func (lm *LabelMap) Index(name string) (int, error) {
	idx, ok := lm.toIndex[name]
	if !ok {
		known := append([]string(nil), lm.toName...)
		sort.Strings(known)
		return 0, fmt.Errorf("unknown label %q (known: %v)", name, known)
	}
	return idx, nil
}

// Name returns the label string of a class index
func (lm *LabelMap) Name(index int) (string, error) {
	if index < 0 || index >= len(lm.toName) {
		return "", fmt.Errorf("class index %d out of range [0, %d)", index, len(lm.toName))
	}
	return lm.toName[index], nil
}

// Encode converts a slice of label strings into class indices
func (lm *LabelMap) Encode(names []string) ([]int, error) {
	out := make([]int, len(names))
	for i, name := range names {
		idx, err := lm.Index(name)
		if err != nil {
			return nil, fmt.Errorf("sample %d: %w", i, err)
		}
		out[i] = idx
	}
	return out, nil
}

// Names returns the label strings in class index order
func (lm *LabelMap) Names() []string {
	return append([]string(nil), lm.toName...)
}
