package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/tsawler/go-emotion/training"
)

// MetadataFile is the optional per-image attribute table under the root
const MetadataFile = "metadata.csv"

// DefaultExtensions are the image files picked up when none are given
var DefaultExtensions = []string{".png", ".jpg", ".jpeg"}

// ImageFolderDataset represents a dataset loaded from a directory structure
// where each subdirectory is named after an emotion class
type ImageFolderDataset struct {
	root       string
	imagePaths []string
	labels     []int
	attributes []map[string]string
	labelMap   *training.LabelMap
}

// NewImageFolderDataset scans root/<class>/* for images. Directory names are
// resolved through labels; an unknown class directory is an error. When
// root/metadata.csv exists its columns other than "file" become per-image
// attributes, keyed by the image path relative to root.
func NewImageFolderDataset(root string, labels *training.LabelMap, extensions []string) (*ImageFolderDataset, error) {
	if len(extensions) == 0 {
		extensions = DefaultExtensions
	}
	if labels == nil {
		labels = training.DefaultLabelMap()
	}

	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("failed to list classes: %w", err)
	}

	dataset := &ImageFolderDataset{root: root, labelMap: labels}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		classIdx, err := labels.Index(entry.Name())
		if err != nil {
			return nil, fmt.Errorf("class directory %s: %w", entry.Name(), err)
		}

		files, err := os.ReadDir(filepath.Join(root, entry.Name()))
		if err != nil {
			return nil, fmt.Errorf("failed to list %s: %w", entry.Name(), err)
		}
		for _, file := range files {
			if file.IsDir() || !hasExtension(file.Name(), extensions) {
				continue
			}
			dataset.imagePaths = append(dataset.imagePaths, filepath.Join(root, entry.Name(), file.Name()))
			dataset.labels = append(dataset.labels, classIdx)
		}
	}

	if len(dataset.imagePaths) == 0 {
		return nil, fmt.Errorf("no images found in %s", root)
	}

	if err := dataset.loadMetadata(filepath.Join(root, MetadataFile)); err != nil {
		return nil, err
	}
	return dataset, nil
}

func hasExtension(name string, extensions []string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, e := range extensions {
		if ext == strings.ToLower(e) {
			return true
		}
	}
	return false
}

func (d *ImageFolderDataset) loadMetadata(path string) error {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to open metadata: %w", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	header, err := reader.Read()
	if err != nil {
		return fmt.Errorf("failed to read metadata header: %w", err)
	}
	fileCol := -1
	for i, name := range header {
		header[i] = strings.TrimSpace(name)
		if header[i] == "file" {
			fileCol = i
		}
	}
	if fileCol < 0 {
		return fmt.Errorf("metadata %s has no file column", path)
	}

	byFile := make(map[string]map[string]string)
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read metadata: %w", err)
		}
		attrs := make(map[string]string, len(header)-1)
		for i, value := range record {
			if i != fileCol {
				attrs[header[i]] = strings.TrimSpace(value)
			}
		}
		byFile[filepath.ToSlash(strings.TrimSpace(record[fileCol]))] = attrs
	}

	d.attributes = make([]map[string]string, len(d.imagePaths))
	for i, p := range d.imagePaths {
		rel, err := filepath.Rel(d.root, p)
		if err != nil {
			continue
		}
		d.attributes[i] = byFile[filepath.ToSlash(rel)]
	}
	return nil
}

// Len returns the number of items in the dataset
func (d *ImageFolderDataset) Len() int {
	return len(d.imagePaths)
}

// GetItem returns the image path and label at the given index
func (d *ImageFolderDataset) GetItem(index int) (string, int, error) {
	if index < 0 || index >= len(d.imagePaths) {
		return "", 0, fmt.Errorf("index %d out of range [0, %d)", index, len(d.imagePaths))
	}
	return d.imagePaths[index], d.labels[index], nil
}

// Labels returns the class index of every image, in dataset order
func (d *ImageFolderDataset) Labels() []int {
	return append([]int(nil), d.labels...)
}

// Paths returns every image path, in dataset order
func (d *ImageFolderDataset) Paths() []string {
	return append([]string(nil), d.imagePaths...)
}

// Attributes returns the metadata of an image, or nil when it has none
func (d *ImageFolderDataset) Attributes(index int) map[string]string {
	if index < 0 || index >= len(d.attributes) {
		return nil
	}
	return d.attributes[index]
}

// HasAttribute reports whether every image carries the named attribute
func (d *ImageFolderDataset) HasAttribute(name string) bool {
	if len(d.attributes) != len(d.imagePaths) {
		return false
	}
	for _, attrs := range d.attributes {
		if _, ok := attrs[name]; !ok {
			return false
		}
	}
	return true
}

// NumClasses returns the number of classes
func (d *ImageFolderDataset) NumClasses() int {
	return d.labelMap.NumClasses()
}

// ClassNames returns the list of class names
func (d *ImageFolderDataset) ClassNames() []string {
	return d.labelMap.Names()
}

// ClassDistribution returns the distribution of samples per class
func (d *ImageFolderDataset) ClassDistribution() map[string]int {
	dist := make(map[string]int)
	for _, label := range d.labels {
		className, _ := d.labelMap.Name(label)
		dist[className]++
	}
	return dist
}

// Subset creates a subset of the dataset with the specified indices
func (d *ImageFolderDataset) Subset(indices []int) *ImageFolderDataset {
	subset := &ImageFolderDataset{
		root:       d.root,
		imagePaths: make([]string, len(indices)),
		labels:     make([]int, len(indices)),
		labelMap:   d.labelMap,
	}
	if d.attributes != nil {
		subset.attributes = make([]map[string]string, len(indices))
	}

	for i, idx := range indices {
		subset.imagePaths[i] = d.imagePaths[idx]
		subset.labels[i] = d.labels[idx]
		if d.attributes != nil {
			subset.attributes[i] = d.attributes[idx]
		}
	}

	return subset
}

// String returns a string representation of the dataset
func (d *ImageFolderDataset) String() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("ImageFolderDataset: %d samples, %d classes\n", len(d.imagePaths), d.NumClasses()))
	sb.WriteString("Class distribution:\n")

	dist := d.ClassDistribution()
	names := d.ClassNames()
	sort.Strings(names)
	for _, className := range names {
		sb.WriteString(fmt.Sprintf("  %s: %d samples\n", className, dist[className]))
	}

	return sb.String()
}
