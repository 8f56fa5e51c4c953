package training

import (
	"fmt"
	"math/rand"
	"sync"

	"gonum.org/v1/gonum/mat"
)

// Split is an ordered (features, labels) pair: row i of Features belongs to
// Labels[i].
type Split struct {
	Features *mat.Dense
	Labels   []int
}

// NewSplit validates and builds a Split
func NewSplit(features *mat.Dense, labels []int) (Split, error) {
	if features == nil {
		return Split{}, NewConfigurationError("features", "must not be nil")
	}
	rows, _ := features.Dims()
	if rows != len(labels) {
		return Split{}, NewConfigurationError("labels", "length %d does not match %d feature rows", len(labels), rows)
	}
	return Split{Features: features, Labels: labels}, nil
}

// Len returns the number of samples
func (s Split) Len() int {
	return len(s.Labels)
}

// Dim returns the feature dimension
func (s Split) Dim() int {
	if s.Features == nil {
		return 0
	}
	_, c := s.Features.Dims()
	return c
}

// Subset copies the rows at the given indices into a new Split
func (s Split) Subset(indices []int) Split {
	dim := s.Dim()
	if len(indices) == 0 {
		return Split{Features: &mat.Dense{}, Labels: []int{}}
	}

	features := mat.NewDense(len(indices), dim, nil)
	labels := make([]int, len(indices))
	for i, idx := range indices {
		features.SetRow(i, s.Features.RawRowView(idx))
		labels[i] = s.Labels[idx]
	}
	return Split{Features: features, Labels: labels}
}

// Batch represents a batch of features and labels
type Batch struct {
	Features *mat.Dense
	Labels   []int
}

// Size returns the number of samples in the batch
func (b *Batch) Size() int {
	return len(b.Labels)
}

// DataLoader provides batching and seeded shuffling over a Split
type DataLoader struct {
	split     Split
	batchSize int
	shuffle   bool
	rng       *rand.Rand
	indices   []int
	position  int
	mutex     sync.Mutex
}

// NewDataLoader creates a new DataLoader. The shuffle order is a pure
// function of seed, so two loaders with the same seed yield the same batches.
func NewDataLoader(split Split, batchSize int, shuffle bool, seed int64) (*DataLoader, error) {
	if batchSize <= 0 {
		return nil, NewConfigurationError("batch_size", "must be positive, got %d", batchSize)
	}

	indices := make([]int, split.Len())
	for i := range indices {
		indices[i] = i
	}

	return &DataLoader{
		split:     split,
		batchSize: batchSize,
		shuffle:   shuffle,
		rng:       rand.New(rand.NewSource(seed)),
		indices:   indices,
	}, nil
}

// Len returns the number of batches in an epoch
func (dl *DataLoader) Len() int {
	return (dl.split.Len() + dl.batchSize - 1) / dl.batchSize
}

// NumSamples returns the number of samples behind the loader
func (dl *DataLoader) NumSamples() int {
	return dl.split.Len()
}

// Split returns the underlying split
func (dl *DataLoader) Split() Split {
	return dl.split
}

// Reset resets the data loader for a new epoch
func (dl *DataLoader) Reset() {
	dl.mutex.Lock()
	defer dl.mutex.Unlock()

	dl.position = 0

	if dl.shuffle {
		dl.rng.Shuffle(len(dl.indices), func(i, j int) {
			dl.indices[i], dl.indices[j] = dl.indices[j], dl.indices[i]
		})
	}
}

// Next returns the next batch or nil if the epoch is complete
func (dl *DataLoader) Next() (*Batch, error) {
	dl.mutex.Lock()
	defer dl.mutex.Unlock()

	if dl.position >= len(dl.indices) {
		return nil, nil // End of epoch
	}

	batchEnd := dl.position + dl.batchSize
	if batchEnd > len(dl.indices) {
		batchEnd = len(dl.indices)
	}

	batchIndices := dl.indices[dl.position:batchEnd]
	dl.position = batchEnd

	if dl.split.Features == nil {
		return nil, fmt.Errorf("data loader has no features")
	}

	sub := dl.split.Subset(batchIndices)
	return &Batch{Features: sub.Features, Labels: sub.Labels}, nil
}

// ForEach resets the loader and calls fn for every batch of one epoch,
// stopping at the first error.
func (dl *DataLoader) ForEach(fn func(batch *Batch) error) error {
	dl.Reset()

	for {
		batch, err := dl.Next()
		if err != nil {
			return err
		}
		if batch == nil {
			return nil
		}
		if err := fn(batch); err != nil {
			return err
		}
	}
}
