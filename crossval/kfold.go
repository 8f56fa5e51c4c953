package crossval

import (
	"math/rand"

	"github.com/tsawler/go-emotion/training"
)

// DefaultSeed is the shuffle seed used when none is configured
const DefaultSeed = 42

// Fold is one train/validation assignment. Index is 0-based; reports and
// logs show Index+1.
type Fold struct {
	Index      int
	Train      []int
	Validation []int
}

// Number returns the 1-based fold number
func (f Fold) Number() int {
	return f.Index + 1
}

// KFold partitions sample indices into K validation slices
type KFold struct {
	K       int
	Shuffle bool
	Seed    int64
}

// NewKFold creates a splitter
func NewKFold(k int, shuffle bool, seed int64) KFold {
	return KFold{K: k, Shuffle: shuffle, Seed: seed}
}

// Validate checks K against the number of samples
func (kf KFold) Validate(n int) error {
	if kf.K < 2 {
		return training.NewConfigurationError("K", "must be at least 2, got %d", kf.K)
	}
	if kf.K > n {
		return training.NewConfigurationError("K", "cannot exceed the number of samples (%d > %d)", kf.K, n)
	}
	return nil
}

// Split returns K folds over indices [0, n). The first n % K folds hold one
// extra validation sample. Validation indices follow the (optionally
// shuffled) permutation; training indices are in ascending order. The same
// seed always yields the same partition.
func (kf KFold) Split(n int) ([]Fold, error) {
	if err := kf.Validate(n); err != nil {
		return nil, err
	}

	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}
	if kf.Shuffle {
		rng := rand.New(rand.NewSource(kf.Seed))
		rng.Shuffle(n, func(i, j int) { perm[i], perm[j] = perm[j], perm[i] })
	}

	folds := make([]Fold, kf.K)
	start := 0
	for k := 0; k < kf.K; k++ {
		size := n / kf.K
		if k < n%kf.K {
			size++
		}

		validation := append([]int(nil), perm[start:start+size]...)
		inValidation := make([]bool, n)
		for _, idx := range validation {
			inValidation[idx] = true
		}
		train := make([]int, 0, n-size)
		for idx := 0; idx < n; idx++ {
			if !inValidation[idx] {
				train = append(train, idx)
			}
		}

		folds[k] = Fold{Index: k, Train: train, Validation: validation}
		start += size
	}
	return folds, nil
}
