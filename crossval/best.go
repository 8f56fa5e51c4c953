package crossval

import (
	"math"

	"github.com/tsawler/go-emotion/checkpoints"
)

// Persister writes a checkpoint to a path. *checkpoints.Store satisfies it.
type Persister interface {
	Save(checkpoint *checkpoints.Checkpoint, path string) error
}

// BestSummary describes the current best checkpoint
type BestSummary struct {
	Fold     int // 1-based, 0 when nothing has been kept
	Accuracy float64
	Path     string
}

// Kept reports whether any fold has been persisted
func (b BestSummary) Kept() bool {
	return b.Fold > 0
}

// BestCheckpoint keeps the snapshot of the most accurate fold. A fold
// replaces the current best only when its accuracy is strictly greater than
// every accuracy offered before, and the replacement is written to disk
// before Offer returns.
type BestCheckpoint struct {
	store   Persister
	path    string
	current BestSummary
	offered bool
	highest float64
}

// NewBestCheckpoint creates an empty best-model slot persisted at path
func NewBestCheckpoint(store Persister, path string) *BestCheckpoint {
	return &BestCheckpoint{store: store, path: path}
}

// Offer compares a fold's accuracy against the best seen so far. On a strict
// improvement the snapshot is built and saved; replaced reports whether that
// happened. A failed save leaves the previous best untouched.
func (b *BestCheckpoint) Offer(fold int, accuracy float64, snapshot func() *checkpoints.Checkpoint) (replaced bool, err error) {
	if math.IsNaN(accuracy) || (b.offered && accuracy <= b.highest) {
		return false, nil
	}

	if err := b.store.Save(snapshot(), b.path); err != nil {
		return false, err
	}

	b.offered = true
	b.highest = accuracy
	b.current = BestSummary{Fold: fold, Accuracy: accuracy, Path: b.path}
	return true, nil
}

// Summary returns the current best
func (b *BestCheckpoint) Summary() BestSummary {
	return b.current
}
