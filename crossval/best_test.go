package crossval

import (
	"errors"
	"math"
	"testing"

	"github.com/tsawler/go-emotion/checkpoints"
)

// recordingPersister remembers every save and can be told to fail
type recordingPersister struct {
	saved  []*checkpoints.Checkpoint
	paths  []string
	failAt map[int]bool // 1-based save attempt numbers that fail
	calls  int
}

func (p *recordingPersister) Save(ckpt *checkpoints.Checkpoint, path string) error {
	p.calls++
	if p.failAt[p.calls] {
		return &checkpoints.CheckpointIOError{Path: path, Op: "save", Err: errors.New("disk full")}
	}
	p.saved = append(p.saved, ckpt)
	p.paths = append(p.paths, path)
	return nil
}

func snapshotFor(fold int) func() *checkpoints.Checkpoint {
	return func() *checkpoints.Checkpoint {
		return &checkpoints.Checkpoint{ModelName: "mlp", TrainingState: checkpoints.TrainingState{Fold: fold}}
	}
}

func TestBestCheckpointStrictImprovement(t *testing.T) {
	store := &recordingPersister{}
	best := NewBestCheckpoint(store, "models/trained/trained_main_model.json")

	if best.Summary().Kept() {
		t.Fatal("empty best reports a kept checkpoint")
	}

	accuracies := []float64{0.5, 0.7, 0.7, 0.3, 0.9, 0.9, 1.0, 0.2}
	expectedBest := []int{1, 2, 2, 2, 5, 5, 7, 7}

	for i, acc := range accuracies {
		fold := i + 1
		replaced, err := best.Offer(fold, acc, snapshotFor(fold))
		if err != nil {
			t.Fatalf("Offer(%d): %v", fold, err)
		}
		if replaced != (expectedBest[i] == fold) {
			t.Errorf("fold %d: replaced = %v", fold, replaced)
		}
		if got := best.Summary().Fold; got != expectedBest[i] {
			t.Errorf("after fold %d best is %d, expected %d", fold, got, expectedBest[i])
		}
	}

	if len(store.saved) != 4 {
		t.Fatalf("saved %d times, expected 4", len(store.saved))
	}
	if store.saved[len(store.saved)-1].TrainingState.Fold != 7 {
		t.Errorf("last persisted fold %d, expected 7", store.saved[len(store.saved)-1].TrainingState.Fold)
	}
	if best.Summary().Accuracy != 1.0 {
		t.Errorf("best accuracy %v, expected 1", best.Summary().Accuracy)
	}
}

func TestBestCheckpointFirstFoldAlwaysKept(t *testing.T) {
	store := &recordingPersister{}
	best := NewBestCheckpoint(store, "best.json")

	replaced, err := best.Offer(1, 0, snapshotFor(1))
	if err != nil || !replaced {
		t.Fatalf("zero accuracy first fold: replaced=%v err=%v", replaced, err)
	}
	if !best.Summary().Kept() {
		t.Error("first fold not kept")
	}
}

func TestBestCheckpointIgnoresNaN(t *testing.T) {
	store := &recordingPersister{}
	best := NewBestCheckpoint(store, "best.json")

	replaced, err := best.Offer(1, math.NaN(), snapshotFor(1))
	if err != nil || replaced {
		t.Errorf("NaN accuracy: replaced=%v err=%v", replaced, err)
	}
	if store.calls != 0 {
		t.Errorf("NaN accuracy triggered %d saves", store.calls)
	}
}

func TestBestCheckpointFailedSaveKeepsPrevious(t *testing.T) {
	store := &recordingPersister{failAt: map[int]bool{2: true}}
	best := NewBestCheckpoint(store, "best.json")

	if _, err := best.Offer(1, 0.4, snapshotFor(1)); err != nil {
		t.Fatal(err)
	}

	replaced, err := best.Offer(2, 0.8, snapshotFor(2))
	var ioErr *checkpoints.CheckpointIOError
	if !errors.As(err, &ioErr) {
		t.Fatalf("expected CheckpointIOError, got %v", err)
	}
	if replaced {
		t.Error("failed save reported a replacement")
	}
	if s := best.Summary(); s.Fold != 1 || s.Accuracy != 0.4 {
		t.Errorf("best after failed save = %+v, expected fold 1", s)
	}

	// The failed fold did not raise the bar
	replaced, err = best.Offer(3, 0.6, snapshotFor(3))
	if err != nil || !replaced {
		t.Errorf("fold 3: replaced=%v err=%v", replaced, err)
	}
}

func TestBestCheckpointSnapshotOnlyOnImprovement(t *testing.T) {
	best := NewBestCheckpoint(&recordingPersister{}, "best.json")
	built := 0
	snap := func() *checkpoints.Checkpoint {
		built++
		return &checkpoints.Checkpoint{ModelName: "softmax"}
	}

	best.Offer(1, 0.9, snap)
	best.Offer(2, 0.5, snap)
	best.Offer(3, 0.9, snap)
	if built != 1 {
		t.Errorf("snapshot built %d times, expected 1", built)
	}
}
