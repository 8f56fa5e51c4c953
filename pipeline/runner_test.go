package pipeline

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/tsawler/go-emotion/checkpoints"
	"github.com/tsawler/go-emotion/config"
	"github.com/tsawler/go-emotion/crossval"
	"github.com/tsawler/go-emotion/report"
	"github.com/tsawler/go-emotion/training"
)

const testImageSize = 6

// writeImageFolder creates root/<class>/<n>.png with one brightness level per
// class. When withMetadata is set a metadata.csv with age and gender columns
// is written next to the class directories.
func writeImageFolder(t *testing.T, root string, perClass int, withMetadata bool) {
	t.Helper()

	var meta strings.Builder
	meta.WriteString("file,age,gender\n")
	for c, class := range training.DefaultLabelMap().Names() {
		dir := filepath.Join(root, class)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			t.Fatal(err)
		}
		for i := 0; i < perClass; i++ {
			img := image.NewGray(image.Rect(0, 0, testImageSize, testImageSize))
			for y := 0; y < testImageSize; y++ {
				for x := 0; x < testImageSize; x++ {
					v := 30 + 60*c + 3*i
					if (x+y)%2 == 0 {
						v += 10
					}
					img.SetGray(x, y, color.Gray{Y: uint8(v)})
				}
			}
			name := fmt.Sprintf("%02d.png", i)
			f, err := os.Create(filepath.Join(dir, name))
			if err != nil {
				t.Fatal(err)
			}
			if err := png.Encode(f, img); err != nil {
				t.Fatal(err)
			}
			f.Close()

			age, gender := "20-29", "female"
			if i%2 == 1 {
				age = "30-39"
			}
			if (i+c)%2 == 1 {
				gender = "male"
			}
			fmt.Fprintf(&meta, "%s/%s,%s,%s\n", class, name, age, gender)
		}
	}

	if withMetadata {
		if err := os.WriteFile(filepath.Join(root, "metadata.csv"), []byte(meta.String()), 0o644); err != nil {
			t.Fatal(err)
		}
	}
}

func testConfig(t *testing.T, withMetadata bool) config.Run {
	t.Helper()
	dir := t.TempDir()

	cfg := config.Default()
	cfg.TrainDir = filepath.Join(dir, "train")
	cfg.TestDir = filepath.Join(dir, "test")
	cfg.ResultsDir = filepath.Join(dir, "results")
	cfg.CheckpointDir = filepath.Join(dir, "models")
	cfg.ImageSize = testImageSize
	cfg.Workers = 2
	cfg.CacheSize = 16
	cfg.LearningRate = 0.01
	cfg.Epochs = 3
	cfg.Patience = 1
	cfg.K = 2
	cfg.HoldoutBatchSize = 8
	cfg.FoldBatchSize = 8
	cfg.Retries = 0
	cfg.Plots = true

	writeImageFolder(t, cfg.TrainDir, 6, false)
	writeImageFolder(t, cfg.TestDir, 4, withMetadata)
	return cfg
}

// fakeTracker records every call made through Tracker
type fakeTracker struct {
	mu       sync.Mutex
	started  []string
	finished []error
	folds    []int
	runIDs   map[string]bool
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{runIDs: make(map[string]bool)}
}

func (f *fakeTracker) StartRun(_ context.Context, id uuid.UUID, stage string, _ map[string]interface{}) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, stage)
	f.runIDs[id.String()] = true
	return nil
}

func (f *fakeTracker) FinishRun(_ context.Context, _ uuid.UUID, _ map[string]interface{}, _ string, runErr error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finished = append(f.finished, runErr)
	return errors.New("tracking database unavailable")
}

func (f *fakeTracker) RecordFold(runID string, result crossval.FoldResult) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.folds = append(f.folds, result.Fold)
	f.runIDs[runID] = true
	return nil
}

func quietLogger() logrus.FieldLogger {
	l, _ := test.NewNullLogger()
	return l
}

func readReport(t *testing.T, path string) [][]string {
	t.Helper()
	records, err := report.ReadCSV(path)
	if err != nil {
		t.Fatalf("ReadCSV(%s): %v", path, err)
	}
	return records
}

func TestRunnerStages(t *testing.T) {
	cfg := testConfig(t, true)
	tracker := newFakeTracker()
	runner := NewRunner(cfg, WithTracker(tracker), WithLogger(quietLogger()))
	ctx := context.Background()

	for _, stage := range []Stage{StageTrain, StageCrossValidate, StageDetectBias, StagePredictSingle} {
		if err := runner.Run(ctx, stage); err != nil {
			t.Fatalf("Run(%s): %v", stage, err)
		}
	}

	// Holdout: two header lines and one model row
	holdout := readReport(t, cfg.MetricsPath("mlp"))
	if len(holdout) != 3 || holdout[2][0] != "mlp" {
		t.Errorf("holdout report = %v", holdout)
	}
	if _, err := os.Stat(checkpoints.Naming(cfg.CheckpointDir, "mlp", checkpoints.RunSingle, cfg.CheckpointFormat)); err != nil {
		t.Errorf("holdout checkpoint missing: %v", err)
	}

	// Cross-validation: two folds plus the average
	cv := readReport(t, cfg.CrossValidationPath())
	if len(cv) != 5 {
		t.Fatalf("cv report has %d lines, expected 5: %v", len(cv), cv)
	}
	if cv[2][0] != "1" || cv[3][0] != "2" || cv[4][0] != report.AverageLabel {
		t.Errorf("cv fold column = %v %v %v", cv[2][0], cv[3][0], cv[4][0])
	}
	best, err := checkpoints.NewStore(cfg.CheckpointFormat, 0, 0).Load(
		checkpoints.Naming(cfg.CheckpointDir, cfg.CVModel, checkpoints.RunCrossValidation, cfg.CheckpointFormat))
	if err != nil {
		t.Fatalf("best checkpoint: %v", err)
	}
	if f := best.TrainingState.Fold; f != 1 && f != 2 {
		t.Errorf("best checkpoint fold = %d", f)
	}

	// Bias: age groups, age average, gender groups, gender average, overall
	biasRows := readReport(t, cfg.BiasPath())
	if len(biasRows) != 8 {
		t.Fatalf("bias report has %d lines, expected 8: %v", len(biasRows), biasRows)
	}
	expected := [][2]string{
		{"age", "20-29"}, {"age", "30-39"}, {"age", "Average"},
		{"gender", "female"}, {"gender", "male"}, {"gender", "Average"},
		{"Average", "All"},
	}
	for i, e := range expected {
		row := biasRows[i+1]
		if row[0] != e[0] || row[1] != e[1] {
			t.Errorf("bias row %d = %v, expected %v", i, row[:2], e)
		}
	}

	plots, _ := filepath.Glob(filepath.Join(cfg.PlotsDir(), "*.json"))
	if len(plots) != 4 {
		t.Errorf("got %d plot files, expected 4: %v", len(plots), plots)
	}

	if strings.Join(tracker.started, ",") != "train,cv,bias,predict" {
		t.Errorf("started stages = %v", tracker.started)
	}
	for i, err := range tracker.finished {
		if err != nil {
			t.Errorf("stage %d finished with %v", i, err)
		}
	}
	if len(tracker.folds) != 2 {
		t.Errorf("recorded %d folds, expected 2", len(tracker.folds))
	}
	if len(tracker.runIDs) != 1 || !tracker.runIDs[runner.RunID().String()] {
		t.Errorf("run ids = %v, expected only %s", tracker.runIDs, runner.RunID())
	}
}

func TestPredictSingleIsSeeded(t *testing.T) {
	cfg := testConfig(t, false)
	fixed := uuid.MustParse("00000000-0000-0000-0000-000000000001")
	runner := NewRunner(cfg, WithLogger(quietLogger()), WithRunID(fixed))
	if runner.RunID() != fixed {
		t.Errorf("RunID = %s, expected %s", runner.RunID(), fixed)
	}

	ctx := context.Background()
	if err := runner.Run(ctx, StageTrain); err != nil {
		t.Fatalf("train: %v", err)
	}

	first, err := runner.PredictSingle(ctx)
	if err != nil {
		t.Fatalf("PredictSingle: %v", err)
	}
	second, err := NewRunner(cfg, WithLogger(quietLogger())).PredictSingle(ctx)
	if err != nil {
		t.Fatalf("PredictSingle: %v", err)
	}
	if first != second {
		t.Errorf("predictions differ across runners: %+v vs %+v", first, second)
	}
	if first.Index < 0 || first.Index >= 16 {
		t.Errorf("index %d out of range", first.Index)
	}
	if _, err := training.DefaultLabelMap().Index(first.Label); err != nil {
		t.Errorf("unknown label %q", first.Label)
	}
	if !strings.Contains(first.Path, first.Label) {
		t.Errorf("path %s is not under class %s", first.Path, first.Label)
	}
}

func TestPredictRequiresTrainedModel(t *testing.T) {
	cfg := testConfig(t, false)
	_, err := NewRunner(cfg, WithLogger(quietLogger())).PredictSingle(context.Background())

	var ioErr *checkpoints.CheckpointIOError
	if !errors.As(err, &ioErr) {
		t.Errorf("expected a checkpoint error, got %v", err)
	}
}

func TestDetectBiasRequiresMetadata(t *testing.T) {
	cfg := testConfig(t, false)
	tracker := newFakeTracker()
	err := NewRunner(cfg, WithTracker(tracker), WithLogger(quietLogger())).Run(context.Background(), StageDetectBias)

	if !training.IsConfigurationError(err) {
		t.Errorf("expected configuration error, got %v", err)
	}
	if len(tracker.finished) != 1 || tracker.finished[0] == nil {
		t.Errorf("failure not reported to tracker: %v", tracker.finished)
	}
}

func TestRunCanceled(t *testing.T) {
	cfg := testConfig(t, false)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := NewRunner(cfg, WithLogger(quietLogger())).Run(ctx, StageTrain)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
}

func TestRunUnknownStage(t *testing.T) {
	cfg := testConfig(t, false)
	if err := NewRunner(cfg, WithLogger(quietLogger())).Run(context.Background(), Stage(42)); err == nil {
		t.Error("expected error for unknown stage")
	}
}

func TestCrossValidationKeepsPartialReport(t *testing.T) {
	cfg := testConfig(t, false)
	cfg.Plots = false
	blocker := filepath.Join(t.TempDir(), "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg.CheckpointDir = blocker

	err := NewRunner(cfg, WithLogger(quietLogger())).Run(context.Background(), StageCrossValidate)
	var ioErr *checkpoints.CheckpointIOError
	if !errors.As(err, &ioErr) {
		t.Fatalf("expected a checkpoint error, got %v", err)
	}

	if _, err := os.Stat(cfg.CrossValidationPath()); !os.IsNotExist(err) {
		t.Errorf("full report written for a failed run: %v", err)
	}
	// Fold 1 finished training before its checkpoint could not be saved
	partial := readReport(t, cfg.PartialCrossValidationPath())
	if len(partial) != 4 {
		t.Fatalf("partial report has %d lines, expected 4: %v", len(partial), partial)
	}
	if partial[2][0] != "1" || partial[3][0] != report.AverageLabel {
		t.Errorf("partial fold column = %v %v", partial[2][0], partial[3][0])
	}
}

func TestCrossValidationRejectsBadK(t *testing.T) {
	cfg := testConfig(t, false)
	cfg.K = 1
	err := NewRunner(cfg, WithLogger(quietLogger())).Run(context.Background(), StageCrossValidate)
	if !training.IsConfigurationError(err) {
		t.Errorf("expected configuration error, got %v", err)
	}
}
