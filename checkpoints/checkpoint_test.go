package checkpoints

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/tsawler/go-emotion/training"
	"gonum.org/v1/gonum/mat"
)

// fakeModule exposes a fixed parameter set
type fakeModule struct {
	name   string
	params []*training.Parameter
}

func newFakeModule(name string, seed float64) *fakeModule {
	w := mat.NewDense(3, 2, nil)
	for i := 0; i < 3; i++ {
		for j := 0; j < 2; j++ {
			w.Set(i, j, seed+float64(i*2+j))
		}
	}
	b := mat.NewDense(1, 2, []float64{seed, -seed})
	return &fakeModule{
		name:   name,
		params: []*training.Parameter{training.NewParameter("weight", w), training.NewParameter("bias", b)},
	}
}

func (f *fakeModule) Name() string                              { return f.name }
func (f *fakeModule) Forward(x *mat.Dense) (*mat.Dense, error)  { return x, nil }
func (f *fakeModule) Backward(*mat.Dense) error                 { return nil }
func (f *fakeModule) Parameters() []*training.Parameter         { return f.params }
func (f *fakeModule) Train()                                    {}
func (f *fakeModule) Eval()                                     {}
func (f *fakeModule) IsTraining() bool                          { return false }

func testCheckpoint() *Checkpoint {
	ckpt := FromModule(newFakeModule("mlp", 0.5), TrainingState{
		Fold:         3,
		Epoch:        7,
		LearningRate: 0.0001,
		BestLoss:     0.42,
		BestAccuracy: 0.875,
		EpochsRun:    8,
		StoppedEarly: true,
	})
	ckpt.Metadata = CheckpointMetadata{
		Version:     "1.0.0",
		Framework:   "go-emotion",
		CreatedAt:   time.Date(2026, 3, 1, 12, 30, 0, 123456789, time.UTC),
		RunID:       "run-1",
		Description: "fold 3 best",
		Tags:        []string{"cv", "best"},
	}
	return ckpt
}

func assertCheckpointsEqual(t *testing.T, want, got *Checkpoint) {
	t.Helper()
	if got.ModelName != want.ModelName {
		t.Errorf("ModelName = %q, expected %q", got.ModelName, want.ModelName)
	}
	if got.TrainingState != want.TrainingState {
		t.Errorf("TrainingState = %+v, expected %+v", got.TrainingState, want.TrainingState)
	}
	if !got.Metadata.CreatedAt.Equal(want.Metadata.CreatedAt) {
		t.Errorf("CreatedAt = %v, expected %v", got.Metadata.CreatedAt, want.Metadata.CreatedAt)
	}
	if got.Metadata.RunID != want.Metadata.RunID || strings.Join(got.Metadata.Tags, ",") != strings.Join(want.Metadata.Tags, ",") {
		t.Errorf("Metadata = %+v, expected %+v", got.Metadata, want.Metadata)
	}
	if len(got.Weights) != len(want.Weights) {
		t.Fatalf("got %d weights, expected %d", len(got.Weights), len(want.Weights))
	}
	for i := range want.Weights {
		w, g := want.Weights[i], got.Weights[i]
		if g.Name != w.Name || len(g.Shape) != len(w.Shape) || len(g.Data) != len(w.Data) {
			t.Fatalf("weight %d = %+v, expected %+v", i, g, w)
		}
		for j := range w.Data {
			if g.Data[j] != w.Data[j] {
				t.Errorf("weight %s[%d] = %v, expected %v", w.Name, j, g.Data[j], w.Data[j])
			}
		}
	}
}

func TestCheckpointRoundTrip(t *testing.T) {
	for _, format := range []CheckpointFormat{FormatJSON, FormatProto} {
		t.Run(format.String(), func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "nested", "ckpt."+format.Extension())
			saver := NewCheckpointSaver(format)

			want := testCheckpoint()
			if err := saver.SaveCheckpoint(want, path); err != nil {
				t.Fatalf("SaveCheckpoint: %v", err)
			}
			got, err := saver.LoadCheckpoint(path)
			if err != nil {
				t.Fatalf("LoadCheckpoint: %v", err)
			}
			assertCheckpointsEqual(t, want, got)
		})
	}
}

func TestCheckpointFormatString(t *testing.T) {
	tests := []struct {
		format   CheckpointFormat
		expected string
		ext      string
	}{
		{FormatJSON, "JSON", "json"},
		{FormatProto, "Proto", "pb"},
		{CheckpointFormat(999), "Unknown", "bin"},
	}

	for _, test := range tests {
		if got := test.format.String(); got != test.expected {
			t.Errorf("String() = %s, expected %s", got, test.expected)
		}
		if got := test.format.Extension(); got != test.ext {
			t.Errorf("Extension() = %s, expected %s", got, test.ext)
		}
	}
}

func TestParseFormat(t *testing.T) {
	for input, expected := range map[string]CheckpointFormat{"": FormatJSON, "JSON": FormatJSON, "proto": FormatProto, "pb": FormatProto} {
		got, err := ParseFormat(input)
		if err != nil || got != expected {
			t.Errorf("ParseFormat(%q) = %v, %v", input, got, err)
		}
	}
	if _, err := ParseFormat("pickle"); err == nil {
		t.Error("expected error for unknown format")
	}
}

func TestUnsupportedCheckpointFormat(t *testing.T) {
	saver := NewCheckpointSaver(CheckpointFormat(999))
	if _, err := saver.Marshal(testCheckpoint()); err == nil {
		t.Error("expected error for unsupported format")
	}
	if _, err := saver.Unmarshal([]byte("{}")); err == nil {
		t.Error("expected error for unsupported format")
	}
}

func TestCheckpointMetadataDefaults(t *testing.T) {
	ckpt := FromModule(newFakeModule("softmax", 1), TrainingState{})
	if _, err := NewCheckpointSaver(FormatJSON).Marshal(ckpt); err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if ckpt.Metadata.Framework != "go-emotion" || ckpt.Metadata.Version == "" {
		t.Errorf("metadata defaults not applied: %+v", ckpt.Metadata)
	}
	if ckpt.Metadata.CreatedAt.IsZero() {
		t.Error("CreatedAt not set")
	}
}

func TestCheckpointValidate(t *testing.T) {
	ckpt := testCheckpoint()
	ckpt.Weights[0].Data = ckpt.Weights[0].Data[:2]
	if err := ckpt.Validate(); err == nil {
		t.Error("expected error for truncated weight data")
	}

	if err := (&Checkpoint{}).Validate(); err == nil {
		t.Error("expected error for missing model name")
	}
}

func TestLoadCorruptCheckpoint(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.pb")
	if err := os.WriteFile(path, []byte{0xff, 0xff, 0xff}, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewCheckpointSaver(FormatProto).LoadCheckpoint(path); err == nil {
		t.Error("expected error for corrupt protobuf checkpoint")
	}
	if _, err := NewCheckpointSaver(FormatJSON).LoadCheckpoint(filepath.Join(dir, "missing.json")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestNaming(t *testing.T) {
	tests := []struct {
		dir      string
		model    string
		kind     RunKind
		format   CheckpointFormat
		expected string
	}{
		{"", "softmax", RunSingle, FormatJSON, "models/trained/trained_softmax_model.json"},
		{"", "mlp", RunCrossValidation, FormatProto, "models/trained/trained_main_model.pb"},
		{"out", "mlp", RunSingle, FormatProto, "out/trained_mlp_model.pb"},
	}
	for _, test := range tests {
		got := Naming(test.dir, test.model, test.kind, test.format)
		if got != filepath.FromSlash(test.expected) {
			t.Errorf("Naming(%q, %q, %d) = %s, expected %s", test.dir, test.model, test.kind, got, test.expected)
		}
	}
}

func TestStoreSaveLoad(t *testing.T) {
	store := NewStore(FormatProto, 1, 0)
	path := filepath.Join(t.TempDir(), "trained_main_model.pb")

	first := testCheckpoint()
	if err := store.Save(first, path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	second := FromModule(newFakeModule("mlp", 9), TrainingState{Fold: 5, BestAccuracy: 0.9})
	if err := store.Save(second, path); err != nil {
		t.Fatalf("Save: %v", err)
	}

	loaded, err := store.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.TrainingState.Fold != 5 {
		t.Errorf("loaded fold %d, expected the replacement from fold 5", loaded.TrainingState.Fold)
	}

	leftovers, _ := filepath.Glob(filepath.Join(filepath.Dir(path), ".trained_main_model.pb.*"))
	if len(leftovers) != 0 {
		t.Errorf("temporary files left behind: %v", leftovers)
	}
}

func TestStoreSaveFailure(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "blocker")
	if err := os.WriteFile(blocker, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	store := NewStore(FormatJSON, 2, 0)
	err := store.Save(testCheckpoint(), filepath.Join(blocker, "ckpt.json"))

	var ioErr *CheckpointIOError
	if !errors.As(err, &ioErr) {
		t.Fatalf("expected CheckpointIOError, got %v", err)
	}
	if ioErr.Op != "save" {
		t.Errorf("Op = %q, expected save", ioErr.Op)
	}

	_, err = store.Load(filepath.Join(dir, "absent.json"))
	if !errors.As(err, &ioErr) || ioErr.Op != "load" {
		t.Errorf("expected load CheckpointIOError, got %v", err)
	}
}

func TestFromModuleCopiesWeights(t *testing.T) {
	m := newFakeModule("mlp", 1)
	ckpt := FromModule(m, TrainingState{})

	m.params[0].Value.Set(0, 0, 100)
	if ckpt.Weights[0].Data[0] != 1 {
		t.Errorf("checkpoint changed with the module: %v", ckpt.Weights[0].Data[0])
	}
	if ckpt.Weights[0].Shape[0] != 3 || ckpt.Weights[0].Shape[1] != 2 {
		t.Errorf("shape = %v, expected [3 2]", ckpt.Weights[0].Shape)
	}
	// Row-major layout
	if ckpt.Weights[0].Data[3] != 4 {
		t.Errorf("Data[3] = %v, expected 4", ckpt.Weights[0].Data[3])
	}
}

func TestRestore(t *testing.T) {
	src := newFakeModule("mlp", 2)
	dst := newFakeModule("mlp", 0)

	if err := Restore(dst, FromModule(src, TrainingState{})); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	for i := range src.params {
		if !mat.Equal(src.params[i].Value, dst.params[i].Value) {
			t.Errorf("parameter %s not restored", src.params[i].Name)
		}
	}

	bad := FromModule(src, TrainingState{})
	bad.Weights[1].Name = "other"
	if err := Restore(dst, bad); err == nil {
		t.Error("expected error for mismatched parameter name")
	}

	short := FromModule(src, TrainingState{})
	short.Weights = short.Weights[:1]
	if err := Restore(dst, short); err == nil {
		t.Error("expected error for missing weights")
	}
}
