package checkpoints

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// CheckpointFormat defines the serialization format
type CheckpointFormat int

const (
	FormatJSON CheckpointFormat = iota
	FormatProto
)

func (cf CheckpointFormat) String() string {
	switch cf {
	case FormatJSON:
		return "JSON"
	case FormatProto:
		return "Proto"
	default:
		return "Unknown"
	}
}

// Extension returns the file extension used for the format
func (cf CheckpointFormat) Extension() string {
	switch cf {
	case FormatJSON:
		return "json"
	case FormatProto:
		return "pb"
	default:
		return "bin"
	}
}

// ParseFormat maps a configuration value to a format
func ParseFormat(s string) (CheckpointFormat, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "json":
		return FormatJSON, nil
	case "proto", "protobuf", "pb":
		return FormatProto, nil
	default:
		return 0, fmt.Errorf("unknown checkpoint format %q", s)
	}
}

// Checkpoint represents a complete model state: parameter values, the
// training progress that produced them and metadata
type Checkpoint struct {
	ModelName     string             `json:"model_name"`
	Weights       []WeightTensor     `json:"weights"`
	TrainingState TrainingState      `json:"training_state"`
	Metadata      CheckpointMetadata `json:"metadata"`
}

// WeightTensor represents a model parameter with its row-major data
type WeightTensor struct {
	Name  string    `json:"name"`
	Shape []int     `json:"shape"`
	Data  []float64 `json:"data"`
}

// Size returns the number of elements implied by Shape
func (w WeightTensor) Size() int {
	if len(w.Shape) == 0 {
		return 0
	}
	n := 1
	for _, d := range w.Shape {
		n *= d
	}
	return n
}

// TrainingState captures the training progress behind a snapshot
type TrainingState struct {
	Fold          int     `json:"fold"` // 1-based, 0 for single runs
	Epoch         int     `json:"epoch"`
	LearningRate  float64 `json:"learning_rate"`
	BestLoss      float64 `json:"best_loss"`
	BestAccuracy  float64 `json:"best_accuracy"`
	EpochsRun     int     `json:"epochs_run"`
	StoppedEarly  bool    `json:"stopped_early"`
}

// CheckpointMetadata contains checkpoint metadata
type CheckpointMetadata struct {
	Version     string    `json:"version"`
	Framework   string    `json:"framework"`
	CreatedAt   time.Time `json:"created_at"`
	RunID       string    `json:"run_id,omitempty"`
	Description string    `json:"description,omitempty"`
	Tags        []string  `json:"tags,omitempty"`
}

// Validate checks that every weight's data matches its shape
func (c *Checkpoint) Validate() error {
	if c.ModelName == "" {
		return fmt.Errorf("checkpoint has no model name")
	}
	for _, w := range c.Weights {
		if w.Size() != len(w.Data) {
			return fmt.Errorf("weight %s: shape %v needs %d values, has %d", w.Name, w.Shape, w.Size(), len(w.Data))
		}
	}
	return nil
}

// CheckpointSaver handles saving model checkpoints in various formats
type CheckpointSaver struct {
	format CheckpointFormat
}

// NewCheckpointSaver creates a new checkpoint saver for the specified format
func NewCheckpointSaver(format CheckpointFormat) *CheckpointSaver {
	return &CheckpointSaver{
		format: format,
	}
}

// Format returns the saver's serialization format
func (cs *CheckpointSaver) Format() CheckpointFormat {
	return cs.format
}

// Marshal encodes a checkpoint, filling in missing metadata
func (cs *CheckpointSaver) Marshal(checkpoint *Checkpoint) ([]byte, error) {
	if err := checkpoint.Validate(); err != nil {
		return nil, err
	}
	if checkpoint.Metadata.Framework == "" {
		checkpoint.Metadata.Framework = "go-emotion"
		checkpoint.Metadata.Version = "1.0.0"
	}
	if checkpoint.Metadata.CreatedAt.IsZero() {
		checkpoint.Metadata.CreatedAt = time.Now()
	}

	switch cs.format {
	case FormatJSON:
		var buf bytes.Buffer
		encoder := json.NewEncoder(&buf)
		encoder.SetIndent("", "  ")
		if err := encoder.Encode(checkpoint); err != nil {
			return nil, fmt.Errorf("failed to encode checkpoint: %w", err)
		}
		return buf.Bytes(), nil
	case FormatProto:
		return marshalProto(checkpoint)
	default:
		return nil, fmt.Errorf("unsupported checkpoint format: %s", cs.format.String())
	}
}

// Unmarshal decodes a checkpoint
func (cs *CheckpointSaver) Unmarshal(data []byte) (*Checkpoint, error) {
	var checkpoint *Checkpoint
	switch cs.format {
	case FormatJSON:
		checkpoint = &Checkpoint{}
		if err := json.Unmarshal(data, checkpoint); err != nil {
			return nil, fmt.Errorf("failed to decode checkpoint: %w", err)
		}
	case FormatProto:
		var err error
		if checkpoint, err = unmarshalProto(data); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unsupported checkpoint format: %s", cs.format.String())
	}

	if err := checkpoint.Validate(); err != nil {
		return nil, fmt.Errorf("invalid checkpoint: %w", err)
	}
	return checkpoint, nil
}

// SaveCheckpoint writes a checkpoint to path. The file is written next to
// the target and renamed into place, so an interrupted save never leaves a
// truncated checkpoint behind.
func (cs *CheckpointSaver) SaveCheckpoint(checkpoint *Checkpoint, path string) error {
	data, err := cs.Marshal(checkpoint)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create checkpoint directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("failed to create checkpoint file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close checkpoint: %w", err)
	}
	return os.Rename(tmpName, path)
}

// LoadCheckpoint loads a model checkpoint
func (cs *CheckpointSaver) LoadCheckpoint(path string) (*Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open checkpoint file: %w", err)
	}
	return cs.Unmarshal(data)
}
