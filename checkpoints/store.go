package checkpoints

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tsawler/go-emotion/logger"
)

// RunKind selects the checkpoint naming convention
type RunKind int

const (
	RunSingle          RunKind = iota // Holdout training of one named model
	RunCrossValidation                // Best model across folds
)

// DefaultDir is where trained models are kept
const DefaultDir = "models/trained"

// Naming returns the checkpoint path for a model: trained_<id>_model.<ext>
// for single runs and trained_main_model.<ext> for cross-validation.
func Naming(dir, modelID string, kind RunKind, format CheckpointFormat) string {
	if dir == "" {
		dir = DefaultDir
	}
	if kind == RunCrossValidation {
		modelID = "main"
	}
	return filepath.Join(dir, fmt.Sprintf("trained_%s_model.%s", modelID, format.Extension()))
}

// CheckpointIOError is returned when a checkpoint cannot be persisted or read
type CheckpointIOError struct {
	Path string
	Op   string // "save" or "load"
	Err  error
}

func (e *CheckpointIOError) Error() string {
	return fmt.Sprintf("checkpoint %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *CheckpointIOError) Unwrap() error {
	return e.Err
}

// Store persists checkpoints with a retry policy
type Store struct {
	saver      *CheckpointSaver
	Retries    int
	RetryDelay time.Duration
	Logger     logrus.FieldLogger
}

// NewStore creates a store for one serialization format
func NewStore(format CheckpointFormat, retries int, retryDelay time.Duration) *Store {
	return &Store{
		saver:      NewCheckpointSaver(format),
		Retries:    retries,
		RetryDelay: retryDelay,
	}
}

// Format returns the store's serialization format
func (s *Store) Format() CheckpointFormat {
	return s.saver.Format()
}

// Save writes a checkpoint atomically, retrying transient failures. The
// previous file at path is only replaced by a complete new one.
func (s *Store) Save(checkpoint *Checkpoint, path string) error {
	log := s.log()

	var err error
	for attempt := 0; attempt <= s.Retries; attempt++ {
		if attempt > 0 {
			log.WithFields(logrus.Fields{
				"path":    path,
				"attempt": attempt + 1,
				"error":   err,
			}).Warn("retrying checkpoint save")
			time.Sleep(s.RetryDelay)
		}
		if err = s.saver.SaveCheckpoint(checkpoint, path); err == nil {
			log.WithFields(logrus.Fields{
				"path":  path,
				"model": checkpoint.ModelName,
			}).Debug("checkpoint saved")
			return nil
		}
	}
	return &CheckpointIOError{Path: path, Op: "save", Err: err}
}

// Load reads a checkpoint
func (s *Store) Load(path string) (*Checkpoint, error) {
	checkpoint, err := s.saver.LoadCheckpoint(path)
	if err != nil {
		return nil, &CheckpointIOError{Path: path, Op: "load", Err: err}
	}
	return checkpoint, nil
}

func (s *Store) log() logrus.FieldLogger {
	if s.Logger != nil {
		return s.Logger
	}
	return logger.Log
}
