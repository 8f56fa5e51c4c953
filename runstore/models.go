package runstore

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusSkipped   = "skipped"
)

// RunModel is one pipeline invocation
type RunModel struct {
	ID           uuid.UUID         `gorm:"type:uuid;primaryKey;column:id"`
	Stage        string            `gorm:"column:stage"`
	Status       string            `gorm:"column:status"`
	Config       datatypes.JSONMap `gorm:"column:config"`
	Metrics      datatypes.JSONMap `gorm:"column:metrics"`
	ArtifactPath string            `gorm:"column:artifact_path"`
	ErrorMessage string            `gorm:"column:error_message"`
	CreatedAt    time.Time         `gorm:"column:created_at"`
	UpdatedAt    time.Time         `gorm:"column:updated_at"`
	StartedAt    *time.Time        `gorm:"column:started_at"`
	CompletedAt  *time.Time        `gorm:"column:completed_at"`
}

func (RunModel) TableName() string {
	return "pipeline_runs"
}

// FoldModel is the outcome of one cross-validation fold
type FoldModel struct {
	ID           uuid.UUID         `gorm:"type:uuid;primaryKey;column:id"`
	RunID        uuid.UUID         `gorm:"type:uuid;index;column:run_id"`
	Fold         int               `gorm:"column:fold"`
	Status       string            `gorm:"column:status"`
	TrainSize    int               `gorm:"column:train_size"`
	ValidSize    int               `gorm:"column:valid_size"`
	EpochsRun    int               `gorm:"column:epochs_run"`
	StoppedEarly bool              `gorm:"column:stopped_early"`
	StopEpoch    int               `gorm:"column:stop_epoch"`
	BestEpoch    int               `gorm:"column:best_epoch"`
	Checkpointed bool              `gorm:"column:checkpointed"`
	Metrics      datatypes.JSONMap `gorm:"column:metrics"`
	ErrorMessage string            `gorm:"column:error_message"`
	DurationMs   int64             `gorm:"column:duration_ms"`
	CreatedAt    time.Time         `gorm:"column:created_at"`
}

func (FoldModel) TableName() string {
	return "cv_folds"
}
