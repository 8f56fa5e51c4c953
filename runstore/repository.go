// Package runstore keeps a Postgres record of pipeline runs and their
// cross-validation folds.
package runstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/tsawler/go-emotion/crossval"
	"github.com/tsawler/go-emotion/logger"
	"github.com/tsawler/go-emotion/training"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var ErrRunNotFound = errors.New("pipeline run not found")

type Repository struct {
	db *gorm.DB
}

// Open connects to Postgres
func Open(dsn string) (*Repository, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		logger.Log.WithError(err).Error("Failed to connect to PostgreSQL")
		return nil, fmt.Errorf("connect run store: %w", err)
	}
	logger.Log.Info("Connected to PostgreSQL")
	return NewRepository(db), nil
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&RunModel{}, &FoldModel{})
}

func (r *Repository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// StartRun inserts a run in the running state
func (r *Repository) StartRun(ctx context.Context, id uuid.UUID, stage string, config map[string]interface{}) error {
	now := time.Now().UTC()
	run := &RunModel{
		ID:        id,
		Stage:     stage,
		Status:    StatusRunning,
		Config:    datatypes.JSONMap(config),
		CreatedAt: now,
		UpdatedAt: now,
		StartedAt: &now,
	}
	return r.db.WithContext(ctx).Create(run).Error
}

// FinishRun marks a run completed, or failed when runErr is set
func (r *Repository) FinishRun(ctx context.Context, id uuid.UUID, metrics map[string]interface{}, artifactPath string, runErr error) error {
	now := time.Now().UTC()
	updates := map[string]interface{}{
		"status":        StatusCompleted,
		"artifact_path": artifactPath,
		"updated_at":    now,
		"completed_at":  now,
	}
	if runErr != nil {
		updates["status"] = StatusFailed
		updates["error_message"] = runErr.Error()
	}
	if metrics != nil {
		updates["metrics"] = datatypes.JSONMap(metrics)
	}
	return r.db.WithContext(ctx).Model(&RunModel{}).Where("id = ?", id).Updates(updates).Error
}

func (r *Repository) GetRun(ctx context.Context, id uuid.UUID) (*RunModel, error) {
	var run RunModel
	result := r.db.WithContext(ctx).First(&run, "id = ?", id)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return nil, ErrRunNotFound
	}
	return &run, result.Error
}

func (r *Repository) ListFolds(ctx context.Context, runID uuid.UUID) ([]FoldModel, error) {
	var folds []FoldModel
	result := r.db.WithContext(ctx).Where("run_id = ?", runID).Order("fold asc").Find(&folds)
	return folds, result.Error
}

// RecordFold stores one fold outcome. It satisfies crossval.Recorder.
func (r *Repository) RecordFold(runID string, result crossval.FoldResult) error {
	fold, err := NewFoldModel(runID, result)
	if err != nil {
		return err
	}
	return r.db.WithContext(context.Background()).Create(fold).Error
}

// NewFoldModel maps a fold outcome onto its table row
func NewFoldModel(runID string, result crossval.FoldResult) (*FoldModel, error) {
	id, err := uuid.Parse(runID)
	if err != nil {
		return nil, fmt.Errorf("run id %q: %w", runID, err)
	}

	fold := &FoldModel{
		ID:           uuid.New(),
		RunID:        id,
		Fold:         result.Fold,
		Status:       StatusCompleted,
		TrainSize:    result.TrainSize,
		ValidSize:    result.ValidSize,
		StopEpoch:    -1,
		BestEpoch:    -1,
		Checkpointed: result.Checkpointed,
		DurationMs:   result.Duration.Milliseconds(),
		CreatedAt:    time.Now().UTC(),
	}
	if h := result.History; h != nil {
		fold.EpochsRun = h.Len()
		fold.StoppedEarly = h.StoppedEarly
		fold.StopEpoch = h.StopEpoch
		fold.BestEpoch = h.BestEpoch
	}
	if result.Failed() {
		fold.Status = StatusSkipped
		fold.ErrorMessage = result.Err.Error()
	} else {
		fold.Metrics = MetricsMap(result.Metrics)
	}
	return fold, nil
}

// MetricsMap flattens a metrics row for a JSON column
func MetricsMap(m training.ClassificationMetrics) datatypes.JSONMap {
	return datatypes.JSONMap{
		"accuracy":        m.Accuracy,
		"precision_macro": m.PrecisionMacro,
		"precision_micro": m.PrecisionMicro,
		"recall_macro":    m.RecallMacro,
		"recall_micro":    m.RecallMicro,
		"f1_macro":        m.F1Macro,
		"f1_micro":        m.F1Micro,
	}
}

var _ crossval.Recorder = (*Repository)(nil)
