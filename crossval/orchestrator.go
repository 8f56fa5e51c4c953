package crossval

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tsawler/go-emotion/checkpoints"
	"github.com/tsawler/go-emotion/logger"
	"github.com/tsawler/go-emotion/report"
	"github.com/tsawler/go-emotion/training"
)

// FailurePolicy decides what a failed fold does to the rest of the run
type FailurePolicy int

const (
	AbortOnFailure    FailurePolicy = iota // Stop at the first failed fold
	ContinueOnFailure                      // Skip the fold and carry on
)

func (p FailurePolicy) String() string {
	switch p {
	case AbortOnFailure:
		return "abort"
	case ContinueOnFailure:
		return "continue"
	default:
		return fmt.Sprintf("Unknown(%d)", int(p))
	}
}

// ParseFailurePolicy maps "abort" or "continue" to a policy
func ParseFailurePolicy(s string) (FailurePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "abort":
		return AbortOnFailure, nil
	case "continue", "skip":
		return ContinueOnFailure, nil
	default:
		return 0, training.NewConfigurationError("failure_policy", "unknown policy %q", s)
	}
}

// ErrNoCompletedFolds is returned when every fold was skipped
var ErrNoCompletedFolds = errors.New("no fold completed")

// ModelFactory builds a fresh, untrained model for a 1-based fold number
type ModelFactory func(fold int) (training.Module, error)

// OptimizerFactory binds a new optimizer to a model's parameters
type OptimizerFactory func(model training.Module) (training.Optimizer, error)

// EpochFactory builds the epoch collaborators of one fold
type EpochFactory func(fold int, model training.Module, optimizer training.Optimizer, train, valid training.Split) (training.EpochTrainer, training.EpochEvaluator, error)

// Recorder receives every fold outcome as it happens
type Recorder interface {
	RecordFold(runID string, result FoldResult) error
}

// Config is the read-only configuration of a cross-validation run
type Config struct {
	Folds         KFold
	Training      training.TrainingConfig
	BatchSize     int
	NumClasses    int
	FailurePolicy FailurePolicy
	Schedule      training.ScheduleConfig
	ReportPath    string
	RunID         string
}

// Dependencies are the collaborators of a run. Models and Optimizers are
// required; the rest have defaults or are skipped when nil.
type Dependencies struct {
	Models     ModelFactory
	Optimizers OptimizerFactory
	Loss       training.Loss   // Defaults to mean cross entropy
	Epochs     EpochFactory    // Defaults to gradient training with a loss evaluator
	Best       *BestCheckpoint // Nil disables checkpointing
	Sink       report.Sink     // Nil disables the report write
	Recorder   Recorder
	Logger     logrus.FieldLogger
}

// FoldResult is the outcome of one fold: metrics and history on success,
// a *training.FoldTrainingError otherwise.
type FoldResult struct {
	Fold         int // 1-based
	TrainSize    int
	ValidSize    int
	History      *training.History
	Metrics      training.ClassificationMetrics
	Checkpointed bool
	Duration     time.Duration
	Err          error
}

// Failed reports whether the fold did not produce metrics
func (f FoldResult) Failed() bool {
	return f.Err != nil
}

// Result holds everything a run produced, including when it ended in error
type Result struct {
	RunID string
	Folds []FoldResult
	Rows  []report.MetricsRow // Completed folds followed by the average
	Table report.Table
	Best  BestSummary
}

// Completed returns the folds that produced metrics
func (r *Result) Completed() []FoldResult {
	var out []FoldResult
	for _, f := range r.Folds {
		if !f.Failed() {
			out = append(out, f)
		}
	}
	return out
}

// Orchestrator runs K-fold cross-validation
type Orchestrator struct {
	config Config
	deps   Dependencies
	log    logrus.FieldLogger
}

// NewOrchestrator validates the configuration and wires defaults
func NewOrchestrator(config Config, deps Dependencies) (*Orchestrator, error) {
	if err := config.Training.Validate(); err != nil {
		return nil, err
	}
	if config.Folds.K < 2 {
		return nil, training.NewConfigurationError("K", "must be at least 2, got %d", config.Folds.K)
	}
	if config.BatchSize <= 0 {
		return nil, training.NewConfigurationError("batch_size", "must be positive, got %d", config.BatchSize)
	}
	if config.NumClasses <= 0 {
		return nil, training.NewConfigurationError("num_classes", "must be positive, got %d", config.NumClasses)
	}
	if _, err := training.NewScheduler(config.Schedule, config.Training.Epochs); err != nil {
		return nil, err
	}
	if deps.Models == nil || deps.Optimizers == nil {
		return nil, fmt.Errorf("model and optimizer factories are required")
	}

	if deps.Loss == nil {
		deps.Loss = training.NewCrossEntropyLoss("mean")
	}
	log := deps.Logger
	if log == nil {
		log = logger.Log
	}
	if config.Training.Logger == nil {
		config.Training.Logger = log
	}

	o := &Orchestrator{config: config, deps: deps, log: log}
	if o.deps.Epochs == nil {
		o.deps.Epochs = o.gradientEpochs
	}
	return o, nil
}

// Run trains and evaluates one fresh model per fold. Configuration errors are
// returned before any fold runs. Fold failures follow the failure policy.
// Checkpoint and report write failures end the run; in every error case the
// returned Result still holds the metrics gathered so far.
func (o *Orchestrator) Run(data training.Split) (*Result, error) {
	folds, err := o.config.Folds.Split(data.Len())
	if err != nil {
		return nil, err
	}

	result := &Result{RunID: o.config.RunID}
	runLog := o.log.WithFields(logrus.Fields{
		"run_id": o.config.RunID,
		"folds":  len(folds),
		"policy": o.config.FailurePolicy.String(),
	})
	runLog.Info("starting cross-validation")

	for _, fold := range folds {
		foldResult, err := o.runFold(fold, data)
		result.Folds = append(result.Folds, foldResult)
		o.record(foldResult)

		if err != nil {
			var foldErr *training.FoldTrainingError
			if errors.As(err, &foldErr) && o.config.FailurePolicy == ContinueOnFailure {
				runLog.WithFields(logrus.Fields{"fold": fold.Number(), "error": err}).Warn("skipping failed fold")
				continue
			}
			runLog.WithFields(logrus.Fields{"fold": fold.Number(), "error": err}).Error("cross-validation aborted")
			o.finish(result)
			return result, err
		}
	}

	o.finish(result)
	if len(result.Completed()) == 0 {
		return result, ErrNoCompletedFolds
	}

	if o.deps.Sink != nil && o.config.ReportPath != "" {
		if err := o.deps.Sink.Write(o.config.ReportPath, result.Table); err != nil {
			return result, err
		}
	}

	best := result.Best
	runLog.WithFields(logrus.Fields{
		"completed":     len(result.Completed()),
		"best_fold":     best.Fold,
		"best_accuracy": best.Accuracy,
	}).Info("cross-validation complete")
	return result, nil
}

// runFold trains and evaluates one fold. Training and evaluation failures
// come back as *training.FoldTrainingError; checkpoint failures unwrapped.
func (o *Orchestrator) runFold(fold Fold, data training.Split) (FoldResult, error) {
	number := fold.Number()
	start := time.Now()
	res := FoldResult{
		Fold:      number,
		TrainSize: len(fold.Train),
		ValidSize: len(fold.Validation),
	}
	fail := func(err error) (FoldResult, error) {
		res.Err = &training.FoldTrainingError{Fold: number, Err: err}
		res.Duration = time.Since(start)
		return res, res.Err
	}

	foldLog := o.log.WithFields(logrus.Fields{"run_id": o.config.RunID, "fold": number})
	foldLog.WithFields(logrus.Fields{"train": res.TrainSize, "validation": res.ValidSize}).Info("training fold")

	trainSplit := data.Subset(fold.Train)
	validSplit := data.Subset(fold.Validation)

	model, err := o.deps.Models(number)
	if err != nil {
		return fail(fmt.Errorf("build model: %w", err))
	}
	optimizer, err := o.deps.Optimizers(model)
	if err != nil {
		return fail(fmt.Errorf("build optimizer: %w", err))
	}
	trainer, evaluator, err := o.deps.Epochs(number, model, optimizer, trainSplit, validSplit)
	if err != nil {
		return fail(fmt.Errorf("build epoch collaborators: %w", err))
	}

	cfg := o.config.Training
	cfg.Logger = foldLog
	loop, err := training.NewTrainer(trainer, evaluator, cfg)
	if err != nil {
		return fail(err)
	}
	history, err := loop.Train()
	res.History = history
	if err != nil {
		return fail(err)
	}

	validLoader, err := training.NewDataLoader(validSplit, o.config.BatchSize, false, 0)
	if err != nil {
		return fail(err)
	}
	predictions, err := training.Predict(model, validLoader)
	if err != nil {
		return fail(fmt.Errorf("evaluate: %w", err))
	}
	metrics, err := training.Evaluate(validSplit.Labels, predictions, o.config.NumClasses)
	if err != nil {
		return fail(fmt.Errorf("score: %w", err))
	}
	res.Metrics = metrics

	if o.deps.Best != nil {
		replaced, err := o.deps.Best.Offer(number, metrics.Accuracy, func() *checkpoints.Checkpoint {
			return o.snapshot(number, model, optimizer, history, metrics)
		})
		if err != nil {
			res.Duration = time.Since(start)
			return res, err
		}
		res.Checkpointed = replaced
	}

	res.Duration = time.Since(start)
	foldLog.WithFields(logrus.Fields{
		"accuracy":      metrics.Accuracy,
		"f1_macro":      metrics.F1Macro,
		"epochs_run":    history.Len(),
		"stopped_early": history.StoppedEarly,
		"new_best":      res.Checkpointed,
		"duration":      res.Duration.String(),
	}).Info("fold complete")
	return res, nil
}

func (o *Orchestrator) gradientEpochs(fold int, model training.Module, optimizer training.Optimizer, train, valid training.Split) (training.EpochTrainer, training.EpochEvaluator, error) {
	// Each fold shuffles with its own stream so folds stay reproducible on their own
	trainLoader, err := training.NewDataLoader(train, o.config.BatchSize, true, o.config.Folds.Seed+int64(fold))
	if err != nil {
		return nil, nil, err
	}
	validLoader, err := training.NewDataLoader(valid, o.config.BatchSize, false, 0)
	if err != nil {
		return nil, nil, err
	}

	scheduler, err := training.NewScheduler(o.config.Schedule, o.config.Training.Epochs)
	if err != nil {
		return nil, nil, err
	}

	var trainer training.EpochTrainer = training.NewGradientEpochTrainer(model, optimizer, o.deps.Loss, trainLoader)
	if _, constant := scheduler.(training.ConstantScheduler); !constant {
		trainer = training.NewScheduledEpochTrainer(trainer, optimizer, scheduler)
	}
	return trainer, training.NewLossEvaluator(model, o.deps.Loss, validLoader), nil
}

func (o *Orchestrator) snapshot(fold int, model training.Module, optimizer training.Optimizer, history *training.History, metrics training.ClassificationMetrics) *checkpoints.Checkpoint {
	state := checkpoints.TrainingState{
		Fold:         fold,
		LearningRate: optimizer.GetLR(),
		BestAccuracy: metrics.Accuracy,
		EpochsRun:    history.Len(),
		StoppedEarly: history.StoppedEarly,
	}
	if last, ok := history.Last(); ok {
		state.Epoch = last.Epoch
	}
	if !math.IsInf(history.BestValidLoss, 0) && !math.IsNaN(history.BestValidLoss) {
		state.BestLoss = history.BestValidLoss
	}

	ckpt := checkpoints.FromModule(model, state)
	ckpt.Metadata = checkpoints.CheckpointMetadata{
		RunID:       o.config.RunID,
		Description: fmt.Sprintf("best of %d folds so far (fold %d)", o.config.Folds.K, fold),
		Tags:        []string{"cross-validation"},
	}
	return ckpt
}

func (o *Orchestrator) record(res FoldResult) {
	if o.deps.Recorder == nil {
		return
	}
	if err := o.deps.Recorder.RecordFold(o.config.RunID, res); err != nil {
		o.log.WithFields(logrus.Fields{"fold": res.Fold, "error": err}).Warn("failed to record fold")
	}
}

// finish builds the aggregate rows and table from the completed folds
func (o *Orchestrator) finish(result *Result) {
	var rows []report.MetricsRow
	for _, f := range result.Completed() {
		rows = append(rows, report.MetricsRow{Label: fmt.Sprint(f.Fold), Metrics: f.Metrics})
	}
	result.Rows = report.Aggregate(rows)
	result.Table = report.NewMetricsTable(report.FoldColumn, result.Rows)
	if o.deps.Best != nil {
		result.Best = o.deps.Best.Summary()
	}
}
