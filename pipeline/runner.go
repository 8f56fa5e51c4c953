// Package pipeline wires data ingestion, training, cross-validation, bias
// screening and single-image prediction into runnable stages.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/tsawler/go-emotion/bias"
	"github.com/tsawler/go-emotion/checkpoints"
	"github.com/tsawler/go-emotion/config"
	"github.com/tsawler/go-emotion/crossval"
	"github.com/tsawler/go-emotion/logger"
	"github.com/tsawler/go-emotion/models"
	"github.com/tsawler/go-emotion/report"
	"github.com/tsawler/go-emotion/training"
)

// Tracker records runs and folds outside the local filesystem.
// *runstore.Repository satisfies it.
type Tracker interface {
	crossval.Recorder
	StartRun(ctx context.Context, id uuid.UUID, stage string, config map[string]interface{}) error
	FinishRun(ctx context.Context, id uuid.UUID, metrics map[string]interface{}, artifactPath string, runErr error) error
}

// Option customizes a Runner
type Option func(*Runner)

// WithTracker records the run through t
func WithTracker(t Tracker) Option {
	return func(r *Runner) { r.tracker = t }
}

// WithLogger replaces the package logger
func WithLogger(l logrus.FieldLogger) Option {
	return func(r *Runner) { r.log = l }
}

// WithProgress prints model summaries and epoch progress to w
func WithProgress(w io.Writer) Option {
	return func(r *Runner) { r.progress = w }
}

// WithSink replaces the CSV report sink
func WithSink(s report.Sink) Option {
	return func(r *Runner) { r.sink = s }
}

// WithRunID fixes the run id instead of generating one
func WithRunID(id uuid.UUID) Option {
	return func(r *Runner) { r.runID = id }
}

// Prediction is the outcome of StagePredictSingle
type Prediction struct {
	Index     int
	Path      string
	Label     string
	Predicted string
}

// Correct reports whether the prediction matches the label
func (p Prediction) Correct() bool {
	return p.Label == p.Predicted
}

// Runner executes pipeline stages for one configuration. Decoded data is
// loaded on first use and shared by later stages of the same Runner.
type Runner struct {
	cfg      config.Run
	runID    uuid.UUID
	labels   *training.LabelMap
	log      logrus.FieldLogger
	tracker  Tracker
	sink     report.Sink
	store    *checkpoints.Store
	progress io.Writer
	data     *prepared
}

// NewRunner creates a Runner with a fresh run id
func NewRunner(cfg config.Run, opts ...Option) *Runner {
	r := &Runner{
		cfg:    cfg,
		runID:  uuid.New(),
		labels: training.DefaultLabelMap(),
		store:  checkpoints.NewStore(cfg.CheckpointFormat, cfg.Retries, 100*time.Millisecond),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.log == nil {
		r.log = logger.Log
	}
	r.log = r.log.WithField("run_id", r.runID.String())
	if r.sink == nil {
		sink := report.NewCSVSink(cfg.Retries, 100*time.Millisecond)
		sink.Logger = r.log
		r.sink = sink
	}
	return r
}

// RunID identifies this invocation in logs, checkpoints and the run store
func (r *Runner) RunID() uuid.UUID {
	return r.runID
}

// Run executes one stage. Tracking failures are logged and never fail the stage.
func (r *Runner) Run(ctx context.Context, stage Stage) error {
	log := r.log.WithField("stage", stage.String())
	log.Info("stage started")
	start := time.Now()

	if r.tracker != nil {
		if err := r.tracker.StartRun(ctx, r.runID, stage.String(), r.configMap()); err != nil {
			log.WithError(err).Warn("failed to record run start")
		}
	}

	var (
		metrics  map[string]interface{}
		artifact string
		err      error
	)
	switch stage {
	case StageTrain:
		metrics, artifact, err = r.trainHoldout(ctx)
	case StageCrossValidate:
		metrics, artifact, err = r.crossValidate(ctx)
	case StageDetectBias:
		metrics, artifact, err = r.detectBias(ctx)
	case StagePredictSingle:
		var p Prediction
		p, err = r.PredictSingle(ctx)
		if err == nil {
			metrics = map[string]interface{}{"index": p.Index, "label": p.Label, "predicted": p.Predicted}
			artifact = p.Path
		}
	default:
		err = fmt.Errorf("unsupported stage %s", stage)
	}

	if r.tracker != nil {
		if ferr := r.tracker.FinishRun(ctx, r.runID, metrics, artifact, err); ferr != nil {
			log.WithError(ferr).Warn("failed to record run finish")
		}
	}

	fields := logrus.Fields{"duration": time.Since(start).String()}
	if err != nil {
		log.WithFields(fields).WithError(err).Error("stage failed")
		return err
	}
	log.WithFields(fields).Info("stage completed")
	return nil
}

func (r *Runner) configMap() map[string]interface{} {
	return map[string]interface{}{
		"lr":             r.cfg.LearningRate,
		"weight_decay":   r.cfg.WeightDecay,
		"epochs":         r.cfg.Epochs,
		"patience":       r.cfg.Patience,
		"k":              r.cfg.K,
		"batch_size":     r.cfg.HoldoutBatchSize,
		"cv_batch_size":  r.cfg.FoldBatchSize,
		"seed":           r.cfg.Seed,
		"model":          r.cfg.HoldoutModel,
		"cv_model":       r.cfg.CVModel,
		"lr_schedule":    r.cfg.Schedule.Name,
		"failure_policy": r.cfg.FailurePolicy.String(),
	}
}

func (r *Runner) trainHoldout(ctx context.Context) (map[string]interface{}, string, error) {
	data, err := r.load(ctx)
	if err != nil {
		return nil, "", err
	}

	model, err := models.New(r.cfg.HoldoutModel, data.train.Dim(), r.labels.NumClasses(), r.cfg.Seed)
	if err != nil {
		return nil, "", err
	}
	if r.progress != nil {
		training.PrintModelSummary(r.progress, model)
	}
	optimizer, err := training.NewAdam(model.Parameters(), r.cfg.Adam())
	if err != nil {
		return nil, "", err
	}

	trainLoader, err := training.NewDataLoader(data.train, r.cfg.HoldoutBatchSize, true, r.cfg.Seed)
	if err != nil {
		return nil, "", err
	}
	testLoader, err := training.NewDataLoader(data.test, r.cfg.HoldoutBatchSize, false, 0)
	if err != nil {
		return nil, "", err
	}

	criterion := training.NewCrossEntropyLoss("mean")
	epochs, err := r.scheduled(training.NewGradientEpochTrainer(model, optimizer, criterion, trainLoader), optimizer)
	if err != nil {
		return nil, "", err
	}
	trainer, err := training.NewTrainer(epochs, training.NewLossEvaluator(model, criterion, testLoader), training.TrainingConfig{
		Epochs:   r.cfg.Epochs,
		Patience: r.cfg.Patience,
		Progress: r.progress,
		Logger:   r.log.WithField("model", model.Name()),
	})
	if err != nil {
		return nil, "", err
	}
	history, err := trainer.Train()
	if err != nil {
		return nil, "", err
	}

	predictions, err := training.Predict(model, testLoader)
	if err != nil {
		return nil, "", err
	}
	cm := training.NewConfusionMatrix(r.labels.NumClasses())
	if err := cm.Update(data.test.Labels, predictions); err != nil {
		return nil, "", err
	}
	metrics := cm.Metrics()

	path := checkpoints.Naming(r.cfg.CheckpointDir, model.Name(), checkpoints.RunSingle, r.cfg.CheckpointFormat)
	if err := r.store.Save(r.snapshot(model, optimizer, history, metrics), path); err != nil {
		return nil, "", err
	}

	table := report.NewMetricsTable(report.ModelColumn, []report.MetricsRow{{Label: model.Name(), Metrics: metrics}})
	if err := r.sink.Write(r.cfg.MetricsPath(model.Name()), table); err != nil {
		return nil, path, err
	}

	if r.cfg.Plots {
		r.writePlot(model.Name()+"_training_curves", training.TrainingCurvesPlot(model.Name(), history))
		if heatmap, err := training.ConfusionMatrixHeatmap(model.Name(), cm, r.labels.Names()); err == nil {
			r.writePlot(model.Name()+"_confusion_matrix", heatmap)
		}
	}

	r.log.WithFields(logrus.Fields{
		"model":         model.Name(),
		"epochs_run":    history.Len(),
		"stopped_early": history.StoppedEarly,
		"accuracy":      metrics.Accuracy,
		"f1_macro":      metrics.F1Macro,
		"checkpoint":    path,
	}).Info("holdout training complete")

	summary := metricsMap(metrics)
	summary["epochs_run"] = history.Len()
	summary["stopped_early"] = history.StoppedEarly
	return summary, path, nil
}

func (r *Runner) crossValidate(ctx context.Context) (map[string]interface{}, string, error) {
	data, err := r.load(ctx)
	if err != nil {
		return nil, "", err
	}

	dim := data.train.Dim()
	numClasses := r.labels.NumClasses()
	path := checkpoints.Naming(r.cfg.CheckpointDir, r.cfg.CVModel, checkpoints.RunCrossValidation, r.cfg.CheckpointFormat)

	deps := crossval.Dependencies{
		Models: func(fold int) (training.Module, error) {
			return models.New(r.cfg.CVModel, dim, numClasses, r.cfg.Seed+int64(fold))
		},
		Optimizers: func(m training.Module) (training.Optimizer, error) {
			return training.NewAdam(m.Parameters(), r.cfg.Adam())
		},
		Best:   crossval.NewBestCheckpoint(r.store, path),
		Sink:   r.sink,
		Logger: r.log,
	}
	if r.tracker != nil {
		deps.Recorder = r.tracker
	}

	orch, err := crossval.NewOrchestrator(crossval.Config{
		Folds: crossval.NewKFold(r.cfg.K, r.cfg.Shuffle, r.cfg.Seed),
		Training: training.TrainingConfig{
			Epochs:   r.cfg.Epochs,
			Patience: r.cfg.Patience,
			Progress: r.progress,
		},
		BatchSize:     r.cfg.FoldBatchSize,
		NumClasses:    numClasses,
		FailurePolicy: r.cfg.FailurePolicy,
		Schedule:      r.cfg.Schedule,
		ReportPath:    r.cfg.CrossValidationPath(),
		RunID:         r.runID.String(),
	}, deps)
	if err != nil {
		return nil, "", err
	}

	result, err := orch.Run(data.train)
	if result != nil && r.cfg.Plots {
		for _, f := range result.Completed() {
			name := fmt.Sprintf("%s_fold%d", r.cfg.CVModel, f.Fold)
			r.writePlot(name+"_training_curves", training.TrainingCurvesPlot(name, f.History))
		}
	}
	if err != nil {
		if result != nil && len(result.Rows) > 0 {
			r.writePartial(result)
		}
		return nil, "", err
	}

	summary := map[string]interface{}{
		"folds":     len(result.Folds),
		"completed": len(result.Completed()),
		"best_fold": result.Best.Fold,
	}
	if n := len(result.Rows); n > 0 {
		for k, v := range metricsMap(result.Rows[n-1].Metrics) {
			summary["average_"+k] = v
		}
	}
	return summary, result.Best.Path, nil
}

func (r *Runner) detectBias(ctx context.Context) (map[string]interface{}, string, error) {
	data, err := r.load(ctx)
	if err != nil {
		return nil, "", err
	}
	for _, attr := range []string{bias.AttributeAge, bias.AttributeGender} {
		if !data.testSet.HasAttribute(attr) {
			return nil, "", training.NewConfigurationError("metadata", "test images lack the %q attribute", attr)
		}
	}

	model, err := r.restoreHoldout(data.test.Dim())
	if err != nil {
		return nil, "", err
	}
	loader, err := training.NewDataLoader(data.test, r.cfg.HoldoutBatchSize, false, 0)
	if err != nil {
		return nil, "", err
	}
	predictions, err := training.Predict(model, loader)
	if err != nil {
		return nil, "", err
	}

	var tables [][]report.BiasRow
	for _, attr := range []string{bias.AttributeAge, bias.AttributeGender} {
		groups := make([]string, data.testSet.Len())
		for i := range groups {
			groups[i] = data.testSet.Attributes(i)[attr]
		}
		rows, err := bias.Detect(attr, data.test.Labels, predictions, groups, r.labels.NumClasses())
		if err != nil {
			return nil, "", err
		}
		tables = append(tables, rows)
	}

	rows := bias.Combine(tables...)
	if err := r.sink.Write(r.cfg.BiasPath(), report.NewBiasTable(rows)); err != nil {
		return nil, "", err
	}

	overall := rows[len(rows)-1]
	r.log.WithFields(logrus.Fields{
		"accuracy": overall.Accuracy,
		"f1":       overall.F1,
		"path":     r.cfg.BiasPath(),
	}).Info("bias detection complete")

	return map[string]interface{}{
		"accuracy":  overall.Accuracy,
		"precision": overall.Precision,
		"recall":    overall.Recall,
		"f1":        overall.F1,
	}, r.cfg.BiasPath(), nil
}

// PredictSingle classifies one test image chosen with the run seed
func (r *Runner) PredictSingle(ctx context.Context) (Prediction, error) {
	data, err := r.load(ctx)
	if err != nil {
		return Prediction{}, err
	}
	model, err := r.restoreHoldout(data.test.Dim())
	if err != nil {
		return Prediction{}, err
	}

	index := rand.New(rand.NewSource(r.cfg.Seed)).Intn(data.test.Len())
	loader, err := training.NewDataLoader(data.test.Subset([]int{index}), 1, false, 0)
	if err != nil {
		return Prediction{}, err
	}
	predicted, err := training.Predict(model, loader)
	if err != nil {
		return Prediction{}, err
	}

	path, label, err := data.testSet.GetItem(index)
	if err != nil {
		return Prediction{}, err
	}
	p := Prediction{Index: index, Path: path}
	if p.Label, err = r.labels.Name(label); err != nil {
		return Prediction{}, err
	}
	if p.Predicted, err = r.labels.Name(predicted[0]); err != nil {
		return Prediction{}, err
	}

	r.log.WithFields(logrus.Fields{
		"image":     filepath.Base(path),
		"label":     p.Label,
		"predicted": p.Predicted,
	}).Info("single prediction")
	return p, nil
}

func (r *Runner) restoreHoldout(inputDim int) (training.Module, error) {
	model, err := models.New(r.cfg.HoldoutModel, inputDim, r.labels.NumClasses(), r.cfg.Seed)
	if err != nil {
		return nil, err
	}
	path := checkpoints.Naming(r.cfg.CheckpointDir, model.Name(), checkpoints.RunSingle, r.cfg.CheckpointFormat)
	ckpt, err := r.store.Load(path)
	if err != nil {
		return nil, fmt.Errorf("holdout model not trained yet: %w", err)
	}
	if err := checkpoints.Restore(model, ckpt); err != nil {
		return nil, err
	}
	model.Eval()
	return model, nil
}

// scheduled wraps inner with the configured learning-rate schedule
func (r *Runner) scheduled(inner training.EpochTrainer, optimizer training.Optimizer) (training.EpochTrainer, error) {
	sched, err := training.NewScheduler(r.cfg.Schedule, r.cfg.Epochs)
	if err != nil {
		return nil, err
	}
	if _, constant := sched.(training.ConstantScheduler); constant {
		return inner, nil
	}
	return training.NewScheduledEpochTrainer(inner, optimizer, sched), nil
}

func (r *Runner) snapshot(model training.Module, optimizer training.Optimizer, history *training.History, metrics training.ClassificationMetrics) *checkpoints.Checkpoint {
	state := checkpoints.TrainingState{
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
		RunID: r.runID.String(),
		Tags:  []string{"holdout"},
	}
	return ckpt
}

// writePartial keeps the folds that completed before a failed run
func (r *Runner) writePartial(result *crossval.Result) {
	path := r.cfg.PartialCrossValidationPath()
	log := r.log.WithFields(logrus.Fields{"path": path, "completed": len(result.Completed())})
	if err := r.sink.Write(path, result.Table); err != nil {
		log.WithError(err).Warn("failed to write partial cross-validation report")
		return
	}
	log.Warn("cross-validation failed, partial report written")
}

// writePlot stores a plot document; failures are logged only
func (r *Runner) writePlot(name string, plot training.PlotData) {
	doc, err := plot.ToJSON()
	if err == nil {
		dir := r.cfg.PlotsDir()
		if err = os.MkdirAll(dir, 0o755); err == nil {
			err = os.WriteFile(filepath.Join(dir, name+".json"), []byte(doc), 0o644)
		}
	}
	if err != nil {
		r.log.WithError(err).WithField("plot", name).Warn("failed to write plot")
	}
}

func metricsMap(m training.ClassificationMetrics) map[string]interface{} {
	return map[string]interface{}{
		"accuracy":        m.Accuracy,
		"precision_macro": m.PrecisionMacro,
		"precision_micro": m.PrecisionMicro,
		"recall_macro":    m.RecallMacro,
		"recall_micro":    m.RecallMicro,
		"f1_macro":        m.F1Macro,
		"f1_micro":        m.F1Micro,
	}
}
