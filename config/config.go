// Package config loads the run configuration from YAML with environment
// overrides and validates it into an immutable Run.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/tsawler/go-emotion/checkpoints"
	"github.com/tsawler/go-emotion/crossval"
	"github.com/tsawler/go-emotion/logger"
	"github.com/tsawler/go-emotion/models"
	"github.com/tsawler/go-emotion/training"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override
const EnvPrefix = "EMOTION_"

// File mirrors the YAML run file. Zero values are replaced by defaults.
type File struct {
	Training        TrainingSection        `yaml:"training"`
	CrossValidation CrossValidationSection `yaml:"cross_validation"`
	Data            DataSection            `yaml:"data"`
	Output          OutputSection          `yaml:"output"`
	Report          ReportSection          `yaml:"report"`
	Tracking        TrackingSection        `yaml:"tracking"`
	Log             LogSection             `yaml:"log"`
}

type TrainingSection struct {
	Model        string                  `yaml:"model"`
	LearningRate float64                 `yaml:"lr"`
	WeightDecay  *float64                `yaml:"weight_decay"`
	Epochs       int                     `yaml:"epochs"`
	Patience     *int                    `yaml:"patience"`
	BatchSize    int                     `yaml:"batch_size"`
	Seed         *int64                  `yaml:"seed"`
	Schedule     training.ScheduleConfig `yaml:"lr_schedule"`
}

type CrossValidationSection struct {
	Model         string `yaml:"model"`
	K             int    `yaml:"k"`
	BatchSize     int    `yaml:"batch_size"`
	Shuffle       *bool  `yaml:"shuffle"`
	FailurePolicy string `yaml:"failure_policy"`
}

type DataSection struct {
	TrainDir  string `yaml:"train_dir"`
	TestDir   string `yaml:"test_dir"`
	ImageSize int    `yaml:"image_size"`
	Workers   int    `yaml:"workers"`
	CacheSize int    `yaml:"cache_size"`
}

type OutputSection struct {
	ResultsDir       string `yaml:"results_dir"`
	CheckpointDir    string `yaml:"checkpoint_dir"`
	CheckpointFormat string `yaml:"checkpoint_format"`
	Retries          int    `yaml:"retries"`
}

type ReportSection struct {
	Plots bool `yaml:"plots"`
}

type TrackingSection struct {
	DSN string `yaml:"dsn"`
}

type LogSection struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// Run is the validated configuration of one pipeline invocation. It is
// passed by value and never modified after Build.
type Run struct {
	LearningRate     float64
	WeightDecay      float64
	Epochs           int
	Patience         int
	HoldoutBatchSize int
	FoldBatchSize    int
	K                int
	Shuffle          bool
	Seed             int64
	Schedule         training.ScheduleConfig

	HoldoutModel string
	CVModel      string

	TrainDir  string
	TestDir   string
	ImageSize int
	Workers   int
	CacheSize int

	ResultsDir       string
	CheckpointDir    string
	CheckpointFormat checkpoints.CheckpointFormat
	Retries          int
	FailurePolicy    crossval.FailurePolicy
	Plots            bool

	TrackingDSN string
	Log         logger.Options
}

// Default returns the configuration used when nothing is set
func Default() Run {
	return Run{
		LearningRate:     0.0001,
		WeightDecay:      0.001,
		Epochs:           100,
		Patience:         4,
		HoldoutBatchSize: 64,
		FoldBatchSize:    128,
		K:                10,
		Shuffle:          true,
		Seed:             crossval.DefaultSeed,
		HoldoutModel:     models.MLPID,
		CVModel:          models.MainID,
		TrainDir:         filepath.Join("data", "train"),
		TestDir:          filepath.Join("data", "test"),
		ImageSize:        48,
		Workers:          4,
		CacheSize:        0,
		ResultsDir:       "results",
		CheckpointDir:    checkpoints.DefaultDir,
		CheckpointFormat: checkpoints.FormatJSON,
		Retries:          2,
		FailurePolicy:    crossval.AbortOnFailure,
		Log:              logger.Options{Format: "text"},
	}
}

// Load reads a YAML run file. An empty path yields an empty File, so that
// defaults and environment overrides still apply.
func Load(path string) (*File, error) {
	f := &File{}
	if path == "" {
		return f, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, f); err != nil {
		return nil, fmt.Errorf("unmarshal config failed: %w", err)
	}
	return f, nil
}

// Build overlays the file on the defaults, applies environment overrides
// and validates the result.
func (f *File) Build() (Run, error) {
	return f.BuildWithEnv(os.LookupEnv)
}

// BuildWithEnv is Build with an explicit environment lookup
func (f *File) BuildWithEnv(lookup func(string) (string, bool)) (Run, error) {
	run := Default()
	f.overlay(&run)

	policy := f.CrossValidation.FailurePolicy
	format := f.Output.CheckpointFormat
	env := envReader{lookup: lookup}

	env.setFloat("LR", &run.LearningRate)
	env.setFloat("WEIGHT_DECAY", &run.WeightDecay)
	env.setInt("EPOCHS", &run.Epochs)
	env.setInt("PATIENCE", &run.Patience)
	env.setInt("BATCH_SIZE", &run.HoldoutBatchSize)
	env.setInt("CV_BATCH_SIZE", &run.FoldBatchSize)
	env.setInt("K", &run.K)
	env.setInt64("SEED", &run.Seed)
	env.setBool("SHUFFLE", &run.Shuffle)
	env.setString("MODEL", &run.HoldoutModel)
	env.setString("CV_MODEL", &run.CVModel)
	env.setString("TRAIN_DIR", &run.TrainDir)
	env.setString("TEST_DIR", &run.TestDir)
	env.setInt("WORKERS", &run.Workers)
	env.setString("RESULTS_DIR", &run.ResultsDir)
	env.setString("CHECKPOINT_DIR", &run.CheckpointDir)
	env.setString("CHECKPOINT_FORMAT", &format)
	env.setString("FAILURE_POLICY", &policy)
	env.setBool("PLOTS", &run.Plots)
	env.setString("TRACKING_DSN", &run.TrackingDSN)
	env.setString("LOG_LEVEL", &run.Log.Level)
	if env.err != nil {
		return Run{}, env.err
	}

	if format != "" {
		parsed, err := checkpoints.ParseFormat(format)
		if err != nil {
			return Run{}, training.NewConfigurationError("checkpoint_format", "%v", err)
		}
		run.CheckpointFormat = parsed
	}
	if policy != "" {
		parsed, err := crossval.ParseFailurePolicy(policy)
		if err != nil {
			return Run{}, err
		}
		run.FailurePolicy = parsed
	}

	if err := run.Validate(); err != nil {
		return Run{}, err
	}
	return run, nil
}

func (f *File) overlay(run *Run) {
	t := f.Training
	if t.Model != "" {
		run.HoldoutModel = t.Model
	}
	if t.LearningRate != 0 {
		run.LearningRate = t.LearningRate
	}
	if t.WeightDecay != nil {
		run.WeightDecay = *t.WeightDecay
	}
	if t.Epochs != 0 {
		run.Epochs = t.Epochs
	}
	if t.Patience != nil {
		run.Patience = *t.Patience
	}
	if t.BatchSize != 0 {
		run.HoldoutBatchSize = t.BatchSize
	}
	if t.Seed != nil {
		run.Seed = *t.Seed
	}
	if t.Schedule.Name != "" {
		run.Schedule = t.Schedule
	}

	cv := f.CrossValidation
	if cv.Model != "" {
		run.CVModel = cv.Model
	}
	if cv.K != 0 {
		run.K = cv.K
	}
	if cv.BatchSize != 0 {
		run.FoldBatchSize = cv.BatchSize
	}
	if cv.Shuffle != nil {
		run.Shuffle = *cv.Shuffle
	}

	d := f.Data
	if d.TrainDir != "" {
		run.TrainDir = d.TrainDir
	}
	if d.TestDir != "" {
		run.TestDir = d.TestDir
	}
	if d.ImageSize != 0 {
		run.ImageSize = d.ImageSize
	}
	if d.Workers != 0 {
		run.Workers = d.Workers
	}
	if d.CacheSize != 0 {
		run.CacheSize = d.CacheSize
	}

	o := f.Output
	if o.ResultsDir != "" {
		run.ResultsDir = o.ResultsDir
	}
	if o.CheckpointDir != "" {
		run.CheckpointDir = o.CheckpointDir
	}
	if o.Retries != 0 {
		run.Retries = o.Retries
	}

	run.Plots = f.Report.Plots
	run.TrackingDSN = f.Tracking.DSN

	if f.Log.Level != "" {
		run.Log.Level = f.Log.Level
	}
	if f.Log.Format != "" {
		run.Log.Format = f.Log.Format
	}
	run.Log.File = f.Log.File
}

// Validate checks every field that has a bounded domain
func (r Run) Validate() error {
	switch {
	case !(r.LearningRate > 0):
		return training.NewConfigurationError("lr", "must be positive, got %v", r.LearningRate)
	case r.WeightDecay < 0:
		return training.NewConfigurationError("weight_decay", "must be >= 0, got %v", r.WeightDecay)
	case r.Epochs < 0:
		return training.NewConfigurationError("epochs", "must be >= 0, got %d", r.Epochs)
	case r.Patience < 0:
		return training.NewConfigurationError("patience", "must be >= 0, got %d", r.Patience)
	case r.HoldoutBatchSize <= 0:
		return training.NewConfigurationError("batch_size", "must be positive, got %d", r.HoldoutBatchSize)
	case r.FoldBatchSize <= 0:
		return training.NewConfigurationError("cv_batch_size", "must be positive, got %d", r.FoldBatchSize)
	case r.K < 2:
		return training.NewConfigurationError("K", "must be at least 2, got %d", r.K)
	case r.ImageSize <= 0:
		return training.NewConfigurationError("image_size", "must be positive, got %d", r.ImageSize)
	case r.Workers <= 0:
		return training.NewConfigurationError("workers", "must be positive, got %d", r.Workers)
	case r.CacheSize < 0:
		return training.NewConfigurationError("cache_size", "must be >= 0, got %d", r.CacheSize)
	case r.Retries < 0:
		return training.NewConfigurationError("retries", "must be >= 0, got %d", r.Retries)
	case r.ResultsDir == "":
		return training.NewConfigurationError("results_dir", "must be set")
	}

	for field, id := range map[string]string{"model": r.HoldoutModel, "cv_model": r.CVModel} {
		if !knownModel(id) {
			return training.NewConfigurationError(field, "unknown model %q (known: %s)", id, strings.Join(models.IDs(), ", "))
		}
	}
	if _, err := training.NewScheduler(r.Schedule, r.Epochs); err != nil {
		return err
	}
	return nil
}

// Adam returns the optimizer settings of the run
func (r Run) Adam() training.AdamConfig {
	cfg := training.DefaultAdamConfig()
	cfg.LearningRate = r.LearningRate
	cfg.WeightDecay = r.WeightDecay
	return cfg
}

// MetricsPath is where a holdout run writes its metrics row
func (r Run) MetricsPath(modelID string) string {
	return filepath.Join(r.ResultsDir, modelID+"_metrics.csv")
}

// CrossValidationPath is where the fold report is written
func (r Run) CrossValidationPath() string {
	return filepath.Join(r.ResultsDir, "kfold_cv.csv")
}

// PartialCrossValidationPath receives the completed folds of a run that
// ended in error
func (r Run) PartialCrossValidationPath() string {
	return filepath.Join(r.ResultsDir, "kfold_cv.partial.csv")
}

// BiasPath is where the subgroup table is written
func (r Run) BiasPath() string {
	return filepath.Join(r.ResultsDir, "bias.csv")
}

// PlotsDir holds the plot documents
func (r Run) PlotsDir() string {
	return filepath.Join(r.ResultsDir, "plots")
}

func knownModel(id string) bool {
	for _, known := range models.IDs() {
		if strings.EqualFold(id, known) {
			return true
		}
	}
	return false
}

// envReader applies EMOTION_* overrides and keeps the first parse error
type envReader struct {
	lookup func(string) (string, bool)
	err    error
}

func (e *envReader) get(key string) (string, bool) {
	if e.err != nil {
		return "", false
	}
	v, ok := e.lookup(EnvPrefix + key)
	if !ok || strings.TrimSpace(v) == "" {
		return "", false
	}
	return strings.TrimSpace(v), true
}

func (e *envReader) fail(key, value string, err error) {
	e.err = training.NewConfigurationError(strings.ToLower(key), "invalid %s%s=%q: %v", EnvPrefix, key, value, err)
}

func (e *envReader) setString(key string, dst *string) {
	if v, ok := e.get(key); ok {
		*dst = v
	}
}

func (e *envReader) setInt(key string, dst *int) {
	if v, ok := e.get(key); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) setInt64(key string, dst *int64) {
	if v, ok := e.get(key); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) setFloat(key string, dst *float64) {
	if v, ok := e.get(key); ok {
		n, err := strconv.ParseFloat(v, 64)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = n
	}
}

func (e *envReader) setBool(key string, dst *bool) {
	if v, ok := e.get(key); ok {
		b, err := strconv.ParseBool(v)
		if err != nil {
			e.fail(key, v, err)
			return
		}
		*dst = b
	}
}
