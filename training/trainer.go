package training

import (
	"fmt"
	"io"
	"math"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/tsawler/go-emotion/logger"
)

// StopState is the state of the early-stopping controller after an epoch
type StopState int

const (
	StateRunning    StopState = iota // No epoch evaluated yet
	StateConverged                   // Last epoch strictly improved validation loss
	StateStagnating                  // Last epoch did not improve, patience not exhausted
	StateStopped                     // Patience exhausted or epoch budget spent
)

func (s StopState) String() string {
	switch s {
	case StateRunning:
		return "RUNNING"
	case StateConverged:
		return "CONVERGED"
	case StateStagnating:
		return "STAGNATING"
	case StateStopped:
		return "STOPPED"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// TrainingConfig holds configuration for training. It is read-only once the
// Trainer has been built.
type TrainingConfig struct {
	Epochs   int                // Maximum number of epochs (0 runs nothing)
	Patience int                // Non-improving epochs tolerated before stopping
	Progress io.Writer          // Optional epoch progress bar output
	Logger   logrus.FieldLogger // Defaults to the package logger
}

// Validate checks the hyperparameters
func (c TrainingConfig) Validate() error {
	if c.Epochs < 0 {
		return NewConfigurationError("epochs", "must be >= 0, got %d", c.Epochs)
	}
	if c.Patience < 0 {
		return NewConfigurationError("patience", "must be >= 0, got %d", c.Patience)
	}
	return nil
}

// EpochRecord holds metrics for a single epoch. Records are never modified
// after they are appended to a History.
type EpochRecord struct {
	Epoch         int
	TrainLoss     float64
	TrainAccuracy float64
	ValidLoss     float64
	ValidAccuracy float64
	EpochDuration time.Duration
	State         StopState
}

// StoppingState is the mutable early-stopping bookkeeping of one run
type StoppingState struct {
	BestValidLoss float64
	BestEpoch     int
	Counter       int
	StopEpoch     int // Epoch that triggered early stopping, -1 if none
}

func newStoppingState() StoppingState {
	return StoppingState{
		BestValidLoss: math.Inf(1),
		BestEpoch:     -1,
		StopEpoch:     -1,
	}
}

// History is the per-epoch record of one training run
type History struct {
	Records       []EpochRecord
	StoppedEarly  bool
	StopEpoch     int
	BestEpoch     int
	BestValidLoss float64
}

// Len returns the number of epochs actually run
func (h *History) Len() int {
	return len(h.Records)
}

// Last returns the final epoch record and false when no epoch ran
func (h *History) Last() (EpochRecord, bool) {
	if len(h.Records) == 0 {
		return EpochRecord{}, false
	}
	return h.Records[len(h.Records)-1], true
}

// TrainLosses returns the training loss of every epoch
func (h *History) TrainLosses() []float64 {
	return h.series(func(r EpochRecord) float64 { return r.TrainLoss })
}

// TrainAccuracies returns the training accuracy of every epoch
func (h *History) TrainAccuracies() []float64 {
	return h.series(func(r EpochRecord) float64 { return r.TrainAccuracy })
}

// ValidLosses returns the validation loss of every epoch
func (h *History) ValidLosses() []float64 {
	return h.series(func(r EpochRecord) float64 { return r.ValidLoss })
}

// ValidAccuracies returns the validation accuracy of every epoch
func (h *History) ValidAccuracies() []float64 {
	return h.series(func(r EpochRecord) float64 { return r.ValidAccuracy })
}

func (h *History) series(get func(EpochRecord) float64) []float64 {
	out := make([]float64, len(h.Records))
	for i, r := range h.Records {
		out[i] = get(r)
	}
	return out
}

// Trainer is the early-stopping controller. It alternates one EpochTrainer
// pass with one EpochEvaluator pass and halts once validation loss has failed
// to improve on more than Patience consecutive epochs. Parameters are left as
// they were after the last epoch run; tracking the best model is up to the
// caller.
type Trainer struct {
	trainer   EpochTrainer
	evaluator EpochEvaluator
	config    TrainingConfig
	log       logrus.FieldLogger

	state    StopState
	stopping StoppingState
}

// NewTrainer creates a new Trainer over the two epoch collaborators
func NewTrainer(trainer EpochTrainer, evaluator EpochEvaluator, config TrainingConfig) (*Trainer, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if trainer == nil || evaluator == nil {
		return nil, fmt.Errorf("trainer and evaluator are required")
	}

	log := config.Logger
	if log == nil {
		log = logger.Log
	}

	return &Trainer{
		trainer:   trainer,
		evaluator: evaluator,
		config:    config,
		log:       log,
		state:     StateRunning,
		stopping:  newStoppingState(),
	}, nil
}

// NewSupervisedTrainer wires the default gradient trainer and loss evaluator
// for a model and its optimizer.
func NewSupervisedTrainer(model Module, optimizer Optimizer, criterion Loss, trainLoader, validLoader *DataLoader, config TrainingConfig) (*Trainer, error) {
	return NewTrainer(
		NewGradientEpochTrainer(model, optimizer, criterion, trainLoader),
		NewLossEvaluator(model, criterion, validLoader),
		config,
	)
}

// State returns the controller state after the last epoch
func (t *Trainer) State() StopState {
	return t.state
}

// Stopping returns a copy of the early-stopping bookkeeping
func (t *Trainer) Stopping() StoppingState {
	return t.stopping
}

// Train runs the complete training loop. On a collaborator failure the
// history of the epochs completed so far is returned with the error.
func (t *Trainer) Train() (*History, error) {
	t.state = StateRunning
	t.stopping = newStoppingState()
	history := &History{
		Records:       make([]EpochRecord, 0, t.config.Epochs),
		StopEpoch:     -1,
		BestEpoch:     -1,
		BestValidLoss: math.Inf(1),
	}

	var progress *ProgressBar
	if t.config.Progress != nil && t.config.Epochs > 0 {
		progress = NewProgressBar("epochs", t.config.Epochs, t.config.Progress)
	}

	for epoch := 0; epoch < t.config.Epochs; epoch++ {
		epochStart := time.Now()

		trainResult, err := t.trainer.TrainEpoch(epoch)
		if err != nil {
			return t.finish(history), fmt.Errorf("training epoch %d failed: %w", epoch, err)
		}

		validResult, err := t.evaluator.EvaluateEpoch(epoch)
		if err != nil {
			return t.finish(history), fmt.Errorf("validation epoch %d failed: %w", epoch, err)
		}

		stop := t.observe(epoch, validResult.Loss)

		record := EpochRecord{
			Epoch:         epoch,
			TrainLoss:     trainResult.Loss,
			TrainAccuracy: trainResult.Accuracy,
			ValidLoss:     validResult.Loss,
			ValidAccuracy: validResult.Accuracy,
			EpochDuration: time.Since(epochStart),
			State:         t.state,
		}
		history.Records = append(history.Records, record)

		t.log.WithFields(logrus.Fields{
			"epoch":          epoch + 1,
			"epochs":         t.config.Epochs,
			"train_loss":     record.TrainLoss,
			"train_accuracy": record.TrainAccuracy,
			"valid_loss":     record.ValidLoss,
			"valid_accuracy": record.ValidAccuracy,
			"state":          t.state.String(),
		}).Debug("epoch complete")

		if progress != nil {
			progress.Update(epoch+1, map[string]float64{
				"loss":    record.TrainLoss,
				"val_acc": record.ValidAccuracy,
			})
		}

		if stop {
			t.log.WithField("epoch", epoch).Info("Early stopping")
			break
		}
	}

	if progress != nil {
		progress.Finish()
	}
	if t.state != StateStopped {
		t.state = StateStopped
	}
	return t.finish(history), nil
}

// observe applies one validation loss to the stopping state and reports
// whether training must halt after this epoch.
func (t *Trainer) observe(epoch int, validLoss float64) bool {
	if validLoss < t.stopping.BestValidLoss {
		t.stopping.BestValidLoss = validLoss
		t.stopping.BestEpoch = epoch
		t.stopping.Counter = 0
		t.state = StateConverged
		return false
	}

	if t.stopping.Counter >= t.config.Patience {
		t.stopping.StopEpoch = epoch
		t.state = StateStopped
		return true
	}

	t.stopping.Counter++
	t.state = StateStagnating
	return false
}

func (t *Trainer) finish(history *History) *History {
	history.StoppedEarly = t.stopping.StopEpoch >= 0
	history.StopEpoch = t.stopping.StopEpoch
	history.BestEpoch = t.stopping.BestEpoch
	history.BestValidLoss = t.stopping.BestValidLoss
	return history
}
