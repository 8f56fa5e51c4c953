package training

import (
	"fmt"
	"math"
	"strings"
)

// LRScheduler maps an epoch to a learning rate. Schedulers are pure
// functions of the epoch and the base rate.
type LRScheduler interface {
	GetLR(epoch int, baseLR float64) float64
	GetName() string
}

// StepLRScheduler reduces learning rate by a factor every stepSize epochs
type StepLRScheduler struct {
	StepSize int     // Epochs between LR reductions
	Gamma    float64 // Multiplicative factor of LR decay
}

// NewStepLRScheduler creates a step learning rate scheduler
func NewStepLRScheduler(stepSize int, gamma float64) *StepLRScheduler {
	if stepSize <= 0 {
		stepSize = 30
	}
	if gamma <= 0 || gamma >= 1 {
		gamma = 0.1
	}
	return &StepLRScheduler{StepSize: stepSize, Gamma: gamma}
}

func (s *StepLRScheduler) GetLR(epoch int, baseLR float64) float64 {
	times := epoch / s.StepSize
	return baseLR * math.Pow(s.Gamma, float64(times))
}

func (s *StepLRScheduler) GetName() string {
	return "StepLR"
}

// ExponentialLRScheduler decays learning rate exponentially
type ExponentialLRScheduler struct {
	Gamma float64 // Multiplicative factor of LR decay per epoch
}

// NewExponentialLRScheduler creates an exponential learning rate scheduler
func NewExponentialLRScheduler(gamma float64) *ExponentialLRScheduler {
	if gamma <= 0 || gamma >= 1 {
		gamma = 0.95
	}
	return &ExponentialLRScheduler{Gamma: gamma}
}

func (s *ExponentialLRScheduler) GetLR(epoch int, baseLR float64) float64 {
	return baseLR * math.Pow(s.Gamma, float64(epoch))
}

func (s *ExponentialLRScheduler) GetName() string {
	return "ExponentialLR"
}

// CosineAnnealingLRScheduler implements cosine annealing schedule
type CosineAnnealingLRScheduler struct {
	TMax   int     // Maximum number of epochs
	EtaMin float64 // Minimum learning rate
}

// NewCosineAnnealingLRScheduler creates a cosine annealing scheduler
func NewCosineAnnealingLRScheduler(tMax int, etaMin float64) *CosineAnnealingLRScheduler {
	if tMax <= 0 {
		tMax = 100
	}
	if etaMin < 0 {
		etaMin = 0
	}
	return &CosineAnnealingLRScheduler{TMax: tMax, EtaMin: etaMin}
}

func (s *CosineAnnealingLRScheduler) GetLR(epoch int, baseLR float64) float64 {
	if epoch >= s.TMax {
		return s.EtaMin
	}
	return s.EtaMin + (baseLR-s.EtaMin)*(1+math.Cos(math.Pi*float64(epoch)/float64(s.TMax)))/2
}

func (s *CosineAnnealingLRScheduler) GetName() string {
	return "CosineAnnealingLR"
}

// ConstantScheduler keeps the base learning rate
type ConstantScheduler struct{}

func (s ConstantScheduler) GetLR(epoch int, baseLR float64) float64 {
	return baseLR
}

func (s ConstantScheduler) GetName() string {
	return "ConstantLR"
}

// ScheduleConfig selects a scheduler by name. Unused fields are ignored.
type ScheduleConfig struct {
	Name     string  `yaml:"name"` // constant, step, exponential or cosine
	StepSize int     `yaml:"step_size"`
	Gamma    float64 `yaml:"gamma"`
	EtaMin   float64 `yaml:"eta_min"`
}

// NewScheduler builds the scheduler named in cfg. maxEpochs bounds the
// cosine schedule.
func NewScheduler(cfg ScheduleConfig, maxEpochs int) (LRScheduler, error) {
	switch strings.ToLower(cfg.Name) {
	case "", "constant":
		return ConstantScheduler{}, nil
	case "step":
		return NewStepLRScheduler(cfg.StepSize, cfg.Gamma), nil
	case "exponential":
		return NewExponentialLRScheduler(cfg.Gamma), nil
	case "cosine":
		return NewCosineAnnealingLRScheduler(maxEpochs, cfg.EtaMin), nil
	default:
		return nil, NewConfigurationError("lr_schedule", "unknown scheduler %q", cfg.Name)
	}
}

// ScheduledEpochTrainer sets the optimizer learning rate from a scheduler
// before delegating each epoch.
type ScheduledEpochTrainer struct {
	inner     EpochTrainer
	optimizer Optimizer
	scheduler LRScheduler
	baseLR    float64
}

// NewScheduledEpochTrainer wraps inner. The optimizer's current learning
// rate becomes the base rate.
func NewScheduledEpochTrainer(inner EpochTrainer, optimizer Optimizer, scheduler LRScheduler) *ScheduledEpochTrainer {
	return &ScheduledEpochTrainer{
		inner:     inner,
		optimizer: optimizer,
		scheduler: scheduler,
		baseLR:    optimizer.GetLR(),
	}
}

// TrainEpoch applies the scheduled rate and runs the wrapped epoch
func (s *ScheduledEpochTrainer) TrainEpoch(epoch int) (EpochResult, error) {
	lr := s.scheduler.GetLR(epoch, s.baseLR)
	if lr <= 0 || math.IsNaN(lr) {
		return EpochResult{}, fmt.Errorf("%s produced invalid learning rate %v at epoch %d", s.scheduler.GetName(), lr, epoch)
	}
	s.optimizer.SetLR(lr)
	return s.inner.TrainEpoch(epoch)
}
