package training

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// EpochResult is the sample-weighted loss and accuracy of one pass over a loader.
// Accuracy is a fraction in [0, 1].
type EpochResult struct {
	Loss     float64
	Accuracy float64
	Batches  int
	Samples  int
}

// EpochTrainer runs one full pass of parameter updates over the training data
type EpochTrainer interface {
	TrainEpoch(epoch int) (EpochResult, error)
}

// EpochEvaluator measures loss and accuracy without updating parameters
type EpochEvaluator interface {
	EvaluateEpoch(epoch int) (EpochResult, error)
}

// GradientEpochTrainer is the default EpochTrainer: forward, loss, backward
// and one optimizer step per batch.
type GradientEpochTrainer struct {
	model     Module
	optimizer Optimizer
	criterion Loss
	loader    *DataLoader
}

// NewGradientEpochTrainer binds a model, its optimizer, a loss and a loader
func NewGradientEpochTrainer(model Module, optimizer Optimizer, criterion Loss, loader *DataLoader) *GradientEpochTrainer {
	return &GradientEpochTrainer{
		model:     model,
		optimizer: optimizer,
		criterion: criterion,
		loader:    loader,
	}
}

// TrainEpoch runs one training epoch
func (g *GradientEpochTrainer) TrainEpoch(epoch int) (EpochResult, error) {
	g.model.Train()

	var totalLoss float64
	var totalCorrect, totalSamples, batchCount int

	err := g.loader.ForEach(func(batch *Batch) error {
		g.optimizer.ZeroGrad()

		output, err := g.model.Forward(batch.Features)
		if err != nil {
			return fmt.Errorf("forward pass failed: %w", err)
		}

		lossValue, grad, err := g.criterion.Forward(output, batch.Labels)
		if err != nil {
			return fmt.Errorf("loss computation failed: %w", err)
		}

		if err := g.model.Backward(grad); err != nil {
			return fmt.Errorf("backward pass failed: %w", err)
		}

		if err := g.optimizer.Step(); err != nil {
			return fmt.Errorf("optimizer step failed: %w", err)
		}

		n := batch.Size()
		totalLoss += lossValue * float64(n)
		totalSamples += n
		totalCorrect += countCorrect(output, batch.Labels)
		batchCount++
		return nil
	})
	if err != nil {
		return EpochResult{}, fmt.Errorf("training epoch %d: %w", epoch, err)
	}

	return summarize(totalLoss, totalCorrect, totalSamples, batchCount)
}

// LossEvaluator is the default EpochEvaluator
type LossEvaluator struct {
	model     Module
	criterion Loss
	loader    *DataLoader
}

// NewLossEvaluator binds a model, a loss and a loader
func NewLossEvaluator(model Module, criterion Loss, loader *DataLoader) *LossEvaluator {
	return &LossEvaluator{
		model:     model,
		criterion: criterion,
		loader:    loader,
	}
}

// EvaluateEpoch runs the model over the loader in evaluation mode
func (e *LossEvaluator) EvaluateEpoch(epoch int) (EpochResult, error) {
	e.model.Eval()

	var totalLoss float64
	var totalCorrect, totalSamples, batchCount int

	err := e.loader.ForEach(func(batch *Batch) error {
		output, err := e.model.Forward(batch.Features)
		if err != nil {
			return fmt.Errorf("validation forward pass failed: %w", err)
		}

		lossValue, _, err := e.criterion.Forward(output, batch.Labels)
		if err != nil {
			return fmt.Errorf("validation loss computation failed: %w", err)
		}

		n := batch.Size()
		totalLoss += lossValue * float64(n)
		totalSamples += n
		totalCorrect += countCorrect(output, batch.Labels)
		batchCount++
		return nil
	})
	if err != nil {
		return EpochResult{}, fmt.Errorf("validation epoch %d: %w", epoch, err)
	}

	return summarize(totalLoss, totalCorrect, totalSamples, batchCount)
}

// Predict runs the model in evaluation mode and returns the argmax class of
// every sample, in loader order. Pass an unshuffled loader when the
// predictions are compared against the split labels.
func Predict(model Module, loader *DataLoader) ([]int, error) {
	model.Eval()

	predictions := make([]int, 0, loader.NumSamples())
	err := loader.ForEach(func(batch *Batch) error {
		output, err := model.Forward(batch.Features)
		if err != nil {
			return fmt.Errorf("prediction forward pass failed: %w", err)
		}
		predictions = append(predictions, argmax(output)...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return predictions, nil
}

func countCorrect(output *mat.Dense, labels []int) int {
	correct := 0
	for i, predicted := range argmax(output) {
		if predicted == labels[i] {
			correct++
		}
	}
	return correct
}

func summarize(totalLoss float64, totalCorrect, totalSamples, batchCount int) (EpochResult, error) {
	if totalSamples == 0 {
		return EpochResult{}, fmt.Errorf("no samples in epoch")
	}

	avgLoss := totalLoss / float64(totalSamples)
	if math.IsNaN(avgLoss) || math.IsInf(avgLoss, 0) {
		return EpochResult{}, ErrNonFiniteLoss
	}

	return EpochResult{
		Loss:     avgLoss,
		Accuracy: float64(totalCorrect) / float64(totalSamples),
		Batches:  batchCount,
		Samples:  totalSamples,
	}, nil
}
