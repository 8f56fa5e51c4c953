package training

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Loss interface defines methods that all loss functions must implement.
// Forward returns the reduced loss and the gradient with respect to scores.
type Loss interface {
	Forward(scores *mat.Dense, labels []int) (float64, *mat.Dense, error)
}

// CrossEntropyLoss implements softmax cross entropy over integer class labels
type CrossEntropyLoss struct {
	reduction string // "mean" or "sum"
}

// NewCrossEntropyLoss creates a new cross entropy loss function
func NewCrossEntropyLoss(reduction string) *CrossEntropyLoss {
	if reduction == "" {
		reduction = "mean"
	}
	return &CrossEntropyLoss{reduction: reduction}
}

// Forward computes L = -log(softmax(scores)[label]) reduced over the batch
func (ce *CrossEntropyLoss) Forward(scores *mat.Dense, labels []int) (float64, *mat.Dense, error) {
	if err := checkBatch(scores, labels); err != nil {
		return 0, nil, err
	}

	batchSize, numClasses := scores.Dims()
	if batchSize == 0 {
		return 0, nil, fmt.Errorf("empty batch")
	}

	grad := mat.NewDense(batchSize, numClasses, nil)
	probs := make([]float64, numClasses)
	total := 0.0

	for i := 0; i < batchSize; i++ {
		label := labels[i]
		if label < 0 || label >= numClasses {
			return 0, nil, fmt.Errorf("label %d out of range [0, %d)", label, numClasses)
		}

		// Shift by the row max for numerical stability
		mat.Row(probs, i, scores)
		maxVal := floats.Max(probs)
		for j := range probs {
			probs[j] = math.Exp(probs[j] - maxVal)
		}
		floats.Scale(1/floats.Sum(probs), probs)

		total += -math.Log(math.Max(probs[label], 1e-12))

		probs[label] -= 1
		grad.SetRow(i, probs)
	}

	if ce.reduction == "mean" {
		total /= float64(batchSize)
		grad.Scale(1/float64(batchSize), grad)
	}

	if math.IsNaN(total) || math.IsInf(total, 0) {
		return total, grad, ErrNonFiniteLoss
	}

	return total, grad, nil
}

// Softmax converts a score matrix into row-wise probabilities
func Softmax(scores *mat.Dense) *mat.Dense {
	rows, cols := scores.Dims()
	out := mat.NewDense(rows, cols, nil)
	row := make([]float64, cols)
	for i := 0; i < rows; i++ {
		mat.Row(row, i, scores)
		maxVal := floats.Max(row)
		for j := range row {
			row[j] = math.Exp(row[j] - maxVal)
		}
		floats.Scale(1/floats.Sum(row), row)
		out.SetRow(i, row)
	}
	return out
}
