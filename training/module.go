package training

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Module is the trainable model seen by the training loop. Implementations
// cache whatever they need from the last Forward call so that Backward can
// accumulate gradients into their parameters.
type Module interface {
	Name() string                                 // Stable identifier used for checkpoint naming
	Forward(input *mat.Dense) (*mat.Dense, error) // [batch, features] -> [batch, classes] scores
	Backward(gradOutput *mat.Dense) error         // Accumulates dLoss/dParam for the last Forward
	Parameters() []*Parameter                     // Trainable parameters, in a stable order
	Train()                                       // Sets module to training mode
	Eval()                                        // Sets module to evaluation mode
	IsTraining() bool                             // Returns true if in training mode
}

// Parameter is a named trainable matrix and its accumulated gradient
type Parameter struct {
	Name  string
	Value *mat.Dense
	Grad  *mat.Dense
}

// NewParameter creates a parameter with a zeroed gradient of the same shape
func NewParameter(name string, value *mat.Dense) *Parameter {
	r, c := value.Dims()
	return &Parameter{
		Name:  name,
		Value: value,
		Grad:  mat.NewDense(r, c, nil),
	}
}

// ZeroGrad resets the accumulated gradient
func (p *Parameter) ZeroGrad() {
	p.Grad.Zero()
}

// Shape returns the parameter dimensions as [rows, cols]
func (p *Parameter) Shape() []int {
	r, c := p.Value.Dims()
	return []int{r, c}
}

// CountParameters returns the number of scalar weights in a module
func CountParameters(m Module) int {
	total := 0
	for _, p := range m.Parameters() {
		r, c := p.Value.Dims()
		total += r * c
	}
	return total
}

// argmax returns the column index of the largest value in each row
func argmax(scores *mat.Dense) []int {
	rows, cols := scores.Dims()
	out := make([]int, rows)
	for i := 0; i < rows; i++ {
		maxIdx := 0
		maxVal := scores.At(i, 0)
		for j := 1; j < cols; j++ {
			if v := scores.At(i, j); v > maxVal {
				maxVal = v
				maxIdx = j
			}
		}
		out[i] = maxIdx
	}
	return out
}

// checkBatch validates that the score matrix lines up with the labels
func checkBatch(scores *mat.Dense, labels []int) error {
	rows, _ := scores.Dims()
	if rows != len(labels) {
		return fmt.Errorf("batch size mismatch: scores %d, labels %d", rows, len(labels))
	}
	return nil
}
