package checkpoints

import (
	"fmt"

	"github.com/tsawler/go-emotion/training"
)

// FromModule snapshots the parameters of a module. The weights are copied,
// so later training does not change the checkpoint.
func FromModule(m training.Module, state TrainingState) *Checkpoint {
	params := m.Parameters()
	weights := make([]WeightTensor, len(params))
	for i, p := range params {
		raw := p.Value.RawMatrix()
		data := make([]float64, 0, raw.Rows*raw.Cols)
		for r := 0; r < raw.Rows; r++ {
			data = append(data, raw.Data[r*raw.Stride:r*raw.Stride+raw.Cols]...)
		}
		weights[i] = WeightTensor{
			Name:  p.Name,
			Shape: p.Shape(),
			Data:  data,
		}
	}

	return &Checkpoint{
		ModelName:     m.Name(),
		Weights:       weights,
		TrainingState: state,
	}
}

// Restore copies checkpoint weights into a module. Parameter names and
// shapes must match one to one.
func Restore(m training.Module, checkpoint *Checkpoint) error {
	params := m.Parameters()
	if len(params) != len(checkpoint.Weights) {
		return fmt.Errorf("checkpoint has %d weights, model %s has %d parameters", len(checkpoint.Weights), m.Name(), len(params))
	}

	for i, p := range params {
		w := checkpoint.Weights[i]
		shape := p.Shape()
		if w.Name != p.Name || len(w.Shape) != 2 || w.Shape[0] != shape[0] || w.Shape[1] != shape[1] {
			return fmt.Errorf("weight %d: checkpoint %s%v does not match parameter %s%v", i, w.Name, w.Shape, p.Name, shape)
		}
		if len(w.Data) != shape[0]*shape[1] {
			return fmt.Errorf("weight %s: %d values for shape %v", w.Name, len(w.Data), shape)
		}
	}

	for i, p := range params {
		w := checkpoint.Weights[i]
		for r := 0; r < w.Shape[0]; r++ {
			p.Value.SetRow(r, w.Data[r*w.Shape[1]:(r+1)*w.Shape[1]])
		}
	}
	return nil
}
