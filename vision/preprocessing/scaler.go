package preprocessing

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// ScalerState is the per-feature mean and scale learned by Fit
type ScalerState struct {
	Mean  []float64
	Scale []float64
}

// StandardScaler standardizes features to zero mean and unit variance
type StandardScaler struct{}

// Fit computes the population mean and standard deviation of every column.
// Constant columns keep a scale of 1.
func (StandardScaler) Fit(x mat.Matrix) (ScalerState, error) {
	rows, cols := x.Dims()
	if rows == 0 {
		return ScalerState{}, fmt.Errorf("cannot fit scaler on zero samples")
	}

	state := ScalerState{Mean: make([]float64, cols), Scale: make([]float64, cols)}
	column := make([]float64, rows)
	for j := 0; j < cols; j++ {
		mat.Col(column, j, x)
		mean, std := stat.PopMeanStdDev(column, nil)
		state.Mean[j] = mean
		if std == 0 {
			std = 1
		}
		state.Scale[j] = std
	}
	return state, nil
}

// Transform returns (x - mean) / scale as a new matrix
func (StandardScaler) Transform(state ScalerState, x mat.Matrix) (*mat.Dense, error) {
	rows, cols := x.Dims()
	if cols != len(state.Mean) {
		return nil, fmt.Errorf("scaler fitted on %d features, got %d", len(state.Mean), cols)
	}
	if rows == 0 {
		return nil, fmt.Errorf("cannot transform zero samples")
	}

	out := mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			out.Set(i, j, (x.At(i, j)-state.Mean[j])/state.Scale[j])
		}
	}
	return out, nil
}

// FitTransform fits on x and returns the scaled copy
func (s StandardScaler) FitTransform(x mat.Matrix) (ScalerState, *mat.Dense, error) {
	state, err := s.Fit(x)
	if err != nil {
		return ScalerState{}, nil, err
	}
	out, err := s.Transform(state, x)
	return state, out, err
}
