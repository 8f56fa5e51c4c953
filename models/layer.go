package models

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/tsawler/go-emotion/training"
	"gonum.org/v1/gonum/mat"
)

// LayerType identifies the kind of a layer
type LayerType int

const (
	Dense LayerType = iota
	ReLU
)

func (lt LayerType) String() string {
	switch lt {
	case Dense:
		return "Dense"
	case ReLU:
		return "ReLU"
	default:
		return fmt.Sprintf("Unknown(%d)", int(lt))
	}
}

// Layer is one differentiable stage of a Sequential model
type Layer interface {
	Type() LayerType
	Name() string
	Forward(input *mat.Dense) *mat.Dense
	// Backward accumulates parameter gradients and returns dLoss/dInput
	Backward(gradOutput *mat.Dense) *mat.Dense
	Parameters() []*training.Parameter
	OutputSize(inputSize int) int
}

// DenseLayer computes X W + b
type DenseLayer struct {
	name   string
	weight *training.Parameter
	bias   *training.Parameter
	input  *mat.Dense
}

// NewDenseLayer creates a fully connected layer with Xavier uniform weights
// and zero bias
func NewDenseLayer(name string, inputSize, outputSize int, rng *rand.Rand) *DenseLayer {
	limit := math.Sqrt(6 / float64(inputSize+outputSize))
	w := mat.NewDense(inputSize, outputSize, nil)
	for i := 0; i < inputSize; i++ {
		for j := 0; j < outputSize; j++ {
			w.Set(i, j, (rng.Float64()*2-1)*limit)
		}
	}
	return &DenseLayer{
		name:   name,
		weight: training.NewParameter(name+".weight", w),
		bias:   training.NewParameter(name+".bias", mat.NewDense(1, outputSize, nil)),
	}
}

func (d *DenseLayer) Type() LayerType { return Dense }
func (d *DenseLayer) Name() string    { return d.name }

func (d *DenseLayer) Forward(input *mat.Dense) *mat.Dense {
	d.input = input
	rows, _ := input.Dims()
	_, cols := d.weight.Value.Dims()
	out := mat.NewDense(rows, cols, nil)
	out.Mul(input, d.weight.Value)
	bias := d.bias.Value.RawRowView(0)
	for i := 0; i < rows; i++ {
		row := out.RawRowView(i)
		for j := range row {
			row[j] += bias[j]
		}
	}
	return out
}

func (d *DenseLayer) Backward(gradOutput *mat.Dense) *mat.Dense {
	var gw mat.Dense
	gw.Mul(d.input.T(), gradOutput)
	d.weight.Grad.Add(d.weight.Grad, &gw)

	rows, cols := gradOutput.Dims()
	gb := d.bias.Grad.RawRowView(0)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			gb[j] += gradOutput.At(i, j)
		}
	}

	inRows, inCols := d.input.Dims()
	gradInput := mat.NewDense(inRows, inCols, nil)
	gradInput.Mul(gradOutput, d.weight.Value.T())
	return gradInput
}

func (d *DenseLayer) Parameters() []*training.Parameter {
	return []*training.Parameter{d.weight, d.bias}
}

func (d *DenseLayer) OutputSize(int) int {
	_, cols := d.weight.Value.Dims()
	return cols
}

// ReLULayer applies max(0, x) element-wise
type ReLULayer struct {
	name string
	mask *mat.Dense
}

// NewReLULayer creates a ReLU activation
func NewReLULayer(name string) *ReLULayer {
	return &ReLULayer{name: name}
}

func (r *ReLULayer) Type() LayerType { return ReLU }
func (r *ReLULayer) Name() string    { return r.name }

func (r *ReLULayer) Forward(input *mat.Dense) *mat.Dense {
	rows, cols := input.Dims()
	out := mat.NewDense(rows, cols, nil)
	r.mask = mat.NewDense(rows, cols, nil)
	for i := 0; i < rows; i++ {
		for j := 0; j < cols; j++ {
			if v := input.At(i, j); v > 0 {
				out.Set(i, j, v)
				r.mask.Set(i, j, 1)
			}
		}
	}
	return out
}

func (r *ReLULayer) Backward(gradOutput *mat.Dense) *mat.Dense {
	rows, cols := gradOutput.Dims()
	out := mat.NewDense(rows, cols, nil)
	out.MulElem(gradOutput, r.mask)
	return out
}

func (r *ReLULayer) Parameters() []*training.Parameter { return nil }
func (r *ReLULayer) OutputSize(inputSize int) int      { return inputSize }
