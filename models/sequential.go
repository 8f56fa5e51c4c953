package models

import (
	"fmt"
	"math/rand"
	"strings"

	"github.com/tsawler/go-emotion/training"
	"gonum.org/v1/gonum/mat"
)

// Sequential chains layers into a training.Module
type Sequential struct {
	name       string
	inputSize  int
	layers     []Layer
	parameters []*training.Parameter
	training   bool
	forwarded  bool
}

func (s *Sequential) Name() string { return s.name }

// Forward runs every layer in order
func (s *Sequential) Forward(input *mat.Dense) (*mat.Dense, error) {
	if _, cols := input.Dims(); cols != s.inputSize {
		return nil, fmt.Errorf("%s: expected %d input features, got %d", s.name, s.inputSize, cols)
	}
	out := input
	for _, layer := range s.layers {
		out = layer.Forward(out)
	}
	s.forwarded = true
	return out, nil
}

// Backward propagates gradOutput through the layers of the last Forward call
func (s *Sequential) Backward(gradOutput *mat.Dense) error {
	if !s.forwarded {
		return fmt.Errorf("%s: backward called before forward", s.name)
	}
	grad := gradOutput
	for i := len(s.layers) - 1; i >= 0; i-- {
		grad = s.layers[i].Backward(grad)
	}
	return nil
}

func (s *Sequential) Parameters() []*training.Parameter { return s.parameters }
func (s *Sequential) Train()                            { s.training = true }
func (s *Sequential) Eval()                             { s.training = false }
func (s *Sequential) IsTraining() bool                  { return s.training }

// Layers returns the layers in execution order
func (s *Sequential) Layers() []Layer {
	return s.layers
}

// Summary returns a human-readable model summary
func (s *Sequential) Summary() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Model Summary: %s\n", s.name)
	fmt.Fprintf(&b, "Input Features: %d\n", s.inputSize)
	fmt.Fprintf(&b, "Total Parameters: %d\n", training.CountParameters(s))
	fmt.Fprintf(&b, "Layers: %d\n\n", len(s.layers))

	size := s.inputSize
	for i, layer := range s.layers {
		out := layer.OutputSize(size)
		params := 0
		for _, p := range layer.Parameters() {
			shape := p.Shape()
			params += shape[0] * shape[1]
		}
		fmt.Fprintf(&b, "Layer %d: %s (%s)\n", i+1, layer.Name(), layer.Type())
		fmt.Fprintf(&b, "  Input:  [%d]\n", size)
		fmt.Fprintf(&b, "  Output: [%d]\n", out)
		fmt.Fprintf(&b, "  Params: %d\n\n", params)
		size = out
	}
	return b.String()
}

type layerSpec struct {
	kind LayerType
	name string
	size int
}

// Builder assembles a Sequential model layer by layer
type Builder struct {
	inputSize int
	specs     []layerSpec
}

// NewBuilder starts a model that takes inputSize features
func NewBuilder(inputSize int) *Builder {
	return &Builder{inputSize: inputSize}
}

// AddDense appends a fully connected layer
func (b *Builder) AddDense(outputSize int, name string) *Builder {
	b.specs = append(b.specs, layerSpec{kind: Dense, name: name, size: outputSize})
	return b
}

// AddReLU appends a ReLU activation
func (b *Builder) AddReLU(name string) *Builder {
	b.specs = append(b.specs, layerSpec{kind: ReLU, name: name})
	return b
}

// Build initializes the layers with weights drawn from seed
func (b *Builder) Build(name string, seed int64) (*Sequential, error) {
	if b.inputSize <= 0 {
		return nil, training.NewConfigurationError("input_dim", "must be positive, got %d", b.inputSize)
	}
	if len(b.specs) == 0 {
		return nil, fmt.Errorf("model %s has no layers", name)
	}

	rng := rand.New(rand.NewSource(seed))
	model := &Sequential{name: name, inputSize: b.inputSize, training: true}
	size := b.inputSize
	for _, spec := range b.specs {
		var layer Layer
		switch spec.kind {
		case Dense:
			if spec.size <= 0 {
				return nil, training.NewConfigurationError(spec.name, "output size must be positive, got %d", spec.size)
			}
			layer = NewDenseLayer(spec.name, size, spec.size, rng)
		case ReLU:
			layer = NewReLULayer(spec.name)
		default:
			return nil, fmt.Errorf("unsupported layer type %s", spec.kind)
		}
		size = layer.OutputSize(size)
		model.layers = append(model.layers, layer)
		model.parameters = append(model.parameters, layer.Parameters()...)
	}
	return model, nil
}
