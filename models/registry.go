package models

import (
	"sort"
	"strings"

	"github.com/tsawler/go-emotion/training"
)

// Model identifiers accepted by New
const (
	SoftmaxID = "softmax"
	MLPID     = "mlp"
	MainID    = "main" // The cross-validation model
)

// DefaultHiddenUnits is the width of the MLP hidden layer
const DefaultHiddenUnits = 128

type constructor func(inputDim, numClasses int, seed int64) (*Sequential, error)

var registry = map[string]constructor{
	SoftmaxID: NewSoftmaxRegression,
	MLPID:     NewMLP,
	MainID: func(inputDim, numClasses int, seed int64) (*Sequential, error) {
		m, err := NewMLP(inputDim, numClasses, seed)
		if err != nil {
			return nil, err
		}
		m.name = MainID
		return m, nil
	},
}

// New builds the model registered under id. The model's Name is id, which
// keeps checkpoint file names stable.
func New(id string, inputDim, numClasses int, seed int64) (training.Module, error) {
	build, ok := registry[strings.ToLower(id)]
	if !ok {
		return nil, training.NewConfigurationError("model", "unknown model %q (known: %s)", id, strings.Join(IDs(), ", "))
	}
	return build(inputDim, numClasses, seed)
}

// IDs lists the registered model identifiers
func IDs() []string {
	ids := make([]string, 0, len(registry))
	for id := range registry {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// NewSoftmaxRegression builds a linear classifier
func NewSoftmaxRegression(inputDim, numClasses int, seed int64) (*Sequential, error) {
	return NewBuilder(inputDim).
		AddDense(numClasses, "linear").
		Build(SoftmaxID, seed)
}

// NewMLP builds a classifier with one hidden ReLU layer
func NewMLP(inputDim, numClasses int, seed int64) (*Sequential, error) {
	return NewBuilder(inputDim).
		AddDense(DefaultHiddenUnits, "hidden").
		AddReLU("relu").
		AddDense(numClasses, "output").
		Build(MLPID, seed)
}
