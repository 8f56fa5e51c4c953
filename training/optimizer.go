package training

import (
	"fmt"
	"math"
	"sync"

	"gonum.org/v1/gonum/mat"
)

// Optimizer interface defines the methods that all optimizers must implement.
// An optimizer is bound to the parameter set of exactly one Module.
type Optimizer interface {
	Step() error      // Updates model parameters based on gradients
	ZeroGrad()        // Resets gradients to zero for all parameters
	GetLR() float64   // Gets current learning rate
	SetLR(lr float64) // Sets learning rate
}

// AdamConfig holds configuration for the Adam optimizer
type AdamConfig struct {
	LearningRate float64
	Beta1        float64
	Beta2        float64
	Epsilon      float64
	WeightDecay  float64 // L2 penalty added to the gradient
}

// DefaultAdamConfig returns default Adam optimizer configuration
func DefaultAdamConfig() AdamConfig {
	return AdamConfig{
		LearningRate: 0.001,
		Beta1:        0.9,
		Beta2:        0.999,
		Epsilon:      1e-8,
		WeightDecay:  0.0,
	}
}

// Adam implements the Adam optimizer with coupled L2 weight decay
type Adam struct {
	parameters []*Parameter
	config     AdamConfig
	momentum   map[*Parameter]*mat.Dense
	variance   map[*Parameter]*mat.Dense
	stepCount  int
	mutex      sync.Mutex
}

// NewAdam creates a new Adam optimizer over the given parameters
func NewAdam(parameters []*Parameter, config AdamConfig) (*Adam, error) {
	if len(parameters) == 0 {
		return nil, fmt.Errorf("no parameters provided")
	}
	if config.LearningRate <= 0 {
		return nil, NewConfigurationError("lr", "must be positive, got %g", config.LearningRate)
	}
	if config.WeightDecay < 0 {
		return nil, NewConfigurationError("wd", "must be non-negative, got %g", config.WeightDecay)
	}
	if config.Beta1 == 0 && config.Beta2 == 0 {
		config.Beta1, config.Beta2 = 0.9, 0.999
	}
	if config.Epsilon == 0 {
		config.Epsilon = 1e-8
	}

	adam := &Adam{
		parameters: parameters,
		config:     config,
		momentum:   make(map[*Parameter]*mat.Dense, len(parameters)),
		variance:   make(map[*Parameter]*mat.Dense, len(parameters)),
	}
	for _, p := range parameters {
		r, c := p.Value.Dims()
		adam.momentum[p] = mat.NewDense(r, c, nil)
		adam.variance[p] = mat.NewDense(r, c, nil)
	}
	return adam, nil
}

// Step performs a single optimization step
func (a *Adam) Step() error {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	a.stepCount++
	b1, b2 := a.config.Beta1, a.config.Beta2
	bias1 := 1 - math.Pow(b1, float64(a.stepCount))
	bias2 := 1 - math.Pow(b2, float64(a.stepCount))

	for _, p := range a.parameters {
		m := a.momentum[p]
		v := a.variance[p]
		rows, cols := p.Value.Dims()

		for i := 0; i < rows; i++ {
			for j := 0; j < cols; j++ {
				w := p.Value.At(i, j)
				g := p.Grad.At(i, j) + a.config.WeightDecay*w
				if math.IsNaN(g) || math.IsInf(g, 0) {
					return fmt.Errorf("parameter %s: non-finite gradient at (%d, %d)", p.Name, i, j)
				}

				mt := b1*m.At(i, j) + (1-b1)*g
				vt := b2*v.At(i, j) + (1-b2)*g*g
				m.Set(i, j, mt)
				v.Set(i, j, vt)

				mHat := mt / bias1
				vHat := vt / bias2
				p.Value.Set(i, j, w-a.config.LearningRate*mHat/(math.Sqrt(vHat)+a.config.Epsilon))
			}
		}
	}
	return nil
}

// ZeroGrad resets gradients to zero for all parameters
func (a *Adam) ZeroGrad() {
	for _, p := range a.parameters {
		p.ZeroGrad()
	}
}

// GetLR returns the current learning rate
func (a *Adam) GetLR() float64 {
	return a.config.LearningRate
}

// SetLR sets the learning rate
func (a *Adam) SetLR(lr float64) {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	a.config.LearningRate = lr
}

// SGD implements Stochastic Gradient Descent with momentum and weight decay
type SGD struct {
	parameters   []*Parameter
	learningRate float64
	momentum     float64
	weightDecay  float64
	velocities   map[*Parameter]*mat.Dense
	mutex        sync.Mutex
}

// NewSGD creates a new SGD optimizer
func NewSGD(parameters []*Parameter, lr, momentum, weightDecay float64) *SGD {
	sgd := &SGD{
		parameters:   parameters,
		learningRate: lr,
		momentum:     momentum,
		weightDecay:  weightDecay,
		velocities:   make(map[*Parameter]*mat.Dense),
	}
	if momentum > 0 {
		for _, p := range parameters {
			r, c := p.Value.Dims()
			sgd.velocities[p] = mat.NewDense(r, c, nil)
		}
	}
	return sgd
}

// Step performs a single optimization step
func (sgd *SGD) Step() error {
	sgd.mutex.Lock()
	defer sgd.mutex.Unlock()

	for _, p := range sgd.parameters {
		grad := mat.DenseCopyOf(p.Grad)

		// grad = grad + weight_decay * param
		if sgd.weightDecay > 0 {
			var decay mat.Dense
			decay.Scale(sgd.weightDecay, p.Value)
			grad.Add(grad, &decay)
		}

		// velocity = momentum * velocity + grad
		if sgd.momentum > 0 {
			velocity := sgd.velocities[p]
			velocity.Scale(sgd.momentum, velocity)
			velocity.Add(velocity, grad)
			grad = velocity
		}

		var update mat.Dense
		update.Scale(sgd.learningRate, grad)
		p.Value.Sub(p.Value, &update)
	}
	return nil
}

// ZeroGrad resets gradients to zero for all parameters
func (sgd *SGD) ZeroGrad() {
	for _, p := range sgd.parameters {
		p.ZeroGrad()
	}
}

// GetLR returns the current learning rate
func (sgd *SGD) GetLR() float64 {
	return sgd.learningRate
}

// SetLR sets the learning rate
func (sgd *SGD) SetLR(lr float64) {
	sgd.mutex.Lock()
	defer sgd.mutex.Unlock()
	sgd.learningRate = lr
}
