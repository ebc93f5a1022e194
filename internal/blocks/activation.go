package blocks

import (
	"fmt"
	"math"
)

// Activation is an elementwise nonlinearity applied in place by MLP layers.
type Activation func(x float64) float64

func relu(x float64) float64 {
	if x < 0 {
		return 0
	}
	return x
}

func gelu(x float64) float64 {
	// tanh approximation
	return 0.5 * x * (1 + math.Tanh(math.Sqrt(2/math.Pi)*(x+0.044715*x*x*x)))
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

func elu(x float64) float64 {
	if x < 0 {
		return math.Exp(x) - 1
	}
	return x
}

var activations = map[string]Activation{
	"relu":    relu,
	"gelu":    gelu,
	"tanh":    math.Tanh,
	"sigmoid": sigmoid,
	"elu":     elu,
}

// ActivationByName resolves a named activation function.
func ActivationByName(name string) (Activation, error) {
	fn, ok := activations[name]
	if !ok {
		return nil, fmt.Errorf("unsupported activation: %s", name)
	}
	return fn, nil
}
