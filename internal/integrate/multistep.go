package integrate

import (
	"fmt"

	"github.com/dynoml/dyno/internal/blocks"
	"github.com/dynoml/dyno/internal/tensor"
)

// Adams-Bashforth output weights, oldest window entry first.
var abWeights = map[int][]float64{
	2: {-1.0 / 2, 3.0 / 2},
	3: {5.0 / 12, -16.0 / 12, 23.0 / 12},
	4: {-9.0 / 24, 37.0 / 24, -59.0 / 24, 55.0 / 24},
}

// AdamsBashforth integrates an autonomous derivative map with an explicit
// linear multi-step scheme: the new state combines the derivative evaluated
// at each of the last `order` states.
type AdamsBashforth struct {
	f     blocks.Block
	h     float64
	order int
}

// NewAdamsBashforth builds a multi-step integrator of the given order
// (2 to 4). The window size equals the order.
func NewAdamsBashforth(order int, f blocks.Block, h float64) (*AdamsBashforth, error) {
	if _, ok := abWeights[order]; !ok {
		return nil, fmt.Errorf("unsupported multi-step order: %d", order)
	}
	if f.InFeatures() != f.OutFeatures() {
		return nil, fmt.Errorf("autonomous derivative map must be square, got %d -> %d",
			f.InFeatures(), f.OutFeatures())
	}
	if h <= 0 {
		return nil, fmt.Errorf("step size must be positive, got %v", h)
	}
	return &AdamsBashforth{f: f, h: h, order: order}, nil
}

func (s *AdamsBashforth) OutFeatures() int  { return s.f.OutFeatures() }
func (s *AdamsBashforth) RegError() float64 { return s.f.RegError() }
func (s *AdamsBashforth) WindowSize() int   { return s.order }

// Step computes the next state from a window of the last `order` states,
// oldest first.
func (s *AdamsBashforth) Step(window *tensor.Series) (*tensor.Matrix, error) {
	return s.step(window, func(x *tensor.Matrix) (*tensor.Matrix, error) {
		return s.f.Forward(x)
	})
}

func (s *AdamsBashforth) step(window *tensor.Series,
	deriv func(x *tensor.Matrix) (*tensor.Matrix, error)) (*tensor.Matrix, error) {

	if window.Steps != s.order {
		return nil, fmt.Errorf("window holds %d states, scheme needs %d", window.Steps, s.order)
	}
	latest := window.Step(window.Steps - 1)
	out := latest.Clone()
	weights := abWeights[s.order]
	for i := 0; i < window.Steps; i++ {
		k, err := deriv(window.Step(i))
		if err != nil {
			return nil, err
		}
		if k.R != latest.R || k.C != latest.C {
			return nil, fmt.Errorf("derivative shape %v does not match state shape %v", k.Shape(), latest.Shape())
		}
		axpy(out, s.h*weights[i], k)
	}
	return out, nil
}

// ForcedAdamsBashforth is the non-autonomous multi-step form. The forcing
// and time samples are grid-point values; the same sample is applied to every
// window state's derivative evaluation, since no past forcing history is
// carried in the window.
type ForcedAdamsBashforth struct {
	inner AdamsBashforth
	nx    int
}

// NewForcedAdamsBashforth builds a forced multi-step integrator. The
// derivative map consumes nx state features plus the forcing width.
func NewForcedAdamsBashforth(order int, f blocks.Block, h float64) (*ForcedAdamsBashforth, error) {
	if _, ok := abWeights[order]; !ok {
		return nil, fmt.Errorf("unsupported multi-step order: %d", order)
	}
	nx := f.OutFeatures()
	if f.InFeatures() <= nx {
		return nil, fmt.Errorf("forced derivative map must consume state plus forcing, got %d -> %d",
			f.InFeatures(), nx)
	}
	if h <= 0 {
		return nil, fmt.Errorf("step size must be positive, got %v", h)
	}
	return &ForcedAdamsBashforth{
		inner: AdamsBashforth{f: f, h: h, order: order},
		nx:    nx,
	}, nil
}

func (s *ForcedAdamsBashforth) OutFeatures() int  { return s.nx }
func (s *ForcedAdamsBashforth) RegError() float64 { return s.inner.f.RegError() }
func (s *ForcedAdamsBashforth) WindowSize() int   { return s.inner.order }

// Step computes the next state from the state window and the current grid
// samples of the forcing input and the time coordinate.
func (s *ForcedAdamsBashforth) Step(window *tensor.Series, u, _ *tensor.Matrix) (*tensor.Matrix, error) {
	return s.inner.step(window, func(x *tensor.Matrix) (*tensor.Matrix, error) {
		return s.inner.f.Forward(tensor.ConcatCols(x, u))
	})
}
