// Package integrate turns continuous-time derivative maps into discrete
// per-step state updates. Single-step schemes follow an explicit Runge-Kutta
// tableau; multi-step schemes are Adams-Bashforth over a fixed window of past
// states.
//
// Derivative maps are blocks.Block instances: autonomous forms consume the
// state alone, forced forms consume the state concatenated with the current
// exogenous input sample. The time grid is used only to place intra-step
// stage samples of the forcing signal.
package integrate

import (
	"fmt"

	"github.com/dynoml/dyno/internal/blocks"
	"github.com/dynoml/dyno/internal/tensor"
)

// tableau holds the coefficients of an explicit Runge-Kutta scheme.
type tableau struct {
	c []float64   // stage times as fractions of h
	a [][]float64 // stage combination weights, strictly lower triangular
	b []float64   // output weights
}

var schemes = map[string]tableau{
	"euler": {
		c: []float64{0},
		a: [][]float64{{}},
		b: []float64{1},
	},
	"rk2": { // explicit midpoint
		c: []float64{0, 0.5},
		a: [][]float64{{}, {0.5}},
		b: []float64{0, 1},
	},
	"rk4": {
		c: []float64{0, 0.5, 0.5, 1},
		a: [][]float64{{}, {0.5}, {0, 0.5}, {0, 0, 1}},
		b: []float64{1.0 / 6, 1.0 / 3, 1.0 / 3, 1.0 / 6},
	},
}

// Schemes lists the supported single-step scheme names.
func Schemes() []string {
	return []string{"euler", "rk2", "rk4"}
}

// SingleStep integrates an autonomous derivative map dx/dt = f(x) with a
// fixed step size.
type SingleStep struct {
	f   blocks.Block
	h   float64
	tab tableau
}

// NewSingleStep builds a single-step integrator. The derivative map must be
// square (state in, state derivative out).
func NewSingleStep(scheme string, f blocks.Block, h float64) (*SingleStep, error) {
	tab, ok := schemes[scheme]
	if !ok {
		return nil, fmt.Errorf("unsupported integration scheme: %s", scheme)
	}
	if f.InFeatures() != f.OutFeatures() {
		return nil, fmt.Errorf("autonomous derivative map must be square, got %d -> %d",
			f.InFeatures(), f.OutFeatures())
	}
	if h <= 0 {
		return nil, fmt.Errorf("step size must be positive, got %v", h)
	}
	return &SingleStep{f: f, h: h, tab: tab}, nil
}

func (s *SingleStep) OutFeatures() int  { return s.f.OutFeatures() }
func (s *SingleStep) RegError() float64 { return s.f.RegError() }

// Step advances the state by one step h.
func (s *SingleStep) Step(x *tensor.Matrix) (*tensor.Matrix, error) {
	return runStages(s.tab, s.h, x, func(xs *tensor.Matrix, _ float64) (*tensor.Matrix, error) {
		return s.f.Forward(xs)
	})
}

// ForcedSingleStep integrates a non-autonomous derivative map
// dx/dt = f(x, u(t)) with a fixed step size. The derivative map consumes the
// state concatenated with a forcing sample.
type ForcedSingleStep struct {
	f   blocks.Block
	h   float64
	nx  int
	tab tableau
}

// NewForcedSingleStep builds a forced single-step integrator. The derivative
// map consumes nx state features plus the forcing width and produces nx.
func NewForcedSingleStep(scheme string, f blocks.Block, h float64) (*ForcedSingleStep, error) {
	tab, ok := schemes[scheme]
	if !ok {
		return nil, fmt.Errorf("unsupported integration scheme: %s", scheme)
	}
	nx := f.OutFeatures()
	if f.InFeatures() <= nx {
		return nil, fmt.Errorf("forced derivative map must consume state plus forcing, got %d -> %d",
			f.InFeatures(), nx)
	}
	if h <= 0 {
		return nil, fmt.Errorf("step size must be positive, got %v", h)
	}
	return &ForcedSingleStep{f: f, h: h, nx: nx, tab: tab}, nil
}

func (s *ForcedSingleStep) OutFeatures() int  { return s.nx }
func (s *ForcedSingleStep) RegError() float64 { return s.f.RegError() }

// Step advances the state by one step h. u and t carry one grid sample for
// evaluation at the grid point, or two consecutive samples for linear
// interpolation at intra-step stage times.
func (s *ForcedSingleStep) Step(x *tensor.Matrix, u, t *tensor.Series) (*tensor.Matrix, error) {
	if u == nil || u.Steps < 1 || u.Steps > 2 {
		return nil, fmt.Errorf("forcing window must hold 1 or 2 samples")
	}
	return runStages(s.tab, s.h, x, func(xs *tensor.Matrix, frac float64) (*tensor.Matrix, error) {
		return s.f.Forward(tensor.ConcatCols(xs, sampleForcing(u, frac)))
	})
}

// runStages evaluates an explicit Runge-Kutta tableau. deriv receives the
// stage state and the stage time as a fraction of h.
func runStages(tab tableau, h float64, x *tensor.Matrix,
	deriv func(xs *tensor.Matrix, frac float64) (*tensor.Matrix, error)) (*tensor.Matrix, error) {

	ks := make([]*tensor.Matrix, len(tab.b))
	for i := range tab.b {
		xs := x.Clone()
		for j, w := range tab.a[i] {
			if w != 0 {
				axpy(xs, h*w, ks[j])
			}
		}
		k, err := deriv(xs, tab.c[i])
		if err != nil {
			return nil, err
		}
		if k.R != x.R || k.C != x.C {
			return nil, fmt.Errorf("derivative shape %v does not match state shape %v", k.Shape(), x.Shape())
		}
		ks[i] = k
	}
	out := x.Clone()
	for i, w := range tab.b {
		if w != 0 {
			axpy(out, h*w, ks[i])
		}
	}
	return out, nil
}

// sampleForcing returns the forcing sample at stage time frac in [0, 1]:
// linear interpolation when two grid samples are available, constant
// otherwise.
func sampleForcing(u *tensor.Series, frac float64) *tensor.Matrix {
	u0 := u.Step(0)
	if u.Steps < 2 || frac == 0 {
		return u0
	}
	u1 := u.Step(1)
	out := tensor.NewMatrix(u0.R, u0.C)
	for r := 0; r < u0.R; r++ {
		a, b, dst := u0.Row(r), u1.Row(r), out.Row(r)
		for j := range dst {
			dst[j] = (1-frac)*a[j] + frac*b[j]
		}
	}
	return out
}

// axpy computes dst += alpha * src element-wise.
func axpy(dst *tensor.Matrix, alpha float64, src *tensor.Matrix) {
	for r := 0; r < dst.R; r++ {
		d, s := dst.Row(r), src.Row(r)
		for j := range d {
			d[j] += alpha * s[j]
		}
	}
}
