package ssm

import (
	"fmt"

	"github.com/dynoml/dyno/internal/blocks"
	"github.com/dynoml/dyno/internal/dataflow"
	"github.com/dynoml/dyno/internal/tensor"
)

// Stepper advances an autonomous continuous-time system by one discrete
// step. Implementations wrap a derivative map in a numerical integration
// scheme (see internal/integrate).
type Stepper interface {
	OutFeatures() int
	RegError() float64
	Step(x *tensor.Matrix) (*tensor.Matrix, error)
}

// ForcedStepper advances a non-autonomous system by one discrete step. u and
// t carry a window of one (grid-point evaluation) or two (interpolation
// between grid points) samples of the exogenous input and the time
// coordinate.
type ForcedStepper interface {
	OutFeatures() int
	RegError() float64
	Step(x *tensor.Matrix, u, t *tensor.Series) (*tensor.Matrix, error)
}

// MultiStepper computes one new state from a window of the last W states.
type MultiStepper interface {
	OutFeatures() int
	RegError() float64
	WindowSize() int
	Step(window *tensor.Series) (*tensor.Matrix, error)
}

// ForcedMultiStepper is the non-autonomous multi-step form; forcing and time
// samples are evaluated at grid points only.
type ForcedMultiStepper interface {
	OutFeatures() int
	RegError() float64
	WindowSize() int
	Step(window *tensor.Series, u, t *tensor.Matrix) (*tensor.Matrix, error)
}

// ODEAuto rolls out an autonomous ODE with a single-step integrator. No
// exogenous forcing: at each step x = integrator(x).
type ODEAuto struct {
	base
	fx Stepper
	fy blocks.Block
}

// NewODEAuto builds the model. An empty Name defaults to "dynamics".
func NewODEAuto(fx Stepper, fy blocks.Block, name string, inputKeyMap map[string]string) (*ODEAuto, error) {
	if fx == nil || fy == nil {
		return nil, fmt.Errorf("ode ssm: integrator and observation map are required")
	}
	if fy.InFeatures() != fx.OutFeatures() {
		return nil, fmt.Errorf("ode ssm: observation map input %d must match state dimension %d",
			fy.InFeatures(), fx.OutFeatures())
	}
	if name == "" {
		name = "dynamics"
	}
	ports, err := dataflow.NewPorts([]string{KeyX0, KeyYf}, []string{KeyRegError, KeyXPred, KeyYPred}, name, inputKeyMap)
	if err != nil {
		return nil, fmt.Errorf("ode ssm: %w", err)
	}
	return &ODEAuto{base: base{ports: ports}, fx: fx, fy: fy}, nil
}

func (m *ODEAuto) Forward(data dataflow.Bag) (dataflow.Bag, error) {
	yf, err := data.Series(m.ports.In(KeyYf))
	if err != nil {
		return nil, err
	}
	x, err := data.Matrix(m.ports.In(KeyX0))
	if err != nil {
		return nil, err
	}

	var X, Y []*tensor.Matrix
	for i := 0; i < yf.Steps; i++ {
		if x, err = m.fx.Step(x); err != nil {
			return nil, fmt.Errorf("integrator step %d: %w", i, err)
		}
		y, err := m.fy.Forward(x)
		if err != nil {
			return nil, fmt.Errorf("fy step %d: %w", i, err)
		}
		X = append(X, x)
		Y = append(Y, y)
	}

	out := dataflow.Bag{
		m.ports.Out(KeyRegError): tensor.Scalar(m.fx.RegError() + m.fy.RegError()),
	}
	stackInto(out, m.ports.Out(KeyXPred), X)
	stackInto(out, m.ports.Out(KeyYPred), Y)
	return out, nil
}

// ODENonAuto rolls out a non-autonomous ODE with a single-step integrator.
// In online mode the integrator receives the current and next grid samples of
// the exogenous input and the time coordinate, so it can interpolate between
// grid points; in offline mode it receives the current grid sample only.
type ODENonAuto struct {
	base
	fx          ForcedStepper
	fy          blocks.Block
	extraInputs []string
	online      bool
}

// NewODENonAuto builds the model. extraInputs name the exogenous forcing
// keys; when empty, the time grid itself is the forcing signal. An empty Name
// defaults to "dynamics".
func NewODENonAuto(fx ForcedStepper, fy blocks.Block, extraInputs []string, online bool,
	name string, inputKeyMap map[string]string) (*ODENonAuto, error) {
	if fx == nil || fy == nil {
		return nil, fmt.Errorf("ode ssm: integrator and observation map are required")
	}
	if fy.InFeatures() != fx.OutFeatures() {
		return nil, fmt.Errorf("ode ssm: observation map input %d must match state dimension %d",
			fy.InFeatures(), fx.OutFeatures())
	}
	if name == "" {
		name = "dynamics"
	}
	inKeys := append([]string{KeyX0, KeyYf, KeyTime}, extraInputs...)
	ports, err := dataflow.NewPorts(inKeys, []string{KeyRegError, KeyXPred, KeyYPred}, name, inputKeyMap)
	if err != nil {
		return nil, fmt.Errorf("ode ssm: %w", err)
	}
	return &ODENonAuto{
		base:        base{ports: ports},
		fx:          fx,
		fy:          fy,
		extraInputs: append([]string(nil), extraInputs...),
		online:      online,
	}, nil
}

func (m *ODENonAuto) Forward(data dataflow.Bag) (dataflow.Bag, error) {
	yf, err := data.Series(m.ports.In(KeyYf))
	if err != nil {
		return nil, err
	}
	x, err := data.Matrix(m.ports.In(KeyX0))
	if err != nil {
		return nil, err
	}
	timeGrid, err := data.Series(m.ports.In(KeyTime))
	if err != nil {
		return nil, err
	}
	inputs, err := forcing(data, m.ports, m.extraInputs, timeGrid)
	if err != nil {
		return nil, err
	}

	nsteps := yf.Steps
	var X, Y []*tensor.Matrix
	for i := 0; i < nsteps; i++ {
		var u, t *tensor.Series
		switch {
		case !m.online:
			u, t = inputs.Slice(i, i+1), timeGrid.Slice(i, i+1)
		case i < nsteps-1:
			u, t = inputs.Slice(i, i+2), timeGrid.Slice(i, i+2)
		default:
			// horizon boundary: extrapolate by repeating the last grid
			// sample so the final update is a constant-input step
			u = tensor.ConcatSteps(inputs.Slice(i, i+1), inputs.Slice(i, i+1))
			t = tensor.ConcatSteps(timeGrid.Slice(i, i+1), timeGrid.Slice(i, i+1))
		}
		if x, err = m.fx.Step(x, u, t); err != nil {
			return nil, fmt.Errorf("integrator step %d: %w", i, err)
		}
		y, err := m.fy.Forward(x)
		if err != nil {
			return nil, fmt.Errorf("fy step %d: %w", i, err)
		}
		X = append(X, x)
		Y = append(Y, y)
	}

	out := dataflow.Bag{
		m.ports.Out(KeyRegError): tensor.Scalar(m.fx.RegError() + m.fy.RegError()),
	}
	stackInto(out, m.ports.Out(KeyXPred), X)
	stackInto(out, m.ports.Out(KeyYPred), Y)
	return out, nil
}

// forcing concatenates the extra input sequences along the feature axis, or
// falls back to the time grid when none are declared.
func forcing(data dataflow.Bag, ports *dataflow.Ports, extraInputs []string, timeGrid *tensor.Series) (*tensor.Series, error) {
	if len(extraInputs) == 0 {
		return timeGrid, nil
	}
	series := make([]*tensor.Series, len(extraInputs))
	for k, key := range extraInputs {
		var err error
		if series[k], err = data.Series(ports.In(key)); err != nil {
			return nil, err
		}
	}
	if len(series) == 1 {
		return series[0], nil
	}
	steps := series[0].Steps
	stacked := make([]*tensor.Matrix, steps)
	for i := 0; i < steps; i++ {
		parts := make([]*tensor.Matrix, len(series))
		for k, s := range series {
			parts[k] = s.Step(i)
		}
		stacked[i] = tensor.ConcatCols(parts...)
	}
	return tensor.Stack(stacked), nil
}

// ODEAutoMultiStep rolls out an autonomous ODE with a multi-step integrator.
// State is a window of the last W values; each step computes one new state
// from the whole window, appends it and drops the oldest. The number of
// simulated steps is len(Yp) - W + 1.
type ODEAutoMultiStep struct {
	base
	fx MultiStepper
	fy blocks.Block
}

// NewODEAutoMultiStep builds the model. An empty Name defaults to "dynamics".
func NewODEAutoMultiStep(fx MultiStepper, fy blocks.Block, name string, inputKeyMap map[string]string) (*ODEAutoMultiStep, error) {
	if fx == nil || fy == nil {
		return nil, fmt.Errorf("ode ssm: integrator and observation map are required")
	}
	if fy.InFeatures() != fx.OutFeatures() {
		return nil, fmt.Errorf("ode ssm: observation map input %d must match state dimension %d",
			fy.InFeatures(), fx.OutFeatures())
	}
	if name == "" {
		name = "dynamics"
	}
	ports, err := dataflow.NewPorts([]string{KeyX0, KeyYf, KeyYp}, []string{KeyRegError, KeyXPred, KeyYPred}, name, inputKeyMap)
	if err != nil {
		return nil, fmt.Errorf("ode ssm: %w", err)
	}
	return &ODEAutoMultiStep{base: base{ports: ports}, fx: fx, fy: fy}, nil
}

func (m *ODEAutoMultiStep) Forward(data dataflow.Bag) (dataflow.Bag, error) {
	yp, err := data.Series(m.ports.In(KeyYp))
	if err != nil {
		return nil, err
	}
	window, err := multiStepWindow(data, m.ports.In(KeyX0), m.fx.WindowSize(), yp.Steps)
	if err != nil {
		return nil, err
	}

	nsteps := yp.Steps - window.Steps + 1
	var X, Y []*tensor.Matrix
	for i := 0; i < nsteps; i++ {
		x, err := m.fx.Step(window)
		if err != nil {
			return nil, fmt.Errorf("integrator step %d: %w", i, err)
		}
		y, err := m.fy.Forward(x)
		if err != nil {
			return nil, fmt.Errorf("fy step %d: %w", i, err)
		}
		X = append(X, x)
		Y = append(Y, y)
		window = slideWindow(window, x)
	}

	out := dataflow.Bag{
		m.ports.Out(KeyRegError): tensor.Scalar(m.fx.RegError() + m.fy.RegError()),
	}
	stackInto(out, m.ports.Out(KeyXPred), X)
	stackInto(out, m.ports.Out(KeyYPred), Y)
	return out, nil
}

// ODENonAutoMultiStep rolls out a non-autonomous ODE with a multi-step
// integrator. The flow map is evaluated at grid points only, so no online
// interpolation mode exists.
type ODENonAutoMultiStep struct {
	base
	fx          ForcedMultiStepper
	fy          blocks.Block
	extraInputs []string
}

// NewODENonAutoMultiStep builds the model. An empty Name defaults to
// "dynamics".
func NewODENonAutoMultiStep(fx ForcedMultiStepper, fy blocks.Block, extraInputs []string,
	name string, inputKeyMap map[string]string) (*ODENonAutoMultiStep, error) {
	if fx == nil || fy == nil {
		return nil, fmt.Errorf("ode ssm: integrator and observation map are required")
	}
	if fy.InFeatures() != fx.OutFeatures() {
		return nil, fmt.Errorf("ode ssm: observation map input %d must match state dimension %d",
			fy.InFeatures(), fx.OutFeatures())
	}
	if name == "" {
		name = "dynamics"
	}
	inKeys := append([]string{KeyX0, KeyYf, KeyYp, KeyTime}, extraInputs...)
	ports, err := dataflow.NewPorts(inKeys, []string{KeyRegError, KeyXPred, KeyYPred}, name, inputKeyMap)
	if err != nil {
		return nil, fmt.Errorf("ode ssm: %w", err)
	}
	return &ODENonAutoMultiStep{
		base:        base{ports: ports},
		fx:          fx,
		fy:          fy,
		extraInputs: append([]string(nil), extraInputs...),
	}, nil
}

func (m *ODENonAutoMultiStep) Forward(data dataflow.Bag) (dataflow.Bag, error) {
	yp, err := data.Series(m.ports.In(KeyYp))
	if err != nil {
		return nil, err
	}
	timeGrid, err := data.Series(m.ports.In(KeyTime))
	if err != nil {
		return nil, err
	}
	inputs, err := forcing(data, m.ports, m.extraInputs, timeGrid)
	if err != nil {
		return nil, err
	}
	window, err := multiStepWindow(data, m.ports.In(KeyX0), m.fx.WindowSize(), yp.Steps)
	if err != nil {
		return nil, err
	}

	nsteps := yp.Steps - window.Steps + 1
	var X, Y []*tensor.Matrix
	for i := 0; i < nsteps; i++ {
		x, err := m.fx.Step(window, inputs.Step(i), timeGrid.Step(i))
		if err != nil {
			return nil, fmt.Errorf("integrator step %d: %w", i, err)
		}
		y, err := m.fy.Forward(x)
		if err != nil {
			return nil, fmt.Errorf("fy step %d: %w", i, err)
		}
		X = append(X, x)
		Y = append(Y, y)
		window = slideWindow(window, x)
	}

	out := dataflow.Bag{
		m.ports.Out(KeyRegError): tensor.Scalar(m.fx.RegError() + m.fy.RegError()),
	}
	stackInto(out, m.ports.Out(KeyXPred), X)
	stackInto(out, m.ports.Out(KeyYPred), Y)
	return out, nil
}

// multiStepWindow reads the initial state window and validates it against the
// integrator's window size and the available horizon.
func multiStepWindow(data dataflow.Bag, key string, want, horizon int) (*tensor.Series, error) {
	window, err := data.Series(key)
	if err != nil {
		return nil, err
	}
	if window.Steps != want {
		return nil, fmt.Errorf("key %q: initial window holds %d steps, integrator needs %d", key, window.Steps, want)
	}
	if horizon < window.Steps {
		return nil, fmt.Errorf("reference horizon %d is shorter than the integrator window %d", horizon, window.Steps)
	}
	return window, nil
}

// slideWindow drops the oldest state and appends the newest, keeping the
// window length constant.
func slideWindow(window *tensor.Series, x *tensor.Matrix) *tensor.Series {
	return tensor.ConcatSteps(window.Slice(1, window.Steps), tensor.Stack([]*tensor.Matrix{x}))
}
