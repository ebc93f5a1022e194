package ssm

import (
	"fmt"

	"github.com/dynoml/dyno/internal/blocks"
	"github.com/dynoml/dyno/internal/dataflow"
	"github.com/dynoml/dyno/internal/tensor"
)

// TimeDelayBlock simulates block-structured dynamics with fixed time delays:
// every channel's sub-map reads a flattened window of the last T+1 values of
// its channel instead of only the latest one:
//
//	x_{k+1} = fx(x_k, ..., x_{k-T}) o fu(u_k, ..., u_{k-T}) o fd(d_k, ..., d_{k-T}) o fe(x_k, ..., x_{k-T})
//	y_k     = fy(x_k, ..., x_{k-T})
//
// The caller supplies the first T+1 states as Xtd and, per enabled channel,
// a past prefix (Up, Dp) distinct from the simulated horizon.
type TimeDelayBlock struct {
	base
	fx, fy, fu, fd, fe blocks.Block
	xou, xod, xoe      Op
	residual           bool
	delay              int
	nx                 int
}

// NewTimeDelayBlock validates window dimensions and builds the model. Each
// enabled channel's sub-map must consume (T+1) times its channel width.
func NewTimeDelayBlock(cfg BlockConfig, delay int) (*TimeDelayBlock, error) {
	if delay < 0 {
		return nil, fmt.Errorf("time-delay ssm: delay must be >= 0, got %d", delay)
	}
	if cfg.FX == nil || cfg.FY == nil {
		return nil, fmt.Errorf("time-delay ssm: state transition and observation maps are required")
	}
	if cfg.FYU != nil {
		return nil, fmt.Errorf("time-delay ssm: input-observation channel is not supported")
	}
	window := delay + 1
	nx := cfg.FX.OutFeatures()
	if cfg.FX.InFeatures() != window*nx {
		return nil, fmt.Errorf("time-delay ssm: state transition must consume %d*%d features, got %d",
			window, nx, cfg.FX.InFeatures())
	}
	if cfg.FY.InFeatures() != window*nx {
		return nil, fmt.Errorf("time-delay ssm: observation map must consume %d*%d features, got %d",
			window, nx, cfg.FY.InFeatures())
	}
	if cfg.FU != nil {
		if cfg.FU.OutFeatures() != nx {
			return nil, fmt.Errorf("time-delay ssm: dimension mismatch between input map and state transition (%d != %d)",
				cfg.FU.OutFeatures(), nx)
		}
		if cfg.FU.InFeatures()%window != 0 {
			return nil, fmt.Errorf("time-delay ssm: input map width %d is not a multiple of the window %d",
				cfg.FU.InFeatures(), window)
		}
	}
	if cfg.FD != nil {
		if cfg.FD.OutFeatures() != nx {
			return nil, fmt.Errorf("time-delay ssm: dimension mismatch between disturbance map and state transition (%d != %d)",
				cfg.FD.OutFeatures(), nx)
		}
		if cfg.FD.InFeatures()%window != 0 {
			return nil, fmt.Errorf("time-delay ssm: disturbance map width %d is not a multiple of the window %d",
				cfg.FD.InFeatures(), window)
		}
	}
	if cfg.FE != nil && (cfg.FE.InFeatures() != window*nx || cfg.FE.OutFeatures() != nx) {
		return nil, fmt.Errorf("time-delay ssm: error map must be %d -> %d, got %d -> %d",
			window*nx, nx, cfg.FE.InFeatures(), cfg.FE.OutFeatures())
	}

	inKeys := []string{KeyXtd, KeyYf}
	outKeys := []string{KeyRegError, KeyXPred, KeyYPred}
	if cfg.FU != nil {
		inKeys = append(inKeys, KeyUf, KeyUp)
		outKeys = append(outKeys, KeyFU)
	}
	if cfg.FD != nil {
		inKeys = append(inKeys, KeyDf, KeyDp)
		outKeys = append(outKeys, KeyFD)
	}
	if cfg.FE != nil {
		outKeys = append(outKeys, KeyFE)
	}

	name := cfg.Name
	if name == "" {
		name = "block_ssm"
	}
	ports, err := dataflow.NewPorts(inKeys, outKeys, name, cfg.InputKeyMap)
	if err != nil {
		return nil, fmt.Errorf("time-delay ssm: %w", err)
	}

	return &TimeDelayBlock{
		base:     base{ports: ports},
		fx:       cfg.FX,
		fy:       cfg.FY,
		fu:       cfg.FU,
		fd:       cfg.FD,
		fe:       cfg.FE,
		xou:      orAdd(cfg.XoU),
		xod:      orAdd(cfg.XoD),
		xoe:      orAdd(cfg.XoE),
		residual: cfg.Residual,
		delay:    delay,
		nx:       nx,
	}, nil
}

// Delay returns the configured delay depth T.
func (m *TimeDelayBlock) Delay() int { return m.delay }

// Forward unrolls the delayed recurrence. The state buffer holds exactly T+1
// most-recent states throughout; each step drops the oldest and appends the
// newly computed state.
func (m *TimeDelayBlock) Forward(data dataflow.Bag) (dataflow.Bag, error) {
	yf, err := data.Series(m.ports.In(KeyYf))
	if err != nil {
		return nil, err
	}
	window, err := stateWindow(data, m.ports.In(KeyXtd), m.delay)
	if err != nil {
		return nil, err
	}

	nsteps := yf.Steps
	var utd, dtd *tensor.Series
	if m.fu != nil {
		if utd, err = pastFutureWindow(data, m.ports, KeyUp, KeyUf, m.delay); err != nil {
			return nil, err
		}
	}
	if m.fd != nil {
		if dtd, err = pastFutureWindow(data, m.ports, KeyDp, KeyDf, m.delay); err != nil {
			return nil, err
		}
	}

	var X, Y, FU, FD, FE []*tensor.Matrix
	for i := 0; i < nsteps; i++ {
		xPrev := window[len(window)-1]
		xDelayed := tensor.ConcatCols(window...)

		x, err := m.fx.Forward(xDelayed)
		if err != nil {
			return nil, fmt.Errorf("fx step %d: %w", i, err)
		}
		if m.fu != nil {
			fu, err := m.fu.Forward(flattenSteps(utd, i, i+m.delay+1))
			if err != nil {
				return nil, fmt.Errorf("fu step %d: %w", i, err)
			}
			x = m.xou(x, fu)
			FU = append(FU, fu)
		}
		if m.fd != nil {
			fd, err := m.fd.Forward(flattenSteps(dtd, i, i+m.delay+1))
			if err != nil {
				return nil, fmt.Errorf("fd step %d: %w", i, err)
			}
			x = m.xod(x, fd)
			FD = append(FD, fd)
		}
		if m.fe != nil {
			fe, err := m.fe.Forward(xDelayed)
			if err != nil {
				return nil, fmt.Errorf("fe step %d: %w", i, err)
			}
			x = m.xoe(x, fe)
			FE = append(FE, fe)
		}
		if m.residual {
			x = tensor.Add(x, xPrev)
		}

		// observation reads the pre-update window
		y, err := m.fy.Forward(xDelayed)
		if err != nil {
			return nil, fmt.Errorf("fy step %d: %w", i, err)
		}

		window = append(window[1:], x)
		X = append(X, x)
		Y = append(Y, y)
	}

	out := dataflow.Bag{
		m.ports.Out(KeyRegError): regSum(m.fx, m.fy, m.fu, m.fd, m.fe),
	}
	stackInto(out, m.ports.Out(KeyXPred), X)
	stackInto(out, m.ports.Out(KeyYPred), Y)
	stackInto(out, m.ports.Out(KeyFU), FU)
	stackInto(out, m.ports.Out(KeyFD), FD)
	stackInto(out, m.ports.Out(KeyFE), FE)
	return out, nil
}

// TimeDelayBlack simulates unstructured time-delayed dynamics:
//
//	x_{k+1} = fx(x_k, ..., x_{k-T}, u_k, ..., u_{k-T}, d_k, ..., d_{k-T}) o fe(x_k, ..., x_{k-T})
//	y_k     = fy(x_k, ..., x_{k-T})
type TimeDelayBlack struct {
	base
	fx, fy, fe       blocks.Block
	xoe              Op
	delay            int
	nx               int
	inputs, disturbs bool
}

// TimeDelayBlackConfig assembles an unstructured time-delayed model. The
// WithInputs and WithDisturbances switches declare which forcing channels the
// transition map consumes; the corresponding past/future keys become part of
// the port signature.
type TimeDelayBlackConfig struct {
	FX, FY           blocks.Block
	FE               blocks.Block
	XoE              Op
	Delay            int
	WithInputs       bool
	WithDisturbances bool
	Name             string
	InputKeyMap      map[string]string
}

// NewTimeDelayBlack validates window dimensions and builds the model.
func NewTimeDelayBlack(cfg TimeDelayBlackConfig) (*TimeDelayBlack, error) {
	if cfg.Delay < 0 {
		return nil, fmt.Errorf("time-delay ssm: delay must be >= 0, got %d", cfg.Delay)
	}
	if cfg.FX == nil || cfg.FY == nil {
		return nil, fmt.Errorf("time-delay ssm: state transition and observation maps are required")
	}
	window := cfg.Delay + 1
	nx := cfg.FX.OutFeatures()
	if cfg.FY.InFeatures() != window*nx {
		return nil, fmt.Errorf("time-delay ssm: observation map must consume %d*%d features, got %d",
			window, nx, cfg.FY.InFeatures())
	}
	if cfg.FE != nil && (cfg.FE.InFeatures() != window*nx || cfg.FE.OutFeatures() != nx) {
		return nil, fmt.Errorf("time-delay ssm: error map must be %d -> %d, got %d -> %d",
			window*nx, nx, cfg.FE.InFeatures(), cfg.FE.OutFeatures())
	}

	inKeys := []string{KeyXtd, KeyYf}
	if cfg.WithInputs {
		inKeys = append(inKeys, KeyUf, KeyUp)
	}
	if cfg.WithDisturbances {
		inKeys = append(inKeys, KeyDf, KeyDp)
	}
	outKeys := []string{KeyRegError, KeyXPred, KeyYPred}
	if cfg.FE != nil {
		outKeys = append(outKeys, KeyFE)
	}

	name := cfg.Name
	if name == "" {
		name = "black_ssm"
	}
	ports, err := dataflow.NewPorts(inKeys, outKeys, name, cfg.InputKeyMap)
	if err != nil {
		return nil, fmt.Errorf("time-delay ssm: %w", err)
	}

	return &TimeDelayBlack{
		base:     base{ports: ports},
		fx:       cfg.FX,
		fy:       cfg.FY,
		fe:       cfg.FE,
		xoe:      orAdd(cfg.XoE),
		delay:    cfg.Delay,
		nx:       nx,
		inputs:   cfg.WithInputs,
		disturbs: cfg.WithDisturbances,
	}, nil
}

// Forward unrolls the delayed unstructured recurrence.
func (m *TimeDelayBlack) Forward(data dataflow.Bag) (dataflow.Bag, error) {
	yf, err := data.Series(m.ports.In(KeyYf))
	if err != nil {
		return nil, err
	}
	window, err := stateWindow(data, m.ports.In(KeyXtd), m.delay)
	if err != nil {
		return nil, err
	}

	nsteps := yf.Steps
	var utd, dtd *tensor.Series
	if m.inputs {
		if utd, err = pastFutureWindow(data, m.ports, KeyUp, KeyUf, m.delay); err != nil {
			return nil, err
		}
	}
	if m.disturbs {
		if dtd, err = pastFutureWindow(data, m.ports, KeyDp, KeyDf, m.delay); err != nil {
			return nil, err
		}
	}

	var X, Y, FE []*tensor.Matrix
	for i := 0; i < nsteps; i++ {
		xDelayed := tensor.ConcatCols(window...)
		features := xDelayed
		if m.inputs {
			features = tensor.ConcatCols(features, flattenSteps(utd, i, i+m.delay+1))
		}
		if m.disturbs {
			features = tensor.ConcatCols(features, flattenSteps(dtd, i, i+m.delay+1))
		}

		x, err := m.fx.Forward(features)
		if err != nil {
			return nil, fmt.Errorf("fx step %d: %w", i, err)
		}
		if m.fe != nil {
			fe, err := m.fe.Forward(xDelayed)
			if err != nil {
				return nil, fmt.Errorf("fe step %d: %w", i, err)
			}
			x = m.xoe(x, fe)
			FE = append(FE, fe)
		}

		y, err := m.fy.Forward(xDelayed)
		if err != nil {
			return nil, fmt.Errorf("fy step %d: %w", i, err)
		}

		window = append(window[1:], x)
		X = append(X, x)
		Y = append(Y, y)
	}

	out := dataflow.Bag{
		m.ports.Out(KeyRegError): regSum(m.fx, m.fy, m.fe),
	}
	stackInto(out, m.ports.Out(KeyXPred), X)
	stackInto(out, m.ports.Out(KeyYPred), Y)
	stackInto(out, m.ports.Out(KeyFE), FE)
	return out, nil
}

// stateWindow reads the caller-supplied T+1 state window into a slice of
// per-step matrices.
func stateWindow(data dataflow.Bag, key string, delay int) ([]*tensor.Matrix, error) {
	xtd, err := data.Series(key)
	if err != nil {
		return nil, err
	}
	if xtd.Steps != delay+1 {
		return nil, fmt.Errorf("key %q: state window holds %d steps, want %d", key, xtd.Steps, delay+1)
	}
	window := make([]*tensor.Matrix, xtd.Steps)
	for i := range window {
		window[i] = xtd.Step(i)
	}
	return window, nil
}

// pastFutureWindow concatenates the last T samples of the past prefix with
// the simulated-horizon samples, so that slice [i, i+T+1) is the channel's
// delay window at step i.
func pastFutureWindow(data dataflow.Bag, ports *dataflow.Ports, pastKey, futureKey string, delay int) (*tensor.Series, error) {
	future, err := data.Series(ports.In(futureKey))
	if err != nil {
		return nil, err
	}
	past, err := data.Series(ports.In(pastKey))
	if err != nil {
		return nil, err
	}
	if past.Steps < delay {
		return nil, fmt.Errorf("key %q: past prefix holds %d steps, want at least %d", ports.In(pastKey), past.Steps, delay)
	}
	if delay == 0 {
		return future, nil
	}
	return tensor.ConcatSteps(past.Slice(past.Steps-delay, past.Steps), future), nil
}

// flattenSteps concatenates steps [from, to) of a series along the feature
// axis.
func flattenSteps(s *tensor.Series, from, to int) *tensor.Matrix {
	steps := make([]*tensor.Matrix, 0, to-from)
	for i := from; i < to; i++ {
		steps = append(steps, s.Step(i))
	}
	return tensor.ConcatCols(steps...)
}
