package ssm

import (
	"fmt"

	"github.com/dynoml/dyno/internal/blocks"
	"github.com/dynoml/dyno/internal/dataflow"
	"github.com/dynoml/dyno/internal/tensor"
)

// BlackConfig assembles an unstructured state-space model. ExtraInputs lists
// additional input keys whose per-step samples are concatenated with the
// state before the transition map is applied; the set is fixed at
// construction. An empty Name defaults to "black_ssm".
type BlackConfig struct {
	FX, FY      blocks.Block
	FE, FYU     blocks.Block
	XoE, XoYU   Op
	ExtraInputs []string
	Name        string
	InputKeyMap map[string]string
}

// Black simulates unstructured system dynamics:
//
//	x_{t+1} = fx([x_t, u_t, d_t, ...]) o fe(x_t)
//	y_t     = fy(x_t) o fyu([x_t, u_t, d_t, ...])
type Black struct {
	base
	fx, fy, fe, fyu blocks.Block
	xoe, xoyu       Op
	extraInputs     []string
	nx, ny          int
}

// NewBlack validates sub-map dimensions and builds the model.
func NewBlack(cfg BlackConfig) (*Black, error) {
	if cfg.FX == nil || cfg.FY == nil {
		return nil, fmt.Errorf("black ssm: state transition and observation maps are required")
	}
	nx := cfg.FX.OutFeatures()
	if cfg.FY.InFeatures() != nx {
		return nil, fmt.Errorf("black ssm: observation map input %d must match state dimension %d",
			cfg.FY.InFeatures(), nx)
	}
	if cfg.FE != nil && (cfg.FE.InFeatures() != nx || cfg.FE.OutFeatures() != nx) {
		return nil, fmt.Errorf("black ssm: error map must be %d -> %d, got %d -> %d",
			nx, nx, cfg.FE.InFeatures(), cfg.FE.OutFeatures())
	}
	if cfg.FYU != nil && cfg.FYU.OutFeatures() != cfg.FY.OutFeatures() {
		return nil, fmt.Errorf("black ssm: input-observation map output %d must match observation dimension %d",
			cfg.FYU.OutFeatures(), cfg.FY.OutFeatures())
	}

	inKeys := append([]string{KeyX0, KeyYf}, cfg.ExtraInputs...)
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
		return nil, fmt.Errorf("black ssm: %w", err)
	}

	return &Black{
		base:        base{ports: ports},
		fx:          cfg.FX,
		fy:          cfg.FY,
		fe:          cfg.FE,
		fyu:         cfg.FYU,
		xoe:         orAdd(cfg.XoE),
		xoyu:        orAdd(cfg.XoYU),
		extraInputs: append([]string(nil), cfg.ExtraInputs...),
		nx:          nx,
		ny:          cfg.FY.OutFeatures(),
	}, nil
}

// Forward unrolls the recurrence over the horizon defined by the reference
// sequence.
func (m *Black) Forward(data dataflow.Bag) (dataflow.Bag, error) {
	yf, err := data.Series(m.ports.In(KeyYf))
	if err != nil {
		return nil, err
	}
	x, err := data.Matrix(m.ports.In(KeyX0))
	if err != nil {
		return nil, err
	}

	extras := make([]*tensor.Series, len(m.extraInputs))
	for k, key := range m.extraInputs {
		if extras[k], err = data.Series(m.ports.In(key)); err != nil {
			return nil, err
		}
	}

	nsteps := yf.Steps
	var X, Y, FE []*tensor.Matrix
	for i := 0; i < nsteps; i++ {
		xPrev := x
		xplus := x
		if len(extras) > 0 {
			parts := make([]*tensor.Matrix, 0, len(extras)+1)
			parts = append(parts, x)
			for _, s := range extras {
				parts = append(parts, s.Step(i))
			}
			xplus = tensor.ConcatCols(parts...)
		}
		if x, err = m.fx.Forward(xplus); err != nil {
			return nil, fmt.Errorf("fx step %d: %w", i, err)
		}
		if m.fe != nil {
			fe, err := m.fe.Forward(xPrev)
			if err != nil {
				return nil, fmt.Errorf("fe step %d: %w", i, err)
			}
			x = m.xoe(x, fe)
			FE = append(FE, fe)
		}
		y, err := m.fy.Forward(x)
		if err != nil {
			return nil, fmt.Errorf("fy step %d: %w", i, err)
		}
		if m.fyu != nil {
			// the input-observation map reads the same concatenated features
			// the transition consumed
			fyu, err := m.fyu.Forward(xplus)
			if err != nil {
				return nil, fmt.Errorf("fyu step %d: %w", i, err)
			}
			y = m.xoyu(y, fyu)
		}
		X = append(X, x)
		Y = append(Y, y)
	}

	out := dataflow.Bag{
		m.ports.Out(KeyRegError): regSum(m.fx, m.fy, m.fe, m.fyu),
	}
	stackInto(out, m.ports.Out(KeyXPred), X)
	stackInto(out, m.ports.Out(KeyYPred), Y)
	stackInto(out, m.ports.Out(KeyFE), FE)
	return out, nil
}
