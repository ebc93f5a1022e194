package ssm

import (
	"fmt"

	"github.com/dynoml/dyno/internal/blocks"
	"github.com/dynoml/dyno/internal/dataflow"
	"github.com/dynoml/dyno/internal/tensor"
)

// BlockConfig assembles a block-structured state-space model. FX and FY are
// required; FU, FD, FE and FYU are optional channels whose absence omits the
// corresponding term entirely. Per-channel combination operators default to
// Add. An empty Name defaults to "block_ssm".
type BlockConfig struct {
	FX, FY              blocks.Block
	FU, FD, FE, FYU     blocks.Block
	XoU, XoD, XoE, XoYU Op
	Residual            bool
	Name                string
	InputKeyMap         map[string]string
}

// Block simulates block-structured system dynamics:
//
//	x_{t+1} = fx(x_t) o fu(u_t) o fd(d_t) o fe(x_t)
//	y_t     = fy(x_t) o fyu(u_t)
type Block struct {
	base
	fx, fy, fu, fd, fe, fyu blocks.Block
	xou, xod, xoe, xoyu     Op
	residual                bool
	nx, ny                  int
}

// NewBlock validates sub-map dimensions and builds the model. Dimension
// mismatches between chained sub-maps fail here, before any step is
// simulated.
func NewBlock(cfg BlockConfig) (*Block, error) {
	if cfg.FX == nil || cfg.FY == nil {
		return nil, fmt.Errorf("block ssm: state transition and observation maps are required")
	}
	if cfg.FX.InFeatures() != cfg.FX.OutFeatures() {
		return nil, fmt.Errorf("block ssm: state transition must have same input and output dimensions (%d != %d)",
			cfg.FX.InFeatures(), cfg.FX.OutFeatures())
	}
	nx := cfg.FX.OutFeatures()
	if cfg.FY.InFeatures() != nx {
		return nil, fmt.Errorf("block ssm: observation map input %d must match state dimension %d",
			cfg.FY.InFeatures(), nx)
	}
	if cfg.FU != nil && cfg.FU.OutFeatures() != nx {
		return nil, fmt.Errorf("block ssm: dimension mismatch between input map and state transition (%d != %d)",
			cfg.FU.OutFeatures(), nx)
	}
	if cfg.FD != nil && cfg.FD.OutFeatures() != nx {
		return nil, fmt.Errorf("block ssm: dimension mismatch between disturbance map and state transition (%d != %d)",
			cfg.FD.OutFeatures(), nx)
	}
	if cfg.FE != nil && (cfg.FE.InFeatures() != nx || cfg.FE.OutFeatures() != nx) {
		return nil, fmt.Errorf("block ssm: error map must be %d -> %d, got %d -> %d",
			nx, nx, cfg.FE.InFeatures(), cfg.FE.OutFeatures())
	}
	if cfg.FYU != nil && cfg.FYU.OutFeatures() != cfg.FY.OutFeatures() {
		return nil, fmt.Errorf("block ssm: input-observation map output %d must match observation dimension %d",
			cfg.FYU.OutFeatures(), cfg.FY.OutFeatures())
	}

	inKeys := []string{KeyX0, KeyYf}
	outKeys := []string{KeyRegError, KeyXPred, KeyYPred}
	if cfg.FU != nil || cfg.FYU != nil {
		inKeys = append(inKeys, KeyUf)
	}
	if cfg.FU != nil {
		outKeys = append(outKeys, KeyFU)
	}
	if cfg.FD != nil {
		inKeys = append(inKeys, KeyDf)
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
		return nil, fmt.Errorf("block ssm: %w", err)
	}

	return &Block{
		base:     base{ports: ports},
		fx:       cfg.FX,
		fy:       cfg.FY,
		fu:       cfg.FU,
		fd:       cfg.FD,
		fe:       cfg.FE,
		fyu:      cfg.FYU,
		xou:      orAdd(cfg.XoU),
		xod:      orAdd(cfg.XoD),
		xoe:      orAdd(cfg.XoE),
		xoyu:     orAdd(cfg.XoYU),
		residual: cfg.Residual,
		nx:       nx,
		ny:       cfg.FY.OutFeatures(),
	}, nil
}

// StateDim returns the state dimensionality nx.
func (m *Block) StateDim() int { return m.nx }

// Forward unrolls the recurrence over the horizon defined by the reference
// sequence and returns stacked trajectories plus the aggregate regularization
// error.
func (m *Block) Forward(data dataflow.Bag) (dataflow.Bag, error) {
	yf, err := data.Series(m.ports.In(KeyYf))
	if err != nil {
		return nil, err
	}
	x, err := data.Matrix(m.ports.In(KeyX0))
	if err != nil {
		return nil, err
	}

	var uf, df *tensor.Series
	if m.fu != nil || m.fyu != nil {
		if uf, err = data.Series(m.ports.In(KeyUf)); err != nil {
			return nil, err
		}
	}
	if m.fd != nil {
		if df, err = data.Series(m.ports.In(KeyDf)); err != nil {
			return nil, err
		}
	}

	nsteps := yf.Steps
	var X, Y, FU, FD, FE []*tensor.Matrix
	for i := 0; i < nsteps; i++ {
		xPrev := x
		if x, err = m.fx.Forward(x); err != nil {
			return nil, fmt.Errorf("fx step %d: %w", i, err)
		}
		if m.fu != nil {
			fu, err := m.fu.Forward(uf.Step(i))
			if err != nil {
				return nil, fmt.Errorf("fu step %d: %w", i, err)
			}
			x = m.xou(x, fu)
			FU = append(FU, fu)
		}
		if m.fd != nil {
			fd, err := m.fd.Forward(df.Step(i))
			if err != nil {
				return nil, fmt.Errorf("fd step %d: %w", i, err)
			}
			x = m.xod(x, fd)
			FD = append(FD, fd)
		}
		if m.fe != nil {
			// the error map reads the previous state, not the new one
			fe, err := m.fe.Forward(xPrev)
			if err != nil {
				return nil, fmt.Errorf("fe step %d: %w", i, err)
			}
			x = m.xoe(x, fe)
			FE = append(FE, fe)
		}
		if m.residual {
			x = tensor.Add(x, xPrev)
		}
		y, err := m.fy.Forward(x)
		if err != nil {
			return nil, fmt.Errorf("fy step %d: %w", i, err)
		}
		if m.fyu != nil {
			fyu, err := m.fyu.Forward(uf.Step(i))
			if err != nil {
				return nil, fmt.Errorf("fyu step %d: %w", i, err)
			}
			y = m.xoyu(y, fyu)
		}
		X = append(X, x)
		Y = append(Y, y)
	}

	out := dataflow.Bag{
		m.ports.Out(KeyRegError): regSum(m.fx, m.fy, m.fu, m.fd, m.fe, m.fyu),
	}
	stackInto(out, m.ports.Out(KeyXPred), X)
	stackInto(out, m.ports.Out(KeyYPred), Y)
	stackInto(out, m.ports.Out(KeyFU), FU)
	stackInto(out, m.ports.Out(KeyFD), FD)
	stackInto(out, m.ports.Out(KeyFE), FE)
	return out, nil
}
