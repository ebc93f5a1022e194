package build

import (
	"github.com/dynoml/dyno/internal/blocks"
	"github.com/dynoml/dyno/internal/dataflow"
	"github.com/dynoml/dyno/internal/integrate"
	"github.com/dynoml/dyno/internal/ssm"
	"github.com/dynoml/dyno/internal/tensor"
)

// Model is a built simulation component together with its learnable
// parameters, in a stable order suitable for checkpointing.
type Model struct {
	dataflow.Component
	Spec   ModelSpec
	params []*tensor.Matrix
}

// Parameters returns the model's learnable parameters. Mutations are visible
// to the underlying blocks.
func (m *Model) Parameters() []*tensor.Matrix { return m.params }

// Build instantiates the model a spec describes.
func Build(spec ModelSpec) (*Model, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	b, err := newBuilder(spec)
	if err != nil {
		return nil, err
	}

	var component dataflow.Component
	switch spec.Family {
	case "block":
		component, err = b.buildBlock()
	case "black":
		component, err = b.buildBlack()
	case "ode":
		component, err = b.buildODE()
	}
	if err != nil {
		return nil, err
	}
	return &Model{Component: component, Spec: spec, params: b.params}, nil
}

// builder tracks the linear factory, the activation and the parameter list
// while sub-maps are instantiated. Each sub-map gets a distinct derived seed.
type builder struct {
	spec      ModelSpec
	newLinear blocks.LinearFactory
	nonlin    blocks.Activation
	nextSeed  int64
	params    []*tensor.Matrix
}

func newBuilder(spec ModelSpec) (*builder, error) {
	nonlin, err := activationFor(spec.Activation)
	if err != nil {
		return nil, err
	}
	newLinear := blocks.PlainLinear(spec.Linear.Bias)
	if spec.Linear.Map == "lasso" {
		newLinear = blocks.LassoFactory(spec.Linear.Bias, spec.Linear.Lambda)
	}
	return &builder{
		spec:      spec,
		newLinear: newLinear,
		nonlin:    nonlin,
		nextSeed:  spec.Seed,
	}, nil
}

func activationFor(name string) (blocks.Activation, error) {
	if name == "" {
		name = "tanh"
	}
	return blocks.ActivationByName(name)
}

func (b *builder) seed() int64 {
	s := b.nextSeed
	b.nextSeed += 1000
	return s
}

func (b *builder) register(blk blocks.Block) blocks.Block {
	if p, ok := blk.(blocks.Parameterized); ok {
		b.params = append(b.params, p.Parameters()...)
	}
	return blk
}

func (b *builder) linmap(in, out int) blocks.Block {
	return b.register(b.newLinear(in, out, b.seed()))
}

func (b *builder) nonlinmap(in, out int) blocks.Block {
	return b.register(blocks.NewMLP(in, out, b.spec.hidden(), b.nonlin, b.newLinear, b.seed()))
}

// mapFor builds a linear or nonlinear sub-map depending on the channel's role
// in the structural kind.
func (b *builder) mapFor(nonlinear bool, in, out int) blocks.Block {
	if nonlinear {
		return b.nonlinmap(in, out)
	}
	return b.linmap(in, out)
}

// kindChannels reports which channels of a block-structured kind are
// nonlinear, in fx, fy, fu/fd order.
func kindChannels(kind string) (fx, fy, fufd bool) {
	switch kind {
	case "linear":
		return false, false, false
	case "hammerstein":
		return false, false, true
	case "wiener":
		return false, true, false
	case "hw":
		return false, true, true
	default: // blocknlin
		return true, false, true
	}
}

func (b *builder) ops() (xou, xod, xoe, xoyu ssm.Op, err error) {
	if xou, err = ssm.OpByName(b.spec.Operators.XoU); err != nil {
		return
	}
	if xod, err = ssm.OpByName(b.spec.Operators.XoD); err != nil {
		return
	}
	if xoe, err = ssm.OpByName(b.spec.Operators.XoE); err != nil {
		return
	}
	xoyu, err = ssm.OpByName(b.spec.Operators.XoYU)
	return
}

func (b *builder) buildBlock() (dataflow.Component, error) {
	dims := b.spec.Dims
	nlFX, nlFY, nlChan := kindChannels(b.spec.Kind)
	window := b.spec.Delay + 1

	cfg := ssm.BlockConfig{
		FX:          b.mapFor(nlFX, window*dims.NX, dims.NX),
		FY:          b.mapFor(nlFY, window*dims.NX, dims.NY),
		Residual:    b.spec.Residual,
		Name:        b.spec.Name,
		InputKeyMap: b.spec.InputKeyMap,
	}
	if dims.NU > 0 {
		cfg.FU = b.mapFor(nlChan, window*dims.NU, dims.NX)
	}
	if dims.ND > 0 {
		cfg.FD = b.mapFor(nlChan, window*dims.ND, dims.NX)
	}
	if b.spec.ErrorMap {
		cfg.FE = b.nonlinmap(window*dims.NX, dims.NX)
	}
	if b.spec.InputObservation {
		cfg.FYU = b.linmap(dims.NU, dims.NY)
	}
	var err error
	if cfg.XoU, cfg.XoD, cfg.XoE, cfg.XoYU, err = b.ops(); err != nil {
		return nil, err
	}

	if b.spec.Delay > 0 {
		return ssm.NewTimeDelayBlock(cfg, b.spec.Delay)
	}
	return ssm.NewBlock(cfg)
}

func (b *builder) buildBlack() (dataflow.Component, error) {
	dims := b.spec.Dims
	window := b.spec.Delay + 1
	insize := window * (dims.NX + dims.NU + dims.ND)

	fx := b.nonlinmap(insize, dims.NX)
	fy := b.linmap(window*dims.NX, dims.NY)
	var fe blocks.Block
	if b.spec.ErrorMap {
		fe = b.nonlinmap(window*dims.NX, dims.NX)
	}
	_, _, xoe, _, err := b.ops()
	if err != nil {
		return nil, err
	}

	if b.spec.Delay > 0 {
		return ssm.NewTimeDelayBlack(ssm.TimeDelayBlackConfig{
			FX:               fx,
			FY:               fy,
			FE:               fe,
			XoE:              xoe,
			Delay:            b.spec.Delay,
			WithInputs:       dims.NU > 0,
			WithDisturbances: dims.ND > 0,
			Name:             b.spec.Name,
			InputKeyMap:      b.spec.InputKeyMap,
		})
	}

	var extras []string
	if dims.NU > 0 {
		extras = append(extras, ssm.KeyUf)
	}
	if dims.ND > 0 {
		extras = append(extras, ssm.KeyDf)
	}
	return ssm.NewBlack(ssm.BlackConfig{
		FX:          fx,
		FY:          fy,
		FE:          fe,
		XoE:         xoe,
		ExtraInputs: extras,
		Name:        b.spec.Name,
		InputKeyMap: b.spec.InputKeyMap,
	})
}

func (b *builder) buildODE() (dataflow.Component, error) {
	dims := b.spec.Dims
	ode := b.spec.ODE
	scheme := ode.Scheme
	if scheme == "" {
		scheme = "rk4"
	}
	fy := b.linmap(dims.NX, dims.NY)
	forced := dims.NU > 0

	if ode.Order > 0 {
		if forced {
			fx, err := integrate.NewForcedAdamsBashforth(ode.Order, b.nonlinmap(dims.NX+dims.NU, dims.NX), ode.Step)
			if err != nil {
				return nil, err
			}
			return ssm.NewODENonAutoMultiStep(fx, fy, []string{ssm.KeyUf}, b.spec.Name, b.spec.InputKeyMap)
		}
		fx, err := integrate.NewAdamsBashforth(ode.Order, b.nonlinmap(dims.NX, dims.NX), ode.Step)
		if err != nil {
			return nil, err
		}
		return ssm.NewODEAutoMultiStep(fx, fy, b.spec.Name, b.spec.InputKeyMap)
	}

	if forced {
		fx, err := integrate.NewForcedSingleStep(scheme, b.nonlinmap(dims.NX+dims.NU, dims.NX), ode.Step)
		if err != nil {
			return nil, err
		}
		return ssm.NewODENonAuto(fx, fy, []string{ssm.KeyUf}, ode.Online, b.spec.Name, b.spec.InputKeyMap)
	}
	fx, err := integrate.NewSingleStep(scheme, b.nonlinmap(dims.NX, dims.NX), ode.Step)
	if err != nil {
		return nil, err
	}
	return ssm.NewODEAuto(fx, fy, b.spec.Name, b.spec.InputKeyMap)
}

// DefaultName returns the instance name a family uses when the spec leaves it
// empty.
func DefaultName(family string) string {
	switch family {
	case "black":
		return "black_ssm"
	case "ode":
		return "dynamics"
	default:
		return "block_ssm"
	}
}
