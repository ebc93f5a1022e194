package blocks

import (
	"github.com/dynoml/dyno/internal/tensor"
)

// LinearFactory constructs the linear map used inside composite blocks,
// letting callers pick plain or regularized maps without the composites
// knowing the difference.
type LinearFactory func(in, out int, seed int64) Block

// PlainLinear is the default LinearFactory.
func PlainLinear(bias bool) LinearFactory {
	return func(in, out int, seed int64) Block {
		return NewLinear(in, out, bias, seed)
	}
}

// LassoFactory builds lasso-regularized linear maps with the given penalty.
func LassoFactory(bias bool, lambda float64) LinearFactory {
	return func(in, out int, seed int64) Block {
		return NewLassoLinear(in, out, bias, lambda, seed)
	}
}

// MLP is a multi-layer perceptron: hidden layers with an elementwise
// nonlinearity, identity on the final layer.
type MLP struct {
	in, out int
	layers  []Block
	nonlin  Activation
}

// NewMLP builds an MLP with the given hidden sizes. seed derives per-layer
// initialisation seeds.
func NewMLP(in, out int, hsizes []int, nonlin Activation, newLinear LinearFactory, seed int64) *MLP {
	sizes := make([]int, 0, len(hsizes)+2)
	sizes = append(sizes, in)
	sizes = append(sizes, hsizes...)
	sizes = append(sizes, out)

	layers := make([]Block, len(sizes)-1)
	for k := 0; k+1 < len(sizes); k++ {
		layers[k] = newLinear(sizes[k], sizes[k+1], seed+int64(k))
	}
	return &MLP{in: in, out: out, layers: layers, nonlin: nonlin}
}

func (b *MLP) InFeatures() int  { return b.in }
func (b *MLP) OutFeatures() int { return b.out }

func (b *MLP) RegError() float64 {
	var sum float64
	for _, layer := range b.layers {
		sum += layer.RegError()
	}
	return sum
}

func (b *MLP) Parameters() []*tensor.Matrix {
	var params []*tensor.Matrix
	for _, layer := range b.layers {
		if p, ok := layer.(Parameterized); ok {
			params = append(params, p.Parameters()...)
		}
	}
	return params
}

func (b *MLP) Forward(x *tensor.Matrix) (*tensor.Matrix, error) {
	if err := checkInput("mlp", x, b.in); err != nil {
		return nil, err
	}
	h := x
	for k, layer := range b.layers {
		var err error
		h, err = layer.Forward(h)
		if err != nil {
			return nil, err
		}
		if k < len(b.layers)-1 {
			applyInPlace(h, b.nonlin)
		}
	}
	return h, nil
}

// ResMLP is an MLP with skip connections between equally sized hidden layers.
type ResMLP struct {
	MLP
	inmap, outmap Block
}

// NewResMLP builds a residual MLP. All hidden sizes must be equal.
func NewResMLP(in, out int, hsizes []int, nonlin Activation, newLinear LinearFactory, seed int64) *ResMLP {
	for _, h := range hsizes[1:] {
		if h != hsizes[0] {
			panic("residual mlp requires equal hidden sizes")
		}
	}
	return &ResMLP{
		MLP:    *NewMLP(in, out, hsizes, nonlin, newLinear, seed),
		inmap:  newLinear(in, hsizes[0], seed+101),
		outmap: newLinear(hsizes[0], out, seed+102),
	}
}

func (b *ResMLP) RegError() float64 {
	return b.MLP.RegError() + b.inmap.RegError() + b.outmap.RegError()
}

func (b *ResMLP) Parameters() []*tensor.Matrix {
	params := b.MLP.Parameters()
	for _, blk := range []Block{b.inmap, b.outmap} {
		if p, ok := blk.(Parameterized); ok {
			params = append(params, p.Parameters()...)
		}
	}
	return params
}

func (b *ResMLP) Forward(x *tensor.Matrix) (*tensor.Matrix, error) {
	if err := checkInput("resmlp", x, b.in); err != nil {
		return nil, err
	}
	px, err := b.inmap.Forward(x)
	if err != nil {
		return nil, err
	}
	h := x
	for _, layer := range b.layers[:len(b.layers)-1] {
		h, err = layer.Forward(h)
		if err != nil {
			return nil, err
		}
		applyInPlace(h, b.nonlin)
		tensor.AddTo(h, px)
		px = h
	}
	last, err := b.layers[len(b.layers)-1].Forward(h)
	if err != nil {
		return nil, err
	}
	skip, err := b.outmap.Forward(px)
	if err != nil {
		return nil, err
	}
	tensor.AddTo(last, skip)
	return last, nil
}

func applyInPlace(m *tensor.Matrix, fn Activation) {
	for i := 0; i < m.R; i++ {
		row := m.Row(i)
		for j, v := range row {
			row[j] = fn(v)
		}
	}
}
