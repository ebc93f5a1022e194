package blocks

import (
	"math"

	"github.com/dynoml/dyno/internal/tensor"
)

// Linear is an affine map y = xW^T + b. Its regularization penalty is zero.
type Linear struct {
	in, out int
	weight  *tensor.Matrix // out x in
	bias    []float64      // nil when bias disabled
}

// NewLinear returns a linear block with weights drawn from a seeded
// pseudo-random initialisation.
func NewLinear(in, out int, bias bool, seed int64) *Linear {
	w := tensor.NewMatrix(out, in)
	tensor.FillRand(w, seed)
	var b []float64
	if bias {
		b = make([]float64, out)
	}
	return &Linear{in: in, out: out, weight: w, bias: b}
}

// NewLinearFromWeights builds a linear block from an explicit out x in weight
// matrix. bias may be nil.
func NewLinearFromWeights(w *tensor.Matrix, bias []float64) *Linear {
	if bias != nil && len(bias) != w.R {
		panic("bias length mismatch")
	}
	return &Linear{in: w.C, out: w.R, weight: w, bias: bias}
}

func (b *Linear) InFeatures() int   { return b.in }
func (b *Linear) OutFeatures() int  { return b.out }
func (b *Linear) RegError() float64 { return 0 }

// Weight returns the out x in weight matrix. Mutations are visible to the
// block; the training loop owns parameter updates.
func (b *Linear) Weight() *tensor.Matrix { return b.weight }

func (b *Linear) Parameters() []*tensor.Matrix {
	params := []*tensor.Matrix{b.weight}
	if b.bias != nil {
		params = append(params, tensor.NewMatrixFromData(1, b.out, b.bias))
	}
	return params
}

func (b *Linear) Forward(x *tensor.Matrix) (*tensor.Matrix, error) {
	if err := checkInput("linear", x, b.in); err != nil {
		return nil, err
	}
	out := tensor.NewMatrix(x.R, b.out)
	tensor.ApplyLinear(out, x, b.weight, b.bias)
	return out, nil
}

// LassoLinear is a linear map carrying an L1 penalty on its weights, so that
// simulation accumulates a sparsity-promoting regularization error.
type LassoLinear struct {
	Linear
	lambda float64
}

// NewLassoLinear returns a lasso-regularized linear block with penalty
// coefficient lambda.
func NewLassoLinear(in, out int, bias bool, lambda float64, seed int64) *LassoLinear {
	return &LassoLinear{Linear: *NewLinear(in, out, bias, seed), lambda: lambda}
}

func (b *LassoLinear) RegError() float64 {
	var sum float64
	for i := 0; i < b.weight.R; i++ {
		for _, v := range b.weight.Row(i) {
			sum += math.Abs(v)
		}
	}
	return b.lambda * sum / float64(b.weight.R*b.weight.C)
}
