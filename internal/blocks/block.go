// Package blocks provides function approximators with a consistent interface:
// declared input/output widths, a batched forward map and a regularization
// penalty. State-space models compose these blocks without knowing their
// internals.
package blocks

import (
	"fmt"

	"github.com/dynoml/dyno/internal/tensor"
)

// Block is the sole contract the simulation core requires from a sub-map.
//
// Forward maps a batch x InFeatures matrix to a batch x OutFeatures matrix.
// RegError returns the block's scalar regularization penalty for its current
// parameters; blocks without a penalty return zero. This replaces duck-typed
// "has a penalty" probing with a uniform capability.
type Block interface {
	InFeatures() int
	OutFeatures() int
	Forward(x *tensor.Matrix) (*tensor.Matrix, error)
	RegError() float64
}

// Parameterized is implemented by blocks with learnable parameters, in a
// stable order suitable for checkpointing. Biases appear as 1 x n matrices.
type Parameterized interface {
	Parameters() []*tensor.Matrix
}

// Identity passes its input through unchanged.
type Identity struct {
	n int
}

// NewIdentity returns an identity block of width n.
func NewIdentity(n int) *Identity {
	return &Identity{n: n}
}

func (b *Identity) InFeatures() int  { return b.n }
func (b *Identity) OutFeatures() int { return b.n }
func (b *Identity) RegError() float64 {
	return 0
}

func (b *Identity) Forward(x *tensor.Matrix) (*tensor.Matrix, error) {
	if x.C != b.n {
		return nil, fmt.Errorf("identity: input width %d, want %d", x.C, b.n)
	}
	return x.Clone(), nil
}

func checkInput(name string, x *tensor.Matrix, want int) error {
	if x.C != want {
		return fmt.Errorf("%s: input width %d, want %d", name, x.C, want)
	}
	return nil
}
