package ssm

import (
	"fmt"

	"github.com/dynoml/dyno/internal/tensor"
)

// Op is an elementwise binary operator merging a channel's contribution into
// the running state or observation. Operands are left untouched.
type Op func(a, b *tensor.Matrix) *tensor.Matrix

// Add is the default combination operator.
func Add(a, b *tensor.Matrix) *tensor.Matrix { return tensor.Add(a, b) }

// Mul combines channels multiplicatively.
func Mul(a, b *tensor.Matrix) *tensor.Matrix { return tensor.Mul(a, b) }

// OpByName resolves a combination operator from its configuration name.
func OpByName(name string) (Op, error) {
	switch name {
	case "", "add":
		return Add, nil
	case "mul":
		return Mul, nil
	default:
		return nil, fmt.Errorf("unsupported combination operator: %s", name)
	}
}

func orAdd(op Op) Op {
	if op == nil {
		return Add
	}
	return op
}
