// Package dataflow implements the named-port composition protocol that wires
// independently configured model components into larger computational graphs.
//
// Components exchange data through bags: keyed collections of tensors. A
// component declares default input and output keys; callers can remap input
// keys at construction time so that, for example, an estimator producing
// "x0_estim" can feed a dynamics block that canonically expects "x0", without
// either side knowing about the other's naming.
package dataflow

import (
	"errors"
	"fmt"

	"github.com/dynoml/dyno/internal/tensor"
)

// ErrMissingInput reports that a forward call's bag lacks a required key.
// Missing inputs are never substituted with defaults.
var ErrMissingInput = errors.New("missing input key")

// Bag is a keyed collection of tensors flowing between components. Keys are
// unique; insertion order is irrelevant.
type Bag map[string]tensor.Value

// Matrix returns the value under key as a batch x features matrix.
func (b Bag) Matrix(key string) (*tensor.Matrix, error) {
	v, ok := b[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrMissingInput, key)
	}
	m, ok := v.(*tensor.Matrix)
	if !ok {
		return nil, fmt.Errorf("key %q: expected rank-2 tensor, got shape %v", key, v.Shape())
	}
	return m, nil
}

// Series returns the value under key as a steps x batch x features series.
func (b Bag) Series(key string) (*tensor.Series, error) {
	v, ok := b[key]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrMissingInput, key)
	}
	s, ok := v.(*tensor.Series)
	if !ok {
		return nil, fmt.Errorf("key %q: expected rank-3 tensor, got shape %v", key, v.Shape())
	}
	return s, nil
}

// Scalar returns the value under key as a 0-dimensional tensor.
func (b Bag) Scalar(key string) (float64, error) {
	v, ok := b[key]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrMissingInput, key)
	}
	s, ok := v.(tensor.Scalar)
	if !ok {
		return 0, fmt.Errorf("key %q: expected scalar, got shape %v", key, v.Shape())
	}
	return float64(s), nil
}

// Component is the unit of computation in a dataflow graph: a pure function
// from a keyed bag of tensors to a keyed bag of tensors with a declared port
// signature.
//
// Forward must not retain or mutate the input bag. Components are reusable
// across calls but a single instance must not be invoked concurrently.
type Component interface {
	InputKeys() []string
	OutputKeys() []string
	Forward(data Bag) (Bag, error)
}
