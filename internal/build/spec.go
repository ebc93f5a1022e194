// Package build assembles simulation models from declarative YAML specs. A
// spec names a model family and a structural kind; the factory instantiates
// the sub-maps, wires them into the matching state-space model and keeps the
// learnable parameters reachable for checkpointing.
package build

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Dims declares the signal widths of the modeled system. NX and NY are always
// required; NU and ND enable the input and disturbance channels.
type Dims struct {
	NX int `yaml:"nx"`
	NY int `yaml:"ny"`
	NU int `yaml:"nu"`
	ND int `yaml:"nd"`
}

// LinearSpec selects the linear map used inside sub-maps.
type LinearSpec struct {
	Map    string  `yaml:"map"` // plain (default) or lasso
	Bias   bool    `yaml:"bias"`
	Lambda float64 `yaml:"lambda"`
}

// OperatorSpec names the per-channel combination operators. Empty entries
// default to add.
type OperatorSpec struct {
	XoU  string `yaml:"xou"`
	XoD  string `yaml:"xod"`
	XoE  string `yaml:"xoe"`
	XoYU string `yaml:"xoyu"`
}

// ODESpec configures the ode family: the integration scheme, the step size
// and optionally a multi-step order.
type ODESpec struct {
	Scheme string  `yaml:"scheme"` // euler, rk2, rk4
	Step   float64 `yaml:"step"`
	Order  int     `yaml:"order"` // multi-step order; 0 selects single-step
	Online bool    `yaml:"online"`
}

// ModelSpec is the top-level model description.
//
// Family selects the simulation core: "block" for block-structured models,
// "black" for unstructured ones and "ode" for integrator-driven continuous
// dynamics. Kind applies to the block family and fixes which channels are
// linear versus nonlinear.
type ModelSpec struct {
	Family string `yaml:"family"`
	Kind   string `yaml:"kind"`
	Name   string `yaml:"name"`

	Dims   Dims  `yaml:"dims"`
	Hidden []int `yaml:"hidden"`
	Layers int   `yaml:"layers"`

	Activation string       `yaml:"activation"`
	Linear     LinearSpec   `yaml:"linear"`
	Operators  OperatorSpec `yaml:"operators"`

	Residual         bool `yaml:"residual"`
	Delay            int  `yaml:"delay"`
	ErrorMap         bool `yaml:"error_map"`
	InputObservation bool `yaml:"input_observation"`

	ODE ODESpec `yaml:"ode"`

	Seed        int64             `yaml:"seed"`
	InputKeyMap map[string]string `yaml:"input_key_map"`
}

// LoadSpec reads and validates a model spec from a YAML file.
func LoadSpec(path string) (ModelSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return ModelSpec{}, fmt.Errorf("read model spec: %w", err)
	}
	return ParseSpec(data)
}

// ParseSpec decodes and validates a YAML model spec.
func ParseSpec(data []byte) (ModelSpec, error) {
	var spec ModelSpec
	if err := yaml.Unmarshal(data, &spec); err != nil {
		return ModelSpec{}, fmt.Errorf("parse model spec: %w", err)
	}
	if err := spec.Validate(); err != nil {
		return ModelSpec{}, err
	}
	return spec, nil
}

// Validate checks the spec for structural errors before any block is built.
func (s *ModelSpec) Validate() error {
	switch s.Family {
	case "block":
		switch s.Kind {
		case "", "linear", "hammerstein", "wiener", "hw", "blocknlin":
		default:
			return fmt.Errorf("unsupported block kind: %s", s.Kind)
		}
	case "black":
	case "ode":
		if s.ODE.Step <= 0 {
			return fmt.Errorf("ode family requires a positive step size")
		}
		if s.Delay > 0 {
			return fmt.Errorf("ode family does not support time delays")
		}
	default:
		return fmt.Errorf("unsupported model family: %q", s.Family)
	}
	if s.Dims.NX <= 0 || s.Dims.NY <= 0 {
		return fmt.Errorf("dims.nx and dims.ny must be positive")
	}
	if s.Dims.NU < 0 || s.Dims.ND < 0 {
		return fmt.Errorf("dims.nu and dims.nd must not be negative")
	}
	if s.Delay < 0 {
		return fmt.Errorf("delay must not be negative")
	}
	if s.InputObservation && s.Family != "block" {
		return fmt.Errorf("input_observation is only supported by the block family")
	}
	if s.InputObservation && s.Delay > 0 {
		return fmt.Errorf("input_observation is not supported with time delays")
	}
	switch s.Linear.Map {
	case "", "plain", "lasso":
	default:
		return fmt.Errorf("unsupported linear map: %s", s.Linear.Map)
	}
	if s.Activation != "" {
		if _, err := activationFor(s.Activation); err != nil {
			return err
		}
	}
	return nil
}

// hidden returns the hidden layer sizes, deriving a default stack from the
// state width when the spec leaves them unset.
func (s *ModelSpec) hidden() []int {
	if len(s.Hidden) > 0 {
		return s.Hidden
	}
	layers := s.Layers
	if layers <= 0 {
		layers = 2
	}
	h := make([]int, layers)
	for i := range h {
		h[i] = s.Dims.NX
	}
	return h
}
