// Package ssm implements recurrent state-space models for dynamical system
// modeling.
//
// Nomenclature:
//
//   - x: states
//   - y: predicted outputs
//   - u: control inputs
//   - d: uncontrolled inputs (measured disturbances)
//
// Unstructured (black-box) models:
//
//	x_{t+1} = f(x_t, u_t, d_t) o fe(x_t)
//	y_t     = fy(x_t)
//
// Block-structured models:
//
//	x_{t+1} = fx(x_t) o fu(u_t) o fd(d_t) o fe(x_t)
//	y_t     = fy(x_t) o fyu(u_t)
//
// where o is a configurable elementwise operator, fx is the main state
// transition map, fy the observation map, fu the input map, fd the
// disturbance map, fe an error term via state augmentation and fyu a direct
// input-observation map.
//
// Every model is a dataflow.Component: one forward call reads a tensor bag
// (initial state, forcing sequences, horizon implied by the reference
// sequence length) and returns stacked per-step trajectories plus a scalar
// aggregate regularization error. Models are reusable across calls but not
// re-entrant.
package ssm

import (
	"github.com/dynoml/dyno/internal/blocks"
	"github.com/dynoml/dyno/internal/dataflow"
	"github.com/dynoml/dyno/internal/tensor"
)

// Canonical input keys.
const (
	KeyX0   = "x0"   // initial state, batch x nx
	KeyYf   = "Yf"   // reference outputs; leading axis defines the horizon
	KeyYp   = "Yp"   // past reference outputs (multi-step ODE horizon source)
	KeyUf   = "Uf"   // future control inputs
	KeyDf   = "Df"   // future disturbances
	KeyXtd  = "Xtd"  // time-delayed state window, (T+1) x batch x nx
	KeyUp   = "Up"   // past control inputs (time-delay variants)
	KeyDp   = "Dp"   // past disturbances (time-delay variants)
	KeyTime = "Time" // time grid (non-autonomous ODE variants)
)

// Canonical output keys.
const (
	KeyRegError = "reg_error"
	KeyXPred    = "X_pred"
	KeyYPred    = "Y_pred"
	KeyFU       = "fU"
	KeyFD       = "fD"
	KeyFE       = "fE"
)

// base carries the port signature shared by all model variants.
type base struct {
	ports *dataflow.Ports
}

func (b *base) InputKeys() []string  { return b.ports.InputKeys() }
func (b *base) OutputKeys() []string { return b.ports.OutputKeys() }

// OutKey resolves a canonical output key to the instance-tagged bag key.
func (b *base) OutKey(defaultKey string) string { return b.ports.Out(defaultKey) }

// InKey resolves a canonical input key to the remapped bag key.
func (b *base) InKey(defaultKey string) string { return b.ports.In(defaultKey) }

// regSum accumulates the regularization contributions of the owned sub-maps.
// Recomputed fresh on every forward call; nil entries contribute nothing.
func regSum(bs ...blocks.Block) tensor.Scalar {
	var sum float64
	for _, b := range bs {
		if b != nil {
			sum += b.RegError()
		}
	}
	return tensor.Scalar(sum)
}

// stackInto stacks a non-empty per-step list under key, skipping empty lists
// so absent channels produce no output entry.
func stackInto(out dataflow.Bag, key string, steps []*tensor.Matrix) {
	if len(steps) > 0 {
		out[key] = tensor.Stack(steps)
	}
}
