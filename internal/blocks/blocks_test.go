package blocks

import (
	"math"
	"testing"

	"github.com/dynoml/dyno/internal/tensor"
)

func TestIdentityForward(t *testing.T) {
	t.Parallel()
	b := NewIdentity(3)
	x := tensor.NewMatrixFromData(2, 3, []float64{1, 2, 3, 4, 5, 6})
	y, err := b.Forward(x)
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	for i := range x.Data {
		if y.Data[i] != x.Data[i] {
			t.Fatalf("identity altered data: %v", y.Data)
		}
	}
	y.Set(0, 0, 99)
	if x.At(0, 0) == 99 {
		t.Fatal("identity output aliases its input")
	}
}

func TestIdentityWidthMismatch(t *testing.T) {
	t.Parallel()
	b := NewIdentity(3)
	if _, err := b.Forward(tensor.NewMatrix(1, 2)); err == nil {
		t.Fatal("expected width mismatch error")
	}
}

func TestLinearKnownWeights(t *testing.T) {
	t.Parallel()
	w := tensor.NewMatrixFromData(2, 3, []float64{1, 0, 0, 0, 1, 1})
	b := NewLinearFromWeights(w, []float64{0, 10})
	x := tensor.NewMatrixFromData(1, 3, []float64{3, 4, 5})
	y, err := b.Forward(x)
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	if y.At(0, 0) != 3 || y.At(0, 1) != 19 {
		t.Fatalf("y = %v, want [3 19]", y.Row(0))
	}
	if b.RegError() != 0 {
		t.Fatalf("plain linear reg error = %v, want 0", b.RegError())
	}
}

func TestLassoLinearRegError(t *testing.T) {
	t.Parallel()
	b := NewLassoLinear(2, 2, false, 2.0, 7)
	w := b.Weight()
	copy(w.Data, []float64{1, -1, 2, -2})
	// mean |w| = 1.5, lambda = 2
	if got := b.RegError(); math.Abs(got-3.0) > 1e-12 {
		t.Fatalf("reg error = %v, want 3", got)
	}
}

func TestMLPShapeAndReg(t *testing.T) {
	t.Parallel()
	b := NewMLP(3, 2, []int{4, 4}, relu, LassoFactory(false, 1.0), 1)
	if b.InFeatures() != 3 || b.OutFeatures() != 2 {
		t.Fatalf("dims = %d -> %d", b.InFeatures(), b.OutFeatures())
	}
	y, err := b.Forward(tensor.NewMatrix(5, 3))
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	if y.R != 5 || y.C != 2 {
		t.Fatalf("output shape = %v", y.Shape())
	}
	if b.RegError() <= 0 {
		t.Fatalf("lasso mlp reg error = %v, want > 0", b.RegError())
	}
}

func TestResMLPShape(t *testing.T) {
	t.Parallel()
	b := NewResMLP(3, 2, []int{4, 4, 4}, math.Tanh, PlainLinear(true), 3)
	x := tensor.NewMatrix(2, 3)
	tensor.FillRand(x, 9)
	y, err := b.Forward(x)
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	if y.R != 2 || y.C != 2 {
		t.Fatalf("output shape = %v", y.Shape())
	}
}

func TestActivationByName(t *testing.T) {
	t.Parallel()
	for _, name := range []string{"relu", "gelu", "tanh", "sigmoid", "elu"} {
		if _, err := ActivationByName(name); err != nil {
			t.Fatalf("activation %q: %v", name, err)
		}
	}
	if _, err := ActivationByName("softmax"); err == nil {
		t.Fatal("expected error for unsupported activation")
	}
}

func TestMLPParametersStableCount(t *testing.T) {
	t.Parallel()
	b := NewMLP(2, 2, []int{3}, relu, PlainLinear(true), 5)
	params := b.Parameters()
	// two layers, each weight + bias
	if len(params) != 4 {
		t.Fatalf("parameter count = %d, want 4", len(params))
	}
}
