package dataflow

import (
	"errors"
	"reflect"
	"testing"

	"github.com/dynoml/dyno/internal/tensor"
)

func TestPortsDefaultIdentity(t *testing.T) {
	t.Parallel()
	p, err := NewPorts([]string{"x0", "Yf"}, []string{"X_pred"}, "", nil)
	if err != nil {
		t.Fatalf("NewPorts: %v", err)
	}
	if got := p.In("x0"); got != "x0" {
		t.Fatalf("In(x0) = %q, want x0", got)
	}
	if got := p.OutputKeys(); !reflect.DeepEqual(got, []string{"X_pred"}) {
		t.Fatalf("output keys = %v", got)
	}
}

func TestPortsExplicitIdentityMatchesDefault(t *testing.T) {
	t.Parallel()
	def, err := NewPorts([]string{"x0", "Yf"}, []string{"X_pred", "Y_pred"}, "dyn", nil)
	if err != nil {
		t.Fatalf("NewPorts: %v", err)
	}
	explicit, err := NewPorts([]string{"x0", "Yf"}, []string{"X_pred", "Y_pred"}, "dyn",
		map[string]string{"x0": "x0", "Yf": "Yf"})
	if err != nil {
		t.Fatalf("NewPorts explicit: %v", err)
	}
	if !reflect.DeepEqual(def.InputKeys(), explicit.InputKeys()) {
		t.Fatalf("input keys differ: %v vs %v", def.InputKeys(), explicit.InputKeys())
	}
	if !reflect.DeepEqual(def.OutputKeys(), explicit.OutputKeys()) {
		t.Fatalf("output keys differ: %v vs %v", def.OutputKeys(), explicit.OutputKeys())
	}
}

func TestPortsRemapAndNameSuffix(t *testing.T) {
	t.Parallel()
	p, err := NewPorts([]string{"x0", "Yf"}, []string{"X_pred"}, "dynamics",
		map[string]string{"x0": "x0_estim"})
	if err != nil {
		t.Fatalf("NewPorts: %v", err)
	}
	if got := p.In("x0"); got != "x0_estim" {
		t.Fatalf("In(x0) = %q, want x0_estim", got)
	}
	if got := p.In("Yf"); got != "Yf" {
		t.Fatalf("In(Yf) = %q, want Yf", got)
	}
	if got := p.Out("X_pred"); got != "X_pred_dynamics" {
		t.Fatalf("Out(X_pred) = %q", got)
	}
}

func TestPortsRejectsCollapsingRemap(t *testing.T) {
	t.Parallel()
	_, err := NewPorts([]string{"x0", "Yf"}, nil, "", map[string]string{"x0": "Yf"})
	if err == nil {
		t.Fatal("expected error for remap collapsing two defaults onto one key")
	}
}

func TestPortsRejectsUnknownDefault(t *testing.T) {
	t.Parallel()
	_, err := NewPorts([]string{"x0"}, nil, "", map[string]string{"bogus": "x"})
	if err == nil {
		t.Fatal("expected error for remapping a non-default key")
	}
}

func TestBagMissingKey(t *testing.T) {
	t.Parallel()
	b := Bag{}
	if _, err := b.Matrix("x0"); !errors.Is(err, ErrMissingInput) {
		t.Fatalf("err = %v, want ErrMissingInput", err)
	}
	if _, err := b.Series("Yf"); !errors.Is(err, ErrMissingInput) {
		t.Fatalf("err = %v, want ErrMissingInput", err)
	}
}

func TestBagRankMismatch(t *testing.T) {
	t.Parallel()
	b := Bag{"x0": tensor.NewMatrix(1, 2)}
	if _, err := b.Series("x0"); err == nil {
		t.Fatal("expected rank error reading matrix as series")
	}
	if errors.Is(func() error { _, err := b.Series("x0"); return err }(), ErrMissingInput) {
		t.Fatal("rank error must not be a missing-input error")
	}
}

func TestBagCodecRoundTrip(t *testing.T) {
	t.Parallel()
	s := tensor.NewSeries(2, 1, 2)
	s.Step(0).Set(0, 0, 1)
	s.Step(1).Set(0, 1, 4)
	in := Bag{
		"x0":        tensor.NewMatrixFromData(1, 2, []float64{0.5, -0.5}),
		"Yf":        s,
		"reg_error": tensor.Scalar(3.25),
	}
	data, err := MarshalBag(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	out, err := UnmarshalBag(data)
	if err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	x0, err := out.Matrix("x0")
	if err != nil {
		t.Fatalf("x0: %v", err)
	}
	if x0.At(0, 1) != -0.5 {
		t.Fatalf("x0 = %v", x0.Row(0))
	}
	yf, err := out.Series("Yf")
	if err != nil {
		t.Fatalf("Yf: %v", err)
	}
	if yf.Steps != 2 || yf.Step(1).At(0, 1) != 4 {
		t.Fatalf("Yf round trip mismatch: %v", yf.Shape())
	}
	reg, err := out.Scalar("reg_error")
	if err != nil || reg != 3.25 {
		t.Fatalf("reg_error = %v (%v)", reg, err)
	}
}

func TestUnmarshalBagRejectsRagged(t *testing.T) {
	t.Parallel()
	if _, err := UnmarshalBag([]byte(`{"x0": [[1,2],[3]]}`)); err == nil {
		t.Fatal("expected error for ragged matrix")
	}
}
