package build

import (
	"bytes"
	"testing"

	"github.com/dynoml/dyno/internal/dataflow"
	"github.com/dynoml/dyno/internal/tensor"
)

const blockYAML = `
family: block
kind: hammerstein
dims:
  nx: 3
  ny: 2
  nu: 1
hidden: [8, 8]
activation: tanh
linear:
  map: lasso
  bias: true
  lambda: 0.01
residual: true
seed: 7
`

func TestParseSpec(t *testing.T) {
	t.Parallel()
	spec, err := ParseSpec([]byte(blockYAML))
	if err != nil {
		t.Fatalf("ParseSpec: %v", err)
	}
	if spec.Family != "block" || spec.Kind != "hammerstein" {
		t.Fatalf("unexpected family/kind: %s/%s", spec.Family, spec.Kind)
	}
	if spec.Dims.NX != 3 || spec.Dims.NU != 1 {
		t.Fatalf("unexpected dims: %+v", spec.Dims)
	}
	if spec.Linear.Map != "lasso" || spec.Linear.Lambda != 0.01 {
		t.Fatalf("unexpected linear spec: %+v", spec.Linear)
	}
}

func TestParseSpecRejectsInvalid(t *testing.T) {
	t.Parallel()
	cases := []string{
		"family: warp\ndims: {nx: 1, ny: 1}",
		"family: block\nkind: cascade\ndims: {nx: 1, ny: 1}",
		"family: block\ndims: {nx: 0, ny: 1}",
		"family: block\ndims: {nx: 1, ny: 1}\nactivation: softplus",
		"family: ode\ndims: {nx: 1, ny: 1}",
		"family: ode\ndims: {nx: 1, ny: 1}\ndelay: 2\node: {step: 0.1}",
		"family: black\ndims: {nx: 1, ny: 1}\ninput_observation: true",
	}
	for _, src := range cases {
		if _, err := ParseSpec([]byte(src)); err == nil {
			t.Fatalf("spec accepted, want error:\n%s", src)
		}
	}
}

func simulate(t *testing.T, m *Model, data dataflow.Bag) dataflow.Bag {
	t.Helper()
	out, err := m.Forward(data)
	if err != nil {
		t.Fatalf("forward: %v", err)
	}
	return out
}

func TestBuildBlockFamilies(t *testing.T) {
	t.Parallel()
	for _, kind := range []string{"linear", "hammerstein", "wiener", "hw", "blocknlin"} {
		spec := ModelSpec{
			Family:   "block",
			Kind:     kind,
			Dims:     Dims{NX: 3, NY: 2, NU: 1, ND: 1},
			Hidden:   []int{6},
			ErrorMap: true,
			Seed:     3,
		}
		m, err := Build(spec)
		if err != nil {
			t.Fatalf("Build(%s): %v", kind, err)
		}
		out := simulate(t, m, dataflow.Bag{
			"x0": tensor.NewMatrix(2, 3),
			"Yf": tensor.NewSeries(5, 2, 2),
			"Uf": tensor.NewSeries(5, 2, 1),
			"Df": tensor.NewSeries(5, 2, 1),
		})
		y, err := out.Series("Y_pred_block_ssm")
		if err != nil {
			t.Fatalf("kind %s: %v", kind, err)
		}
		if y.Steps != 5 || y.Batch != 2 || y.Features != 2 {
			t.Fatalf("kind %s: Y_pred shape %v", kind, y.Shape())
		}
		for _, key := range []string{"fU_block_ssm", "fD_block_ssm", "fE_block_ssm"} {
			if _, err := out.Series(key); err != nil {
				t.Fatalf("kind %s: %s: %v", kind, key, err)
			}
		}
	}
}

func TestBuildTimeDelayBlock(t *testing.T) {
	t.Parallel()
	m, err := Build(ModelSpec{
		Family: "block",
		Kind:   "blocknlin",
		Dims:   Dims{NX: 2, NY: 1, NU: 1},
		Hidden: []int{4},
		Delay:  2,
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	out := simulate(t, m, dataflow.Bag{
		"Xtd": tensor.NewSeries(3, 1, 2),
		"Yf":  tensor.NewSeries(4, 1, 1),
		"Uf":  tensor.NewSeries(4, 1, 1),
		"Up":  tensor.NewSeries(2, 1, 1),
	})
	x, err := out.Series("X_pred_block_ssm")
	if err != nil {
		t.Fatalf("X_pred: %v", err)
	}
	if x.Steps != 4 || x.Features != 2 {
		t.Fatalf("X_pred shape %v", x.Shape())
	}
}

func TestBuildBlackWithDelay(t *testing.T) {
	t.Parallel()
	m, err := Build(ModelSpec{
		Family: "black",
		Name:   "plant",
		Dims:   Dims{NX: 2, NY: 2, NU: 1, ND: 1},
		Hidden: []int{5},
		Delay:  1,
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	out := simulate(t, m, dataflow.Bag{
		"Xtd": tensor.NewSeries(2, 1, 2),
		"Yf":  tensor.NewSeries(3, 1, 2),
		"Uf":  tensor.NewSeries(3, 1, 1),
		"Up":  tensor.NewSeries(1, 1, 1),
		"Df":  tensor.NewSeries(3, 1, 1),
		"Dp":  tensor.NewSeries(1, 1, 1),
	})
	if _, err := out.Series("Y_pred_plant"); err != nil {
		t.Fatalf("Y_pred_plant: %v", err)
	}
}

func TestBuildODEVariants(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name string
		spec ModelSpec
		bag  dataflow.Bag
		want string
	}{
		{
			name: "auto single-step",
			spec: ModelSpec{
				Family: "ode",
				Dims:   Dims{NX: 2, NY: 1},
				Hidden: []int{4},
				ODE:    ODESpec{Scheme: "rk4", Step: 0.1},
			},
			bag: dataflow.Bag{
				"x0": tensor.NewMatrix(1, 2),
				"Yf": tensor.NewSeries(3, 1, 1),
			},
			want: "Y_pred_dynamics",
		},
		{
			name: "forced online",
			spec: ModelSpec{
				Family: "ode",
				Dims:   Dims{NX: 2, NY: 1, NU: 1},
				Hidden: []int{4},
				ODE:    ODESpec{Scheme: "rk2", Step: 0.1, Online: true},
			},
			bag: dataflow.Bag{
				"x0":   tensor.NewMatrix(1, 2),
				"Yf":   tensor.NewSeries(3, 1, 1),
				"Time": tensor.NewSeries(3, 1, 1),
				"Uf":   tensor.NewSeries(3, 1, 1),
			},
			want: "Y_pred_dynamics",
		},
		{
			name: "auto multi-step",
			spec: ModelSpec{
				Family: "ode",
				Dims:   Dims{NX: 2, NY: 1},
				Hidden: []int{4},
				ODE:    ODESpec{Step: 0.1, Order: 2},
			},
			bag: dataflow.Bag{
				"x0": tensor.NewSeries(2, 1, 2),
				"Yf": tensor.NewSeries(4, 1, 1),
				"Yp": tensor.NewSeries(4, 1, 1),
			},
			want: "Y_pred_dynamics",
		},
	}
	for _, tc := range cases {
		m, err := Build(tc.spec)
		if err != nil {
			t.Fatalf("%s: Build: %v", tc.name, err)
		}
		out := simulate(t, m, tc.bag)
		if _, err := out.Series(tc.want); err != nil {
			t.Fatalf("%s: %s: %v", tc.name, tc.want, err)
		}
	}
}

func TestBuildIsDeterministic(t *testing.T) {
	t.Parallel()
	spec, err := ParseSpec([]byte(blockYAML))
	if err != nil {
		t.Fatalf("ParseSpec: %v", err)
	}
	bag := dataflow.Bag{
		"x0": tensor.NewMatrix(1, 3),
		"Yf": tensor.NewSeries(4, 1, 2),
		"Uf": tensor.NewSeries(4, 1, 1),
	}
	bag["x0"].(*tensor.Matrix).Set(0, 0, 1)

	var outs [2][]float64
	for i := 0; i < 2; i++ {
		m, err := Build(spec)
		if err != nil {
			t.Fatalf("Build: %v", err)
		}
		out := simulate(t, m, bag)
		y, err := out.Series("Y_pred_block_ssm")
		if err != nil {
			t.Fatalf("Y_pred: %v", err)
		}
		outs[i] = append([]float64(nil), y.Data...)
	}
	for i := range outs[0] {
		if outs[0][i] != outs[1][i] {
			t.Fatal("same spec and seed produced different trajectories")
		}
	}
}

func TestCheckpointRoundTrip(t *testing.T) {
	t.Parallel()
	spec := ModelSpec{
		Family: "block",
		Kind:   "linear",
		Dims:   Dims{NX: 2, NY: 1, NU: 1},
		Seed:   11,
	}
	src, err := Build(spec)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(src.Parameters()) == 0 {
		t.Fatal("built model exposes no parameters")
	}
	src.Parameters()[0].Set(0, 0, 42)

	var buf bytes.Buffer
	if err := SaveParams(&buf, src); err != nil {
		t.Fatalf("SaveParams: %v", err)
	}

	dst, err := Build(spec)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if err := LoadParams(&buf, dst); err != nil {
		t.Fatalf("LoadParams: %v", err)
	}
	if got := dst.Parameters()[0].At(0, 0); got != 42 {
		t.Fatalf("restored parameter = %v, want 42", got)
	}
}

func TestCheckpointRejectsShapeMismatch(t *testing.T) {
	t.Parallel()
	small, err := Build(ModelSpec{Family: "block", Kind: "linear", Dims: Dims{NX: 2, NY: 1}})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	big, err := Build(ModelSpec{Family: "block", Kind: "linear", Dims: Dims{NX: 3, NY: 1}})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	var buf bytes.Buffer
	if err := SaveParams(&buf, small); err != nil {
		t.Fatalf("SaveParams: %v", err)
	}
	if err := LoadParams(&buf, big); err == nil {
		t.Fatal("expected shape mismatch error")
	}
}
