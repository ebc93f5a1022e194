package tensor

import (
	"math"
	"testing"
)

func TestRowIsAView(t *testing.T) {
	t.Parallel()
	m := NewMatrix(2, 3)
	m.Row(1)[2] = 7
	if got := m.At(1, 2); got != 7 {
		t.Fatalf("At(1,2) = %v, want 7", got)
	}
}

func TestStepIsAView(t *testing.T) {
	t.Parallel()
	s := NewSeries(3, 2, 2)
	s.Step(1).Set(0, 1, 5)
	if got := s.Data[1*4+1]; got != 5 {
		t.Fatalf("series data = %v, want 5", got)
	}
}

func TestStackPreservesOrder(t *testing.T) {
	t.Parallel()
	a := NewMatrixFromData(1, 2, []float64{1, 2})
	b := NewMatrixFromData(1, 2, []float64{3, 4})
	s := Stack([]*Matrix{a, b})
	if s.Steps != 2 || s.Batch != 1 || s.Features != 2 {
		t.Fatalf("stack shape = %v", s.Shape())
	}
	if s.Step(1).At(0, 0) != 3 {
		t.Fatalf("step 1 = %v, want [3 4]", s.Step(1).Row(0))
	}
}

func TestConcatStepsAndSlice(t *testing.T) {
	t.Parallel()
	a := NewSeries(2, 1, 1)
	a.Step(0).Set(0, 0, 1)
	a.Step(1).Set(0, 0, 2)
	b := NewSeries(1, 1, 1)
	b.Step(0).Set(0, 0, 3)

	s := ConcatSteps(a, b)
	if s.Steps != 3 {
		t.Fatalf("steps = %d, want 3", s.Steps)
	}
	tail := s.Slice(1, 3)
	if tail.Step(0).At(0, 0) != 2 || tail.Step(1).At(0, 0) != 3 {
		t.Fatalf("slice = [%v %v], want [2 3]", tail.Step(0).At(0, 0), tail.Step(1).At(0, 0))
	}
}

func TestConcatCols(t *testing.T) {
	t.Parallel()
	a := NewMatrixFromData(2, 1, []float64{1, 2})
	b := NewMatrixFromData(2, 2, []float64{3, 4, 5, 6})
	got := ConcatCols(a, b)
	want := []float64{1, 3, 4, 2, 5, 6}
	for i, v := range want {
		if got.Data[i] != v {
			t.Fatalf("concat data = %v, want %v", got.Data, want)
		}
	}
}

func TestElementwiseOps(t *testing.T) {
	t.Parallel()
	a := NewMatrixFromData(1, 3, []float64{1, 2, 3})
	b := NewMatrixFromData(1, 3, []float64{4, 5, 6})

	sum := Add(a, b)
	prod := Mul(a, b)
	wantSum := []float64{5, 7, 9}
	wantProd := []float64{4, 10, 18}
	for j := 0; j < 3; j++ {
		if sum.At(0, j) != wantSum[j] {
			t.Fatalf("add = %v, want %v", sum.Row(0), wantSum)
		}
		if prod.At(0, j) != wantProd[j] {
			t.Fatalf("mul = %v, want %v", prod.Row(0), wantProd)
		}
	}
	// operands untouched
	if a.At(0, 0) != 1 || b.At(0, 0) != 4 {
		t.Fatal("elementwise ops mutated their operands")
	}
}

func TestApplyLinearSmall(t *testing.T) {
	t.Parallel()
	x := NewMatrixFromData(1, 2, []float64{1, 2})
	w := NewMatrixFromData(3, 2, []float64{1, 0, 0, 1, 1, 1})
	dst := NewMatrix(1, 3)
	ApplyLinear(dst, x, w, []float64{10, 20, 30})
	want := []float64{11, 22, 33}
	for j, v := range want {
		if dst.At(0, j) != v {
			t.Fatalf("linear = %v, want %v", dst.Row(0), want)
		}
	}
}

func TestApplyLinearParallelMatchesSerial(t *testing.T) {
	t.Parallel()
	const batch, in, out = 128, 32, 48
	x := NewMatrix(batch, in)
	w := NewMatrix(out, in)
	FillRand(x, 1)
	FillRand(w, 2)

	parallel := NewMatrix(batch, out)
	ApplyLinear(parallel, x, w, nil)

	serial := NewMatrix(batch, out)
	applyLinearRange(serial, x, w, nil, 0, batch)

	for i := range serial.Data {
		if math.Abs(serial.Data[i]-parallel.Data[i]) > 1e-12 {
			t.Fatalf("parallel result diverges at %d: %v vs %v", i, parallel.Data[i], serial.Data[i])
		}
	}
}

func TestFillRandDeterministic(t *testing.T) {
	t.Parallel()
	a := NewMatrix(4, 4)
	b := NewMatrix(4, 4)
	FillRand(a, 42)
	FillRand(b, 42)
	for i := range a.Data {
		if a.Data[i] != b.Data[i] {
			t.Fatal("FillRand is not deterministic for equal seeds")
		}
	}
}
