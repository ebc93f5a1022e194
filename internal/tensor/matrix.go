package tensor

import "math/rand"

// Matrix represents a dense row-major matrix of float64 values.
//
// By convention rows index the batch and columns index features. Stride is
// the number of elements between the starts of two consecutive rows; for
// matrices that own their storage it equals C, for views into a Series it
// also equals C because step slabs are contiguous.
//
// Matrix does not perform any memory safety beyond the checks performed by
// Go's slice types; out-of-range indices will panic.
type Matrix struct {
	R, C   int
	Stride int
	Data   []float64
}

// NewMatrix allocates a zero-initialised r x c matrix.
func NewMatrix(r, c int) *Matrix {
	if r < 0 || c < 0 {
		panic("negative dimension for matrix")
	}
	return &Matrix{R: r, C: c, Stride: c, Data: make([]float64, r*c)}
}

// NewMatrixFromData creates a matrix backed by data. It checks that the data
// length matches r*c.
func NewMatrixFromData(r, c int, data []float64) *Matrix {
	if r*c != len(data) {
		panic("data length mismatch")
	}
	return &Matrix{R: r, C: c, Stride: c, Data: data}
}

// Shape implements Value.
func (m *Matrix) Shape() []int { return []int{m.R, m.C} }

// Row returns a view of the i-th row. Modifications to the returned slice
// update the underlying matrix values.
func (m *Matrix) Row(i int) []float64 {
	if i < 0 || i >= m.R {
		panic("row index out of range")
	}
	start := i * m.Stride
	return m.Data[start : start+m.C]
}

// At returns the element at row i, column j.
func (m *Matrix) At(i, j int) float64 {
	if j < 0 || j >= m.C {
		panic("column index out of range")
	}
	return m.Row(i)[j]
}

// Set assigns the element at row i, column j.
func (m *Matrix) Set(i, j int, v float64) {
	if j < 0 || j >= m.C {
		panic("column index out of range")
	}
	m.Row(i)[j] = v
}

// Clone returns a matrix with its own copy of the data.
func (m *Matrix) Clone() *Matrix {
	out := NewMatrix(m.R, m.C)
	for i := 0; i < m.R; i++ {
		copy(out.Row(i), m.Row(i))
	}
	return out
}

// FillRand fills the matrix with reproducible pseudo-random values in a small
// range around zero. The seed controls the sequence; equal seeds produce
// identical matrices.
func FillRand(m *Matrix, seed int64) {
	rng := rand.New(rand.NewSource(seed))
	for i := 0; i < m.R; i++ {
		row := m.Row(i)
		for j := range row {
			row[j] = (rng.Float64() - 0.5) * 0.02
		}
	}
}

// Scalar is a 0-dimensional value, used for aggregate quantities such as a
// regularization error.
type Scalar float64

// Shape implements Value.
func (Scalar) Shape() []int { return nil }

// Value is implemented by every tensor kind that can travel inside a Bag:
// Scalar, *Matrix and *Series.
type Value interface {
	Shape() []int
}
