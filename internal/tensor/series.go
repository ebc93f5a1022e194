package tensor

// Series is a contiguous stack of equally shaped matrices: the leading axis
// indexes the time step, the second the batch and the trailing axis features.
type Series struct {
	Steps, Batch, Features int
	Data                   []float64
}

// NewSeries allocates a zero-initialised steps x batch x features series.
func NewSeries(steps, batch, features int) *Series {
	if steps < 0 || batch < 0 || features < 0 {
		panic("negative dimension for series")
	}
	return &Series{
		Steps:    steps,
		Batch:    batch,
		Features: features,
		Data:     make([]float64, steps*batch*features),
	}
}

// Shape implements Value.
func (s *Series) Shape() []int { return []int{s.Steps, s.Batch, s.Features} }

// Step returns the i-th time slab as a batch x features matrix view. The view
// shares storage with the series.
func (s *Series) Step(i int) *Matrix {
	if i < 0 || i >= s.Steps {
		panic("step index out of range")
	}
	slab := s.Batch * s.Features
	return &Matrix{
		R:      s.Batch,
		C:      s.Features,
		Stride: s.Features,
		Data:   s.Data[i*slab : (i+1)*slab],
	}
}

// Slice returns a view covering steps [from, to).
func (s *Series) Slice(from, to int) *Series {
	if from < 0 || to < from || to > s.Steps {
		panic("step range out of range")
	}
	slab := s.Batch * s.Features
	return &Series{
		Steps:    to - from,
		Batch:    s.Batch,
		Features: s.Features,
		Data:     s.Data[from*slab : to*slab],
	}
}

// Stack copies the given matrices into a new series along a fresh leading
// time axis. All matrices must share the same shape.
func Stack(steps []*Matrix) *Series {
	if len(steps) == 0 {
		panic("stack of zero matrices")
	}
	first := steps[0]
	out := NewSeries(len(steps), first.R, first.C)
	for i, m := range steps {
		if m.R != first.R || m.C != first.C {
			panic("stack shape mismatch")
		}
		dst := out.Step(i)
		for r := 0; r < m.R; r++ {
			copy(dst.Row(r), m.Row(r))
		}
	}
	return out
}

// ConcatSteps copies a followed by b into a new series along the time axis.
func ConcatSteps(a, b *Series) *Series {
	if a.Batch != b.Batch || a.Features != b.Features {
		panic("concat shape mismatch")
	}
	out := NewSeries(a.Steps+b.Steps, a.Batch, a.Features)
	copy(out.Data, a.Data)
	copy(out.Data[len(a.Data):], b.Data)
	return out
}
