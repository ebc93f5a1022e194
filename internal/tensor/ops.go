package tensor

import (
	"runtime"
	"sync"
)

// AddTo adds src to dst element-wise. Shapes must match.
func AddTo(dst, src *Matrix) {
	if dst.R != src.R || dst.C != src.C {
		panic("add shape mismatch")
	}
	for i := 0; i < dst.R; i++ {
		d, s := dst.Row(i), src.Row(i)
		for j := range d {
			d[j] += s[j]
		}
	}
}

// MulTo multiplies dst by src element-wise. Shapes must match.
func MulTo(dst, src *Matrix) {
	if dst.R != src.R || dst.C != src.C {
		panic("mul shape mismatch")
	}
	for i := 0; i < dst.R; i++ {
		d, s := dst.Row(i), src.Row(i)
		for j := range d {
			d[j] *= s[j]
		}
	}
}

// Add returns a + b as a new matrix.
func Add(a, b *Matrix) *Matrix {
	out := a.Clone()
	AddTo(out, b)
	return out
}

// Mul returns the element-wise product a * b as a new matrix.
func Mul(a, b *Matrix) *Matrix {
	out := a.Clone()
	MulTo(out, b)
	return out
}

// ConcatCols concatenates matrices along the feature axis. All inputs must
// share the same row count.
func ConcatCols(ms ...*Matrix) *Matrix {
	if len(ms) == 0 {
		panic("concat of zero matrices")
	}
	rows := ms[0].R
	cols := 0
	for _, m := range ms {
		if m.R != rows {
			panic("concat row mismatch")
		}
		cols += m.C
	}
	out := NewMatrix(rows, cols)
	for i := 0; i < rows; i++ {
		dst := out.Row(i)
		off := 0
		for _, m := range ms {
			copy(dst[off:off+m.C], m.Row(i))
			off += m.C
		}
	}
	return out
}

// parallelThreshold is the number of multiply-accumulate operations below
// which ApplyLinear stays on the calling goroutine.
const parallelThreshold = 1 << 15

// ApplyLinear computes dst = x * w^T + bias for a batch of row vectors:
// x is batch x in, w is out x in, dst is batch x out. bias may be nil.
// Large batches are split across GOMAXPROCS goroutines; step-level recurrence
// stays sequential while the batch axis is data-parallel.
func ApplyLinear(dst, x, w *Matrix, bias []float64) {
	if x.C != w.C {
		panic("linear input width mismatch")
	}
	if dst.R != x.R || dst.C != w.R {
		panic("linear output shape mismatch")
	}
	if bias != nil && len(bias) != w.R {
		panic("linear bias length mismatch")
	}

	work := x.R * w.R * w.C
	workers := runtime.GOMAXPROCS(0)
	if work < parallelThreshold || workers < 2 || x.R < 2 {
		applyLinearRange(dst, x, w, bias, 0, x.R)
		return
	}
	if workers > x.R {
		workers = x.R
	}
	chunk := (x.R + workers - 1) / workers
	var wg sync.WaitGroup
	for rs := 0; rs < x.R; rs += chunk {
		re := rs + chunk
		if re > x.R {
			re = x.R
		}
		wg.Add(1)
		go func(rs, re int) {
			defer wg.Done()
			applyLinearRange(dst, x, w, bias, rs, re)
		}(rs, re)
	}
	wg.Wait()
}

func applyLinearRange(dst, x, w *Matrix, bias []float64, rs, re int) {
	for r := rs; r < re; r++ {
		in := x.Row(r)
		out := dst.Row(r)
		for o := 0; o < w.R; o++ {
			row := w.Row(o)
			var sum float64
			for j, v := range row {
				sum += v * in[j]
			}
			if bias != nil {
				sum += bias[o]
			}
			out[o] = sum
		}
	}
}
