package dataflow

import (
	"fmt"

	json "github.com/goccy/go-json"

	"github.com/dynoml/dyno/internal/tensor"
)

// MarshalBag encodes a bag as a JSON object. Scalars encode as numbers,
// matrices as 2-D arrays (rows = batch) and series as 3-D arrays
// (leading axis = time).
func MarshalBag(b Bag) ([]byte, error) {
	out := make(map[string]any, len(b))
	for key, v := range b {
		switch t := v.(type) {
		case tensor.Scalar:
			out[key] = float64(t)
		case *tensor.Matrix:
			rows := make([][]float64, t.R)
			for i := 0; i < t.R; i++ {
				rows[i] = append([]float64(nil), t.Row(i)...)
			}
			out[key] = rows
		case *tensor.Series:
			steps := make([][][]float64, t.Steps)
			for i := 0; i < t.Steps; i++ {
				step := t.Step(i)
				rows := make([][]float64, step.R)
				for r := 0; r < step.R; r++ {
					rows[r] = append([]float64(nil), step.Row(r)...)
				}
				steps[i] = rows
			}
			out[key] = steps
		default:
			return nil, fmt.Errorf("key %q: unsupported tensor shape %v", key, v.Shape())
		}
	}
	return json.Marshal(out)
}

// UnmarshalBag decodes a JSON object produced by MarshalBag. The rank of each
// value is inferred from its nesting depth.
func UnmarshalBag(data []byte) (Bag, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode bag: %w", err)
	}
	bag := make(Bag, len(raw))
	for key, msg := range raw {
		v, err := decodeValue(msg)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", key, err)
		}
		bag[key] = v
	}
	return bag, nil
}

func decodeValue(msg json.RawMessage) (tensor.Value, error) {
	var scalar float64
	if err := json.Unmarshal(msg, &scalar); err == nil {
		return tensor.Scalar(scalar), nil
	}
	var mat [][]float64
	if err := json.Unmarshal(msg, &mat); err == nil {
		return matrixFromRows(mat)
	}
	var ser [][][]float64
	if err := json.Unmarshal(msg, &ser); err == nil {
		return seriesFromSteps(ser)
	}
	return nil, fmt.Errorf("value is not a scalar, 2-D or 3-D numeric array")
}

func matrixFromRows(rows [][]float64) (*tensor.Matrix, error) {
	if len(rows) == 0 {
		return nil, fmt.Errorf("empty matrix")
	}
	cols := len(rows[0])
	m := tensor.NewMatrix(len(rows), cols)
	for i, row := range rows {
		if len(row) != cols {
			return nil, fmt.Errorf("ragged matrix: row %d has %d columns, want %d", i, len(row), cols)
		}
		copy(m.Row(i), row)
	}
	return m, nil
}

func seriesFromSteps(steps [][][]float64) (*tensor.Series, error) {
	if len(steps) == 0 {
		return nil, fmt.Errorf("empty series")
	}
	first, err := matrixFromRows(steps[0])
	if err != nil {
		return nil, err
	}
	s := tensor.NewSeries(len(steps), first.R, first.C)
	for i, rows := range steps {
		m, err := matrixFromRows(rows)
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
		if m.R != first.R || m.C != first.C {
			return nil, fmt.Errorf("step %d: shape %v does not match step 0 shape %v", i, m.Shape(), first.Shape())
		}
		dst := s.Step(i)
		for r := 0; r < m.R; r++ {
			copy(dst.Row(r), m.Row(r))
		}
	}
	return s, nil
}
