package build

import (
	"fmt"
	"io"
	"os"

	"github.com/goccy/go-json"
)

// checkpoint is the on-disk parameter format: each entry carries its shape so
// a load can verify it targets a structurally identical model.
type checkpoint struct {
	Params []checkpointParam `json:"params"`
}

type checkpointParam struct {
	Rows int       `json:"rows"`
	Cols int       `json:"cols"`
	Data []float64 `json:"data"`
}

// SaveParams writes the model's parameters as JSON.
func SaveParams(w io.Writer, m *Model) error {
	ck := checkpoint{Params: make([]checkpointParam, len(m.params))}
	for i, p := range m.params {
		cp := checkpointParam{Rows: p.R, Cols: p.C, Data: make([]float64, 0, p.R*p.C)}
		for r := 0; r < p.R; r++ {
			cp.Data = append(cp.Data, p.Row(r)...)
		}
		ck.Params[i] = cp
	}
	return json.NewEncoder(w).Encode(ck)
}

// LoadParams reads a JSON checkpoint into the model's parameters. The
// checkpoint must match the model's parameter count and shapes.
func LoadParams(r io.Reader, m *Model) error {
	var ck checkpoint
	if err := json.NewDecoder(r).Decode(&ck); err != nil {
		return fmt.Errorf("decode checkpoint: %w", err)
	}
	if len(ck.Params) != len(m.params) {
		return fmt.Errorf("checkpoint holds %d parameters, model has %d", len(ck.Params), len(m.params))
	}
	for i, cp := range ck.Params {
		p := m.params[i]
		if cp.Rows != p.R || cp.Cols != p.C {
			return fmt.Errorf("parameter %d: checkpoint shape %dx%d, model shape %dx%d",
				i, cp.Rows, cp.Cols, p.R, p.C)
		}
		if len(cp.Data) != cp.Rows*cp.Cols {
			return fmt.Errorf("parameter %d: %d values for shape %dx%d", i, len(cp.Data), cp.Rows, cp.Cols)
		}
		for r := 0; r < p.R; r++ {
			copy(p.Row(r), cp.Data[r*p.C:(r+1)*p.C])
		}
	}
	return nil
}

// SaveParamsFile writes a checkpoint to path.
func SaveParamsFile(path string, m *Model) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create checkpoint: %w", err)
	}
	defer f.Close()
	if err := SaveParams(f, m); err != nil {
		return err
	}
	return f.Close()
}

// LoadParamsFile reads a checkpoint from path.
func LoadParamsFile(path string, m *Model) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open checkpoint: %w", err)
	}
	defer f.Close()
	return LoadParams(f, m)
}
