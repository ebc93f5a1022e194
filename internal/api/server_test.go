package api

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v5"

	"github.com/dynoml/dyno/internal/build"
	"github.com/dynoml/dyno/internal/logger"
	"github.com/dynoml/dyno/internal/runstore"
)

func newTestEcho(t *testing.T) *echo.Echo {
	t.Helper()
	store := runstore.NewMemoryStore()
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("store init: %v", err)
	}
	model, err := build.Build(build.ModelSpec{
		Family: "block",
		Kind:   "linear",
		Dims:   build.Dims{NX: 2, NY: 1, NU: 1},
		Seed:   5,
	})
	if err != nil {
		t.Fatalf("build model: %v", err)
	}
	server := NewServer(store, logger.JSON(&bytes.Buffer{}, slog.LevelError))
	server.AddModel("", model)
	e := echo.New()
	server.Register(e)
	return e
}

func doJSON(t *testing.T, e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

const simulateBody = `{
	"model": "block_ssm",
	"inputs": {
		"x0": [[0.1, 0.2]],
		"Yf": [[[0]], [[0]], [[0]]],
		"Uf": [[[1]], [[1]], [[1]]]
	}
}`

func TestHealthz(t *testing.T) {
	t.Parallel()
	rec := doJSON(t, newTestEcho(t), http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestListModels(t *testing.T) {
	t.Parallel()
	rec := doJSON(t, newTestEcho(t), http.MethodGet, "/v1/models", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d, body %s", rec.Code, rec.Body.String())
	}
	var resp struct {
		Models []ModelInfo `json:"models"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(resp.Models) != 1 || resp.Models[0].Name != "block_ssm" {
		t.Fatalf("unexpected model list: %+v", resp.Models)
	}
}

func TestSimulateAndRunLifecycle(t *testing.T) {
	t.Parallel()
	e := newTestEcho(t)

	rec := doJSON(t, e, http.MethodPost, "/v1/simulate", simulateBody)
	if rec.Code != http.StatusOK {
		t.Fatalf("simulate status %d, body %s", rec.Code, rec.Body.String())
	}
	var resp SimulateResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode simulate response: %v", err)
	}
	if resp.RunID == "" {
		t.Fatal("expected a run id")
	}
	var outputs map[string]json.RawMessage
	if err := json.Unmarshal(resp.Outputs, &outputs); err != nil {
		t.Fatalf("decode outputs: %v", err)
	}
	raw, ok := outputs["Y_pred_block_ssm"]
	if !ok {
		t.Fatalf("missing Y_pred_block_ssm in outputs: %s", resp.Outputs)
	}
	var y [][][]float64
	if err := json.Unmarshal(raw, &y); err != nil {
		t.Fatalf("decode Y_pred: %v", err)
	}
	if len(y) != 3 {
		t.Fatalf("Y_pred has %d steps, want 3", len(y))
	}

	getRec := doJSON(t, e, http.MethodGet, "/v1/runs/"+resp.RunID, "")
	if getRec.Code != http.StatusOK {
		t.Fatalf("get run status %d, body %s", getRec.Code, getRec.Body.String())
	}
	var run runstore.Run
	if err := json.Unmarshal(getRec.Body.Bytes(), &run); err != nil {
		t.Fatalf("decode run: %v", err)
	}
	if run.Steps != 3 || run.Batch != 1 {
		t.Fatalf("run shape %d x %d, want 3 x 1", run.Steps, run.Batch)
	}

	listRec := doJSON(t, e, http.MethodGet, "/v1/runs", "")
	if listRec.Code != http.StatusOK {
		t.Fatalf("list runs status %d", listRec.Code)
	}
	if !strings.Contains(listRec.Body.String(), resp.RunID) {
		t.Fatalf("run list missing %s: %s", resp.RunID, listRec.Body.String())
	}

	delRec := doJSON(t, e, http.MethodDelete, "/v1/runs/"+resp.RunID, "")
	if delRec.Code != http.StatusOK {
		t.Fatalf("delete run status %d, body %s", delRec.Code, delRec.Body.String())
	}
	if !strings.Contains(delRec.Body.String(), `"deleted":true`) {
		t.Fatalf("delete response missing deleted=true: %s", delRec.Body.String())
	}
	if rec := doJSON(t, e, http.MethodGet, "/v1/runs/"+resp.RunID, ""); rec.Code != http.StatusNotFound {
		t.Fatalf("get deleted run status %d, want 404", rec.Code)
	}
}

func TestSimulateUnknownModel(t *testing.T) {
	t.Parallel()
	rec := doJSON(t, newTestEcho(t), http.MethodPost, "/v1/simulate",
		`{"model":"nope","inputs":{"x0":[[0,0]],"Yf":[[[0]]]}}`)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status %d, want 404; body %s", rec.Code, rec.Body.String())
	}
}

func TestSimulateMissingInput(t *testing.T) {
	t.Parallel()
	rec := doJSON(t, newTestEcho(t), http.MethodPost, "/v1/simulate",
		`{"model":"block_ssm","inputs":{"Yf":[[[0]]],"Uf":[[[0]]]}}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400; body %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "missing input key") {
		t.Fatalf("expected missing input error, got: %s", rec.Body.String())
	}
}

func TestSimulateRejectsMalformedBag(t *testing.T) {
	t.Parallel()
	rec := doJSON(t, newTestEcho(t), http.MethodPost, "/v1/simulate",
		`{"model":"block_ssm","inputs":{"x0":"not a tensor"}}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status %d, want 400; body %s", rec.Code, rec.Body.String())
	}
}

func TestRunNotFound(t *testing.T) {
	t.Parallel()
	rec := doJSON(t, newTestEcho(t), http.MethodGet, "/v1/runs/absent", "")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status %d, want 404", rec.Code)
	}
}
