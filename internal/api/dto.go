package api

import (
	json "github.com/goccy/go-json"
)

// SimulateRequest asks the server to roll out a registered model over the
// horizon implied by the supplied tensor bag.
type SimulateRequest struct {
	Model  string          `json:"model"`
	Inputs json.RawMessage `json:"inputs"`
}

// SimulateResponse carries the simulation outputs and the recorded run.
type SimulateResponse struct {
	RunID      string          `json:"run_id"`
	Model      string          `json:"model"`
	Outputs    json.RawMessage `json:"outputs"`
	RegError   float64         `json:"reg_error"`
	DurationMS float64         `json:"duration_ms"`
}

// ModelInfo describes a registered model.
type ModelInfo struct {
	Name   string `json:"name"`
	Family string `json:"family"`
	Kind   string `json:"kind,omitempty"`
}

// APIError is the error payload shape.
type APIError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}
