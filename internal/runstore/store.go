// Package runstore persists simulation run records. The default backend keeps
// runs in memory; an optional sqlite backend survives restarts.
package runstore

import (
	"context"
	"time"
)

// Run is the persisted record of one simulation call.
type Run struct {
	ID        string        `json:"id"`
	Model     string        `json:"model"`
	Family    string        `json:"family"`
	Kind      string        `json:"kind,omitempty"`
	Steps     int           `json:"steps"`
	Batch     int           `json:"batch"`
	RegError  float64       `json:"reg_error"`
	Duration  time.Duration `json:"duration"`
	CreatedAt time.Time     `json:"created_at"`
}

// Store defines persistence operations for simulation runs.
type Store interface {
	Init(ctx context.Context) error
	SaveRun(ctx context.Context, run Run) error
	GetRun(ctx context.Context, id string) (Run, bool, error)
	ListRuns(ctx context.Context) ([]Run, error)
	DeleteRun(ctx context.Context, id string) error
}
