// Package api exposes model simulation and run records over HTTP.
package api

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v5"

	"github.com/dynoml/dyno/internal/build"
	"github.com/dynoml/dyno/internal/dataflow"
	"github.com/dynoml/dyno/internal/logger"
	"github.com/dynoml/dyno/internal/runstore"
	"github.com/dynoml/dyno/internal/tensor"
)

// Server serves simulation requests against a set of registered models and
// records each run in a run store.
type Server struct {
	mu     sync.Mutex // models are not safe for concurrent forward calls
	models map[string]*build.Model

	store runstore.Store
	log   logger.Logger
	clock func() time.Time
	newID func() string
}

// NewServer builds a server over the given run store.
func NewServer(store runstore.Store, log logger.Logger) *Server {
	if log == nil {
		log = logger.Default()
	}
	return &Server{
		models: make(map[string]*build.Model),
		store:  store,
		log:    log,
		clock:  time.Now,
		newID:  uuid.NewString,
	}
}

// AddModel registers a model under its instance name. The last registration
// for a name wins.
func (s *Server) AddModel(name string, m *build.Model) {
	if name == "" {
		name = m.Spec.Name
	}
	if name == "" {
		name = build.DefaultName(m.Spec.Family)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.models[name] = m
}

// Register wires the server's routes into the echo instance.
func (s *Server) Register(e *echo.Echo) {
	e.GET("/healthz", s.handleHealth)
	e.GET("/v1/models", s.handleListModels)
	e.POST("/v1/simulate", s.handleSimulate)
	e.GET("/v1/runs", s.handleListRuns)
	e.GET("/v1/runs/:id", s.handleGetRun)
	e.DELETE("/v1/runs/:id", s.handleDeleteRun)
}

func (s *Server) handleHealth(c *echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListModels(c *echo.Context) error {
	s.mu.Lock()
	infos := make([]ModelInfo, 0, len(s.models))
	for name, m := range s.models {
		infos = append(infos, ModelInfo{Name: name, Family: m.Spec.Family, Kind: m.Spec.Kind})
	}
	s.mu.Unlock()
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return c.JSON(http.StatusOK, map[string]any{"models": infos})
}

func (s *Server) handleSimulate(c *echo.Context) error {
	req, err := decodeJSON[SimulateRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	if req.Model == "" {
		return writeBadRequest(c, "model is required")
	}
	inputs, err := dataflow.UnmarshalBag(req.Inputs)
	if err != nil {
		return writeBadRequest(c, fmt.Sprintf("inputs: %v", err))
	}

	s.mu.Lock()
	model, ok := s.models[req.Model]
	if !ok {
		s.mu.Unlock()
		return writeNotFound(c, fmt.Sprintf("model %q not registered", req.Model))
	}
	start := s.clock()
	out, err := model.Forward(inputs)
	elapsed := s.clock().Sub(start)
	s.mu.Unlock()
	if err != nil {
		return writeBadRequest(c, err.Error())
	}

	run := runstore.Run{
		ID:        s.newID(),
		Model:     req.Model,
		Family:    model.Spec.Family,
		Kind:      model.Spec.Kind,
		RegError:  bagRegError(out),
		Duration:  elapsed,
		CreatedAt: start,
	}
	run.Steps, run.Batch = bagTrajectoryShape(out)
	if err := s.store.SaveRun(c.Request().Context(), run); err != nil {
		s.log.Error("save run", "id", run.ID, "error", err)
		return writeServerError(c, "failed to record run")
	}
	s.log.Info("simulated", "model", req.Model, "run", run.ID,
		"steps", run.Steps, "batch", run.Batch, "duration", elapsed)

	payload, err := dataflow.MarshalBag(out)
	if err != nil {
		return writeServerError(c, err.Error())
	}
	return c.JSON(http.StatusOK, SimulateResponse{
		RunID:      run.ID,
		Model:      req.Model,
		Outputs:    payload,
		RegError:   run.RegError,
		DurationMS: float64(elapsed) / float64(time.Millisecond),
	})
}

func (s *Server) handleListRuns(c *echo.Context) error {
	runs, err := s.store.ListRuns(c.Request().Context())
	if err != nil {
		return writeServerError(c, err.Error())
	}
	if runs == nil {
		runs = []runstore.Run{}
	}
	return c.JSON(http.StatusOK, map[string]any{"runs": runs})
}

func (s *Server) handleGetRun(c *echo.Context) error {
	id := c.Param("id")
	run, ok, err := s.store.GetRun(c.Request().Context(), id)
	if err != nil {
		return writeServerError(c, err.Error())
	}
	if !ok {
		return writeNotFound(c, fmt.Sprintf("run %q not found", id))
	}
	return c.JSON(http.StatusOK, run)
}

func (s *Server) handleDeleteRun(c *echo.Context) error {
	id := c.Param("id")
	_, ok, err := s.store.GetRun(c.Request().Context(), id)
	if err != nil {
		return writeServerError(c, err.Error())
	}
	if !ok {
		return writeNotFound(c, fmt.Sprintf("run %q not found", id))
	}
	if err := s.store.DeleteRun(c.Request().Context(), id); err != nil {
		return writeServerError(c, err.Error())
	}
	return c.JSON(http.StatusOK, map[string]any{"id": id, "deleted": true})
}

// bagRegError extracts the instance-tagged regularization scalar.
func bagRegError(out dataflow.Bag) float64 {
	for key, v := range out {
		if strings.HasPrefix(key, "reg_error") {
			if s, ok := v.(tensor.Scalar); ok {
				return float64(s)
			}
		}
	}
	return 0
}

// bagTrajectoryShape reports the steps and batch of the predicted
// trajectories.
func bagTrajectoryShape(out dataflow.Bag) (steps, batch int) {
	for _, v := range out {
		if s, ok := v.(*tensor.Series); ok {
			return s.Steps, s.Batch
		}
	}
	return 0, 0
}
