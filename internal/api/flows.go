package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/labstack/echo/v4"

	"discovery-flow/backend/internal/agents"
	"discovery-flow/backend/internal/logging"
	"discovery-flow/backend/internal/pipeline"
	"discovery-flow/backend/internal/repository"
	"discovery-flow/backend/internal/services"
	"discovery-flow/backend/pkg/models"
)

// Server holds the dependencies for the API server.
type Server struct {
	Flows        *services.FlowService
	Coordinator  *services.TransitionCoordinator
	Orchestrator *pipeline.Orchestrator
	Logger       *logging.Logger
}

// NewServer creates a new Server.
func NewServer(flows *services.FlowService, coordinator *services.TransitionCoordinator, orchestrator *pipeline.Orchestrator, logger *logging.Logger) *Server {
	return &Server{Flows: flows, Coordinator: coordinator, Orchestrator: orchestrator, Logger: logger}
}

// Register mounts all flow routes on the group.
func (s *Server) Register(g *echo.Group) {
	g.POST("/flows", s.CreateFlow)
	g.GET("/flows", s.ListFlows)
	g.GET("/flows/:id", s.GetFlow)
	g.DELETE("/flows/:id", s.DeleteFlow)
	g.POST("/flows/:id/advance", s.AdvanceFlow)
	g.POST("/flows/:id/run", s.RunPipeline)
}

type createFlowRequest struct {
	ClientID string `json:"client_id"`
}

// CreateFlow initializes a new discovery flow
// (POST /api/v1/flows)
func (s *Server) CreateFlow(c echo.Context) error {
	var req createFlowRequest
	if err := c.Bind(&req); err != nil {
		return problem(c, http.StatusBadRequest, "Invalid request", err.Error())
	}
	flow, err := s.Flows.CreateFlow(c.Request().Context(), req.ClientID)
	if err != nil {
		return problem(c, http.StatusInternalServerError, "Failed to create flow", err.Error())
	}
	return c.JSON(http.StatusCreated, flow)
}

// ListFlows returns the tenant's flows
// (GET /api/v1/flows)
func (s *Server) ListFlows(c echo.Context) error {
	flows, err := s.Flows.ListFlows(c.Request().Context())
	if err != nil {
		return problem(c, http.StatusInternalServerError, "Failed to list flows", err.Error())
	}
	if flows == nil {
		flows = []*models.FlowRecord{}
	}
	return c.JSON(http.StatusOK, flows)
}

// GetFlow returns one flow
// (GET /api/v1/flows/:id)
func (s *Server) GetFlow(c echo.Context) error {
	flow, err := s.Flows.GetFlow(c.Request().Context(), c.Param("id"))
	if errors.Is(err, repository.ErrFlowNotFound) {
		return problem(c, http.StatusNotFound, "Flow not found", c.Param("id"))
	}
	if err != nil {
		return problem(c, http.StatusInternalServerError, "Failed to get flow", err.Error())
	}
	return c.JSON(http.StatusOK, flow)
}

// DeleteFlow soft-deletes a flow
// (DELETE /api/v1/flows/:id)
func (s *Server) DeleteFlow(c echo.Context) error {
	err := s.Flows.DeleteFlow(c.Request().Context(), c.Param("id"))
	if errors.Is(err, repository.ErrFlowNotFound) {
		return problem(c, http.StatusNotFound, "Flow not found", c.Param("id"))
	}
	if err != nil {
		return problem(c, http.StatusInternalServerError, "Failed to delete flow", err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

type advanceRequest struct {
	TargetPhase models.Phase       `json:"target_phase"`
	Status      *models.FlowStatus `json:"status,omitempty"`
	ErrorMsg    *string            `json:"error_message,omitempty"`
}

// AdvanceFlow performs one phase advancement
// (POST /api/v1/flows/:id/advance)
//
// Infrastructure failures (lock timeouts, lost connections) are retried
// with exponential backoff before giving up with 503.
func (s *Server) AdvanceFlow(c echo.Context) error {
	var req advanceRequest
	if err := c.Bind(&req); err != nil {
		return problem(c, http.StatusBadRequest, "Invalid request", err.Error())
	}
	if req.TargetPhase == "" {
		return problem(c, http.StatusBadRequest, "Invalid request", "target_phase is required")
	}
	ctx := c.Request().Context()
	flowID := c.Param("id")
	opts := &services.AdvanceOptions{StatusOverride: req.Status, ErrorMessage: req.ErrorMsg}

	var result *services.TransitionResult
	operation := func() error {
		var err error
		result, err = s.Coordinator.AdvancePhase(ctx, flowID, req.TargetPhase, opts)
		if errors.Is(err, repository.ErrFlowNotFound) {
			return backoff.Permanent(err)
		}
		return err
	}
	policy := backoff.WithContext(newAdvanceBackoff(), ctx)
	if err := backoff.Retry(operation, policy); err != nil {
		if errors.Is(err, repository.ErrFlowNotFound) {
			return problem(c, http.StatusNotFound, "Flow not found", flowID)
		}
		s.Logger.Error("advance failed after retries", "flow_id", flowID, "error", err)
		return problem(c, http.StatusServiceUnavailable, "Transition unavailable", err.Error())
	}

	status := http.StatusOK
	if !result.Success {
		status = http.StatusConflict
	}
	return c.JSON(status, result)
}

type runRequest struct {
	Source  string             `json:"source"`
	Records []agents.RawRecord `json:"records"`
}

// RunPipeline executes the analysis pipeline for a flow
// (POST /api/v1/flows/:id/run)
//
// The caller persists the result before advancing the phase; the pipeline
// itself never touches the flow row.
func (s *Server) RunPipeline(c echo.Context) error {
	var req runRequest
	if err := c.Bind(&req); err != nil {
		return problem(c, http.StatusBadRequest, "Invalid request", err.Error())
	}
	ctx := c.Request().Context()

	flow, err := s.Flows.GetFlow(ctx, c.Param("id"))
	if errors.Is(err, repository.ErrFlowNotFound) {
		return problem(c, http.StatusNotFound, "Flow not found", c.Param("id"))
	}
	if err != nil {
		return problem(c, http.StatusInternalServerError, "Failed to get flow", err.Error())
	}

	initial := &agents.RawDataset{Source: req.Source, Records: req.Records}
	result := s.Orchestrator.Run(ctx, initial, pipeline.Context{
		FlowID:   flow.FlowID,
		TenantID: flow.TenantID,
		ClientID: flow.ClientID,
	})
	return c.JSON(http.StatusOK, result)
}

func newAdvanceBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxElapsedTime = 5 * time.Second
	return b
}
