package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"discovery-flow/backend/internal/agents"
	"discovery-flow/backend/internal/logging"
	"discovery-flow/backend/internal/phase"
	"discovery-flow/backend/internal/pipeline"
	"discovery-flow/backend/internal/repository"
	"discovery-flow/backend/internal/services"
	"discovery-flow/backend/pkg/models"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	logger := logging.NewLogger()
	store := repository.NewMemoryFlowStore()
	rules, err := agents.DefaultRules()
	require.NoError(t, err)
	orchestrator := pipeline.NewOrchestrator(agents.Steps(rules, logger), pipeline.DefaultConfig(), logger)
	return NewServer(
		services.NewFlowService(store, logger),
		services.NewTransitionCoordinator(store, phase.Default(), logger),
		orchestrator,
		logger,
	)
}

// request runs one handler under a tenant-scoped context.
func request(t *testing.T, s *Server, method, path, body string, params map[string]string, handler echo.HandlerFunc) *httptest.ResponseRecorder {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req = req.WithContext(repository.WithTenant(req.Context(), "tenant-1"))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	for k, v := range params {
		c.SetParamNames(k)
		c.SetParamValues(v)
	}
	require.NoError(t, handler(c))
	return rec
}

func TestCreateAndGetFlow(t *testing.T) {
	s := newTestServer(t)

	rec := request(t, s, http.MethodPost, "/api/v1/flows", `{"client_id":"client-7"}`, nil, s.CreateFlow)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created models.FlowRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.NotEmpty(t, created.FlowID)
	assert.Equal(t, "client-7", created.ClientID)
	assert.Equal(t, models.FlowStatusActive, created.Status)

	rec = request(t, s, http.MethodGet, "/api/v1/flows/"+created.FlowID, "", map[string]string{"id": created.FlowID}, s.GetFlow)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGetFlowNotFound(t *testing.T) {
	s := newTestServer(t)

	rec := request(t, s, http.MethodGet, "/api/v1/flows/missing", "", map[string]string{"id": "missing"}, s.GetFlow)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	var prob models.ProblemDetails
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &prob))
	assert.Equal(t, http.StatusNotFound, prob.Status)
}

func TestAdvanceFlow(t *testing.T) {
	s := newTestServer(t)

	rec := request(t, s, http.MethodPost, "/api/v1/flows", `{"client_id":"client-7"}`, nil, s.CreateFlow)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created models.FlowRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	body := `{"target_phase":"data_import"}`
	rec = request(t, s, http.MethodPost, "/api/v1/flows/"+created.FlowID+"/advance", body, map[string]string{"id": created.FlowID}, s.AdvanceFlow)
	require.Equal(t, http.StatusOK, rec.Code)

	var result services.TransitionResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.True(t, result.Success)

	// Skipping ahead is rejected, reported as a conflict rather than an error.
	body = `{"target_phase":"tech_debt_assessment"}`
	rec = request(t, s, http.MethodPost, "/api/v1/flows/"+created.FlowID+"/advance", body, map[string]string{"id": created.FlowID}, s.AdvanceFlow)
	require.Equal(t, http.StatusConflict, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.False(t, result.Success)
	assert.NotEmpty(t, result.Warnings)
}

func TestAdvanceFlowMissingTarget(t *testing.T) {
	s := newTestServer(t)
	rec := request(t, s, http.MethodPost, "/api/v1/flows/x/advance", `{}`, map[string]string{"id": "x"}, s.AdvanceFlow)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdvanceFlowNotFound(t *testing.T) {
	s := newTestServer(t)
	body := `{"target_phase":"data_import"}`
	rec := request(t, s, http.MethodPost, "/api/v1/flows/missing/advance", body, map[string]string{"id": "missing"}, s.AdvanceFlow)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRunPipeline(t *testing.T) {
	s := newTestServer(t)

	rec := request(t, s, http.MethodPost, "/api/v1/flows", `{"client_id":"client-7"}`, nil, s.CreateFlow)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created models.FlowRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	body := `{"source":"csv","records":[{"hostname":"db01","os":"CentOS 6.5"}]}`
	rec = request(t, s, http.MethodPost, "/api/v1/flows/"+created.FlowID+"/run", body, map[string]string{"id": created.FlowID}, s.RunPipeline)
	require.Equal(t, http.StatusOK, rec.Code)

	var result pipeline.PipelineResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Len(t, result.AgentResults, 6)
	assert.Equal(t, 1, result.Summary.RecordsIn)
}

func TestDeleteFlow(t *testing.T) {
	s := newTestServer(t)

	rec := request(t, s, http.MethodPost, "/api/v1/flows", `{"client_id":"c"}`, nil, s.CreateFlow)
	require.Equal(t, http.StatusCreated, rec.Code)
	var created models.FlowRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))

	rec = request(t, s, http.MethodDelete, "/api/v1/flows/"+created.FlowID, "", map[string]string{"id": created.FlowID}, s.DeleteFlow)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	// Soft delete: the record stays readable with a deleted status.
	rec = request(t, s, http.MethodGet, "/api/v1/flows/"+created.FlowID, "", map[string]string{"id": created.FlowID}, s.GetFlow)
	require.Equal(t, http.StatusOK, rec.Code)
	var got models.FlowRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, models.FlowStatusDeleted, got.Status)
}
