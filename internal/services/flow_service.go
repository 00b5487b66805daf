package services

import (
	"context"

	"discovery-flow/backend/internal/logging"
	"discovery-flow/backend/internal/repository"
	"discovery-flow/backend/pkg/models"
)

// FlowService manages the lifecycle of flow records outside phase
// transitions.
type FlowService struct {
	store  repository.FlowStore
	logger *logging.Logger
}

// NewFlowService creates a new FlowService.
func NewFlowService(store repository.FlowStore, logger *logging.Logger) *FlowService {
	return &FlowService{store: store, logger: logger}
}

// CreateFlow initializes a flow record for a new discovery run. The flow
// starts with no current phase; the first advance moves it into the graph.
func (s *FlowService) CreateFlow(ctx context.Context, clientID string) (*models.FlowRecord, error) {
	flow := &models.FlowRecord{
		ClientID: clientID,
		Status:   models.FlowStatusActive,
	}
	if err := s.store.Create(ctx, flow); err != nil {
		return nil, err
	}
	s.logger.Info("flow created", "flow_id", flow.FlowID, "client_id", clientID)
	return flow, nil
}

// GetFlow retrieves a flow within the caller's tenant scope.
func (s *FlowService) GetFlow(ctx context.Context, flowID string) (*models.FlowRecord, error) {
	return s.store.Get(ctx, flowID)
}

// ListFlows returns the caller's non-deleted flows.
func (s *FlowService) ListFlows(ctx context.Context) ([]*models.FlowRecord, error) {
	return s.store.List(ctx)
}

// DeleteFlow soft-deletes a flow.
func (s *FlowService) DeleteFlow(ctx context.Context, flowID string) error {
	if err := s.store.Delete(ctx, flowID); err != nil {
		return err
	}
	s.logger.Info("flow deleted", "flow_id", flowID)
	return nil
}
