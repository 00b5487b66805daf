package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"discovery-flow/backend/pkg/models"
)

// MemoryFlowStore is an in-memory implementation of FlowStore. A per-flow
// mutex substitutes for the database row lock, giving the same
// serialization guarantee within a single process. It backs unit tests and
// local development without Postgres.
type MemoryFlowStore struct {
	mu    sync.RWMutex
	flows map[string]*flowEntry
}

type flowEntry struct {
	mu     sync.Mutex // the "row lock"
	record *models.FlowRecord
}

// NewMemoryFlowStore creates an empty MemoryFlowStore.
func NewMemoryFlowStore() *MemoryFlowStore {
	return &MemoryFlowStore{flows: make(map[string]*flowEntry)}
}

// memTx stages writes so a rollback leaves no partial persistence, the same
// contract the postgres transaction provides.
type memTx struct {
	entry  *flowEntry
	staged *models.FlowRecord
	done   bool
}

func (t *memTx) Commit(ctx context.Context) error {
	if t.done {
		return fmt.Errorf("transaction already resolved")
	}
	t.done = true
	if t.entry != nil {
		if t.staged != nil {
			t.entry.record = t.staged
		}
		t.entry.mu.Unlock()
	}
	return nil
}

func (t *memTx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.staged = nil
	if t.entry != nil {
		t.entry.mu.Unlock()
	}
	return nil
}

// Begin opens a transaction. The lock itself is taken lazily by
// GetForUpdate, matching the FOR UPDATE semantics.
func (s *MemoryFlowStore) Begin(ctx context.Context) (Tx, error) {
	return &memTx{}, nil
}

// GetForUpdate locks the flow's mutex and returns a private copy of the
// record. Concurrent callers for the same flow block here.
func (s *MemoryFlowStore) GetForUpdate(ctx context.Context, tx Tx, flowID string) (*models.FlowRecord, error) {
	mtx, ok := tx.(*memTx)
	if !ok {
		return nil, fmt.Errorf("transaction is not a memory transaction")
	}
	entry, err := s.lookup(ctx, flowID)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	mtx.entry = entry
	return cloneFlow(entry.record), nil
}

// Save stages the record; it becomes visible on Commit.
func (s *MemoryFlowStore) Save(ctx context.Context, tx Tx, flow *models.FlowRecord) error {
	mtx, ok := tx.(*memTx)
	if !ok {
		return fmt.Errorf("transaction is not a memory transaction")
	}
	if mtx.entry == nil {
		return fmt.Errorf("save without a prior GetForUpdate")
	}
	staged := cloneFlow(flow)
	staged.UpdatedAt = time.Now().UTC()
	mtx.staged = staged
	return nil
}

// Create inserts a new flow record scoped to the caller's tenant.
func (s *MemoryFlowStore) Create(ctx context.Context, flow *models.FlowRecord) error {
	tenantID, ok := TenantFromContext(ctx)
	if !ok {
		return fmt.Errorf("tenant id missing from context")
	}
	if flow.FlowID == "" {
		flow.FlowID = uuid.New().String()
	}
	flow.TenantID = tenantID
	if flow.Status == "" {
		flow.Status = models.FlowStatusActive
	}
	now := time.Now().UTC()
	flow.CreatedAt = now
	flow.UpdatedAt = now

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.flows[flow.FlowID]; exists {
		return fmt.Errorf("flow %s already exists", flow.FlowID)
	}
	s.flows[flow.FlowID] = &flowEntry{record: cloneFlow(flow)}
	return nil
}

// Get retrieves a flow by id within the caller's tenant scope.
func (s *MemoryFlowStore) Get(ctx context.Context, flowID string) (*models.FlowRecord, error) {
	entry, err := s.lookup(ctx, flowID)
	if err != nil {
		return nil, err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	return cloneFlow(entry.record), nil
}

// List returns all non-deleted flows in the caller's tenant scope.
func (s *MemoryFlowStore) List(ctx context.Context) ([]*models.FlowRecord, error) {
	tenantID, ok := TenantFromContext(ctx)
	if !ok {
		return nil, fmt.Errorf("tenant id missing from context")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var flows []*models.FlowRecord
	for _, entry := range s.flows {
		entry.mu.Lock()
		if entry.record.TenantID == tenantID && entry.record.Status != models.FlowStatusDeleted {
			flows = append(flows, cloneFlow(entry.record))
		}
		entry.mu.Unlock()
	}
	return flows, nil
}

// Delete marks a flow deleted.
func (s *MemoryFlowStore) Delete(ctx context.Context, flowID string) error {
	entry, err := s.lookup(ctx, flowID)
	if err != nil {
		return err
	}
	entry.mu.Lock()
	defer entry.mu.Unlock()
	entry.record.Status = models.FlowStatusDeleted
	entry.record.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryFlowStore) lookup(ctx context.Context, flowID string) (*flowEntry, error) {
	tenantID, ok := TenantFromContext(ctx)
	if !ok {
		return nil, ErrFlowNotFound
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	entry, ok := s.flows[flowID]
	if !ok || entry.record.TenantID != tenantID {
		return nil, ErrFlowNotFound
	}
	return entry, nil
}

func cloneFlow(f *models.FlowRecord) *models.FlowRecord {
	out := *f
	if f.CurrentPhase != nil {
		p := *f.CurrentPhase
		out.CurrentPhase = &p
	}
	if f.ErrorPhase != nil {
		p := *f.ErrorPhase
		out.ErrorPhase = &p
	}
	if f.ErrorMessage != nil {
		m := *f.ErrorMessage
		out.ErrorMessage = &m
	}
	if f.CompletedAt != nil {
		t := *f.CompletedAt
		out.CompletedAt = &t
	}
	out.PhasesCompleted = append([]models.Phase(nil), f.PhasesCompleted...)
	out.ErrorDetails = append([]byte(nil), f.ErrorDetails...)
	return &out
}
