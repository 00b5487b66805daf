package repository

import (
	"context"
	"errors"

	"discovery-flow/backend/pkg/models"
)

// ErrFlowNotFound is returned when a flow id does not exist or is outside
// the caller's tenant scope. The two cases are deliberately
// indistinguishable to callers.
var ErrFlowNotFound = errors.New("flow not found")

// ErrTenantNotFound is returned when no tenant matches the lookup.
var ErrTenantNotFound = errors.New("tenant not found")

// Tx is one locking transaction. The row lock taken by GetForUpdate is held
// until Commit or Rollback resolves the transaction.
type Tx interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// FlowStore is the persistence contract for flow records. All phase
// mutation goes through the GetForUpdate/Save pair inside one Tx; the
// remaining methods are plain tenant-scoped reads and lifecycle calls.
type FlowStore interface {
	// Begin opens a transaction for a load-lock-save cycle.
	Begin(ctx context.Context) (Tx, error)
	// GetForUpdate re-reads the flow row under an exclusive row lock.
	GetForUpdate(ctx context.Context, tx Tx, flowID string) (*models.FlowRecord, error)
	// Save persists the full flow record within the locking transaction.
	Save(ctx context.Context, tx Tx, flow *models.FlowRecord) error

	// Create inserts a new flow record.
	Create(ctx context.Context, flow *models.FlowRecord) error
	// Get retrieves a flow by id within the caller's tenant scope.
	Get(ctx context.Context, flowID string) (*models.FlowRecord, error)
	// List returns all non-deleted flows in the caller's tenant scope.
	List(ctx context.Context) ([]*models.FlowRecord, error)
	// Delete marks a flow deleted. Rows are never physically removed.
	Delete(ctx context.Context, flowID string) error
}

// TenantStore manages the tenant scoping entities.
type TenantStore interface {
	CreateTenant(ctx context.Context, tenant *models.Tenant) error
	GetTenantByDomain(ctx context.Context, domain string) (*models.Tenant, error)
}

// tenantKey is the context key carrying the caller's tenant id. The auth
// middleware sets it; stores read it to scope every query.
type tenantKey struct{}

// WithTenant returns a context scoped to the given tenant id.
func WithTenant(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, tenantKey{}, tenantID)
}

// TenantFromContext extracts the tenant id set by WithTenant.
func TenantFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(tenantKey{}).(string)
	return id, ok && id != ""
}
