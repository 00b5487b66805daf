package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"discovery-flow/backend/pkg/models"
)

// PostgresFlowStore is a PostgreSQL implementation of FlowStore and
// TenantStore. Row-level locking relies on SELECT ... FOR UPDATE inside a
// transaction, which serializes concurrent advancers across process
// instances, not just goroutines.
type PostgresFlowStore struct {
	db *pgxpool.Pool
}

// NewPostgresFlowStore creates a new PostgresFlowStore.
func NewPostgresFlowStore(db *pgxpool.Pool) *PostgresFlowStore {
	return &PostgresFlowStore{db: db}
}

// pgTx adapts a pgx transaction to the store Tx contract.
type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) Commit(ctx context.Context) error   { return t.tx.Commit(ctx) }
func (t *pgTx) Rollback(ctx context.Context) error { return t.tx.Rollback(ctx) }

const flowColumns = `flow_id, tenant_id, client_id, status, current_phase,
	data_import_completed, field_mapping_completed, data_cleansing_completed,
	asset_classification_completed, dependency_analysis_completed, tech_debt_assessment_completed,
	phases_completed, progress_percentage, error_message, error_phase, error_details,
	created_at, updated_at, completed_at`

// Begin opens a transaction for a load-lock-save cycle.
func (s *PostgresFlowStore) Begin(ctx context.Context) (Tx, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &pgTx{tx: tx}, nil
}

// GetForUpdate re-reads the flow row under an exclusive row lock. A second
// caller for the same flow id blocks here until the first transaction
// resolves.
func (s *PostgresFlowStore) GetForUpdate(ctx context.Context, tx Tx, flowID string) (*models.FlowRecord, error) {
	ptx, ok := tx.(*pgTx)
	if !ok {
		return nil, fmt.Errorf("transaction is not a postgres transaction")
	}
	tenantID, ok := TenantFromContext(ctx)
	if !ok {
		return nil, ErrFlowNotFound
	}
	row := ptx.tx.QueryRow(ctx,
		`SELECT `+flowColumns+` FROM flows WHERE flow_id = $1 AND tenant_id = $2 FOR UPDATE`,
		flowID, tenantID)
	return scanFlow(row)
}

// Save persists the full flow record within the locking transaction.
func (s *PostgresFlowStore) Save(ctx context.Context, tx Tx, flow *models.FlowRecord) error {
	ptx, ok := tx.(*pgTx)
	if !ok {
		return fmt.Errorf("transaction is not a postgres transaction")
	}
	_, err := ptx.tx.Exec(ctx, `
		UPDATE flows SET
			status = $3, current_phase = $4,
			data_import_completed = $5, field_mapping_completed = $6,
			data_cleansing_completed = $7, asset_classification_completed = $8,
			dependency_analysis_completed = $9, tech_debt_assessment_completed = $10,
			phases_completed = $11, progress_percentage = $12,
			error_message = $13, error_phase = $14, error_details = $15,
			updated_at = now(), completed_at = $16
		WHERE flow_id = $1 AND tenant_id = $2`,
		flow.FlowID, flow.TenantID,
		flow.Status, phaseText(flow.CurrentPhase),
		flow.DataImportCompleted, flow.FieldMappingCompleted,
		flow.DataCleansingCompleted, flow.AssetClassificationCompleted,
		flow.DependencyAnalysisCompleted, flow.TechDebtAssessmentCompleted,
		phasesText(flow.PhasesCompleted), flow.ProgressPercentage,
		flow.ErrorMessage, phaseText(flow.ErrorPhase), flow.ErrorDetails,
		flow.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save flow %s: %w", flow.FlowID, err)
	}
	return nil
}

// Create inserts a new flow record scoped to the caller's tenant.
func (s *PostgresFlowStore) Create(ctx context.Context, flow *models.FlowRecord) error {
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
	_, err := s.db.Exec(ctx, `
		INSERT INTO flows (flow_id, tenant_id, client_id, status, current_phase,
			phases_completed, progress_percentage, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now(), now())`,
		flow.FlowID, flow.TenantID, flow.ClientID, flow.Status,
		phaseText(flow.CurrentPhase), phasesText(flow.PhasesCompleted),
		flow.ProgressPercentage,
	)
	if err != nil {
		return fmt.Errorf("failed to create flow: %w", err)
	}
	return nil
}

// Get retrieves a flow by id within the caller's tenant scope.
func (s *PostgresFlowStore) Get(ctx context.Context, flowID string) (*models.FlowRecord, error) {
	tenantID, ok := TenantFromContext(ctx)
	if !ok {
		return nil, ErrFlowNotFound
	}
	row := s.db.QueryRow(ctx,
		`SELECT `+flowColumns+` FROM flows WHERE flow_id = $1 AND tenant_id = $2`,
		flowID, tenantID)
	return scanFlow(row)
}

// List returns all non-deleted flows in the caller's tenant scope.
func (s *PostgresFlowStore) List(ctx context.Context) ([]*models.FlowRecord, error) {
	tenantID, ok := TenantFromContext(ctx)
	if !ok {
		return nil, fmt.Errorf("tenant id missing from context")
	}
	rows, err := s.db.Query(ctx,
		`SELECT `+flowColumns+` FROM flows WHERE tenant_id = $1 AND status != $2 ORDER BY created_at`,
		tenantID, models.FlowStatusDeleted)
	if err != nil {
		return nil, fmt.Errorf("failed to list flows: %w", err)
	}
	defer rows.Close()

	var flows []*models.FlowRecord
	for rows.Next() {
		flow, err := scanFlow(rows)
		if err != nil {
			return nil, err
		}
		flows = append(flows, flow)
	}
	return flows, rows.Err()
}

// Delete marks a flow deleted. Rows are never physically removed.
func (s *PostgresFlowStore) Delete(ctx context.Context, flowID string) error {
	tenantID, ok := TenantFromContext(ctx)
	if !ok {
		return ErrFlowNotFound
	}
	tag, err := s.db.Exec(ctx,
		`UPDATE flows SET status = $3, updated_at = now() WHERE flow_id = $1 AND tenant_id = $2`,
		flowID, tenantID, models.FlowStatusDeleted)
	if err != nil {
		return fmt.Errorf("failed to delete flow %s: %w", flowID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrFlowNotFound
	}
	return nil
}

// CreateTenant inserts a tenant.
func (s *PostgresFlowStore) CreateTenant(ctx context.Context, tenant *models.Tenant) error {
	if tenant.ID == "" {
		tenant.ID = uuid.New().String()
	}
	_, err := s.db.Exec(ctx,
		`INSERT INTO tenants (id, name, domain, created_at, updated_at) VALUES ($1, $2, $3, now(), now())`,
		tenant.ID, tenant.Name, tenant.Domain)
	if err != nil {
		return fmt.Errorf("failed to create tenant: %w", err)
	}
	return nil
}

// GetTenantByDomain looks a tenant up by its domain.
func (s *PostgresFlowStore) GetTenantByDomain(ctx context.Context, domain string) (*models.Tenant, error) {
	var t models.Tenant
	err := s.db.QueryRow(ctx,
		`SELECT id, name, domain, created_at, updated_at FROM tenants WHERE domain = $1`,
		domain).Scan(&t.ID, &t.Name, &t.Domain, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTenantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}
	return &t, nil
}

func scanFlow(row pgx.Row) (*models.FlowRecord, error) {
	var (
		flow         models.FlowRecord
		currentPhase *string
		errorPhase   *string
		completed    []string
	)
	err := row.Scan(
		&flow.FlowID, &flow.TenantID, &flow.ClientID, &flow.Status, &currentPhase,
		&flow.DataImportCompleted, &flow.FieldMappingCompleted, &flow.DataCleansingCompleted,
		&flow.AssetClassificationCompleted, &flow.DependencyAnalysisCompleted, &flow.TechDebtAssessmentCompleted,
		&completed, &flow.ProgressPercentage, &flow.ErrorMessage, &errorPhase, &flow.ErrorDetails,
		&flow.CreatedAt, &flow.UpdatedAt, &flow.CompletedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrFlowNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan flow: %w", err)
	}
	if currentPhase != nil {
		p := models.Phase(*currentPhase)
		flow.CurrentPhase = &p
	}
	if errorPhase != nil {
		p := models.Phase(*errorPhase)
		flow.ErrorPhase = &p
	}
	for _, p := range completed {
		flow.PhasesCompleted = append(flow.PhasesCompleted, models.Phase(p))
	}
	return &flow, nil
}

func phaseText(p *models.Phase) *string {
	if p == nil {
		return nil
	}
	s := string(*p)
	return &s
}

func phasesText(phases []models.Phase) []string {
	out := make([]string, 0, len(phases))
	for _, p := range phases {
		out = append(out, string(p))
	}
	return out
}
