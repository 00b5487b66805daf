package repository

import (
	"context"
	"os"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"discovery-flow/backend/pkg/models"
)

func TestPostgresFlowStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("test-db"),
		postgres.WithUsername("user"),
		postgres.WithPassword("password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2)),
	)
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Fatalf("failed to terminate container: %s", err)
		}
	}()

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		t.Fatal(err)
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		t.Fatal(err)
	}
	defer pool.Close()

	schema, err := os.ReadFile("../../migrations/schema.sql")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := pool.Exec(ctx, string(schema)); err != nil {
		t.Fatal(err)
	}

	store := NewPostgresFlowStore(pool)

	tenant := &models.Tenant{Name: "Test Tenant", Domain: "test.local"}
	require.NoError(t, store.CreateTenant(ctx, tenant))
	tctx := WithTenant(ctx, tenant.ID)

	t.Run("Create and Get", func(t *testing.T) {
		flow := &models.FlowRecord{ClientID: "client-1"}
		require.NoError(t, store.Create(tctx, flow))

		got, err := store.Get(tctx, flow.FlowID)
		require.NoError(t, err)
		assert.Equal(t, flow.FlowID, got.FlowID)
		assert.Equal(t, tenant.ID, got.TenantID)
		assert.Equal(t, models.FlowStatusActive, got.Status)
		assert.Nil(t, got.CurrentPhase)
		assert.Empty(t, got.PhasesCompleted)
	})

	t.Run("Get outside tenant scope", func(t *testing.T) {
		flow := &models.FlowRecord{ClientID: "client-1"}
		require.NoError(t, store.Create(tctx, flow))

		other := WithTenant(ctx, uuid.New().String())
		_, err := store.Get(other, flow.FlowID)
		assert.ErrorIs(t, err, ErrFlowNotFound)
	})

	t.Run("Lock and Save round trip", func(t *testing.T) {
		flow := &models.FlowRecord{ClientID: "client-1"}
		require.NoError(t, store.Create(tctx, flow))

		tx, err := store.Begin(tctx)
		require.NoError(t, err)
		locked, err := store.GetForUpdate(tctx, tx, flow.FlowID)
		require.NoError(t, err)

		p := models.PhaseDataImport
		locked.CurrentPhase = &p
		locked.DataImportCompleted = true
		locked.PhasesCompleted = []models.Phase{models.PhaseDataImport}
		locked.ProgressPercentage = 16.67
		require.NoError(t, store.Save(tctx, tx, locked))
		require.NoError(t, tx.Commit(ctx))

		got, err := store.Get(tctx, flow.FlowID)
		require.NoError(t, err)
		require.NotNil(t, got.CurrentPhase)
		assert.Equal(t, models.PhaseDataImport, *got.CurrentPhase)
		assert.True(t, got.DataImportCompleted)
		assert.Equal(t, []models.Phase{models.PhaseDataImport}, got.PhasesCompleted)
	})

	t.Run("Rollback leaves no partial persistence", func(t *testing.T) {
		flow := &models.FlowRecord{ClientID: "client-1"}
		require.NoError(t, store.Create(tctx, flow))

		tx, err := store.Begin(tctx)
		require.NoError(t, err)
		locked, err := store.GetForUpdate(tctx, tx, flow.FlowID)
		require.NoError(t, err)
		p := models.PhaseDataImport
		locked.CurrentPhase = &p
		require.NoError(t, store.Save(tctx, tx, locked))
		require.NoError(t, tx.Rollback(ctx))

		got, err := store.Get(tctx, flow.FlowID)
		require.NoError(t, err)
		assert.Nil(t, got.CurrentPhase)
	})

	t.Run("Row lock serializes writers", func(t *testing.T) {
		flow := &models.FlowRecord{ClientID: "client-1"}
		require.NoError(t, store.Create(tctx, flow))

		// Two writers append their mark under the lock; both marks must
		// survive, proving neither overwrote a stale read.
		var wg sync.WaitGroup
		for i := 0; i < 2; i++ {
			wg.Add(1)
			go func(phase models.Phase) {
				defer wg.Done()
				tx, err := store.Begin(tctx)
				if err != nil {
					t.Error(err)
					return
				}
				locked, err := store.GetForUpdate(tctx, tx, flow.FlowID)
				if err != nil {
					t.Error(err)
					_ = tx.Rollback(ctx)
					return
				}
				locked.PhasesCompleted = append(locked.PhasesCompleted, phase)
				if err := store.Save(tctx, tx, locked); err != nil {
					t.Error(err)
					_ = tx.Rollback(ctx)
					return
				}
				if err := tx.Commit(ctx); err != nil {
					t.Error(err)
				}
			}([]models.Phase{models.PhaseDataImport, models.PhaseFieldMapping}[i])
		}
		wg.Wait()

		got, err := store.Get(tctx, flow.FlowID)
		require.NoError(t, err)
		assert.Len(t, got.PhasesCompleted, 2)
	})

	t.Run("Delete is soft", func(t *testing.T) {
		flow := &models.FlowRecord{ClientID: "client-1"}
		require.NoError(t, store.Create(tctx, flow))
		require.NoError(t, store.Delete(tctx, flow.FlowID))

		got, err := store.Get(tctx, flow.FlowID)
		require.NoError(t, err)
		assert.Equal(t, models.FlowStatusDeleted, got.Status)

		flows, err := store.List(tctx)
		require.NoError(t, err)
		for _, f := range flows {
			assert.NotEqual(t, flow.FlowID, f.FlowID)
		}
	})
}
