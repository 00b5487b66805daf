package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"discovery-flow/backend/pkg/models"
)

func TestMemoryFlowStoreCRUD(t *testing.T) {
	store := NewMemoryFlowStore()
	ctx := WithTenant(context.Background(), "t1")

	flow := &models.FlowRecord{ClientID: "c1"}
	require.NoError(t, store.Create(ctx, flow))
	assert.NotEmpty(t, flow.FlowID)

	got, err := store.Get(ctx, flow.FlowID)
	require.NoError(t, err)
	assert.Equal(t, "t1", got.TenantID)
	assert.Equal(t, models.FlowStatusActive, got.Status)

	flows, err := store.List(ctx)
	require.NoError(t, err)
	assert.Len(t, flows, 1)

	require.NoError(t, store.Delete(ctx, flow.FlowID))
	flows, err = store.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, flows)

	// still readable after soft delete
	got, err = store.Get(ctx, flow.FlowID)
	require.NoError(t, err)
	assert.Equal(t, models.FlowStatusDeleted, got.Status)
}

func TestMemoryFlowStoreTenantIsolation(t *testing.T) {
	store := NewMemoryFlowStore()
	ctx1 := WithTenant(context.Background(), "t1")
	ctx2 := WithTenant(context.Background(), "t2")

	flow := &models.FlowRecord{ClientID: "c1"}
	require.NoError(t, store.Create(ctx1, flow))

	_, err := store.Get(ctx2, flow.FlowID)
	assert.ErrorIs(t, err, ErrFlowNotFound)

	_, err = store.Get(context.Background(), flow.FlowID)
	assert.ErrorIs(t, err, ErrFlowNotFound, "missing tenant scope looks like not found")
}

func TestMemoryFlowStoreRollbackDiscardsStagedWrite(t *testing.T) {
	store := NewMemoryFlowStore()
	ctx := WithTenant(context.Background(), "t1")

	flow := &models.FlowRecord{ClientID: "c1"}
	require.NoError(t, store.Create(ctx, flow))

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	locked, err := store.GetForUpdate(ctx, tx, flow.FlowID)
	require.NoError(t, err)
	p := models.PhaseDataImport
	locked.CurrentPhase = &p
	require.NoError(t, store.Save(ctx, tx, locked))
	require.NoError(t, tx.Rollback(ctx))

	got, err := store.Get(ctx, flow.FlowID)
	require.NoError(t, err)
	assert.Nil(t, got.CurrentPhase)
}

func TestMemoryFlowStoreGetForUpdateReturnsCopy(t *testing.T) {
	store := NewMemoryFlowStore()
	ctx := WithTenant(context.Background(), "t1")

	flow := &models.FlowRecord{ClientID: "c1"}
	require.NoError(t, store.Create(ctx, flow))

	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	locked, err := store.GetForUpdate(ctx, tx, flow.FlowID)
	require.NoError(t, err)

	// Mutating the copy without Save must not leak into the store.
	locked.Status = models.FlowStatusFailed
	require.NoError(t, tx.Commit(ctx))

	got, err := store.Get(ctx, flow.FlowID)
	require.NoError(t, err)
	assert.Equal(t, models.FlowStatusActive, got.Status)
}
