package services

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"discovery-flow/backend/internal/logging"
	"discovery-flow/backend/internal/phase"
	"discovery-flow/backend/internal/repository"
	"discovery-flow/backend/pkg/models"
)

const testTenant = "tenant-1"

func newTestCoordinator(t *testing.T, graph *phase.Graph) (*TransitionCoordinator, *repository.MemoryFlowStore, context.Context) {
	t.Helper()
	store := repository.NewMemoryFlowStore()
	coord := NewTransitionCoordinator(store, graph, logging.NewLogger())
	ctx := repository.WithTenant(context.Background(), testTenant)
	return coord, store, ctx
}

func createTestFlow(t *testing.T, store *repository.MemoryFlowStore, ctx context.Context) *models.FlowRecord {
	t.Helper()
	flow := &models.FlowRecord{ClientID: "client-1"}
	require.NoError(t, store.Create(ctx, flow))
	return flow
}

func TestAdvancePhaseScenario(t *testing.T) {
	graph := phase.NewGraph([]models.Phase{
		models.PhaseDataImport,
		models.PhaseFieldMapping,
		models.PhaseDataCleansing,
	}, models.PhaseCompleted)
	coord, store, ctx := newTestCoordinator(t, graph)
	flow := createTestFlow(t, store, ctx)

	// Skipping ahead before data_import is reported, not raised.
	res, err := coord.AdvancePhase(ctx, flow.FlowID, models.PhaseFieldMapping, nil)
	require.NoError(t, err)
	assert.False(t, res.Success)
	assert.NotEmpty(t, res.Warnings)

	got, err := store.Get(ctx, flow.FlowID)
	require.NoError(t, err)
	assert.Nil(t, got.CurrentPhase, "failed advance must not mutate the flow")

	res, err = coord.AdvancePhase(ctx, flow.FlowID, models.PhaseDataImport, nil)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.False(t, res.WasIdempotent)
	assert.Nil(t, res.PriorPhase)

	got, err = store.Get(ctx, flow.FlowID)
	require.NoError(t, err)
	assert.Empty(t, got.PhasesCompleted)
	assert.Equal(t, 0.0, got.ProgressPercentage)

	res, err = coord.AdvancePhase(ctx, flow.FlowID, models.PhaseFieldMapping, nil)
	require.NoError(t, err)
	assert.True(t, res.Success)
	require.NotNil(t, res.PriorPhase)
	assert.Equal(t, models.PhaseDataImport, *res.PriorPhase)

	got, err = store.Get(ctx, flow.FlowID)
	require.NoError(t, err)
	assert.Equal(t, []models.Phase{models.PhaseDataImport}, got.PhasesCompleted)
	assert.InDelta(t, 33.33, got.ProgressPercentage, 0.01)
}

func TestAdvancePhaseIdempotent(t *testing.T) {
	coord, store, ctx := newTestCoordinator(t, phase.Default())
	flow := createTestFlow(t, store, ctx)

	_, err := coord.AdvancePhase(ctx, flow.FlowID, models.PhaseDataImport, nil)
	require.NoError(t, err)
	first, err := coord.AdvancePhase(ctx, flow.FlowID, models.PhaseFieldMapping, nil)
	require.NoError(t, err)
	assert.False(t, first.WasIdempotent)

	before, err := store.Get(ctx, flow.FlowID)
	require.NoError(t, err)

	second, err := coord.AdvancePhase(ctx, flow.FlowID, models.PhaseFieldMapping, nil)
	require.NoError(t, err)
	assert.True(t, second.Success)
	assert.True(t, second.WasIdempotent)
	require.NotNil(t, second.PriorPhase)
	assert.Equal(t, models.PhaseFieldMapping, *second.PriorPhase)

	after, err := store.Get(ctx, flow.FlowID)
	require.NoError(t, err)
	assert.Equal(t, before.PhasesCompleted, after.PhasesCompleted)
	assert.Equal(t, before.ProgressPercentage, after.ProgressPercentage)
}

func TestAdvancePhaseMonotonicity(t *testing.T) {
	graph := phase.Default()
	coord, store, ctx := newTestCoordinator(t, graph)
	flow := createTestFlow(t, store, ctx)

	targets := append(graph.Phases(), graph.Terminal())
	prevLen := 0
	for _, target := range targets {
		res, err := coord.AdvancePhase(ctx, flow.FlowID, target, nil)
		require.NoError(t, err)
		require.True(t, res.Success)

		got, err := store.Get(ctx, flow.FlowID)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, len(got.PhasesCompleted), prevLen,
			"phases_completed may only grow")
		prevLen = len(got.PhasesCompleted)
	}
}

func TestAdvancePhaseCompletion(t *testing.T) {
	graph := phase.Default()
	coord, store, ctx := newTestCoordinator(t, graph)
	flow := createTestFlow(t, store, ctx)

	for _, target := range append(graph.Phases(), graph.Terminal()) {
		_, err := coord.AdvancePhase(ctx, flow.FlowID, target, nil)
		require.NoError(t, err)
	}

	got, err := store.Get(ctx, flow.FlowID)
	require.NoError(t, err)
	assert.Equal(t, models.FlowStatusCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)
	assert.Equal(t, 100.0, got.ProgressPercentage)
	assert.Len(t, got.PhasesCompleted, len(graph.Phases()))
	completedAt := *got.CompletedAt

	// An idempotent repeat of the terminal advance keeps completion intact
	// and does not re-stamp completed_at.
	res, err := coord.AdvancePhase(ctx, flow.FlowID, graph.Terminal(), nil)
	require.NoError(t, err)
	assert.True(t, res.WasIdempotent)

	got, err = store.Get(ctx, flow.FlowID)
	require.NoError(t, err)
	assert.Equal(t, models.FlowStatusCompleted, got.Status)
	require.NotNil(t, got.CompletedAt)
	assert.Equal(t, completedAt, *got.CompletedAt)
	assert.Len(t, got.PhasesCompleted, len(graph.Phases()))
}

func TestAdvancePhaseConcurrent(t *testing.T) {
	coord, store, ctx := newTestCoordinator(t, phase.Default())
	flow := createTestFlow(t, store, ctx)

	_, err := coord.AdvancePhase(ctx, flow.FlowID, models.PhaseDataImport, nil)
	require.NoError(t, err)

	// Two racers target the same successor. The row lock serializes them:
	// exactly one performs the transition, the other lands on the
	// idempotent path.
	results := make([]*TransitionResult, 2)
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := coord.AdvancePhase(ctx, flow.FlowID, models.PhaseFieldMapping, nil)
			if err != nil {
				t.Error(err)
				return
			}
			results[i] = res
		}(i)
	}
	wg.Wait()

	idempotent := 0
	for _, res := range results {
		require.NotNil(t, res)
		require.True(t, res.Success)
		if res.WasIdempotent {
			idempotent++
		}
	}
	assert.Equal(t, 1, idempotent, "exactly one caller takes the idempotent path")

	got, err := store.Get(ctx, flow.FlowID)
	require.NoError(t, err)
	assert.Equal(t, []models.Phase{models.PhaseDataImport}, got.PhasesCompleted,
		"the transition must be counted once")
}

func TestAdvancePhaseNotFound(t *testing.T) {
	coord, _, ctx := newTestCoordinator(t, phase.Default())

	_, err := coord.AdvancePhase(ctx, "missing", models.PhaseDataImport, nil)
	assert.ErrorIs(t, err, repository.ErrFlowNotFound)
}

func TestAdvancePhaseTenantScope(t *testing.T) {
	coord, store, ctx := newTestCoordinator(t, phase.Default())
	flow := createTestFlow(t, store, ctx)

	other := repository.WithTenant(context.Background(), "tenant-2")
	_, err := coord.AdvancePhase(other, flow.FlowID, models.PhaseDataImport, nil)
	assert.ErrorIs(t, err, repository.ErrFlowNotFound,
		"flows outside the caller's tenant look absent")
}

func TestAdvancePhaseCorruptedCurrentPhase(t *testing.T) {
	coord, store, ctx := newTestCoordinator(t, phase.Default())
	flow := createTestFlow(t, store, ctx)

	// Corrupt the row behind the coordinator's back.
	tx, err := store.Begin(ctx)
	require.NoError(t, err)
	locked, err := store.GetForUpdate(ctx, tx, flow.FlowID)
	require.NoError(t, err)
	bogus := models.Phase("decommissioned")
	locked.CurrentPhase = &bogus
	require.NoError(t, store.Save(ctx, tx, locked))
	require.NoError(t, tx.Commit(ctx))

	res, err := coord.AdvancePhase(ctx, flow.FlowID, models.PhaseDataImport, nil)
	require.NoError(t, err)
	assert.False(t, res.Success)
	require.NotEmpty(t, res.Warnings)
	assert.Contains(t, res.Warnings[0], "corrupted")
}

func TestAdvancePhaseStatusOverride(t *testing.T) {
	coord, store, ctx := newTestCoordinator(t, phase.Default())
	flow := createTestFlow(t, store, ctx)

	failed := models.FlowStatusFailed
	msg := "import source unreachable"
	errPhase := models.PhaseDataImport
	res, err := coord.AdvancePhase(ctx, flow.FlowID, models.PhaseDataImport, &AdvanceOptions{
		StatusOverride: &failed,
		ErrorMessage:   &msg,
		ErrorPhase:     &errPhase,
	})
	require.NoError(t, err)
	assert.True(t, res.Success)

	got, err := store.Get(ctx, flow.FlowID)
	require.NoError(t, err)
	assert.Equal(t, models.FlowStatusFailed, got.Status)
	require.NotNil(t, got.ErrorMessage)
	assert.Equal(t, msg, *got.ErrorMessage)
	require.NotNil(t, got.ErrorPhase)
	assert.Equal(t, models.PhaseDataImport, *got.ErrorPhase)
}
