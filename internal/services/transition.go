// Package services holds the application services that sit between the
// HTTP/MCP surfaces and the repository layer. The transition coordinator is
// the only code path allowed to mutate a flow's phase state.
package services

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"discovery-flow/backend/internal/logging"
	"discovery-flow/backend/internal/phase"
	"discovery-flow/backend/internal/repository"
	"discovery-flow/backend/pkg/models"
)

// TransitionResult reports the outcome of one phase advancement. Invalid
// transitions are a reported condition, not an error: Success is false and
// Warnings explains why, with a nil error alongside.
type TransitionResult struct {
	Success       bool           `json:"success"`
	WasIdempotent bool           `json:"was_idempotent"`
	PriorPhase    *models.Phase  `json:"prior_phase,omitempty"`
	Warnings      []string       `json:"warnings,omitempty"`
}

// AdvanceOptions carries the optional overrides applied alongside a
// transition.
type AdvanceOptions struct {
	StatusOverride *models.FlowStatus
	ErrorMessage   *string
	ErrorPhase     *models.Phase
	ErrorDetails   []byte
}

// TransitionCoordinator performs phase advancements as atomic units, safe
// under concurrent callers on the same flow. The store's row lock is the
// sole correctness mechanism; it serializes advancers across process
// instances.
type TransitionCoordinator struct {
	store       repository.FlowStore
	graph       *phase.Graph
	logger      *logging.Logger
	transitions metric.Int64Counter
}

// NewTransitionCoordinator creates a new TransitionCoordinator.
func NewTransitionCoordinator(store repository.FlowStore, graph *phase.Graph, logger *logging.Logger) *TransitionCoordinator {
	meter := otel.Meter("discovery-flow/backend/internal/services")
	transitions, err := meter.Int64Counter("discovery.flow.transitions",
		metric.WithDescription("Phase transitions performed, by outcome"))
	if err != nil {
		logger.Warn("failed to create transition counter", "error", err)
	}
	return &TransitionCoordinator{
		store:       store,
		graph:       graph,
		logger:      logger,
		transitions: transitions,
	}
}

// AdvancePhase moves the flow to target as one atomic unit.
//
// A repeat request for the phase the flow already sits in succeeds with
// WasIdempotent set and mutates nothing except a possibly pending completion
// mark. An illegal transition returns Success=false with a warning and a
// nil error. A missing flow returns repository.ErrFlowNotFound. Any other
// non-nil error is an infrastructure failure; nothing was persisted and the
// caller should retry with backoff.
func (c *TransitionCoordinator) AdvancePhase(ctx context.Context, flowID string, target models.Phase, opts *AdvanceOptions) (*TransitionResult, error) {
	res := &TransitionResult{}

	tx, err := c.store.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open transition transaction: %w", err)
	}
	// No-op once the transaction committed; releases the row lock on every
	// failure path.
	defer func() { _ = tx.Rollback(ctx) }()

	flow, err := c.store.GetForUpdate(ctx, tx, flowID)
	if err != nil {
		return nil, err
	}
	res.PriorPhase = copyPhase(flow.CurrentPhase)

	// Repeat of the phase the flow already sits in. The completion check
	// still runs, but a repeat must never double-count completion.
	if flow.CurrentPhase != nil && *flow.CurrentPhase == target {
		res.Success = true
		res.WasIdempotent = true
		if c.applyCompletion(flow) {
			if err := c.store.Save(ctx, tx, flow); err != nil {
				return nil, err
			}
		}
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("failed to commit transition: %w", err)
		}
		c.count(ctx, target, "idempotent")
		return res, nil
	}

	// A current phase outside the graph means the row was corrupted by
	// something other than this coordinator. Reported, not raised, so the
	// flow stays inspectable.
	if flow.CurrentPhase != nil && !c.graph.Contains(*flow.CurrentPhase) {
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("flow %s has corrupted current phase %q", flowID, *flow.CurrentPhase))
		c.count(ctx, target, "corrupted")
		return res, nil
	}

	if !c.graph.IsValidTransition(flow.CurrentPhase, target) {
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("invalid transition from %s to %s", phaseLabel(flow.CurrentPhase), target))
		c.count(ctx, target, "invalid")
		return res, nil
	}

	if prior := flow.CurrentPhase; prior != nil {
		flow.SetPhaseFlag(*prior, true)
		if !flow.HasCompleted(*prior) {
			flow.PhasesCompleted = append(flow.PhasesCompleted, *prior)
		}
	}
	entered := target
	flow.CurrentPhase = &entered

	if opts != nil {
		if opts.StatusOverride != nil {
			flow.Status = *opts.StatusOverride
		}
		if opts.ErrorMessage != nil {
			flow.ErrorMessage = opts.ErrorMessage
		}
		if opts.ErrorPhase != nil {
			flow.ErrorPhase = opts.ErrorPhase
		}
		if opts.ErrorDetails != nil {
			flow.ErrorDetails = opts.ErrorDetails
		}
	}

	flow.ProgressPercentage = c.graph.Progress(flow)
	c.applyCompletion(flow)

	if err := c.store.Save(ctx, tx, flow); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit transition: %w", err)
	}

	res.Success = true
	c.logger.Debug("phase advanced",
		"flow_id", flowID, "from", phaseLabel(res.PriorPhase), "to", target)
	c.count(ctx, target, "advanced")
	return res, nil
}

// applyCompletion forces completed status once every tracked flag is true.
// Returns whether anything changed.
func (c *TransitionCoordinator) applyCompletion(flow *models.FlowRecord) bool {
	if !c.graph.AllComplete(flow) {
		return false
	}
	changed := false
	if flow.Status != models.FlowStatusCompleted {
		flow.Status = models.FlowStatusCompleted
		changed = true
	}
	if flow.CompletedAt == nil {
		now := time.Now().UTC()
		flow.CompletedAt = &now
		changed = true
	}
	return changed
}

func (c *TransitionCoordinator) count(ctx context.Context, target models.Phase, outcome string) {
	if c.transitions == nil {
		return
	}
	c.transitions.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("target", string(target)),
			attribute.String("outcome", outcome),
		))
}

func copyPhase(p *models.Phase) *models.Phase {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

func phaseLabel(p *models.Phase) string {
	if p == nil {
		return "<initial>"
	}
	return string(*p)
}
