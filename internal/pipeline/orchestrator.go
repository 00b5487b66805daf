package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"discovery-flow/backend/internal/logging"
)

// Config tunes result aggregation.
type Config struct {
	// ConfidenceThreshold is the overall confidence below which a run with
	// no failed or partial agents is still reported partial.
	ConfidenceThreshold float64
	// WeightStep is the per-position increment of the confidence weights:
	// agent i weighs 1 + WeightStep*i. Later agents are presumed more
	// informed about earlier output's correctness.
	WeightStep float64
}

// DefaultConfig returns the standard aggregation tuning.
func DefaultConfig() Config {
	return Config{ConfidenceThreshold: 70, WeightStep: 0.2}
}

// RunRecord is one entry of the orchestrator's execution-history log, its
// only cross-run state.
type RunRecord struct {
	RunID     string
	FlowID    string
	Status    PipelineStatus
	StartedAt time.Time
	Duration  time.Duration
}

// Orchestrator executes the configured steps strictly in order, once per
// run. Runs are independent and re-entrant.
type Orchestrator struct {
	steps  []Step
	cfg    Config
	logger *logging.Logger
	runs   metric.Int64Counter

	mu      sync.Mutex
	history []RunRecord
}

// NewOrchestrator creates an Orchestrator over the given steps.
func NewOrchestrator(steps []Step, cfg Config, logger *logging.Logger) *Orchestrator {
	if cfg.ConfidenceThreshold <= 0 {
		cfg.ConfidenceThreshold = DefaultConfig().ConfidenceThreshold
	}
	if cfg.WeightStep <= 0 {
		cfg.WeightStep = DefaultConfig().WeightStep
	}
	meter := otel.Meter("discovery-flow/backend/internal/pipeline")
	runs, err := meter.Int64Counter("discovery.pipeline.runs",
		metric.WithDescription("Pipeline runs, by aggregate status"))
	if err != nil {
		logger.Warn("failed to create pipeline run counter", "error", err)
	}
	return &Orchestrator{steps: steps, cfg: cfg, logger: logger, runs: runs}
}

// Run executes every agent in order, threading data forward through the
// handoff rules, and returns one complete PipelineResult. Single-agent
// failures never abort the run; later agents attempt their work on the last
// good upstream data.
func (o *Orchestrator) Run(ctx context.Context, initial Payload, pctx Context) *PipelineResult {
	result := &PipelineResult{
		RunID:     uuid.New().String(),
		StartedAt: time.Now().UTC(),
		Summary: Summary{
			StatusCounts: make(map[AgentStatus]int),
			AgentTimings: make(map[string]time.Duration),
		},
	}
	result.Summary.RecordsIn = recordCount(initial)

	current := initial.Clone()
	for i, step := range o.steps {
		step.Agent.Reset()

		started := time.Now()
		ar := o.invoke(ctx, step.Agent, current.Clone(), pctx)
		if ar.Duration == 0 {
			ar.Duration = time.Since(started)
		}
		tagResult(ar)

		result.AgentResults = append(result.AgentResults, ar)
		result.Summary.StatusCounts[ar.Status]++
		result.Summary.AgentTimings[ar.AgentID] = ar.Duration
		result.Clarifications = append(result.Clarifications, ar.Clarifications...)
		result.Insights = append(result.Insights, ar.Insights...)

		if ar.Status == StatusFailed {
			o.logger.Warn("agent failed", "agent", ar.AgentID, "errors", ar.Errors)
			continue
		}
		if step.Handoff == nil || ar.Data == nil {
			if ar.Data != nil {
				current = ar.Data
			}
			continue
		}
		next, err := step.Handoff(ar.Data)
		if err != nil {
			// The downstream agent still runs, on the last good data.
			ar.Warnings = append(ar.Warnings,
				fmt.Sprintf("handoff after %s failed: %v", ar.AgentID, err))
			o.logger.Warn("handoff failed", "agent", ar.AgentID, "position", i, "error", err)
			continue
		}
		current = next
	}

	result.Summary.RecordsOut = recordCount(current)
	result.OverallConfidence = o.weightedConfidence(result.AgentResults)
	result.Status = o.overallStatus(result.AgentResults, result.OverallConfidence)
	result.Duration = time.Since(result.StartedAt)

	o.record(ctx, pctx, result)
	return result
}

// History returns a copy of the execution-history log.
func (o *Orchestrator) History() []RunRecord {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]RunRecord(nil), o.history...)
}

// invoke runs one agent, converting internal panics and errors into a
// synthetic failed AgentResult instead of aborting the run.
func (o *Orchestrator) invoke(ctx context.Context, agent Agent, input Payload, pctx Context) (ar *AgentResult) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("agent panicked", "agent", agent.ID(), "panic", r)
			ar = failedResult(agent.ID(), fmt.Sprintf("agent panicked: %v", r))
		}
	}()

	out, err := agent.Execute(ctx, input, pctx)
	if err != nil {
		return failedResult(agent.ID(), err.Error())
	}
	if out == nil {
		return failedResult(agent.ID(), "agent returned no result")
	}
	if out.AgentID == "" {
		out.AgentID = agent.ID()
	}
	if out.Confidence < 0 {
		out.Confidence = 0
	}
	if out.Confidence > 100 {
		out.Confidence = 100
	}
	return out
}

func (o *Orchestrator) weightedConfidence(results []*AgentResult) float64 {
	if len(results) == 0 {
		return 0
	}
	var sum, weights float64
	for i, ar := range results {
		w := 1 + o.cfg.WeightStep*float64(i)
		sum += w * ar.Confidence
		weights += w
	}
	return sum / weights
}

// overallStatus: failed beats partial beats success; a run whose agents all
// succeeded is still partial when the weighted confidence misses the
// threshold.
func (o *Orchestrator) overallStatus(results []*AgentResult, confidence float64) PipelineStatus {
	partial := false
	for _, ar := range results {
		switch ar.Status {
		case StatusFailed:
			return StatusFailed
		case StatusPartial:
			partial = true
		}
	}
	if partial || confidence < o.cfg.ConfidenceThreshold {
		return StatusPartial
	}
	return StatusSuccess
}

func (o *Orchestrator) record(ctx context.Context, pctx Context, result *PipelineResult) {
	o.mu.Lock()
	o.history = append(o.history, RunRecord{
		RunID:     result.RunID,
		FlowID:    pctx.FlowID,
		Status:    result.Status,
		StartedAt: result.StartedAt,
		Duration:  result.Duration,
	})
	o.mu.Unlock()

	if o.runs != nil {
		o.runs.Add(ctx, 1, metric.WithAttributes(
			attribute.String("status", string(result.Status))))
	}
	o.logger.Info("pipeline run finished",
		"run_id", result.RunID, "flow_id", pctx.FlowID,
		"status", result.Status, "confidence", fmt.Sprintf("%.1f", result.OverallConfidence),
		"duration", result.Duration)
}

func failedResult(agentID, reason string) *AgentResult {
	return &AgentResult{
		AgentID:    agentID,
		Status:     StatusFailed,
		Confidence: 0,
		Errors:     []string{reason},
	}
}

// tagResult stamps the originating agent id onto clarifications and
// insights so concatenated pipeline views stay attributable.
func tagResult(ar *AgentResult) {
	for i := range ar.Clarifications {
		if ar.Clarifications[i].AgentID == "" {
			ar.Clarifications[i].AgentID = ar.AgentID
		}
	}
	for i := range ar.Insights {
		if ar.Insights[i].AgentID == "" {
			ar.Insights[i].AgentID = ar.AgentID
		}
	}
}

func recordCount(p Payload) int {
	if c, ok := p.(Countable); ok {
		return c.RecordCount()
	}
	return 0
}
