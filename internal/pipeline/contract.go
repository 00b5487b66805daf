// Package pipeline runs the fixed ordered sequence of analysis agents and
// aggregates their results. Agents are independent; the only coupling
// between them is the per-pair handoff rule that maps one agent's output
// into the next agent's input.
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// AgentStatus classifies one agent execution.
type AgentStatus string

const (
	StatusSuccess AgentStatus = "success"
	StatusPartial AgentStatus = "partial"
	StatusFailed  AgentStatus = "failed"
)

// Payload is the data handed between agents. Clone returns a deep copy so a
// failing agent cannot corrupt data already consumed by earlier agents.
type Payload interface {
	Clone() Payload
}

// Countable is implemented by payloads that carry a countable record set;
// the orchestrator uses it for the in/out summary.
type Countable interface {
	RecordCount() int
}

// Context carries the flow identity an agent runs on behalf of. It is
// read-only for agents.
type Context struct {
	FlowID   string            `json:"flow_id"`
	TenantID string            `json:"tenant_id"`
	ClientID string            `json:"client_id"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Clarification is a structured question an agent raises for human
// resolution. The ID correlates the eventual human response.
type Clarification struct {
	ID       string   `json:"id"`
	AgentID  string   `json:"agent_id"`
	Question string   `json:"question"`
	Options  []string `json:"options,omitempty"`
	Priority string   `json:"priority"`
}

// NewClarification creates a clarification with a fresh correlation id.
func NewClarification(question string, options []string, priority string) Clarification {
	return Clarification{
		ID:       uuid.New().String(),
		Question: question,
		Options:  options,
		Priority: priority,
	}
}

// Insight is a confidence-scored observation an agent surfaces for the
// planning tools downstream.
type Insight struct {
	ID          string  `json:"id"`
	AgentID     string  `json:"agent_id"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Confidence  float64 `json:"confidence"`
	Category    string  `json:"category"`
}

// NewInsight creates an insight with a fresh id.
func NewInsight(title, description string, confidence float64, category string) Insight {
	return Insight{
		ID:          uuid.New().String(),
		Title:       title,
		Description: description,
		Confidence:  confidence,
		Category:    category,
	}
}

// AgentResult is the normalized shape every agent produces. It is immutable
// once returned; the orchestrator aggregates results, it never mutates
// them. A failed result may carry an empty Data payload.
type AgentResult struct {
	AgentID        string          `json:"agent_id"`
	Duration       time.Duration   `json:"duration"`
	Confidence     float64         `json:"confidence"` // 0..100
	Status         AgentStatus     `json:"status"`
	Data           Payload         `json:"data,omitempty"`
	Clarifications []Clarification `json:"clarifications,omitempty"`
	Insights       []Insight       `json:"insights,omitempty"`
	Errors         []string        `json:"errors,omitempty"`
	Warnings       []string        `json:"warnings,omitempty"`
}

// Agent is one analysis unit in the pipeline. Reset clears per-run state
// (pending clarifications, insights, confidence factors) before every
// invocation; agents are stateful within a run, never across runs.
type Agent interface {
	ID() string
	Reset()
	Execute(ctx context.Context, input Payload, pctx Context) (*AgentResult, error)
}

// Handoff transforms one agent's output into the next agent's input. It is
// the only coupling between adjacent agents.
type Handoff func(output Payload) (Payload, error)

// Step pairs an agent with the handoff applied to its output. The final
// step's handoff is nil.
type Step struct {
	Agent   Agent
	Handoff Handoff
}

// PipelineStatus is the aggregate status over one run.
type PipelineStatus = AgentStatus

// Summary condenses one run for logging and API responses.
type Summary struct {
	StatusCounts map[AgentStatus]int      `json:"status_counts"`
	AgentTimings map[string]time.Duration `json:"agent_timings"`
	RecordsIn    int                      `json:"records_in"`
	RecordsOut   int                      `json:"records_out"`
}

// PipelineResult aggregates one run. It is always complete: a failed run
// still carries every agent's entry so no partial data is silently dropped.
type PipelineResult struct {
	RunID             string          `json:"run_id"`
	Status            PipelineStatus  `json:"status"`
	OverallConfidence float64         `json:"overall_confidence"`
	AgentResults      []*AgentResult  `json:"agent_results"`
	Clarifications    []Clarification `json:"clarifications,omitempty"`
	Insights          []Insight       `json:"insights,omitempty"`
	Summary           Summary         `json:"summary"`
	StartedAt         time.Time       `json:"started_at"`
	Duration          time.Duration   `json:"duration"`
}
