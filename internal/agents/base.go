package agents

import (
	"fmt"

	"discovery-flow/backend/internal/pipeline"
)

// base carries the per-run state every agent resets between runs: pending
// clarifications, insights and the confidence factors that average into the
// result's confidence score.
type base struct {
	id             string
	clarifications []pipeline.Clarification
	insights       []pipeline.Insight
	factors        []float64
	warnings       []string
}

func (b *base) ID() string { return b.id }

func (b *base) Reset() {
	b.clarifications = nil
	b.insights = nil
	b.factors = nil
	b.warnings = nil
}

func (b *base) clarify(question string, options []string, priority string) {
	b.clarifications = append(b.clarifications, pipeline.NewClarification(question, options, priority))
}

func (b *base) note(title, description string, confidence float64, category string) {
	b.insights = append(b.insights, pipeline.NewInsight(title, description, confidence, category))
}

// factor records one confidence observation in [0,100].
func (b *base) factor(f float64) {
	b.factors = append(b.factors, f)
}

func (b *base) confidence() float64 {
	if len(b.factors) == 0 {
		return 0
	}
	var sum float64
	for _, f := range b.factors {
		sum += f
	}
	return sum / float64(len(b.factors))
}

// result assembles the normalized AgentResult from the per-run state.
func (b *base) result(status pipeline.AgentStatus, data pipeline.Payload) *pipeline.AgentResult {
	return &pipeline.AgentResult{
		AgentID:        b.id,
		Status:         status,
		Confidence:     b.confidence(),
		Data:           data,
		Clarifications: b.clarifications,
		Insights:       b.insights,
		Warnings:       b.warnings,
	}
}

// wrongInput builds the error every agent returns when the upstream handoff
// delivered an unexpected payload type.
func wrongInput(agentID string, input pipeline.Payload) error {
	return fmt.Errorf("%s: unexpected input payload %T", agentID, input)
}
