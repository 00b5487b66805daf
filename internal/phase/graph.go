// Package phase holds the discovery phase graph and the pure transition
// validity rules. Nothing in this package performs I/O; the transition
// coordinator owns locking and persistence.
package phase

import (
	"discovery-flow/backend/pkg/models"
)

// Graph is the static, process-wide phase sequence. It is strictly linear:
// nil -> first phase -> ... -> last phase -> terminal marker.
type Graph struct {
	order    []models.Phase
	terminal models.Phase
	index    map[models.Phase]int
}

// NewGraph builds a graph over the given ordered phases and terminal marker.
func NewGraph(order []models.Phase, terminal models.Phase) *Graph {
	g := &Graph{
		order:    append([]models.Phase(nil), order...),
		terminal: terminal,
		index:    make(map[models.Phase]int, len(order)+1),
	}
	for i, p := range order {
		g.index[p] = i
	}
	g.index[terminal] = len(order)
	return g
}

// Default returns the standard six-phase discovery graph.
func Default() *Graph {
	return NewGraph([]models.Phase{
		models.PhaseDataImport,
		models.PhaseFieldMapping,
		models.PhaseDataCleansing,
		models.PhaseAssetClassification,
		models.PhaseDependencyAnalysis,
		models.PhaseTechDebtAssessment,
	}, models.PhaseCompleted)
}

// Phases returns the ordered analysis phases, excluding the terminal marker.
func (g *Graph) Phases() []models.Phase {
	return append([]models.Phase(nil), g.order...)
}

// Terminal returns the terminal marker phase.
func (g *Graph) Terminal() models.Phase {
	return g.terminal
}

// Contains reports whether p is a node of the graph (terminal included).
func (g *Graph) Contains(p models.Phase) bool {
	_, ok := g.index[p]
	return ok
}

// Successor returns the single legal successor of from. A nil from has the
// first phase as successor; the terminal marker has none.
func (g *Graph) Successor(from *models.Phase) (models.Phase, bool) {
	if from == nil {
		if len(g.order) == 0 {
			return "", false
		}
		return g.order[0], true
	}
	i, ok := g.index[*from]
	if !ok || *from == g.terminal {
		return "", false
	}
	if i+1 < len(g.order) {
		return g.order[i+1], true
	}
	return g.terminal, true
}

// IsValidTransition decides whether moving from from to to is legal. Valid
// iff to equals the configured successor of from. Skipping, reversing and
// transitioning out of the terminal marker are all invalid. Re-running a
// phase the flow already sits in is not a transition; the coordinator
// treats it as an idempotent no-op before ever consulting the graph.
func (g *Graph) IsValidTransition(from *models.Phase, to models.Phase) bool {
	succ, ok := g.Successor(from)
	return ok && succ == to
}

// Progress computes the completed fraction for a flow as a percentage,
// counting true flags over the tracked phases.
func (g *Graph) Progress(f *models.FlowRecord) float64 {
	if len(g.order) == 0 {
		return 0
	}
	done := 0
	for _, p := range g.order {
		if f.PhaseFlag(p) {
			done++
		}
	}
	return 100 * float64(done) / float64(len(g.order))
}

// AllComplete reports whether every tracked phase flag is true.
func (g *Graph) AllComplete(f *models.FlowRecord) bool {
	for _, p := range g.order {
		if !f.PhaseFlag(p) {
			return false
		}
	}
	return len(g.order) > 0
}
