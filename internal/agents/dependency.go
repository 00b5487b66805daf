package agents

import (
	"context"
	"fmt"
	"strings"

	"discovery-flow/backend/internal/logging"
	"discovery-flow/backend/internal/pipeline"
)

// DependencyAgent resolves each asset's reference list against the asset
// index, producing the dependency edge set. Unresolvable references become
// warnings; assets with no edges at all are reported as orphans.
type DependencyAgent struct {
	base
	logger *logging.Logger
}

// NewDependencyAgent creates a DependencyAgent.
func NewDependencyAgent(logger *logging.Logger) *DependencyAgent {
	return &DependencyAgent{base: base{id: "dependency_analysis"}, logger: logger}
}

// Execute builds the edge set over the classified assets.
func (a *DependencyAgent) Execute(ctx context.Context, input pipeline.Payload, pctx pipeline.Context) (*pipeline.AgentResult, error) {
	ds, ok := input.(*AssetDataset)
	if !ok {
		return nil, wrongInput(a.id, input)
	}

	index := make(map[string]string, len(ds.Assets)) // lowercase name -> id
	for _, asset := range ds.Assets {
		index[strings.ToLower(asset.Name)] = asset.ID
	}

	connected := make(map[string]struct{})
	total, resolved := 0, 0
	ds.Edges = nil
	for _, asset := range ds.Assets {
		for _, ref := range asset.References {
			total++
			target, ok := index[strings.ToLower(strings.TrimSpace(ref))]
			if !ok {
				a.warnings = append(a.warnings,
					fmt.Sprintf("%s references unknown asset %q", asset.Name, ref))
				continue
			}
			resolved++
			ds.Edges = append(ds.Edges, DependencyEdge{From: asset.ID, To: target, Kind: "depends_on"})
			connected[asset.ID] = struct{}{}
			connected[target] = struct{}{}
		}
	}

	ds.Orphans = nil
	for _, asset := range ds.Assets {
		if _, ok := connected[asset.ID]; !ok {
			ds.Orphans = append(ds.Orphans, asset.ID)
		}
	}

	switch {
	case total == 0:
		a.factor(50)
		a.note("no dependency data",
			"the source carried no reference fields; edges are unknown, not absent",
			50, "dependency")
	default:
		a.factor(100 * float64(resolved) / float64(total))
	}
	if hub, count := busiestTarget(ds.Edges); count >= 3 {
		a.note("dependency hub detected",
			fmt.Sprintf("%s is depended on by %d assets; plan its move early", hub, count),
			85, "dependency")
	}

	status := pipeline.StatusSuccess
	if total > 0 && resolved < total {
		status = pipeline.StatusPartial
	}
	a.logger.Debug("dependency analysis finished",
		"edges", len(ds.Edges), "orphans", len(ds.Orphans), "unresolved", total-resolved)
	return a.result(status, ds), nil
}

func busiestTarget(edges []DependencyEdge) (string, int) {
	counts := make(map[string]int)
	best, max := "", 0
	for _, e := range edges {
		counts[e.To]++
		if counts[e.To] > max {
			best, max = e.To, counts[e.To]
		}
	}
	return best, max
}
