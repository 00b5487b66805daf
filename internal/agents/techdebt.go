package agents

import (
	"context"
	"fmt"
	"strings"

	"discovery-flow/backend/internal/logging"
	"discovery-flow/backend/internal/pipeline"
)

const highDebtThreshold = 70

// TechDebtAgent scores each asset's technical debt from the end-of-life
// table and legacy keyword markers, and surfaces the worst offenders as
// insights for the planning tools.
type TechDebtAgent struct {
	base
	rules  *Rules
	logger *logging.Logger
}

// NewTechDebtAgent creates a TechDebtAgent over the given rules.
func NewTechDebtAgent(rules *Rules, logger *logging.Logger) *TechDebtAgent {
	return &TechDebtAgent{base: base{id: "tech_debt_assessment"}, rules: rules, logger: logger}
}

// Execute scores the asset set.
func (a *TechDebtAgent) Execute(ctx context.Context, input pipeline.Payload, pctx pipeline.Context) (*pipeline.AgentResult, error) {
	ds, ok := input.(*AssetDataset)
	if !ok {
		return nil, wrongInput(a.id, input)
	}

	ds.DebtScores = make(map[string]int, len(ds.Assets))
	scored := 0
	highDebt := 0
	for _, asset := range ds.Assets {
		score, known := a.score(asset)
		ds.DebtScores[asset.ID] = score
		if known {
			scored++
		}
		if score >= highDebtThreshold {
			highDebt++
			a.note("high technical debt",
				fmt.Sprintf("%s (%s %s) scores %d; prioritize replatforming",
					asset.Name, asset.OS, asset.OSVersion, score),
				80, "tech_debt")
		}
	}

	if len(ds.Assets) == 0 {
		a.factor(0)
		return a.result(pipeline.StatusPartial, ds), nil
	}
	// Confidence tracks how much of the estate carried scorable OS data.
	a.factor(100 * float64(scored) / float64(len(ds.Assets)))
	if highDebt > 0 {
		a.note("estate debt summary",
			fmt.Sprintf("%d of %d assets exceed the high-debt threshold", highDebt, len(ds.Assets)),
			90, "tech_debt")
	}

	status := pipeline.StatusSuccess
	if scored < len(ds.Assets)/2 {
		status = pipeline.StatusPartial
		a.clarify("most assets carry no operating system data; can the export include it?",
			nil, "medium")
	}
	a.logger.Debug("tech debt assessment finished",
		"assets", len(ds.Assets), "scored", scored, "high_debt", highDebt)
	return a.result(status, ds), nil
}

// score returns the asset's debt score and whether any rule actually
// matched (an unmatched asset scores 0 but is unknown, not debt-free).
func (a *TechDebtAgent) score(asset Asset) (int, bool) {
	osString := strings.ToLower(strings.TrimSpace(asset.OS + " " + asset.OSVersion))
	score, known := 0, false
	for _, rule := range a.rules.EOL {
		if osString != "" && strings.Contains(osString, rule.Pattern) {
			if rule.Score > score {
				score = rule.Score
			}
			known = true
		}
	}
	haystack := strings.ToLower(asset.Name)
	for _, v := range asset.Attributes {
		haystack += " " + strings.ToLower(v)
	}
	for _, kw := range a.rules.LegacyKeywords {
		if strings.Contains(haystack, kw) {
			if score < 60 {
				score = 60
			}
			known = true
			break
		}
	}
	if osString != "" && !known {
		// The OS is known and matched nothing in the EOL table.
		known = true
	}
	return score, known
}
