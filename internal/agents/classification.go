package agents

import (
	"context"
	"fmt"
	"strings"

	"discovery-flow/backend/internal/logging"
	"discovery-flow/backend/internal/pipeline"
)

// maxClassificationClarifications caps per-run unclassified questions.
const maxClassificationClarifications = 3

// ClassificationAgent assigns an asset class and criticality from the
// keyword rule table. Assets nothing matches stay unclassified and raise a
// clarification.
type ClassificationAgent struct {
	base
	rules  *Rules
	logger *logging.Logger
}

// NewClassificationAgent creates a ClassificationAgent over the given rules.
func NewClassificationAgent(rules *Rules, logger *logging.Logger) *ClassificationAgent {
	return &ClassificationAgent{base: base{id: "asset_classification"}, rules: rules, logger: logger}
}

// Execute classifies the cleansed assets in place.
func (a *ClassificationAgent) Execute(ctx context.Context, input pipeline.Payload, pctx pipeline.Context) (*pipeline.AgentResult, error) {
	ds, ok := input.(*AssetDataset)
	if !ok {
		return nil, wrongInput(a.id, input)
	}

	classified := 0
	asked := 0
	for i := range ds.Assets {
		asset := &ds.Assets[i]
		rule := a.match(asset)
		if rule == nil {
			if asset.Class == "" {
				asset.Class = "unclassified"
				if asked < maxClassificationClarifications {
					a.clarify(
						fmt.Sprintf("asset %q matched no classification rule; what is it?", asset.Name),
						classNames(a.rules), "medium")
					asked++
				}
			} else {
				classified++ // source-provided class hint stands
			}
			continue
		}
		asset.Class = rule.Class
		if asset.Criticality == "" {
			asset.Criticality = rule.Criticality
		}
		classified++
	}

	if len(ds.Assets) == 0 {
		a.factor(0)
		return a.result(pipeline.StatusPartial, ds), nil
	}
	fraction := float64(classified) / float64(len(ds.Assets))
	a.factor(fraction * 100)
	if classified < len(ds.Assets) {
		a.note("unclassified assets remain",
			fmt.Sprintf("%d of %d assets matched no rule", len(ds.Assets)-classified, len(ds.Assets)),
			fraction*100, "classification")
	}

	status := pipeline.StatusSuccess
	if fraction < 0.8 {
		status = pipeline.StatusPartial
	}
	a.logger.Debug("classification finished",
		"assets", len(ds.Assets), "classified", classified)
	return a.result(status, ds), nil
}

// match returns the first rule any keyword of which occurs in the asset's
// name, class hint or attribute values.
func (a *ClassificationAgent) match(asset *Asset) *ClassRule {
	haystack := strings.ToLower(asset.Name + " " + asset.Class)
	for _, v := range asset.Attributes {
		haystack += " " + strings.ToLower(v)
	}
	for i := range a.rules.Classes {
		rule := &a.rules.Classes[i]
		for _, kw := range rule.Keywords {
			if containsToken(haystack, kw) {
				return rule
			}
		}
	}
	return nil
}

// containsToken matches keyword at the start of a delimited token, so "db"
// matches "db01" and "prod-db-3" but "dc" does not match "datacenter".
func containsToken(haystack, keyword string) bool {
	fields := strings.FieldsFunc(haystack, func(r rune) bool {
		return r == ' ' || r == '-' || r == '_' || r == '.' || r == '/'
	})
	for _, f := range fields {
		if strings.HasPrefix(f, keyword) {
			return true
		}
	}
	return false
}

func classNames(rules *Rules) []string {
	names := make([]string, 0, len(rules.Classes)+1)
	for _, r := range rules.Classes {
		names = append(names, r.Class)
	}
	return append(names, "other")
}
