package agents

import (
	"context"
	"fmt"

	"discovery-flow/backend/internal/logging"
	"discovery-flow/backend/internal/pipeline"
)

// canonicalFields maps every known source column spelling to its canonical
// field name.
var canonicalFields = map[string]string{
	"name":             "name",
	"hostname":         "name",
	"host":             "name",
	"asset_name":       "name",
	"ci_name":          "name",
	"fqdn":             "name",
	"os":               "os",
	"operating_system": "os",
	"platform":         "os",
	"os_version":       "os_version",
	"version":          "os_version",
	"env":              "environment",
	"environment":      "environment",
	"stage":            "environment",
	"type":             "class",
	"class":            "class",
	"category":         "class",
	"ci_type":          "class",
	"criticality":      "criticality",
	"priority":         "criticality",
	"business_impact":  "criticality",
	"depends_on":       "references",
	"dependencies":     "references",
	"related_ci":       "references",
	"relationships":    "references",
	"ip":               "ip_address",
	"ip_address":       "ip_address",
	"owner":            "owner",
	"owned_by":         "owner",
}

// maxMappingClarifications caps how many unmapped-column questions a single
// run raises.
const maxMappingClarifications = 5

// FieldMappingAgent assigns each observed source column to a canonical
// field. Columns it cannot place become clarification requests rather than
// silent drops.
type FieldMappingAgent struct {
	base
	logger *logging.Logger
}

// NewFieldMappingAgent creates a FieldMappingAgent.
func NewFieldMappingAgent(logger *logging.Logger) *FieldMappingAgent {
	return &FieldMappingAgent{base: base{id: "field_mapping"}, logger: logger}
}

// Execute maps the imported column set.
func (a *FieldMappingAgent) Execute(ctx context.Context, input pipeline.Payload, pctx pipeline.Context) (*pipeline.AgentResult, error) {
	imported, ok := input.(*ImportedDataset)
	if !ok {
		return nil, wrongInput(a.id, input)
	}

	out := &MappingResult{
		Records:  imported.Records,
		FieldMap: make(map[string]string),
	}
	for _, col := range imported.Columns {
		if field, ok := canonicalFields[col]; ok {
			out.FieldMap[col] = field
			continue
		}
		out.Unmapped = append(out.Unmapped, col)
	}

	for i, col := range out.Unmapped {
		if i >= maxMappingClarifications {
			a.warnings = append(a.warnings,
				fmt.Sprintf("%d further unmapped columns not raised individually", len(out.Unmapped)-i))
			break
		}
		a.clarify(
			fmt.Sprintf("source column %q matched no canonical field; which should it map to?", col),
			[]string{"name", "os", "os_version", "environment", "class", "criticality", "references", "ignore"},
			"medium")
	}

	total := len(imported.Columns)
	if total == 0 {
		a.factor(0)
		return a.result(pipeline.StatusPartial, out), nil
	}
	mapped := float64(len(out.FieldMap)) / float64(total)
	a.factor(mapped * 100)
	if _, hasName := invertedContains(out.FieldMap, "name"); !hasName {
		a.factor(10)
		a.warnings = append(a.warnings, "no source column maps to the canonical name field")
	}

	status := pipeline.StatusSuccess
	if len(out.Unmapped) > 0 {
		status = pipeline.StatusPartial
	}
	a.logger.Debug("mapping finished",
		"mapped", len(out.FieldMap), "unmapped", len(out.Unmapped))
	return a.result(status, out), nil
}

func invertedContains(m map[string]string, field string) (string, bool) {
	for col, f := range m {
		if f == field {
			return col, true
		}
	}
	return "", false
}
