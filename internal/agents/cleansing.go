package agents

import (
	"context"
	"fmt"
	"strings"

	"discovery-flow/backend/internal/logging"
	"discovery-flow/backend/internal/pipeline"
)

// environmentAliases normalizes the usual spellings of environment values.
var environmentAliases = map[string]string{
	"prod":        "production",
	"production":  "production",
	"prd":         "production",
	"live":        "production",
	"stage":       "staging",
	"staging":     "staging",
	"stg":         "staging",
	"uat":         "staging",
	"test":        "test",
	"qa":          "test",
	"dev":         "development",
	"development": "development",
	"sandbox":     "development",
}

// CleansingAgent turns mapped raw records into normalized assets: trims and
// lowercases enum-ish values, resolves environment aliases, splits
// reference lists and drops duplicate identities. Its configuration is the
// field map handed off from the mapping agent.
type CleansingAgent struct {
	base
	logger *logging.Logger
}

// NewCleansingAgent creates a CleansingAgent.
func NewCleansingAgent(logger *logging.Logger) *CleansingAgent {
	return &CleansingAgent{base: base{id: "data_cleansing"}, logger: logger}
}

// Execute normalizes the mapped records.
func (a *CleansingAgent) Execute(ctx context.Context, input pipeline.Payload, pctx pipeline.Context) (*pipeline.AgentResult, error) {
	cfg, ok := input.(*CleansingConfig)
	if !ok {
		return nil, wrongInput(a.id, input)
	}

	out := &AssetDataset{}
	seen := make(map[string]struct{})
	filled := 0
	for _, rec := range cfg.Records {
		asset := buildAsset(rec, cfg.FieldMap)
		if asset.Name == "" {
			out.Duplicates++ // unnameable rows are indistinguishable; fold them
			continue
		}
		key := strings.ToLower(asset.Name)
		if _, dup := seen[key]; dup {
			out.Duplicates++
			continue
		}
		seen[key] = struct{}{}
		if asset.OS != "" {
			filled++
		}
		out.Assets = append(out.Assets, asset)
	}

	if len(out.Assets) == 0 {
		a.factor(0)
		a.clarify("cleansing produced no assets; are the identity mappings correct?", nil, "high")
		return a.result(pipeline.StatusPartial, out), nil
	}

	a.factor(100 * float64(len(out.Assets)) / float64(len(out.Assets)+out.Duplicates))
	a.factor(100 * float64(filled) / float64(len(out.Assets)))
	if out.Duplicates > 0 {
		a.note("duplicate assets removed",
			fmt.Sprintf("removed %d duplicate or unnameable records", out.Duplicates),
			90, "cleansing")
	}

	a.logger.Debug("cleansing finished",
		"assets", len(out.Assets), "duplicates", out.Duplicates)
	return a.result(pipeline.StatusSuccess, out), nil
}

func buildAsset(rec RawRecord, fieldMap map[string]string) Asset {
	asset := Asset{Attributes: make(map[string]string)}
	for col, value := range rec {
		value = strings.TrimSpace(value)
		if value == "" {
			continue
		}
		field, mapped := fieldMap[strings.ToLower(strings.TrimSpace(col))]
		if !mapped {
			asset.Attributes[strings.ToLower(strings.TrimSpace(col))] = value
			continue
		}
		switch field {
		case "name":
			if asset.Name == "" {
				asset.Name = value
			}
		case "os":
			asset.OS = strings.ToLower(value)
		case "os_version":
			asset.OSVersion = value
		case "environment":
			asset.Environment = normalizeEnvironment(value)
		case "class":
			asset.Class = strings.ToLower(value)
		case "criticality":
			asset.Criticality = strings.ToLower(value)
		case "references":
			asset.References = append(asset.References, splitReferences(value)...)
		default:
			asset.Attributes[field] = value
		}
	}
	asset.ID = strings.ToLower(asset.Name)
	return asset
}

func normalizeEnvironment(value string) string {
	if norm, ok := environmentAliases[strings.ToLower(strings.TrimSpace(value))]; ok {
		return norm
	}
	return strings.ToLower(strings.TrimSpace(value))
}

func splitReferences(value string) []string {
	var refs []string
	for _, part := range strings.FieldsFunc(value, func(r rune) bool {
		return r == ',' || r == ';' || r == '|'
	}) {
		part = strings.TrimSpace(part)
		if part != "" {
			refs = append(refs, part)
		}
	}
	return refs
}

