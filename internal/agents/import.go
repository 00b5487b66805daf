package agents

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"discovery-flow/backend/internal/logging"
	"discovery-flow/backend/internal/pipeline"
)

// identifying columns, at least one of which a usable record must carry
var identityColumns = []string{"name", "hostname", "host", "asset_name", "ci_name", "fqdn"}

// ImportAgent performs the initial intake: it drops records with no usable
// identity and reports the observed column set for the mapping agent.
type ImportAgent struct {
	base
	logger *logging.Logger
}

// NewImportAgent creates an ImportAgent.
func NewImportAgent(logger *logging.Logger) *ImportAgent {
	return &ImportAgent{base: base{id: "data_import"}, logger: logger}
}

// Execute validates the raw export.
func (a *ImportAgent) Execute(ctx context.Context, input pipeline.Payload, pctx pipeline.Context) (*pipeline.AgentResult, error) {
	raw, ok := input.(*RawDataset)
	if !ok {
		return nil, wrongInput(a.id, input)
	}

	out := &ImportedDataset{}
	columns := make(map[string]struct{})
	for _, rec := range raw.Records {
		if !hasIdentity(rec) {
			out.Rejected++
			continue
		}
		for col := range rec {
			columns[strings.ToLower(strings.TrimSpace(col))] = struct{}{}
		}
		out.Records = append(out.Records, rec.clone())
	}
	for col := range columns {
		out.Columns = append(out.Columns, col)
	}
	sort.Strings(out.Columns)

	if len(raw.Records) == 0 {
		a.clarify("the export contains no records; is the source extract complete?",
			nil, "high")
		a.factor(0)
		return a.result(pipeline.StatusPartial, out), nil
	}

	accepted := float64(len(out.Records)) / float64(len(raw.Records))
	a.factor(accepted * 100)
	status := pipeline.StatusSuccess
	if out.Rejected > 0 {
		status = pipeline.StatusPartial
		a.note("records rejected at import",
			fmt.Sprintf("rejected %d of %d records from %s for missing identity columns",
				out.Rejected, len(raw.Records), raw.Source),
			accepted*100, "import")
	}
	a.logger.Debug("import finished",
		"source", raw.Source, "accepted", len(out.Records), "rejected", out.Rejected)
	return a.result(status, out), nil
}

func hasIdentity(rec RawRecord) bool {
	for _, col := range identityColumns {
		for k, v := range rec {
			if strings.EqualFold(strings.TrimSpace(k), col) && strings.TrimSpace(v) != "" {
				return true
			}
		}
	}
	return false
}

