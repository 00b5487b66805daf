package agents

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"discovery-flow/backend/internal/logging"
	"discovery-flow/backend/internal/pipeline"
)

func testRules(t *testing.T) *Rules {
	t.Helper()
	rules, err := DefaultRules()
	require.NoError(t, err)
	return rules
}

func sampleDataset() *RawDataset {
	return &RawDataset{
		Source: "cmdb-export.csv",
		Records: []RawRecord{
			{"hostname": "db01", "operating_system": "CentOS", "version": "6.5", "env": "prod", "rack_location": "R12"},
			{"hostname": "app01", "operating_system": "Ubuntu", "version": "18.04", "env": "prod", "depends_on": "db01"},
			{"hostname": "web01", "operating_system": "Ubuntu", "version": "22.04", "env": "prod", "depends_on": "app01;db01"},
			{"hostname": "web01", "operating_system": "Ubuntu", "version": "22.04", "env": "prod"}, // duplicate
			{"rack_location": "R13"}, // no identity
		},
	}
}

func TestFullPipeline(t *testing.T) {
	steps := Steps(testRules(t), logging.NewLogger())
	o := pipeline.NewOrchestrator(steps, pipeline.DefaultConfig(), logging.NewLogger())

	result := o.Run(context.Background(), sampleDataset(), pipeline.Context{FlowID: "f1"})

	require.Len(t, result.AgentResults, 6)
	for _, ar := range result.AgentResults {
		assert.NotEqual(t, pipeline.StatusFailed, ar.Status, "agent %s failed: %v", ar.AgentID, ar.Errors)
	}
	assert.Equal(t, 5, result.Summary.RecordsIn)
	assert.Equal(t, 3, result.Summary.RecordsOut, "duplicate and unidentifiable records drop out")

	// The unmapped rack_location column surfaces as a clarification from
	// the mapping agent.
	found := false
	for _, c := range result.Clarifications {
		if c.AgentID == "field_mapping" {
			found = true
		}
	}
	assert.True(t, found, "expected a field_mapping clarification for rack_location")

	// The final payload carries classification, edges and debt scores.
	final := result.AgentResults[5].Data.(*AssetDataset)
	byID := make(map[string]Asset)
	for _, a := range final.Assets {
		byID[a.ID] = a
	}
	assert.Equal(t, "database", byID["db01"].Class)
	assert.Equal(t, "application_server", byID["app01"].Class)
	assert.Equal(t, "web_server", byID["web01"].Class)
	assert.Len(t, final.Edges, 3)
	assert.GreaterOrEqual(t, final.DebtScores["db01"], 70, "CentOS 6 is deep EOL")
}

func TestImportAgentRejectsUnidentifiable(t *testing.T) {
	a := NewImportAgent(logging.NewLogger())
	a.Reset()

	res, err := a.Execute(context.Background(), sampleDataset(), pipeline.Context{})
	require.NoError(t, err)

	out := res.Data.(*ImportedDataset)
	assert.Equal(t, 1, out.Rejected)
	assert.Len(t, out.Records, 4)
	assert.Contains(t, out.Columns, "hostname")
	assert.Equal(t, pipeline.StatusPartial, res.Status)
}

func TestImportAgentEmptyDataset(t *testing.T) {
	a := NewImportAgent(logging.NewLogger())
	a.Reset()

	res, err := a.Execute(context.Background(), &RawDataset{Source: "empty.csv"}, pipeline.Context{})
	require.NoError(t, err)

	assert.Equal(t, pipeline.StatusPartial, res.Status)
	assert.NotEmpty(t, res.Clarifications)
	assert.Equal(t, 0.0, res.Confidence)
}

func TestImportAgentWrongInput(t *testing.T) {
	a := NewImportAgent(logging.NewLogger())
	a.Reset()

	_, err := a.Execute(context.Background(), &AssetDataset{}, pipeline.Context{})
	assert.Error(t, err)
}

func TestFieldMappingAgent(t *testing.T) {
	a := NewFieldMappingAgent(logging.NewLogger())
	a.Reset()

	input := &ImportedDataset{
		Columns: []string{"hostname", "operating_system", "env", "rack_location"},
	}
	res, err := a.Execute(context.Background(), input, pipeline.Context{})
	require.NoError(t, err)

	out := res.Data.(*MappingResult)
	assert.Equal(t, "name", out.FieldMap["hostname"])
	assert.Equal(t, "os", out.FieldMap["operating_system"])
	assert.Equal(t, "environment", out.FieldMap["env"])
	assert.Equal(t, []string{"rack_location"}, out.Unmapped)
	assert.Equal(t, pipeline.StatusPartial, res.Status)
	require.Len(t, res.Clarifications, 1)
	assert.Contains(t, res.Clarifications[0].Question, "rack_location")
}

func TestCleansingAgent(t *testing.T) {
	a := NewCleansingAgent(logging.NewLogger())
	a.Reset()

	input := &CleansingConfig{
		FieldMap: map[string]string{
			"hostname": "name", "env": "environment", "depends_on": "references",
		},
		Records: []RawRecord{
			{"hostname": "  App01 ", "env": "PROD", "depends_on": "db01, cache01"},
			{"hostname": "app01", "env": "prod"}, // duplicate after trimming
		},
	}
	res, err := a.Execute(context.Background(), input, pipeline.Context{})
	require.NoError(t, err)

	out := res.Data.(*AssetDataset)
	require.Len(t, out.Assets, 1)
	assert.Equal(t, "App01", out.Assets[0].Name)
	assert.Equal(t, "production", out.Assets[0].Environment)
	assert.Equal(t, []string{"db01", "cache01"}, out.Assets[0].References)
	assert.Equal(t, 1, out.Duplicates)
}

func TestDependencyAgentOrphansAndUnresolved(t *testing.T) {
	a := NewDependencyAgent(logging.NewLogger())
	a.Reset()

	input := &AssetDataset{Assets: []Asset{
		{ID: "a", Name: "a", References: []string{"b", "ghost"}},
		{ID: "b", Name: "b"},
		{ID: "c", Name: "c"},
	}}
	res, err := a.Execute(context.Background(), input, pipeline.Context{})
	require.NoError(t, err)

	out := res.Data.(*AssetDataset)
	require.Len(t, out.Edges, 1)
	assert.Equal(t, "a", out.Edges[0].From)
	assert.Equal(t, "b", out.Edges[0].To)
	assert.Equal(t, []string{"c"}, out.Orphans)
	assert.Equal(t, pipeline.StatusPartial, res.Status)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "ghost")
}

func TestTechDebtAgentScoring(t *testing.T) {
	a := NewTechDebtAgent(testRules(t), logging.NewLogger())
	a.Reset()

	input := &AssetDataset{Assets: []Asset{
		{ID: "old", Name: "old", OS: "windows server 2008"},
		{ID: "new", Name: "new", OS: "ubuntu", OSVersion: "24.04"},
		{ID: "legacy-app", Name: "legacy-app", Attributes: map[string]string{"notes": "legacy cobol frontend"}},
	}}
	res, err := a.Execute(context.Background(), input, pipeline.Context{})
	require.NoError(t, err)

	out := res.Data.(*AssetDataset)
	assert.Equal(t, 90, out.DebtScores["old"])
	assert.Equal(t, 0, out.DebtScores["new"])
	assert.GreaterOrEqual(t, out.DebtScores["legacy-app"], 60)
	assert.NotEmpty(t, res.Insights)
}

func TestRulesLoad(t *testing.T) {
	rules := testRules(t)
	assert.NotEmpty(t, rules.Classes)
	assert.NotEmpty(t, rules.EOL)
	assert.NotEmpty(t, rules.LegacyKeywords)

	_, err := LoadRules([]byte("classes: []"))
	assert.Error(t, err)

	_, err = LoadRules([]byte("{not yaml"))
	assert.Error(t, err)
}

func TestAgentReset(t *testing.T) {
	a := NewFieldMappingAgent(logging.NewLogger())
	a.Reset()
	_, err := a.Execute(context.Background(),
		&ImportedDataset{Columns: []string{"mystery"}}, pipeline.Context{})
	require.NoError(t, err)
	require.NotEmpty(t, a.clarifications)

	a.Reset()
	assert.Empty(t, a.clarifications)
	assert.Empty(t, a.factors)
}
