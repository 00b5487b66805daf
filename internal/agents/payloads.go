// Package agents implements the six discovery analysis agents and the
// handoff rules that chain them into a pipeline. Each phase boundary has an
// explicit input/output record type; loose maps only exist inside the raw
// ingestion records themselves.
package agents

import (
	"discovery-flow/backend/internal/pipeline"
)

// RawRecord is one unparsed CMDB row, keyed by source column name. Raw data
// is the only place a loose map crosses a boundary.
type RawRecord map[string]string

func (r RawRecord) clone() RawRecord {
	out := make(RawRecord, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// RawDataset is the pipeline's initial input: the ingested export as-is.
type RawDataset struct {
	Source  string
	Records []RawRecord
}

func (d *RawDataset) Clone() pipeline.Payload {
	out := &RawDataset{Source: d.Source, Records: make([]RawRecord, len(d.Records))}
	for i, r := range d.Records {
		out.Records[i] = r.clone()
	}
	return out
}

func (d *RawDataset) RecordCount() int { return len(d.Records) }

// ImportedDataset is the import agent's output: records that passed basic
// shape checks, plus the observed column set.
type ImportedDataset struct {
	Records  []RawRecord
	Columns  []string
	Rejected int
}

func (d *ImportedDataset) Clone() pipeline.Payload {
	out := &ImportedDataset{
		Columns:  append([]string(nil), d.Columns...),
		Rejected: d.Rejected,
		Records:  make([]RawRecord, len(d.Records)),
	}
	for i, r := range d.Records {
		out.Records[i] = r.clone()
	}
	return out
}

func (d *ImportedDataset) RecordCount() int { return len(d.Records) }

// MappingResult is the field-mapping agent's output: source column to
// canonical field assignments plus the columns nothing matched.
type MappingResult struct {
	Records  []RawRecord
	FieldMap map[string]string
	Unmapped []string
}

func (m *MappingResult) Clone() pipeline.Payload {
	out := &MappingResult{
		FieldMap: make(map[string]string, len(m.FieldMap)),
		Unmapped: append([]string(nil), m.Unmapped...),
		Records:  make([]RawRecord, len(m.Records)),
	}
	for k, v := range m.FieldMap {
		out.FieldMap[k] = v
	}
	for i, r := range m.Records {
		out.Records[i] = r.clone()
	}
	return out
}

func (m *MappingResult) RecordCount() int { return len(m.Records) }

// CleansingConfig is the cleansing agent's input, produced by the
// mapping-to-cleansing handoff: the mapping output becomes the cleansing
// configuration.
type CleansingConfig struct {
	Records  []RawRecord
	FieldMap map[string]string
}

func (c *CleansingConfig) Clone() pipeline.Payload {
	out := &CleansingConfig{
		FieldMap: make(map[string]string, len(c.FieldMap)),
		Records:  make([]RawRecord, len(c.Records)),
	}
	for k, v := range c.FieldMap {
		out.FieldMap[k] = v
	}
	for i, r := range c.Records {
		out.Records[i] = r.clone()
	}
	return out
}

func (c *CleansingConfig) RecordCount() int { return len(c.Records) }

// Asset is one normalized configuration item after cleansing.
type Asset struct {
	ID          string
	Name        string
	OS          string
	OSVersion   string
	Environment string
	Class       string
	Criticality string
	References  []string
	Attributes  map[string]string
}

func (a Asset) clone() Asset {
	out := a
	out.References = append([]string(nil), a.References...)
	out.Attributes = make(map[string]string, len(a.Attributes))
	for k, v := range a.Attributes {
		out.Attributes[k] = v
	}
	return out
}

// AssetDataset carries normalized assets. It is the cleansing agent's
// output and, progressively enriched, the working set of the
// classification, dependency and tech-debt agents.
type AssetDataset struct {
	Assets     []Asset
	Duplicates int
	Edges      []DependencyEdge
	Orphans    []string
	DebtScores map[string]int
}

// DependencyEdge is one inferred dependency between two assets.
type DependencyEdge struct {
	From string
	To   string
	Kind string
}

func (d *AssetDataset) Clone() pipeline.Payload {
	out := &AssetDataset{
		Duplicates: d.Duplicates,
		Assets:     make([]Asset, len(d.Assets)),
		Edges:      append([]DependencyEdge(nil), d.Edges...),
		Orphans:    append([]string(nil), d.Orphans...),
	}
	for i, a := range d.Assets {
		out.Assets[i] = a.clone()
	}
	if d.DebtScores != nil {
		out.DebtScores = make(map[string]int, len(d.DebtScores))
		for k, v := range d.DebtScores {
			out.DebtScores[k] = v
		}
	}
	return out
}

func (d *AssetDataset) RecordCount() int { return len(d.Assets) }
