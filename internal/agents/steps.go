package agents

import (
	"fmt"

	"discovery-flow/backend/internal/logging"
	"discovery-flow/backend/internal/pipeline"
)

// Steps wires the six agents into their fixed pipeline order with the
// per-pair handoff rules. The handoffs are the only coupling between
// agents; everything else about an agent is private to it.
func Steps(rules *Rules, logger *logging.Logger) []pipeline.Step {
	return []pipeline.Step{
		{
			Agent:   NewImportAgent(logger),
			Handoff: importToMapping,
		},
		{
			Agent:   NewFieldMappingAgent(logger),
			Handoff: mappingToCleansing,
		},
		{
			Agent:   NewCleansingAgent(logger),
			Handoff: assetPassThrough("cleansing"),
		},
		{
			Agent:   NewClassificationAgent(rules, logger),
			Handoff: assetPassThrough("classification"),
		},
		{
			Agent:   NewDependencyAgent(logger),
			Handoff: assetPassThrough("dependency analysis"),
		},
		{
			Agent: NewTechDebtAgent(rules, logger),
		},
	}
}

// importToMapping forwards the imported dataset unchanged; the mapping
// agent consumes the column set the import agent observed.
func importToMapping(output pipeline.Payload) (pipeline.Payload, error) {
	imported, ok := output.(*ImportedDataset)
	if !ok {
		return nil, fmt.Errorf("import produced %T, expected *ImportedDataset", output)
	}
	return imported, nil
}

// mappingToCleansing turns the mapping output into the cleansing agent's
// configuration: the field map drives how raw columns become asset fields.
func mappingToCleansing(output pipeline.Payload) (pipeline.Payload, error) {
	mapping, ok := output.(*MappingResult)
	if !ok {
		return nil, fmt.Errorf("mapping produced %T, expected *MappingResult", output)
	}
	return &CleansingConfig{
		Records:  mapping.Records,
		FieldMap: mapping.FieldMap,
	}, nil
}

// assetPassThrough validates that the enrichment stages keep handing an
// AssetDataset forward.
func assetPassThrough(stage string) pipeline.Handoff {
	return func(output pipeline.Payload) (pipeline.Payload, error) {
		ds, ok := output.(*AssetDataset)
		if !ok {
			return nil, fmt.Errorf("%s produced %T, expected *AssetDataset", stage, output)
		}
		return ds, nil
	}
}
