// Package models defines the domain models for the discovery flow service
package models

import (
	"time"
)

// Phase identifies one stage in the fixed discovery sequence.
type Phase string

const (
	PhaseDataImport          Phase = "data_import"
	PhaseFieldMapping        Phase = "field_mapping"
	PhaseDataCleansing       Phase = "data_cleansing"
	PhaseAssetClassification Phase = "asset_classification"
	PhaseDependencyAnalysis  Phase = "dependency_analysis"
	PhaseTechDebtAssessment  Phase = "tech_debt_assessment"

	// PhaseCompleted is the terminal marker a flow advances to after the
	// last analysis phase. It is a graph node but has no successor.
	PhaseCompleted Phase = "completed"
)

// FlowStatus represents the lifecycle status of a flow record.
type FlowStatus string

const (
	FlowStatusActive    FlowStatus = "active"
	FlowStatusCompleted FlowStatus = "completed"
	FlowStatusFailed    FlowStatus = "failed"
	FlowStatusDeleted   FlowStatus = "deleted"
)

// FlowRecord is one row per discovery-flow instance. It is mutated only
// through the transition coordinator; everything else reads it.
type FlowRecord struct {
	FlowID   string `json:"flow_id" db:"flow_id"`
	TenantID string `json:"tenant_id" db:"tenant_id"`
	ClientID string `json:"client_id" db:"client_id"`

	Status       FlowStatus `json:"status" db:"status"`
	CurrentPhase *Phase     `json:"current_phase,omitempty" db:"current_phase"`

	// Per-phase completion flags. A flag is true only once its phase has
	// been advanced past.
	DataImportCompleted          bool `json:"data_import_completed" db:"data_import_completed"`
	FieldMappingCompleted        bool `json:"field_mapping_completed" db:"field_mapping_completed"`
	DataCleansingCompleted       bool `json:"data_cleansing_completed" db:"data_cleansing_completed"`
	AssetClassificationCompleted bool `json:"asset_classification_completed" db:"asset_classification_completed"`
	DependencyAnalysisCompleted  bool `json:"dependency_analysis_completed" db:"dependency_analysis_completed"`
	TechDebtAssessmentCompleted  bool `json:"tech_debt_assessment_completed" db:"tech_debt_assessment_completed"`

	PhasesCompleted    []Phase `json:"phases_completed" db:"phases_completed"`
	ProgressPercentage float64 `json:"progress_percentage" db:"progress_percentage"`

	ErrorMessage *string `json:"error_message,omitempty" db:"error_message"`
	ErrorPhase   *Phase  `json:"error_phase,omitempty" db:"error_phase"`
	ErrorDetails []byte  `json:"error_details,omitempty" db:"error_details"` // JSONB

	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at" db:"updated_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// PhaseFlag reports the completion flag for the given phase. The terminal
// marker carries no flag of its own.
func (f *FlowRecord) PhaseFlag(p Phase) bool {
	switch p {
	case PhaseDataImport:
		return f.DataImportCompleted
	case PhaseFieldMapping:
		return f.FieldMappingCompleted
	case PhaseDataCleansing:
		return f.DataCleansingCompleted
	case PhaseAssetClassification:
		return f.AssetClassificationCompleted
	case PhaseDependencyAnalysis:
		return f.DependencyAnalysisCompleted
	case PhaseTechDebtAssessment:
		return f.TechDebtAssessmentCompleted
	}
	return false
}

// SetPhaseFlag marks the completion flag for the given phase. Setting the
// terminal marker is a no-op.
func (f *FlowRecord) SetPhaseFlag(p Phase, v bool) {
	switch p {
	case PhaseDataImport:
		f.DataImportCompleted = v
	case PhaseFieldMapping:
		f.FieldMappingCompleted = v
	case PhaseDataCleansing:
		f.DataCleansingCompleted = v
	case PhaseAssetClassification:
		f.AssetClassificationCompleted = v
	case PhaseDependencyAnalysis:
		f.DependencyAnalysisCompleted = v
	case PhaseTechDebtAssessment:
		f.TechDebtAssessmentCompleted = v
	}
}

// HasCompleted reports whether the phase is already recorded in the
// PhasesCompleted set.
func (f *FlowRecord) HasCompleted(p Phase) bool {
	for _, done := range f.PhasesCompleted {
		if done == p {
			return true
		}
	}
	return false
}

// HealthStatus represents service health
type HealthStatus struct {
	Status    string            `json:"status"`
	Service   string            `json:"service"`
	Version   string            `json:"version"`
	Timestamp time.Time         `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// ProblemDetails represents RFC 7807 Problem Details
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`
	TraceID  string `json:"trace_id,omitempty"`
}
