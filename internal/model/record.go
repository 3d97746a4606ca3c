package model

import (
	"time"
)

// SchemaVersion is stamped onto every persisted record so readers can
// detect format drift across periods.
const SchemaVersion = 2

// Module identifies the clinical subsystem that owns a case.
type Module string

const (
	ModuleOncology   Module = "oncology"
	ModuleCardiology Module = "cardiology"
	ModulePharmacy   Module = "pharmacy_interactions"
	ModuleRadiology  Module = "radiology"
)

// AllModules returns all defined modules.
func AllModules() []Module {
	return []Module{
		ModuleOncology,
		ModuleCardiology,
		ModulePharmacy,
		ModuleRadiology,
	}
}

// Valid reports whether m is a known module.
func (m Module) Valid() bool {
	for _, known := range AllModules() {
		if m == known {
			return true
		}
	}
	return false
}

// TriageDecision is the outcome of the escalation policy for a case.
type TriageDecision string

const (
	DecisionClearPositive     TriageDecision = "CLEAR_POSITIVE"
	DecisionClearNegative     TriageDecision = "CLEAR_NEGATIVE"
	DecisionNeedsFullAnalysis TriageDecision = "NEEDS_FULL_ANALYSIS"
)

// AllTriageDecisions returns all defined triage decisions.
func AllTriageDecisions() []TriageDecision {
	return []TriageDecision{
		DecisionClearPositive,
		DecisionClearNegative,
		DecisionNeedsFullAnalysis,
	}
}

// Valid reports whether d is a known decision.
func (d TriageDecision) Valid() bool {
	for _, known := range AllTriageDecisions() {
		if d == known {
			return true
		}
	}
	return false
}

// Outcome is the human-review disposition of a record.
type Outcome string

const (
	OutcomePending    Outcome = "PENDING"
	OutcomeAccepted   Outcome = "ACCEPTED"
	OutcomeModified   Outcome = "MODIFIED"
	OutcomeOverridden Outcome = "OVERRIDDEN"
)

// AllOutcomes returns all defined outcomes.
func AllOutcomes() []Outcome {
	return []Outcome{
		OutcomePending,
		OutcomeAccepted,
		OutcomeModified,
		OutcomeOverridden,
	}
}

// Valid reports whether o is a known outcome.
func (o Outcome) Valid() bool {
	for _, known := range AllOutcomes() {
		if o == known {
			return true
		}
	}
	return false
}

// Reviewed reports whether the record has left the PENDING state.
func (o Outcome) Reviewed() bool {
	return o.Valid() && o != OutcomePending
}

// OverrideReason explains why a reviewer rejected the model's decision.
// Free text is only permitted under ReasonOther, carried in override_notes.
type OverrideReason string

const (
	ReasonWrongEntity       OverrideReason = "WRONG_ENTITY"
	ReasonMissedNegation    OverrideReason = "MISSED_NEGATION"
	ReasonStaleContext      OverrideReason = "STALE_CONTEXT"
	ReasonAmbiguousSource   OverrideReason = "AMBIGUOUS_SOURCE"
	ReasonGuidelineMismatch OverrideReason = "GUIDELINE_MISMATCH"
	ReasonDocQuality        OverrideReason = "DOC_QUALITY"
	ReasonOther             OverrideReason = "OTHER"
)

// AllOverrideReasons returns the closed override-reason taxonomy.
func AllOverrideReasons() []OverrideReason {
	return []OverrideReason{
		ReasonWrongEntity,
		ReasonMissedNegation,
		ReasonStaleContext,
		ReasonAmbiguousSource,
		ReasonGuidelineMismatch,
		ReasonDocQuality,
		ReasonOther,
	}
}

// Valid reports whether r is a known override reason.
func (r OverrideReason) Valid() bool {
	for _, known := range AllOverrideReasons() {
		if r == known {
			return true
		}
	}
	return false
}

// ConfidenceLevel is the categorical confidence band for a classification.
type ConfidenceLevel string

const (
	ConfidenceLow    ConfidenceLevel = "low"
	ConfidenceMedium ConfidenceLevel = "medium"
	ConfidenceHigh   ConfidenceLevel = "high"
)

// Rank returns the ordinal rank of the level (low=0, medium=1, high=2).
// Unknown levels rank below low so they never pass a threshold filter.
func (c ConfidenceLevel) Rank() int {
	switch c {
	case ConfidenceLow:
		return 0
	case ConfidenceMedium:
		return 1
	case ConfidenceHigh:
		return 2
	default:
		return -1
	}
}

// Valid reports whether c is a known confidence level.
func (c ConfidenceLevel) Valid() bool {
	return c.Rank() >= 0
}

// LevelFromScore derives a categorical level from a numeric [0,1] score.
func LevelFromScore(score float64) ConfidenceLevel {
	switch {
	case score >= 0.8:
		return ConfidenceHigh
	case score >= 0.5:
		return ConfidenceMedium
	default:
		return ConfidenceLow
	}
}

// ExtractionRecord is the audit row for one extraction attempt and its
// eventual human review. Exactly one record exists per (module, case_id);
// re-extraction replaces, never duplicates.
type ExtractionRecord struct {
	ID            string `json:"id"`
	SchemaVersion int    `json:"schema_version"`
	Module        Module `json:"module"`
	CaseID        string `json:"case_id"`
	EntityType    string `json:"entity_type"`

	// Triage stage.
	TriageModel        string          `json:"triage_model"`
	TriageDecision     TriageDecision  `json:"triage_decision"`
	EscalationTriggers []string        `json:"escalation_triggers,omitempty"`
	TriageConfidence   float64         `json:"triage_confidence"`
	TriageLevel        ConfidenceLevel `json:"triage_level"`
	TriageLatencyMS    int64           `json:"triage_latency_ms"`

	// Full stage, populated only when escalated.
	FullModel     string         `json:"full_model,omitempty"`
	FullLatencyMS int64          `json:"full_latency_ms,omitempty"`
	FullData      *ExtractedData `json:"full_extracted_data,omitempty"`

	// Final classification read by downstream consumers.
	FinalDecision    TriageDecision `json:"final_decision"`
	FinalConfidence  float64        `json:"final_confidence"`
	NeedsHumanReview bool           `json:"needs_human_review,omitempty"`

	// Review overlay, written only by the review recorder.
	Outcome         Outcome        `json:"outcome"`
	HumanDecision   TriageDecision `json:"human_decision,omitempty"`
	OverrideReason  OverrideReason `json:"override_reason,omitempty"`
	OverrideNotes   string         `json:"override_notes,omitempty"`
	ReviewerID      string         `json:"reviewer_id,omitempty"`
	ReviewedAt      *time.Time     `json:"reviewed_at,omitempty"`
	ReviewDurationS int64          `json:"review_duration_seconds,omitempty"`

	ExtractedAt time.Time `json:"extracted_at"`
	CreatedAt   time.Time `json:"created_at"`
}

// Escalated reports whether the triage stage handed the case to the full model.
func (r *ExtractionRecord) Escalated() bool {
	return r.TriageDecision == DecisionNeedsFullAnalysis
}

// FinalView is the restricted projection exposed to downstream rule engines.
// It deliberately omits triage-only fields so the triage/full models stay
// substitutable.
type FinalView struct {
	Module          Module         `json:"module"`
	CaseID          string         `json:"case_id"`
	EntityType      string         `json:"entity_type"`
	FinalDecision   TriageDecision `json:"final_decision"`
	FinalConfidence float64        `json:"final_confidence"`
	Data            *ExtractedData `json:"extracted_data,omitempty"`
}

// Final returns the downstream projection of the record.
func (r *ExtractionRecord) Final() FinalView {
	return FinalView{
		Module:          r.Module,
		CaseID:          r.CaseID,
		EntityType:      r.EntityType,
		FinalDecision:   r.FinalDecision,
		FinalConfidence: r.FinalConfidence,
		Data:            r.FullData,
	}
}
