package triage

import (
	"github.com/meridian-clinical/triage-cli/internal/model"
)

// TriageSignals are the boolean/categorical outputs of the triage model
// that the escalation policy consumes.
type TriageSignals struct {
	// Triggers maps trigger name to whether the triage model raised it.
	// Only names in the policy's TriggerSet participate in the decision.
	Triggers map[string]bool `json:"triggers"`

	// ObviousPositive and ObviousNegative are the two mutually-describable
	// clear-decision signals.
	ObviousPositive bool `json:"obvious_positive_signal"`
	ObviousNegative bool `json:"obvious_negative_signal"`
}

// Policy decides whether a triage result is safe to accept or must be
// escalated to the full model. Decide is pure: same signals, same decision,
// no hidden state.
type Policy struct {
	set TriggerSet
}

// NewPolicy creates a Policy over the given trigger set.
func NewPolicy(set TriggerSet) *Policy {
	return &Policy{set: set}
}

// Decide applies the escalation rules in order:
//  1. Any trigger in the set fires → NEEDS_FULL_ANALYSIS. Triggers are
//     OR-combined; obvious signals never suppress a fired trigger.
//  2. Obvious positive without obvious negative → CLEAR_POSITIVE.
//  3. Obvious negative without obvious positive → CLEAR_NEGATIVE.
//  4. Neither or both (conflicting/absent signals) → NEEDS_FULL_ANALYSIS.
func (p *Policy) Decide(s TriageSignals) model.TriageDecision {
	if len(p.set.Fired(s.Triggers)) > 0 {
		return model.DecisionNeedsFullAnalysis
	}

	switch {
	case s.ObviousPositive && !s.ObviousNegative:
		return model.DecisionClearPositive
	case s.ObviousNegative && !s.ObviousPositive:
		return model.DecisionClearNegative
	default:
		return model.DecisionNeedsFullAnalysis
	}
}

// Triggered returns the sorted names of set triggers that fired, for the
// audit record.
func (p *Policy) Triggered(s TriageSignals) []string {
	return p.set.Fired(s.Triggers)
}

// TriggerSet returns the policy's trigger set.
func (p *Policy) TriggerSet() TriggerSet {
	return p.set
}
