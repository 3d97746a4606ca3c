package triage

import (
	"os"
	"sort"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// Default escalation trigger names. The membership is a policy choice, not
// derived logic, so deployments can replace it wholesale from a yaml file;
// the OR-combination in Policy.Decide is fixed.
const (
	TriggerDocQualityPoor         = "documentation_quality_poor"
	TriggerAlternateSource        = "alternate_source_mentioned"
	TriggerConflictingSignals     = "conflicting_signals"
	TriggerImpressionAmbiguous    = "impression_ambiguous"
	TriggerStaleContext           = "stale_context"
	TriggerUnfamiliarPresentation = "unfamiliar_presentation"
)

// TriggerSet is the closed set of trigger names the policy honors. Signals
// outside the set are ignored rather than escalating, so a misbehaving
// triage prompt cannot invent new escalation paths.
type TriggerSet struct {
	names map[string]bool
}

// DefaultTriggerSet returns the six stock triggers.
func DefaultTriggerSet() TriggerSet {
	return NewTriggerSet(
		TriggerDocQualityPoor,
		TriggerAlternateSource,
		TriggerConflictingSignals,
		TriggerImpressionAmbiguous,
		TriggerStaleContext,
		TriggerUnfamiliarPresentation,
	)
}

// NewTriggerSet builds a TriggerSet from explicit names.
func NewTriggerSet(names ...string) TriggerSet {
	set := TriggerSet{names: make(map[string]bool, len(names))}
	for _, n := range names {
		if n != "" {
			set.names[n] = true
		}
	}
	return set
}

// LoadTriggerSet reads a trigger set from a yaml file of the form:
//
//	triggers:
//	  - documentation_quality_poor
//	  - conflicting_signals
//
// An empty file (or empty triggers list) is rejected: a policy with no
// triggers would silently stop escalating.
func LoadTriggerSet(path string) (TriggerSet, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return TriggerSet{}, eris.Wrapf(err, "triggers: read %s", path)
	}

	var doc struct {
		Triggers []string `yaml:"triggers"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return TriggerSet{}, eris.Wrapf(err, "triggers: parse %s", path)
	}
	if len(doc.Triggers) == 0 {
		return TriggerSet{}, eris.Errorf("triggers: %s defines no triggers", path)
	}

	set := NewTriggerSet(doc.Triggers...)
	zap.L().Info("loaded escalation trigger set",
		zap.String("path", path),
		zap.Strings("triggers", set.Names()),
	)
	return set, nil
}

// Contains reports whether name is part of the set.
func (s TriggerSet) Contains(name string) bool {
	return s.names[name]
}

// Len returns the number of triggers in the set.
func (s TriggerSet) Len() int {
	return len(s.names)
}

// Names returns the trigger names in sorted order.
func (s TriggerSet) Names() []string {
	out := make([]string, 0, len(s.names))
	for n := range s.names {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

// Fired returns, in sorted order, the set members that are true in signals.
// Sorting keeps the audit record's trigger list independent of map iteration
// order.
func (s TriggerSet) Fired(signals map[string]bool) []string {
	var fired []string
	for name, on := range signals {
		if on && s.names[name] {
			fired = append(fired, name)
		}
	}
	sort.Strings(fired)
	return fired
}
