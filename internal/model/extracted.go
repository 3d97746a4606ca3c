package model

import (
	"github.com/rotisserie/eris"
)

// ExtractedDataVersion is the current payload schema version.
const ExtractedDataVersion = 1

// ExtractedData is a versioned tagged union of per-module payloads. Exactly
// one payload field must be set, and it must match Kind. Adding a module
// means adding a kind constant, a payload struct, and a Validate arm.
type ExtractedData struct {
	Kind    ExtractionKind `json:"kind"`
	Version int            `json:"version"`

	Finding     *FindingExtraction     `json:"finding,omitempty"`
	Interaction *InteractionExtraction `json:"interaction,omitempty"`
}

// ExtractionKind discriminates ExtractedData payloads.
type ExtractionKind string

const (
	KindFinding     ExtractionKind = "finding"
	KindInteraction ExtractionKind = "interaction"
)

// FindingExtraction is the structured payload for diagnosis-style modules
// (oncology, cardiology, radiology).
type FindingExtraction struct {
	Condition   string   `json:"condition"`
	Present     bool     `json:"present"`
	Negated     bool     `json:"negated"`
	Severity    string   `json:"severity,omitempty"`
	EvidenceIDs []string `json:"evidence_ids,omitempty"`
	Rationale   string   `json:"rationale,omitempty"`
}

// InteractionExtraction is the structured payload for the drug-interaction
// module.
type InteractionExtraction struct {
	DrugA       string   `json:"drug_a"`
	DrugB       string   `json:"drug_b"`
	Interacts   bool     `json:"interacts"`
	Mechanism   string   `json:"mechanism,omitempty"`
	EvidenceIDs []string `json:"evidence_ids,omitempty"`
	Rationale   string   `json:"rationale,omitempty"`
}

// Validate checks the tagged-union invariants: a known kind, a supported
// version, and exactly the payload matching the kind.
func (d *ExtractedData) Validate() error {
	if d == nil {
		return eris.New("extracted data: nil payload")
	}
	if d.Version <= 0 || d.Version > ExtractedDataVersion {
		return eris.Errorf("extracted data: unsupported version %d", d.Version)
	}

	switch d.Kind {
	case KindFinding:
		if d.Finding == nil {
			return eris.New("extracted data: kind finding without finding payload")
		}
		if d.Interaction != nil {
			return eris.New("extracted data: kind finding with extra interaction payload")
		}
		if d.Finding.Condition == "" {
			return eris.New("extracted data: finding missing condition")
		}
	case KindInteraction:
		if d.Interaction == nil {
			return eris.New("extracted data: kind interaction without interaction payload")
		}
		if d.Finding != nil {
			return eris.New("extracted data: kind interaction with extra finding payload")
		}
		if d.Interaction.DrugA == "" || d.Interaction.DrugB == "" {
			return eris.New("extracted data: interaction missing drug names")
		}
	default:
		return eris.Errorf("extracted data: unknown kind %q", d.Kind)
	}

	return nil
}

// KindForModule maps a module to the payload kind its extractions use.
func KindForModule(m Module) ExtractionKind {
	if m == ModulePharmacy {
		return KindInteraction
	}
	return KindFinding
}
