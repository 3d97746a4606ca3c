package export

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/meridian-clinical/triage-cli/internal/model"
	"github.com/meridian-clinical/triage-cli/internal/store"
)

// Filter narrows which records become training examples.
type Filter struct {
	Module       model.Module
	ReviewedOnly bool

	// MinLevel keeps records whose final confidence band ranks at or above
	// this level. Empty keeps everything.
	MinLevel model.ConfidenceLevel

	Since time.Time
	Until time.Time
	Limit int
}

// Example is one training sample. Decision and Data carry the human
// correction when one exists, otherwise the model's own output; the
// original machine decision stays in the metadata either way.
type Example struct {
	Module     model.Module         `json:"module"`
	CaseID     string               `json:"case_id"`
	EntityType string               `json:"entity_type,omitempty"`
	Decision   model.TriageDecision `json:"decision"`
	Confidence float64              `json:"confidence"`
	Data       *model.ExtractedData `json:"extracted_data,omitempty"`
	Metadata   Metadata             `json:"metadata"`
}

// Metadata is the provenance block attached to every example.
type Metadata struct {
	RecordID       string               `json:"record_id"`
	SchemaVersion  int                  `json:"schema_version"`
	Outcome        model.Outcome        `json:"outcome"`
	WasCorrected   bool                 `json:"was_corrected"`
	ModelDecision  model.TriageDecision `json:"model_decision"`
	OverrideReason model.OverrideReason `json:"override_reason,omitempty"`
	Escalated      bool                 `json:"escalated"`
	TriageModel    string               `json:"triage_model,omitempty"`
	FullModel      string               `json:"full_model,omitempty"`
	ReviewedAt     *time.Time           `json:"reviewed_at,omitempty"`
	CreatedAt      time.Time            `json:"created_at"`
}

// Exporter turns reviewed extraction records into training examples.
type Exporter struct {
	store store.Store
}

// NewExporter creates an exporter over the given store.
func NewExporter(st store.Store) *Exporter {
	return &Exporter{store: st}
}

// Export fetches matching records and converts them. Order follows the
// store's (created_at, id) ordering, so the same store state always yields
// the same export.
func (e *Exporter) Export(ctx context.Context, filter Filter) ([]Example, error) {
	records, err := e.store.ListRecords(ctx, store.RecordFilter{
		Module:       filter.Module,
		ReviewedOnly: filter.ReviewedOnly,
		Since:        filter.Since,
		Until:        filter.Until,
		Limit:        filter.Limit,
	})
	if err != nil {
		return nil, eris.Wrap(err, "export: list records")
	}

	minRank := -1
	if filter.MinLevel != "" {
		if !filter.MinLevel.Valid() {
			return nil, eris.Errorf("export: unknown confidence level %q", filter.MinLevel)
		}
		minRank = filter.MinLevel.Rank()
	}

	examples := make([]Example, 0, len(records))
	for i := range records {
		rec := &records[i]
		if minRank >= 0 && model.LevelFromScore(rec.FinalConfidence).Rank() < minRank {
			continue
		}
		examples = append(examples, toExample(rec))
	}
	return examples, nil
}

// toExample applies corrected-over-extracted: a reviewed correction
// replaces the model's decision in the example body.
func toExample(rec *model.ExtractionRecord) Example {
	decision := rec.FinalDecision
	corrected := false
	switch rec.Outcome {
	case model.OutcomeOverridden, model.OutcomeModified:
		if rec.HumanDecision != "" {
			decision = rec.HumanDecision
		}
		corrected = true
	}

	return Example{
		Module:     rec.Module,
		CaseID:     rec.CaseID,
		EntityType: rec.EntityType,
		Decision:   decision,
		Confidence: rec.FinalConfidence,
		Data:       rec.FullData,
		Metadata: Metadata{
			RecordID:       rec.ID,
			SchemaVersion:  rec.SchemaVersion,
			Outcome:        rec.Outcome,
			WasCorrected:   corrected,
			ModelDecision:  rec.FinalDecision,
			OverrideReason: rec.OverrideReason,
			Escalated:      rec.Escalated(),
			TriageModel:    rec.TriageModel,
			FullModel:      rec.FullModel,
			ReviewedAt:     rec.ReviewedAt,
			CreatedAt:      rec.CreatedAt,
		},
	}
}

// WriteJSONL streams examples to w, one JSON object per line, and returns
// how many were written.
func (e *Exporter) WriteJSONL(ctx context.Context, w io.Writer, filter Filter) (int, error) {
	examples, err := e.Export(ctx, filter)
	if err != nil {
		return 0, err
	}

	enc := json.NewEncoder(w)
	for i := range examples {
		if err := enc.Encode(&examples[i]); err != nil {
			return i, eris.Wrap(err, "export: encode example")
		}
	}

	zap.L().Info("exported training examples",
		zap.Int("count", len(examples)),
		zap.String("module", string(filter.Module)),
		zap.Bool("reviewed_only", filter.ReviewedOnly),
	)
	return len(examples), nil
}
