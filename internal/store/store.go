package store

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"

	"github.com/meridian-clinical/triage-cli/internal/model"
)

// ErrRecordNotFound is returned when a record id or (module, case_id) pair
// does not exist. It is surfaced to the caller and never retried.
var ErrRecordNotFound = eris.New("store: record not found")

// IsNotFound reports whether err chains to ErrRecordNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrRecordNotFound)
}

// RecordFilter specifies criteria for listing extraction records.
type RecordFilter struct {
	Module       model.Module  `json:"module,omitempty"`
	Outcome      model.Outcome `json:"outcome,omitempty"`
	ReviewedOnly bool          `json:"reviewed_only,omitempty"`
	Since        time.Time     `json:"since,omitempty"`
	Until        time.Time     `json:"until,omitempty"`
	Limit        int           `json:"limit,omitempty"`
	Offset       int           `json:"offset,omitempty"`
}

// ReviewOverlay carries the review fields written by the review recorder.
// The whole overlay is replaced in one statement so concurrent reviews of
// the same record cannot interleave partial fields.
type ReviewOverlay struct {
	Outcome         model.Outcome
	HumanDecision   model.TriageDecision
	OverrideReason  model.OverrideReason
	OverrideNotes   string
	ReviewerID      string
	ReviewedAt      time.Time
	ReviewDurationS int64
}

// Store defines the persistence interface for the triage pipeline. Records
// are never deleted; export filters, not deletes, narrow the data.
type Store interface {
	// UpsertRecord inserts the record or replaces the existing row for the
	// same (module, case_id). The caller owns the replace-vs-reject policy;
	// the store only guarantees at most one row per case.
	UpsertRecord(ctx context.Context, rec *model.ExtractionRecord) error

	GetRecord(ctx context.Context, id string) (*model.ExtractionRecord, error)
	GetRecordByCase(ctx context.Context, module model.Module, caseID string) (*model.ExtractionRecord, error)
	ListRecords(ctx context.Context, filter RecordFilter) ([]model.ExtractionRecord, error)

	// UpdateReview replaces the review overlay of an existing record.
	UpdateReview(ctx context.Context, id string, overlay ReviewOverlay) error

	Migrate(ctx context.Context) error
	Close() error
}
