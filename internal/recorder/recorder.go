package recorder

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/meridian-clinical/triage-cli/internal/model"
	"github.com/meridian-clinical/triage-cli/internal/store"
	"github.com/meridian-clinical/triage-cli/internal/triage"
)

// ErrAlreadyReviewed is returned when a plain extraction would clobber a
// record a human has already dispositioned. Use ReExtract to do it on purpose.
var ErrAlreadyReviewed = eris.New("recorder: record already reviewed")

// IsAlreadyReviewed reports whether err chains to ErrAlreadyReviewed.
func IsAlreadyReviewed(err error) bool {
	return errors.Is(err, ErrAlreadyReviewed)
}

// keyedMutex serializes operations per key so concurrent writers to the
// same (module, case_id) cannot interleave read-modify-write cycles.
// Locks are never reclaimed; the key space is bounded by the case load.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]*sync.Mutex)}
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
	return m.Unlock
}

func caseKey(module model.Module, caseID string) string {
	return string(module) + "/" + caseID
}

// Draft carries everything one extraction attempt produced, before it is
// committed as an ExtractionRecord.
type Draft struct {
	Case           model.Case
	Triage         *triage.TriageResult
	TriageDecision model.TriageDecision
	Triggered      []string
	Full           *triage.FullResult

	// NeedsHumanReview marks records whose full stage failed after the
	// policy escalated; the triage decision stands but must not ship
	// without eyes on it.
	NeedsHumanReview bool

	ExtractedAt time.Time
}

// final computes the decision and confidence downstream consumers read.
// The full model's verdict supersedes triage whenever it ran.
func (d Draft) final() (model.TriageDecision, float64) {
	if d.Full != nil {
		return d.Full.Decision, d.Full.Confidence
	}
	return d.TriageDecision, d.Triage.Confidence
}

// DecisionRecorder commits extraction drafts to the store with exactly one
// record per (module, case_id). Every committed write is journaled first.
type DecisionRecorder struct {
	store   store.Store
	journal *store.Journal
	locks   *keyedMutex
}

// NewDecisionRecorder creates a recorder. The journal may be nil, in which
// case only the store is written.
func NewDecisionRecorder(st store.Store, journal *store.Journal) *DecisionRecorder {
	return &DecisionRecorder{store: st, journal: journal, locks: newKeyedMutex()}
}

// Record commits a draft. An unreviewed record for the same case is
// replaced in place, keeping the original row identity; a reviewed record
// is protected and returns ErrAlreadyReviewed.
func (r *DecisionRecorder) Record(ctx context.Context, draft Draft) (*model.ExtractionRecord, error) {
	return r.commit(ctx, draft, false)
}

// ReExtract commits a draft even over a reviewed record, discarding the
// previous review overlay. This is the explicit operator escape hatch.
func (r *DecisionRecorder) ReExtract(ctx context.Context, draft Draft) (*model.ExtractionRecord, error) {
	return r.commit(ctx, draft, true)
}

func (r *DecisionRecorder) commit(ctx context.Context, draft Draft, force bool) (*model.ExtractionRecord, error) {
	if draft.Triage == nil {
		return nil, eris.New("recorder: draft missing triage result")
	}
	if !draft.Case.Module.Valid() {
		return nil, eris.Errorf("recorder: unknown module %q", draft.Case.Module)
	}

	unlock := r.locks.lock(caseKey(draft.Case.Module, draft.Case.CaseID))
	defer unlock()

	rec := r.buildRecord(draft)
	op := store.JournalOpExtract

	existing, err := r.store.GetRecordByCase(ctx, draft.Case.Module, draft.Case.CaseID)
	switch {
	case err == nil:
		if existing.Outcome.Reviewed() && !force {
			return nil, eris.Wrapf(ErrAlreadyReviewed, "%s/%s", draft.Case.Module, draft.Case.CaseID)
		}
		// The upsert keeps the stored row identity; mirror it in the
		// returned record.
		rec.ID = existing.ID
		rec.CreatedAt = existing.CreatedAt
		if existing.Outcome.Reviewed() {
			op = store.JournalOpReExtract
		}
	case store.IsNotFound(err):
		// First extraction for this case.
	default:
		return nil, err
	}

	if err := r.journalEntry(op, rec, ""); err != nil {
		return nil, err
	}
	if err := r.store.UpsertRecord(ctx, rec); err != nil {
		return nil, err
	}

	zap.L().Info("recorded extraction",
		zap.String("module", string(rec.Module)),
		zap.String("case_id", rec.CaseID),
		zap.String("final_decision", string(rec.FinalDecision)),
		zap.Bool("escalated", rec.Escalated()),
		zap.Bool("needs_human_review", rec.NeedsHumanReview),
	)
	return rec, nil
}

func (r *DecisionRecorder) buildRecord(draft Draft) *model.ExtractionRecord {
	now := time.Now().UTC()
	extractedAt := draft.ExtractedAt
	if extractedAt.IsZero() {
		extractedAt = now
	}

	finalDecision, finalConfidence := draft.final()

	rec := &model.ExtractionRecord{
		ID:            uuid.NewString(),
		SchemaVersion: model.SchemaVersion,
		Module:        draft.Case.Module,
		CaseID:        draft.Case.CaseID,
		EntityType:    draft.Case.EntityType,

		TriageModel:        draft.Triage.Model,
		TriageDecision:     draft.TriageDecision,
		EscalationTriggers: draft.Triggered,
		TriageConfidence:   draft.Triage.Confidence,
		TriageLevel:        draft.Triage.Level,
		TriageLatencyMS:    draft.Triage.LatencyMS,

		FinalDecision:    finalDecision,
		FinalConfidence:  finalConfidence,
		NeedsHumanReview: draft.NeedsHumanReview,

		Outcome:     model.OutcomePending,
		ExtractedAt: extractedAt,
		CreatedAt:   now,
	}

	if draft.Full != nil {
		rec.FullModel = draft.Full.Model
		rec.FullLatencyMS = draft.Full.LatencyMS
		rec.FullData = draft.Full.Data
	}

	return rec
}

func (r *DecisionRecorder) journalEntry(op store.JournalOp, rec *model.ExtractionRecord, actor string) error {
	if r.journal == nil {
		return nil
	}
	return r.journal.Append(store.JournalEntry{
		Op:       op,
		RecordID: rec.ID,
		Module:   rec.Module,
		CaseID:   rec.CaseID,
		Actor:    actor,
		Decision: rec.FinalDecision,
	})
}
