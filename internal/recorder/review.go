package recorder

import (
	"context"
	"errors"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/meridian-clinical/triage-cli/internal/model"
	"github.com/meridian-clinical/triage-cli/internal/store"
)

// ErrInvalidReview is returned when a review submission violates the
// outcome taxonomy. The record is left untouched.
var ErrInvalidReview = eris.New("recorder: invalid review")

// IsInvalidReview reports whether err chains to ErrInvalidReview.
func IsInvalidReview(err error) bool {
	return errors.Is(err, ErrInvalidReview)
}

// Review is one human disposition of an extraction record.
type Review struct {
	RecordID       string
	Outcome        model.Outcome
	HumanDecision  model.TriageDecision
	OverrideReason model.OverrideReason
	OverrideNotes  string
	ReviewerID     string
	Duration       time.Duration
}

// HumanReviewRecorder applies review overlays. The overlay is validated
// against the stored record before anything is written, and replaced as a
// whole: concurrent reviews of one record serialize, last writer wins.
type HumanReviewRecorder struct {
	store   store.Store
	journal *store.Journal
	locks   *keyedMutex
}

// NewHumanReviewRecorder creates a review recorder sharing the decision
// recorder's per-case locks, so a review cannot interleave with a
// replacement extraction of the same case.
func NewHumanReviewRecorder(dec *DecisionRecorder) *HumanReviewRecorder {
	return &HumanReviewRecorder{store: dec.store, journal: dec.journal, locks: dec.locks}
}

// Apply validates and commits one review. It returns the record as it
// stands after the overlay.
func (r *HumanReviewRecorder) Apply(ctx context.Context, review Review) (*model.ExtractionRecord, error) {
	if review.ReviewerID == "" {
		return nil, eris.Wrap(ErrInvalidReview, "missing reviewer id")
	}

	// First fetch learns the case key; the locked re-fetch is authoritative.
	probe, err := r.store.GetRecord(ctx, review.RecordID)
	if err != nil {
		return nil, err
	}

	unlock := r.locks.lock(caseKey(probe.Module, probe.CaseID))
	defer unlock()

	rec, err := r.store.GetRecord(ctx, review.RecordID)
	if err != nil {
		return nil, err
	}

	overlay, err := buildOverlay(rec, review)
	if err != nil {
		return nil, err
	}

	if r.journal != nil {
		if err := r.journal.Append(store.JournalEntry{
			Op:       store.JournalOpReview,
			RecordID: rec.ID,
			Module:   rec.Module,
			CaseID:   rec.CaseID,
			Actor:    review.ReviewerID,
			Outcome:  overlay.Outcome,
			Decision: overlay.HumanDecision,
		}); err != nil {
			return nil, err
		}
	}
	if err := r.store.UpdateReview(ctx, rec.ID, overlay); err != nil {
		return nil, err
	}

	rec.Outcome = overlay.Outcome
	rec.HumanDecision = overlay.HumanDecision
	rec.OverrideReason = overlay.OverrideReason
	rec.OverrideNotes = overlay.OverrideNotes
	rec.ReviewerID = overlay.ReviewerID
	rec.ReviewedAt = &overlay.ReviewedAt
	rec.ReviewDurationS = overlay.ReviewDurationS

	zap.L().Info("recorded review",
		zap.String("record_id", rec.ID),
		zap.String("module", string(rec.Module)),
		zap.String("case_id", rec.CaseID),
		zap.String("outcome", string(rec.Outcome)),
		zap.String("reviewer", rec.ReviewerID),
	)
	return rec, nil
}

// buildOverlay enforces the outcome taxonomy against the stored record.
func buildOverlay(rec *model.ExtractionRecord, review Review) (store.ReviewOverlay, error) {
	var zero store.ReviewOverlay

	if !review.Outcome.Valid() || review.Outcome == model.OutcomePending {
		return zero, eris.Wrapf(ErrInvalidReview, "outcome %q", review.Outcome)
	}

	humanDecision := review.HumanDecision

	switch review.Outcome {
	case model.OutcomeAccepted:
		if review.OverrideReason != "" {
			return zero, eris.Wrap(ErrInvalidReview, "accepted review carries an override reason")
		}
		if humanDecision == "" {
			humanDecision = rec.FinalDecision
		}
		if humanDecision != rec.FinalDecision {
			return zero, eris.Wrapf(ErrInvalidReview, "accepted review disagrees with final decision %s", rec.FinalDecision)
		}

	case model.OutcomeOverridden:
		if !humanDecision.Valid() {
			return zero, eris.Wrapf(ErrInvalidReview, "override needs a valid human decision, got %q", humanDecision)
		}
		if humanDecision == rec.FinalDecision {
			return zero, eris.Wrap(ErrInvalidReview, "override agrees with the final decision; use ACCEPTED")
		}
		if !review.OverrideReason.Valid() {
			return zero, eris.Wrapf(ErrInvalidReview, "override reason %q not in taxonomy", review.OverrideReason)
		}

	case model.OutcomeModified:
		// A reason is optional for modifications; when given it must come
		// from the taxonomy so the reason distribution stays closed.
		if review.OverrideReason != "" && !review.OverrideReason.Valid() {
			return zero, eris.Wrapf(ErrInvalidReview, "modification reason %q not in taxonomy", review.OverrideReason)
		}
		if humanDecision == "" {
			humanDecision = rec.FinalDecision
		}
		if !humanDecision.Valid() {
			return zero, eris.Wrapf(ErrInvalidReview, "human decision %q", humanDecision)
		}
	}

	if review.OverrideReason == model.ReasonOther && review.OverrideNotes == "" {
		return zero, eris.Wrap(ErrInvalidReview, "OTHER requires override notes")
	}

	return store.ReviewOverlay{
		Outcome:         review.Outcome,
		HumanDecision:   humanDecision,
		OverrideReason:  review.OverrideReason,
		OverrideNotes:   review.OverrideNotes,
		ReviewerID:      review.ReviewerID,
		ReviewedAt:      time.Now().UTC(),
		ReviewDurationS: int64(review.Duration.Seconds()),
	}, nil
}
