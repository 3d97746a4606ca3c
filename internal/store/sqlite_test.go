package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-clinical/triage-cli/internal/model"
)

func newTestSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLite(filepath.Join(t.TempDir(), "triage.db"))
	require.NoError(t, err)
	require.NoError(t, store.Migrate(context.Background()))
	t.Cleanup(func() { store.Close() })
	return store
}

func testRecord(module model.Module, caseID string) *model.ExtractionRecord {
	now := time.Now().UTC().Truncate(time.Second)
	return &model.ExtractionRecord{
		ID:                 uuid.NewString(),
		SchemaVersion:      model.SchemaVersion,
		Module:             module,
		CaseID:             caseID,
		EntityType:         "diagnosis",
		TriageModel:        "claude-haiku-4-5-20251001",
		TriageDecision:     model.DecisionNeedsFullAnalysis,
		EscalationTriggers: []string{"conflicting_signals"},
		TriageConfidence:   0.55,
		TriageLevel:        model.ConfidenceMedium,
		TriageLatencyMS:    310,
		FullModel:          "claude-sonnet-4-5-20250929",
		FullLatencyMS:      4100,
		FullData: &model.ExtractedData{
			Kind:    model.KindFinding,
			Version: model.ExtractedDataVersion,
			Finding: &model.FindingExtraction{
				Condition:   "atrial fibrillation",
				Present:     true,
				EvidenceIDs: []string{"n1"},
				Rationale:   "irregular rhythm documented",
			},
		},
		FinalDecision:   model.DecisionClearPositive,
		FinalConfidence: 0.93,
		Outcome:         model.OutcomePending,
		ExtractedAt:     now,
		CreatedAt:       now,
	}
}

func TestSQLiteStore_RoundTrip(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	rec := testRecord(model.ModuleCardiology, "case-1")
	require.NoError(t, store.UpsertRecord(ctx, rec))

	got, err := store.GetRecord(ctx, rec.ID)
	require.NoError(t, err)

	assert.Equal(t, rec.ID, got.ID)
	assert.Equal(t, rec.Module, got.Module)
	assert.Equal(t, rec.EscalationTriggers, got.EscalationTriggers)
	assert.Equal(t, rec.TriageLevel, got.TriageLevel)
	require.NotNil(t, got.FullData)
	assert.Equal(t, model.KindFinding, got.FullData.Kind)
	assert.Equal(t, "atrial fibrillation", got.FullData.Finding.Condition)
	assert.Equal(t, rec.FinalDecision, got.FinalDecision)
	assert.Nil(t, got.ReviewedAt)

	byCase, err := store.GetRecordByCase(ctx, rec.Module, rec.CaseID)
	require.NoError(t, err)
	assert.Equal(t, rec.ID, byCase.ID)
}

func TestSQLiteStore_NotFound(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	_, err := store.GetRecord(ctx, "nope")
	assert.True(t, IsNotFound(err))

	_, err = store.GetRecordByCase(ctx, model.ModuleOncology, "nope")
	assert.True(t, IsNotFound(err))
}

func TestSQLiteStore_UpsertReplacesCaseRow(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	first := testRecord(model.ModuleCardiology, "case-1")
	require.NoError(t, store.UpsertRecord(ctx, first))

	second := testRecord(model.ModuleCardiology, "case-1")
	second.FinalDecision = model.DecisionClearNegative
	second.FinalConfidence = 0.71
	require.NoError(t, store.UpsertRecord(ctx, second))

	records, err := store.ListRecords(ctx, RecordFilter{Module: model.ModuleCardiology})
	require.NoError(t, err)
	require.Len(t, records, 1, "one row per (module, case_id)")

	// Replacement keeps the original row identity.
	assert.Equal(t, first.ID, records[0].ID)
	assert.Equal(t, model.DecisionClearNegative, records[0].FinalDecision)
	assert.Equal(t, 0.71, records[0].FinalConfidence)
}

func TestSQLiteStore_SameCaseIDAcrossModules(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertRecord(ctx, testRecord(model.ModuleCardiology, "case-1")))
	require.NoError(t, store.UpsertRecord(ctx, testRecord(model.ModuleOncology, "case-1")))

	records, err := store.ListRecords(ctx, RecordFilter{})
	require.NoError(t, err)
	assert.Len(t, records, 2)
}

func TestSQLiteStore_UpdateReview(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	rec := testRecord(model.ModuleCardiology, "case-1")
	require.NoError(t, store.UpsertRecord(ctx, rec))

	reviewedAt := time.Now().UTC().Truncate(time.Second)
	overlay := ReviewOverlay{
		Outcome:         model.OutcomeOverridden,
		HumanDecision:   model.DecisionClearNegative,
		OverrideReason:  model.ReasonMissedNegation,
		OverrideNotes:   "note explicitly rules out afib",
		ReviewerID:      "dr-lee",
		ReviewedAt:      reviewedAt,
		ReviewDurationS: 95,
	}
	require.NoError(t, store.UpdateReview(ctx, rec.ID, overlay))

	got, err := store.GetRecord(ctx, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OutcomeOverridden, got.Outcome)
	assert.Equal(t, model.DecisionClearNegative, got.HumanDecision)
	assert.Equal(t, model.ReasonMissedNegation, got.OverrideReason)
	assert.Equal(t, "dr-lee", got.ReviewerID)
	require.NotNil(t, got.ReviewedAt)
	assert.Equal(t, reviewedAt, got.ReviewedAt.UTC())
	assert.Equal(t, int64(95), got.ReviewDurationS)

	// The extraction fields are untouched by a review.
	assert.Equal(t, rec.FinalDecision, got.FinalDecision)
	assert.Equal(t, rec.FinalConfidence, got.FinalConfidence)
}

func TestSQLiteStore_UpdateReview_NotFound(t *testing.T) {
	store := newTestSQLiteStore(t)

	err := store.UpdateReview(context.Background(), "missing", ReviewOverlay{
		Outcome:    model.OutcomeAccepted,
		ReviewedAt: time.Now(),
	})
	assert.True(t, IsNotFound(err))
}

func TestSQLiteStore_ListRecords_Filters(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	early := testRecord(model.ModuleCardiology, "case-1")
	early.CreatedAt = time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	late := testRecord(model.ModuleOncology, "case-2")
	late.CreatedAt = time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.UpsertRecord(ctx, early))
	require.NoError(t, store.UpsertRecord(ctx, late))

	reviewedAt := time.Now().UTC()
	require.NoError(t, store.UpdateReview(ctx, late.ID, ReviewOverlay{
		Outcome:       model.OutcomeAccepted,
		HumanDecision: late.FinalDecision,
		ReviewerID:    "dr-lee",
		ReviewedAt:    reviewedAt,
	}))

	byModule, err := store.ListRecords(ctx, RecordFilter{Module: model.ModuleOncology})
	require.NoError(t, err)
	require.Len(t, byModule, 1)
	assert.Equal(t, late.ID, byModule[0].ID)

	reviewed, err := store.ListRecords(ctx, RecordFilter{ReviewedOnly: true})
	require.NoError(t, err)
	require.Len(t, reviewed, 1)
	assert.Equal(t, late.ID, reviewed[0].ID)

	window, err := store.ListRecords(ctx, RecordFilter{
		Since: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		Until: time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.Len(t, window, 1)
	assert.Equal(t, late.ID, window[0].ID)

	byOutcome, err := store.ListRecords(ctx, RecordFilter{Outcome: model.OutcomeAccepted})
	require.NoError(t, err)
	require.Len(t, byOutcome, 1)
}

func TestSQLiteStore_ListRecords_Ordering(t *testing.T) {
	store := newTestSQLiteStore(t)
	ctx := context.Background()

	base := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	for i, caseID := range []string{"case-c", "case-a", "case-b"} {
		rec := testRecord(model.ModuleCardiology, caseID)
		rec.CreatedAt = base.Add(time.Duration(2-i) * time.Hour)
		require.NoError(t, store.UpsertRecord(ctx, rec))
	}

	records, err := store.ListRecords(ctx, RecordFilter{})
	require.NoError(t, err)
	require.Len(t, records, 3)

	// Oldest first, so repeated exports are byte-identical.
	assert.Equal(t, "case-b", records[0].CaseID)
	assert.Equal(t, "case-a", records[1].CaseID)
	assert.Equal(t, "case-c", records[2].CaseID)
}
