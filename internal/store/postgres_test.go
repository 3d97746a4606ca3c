package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridian-clinical/triage-cli/internal/model"
)

func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return &PostgresStore{pool: mock}, mock
}

var pgRecordColumns = []string{
	"id", "schema_version", "module", "case_id", "entity_type",
	"triage_model", "triage_decision", "escalation_triggers",
	"triage_confidence", "triage_level", "triage_latency_ms",
	"full_model", "full_latency_ms", "full_data",
	"final_decision", "final_confidence", "needs_human_review",
	"outcome", "human_decision", "override_reason", "override_notes",
	"reviewer_id", "reviewed_at", "review_duration_seconds",
	"extracted_at", "created_at",
}

func pgAnyArgs(n int) []any {
	args := make([]any, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func pgRecordRow(now time.Time) []any {
	return []any{
		"rec-1", int64(2), "cardiology", "case-7", "diagnosis",
		"claude-haiku-4-5-20251001", "CLEAR_POSITIVE", []byte(`[]`),
		0.91, "high", int64(420),
		"", int64(0), []byte(nil),
		"CLEAR_POSITIVE", 0.91, false,
		"PENDING", "", "", "",
		"", (*time.Time)(nil), int64(0),
		now, now,
	}
}

func TestPostgresStore_GetRecord(t *testing.T) {
	store, mock := newMockPostgresStore(t)
	now := time.Now().UTC().Truncate(time.Second)

	mock.ExpectQuery(`SELECT .+ FROM extraction_records WHERE id = \$1`).
		WithArgs("rec-1").
		WillReturnRows(pgxmock.NewRows(pgRecordColumns).AddRow(pgRecordRow(now)...))

	rec, err := store.GetRecord(context.Background(), "rec-1")
	require.NoError(t, err)

	assert.Equal(t, "rec-1", rec.ID)
	assert.Equal(t, model.ModuleCardiology, rec.Module)
	assert.Equal(t, model.DecisionClearPositive, rec.TriageDecision)
	assert.Equal(t, model.OutcomePending, rec.Outcome)
	assert.Nil(t, rec.ReviewedAt)
	assert.Nil(t, rec.FullData)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRecord_NotFound(t *testing.T) {
	store, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT .+ FROM extraction_records WHERE id = \$1`).
		WithArgs("missing").
		WillReturnError(pgx.ErrNoRows)

	_, err := store.GetRecord(context.Background(), "missing")
	assert.True(t, IsNotFound(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRecordByCase(t *testing.T) {
	store, mock := newMockPostgresStore(t)
	now := time.Now().UTC().Truncate(time.Second)

	mock.ExpectQuery(`SELECT .+ FROM extraction_records WHERE module = \$1 AND case_id = \$2`).
		WithArgs("cardiology", "case-7").
		WillReturnRows(pgxmock.NewRows(pgRecordColumns).AddRow(pgRecordRow(now)...))

	rec, err := store.GetRecordByCase(context.Background(), model.ModuleCardiology, "case-7")
	require.NoError(t, err)
	assert.Equal(t, "case-7", rec.CaseID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpsertRecord(t *testing.T) {
	store, mock := newMockPostgresStore(t)

	mock.ExpectExec(`INSERT INTO extraction_records .+ ON CONFLICT \(module, case_id\) DO UPDATE SET`).
		WithArgs(pgAnyArgs(26)...).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	rec := &model.ExtractionRecord{
		ID:             "rec-1",
		SchemaVersion:  model.SchemaVersion,
		Module:         model.ModuleCardiology,
		CaseID:         "case-7",
		TriageDecision: model.DecisionClearPositive,
		FinalDecision:  model.DecisionClearPositive,
		Outcome:        model.OutcomePending,
		ExtractedAt:    time.Now(),
		CreatedAt:      time.Now(),
	}
	require.NoError(t, store.UpsertRecord(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateReview(t *testing.T) {
	store, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE extraction_records SET`).
		WithArgs(pgAnyArgs(8)...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))

	overlay := ReviewOverlay{
		Outcome:       model.OutcomeAccepted,
		HumanDecision: model.DecisionClearPositive,
		ReviewerID:    "dr-lee",
		ReviewedAt:    time.Now(),
	}
	require.NoError(t, store.UpdateReview(context.Background(), "rec-1", overlay))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_UpdateReview_NotFound(t *testing.T) {
	store, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE extraction_records SET`).
		WithArgs(pgAnyArgs(8)...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := store.UpdateReview(context.Background(), "missing", ReviewOverlay{
		Outcome:    model.OutcomeAccepted,
		ReviewedAt: time.Now(),
	})
	assert.True(t, IsNotFound(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_ListRecords_Filters(t *testing.T) {
	store, mock := newMockPostgresStore(t)
	now := time.Now().UTC().Truncate(time.Second)

	mock.ExpectQuery(`SELECT .+ FROM extraction_records WHERE 1=1 AND module = \$1 AND outcome != \$2 ORDER BY created_at, id LIMIT \$3`).
		WithArgs("cardiology", "PENDING", 50).
		WillReturnRows(pgxmock.NewRows(pgRecordColumns).AddRow(pgRecordRow(now)...))

	records, err := store.ListRecords(context.Background(), RecordFilter{
		Module:       model.ModuleCardiology,
		ReviewedOnly: true,
		Limit:        50,
	})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "rec-1", records[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}
