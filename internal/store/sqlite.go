package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/meridian-clinical/triage-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite. This is the default
// embedded backend: review updates are single-row statements, not period
// rewrites.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given DSN and configures WAL mode
// so analyzer reads do not block recorder writes.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS extraction_records (
	id                      TEXT PRIMARY KEY,
	schema_version          INTEGER NOT NULL,
	module                  TEXT NOT NULL,
	case_id                 TEXT NOT NULL,
	entity_type             TEXT NOT NULL DEFAULT '',
	triage_model            TEXT NOT NULL DEFAULT '',
	triage_decision         TEXT NOT NULL,
	escalation_triggers     TEXT NOT NULL DEFAULT '[]',
	triage_confidence       REAL NOT NULL DEFAULT 0,
	triage_level            TEXT NOT NULL DEFAULT '',
	triage_latency_ms       INTEGER NOT NULL DEFAULT 0,
	full_model              TEXT NOT NULL DEFAULT '',
	full_latency_ms         INTEGER NOT NULL DEFAULT 0,
	full_data               TEXT,
	final_decision          TEXT NOT NULL,
	final_confidence        REAL NOT NULL DEFAULT 0,
	needs_human_review      INTEGER NOT NULL DEFAULT 0,
	outcome                 TEXT NOT NULL DEFAULT 'PENDING',
	human_decision          TEXT NOT NULL DEFAULT '',
	override_reason         TEXT NOT NULL DEFAULT '',
	override_notes          TEXT NOT NULL DEFAULT '',
	reviewer_id             TEXT NOT NULL DEFAULT '',
	reviewed_at             DATETIME,
	review_duration_seconds INTEGER NOT NULL DEFAULT 0,
	extracted_at            DATETIME NOT NULL,
	created_at              DATETIME NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_records_module_case ON extraction_records(module, case_id);
CREATE INDEX IF NOT EXISTS idx_records_outcome ON extraction_records(outcome);
CREATE INDEX IF NOT EXISTS idx_records_created_at ON extraction_records(created_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) UpsertRecord(ctx context.Context, rec *model.ExtractionRecord) error {
	triggersJSON, fullDataJSON, err := marshalRecordBlobs(rec)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO extraction_records (
			id, schema_version, module, case_id, entity_type,
			triage_model, triage_decision, escalation_triggers,
			triage_confidence, triage_level, triage_latency_ms,
			full_model, full_latency_ms, full_data,
			final_decision, final_confidence, needs_human_review,
			outcome, human_decision, override_reason, override_notes,
			reviewer_id, reviewed_at, review_duration_seconds,
			extracted_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(module, case_id) DO UPDATE SET
			schema_version = excluded.schema_version,
			entity_type = excluded.entity_type,
			triage_model = excluded.triage_model,
			triage_decision = excluded.triage_decision,
			escalation_triggers = excluded.escalation_triggers,
			triage_confidence = excluded.triage_confidence,
			triage_level = excluded.triage_level,
			triage_latency_ms = excluded.triage_latency_ms,
			full_model = excluded.full_model,
			full_latency_ms = excluded.full_latency_ms,
			full_data = excluded.full_data,
			final_decision = excluded.final_decision,
			final_confidence = excluded.final_confidence,
			needs_human_review = excluded.needs_human_review,
			outcome = excluded.outcome,
			human_decision = excluded.human_decision,
			override_reason = excluded.override_reason,
			override_notes = excluded.override_notes,
			reviewer_id = excluded.reviewer_id,
			reviewed_at = excluded.reviewed_at,
			review_duration_seconds = excluded.review_duration_seconds,
			extracted_at = excluded.extracted_at`,
		rec.ID, rec.SchemaVersion, string(rec.Module), rec.CaseID, rec.EntityType,
		rec.TriageModel, string(rec.TriageDecision), triggersJSON,
		rec.TriageConfidence, string(rec.TriageLevel), rec.TriageLatencyMS,
		rec.FullModel, rec.FullLatencyMS, fullDataJSON,
		string(rec.FinalDecision), rec.FinalConfidence, boolToInt(rec.NeedsHumanReview),
		string(rec.Outcome), string(rec.HumanDecision), string(rec.OverrideReason), rec.OverrideNotes,
		rec.ReviewerID, nullableTime(rec.ReviewedAt), rec.ReviewDurationS,
		rec.ExtractedAt.UTC(), rec.CreatedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: upsert record %s/%s", rec.Module, rec.CaseID)
}

const sqliteSelectColumns = `
	id, schema_version, module, case_id, entity_type,
	triage_model, triage_decision, escalation_triggers,
	triage_confidence, triage_level, triage_latency_ms,
	full_model, full_latency_ms, full_data,
	final_decision, final_confidence, needs_human_review,
	outcome, human_decision, override_reason, override_notes,
	reviewer_id, reviewed_at, review_duration_seconds,
	extracted_at, created_at`

func (s *SQLiteStore) GetRecord(ctx context.Context, id string) (*model.ExtractionRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteSelectColumns+` FROM extraction_records WHERE id = ?`, id)
	return scanRecord(row)
}

func (s *SQLiteStore) GetRecordByCase(ctx context.Context, module model.Module, caseID string) (*model.ExtractionRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sqliteSelectColumns+` FROM extraction_records WHERE module = ? AND case_id = ?`,
		string(module), caseID)
	return scanRecord(row)
}

func (s *SQLiteStore) ListRecords(ctx context.Context, filter RecordFilter) ([]model.ExtractionRecord, error) {
	query := `SELECT ` + sqliteSelectColumns + ` FROM extraction_records WHERE 1=1`
	var args []any

	if filter.Module != "" {
		query += ` AND module = ?`
		args = append(args, string(filter.Module))
	}
	if filter.Outcome != "" {
		query += ` AND outcome = ?`
		args = append(args, string(filter.Outcome))
	}
	if filter.ReviewedOnly {
		query += ` AND outcome != ?`
		args = append(args, string(model.OutcomePending))
	}
	if !filter.Since.IsZero() {
		query += ` AND created_at >= ?`
		args = append(args, filter.Since.UTC())
	}
	if !filter.Until.IsZero() {
		query += ` AND created_at < ?`
		args = append(args, filter.Until.UTC())
	}

	// Deterministic ordering so repeated exports over an unchanged store
	// are identical.
	query += ` ORDER BY created_at, id`

	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += ` OFFSET ?`
			args = append(args, filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list records")
	}
	defer rows.Close()

	var records []model.ExtractionRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, eris.Wrap(rows.Err(), "sqlite: list records iterate")
}

func (s *SQLiteStore) UpdateReview(ctx context.Context, id string, overlay ReviewOverlay) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE extraction_records SET
			outcome = ?, human_decision = ?, override_reason = ?, override_notes = ?,
			reviewer_id = ?, reviewed_at = ?, review_duration_seconds = ?
		WHERE id = ?`,
		string(overlay.Outcome), string(overlay.HumanDecision),
		string(overlay.OverrideReason), overlay.OverrideNotes,
		overlay.ReviewerID, overlay.ReviewedAt.UTC(), overlay.ReviewDurationS,
		id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update review %s", id)
	}
	return checkRowsAffected(res, id)
}

// helpers

func marshalRecordBlobs(rec *model.ExtractionRecord) (string, sql.NullString, error) {
	triggers := rec.EscalationTriggers
	if triggers == nil {
		triggers = []string{}
	}
	triggersJSON, err := json.Marshal(triggers)
	if err != nil {
		return "", sql.NullString{}, eris.Wrap(err, "store: marshal triggers")
	}

	var fullData sql.NullString
	if rec.FullData != nil {
		raw, err := json.Marshal(rec.FullData)
		if err != nil {
			return "", sql.NullString{}, eris.Wrap(err, "store: marshal full data")
		}
		fullData = sql.NullString{String: string(raw), Valid: true}
	}
	return string(triggersJSON), fullData, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func checkRowsAffected(res sql.Result, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "store: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrRecordNotFound, "id %s", id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRecord(row scannable) (*model.ExtractionRecord, error) {
	var rec model.ExtractionRecord
	var module, triageDecision, finalDecision, outcome, humanDecision, overrideReason, triageLevel string
	var triggersJSON string
	var fullData sql.NullString
	var reviewedAt sql.NullTime
	var needsReview int

	err := row.Scan(
		&rec.ID, &rec.SchemaVersion, &module, &rec.CaseID, &rec.EntityType,
		&rec.TriageModel, &triageDecision, &triggersJSON,
		&rec.TriageConfidence, &triageLevel, &rec.TriageLatencyMS,
		&rec.FullModel, &rec.FullLatencyMS, &fullData,
		&finalDecision, &rec.FinalConfidence, &needsReview,
		&outcome, &humanDecision, &overrideReason, &rec.OverrideNotes,
		&rec.ReviewerID, &reviewedAt, &rec.ReviewDurationS,
		&rec.ExtractedAt, &rec.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "store: scan record")
	}

	rec.Module = model.Module(module)
	rec.TriageDecision = model.TriageDecision(triageDecision)
	rec.TriageLevel = model.ConfidenceLevel(triageLevel)
	rec.FinalDecision = model.TriageDecision(finalDecision)
	rec.Outcome = model.Outcome(outcome)
	rec.HumanDecision = model.TriageDecision(humanDecision)
	rec.OverrideReason = model.OverrideReason(overrideReason)
	rec.NeedsHumanReview = needsReview != 0

	if err := json.Unmarshal([]byte(triggersJSON), &rec.EscalationTriggers); err != nil {
		return nil, eris.Wrap(err, "store: unmarshal triggers")
	}
	if fullData.Valid {
		rec.FullData = &model.ExtractedData{}
		if err := json.Unmarshal([]byte(fullData.String), rec.FullData); err != nil {
			return nil, eris.Wrap(err, "store: unmarshal full data")
		}
	}
	if reviewedAt.Valid {
		t := reviewedAt.Time
		rec.ReviewedAt = &t
	}

	return &rec, nil
}
