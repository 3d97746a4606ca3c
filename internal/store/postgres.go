package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/meridian-clinical/triage-cli/internal/model"
)

// Pool abstracts the pgx pool operations the store uses, so tests can
// substitute pgxmock.
type Pool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
}

// PostgresStore implements Store using pgxpool, for shared deployments
// where several reviewers and extract workers hit the same audit store.
type PostgresStore struct {
	pool    Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS extraction_records (
	id                      TEXT PRIMARY KEY,
	schema_version          INTEGER NOT NULL,
	module                  TEXT NOT NULL,
	case_id                 TEXT NOT NULL,
	entity_type             TEXT NOT NULL DEFAULT '',
	triage_model            TEXT NOT NULL DEFAULT '',
	triage_decision         TEXT NOT NULL,
	escalation_triggers     JSONB NOT NULL DEFAULT '[]',
	triage_confidence       DOUBLE PRECISION NOT NULL DEFAULT 0,
	triage_level            TEXT NOT NULL DEFAULT '',
	triage_latency_ms       BIGINT NOT NULL DEFAULT 0,
	full_model              TEXT NOT NULL DEFAULT '',
	full_latency_ms         BIGINT NOT NULL DEFAULT 0,
	full_data               JSONB,
	final_decision          TEXT NOT NULL,
	final_confidence        DOUBLE PRECISION NOT NULL DEFAULT 0,
	needs_human_review      BOOLEAN NOT NULL DEFAULT false,
	outcome                 TEXT NOT NULL DEFAULT 'PENDING',
	human_decision          TEXT NOT NULL DEFAULT '',
	override_reason         TEXT NOT NULL DEFAULT '',
	override_notes          TEXT NOT NULL DEFAULT '',
	reviewer_id             TEXT NOT NULL DEFAULT '',
	reviewed_at             TIMESTAMPTZ,
	review_duration_seconds BIGINT NOT NULL DEFAULT 0,
	extracted_at            TIMESTAMPTZ NOT NULL,
	created_at              TIMESTAMPTZ NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS idx_records_module_case ON extraction_records(module, case_id);
CREATE INDEX IF NOT EXISTS idx_records_outcome ON extraction_records(outcome);
CREATE INDEX IF NOT EXISTS idx_records_created_at ON extraction_records(created_at);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) UpsertRecord(ctx context.Context, rec *model.ExtractionRecord) error {
	triggersJSON, fullDataJSON, err := marshalRecordBlobs(rec)
	if err != nil {
		return err
	}

	var fullData any
	if fullDataJSON.Valid {
		fullData = fullDataJSON.String
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO extraction_records (
			id, schema_version, module, case_id, entity_type,
			triage_model, triage_decision, escalation_triggers,
			triage_confidence, triage_level, triage_latency_ms,
			full_model, full_latency_ms, full_data,
			final_decision, final_confidence, needs_human_review,
			outcome, human_decision, override_reason, override_notes,
			reviewer_id, reviewed_at, review_duration_seconds,
			extracted_at, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
		          $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26)
		ON CONFLICT (module, case_id) DO UPDATE SET
			schema_version = EXCLUDED.schema_version,
			entity_type = EXCLUDED.entity_type,
			triage_model = EXCLUDED.triage_model,
			triage_decision = EXCLUDED.triage_decision,
			escalation_triggers = EXCLUDED.escalation_triggers,
			triage_confidence = EXCLUDED.triage_confidence,
			triage_level = EXCLUDED.triage_level,
			triage_latency_ms = EXCLUDED.triage_latency_ms,
			full_model = EXCLUDED.full_model,
			full_latency_ms = EXCLUDED.full_latency_ms,
			full_data = EXCLUDED.full_data,
			final_decision = EXCLUDED.final_decision,
			final_confidence = EXCLUDED.final_confidence,
			needs_human_review = EXCLUDED.needs_human_review,
			outcome = EXCLUDED.outcome,
			human_decision = EXCLUDED.human_decision,
			override_reason = EXCLUDED.override_reason,
			override_notes = EXCLUDED.override_notes,
			reviewer_id = EXCLUDED.reviewer_id,
			reviewed_at = EXCLUDED.reviewed_at,
			review_duration_seconds = EXCLUDED.review_duration_seconds,
			extracted_at = EXCLUDED.extracted_at`,
		rec.ID, rec.SchemaVersion, string(rec.Module), rec.CaseID, rec.EntityType,
		rec.TriageModel, string(rec.TriageDecision), triggersJSON,
		rec.TriageConfidence, string(rec.TriageLevel), rec.TriageLatencyMS,
		rec.FullModel, rec.FullLatencyMS, fullData,
		string(rec.FinalDecision), rec.FinalConfidence, rec.NeedsHumanReview,
		string(rec.Outcome), string(rec.HumanDecision), string(rec.OverrideReason), rec.OverrideNotes,
		rec.ReviewerID, nullableTime(rec.ReviewedAt), rec.ReviewDurationS,
		rec.ExtractedAt.UTC(), rec.CreatedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: upsert record %s/%s", rec.Module, rec.CaseID)
}

const postgresSelectColumns = `
	id, schema_version, module, case_id, entity_type,
	triage_model, triage_decision, escalation_triggers,
	triage_confidence, triage_level, triage_latency_ms,
	full_model, full_latency_ms, full_data,
	final_decision, final_confidence, needs_human_review,
	outcome, human_decision, override_reason, override_notes,
	reviewer_id, reviewed_at, review_duration_seconds,
	extracted_at, created_at`

func (s *PostgresStore) GetRecord(ctx context.Context, id string) (*model.ExtractionRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+postgresSelectColumns+` FROM extraction_records WHERE id = $1`, id)
	return scanPostgresRecord(row)
}

func (s *PostgresStore) GetRecordByCase(ctx context.Context, module model.Module, caseID string) (*model.ExtractionRecord, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+postgresSelectColumns+` FROM extraction_records WHERE module = $1 AND case_id = $2`,
		string(module), caseID)
	return scanPostgresRecord(row)
}

func (s *PostgresStore) ListRecords(ctx context.Context, filter RecordFilter) ([]model.ExtractionRecord, error) {
	query := `SELECT ` + postgresSelectColumns + ` FROM extraction_records WHERE 1=1`
	var args []any

	arg := func(v any) string {
		args = append(args, v)
		return placeholder(len(args))
	}

	if filter.Module != "" {
		query += ` AND module = ` + arg(string(filter.Module))
	}
	if filter.Outcome != "" {
		query += ` AND outcome = ` + arg(string(filter.Outcome))
	}
	if filter.ReviewedOnly {
		query += ` AND outcome != ` + arg(string(model.OutcomePending))
	}
	if !filter.Since.IsZero() {
		query += ` AND created_at >= ` + arg(filter.Since.UTC())
	}
	if !filter.Until.IsZero() {
		query += ` AND created_at < ` + arg(filter.Until.UTC())
	}

	query += ` ORDER BY created_at, id`

	if filter.Limit > 0 {
		query += ` LIMIT ` + arg(filter.Limit)
		if filter.Offset > 0 {
			query += ` OFFSET ` + arg(filter.Offset)
		}
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list records")
	}
	defer rows.Close()

	var records []model.ExtractionRecord
	for rows.Next() {
		rec, err := scanPostgresRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	return records, eris.Wrap(rows.Err(), "postgres: list records iterate")
}

func (s *PostgresStore) UpdateReview(ctx context.Context, id string, overlay ReviewOverlay) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE extraction_records SET
			outcome = $1, human_decision = $2, override_reason = $3, override_notes = $4,
			reviewer_id = $5, reviewed_at = $6, review_duration_seconds = $7
		WHERE id = $8`,
		string(overlay.Outcome), string(overlay.HumanDecision),
		string(overlay.OverrideReason), overlay.OverrideNotes,
		overlay.ReviewerID, overlay.ReviewedAt.UTC(), overlay.ReviewDurationS,
		id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update review %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrRecordNotFound, "id %s", id)
	}
	return nil
}

func placeholder(n int) string {
	return fmt.Sprintf("$%d", n)
}

func scanPostgresRecord(row pgx.Row) (*model.ExtractionRecord, error) {
	var rec model.ExtractionRecord
	var module, triageDecision, finalDecision, outcome, humanDecision, overrideReason, triageLevel string
	var triggersJSON []byte
	var fullData []byte
	var reviewedAt *time.Time

	err := row.Scan(
		&rec.ID, &rec.SchemaVersion, &module, &rec.CaseID, &rec.EntityType,
		&rec.TriageModel, &triageDecision, &triggersJSON,
		&rec.TriageConfidence, &triageLevel, &rec.TriageLatencyMS,
		&rec.FullModel, &rec.FullLatencyMS, &fullData,
		&finalDecision, &rec.FinalConfidence, &rec.NeedsHumanReview,
		&outcome, &humanDecision, &overrideReason, &rec.OverrideNotes,
		&rec.ReviewerID, &reviewedAt, &rec.ReviewDurationS,
		&rec.ExtractedAt, &rec.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan record")
	}

	rec.Module = model.Module(module)
	rec.TriageDecision = model.TriageDecision(triageDecision)
	rec.TriageLevel = model.ConfidenceLevel(triageLevel)
	rec.FinalDecision = model.TriageDecision(finalDecision)
	rec.Outcome = model.Outcome(outcome)
	rec.HumanDecision = model.TriageDecision(humanDecision)
	rec.OverrideReason = model.OverrideReason(overrideReason)
	rec.ReviewedAt = reviewedAt

	if len(triggersJSON) > 0 {
		if err := json.Unmarshal(triggersJSON, &rec.EscalationTriggers); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal triggers")
		}
	}
	if len(fullData) > 0 {
		rec.FullData = &model.ExtractedData{}
		if err := json.Unmarshal(fullData, rec.FullData); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal full data")
		}
	}

	return &rec, nil
}
