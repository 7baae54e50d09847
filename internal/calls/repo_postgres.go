package calls

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
)

// NOTE: PostgresStore assumes the call_records table from internal/migration, including:
// - UNIQUE (provider_recording_id) WHERE provider_recording_id IS NOT NULL
// - CHECK constraints mirroring the done/error field rules

const pgUniqueViolation = "23505"

const recordColumns = `id, company_id, provider_call_id, provider_recording_id, from_number, to_number,
  recording_locator, duration_seconds, transcript, summary_data, status, error_message, created_at, updated_at`

// PostgresStore is the durable Store backed by database/sql (pgx stdlib driver).
type PostgresStore struct {
	db    *sql.DB
	clock func() time.Time
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, clock: time.Now}
}

func (s *PostgresStore) Insert(ctx context.Context, rec CallRecord) (CallRecord, error) {
	if err := validateInsert(rec); err != nil {
		return CallRecord{}, err
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	now := s.clock().UTC()
	rec.Status = StatusPending
	rec.ErrorMessage = ""
	rec.CreatedAt = now
	rec.UpdatedAt = now

	const q = `
INSERT INTO call_records (
  id, company_id, provider_call_id, provider_recording_id, from_number, to_number,
  recording_locator, duration_seconds, status, created_at, updated_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11
)
`
	_, err := s.db.ExecContext(ctx, q,
		rec.ID,
		rec.CompanyID,
		rec.ProviderCallID,
		nullString(rec.ProviderRecordingID),
		rec.FromNumber,
		rec.ToNumber,
		rec.RecordingLocator,
		rec.DurationSeconds,
		rec.Status,
		rec.CreatedAt,
		rec.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return CallRecord{}, ErrDuplicate
		}
		return CallRecord{}, fmt.Errorf("insert call record: %w", err)
	}
	return rec, nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (CallRecord, error) {
	if _, err := uuid.Parse(id); err != nil {
		return CallRecord{}, ErrNotFound
	}
	q := `SELECT ` + recordColumns + `
FROM call_records
WHERE id = $1
`
	rec, err := scanRecord(s.db.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CallRecord{}, ErrNotFound
		}
		return CallRecord{}, err
	}
	return rec, nil
}

func (s *PostgresStore) ListAll(ctx context.Context) ([]CallRecord, error) {
	q := `SELECT ` + recordColumns + `
FROM call_records
ORDER BY created_at DESC, id DESC
`
	return s.query(ctx, q)
}

func (s *PostgresStore) ListByStatus(ctx context.Context, status Status, limit int) ([]CallRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	q := `SELECT ` + recordColumns + `
FROM call_records
WHERE status = $1
ORDER BY created_at ASC, id ASC
LIMIT $2
`
	return s.query(ctx, q, status, limit)
}

func (s *PostgresStore) FindByProviderRecordingID(ctx context.Context, recordingID string) (CallRecord, error) {
	if recordingID == "" {
		return CallRecord{}, ErrNotFound
	}
	q := `SELECT ` + recordColumns + `
FROM call_records
WHERE provider_recording_id = $1
`
	rec, err := scanRecord(s.db.QueryRowContext(ctx, q, recordingID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CallRecord{}, ErrNotFound
		}
		return CallRecord{}, err
	}
	return rec, nil
}

func (s *PostgresStore) UpdateIfStatus(ctx context.Context, id string, expected Status, m Mutation) (CallRecord, error) {
	if err := validateUpdate(expected, m); err != nil {
		return CallRecord{}, err
	}
	if _, err := uuid.Parse(id); err != nil {
		return CallRecord{}, ErrNotFound
	}

	var summary []byte
	if m.Summary != nil {
		b, err := json.Marshal(m.Summary)
		if err != nil {
			return CallRecord{}, fmt.Errorf("encode summary: %w", err)
		}
		summary = b
	}

	// The status predicate makes the write a compare-and-set; the row lock taken by
	// UPDATE serializes concurrent callers on the same id.
	q := `
UPDATE call_records
SET status = $3, transcript = $4, summary_data = $5, error_message = $6, updated_at = $7
WHERE id = $1 AND status = $2
RETURNING ` + recordColumns + `
`
	rec, err := scanRecord(s.db.QueryRowContext(ctx, q,
		id,
		expected,
		m.Status,
		m.Transcript,
		summary,
		nullString(m.ErrorMessage),
		s.clock().UTC(),
	))
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return CallRecord{}, fmt.Errorf("update call record: %w", err)
	}

	const exists = `SELECT EXISTS (SELECT 1 FROM call_records WHERE id = $1)`
	var found bool
	if err := s.db.QueryRowContext(ctx, exists, id).Scan(&found); err != nil {
		return CallRecord{}, err
	}
	if !found {
		return CallRecord{}, ErrNotFound
	}
	return CallRecord{}, ErrConflict
}

func (s *PostgresStore) RecoverStale(ctx context.Context, cutoff time.Time) (int, error) {
	const q = `
UPDATE call_records
SET status = 'pending', updated_at = $2
WHERE status = 'transcribing' AND updated_at < $1
`
	res, err := s.db.ExecContext(ctx, q, cutoff.UTC(), s.clock().UTC())
	if err != nil {
		return 0, fmt.Errorf("recover stale claims: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

func (s *PostgresStore) query(ctx context.Context, q string, args ...any) ([]CallRecord, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []CallRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (CallRecord, error) {
	var (
		r          CallRecord
		recID      sql.NullString
		from, to   sql.NullString
		duration   sql.NullInt64
		transcript sql.NullString
		summary    []byte
		errMsg     sql.NullString
	)
	if err := row.Scan(
		&r.ID,
		&r.CompanyID,
		&r.ProviderCallID,
		&recID,
		&from,
		&to,
		&r.RecordingLocator,
		&duration,
		&transcript,
		&summary,
		&r.Status,
		&errMsg,
		&r.CreatedAt,
		&r.UpdatedAt,
	); err != nil {
		return CallRecord{}, err
	}

	r.ProviderRecordingID = recID.String
	r.FromNumber = stringPtr(from)
	r.ToNumber = stringPtr(to)
	r.Transcript = stringPtr(transcript)
	r.ErrorMessage = errMsg.String
	if duration.Valid {
		d := int(duration.Int64)
		r.DurationSeconds = &d
	}
	if len(summary) > 0 {
		var sum Summary
		if err := json.Unmarshal(summary, &sum); err != nil {
			return CallRecord{}, fmt.Errorf("decode summary_data for %s: %w", r.ID, err)
		}
		r.Summary = &sum
	}
	return r, nil
}

func stringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	v := ns.String
	return &v
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
