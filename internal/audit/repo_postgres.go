package audit

import (
	"context"
	"database/sql"
	"fmt"
)

// PostgresRepo writes to the audit_events table. It only ever inserts.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	const q = `
INSERT INTO audit_events
  (id, company_id, type, actor_user_id, actor_role, ip_address, call_id, message, metadata, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := r.db.ExecContext(ctx, q,
		e.ID,
		e.CompanyID,
		string(e.Type),
		nullable(e.ActorUserID),
		nullable(e.ActorRole),
		nullable(e.IPAddress),
		nullable(e.CallID),
		nullable(e.Message),
		nullable(e.Metadata),
		e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("audit: insert event: %w", err)
	}
	return nil
}

func nullable(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
