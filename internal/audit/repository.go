package audit

import (
	"context"
	"database/sql"

	"callhub/pkg/utils"
)

const schema = `
CREATE TABLE IF NOT EXISTS call_audit_events (
  id            TEXT PRIMARY KEY,
  type          TEXT NOT NULL,
  call_id       TEXT NOT NULL,
  channel_id    TEXT NOT NULL DEFAULT '',
  actor_user_id TEXT NOT NULL DEFAULT '',
  source        TEXT NOT NULL,
  ip_address    TEXT NOT NULL DEFAULT '',
  message       TEXT NOT NULL DEFAULT '',
  metadata      TEXT NOT NULL DEFAULT '',
  created_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS call_audit_events_call_idx ON call_audit_events (call_id, created_at);
`

// PostgresRepo stores events in an insert-only table.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Migrate(ctx context.Context) error {
	return utils.ApplySchema(ctx, r.db, "call_audit_events", schema)
}

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	const q = `
INSERT INTO call_audit_events (
  id, type, call_id, channel_id, actor_user_id, source, ip_address, message, metadata, created_at
) VALUES (
  $1,$2,$3,$4,$5,$6,$7,$8,$9,$10
)
`
	_, err := r.db.ExecContext(ctx, q,
		e.ID,
		e.Type,
		e.CallID,
		e.ChannelID,
		e.ActorUserID,
		e.Source,
		e.IPAddress,
		e.Message,
		e.Metadata,
		e.CreatedAt,
	)
	return err
}
