package channels

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"callhub/pkg/utils"
)

// Directory answers whether a communication channel exists.
// Membership and permission checks belong to the channel service, not here.
type Directory interface {
	Exists(ctx context.Context, channelID string) (bool, error)
}

// The channel service owns this table; the DDL only covers local environments.
const schema = `
CREATE TABLE IF NOT EXISTS channels (
  id         TEXT PRIMARY KEY,
  name       TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

type PostgresDirectory struct {
	db *sql.DB
}

func NewPostgresDirectory(db *sql.DB) *PostgresDirectory { return &PostgresDirectory{db: db} }

func (d *PostgresDirectory) Migrate(ctx context.Context) error {
	return utils.ApplySchema(ctx, d.db, "channels", schema)
}

func (d *PostgresDirectory) Exists(ctx context.Context, channelID string) (bool, error) {
	if strings.TrimSpace(channelID) == "" {
		return false, nil
	}
	var one int
	err := d.db.QueryRowContext(ctx, `SELECT 1 FROM channels WHERE id = $1`, channelID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Static is a fixed in-memory directory. It is read-only after construction.
type Static struct {
	ids map[string]struct{}
}

func NewStatic(ids ...string) *Static {
	s := &Static{ids: make(map[string]struct{}, len(ids))}
	for _, id := range ids {
		s.ids[id] = struct{}{}
	}
	return s
}

func (s *Static) Exists(_ context.Context, channelID string) (bool, error) {
	_, ok := s.ids[channelID]
	return ok, nil
}
