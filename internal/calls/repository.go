package calls

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"callhub/pkg/utils"
)

// MutateFunc changes a session in place. Returning ErrUnchanged skips the write;
// any other error aborts it.
type MutateFunc func(s *Session) error

// Repository is the session store. Update and UpdateOngoingByRoom are the only write paths
// for an existing session: each runs fn against the current document and persists the result
// atomically, so concurrent callers never lose each other's changes.
type Repository interface {
	// Insert stores a new session. It returns ErrOngoingConflict if the channel already has an ongoing one.
	Insert(ctx context.Context, s Session) error
	// Get returns a session in any status, or ErrNotFound.
	Get(ctx context.Context, id string) (Session, error)
	ListOngoingByChannel(ctx context.Context, channelID string) ([]Session, error)

	// Update applies fn to session id. When fn returns ErrUnchanged the current session is
	// returned together with ErrUnchanged.
	Update(ctx context.Context, id string, fn MutateFunc) (Session, error)
	// UpdateOngoingByRoom is Update keyed by provider room; ended sessions are not matched.
	UpdateOngoingByRoom(ctx context.Context, roomID string, fn MutateFunc) (Session, error)
}

const oneOngoingPerChannel = "call_sessions_one_ongoing_per_channel"

const schema = `
CREATE TABLE IF NOT EXISTS call_sessions (
  id                  TEXT PRIMARY KEY,
  channel_id          TEXT NOT NULL,
  call_type           TEXT NOT NULL CHECK (call_type IN ('audio', 'video')),
  host_id             TEXT NOT NULL,
  status              TEXT NOT NULL CHECK (status IN ('ongoing', 'ended')),
  room_id             TEXT NOT NULL,
  access_token        TEXT NOT NULL,
  started_at          TIMESTAMPTZ NOT NULL,
  ended_at            TIMESTAMPTZ,
  provider_started_at TIMESTAMPTZ,
  participants        JSONB NOT NULL DEFAULT '[]',
  recording           JSONB,
  streams             JSONB NOT NULL DEFAULT '{}',
  created_at          TIMESTAMPTZ NOT NULL,
  updated_at          TIMESTAMPTZ NOT NULL,
  CHECK (status = 'ongoing' OR ended_at IS NOT NULL)
);
CREATE UNIQUE INDEX IF NOT EXISTS call_sessions_one_ongoing_per_channel
  ON call_sessions (channel_id) WHERE status = 'ongoing';
CREATE INDEX IF NOT EXISTS call_sessions_ongoing_room_idx
  ON call_sessions (room_id) WHERE status = 'ongoing';
CREATE INDEX IF NOT EXISTS call_sessions_channel_started_idx
  ON call_sessions (channel_id, started_at DESC);
`

const sessionColumns = `id, channel_id, call_type, host_id, status, room_id, access_token,
  started_at, ended_at, provider_started_at, participants, recording, streams, created_at, updated_at`

// PostgresRepo keeps one row per session with the roster and media blocks as JSONB.
// Read-modify-write runs under SELECT ... FOR UPDATE in a single transaction.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Migrate(ctx context.Context) error {
	return utils.ApplySchema(ctx, r.db, "call_sessions", schema)
}

func (r *PostgresRepo) Insert(ctx context.Context, s Session) error {
	args, err := sessionArgs(s)
	if err != nil {
		return err
	}
	const q = `
INSERT INTO call_sessions (` + sessionColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
`
	if _, err := r.db.ExecContext(ctx, q, args...); err != nil {
		if utils.IsUniqueViolation(err, oneOngoingPerChannel) {
			return ErrOngoingConflict
		}
		return fmt.Errorf("insert call session: %w", err)
	}
	return nil
}

func (r *PostgresRepo) Get(ctx context.Context, id string) (Session, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM call_sessions WHERE id = $1`, id)
	return scanSession(row)
}

func (r *PostgresRepo) ListOngoingByChannel(ctx context.Context, channelID string) ([]Session, error) {
	const q = `SELECT ` + sessionColumns + `
FROM call_sessions
WHERE channel_id = $1 AND status = 'ongoing'
ORDER BY started_at DESC
`
	rows, err := r.db.QueryContext(ctx, q, channelID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) Update(ctx context.Context, id string, fn MutateFunc) (Session, error) {
	return r.mutate(ctx, `SELECT `+sessionColumns+` FROM call_sessions WHERE id = $1 FOR UPDATE`, id, fn)
}

func (r *PostgresRepo) UpdateOngoingByRoom(ctx context.Context, roomID string, fn MutateFunc) (Session, error) {
	return r.mutate(ctx, `SELECT `+sessionColumns+` FROM call_sessions WHERE room_id = $1 AND status = 'ongoing' FOR UPDATE`, roomID, fn)
}

func (r *PostgresRepo) mutate(ctx context.Context, selectQ, key string, fn MutateFunc) (Session, error) {
	var out Session
	var unchanged bool
	err := utils.WithTx(ctx, r.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		cur, err := scanSession(tx.QueryRowContext(ctx, selectQ, key))
		if err != nil {
			return err
		}
		next := cur.clone()
		if err := fn(&next); err != nil {
			if errors.Is(err, ErrUnchanged) {
				out, unchanged = cur, true
				return nil
			}
			return err
		}
		if err := updateSession(ctx, tx, next); err != nil {
			return err
		}
		out = next
		return nil
	})
	if err != nil {
		return Session{}, err
	}
	if unchanged {
		return out, ErrUnchanged
	}
	return out, nil
}

func updateSession(ctx context.Context, tx *sql.Tx, s Session) error {
	participants, recording, streams, err := encodeDocs(s)
	if err != nil {
		return err
	}
	const q = `
UPDATE call_sessions SET
  status = $2,
  ended_at = $3,
  provider_started_at = $4,
  participants = $5,
  recording = $6,
  streams = $7,
  updated_at = $8
WHERE id = $1
`
	_, err = tx.ExecContext(ctx, q,
		s.ID,
		s.Status,
		s.EndedAt,
		s.ProviderStartedAt,
		participants,
		recording,
		streams,
		s.UpdatedAt,
	)
	return err
}

func sessionArgs(s Session) ([]any, error) {
	participants, recording, streams, err := encodeDocs(s)
	if err != nil {
		return nil, err
	}
	return []any{
		s.ID,
		s.ChannelID,
		s.CallType,
		s.HostID,
		s.Status,
		s.RoomID,
		s.AccessToken,
		s.StartedAt,
		s.EndedAt,
		s.ProviderStartedAt,
		participants,
		recording,
		streams,
		s.CreatedAt,
		s.UpdatedAt,
	}, nil
}

// encodeDocs renders the JSONB columns. A nil recording is stored as SQL NULL.
func encodeDocs(s Session) (participants string, recording any, streams string, err error) {
	ps := s.Participants
	if ps == nil {
		ps = []Participant{}
	}
	pb, err := json.Marshal(ps)
	if err != nil {
		return "", nil, "", fmt.Errorf("encode participants: %w", err)
	}
	st := s.Streams
	if st == nil {
		st = map[StreamKind]MediaActivity{}
	}
	sb, err := json.Marshal(st)
	if err != nil {
		return "", nil, "", fmt.Errorf("encode streams: %w", err)
	}
	if s.Recording != nil {
		rb, err := json.Marshal(s.Recording)
		if err != nil {
			return "", nil, "", fmt.Errorf("encode recording: %w", err)
		}
		recording = string(rb)
	}
	return string(pb), recording, string(sb), nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (Session, error) {
	var (
		s                        Session
		endedAt, providerStarted sql.NullTime
		participants, streams    []byte
		recording                []byte
	)
	if err := row.Scan(
		&s.ID,
		&s.ChannelID,
		&s.CallType,
		&s.HostID,
		&s.Status,
		&s.RoomID,
		&s.AccessToken,
		&s.StartedAt,
		&endedAt,
		&providerStarted,
		&participants,
		&recording,
		&streams,
		&s.CreatedAt,
		&s.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Session{}, ErrNotFound
		}
		return Session{}, err
	}
	if endedAt.Valid {
		t := endedAt.Time
		s.EndedAt = &t
	}
	if providerStarted.Valid {
		t := providerStarted.Time
		s.ProviderStartedAt = &t
	}
	if len(participants) > 0 {
		if err := json.Unmarshal(participants, &s.Participants); err != nil {
			return Session{}, fmt.Errorf("decode participants: %w", err)
		}
	}
	if len(recording) > 0 {
		var m MediaActivity
		if err := json.Unmarshal(recording, &m); err != nil {
			return Session{}, fmt.Errorf("decode recording: %w", err)
		}
		s.Recording = &m
	}
	if len(streams) > 0 {
		if err := json.Unmarshal(streams, &s.Streams); err != nil {
			return Session{}, fmt.Errorf("decode streams: %w", err)
		}
		if len(s.Streams) == 0 {
			s.Streams = nil
		}
	}
	return s, nil
}
