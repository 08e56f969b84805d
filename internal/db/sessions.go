package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/wormnet-project/wormnet/internal/events"
)

// ErrNotFound is returned when a session does not exist.
var ErrNotFound = errors.New("not found")

// Session is one journalled client session.
type Session struct {
	ID          string     `json:"id"`
	Slot        int        `json:"slot"`
	Address     string     `json:"address"`
	Local       bool       `json:"local"`
	Version     string     `json:"version"`
	Codec       string     `json:"codec"`
	Channel     string     `json:"channel"`
	ConnectedAt time.Time  `json:"connected_at"`
	ClosedAt    *time.Time `json:"closed_at,omitempty"`
	Reason      string     `json:"reason,omitempty"`
}

// Mute is a host whose chat is suppressed.
type Mute struct {
	Address   string    `json:"address"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is the session journal and mute list.
type Store struct {
	db *Database
}

// NewStore opens the database at dbPath and migrates it.
func NewStore(dbPath string) (*Store, error) {
	database, err := NewDatabase(dbPath)
	if err != nil {
		return nil, err
	}

	s := &Store{db: database}
	if err := database.Migrate(context.Background(), migrations); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrations are applied in order; a database remembers how many it has
// run. Append new steps, never edit old ones.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		slot INTEGER NOT NULL,
		address TEXT NOT NULL DEFAULT '',
		local INTEGER NOT NULL DEFAULT 0,
		version TEXT NOT NULL DEFAULT '',
		codec TEXT NOT NULL DEFAULT '',
		channel TEXT NOT NULL DEFAULT '',
		connected_at INTEGER NOT NULL,
		closed_at INTEGER,
		reason TEXT NOT NULL DEFAULT ''
	);

	CREATE TABLE IF NOT EXISTS mutes (
		address TEXT PRIMARY KEY,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_sessions_connected_at ON sessions(connected_at);
	CREATE INDEX IF NOT EXISTS idx_sessions_address ON sessions(address);`,
}

// upsertSession writes what p knows about a session. Events are delivered
// concurrently, so any of them may create the row; later ones only fill
// in fields.
const upsertSession = `
	INSERT INTO sessions (id, slot, address, local, version, codec, channel, connected_at, closed_at, reason)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		version = CASE WHEN excluded.version != '' THEN excluded.version ELSE sessions.version END,
		codec = CASE WHEN excluded.codec != '' THEN excluded.codec ELSE sessions.codec END,
		channel = CASE WHEN excluded.channel != '' THEN excluded.channel ELSE sessions.channel END,
		connected_at = CASE WHEN ? THEN excluded.connected_at ELSE sessions.connected_at END,
		closed_at = COALESCE(excluded.closed_at, sessions.closed_at),
		reason = CASE WHEN excluded.reason != '' THEN excluded.reason ELSE sessions.reason END`

// RecordSession journals a connection lifecycle event.
func (s *Store) RecordSession(ctx context.Context, t events.EventType, p events.ConnectionPayload) error {
	if p.SessionID == "" {
		return nil
	}

	var closedAt sql.NullInt64
	if t == events.EventConnectionClosed {
		closedAt = sql.NullInt64{Int64: p.At.UnixMilli(), Valid: true}
	}
	_, err := s.db.Exec(ctx, upsertSession,
		p.SessionID, p.Slot, p.Address, p.Local, p.Version, p.Codec, p.Channel,
		p.At.UnixMilli(), closedAt, string(p.Reason),
		t == events.EventConnectionAccepted)
	if err != nil {
		return fmt.Errorf("record session %s: %w", p.SessionID, err)
	}
	return nil
}

const sessionColumns = `id, slot, address, local, version, codec, channel, connected_at, closed_at, reason`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(r rowScanner) (Session, error) {
	var (
		sess      Session
		connected int64
		closed    sql.NullInt64
	)
	err := r.Scan(&sess.ID, &sess.Slot, &sess.Address, &sess.Local, &sess.Version,
		&sess.Codec, &sess.Channel, &connected, &closed, &sess.Reason)
	if err != nil {
		return Session{}, err
	}
	sess.ConnectedAt = time.UnixMilli(connected).UTC()
	if closed.Valid {
		t := time.UnixMilli(closed.Int64).UTC()
		sess.ClosedAt = &t
	}
	return sess, nil
}

// ListSessions returns the most recent sessions, newest first.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]Session, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.Query(ctx,
		`SELECT `+sessionColumns+` FROM sessions ORDER BY connected_at DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// GetSession returns one session by id.
func (s *Store) GetSession(ctx context.Context, id string) (Session, error) {
	sess, err := scanSession(s.db.QueryRow(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Session{}, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return sess, err
}

// CloseOpenSessions marks sessions left open by an unclean exit as closed.
func (s *Store) CloseOpenSessions(ctx context.Context, at time.Time, reason events.CloseReason) (int64, error) {
	res, err := s.db.Exec(ctx,
		`UPDATE sessions SET closed_at = ?, reason = ? WHERE closed_at IS NULL`,
		at.UnixMilli(), string(reason))
	if err != nil {
		return 0, fmt.Errorf("close open sessions: %w", err)
	}
	return res.RowsAffected()
}

// PruneSessions deletes closed sessions that ended before the cutoff.
func (s *Store) PruneSessions(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.Exec(ctx,
		`DELETE FROM sessions WHERE closed_at IS NOT NULL AND closed_at < ?`, before.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("prune sessions: %w", err)
	}
	return res.RowsAffected()
}

// SetMute adds or removes host from the mute list.
func (s *Store) SetMute(ctx context.Context, host string, muted bool) error {
	var err error
	if muted {
		_, err = s.db.Exec(ctx,
			`INSERT OR IGNORE INTO mutes (address, created_at) VALUES (?, ?)`, host, time.Now().UnixMilli())
	} else {
		_, err = s.db.Exec(ctx, `DELETE FROM mutes WHERE address = ?`, host)
	}
	if err != nil {
		return fmt.Errorf("set mute %s: %w", host, err)
	}
	return nil
}

// IsMuted reports whether host is on the mute list.
func (s *Store) IsMuted(ctx context.Context, host string) (bool, error) {
	var n int
	err := s.db.QueryRow(ctx, `SELECT COUNT(*) FROM mutes WHERE address = ?`, host).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("check mute %s: %w", host, err)
	}
	return n > 0, nil
}

// ListMutes returns every muted host, oldest first.
func (s *Store) ListMutes(ctx context.Context) ([]Mute, error) {
	rows, err := s.db.Query(ctx, `SELECT address, created_at FROM mutes ORDER BY created_at, address`)
	if err != nil {
		return nil, fmt.Errorf("list mutes: %w", err)
	}
	defer rows.Close()

	var out []Mute
	for rows.Next() {
		var (
			m       Mute
			created int64
		)
		if err := rows.Scan(&m.Address, &created); err != nil {
			return nil, fmt.Errorf("scan mute: %w", err)
		}
		m.CreatedAt = time.UnixMilli(created).UTC()
		out = append(out, m)
	}
	return out, rows.Err()
}

// Subscribe journals connection lifecycle and mute events from bus.
func (s *Store) Subscribe(bus *events.EventBus) {
	bus.SubscribeMany([]events.EventType{
		events.EventConnectionAccepted,
		events.EventConnectionNegotiated,
		events.EventConnectionClosed,
	}, "session_journal", func(ctx context.Context, e events.Event) error {
		p, ok := e.Payload.(events.ConnectionPayload)
		if !ok {
			return fmt.Errorf("unexpected payload %T for %s", e.Payload, e.Type)
		}
		return s.RecordSession(ctx, e.Type, p)
	})

	bus.Subscribe(events.EventMuteChanged, "mute_list", func(ctx context.Context, e events.Event) error {
		p, ok := e.Payload.(events.MutePayload)
		if !ok {
			return fmt.Errorf("unexpected payload %T for %s", e.Payload, e.Type)
		}
		return s.SetMute(ctx, p.Address, p.Muted)
	})
}
