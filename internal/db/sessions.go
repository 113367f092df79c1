package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/statecast-project/statecast/internal/events"
)

// SessionRecord is the stored summary of one closed session.
type SessionRecord struct {
	ID           int64     `json:"id"`
	SessionID    uint64    `json:"session_id"`
	RemoteAddr   string    `json:"remote_addr"`
	OpenedAt     time.Time `json:"opened_at"`
	ClosedAt     time.Time `json:"closed_at"`
	CloseReason  string    `json:"close_reason"`
	FramesIn     uint64    `json:"frames_in"`
	BytesIn      uint64    `json:"bytes_in"`
	FramesOut    uint64    `json:"frames_out"`
	SendFailures uint64    `json:"send_failures"`
}

// Duration returns how long the session was open.
func (r SessionRecord) Duration() time.Duration {
	return r.ClosedAt.Sub(r.OpenedAt)
}

// SessionTotals aggregates every stored session.
type SessionTotals struct {
	Sessions  int64  `json:"sessions"`
	FramesIn  uint64 `json:"frames_in"`
	BytesIn   uint64 `json:"bytes_in"`
	FramesOut uint64 `json:"frames_out"`
}

// SessionStore records session summaries.
type SessionStore struct {
	db *Database
}

// NewSessionStore opens the store at dbPath and applies the schema.
func NewSessionStore(dbPath string) (*SessionStore, error) {
	database, err := NewDatabase(dbPath)
	if err != nil {
		return nil, err
	}

	store := &SessionStore{db: database}
	if err := store.migrate(context.Background()); err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to migrate session database: %w", err)
	}
	return store, nil
}

func (s *SessionStore) migrate(ctx context.Context) error {
	schema := `
		CREATE TABLE IF NOT EXISTS sessions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id INTEGER NOT NULL,
			remote_addr TEXT NOT NULL DEFAULT '',
			opened_at INTEGER NOT NULL,
			closed_at INTEGER NOT NULL,
			close_reason TEXT NOT NULL DEFAULT '',
			frames_in INTEGER NOT NULL DEFAULT 0,
			bytes_in INTEGER NOT NULL DEFAULT 0,
			frames_out INTEGER NOT NULL DEFAULT 0,
			send_failures INTEGER NOT NULL DEFAULT 0
		);

		CREATE INDEX IF NOT EXISTS idx_sessions_closed_at ON sessions(closed_at);
	`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// Close closes the underlying database.
func (s *SessionStore) Close() error {
	return s.db.Close()
}

// Record inserts a session summary.
func (s *SessionStore) Record(ctx context.Context, r SessionRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (session_id, remote_addr, opened_at, closed_at, close_reason,
			frames_in, bytes_in, frames_out, send_failures)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		int64(r.SessionID), r.RemoteAddr, r.OpenedAt.UnixMilli(), r.ClosedAt.UnixMilli(), r.CloseReason,
		int64(r.FramesIn), int64(r.BytesIn), int64(r.FramesOut), int64(r.SendFailures),
	)
	if err != nil {
		return fmt.Errorf("failed to record session %d: %w", r.SessionID, err)
	}
	return nil
}

// Recent returns up to limit sessions, most recently closed first.
func (s *SessionStore) Recent(ctx context.Context, limit int) ([]SessionRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, remote_addr, opened_at, closed_at, close_reason,
			frames_in, bytes_in, frames_out, send_failures
		FROM sessions
		ORDER BY closed_at DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var records []SessionRecord
	for rows.Next() {
		r, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

func scanSession(rows *sql.Rows) (SessionRecord, error) {
	var r SessionRecord
	var sessionID, openedAt, closedAt int64
	var framesIn, bytesIn, framesOut, sendFailures int64
	if err := rows.Scan(&r.ID, &sessionID, &r.RemoteAddr, &openedAt, &closedAt, &r.CloseReason,
		&framesIn, &bytesIn, &framesOut, &sendFailures); err != nil {
		return r, fmt.Errorf("failed to scan session: %w", err)
	}
	r.SessionID = uint64(sessionID)
	r.OpenedAt = time.UnixMilli(openedAt)
	r.ClosedAt = time.UnixMilli(closedAt)
	r.FramesIn = uint64(framesIn)
	r.BytesIn = uint64(bytesIn)
	r.FramesOut = uint64(framesOut)
	r.SendFailures = uint64(sendFailures)
	return r, nil
}

// Totals aggregates every stored session.
func (s *SessionStore) Totals(ctx context.Context) (SessionTotals, error) {
	var t SessionTotals
	var framesIn, bytesIn, framesOut int64
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(frames_in), 0), COALESCE(SUM(bytes_in), 0), COALESCE(SUM(frames_out), 0)
		FROM sessions`).Scan(&t.Sessions, &framesIn, &bytesIn, &framesOut)
	if err != nil {
		return t, fmt.Errorf("failed to aggregate sessions: %w", err)
	}
	t.FramesIn = uint64(framesIn)
	t.BytesIn = uint64(bytesIn)
	t.FramesOut = uint64(framesOut)
	return t, nil
}

// PruneBefore deletes sessions closed before cutoff and returns how many
// rows were removed.
func (s *SessionStore) PruneBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, "DELETE FROM sessions WHERE closed_at < ?", cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to prune sessions: %w", err)
	}
	n, _ := result.RowsAffected()
	if n > 0 {
		log.Info().Int64("removed", n).Time("cutoff", cutoff).Msg("pruned session history")
	}
	return n, nil
}

// RegisterHandlers records every session_closed event published on eventBus.
func (s *SessionStore) RegisterHandlers(eventBus *events.EventBus) {
	eventBus.Subscribe(events.EventSessionClosed, "session_store", func(ctx context.Context, event events.Event) error {
		p, ok := event.Payload.(events.SessionClosedPayload)
		if !ok {
			return fmt.Errorf("unexpected payload %T", event.Payload)
		}
		return s.Record(context.WithoutCancel(ctx), SessionRecord{
			SessionID:    p.SessionID,
			RemoteAddr:   p.RemoteAddr,
			OpenedAt:     p.OpenedAt,
			ClosedAt:     p.ClosedAt,
			CloseReason:  p.Reason.String(),
			FramesIn:     p.FramesIn,
			BytesIn:      p.BytesIn,
			FramesOut:    p.FramesOut,
			SendFailures: p.SendFailures,
		})
	})
}
