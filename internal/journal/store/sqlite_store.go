package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/sebastianm/vplink/internal/journal"
)

// SQLiteStore implements journal.Store on the SQLite database opened by
// database.Open.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a SQLiteStore.
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

func (s *SQLiteStore) CreateSession(ctx context.Context, sess journal.Session) (journal.Session, error) {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, variant, command, state, error, opened_at, closed_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.Variant, sess.Command, sess.State, sess.Error, sess.OpenedAt, sess.ClosedAt,
	)
	if err != nil {
		return journal.Session{}, fmt.Errorf("inserting session: %w", err)
	}
	return sess, nil
}

func (s *SQLiteStore) FinishSession(ctx context.Context, id, state, errMsg, closedAt string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET state = ?, error = ?, closed_at = ? WHERE id = ?`,
		state, errMsg, closedAt, id,
	)
	if err != nil {
		return fmt.Errorf("finishing session: %w", err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("session %q: %w", id, journal.ErrNotFound)
	}
	return nil
}

func (s *SQLiteStore) RecordEvent(ctx context.Context, e journal.Event) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO session_events (session_id, kind, created_at) VALUES (?, ?, ?)`,
		e.SessionID, e.Kind, e.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("inserting event: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (journal.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, variant, command, state, error, opened_at, closed_at
		 FROM sessions WHERE id = ?`, id)

	sess, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return journal.Session{}, fmt.Errorf("session %q: %w", id, journal.ErrNotFound)
	}
	if err != nil {
		return journal.Session{}, fmt.Errorf("getting session %q: %w", id, err)
	}
	return sess, nil
}

func (s *SQLiteStore) ListSessions(ctx context.Context, limit int) ([]journal.Session, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, variant, command, state, error, opened_at, closed_at
		 FROM sessions ORDER BY opened_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing sessions: %w", err)
	}
	defer rows.Close()

	var sessions []journal.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

func (s *SQLiteStore) ListEvents(ctx context.Context, sessionID string) ([]journal.Event, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT session_id, kind, created_at FROM session_events
		 WHERE session_id = ? ORDER BY id`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("listing events: %w", err)
	}
	defer rows.Close()

	var events []journal.Event
	for rows.Next() {
		var e journal.Event
		if err := rows.Scan(&e.SessionID, &e.Kind, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(r scanner) (journal.Session, error) {
	var sess journal.Session
	err := r.Scan(&sess.ID, &sess.Variant, &sess.Command, &sess.State, &sess.Error, &sess.OpenedAt, &sess.ClosedAt)
	return sess, err
}
