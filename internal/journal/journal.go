// Package journal records transport sessions and the lifecycle events
// observed while they ran.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"
)

// ErrNotFound is returned when a session does not exist.
var ErrNotFound = errors.New("journal: session not found")

// TimeFormat is the layout of all timestamps stored in the journal.
const TimeFormat = "2006-01-02T15:04:05.000Z"

// Session is one transport session as recorded in the journal.
type Session struct {
	ID       string
	Variant  string
	Command  string
	State    string
	Error    string
	OpenedAt string
	ClosedAt string
}

// Event is a lifecycle event of a session.
type Event struct {
	SessionID string
	Kind      string
	CreatedAt string
}

// Store persists sessions and their events.
type Store interface {
	CreateSession(ctx context.Context, s Session) (Session, error)
	FinishSession(ctx context.Context, id, state, errMsg, closedAt string) error
	RecordEvent(ctx context.Context, e Event) error
	GetSession(ctx context.Context, id string) (Session, error)
	ListSessions(ctx context.Context, limit int) ([]Session, error)
	ListEvents(ctx context.Context, sessionID string) ([]Event, error)
}

// storeFactory is registered by the store subpackage via RegisterStoreFactory.
var storeFactory func(db *sql.DB) Store

// RegisterStoreFactory is called by the store subpackage to provide a Store
// constructor, avoiding an import cycle.
func RegisterStoreFactory(f func(db *sql.DB) Store) {
	storeFactory = f
}

// NewStore returns the registered Store for db, or a store that discards
// everything when db is nil.
func NewStore(db *sql.DB) Store {
	if db == nil {
		return NopStore{}
	}
	if storeFactory == nil {
		panic("journal: no store registered; import the journal/store package")
	}
	return storeFactory(db)
}

// Journal writes session records on behalf of the device handler. Store
// failures are logged and never surface to the transport.
type Journal struct {
	log   *slog.Logger
	store Store
	now   func() time.Time
}

// New creates a Journal backed by store.
func New(log *slog.Logger, store Store) *Journal {
	return &Journal{
		log:   log.With("component", "journal"),
		store: store,
		now:   time.Now,
	}
}

func (j *Journal) timestamp() string {
	return j.now().UTC().Format(TimeFormat)
}

// Opened records a session that is about to start.
func (j *Journal) Opened(ctx context.Context, id, variant, command string) {
	_, err := j.store.CreateSession(ctx, Session{
		ID:       id,
		Variant:  variant,
		Command:  command,
		State:    "starting",
		OpenedAt: j.timestamp(),
	})
	if err != nil {
		j.log.Warn("recording session failed", "session", id, "error", err)
	}
}

// Event records a lifecycle event of a session.
func (j *Journal) Event(ctx context.Context, id, kind string) {
	err := j.store.RecordEvent(ctx, Event{SessionID: id, Kind: kind, CreatedAt: j.timestamp()})
	if err != nil {
		j.log.Warn("recording event failed", "session", id, "event", kind, "error", err)
	}
}

// Finished records the final state of a session. cause is the error that
// ended it, if any.
func (j *Journal) Finished(ctx context.Context, id, state string, cause error) {
	var msg string
	if cause != nil {
		msg = cause.Error()
	}
	if err := j.store.FinishSession(ctx, id, state, msg, j.timestamp()); err != nil {
		j.log.Warn("finishing session failed", "session", id, "error", err)
	}
}

// Sessions lists the most recent sessions, newest first.
func (j *Journal) Sessions(ctx context.Context, limit int) ([]Session, error) {
	return j.store.ListSessions(ctx, limit)
}

// Events lists the events of a session in the order they were recorded.
func (j *Journal) Events(ctx context.Context, id string) ([]Event, error) {
	return j.store.ListEvents(ctx, id)
}

// NopStore is a Store that keeps nothing.
type NopStore struct{}

func (NopStore) CreateSession(_ context.Context, s Session) (Session, error) {
	return s, nil
}

func (NopStore) FinishSession(context.Context, string, string, string, string) error {
	return nil
}

func (NopStore) RecordEvent(context.Context, Event) error {
	return nil
}

func (NopStore) GetSession(context.Context, string) (Session, error) {
	return Session{}, ErrNotFound
}

func (NopStore) ListSessions(context.Context, int) ([]Session, error) {
	return nil, nil
}

func (NopStore) ListEvents(context.Context, string) ([]Event, error) {
	return nil, nil
}
