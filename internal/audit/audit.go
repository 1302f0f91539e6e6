// Package audit records session lifecycle events (create, destroy,
// reconnect, crash-rebuild, forwarder-failover) to an embedded sqlite
// database. It is purely observational: nothing in internal/session or
// internal/supervisor reads the log back to make a decision, so a failure
// here can never violate a pool invariant.
package audit

import (
	"context"
	"database/sql"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// Event names the lifecycle transitions the Log records.
type Event string

const (
	EventCreate         Event = "create"
	EventDestroy        Event = "destroy"
	EventReconnect      Event = "reconnect"
	EventCrashRebuild   Event = "crash-rebuild"
	EventForwarderRetry Event = "forwarder-failover"
)

// Log is an append-only sqlite-backed record of session lifecycle events.
// A nil *Log is valid and every method on it is a no-op, so callers can
// wire it unconditionally and skip it only when audit is disabled.
type Log struct {
	db  *sql.DB
	log *zap.Logger
}

// Open creates (or attaches to) the sqlite database at path and ensures
// its schema exists. path may be ":memory:" for tests.
func Open(path string, log *zap.Logger) (*Log, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "opening audit database")
	}
	const schema = `
CREATE TABLE IF NOT EXISTS session_events (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id    TEXT NOT NULL,
	event         TEXT NOT NULL,
	detail        TEXT NOT NULL DEFAULT '',
	occurred_unix INTEGER NOT NULL
);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "creating audit schema")
	}
	return &Log{db: db, log: log}, nil
}

// Close releases the underlying database handle.
func (l *Log) Close() error {
	if l == nil || l.db == nil {
		return nil
	}
	return l.db.Close()
}

// Record inserts one lifecycle row. Failures are logged, not returned:
// an audit-log outage must never fail the session operation it describes.
func (l *Log) Record(ctx context.Context, sessionID string, event Event, detail string) {
	if l == nil || l.db == nil {
		return
	}
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO session_events (session_id, event, detail, occurred_unix) VALUES (?, ?, ?, ?)`,
		sessionID, string(event), detail, time.Now().Unix())
	if err != nil && l.log != nil {
		l.log.Warn("audit: record failed", zap.String("session_id", sessionID), zap.String("event", string(event)), zap.Error(err))
	}
}

// SessionEvent is one row read back by ListSessionEvents.
type SessionEvent struct {
	SessionID    string
	Event        Event
	Detail       string
	OccurredUnix int64
}

// ListSessionEvents returns every recorded event for sessionID, oldest
// first. It is the audit trail's read path; nothing in the gateway itself
// calls it, and no pool decision reads the trail back.
func (l *Log) ListSessionEvents(ctx context.Context, sessionID string) ([]SessionEvent, error) {
	if l == nil || l.db == nil {
		return nil, nil
	}
	rows, err := l.db.QueryContext(ctx,
		`SELECT session_id, event, detail, occurred_unix FROM session_events WHERE session_id = ? ORDER BY id ASC`,
		sessionID)
	if err != nil {
		return nil, errors.Wrap(err, "querying audit log")
	}
	defer rows.Close()

	var events []SessionEvent
	for rows.Next() {
		var e SessionEvent
		var event string
		if err := rows.Scan(&e.SessionID, &event, &e.Detail, &e.OccurredUnix); err != nil {
			return nil, errors.Wrap(err, "scanning audit row")
		}
		e.Event = Event(event)
		events = append(events, e)
	}
	return events, rows.Err()
}
