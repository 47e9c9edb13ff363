// Package journal keeps a local append-only log of session lifecycle
// events.
//
// DESIGN: The coordinator can die at any moment (process kill, crash). The
// journal records what the client believed about the session (resolved
// rate, balance snapshot, termination reason) so an abandoned session can
// be diagnosed after the fact. Nothing in the live path ever reads it.
package journal

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS session_events (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	event      TEXT NOT NULL,
	detail     TEXT,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_session_events_session
	ON session_events(session_id);
`

// Event names recorded by the coordinator.
const (
	EventRateResolved    = "rate_resolved"
	EventBalanceSnapshot = "balance_snapshot"
	EventSessionStarted  = "session_started"
	EventTerminated      = "terminated"
	EventReconciliation  = "reconciliation"
)

// Entry is one journaled lifecycle event.
type Entry struct {
	SessionID string
	Event     string
	Detail    string
	CreatedAt time.Time
}

// Journal is the SQLite-backed event log. A nil *Journal is a valid no-op.
type Journal struct {
	db *sql.DB
}

// Open creates or opens the journal database at path.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal %s: %w", path, err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init journal schema: %w", err)
	}
	return &Journal{db: db}, nil
}

// Record appends one event. Failures are logged and swallowed; the journal
// must never interfere with the session.
func (j *Journal) Record(sessionID, event, detail string) {
	if j == nil {
		return
	}
	_, err := j.db.Exec(
		`INSERT INTO session_events (session_id, event, detail, created_at) VALUES (?, ?, ?, ?)`,
		sessionID, event, detail, time.Now().UTC(),
	)
	if err != nil {
		log.Warn().Err(err).Str("session_id", sessionID).Str("event", event).
			Msg("journal write failed")
	}
}

// Events returns all entries for a session, oldest first.
func (j *Journal) Events(sessionID string) ([]Entry, error) {
	if j == nil {
		return nil, nil
	}
	rows, err := j.db.Query(
		`SELECT session_id, event, detail, created_at FROM session_events WHERE session_id = ? ORDER BY id`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("read journal: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.SessionID, &e.Event, &e.Detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan journal entry: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	if j == nil {
		return nil
	}
	return j.db.Close()
}
