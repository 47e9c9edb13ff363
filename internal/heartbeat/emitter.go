// Package heartbeat periodically stamps liveness on the shared session
// document so a backend watchdog can detect sessions abandoned without a
// clean end (crash, kill, connectivity loss).
package heartbeat

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/advisly/session-core/internal/store"
)

// DefaultInterval is how often last_heartbeat_at is written.
const DefaultInterval = 30 * time.Second

const writeTimeout = 10 * time.Second

// Emitter writes the heartbeat field while a session is active.
type Emitter struct {
	sessions  store.SessionStore
	sessionID string
	interval  time.Duration

	// Now is the time source, replaceable in tests.
	Now func() time.Time

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New creates a stopped emitter for one session.
func New(sessions store.SessionStore, sessionID string, interval time.Duration) *Emitter {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Emitter{
		sessions:  sessions,
		sessionID: sessionID,
		interval:  interval,
		Now:       time.Now,
		stopCh:    make(chan struct{}),
	}
}

// Start begins emitting heartbeats. The first beat is written immediately
// so the watchdog sees the session as soon as it goes live.
func (e *Emitter) Start() {
	go func() {
		e.beat()
		ticker := time.NewTicker(e.interval)
		defer ticker.Stop()
		for {
			select {
			case <-e.stopCh:
				return
			case <-ticker.C:
				e.beat()
			}
		}
	}()
}

// Stop halts the emitter immediately. Idempotent; safe to call from any
// termination trigger.
func (e *Emitter) Stop() {
	e.stopOnce.Do(func() { close(e.stopCh) })
}

// beat writes one heartbeat. Failures are logged and dropped: a missed
// beat only delays watchdog detection, it never affects the session.
func (e *Emitter) beat() {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()

	if err := e.sessions.SetHeartbeat(ctx, e.sessionID, e.Now()); err != nil {
		log.Warn().Err(err).Str("session_id", e.sessionID).Msg("heartbeat write failed")
	}
}
