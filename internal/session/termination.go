package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"github.com/advisly/session-core/internal/journal"
	"github.com/advisly/session-core/internal/record"
	"github.com/advisly/session-core/internal/store"
	"github.com/advisly/session-core/internal/transport"
)

// Outcome is the terminal result of a session, delivered once on Done().
type Outcome struct {
	Reason   record.EndReason
	Duration time.Duration

	// Reconciliation is the backend's terminal billing status, empty when
	// the session kind does not wait for it.
	Reconciliation record.ReconciliationStatus
	// ReconciliationTimedOut means the wait expired before the backend
	// produced a terminal status; billing continues in the background.
	ReconciliationTimedOut bool
	FailureReason          string
}

// Terminator drives the end-of-session state machine:
// Active -> Ending -> (AwaitingReconciliation) -> Done.
//
// Any number of triggers may race into End: a user tap, the cost clock,
// the remote participant's ended-write, process teardown. The latch
// guarantees the Ending transition executes exactly once: one ended-write,
// one leave-channel call, one outcome.
type Terminator struct {
	sessions        store.SessionStore
	reconciliations store.ReconciliationStore
	transport       transport.RoomTransport
	journal         *journal.Journal

	sessionID string
	bookingID string
	advisorID string
	userID    string
	kind      record.SessionKind
	startedAt time.Time

	reconTimeout time.Duration
	writeTimeout time.Duration

	// stopTasks cancels the clock, the heartbeat and the watches.
	// Must be idempotent.
	stopTasks func()

	now func() time.Time

	once sync.Once
	done chan Outcome
}

// End fires the termination latch. The first caller wins; every later call
// is a no-op. Never blocks: the ending sequence runs on its own goroutine.
func (t *Terminator) End(reason record.EndReason) {
	t.once.Do(func() {
		go t.terminate(reason)
	})
}

// Done delivers the single outcome once the state machine reaches Done.
func (t *Terminator) Done() <-chan Outcome {
	return t.done
}

func (t *Terminator) terminate(reason record.EndReason) {
	log.Info().Str("session_id", t.sessionID).Str("reason", string(reason)).
		Msg("ending session")

	t.stopTasks()

	duration := t.now().Sub(t.startedAt)
	outcome := Outcome{Reason: reason, Duration: duration}

	t.writeEnded(reason, duration)
	t.leaveChannel()

	// Audio and video sessions learn the billing result through the status
	// watch; only chat waits for the backend's completion record.
	if t.kind == record.KindChat {
		t.awaitReconciliation(&outcome)
	}

	t.journal.Record(t.sessionID, journal.EventTerminated,
		fmt.Sprintf("reason=%s duration=%s", reason, duration.Round(time.Second)))

	t.done <- outcome
}

// writeEnded merges the end metadata into the session document, creating
// it if the optimistic start write never landed. One retry; after that the
// client exits cleanly and the backend's heartbeat watchdog is the
// documented fallback for billing correctness.
func (t *Terminator) writeEnded(reason record.EndReason, duration time.Duration) {
	fields := map[string]any{
		"status":           string(record.StatusEnded),
		"end_reason":       string(reason),
		"ended_at":         t.now().UTC().Format(time.RFC3339),
		"duration_seconds": int(duration.Seconds()),
		"booking_id":       t.bookingID,
		"advisor_id":       t.advisorID,
		"user_id":          t.userID,
	}
	// The participant who initiated the end claims completed_by; a remote
	// end means the other side already did.
	if reason != record.EndRemote {
		fields["completed_by"] = t.userID
	}

	op := func() error {
		ctx, cancel := context.WithTimeout(context.Background(), t.writeTimeout)
		defer cancel()
		return t.sessions.Patch(ctx, t.sessionID, fields)
	}

	err := backoff.Retry(op, backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Second), 1))
	if err != nil {
		log.Warn().Err(err).Str("session_id", t.sessionID).
			Msg("ended write failed twice, proceeding with local teardown")
	}
}

func (t *Terminator) leaveChannel() {
	ctx, cancel := context.WithTimeout(context.Background(), t.writeTimeout)
	defer cancel()
	if err := t.transport.Leave(ctx); err != nil {
		log.Warn().Err(err).Str("session_id", t.sessionID).Msg("leave channel failed")
	}
}

// awaitReconciliation watches the completion record for this booking,
// bounded by the configured timeout. Timing out is soft: the user sees
// "processing in background" and the screen exits anyway.
func (t *Terminator) awaitReconciliation(outcome *Outcome) {
	ctx, cancel := context.WithTimeout(context.Background(), t.reconTimeout)
	defer cancel()

	ch, err := t.reconciliations.Watch(ctx, t.bookingID)
	if err != nil {
		log.Warn().Err(err).Str("booking_id", t.bookingID).
			Msg("reconciliation watch failed, exiting without confirmation")
		outcome.ReconciliationTimedOut = true
		return
	}

	for {
		select {
		case <-ctx.Done():
			outcome.ReconciliationTimedOut = true
			t.journal.Record(t.sessionID, journal.EventReconciliation, "timeout")
			log.Info().Str("session_id", t.sessionID).
				Msg("reconciliation timed out, billing continues in background")
			return
		case rec, ok := <-ch:
			if !ok {
				outcome.ReconciliationTimedOut = true
				return
			}
			if !rec.Status.Terminal() {
				continue
			}
			outcome.Reconciliation = rec.Status
			outcome.FailureReason = rec.FailureReason
			t.journal.Record(t.sessionID, journal.EventReconciliation, string(rec.Status))
			log.Info().Str("session_id", t.sessionID).Str("status", string(rec.Status)).
				Msg("reconciliation settled")
			return
		}
	}
}
