// Package store abstracts the realtime document store behind narrow
// per-collection interfaces.
//
// DESIGN: The session core performs update-or-create writes on its own
// session document and pure reads/subscriptions everywhere else. Every
// interface returns ErrNotFound for an absent document so resolvers can tell
// a lookup miss from an I/O failure. Watches deliver successive values of a
// single field on a single document; one generic primitive backs the status
// watch and the reconciliation watch for all session kinds.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/advisly/session-core/internal/record"
)

// ErrNotFound marks an absent document. Resolvers treat it as a fallback
// signal, never as a failure.
var ErrNotFound = errors.New("store: document not found")

// SessionStore reads and writes the live session document.
type SessionStore interface {
	// Get returns the session document, or ErrNotFound.
	Get(ctx context.Context, id string) (*record.SessionRecord, error)

	// Upsert writes the full document, creating it when absent. Both
	// participants race this call at session start; last write wins per
	// field, which is safe because the participants touch disjoint fields.
	Upsert(ctx context.Context, rec *record.SessionRecord) error

	// Patch merges the given fields into the document, creating it when
	// absent. Used for the ended-write so a racing full write from the
	// other participant is never clobbered.
	Patch(ctx context.Context, id string, fields map[string]any) error

	// SetHeartbeat stamps last_heartbeat_at on the document.
	SetHeartbeat(ctx context.Context, id string, at time.Time) error

	// WatchStatus streams status values for the document until the context
	// is cancelled. The current value is delivered first when known.
	WatchStatus(ctx context.Context, id string) (<-chan record.SessionStatus, error)
}

// BookingStore reads the two parallel booking collections.
type BookingStore interface {
	// FixedSlot returns the fixed-slot booking by id, or ErrNotFound.
	FixedSlot(ctx context.Context, bookingID string) (*record.BookingRecord, error)

	// OnDemand returns the on-demand booking by id, or ErrNotFound.
	OnDemand(ctx context.Context, bookingID string) (*record.BookingRecord, error)

	// FindLiveFixedSlot returns the most recent accepted-or-pending
	// fixed-slot booking between a student and an advisor, or ErrNotFound.
	FindLiveFixedSlot(ctx context.Context, studentID, advisorID string) (*record.BookingRecord, error)

	// FindLiveOnDemand is FindLiveFixedSlot for the on-demand collection.
	FindLiveOnDemand(ctx context.Context, studentID, advisorID string) (*record.BookingRecord, error)
}

// AdvisorStore reads advisor profiles.
type AdvisorStore interface {
	// Profile returns the advisor's profile, or ErrNotFound.
	Profile(ctx context.Context, advisorID string) (*record.AdvisorProfile, error)
}

// WalletStore reads wallet balances.
type WalletStore interface {
	// Snapshot returns the user's current balance, or ErrNotFound.
	Snapshot(ctx context.Context, userID string) (*record.WalletSnapshot, error)
}

// ReconciliationStore observes the backend's completion records.
type ReconciliationStore interface {
	// Watch streams the reconciliation record for a booking until the
	// context is cancelled. The record is delivered whenever it appears or
	// changes; it may already exist when the watch starts.
	Watch(ctx context.Context, bookingID string) (<-chan record.ReconciliationRecord, error)
}
