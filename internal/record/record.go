// Package record defines the typed documents the session core reads from and
// writes to the realtime store.
//
// DESIGN: The store hands back loosely-typed JSON documents. Every collection
// gets exactly one versioned Go type here, validated at the store boundary
// before any resolver or coordinator sees it. Components never touch raw maps.
package record

import (
	"fmt"
	"time"
)

// SchemaVersion is stamped on every document this client writes.
const SchemaVersion = 1

// SessionKind identifies the media channel of a consultation.
type SessionKind string

const (
	KindAudio SessionKind = "audio"
	KindVideo SessionKind = "video"
	KindChat  SessionKind = "chat"
)

// Valid reports whether the kind is one of the three known channels.
func (k SessionKind) Valid() bool {
	switch k {
	case KindAudio, KindVideo, KindChat:
		return true
	}
	return false
}

// SessionStatus is the shared lifecycle state of a session document.
// Transitions are monotonic: initiated -> ongoing -> ended.
type SessionStatus string

const (
	StatusInitiated SessionStatus = "initiated"
	StatusOngoing   SessionStatus = "ongoing"
	StatusEnded     SessionStatus = "ended"
)

// rank orders statuses for the monotonic-transition check.
func (s SessionStatus) rank() int {
	switch s {
	case StatusInitiated:
		return 0
	case StatusOngoing:
		return 1
	case StatusEnded:
		return 2
	}
	return -1
}

// CanTransition reports whether moving from s to next is a forward move.
// Writing the same status again is allowed (both participants race to set it).
func (s SessionStatus) CanTransition(next SessionStatus) bool {
	from, to := s.rank(), next.rank()
	return from >= 0 && to >= 0 && to >= from
}

// BillingMode says how a session is charged.
type BillingMode string

const (
	// BillingMetered bills elapsed minutes times the per-minute rate.
	BillingMetered BillingMode = "metered"
	// BillingFixed bills once for a bounded slot.
	BillingFixed BillingMode = "fixed"
)

// EndReason explains why a session left the ongoing state.
type EndReason string

const (
	EndUserAction       EndReason = "user_ended"
	EndRemote           EndReason = "remote_ended"
	EndBalanceExhausted EndReason = "balance_exhausted"
	EndSlotExpired      EndReason = "slot_expired"
	EndTransportFailure EndReason = "transport_failure"
)

// SessionRecord is the live shared document for one in-progress consultation.
// Both participants write status/heartbeat/end metadata; the backend writes
// the authoritative charge. This client never writes a charged amount.
type SessionRecord struct {
	Version         int           `json:"schema_version"`
	ID              string        `json:"id"`
	Kind            SessionKind   `json:"session_kind"`
	Status          SessionStatus `json:"status"`
	StartedAt       time.Time     `json:"started_at"`
	EndedAt         *time.Time    `json:"ended_at,omitempty"`
	RatePerMinute   float64       `json:"rate_per_minute"`
	BillingMode     BillingMode   `json:"billing_mode"`
	BookingID       string        `json:"booking_id"`
	UserID          string        `json:"user_id"`
	AdvisorID       string        `json:"advisor_id"`
	LastHeartbeatAt *time.Time    `json:"last_heartbeat_at,omitempty"`
	EndReason       EndReason     `json:"end_reason,omitempty"`
	CompletedBy     string        `json:"completed_by,omitempty"`
	DurationSeconds int           `json:"duration_seconds,omitempty"`
}

// Validate checks a session document read back from the store.
func (r *SessionRecord) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("session record: missing id")
	}
	if !r.Kind.Valid() {
		return fmt.Errorf("session record %s: unknown kind %q", r.ID, r.Kind)
	}
	if r.Status.rank() < 0 {
		return fmt.Errorf("session record %s: unknown status %q", r.ID, r.Status)
	}
	if r.RatePerMinute < 0 {
		return fmt.Errorf("session record %s: negative rate %f", r.ID, r.RatePerMinute)
	}
	return nil
}
