package record

import (
	"fmt"
	"time"
)

// BookingStatus is the reservation state of a booking document.
type BookingStatus string

const (
	BookingPending   BookingStatus = "pending"
	BookingAccepted  BookingStatus = "accepted"
	BookingCompleted BookingStatus = "completed"
	BookingCancelled BookingStatus = "cancelled"
)

// UrgencyLabel classifies a booking as a scheduled fixed slot or an
// on-demand instant consultation. The label drives metered-vs-fixed billing.
type UrgencyLabel string

const (
	// UrgencyScheduled marks a pre-booked fixed slot (fixed billing).
	UrgencyScheduled UrgencyLabel = "scheduled"
	// UrgencyInstant marks an on-demand consultation (metered billing).
	UrgencyInstant UrgencyLabel = "instant"
)

// IsFixedSlot reports whether the label classifies the booking as a
// fixed slot. An empty or unknown label falls back to metered.
func (u UrgencyLabel) IsFixedSlot() bool {
	return u == UrgencyScheduled
}

// BookingRecord is a reservation carrying the negotiated rate and urgency
// classification. It lives in one of two parallel collections: fixed-slot
// bookings and on-demand bookings, both with this shape.
type BookingRecord struct {
	Version          int           `json:"schema_version"`
	BookingID        string        `json:"booking_id"`
	Urgency          UrgencyLabel  `json:"urgency_label"`
	SessionAmount    float64       `json:"session_amount"`
	StudentID        string        `json:"student_id"`
	AdvisorID        string        `json:"advisor_id"`
	Status           BookingStatus `json:"booking_status"`
	ChannelReference string        `json:"channel_reference,omitempty"`
	CreatedAt        time.Time     `json:"created_at,omitempty"`
}

// Validate checks a booking document read back from the store.
func (b *BookingRecord) Validate() error {
	if b.BookingID == "" {
		return fmt.Errorf("booking record: missing booking_id")
	}
	if b.SessionAmount < 0 {
		return fmt.Errorf("booking record %s: negative amount %f", b.BookingID, b.SessionAmount)
	}
	return nil
}

// Live reports whether the booking can still back a session: accepted or
// pending, anything else is spent.
func (b *BookingRecord) Live() bool {
	return b.Status == BookingAccepted || b.Status == BookingPending
}
