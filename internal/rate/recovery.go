package rate

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/advisly/session-core/internal/record"
	"github.com/advisly/session-core/internal/store"
)

// Adoption is a booking recovered for a session whose supplied booking id
// was unreliable.
type Adoption struct {
	Booking *record.BookingRecord
	Mode    record.BillingMode
	Source  string
}

// Recovery locates a trustworthy booking for a student/advisor pair when
// the supplied booking id is a sentinel derived from the session itself.
type Recovery struct {
	bookings store.BookingStore
}

// NewRecovery creates a recovery resolver over the booking collections.
func NewRecovery(bookings store.BookingStore) *Recovery {
	return &Recovery{bookings: bookings}
}

// Recover searches the fixed-slot collection first, then the on-demand
// collection, for an accepted-or-pending booking between the pair. A
// fixed-slot match forces fixed billing regardless of its urgency label.
// Returns (nil, nil) when no booking exists: the session is orphaned and
// falls to the advisor-default rate.
func (r *Recovery) Recover(ctx context.Context, userID, advisorID string) (*Adoption, error) {
	if userID == "" || advisorID == "" {
		return nil, fmt.Errorf("recovery needs both user and advisor ids")
	}

	booking, err := r.bookings.FindLiveFixedSlot(ctx, userID, advisorID)
	switch {
	case err == nil:
		log.Info().Str("booking_id", booking.BookingID).Msg("recovered fixed-slot booking")
		return &Adoption{Booking: booking, Mode: record.BillingFixed, Source: "recovered_fixed_slot"}, nil
	case !errors.Is(err, store.ErrNotFound):
		// Keep going: the on-demand collection may still answer.
		log.Warn().Err(err).Msg("fixed-slot recovery query failed")
	}

	booking, err = r.bookings.FindLiveOnDemand(ctx, userID, advisorID)
	switch {
	case err == nil:
		log.Info().Str("booking_id", booking.BookingID).Msg("recovered on-demand booking")
		return &Adoption{Booking: booking, Mode: record.BillingMetered, Source: "recovered_on_demand"}, nil
	case !errors.Is(err, store.ErrNotFound):
		return nil, fmt.Errorf("on-demand recovery query: %w", err)
	}

	// No booking anywhere: orphaned session.
	return nil, nil
}
