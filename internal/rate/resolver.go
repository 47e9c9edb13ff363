// Package rate resolves a session's billing mode and per-minute rate.
//
// DESIGN: Resolution is an ordered list of try-steps folded left to right;
// the first step that produces a rate wins. A "not found" or I/O failure in
// any step falls through to the next one, so resolution only fails when the
// whole chain is exhausted. The chain is data, not nested callbacks, which
// keeps the fallback order inspectable and testable.
//
// Mode and rate are resolved exactly once per session. The coordinator
// freezes the result; nothing downstream may change it.
package rate

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/advisly/session-core/internal/record"
	"github.com/advisly/session-core/internal/store"
)

// ErrUnresolved means every step of the fallback chain failed. The session
// cannot start without a rate.
var ErrUnresolved = errors.New("rate: no step could resolve a rate")

// Request carries the identifiers and hints a calling screen passes in at
// session start.
type Request struct {
	BookingID string
	// ChannelHint is the transport channel id. When BookingID equals it,
	// the booking id was derived from the session rather than a genuine
	// booking and must be treated as unreliable.
	ChannelHint string
	Kind        record.SessionKind
	// UrgencyHint is the caller's claimed urgency classification, empty
	// when the caller has none.
	UrgencyHint record.UrgencyLabel
	UserID      string
	AdvisorID   string
}

// ambiguous reports whether the booking id cannot be trusted.
func (r *Request) ambiguous() bool {
	return r.BookingID != "" && r.BookingID == r.ChannelHint
}

// Resolution is the frozen billing decision for one session.
type Resolution struct {
	Mode          record.BillingMode
	RatePerMinute float64
	AdvisorID     string
	// BookingID is the trusted booking id, which may differ from the
	// requested one after recovery.
	BookingID string
	// Source names the chain step that supplied the rate.
	Source string
}

// Resolver walks the fallback chain over the booking collections and the
// advisor profile.
type Resolver struct {
	bookings store.BookingStore
	advisors store.AdvisorStore
	recovery *Recovery
}

// NewResolver creates a resolver over the given collections.
func NewResolver(bookings store.BookingStore, advisors store.AdvisorStore) *Resolver {
	return &Resolver{
		bookings: bookings,
		advisors: advisors,
		recovery: NewRecovery(bookings),
	}
}

// tryStep is one link of the fallback chain. It returns (nil, nil) for a
// lookup miss and a non-nil Resolution on success.
type tryStep struct {
	name string
	run  func(ctx context.Context) (*Resolution, error)
}

// Resolve runs the chain once and returns the frozen billing decision.
func (r *Resolver) Resolve(ctx context.Context, req Request) (*Resolution, error) {
	// An explicit fixed-slot hint locks the mode before any lookup. Only
	// the fixed-slot collection may still refine the rate; the on-demand
	// and advisor-default steps would classify the session metered and are
	// never consulted.
	if req.UrgencyHint.IsFixedSlot() {
		return r.resolveForcedFixed(ctx, req)
	}

	bookingID := req.BookingID

	// An unreliable booking id goes through recovery before the chain runs;
	// the advisor-default step stays suppressed until recovery has either
	// adopted a booking or conclusively found none.
	if req.ambiguous() {
		adoption, err := r.recovery.Recover(ctx, req.UserID, req.AdvisorID)
		if err != nil {
			log.Warn().Err(err).Str("user_id", req.UserID).Str("advisor_id", req.AdvisorID).
				Msg("booking recovery failed, session treated as orphaned")
		}
		if adoption != nil {
			return &Resolution{
				Mode:          adoption.Mode,
				RatePerMinute: adoption.Booking.SessionAmount,
				AdvisorID:     adoption.Booking.AdvisorID,
				BookingID:     adoption.Booking.BookingID,
				Source:        adoption.Source,
			}, nil
		}
		// Orphaned: no booking exists anywhere for this pair. The by-id
		// lookups are pointless now, only the advisor default remains.
		bookingID = ""
	}

	chain := []tryStep{
		{name: "fixed_slot_booking", run: func(ctx context.Context) (*Resolution, error) {
			return r.fromBooking(ctx, r.bookings.FixedSlot, bookingID, "fixed_slot_booking")
		}},
		{name: "on_demand_booking", run: func(ctx context.Context) (*Resolution, error) {
			return r.fromBooking(ctx, r.bookings.OnDemand, bookingID, "on_demand_booking")
		}},
		{name: "advisor_default", run: func(ctx context.Context) (*Resolution, error) {
			return r.fromAdvisorDefault(ctx, req.AdvisorID, req.Kind)
		}},
	}

	return r.fold(ctx, chain)
}

// fold walks the chain until the first success.
func (r *Resolver) fold(ctx context.Context, chain []tryStep) (*Resolution, error) {
	for _, step := range chain {
		res, err := step.run(ctx)
		if err != nil {
			// Transient failure: fall through exactly like a miss.
			log.Warn().Err(err).Str("step", step.name).Msg("rate step failed, falling through")
			continue
		}
		if res == nil {
			log.Debug().Str("step", step.name).Msg("rate step miss")
			continue
		}
		log.Info().Str("step", step.name).Str("mode", string(res.Mode)).
			Float64("rate_per_minute", res.RatePerMinute).Msg("rate resolved")
		return res, nil
	}
	return nil, ErrUnresolved
}

// resolveForcedFixed handles the urgency-hint short circuit. The mode is
// fixed no matter what; a fixed-slot booking may still supply the rate, and
// a miss there leaves the rate at zero rather than reopening the chain.
func (r *Resolver) resolveForcedFixed(ctx context.Context, req Request) (*Resolution, error) {
	forced := &Resolution{
		Mode:      record.BillingFixed,
		AdvisorID: req.AdvisorID,
		BookingID: req.BookingID,
		Source:    "urgency_hint",
	}

	if req.BookingID == "" || req.ambiguous() {
		return forced, nil
	}

	booking, err := r.bookings.FixedSlot(ctx, req.BookingID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			log.Warn().Err(err).Str("booking_id", req.BookingID).
				Msg("fixed-slot rate refinement failed, keeping forced mode without rate")
		}
		return forced, nil
	}

	forced.RatePerMinute = booking.SessionAmount
	forced.AdvisorID = booking.AdvisorID
	forced.Source = "fixed_slot_booking"
	return forced, nil
}

// bookingLookup matches the two by-id reads on BookingStore.
type bookingLookup func(ctx context.Context, bookingID string) (*record.BookingRecord, error)

// fromBooking builds a resolution from a booking document. The booking's
// urgency label decides the mode: a scheduled label confirms fixed,
// anything else falls back to metered.
func (r *Resolver) fromBooking(ctx context.Context, lookup bookingLookup, bookingID, source string) (*Resolution, error) {
	if bookingID == "" {
		return nil, nil
	}
	booking, err := lookup(ctx, bookingID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	mode := record.BillingMetered
	if booking.Urgency.IsFixedSlot() {
		mode = record.BillingFixed
	}
	return &Resolution{
		Mode:          mode,
		RatePerMinute: booking.SessionAmount,
		AdvisorID:     booking.AdvisorID,
		BookingID:     booking.BookingID,
		Source:        source,
	}, nil
}

// fromAdvisorDefault is the last step: the advisor's per-channel default
// rate, always metered.
func (r *Resolver) fromAdvisorDefault(ctx context.Context, advisorID string, kind record.SessionKind) (*Resolution, error) {
	if advisorID == "" {
		return nil, nil
	}
	profile, err := r.advisors.Profile(ctx, advisorID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	perMinute, err := profile.RateFor(kind)
	if err != nil {
		return nil, fmt.Errorf("advisor default: %w", err)
	}
	return &Resolution{
		Mode:          record.BillingMetered,
		RatePerMinute: perMinute,
		AdvisorID:     advisorID,
		Source:        "advisor_default",
	}, nil
}
