// Package accrual runs the local per-second cost estimator for a live
// session.
//
// DESIGN: The clock is purely advisory. It never writes to the shared
// session document; its projected cost drives the UI and the local cutoff
// triggers, while the backend computes the real charge after the session
// ends. Each participant runs its own clock independently.
package accrual

import (
	"sync"
	"time"

	"github.com/advisly/session-core/internal/record"
)

// DefaultTickInterval is the estimator cadence.
const DefaultTickInterval = time.Second

// Trigger is a cutoff condition detected by the clock.
type Trigger int

const (
	// TriggerInsufficientBalance fires on the first tick where projected
	// cost reaches the wallet balance (metered sessions).
	TriggerInsufficientBalance Trigger = iota + 1
	// TriggerSlotExpired fires on the first tick where the fixed slot's
	// countdown reaches zero (fixed sessions).
	TriggerSlotExpired
)

// Snapshot is one tick's view of the running session.
type Snapshot struct {
	Elapsed time.Duration
	// Cost is elapsed minutes times the per-minute rate (metered only).
	Cost float64
	// Remaining is the countdown to the slot cap (fixed only).
	Remaining time.Duration
}

// Clock is the 1 Hz local estimator.
type Clock struct {
	mode     record.BillingMode
	rate     float64
	slotCap  time.Duration
	interval time.Duration

	sufficient func(cost float64) bool
	onTick     func(Snapshot)
	onTrigger  func(Trigger)

	// Now is the time source, replaceable in tests.
	Now func() time.Time

	startedAt time.Time
	fired     bool

	stopOnce sync.Once
	stopCh   chan struct{}
}

// Config wires a clock to its session.
type Config struct {
	Mode          record.BillingMode
	RatePerMinute float64
	// SlotCap bounds fixed sessions (the 30-minute slot).
	SlotCap      time.Duration
	TickInterval time.Duration
	// IsSufficient answers whether the balance still covers a cost;
	// consulted every tick for metered sessions.
	IsSufficient func(cost float64) bool
	// OnTick receives every snapshot, delivered on the session's dispatch
	// queue. Optional.
	OnTick func(Snapshot)
	// OnTrigger receives at most one cutoff trigger.
	OnTrigger func(Trigger)
}

// New creates a stopped clock.
func New(cfg Config) *Clock {
	interval := cfg.TickInterval
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	sufficient := cfg.IsSufficient
	if sufficient == nil {
		sufficient = func(float64) bool { return true }
	}
	return &Clock{
		mode:       cfg.Mode,
		rate:       cfg.RatePerMinute,
		slotCap:    cfg.SlotCap,
		interval:   interval,
		sufficient: sufficient,
		onTick:     cfg.OnTick,
		onTrigger:  cfg.OnTrigger,
		Now:        time.Now,
		stopCh:     make(chan struct{}),
	}
}

// Start begins ticking. Every evaluation is redelivered through dispatch so
// all session state mutations stay on one sequential queue.
func (c *Clock) Start(dispatch func(func())) {
	c.startedAt = c.Now()
	go func() {
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-c.stopCh:
				return
			case <-ticker.C:
				dispatch(c.Tick)
			}
		}
	}()
}

// Stop halts the ticker. Idempotent.
func (c *Clock) Stop() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}

// Tick evaluates the session once against the current time. Exposed so
// tests can drive the clock deterministically; the ticker loop calls it on
// the dispatch queue.
func (c *Clock) Tick() {
	elapsed := c.Now().Sub(c.startedAt)
	snap := c.evaluate(elapsed)

	if c.onTick != nil {
		c.onTick(snap)
	}
}

// evaluate computes the snapshot and fires the single cutoff trigger.
func (c *Clock) evaluate(elapsed time.Duration) Snapshot {
	snap := Snapshot{Elapsed: elapsed}

	switch c.mode {
	case record.BillingMetered:
		snap.Cost = elapsed.Minutes() * c.rate
		if !c.fired && !c.sufficient(snap.Cost) {
			c.fired = true
			if c.onTrigger != nil {
				c.onTrigger(TriggerInsufficientBalance)
			}
		}
	case record.BillingFixed:
		snap.Remaining = c.slotCap - elapsed
		if snap.Remaining < 0 {
			snap.Remaining = 0
		}
		if !c.fired && elapsed >= c.slotCap {
			c.fired = true
			if c.onTrigger != nil {
				c.onTrigger(TriggerSlotExpired)
			}
		}
	}
	return snap
}
