// Package session coordinates a live metered or fixed consultation: rate
// resolution, optimistic session-record creation, cost accrual, liveness
// heartbeats, remote-end observation and teardown.
//
// DESIGN: All session state mutates on one sequential dispatch queue.
// Periodic tasks and subscriptions deliver their effects as closures onto
// that queue, so application logic never needs locks; the few fields read
// from outside (the UI estimate) sit behind a small mutex. Rate resolution
// completes before the clock or the heartbeat start; the ordering is
// explicit sequencing in Start, not locking.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/advisly/session-core/internal/accrual"
	"github.com/advisly/session-core/internal/balance"
	"github.com/advisly/session-core/internal/config"
	"github.com/advisly/session-core/internal/heartbeat"
	"github.com/advisly/session-core/internal/journal"
	"github.com/advisly/session-core/internal/rate"
	"github.com/advisly/session-core/internal/record"
	"github.com/advisly/session-core/internal/store"
	"github.com/advisly/session-core/internal/transport"
)

// Env carries the store handles, the transport and the current user into
// the coordinator. Passing it explicitly (instead of ambient singletons)
// keeps every component testable with fakes.
type Env struct {
	Sessions        store.SessionStore
	Bookings        store.BookingStore
	Advisors        store.AdvisorStore
	Wallets         store.WalletStore
	Reconciliations store.ReconciliationStore
	Transport       transport.RoomTransport
	// Journal is optional; nil disables journaling.
	Journal *journal.Journal
	// UserID is the local participant.
	UserID string
}

// Params is what a calling screen passes in at session start.
type Params struct {
	SessionID string
	Kind      record.SessionKind
	BookingID string
	// ChannelHint is the transport channel. A BookingID equal to it marks
	// the booking id as derived and unreliable.
	ChannelHint string
	UrgencyHint record.UrgencyLabel
	AdvisorID   string
}

// Hooks are optional callbacks into the calling screen. Both are invoked
// on the session's dispatch queue.
type Hooks struct {
	// OnRateSet fires once, after the billing decision is frozen.
	OnRateSet func(rate.Resolution)
	// OnTick fires every estimator tick with the advisory snapshot.
	OnTick func(accrual.Snapshot)
}

// Coordinator drives one session from start to Done.
type Coordinator struct {
	env    Env
	params Params
	cfg    config.SessionConfig
	hooks  Hooks

	resolution rate.Resolution
	guard      *balance.Guard
	clock      *accrual.Clock
	emitter    *heartbeat.Emitter

	startedAt time.Time

	calls    chan func()
	stopOnce sync.Once
	stopCh   chan struct{}

	watchCtx    context.Context
	watchCancel context.CancelFunc

	// done is owned by the coordinator so End and Done are usable before
	// Start has built the terminator.
	done chan Outcome

	mu          sync.Mutex
	terminator  *Terminator
	endedEarly  record.EndReason
	estimate    accrual.Snapshot
	peerPresent bool
}

// New creates a coordinator for one session. Zero config values fall back
// to the documented defaults.
func New(env Env, params Params, cfg config.SessionConfig, hooks Hooks) *Coordinator {
	if cfg.TickInterval == 0 {
		cfg.TickInterval = config.DefaultTickInterval
	}
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = config.DefaultHeartbeatInterval
	}
	if cfg.SlotCap == 0 {
		cfg.SlotCap = config.DefaultSlotCap
	}
	if cfg.ReconciliationTimeout == 0 {
		cfg.ReconciliationTimeout = config.DefaultReconciliationTimeout
	}
	if cfg.WalletFetchTimeout == 0 {
		cfg.WalletFetchTimeout = config.DefaultWalletFetchTimeout
	}
	watchCtx, watchCancel := context.WithCancel(context.Background())
	return &Coordinator{
		env:         env,
		params:      params,
		cfg:         cfg,
		hooks:       hooks,
		calls:       make(chan func(), 64),
		stopCh:      make(chan struct{}),
		watchCtx:    watchCtx,
		watchCancel: watchCancel,
		done:        make(chan Outcome, 1),
	}
}

// Start resolves the rate, creates the session document, joins the channel
// and starts the periodic tasks. It returns an error only when the session
// cannot begin at all: no resolvable rate, or the transport refuses to
// initialize.
func (c *Coordinator) Start(ctx context.Context) error {
	if c.params.SessionID == "" {
		return fmt.Errorf("session: missing session id")
	}
	if !c.params.Kind.Valid() {
		return fmt.Errorf("session: unknown kind %q", c.params.Kind)
	}

	// Rate resolution runs exactly once and its result is frozen for the
	// session's lifetime. Nothing below starts until it has succeeded.
	resolver := rate.NewResolver(c.env.Bookings, c.env.Advisors)
	res, err := resolver.Resolve(ctx, rate.Request{
		BookingID:   c.params.BookingID,
		ChannelHint: c.params.ChannelHint,
		Kind:        c.params.Kind,
		UrgencyHint: c.params.UrgencyHint,
		UserID:      c.env.UserID,
		AdvisorID:   c.params.AdvisorID,
	})
	if err != nil {
		return fmt.Errorf("session %s: %w", c.params.SessionID, err)
	}
	c.resolution = *res
	c.env.Journal.Record(c.params.SessionID, journal.EventRateResolved,
		fmt.Sprintf("mode=%s rate=%.2f source=%s", res.Mode, res.RatePerMinute, res.Source))

	// One best-effort balance snapshot; a failed fetch yields a lenient
	// guard rather than blocking the session.
	c.guard = balance.Fetch(ctx, c.env.Wallets, c.env.UserID, c.cfg.WalletFetchTimeout)
	c.env.Journal.Record(c.params.SessionID, journal.EventBalanceSnapshot,
		fmt.Sprintf("balance=%.2f lenient=%t", c.guard.Balance(), c.guard.Lenient()))

	c.startedAt = time.Now()
	term := c.buildTasks()

	// Publish the terminator. A termination trigger that fired during the
	// resolve/fetch window already delivered its outcome; nothing may start.
	c.mu.Lock()
	if c.endedEarly != "" {
		reason := c.endedEarly
		c.mu.Unlock()
		return fmt.Errorf("session %s: ended before start (%s)", c.params.SessionID, reason)
	}
	c.terminator = term
	c.mu.Unlock()

	c.writeStartRecord(ctx)

	go c.run()

	if c.hooks.OnRateSet != nil {
		c.dispatch(func() { c.hooks.OnRateSet(c.resolution) })
	}

	channel := c.params.ChannelHint
	if channel == "" {
		channel = c.params.SessionID
	}
	if err := c.env.Transport.Join(ctx, channel); err != nil {
		// Permission denial or engine failure is one of the few
		// user-visible failures: end the flow gracefully.
		term.End(record.EndTransportFailure)
		return fmt.Errorf("session %s: join channel: %w", c.params.SessionID, err)
	}

	c.clock.Start(c.dispatch)
	c.emitter.Start()
	c.startWatches()

	c.env.Journal.Record(c.params.SessionID, journal.EventSessionStarted,
		fmt.Sprintf("kind=%s channel=%s", c.params.Kind, channel))
	log.Info().Str("session_id", c.params.SessionID).Str("kind", string(c.params.Kind)).
		Str("mode", string(c.resolution.Mode)).Msg("session started")
	return nil
}

// End requests termination. Safe to call from any goroutine, any number of
// times, before or after Start and before or after any other trigger has
// fired. An End before Start wins: the outcome is delivered immediately and
// a later Start refuses to run.
func (c *Coordinator) End(reason record.EndReason) {
	c.mu.Lock()
	term := c.terminator
	if term == nil {
		first := c.endedEarly == ""
		if first {
			c.endedEarly = reason
		}
		c.mu.Unlock()
		if first {
			c.done <- Outcome{Reason: reason}
		}
		return
	}
	c.mu.Unlock()
	term.End(reason)
}

// Done delivers the single terminal outcome.
func (c *Coordinator) Done() <-chan Outcome {
	return c.done
}

// Resolution returns the frozen billing decision. Valid after Start.
func (c *Coordinator) Resolution() rate.Resolution {
	return c.resolution
}

// Estimate returns the latest advisory snapshot for the UI.
func (c *Coordinator) Estimate() accrual.Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.estimate
}

// PeerPresent reports whether the transport last signalled the other
// participant in the room. Informational only.
func (c *Coordinator) PeerPresent() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.peerPresent
}

// MuteAudio toggles the local microphone.
func (c *Coordinator) MuteAudio(muted bool) error {
	return c.env.Transport.MuteAudio(muted)
}

// EnableVideo toggles the local camera.
func (c *Coordinator) EnableVideo(enabled bool) error {
	return c.env.Transport.EnableVideo(enabled)
}

// writeStartRecord optimistically creates or updates the shared session
// document. Both participants race this; the write is update-or-create and
// a failure only delays the document until the heartbeat or ended write.
func (c *Coordinator) writeStartRecord(ctx context.Context) {
	rec := &record.SessionRecord{
		Version:       record.SchemaVersion,
		ID:            c.params.SessionID,
		Kind:          c.params.Kind,
		Status:        record.StatusOngoing,
		StartedAt:     c.startedAt.UTC(),
		RatePerMinute: c.resolution.RatePerMinute,
		BillingMode:   c.resolution.Mode,
		BookingID:     c.resolution.BookingID,
		UserID:        c.env.UserID,
		AdvisorID:     c.resolution.AdvisorID,
	}
	if err := c.env.Sessions.Upsert(ctx, rec); err != nil {
		log.Warn().Err(err).Str("session_id", c.params.SessionID).
			Msg("optimistic start write failed, ended write will create the document")
	}
}

// buildTasks constructs the clock, the heartbeat and the terminator with a
// shared idempotent stop. The terminator is returned, not published; Start
// installs it once it knows no early termination fired.
func (c *Coordinator) buildTasks() *Terminator {
	c.clock = accrual.New(accrual.Config{
		Mode:          c.resolution.Mode,
		RatePerMinute: c.resolution.RatePerMinute,
		SlotCap:       c.cfg.SlotCap,
		TickInterval:  c.cfg.TickInterval,
		IsSufficient:  c.guard.IsSufficient,
		OnTick:        c.handleTick,
		OnTrigger:     c.handleTrigger,
	})

	c.emitter = heartbeat.New(c.env.Sessions, c.params.SessionID, c.cfg.HeartbeatInterval)

	return &Terminator{
		sessions:        c.env.Sessions,
		reconciliations: c.env.Reconciliations,
		transport:       c.env.Transport,
		journal:         c.env.Journal,
		sessionID:       c.params.SessionID,
		bookingID:       c.resolution.BookingID,
		advisorID:       c.resolution.AdvisorID,
		userID:          c.env.UserID,
		kind:            c.params.Kind,
		startedAt:       c.startedAt,
		reconTimeout:    c.cfg.ReconciliationTimeout,
		writeTimeout:    config.DefaultEndingWriteTimeout,
		now:             time.Now,
		done:            c.done,
		stopTasks: func() {
			c.clock.Stop()
			c.emitter.Stop()
			c.watchCancel()
			c.stopDispatch()
		},
	}
}

// startWatches subscribes to the remote status and the transport hints.
func (c *Coordinator) startWatches() {
	statusCh, err := c.env.Sessions.WatchStatus(c.watchCtx, c.params.SessionID)
	if err != nil {
		// Without the watch a remote end is only noticed at teardown; the
		// session itself still works.
		log.Warn().Err(err).Str("session_id", c.params.SessionID).Msg("status watch failed")
	} else {
		go func() {
			for status := range statusCh {
				if status != record.StatusEnded {
					continue
				}
				// The other participant (or the backend) closed the
				// session. The latch makes this a no-op if we already did.
				c.dispatch(func() { c.End(record.EndRemote) })
				return
			}
		}()
	}

	go func() {
		for {
			select {
			case <-c.watchCtx.Done():
				return
			case ev, ok := <-c.env.Transport.Events():
				if !ok {
					return
				}
				c.handleTransportEvent(ev)
			}
		}
	}()
}

// handleTransportEvent records membership hints. Hints never terminate the
// session: the authoritative ended signal is the status watch.
func (c *Coordinator) handleTransportEvent(ev transport.Event) {
	c.dispatch(func() {
		switch ev.Kind {
		case transport.EventPeerJoined:
			c.mu.Lock()
			c.peerPresent = true
			c.mu.Unlock()
		case transport.EventPeerLeft:
			c.mu.Lock()
			c.peerPresent = false
			c.mu.Unlock()
			log.Info().Str("session_id", c.params.SessionID).Str("peer_id", ev.PeerID).
				Msg("peer left channel, awaiting status watch")
		case transport.EventRoomState:
			log.Debug().Str("session_id", c.params.SessionID).Str("detail", ev.Detail).
				Msg("room state changed")
		}
	})
}

func (c *Coordinator) handleTick(snap accrual.Snapshot) {
	c.mu.Lock()
	c.estimate = snap
	c.mu.Unlock()
	if c.hooks.OnTick != nil {
		c.hooks.OnTick(snap)
	}
}

func (c *Coordinator) handleTrigger(trigger accrual.Trigger) {
	switch trigger {
	case accrual.TriggerInsufficientBalance:
		log.Info().Str("session_id", c.params.SessionID).Float64("balance", c.guard.Balance()).
			Msg("balance exhausted")
		c.End(record.EndBalanceExhausted)
	case accrual.TriggerSlotExpired:
		log.Info().Str("session_id", c.params.SessionID).Msg("fixed slot expired")
		c.End(record.EndSlotExpired)
	}
}

// run is the sequential dispatch loop: every callback from the periodic
// tasks and subscriptions executes here, one at a time.
func (c *Coordinator) run() {
	for {
		select {
		case <-c.stopCh:
			return
		case f := <-c.calls:
			f()
		}
	}
}

// dispatch enqueues a closure onto the sequential queue. After teardown
// closures are dropped.
func (c *Coordinator) dispatch(f func()) {
	select {
	case <-c.stopCh:
	case c.calls <- f:
	}
}

func (c *Coordinator) stopDispatch() {
	c.stopOnce.Do(func() { close(c.stopCh) })
}
