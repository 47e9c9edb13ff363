package session_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/advisly/session-core/internal/config"
	"github.com/advisly/session-core/internal/rate"
	"github.com/advisly/session-core/internal/record"
	"github.com/advisly/session-core/internal/session"
	"github.com/advisly/session-core/internal/store"
	"github.com/advisly/session-core/internal/transport"
)

// Compressed intervals so lifecycle tests run in milliseconds.
func testConfig() config.SessionConfig {
	return config.SessionConfig{
		TickInterval:          10 * time.Millisecond,
		HeartbeatInterval:     20 * time.Millisecond,
		SlotCap:               30 * time.Minute,
		ReconciliationTimeout: 200 * time.Millisecond,
		WalletFetchTimeout:    time.Second,
	}
}

func seedOnDemand(mem *store.Memory) {
	mem.PutProfile(record.AdvisorProfile{
		AdvisorID: "a1", AudioRate: 12, VideoRate: 18, ChatRate: 6,
	})
	mem.PutWallet(record.WalletSnapshot{UserID: "u1", Balance: 500})
	mem.PutOnDemand(record.BookingRecord{
		BookingID: "b1", Urgency: record.UrgencyInstant, SessionAmount: 12,
		StudentID: "u1", AdvisorID: "a1", Status: record.BookingAccepted,
		CreatedAt: time.Now(),
	})
}

func newCoordinator(mem *store.Memory, fake *transport.Fake, params session.Params, hooks session.Hooks) *session.Coordinator {
	env := session.Env{
		Sessions:        mem,
		Bookings:        mem,
		Advisors:        mem,
		Wallets:         mem,
		Reconciliations: mem,
		Transport:       fake,
		UserID:          "u1",
	}
	return session.New(env, params, testConfig(), hooks)
}

func awaitDone(t *testing.T, c *session.Coordinator) session.Outcome {
	t.Helper()
	select {
	case out := <-c.Done():
		return out
	case <-time.After(5 * time.Second):
		t.Fatal("no outcome delivered")
		return session.Outcome{}
	}
}

func TestCoordinator_MeteredLifecycle(t *testing.T) {
	mem := store.NewMemory()
	seedOnDemand(mem)
	fake := transport.NewFake()

	rateSet := make(chan rate.Resolution, 1)
	c := newCoordinator(mem, fake, session.Params{
		SessionID:   "s1",
		Kind:        record.KindAudio,
		BookingID:   "b1",
		ChannelHint: "room-1",
		AdvisorID:   "a1",
	}, session.Hooks{
		OnRateSet: func(r rate.Resolution) { rateSet <- r },
	})

	require.NoError(t, c.Start(context.Background()))

	select {
	case res := <-rateSet:
		assert.Equal(t, record.BillingMetered, res.Mode)
		assert.Equal(t, 12.0, res.RatePerMinute)
	case <-time.After(time.Second):
		t.Fatal("rate hook never fired")
	}
	assert.Equal(t, record.BillingMetered, c.Resolution().Mode)
	assert.True(t, fake.Joined())
	assert.Equal(t, "room-1", fake.Channel())

	// The optimistic start write landed.
	rec, err := mem.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, record.StatusOngoing, rec.Status)
	assert.Equal(t, record.SchemaVersion, rec.Version)
	assert.Equal(t, 12.0, rec.RatePerMinute)

	// Heartbeats flow while the session is live.
	require.Eventually(t, func() bool {
		rec, err := mem.Get(context.Background(), "s1")
		return err == nil && rec.LastHeartbeatAt != nil
	}, time.Second, 5*time.Millisecond)

	// Estimator ticks publish advisory snapshots.
	require.Eventually(t, func() bool {
		return c.Estimate().Elapsed > 0
	}, time.Second, 5*time.Millisecond)

	c.End(record.EndUserAction)
	out := awaitDone(t, c)
	assert.Equal(t, record.EndUserAction, out.Reason)

	rec, err = mem.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, record.StatusEnded, rec.Status)
	assert.Equal(t, "u1", rec.CompletedBy)
	assert.False(t, fake.Joined())
	assert.Equal(t, 1, fake.LeaveCalls())
}

func TestCoordinator_ChannelDefaultsToSessionID(t *testing.T) {
	mem := store.NewMemory()
	seedOnDemand(mem)
	fake := transport.NewFake()

	c := newCoordinator(mem, fake, session.Params{
		SessionID: "s1", Kind: record.KindAudio, BookingID: "b1", AdvisorID: "a1",
	}, session.Hooks{})
	require.NoError(t, c.Start(context.Background()))
	assert.Equal(t, "s1", fake.Channel())
	c.End(record.EndUserAction)
	awaitDone(t, c)
}

// The other participant's ended write, observed through the status watch,
// terminates the session without claiming completed_by locally.
func TestCoordinator_RemoteEndObservedThroughWatch(t *testing.T) {
	mem := store.NewMemory()
	seedOnDemand(mem)
	fake := transport.NewFake()

	c := newCoordinator(mem, fake, session.Params{
		SessionID: "s1", Kind: record.KindVideo, BookingID: "b1", AdvisorID: "a1",
	}, session.Hooks{})
	require.NoError(t, c.Start(context.Background()))

	// The remote participant ends the session.
	require.NoError(t, mem.Patch(context.Background(), "s1", map[string]any{
		"status":       string(record.StatusEnded),
		"completed_by": "a1",
	}))

	out := awaitDone(t, c)
	assert.Equal(t, record.EndRemote, out.Reason)
	assert.Equal(t, 1, fake.LeaveCalls())

	rec, err := mem.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, "a1", rec.CompletedBy, "local side never overwrites the remote claim")
}

func TestCoordinator_BalanceExhaustionEndsSession(t *testing.T) {
	mem := store.NewMemory()
	seedOnDemand(mem)
	// Near-empty wallet: the first few ticks push projected cost past it.
	mem.PutWallet(record.WalletSnapshot{UserID: "u1", Balance: 0.001})
	fake := transport.NewFake()

	c := newCoordinator(mem, fake, session.Params{
		SessionID: "s1", Kind: record.KindAudio, BookingID: "b1", AdvisorID: "a1",
	}, session.Hooks{})
	require.NoError(t, c.Start(context.Background()))

	out := awaitDone(t, c)
	assert.Equal(t, record.EndBalanceExhausted, out.Reason)

	rec, err := mem.Get(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, record.EndBalanceExhausted, rec.EndReason)
}

func TestCoordinator_JoinFailureEndsGracefully(t *testing.T) {
	mem := store.NewMemory()
	seedOnDemand(mem)
	fake := transport.NewFake()
	fake.JoinErr = transport.ErrPermissionDenied

	c := newCoordinator(mem, fake, session.Params{
		SessionID: "s1", Kind: record.KindAudio, BookingID: "b1", AdvisorID: "a1",
	}, session.Hooks{})

	err := c.Start(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, transport.ErrPermissionDenied)

	out := awaitDone(t, c)
	assert.Equal(t, record.EndTransportFailure, out.Reason)
}

func TestCoordinator_UnresolvableRateRefusesToStart(t *testing.T) {
	mem := store.NewMemory() // nothing seeded
	fake := transport.NewFake()

	c := newCoordinator(mem, fake, session.Params{
		SessionID: "s1", Kind: record.KindAudio, BookingID: "b1", AdvisorID: "a1",
	}, session.Hooks{})

	err := c.Start(context.Background())
	assert.ErrorIs(t, err, rate.ErrUnresolved)
	assert.False(t, fake.Joined(), "transport never joined")
}

func TestCoordinator_RejectsBadParams(t *testing.T) {
	mem := store.NewMemory()
	fake := transport.NewFake()

	c := newCoordinator(mem, fake, session.Params{Kind: record.KindAudio}, session.Hooks{})
	assert.Error(t, c.Start(context.Background()), "missing session id")

	c = newCoordinator(mem, fake, session.Params{SessionID: "s1", Kind: "carrier-pigeon"}, session.Hooks{})
	assert.Error(t, c.Start(context.Background()), "unknown kind")
}

func TestCoordinator_ChatOutcomeCarriesReconciliation(t *testing.T) {
	mem := store.NewMemory()
	seedOnDemand(mem)
	fake := transport.NewFake()

	c := newCoordinator(mem, fake, session.Params{
		SessionID: "s1", Kind: record.KindChat, BookingID: "b1", AdvisorID: "a1",
	}, session.Hooks{})
	require.NoError(t, c.Start(context.Background()))

	// The backend settles billing while the ending sequence waits.
	go func() {
		time.Sleep(50 * time.Millisecond)
		mem.PutReconciliation("b1", record.ReconciliationRecord{Status: record.ReconciliationPaid})
	}()

	c.End(record.EndUserAction)
	out := awaitDone(t, c)
	assert.Equal(t, record.ReconciliationPaid, out.Reconciliation)
	assert.False(t, out.ReconciliationTimedOut)
}

func TestCoordinator_TransportHintsNeverTerminate(t *testing.T) {
	mem := store.NewMemory()
	seedOnDemand(mem)
	fake := transport.NewFake()

	c := newCoordinator(mem, fake, session.Params{
		SessionID: "s1", Kind: record.KindAudio, BookingID: "b1", AdvisorID: "a1",
	}, session.Hooks{})
	require.NoError(t, c.Start(context.Background()))

	fake.Push(transport.Event{Kind: transport.EventPeerJoined, PeerID: "a1"})
	require.Eventually(t, func() bool { return c.PeerPresent() }, time.Second, 5*time.Millisecond)

	fake.Push(transport.Event{Kind: transport.EventPeerLeft, PeerID: "a1"})
	require.Eventually(t, func() bool { return !c.PeerPresent() }, time.Second, 5*time.Millisecond)

	// A departed peer is a hint, not a termination trigger.
	select {
	case out := <-c.Done():
		t.Fatalf("session terminated on a hint: %+v", out)
	case <-time.After(100 * time.Millisecond):
	}

	c.End(record.EndUserAction)
	awaitDone(t, c)
}

// A teardown trigger may fire before Start ever runs (the process is being
// destroyed while the screen is still resolving). End and Done must work on
// a coordinator that was only constructed.
func TestCoordinator_EndBeforeStartDeliversOutcome(t *testing.T) {
	mem := store.NewMemory()
	seedOnDemand(mem)
	fake := transport.NewFake()

	c := newCoordinator(mem, fake, session.Params{
		SessionID: "s1", Kind: record.KindAudio, BookingID: "b1", AdvisorID: "a1",
	}, session.Hooks{})

	c.End(record.EndUserAction)
	c.End(record.EndBalanceExhausted) // later calls stay no-ops

	out := awaitDone(t, c)
	assert.Equal(t, record.EndUserAction, out.Reason)

	// The session already ended; a late Start must refuse to run.
	err := c.Start(context.Background())
	require.Error(t, err)
	assert.False(t, fake.Joined())

	select {
	case out := <-c.Done():
		t.Fatalf("second outcome delivered: %+v", out)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCoordinator_EndIsIdempotent(t *testing.T) {
	mem := store.NewMemory()
	seedOnDemand(mem)
	fake := transport.NewFake()

	c := newCoordinator(mem, fake, session.Params{
		SessionID: "s1", Kind: record.KindAudio, BookingID: "b1", AdvisorID: "a1",
	}, session.Hooks{})
	require.NoError(t, c.Start(context.Background()))

	for i := 0; i < 5; i++ {
		c.End(record.EndUserAction)
	}
	out := awaitDone(t, c)
	assert.Equal(t, record.EndUserAction, out.Reason)
	assert.Equal(t, 1, fake.LeaveCalls())
}

func TestCoordinator_LenientGuardNeverCutsOff(t *testing.T) {
	mem := store.NewMemory()
	seedOnDemand(mem)
	// The snapshot fetch fails, so the guard is lenient.
	mem.Fail(store.OpWallet, errors.New("wallet service down"))
	fake := transport.NewFake()

	c := newCoordinator(mem, fake, session.Params{
		SessionID: "s1", Kind: record.KindAudio, BookingID: "b1", AdvisorID: "a1",
	}, session.Hooks{})
	require.NoError(t, c.Start(context.Background()))

	// Several ticks pass without a balance cutoff.
	require.Eventually(t, func() bool {
		return c.Estimate().Elapsed > 50*time.Millisecond
	}, time.Second, 5*time.Millisecond)

	select {
	case out := <-c.Done():
		t.Fatalf("lenient session terminated: %+v", out)
	case <-time.After(50 * time.Millisecond):
	}

	c.End(record.EndUserAction)
	awaitDone(t, c)
}
