package accrual_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/advisly/session-core/internal/accrual"
	"github.com/advisly/session-core/internal/record"
)

// fakeNow drives the clock deterministically, one Tick per second.
type fakeNow struct {
	t time.Time
}

func (f *fakeNow) now() time.Time { return f.t }

func (f *fakeNow) advance(d time.Duration) { f.t = f.t.Add(d) }

func startClock(t *testing.T, cfg accrual.Config) (*accrual.Clock, *fakeNow) {
	t.Helper()
	// Park the real ticker; tests drive Tick directly.
	cfg.TickInterval = time.Hour
	clock := accrual.New(cfg)
	fn := &fakeNow{t: time.Unix(1_700_000_000, 0)}
	clock.Now = fn.now
	clock.Start(func(f func()) { f() })
	t.Cleanup(clock.Stop)
	return clock, fn
}

// Scenario: balance 50, rate 60/min. Cost reaches 50 at exactly 50s of
// elapsed time; the trigger fires at that tick and not one earlier.
func TestClock_InsufficientBalanceFiresAtExactTick(t *testing.T) {
	const balanceLimit = 50.0
	var triggers []accrual.Trigger
	var costs []float64

	clock, fn := startClock(t, accrual.Config{
		Mode:          record.BillingMetered,
		RatePerMinute: 60,
		IsSufficient:  func(cost float64) bool { return cost < balanceLimit },
		OnTick:        func(s accrual.Snapshot) { costs = append(costs, s.Cost) },
		OnTrigger:     func(tr accrual.Trigger) { triggers = append(triggers, tr) },
	})

	for i := 0; i < 49; i++ {
		fn.advance(time.Second)
		clock.Tick()
	}
	assert.Empty(t, triggers, "no trigger before cost reaches the balance")
	assert.InDelta(t, 49.0, costs[len(costs)-1], 0.0001)

	fn.advance(time.Second)
	clock.Tick()
	require.Len(t, triggers, 1)
	assert.Equal(t, accrual.TriggerInsufficientBalance, triggers[0])
	assert.InDelta(t, 50.0, costs[len(costs)-1], 0.0001)
}

func TestClock_TriggerFiresOnlyOnce(t *testing.T) {
	fired := 0
	clock, fn := startClock(t, accrual.Config{
		Mode:          record.BillingMetered,
		RatePerMinute: 60,
		IsSufficient:  func(cost float64) bool { return cost < 1 },
		OnTrigger:     func(accrual.Trigger) { fired++ },
	})

	for i := 0; i < 10; i++ {
		fn.advance(time.Second)
		clock.Tick()
	}
	assert.Equal(t, 1, fired)
}

func TestClock_CostIsMonotonic(t *testing.T) {
	var costs []float64
	clock, fn := startClock(t, accrual.Config{
		Mode:          record.BillingMetered,
		RatePerMinute: 12.5,
		OnTick:        func(s accrual.Snapshot) { costs = append(costs, s.Cost) },
	})

	for i := 0; i < 120; i++ {
		fn.advance(time.Second)
		clock.Tick()
	}

	for i := 1; i < len(costs); i++ {
		assert.GreaterOrEqual(t, costs[i], costs[i-1])
	}
	// cost == elapsedMinutes * rate within rounding tolerance.
	assert.InDelta(t, 2.0*12.5, costs[len(costs)-1], 0.0001)
}

// The countdown reaches exactly zero at the slot cap and terminates once.
func TestClock_FixedSlotExpiry(t *testing.T) {
	var triggers []accrual.Trigger
	var remaining []time.Duration

	clock, fn := startClock(t, accrual.Config{
		Mode:      record.BillingFixed,
		SlotCap:   30 * time.Minute,
		OnTick:    func(s accrual.Snapshot) { remaining = append(remaining, s.Remaining) },
		OnTrigger: func(tr accrual.Trigger) { triggers = append(triggers, tr) },
	})

	fn.advance(30*time.Minute - time.Second)
	clock.Tick()
	assert.Empty(t, triggers)
	assert.Equal(t, time.Second, remaining[len(remaining)-1])

	fn.advance(time.Second)
	clock.Tick()
	require.Len(t, triggers, 1)
	assert.Equal(t, accrual.TriggerSlotExpired, triggers[0])
	assert.Equal(t, time.Duration(0), remaining[len(remaining)-1])

	// Further ticks never re-fire and never go negative.
	fn.advance(time.Minute)
	clock.Tick()
	assert.Len(t, triggers, 1)
	assert.Equal(t, time.Duration(0), remaining[len(remaining)-1])
}

func TestClock_FixedModeIgnoresBalance(t *testing.T) {
	fired := 0
	clock, fn := startClock(t, accrual.Config{
		Mode:         record.BillingFixed,
		SlotCap:      30 * time.Minute,
		IsSufficient: func(float64) bool { return false },
		OnTrigger:    func(accrual.Trigger) { fired++ },
	})

	fn.advance(time.Minute)
	clock.Tick()
	assert.Zero(t, fired)
}

func TestClock_StopIsIdempotent(t *testing.T) {
	clock := accrual.New(accrual.Config{Mode: record.BillingMetered, RatePerMinute: 1})
	clock.Start(func(f func()) { f() })
	clock.Stop()
	clock.Stop()
}
