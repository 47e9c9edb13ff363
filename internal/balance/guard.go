// Package balance snapshots a user's wallet and answers sufficiency checks
// against projected session cost.
package balance

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/advisly/session-core/internal/record"
	"github.com/advisly/session-core/internal/store"
)

// Guard holds the single wallet snapshot taken at session start.
//
// The snapshot is best effort: when the fetch fails the guard is lenient
// and lets the session proceed rather than cutting off a user over a
// transient network blip. The backend reconciliation remains authoritative
// either way.
type Guard struct {
	snapshot *record.WalletSnapshot
	lenient  bool
}

// Fetch takes one wallet snapshot, bounded by timeout. It never returns an
// error; a failed fetch yields a lenient guard.
func Fetch(ctx context.Context, wallets store.WalletStore, userID string, timeout time.Duration) *Guard {
	fetchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	snap, err := wallets.Snapshot(fetchCtx, userID)
	if err != nil {
		log.Warn().Err(err).Str("user_id", userID).
			Msg("wallet snapshot failed, session proceeds without balance enforcement")
		return &Guard{lenient: true}
	}

	log.Info().Str("user_id", userID).Float64("balance", snap.Balance).
		Msg("wallet snapshot taken")
	return &Guard{snapshot: snap}
}

// IsSufficient reports whether the balance still covers the projected cost.
// A lenient guard always answers yes.
func (g *Guard) IsSufficient(cost float64) bool {
	if g.lenient {
		return true
	}
	return cost < g.snapshot.Balance
}

// Balance returns the snapshotted balance, zero when lenient.
func (g *Guard) Balance() float64 {
	if g.lenient {
		return 0
	}
	return g.snapshot.Balance
}

// Lenient reports whether the guard is running without a snapshot.
func (g *Guard) Lenient() bool {
	return g.lenient
}
