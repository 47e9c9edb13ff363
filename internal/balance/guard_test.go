package balance_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/advisly/session-core/internal/balance"
	"github.com/advisly/session-core/internal/record"
	"github.com/advisly/session-core/internal/store"
)

func TestFetch_SnapshotEnforcesBalance(t *testing.T) {
	mem := store.NewMemory()
	mem.PutWallet(record.WalletSnapshot{UserID: "u1", Balance: 50})

	guard := balance.Fetch(context.Background(), mem, "u1", time.Second)
	assert.False(t, guard.Lenient())
	assert.Equal(t, 50.0, guard.Balance())

	assert.True(t, guard.IsSufficient(49.99))
	// The session ends the moment projected cost reaches the balance.
	assert.False(t, guard.IsSufficient(50))
	assert.False(t, guard.IsSufficient(50.01))
}

func TestFetch_FailureDefaultsToAllow(t *testing.T) {
	mem := store.NewMemory()
	mem.Fail(store.OpWallet, errors.New("network down"))

	guard := balance.Fetch(context.Background(), mem, "u1", time.Second)
	assert.True(t, guard.Lenient())
	// Documented leniency: a failed snapshot never blocks the session.
	assert.True(t, guard.IsSufficient(1e9))
}

func TestFetch_MissingWalletDefaultsToAllow(t *testing.T) {
	mem := store.NewMemory()

	guard := balance.Fetch(context.Background(), mem, "ghost", time.Second)
	assert.True(t, guard.Lenient())
	assert.True(t, guard.IsSufficient(100))
}
