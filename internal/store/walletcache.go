package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/advisly/session-core/internal/record"
)

const (
	walletKeyPrefix  = "wallet:"
	defaultWalletTTL = 30 * time.Second
)

// WalletCache is a read-through Redis cache in front of a WalletStore.
// Balances move quickly, so the TTL is short; a cache miss or Redis error
// simply falls through to the underlying store.
type WalletCache struct {
	inner  WalletStore
	client *redis.Client
	ttl    time.Duration
}

// NewWalletCache wraps a wallet store with a Redis cache.
func NewWalletCache(inner WalletStore, client *redis.Client, ttl time.Duration) *WalletCache {
	if ttl <= 0 {
		ttl = defaultWalletTTL
	}
	return &WalletCache{inner: inner, client: client, ttl: ttl}
}

// Snapshot implements WalletStore.
func (c *WalletCache) Snapshot(ctx context.Context, userID string) (*record.WalletSnapshot, error) {
	key := walletKeyPrefix + userID

	val, err := c.client.Get(ctx, key).Result()
	if err == nil {
		var snap record.WalletSnapshot
		if jsonErr := json.Unmarshal([]byte(val), &snap); jsonErr == nil {
			snap.FetchedAt = time.Now()
			return &snap, nil
		}
	} else if err != redis.Nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("wallet cache read failed")
	}

	snap, err := c.inner.Snapshot(ctx, userID)
	if err != nil {
		return nil, err
	}

	if data, jsonErr := json.Marshal(snap); jsonErr == nil {
		if setErr := c.client.Set(ctx, key, data, c.ttl).Err(); setErr != nil {
			log.Warn().Err(setErr).Str("user_id", userID).Msg("wallet cache write failed")
		}
	}
	return snap, nil
}

var _ WalletStore = (*WalletCache)(nil)
