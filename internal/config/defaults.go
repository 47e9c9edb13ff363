// Package config - defaults.go centralizes the timing constants of the
// session core.
package config

import "time"

// DefaultTickInterval is the cost estimator cadence.
const DefaultTickInterval = time.Second

// DefaultHeartbeatInterval is how often liveness is stamped on the session
// document. The backend watchdog's orphan threshold is a multiple of this.
const DefaultHeartbeatInterval = 30 * time.Second

// DefaultSlotCap bounds a fixed-slot session.
const DefaultSlotCap = 30 * time.Minute

// DefaultReconciliationTimeout bounds the wait for the backend's completion
// record after a chat session ends.
const DefaultReconciliationTimeout = 8 * time.Second

// DefaultWalletFetchTimeout bounds the single wallet snapshot at start.
const DefaultWalletFetchTimeout = 5 * time.Second

// DefaultEndingWriteTimeout bounds the ended-status write during teardown.
const DefaultEndingWriteTimeout = 10 * time.Second
