package record

import "time"

// WalletSnapshot is a point-in-time read of a user's wallet balance.
// The balance is advisory for local enforcement only; the backend computes
// the authoritative charge.
type WalletSnapshot struct {
	UserID    string    `json:"user_id"`
	Balance   float64   `json:"balance"`
	FetchedAt time.Time `json:"-"`
}

// IsStale returns true if the snapshot is older than the given duration.
func (w *WalletSnapshot) IsStale(maxAge time.Duration) bool {
	return time.Since(w.FetchedAt) > maxAge
}
