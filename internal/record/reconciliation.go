package record

// ReconciliationStatus is the terminal outcome of the backend charge.
type ReconciliationStatus string

const (
	ReconciliationPaid   ReconciliationStatus = "paid"
	ReconciliationFailed ReconciliationStatus = "failed"
)

// Terminal reports whether the status ends the reconciliation wait.
func (s ReconciliationStatus) Terminal() bool {
	return s == ReconciliationPaid || s == ReconciliationFailed
}

// ReconciliationRecord is written by the backend billing function after a
// session ends. The client only ever reads it.
type ReconciliationRecord struct {
	Key           string               `json:"key"`
	Status        ReconciliationStatus `json:"status"`
	FailureReason string               `json:"failure_reason,omitempty"`
}

// ReconciliationKey derives the store key for a booking's completion record.
func ReconciliationKey(bookingID string) string {
	return bookingID + "_completion"
}
