package record_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/advisly/session-core/internal/record"
)

func TestSessionStatus_MonotonicTransitions(t *testing.T) {
	cases := []struct {
		from, to record.SessionStatus
		ok       bool
	}{
		{record.StatusInitiated, record.StatusOngoing, true},
		{record.StatusInitiated, record.StatusEnded, true},
		{record.StatusOngoing, record.StatusEnded, true},
		{record.StatusOngoing, record.StatusOngoing, true},
		{record.StatusEnded, record.StatusEnded, true},
		{record.StatusEnded, record.StatusOngoing, false},
		{record.StatusEnded, record.StatusInitiated, false},
		{record.StatusOngoing, record.StatusInitiated, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.ok, tc.from.CanTransition(tc.to),
			"%s -> %s", tc.from, tc.to)
	}
}

func TestUrgencyLabel_Classification(t *testing.T) {
	assert.True(t, record.UrgencyScheduled.IsFixedSlot())
	assert.False(t, record.UrgencyInstant.IsFixedSlot())
	// Unknown or missing labels fall back to metered.
	assert.False(t, record.UrgencyLabel("").IsFixedSlot())
	assert.False(t, record.UrgencyLabel("whenever").IsFixedSlot())
}

func TestSessionRecord_Validate(t *testing.T) {
	valid := record.SessionRecord{
		ID:     "s1",
		Kind:   record.KindAudio,
		Status: record.StatusOngoing,
	}
	assert.NoError(t, valid.Validate())

	missing := valid
	missing.ID = ""
	assert.Error(t, missing.Validate())

	badKind := valid
	badKind.Kind = "carrier-pigeon"
	assert.Error(t, badKind.Validate())

	negative := valid
	negative.RatePerMinute = -1
	assert.Error(t, negative.Validate())
}

func TestBookingRecord_Live(t *testing.T) {
	b := record.BookingRecord{BookingID: "b1", Status: record.BookingAccepted}
	assert.True(t, b.Live())
	b.Status = record.BookingPending
	assert.True(t, b.Live())
	b.Status = record.BookingCompleted
	assert.False(t, b.Live())
	b.Status = record.BookingCancelled
	assert.False(t, b.Live())
}

func TestReconciliationKey(t *testing.T) {
	assert.Equal(t, "b1_completion", record.ReconciliationKey("b1"))
	assert.True(t, record.ReconciliationPaid.Terminal())
	assert.True(t, record.ReconciliationFailed.Terminal())
	assert.False(t, record.ReconciliationStatus("pending").Terminal())
}

func TestAdvisorProfile_RateFor(t *testing.T) {
	p := record.AdvisorProfile{AdvisorID: "a1", AudioRate: 10, VideoRate: 15, ChatRate: 5}

	audio, err := p.RateFor(record.KindAudio)
	assert.NoError(t, err)
	assert.Equal(t, 10.0, audio)

	chat, err := p.RateFor(record.KindChat)
	assert.NoError(t, err)
	assert.Equal(t, 5.0, chat)

	_, err = p.RateFor(record.SessionKind("telepathy"))
	assert.Error(t, err)
}
