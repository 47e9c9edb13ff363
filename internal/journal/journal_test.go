package journal_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/advisly/session-core/internal/journal"
)

func openTemp(t *testing.T) *journal.Journal {
	t.Helper()
	j, err := journal.Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })
	return j
}

func TestJournal_RecordAndReadBack(t *testing.T) {
	j := openTemp(t)

	j.Record("s1", journal.EventRateResolved, "mode=metered rate=12.00 source=on_demand_booking")
	j.Record("s1", journal.EventSessionStarted, "kind=audio channel=room-1")
	j.Record("s1", journal.EventTerminated, "reason=user_ended duration=1m30s")
	j.Record("other", journal.EventSessionStarted, "kind=chat channel=room-2")

	entries, err := j.Events("s1")
	require.NoError(t, err)
	require.Len(t, entries, 3, "entries scoped to the session")

	assert.Equal(t, journal.EventRateResolved, entries[0].Event)
	assert.Equal(t, journal.EventSessionStarted, entries[1].Event)
	assert.Equal(t, journal.EventTerminated, entries[2].Event)
	assert.Equal(t, "reason=user_ended duration=1m30s", entries[2].Detail)
	assert.False(t, entries[0].CreatedAt.IsZero())
}

func TestJournal_EmptySession(t *testing.T) {
	j := openTemp(t)
	entries, err := j.Events("unknown")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestJournal_NilIsNoOp(t *testing.T) {
	var j *journal.Journal
	j.Record("s1", journal.EventTerminated, "reason=user_ended")

	entries, err := j.Events("s1")
	require.NoError(t, err)
	assert.Nil(t, entries)
	assert.NoError(t, j.Close())
}

func TestJournal_ReopenKeepsHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")

	j, err := journal.Open(path)
	require.NoError(t, err)
	j.Record("s1", journal.EventBalanceSnapshot, "balance=500.00 lenient=false")
	require.NoError(t, j.Close())

	j, err = journal.Open(path)
	require.NoError(t, err)
	defer func() { _ = j.Close() }()

	entries, err := j.Events("s1")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, journal.EventBalanceSnapshot, entries[0].Event)
}
