package execlog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daymark/daymark/internal/task"
	"github.com/daymark/daymark/internal/vault"
)

func testLog(t *testing.T) *Log {
	t.Helper()
	v, err := vault.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = v.Close() })
	return New(v, "log")
}

func TestAppendAndEntriesFor(t *testing.T) {
	l := testLog(t)
	date := task.DateKey("2025-01-15")

	require.NoError(t, l.Append(date, Entry{
		TaskTitle: "Review",
		TaskPath:  "tasks/review.md",
		SlotKey:   "8:00-12:00",
		StartTime: "2025-01-15T09:00:00+09:00",
		StopTime:  "2025-01-15T09:30:00+09:00",
	}))
	require.NoError(t, l.Append(date, Entry{
		TaskTitle: "Mail",
		TaskPath:  "tasks/mail.md",
		SlotKey:   "8:00-12:00",
		StartTime: "2025-01-15T09:30:00+09:00",
		StopTime:  "2025-01-15T09:45:00+09:00",
	}))

	entries := l.EntriesFor(date)
	require.Len(t, entries, 2)
	assert.Equal(t, "Review", entries[0].TaskTitle)
	assert.Equal(t, "Mail", entries[1].TaskTitle)

	// A different date in the same month is untouched.
	assert.Empty(t, l.EntriesFor(task.DateKey("2025-01-16")))
}

func TestRemove(t *testing.T) {
	l := testLog(t)
	date := task.DateKey("2025-01-15")

	require.NoError(t, l.Append(date, Entry{TaskTitle: "A", InstanceID: "i-a", SlotKey: "none", StartTime: "x", StopTime: "y"}))
	require.NoError(t, l.Append(date, Entry{TaskTitle: "B", InstanceID: "i-b", SlotKey: "none", StartTime: "x", StopTime: "y"}))

	require.NoError(t, l.Remove(date, func(e Entry) bool { return e.InstanceID == "i-a" }))

	entries := l.EntriesFor(date)
	require.Len(t, entries, 1)
	assert.Equal(t, "B", entries[0].TaskTitle)

	// Removing the last entry drops the date group entirely.
	require.NoError(t, l.Remove(date, func(e Entry) bool { return true }))
	assert.Empty(t, l.EntriesFor(date))
}

func TestEntriesFor_MalformedFileIsEmpty(t *testing.T) {
	v, err := vault.Open(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = v.Close() })
	l := New(v, "log")

	require.NoError(t, v.WriteRaw("log/log-2025-01.json", []byte("{not json")))
	assert.Empty(t, l.EntriesFor(task.DateKey("2025-01-15")))
}

func TestRunningSnapshotRoundTrip(t *testing.T) {
	l := testLog(t)

	assert.Empty(t, l.ReadRunning(), "missing snapshot is empty")

	records := []RunningRecord{{
		Date:       "2025-01-15",
		TaskTitle:  "Review",
		TaskPath:   "tasks/review.md",
		StartTime:  "2025-01-15T09:00:00+09:00",
		SlotKey:    "8:00-12:00",
		InstanceID: "i-1",
		IsRoutine:  true,
		TaskID:     "t-review",
	}}
	require.NoError(t, l.WriteRunning(records))
	assert.Equal(t, records, l.ReadRunning())

	require.NoError(t, l.WriteRunning(nil))
	assert.Empty(t, l.ReadRunning())
}
