package timeslot

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/daymark/daymark/internal/task"
)

func TestNew_DefaultKeys(t *testing.T) {
	b := Default()
	assert.Equal(t, []string{"0:00-8:00", "8:00-12:00", "12:00-16:00", "16:00-0:00"}, b.Keys())
}

func TestNew_FallsBackOnInvalidBoundaries(t *testing.T) {
	testCases := []struct {
		name       string
		boundaries []Boundary
	}{
		{"empty", nil},
		{"single entry", []Boundary{{0, 0}}},
		{"does not start at midnight", []Boundary{{1, 0}, {8, 0}}},
		{"not ascending", []Boundary{{0, 0}, {12, 0}, {8, 0}}},
		{"duplicate boundary", []Boundary{{0, 0}, {8, 0}, {8, 0}}},
		{"hour out of range", []Boundary{{0, 0}, {24, 0}}},
		{"minute out of range", []Boundary{{0, 0}, {8, 75}}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			b := New(tc.boundaries)
			assert.Equal(t, Default().Keys(), b.Keys(), "should fall back to defaults")
		})
	}
}

func TestSlotFor_DefaultBoundaries(t *testing.T) {
	b := Default()

	testCases := []struct {
		input string
		want  string
	}{
		{"0:00", "0:00-8:00"},
		{"07:59", "0:00-8:00"},
		{"08:00", "8:00-12:00"},
		{"11:59", "8:00-12:00"},
		{"12:00", "12:00-16:00"},
		{"16:00", "16:00-0:00"},
		{"23:59", "16:00-0:00"},
		{"9:30:15", "8:00-12:00"},
		{"9:30:15.250", "8:00-12:00"},
		{"09:30:00Z", "8:00-12:00"},
		{"09:30:00+09:00", "8:00-12:00"},
	}

	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			assert.Equal(t, tc.want, b.SlotFor(tc.input))
		})
	}
}

func TestSlotFor_InvalidReturnsFirstSlot(t *testing.T) {
	b := Default()

	for _, input := range []string{"", "garbage", "25:00", "12:75", "12", "::"} {
		t.Run(input, func(t *testing.T) {
			assert.Equal(t, "0:00-8:00", b.SlotFor(input))
		})
	}
}

func TestSlotFor_FullInstantUsesLocalWallClock(t *testing.T) {
	b := Default()

	instant := time.Date(2025, 3, 4, 9, 15, 0, 0, time.Local)
	assert.Equal(t, "8:00-12:00", b.SlotFor(instant.Format(time.RFC3339)))
	assert.Equal(t, "8:00-12:00", b.SlotForTime(instant))
}

func TestMigrate_RebucketsByStartTime(t *testing.T) {
	// Two-slot configuration: morning and the rest of the day.
	b := New([]Boundary{{0, 0}, {10, 0}})

	testCases := []struct {
		oldKey string
		want   string
	}{
		{"0:00-8:00", "0:00-10:00"},
		{"8:00-12:00", "0:00-10:00"},
		{"12:00-16:00", "10:00-0:00"},
		{"16:00-0:00", "10:00-0:00"},
		{task.NoSlot, task.NoSlot},
		{"garbage", "garbage"},
	}

	for _, tc := range testCases {
		t.Run(tc.oldKey, func(t *testing.T) {
			assert.Equal(t, tc.want, b.Migrate(tc.oldKey))
		})
	}
}

func TestMigrateOrderKey(t *testing.T) {
	b := New([]Boundary{{0, 0}, {10, 0}})

	assert.Equal(t, "tasks/review.md::0:00-10:00", b.MigrateOrderKey("tasks/review.md::8:00-12:00"))
	// Keys without a slot suffix pass through untouched.
	assert.Equal(t, "tasks/review.md", b.MigrateOrderKey("tasks/review.md"))
}

func TestIsValid(t *testing.T) {
	b := Default()

	assert.True(t, b.IsValid("8:00-12:00"))
	assert.True(t, b.IsValid(task.NoSlot), "none is always valid")
	assert.False(t, b.IsValid("9:00-10:00"))
	assert.False(t, b.IsValid(""))
}

func TestSlotEnd(t *testing.T) {
	b := Default()
	day := time.Date(2025, 3, 4, 0, 0, 0, 0, time.Local)

	end, ok := b.SlotEnd(day, "8:00-12:00")
	require.True(t, ok)
	assert.Equal(t, time.Date(2025, 3, 4, 12, 0, 0, 0, time.Local), end)

	end, ok = b.SlotEnd(day, "16:00-0:00")
	require.True(t, ok)
	assert.Equal(t, time.Date(2025, 3, 5, 0, 0, 0, 0, time.Local), end, "last slot ends at next midnight")

	_, ok = b.SlotEnd(day, task.NoSlot)
	assert.False(t, ok)
}
