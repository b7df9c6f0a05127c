package task

import (
	"fmt"
	"math"
	"time"
)

// DateKey identifies one calendar day as "YYYY-MM-DD" in local time.
// All per-date state (overlay records, execution log groups, instance
// sets) is keyed by DateKey.
type DateKey string

// dateKeyLayout is the wire format shared with the execution log and
// overlay documents. Must not change: existing deployments depend on it.
const dateKeyLayout = "2006-01-02"

// KeyOf returns the DateKey for an instant, in local time.
func KeyOf(t time.Time) DateKey {
	return DateKey(t.Local().Format(dateKeyLayout))
}

// ParseDateKey parses a DateKey into a local midnight instant.
func ParseDateKey(k DateKey) (time.Time, error) {
	t, err := time.ParseInLocation(dateKeyLayout, string(k), time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse date key %q: %w", k, err)
	}
	return t, nil
}

// MustDate parses a DateKey and panics on failure. Test helper and
// internal use on keys already validated.
func MustDate(k DateKey) time.Time {
	t, err := ParseDateKey(k)
	if err != nil {
		panic(err)
	}
	return t
}

// Valid reports whether k is a well-formed date key.
func (k DateKey) Valid() bool {
	_, err := ParseDateKey(k)
	return err == nil
}

// SameDay reports whether two instants fall on the same local calendar day.
func SameDay(a, b time.Time) bool {
	ay, am, ad := a.Local().Date()
	by, bm, bd := b.Local().Date()
	return ay == by && am == bm && ad == bd
}

// DayStart truncates an instant to local midnight.
func DayStart(t time.Time) time.Time {
	y, m, d := t.Local().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.Local)
}

// DaysBetween returns the number of whole calendar days from a to b
// (negative when b precedes a). Both are truncated to local midnight
// first, so DST shifts cannot skew the count.
func DaysBetween(a, b time.Time) int {
	sa, sb := DayStart(a), DayStart(b)
	return int(math.Round(sb.Sub(sa).Hours() / 24))
}
