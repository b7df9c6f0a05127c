// Package timeslot buckets times of day into named slots derived from a
// configurable list of boundaries. Every other component that deals with
// slot keys goes through a Bucketer; the bucketer itself is a pure,
// deterministic leaf with no state beyond its boundary list.
package timeslot

import (
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/daymark/daymark/internal/task"
)

// Boundary is one time-of-day division point.
type Boundary struct {
	Hour   int
	Minute int
}

func (b Boundary) minutes() int { return b.Hour*60 + b.Minute }

// String renders the boundary the way slot keys do: hour unpadded,
// minute zero-padded ("8:00", "16:30").
func (b Boundary) String() string {
	return fmt.Sprintf("%d:%02d", b.Hour, b.Minute)
}

// DefaultBoundaries is the built-in fallback used when a configured
// boundary list is malformed.
var DefaultBoundaries = []Boundary{
	{Hour: 0, Minute: 0},
	{Hour: 8, Minute: 0},
	{Hour: 12, Minute: 0},
	{Hour: 16, Minute: 0},
}

// Bucketer derives slot keys from an ordered boundary list. Each key
// pairs boundary i with boundary i+1, the last wrapping back to
// boundary 0 ("16:00-0:00").
type Bucketer struct {
	boundaries []Boundary
	keys       []string
}

// New builds a Bucketer from the given boundaries. The list must start
// at 00:00, contain at least two entries, and be strictly ascending;
// anything else falls back to DefaultBoundaries (logged, not an error).
func New(boundaries []Boundary) *Bucketer {
	if !validBoundaries(boundaries) {
		slog.Warn("invalid slot boundaries, using defaults", "boundaries", fmt.Sprint(boundaries))
		boundaries = DefaultBoundaries
	}
	keys := make([]string, len(boundaries))
	for i, b := range boundaries {
		next := boundaries[(i+1)%len(boundaries)]
		keys[i] = b.String() + "-" + next.String()
	}
	return &Bucketer{boundaries: boundaries, keys: keys}
}

// Default returns a Bucketer over DefaultBoundaries.
func Default() *Bucketer {
	return New(DefaultBoundaries)
}

func validBoundaries(bs []Boundary) bool {
	if len(bs) < 2 {
		return false
	}
	if bs[0].Hour != 0 || bs[0].Minute != 0 {
		return false
	}
	for i, b := range bs {
		if b.Hour < 0 || b.Hour > 23 || b.Minute < 0 || b.Minute > 59 {
			return false
		}
		if i > 0 && b.minutes() <= bs[i-1].minutes() {
			return false
		}
	}
	return true
}

// Keys returns the slot keys in boundary order. The "none" bucket is
// not included; callers render it as an explicit first group.
func (b *Bucketer) Keys() []string {
	out := make([]string, len(b.keys))
	copy(out, b.keys)
	return out
}

// First returns the first slot key (the one starting at 00:00).
func (b *Bucketer) First() string {
	return b.keys[0]
}

// SlotFor returns the slot whose start boundary is the greatest one at
// or before the given time of day.
//
// Accepted formats: "H:MM", "HH:MM", "HH:MM:SS", "HH:MM:SS.sss" (an
// appended zone designator is stripped and the value treated as local
// wall clock), or a full RFC 3339 instant (converted to local wall
// clock first). Invalid input returns the first slot.
func (b *Bucketer) SlotFor(text string) string {
	mins, ok := wallClockMinutes(text)
	if !ok {
		return b.keys[0]
	}
	return b.slotAtMinutes(mins)
}

// SlotForTime buckets an instant using its local wall-clock time.
func (b *Bucketer) SlotForTime(t time.Time) string {
	lt := t.Local()
	return b.slotAtMinutes(lt.Hour()*60 + lt.Minute())
}

func (b *Bucketer) slotAtMinutes(mins int) string {
	idx := 0
	for i, bd := range b.boundaries {
		if bd.minutes() <= mins {
			idx = i
		}
	}
	return b.keys[idx]
}

// SlotEnd returns the local instant on the given day at which the slot
// stops accepting the current time, and ok=false for "none" or unknown
// keys. The last slot ends at midnight of the next day.
func (b *Bucketer) SlotEnd(day time.Time, key string) (time.Time, bool) {
	for i, k := range b.keys {
		if k != key {
			continue
		}
		start := task.DayStart(day)
		if i == len(b.keys)-1 {
			return start.AddDate(0, 0, 1), true
		}
		end := b.boundaries[i+1]
		return start.Add(time.Duration(end.minutes()) * time.Minute), true
	}
	return time.Time{}, false
}

// Migrate re-buckets an old slot key after a boundary configuration
// change, using the start time encoded in the old key. Keys that do not
// look like slot keys (including "none") are returned unchanged.
func (b *Bucketer) Migrate(oldKey string) string {
	start, _, found := strings.Cut(oldKey, "-")
	if !found {
		return oldKey
	}
	mins, ok := wallClockMinutes(start)
	if !ok {
		return oldKey
	}
	return b.slotAtMinutes(mins)
}

// MigrateOrderKey applies Migrate to the slot suffix of a composite
// "<owner>::<slot>" order key.
func (b *Bucketer) MigrateOrderKey(orderKey string) string {
	owner, slot, found := strings.Cut(orderKey, "::")
	if !found {
		return orderKey
	}
	return owner + "::" + b.Migrate(slot)
}

// IsValid reports whether key is one of this bucketer's slot keys.
// task.NoSlot is always valid.
func (b *Bucketer) IsValid(key string) bool {
	if key == task.NoSlot {
		return true
	}
	for _, k := range b.keys {
		if k == key {
			return true
		}
	}
	return false
}

var clockRe = regexp.MustCompile(`^(\d{1,2}):(\d{2})(?::(\d{2})(?:\.\d+)?)?$`)

// wallClockMinutes parses the flexible textual time formats into
// minutes since local midnight.
func wallClockMinutes(text string) (int, bool) {
	s := strings.TrimSpace(text)
	if s == "" {
		return 0, false
	}

	// Full instants carry a date part: convert to local wall clock.
	if strings.ContainsAny(s, "T ") && len(s) > 10 {
		if t, err := time.Parse(time.RFC3339, strings.Replace(s, " ", "T", 1)); err == nil {
			lt := t.Local()
			return lt.Hour()*60 + lt.Minute(), true
		}
	}

	// Bare clock values may carry a zone suffix; strip it and treat the
	// remainder as local wall clock.
	s = stripZone(s)

	m := clockRe.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	hour, _ := strconv.Atoi(m[1])
	minute, _ := strconv.Atoi(m[2])
	if hour > 23 || minute > 59 {
		return 0, false
	}
	return hour*60 + minute, true
}

// stripZone removes a trailing "Z" or "+hh:mm"/"-hh:mm" designator from
// a bare clock value.
func stripZone(s string) string {
	s = strings.TrimSuffix(s, "Z")
	for _, sep := range []string{"+", "-"} {
		// A zone sign can only follow a seconds field ("HH:MM:SS±hh:mm").
		if i := strings.LastIndex(s, sep); i >= 7 {
			return s[:i]
		}
	}
	return s
}
