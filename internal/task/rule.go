package task

import "time"

// RuleKind selects the recurrence cadence.
type RuleKind string

const (
	Daily   RuleKind = "daily"
	Weekly  RuleKind = "weekly"
	Monthly RuleKind = "monthly"
)

// WeekLast selects the last occurrence of a weekday in the month.
// Regular occurrences are 1..5.
const WeekLast = -1

// Rule is a recurrence rule. It is immutable once parsed for a given
// due-check; malformed fields are coerced to safe defaults by
// Normalize rather than rejected, so evaluation never fails.
type Rule struct {
	Kind     RuleKind `json:"kind"`
	Interval int      `json:"interval"`
	Enabled  bool     `json:"enabled"`

	// Start and End are inclusive date bounds. Nil means unbounded.
	Start *time.Time `json:"start,omitempty"`
	End   *time.Time `json:"end,omitempty"`

	// Weekly: Weekdays wins over Weekday when non-empty.
	Weekday  *time.Weekday  `json:"weekday,omitempty"`
	Weekdays []time.Weekday `json:"weekdays,omitempty"`

	// Monthly: Weeks holds 1..5 or WeekLast; MonthWeekdays wins over
	// MonthWeekday when non-empty.
	Week          *int           `json:"week,omitempty"`
	Weeks         []int          `json:"weeks,omitempty"`
	MonthWeekday  *time.Weekday  `json:"month_weekday,omitempty"`
	MonthWeekdays []time.Weekday `json:"month_weekdays,omitempty"`
}

// Normalize coerces malformed fields to safe defaults: interval floors
// at 1, out-of-range weekdays and week numbers are dropped. The returned
// rule is what the evaluator actually consumes.
func (r Rule) Normalize() Rule {
	if r.Interval < 1 {
		r.Interval = 1
	}
	if r.Weekday != nil && !validWeekday(*r.Weekday) {
		r.Weekday = nil
	}
	r.Weekdays = filterWeekdays(r.Weekdays)
	if r.Week != nil && !validWeek(*r.Week) {
		r.Week = nil
	}
	r.Weeks = filterWeeks(r.Weeks)
	if r.MonthWeekday != nil && !validWeekday(*r.MonthWeekday) {
		r.MonthWeekday = nil
	}
	r.MonthWeekdays = filterWeekdays(r.MonthWeekdays)
	return r
}

// WeekdaySet resolves the effective weekday set for a weekly rule: the
// set when non-empty, else the single weekday, else nil.
func (r Rule) WeekdaySet() []time.Weekday {
	if len(r.Weekdays) > 0 {
		return r.Weekdays
	}
	if r.Weekday != nil {
		return []time.Weekday{*r.Weekday}
	}
	return nil
}

// WeekSet resolves the effective week-number set for a monthly rule.
func (r Rule) WeekSet() []int {
	if len(r.Weeks) > 0 {
		return r.Weeks
	}
	if r.Week != nil {
		return []int{*r.Week}
	}
	return nil
}

// MonthWeekdaySet resolves the effective weekday set for a monthly rule.
func (r Rule) MonthWeekdaySet() []time.Weekday {
	if len(r.MonthWeekdays) > 0 {
		return r.MonthWeekdays
	}
	if r.MonthWeekday != nil {
		return []time.Weekday{*r.MonthWeekday}
	}
	return nil
}

func validWeekday(w time.Weekday) bool {
	return w >= time.Sunday && w <= time.Saturday
}

func validWeek(w int) bool {
	return w == WeekLast || (w >= 1 && w <= 5)
}

func filterWeekdays(in []time.Weekday) []time.Weekday {
	if len(in) == 0 {
		return nil
	}
	out := in[:0:0]
	for _, w := range in {
		if validWeekday(w) {
			out = append(out, w)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func filterWeeks(in []int) []int {
	if len(in) == 0 {
		return nil
	}
	out := in[:0:0]
	for _, w := range in {
		if validWeek(w) {
			out = append(out, w)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
