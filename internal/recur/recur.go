// Package recur decides whether a recurrence rule is due on a calendar
// date. IsDue is a pure predicate over immutable inputs: no I/O, no
// clock access, and no failure mode; malformed rules degrade to "not
// due" instead of erroring.
package recur

import (
	"time"

	"github.com/daymark/daymark/internal/task"
)

// epochWeekStart anchors weekly rules that have no start date. It is a
// Sunday, so week arithmetic stays aligned with start-of-week anchors.
var epochWeekStart = time.Date(2000, 1, 2, 0, 0, 0, 0, time.Local)

// IsDue reports whether a rule is due on the given date.
//
// moved is a legacy one-off override of the rule's anchor: dates before
// it are snoozed, the moved date itself is forced due, and later dates
// fall through to normal evaluation.
func IsDue(date time.Time, rule task.Rule, moved *time.Time) bool {
	rule = rule.Normalize()
	if !rule.Enabled {
		return false
	}

	day := task.DayStart(date)

	if moved != nil {
		target := task.DayStart(*moved)
		switch {
		case day.Before(target):
			return false
		case day.Equal(target):
			return true
		}
		// Past the override: normal evaluation resumes.
	}

	if rule.Start != nil && day.Before(task.DayStart(*rule.Start)) {
		return false
	}
	if rule.End != nil && day.After(task.DayStart(*rule.End)) {
		return false
	}

	switch rule.Kind {
	case task.Daily:
		return dailyDue(day, rule)
	case task.Weekly:
		return weeklyDue(day, rule)
	case task.Monthly:
		return monthlyDue(day, rule)
	default:
		return false
	}
}

// dailyDue: with no anchor only an every-day cadence can be satisfied;
// with an anchor the day offset must land on the interval.
func dailyDue(day time.Time, rule task.Rule) bool {
	if rule.Start == nil {
		return rule.Interval == 1
	}
	days := task.DaysBetween(*rule.Start, day)
	return days >= 0 && days%rule.Interval == 0
}

func weeklyDue(day time.Time, rule task.Rule) bool {
	set := rule.WeekdaySet()
	if len(set) == 0 {
		// No weekday constraint recorded: fall back to the start date's
		// weekday when one exists, otherwise degrade to not due.
		if rule.Start == nil {
			return false
		}
		set = []time.Weekday{rule.Start.Local().Weekday()}
	}
	if !containsWeekday(set, day.Weekday()) {
		return false
	}

	anchor := epochWeekStart
	if rule.Start != nil {
		anchor = weekStart(*rule.Start)
	}
	weeks := task.DaysBetween(anchor, weekStart(day)) / 7
	return weeks >= 0 && weeks%rule.Interval == 0
}

func monthlyDue(day time.Time, rule task.Rule) bool {
	set := rule.MonthWeekdaySet()
	if len(set) > 0 && !containsWeekday(set, day.Weekday()) {
		return false
	}

	if rule.Interval > 1 {
		if rule.Start == nil {
			return false
		}
		months := monthsBetween(*rule.Start, day)
		if months < 0 || months%rule.Interval != 0 {
			return false
		}
	}

	weekSet := rule.WeekSet()
	if len(weekSet) == 0 {
		// No week constraint: any qualifying weekday in the month.
		return true
	}

	// occurrence is the 1-based Nth occurrence of this weekday in the
	// month; the last occurrence is the one with no same-weekday seven
	// days later in the same month.
	occurrence := 1 + (day.Day()-1)/7
	isLast := day.AddDate(0, 0, 7).Month() != day.Month()

	for _, w := range weekSet {
		if w == occurrence {
			return true
		}
		if w == task.WeekLast && isLast {
			return true
		}
	}
	return false
}

// weekStart returns the Sunday starting the week containing t.
func weekStart(t time.Time) time.Time {
	day := task.DayStart(t)
	return day.AddDate(0, 0, -int(day.Weekday()))
}

func monthsBetween(a, b time.Time) int {
	al, bl := a.Local(), b.Local()
	return (bl.Year()-al.Year())*12 + int(bl.Month()) - int(al.Month())
}

func containsWeekday(set []time.Weekday, w time.Weekday) bool {
	for _, s := range set {
		if s == w {
			return true
		}
	}
	return false
}
