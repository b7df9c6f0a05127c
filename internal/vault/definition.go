package vault

import (
	"time"

	"github.com/daymark/daymark/internal/task"
)

// DefinitionOf derives a task definition from a parsed note. Mapping is
// total: malformed recurrence fields survive as values the rule
// normalizer later coerces, so a broken note still yields a definition.
func DefinitionOf(n *Note) task.Definition {
	def := task.Definition{
		ID:           n.Meta.ID,
		Path:         n.Path,
		Name:         n.Name,
		DisplayTitle: n.Meta.Title,
		Routine:      n.Meta.Routine,
		Scheduled:    n.Meta.Scheduled,
		CreatedAt:    n.Created,
	}
	if n.Meta.Recurrence != nil {
		r := ruleOf(n.Meta.Recurrence)
		def.Rule = &r
		def.Routine = true
	}
	if n.Meta.Moved != "" {
		if t, err := time.ParseInLocation("2006-01-02", n.Meta.Moved, time.Local); err == nil {
			def.MovedTo = &t
		}
	}
	return def
}

func ruleOf(m *RuleMeta) task.Rule {
	r := task.Rule{
		Kind:     task.RuleKind(m.Kind),
		Interval: m.Interval,
		Enabled:  true,
	}
	if m.Enabled != nil {
		r.Enabled = *m.Enabled
	}
	if m.Interval == 0 {
		r.Interval = 1
	}
	if t, ok := parseDay(m.Start); ok {
		r.Start = &t
	}
	if t, ok := parseDay(m.End); ok {
		r.End = &t
	}
	if m.Weekday != nil {
		w := time.Weekday(*m.Weekday)
		r.Weekday = &w
	}
	for _, d := range m.Weekdays {
		r.Weekdays = append(r.Weekdays, time.Weekday(d))
	}
	if m.Week != nil {
		w := int(*m.Week)
		r.Week = &w
	}
	for _, w := range m.Weeks {
		r.Weeks = append(r.Weeks, int(w))
	}
	if m.MonthWeekday != nil {
		w := time.Weekday(*m.MonthWeekday)
		r.MonthWeekday = &w
	}
	for _, d := range m.MonthWeekdays {
		r.MonthWeekdays = append(r.MonthWeekdays, time.Weekday(d))
	}
	return r.Normalize()
}

func parseDay(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation("2006-01-02", s, time.Local)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
