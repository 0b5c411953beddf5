package recurrence

import "time"

// Expand generates every date in [from, to] (inclusive) on which the rule
// occurs, ascending. A nil rule (one-off chore) or a paused chore yields
// nothing. The scan is clamped to [max(rule.Start, from), min(rule.Until, to)].
//
// The scan is deliberately day-by-day rather than closed-form: interval and
// monthly rules have no trivial jump once window clamping and short months
// are accounted for, and windows are at most a few hundred days.
func Expand(rule *Rule, paused bool, from, to time.Time) []time.Time {
	if rule == nil || paused {
		return nil
	}

	from = dateOnly(from)
	to = dateOnly(to)
	start := dateOnly(rule.Start)

	cursor := from
	if start.After(cursor) {
		cursor = start
	}

	end := to
	if rule.Until != nil {
		if until := dateOnly(*rule.Until); until.Before(end) {
			end = until
		}
	}

	var dates []time.Time
	for !cursor.After(end) {
		if matches(rule, cursor) {
			dates = append(dates, cursor)
		}
		cursor = cursor.AddDate(0, 0, 1)
	}
	return dates
}

// OccursOn reports whether the rule occurs on the given date. It agrees with
// Expand: for any from <= date <= to, OccursOn is true exactly when Expand
// includes the date.
func OccursOn(rule *Rule, paused bool, date time.Time) bool {
	if rule == nil || paused {
		return false
	}

	date = dateOnly(date)
	if date.Before(dateOnly(rule.Start)) {
		return false
	}
	if rule.Until != nil && date.After(dateOnly(*rule.Until)) {
		return false
	}
	return matches(rule, date)
}

// matches evaluates a single date against the rule's kind. Out-of-range
// field values fail closed: the rule simply never matches.
func matches(rule *Rule, date time.Time) bool {
	switch rule.Kind {
	case Daily:
		return true

	case Weekly:
		for _, d := range rule.ByDay {
			if date.Weekday() == d {
				return true
			}
		}
		return false

	case Monthly:
		// Exact match only: day 31 never fires in a 30-day month,
		// no clamping to month end.
		if rule.ByMonthDay < 1 || rule.ByMonthDay > 31 {
			return false
		}
		return date.Day() == rule.ByMonthDay

	case Interval:
		if rule.Every < 1 {
			return false
		}
		diff := daysBetween(dateOnly(rule.Start), date)
		return diff >= 0 && diff%rule.Every == 0
	}

	// Unknown kind matches nothing.
	return false
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func daysBetween(a, b time.Time) int {
	return int(b.Sub(a) / (24 * time.Hour))
}
