package recurrence

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the calendar-date format used everywhere: in rule strings,
// occurrence records, and the export payload. Dates are plain calendar days,
// not instants; lexicographic order equals chronological order.
const DateLayout = "2006-01-02"

type Kind int

const (
	Daily Kind = iota
	Weekly
	Monthly
	Interval
)

var kindNames = map[Kind]string{
	Daily:    "DAILY",
	Weekly:   "WEEKLY",
	Monthly:  "MONTHLY",
	Interval: "INTERVAL",
}

var kindFromName = map[string]Kind{
	"DAILY":    Daily,
	"WEEKLY":   Weekly,
	"MONTHLY":  Monthly,
	"INTERVAL": Interval,
}

var jsonKindNames = map[Kind]string{
	Daily:    "daily",
	Weekly:   "weekly",
	Monthly:  "monthly",
	Interval: "interval",
}

var kindFromJSONName = map[string]Kind{
	"daily":    Daily,
	"weekly":   Weekly,
	"monthly":  Monthly,
	"interval": Interval,
}

var dayNames = map[string]time.Weekday{
	"SU": time.Sunday,
	"MO": time.Monday,
	"TU": time.Tuesday,
	"WE": time.Wednesday,
	"TH": time.Thursday,
	"FR": time.Friday,
	"SA": time.Saturday,
}

var dayAbbrev = map[time.Weekday]string{
	time.Sunday:    "SU",
	time.Monday:    "MO",
	time.Tuesday:   "TU",
	time.Wednesday: "WE",
	time.Thursday:  "TH",
	time.Friday:    "FR",
	time.Saturday:  "SA",
}

// Rule describes when a chore recurs.
//
// Only the fields relevant to Kind are meaningful: ByDay for Weekly,
// ByMonthDay for Monthly, Every for Interval. Start is the first possible
// occurrence date (inclusive); Until, when set, is the last (inclusive).
type Rule struct {
	Kind       Kind
	ByDay      []time.Weekday // for WEEKLY: which weekdays
	ByMonthDay int            // for MONTHLY: day of month 1–31
	Every      int            // for INTERVAL: every N days from Start
	Start      time.Time
	Until      *time.Time
}

// ParseDate parses a YYYY-MM-DD calendar date (UTC midnight).
func ParseDate(s string) (time.Time, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q", s)
	}
	return t, nil
}

// FormatDate renders a calendar date as YYYY-MM-DD.
func FormatDate(t time.Time) string {
	return t.Format(DateLayout)
}

// Parse parses a stored rule string like
// "KIND=WEEKLY;BYDAY=MO,WE;START=2024-01-01;UNTIL=2024-06-30".
func Parse(rule string) (*Rule, error) {
	if rule == "" {
		return nil, fmt.Errorf("empty rule")
	}

	r := &Rule{}
	var hasKind, hasStart bool

	for _, part := range strings.Split(rule, ";") {
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("invalid rule part: %q", part)
		}
		key, val := kv[0], kv[1]

		switch key {
		case "KIND":
			k, ok := kindFromName[val]
			if !ok {
				return nil, fmt.Errorf("unknown kind: %q", val)
			}
			r.Kind = k
			hasKind = true

		case "BYDAY":
			for _, d := range strings.Split(val, ",") {
				wd, ok := dayNames[strings.TrimSpace(d)]
				if !ok {
					return nil, fmt.Errorf("unknown day: %q", d)
				}
				r.ByDay = append(r.ByDay, wd)
			}

		case "BYMONTHDAY":
			n, err := strconv.Atoi(val)
			if err != nil || n < 1 || n > 31 {
				return nil, fmt.Errorf("invalid BYMONTHDAY: %q", val)
			}
			r.ByMonthDay = n

		case "EVERY":
			n, err := strconv.Atoi(val)
			if err != nil || n < 1 {
				return nil, fmt.Errorf("invalid EVERY: %q", val)
			}
			r.Every = n

		case "START":
			t, err := ParseDate(val)
			if err != nil {
				return nil, fmt.Errorf("invalid START: %q", val)
			}
			r.Start = t
			hasStart = true

		case "UNTIL":
			t, err := ParseDate(val)
			if err != nil {
				return nil, fmt.Errorf("invalid UNTIL: %q", val)
			}
			r.Until = &t

		default:
			return nil, fmt.Errorf("unsupported rule key: %q", key)
		}
	}

	if !hasKind {
		return nil, fmt.Errorf("KIND is required")
	}
	if !hasStart {
		return nil, fmt.Errorf("START is required")
	}

	switch r.Kind {
	case Weekly:
		if len(r.ByDay) == 0 {
			return nil, fmt.Errorf("WEEKLY requires BYDAY")
		}
	case Monthly:
		if r.ByMonthDay == 0 {
			return nil, fmt.Errorf("MONTHLY requires BYMONTHDAY")
		}
	case Interval:
		if r.Every == 0 {
			return nil, fmt.Errorf("INTERVAL requires EVERY")
		}
	}

	return r, nil
}

// String serializes the rule back to its stored form.
func (r *Rule) String() string {
	parts := []string{"KIND=" + kindNames[r.Kind]}

	if len(r.ByDay) > 0 {
		var days []string
		for _, d := range r.ByDay {
			days = append(days, dayAbbrev[d])
		}
		parts = append(parts, "BYDAY="+strings.Join(days, ","))
	}

	if r.ByMonthDay > 0 {
		parts = append(parts, fmt.Sprintf("BYMONTHDAY=%d", r.ByMonthDay))
	}

	if r.Every > 0 {
		parts = append(parts, fmt.Sprintf("EVERY=%d", r.Every))
	}

	parts = append(parts, "START="+FormatDate(r.Start))

	if r.Until != nil {
		parts = append(parts, "UNTIL="+FormatDate(*r.Until))
	}

	return strings.Join(parts, ";")
}

// Describe returns a human-readable description of the rule.
func (r *Rule) Describe() string {
	switch r.Kind {
	case Daily:
		return "Repeats daily"
	case Weekly:
		if len(r.ByDay) > 0 {
			var names []string
			for _, d := range r.ByDay {
				names = append(names, d.String()[:3])
			}
			return "Repeats weekly on " + strings.Join(names, ", ")
		}
		return "Repeats weekly"
	case Monthly:
		return fmt.Sprintf("Repeats monthly on day %d", r.ByMonthDay)
	case Interval:
		if r.Every == 1 {
			return "Repeats daily"
		}
		return fmt.Sprintf("Repeats every %d days", r.Every)
	}
	return ""
}

// ruleJSON is the wire shape used in the API and export payload. It matches
// the record shape the view layer and import/export round-trip.
type ruleJSON struct {
	Kind         string  `json:"kind"`
	DaysOfWeek   []int   `json:"daysOfWeek,omitempty"`
	DayOfMonth   int     `json:"dayOfMonth,omitempty"`
	IntervalDays int     `json:"intervalDays,omitempty"`
	StartDate    string  `json:"startDate"`
	EndDate      *string `json:"endDate,omitempty"`
}

func (r *Rule) MarshalJSON() ([]byte, error) {
	j := ruleJSON{
		Kind:         jsonKindNames[r.Kind],
		DayOfMonth:   r.ByMonthDay,
		IntervalDays: r.Every,
		StartDate:    FormatDate(r.Start),
	}
	for _, d := range r.ByDay {
		j.DaysOfWeek = append(j.DaysOfWeek, int(d))
	}
	if r.Until != nil {
		s := FormatDate(*r.Until)
		j.EndDate = &s
	}
	return json.Marshal(j)
}

func (r *Rule) UnmarshalJSON(data []byte) error {
	var j ruleJSON
	if err := json.Unmarshal(data, &j); err != nil {
		return err
	}

	k, ok := kindFromJSONName[j.Kind]
	if !ok {
		return fmt.Errorf("unknown recurrence kind: %q", j.Kind)
	}

	start, err := ParseDate(j.StartDate)
	if err != nil {
		return fmt.Errorf("invalid startDate: %q", j.StartDate)
	}

	*r = Rule{
		Kind:       k,
		ByMonthDay: j.DayOfMonth,
		Every:      j.IntervalDays,
		Start:      start,
	}
	for _, d := range j.DaysOfWeek {
		if d < 0 || d > 6 {
			return fmt.Errorf("invalid weekday ordinal: %d", d)
		}
		r.ByDay = append(r.ByDay, time.Weekday(d))
	}
	if j.EndDate != nil {
		until, err := ParseDate(*j.EndDate)
		if err != nil {
			return fmt.Errorf("invalid endDate: %q", *j.EndDate)
		}
		r.Until = &until
	}
	return nil
}
