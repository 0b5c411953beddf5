package recurrence

import (
	"testing"
	"time"
)

func dates(ts []time.Time) []string {
	var out []string
	for _, t := range ts {
		out = append(out, FormatDate(t))
	}
	return out
}

func assertDates(t *testing.T, got []time.Time, want ...string) {
	t.Helper()
	gotStr := dates(got)
	if len(gotStr) != len(want) {
		t.Fatalf("got %d dates %v, want %d %v", len(gotStr), gotStr, len(want), want)
	}
	for i := range want {
		if gotStr[i] != want[i] {
			t.Errorf("dates[%d] = %s, want %s", i, gotStr[i], want[i])
		}
	}
}

func TestExpandDaily(t *testing.T) {
	r, _ := Parse("KIND=DAILY;START=2024-01-01")
	got := Expand(r, false, date("2024-01-01"), date("2024-01-04"))
	assertDates(t, got, "2024-01-01", "2024-01-02", "2024-01-03", "2024-01-04")
}

func TestExpandWeekly(t *testing.T) {
	// Jan 1 2024 is a Monday.
	r := &Rule{
		Kind:  Weekly,
		ByDay: []time.Weekday{time.Monday, time.Wednesday, time.Friday},
		Start: date("2024-01-01"),
	}
	got := Expand(r, false, date("2024-01-01"), date("2024-01-07"))
	assertDates(t, got, "2024-01-01", "2024-01-03", "2024-01-05")
}

func TestExpandInterval(t *testing.T) {
	r, _ := Parse("KIND=INTERVAL;EVERY=3;START=2024-01-01")
	got := Expand(r, false, date("2024-01-01"), date("2024-01-10"))
	assertDates(t, got, "2024-01-01", "2024-01-04", "2024-01-07", "2024-01-10")
}

func TestExpandIntervalWindowOffset(t *testing.T) {
	// Window starts mid-cycle; only aligned days match.
	r, _ := Parse("KIND=INTERVAL;EVERY=3;START=2024-01-01")
	got := Expand(r, false, date("2024-01-02"), date("2024-01-08"))
	assertDates(t, got, "2024-01-04", "2024-01-07")
}

func TestExpandMonthly(t *testing.T) {
	r, _ := Parse("KIND=MONTHLY;BYMONTHDAY=15;START=2024-01-01")
	got := Expand(r, false, date("2024-01-01"), date("2024-03-31"))
	assertDates(t, got, "2024-01-15", "2024-02-15", "2024-03-15")
}

func TestExpandMonthlyNoClamp(t *testing.T) {
	// Day 31 must not roll over or clamp in shorter months.
	r, _ := Parse("KIND=MONTHLY;BYMONTHDAY=31;START=2024-01-01")

	got := Expand(r, false, date("2024-04-01"), date("2024-04-30"))
	assertDates(t, got)

	got = Expand(r, false, date("2024-01-01"), date("2024-05-31"))
	assertDates(t, got, "2024-01-31", "2024-03-31", "2024-05-31")
}

func TestExpandMonthlyFebruary(t *testing.T) {
	r, _ := Parse("KIND=MONTHLY;BYMONTHDAY=29;START=2024-01-01")
	// 2024 is a leap year; 2025 is not.
	got := Expand(r, false, date("2024-02-01"), date("2024-02-29"))
	assertDates(t, got, "2024-02-29")

	got = Expand(r, false, date("2025-02-01"), date("2025-02-28"))
	assertDates(t, got)
}

func TestExpandClampsToRuleStart(t *testing.T) {
	r, _ := Parse("KIND=DAILY;START=2024-01-05")
	got := Expand(r, false, date("2024-01-01"), date("2024-01-07"))
	assertDates(t, got, "2024-01-05", "2024-01-06", "2024-01-07")
}

func TestExpandClampsToRuleEnd(t *testing.T) {
	r, _ := Parse("KIND=DAILY;START=2024-01-01;UNTIL=2024-01-03")
	got := Expand(r, false, date("2024-01-01"), date("2024-01-10"))
	assertDates(t, got, "2024-01-01", "2024-01-02", "2024-01-03")
}

func TestExpandEmptyWindow(t *testing.T) {
	r, _ := Parse("KIND=DAILY;START=2024-01-01")

	// Start after end.
	if got := Expand(r, false, date("2024-01-10"), date("2024-01-05")); got != nil {
		t.Errorf("expected nil for inverted window, got %v", dates(got))
	}

	// Rule starts after the window.
	r2, _ := Parse("KIND=DAILY;START=2024-06-01")
	if got := Expand(r2, false, date("2024-01-01"), date("2024-01-31")); got != nil {
		t.Errorf("expected nil when rule starts after window, got %v", dates(got))
	}

	// Rule ended before the window.
	r3, _ := Parse("KIND=DAILY;START=2024-01-01;UNTIL=2024-01-31")
	if got := Expand(r3, false, date("2024-02-01"), date("2024-02-28")); got != nil {
		t.Errorf("expected nil when rule ended before window, got %v", dates(got))
	}
}

func TestExpandNilRuleAndPaused(t *testing.T) {
	if got := Expand(nil, false, date("2024-01-01"), date("2024-01-31")); got != nil {
		t.Errorf("nil rule should expand to nothing, got %v", dates(got))
	}

	r, _ := Parse("KIND=DAILY;START=2024-01-01")
	if got := Expand(r, true, date("2024-01-01"), date("2024-01-31")); got != nil {
		t.Errorf("paused chore should expand to nothing, got %v", dates(got))
	}
	if OccursOn(r, true, date("2024-01-01")) {
		t.Error("paused chore should never occur")
	}
	if OccursOn(nil, false, date("2024-01-01")) {
		t.Error("nil rule should never occur")
	}
}

func TestExpandFailsClosed(t *testing.T) {
	// Values the parser would reject, encountered at runtime, must match
	// nothing rather than panic.
	bad := []*Rule{
		{Kind: Kind(99), Start: date("2024-01-01")},
		{Kind: Monthly, ByMonthDay: 0, Start: date("2024-01-01")},
		{Kind: Monthly, ByMonthDay: 42, Start: date("2024-01-01")},
		{Kind: Interval, Every: 0, Start: date("2024-01-01")},
		{Kind: Interval, Every: -3, Start: date("2024-01-01")},
		{Kind: Weekly, Start: date("2024-01-01")},
	}

	for i, r := range bad {
		if got := Expand(r, false, date("2024-01-01"), date("2024-02-01")); got != nil {
			t.Errorf("bad rule %d expanded to %v, want nothing", i, dates(got))
		}
	}
}

func TestOccursOnAgreesWithExpand(t *testing.T) {
	rules := []string{
		"KIND=DAILY;START=2024-01-03;UNTIL=2024-02-10",
		"KIND=WEEKLY;BYDAY=SU,WE;START=2024-01-01",
		"KIND=MONTHLY;BYMONTHDAY=31;START=2024-01-01",
		"KIND=INTERVAL;EVERY=7;START=2024-01-04",
	}
	from, to := date("2024-01-01"), date("2024-03-15")

	for _, rs := range rules {
		r, err := Parse(rs)
		if err != nil {
			t.Fatalf("Parse(%q) error: %v", rs, err)
		}

		expanded := make(map[string]bool)
		for _, d := range Expand(r, false, from, to) {
			if d.Before(from) || d.After(to) {
				t.Errorf("%s: expanded date %s outside window", rs, FormatDate(d))
			}
			expanded[FormatDate(d)] = true
		}

		for d := from; !d.After(to); d = d.AddDate(0, 0, 1) {
			if OccursOn(r, false, d) != expanded[FormatDate(d)] {
				t.Errorf("%s: OccursOn(%s) = %v disagrees with Expand",
					rs, FormatDate(d), !expanded[FormatDate(d)])
			}
		}
	}
}
