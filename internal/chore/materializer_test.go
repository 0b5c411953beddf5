package chore

import (
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/mdelaney/choreplan/internal/database"
	"github.com/mdelaney/choreplan/internal/model"
	"github.com/mdelaney/choreplan/internal/recurrence"
	"github.com/mdelaney/choreplan/internal/store"
)

// fixedNow keeps materialization windows deterministic: "today" is
// 2024-01-01, a Monday.
var fixedNow = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

func setupMaterializer(t *testing.T) (*Materializer, *store.OccurrenceStore) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cs := store.NewChoreStore(db)
	os := store.NewOccurrenceStore(db)
	m := NewMaterializer(cs, os, slog.Default())
	m.now = func() time.Time { return fixedNow }
	if err := m.Load(); err != nil {
		t.Fatalf("load: %v", err)
	}
	return m, os
}

func mustRule(t *testing.T, s string) *recurrence.Rule {
	t.Helper()
	r, err := recurrence.Parse(s)
	if err != nil {
		t.Fatalf("parse rule %q: %v", s, err)
	}
	return r
}

func occurrenceDates(t *testing.T, os *store.OccurrenceStore, choreID int64) []string {
	t.Helper()
	occs, err := os.ListByChore(choreID)
	if err != nil {
		t.Fatalf("list occurrences: %v", err)
	}
	var dates []string
	for _, o := range occs {
		dates = append(dates, o.Date)
	}
	return dates
}

func TestAddRecurringChoreMaterializesWindow(t *testing.T) {
	m, os := setupMaterializer(t)

	c, err := m.AddChore("Dishes", "", nil, nil, mustRule(t, "KIND=DAILY;START=2024-01-01"), nil, "")
	if err != nil {
		t.Fatalf("add chore: %v", err)
	}

	dates := occurrenceDates(t, os, c.ID)
	// [today, today+60] inclusive.
	if len(dates) != 61 {
		t.Fatalf("expected 61 occurrences, got %d", len(dates))
	}
	if dates[0] != "2024-01-01" || dates[60] != "2024-03-01" {
		t.Errorf("window = [%s, %s], want [2024-01-01, 2024-03-01]", dates[0], dates[60])
	}
}

func TestGenerateForIdempotent(t *testing.T) {
	m, os := setupMaterializer(t)

	c, _ := m.AddChore("Laundry", "", nil, nil, mustRule(t, "KIND=INTERVAL;EVERY=3;START=2024-01-01"), nil, "")

	first := occurrenceDates(t, os, c.ID)
	if err := m.GenerateFor(c.ID, time.Time{}, time.Time{}); err != nil {
		t.Fatalf("second generate: %v", err)
	}
	second := occurrenceDates(t, os, c.ID)

	if len(first) != len(second) {
		t.Fatalf("occurrence count changed: %d -> %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Errorf("dates[%d] changed: %s -> %s", i, first[i], second[i])
		}
	}
}

func TestGenerateAllIdempotent(t *testing.T) {
	m, os := setupMaterializer(t)

	a, _ := m.AddChore("A", "", nil, nil, mustRule(t, "KIND=DAILY;START=2024-01-01"), nil, "")
	b, _ := m.AddChore("B", "", nil, nil, mustRule(t, "KIND=WEEKLY;BYDAY=MO;START=2024-01-01"), nil, "")

	if err := m.GenerateAll(0); err != nil {
		t.Fatalf("generate all: %v", err)
	}
	countA := len(occurrenceDates(t, os, a.ID))
	countB := len(occurrenceDates(t, os, b.ID))

	if err := m.GenerateAll(0); err != nil {
		t.Fatalf("generate all again: %v", err)
	}
	if got := len(occurrenceDates(t, os, a.ID)); got != countA {
		t.Errorf("chore A count changed: %d -> %d", countA, got)
	}
	if got := len(occurrenceDates(t, os, b.ID)); got != countB {
		t.Errorf("chore B count changed: %d -> %d", countB, got)
	}
}

func TestGenerateAllAdoptsStoreRows(t *testing.T) {
	m, os := setupMaterializer(t)

	c, _ := m.AddChore("Plants", "", nil, nil, mustRule(t, "KIND=DAILY;START=2024-01-01"), nil, "")

	// Simulate a cold cache over a warm store.
	if err := m.Load(); err != nil {
		t.Fatalf("reload: %v", err)
	}
	before := len(occurrenceDates(t, os, c.ID))

	if err := m.GenerateAll(0); err != nil {
		t.Fatalf("generate all: %v", err)
	}
	if got := len(occurrenceDates(t, os, c.ID)); got != before {
		t.Errorf("reloaded generate created rows: %d -> %d", before, got)
	}
}

func TestOneOffSingleMaterialization(t *testing.T) {
	m, os := setupMaterializer(t)

	c, err := m.AddChore("Renew passport", "", nil, nil, nil, nil, "2024-01-15")
	if err != nil {
		t.Fatalf("add one-off: %v", err)
	}

	dates := occurrenceDates(t, os, c.ID)
	if len(dates) != 1 || dates[0] != "2024-01-15" {
		t.Fatalf("one-off dates = %v, want [2024-01-15]", dates)
	}

	// Repeat generation must not add a second occurrence.
	if err := m.GenerateFor(c.ID, time.Time{}, time.Time{}); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if got := occurrenceDates(t, os, c.ID); len(got) != 1 {
		t.Fatalf("expected 1 occurrence, got %v", got)
	}

	// Even after the user moves the occurrence, no new one appears.
	occs, _ := os.ListByChore(c.ID)
	newDate := "2024-02-20"
	if _, err := m.EditOccurrence(occs[0].ID, &newDate, nil); err != nil {
		t.Fatalf("edit occurrence: %v", err)
	}
	if err := m.GenerateFor(c.ID, time.Time{}, time.Time{}); err != nil {
		t.Fatalf("generate after move: %v", err)
	}
	if got := occurrenceDates(t, os, c.ID); len(got) != 1 || got[0] != "2024-02-20" {
		t.Fatalf("expected single moved occurrence, got %v", got)
	}

	// And the same holds across a process restart (cold cache).
	if err := m.Load(); err != nil {
		t.Fatalf("reload: %v", err)
	}
	if err := m.GenerateAll(0); err != nil {
		t.Fatalf("generate all: %v", err)
	}
	if got := occurrenceDates(t, os, c.ID); len(got) != 1 {
		t.Fatalf("expected 1 occurrence after reload, got %v", got)
	}
}

func TestSetStatus(t *testing.T) {
	m, _ := setupMaterializer(t)

	c, _ := m.AddChore("Trash", "", nil, nil, mustRule(t, "KIND=DAILY;START=2024-01-01"), nil, "")
	occ := m.OccurrencesOn("2024-01-01")[0]
	if occ.ChoreID != c.ID {
		t.Fatalf("unexpected occurrence %+v", occ)
	}

	done, err := m.SetStatus(occ.ID, model.StatusDone)
	if err != nil {
		t.Fatalf("set done: %v", err)
	}
	if done.Status != model.StatusDone {
		t.Errorf("status = %q, want done", done.Status)
	}
	if done.CompletedAt == nil || !done.CompletedAt.Equal(fixedNow) {
		t.Errorf("completed_at = %v, want %v", done.CompletedAt, fixedNow)
	}

	// Any non-done target clears the completion stamp.
	pending, err := m.SetStatus(occ.ID, model.StatusPending)
	if err != nil {
		t.Fatalf("set pending: %v", err)
	}
	if pending.CompletedAt != nil {
		t.Error("completed_at should be cleared")
	}

	if _, err := m.SetStatus(occ.ID, "snoozed"); !errors.Is(err, ErrInvalidStatus) {
		t.Errorf("invalid status error = %v, want ErrInvalidStatus", err)
	}
	if _, err := m.SetStatus(99999, model.StatusDone); !errors.Is(err, ErrOccurrenceNotFound) {
		t.Errorf("unknown id error = %v, want ErrOccurrenceNotFound", err)
	}
}

func TestEditOccurrenceSetsOverridden(t *testing.T) {
	m, os := setupMaterializer(t)

	m.AddChore("Mop", "", nil, nil, mustRule(t, "KIND=DAILY;START=2024-01-01"), nil, "")
	occ := m.OccurrencesOn("2024-01-02")[0]

	slot := "18:00"
	edited, err := m.EditOccurrence(occ.ID, nil, &slot)
	if err != nil {
		t.Fatalf("edit: %v", err)
	}
	if !edited.Overridden {
		t.Error("edited occurrence should be overridden")
	}
	if edited.TimeSlot == nil || *edited.TimeSlot != "18:00" {
		t.Errorf("time slot = %v, want 18:00", edited.TimeSlot)
	}
	if edited.Date != "2024-01-02" {
		t.Errorf("date changed unexpectedly to %s", edited.Date)
	}

	// Persisted too.
	stored, _ := os.GetByID(occ.ID)
	if !stored.Overridden {
		t.Error("override flag not persisted")
	}
}

func TestEditTemplateForwardScenario(t *testing.T) {
	m, os := setupMaterializer(t)

	// Daily chore with occurrences 01-01..01-10.
	c, _ := m.AddChore("Tidy desk", "", nil, nil,
		mustRule(t, "KIND=DAILY;START=2024-01-01;UNTIL=2024-01-10"), nil, "")

	dates := occurrenceDates(t, os, c.ID)
	if len(dates) != 10 {
		t.Fatalf("expected 10 occurrences, got %d", len(dates))
	}

	// Mark 01-01 done so we can verify history survives untouched.
	first := m.OccurrencesOn("2024-01-01")[0]
	if _, err := m.SetStatus(first.ID, model.StatusDone); err != nil {
		t.Fatalf("set done: %v", err)
	}

	// Override 01-05 with a custom time.
	fifth := m.OccurrencesOn("2024-01-05")[0]
	slot := "07:15"
	if _, err := m.EditOccurrence(fifth.ID, nil, &slot); err != nil {
		t.Fatalf("override: %v", err)
	}

	// Edit all future instances from 01-03.
	updated, err := m.EditTemplateForward(c.ID, "Tidy desk properly", "", nil, nil,
		mustRule(t, "KIND=DAILY;START=2024-01-01;UNTIL=2024-01-10"), nil, "2024-01-03")
	if err != nil {
		t.Fatalf("edit template forward: %v", err)
	}
	if updated.Title != "Tidy desk properly" {
		t.Errorf("title = %q", updated.Title)
	}

	occs, _ := os.ListByChore(c.ID)
	if len(occs) != 10 {
		t.Fatalf("expected 10 occurrences after regeneration, got %d", len(occs))
	}

	byDate := make(map[string]model.Occurrence, len(occs))
	for _, o := range occs {
		byDate[o.Date] = o
	}

	// 01-01 and 01-02 are untouched history.
	if byDate["2024-01-01"].ID != first.ID || byDate["2024-01-01"].Status != model.StatusDone {
		t.Error("2024-01-01 should be preserved as done")
	}

	// 01-05 kept its identity and its overridden time.
	kept := byDate["2024-01-05"]
	if kept.ID != fifth.ID || !kept.Overridden || kept.TimeSlot == nil || *kept.TimeSlot != "07:15" {
		t.Errorf("2024-01-05 not preserved: %+v", kept)
	}

	// 01-03, 01-04, 01-06..01-10 were replaced with fresh pending rows.
	for _, d := range []string{"2024-01-03", "2024-01-04", "2024-01-06", "2024-01-07", "2024-01-08", "2024-01-09", "2024-01-10"} {
		o, ok := byDate[d]
		if !ok {
			t.Errorf("missing regenerated occurrence on %s", d)
			continue
		}
		if o.Overridden || o.Status != model.StatusPending {
			t.Errorf("regenerated %s should be fresh pending: %+v", d, o)
		}
	}
}

func TestEditTemplateForwardShrinksSchedule(t *testing.T) {
	m, os := setupMaterializer(t)

	c, _ := m.AddChore("Gym", "", nil, nil,
		mustRule(t, "KIND=DAILY;START=2024-01-01;UNTIL=2024-01-10"), nil, "")

	// Switch to Mondays only, from 01-03 forward. Jan 1 and Jan 8 2024 are
	// Mondays.
	if _, err := m.EditTemplateForward(c.ID, "Gym", "", nil, nil,
		mustRule(t, "KIND=WEEKLY;BYDAY=MO;START=2024-01-01;UNTIL=2024-01-10"), nil, "2024-01-03"); err != nil {
		t.Fatalf("edit template forward: %v", err)
	}

	dates := occurrenceDates(t, os, c.ID)
	want := []string{"2024-01-01", "2024-01-02", "2024-01-08"}
	if len(dates) != len(want) {
		t.Fatalf("dates = %v, want %v", dates, want)
	}
	for i := range want {
		if dates[i] != want[i] {
			t.Errorf("dates[%d] = %s, want %s", i, dates[i], want[i])
		}
	}
}

func TestDeleteChoreCascades(t *testing.T) {
	m, os := setupMaterializer(t)

	c, _ := m.AddChore("Old chore", "", nil, nil, mustRule(t, "KIND=DAILY;START=2024-01-01"), nil, "")
	if err := m.DeleteChore(c.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}

	if got := occurrenceDates(t, os, c.ID); len(got) != 0 {
		t.Errorf("expected no occurrences, got %v", got)
	}
	if m.ChoreByID(c.ID) != nil {
		t.Error("chore still in cache")
	}
	if got := m.OccurrencesInRange("2024-01-01", "2024-03-01"); len(got) != 0 {
		t.Errorf("cache still holds %d occurrences", len(got))
	}

	if err := m.DeleteChore(c.ID); !errors.Is(err, ErrChoreNotFound) {
		t.Errorf("second delete = %v, want ErrChoreNotFound", err)
	}
}

func TestPausedChoreGeneratesNothing(t *testing.T) {
	m, os := setupMaterializer(t)

	c, _ := m.AddChore("Seasonal", "", nil, nil, mustRule(t, "KIND=DAILY;START=2024-01-01"), nil, "")
	if _, err := m.TogglePause(c.ID); err != nil {
		t.Fatalf("pause: %v", err)
	}

	// Future regeneration adds nothing while paused.
	if _, err := m.EditTemplateForward(c.ID, "Seasonal", "", nil, nil,
		mustRule(t, "KIND=DAILY;START=2024-01-01"), nil, "2024-01-01"); err != nil {
		t.Fatalf("edit forward: %v", err)
	}
	if got := occurrenceDates(t, os, c.ID); len(got) != 0 {
		t.Errorf("paused chore regenerated %d occurrences", len(got))
	}

	// Resume and regenerate.
	if _, err := m.TogglePause(c.ID); err != nil {
		t.Fatalf("resume: %v", err)
	}
	if err := m.GenerateFor(c.ID, time.Time{}, time.Time{}); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if got := occurrenceDates(t, os, c.ID); len(got) == 0 {
		t.Error("resumed chore generated nothing")
	}
}

func TestIsOverdue(t *testing.T) {
	m, _ := setupMaterializer(t)

	slotPast := "08:00"  // fixedNow is 09:00 UTC
	slotLater := "10:00"

	tests := []struct {
		name string
		occ  model.Occurrence
		want bool
	}{
		{"past date pending", model.Occurrence{Date: "2023-12-31", Status: model.StatusPending}, true},
		{"past date done", model.Occurrence{Date: "2023-12-31", Status: model.StatusDone}, false},
		{"today no slot", model.Occurrence{Date: "2024-01-01", Status: model.StatusPending}, false},
		{"today slot passed", model.Occurrence{Date: "2024-01-01", Status: model.StatusPending, TimeSlot: &slotPast}, true},
		{"today slot ahead", model.Occurrence{Date: "2024-01-01", Status: model.StatusPending, TimeSlot: &slotLater}, false},
		{"future", model.Occurrence{Date: "2024-01-02", Status: model.StatusPending}, false},
		{"skipped never overdue", model.Occurrence{Date: "2023-01-01", Status: model.StatusSkipped}, false},
	}

	for _, tt := range tests {
		if got := m.IsOverdue(tt.occ); got != tt.want {
			t.Errorf("%s: IsOverdue = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestGenerateForUnknownChore(t *testing.T) {
	m, _ := setupMaterializer(t)

	if err := m.GenerateFor(424242, time.Time{}, time.Time{}); !errors.Is(err, ErrChoreNotFound) {
		t.Errorf("err = %v, want ErrChoreNotFound", err)
	}
}
