package chore

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/mdelaney/choreplan/internal/model"
	"github.com/mdelaney/choreplan/internal/recurrence"
	"github.com/mdelaney/choreplan/internal/store"
)

// DefaultWindowDays is how far ahead occurrences are materialized when no
// explicit window is given.
const DefaultWindowDays = 60

var (
	ErrChoreNotFound      = errors.New("chore not found")
	ErrOccurrenceNotFound = errors.New("occurrence not found")
	ErrInvalidStatus      = errors.New("invalid occurrence status")
)

type occKey struct {
	choreID int64
	date    string
}

// Materializer turns recurrence rules into persisted occurrence records and
// keeps an in-memory mirror of the chore and occurrence tables.
//
// The cache is mutated only after the corresponding store write succeeded, so
// a store failure never leaves the cache ahead of the database. A single
// mutex serializes all operations: callers (HTTP handlers, the scheduler)
// run concurrently, and interleaved generate calls for the same chore could
// otherwise both observe "absent" before either writes. The unique
// (chore_id, date) index backs this up at the store layer.
type Materializer struct {
	mu     sync.Mutex
	chores *store.ChoreStore
	occs   *store.OccurrenceStore
	logger *slog.Logger
	now    func() time.Time

	choreCache  map[int64]*model.Chore
	occCache    map[int64]*model.Occurrence
	byChoreDate map[occKey]int64
}

func NewMaterializer(chores *store.ChoreStore, occs *store.OccurrenceStore, logger *slog.Logger) *Materializer {
	return &Materializer{
		chores:      chores,
		occs:        occs,
		logger:      logger,
		now:         time.Now,
		choreCache:  make(map[int64]*model.Chore),
		occCache:    make(map[int64]*model.Occurrence),
		byChoreDate: make(map[occKey]int64),
	}
}

// Load replaces the cache with the current store contents.
func (m *Materializer) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	chores, err := m.chores.List()
	if err != nil {
		return fmt.Errorf("load chores: %w", err)
	}
	occs, err := m.occs.List()
	if err != nil {
		return fmt.Errorf("load occurrences: %w", err)
	}

	m.choreCache = make(map[int64]*model.Chore, len(chores))
	for i := range chores {
		c := chores[i]
		m.choreCache[c.ID] = &c
	}

	m.occCache = make(map[int64]*model.Occurrence, len(occs))
	m.byChoreDate = make(map[occKey]int64, len(occs))
	for i := range occs {
		o := occs[i]
		m.occCache[o.ID] = &o
		m.byChoreDate[occKey{o.ChoreID, o.Date}] = o.ID
	}

	return nil
}

func (m *Materializer) today() time.Time {
	n := m.now().UTC()
	return time.Date(n.Year(), n.Month(), n.Day(), 0, 0, 0, 0, time.UTC)
}

// GenerateAll ensures occurrence records exist for every chore across
// [today, today+windowDays]. Idempotent: repeat calls create nothing new.
// A failure on one chore does not stop the others; errors are aggregated.
func (m *Materializer) GenerateAll(windowDays int) error {
	if windowDays <= 0 {
		windowDays = DefaultWindowDays
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	from := m.today()
	to := from.AddDate(0, 0, windowDays)

	ids := make([]int64, 0, len(m.choreCache))
	for id := range m.choreCache {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	var errs error
	for _, id := range ids {
		if err := m.generate(m.choreCache[id], from, to); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("chore %d: %w", id, err))
		}
	}
	return errs
}

// GenerateFor ensures occurrences exist for one chore. Zero from/to default
// to [today, today+60d].
func (m *Materializer) GenerateFor(choreID int64, from, to time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.choreCache[choreID]
	if !ok {
		return ErrChoreNotFound
	}
	return m.generate(c, from, to)
}

// generate is the per-chore materialization pass. Caller holds the lock.
func (m *Materializer) generate(c *model.Chore, from, to time.Time) error {
	if from.IsZero() {
		from = m.today()
	}
	if to.IsZero() {
		to = m.today().AddDate(0, 0, DefaultWindowDays)
	}

	if c.Recurrence == nil {
		return m.materializeOneOff(c, from)
	}

	for _, d := range recurrence.Expand(c.Recurrence, c.Paused, from, to) {
		if _, err := m.ensureOccurrence(c, recurrence.FormatDate(d)); err != nil {
			return err
		}
	}
	return nil
}

// materializeOneOff creates the single occurrence of a one-off chore, the
// first time the chore is seen without one. The in-memory mirror is checked
// first, then the store (the mirror may be a partial view after an earlier
// failure). Once any occurrence exists the chore is never materialized
// again, even if the user later moves that occurrence's date.
func (m *Materializer) materializeOneOff(c *model.Chore, date time.Time) error {
	for _, o := range m.occCache {
		if o.ChoreID == c.ID {
			return nil
		}
	}

	existing, err := m.occs.ListByChore(c.ID)
	if err != nil {
		return fmt.Errorf("check existing occurrences: %w", err)
	}
	if len(existing) > 0 {
		for i := range existing {
			m.adopt(&existing[i])
		}
		return nil
	}

	_, err = m.ensureOccurrence(c, recurrence.FormatDate(date))
	return err
}

// ensureOccurrence is the idempotent create primitive: cache, then store,
// then insert. A unique-constraint loss against a concurrent writer is
// resolved by adopting the winner's row. Caller holds the lock.
func (m *Materializer) ensureOccurrence(c *model.Chore, date string) (*model.Occurrence, error) {
	if id, ok := m.byChoreDate[occKey{c.ID, date}]; ok {
		return m.occCache[id], nil
	}

	existing, err := m.occs.GetByChoreAndDate(c.ID, date)
	if err != nil {
		return nil, fmt.Errorf("check occurrence: %w", err)
	}
	if existing != nil {
		m.adopt(existing)
		return existing, nil
	}

	created, err := m.occs.Create(c.ID, date, c.TimeSlot)
	if store.IsDuplicate(err) {
		created, err = m.occs.GetByChoreAndDate(c.ID, date)
	}
	if err != nil {
		return nil, fmt.Errorf("create occurrence: %w", err)
	}

	m.adopt(created)
	return created, nil
}

// adopt inserts a store-owned occurrence row into the cache.
func (m *Materializer) adopt(o *model.Occurrence) {
	if _, ok := m.occCache[o.ID]; ok {
		return
	}
	m.occCache[o.ID] = o
	m.byChoreDate[occKey{o.ChoreID, o.Date}] = o.ID
}

// AddChore creates a chore and materializes its occurrences. For a one-off
// chore (nil rule) the single occurrence lands on date, or today when date
// is empty.
func (m *Materializer) AddChore(title, description string, categoryID *int64, timeSlot *string, rule *recurrence.Rule, reminderMinutesBefore *int, date string) (*model.Chore, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, err := m.chores.Create(title, description, categoryID, timeSlot, rule, reminderMinutesBefore)
	if err != nil {
		return nil, err
	}
	m.choreCache[c.ID] = c

	if rule == nil {
		oneOffDate := m.today()
		if date != "" {
			d, err := recurrence.ParseDate(date)
			if err != nil {
				return nil, err
			}
			oneOffDate = d
		}
		if err := m.materializeOneOff(c, oneOffDate); err != nil {
			return nil, err
		}
	} else if err := m.generate(c, time.Time{}, time.Time{}); err != nil {
		return nil, err
	}

	out := *c
	return &out, nil
}

// UpdateChore replaces the chore's template fields without touching existing
// occurrences. Use EditTemplateForward to propagate a template change onto
// future occurrences.
func (m *Materializer) UpdateChore(choreID int64, title, description string, categoryID *int64, timeSlot *string, rule *recurrence.Rule, reminderMinutesBefore *int) (*model.Chore, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.choreCache[choreID]; !ok {
		return nil, ErrChoreNotFound
	}

	c, err := m.chores.Update(choreID, title, description, categoryID, timeSlot, rule, reminderMinutesBefore)
	if err != nil {
		return nil, err
	}
	m.choreCache[choreID] = c

	out := *c
	return &out, nil
}

func (m *Materializer) TogglePause(choreID int64) (*model.Chore, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.choreCache[choreID]
	if !ok {
		return nil, ErrChoreNotFound
	}

	if err := m.chores.SetPaused(choreID, !c.Paused); err != nil {
		return nil, err
	}
	c.Paused = !c.Paused

	out := *c
	return &out, nil
}

// SetStatus transitions an occurrence's status. Moving to done stamps the
// completion time; any other target clears it.
func (m *Materializer) SetStatus(occurrenceID int64, status model.OccurrenceStatus) (*model.Occurrence, error) {
	if !model.ValidStatus(status) {
		return nil, ErrInvalidStatus
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.occCache[occurrenceID]
	if !ok {
		return nil, ErrOccurrenceNotFound
	}

	var completedAt *time.Time
	if status == model.StatusDone {
		now := m.now().UTC()
		completedAt = &now
	}

	if err := m.occs.UpdateStatus(occurrenceID, status, completedAt); err != nil {
		return nil, err
	}
	o.Status = status
	o.CompletedAt = completedAt

	out := *o
	return &out, nil
}

// EditOccurrence changes one occurrence's date and/or time slot and marks it
// overridden, detaching it from future template-driven regeneration. Nil
// arguments leave the corresponding field unchanged.
func (m *Materializer) EditOccurrence(occurrenceID int64, date *string, timeSlot *string) (*model.Occurrence, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.occCache[occurrenceID]
	if !ok {
		return nil, ErrOccurrenceNotFound
	}

	newDate := o.Date
	if date != nil {
		if _, err := recurrence.ParseDate(*date); err != nil {
			return nil, err
		}
		newDate = *date
	}
	newSlot := o.TimeSlot
	if timeSlot != nil {
		newSlot = timeSlot
	}

	if err := m.occs.Override(occurrenceID, newDate, newSlot); err != nil {
		return nil, err
	}

	delete(m.byChoreDate, occKey{o.ChoreID, o.Date})
	o.Date = newDate
	o.TimeSlot = newSlot
	o.Overridden = true
	m.byChoreDate[occKey{o.ChoreID, o.Date}] = o.ID

	out := *o
	return &out, nil
}

// EditTemplateForward applies a template edit to all future instances:
// update the chore, drop every occurrence with date >= fromDate that was not
// individually overridden, and regenerate from fromDate. Past occurrences
// and overridden ones are untouched.
func (m *Materializer) EditTemplateForward(choreID int64, title, description string, categoryID *int64, timeSlot *string, rule *recurrence.Rule, reminderMinutesBefore *int, fromDate string) (*model.Chore, error) {
	from, err := recurrence.ParseDate(fromDate)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.choreCache[choreID]; !ok {
		return nil, ErrChoreNotFound
	}

	c, err := m.chores.Update(choreID, title, description, categoryID, timeSlot, rule, reminderMinutesBefore)
	if err != nil {
		return nil, err
	}
	m.choreCache[choreID] = c

	if err := m.occs.DeleteFutureNonOverridden(choreID, fromDate); err != nil {
		return nil, err
	}
	for id, o := range m.occCache {
		if o.ChoreID == choreID && o.Date >= fromDate && !o.Overridden {
			delete(m.byChoreDate, occKey{o.ChoreID, o.Date})
			delete(m.occCache, id)
		}
	}

	if err := m.generate(c, from, time.Time{}); err != nil {
		return nil, err
	}

	out := *c
	return &out, nil
}

// DeleteChore removes the chore and all its occurrences.
func (m *Materializer) DeleteChore(choreID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.choreCache[choreID]; !ok {
		return ErrChoreNotFound
	}

	// The database cascades the occurrence rows.
	if err := m.chores.Delete(choreID); err != nil {
		return err
	}

	delete(m.choreCache, choreID)
	for id, o := range m.occCache {
		if o.ChoreID == choreID {
			delete(m.byChoreDate, occKey{o.ChoreID, o.Date})
			delete(m.occCache, id)
		}
	}
	return nil
}

// --- Read accessors ---

func (m *Materializer) Chores() []model.Chore {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]model.Chore, 0, len(m.choreCache))
	for _, c := range m.choreCache {
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Materializer) ChoreByID(id int64) *model.Chore {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.choreCache[id]
	if !ok {
		return nil
	}
	out := *c
	return &out
}

func (m *Materializer) OccurrenceByID(id int64) *model.Occurrence {
	m.mu.Lock()
	defer m.mu.Unlock()

	o, ok := m.occCache[id]
	if !ok {
		return nil
	}
	out := *o
	return &out
}

func (m *Materializer) OccurrencesOn(date string) []model.Occurrence {
	return m.OccurrencesInRange(date, date)
}

func (m *Materializer) OccurrencesInRange(from, to string) []model.Occurrence {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []model.Occurrence
	for _, o := range m.occCache {
		if o.Date >= from && o.Date <= to {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// IsOverdue reports whether a pending occurrence's moment has passed: its
// date is before today, or it is today and its time slot is behind the
// clock.
func (m *Materializer) IsOverdue(o model.Occurrence) bool {
	if o.Status != model.StatusPending {
		return false
	}

	today := recurrence.FormatDate(m.today())
	if o.Date < today {
		return true
	}
	if o.Date != today || o.TimeSlot == nil {
		return false
	}

	slot, err := time.Parse("15:04", *o.TimeSlot)
	if err != nil {
		m.logger.Warn("malformed time slot", "occurrence_id", o.ID, "time_slot", *o.TimeSlot)
		return false
	}
	now := m.now().UTC()
	return now.Hour()*60+now.Minute() > slot.Hour()*60+slot.Minute()
}
