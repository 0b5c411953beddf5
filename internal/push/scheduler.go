package push

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mdelaney/choreplan/internal/model"
	"github.com/mdelaney/choreplan/internal/store"
)

// summaryHour is the local hour at which the daily overview notification
// goes out.
const summaryHour = 8

// Sender delivers a payload to one subscription. *Service implements it;
// tests substitute a fake.
type Sender interface {
	Send(sub *model.PushSubscription, payload Payload) error
}

// Scheduler periodically checks for chore reminders to send. A chore gets a
// reminder when it has a reminder lead time and the occurrence has a time
// slot; each occurrence is reminded at most once per day.
type Scheduler struct {
	mu       sync.RWMutex
	service  Sender
	push     *store.PushStore
	occs     *store.OccurrenceStore
	chores   *store.ChoreStore
	logger   *slog.Logger
	interval time.Duration

	// sent dedupes notifications across ticks. Entries are dropped when
	// the date rolls over.
	sent     map[string]bool
	sentDate string

	now    func() time.Time
	cancel context.CancelFunc
	done   chan struct{}
}

// NewScheduler creates a reminder scheduler.
func NewScheduler(svc Sender, pushStore *store.PushStore, occStore *store.OccurrenceStore, choreStore *store.ChoreStore, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		service:  svc,
		push:     pushStore,
		occs:     occStore,
		chores:   choreStore,
		logger:   logger.With("component", "push"),
		interval: 60 * time.Second,
		sent:     make(map[string]bool),
		now:      time.Now,
	}
}

// Start begins the scheduler loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.mu.Unlock()

	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.tick()
			}
		}
	}()
}

// Stop gracefully stops the scheduler.
func (s *Scheduler) Stop() {
	s.mu.RLock()
	cancel := s.cancel
	done := s.done
	s.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

func (s *Scheduler) tick() {
	now := s.now()
	today := now.Format("2006-01-02")

	s.mu.Lock()
	if s.sentDate != today {
		s.sent = make(map[string]bool)
		s.sentDate = today
	}
	s.mu.Unlock()

	s.checkReminders(now, today)
	s.checkDailySummary(now, today)
}

// checkReminders sends per-occurrence notifications once the reminder lead
// time before the occurrence's slot has been reached.
func (s *Scheduler) checkReminders(now time.Time, today string) {
	occs, err := s.occs.ListByDate(today)
	if err != nil {
		s.logger.Error("list today's occurrences", "error", err)
		return
	}

	for _, occ := range occs {
		if occ.Status != model.StatusPending {
			continue
		}

		chore, err := s.chores.GetByID(occ.ChoreID)
		if err != nil || chore == nil || chore.ReminderMinutesBefore == nil {
			continue
		}

		slot := occ.TimeSlot
		if slot == nil {
			slot = chore.TimeSlot
		}
		if slot == nil {
			continue
		}

		slotTime, err := time.ParseInLocation("2006-01-02 15:04", today+" "+*slot, now.Location())
		if err != nil {
			continue
		}

		remindAt := slotTime.Add(-time.Duration(*chore.ReminderMinutesBefore) * time.Minute)
		if now.Before(remindAt) {
			continue
		}

		key := fmt.Sprintf("occurrence-%d", occ.ID)
		if s.alreadySent(key) {
			continue
		}

		s.broadcast(Payload{
			Title: "Chore Reminder",
			Body:  fmt.Sprintf("%s at %s", chore.Title, *slot),
			URL:   "/",
			Tag:   key,
		})
		s.markSent(key)
	}
}

// checkDailySummary sends one overview notification per day.
func (s *Scheduler) checkDailySummary(now time.Time, today string) {
	if now.Hour() != summaryHour {
		return
	}

	key := "daily-summary"
	if s.alreadySent(key) {
		return
	}

	occs, err := s.occs.ListByDate(today)
	if err != nil {
		s.logger.Error("list today's occurrences", "error", err)
		return
	}

	pending := 0
	var firstTitle string
	for _, occ := range occs {
		if occ.Status != model.StatusPending {
			continue
		}
		pending++
		if firstTitle == "" {
			if chore, err := s.chores.GetByID(occ.ChoreID); err == nil && chore != nil {
				firstTitle = chore.Title
			}
		}
	}
	if pending == 0 {
		return
	}

	body := fmt.Sprintf("You have %d chores to do today", pending)
	if pending == 1 && firstTitle != "" {
		body = fmt.Sprintf("Chore due today: %s", firstTitle)
	}

	s.broadcast(Payload{
		Title: "Today's Chores",
		Body:  body,
		URL:   "/",
		Tag:   key,
	})
	s.markSent(key)
}

// broadcast sends the payload to every subscription, dropping ones the push
// service reports as gone.
func (s *Scheduler) broadcast(payload Payload) {
	subs, err := s.push.List()
	if err != nil {
		s.logger.Error("list subscriptions", "error", err)
		return
	}

	for _, sub := range subs {
		if err := s.service.Send(&sub, payload); err != nil {
			if errors.Is(err, ErrExpired) {
				s.push.DeleteByEndpoint(sub.Endpoint)
			} else {
				s.logger.Error("send notification", "endpoint", sub.Endpoint, "error", err)
			}
		}
	}
}

func (s *Scheduler) alreadySent(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sent[key]
}

func (s *Scheduler) markSent(key string) {
	s.mu.Lock()
	s.sent[key] = true
	s.mu.Unlock()
}
