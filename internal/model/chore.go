package model

import (
	"time"

	"github.com/mdelaney/choreplan/internal/recurrence"
)

// Chore is a task template. A chore with a nil Recurrence is one-off: it is
// materialized into exactly one Occurrence, ever.
type Chore struct {
	ID                    int64            `json:"id"`
	Title                 string           `json:"title"`
	Description           string           `json:"description"`
	CategoryID            *int64           `json:"categoryId"`
	TimeSlot              *string          `json:"timeSlot"` // HH:MM, default slot for new occurrences
	Recurrence            *recurrence.Rule `json:"recurrence"`
	Paused                bool             `json:"isPaused"`
	ReminderMinutesBefore *int             `json:"reminderMinutesBefore"`
	CreatedAt             time.Time        `json:"createdAt"`
	UpdatedAt             time.Time        `json:"updatedAt"`
}

type OccurrenceStatus string

const (
	StatusPending OccurrenceStatus = "pending"
	StatusDone    OccurrenceStatus = "done"
	StatusSkipped OccurrenceStatus = "skipped"
)

// ValidStatus reports whether s is one of the known occurrence statuses.
func ValidStatus(s OccurrenceStatus) bool {
	switch s {
	case StatusPending, StatusDone, StatusSkipped:
		return true
	}
	return false
}

// Occurrence is one concrete dated instance of a chore. At most one exists
// per (ChoreID, Date); the database enforces this with a unique index.
//
// Overridden marks an occurrence that was edited individually. Overridden
// occurrences are never deleted or regenerated by template-level edits.
type Occurrence struct {
	ID          int64            `json:"id"`
	ChoreID     int64            `json:"choreId"`
	Date        string           `json:"date"` // YYYY-MM-DD
	Status      OccurrenceStatus `json:"status"`
	TimeSlot    *string          `json:"timeSlot"`
	Overridden  bool             `json:"isOverridden"`
	CompletedAt *time.Time       `json:"completedAt"`
}
