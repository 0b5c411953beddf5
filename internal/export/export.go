// Package export builds and restores the portable JSON snapshot of all
// chore data. The same payload backs the manual export/import feature and
// the encrypted remote sync in internal/backup.
package export

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mdelaney/choreplan/internal/model"
	"github.com/mdelaney/choreplan/internal/store"
)

// Version is the payload format version. Import refuses anything else.
const Version = 1

// ErrUnsupportedVersion is returned by Import for payloads written by a
// newer (or corrupt) exporter.
type ErrUnsupportedVersion struct {
	Version int
}

func (e *ErrUnsupportedVersion) Error() string {
	return fmt.Sprintf("unsupported export version %d (want %d)", e.Version, Version)
}

// ErrMissingCollections is returned by Import when a payload lacks one of
// the required collections. A real export always carries all three arrays,
// empty or not; a nil slice means a truncated or foreign file.
var ErrMissingCollections = errors.New("export file is missing required collections")

// Payload is the complete exported state. Field names match the JSON files
// users already have, so old exports keep importing.
type Payload struct {
	Version    int                `json:"version"`
	ExportedAt time.Time          `json:"exportedAt"`
	Categories []model.Category   `json:"categories"`
	Chores     []model.Chore      `json:"chores"`
	Instances  []model.Occurrence `json:"choreInstances"`
}

// Service reads and writes snapshots against the database. Import runs in a
// single transaction so a half-read file never leaves partial state behind.
type Service struct {
	db         *sql.DB
	categories *store.CategoryStore
	chores     *store.ChoreStore
	occs       *store.OccurrenceStore
}

func NewService(db *sql.DB, cs *store.CategoryStore, chs *store.ChoreStore, os *store.OccurrenceStore) *Service {
	return &Service{db: db, categories: cs, chores: chs, occs: os}
}

// Export captures the current state as a payload.
func (s *Service) Export() (*Payload, error) {
	categories, err := s.categories.List()
	if err != nil {
		return nil, fmt.Errorf("export categories: %w", err)
	}
	chores, err := s.chores.List()
	if err != nil {
		return nil, fmt.Errorf("export chores: %w", err)
	}
	occs, err := s.occs.List()
	if err != nil {
		return nil, fmt.Errorf("export occurrences: %w", err)
	}

	// Empty collections serialize as [] rather than null so the file
	// stays importable.
	if categories == nil {
		categories = []model.Category{}
	}
	if chores == nil {
		chores = []model.Chore{}
	}
	if occs == nil {
		occs = []model.Occurrence{}
	}

	return &Payload{
		Version:    Version,
		ExportedAt: time.Now().UTC(),
		Categories: categories,
		Chores:     chores,
		Instances:  occs,
	}, nil
}

// ExportJSON captures the current state as indented JSON.
func (s *Service) ExportJSON() ([]byte, error) {
	p, err := s.Export()
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(p, "", "  ")
}

// Import replaces all chore data with the payload's contents. Row IDs are
// preserved so chore-to-occurrence and chore-to-category references survive
// the round trip. On any error the transaction rolls back and the database
// is untouched.
func (s *Service) Import(p *Payload) error {
	if p.Version != Version {
		return &ErrUnsupportedVersion{Version: p.Version}
	}
	if p.Categories == nil || p.Chores == nil || p.Instances == nil {
		return ErrMissingCollections
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin import: %w", err)
	}
	defer tx.Rollback()

	// Children first, to satisfy foreign keys.
	for _, table := range []string{"occurrences", "chores", "categories"} {
		if _, err := tx.Exec(`DELETE FROM ` + table); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}

	for _, c := range p.Categories {
		_, err := tx.Exec(
			`INSERT INTO categories (id, name, icon, color) VALUES (?, ?, ?, ?)`,
			c.ID, c.Name, c.Icon, c.Color,
		)
		if err != nil {
			return fmt.Errorf("import category %q: %w", c.Name, err)
		}
	}

	for _, c := range p.Chores {
		var rule string
		if c.Recurrence != nil {
			rule = c.Recurrence.String()
		}
		var categoryID sql.NullInt64
		if c.CategoryID != nil {
			categoryID = sql.NullInt64{Int64: *c.CategoryID, Valid: true}
		}
		var timeSlot sql.NullString
		if c.TimeSlot != nil {
			timeSlot = sql.NullString{String: *c.TimeSlot, Valid: true}
		}
		var reminder sql.NullInt64
		if c.ReminderMinutesBefore != nil {
			reminder = sql.NullInt64{Int64: int64(*c.ReminderMinutesBefore), Valid: true}
		}
		_, err := tx.Exec(
			`INSERT INTO chores (id, title, description, category_id, time_slot, recurrence_rule, is_paused, reminder_minutes_before) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, c.Title, c.Description, categoryID, timeSlot, rule, c.Paused, reminder,
		)
		if err != nil {
			return fmt.Errorf("import chore %q: %w", c.Title, err)
		}
	}

	for _, o := range p.Instances {
		if !model.ValidStatus(o.Status) {
			return fmt.Errorf("import occurrence %d: unknown status %q", o.ID, o.Status)
		}
		var timeSlot sql.NullString
		if o.TimeSlot != nil {
			timeSlot = sql.NullString{String: *o.TimeSlot, Valid: true}
		}
		var completedAt sql.NullTime
		if o.CompletedAt != nil {
			completedAt = sql.NullTime{Time: *o.CompletedAt, Valid: true}
		}
		_, err := tx.Exec(
			`INSERT INTO occurrences (id, chore_id, date, status, time_slot, is_overridden, completed_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			o.ID, o.ChoreID, o.Date, string(o.Status), timeSlot, o.Overridden, completedAt,
		)
		if err != nil {
			return fmt.Errorf("import occurrence %d: %w", o.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit import: %w", err)
	}
	return nil
}

// ImportJSON decodes and imports a payload previously written by ExportJSON.
func (s *Service) ImportJSON(data []byte) error {
	var p Payload
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("decode export file: %w", err)
	}
	return s.Import(&p)
}
