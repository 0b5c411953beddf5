package store

import (
	"database/sql"
	"fmt"

	"github.com/mdelaney/choreplan/internal/model"
	"github.com/mdelaney/choreplan/internal/recurrence"
)

type ChoreStore struct {
	db *sql.DB
}

func NewChoreStore(db *sql.DB) *ChoreStore {
	return &ChoreStore{db: db}
}

func scanChore(scanner interface{ Scan(...any) error }) (*model.Chore, error) {
	var c model.Chore
	var categoryID sql.NullInt64
	var timeSlot sql.NullString
	var rule string
	var reminder sql.NullInt64

	err := scanner.Scan(
		&c.ID, &c.Title, &c.Description, &categoryID, &timeSlot,
		&rule, &c.Paused, &reminder, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if categoryID.Valid {
		c.CategoryID = &categoryID.Int64
	}
	if timeSlot.Valid {
		c.TimeSlot = &timeSlot.String
	}
	if reminder.Valid {
		n := int(reminder.Int64)
		c.ReminderMinutesBefore = &n
	}
	if rule != "" {
		r, err := recurrence.Parse(rule)
		if err != nil {
			return nil, fmt.Errorf("chore %d has malformed recurrence rule %q: %w", c.ID, rule, err)
		}
		c.Recurrence = r
	}
	return &c, nil
}

const choreCols = `id, title, description, category_id, time_slot, recurrence_rule, is_paused, reminder_minutes_before, created_at, updated_at`

func ruleString(r *recurrence.Rule) string {
	if r == nil {
		return ""
	}
	return r.String()
}

func nullInt64(p *int64) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *p, Valid: true}
}

func nullString(p *string) sql.NullString {
	if p == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *p, Valid: true}
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func (s *ChoreStore) Create(title, description string, categoryID *int64, timeSlot *string, rule *recurrence.Rule, reminderMinutesBefore *int) (*model.Chore, error) {
	result, err := s.db.Exec(
		`INSERT INTO chores (title, description, category_id, time_slot, recurrence_rule, reminder_minutes_before) VALUES (?, ?, ?, ?, ?, ?)`,
		title, description, nullInt64(categoryID), nullString(timeSlot), ruleString(rule), nullInt(reminderMinutesBefore),
	)
	if err != nil {
		return nil, fmt.Errorf("insert chore: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(id)
}

func (s *ChoreStore) GetByID(id int64) (*model.Chore, error) {
	row := s.db.QueryRow(`SELECT `+choreCols+` FROM chores WHERE id = ?`, id)
	c, err := scanChore(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get chore: %w", err)
	}
	return c, nil
}

func (s *ChoreStore) List() ([]model.Chore, error) {
	rows, err := s.db.Query(`SELECT ` + choreCols + ` FROM chores ORDER BY title ASC`)
	if err != nil {
		return nil, fmt.Errorf("list chores: %w", err)
	}
	defer rows.Close()

	var chores []model.Chore
	for rows.Next() {
		c, err := scanChore(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chore: %w", err)
		}
		chores = append(chores, *c)
	}
	return chores, rows.Err()
}

// Update replaces every template field of the chore. The paused flag is
// managed separately via SetPaused.
func (s *ChoreStore) Update(id int64, title, description string, categoryID *int64, timeSlot *string, rule *recurrence.Rule, reminderMinutesBefore *int) (*model.Chore, error) {
	_, err := s.db.Exec(
		`UPDATE chores SET title = ?, description = ?, category_id = ?, time_slot = ?, recurrence_rule = ?, reminder_minutes_before = ?, updated_at = datetime('now') WHERE id = ?`,
		title, description, nullInt64(categoryID), nullString(timeSlot), ruleString(rule), nullInt(reminderMinutesBefore), id,
	)
	if err != nil {
		return nil, fmt.Errorf("update chore: %w", err)
	}
	return s.GetByID(id)
}

func (s *ChoreStore) SetPaused(id int64, paused bool) error {
	_, err := s.db.Exec(
		`UPDATE chores SET is_paused = ?, updated_at = datetime('now') WHERE id = ?`,
		paused, id,
	)
	if err != nil {
		return fmt.Errorf("set paused: %w", err)
	}
	return nil
}

func (s *ChoreStore) Delete(id int64) error {
	_, err := s.db.Exec(`DELETE FROM chores WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete chore: %w", err)
	}
	return nil
}
