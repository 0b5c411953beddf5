package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/mdelaney/choreplan/internal/model"
)

type OccurrenceStore struct {
	db *sql.DB
}

func NewOccurrenceStore(db *sql.DB) *OccurrenceStore {
	return &OccurrenceStore{db: db}
}

func scanOccurrence(scanner interface{ Scan(...any) error }) (*model.Occurrence, error) {
	var o model.Occurrence
	var timeSlot sql.NullString
	var completedAt sql.NullTime

	err := scanner.Scan(
		&o.ID, &o.ChoreID, &o.Date, &o.Status, &timeSlot, &o.Overridden, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	if timeSlot.Valid {
		o.TimeSlot = &timeSlot.String
	}
	if completedAt.Valid {
		t := completedAt.Time
		o.CompletedAt = &t
	}
	return &o, nil
}

const occurrenceCols = `id, chore_id, date, status, time_slot, is_overridden, completed_at`

// IsDuplicate reports whether err is the unique-index violation raised when
// two writers race to create the same (chore, date) occurrence.
func IsDuplicate(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

// Create inserts a fresh pending occurrence for the chore on the given date.
func (s *OccurrenceStore) Create(choreID int64, date string, timeSlot *string) (*model.Occurrence, error) {
	result, err := s.db.Exec(
		`INSERT INTO occurrences (chore_id, date, time_slot) VALUES (?, ?, ?)`,
		choreID, date, nullString(timeSlot),
	)
	if err != nil {
		return nil, fmt.Errorf("insert occurrence: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(id)
}

func (s *OccurrenceStore) GetByID(id int64) (*model.Occurrence, error) {
	row := s.db.QueryRow(`SELECT `+occurrenceCols+` FROM occurrences WHERE id = ?`, id)
	o, err := scanOccurrence(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get occurrence: %w", err)
	}
	return o, nil
}

func (s *OccurrenceStore) GetByChoreAndDate(choreID int64, date string) (*model.Occurrence, error) {
	row := s.db.QueryRow(
		`SELECT `+occurrenceCols+` FROM occurrences WHERE chore_id = ? AND date = ?`,
		choreID, date,
	)
	o, err := scanOccurrence(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get occurrence by chore and date: %w", err)
	}
	return o, nil
}

func (s *OccurrenceStore) List() ([]model.Occurrence, error) {
	return s.listWhere(``)
}

func (s *OccurrenceStore) ListByChore(choreID int64) ([]model.Occurrence, error) {
	return s.listWhere(`WHERE chore_id = ?`, choreID)
}

// ListByDateRange returns occurrences with from <= date <= to. Dates are
// YYYY-MM-DD strings, so lexicographic comparison is chronological.
func (s *OccurrenceStore) ListByDateRange(from, to string) ([]model.Occurrence, error) {
	return s.listWhere(`WHERE date >= ? AND date <= ?`, from, to)
}

func (s *OccurrenceStore) ListByDate(date string) ([]model.Occurrence, error) {
	return s.listWhere(`WHERE date = ?`, date)
}

func (s *OccurrenceStore) listWhere(where string, args ...any) ([]model.Occurrence, error) {
	q := `SELECT ` + occurrenceCols + ` FROM occurrences ` + where + ` ORDER BY date ASC, id ASC`
	rows, err := s.db.Query(q, args...)
	if err != nil {
		return nil, fmt.Errorf("list occurrences: %w", err)
	}
	defer rows.Close()

	var occurrences []model.Occurrence
	for rows.Next() {
		o, err := scanOccurrence(rows)
		if err != nil {
			return nil, fmt.Errorf("scan occurrence: %w", err)
		}
		occurrences = append(occurrences, *o)
	}
	return occurrences, rows.Err()
}

func (s *OccurrenceStore) UpdateStatus(id int64, status model.OccurrenceStatus, completedAt *time.Time) error {
	var completed sql.NullTime
	if completedAt != nil {
		completed = sql.NullTime{Time: completedAt.UTC(), Valid: true}
	}
	_, err := s.db.Exec(
		`UPDATE occurrences SET status = ?, completed_at = ? WHERE id = ?`,
		status, completed, id,
	)
	if err != nil {
		return fmt.Errorf("update occurrence status: %w", err)
	}
	return nil
}

// Override updates an occurrence's date and time slot and marks it
// overridden, detaching it from template-driven regeneration.
func (s *OccurrenceStore) Override(id int64, date string, timeSlot *string) error {
	_, err := s.db.Exec(
		`UPDATE occurrences SET date = ?, time_slot = ?, is_overridden = 1 WHERE id = ?`,
		date, nullString(timeSlot), id,
	)
	if err != nil {
		return fmt.Errorf("override occurrence: %w", err)
	}
	return nil
}

func (s *OccurrenceStore) Delete(id int64) error {
	_, err := s.db.Exec(`DELETE FROM occurrences WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete occurrence: %w", err)
	}
	return nil
}

// DeleteFutureNonOverridden removes every occurrence of the chore with
// date >= fromDate that has not been individually overridden.
func (s *OccurrenceStore) DeleteFutureNonOverridden(choreID int64, fromDate string) error {
	_, err := s.db.Exec(
		`DELETE FROM occurrences WHERE chore_id = ? AND date >= ? AND is_overridden = 0`,
		choreID, fromDate,
	)
	if err != nil {
		return fmt.Errorf("delete future occurrences: %w", err)
	}
	return nil
}
