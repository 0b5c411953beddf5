package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/mdelaney/choreplan/internal/model"
)

type SnapshotStore struct {
	db *sql.DB
}

func NewSnapshotStore(db *sql.DB) *SnapshotStore {
	return &SnapshotStore{db: db}
}

func scanSnapshot(scanner interface{ Scan(...any) error }) (*model.Snapshot, error) {
	var m model.Snapshot
	var completedAt sql.NullTime

	err := scanner.Scan(
		&m.ID, &m.Filename, &m.RemoteKey, &m.SizeBytes, &m.Status,
		&m.ErrorMessage, &completedAt, &m.CreatedAt, &m.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if completedAt.Valid {
		t := completedAt.Time
		m.CompletedAt = &t
	}
	return &m, nil
}

const snapshotCols = `id, filename, remote_key, size_bytes, status, error_message, completed_at, created_at, updated_at`

func (s *SnapshotStore) Create(filename, remoteKey string) (*model.Snapshot, error) {
	result, err := s.db.Exec(
		`INSERT INTO snapshots (filename, remote_key) VALUES (?, ?)`,
		filename, remoteKey,
	)
	if err != nil {
		return nil, fmt.Errorf("insert snapshot: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("last insert id: %w", err)
	}
	return s.GetByID(id)
}

func (s *SnapshotStore) GetByID(id int64) (*model.Snapshot, error) {
	row := s.db.QueryRow(`SELECT `+snapshotCols+` FROM snapshots WHERE id = ?`, id)
	m, err := scanSnapshot(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get snapshot: %w", err)
	}
	return m, nil
}

// LatestCompleted returns the most recent successfully uploaded snapshot.
func (s *SnapshotStore) LatestCompleted() (*model.Snapshot, error) {
	row := s.db.QueryRow(
		`SELECT ` + snapshotCols + ` FROM snapshots WHERE status = 'completed' ORDER BY completed_at DESC LIMIT 1`,
	)
	m, err := scanSnapshot(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("latest snapshot: %w", err)
	}
	return m, nil
}

func (s *SnapshotStore) List(limit int) ([]model.Snapshot, error) {
	rows, err := s.db.Query(
		`SELECT `+snapshotCols+` FROM snapshots ORDER BY created_at DESC, id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []model.Snapshot
	for rows.Next() {
		m, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan snapshot: %w", err)
		}
		snapshots = append(snapshots, *m)
	}
	return snapshots, rows.Err()
}

func (s *SnapshotStore) UpdateStatus(id int64, status model.SnapshotStatus, errorMessage string) error {
	_, err := s.db.Exec(
		`UPDATE snapshots SET status = ?, error_message = ?, updated_at = datetime('now') WHERE id = ?`,
		status, errorMessage, id,
	)
	if err != nil {
		return fmt.Errorf("update snapshot status: %w", err)
	}
	return nil
}

func (s *SnapshotStore) UpdateCompleted(id, sizeBytes int64) error {
	_, err := s.db.Exec(
		`UPDATE snapshots SET status = 'completed', size_bytes = ?, completed_at = datetime('now'), updated_at = datetime('now') WHERE id = ?`,
		sizeBytes, id,
	)
	if err != nil {
		return fmt.Errorf("update snapshot completed: %w", err)
	}
	return nil
}

func (s *SnapshotStore) Delete(id int64) error {
	_, err := s.db.Exec(`DELETE FROM snapshots WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete snapshot: %w", err)
	}
	return nil
}

// DeleteOlderThan removes snapshot records created before the cutoff and
// returns their remote keys so the caller can delete the objects too.
func (s *SnapshotStore) DeleteOlderThan(before time.Time) ([]string, error) {
	rows, err := s.db.Query(
		`SELECT remote_key FROM snapshots WHERE created_at < ?`,
		before.UTC().Format("2006-01-02 15:04:05"),
	)
	if err != nil {
		return nil, fmt.Errorf("list old snapshots: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, fmt.Errorf("scan remote key: %w", err)
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if _, err := s.db.Exec(
		`DELETE FROM snapshots WHERE created_at < ?`,
		before.UTC().Format("2006-01-02 15:04:05"),
	); err != nil {
		return nil, fmt.Errorf("delete old snapshots: %w", err)
	}
	return keys, nil
}
