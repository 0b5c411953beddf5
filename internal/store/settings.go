package store

import (
	"database/sql"
	"fmt"

	"github.com/google/uuid"
)

var syncKeys = []string{
	"sync_enabled",
	"sync_interval_days",
	"sync_retention_days",
	"sync_passphrase_salt",
	"last_synced_at",
}

type SettingsStore struct {
	db *sql.DB
}

func NewSettingsStore(db *sql.DB) *SettingsStore {
	return &SettingsStore{db: db}
}

func (s *SettingsStore) Get(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", fmt.Errorf("setting %q not found", key)
	}
	if err != nil {
		return "", fmt.Errorf("get setting %q: %w", key, err)
	}
	return value, nil
}

func (s *SettingsStore) Set(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO settings (key, value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = datetime('now')`,
		key, value,
	)
	if err != nil {
		return fmt.Errorf("set setting %q: %w", key, err)
	}
	return nil
}

// GetSyncSettings returns the remote-sync settings; absent keys map to "".
func (s *SettingsStore) GetSyncSettings() (map[string]string, error) {
	settings := make(map[string]string, len(syncKeys))
	for _, key := range syncKeys {
		settings[key] = ""
	}

	rows, err := s.db.Query(`SELECT key, value FROM settings WHERE key IN (?, ?, ?, ?, ?)`,
		syncKeys[0], syncKeys[1], syncKeys[2], syncKeys[3], syncKeys[4])
	if err != nil {
		return nil, fmt.Errorf("get sync settings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		settings[key] = value
	}
	return settings, rows.Err()
}

func (s *SettingsStore) SetSyncSettings(values map[string]string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, key := range syncKeys {
		value, ok := values[key]
		if !ok {
			continue
		}
		if _, err := tx.Exec(
			`INSERT INTO settings (key, value) VALUES (?, ?)
			 ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = datetime('now')`,
			key, value,
		); err != nil {
			return fmt.Errorf("set setting %q: %w", key, err)
		}
	}
	return tx.Commit()
}

// DeviceID returns this installation's stable identifier, generating and
// persisting one on first use. It prefixes every remote snapshot key so
// multiple devices sharing a bucket never clobber each other's uploads.
func (s *SettingsStore) DeviceID() (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM settings WHERE key = 'device_id'`).Scan(&value)
	if err == nil {
		return value, nil
	}
	if err != sql.ErrNoRows {
		return "", fmt.Errorf("get device id: %w", err)
	}

	id := uuid.NewString()
	if err := s.Set("device_id", id); err != nil {
		return "", err
	}
	return id, nil
}
