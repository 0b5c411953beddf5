// Package backup pushes encrypted snapshots of the exported chore data to
// S3-compatible storage, on demand or on a rolling schedule, and restores
// from them.
package backup

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sethvargo/go-retry"

	"github.com/mdelaney/choreplan/internal/export"
	"github.com/mdelaney/choreplan/internal/model"
	"github.com/mdelaney/choreplan/internal/store"
)

// DefaultIntervalDays is how often the scheduled loop uploads a snapshot
// when sync is enabled but no interval has been configured.
const DefaultIntervalDays = 7

// s3Client is an interface for testability.
type s3Client interface {
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, input *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, input *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// S3Config holds S3-compatible storage configuration.
type S3Config struct {
	Endpoint  string
	Bucket    string
	Region    string
	AccessKey string
	SecretKey string
}

// State represents the sync manager state.
type State string

const (
	StateIdle     State = "idle"
	StateRunning  State = "running"
	StateDisabled State = "disabled"
	StateError    State = "error"
)

// Status holds the current sync status.
type Status struct {
	State    State      `json:"state"`
	LastSync *time.Time `json:"last_sync,omitempty"`
	Error    string     `json:"error,omitempty"`
}

// StatusCallback is called whenever the sync state changes.
type StatusCallback func(Status)

// Manager uploads encrypted export snapshots to S3-compatible storage.
type Manager struct {
	mu       sync.RWMutex
	cfg      S3Config
	status   Status
	callback StatusCallback
	logger   *slog.Logger

	exporter  *export.Service
	snapshots *store.SnapshotStore
	settings  *store.SettingsStore
	client    s3Client

	// passphrase is cached in memory only, after the user unlocks sync,
	// so the scheduled loop can encrypt without re-prompting.
	passphrase string

	now    func() time.Time
	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager creates a sync manager. With incomplete S3 credentials the
// manager stays disabled and every operation reports that.
func NewManager(cfg S3Config, exporter *export.Service, ss *store.SnapshotStore, set *store.SettingsStore, logger *slog.Logger, callback StatusCallback) *Manager {
	m := &Manager{
		cfg:       cfg,
		exporter:  exporter,
		snapshots: ss,
		settings:  set,
		logger:    logger.With("component", "backup"),
		callback:  callback,
		now:       time.Now,
		status:    Status{State: StateDisabled},
	}

	if cfg.Bucket != "" && cfg.AccessKey != "" && cfg.SecretKey != "" {
		m.client = newS3Client(cfg)
		m.status.State = StateIdle
	}

	return m
}

func newS3Client(cfg S3Config) *s3.Client {
	opts := s3.Options{
		Region:       cfg.Region,
		Credentials:  credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		UsePathStyle: true,
	}
	if cfg.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Endpoint)
	}
	return s3.New(opts)
}

// UpdateS3Config hot-reloads the S3 configuration.
func (m *Manager) UpdateS3Config(cfg S3Config) {
	m.mu.Lock()
	m.cfg = cfg
	if cfg.Bucket != "" && cfg.AccessKey != "" && cfg.SecretKey != "" {
		m.client = newS3Client(cfg)
		m.status.State = StateIdle
	} else {
		m.client = nil
		m.status.State = StateDisabled
	}
	status := m.status
	m.mu.Unlock()
	if m.callback != nil {
		m.callback(status)
	}
}

// CachePassphrase stores the passphrase in memory for scheduled syncs.
func (m *Manager) CachePassphrase(passphrase string) {
	m.mu.Lock()
	m.passphrase = passphrase
	m.mu.Unlock()
}

// HasCachedPassphrase reports whether a scheduled sync could run.
func (m *Manager) HasCachedPassphrase() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.passphrase != ""
}

// Start begins the scheduled sync loop.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.status.State == StateDisabled {
		m.mu.Unlock()
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	m.mu.Unlock()

	go func() {
		defer close(m.done)
		ticker := time.NewTicker(1 * time.Hour)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.checkSchedule(ctx)
			}
		}
	}()
}

// Stop gracefully stops the sync loop.
func (m *Manager) Stop() {
	m.mu.RLock()
	cancel := m.cancel
	done := m.done
	m.mu.RUnlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
}

// Status returns the current sync status.
func (m *Manager) Status() Status {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.status
}

func (m *Manager) setStatus(s Status) {
	m.mu.Lock()
	if s.LastSync == nil {
		s.LastSync = m.status.LastSync
	}
	m.status = s
	m.mu.Unlock()
	if m.callback != nil {
		m.callback(s)
	}
}

func (m *Manager) checkSchedule(ctx context.Context) {
	settings, err := m.settings.GetSyncSettings()
	if err != nil {
		m.logger.Error("read sync settings", "error", err)
		return
	}
	if settings["sync_enabled"] != "true" {
		return
	}

	intervalDays, _ := strconv.Atoi(settings["sync_interval_days"])
	if intervalDays <= 0 {
		intervalDays = DefaultIntervalDays
	}

	if last := settings["last_synced_at"]; last != "" {
		t, err := time.Parse(time.RFC3339, last)
		if err == nil && m.now().UTC().Sub(t) < time.Duration(intervalDays)*24*time.Hour {
			return
		}
	}

	m.mu.RLock()
	passphrase := m.passphrase
	m.mu.RUnlock()
	if passphrase == "" {
		m.logger.Info("skipping scheduled sync, passphrase not cached")
		return
	}

	if _, err := m.SyncNow(ctx, passphrase); err != nil {
		m.logger.Error("scheduled sync failed", "error", err)
		return
	}

	retentionDays, _ := strconv.Atoi(settings["sync_retention_days"])
	if retentionDays <= 0 {
		retentionDays = 90
	}
	if err := m.Cleanup(ctx, retentionDays); err != nil {
		m.logger.Error("snapshot cleanup failed", "error", err)
	}
}

// SyncNow exports the current data, encrypts it, and uploads it. It returns
// the snapshot record's ID.
func (m *Manager) SyncNow(ctx context.Context, passphrase string) (int64, error) {
	m.mu.RLock()
	client := m.client
	bucket := m.cfg.Bucket
	m.mu.RUnlock()

	if client == nil {
		return 0, fmt.Errorf("sync not configured: S3 credentials missing")
	}

	salt, err := m.passphraseSalt()
	if err != nil {
		return 0, err
	}

	deviceID, err := m.settings.DeviceID()
	if err != nil {
		return 0, fmt.Errorf("device id: %w", err)
	}

	m.setStatus(Status{State: StateRunning})

	timestamp := m.now().UTC().Format("2006-01-02T150405Z")
	filename := fmt.Sprintf("snapshot-%s.json.enc", timestamp)
	remoteKey := fmt.Sprintf("%s/%s", deviceID, filename)

	record, err := m.snapshots.Create(filename, remoteKey)
	if err != nil {
		m.setStatus(Status{State: StateError, Error: err.Error()})
		return 0, fmt.Errorf("create snapshot record: %w", err)
	}

	fail := func(stage string, err error) (int64, error) {
		m.snapshots.UpdateStatus(record.ID, model.SnapshotStatusFailed, err.Error())
		m.setStatus(Status{State: StateError, Error: err.Error()})
		return 0, fmt.Errorf("%s: %w", stage, err)
	}

	m.snapshots.UpdateStatus(record.ID, model.SnapshotStatusUploading, "")

	plaintext, err := m.exporter.ExportJSON()
	if err != nil {
		return fail("export", err)
	}

	encrypted, err := Encrypt(plaintext, passphrase, salt)
	if err != nil {
		return fail("encrypt", err)
	}

	// Transient S3 failures get a few retries before the snapshot is
	// marked failed.
	backoff := retry.WithMaxRetries(3, retry.NewExponential(time.Second))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		_, err := client.PutObject(ctx, &s3.PutObjectInput{
			Bucket:        aws.String(bucket),
			Key:           aws.String(remoteKey),
			Body:          bytes.NewReader(encrypted),
			ContentLength: aws.Int64(int64(len(encrypted))),
		})
		if err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return fail("upload snapshot", err)
	}

	m.snapshots.UpdateCompleted(record.ID, int64(len(encrypted)))
	m.settings.Set("last_synced_at", m.now().UTC().Format(time.RFC3339))

	now := m.now().UTC()
	m.setStatus(Status{State: StateIdle, LastSync: &now})
	m.logger.Info("snapshot uploaded", "key", remoteKey, "bytes", len(encrypted))

	return record.ID, nil
}

// Restore downloads a snapshot, decrypts it, and imports it, replacing all
// current chore data. The caller must reload its in-memory state afterwards.
func (m *Manager) Restore(ctx context.Context, snapshotID int64, passphrase string) error {
	m.mu.RLock()
	client := m.client
	bucket := m.cfg.Bucket
	m.mu.RUnlock()

	if client == nil {
		return fmt.Errorf("sync not configured")
	}

	record, err := m.snapshots.GetByID(snapshotID)
	if err != nil {
		return fmt.Errorf("get snapshot: %w", err)
	}
	if record == nil {
		return fmt.Errorf("snapshot not found")
	}

	result, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(record.RemoteKey),
	})
	if err != nil {
		return fmt.Errorf("download snapshot: %w", err)
	}
	defer result.Body.Close()

	encrypted, err := io.ReadAll(result.Body)
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}

	plaintext, err := Decrypt(encrypted, passphrase)
	if err != nil {
		return fmt.Errorf("decrypt snapshot: %w", err)
	}

	if err := m.exporter.ImportJSON(plaintext); err != nil {
		return fmt.Errorf("import snapshot: %w", err)
	}

	m.logger.Info("snapshot restored", "key", record.RemoteKey)
	return nil
}

// Cleanup deletes snapshots older than the retention period, locally and
// remotely.
func (m *Manager) Cleanup(ctx context.Context, retentionDays int) error {
	m.mu.RLock()
	client := m.client
	bucket := m.cfg.Bucket
	m.mu.RUnlock()

	if client == nil {
		return nil
	}

	before := m.now().UTC().AddDate(0, 0, -retentionDays)
	keys, err := m.snapshots.DeleteOlderThan(before)
	if err != nil {
		return fmt.Errorf("delete old snapshots: %w", err)
	}

	for _, key := range keys {
		if _, err := client.DeleteObject(ctx, &s3.DeleteObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		}); err != nil {
			m.logger.Warn("delete remote snapshot", "key", key, "error", err)
		}
	}
	return nil
}

// EnableSync stores the sync settings and a fresh passphrase salt. The
// passphrase itself never touches the database.
func (m *Manager) EnableSync(passphrase string, intervalDays int) error {
	if intervalDays <= 0 {
		intervalDays = DefaultIntervalDays
	}

	salt, err := GenerateSalt()
	if err != nil {
		return err
	}

	err = m.settings.SetSyncSettings(map[string]string{
		"sync_enabled":         "true",
		"sync_interval_days":   strconv.Itoa(intervalDays),
		"sync_passphrase_salt": hex.EncodeToString(salt),
	})
	if err != nil {
		return fmt.Errorf("save sync settings: %w", err)
	}

	m.CachePassphrase(passphrase)
	return nil
}

// DisableSync turns scheduled syncs off and forgets the cached passphrase.
func (m *Manager) DisableSync() error {
	err := m.settings.SetSyncSettings(map[string]string{"sync_enabled": "false"})
	if err != nil {
		return fmt.Errorf("save sync settings: %w", err)
	}
	m.mu.Lock()
	m.passphrase = ""
	m.mu.Unlock()
	return nil
}

func (m *Manager) passphraseSalt() ([]byte, error) {
	settings, err := m.settings.GetSyncSettings()
	if err != nil {
		return nil, fmt.Errorf("get sync settings: %w", err)
	}
	saltHex := settings["sync_passphrase_salt"]
	if saltHex == "" {
		return nil, fmt.Errorf("sync passphrase not configured")
	}
	salt, err := hex.DecodeString(saltHex)
	if err != nil {
		return nil, fmt.Errorf("decode salt: %w", err)
	}
	return salt, nil
}
