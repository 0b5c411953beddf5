package backup

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/mdelaney/choreplan/internal/database"
	"github.com/mdelaney/choreplan/internal/export"
	"github.com/mdelaney/choreplan/internal/model"
	"github.com/mdelaney/choreplan/internal/store"
)

// mockS3Client implements s3Client for testing.
type mockS3Client struct {
	mu       sync.Mutex
	objects  map[string][]byte
	putFails int
	getErr   error
}

func newMockS3() *mockS3Client {
	return &mockS3Client{objects: make(map[string][]byte)}
}

func (m *mockS3Client) PutObject(_ context.Context, input *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.putFails > 0 {
		m.putFails--
		return nil, errors.New("transient upload failure")
	}
	data, _ := io.ReadAll(input.Body)
	m.objects[*input.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func (m *mockS3Client) GetObject(_ context.Context, input *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.objects[*input.Key]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{
		Body: io.NopCloser(strings.NewReader(string(data))),
	}, nil
}

func (m *mockS3Client) DeleteObject(_ context.Context, input *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, *input.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func validConfig() S3Config {
	return S3Config{Bucket: "test", AccessKey: "key", SecretKey: "secret", Region: "us-east-1"}
}

// setupManager builds a manager over a real in-memory database with the
// mock S3 client swapped in.
func setupManager(t *testing.T) (*Manager, *mockS3Client, *store.ChoreStore) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	cs := store.NewCategoryStore(db)
	chs := store.NewChoreStore(db)
	os := store.NewOccurrenceStore(db)
	exporter := export.NewService(db, cs, chs, os)

	m := NewManager(validConfig(), exporter, store.NewSnapshotStore(db), store.NewSettingsStore(db), slog.Default(), nil)
	mock := newMockS3()
	m.client = mock
	return m, mock, chs
}

func TestSyncNowUploadsEncryptedSnapshot(t *testing.T) {
	m, mock, chs := setupManager(t)

	if err := m.EnableSync("hunter2", 7); err != nil {
		t.Fatalf("enable sync: %v", err)
	}
	if _, err := chs.Create("Vacuum", "", nil, nil, nil, nil); err != nil {
		t.Fatalf("create chore: %v", err)
	}

	id, err := m.SyncNow(context.Background(), "hunter2")
	if err != nil {
		t.Fatalf("sync: %v", err)
	}

	record, err := m.snapshots.GetByID(id)
	if err != nil || record == nil {
		t.Fatalf("snapshot record: %v, %v", record, err)
	}
	if record.Status != model.SnapshotStatusCompleted {
		t.Errorf("status = %q, want completed", record.Status)
	}

	mock.mu.Lock()
	data, ok := mock.objects[record.RemoteKey]
	mock.mu.Unlock()
	if !ok {
		t.Fatalf("no object at %s", record.RemoteKey)
	}
	if strings.Contains(string(data), "Vacuum") {
		t.Error("uploaded snapshot is not encrypted")
	}
	if record.SizeBytes != int64(len(data)) {
		t.Errorf("size = %d, want %d", record.SizeBytes, len(data))
	}
	if m.Status().State != StateIdle || m.Status().LastSync == nil {
		t.Errorf("status = %+v", m.Status())
	}
}

func TestSyncNowRetriesTransientUploadFailures(t *testing.T) {
	m, mock, _ := setupManager(t)
	if err := m.EnableSync("pw", 7); err != nil {
		t.Fatalf("enable sync: %v", err)
	}

	mock.mu.Lock()
	mock.putFails = 2
	mock.mu.Unlock()

	if _, err := m.SyncNow(context.Background(), "pw"); err != nil {
		t.Fatalf("sync should survive two transient failures: %v", err)
	}
}

func TestSyncNowWithoutSaltFails(t *testing.T) {
	m, _, _ := setupManager(t)

	if _, err := m.SyncNow(context.Background(), "pw"); err == nil {
		t.Fatal("expected error when sync passphrase is not configured")
	}
}

func TestRestoreRoundTrip(t *testing.T) {
	m, _, chs := setupManager(t)
	if err := m.EnableSync("pw", 7); err != nil {
		t.Fatalf("enable sync: %v", err)
	}

	c, err := chs.Create("Original", "", nil, nil, nil, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	id, err := m.SyncNow(context.Background(), "pw")
	if err != nil {
		t.Fatalf("sync: %v", err)
	}

	// Mutate local state, then restore the snapshot over it.
	if _, err := chs.Create("Added later", "", nil, nil, nil, nil); err != nil {
		t.Fatalf("create: %v", err)
	}

	if err := m.Restore(context.Background(), id, "pw"); err != nil {
		t.Fatalf("restore: %v", err)
	}

	chores, err := chs.List()
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(chores) != 1 || chores[0].ID != c.ID || chores[0].Title != "Original" {
		t.Errorf("restored chores = %+v", chores)
	}

	// Wrong passphrase must fail before touching data.
	if err := m.Restore(context.Background(), id, "not-pw"); err == nil {
		t.Fatal("expected decrypt failure")
	}
}

func TestRestoreUnknownSnapshot(t *testing.T) {
	m, _, _ := setupManager(t)
	if err := m.Restore(context.Background(), 404, "pw"); err == nil {
		t.Fatal("expected error for unknown snapshot")
	}
}

func TestCleanupDeletesOldSnapshots(t *testing.T) {
	m, mock, _ := setupManager(t)
	if err := m.EnableSync("pw", 7); err != nil {
		t.Fatalf("enable sync: %v", err)
	}

	if _, err := m.SyncNow(context.Background(), "pw"); err != nil {
		t.Fatalf("sync: %v", err)
	}

	// Age the manager's clock far past the retention window.
	m.now = func() time.Time { return time.Now().AddDate(0, 0, 100) }
	if err := m.Cleanup(context.Background(), 90); err != nil {
		t.Fatalf("cleanup: %v", err)
	}

	snapshots, err := m.snapshots.List(10)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(snapshots) != 0 {
		t.Errorf("expected no snapshots, got %d", len(snapshots))
	}
	mock.mu.Lock()
	remaining := len(mock.objects)
	mock.mu.Unlock()
	if remaining != 0 {
		t.Errorf("expected no remote objects, got %d", remaining)
	}
}

func TestManagerStateLifecycle(t *testing.T) {
	// Without S3 config -> disabled.
	m := NewManager(S3Config{}, nil, nil, nil, slog.Default(), nil)
	if m.Status().State != StateDisabled {
		t.Errorf("state = %q, want %q", m.Status().State, StateDisabled)
	}

	// With S3 config -> idle.
	m2 := NewManager(validConfig(), nil, nil, nil, slog.Default(), nil)
	if m2.Status().State != StateIdle {
		t.Errorf("state = %q, want %q", m2.Status().State, StateIdle)
	}
}

func TestManagerStatusCallback(t *testing.T) {
	var mu sync.Mutex
	var received []Status
	cb := func(s Status) {
		mu.Lock()
		received = append(received, s)
		mu.Unlock()
	}

	m := NewManager(validConfig(), nil, nil, nil, slog.Default(), cb)
	m.setStatus(Status{State: StateRunning})
	m.setStatus(Status{State: StateIdle})

	mu.Lock()
	defer mu.Unlock()
	if len(received) != 2 {
		t.Fatalf("received %d callbacks, want 2", len(received))
	}
	if received[0].State != StateRunning || received[1].State != StateIdle {
		t.Errorf("callbacks = %+v", received)
	}
}

func TestUpdateS3Config(t *testing.T) {
	m := NewManager(S3Config{}, nil, nil, nil, slog.Default(), nil)

	m.UpdateS3Config(validConfig())
	if m.Status().State != StateIdle {
		t.Errorf("state after set = %q, want %q", m.Status().State, StateIdle)
	}

	m.UpdateS3Config(S3Config{})
	if m.Status().State != StateDisabled {
		t.Errorf("state after clear = %q, want %q", m.Status().State, StateDisabled)
	}
}

func TestManagerStopSafety(t *testing.T) {
	m := NewManager(validConfig(), nil, nil, nil, slog.Default(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	m.Start(ctx)
	time.Sleep(50 * time.Millisecond)
	cancel()
	m.Stop()

	// Double stop should not panic.
	m.Stop()
}

func TestManagerDisabledNoStart(t *testing.T) {
	m := NewManager(S3Config{}, nil, nil, nil, slog.Default(), nil)
	m.Start(context.Background())
	m.Stop()
}

func TestCachedPassphrase(t *testing.T) {
	m := NewManager(S3Config{}, nil, nil, nil, slog.Default(), nil)
	if m.HasCachedPassphrase() {
		t.Error("expected no cached passphrase")
	}
	m.CachePassphrase("pw")
	if !m.HasCachedPassphrase() {
		t.Error("expected cached passphrase")
	}
}
