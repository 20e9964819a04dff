package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/livinlefevreloca/collector/internal/db"
	"github.com/livinlefevreloca/collector/internal/testutil"
)

// fakeStore records calls and can be slowed down or made to fail
type fakeStore struct {
	mu        sync.Mutex
	runs      map[string]*db.CollectionRun
	delay     time.Duration
	failWith  error
	creates   int
	completes int
}

func newFakeStore() *fakeStore {
	return &fakeStore{runs: make(map[string]*db.CollectionRun)}
}

func (f *fakeStore) CreateCollectionRun(_ context.Context, run *db.CollectionRun) error {
	time.Sleep(f.delay)
	f.mu.Lock()
	defer f.mu.Unlock()

	f.creates++
	if f.failWith != nil {
		return f.failWith
	}
	if _, ok := f.runs[run.RunID]; ok {
		return db.ErrDuplicate
	}
	copied := *run
	f.runs[run.RunID] = &copied
	return nil
}

func (f *fakeStore) CompleteCollectionRun(_ context.Context, runID string, completedAt time.Time, status string, recordCount int, location, errMsg *string) error {
	time.Sleep(f.delay)
	f.mu.Lock()
	defer f.mu.Unlock()

	f.completes++
	if f.failWith != nil {
		return f.failWith
	}
	run, ok := f.runs[runID]
	if !ok {
		return db.ErrNotFound
	}
	run.CompletedAt = &completedAt
	run.Status = status
	run.RecordCount = recordCount
	run.Location = location
	run.Error = errMsg
	return nil
}

func (f *fakeStore) get(runID string) (db.CollectionRun, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	run, ok := f.runs[runID]
	if !ok {
		return db.CollectionRun{}, false
	}
	return *run, true
}

func (f *fakeStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.runs)
}

var started = time.Date(2025, 2, 27, 16, 0, 0, 0, time.UTC)

// =============================================================================
// Construction Tests
// =============================================================================

func TestNewWriter_ValidatesConfig(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{"zero channel", func(c *Config) { c.ChannelSize = 0 }},
		{"zero send timeout", func(c *Config) { c.SendTimeout = 0 }},
		{"negative write timeout", func(c *Config) { c.WriteTimeout = -time.Second }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := DefaultConfig()
			tt.modify(&config)
			if _, err := NewWriter(config, newFakeStore(), testutil.DiscardLogger()); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}

	if _, err := NewWriter(DefaultConfig(), nil, testutil.DiscardLogger()); err == nil {
		t.Error("expected error for nil store")
	}
}

// =============================================================================
// Write Tests
// =============================================================================

func TestWriter_StartedThenFinished(t *testing.T) {
	store := newFakeStore()
	writer, err := NewWriter(DefaultConfig(), store, testutil.DiscardLogger())
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}
	writer.Start()

	writer.RunStarted("run-1", started.Add(-time.Hour), started)
	writer.RunFinished("run-1", started.Add(-time.Hour), started.Add(time.Second), db.RunStatusPersisted, 15, "data/collected/data_x.json", nil)

	if err := writer.Shutdown(); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	run, ok := store.get("run-1")
	if !ok {
		t.Fatal("run-1 was not written")
	}
	if run.Status != db.RunStatusPersisted {
		t.Errorf("Status = %q, want %q", run.Status, db.RunStatusPersisted)
	}
	if run.RecordCount != 15 {
		t.Errorf("RecordCount = %d, want 15", run.RecordCount)
	}
	if run.Location == nil || *run.Location != "data/collected/data_x.json" {
		t.Errorf("Location = %v", run.Location)
	}
	if run.Error != nil {
		t.Errorf("Error should be nil, got %q", *run.Error)
	}

	stats := writer.Stats()
	if stats.Written != 2 || stats.Failed != 0 || stats.Dropped != 0 {
		t.Errorf("unexpected stats: %+v", stats)
	}
}

func TestWriter_FinishedWithoutStartCreatesRow(t *testing.T) {
	store := newFakeStore()
	writer, _ := NewWriter(DefaultConfig(), store, testutil.DiscardLogger())
	writer.Start()

	writer.RunFinished("run-1", started.Add(-time.Hour), started, db.RunStatusTransportFailure, 0, "", errors.New("connection refused"))

	if err := writer.Shutdown(); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	run, ok := store.get("run-1")
	if !ok {
		t.Fatal("run-1 was not written")
	}
	if run.CompletedAt == nil {
		t.Error("CompletedAt should be set")
	}
	if run.Error == nil || *run.Error != "connection refused" {
		t.Errorf("Error = %v, want connection refused", run.Error)
	}
	if run.Location != nil {
		t.Errorf("Location should be nil, got %q", *run.Location)
	}
}

func TestWriter_WriteFailureIsLogged(t *testing.T) {
	logger := testutil.NewTestLogger()
	store := newFakeStore()
	store.failWith = errors.New("database is locked")

	writer, _ := NewWriter(DefaultConfig(), store, logger.Logger())
	writer.Start()

	writer.RunStarted("run-1", started, started)
	writer.Shutdown()

	if writer.Stats().Failed != 1 {
		t.Errorf("expected 1 failed write, got %d", writer.Stats().Failed)
	}
	if !logger.Contains(slog.LevelError, "failed to write run update") {
		t.Error("expected error log for failed write")
	}
}

// =============================================================================
// Buffering Tests
// =============================================================================

func TestWriter_BufferFullDropsAfterTimeout(t *testing.T) {
	logger := testutil.NewTestLogger()
	config := DefaultConfig()
	config.ChannelSize = 1
	config.SendTimeout = 20 * time.Millisecond

	writer, _ := NewWriter(config, newFakeStore(), logger.Logger())
	// not started, so nothing drains the channel

	if err := writer.Record(RunUpdate{Kind: RunStarted, RunID: "run-1"}); err != nil {
		t.Fatalf("first Record failed: %v", err)
	}

	begin := time.Now()
	err := writer.Record(RunUpdate{Kind: RunStarted, RunID: "run-2"})
	if !errors.Is(err, ErrBufferFull) {
		t.Fatalf("expected ErrBufferFull, got %v", err)
	}
	if elapsed := time.Since(begin); elapsed < config.SendTimeout {
		t.Errorf("Record returned after %v, before the send timeout", elapsed)
	}

	if writer.Stats().Dropped != 1 {
		t.Errorf("expected 1 dropped update, got %d", writer.Stats().Dropped)
	}
	if !logger.HasWarning() {
		t.Error("expected a warning for the dropped update")
	}

	writer.Shutdown()
}

func TestWriter_RecordAssignsUpdateID(t *testing.T) {
	config := DefaultConfig()
	writer, _ := NewWriter(config, newFakeStore(), testutil.DiscardLogger())

	if err := writer.Record(RunUpdate{Kind: RunStarted, RunID: "run-1"}); err != nil {
		t.Fatalf("Record failed: %v", err)
	}

	update := <-writer.updates
	if update.UpdateID == "" {
		t.Error("expected an update id to be assigned")
	}
}

// =============================================================================
// Shutdown Tests
// =============================================================================

func TestWriter_ShutdownDrainsAll(t *testing.T) {
	store := newFakeStore()
	store.delay = time.Millisecond

	config := DefaultConfig()
	config.ChannelSize = 100
	writer, _ := NewWriter(config, store, testutil.DiscardLogger())
	writer.Start()

	for i := 0; i < 50; i++ {
		writer.RunStarted(fmt.Sprintf("run-%d", i), started, started)
	}

	if err := writer.Shutdown(); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}

	if store.count() != 50 {
		t.Errorf("expected 50 runs written, got %d", store.count())
	}
}

func TestWriter_ShutdownWithoutStart(t *testing.T) {
	store := newFakeStore()
	writer, _ := NewWriter(DefaultConfig(), store, testutil.DiscardLogger())

	writer.RunStarted("run-1", started, started)
	writer.Shutdown()

	if store.count() != 1 {
		t.Errorf("expected queued update to be drained, got %d runs", store.count())
	}
}

func TestWriter_RecordAfterShutdown(t *testing.T) {
	writer, _ := NewWriter(DefaultConfig(), newFakeStore(), testutil.DiscardLogger())
	writer.Start()

	if err := writer.Shutdown(); err != nil {
		t.Fatalf("Shutdown failed: %v", err)
	}
	if err := writer.Shutdown(); err != nil {
		t.Fatalf("second Shutdown failed: %v", err)
	}

	if err := writer.Record(RunUpdate{Kind: RunStarted, RunID: "late"}); !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
}

// =============================================================================
// Database Integration
// =============================================================================

func TestWriter_SQLite(t *testing.T) {
	config := db.Config{Driver: "sqlite3", DSN: ":memory:"}
	database, err := db.OpenWithConfig(config)
	if err != nil {
		t.Fatalf("OpenWithConfig failed: %v", err)
	}
	defer database.Close()
	if err := database.Migrate(context.Background(), config, nil); err != nil {
		t.Fatalf("Migrate failed: %v", err)
	}

	writer, _ := NewWriter(DefaultConfig(), database, testutil.DiscardLogger())
	writer.Start()

	writer.RunStarted("run-1", started.Add(-time.Hour), started)
	writer.RunFinished("run-1", started.Add(-time.Hour), started.Add(time.Second), db.RunStatusEmpty, 0, "", nil)
	writer.Shutdown()

	run, err := database.GetCollectionRun(context.Background(), "run-1")
	if err != nil {
		t.Fatalf("GetCollectionRun failed: %v", err)
	}
	if run.Status != db.RunStatusEmpty {
		t.Errorf("Status = %q, want %q", run.Status, db.RunStatusEmpty)
	}
	if run.CompletedAt == nil {
		t.Error("CompletedAt should be set")
	}
}
