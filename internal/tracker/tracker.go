package tracker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/livinlefevreloca/collector/internal/record"
)

// DefaultLookback is how far back the first window starts when nothing has been collected yet
const DefaultLookback = time.Hour

// CursorStore persists the last successful collection time across restarts
type CursorStore interface {
	LoadCursor(ctx context.Context) (time.Time, bool, error)
	SaveCursor(ctx context.Context, at time.Time) error
}

// Tracker owns the "collected through" cursor and decides where the next window starts.
// It is written only by the collection cycle, and only after a confirmed success.
type Tracker struct {
	lookback time.Duration
	now      func() time.Time
	logger   *slog.Logger

	mu          sync.RWMutex
	lastRunTime time.Time
	hasRun      bool

	cursor CursorStore
}

// New creates a tracker with no recorded run. A nil clock uses time.Now.
func New(lookback time.Duration, now func() time.Time, logger *slog.Logger) *Tracker {
	if lookback <= 0 {
		lookback = DefaultLookback
	}
	if now == nil {
		now = time.Now
	}

	return &Tracker{
		lookback: lookback,
		now:      now,
		logger:   logger,
	}
}

// WithCursorStore makes RecordSuccess also write the cursor to durable storage
func (t *Tracker) WithCursorStore(store CursorStore) *Tracker {
	t.cursor = store
	return t
}

// Restore loads the durable cursor, if one is configured and present.
// Without a cursor store the tracker keeps its reset-on-restart behaviour.
func (t *Tracker) Restore(ctx context.Context) error {
	if t.cursor == nil {
		return nil
	}

	at, ok, err := t.cursor.LoadCursor(ctx)
	if err != nil {
		return err
	}
	if !ok {
		t.logger.Info("no stored collection cursor, starting from lookback", "lookback", t.lookback)
		return nil
	}

	t.mu.Lock()
	t.lastRunTime = at
	t.hasRun = true
	t.mu.Unlock()

	t.logger.Info("restored collection cursor", "last_run_time", at)
	return nil
}

// NextWindowStart returns now-lookback before the first success, otherwise the
// time recorded by the last success. It has no side effects.
func (t *Tracker) NextWindowStart() time.Time {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if !t.hasRun {
		return t.now().Add(-t.lookback)
	}
	return t.lastRunTime
}

// NextWindow builds the window for a cycle that is about to issue its request
func (t *Tracker) NextWindow() record.Window {
	return record.Window{
		Start:       t.NextWindowStart(),
		RequestedAt: t.now(),
	}
}

// LastRunTime returns the recorded cursor and whether any run has succeeded
func (t *Tracker) LastRunTime() (time.Time, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.lastRunTime, t.hasRun
}

// RecordSuccess overwrites the cursor unconditionally. A failing cursor store is
// logged; the in-memory cursor advances regardless.
func (t *Tracker) RecordSuccess(ctx context.Context, at time.Time) {
	t.mu.Lock()
	t.lastRunTime = at
	t.hasRun = true
	t.mu.Unlock()

	if t.cursor == nil {
		return
	}
	if err := t.cursor.SaveCursor(ctx, at); err != nil {
		t.logger.Error("failed to persist collection cursor", "last_run_time", at, "error", err)
	}
}
