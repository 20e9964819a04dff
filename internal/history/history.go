package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/livinlefevreloca/collector/internal/db"
)

var (
	// ErrClosed is returned by Record after Shutdown
	ErrClosed = errors.New("history: writer closed")
	// ErrBufferFull is returned when an update could not be queued within the send timeout
	ErrBufferFull = errors.New("history: buffer full")
)

// Writer records collection runs to the database from a background goroutine
// so a slow database never stalls a cycle
type Writer struct {
	config Config
	store  Store
	logger *slog.Logger

	updates chan RunUpdate

	// held for reading while sending so Shutdown never closes under a sender
	mu     sync.RWMutex
	closed bool

	written atomic.Int64
	failed  atomic.Int64
	dropped atomic.Int64

	startOnce sync.Once
	wg        sync.WaitGroup
}

// NewWriter creates a writer with the specified configuration
func NewWriter(config Config, store Store, logger *slog.Logger) (*Writer, error) {
	if err := validateConfig(config); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, fmt.Errorf("history store must not be nil")
	}

	return &Writer{
		config:  config,
		store:   store,
		logger:  logger,
		updates: make(chan RunUpdate, config.ChannelSize),
	}, nil
}

// Start launches the background writer goroutine
func (w *Writer) Start() {
	w.startOnce.Do(func() {
		w.wg.Add(1)
		go w.run()
	})
}

// Record queues an update. It waits at most SendTimeout for channel space.
func (w *Writer) Record(update RunUpdate) error {
	if update.UpdateID == "" {
		update.UpdateID = uuid.NewString()
	}

	w.mu.RLock()
	defer w.mu.RUnlock()

	if w.closed {
		return ErrClosed
	}

	select {
	case w.updates <- update:
		return nil
	default:
	}

	timer := time.NewTimer(w.config.SendTimeout)
	defer timer.Stop()

	select {
	case w.updates <- update:
		return nil
	case <-timer.C:
		w.dropped.Add(1)
		w.logger.Warn("run history buffer full, dropping update",
			"update_id", update.UpdateID,
			"run_id", update.RunID,
			"kind", update.Kind.String())
		return ErrBufferFull
	}
}

// RunStarted records that a cycle began collecting a window
func (w *Writer) RunStarted(runID string, windowStart, startedAt time.Time) {
	err := w.Record(RunUpdate{
		Kind:        RunStarted,
		RunID:       runID,
		WindowStart: windowStart,
		At:          startedAt,
		Status:      db.RunStatusRunning,
	})
	if err != nil && !errors.Is(err, ErrBufferFull) {
		w.logger.Warn("failed to record run start", "run_id", runID, "error", err)
	}
}

// RunFinished records the outcome of a cycle
func (w *Writer) RunFinished(runID string, windowStart, completedAt time.Time, status string, recordCount int, location string, runErr error) {
	update := RunUpdate{
		Kind:        RunCompleted,
		RunID:       runID,
		WindowStart: windowStart,
		At:          completedAt,
		Status:      status,
		RecordCount: recordCount,
		Location:    location,
	}
	if runErr != nil {
		update.Error = runErr.Error()
	}

	if err := w.Record(update); err != nil && !errors.Is(err, ErrBufferFull) {
		w.logger.Warn("failed to record run outcome", "run_id", runID, "error", err)
	}
}

// Stats returns current writer statistics
func (w *Writer) Stats() Stats {
	return Stats{
		Pending: len(w.updates),
		Written: w.written.Load(),
		Failed:  w.failed.Load(),
		Dropped: w.dropped.Load(),
	}
}

func (w *Writer) run() {
	defer w.wg.Done()

	for update := range w.updates {
		if err := w.write(update); err != nil {
			w.failed.Add(1)
			w.logger.Error("failed to write run update",
				"update_id", update.UpdateID,
				"run_id", update.RunID,
				"kind", update.Kind.String(),
				"error", err)
			continue
		}

		w.written.Add(1)
		w.logger.Debug("wrote run update",
			"update_id", update.UpdateID,
			"run_id", update.RunID,
			"kind", update.Kind.String())
	}

	w.logger.Debug("run history writer shut down")
}

func (w *Writer) write(update RunUpdate) error {
	ctx, cancel := context.WithTimeout(context.Background(), w.config.WriteTimeout)
	defer cancel()

	switch update.Kind {
	case RunStarted:
		err := w.store.CreateCollectionRun(ctx, &db.CollectionRun{
			RunID:       update.RunID,
			WindowStart: update.WindowStart,
			StartedAt:   update.At,
			Status:      update.Status,
		})
		if db.IsDuplicate(err) {
			return nil
		}
		return err

	case RunCompleted:
		location := optional(update.Location)
		errMsg := optional(update.Error)

		err := w.store.CompleteCollectionRun(ctx, update.RunID, update.At, update.Status, update.RecordCount, location, errMsg)
		if !db.IsNotFound(err) {
			return err
		}

		// the start update was lost; write the whole row
		completedAt := update.At
		return w.store.CreateCollectionRun(ctx, &db.CollectionRun{
			RunID:       update.RunID,
			WindowStart: update.WindowStart,
			StartedAt:   update.At,
			CompletedAt: &completedAt,
			Status:      update.Status,
			RecordCount: update.RecordCount,
			Location:    location,
			Error:       errMsg,
		})

	default:
		return fmt.Errorf("unknown update kind %d", update.Kind)
	}
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// Shutdown stops accepting updates and waits until every queued update is written
func (w *Writer) Shutdown() error {
	w.logger.Info("starting run history shutdown", "pending", len(w.updates))

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return nil
	}
	w.closed = true
	close(w.updates)
	w.mu.Unlock()

	// drain even if Start was never called
	w.Start()
	w.wg.Wait()

	w.logger.Info("run history shutdown complete",
		"written", w.written.Load(),
		"failed", w.failed.Load(),
		"dropped", w.dropped.Load())
	return nil
}
