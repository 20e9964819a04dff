package cycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/looplab/fsm"

	"github.com/livinlefevreloca/collector/internal/record"
	"github.com/livinlefevreloca/collector/internal/timefmt"
	"github.com/livinlefevreloca/collector/internal/upstream"
)

// Cycle states
const (
	StateIdle       = "idle"
	StateRequesting = "requesting"
	StatePersisting = "persisting"
)

const (
	eventRequest = "request"
	eventPersist = "persist"
	eventFinish  = "finish"
)

// Outcome classifies a finished cycle. The values double as run history statuses
// and metric labels.
type Outcome string

const (
	OutcomePersisted        Outcome = "persisted"
	OutcomeEmpty            Outcome = "empty"
	OutcomeRejected         Outcome = "rejected"
	OutcomeTransportFailure Outcome = "transport_failure"
	OutcomeStorageFailure   Outcome = "storage_failure"
)

// Succeeded reports whether the tracker was advanced
func (o Outcome) Succeeded() bool {
	return o == OutcomePersisted || o == OutcomeEmpty
}

// ErrInProgress is returned when Run is called while another cycle is running
var ErrInProgress = errors.New("cycle: already in progress")

// Tracker is the cursor the cycle reads and advances
type Tracker interface {
	NextWindow() record.Window
	RecordSuccess(ctx context.Context, at time.Time)
}

// Fetcher calls the data API
type Fetcher interface {
	Fetch(ctx context.Context, windowStart time.Time, limit bool) (*upstream.Response, error)
}

// Persister writes a batch and returns where it went
type Persister interface {
	Persist(ctx context.Context, batch *record.Batch) (string, error)
}

// RunRecorder receives the start and outcome of every cycle
type RunRecorder interface {
	RunStarted(runID string, windowStart, startedAt time.Time)
	RunFinished(runID string, windowStart, completedAt time.Time, status string, recordCount int, location string, err error)
}

// Observer receives cycle measurements
type Observer interface {
	ObserveCycle(outcome string, records int, duration time.Duration, finishedAt time.Time)
	BatchTruncated()
	FutureRecordsDropped(n int)
}

// Result describes one finished cycle
type Result struct {
	RunID          string
	Window         record.Window
	Outcome        Outcome
	RecordCount    int
	Location       string // persisted file, empty unless Outcome is OutcomePersisted
	CollectionTime time.Time
	Duration       time.Duration
}

// Cycle performs one request/classify/persist pass per Run
type Cycle struct {
	config    Config
	tracker   Tracker
	fetcher   Fetcher
	persister Persister
	recorder  RunRecorder
	observer  Observer
	now       func() time.Time
	logger    *slog.Logger

	fsm *fsm.FSM
}

// Option configures optional collaborators
type Option func(*Cycle)

// WithRecorder sends run start and outcome to the run history
func WithRecorder(r RunRecorder) Option {
	return func(c *Cycle) { c.recorder = r }
}

// WithObserver sends measurements to metrics
func WithObserver(o Observer) Option {
	return func(c *Cycle) { c.observer = o }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) Option {
	return func(c *Cycle) { c.now = now }
}

// New wires a cycle from its collaborators
func New(config Config, tracker Tracker, fetcher Fetcher, persister Persister, logger *slog.Logger, opts ...Option) (*Cycle, error) {
	if err := validateConfig(config); err != nil {
		return nil, err
	}
	if tracker == nil || fetcher == nil || persister == nil {
		return nil, fmt.Errorf("tracker, fetcher and persister are required")
	}

	c := &Cycle{
		config:    config,
		tracker:   tracker,
		fetcher:   fetcher,
		persister: persister,
		recorder:  nopRecorder{},
		observer:  nopObserver{},
		now:       time.Now,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(c)
	}

	c.fsm = fsm.NewFSM(
		StateIdle,
		fsm.Events{
			{Name: eventRequest, Src: []string{StateIdle}, Dst: StateRequesting},
			{Name: eventPersist, Src: []string{StateRequesting}, Dst: StatePersisting},
			{Name: eventFinish, Src: []string{StateRequesting, StatePersisting}, Dst: StateIdle},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				c.logger.Debug("cycle state changed", "from", e.Src, "to", e.Dst)
			},
		},
	)

	return c, nil
}

// State returns the current cycle state
func (c *Cycle) State() string {
	return c.fsm.Current()
}

// transition moves the state machine. Transitions are local, so they ignore
// cancellation of the caller's context.
func (c *Cycle) transition(ctx context.Context, event string) error {
	return c.fsm.Event(context.WithoutCancel(ctx), event)
}

// Run executes one cycle. The tracker advances only when upstream answered with
// success and, for a non-empty answer, the batch was persisted. A failed cycle
// returns both the Result and the classified error.
func (c *Cycle) Run(ctx context.Context) (*Result, error) {
	if err := c.transition(ctx, eventRequest); err != nil {
		return nil, ErrInProgress
	}
	defer func() {
		if err := c.transition(ctx, eventFinish); err != nil {
			c.logger.Error("failed to return cycle to idle", "error", err)
		}
	}()

	started := c.now()
	result := &Result{
		RunID:  uuid.NewString(),
		Window: c.tracker.NextWindow(),
	}
	logger := c.logger.With("run_id", result.RunID)

	c.recorder.RunStarted(result.RunID, result.Window.Start, started)
	logger.Info("starting collection cycle", "window_start", result.Window.StartString())

	if result.Window.Start.After(result.Window.RequestedAt) {
		logger.Warn("window start is in the future",
			"window_start", result.Window.StartString(),
			"requested_at", timefmt.Format(result.Window.RequestedAt))
	}

	resp, err := c.fetcher.Fetch(ctx, result.Window.Start, true)
	if err != nil {
		result.Outcome = classifyFetchError(err)
		logger.Error("data api call failed", "outcome", string(result.Outcome), "error", err)
		return c.finish(result, started, err)
	}

	// the cap applies to what upstream sent, before any local filtering
	if upstreamCount := len(resp.Records); upstreamCount >= c.config.MaxRecords {
		logger.Warn("batch reached the record cap, later records may be missing until the next cycle",
			"data_cnt", upstreamCount,
			"max_records", c.config.MaxRecords)
		c.observer.BatchTruncated()
	}

	result.CollectionTime = c.now()
	records := c.dropFutureRecords(logger, resp.Records, result.CollectionTime)
	result.RecordCount = len(records)

	if result.RecordCount == 0 {
		c.tracker.RecordSuccess(ctx, result.CollectionTime)
		result.Outcome = OutcomeEmpty
		logger.Info("no new records", "window_start", result.Window.StartString())
		return c.finish(result, started, nil)
	}

	if err := c.transition(ctx, eventPersist); err != nil {
		logger.Error("failed to enter persisting state", "error", err)
	}

	startTime := resp.StartTime
	if startTime == "" {
		startTime = result.Window.StartString()
	}
	batch := &record.Batch{
		StartTime:      startTime,
		CollectionTime: result.CollectionTime,
		Records:        records,
	}

	location, err := c.persister.Persist(ctx, batch)
	if err != nil {
		result.Outcome = OutcomeStorageFailure
		logger.Error("failed to persist batch", "data_cnt", result.RecordCount, "error", err)
		return c.finish(result, started, err)
	}

	c.tracker.RecordSuccess(ctx, result.CollectionTime)
	result.Outcome = OutcomePersisted
	result.Location = location
	logger.Info("collection cycle complete", "data_cnt", result.RecordCount, "path", location)
	return c.finish(result, started, nil)
}

func (c *Cycle) finish(result *Result, started time.Time, err error) (*Result, error) {
	completed := c.now()
	result.Duration = completed.Sub(started)

	c.observer.ObserveCycle(string(result.Outcome), result.RecordCount, result.Duration, completed)
	c.recorder.RunFinished(result.RunID, result.Window.Start, completed, string(result.Outcome), result.RecordCount, result.Location, err)

	return result, err
}

// dropFutureRecords removes records stamped after the collection time
func (c *Cycle) dropFutureRecords(logger *slog.Logger, records []record.Record, collectedAt time.Time) []record.Record {
	kept := make([]record.Record, 0, len(records))
	for _, r := range records {
		at, err := r.Time()
		if err == nil && at.After(collectedAt) {
			continue
		}
		kept = append(kept, r)
	}

	if dropped := len(records) - len(kept); dropped > 0 {
		logger.Warn("dropping records timestamped after the collection time",
			"dropped", dropped,
			"collection_time", timefmt.Format(collectedAt))
		c.observer.FutureRecordsDropped(dropped)
	}
	return kept
}

func classifyFetchError(err error) Outcome {
	if errors.Is(err, upstream.ErrUpstreamRejected) {
		return OutcomeRejected
	}
	return OutcomeTransportFailure
}

type nopRecorder struct{}

func (nopRecorder) RunStarted(string, time.Time, time.Time) {}
func (nopRecorder) RunFinished(string, time.Time, time.Time, string, int, string, error) {}

type nopObserver struct{}

func (nopObserver) ObserveCycle(string, int, time.Duration, time.Time) {}
func (nopObserver) BatchTruncated()                                    {}
func (nopObserver) FutureRecordsDropped(int)                           {}
