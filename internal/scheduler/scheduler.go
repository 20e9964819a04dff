package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/livinlefevreloca/collector/internal/cycle"
)

// Scheduler states
const (
	StateStopped = "stopped"
	StateRunning = "running"
)

// Runner executes one collection cycle
type Runner interface {
	Run(ctx context.Context) (*cycle.Result, error)
}

// TickObserver is told about ticks dropped because a cycle was in flight
type TickObserver interface {
	TickSkipped()
}

// Scheduler fires a collection cycle immediately on Start and then once per
// interval. At most one cycle runs at a time.
type Scheduler struct {
	// Configuration
	config   Config
	runner   Runner
	observer TickObserver
	logger   *slog.Logger

	// held for the duration of every cycle, timer-driven or manual
	busy *semaphore.Weighted

	// Control
	mu       sync.Mutex
	state    string
	shutdown chan struct{}
	done     chan struct{}

	resultMu sync.RWMutex
	lastRun  LastRun
}

// LastRun is the outcome of the most recent cycle
type LastRun struct {
	Result     *cycle.Result
	Err        error
	FinishedAt time.Time
}

// NewScheduler creates a stopped scheduler
func NewScheduler(config Config, runner Runner, observer TickObserver, logger *slog.Logger) (*Scheduler, error) {
	if err := validateConfig(config); err != nil {
		return nil, err
	}
	if runner == nil {
		return nil, fmt.Errorf("runner must not be nil")
	}

	return &Scheduler{
		config:   config,
		runner:   runner,
		observer: observer,
		logger:   logger,
		busy:     semaphore.NewWeighted(1),
		state:    StateStopped,
	}, nil
}

// Start launches the timer loop. The first cycle fires immediately. Cycles run
// on a context detached from ctx's cancellation so Stop, not ctx, ends them.
// Starting a running scheduler logs a warning and does nothing.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.state == StateRunning {
		s.logger.Warn("scheduler already running")
		return nil
	}

	s.state = StateRunning
	s.shutdown = make(chan struct{})
	s.done = make(chan struct{})

	s.logger.Info("starting scheduler", "interval", s.config.Interval)
	go s.run(context.WithoutCancel(ctx), s.shutdown, s.done)
	return nil
}

// Stop ends the timer loop and waits for an in-flight cycle, timer or manual, to finish.
// Stopping a stopped scheduler logs a warning and does nothing.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.state == StateStopped {
		s.mu.Unlock()
		s.logger.Warn("scheduler is not running")
		return
	}
	s.state = StateStopped
	close(s.shutdown)
	done := s.done
	s.mu.Unlock()

	s.logger.Info("stopping scheduler, waiting for in-flight cycle")
	<-done

	// a manual cycle holds the guard without the loop knowing about it
	_ = s.busy.Acquire(context.Background(), 1)
	s.busy.Release(1)
	s.logger.Info("scheduler stopped")
}

// State returns StateRunning or StateStopped
func (s *Scheduler) State() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// RunOnce runs a cycle now, waiting for an in-flight cycle to finish first.
// ctx bounds only the wait; once started the cycle runs to completion.
func (s *Scheduler) RunOnce(ctx context.Context) (*cycle.Result, error) {
	if err := s.busy.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("waiting for in-flight cycle: %w", err)
	}
	defer s.busy.Release(1)

	s.logger.Info("running manually triggered cycle")
	return s.runCycle(context.WithoutCancel(ctx))
}

// LastRun returns the most recent cycle outcome, and false before any cycle has finished
func (s *Scheduler) LastRun() (LastRun, bool) {
	s.resultMu.RLock()
	defer s.resultMu.RUnlock()
	return s.lastRun, !s.lastRun.FinishedAt.IsZero()
}

// run is the main scheduler loop
func (s *Scheduler) run(ctx context.Context, shutdown <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	s.tick(ctx)

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-shutdown:
			return

		case <-ticker.C:
			// a shutdown that raced with the tick wins
			select {
			case <-shutdown:
				return
			default:
			}
			s.tick(ctx)
		}
	}
}

// tick runs a cycle unless one is already in flight
func (s *Scheduler) tick(ctx context.Context) {
	if !s.busy.TryAcquire(1) {
		s.logger.Warn("previous cycle still running, skipping tick")
		if s.observer != nil {
			s.observer.TickSkipped()
		}
		return
	}
	defer s.busy.Release(1)

	_, _ = s.runCycle(ctx)
}

// runCycle runs the cycle and contains any panic so the loop survives it
func (s *Scheduler) runCycle(ctx context.Context) (result *cycle.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("collection cycle panicked", "panic", r)
			result, err = nil, fmt.Errorf("collection cycle panicked: %v", r)
		}

		s.resultMu.Lock()
		s.lastRun = LastRun{Result: result, Err: err, FinishedAt: time.Now()}
		s.resultMu.Unlock()
	}()

	result, err = s.runner.Run(ctx)
	if err != nil {
		// the cycle already logged the failure with its run id
		s.logger.Debug("collection cycle failed, will retry on next tick", "error", err)
	}
	return result, err
}
