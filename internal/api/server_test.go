package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/livinlefevreloca/collector/internal/cycle"
	"github.com/livinlefevreloca/collector/internal/db"
	"github.com/livinlefevreloca/collector/internal/record"
	"github.com/livinlefevreloca/collector/internal/scheduler"
	"github.com/livinlefevreloca/collector/internal/testutil"
	"github.com/livinlefevreloca/collector/internal/upstream"
)

var windowStart = time.Date(2025, 2, 27, 15, 0, 0, 0, time.Local)

// =============================================================================
// Fakes
// =============================================================================

type fakeScheduler struct {
	state   string
	last    scheduler.LastRun
	hasLast bool

	result  *cycle.Result
	err     error
	lastCtx context.Context
	calls   int
}

func (f *fakeScheduler) State() string { return f.state }

func (f *fakeScheduler) LastRun() (scheduler.LastRun, bool) { return f.last, f.hasLast }

func (f *fakeScheduler) RunOnce(ctx context.Context) (*cycle.Result, error) {
	f.calls++
	f.lastCtx = ctx
	return f.result, f.err
}

type fakeCycle struct{ state string }

func (f fakeCycle) State() string { return f.state }

type fakeWindow struct {
	next    time.Time
	last    time.Time
	hasLast bool
}

func (f fakeWindow) NextWindowStart() time.Time { return f.next }

func (f fakeWindow) LastRunTime() (time.Time, bool) { return f.last, f.hasLast }

type fakeRuns struct {
	runs      []db.CollectionRun
	summary   db.RunSummary
	err       error
	lastLimit int
}

func (f *fakeRuns) ListCollectionRuns(_ context.Context, limit int) ([]db.CollectionRun, error) {
	f.lastLimit = limit
	if f.err != nil {
		return nil, f.err
	}
	if limit < len(f.runs) {
		return f.runs[:limit], nil
	}
	return f.runs, nil
}

func (f *fakeRuns) GetRunSummary(_ context.Context) (*db.RunSummary, error) {
	if f.err != nil {
		return nil, f.err
	}
	s := f.summary
	return &s, nil
}

type fixture struct {
	server *Server
	sched  *fakeScheduler
	runs   *fakeRuns
	logger *testutil.TestLogger
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		sched:  &fakeScheduler{state: scheduler.StateRunning},
		runs:   &fakeRuns{},
		logger: testutil.NewTestLogger(),
	}
	deps := Deps{
		Scheduler: f.sched,
		Cycle:     fakeCycle{state: cycle.StateIdle},
		Window:    fakeWindow{next: windowStart},
		Runs:      f.runs,
	}
	server, err := NewServer(DefaultConfig(), deps, f.logger.Logger())
	require.NoError(t, err)
	f.server = server
	return f
}

func (f *fixture) do(t *testing.T, method, target string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(method, target, nil)
	f.server.Handler().ServeHTTP(w, req)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body), "body: %s", w.Body.String())
	return w, body
}

// =============================================================================
// Construction
// =============================================================================

func TestNewServer_Validation(t *testing.T) {
	deps := Deps{
		Scheduler: &fakeScheduler{},
		Cycle:     fakeCycle{},
		Window:    fakeWindow{},
		Runs:      &fakeRuns{},
	}

	config := DefaultConfig()
	config.Port = 0
	_, err := NewServer(config, deps, testutil.DiscardLogger())
	assert.Error(t, err)

	_, err = NewServer(DefaultConfig(), Deps{}, testutil.DiscardLogger())
	assert.Error(t, err)

	disabled := DefaultConfig()
	disabled.Enabled = false
	disabled.Port = 0
	assert.NoError(t, disabled.Validate(), "a disabled server skips port validation")
}

// =============================================================================
// Read endpoints
// =============================================================================

func TestHealthz(t *testing.T) {
	f := newFixture(t)

	w, body := f.do(t, http.MethodGet, "/healthz")

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", body["status"])
}

func TestStatus_BeforeAnyRun(t *testing.T) {
	f := newFixture(t)

	w, body := f.do(t, http.MethodGet, "/status")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, scheduler.StateRunning, body["scheduler"])
	assert.Equal(t, cycle.StateIdle, body["cycle"])
	assert.Equal(t, "2025-02-27T15:00:00", body["next_window_start"])
	assert.NotContains(t, body, "last_run_time")
	assert.NotContains(t, body, "last_run")
}

func TestStatus_AfterRun(t *testing.T) {
	f := newFixture(t)
	lastSuccess := windowStart.Add(time.Hour).UTC()
	f.runs.summary = db.RunSummary{TotalRuns: 3, SucceededRuns: 2, FailedRuns: 1, RecordsCollected: 30, LastSuccessAt: &lastSuccess}
	f.sched.hasLast = true
	f.sched.last = scheduler.LastRun{
		Result: &cycle.Result{
			RunID:       "run-1",
			Window:      record.Window{Start: windowStart},
			Outcome:     cycle.OutcomeTransportFailure,
			RecordCount: 0,
		},
		Err:        errors.New("connection refused"),
		FinishedAt: lastSuccess,
	}
	f.server.deps.Window = fakeWindow{next: windowStart, last: windowStart.Add(time.Hour), hasLast: true}

	w, body := f.do(t, http.MethodGet, "/status")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "2025-02-27T16:00:00", body["last_run_time"])

	summary := body["summary"].(map[string]any)
	assert.EqualValues(t, 3, summary["total_runs"])
	assert.EqualValues(t, 30, summary["records_collected"])
	assert.Equal(t, "2025-02-27T16:00:00", summary["last_success_at"])

	last := body["last_run"].(map[string]any)
	assert.Equal(t, "run-1", last["run_id"])
	assert.Equal(t, string(cycle.OutcomeTransportFailure), last["outcome"])
	assert.Equal(t, "connection refused", last["error"])
}

func TestStatus_SummaryError(t *testing.T) {
	f := newFixture(t)
	f.runs.err = errors.New("database is locked")

	w, _ := f.do(t, http.MethodGet, "/status")

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.True(t, f.logger.HasError())
}

func TestRuns(t *testing.T) {
	location := "data/collected/data_20250227_160000.json"
	completed := windowStart.Add(time.Hour + time.Second)
	runs := []db.CollectionRun{
		{RunID: "run-2", WindowStart: windowStart, StartedAt: windowStart.Add(time.Hour), CompletedAt: &completed, Status: db.RunStatusPersisted, RecordCount: 15, Location: &location},
		{RunID: "run-1", WindowStart: windowStart, StartedAt: windowStart, Status: db.RunStatusRunning},
	}

	tests := []struct {
		name      string
		target    string
		wantCode  int
		wantLimit int
		wantCount int
	}{
		{name: "default limit", target: "/runs", wantCode: http.StatusOK, wantLimit: defaultRunsLimit, wantCount: 2},
		{name: "explicit limit", target: "/runs?limit=1", wantCode: http.StatusOK, wantLimit: 1, wantCount: 1},
		{name: "limit capped", target: "/runs?limit=100000", wantCode: http.StatusOK, wantLimit: DefaultConfig().MaxRunsLimit, wantCount: 2},
		{name: "zero limit", target: "/runs?limit=0", wantCode: http.StatusBadRequest},
		{name: "non-numeric limit", target: "/runs?limit=abc", wantCode: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.runs.runs = runs

			w, body := f.do(t, http.MethodGet, tt.target)

			require.Equal(t, tt.wantCode, w.Code)
			if tt.wantCode != http.StatusOK {
				assert.Contains(t, body["error"], "limit")
				return
			}
			assert.Equal(t, tt.wantLimit, f.runs.lastLimit)
			assert.EqualValues(t, tt.wantCount, body["count"])

			first := body["runs"].([]any)[0].(map[string]any)
			assert.Equal(t, "run-2", first["run_id"])
			assert.Equal(t, location, first["location"])
			assert.Equal(t, "2025-02-27T16:00:01", first["completed_at"])
		})
	}
}

// =============================================================================
// POST /collect
// =============================================================================

func TestCollect(t *testing.T) {
	tests := []struct {
		name     string
		result   *cycle.Result
		err      error
		wantCode int
	}{
		{
			name:     "persisted",
			result:   &cycle.Result{RunID: "r", Outcome: cycle.OutcomePersisted, RecordCount: 15, Location: "data_x.json", CollectionTime: windowStart.Add(time.Hour)},
			wantCode: http.StatusOK,
		},
		{
			name:     "empty",
			result:   &cycle.Result{RunID: "r", Outcome: cycle.OutcomeEmpty},
			wantCode: http.StatusOK,
		},
		{
			name:     "rejected",
			result:   &cycle.Result{RunID: "r", Outcome: cycle.OutcomeRejected},
			err:      upstream.ErrUpstreamRejected,
			wantCode: http.StatusBadGateway,
		},
		{
			name:     "transport failure",
			result:   &cycle.Result{RunID: "r", Outcome: cycle.OutcomeTransportFailure},
			err:      upstream.ErrTransportFailure,
			wantCode: http.StatusBadGateway,
		},
		{
			name:     "storage failure",
			result:   &cycle.Result{RunID: "r", Outcome: cycle.OutcomeStorageFailure, RecordCount: 15},
			err:      errors.New("store: storage failure"),
			wantCode: http.StatusInternalServerError,
		},
		{
			name:     "gave up waiting",
			err:      context.Canceled,
			wantCode: http.StatusServiceUnavailable,
		},
		{
			name:     "cycle busy",
			err:      cycle.ErrInProgress,
			wantCode: http.StatusConflict,
		},
		{
			name:     "panicked",
			err:      errors.New("collection cycle panicked: boom"),
			wantCode: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.sched.result = tt.result
			f.sched.err = tt.err

			w, body := f.do(t, http.MethodPost, "/collect")

			assert.Equal(t, tt.wantCode, w.Code)
			assert.Equal(t, 1, f.sched.calls)
			if tt.result != nil {
				assert.Equal(t, string(tt.result.Outcome), body["outcome"])
				assert.EqualValues(t, tt.result.RecordCount, body["record_count"])
			}
			if tt.err != nil {
				assert.NotEmpty(t, body["error"])
			}
		})
	}
}

func TestCollect_OnlyPost(t *testing.T) {
	f := newFixture(t)

	w := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/collect", nil))

	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, 0, f.sched.calls)
}

// =============================================================================
// SQLite-backed run store
// =============================================================================

func TestRuns_SQLite(t *testing.T) {
	config := db.Config{Driver: "sqlite3", DSN: ":memory:"}
	database, err := db.OpenWithConfig(config)
	require.NoError(t, err)
	defer database.Close()
	require.NoError(t, database.Migrate(context.Background(), config, nil))

	ctx := context.Background()
	started := windowStart.Add(time.Hour)
	require.NoError(t, database.CreateCollectionRun(ctx, &db.CollectionRun{
		RunID:       "run-1",
		WindowStart: windowStart,
		StartedAt:   started,
	}))
	require.NoError(t, database.CompleteCollectionRun(ctx, "run-1", started.Add(time.Second), db.RunStatusEmpty, 0, nil, nil))

	f := newFixture(t)
	f.server.deps.Runs = database

	w, body := f.do(t, http.MethodGet, "/runs")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, body["count"])

	w, body = f.do(t, http.MethodGet, "/status")
	require.Equal(t, http.StatusOK, w.Code)
	summary := body["summary"].(map[string]any)
	assert.EqualValues(t, 1, summary["succeeded_runs"])
	assert.True(t, strings.HasPrefix(summary["last_success_at"].(string), "2025-02-27T16:00:01"))
}
