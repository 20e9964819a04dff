package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/livinlefevreloca/collector/internal/cycle"
	"github.com/livinlefevreloca/collector/internal/db"
	"github.com/livinlefevreloca/collector/internal/scheduler"
	"github.com/livinlefevreloca/collector/internal/timefmt"
	"github.com/livinlefevreloca/collector/internal/upstream"
)

const defaultRunsLimit = 20

// Scheduler is the part of the scheduler the API reads and triggers
type Scheduler interface {
	State() string
	LastRun() (scheduler.LastRun, bool)
	RunOnce(ctx context.Context) (*cycle.Result, error)
}

// CycleState reports the collection cycle's state machine position
type CycleState interface {
	State() string
}

// Window reports the tracker's view of the next request
type Window interface {
	NextWindowStart() time.Time
	LastRunTime() (time.Time, bool)
}

// RunStore reads the run history
type RunStore interface {
	ListCollectionRuns(ctx context.Context, limit int) ([]db.CollectionRun, error)
	GetRunSummary(ctx context.Context) (*db.RunSummary, error)
}

// Deps groups what the status API reports on
type Deps struct {
	Scheduler Scheduler
	Cycle     CycleState
	Window    Window
	Runs      RunStore
}

// Server serves the collector's status API
type Server struct {
	config Config
	deps   Deps
	logger *slog.Logger

	router *gin.Engine
	server *http.Server
}

// NewServer builds the router and HTTP server for the status API
func NewServer(config Config, deps Deps, logger *slog.Logger) (*Server, error) {
	if err := validateConfig(config); err != nil {
		return nil, err
	}
	if deps.Scheduler == nil || deps.Cycle == nil || deps.Window == nil || deps.Runs == nil {
		return nil, fmt.Errorf("status api needs scheduler, cycle, window and run store")
	}

	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		config: config,
		deps:   deps,
		logger: logger,
		router: gin.New(),
	}

	s.setupRoutes()
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.Address, config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 10 * time.Minute, // POST /collect waits for a whole cycle
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

func (s *Server) setupRoutes() {
	s.router.Use(gin.CustomRecovery(s.recoverPanic))
	s.router.Use(upstream.RequestLogger(s.logger))

	s.router.GET("/healthz", s.handleHealth)
	s.router.GET("/status", s.handleStatus)
	s.router.GET("/runs", s.handleRuns)
	s.router.POST("/collect", s.handleCollect)
}

// Handler exposes the router, mainly for httptest
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe blocks until the server stops; a graceful Shutdown is not an error
func (s *Server) ListenAndServe() error {
	s.logger.Info("status api listening", "address", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleStatus(c *gin.Context) {
	summary, err := s.deps.Runs.GetRunSummary(c.Request.Context())
	if err != nil {
		s.logger.Error("failed to read run summary", "error", err)
		c.JSON(http.StatusInternalServerError, errorBody{Error: "failed to read run summary"})
		return
	}

	resp := statusResponse{
		Scheduler:       s.deps.Scheduler.State(),
		Cycle:           s.deps.Cycle.State(),
		NextWindowStart: timefmt.Format(s.deps.Window.NextWindowStart()),
		Summary:         toSummaryBody(summary),
	}
	if at, ok := s.deps.Window.LastRunTime(); ok {
		resp.LastRunTime = timefmt.Format(at)
	}
	if last, ok := s.deps.Scheduler.LastRun(); ok {
		body := toResultBody(last.Result, last.Err)
		resp.LastRun = &body
	}

	c.JSON(http.StatusOK, resp)
}

func (s *Server) handleRuns(c *gin.Context) {
	limit := defaultRunsLimit
	if raw, ok := c.GetQuery("limit"); ok {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, errorBody{Error: fmt.Sprintf("limit must be a positive integer, got %q", raw)})
			return
		}
		limit = min(n, s.config.MaxRunsLimit)
	}

	runs, err := s.deps.Runs.ListCollectionRuns(c.Request.Context(), limit)
	if err != nil {
		s.logger.Error("failed to list runs", "error", err)
		c.JSON(http.StatusInternalServerError, errorBody{Error: "failed to list runs"})
		return
	}

	body := make([]runBody, 0, len(runs))
	for _, run := range runs {
		body = append(body, toRunBody(run))
	}
	c.JSON(http.StatusOK, gin.H{"runs": body, "count": len(body)})
}

// handleCollect runs a cycle now. The request context bounds only the wait for
// an in-flight cycle.
func (s *Server) handleCollect(c *gin.Context) {
	result, err := s.deps.Scheduler.RunOnce(c.Request.Context())
	if result == nil {
		switch {
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			c.JSON(http.StatusServiceUnavailable, errorBody{Error: "gave up waiting for the in-flight cycle"})
		case errors.Is(err, cycle.ErrInProgress):
			c.JSON(http.StatusConflict, errorBody{Error: err.Error()})
		default:
			s.logger.Error("manual cycle failed", "error", err)
			c.JSON(http.StatusInternalServerError, errorBody{Error: fmt.Sprint(err)})
		}
		return
	}

	c.JSON(collectStatus(result.Outcome), toResultBody(result, err))
}

// collectStatus maps a cycle outcome to the HTTP status of POST /collect
func collectStatus(outcome cycle.Outcome) int {
	switch outcome {
	case cycle.OutcomePersisted, cycle.OutcomeEmpty:
		return http.StatusOK
	case cycle.OutcomeRejected, cycle.OutcomeTransportFailure:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) recoverPanic(c *gin.Context, recovered any) {
	s.logger.Error("status api handler panicked",
		"method", c.Request.Method,
		"path", c.Request.URL.Path,
		"panic", fmt.Sprint(recovered))
	c.AbortWithStatusJSON(http.StatusInternalServerError, errorBody{Error: "internal server error"})
}
