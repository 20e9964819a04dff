package upstream

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"

	"github.com/livinlefevreloca/collector/internal/record"
	"github.com/livinlefevreloca/collector/internal/timefmt"
)

const (
	msgSuccess          = "success"
	msgMissingStartTime = "startTime is required"
)

// errorBody is the payload of 4xx/5xx responses
type errorBody struct {
	Detail string `json:"detail"`
}

// Server serves the data API that the collector polls
type Server struct {
	config    ServerConfig
	generator *Generator
	logger    *slog.Logger

	router *gin.Engine
	server *http.Server
}

// NewServer builds the router and HTTP server for the data API
func NewServer(config ServerConfig, generator *Generator, logger *slog.Logger) (*Server, error) {
	if err := validateServerConfig(config); err != nil {
		return nil, err
	}

	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		config:    config,
		generator: generator,
		logger:    logger,
		router:    gin.New(),
	}

	s.setupRoutes()
	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.Address, config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

func (s *Server) setupRoutes() {
	s.router.Use(gin.CustomRecovery(s.recoverPanic))
	s.router.Use(RequestLogger(s.logger))
	if s.config.Compress {
		s.router.Use(gzip.Gzip(gzip.DefaultCompression))
	}

	s.router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := s.router.Group("/api")
	api.POST("/data", s.handleData)
}

// Handler exposes the router, mainly for httptest
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe blocks until the server stops; a graceful Shutdown is not an error
func (s *Server) ListenAndServe() error {
	s.logger.Info("data api listening", "address", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

// handleData returns generated records from startTime until now
func (s *Server) handleData(c *gin.Context) {
	var req record.DataRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.logger.Warn("invalid data request", "error", err)
		c.JSON(http.StatusBadRequest, errorBody{Detail: fmt.Sprintf("invalid request: %v", err)})
		return
	}

	if req.StartTime == "" {
		s.logger.Warn("invalid data request", "error", msgMissingStartTime)
		c.JSON(http.StatusBadRequest, errorBody{Detail: msgMissingStartTime})
		return
	}

	start, err := timefmt.Parse(req.StartTime)
	if err != nil {
		s.logger.Warn("malformed startTime", "start_time", req.StartTime, "error", err)
		c.JSON(http.StatusBadRequest, errorBody{Detail: fmt.Sprintf("malformed startTime: %v", err)})
		return
	}

	maxRecords, err := s.maxRecords(c)
	if err != nil {
		s.logger.Warn("invalid max_records", "error", err)
		c.JSON(http.StatusBadRequest, errorBody{Detail: err.Error()})
		return
	}

	count := maxRecords
	if req.LimitYn.Limited() {
		count = min(s.config.LimitedCount, maxRecords)
	}

	s.logger.Info("data request received",
		"start_time", timefmt.Format(start),
		"limit_yn", req.LimitYn.String(),
		"max_records", maxRecords)

	records := s.generator.Generate(start, count)

	s.logger.Info("data response ready", "data_cnt", len(records))
	c.JSON(http.StatusOK, record.DataResponse{
		StartTime: timefmt.Format(start),
		ResCode:   record.CodeSuccess,
		ResMsg:    msgSuccess,
		DataCnt:   len(records),
		Data:      records,
	})
}

// maxRecords reads the optional max_records query parameter, capped at the configured maximum
func (s *Server) maxRecords(c *gin.Context) (int, error) {
	raw, ok := c.GetQuery("max_records")
	if !ok {
		return s.config.MaxRecords, nil
	}

	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("max_records must be a positive integer, got %q", raw)
	}
	return min(n, s.config.MaxRecords), nil
}

func (s *Server) recoverPanic(c *gin.Context, recovered any) {
	s.logger.Error("data api handler panicked",
		"method", c.Request.Method,
		"path", c.Request.URL.Path,
		"panic", fmt.Sprint(recovered))
	c.AbortWithStatusJSON(http.StatusInternalServerError, errorBody{Detail: "internal server error"})
}

// RequestLogger logs one line per request with its latency
func RequestLogger(logger *slog.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		if raw := c.Request.URL.RawQuery; raw != "" {
			path = path + "?" + raw
		}

		c.Next()

		logger.Debug("http request",
			"method", c.Request.Method,
			"path", path,
			"status", c.Writer.Status(),
			"latency", time.Since(start),
			"client_ip", c.ClientIP())
	}
}
