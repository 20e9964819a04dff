package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	namespace = "collector"

	// Cycle outcome labels
	OutcomePersisted        = "persisted"
	OutcomeEmpty            = "empty"
	OutcomeRejected         = "rejected"
	OutcomeTransportFailure = "transport_failure"
	OutcomeStorageFailure   = "storage_failure"
)

// Outcomes lists every outcome label; each is initialised to zero
var Outcomes = []string{
	OutcomePersisted,
	OutcomeEmpty,
	OutcomeRejected,
	OutcomeTransportFailure,
	OutcomeStorageFailure,
}

// Config holds the metrics endpoint settings
type Config struct {
	Enabled bool   `toml:"enabled"`
	Address string `toml:"address"`
	Port    int    `toml:"port"`
	Path    string `toml:"path"`
}

// DefaultConfig serves /metrics on :9090
func DefaultConfig() Config {
	return Config{
		Enabled: true,
		Address: "0.0.0.0",
		Port:    9090,
		Path:    "/metrics",
	}
}

// Validate checks the metrics settings
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("metrics port must be between 1 and 65535, got %d", c.Port)
	}
	if c.Path == "" || c.Path[0] != '/' {
		return fmt.Errorf("metrics path must start with '/', got %q", c.Path)
	}
	return nil
}

// Metrics holds the collector's Prometheus collectors on a dedicated registry
type Metrics struct {
	registry *prometheus.Registry

	cycles        *prometheus.CounterVec
	records       prometheus.Counter
	cycleDuration prometheus.Histogram
	ticksSkipped  prometheus.Counter
	lastSuccess   prometheus.Gauge
	truncated     prometheus.Counter
	droppedFuture prometheus.Counter
}

// New registers all collectors on a fresh registry
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	m := &Metrics{
		registry: reg,
		cycles: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Collection cycles by outcome",
		}, []string{"outcome"}),
		records: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "records_total",
			Help:      "Records persisted",
		}),
		cycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Duration of collection cycles",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
		}),
		ticksSkipped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ticks_skipped_total",
			Help:      "Scheduler ticks skipped because a cycle was still running",
		}),
		lastSuccess: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful cycle",
		}),
		truncated: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "truncated_batches_total",
			Help:      "Batches that reached the upstream record cap",
		}),
		droppedFuture: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "future_records_dropped_total",
			Help:      "Records dropped because their timestamp was after the collection time",
		}),
	}

	for _, outcome := range Outcomes {
		m.cycles.WithLabelValues(outcome)
	}

	return m
}

// Registry exposes the registry, mainly for tests
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveCycle records one finished cycle
func (m *Metrics) ObserveCycle(outcome string, records int, duration time.Duration, finishedAt time.Time) {
	m.cycles.WithLabelValues(outcome).Inc()
	m.cycleDuration.Observe(duration.Seconds())

	if outcome == OutcomePersisted || outcome == OutcomeEmpty {
		m.records.Add(float64(records))
		m.lastSuccess.Set(float64(finishedAt.Unix()))
	}
}

// TickSkipped counts a scheduler tick that found a cycle in flight
func (m *Metrics) TickSkipped() {
	m.ticksSkipped.Inc()
}

// BatchTruncated counts a response that reached the record cap
func (m *Metrics) BatchTruncated() {
	m.truncated.Inc()
}

// FutureRecordsDropped counts records discarded for being newer than the collection time
func (m *Metrics) FutureRecordsDropped(n int) {
	m.droppedFuture.Add(float64(n))
}

// Handler serves the registry in the Prometheus exposition format
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Server serves the metrics endpoint
type Server struct {
	server *http.Server
	logger *slog.Logger
}

// NewServer builds the metrics HTTP server
func NewServer(config Config, m *Metrics, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle(config.Path, m.Handler())

	return &Server{
		server: &http.Server{
			Addr:        net.JoinHostPort(config.Address, strconv.Itoa(config.Port)),
			Handler:     mux,
			ReadTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// ListenAndServe blocks until the server is shut down
func (s *Server) ListenAndServe() error {
	s.logger.Info("metrics server listening", "address", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
