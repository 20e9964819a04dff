package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"golang.org/x/sync/errgroup"

	"github.com/livinlefevreloca/collector/internal/api"
	"github.com/livinlefevreloca/collector/internal/config"
	"github.com/livinlefevreloca/collector/internal/cycle"
	"github.com/livinlefevreloca/collector/internal/db"
	"github.com/livinlefevreloca/collector/internal/history"
	"github.com/livinlefevreloca/collector/internal/logging"
	"github.com/livinlefevreloca/collector/internal/metrics"
	"github.com/livinlefevreloca/collector/internal/scheduler"
	"github.com/livinlefevreloca/collector/internal/store"
	"github.com/livinlefevreloca/collector/internal/tracker"
	"github.com/livinlefevreloca/collector/internal/upstream"
)

// shutdownMargin covers persisting and recording a batch after its fetch returns
const shutdownMargin = 15 * time.Second

// shutdownBudget bounds the graceful shutdown. A manual cycle may queue behind a
// timer cycle, and each fetch can take up to the upstream timeout.
func shutdownBudget(upstreamTimeout time.Duration) time.Duration {
	return 2*upstreamTimeout + shutdownMargin
}

func main() {
	configFile := flag.String("config", "", "Path to configuration file (TOML); defaults to $CONFIG_FILE")
	once := flag.Bool("once", false, "Run a single collection cycle and exit")
	flag.Parse()

	cfg, err := config.LoadConfig(config.ResolvePath(*configFile))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger, logCloser, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to set up logging: %v\n", err)
		os.Exit(1)
	}
	defer logCloser.Close()
	slog.SetDefault(logger)

	if err := run(cfg, logger, *once); err != nil {
		logger.Error("collector exited with error", "error", err)
		logCloser.Close()
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *slog.Logger, once bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting collector",
		"upstream", cfg.Upstream.DataURL(),
		"interval", cfg.Collector.Interval,
		"storage_dir", cfg.Storage.Directory,
		"persist_cursor", cfg.Collector.PersistCursor)

	// Run history database
	logger.Info("connecting to database", "driver", cfg.Database.Driver, "dsn", cfg.Database.DSN)
	database, err := db.OpenWithConfig(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	if err := database.Migrate(ctx, cfg.Database, logger); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	// Collection pipeline
	windows := tracker.New(cfg.Collector.Lookback, time.Now, logger)
	if cfg.Collector.PersistCursor {
		windows.WithCursorStore(database.Cursor(db.DefaultCursorName))
		if err := windows.Restore(ctx); err != nil {
			return fmt.Errorf("failed to restore collection cursor: %w", err)
		}
	}

	client, err := upstream.NewClient(cfg.Upstream, logger)
	if err != nil {
		return fmt.Errorf("failed to create upstream client: %w", err)
	}

	files, err := store.NewFileStore(cfg.Storage, logger)
	if err != nil {
		return fmt.Errorf("failed to create file store: %w", err)
	}

	writer, err := history.NewWriter(cfg.History, database, logger)
	if err != nil {
		return fmt.Errorf("failed to create history writer: %w", err)
	}
	writer.Start()
	defer func() {
		if err := writer.Shutdown(); err != nil {
			logger.Error("failed to drain run history", "error", err)
		}
	}()

	m := metrics.New()

	c, err := cycle.New(cfg.Collector.Cycle(), windows, client, files, logger,
		cycle.WithRecorder(writer),
		cycle.WithObserver(m))
	if err != nil {
		return fmt.Errorf("failed to create collection cycle: %w", err)
	}

	sched, err := scheduler.NewScheduler(cfg.Collector.Scheduler(), c, m, logger)
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}

	if once {
		result, err := sched.RunOnce(ctx)
		if err != nil {
			return err
		}
		logger.Info("single cycle finished", "outcome", string(result.Outcome), "data_cnt", result.RecordCount)
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)

	var statusServer *api.Server
	if cfg.HTTP.Enabled {
		statusServer, err = api.NewServer(cfg.HTTP, api.Deps{
			Scheduler: sched,
			Cycle:     c,
			Window:    windows,
			Runs:      database,
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to create status api: %w", err)
		}
		g.Go(statusServer.ListenAndServe)
	}

	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(cfg.Metrics, m, logger)
		g.Go(metricsServer.ListenAndServe)
	}

	if err := sched.Start(gctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	logger.Info("collector is running")

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down gracefully")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownBudget(cfg.Upstream.Timeout))
		defer cancel()

		// no new manual cycles once the status api is down
		if statusServer != nil {
			if err := statusServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("failed to shut down status api", "error", err)
			}
		}

		// the in-flight cycle finishes and reports before history drains
		sched.Stop()

		if metricsServer != nil {
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				logger.Error("failed to shut down metrics server", "error", err)
			}
		}
		return nil
	})

	return g.Wait()
}
