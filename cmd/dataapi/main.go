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

	"golang.org/x/sync/errgroup"

	"github.com/livinlefevreloca/collector/internal/config"
	"github.com/livinlefevreloca/collector/internal/logging"
	"github.com/livinlefevreloca/collector/internal/upstream"
)

func main() {
	configFile := flag.String("config", "", "Path to configuration file (TOML); defaults to $CONFIG_FILE")
	seed := flag.Uint64("seed", uint64(time.Now().UnixNano()), "Seed for generated record values")
	flag.Parse()

	cfg, err := config.LoadConfig(config.ResolvePath(*configFile))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.ValidateServer(); err != nil {
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

	if err := run(cfg.Server, *seed, logger); err != nil {
		logger.Error("data api exited with error", "error", err)
		logCloser.Close()
		os.Exit(1)
	}
}

func run(cfg upstream.ServerConfig, seed uint64, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	server, err := upstream.NewServer(cfg, upstream.NewGenerator(cfg.SampleStep, time.Now, seed), logger)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.ListenAndServe)
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down data api")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
