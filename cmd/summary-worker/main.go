package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"txreport/internal/cli"
	applog "txreport/internal/log"
)

func main() {
	cfg, err := cli.LoadConfig()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger, logCloser, err := cli.SetupLogger(cfg, applog.ComponentWorker)
	if err != nil {
		slog.Error("Failed to set up logging", "error", err)
		os.Exit(1)
	}
	defer logCloser.Close()

	logger.Info("Starting summary-worker")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	res, err := cli.OpenStore(ctx, cfg, logger.Logger)
	if err != nil {
		logger.Error("Failed to initialize backend", "error", err, "backend", cfg.DataBackend)
		os.Exit(1)
	}
	defer res.Cleanup()

	// Redis serializes rebuilds across hosts; without it only this process
	// is guarded.
	locker, closeLocker, err := cli.NewLocker(ctx, cfg, logger.Logger)
	if err != nil {
		logger.Error("Failed to set up rebuild lock", "error", err)
		os.Exit(1)
	}
	defer closeLocker()

	publisher, closePublisher := cli.NewPublisher(cfg, logger.Logger)
	defer closePublisher()

	w := cli.NewSummaryWorker(cfg, res.Store, locker, publisher)

	logger.Info("Summary rebuild configured",
		"interval", cfg.SummaryRebuildInterval,
		"batch_size", cfg.SummaryBatchSize,
		"backend", cfg.DataBackend)

	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx, cfg.SummaryRebuildInterval)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	logger.Info("Shutdown signal received", "signal", sig.String())
	cancel()

	select {
	case <-done:
		logger.Info("Summary-worker shutdown complete")
	case <-time.After(30 * time.Second):
		logger.Warn("Shutdown timeout reached")
	}
}
