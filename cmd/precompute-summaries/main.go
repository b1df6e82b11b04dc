// Command precompute-summaries rebuilds every transaction summary once and
// exits. It takes the same rebuild lock as summary-worker.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"txreport/internal/cli"
	applog "txreport/internal/log"
	"txreport/internal/worker"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := cli.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return 1
	}

	logger, logCloser, err := cli.SetupLogger(cfg, applog.ComponentBuilder)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to set up logging: %v\n", err)
		return 1
	}
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res, err := cli.OpenStore(ctx, cfg, logger.Logger)
	if err != nil {
		logger.Error("Failed to initialize backend", "error", err, "backend", cfg.DataBackend)
		return 1
	}
	defer res.Cleanup()

	locker, closeLocker, err := cli.NewLocker(ctx, cfg, logger.Logger)
	if err != nil {
		logger.Error("Failed to set up rebuild lock", "error", err)
		return 1
	}
	defer closeLocker()

	publisher, closePublisher := cli.NewPublisher(cfg, logger.Logger)
	defer closePublisher()

	w := cli.NewSummaryWorker(cfg, res.Store, locker, publisher)

	fmt.Println("Starting summary precomputation...")
	outcome, err := w.RunOnce(ctx)
	switch {
	case err != nil:
		logger.Error("Summary precomputation failed", "error", err)
		fmt.Fprintf(os.Stderr, "Summary precomputation failed: %v\n", err)
		return 1
	case outcome == worker.Skipped:
		fmt.Fprintln(os.Stderr, "Another rebuild is in progress; nothing was done.")
		return 1
	}

	fmt.Println("Successfully precomputed all transaction summaries.")
	return 0
}
