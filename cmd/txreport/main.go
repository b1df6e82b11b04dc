package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"txreport/internal/amqp"
	"txreport/internal/cache"
	"txreport/internal/cli"
	"txreport/internal/core"
	apphttp "txreport/internal/http"
	applog "txreport/internal/log"
	"txreport/internal/services"
)

func main() {
	cfg, err := cli.LoadConfig()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger, logCloser, err := cli.SetupLogger(cfg, applog.ComponentApp)
	if err != nil {
		slog.Error("Failed to set up logging", "error", err)
		os.Exit(1)
	}
	defer logCloser.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	res, err := cli.OpenStore(ctx, cfg, logger.Logger)
	if err != nil {
		logger.Error("Failed to initialize backend", "error", err, "backend", cfg.DataBackend)
		os.Exit(1)
	}
	defer func() {
		if err := res.Cleanup(); err != nil {
			logger.Error("Backend cleanup failed", "error", err)
		}
	}()

	// Report cache, expired on a schedule and purged on every rebuild.
	var (
		reportCache cache.Cache[[]core.ReportPoint]
		cacheCacheInspector  apphttp.CacheInspector
	)
	cacheManager := cache.NewManager()
	if cfg.ReportCacheSize > 0 {
		lru := cache.NewLRUCache[[]core.ReportPoint](cfg.ReportCacheSize, cfg.ReportCacheTTL)
		cacheManager.Register(lru)
		reportCache, cacheCacheInspector = lru, lru
	}
	cacheManager.StartCleanup(time.Minute)
	defer cacheManager.Stop()

	reports := services.NewReportService(res.Store, services.NewFallbackAggregator(res.Store), reportCache)

	if cfg.AMQPURL != "" {
		amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
		if err != nil {
			logger.Warn("Failed to initialize AMQP client, cache will expire by TTL only", "error", err)
		} else {
			defer amqpClient.Close()
			go consumeRebuilds(ctx, amqpClient, reports)
		}
	}

	srv := apphttp.NewServer(":"+cfg.Port, reports, res.Store, cacheCacheInspector, apphttp.Options{
		RateLimitRPS:   cfg.RateLimitRPS,
		RateLimitBurst: cfg.RateLimitBurst,
		Logger:         logger.WithComponent(applog.ComponentHTTP),
	})

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		logger.Info("Shutdown signal received", "signal", sig.String())

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("Server shutdown error", "error", err)
		}
		cancel()
	}()

	logger.Info("Starting txreport server", "port", cfg.Port, "backend", cfg.DataBackend)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("Server error", "error", err, "port", cfg.Port)
		os.Exit(1)
	}

	<-ctx.Done()
	logger.Info("Server stopped gracefully")
}

// consumeRebuilds purges the report cache whenever a rebuild is announced.
// A broken consumer reconnects and resumes until ctx is cancelled.
func consumeRebuilds(ctx context.Context, client *amqp.Client, reports *services.ReportService) {
	logger := slog.Default().With(applog.FieldComponent, applog.ComponentAMQP, applog.FieldOperation, applog.OpConsume)
	handler := func(ctx context.Context, msg *amqp.SummariesRebuiltMessage) error {
		purged := reports.InvalidateAll()
		logger.InfoContext(ctx, "Report cache purged after rebuild",
			"message_id", msg.ID,
			"rebuilt_at", msg.RebuiltAt,
			"rows", msg.Rows,
			"entries_purged", purged)
		return nil
	}

	for {
		err := client.ConsumeSummariesRebuilt(ctx, handler)
		if ctx.Err() != nil {
			return
		}
		logger.WarnContext(ctx, "Rebuild event consumer stopped, reconnecting", "error", err)
		if err := client.Reconnect(ctx); err != nil {
			return
		}
	}
}
