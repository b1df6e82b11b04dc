// Package cli holds the startup steps shared by cmd/txreport,
// cmd/summary-worker and cmd/precompute-summaries.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/joho/godotenv"

	"txreport/internal/amqp"
	"txreport/internal/backend"
	"txreport/internal/config"
	"txreport/internal/lock"
	applog "txreport/internal/log"
	"txreport/internal/services"
	"txreport/internal/store"
	"txreport/internal/worker"
)

// LoadConfig reads an optional .env file, then loads and validates the
// configuration.
func LoadConfig() (*config.Config, error) {
	// Load .env file for local development (ignore errors in production/docker)
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// SetupLogger installs the process-wide logger for component.
func SetupLogger(cfg *config.Config, component string) (*applog.Logger, io.Closer, error) {
	return applog.Setup(cfg.LogOptions(), component)
}

// OpenStore opens the backend selected by DATA_BACKEND.
func OpenStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*backend.BackendResult, error) {
	backendCfg, err := backend.FromAppConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("invalid backend configuration: %w", err)
	}
	res, err := backend.NewFactory(logger.With(applog.FieldComponent, applog.ComponentBackend)).CreateBackend(ctx, backendCfg)
	if err != nil {
		return nil, fmt.Errorf("initialize %s backend: %w", cfg.DataBackend, err)
	}
	return res, nil
}

// NewLocker returns a Redis-backed rebuild lock when REDIS_ADDRESS is set and
// a process-local one otherwise. The returned close func is never nil.
func NewLocker(ctx context.Context, cfg *config.Config, logger *slog.Logger) (lock.Locker, func() error, error) {
	if cfg.RedisAddress == "" {
		logger.Info("Redis disabled - rebuild lock is process local")
		return lock.NewLocalLocker(), func() error { return nil }, nil
	}
	rdb, err := lock.ConnectRedis(ctx, cfg.RedisAddress, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to redis at %s: %w", cfg.RedisAddress, err)
	}
	logger.Info("Rebuild lock backed by Redis", "address", cfg.RedisAddress)
	return lock.NewRedisLocker(rdb), rdb.Close, nil
}

// NewPublisher connects the rebuild announcer. A missing AMQP_URL or a failed
// connection yields a nil Publisher; rebuilds then go unannounced.
func NewPublisher(cfg *config.Config, logger *slog.Logger) (worker.Publisher, func() error) {
	noop := func() error { return nil }
	if cfg.AMQPURL == "" {
		logger.Info("AMQP disabled - rebuilds will not be announced")
		return nil, noop
	}
	// The publisher only declares the exchange; queues belong to readers.
	client, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, "")
	if err != nil {
		logger.Warn("Failed to initialize AMQP client, rebuilds will not be announced", "error", err)
		return nil, noop
	}
	logger.Info("AMQP client initialized", "exchange", cfg.AMQPExchange)
	return client, client.Close
}

// NewSummaryWorker wires a builder over st into a locked worker.
func NewSummaryWorker(cfg *config.Config, st store.Store, locker lock.Locker, publisher worker.Publisher) *worker.SummaryWorker {
	builder := services.NewSummaryBuilder(st, st, services.SummaryBuilderConfig{
		BatchSize: cfg.SummaryBatchSize,
		Clock:     time.Now,
	})
	return worker.NewSummaryWorker(builder, locker, publisher, cfg.RebuildLockTTL)
}
