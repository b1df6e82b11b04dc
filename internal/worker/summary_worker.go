package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"txreport/internal/amqp"
	"txreport/internal/lock"
	applog "txreport/internal/log"
	"txreport/internal/services"
)

// RebuildLockKey is the lock shared by every rebuild runner.
const RebuildLockKey = "txreport:summaries:rebuild"

// Rebuilder runs a full summary rebuild.
type Rebuilder interface {
	RebuildAllSummaries(ctx context.Context) (services.RebuildReport, error)
}

// Publisher announces a finished rebuild.
type Publisher interface {
	PublishSummariesRebuilt(ctx context.Context, msg *amqp.SummariesRebuiltMessage) error
}

// Outcome of one scheduled run.
type Outcome int

const (
	Rebuilt Outcome = iota
	Skipped
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Rebuilt:
		return "rebuilt"
	case Skipped:
		return "skipped"
	default:
		return "failed"
	}
}

// SummaryWorker runs rebuilds on a schedule. Runs never overlap: each one
// holds the rebuild lock, and a run that cannot take it is skipped.
type SummaryWorker struct {
	builder   Rebuilder
	locker    lock.Locker
	publisher Publisher
	lockTTL   time.Duration
}

// NewSummaryWorker wires a worker. publisher may be nil.
func NewSummaryWorker(builder Rebuilder, locker lock.Locker, publisher Publisher, lockTTL time.Duration) *SummaryWorker {
	if locker == nil {
		locker = lock.NewLocalLocker()
	}
	if lockTTL <= 0 {
		lockTTL = 30 * time.Minute
	}
	return &SummaryWorker{
		builder:   builder,
		locker:    locker,
		publisher: publisher,
		lockTTL:   lockTTL,
	}
}

// RunOnce performs a single locked rebuild and publishes the result.
func (w *SummaryWorker) RunOnce(ctx context.Context) (Outcome, error) {
	lk, err := w.locker.Obtain(ctx, RebuildLockKey, w.lockTTL)
	if errors.Is(err, lock.ErrNotObtained) {
		slog.InfoContext(ctx, "Rebuild already running elsewhere, skipping")
		return Skipped, nil
	}
	if err != nil {
		return Failed, fmt.Errorf("obtain rebuild lock: %w", err)
	}
	defer func() {
		if err := lk.Release(context.WithoutCancel(ctx)); err != nil {
			slog.WarnContext(ctx, "Failed to release rebuild lock", "error", err)
		}
	}()

	report, err := w.builder.RebuildAllSummaries(ctx)
	if err != nil {
		return Failed, fmt.Errorf("rebuild summaries: %w", err)
	}

	slog.InfoContext(ctx, "Summaries rebuilt",
		applog.FieldOperation, applog.OpRebuild,
		applog.FieldRows, report.Rows(),
		"duration", report.Duration)

	if w.publisher != nil {
		msg := amqp.NewSummariesRebuiltMessage(report.StartedAt, report.Granularities(), report.Rows(), report.Duration)
		if err := w.publisher.PublishSummariesRebuilt(ctx, msg); err != nil {
			// Readers fall back to cache expiry.
			slog.ErrorContext(ctx, "Failed to publish rebuild event", "error", err)
		}
	}
	return Rebuilt, nil
}

// Run rebuilds immediately and then every interval until ctx is cancelled.
// Failures are logged and retried on the next tick.
func (w *SummaryWorker) Run(ctx context.Context, interval time.Duration) {
	w.tick(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.InfoContext(ctx, "Summary worker stopped", "reason", ctx.Err())
			return
		case now := <-ticker.C:
			w.tick(ctx)
			slog.DebugContext(ctx, "Next rebuild scheduled", "at", now.Add(interval).Format(time.RFC3339))
		}
	}
}

func (w *SummaryWorker) tick(ctx context.Context) {
	outcome, err := w.RunOnce(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "Scheduled rebuild failed", "outcome", outcome, "error", err)
	}
}
