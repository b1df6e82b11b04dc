package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"txreport/internal/calendar"
	"txreport/internal/core"
	"txreport/internal/store"
)

// DefaultSummaryBatchSize bounds the number of upserts sent in one bulk write.
const DefaultSummaryBatchSize = 1000

// SummaryBuilderConfig holds configuration for the batch summary builder
type SummaryBuilderConfig struct {
	// BatchSize is the max number of upserts per bulk write (default: 1000)
	BatchSize int

	// Clock returns the rebuild timestamp (default: time.Now)
	Clock func() time.Time
}

// DefaultSummaryBuilderConfig returns sensible defaults
func DefaultSummaryBuilderConfig() SummaryBuilderConfig {
	return SummaryBuilderConfig{
		BatchSize: DefaultSummaryBatchSize,
		Clock:     time.Now,
	}
}

// PassReport describes one granularity of a rebuild.
type PassReport struct {
	PeriodType   calendar.PeriodType
	Transactions int
	Rows         int
	Batches      int
	Err          error
}

// RebuildReport summarizes a full rebuild.
type RebuildReport struct {
	StartedAt time.Time
	Duration  time.Duration
	Passes    []PassReport
}

// Rows returns the number of summary rows written across all passes.
func (r RebuildReport) Rows() int {
	n := 0
	for _, p := range r.Passes {
		n += p.Rows
	}
	return n
}

// Granularities lists the passes that completed without error.
func (r RebuildReport) Granularities() []string {
	out := make([]string, 0, len(r.Passes))
	for _, p := range r.Passes {
		if p.Err == nil {
			out = append(out, string(p.PeriodType))
		}
	}
	return out
}

// SummaryBuilder recomputes every (period, merchant) rollup from raw
// transactions and overwrites the stored summaries.
type SummaryBuilder struct {
	transactions store.TransactionReader
	summaries    store.SummaryWriter
	config       SummaryBuilderConfig
}

func NewSummaryBuilder(transactions store.TransactionReader, summaries store.SummaryWriter, config SummaryBuilderConfig) *SummaryBuilder {
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultSummaryBatchSize
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}
	return &SummaryBuilder{
		transactions: transactions,
		summaries:    summaries,
		config:       config,
	}
}

type groupKey struct {
	isoKey     string
	merchantID string
}

type group struct {
	start  time.Time
	totals core.Totals
}

// RebuildAllSummaries runs the daily, weekly and monthly passes. The passes
// are independent: a failed pass does not stop or undo the others, and the
// returned error joins every pass failure.
func (b *SummaryBuilder) RebuildAllSummaries(ctx context.Context) (RebuildReport, error) {
	now := b.config.Clock().UTC()
	report := RebuildReport{StartedAt: now}

	var errs []error
	for _, pt := range calendar.PeriodTypes {
		pass, err := b.rebuild(ctx, pt, now)
		if err != nil {
			pass.Err = err
			errs = append(errs, fmt.Errorf("rebuild %s summaries: %w", pt, err))
			slog.ErrorContext(ctx, "Summary pass failed",
				"period_type", pt,
				"rows_written", pass.Rows,
				"error", err)
		} else {
			slog.InfoContext(ctx, "Summary pass completed",
				"period_type", pt,
				"transactions", pass.Transactions,
				"rows", pass.Rows,
				"batches", pass.Batches)
		}
		report.Passes = append(report.Passes, pass)
	}

	report.Duration = b.config.Clock().Sub(now)
	return report, errors.Join(errs...)
}

func (b *SummaryBuilder) rebuild(ctx context.Context, pt calendar.PeriodType, now time.Time) (PassReport, error) {
	pass := PassReport{PeriodType: pt}

	groups := make(map[groupKey]*group)
	q := store.TransactionQuery{ExcludeFailed: true}
	err := b.transactions.ScanTransactions(ctx, q, func(tx core.Transaction) error {
		if tx.Failed() {
			return nil
		}
		pass.Transactions++
		iso, start := bucketOf(tx.CreatedAt, pt)
		k := groupKey{isoKey: iso, merchantID: tx.MerchantID}
		g, ok := groups[k]
		if !ok {
			g = &group{start: start}
			groups[k] = g
		}
		g.totals.Add(tx.Amount)
		return nil
	})
	if err != nil {
		return pass, fmt.Errorf("scan transactions: %w", err)
	}

	keys := make([]groupKey, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].isoKey != keys[j].isoKey {
			return keys[i].isoKey < keys[j].isoKey
		}
		return keys[i].merchantID < keys[j].merchantID
	})

	batch := make([]core.SummaryRecord, 0, min(b.config.BatchSize, len(keys)))
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := b.summaries.BulkUpsertSummaries(ctx, batch); err != nil {
			return fmt.Errorf("bulk upsert %d rows: %w", len(batch), err)
		}
		pass.Batches++
		pass.Rows += len(batch)
		batch = batch[:0]
		return nil
	}

	for _, k := range keys {
		g := groups[k]
		batch = append(batch, core.SummaryRecord{
			PeriodType: pt,
			ISOKey:     k.isoKey,
			LocalKey:   calendar.LocalKey(g.start, pt),
			MerchantID: k.merchantID,
			Count:      g.totals.Count,
			Amount:     g.totals.Amount,
			UpdatedAt:  now,
		})
		if len(batch) >= b.config.BatchSize {
			if err := flush(); err != nil {
				return pass, err
			}
		}
	}
	if err := flush(); err != nil {
		return pass, err
	}
	return pass, nil
}

// bucketOf returns the ISO key of t's bucket and the date its local key is
// rendered from. Weekly buckets resolve to the Monday of the ISO week.
func bucketOf(t time.Time, pt calendar.PeriodType) (string, time.Time) {
	t = t.UTC()
	switch pt {
	case calendar.Weekly:
		year, week := t.ISOWeek()
		return calendar.ISOKey(t, pt), calendar.WeekStartOrJanFirst(year, week)
	case calendar.Monthly:
		return calendar.ISOKey(t, pt), calendar.MonthStart(t)
	default:
		return calendar.ISOKey(t, calendar.Daily), calendar.DayStart(t)
	}
}
