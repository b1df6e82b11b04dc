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

// FallbackAggregator computes report series straight from raw transactions
// when no precomputed summaries exist.
type FallbackAggregator struct {
	transactions store.TransactionReader
}

func NewFallbackAggregator(transactions store.TransactionReader) *FallbackAggregator {
	return &FallbackAggregator{transactions: transactions}
}

type dayBucket struct {
	isoKey   string
	earliest time.Time
	totals   core.Totals
}

// ComputeOnDemand groups transactions by Gregorian day and, for weekly and
// monthly requests, merges the days into ISO weeks or months. Buckets are
// ordered by their earliest transaction. A merchant ID the store cannot
// parse matches nothing.
func (a *FallbackAggregator) ComputeOnDemand(ctx context.Context, req core.AggregationRequest) ([]core.ReportPoint, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	days, err := a.groupByDay(ctx, req.MerchantID)
	if errors.Is(err, store.ErrInvalidMerchantID) {
		slog.DebugContext(ctx, "Unparseable merchant filter, returning empty report",
			"merchant_id", req.MerchantID)
		return []core.ReportPoint{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("aggregate transactions: %w", err)
	}

	if req.Mode != calendar.Daily {
		days = mergeBuckets(days, req.Mode)
	}

	out := make([]core.ReportPoint, 0, len(days))
	for _, b := range days {
		out = append(out, core.ReportPoint{
			Key:   calendar.LocalKey(b.earliest, req.Mode),
			Value: b.totals.Value(req.Type),
		})
	}
	return out, nil
}

// groupByDay returns day buckets sorted by earliest timestamp. An empty
// merchantID selects unattributed transactions, matching the global
// summary rows.
func (a *FallbackAggregator) groupByDay(ctx context.Context, merchantID string) ([]*dayBucket, error) {
	q := store.TransactionQuery{
		MerchantID:     merchantID,
		FilterMerchant: true,
		ExcludeFailed:  true,
	}

	index := make(map[string]*dayBucket)
	var days []*dayBucket
	err := a.transactions.ScanTransactions(ctx, q, func(tx core.Transaction) error {
		if tx.Failed() {
			return nil
		}
		ts := tx.CreatedAt.UTC()
		key := calendar.ISOKey(ts, calendar.Daily)
		b, ok := index[key]
		if !ok {
			b = &dayBucket{isoKey: key, earliest: ts}
			index[key] = b
			days = append(days, b)
		}
		if ts.Before(b.earliest) {
			b.earliest = ts
		}
		b.totals.Add(tx.Amount)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sortByEarliest(days)
	return days, nil
}

// mergeBuckets folds sorted day buckets into coarser buckets of mode,
// keeping the minimum timestamp of each merge.
func mergeBuckets(days []*dayBucket, mode calendar.PeriodType) []*dayBucket {
	index := make(map[string]*dayBucket)
	var merged []*dayBucket
	for _, d := range days {
		key := calendar.ISOKey(d.earliest, mode)
		m, ok := index[key]
		if !ok {
			m = &dayBucket{isoKey: key, earliest: d.earliest}
			index[key] = m
			merged = append(merged, m)
		}
		if d.earliest.Before(m.earliest) {
			m.earliest = d.earliest
		}
		m.totals.Merge(d.totals)
	}

	sortByEarliest(merged)
	return merged
}

func sortByEarliest(buckets []*dayBucket) {
	sort.SliceStable(buckets, func(i, j int) bool {
		return buckets[i].earliest.Before(buckets[j].earliest)
	})
}
