package services

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"txreport/internal/cache"
	"txreport/internal/core"
	"txreport/internal/store"
)

// OnDemandAggregator computes a report without precomputed summaries.
type OnDemandAggregator interface {
	ComputeOnDemand(ctx context.Context, req core.AggregationRequest) ([]core.ReportPoint, error)
}

// ReportService answers report queries from precomputed summaries and falls
// back to on-demand aggregation when none exist.
type ReportService struct {
	summaries store.SummaryReader
	fallback  OnDemandAggregator
	cache     cache.Cache[[]core.ReportPoint]
	group     singleflight.Group
}

// NewReportService wires the read path. A nil cache disables caching.
func NewReportService(summaries store.SummaryReader, fallback OnDemandAggregator, c cache.Cache[[]core.ReportPoint]) *ReportService {
	return &ReportService{
		summaries: summaries,
		fallback:  fallback,
		cache:     c,
	}
}

// Report returns the ordered {key, value} series for req. Concurrent
// identical requests share one computation.
func (s *ReportService) Report(ctx context.Context, req core.AggregationRequest) ([]core.ReportPoint, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	key := req.CacheKey()
	if s.cache != nil {
		if points, ok := s.cache.Get(key); ok {
			return points, nil
		}
	}

	v, err, shared := s.group.Do(key, func() (interface{}, error) {
		return s.compute(ctx, req)
	})
	if err != nil {
		return nil, err
	}
	points := v.([]core.ReportPoint)

	if s.cache != nil && !shared {
		s.cache.Set(key, points)
	}
	return points, nil
}

// InvalidateAll drops every cached report. Called after a rebuild.
func (s *ReportService) InvalidateAll() int {
	if s.cache == nil {
		return 0
	}
	return s.cache.Purge()
}

func (s *ReportService) compute(ctx context.Context, req core.AggregationRequest) ([]core.ReportPoint, error) {
	rows, err := s.summaries.FindSummaries(ctx, store.SummaryQuery{
		PeriodType: req.Mode,
		MerchantID: req.MerchantID,
	})
	if err != nil {
		return nil, fmt.Errorf("find summaries: %w", err)
	}

	if len(rows) == 0 {
		slog.DebugContext(ctx, "No precomputed summaries, aggregating on demand",
			"mode", req.Mode,
			"type", req.Type,
			"merchant_id", req.MerchantID)
		return s.fallback.ComputeOnDemand(ctx, req)
	}

	points := make([]core.ReportPoint, 0, len(rows))
	for _, r := range rows {
		points = append(points, core.ReportPoint{Key: r.LocalKey, Value: r.Value(req.Type)})
	}
	return points, nil
}
