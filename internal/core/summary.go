package core

import (
	"fmt"

	"txreport/internal/calendar"
)

const (
	ReportAmount ReportType = "amount"
	ReportCount  ReportType = "count"
)

// ReportType selects which figure a report returns.
type ReportType string

// Valid reports whether rt is amount or count.
func (rt ReportType) Valid() bool {
	return rt == ReportAmount || rt == ReportCount
}

// AggregationRequest describes one report query. An empty MerchantID asks
// for the global (unattributed) series.
type AggregationRequest struct {
	Type       ReportType
	Mode       calendar.PeriodType
	MerchantID string
}

// Validate rejects unknown types and modes.
func (r AggregationRequest) Validate() error {
	if !r.Type.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidReportType, r.Type)
	}
	if !r.Mode.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidMode, r.Mode)
	}
	return nil
}

// CacheKey is a stable string form of the request.
func (r AggregationRequest) CacheKey() string {
	return string(r.Type) + "|" + string(r.Mode) + "|" + r.MerchantID
}

// ReportPoint is one {key, value} pair of a report series.
type ReportPoint struct {
	Key   string `json:"key"`
	Value int64  `json:"value"`
}

// Totals accumulates count and amount for a bucket.
type Totals struct {
	Count  int64
	Amount int64
}

// Add folds one transaction amount into the totals.
func (t *Totals) Add(amount int64) {
	t.Count++
	t.Amount += amount
}

// Merge folds another bucket into t.
func (t *Totals) Merge(o Totals) {
	t.Count += o.Count
	t.Amount += o.Amount
}

// Value returns the figure a report of type rt reads from the totals.
func (t Totals) Value(rt ReportType) int64 {
	if rt == ReportCount {
		return t.Count
	}
	return t.Amount
}
