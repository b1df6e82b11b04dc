package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"txreport/internal/calendar"
	"txreport/internal/core"
	"txreport/internal/store"
	"txreport/internal/store/memory"
)

func TestComputeOnDemandMonthlyAmount(t *testing.T) {
	st := memory.New(
		core.Transaction{Amount: 100, CreatedAt: at(2024, time.March, 20, 0), Status: "ok"},
		core.Transaction{Amount: 50, CreatedAt: at(2024, time.March, 21, 0), Status: "ok"},
		core.Transaction{Amount: 999, CreatedAt: at(2024, time.March, 21, 0), Status: "failed"},
	)
	a := NewFallbackAggregator(st)

	got, err := a.ComputeOnDemand(context.Background(), core.AggregationRequest{Type: core.ReportAmount, Mode: calendar.Monthly})
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	want := []core.ReportPoint{{Key: "1403 فروردین", Value: 150}}
	if len(got) != 1 || got[0] != want[0] {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestComputeOnDemandWeeklyMergesDays(t *testing.T) {
	st := memory.New(
		core.Transaction{Amount: 5, CreatedAt: at(2024, time.March, 20, 10), Status: "ok"},
		core.Transaction{Amount: 7, CreatedAt: at(2024, time.March, 22, 10), Status: "ok"},
	)
	got, err := NewFallbackAggregator(st).ComputeOnDemand(context.Background(),
		core.AggregationRequest{Type: core.ReportCount, Mode: calendar.Weekly})
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if len(got) != 1 || got[0].Value != 2 {
		t.Fatalf("expected one merged bucket with count 2, got %+v", got)
	}
	// Labelled from the earliest timestamp of the merge, not the ISO Monday.
	if got[0].Key != "هفته 1 سال 1403" {
		t.Errorf("key = %q", got[0].Key)
	}
}

func TestComputeOnDemandOrdersChronologically(t *testing.T) {
	// Inserted out of order; month names do not sort chronologically.
	st := memory.New(
		core.Transaction{Amount: 1, CreatedAt: at(2024, time.April, 25, 0), Status: "ok"},
		core.Transaction{Amount: 2, CreatedAt: at(2024, time.January, 5, 0), Status: "ok"},
		core.Transaction{Amount: 3, CreatedAt: at(2024, time.February, 25, 0), Status: "ok"},
		core.Transaction{Amount: 4, CreatedAt: at(2024, time.January, 6, 0), Status: "ok"},
	)
	a := NewFallbackAggregator(st)

	for _, mode := range calendar.PeriodTypes {
		got, err := a.ComputeOnDemand(context.Background(), core.AggregationRequest{Type: core.ReportAmount, Mode: mode})
		if err != nil {
			t.Fatalf("%s: %v", mode, err)
		}
		var firsts []time.Time
		switch mode {
		case calendar.Daily:
			firsts = []time.Time{at(2024, time.January, 5, 0), at(2024, time.January, 6, 0), at(2024, time.February, 25, 0), at(2024, time.April, 25, 0)}
		case calendar.Weekly:
			// Jan 5 (Fri) and Jan 6 (Sat) share 2024-W01.
			firsts = []time.Time{at(2024, time.January, 5, 0), at(2024, time.February, 25, 0), at(2024, time.April, 25, 0)}
		case calendar.Monthly:
			firsts = []time.Time{at(2024, time.January, 5, 0), at(2024, time.February, 25, 0), at(2024, time.April, 25, 0)}
		}
		if len(got) != len(firsts) {
			t.Fatalf("%s: got %d buckets, want %d: %+v", mode, len(got), len(firsts), got)
		}
		for i, ts := range firsts {
			if want := calendar.LocalKey(ts, mode); got[i].Key != want {
				t.Errorf("%s[%d]: key %q, want %q", mode, i, got[i].Key, want)
			}
		}
	}
}

func TestComputeOnDemandDecomposition(t *testing.T) {
	var txs []core.Transaction
	start := at(2024, time.February, 20, 3)
	for i := 0; i < 60; i++ {
		txs = append(txs, core.Transaction{
			Amount:    int64(i*3 + 1),
			CreatedAt: start.Add(time.Duration(i*17) * time.Hour),
			Status:    "ok",
		})
	}
	st := memory.New(txs...)
	a := NewFallbackAggregator(st)
	ctx := context.Background()

	// Sum daily values by the coarser ISO key of each day and compare.
	daily, err := a.ComputeOnDemand(ctx, core.AggregationRequest{Type: core.ReportAmount, Mode: calendar.Daily})
	if err != nil {
		t.Fatalf("daily: %v", err)
	}
	days, err := a.groupByDay(ctx, "")
	if err != nil {
		t.Fatalf("groupByDay: %v", err)
	}
	if len(days) != len(daily) {
		t.Fatalf("daily length mismatch %d vs %d", len(days), len(daily))
	}

	for _, mode := range []calendar.PeriodType{calendar.Weekly, calendar.Monthly} {
		merged, err := a.ComputeOnDemand(ctx, core.AggregationRequest{Type: core.ReportAmount, Mode: mode})
		if err != nil {
			t.Fatalf("%s: %v", mode, err)
		}
		var sums []int64
		index := map[string]int{}
		for i, d := range days {
			key := calendar.ISOKey(d.earliest, mode)
			j, ok := index[key]
			if !ok {
				j = len(sums)
				index[key] = j
				sums = append(sums, 0)
			}
			sums[j] += daily[i].Value
		}
		if len(sums) != len(merged) {
			t.Fatalf("%s: %d merged buckets, want %d", mode, len(merged), len(sums))
		}
		for i := range sums {
			if merged[i].Value != sums[i] {
				t.Errorf("%s[%d]: value %d, want %d", mode, i, merged[i].Value, sums[i])
			}
		}
	}
}

func TestComputeOnDemandMerchantFilter(t *testing.T) {
	st := memory.New(
		core.Transaction{Amount: 1, CreatedAt: at(2024, time.March, 20, 0), Status: "ok"},
		core.Transaction{Amount: 2, MerchantID: "m1", CreatedAt: at(2024, time.March, 20, 0), Status: "ok"},
		core.Transaction{Amount: 4, MerchantID: "m1", CreatedAt: at(2024, time.March, 20, 5), Status: "failed"},
	)
	a := NewFallbackAggregator(st)
	ctx := context.Background()

	tests := []struct {
		name     string
		merchant string
		want     []core.ReportPoint
	}{
		{"global", "", []core.ReportPoint{{Key: "1403/01/01", Value: 1}}},
		{"merchant", "m1", []core.ReportPoint{{Key: "1403/01/01", Value: 2}}},
		{"unknown merchant", "m9", []core.ReportPoint{}},
		{"unparseable merchant", "not valid", []core.ReportPoint{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := a.ComputeOnDemand(ctx, core.AggregationRequest{Type: core.ReportAmount, Mode: calendar.Daily, MerchantID: tt.merchant})
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got == nil {
				t.Fatal("result must be non-nil")
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %+v, want %+v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("[%d] = %+v, want %+v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestComputeOnDemandErrors(t *testing.T) {
	a := NewFallbackAggregator(failingReader{})
	_, err := a.ComputeOnDemand(context.Background(), core.AggregationRequest{Type: core.ReportAmount, Mode: calendar.Daily})
	if !errors.Is(err, store.ErrUnavailable) {
		t.Errorf("expected store error, got %v", err)
	}

	_, err = a.ComputeOnDemand(context.Background(), core.AggregationRequest{Type: "avg", Mode: calendar.Daily})
	if !errors.Is(err, core.ErrInvalidReportType) {
		t.Errorf("expected ErrInvalidReportType, got %v", err)
	}
}

func TestComputeOnDemandEmpty(t *testing.T) {
	got, err := NewFallbackAggregator(memory.New()).ComputeOnDemand(context.Background(),
		core.AggregationRequest{Type: core.ReportCount, Mode: calendar.Weekly})
	if err != nil {
		t.Fatalf("compute: %v", err)
	}
	if got == nil || len(got) != 0 {
		t.Fatalf("expected empty non-nil result, got %#v", got)
	}
}
