package core

import (
	"errors"
	"time"

	"txreport/internal/calendar"
)

const (
	StatusFailed TransactionStatus = "failed"
)

type (
	TransactionStatus string

	// Transaction is a raw record from the upstream feed. It is read-only
	// to this module. An empty MerchantID means the transaction is not
	// attributed to any merchant.
	Transaction struct {
		ID         string
		Amount     int64 // smallest currency unit, missing values read as 0
		MerchantID string
		CreatedAt  time.Time
		Status     TransactionStatus
	}

	// SummaryRecord is one precomputed (period, merchant) rollup.
	// Identity is (PeriodType, ISOKey, MerchantID); an empty MerchantID is
	// the global row for unattributed transactions.
	SummaryRecord struct {
		PeriodType calendar.PeriodType
		ISOKey     string
		LocalKey   string
		MerchantID string
		Count      int64
		Amount     int64
		UpdatedAt  time.Time
	}

	// SummaryIdentity is the upsert key of a SummaryRecord.
	SummaryIdentity struct {
		PeriodType calendar.PeriodType
		ISOKey     string
		MerchantID string
	}
)

var (
	ErrInvalidReportType = errors.New("invalid report type")
	ErrInvalidMode       = errors.New("invalid report mode")
)

// Failed reports whether the transaction must be excluded from aggregation.
func (t Transaction) Failed() bool {
	return t.Status == StatusFailed
}

// Global reports whether the transaction has no merchant.
func (t Transaction) Global() bool {
	return t.MerchantID == ""
}

// Identity returns the composite key the record is upserted by.
func (s SummaryRecord) Identity() SummaryIdentity {
	return SummaryIdentity{
		PeriodType: s.PeriodType,
		ISOKey:     s.ISOKey,
		MerchantID: s.MerchantID,
	}
}

// Value returns the figure a report of type rt reads from the record.
func (s SummaryRecord) Value(rt ReportType) int64 {
	if rt == ReportCount {
		return s.Count
	}
	return s.Amount
}
