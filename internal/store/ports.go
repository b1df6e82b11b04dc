package store

import (
	"context"
	"errors"

	"txreport/internal/calendar"
	"txreport/internal/core"
)

var (
	// ErrInvalidMerchantID is returned when a merchant filter cannot be
	// parsed into the backend's identifier type.
	ErrInvalidMerchantID = errors.New("invalid merchant id")

	// ErrUnavailable wraps connectivity failures of the backing store.
	ErrUnavailable = errors.New("store unavailable")
)

type (
	// TransactionQuery filters a transaction scan.
	TransactionQuery struct {
		// MerchantID restricts the scan to one merchant. Empty selects
		// unattributed transactions when FilterMerchant is set.
		MerchantID string
		// FilterMerchant enables the merchant restriction. When false every
		// transaction is scanned regardless of merchant.
		FilterMerchant bool
		// ExcludeFailed skips transactions with status "failed".
		ExcludeFailed bool
	}

	// SummaryQuery selects summary rows of one granularity and merchant.
	// An empty MerchantID selects the global rows.
	SummaryQuery struct {
		PeriodType calendar.PeriodType
		MerchantID string
	}
)

// Ports for the storage adapters.
type (
	TransactionReader interface {
		// ScanTransactions calls fn for every transaction matching q. A
		// non-nil error from fn stops the scan and is returned.
		ScanTransactions(ctx context.Context, q TransactionQuery, fn func(core.Transaction) error) error
	}

	TransactionWriter interface {
		InsertTransactions(ctx context.Context, txs []core.Transaction) error
	}

	SummaryWriter interface {
		// BulkUpsertSummaries writes all records as one atomic batch,
		// overwriting rows with the same identity.
		BulkUpsertSummaries(ctx context.Context, records []core.SummaryRecord) error
	}

	SummaryReader interface {
		// FindSummaries returns the matching rows ordered by ISO key.
		FindSummaries(ctx context.Context, q SummaryQuery) ([]core.SummaryRecord, error)
	}

	// Store is implemented by every backend.
	Store interface {
		TransactionReader
		TransactionWriter
		SummaryWriter
		SummaryReader
		Ping(ctx context.Context) error
		Close() error
	}
)
