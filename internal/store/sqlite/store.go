package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"txreport/internal/calendar"
	"txreport/internal/core"
	"txreport/internal/store"

	_ "modernc.org/sqlite"
)

// timeLayout is fixed width so text ordering matches time ordering.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Store persists transactions and summaries in a SQLite database. Transaction
// and merchant identifiers are ULIDs.
type Store struct {
	db *sql.DB
}

var _ store.Store = (*Store)(nil)

func New(dbPath string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// One writer at a time; SQLite serializes writes anyway.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", store.ErrUnavailable, err)
	}
	return nil
}

// ParseMerchantID returns the canonical form of a ULID merchant identifier.
func ParseMerchantID(id string) (string, error) {
	u, err := ulid.ParseStrict(id)
	if err != nil {
		return "", fmt.Errorf("%w: %q", store.ErrInvalidMerchantID, id)
	}
	return u.String(), nil
}

func (s *Store) ScanTransactions(ctx context.Context, q store.TransactionQuery, fn func(core.Transaction) error) error {
	var (
		where []string
		args  []any
	)
	if q.FilterMerchant {
		if q.MerchantID == "" {
			where = append(where, "(merchant_id IS NULL OR merchant_id = '')")
		} else {
			id, err := ParseMerchantID(q.MerchantID)
			if err != nil {
				return err
			}
			where = append(where, "merchant_id = ?")
			args = append(args, id)
		}
	}
	if q.ExcludeFailed {
		where = append(where, "status <> ?")
		args = append(args, string(core.StatusFailed))
	}

	query := `SELECT id, COALESCE(amount, 0), COALESCE(merchant_id, ''), created_at, status FROM transactions`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at, id"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("query transactions: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			tx        core.Transaction
			createdAt string
			status    string
		)
		if err := rows.Scan(&tx.ID, &tx.Amount, &tx.MerchantID, &createdAt, &status); err != nil {
			return fmt.Errorf("scan transaction: %w", err)
		}
		tx.CreatedAt, err = time.Parse(timeLayout, createdAt)
		if err != nil {
			return fmt.Errorf("parse created_at of %s: %w", tx.ID, err)
		}
		tx.Status = core.TransactionStatus(status)
		if err := fn(tx); err != nil {
			return err
		}
	}
	return rows.Err()
}

// InsertTransactions stores txs in one SQL transaction. Missing IDs are
// assigned new ULIDs.
func (s *Store) InsertTransactions(ctx context.Context, txs []core.Transaction) error {
	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer dbTx.Rollback()

	stmt, err := dbTx.PrepareContext(ctx,
		`INSERT INTO transactions (id, amount, merchant_id, created_at, status) VALUES (?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, tx := range txs {
		id := tx.ID
		if id == "" {
			id = ulid.Make().String()
		}
		var merchant any
		if tx.MerchantID != "" {
			m, err := ParseMerchantID(tx.MerchantID)
			if err != nil {
				return err
			}
			merchant = m
		}
		if _, err := stmt.ExecContext(ctx, id, tx.Amount, merchant, tx.CreatedAt.UTC().Format(timeLayout), string(tx.Status)); err != nil {
			return fmt.Errorf("insert transaction %s: %w", id, err)
		}
	}

	if err := dbTx.Commit(); err != nil {
		return fmt.Errorf("commit transactions: %w", err)
	}
	return nil
}

// BulkUpsertSummaries writes records in one SQL transaction, so a batch is
// applied entirely or not at all.
func (s *Store) BulkUpsertSummaries(ctx context.Context, records []core.SummaryRecord) error {
	if len(records) == 0 {
		return nil
	}

	dbTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer dbTx.Rollback()

	stmt, err := dbTx.PrepareContext(ctx, `
		INSERT INTO transaction_summary
			(period_type, period_key_iso, period_key_local, merchant_id, count, amount, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (period_type, period_key_iso, merchant_id) DO UPDATE SET
			period_key_local = excluded.period_key_local,
			count = excluded.count,
			amount = excluded.amount,
			updated_at = excluded.updated_at`)
	if err != nil {
		return fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		_, err := stmt.ExecContext(ctx,
			string(r.PeriodType), r.ISOKey, r.LocalKey, r.MerchantID,
			r.Count, r.Amount, r.UpdatedAt.UTC().Format(timeLayout))
		if err != nil {
			return fmt.Errorf("upsert summary %s/%s: %w", r.PeriodType, r.ISOKey, err)
		}
	}

	if err := dbTx.Commit(); err != nil {
		return fmt.Errorf("commit summaries: %w", err)
	}

	slog.DebugContext(ctx, "Summary batch written to SQLite", "rows", len(records))
	return nil
}

func (s *Store) FindSummaries(ctx context.Context, q store.SummaryQuery) ([]core.SummaryRecord, error) {
	merchant := q.MerchantID
	if merchant != "" {
		id, err := ParseMerchantID(merchant)
		if err != nil {
			// Rows are only ever written under canonical IDs.
			return nil, nil
		}
		merchant = id
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT period_type, period_key_iso, period_key_local, merchant_id, count, amount, updated_at
		FROM transaction_summary
		WHERE period_type = ? AND merchant_id = ?
		ORDER BY period_key_iso`,
		string(q.PeriodType), merchant)
	if err != nil {
		return nil, fmt.Errorf("query summaries: %w", err)
	}
	defer rows.Close()

	var out []core.SummaryRecord
	for rows.Next() {
		var (
			r          core.SummaryRecord
			periodType string
			updatedAt  string
		)
		if err := rows.Scan(&periodType, &r.ISOKey, &r.LocalKey, &r.MerchantID, &r.Count, &r.Amount, &updatedAt); err != nil {
			return nil, fmt.Errorf("scan summary: %w", err)
		}
		r.PeriodType = calendar.PeriodType(periodType)
		r.UpdatedAt, err = time.Parse(timeLayout, updatedAt)
		if err != nil {
			return nil, fmt.Errorf("parse updated_at: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
