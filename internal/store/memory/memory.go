package memory

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"txreport/internal/core"
	"txreport/internal/store"
)

// Store keeps transactions and summaries in process memory. It backs the
// memory data backend and the service tests.
type Store struct {
	mu        sync.Mutex
	txs       []core.Transaction
	summaries map[core.SummaryIdentity]core.SummaryRecord
	nextID    int
}

var _ store.Store = (*Store)(nil)

func New(txs ...core.Transaction) *Store {
	s := &Store{summaries: make(map[core.SummaryIdentity]core.SummaryRecord)}
	s.append(txs)
	return s
}

// NewFromFile seeds the store from a JSON lines file of transactions.
// A missing file yields an empty store.
func NewFromFile(path string) (*Store, error) {
	txs, err := readTransactions(path)
	if err != nil {
		return nil, err
	}
	return New(txs...), nil
}

func (s *Store) ScanTransactions(ctx context.Context, q store.TransactionQuery, fn func(core.Transaction) error) error {
	if q.FilterMerchant && q.MerchantID != "" && !validMerchantID(q.MerchantID) {
		return fmt.Errorf("%w: %q", store.ErrInvalidMerchantID, q.MerchantID)
	}

	s.mu.Lock()
	snapshot := append([]core.Transaction(nil), s.txs...)
	s.mu.Unlock()

	for _, tx := range snapshot {
		if err := ctx.Err(); err != nil {
			return err
		}
		if q.ExcludeFailed && tx.Failed() {
			continue
		}
		if q.FilterMerchant && tx.MerchantID != q.MerchantID {
			continue
		}
		if err := fn(tx); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) InsertTransactions(_ context.Context, txs []core.Transaction) error {
	for _, tx := range txs {
		if tx.MerchantID != "" && !validMerchantID(tx.MerchantID) {
			return fmt.Errorf("%w: %q", store.ErrInvalidMerchantID, tx.MerchantID)
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.append(txs)
	return nil
}

func (s *Store) BulkUpsertSummaries(ctx context.Context, records []core.SummaryRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range records {
		s.summaries[rec.Identity()] = rec
	}
	return nil
}

func (s *Store) FindSummaries(_ context.Context, q store.SummaryQuery) ([]core.SummaryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []core.SummaryRecord
	for id, rec := range s.summaries {
		if id.PeriodType == q.PeriodType && id.MerchantID == q.MerchantID {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ISOKey < out[j].ISOKey })
	return out, nil
}

// Summaries returns every stored summary row ordered by identity.
func (s *Store) Summaries() []core.SummaryRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]core.SummaryRecord, 0, len(s.summaries))
	for _, rec := range s.summaries {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.PeriodType != b.PeriodType {
			return a.PeriodType < b.PeriodType
		}
		if a.ISOKey != b.ISOKey {
			return a.ISOKey < b.ISOKey
		}
		return a.MerchantID < b.MerchantID
	})
	return out
}

func (s *Store) Ping(context.Context) error { return nil }

func (s *Store) Close() error { return nil }

// append assigns IDs to transactions lacking one. Callers hold s.mu or own s.
func (s *Store) append(txs []core.Transaction) {
	for _, tx := range txs {
		s.nextID++
		if tx.ID == "" {
			tx.ID = "mem:" + strconv.Itoa(s.nextID)
		}
		tx.CreatedAt = tx.CreatedAt.UTC()
		s.txs = append(s.txs, tx)
	}
}

func validMerchantID(id string) bool {
	if strings.TrimSpace(id) != id || id == "" {
		return false
	}
	return !strings.ContainsAny(id, " \t\r\n")
}

type seedRecord struct {
	ID         string    `json:"id"`
	Amount     *int64    `json:"amount"`
	MerchantID *string   `json:"merchantId"`
	CreatedAt  time.Time `json:"createdAt"`
	Status     string    `json:"status"`
}

func readTransactions(path string) ([]core.Transaction, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open seed file: %w", err)
	}
	defer f.Close()

	var out []core.Transaction
	sc := bufio.NewScanner(f)
	lineNo := 0
	for sc.Scan() {
		lineNo++
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		var rec seedRecord
		if err := json.Unmarshal([]byte(line), &rec); err != nil {
			return nil, fmt.Errorf("parse seed line %d: %w", lineNo, err)
		}
		tx := core.Transaction{
			ID:        rec.ID,
			CreatedAt: rec.CreatedAt,
			Status:    core.TransactionStatus(rec.Status),
		}
		if rec.Amount != nil {
			tx.Amount = *rec.Amount
		}
		if rec.MerchantID != nil {
			tx.MerchantID = *rec.MerchantID
		}
		out = append(out, tx)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}
	return out, nil
}
