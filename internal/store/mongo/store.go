// Package mongo stores transactions and summaries in MongoDB, the upstream
// system of record for the transaction feed.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"txreport/internal/calendar"
	"txreport/internal/core"
	"txreport/internal/store"
)

const (
	DefaultTransactionsCollection = "transaction"
	DefaultSummaryCollection      = "transaction_summary"
)

// Config selects the database and collections.
type Config struct {
	URI                    string
	Database               string
	TransactionsCollection string
	SummaryCollection      string
	ServerSelectionTimeout time.Duration
}

// Store is a MongoDB backed store.Store. Merchant identifiers are ObjectID
// hex strings.
type Store struct {
	client       *mongo.Client
	transactions *mongo.Collection
	summaries    *mongo.Collection
}

var _ store.Store = (*Store)(nil)

type transactionDoc struct {
	ID         primitive.ObjectID  `bson:"_id,omitempty"`
	Amount     *int64              `bson:"amount"`
	MerchantID *primitive.ObjectID `bson:"merchantId,omitempty"`
	CreatedAt  time.Time           `bson:"createdAt"`
	Status     string              `bson:"status"`
}

type summaryDoc struct {
	PeriodType string              `bson:"period_type"`
	ISOKey     string              `bson:"period_key_iso"`
	LocalKey   string              `bson:"period_key_local"`
	MerchantID *primitive.ObjectID `bson:"merchant_id"`
	Count      int64               `bson:"count"`
	Amount     int64               `bson:"amount"`
	UpdatedAt  time.Time           `bson:"updated_at"`
}

// Open connects, verifies the server is reachable and ensures indexes.
func Open(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.TransactionsCollection == "" {
		cfg.TransactionsCollection = DefaultTransactionsCollection
	}
	if cfg.SummaryCollection == "" {
		cfg.SummaryCollection = DefaultSummaryCollection
	}
	if cfg.ServerSelectionTimeout <= 0 {
		cfg.ServerSelectionTimeout = 5 * time.Second
	}

	opts := options.Client().
		ApplyURI(cfg.URI).
		SetServerSelectionTimeout(cfg.ServerSelectionTimeout)
	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("%w: connect mongo: %v", store.ErrUnavailable, err)
	}

	s := &Store{
		client:       client,
		transactions: client.Database(cfg.Database).Collection(cfg.TransactionsCollection),
		summaries:    client.Database(cfg.Database).Collection(cfg.SummaryCollection),
	}
	if err := s.Ping(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}
	if err := s.ensureIndexes(ctx); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, err
	}

	slog.InfoContext(ctx, "Connected to MongoDB",
		"database", cfg.Database,
		"transactions", cfg.TransactionsCollection,
		"summaries", cfg.SummaryCollection)
	return s, nil
}

func (s *Store) ensureIndexes(ctx context.Context) error {
	_, err := s.summaries.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "period_type", Value: 1},
			{Key: "period_key_iso", Value: 1},
			{Key: "merchant_id", Value: 1},
		},
		Options: options.Index().SetUnique(true).SetName("summary_identity"),
	})
	if err != nil {
		return fmt.Errorf("create summary index: %w", err)
	}

	_, err = s.transactions.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{
			{Key: "merchantId", Value: 1},
			{Key: "createdAt", Value: 1},
		},
		Options: options.Index().SetName("merchant_created"),
	})
	if err != nil {
		return fmt.Errorf("create transaction index: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.client.Ping(ctx, readpref.Primary()); err != nil {
		return fmt.Errorf("%w: ping mongo: %v", store.ErrUnavailable, err)
	}
	return nil
}

func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// parseMerchant converts a merchant ID to its stored form. Empty yields nil,
// which matches documents whose merchant field is null or absent.
func parseMerchant(id string) (*primitive.ObjectID, error) {
	if id == "" {
		return nil, nil
	}
	oid, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", store.ErrInvalidMerchantID, id)
	}
	return &oid, nil
}

func transactionFilter(q store.TransactionQuery) (bson.D, error) {
	filter := bson.D{}
	if q.FilterMerchant {
		oid, err := parseMerchant(q.MerchantID)
		if err != nil {
			return nil, err
		}
		if oid == nil {
			filter = append(filter, bson.E{Key: "merchantId", Value: nil})
		} else {
			filter = append(filter, bson.E{Key: "merchantId", Value: *oid})
		}
	}
	if q.ExcludeFailed {
		filter = append(filter, bson.E{Key: "status", Value: bson.D{{Key: "$ne", Value: string(core.StatusFailed)}}})
	}
	return filter, nil
}

func (s *Store) ScanTransactions(ctx context.Context, q store.TransactionQuery, fn func(core.Transaction) error) error {
	filter, err := transactionFilter(q)
	if err != nil {
		return err
	}

	opts := options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}})
	cur, err := s.transactions.Find(ctx, filter, opts)
	if err != nil {
		return fmt.Errorf("find transactions: %w", err)
	}
	defer cur.Close(ctx)

	for cur.Next(ctx) {
		var doc transactionDoc
		if err := cur.Decode(&doc); err != nil {
			return fmt.Errorf("decode transaction: %w", err)
		}
		if err := fn(doc.toCore()); err != nil {
			return err
		}
	}
	return cur.Err()
}

func (d transactionDoc) toCore() core.Transaction {
	tx := core.Transaction{
		ID:        d.ID.Hex(),
		CreatedAt: d.CreatedAt.UTC(),
		Status:    core.TransactionStatus(d.Status),
	}
	if d.Amount != nil {
		tx.Amount = *d.Amount
	}
	if d.MerchantID != nil {
		tx.MerchantID = d.MerchantID.Hex()
	}
	return tx
}

func (s *Store) InsertTransactions(ctx context.Context, txs []core.Transaction) error {
	if len(txs) == 0 {
		return nil
	}
	docs := make([]interface{}, 0, len(txs))
	for _, tx := range txs {
		doc, err := newTransactionDoc(tx)
		if err != nil {
			return err
		}
		docs = append(docs, doc)
	}
	if _, err := s.transactions.InsertMany(ctx, docs); err != nil {
		return fmt.Errorf("insert transactions: %w", err)
	}
	return nil
}

func newTransactionDoc(tx core.Transaction) (transactionDoc, error) {
	merchant, err := parseMerchant(tx.MerchantID)
	if err != nil {
		return transactionDoc{}, err
	}
	amount := tx.Amount
	doc := transactionDoc{
		Amount:     &amount,
		MerchantID: merchant,
		CreatedAt:  tx.CreatedAt.UTC(),
		Status:     string(tx.Status),
	}
	if tx.ID != "" {
		id, err := primitive.ObjectIDFromHex(tx.ID)
		if err != nil {
			return transactionDoc{}, fmt.Errorf("invalid transaction id %q: %w", tx.ID, err)
		}
		doc.ID = id
	}
	return doc, nil
}

// summaryModel builds the upsert for one record, keyed by its identity.
func summaryModel(r core.SummaryRecord) (mongo.WriteModel, error) {
	merchant, err := parseMerchant(r.MerchantID)
	if err != nil {
		return nil, err
	}
	filter := bson.D{
		{Key: "period_type", Value: string(r.PeriodType)},
		{Key: "period_key_iso", Value: r.ISOKey},
		{Key: "merchant_id", Value: merchant},
	}
	update := bson.D{{Key: "$set", Value: summaryDoc{
		PeriodType: string(r.PeriodType),
		ISOKey:     r.ISOKey,
		LocalKey:   r.LocalKey,
		MerchantID: merchant,
		Count:      r.Count,
		Amount:     r.Amount,
		UpdatedAt:  r.UpdatedAt.UTC(),
	}}}
	return mongo.NewUpdateOneModel().SetFilter(filter).SetUpdate(update).SetUpsert(true), nil
}

func (s *Store) BulkUpsertSummaries(ctx context.Context, records []core.SummaryRecord) error {
	if len(records) == 0 {
		return nil
	}
	models := make([]mongo.WriteModel, 0, len(records))
	for _, r := range records {
		m, err := summaryModel(r)
		if err != nil {
			return err
		}
		models = append(models, m)
	}

	res, err := s.summaries.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false))
	if err != nil {
		var bulkErr mongo.BulkWriteException
		if errors.As(err, &bulkErr) {
			return fmt.Errorf("bulk upsert summaries: %d write errors: %w", len(bulkErr.WriteErrors), err)
		}
		return fmt.Errorf("bulk upsert summaries: %w", err)
	}

	slog.DebugContext(ctx, "Summary batch written to MongoDB",
		"matched", res.MatchedCount,
		"upserted", res.UpsertedCount,
		"modified", res.ModifiedCount)
	return nil
}

func summaryFilter(q store.SummaryQuery) (bson.D, error) {
	merchant, err := parseMerchant(q.MerchantID)
	if err != nil {
		return nil, err
	}
	return bson.D{
		{Key: "period_type", Value: string(q.PeriodType)},
		{Key: "merchant_id", Value: merchant},
	}, nil
}

func (s *Store) FindSummaries(ctx context.Context, q store.SummaryQuery) ([]core.SummaryRecord, error) {
	filter, err := summaryFilter(q)
	if errors.Is(err, store.ErrInvalidMerchantID) {
		return nil, nil
	}

	opts := options.Find().SetSort(bson.D{{Key: "period_key_iso", Value: 1}})
	cur, err := s.summaries.Find(ctx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find summaries: %w", err)
	}
	defer cur.Close(ctx)

	var out []core.SummaryRecord
	for cur.Next(ctx) {
		var doc summaryDoc
		if err := cur.Decode(&doc); err != nil {
			return nil, fmt.Errorf("decode summary: %w", err)
		}
		out = append(out, doc.toCore())
	}
	return out, cur.Err()
}

func (d summaryDoc) toCore() core.SummaryRecord {
	r := core.SummaryRecord{
		PeriodType: calendar.PeriodType(d.PeriodType),
		ISOKey:     d.ISOKey,
		LocalKey:   d.LocalKey,
		Count:      d.Count,
		Amount:     d.Amount,
		UpdatedAt:  d.UpdatedAt.UTC(),
	}
	if d.MerchantID != nil {
		r.MerchantID = d.MerchantID.Hex()
	}
	return r
}
