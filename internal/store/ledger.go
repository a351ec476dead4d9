package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/stablemint/tokensale-backend/internal/models"
	"github.com/stablemint/tokensale-backend/pkg/logger"
)

// Store persists ledger records in the transactions collection. The
// purchase orchestrator is the only writer; reporting reads only.
type Store struct {
	col *mongo.Collection
}

func NewStore(db *mongo.Database) *Store {
	return &Store{col: db.Collection("transactions")}
}

// Filter narrows a buyer's history query. Zero values mean "no filter".
type Filter struct {
	BuyerAddress string
	Type         string
	Status       string
	StartDate    *time.Time
	EndDate      *time.Time
}

// EnsureIndexes creates the collection's indexes. requestId is unique per
// purchase attempt; txHash is unique but sparse so in-flight records
// (which have no hash yet) never collide.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	indexModels := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "requestId", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "txHash", Value: 1}},
			Options: options.Index().SetUnique(true).SetSparse(true),
		},
		{Keys: bson.D{{Key: "buyerAddress", Value: 1}, {Key: "timestamp", Value: -1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "timestamp", Value: -1}}},
	}
	if _, err := s.col.Indexes().CreateMany(ctx, indexModels); err != nil {
		logger.Errorf("failed to create transaction indexes: %v", err)
		return fmt.Errorf("failed to create indexes: %w", err)
	}
	return nil
}

// CreatePending inserts a new PENDING record and fills in its ObjectID.
func (s *Store) CreatePending(ctx context.Context, tx *models.Transaction) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tx.ID = primitive.NewObjectID()
	tx.Status = models.StatusPending
	if _, err := s.col.InsertOne(ctx, tx); err != nil {
		logger.Errorf("failed to insert pending transaction %s: %v", tx.RequestID, err)
		return fmt.Errorf("failed to save transaction: %w", err)
	}
	return nil
}

// MarkPaid records that the stablecoin pull confirmed. Only a PENDING
// record can move to PAID.
func (s *Store) MarkPaid(ctx context.Context, requestID, paymentTxHash string) error {
	return s.transition(ctx,
		bson.M{"requestId": requestID, "status": models.StatusPending},
		bson.M{"status": models.StatusPaid, "paymentTxHash": paymentTxHash})
}

// MarkSuccess finalizes an in-flight record with the mint transaction's
// hash. PENDING is accepted too in case the PAID write was lost.
func (s *Store) MarkSuccess(ctx context.Context, requestID, txHash string) error {
	return s.transition(ctx,
		bson.M{"requestId": requestID, "status": bson.M{"$in": bson.A{models.StatusPending, models.StatusPaid}}},
		bson.M{"status": models.StatusSuccess, "txHash": txHash})
}

// MarkFailed moves an in-flight record to FAILED with the failure reason.
// Terminal records are never rewritten.
func (s *Store) MarkFailed(ctx context.Context, requestID, reason string) error {
	return s.transition(ctx,
		bson.M{"requestId": requestID, "status": bson.M{"$in": bson.A{models.StatusPending, models.StatusPaid}}},
		bson.M{"status": models.StatusFailed, "failReason": reason})
}

func (s *Store) transition(ctx context.Context, filter, set bson.M) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	res, err := s.col.UpdateOne(ctx, filter, bson.M{"$set": set})
	if err != nil {
		logger.Errorf("failed to update transaction %v: %v", filter["requestId"], err)
		return fmt.Errorf("failed to update transaction: %w", err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("transaction %v not found in expected state", filter["requestId"])
	}
	return nil
}

// FindByBuyer returns one page of a buyer's records, newest first, along
// with the total count of records matching the filter.
func (s *Store) FindByBuyer(ctx context.Context, f Filter, page, limit int64) ([]models.Transaction, int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	query := s.buildQuery(f)

	total, err := s.col.CountDocuments(ctx, query)
	if err != nil {
		logger.Errorf("failed to count transactions for %s: %v", f.BuyerAddress, err)
		return nil, 0, fmt.Errorf("failed to count transactions: %w", err)
	}

	opts := options.Find().
		SetSort(bson.M{"timestamp": -1}).
		SetSkip((page - 1) * limit).
		SetLimit(limit)
	cur, err := s.col.Find(ctx, query, opts)
	if err != nil {
		logger.Errorf("failed to fetch transactions for %s: %v", f.BuyerAddress, err)
		return nil, 0, fmt.Errorf("failed to fetch transactions: %w", err)
	}
	defer cur.Close(ctx)

	txs := []models.Transaction{}
	if err := cur.All(ctx, &txs); err != nil {
		logger.Errorf("failed to decode transactions: %v", err)
		return nil, 0, fmt.Errorf("failed to decode transactions: %w", err)
	}

	return txs, total, nil
}

// FindAllByBuyer returns every record for a buyer, newest first. Used by
// the export endpoint.
func (s *Store) FindAllByBuyer(ctx context.Context, buyerAddress string) ([]models.Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	cur, err := s.col.Find(ctx,
		bson.M{"buyerAddress": buyerAddress},
		options.Find().SetSort(bson.M{"timestamp": -1}))
	if err != nil {
		logger.Errorf("failed to fetch transactions for %s: %v", buyerAddress, err)
		return nil, fmt.Errorf("failed to fetch transactions: %w", err)
	}
	defer cur.Close(ctx)

	txs := []models.Transaction{}
	if err := cur.All(ctx, &txs); err != nil {
		logger.Errorf("failed to decode transactions: %v", err)
		return nil, fmt.Errorf("failed to decode transactions: %w", err)
	}
	return txs, nil
}

// FindStuckPaid returns records that confirmed payment but never reached
// a terminal state within the given age. These are the "paid but not
// minted" cases an operator has to resolve by hand.
func (s *Store) FindStuckPaid(ctx context.Context, olderThan time.Duration) ([]models.Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	cutoff := time.Now().Add(-olderThan)
	cur, err := s.col.Find(ctx,
		bson.M{"status": models.StatusPaid, "timestamp": bson.M{"$lte": cutoff}},
		options.Find().SetSort(bson.M{"timestamp": 1}))
	if err != nil {
		logger.Errorf("failed to fetch stuck paid transactions: %v", err)
		return nil, fmt.Errorf("failed to fetch stuck transactions: %w", err)
	}
	defer cur.Close(ctx)

	txs := []models.Transaction{}
	if err := cur.All(ctx, &txs); err != nil {
		return nil, fmt.Errorf("failed to decode stuck transactions: %w", err)
	}
	return txs, nil
}

func (s *Store) buildQuery(f Filter) bson.M {
	query := bson.M{}
	if f.BuyerAddress != "" {
		query["buyerAddress"] = f.BuyerAddress
	}
	if f.Type != "" {
		query["type"] = f.Type
	}
	if f.Status != "" {
		query["status"] = f.Status
	}
	if f.StartDate != nil || f.EndDate != nil {
		r := bson.M{}
		if f.StartDate != nil {
			r["$gte"] = *f.StartDate
		}
		if f.EndDate != nil {
			r["$lte"] = *f.EndDate
		}
		query["timestamp"] = r
	}
	return query
}
