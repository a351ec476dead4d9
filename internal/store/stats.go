package store

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/stablemint/tokensale-backend/internal/models"
	"github.com/stablemint/tokensale-backend/pkg/logger"
)

// Aggregations run over successful BUY records only. Amounts are stored
// as decimal strings, so every sum goes through $toDecimal and comes
// back out through $toString; no float arithmetic happens server-side
// or client-side.

func successMatch(start, end *time.Time) bson.M {
	match := bson.M{
		"status": models.StatusSuccess,
		"type":   models.TypeBuy,
	}
	if start != nil || end != nil {
		r := bson.M{}
		if start != nil {
			r["$gte"] = *start
		}
		if end != nil {
			r["$lte"] = *end
		}
		match["timestamp"] = r
	}
	return match
}

func totalStatsPipeline(match bson.M) bson.A {
	return bson.A{
		bson.M{"$match": match},
		bson.M{"$group": bson.M{
			"_id":              nil,
			"totalTokensSold":  bson.M{"$sum": bson.M{"$toDecimal": "$amount"}},
			"totalUsdtRaised":  bson.M{"$sum": bson.M{"$toDecimal": "$usdtAmount"}},
			"transactionCount": bson.M{"$sum": 1},
			"averagePurchase":  bson.M{"$avg": bson.M{"$toDecimal": "$usdtAmount"}},
		}},
		bson.M{"$project": bson.M{
			"_id":              0,
			"totalTokensSold":  bson.M{"$toString": "$totalTokensSold"},
			"totalUsdtRaised":  bson.M{"$toString": "$totalUsdtRaised"},
			"transactionCount": 1,
			"averagePurchase":  bson.M{"$toString": "$averagePurchase"},
		}},
	}
}

// dailyStatsPipeline groups by calendar day of the record's timestamp,
// ascending, so two purchases on the same day collapse into one row
// with summed amounts.
func dailyStatsPipeline(match bson.M) bson.A {
	return bson.A{
		bson.M{"$match": match},
		bson.M{"$group": bson.M{
			"_id": bson.M{"$dateToString": bson.M{
				"format": "%Y-%m-%d",
				"date":   "$timestamp",
			}},
			"tokensSold":       bson.M{"$sum": bson.M{"$toDecimal": "$amount"}},
			"usdtRaised":       bson.M{"$sum": bson.M{"$toDecimal": "$usdtAmount"}},
			"transactionCount": bson.M{"$sum": 1},
		}},
		bson.M{"$sort": bson.M{"_id": 1}},
		bson.M{"$project": bson.M{
			"tokensSold":       bson.M{"$toString": "$tokensSold"},
			"usdtRaised":       bson.M{"$toString": "$usdtRaised"},
			"transactionCount": 1,
		}},
	}
}

// topBuyersPipeline ranks buyers by summed stablecoin spend, descending,
// capped at ten entries. The sort runs on the Decimal128 sums, before
// the string projection.
func topBuyersPipeline(match bson.M) bson.A {
	return bson.A{
		bson.M{"$match": match},
		bson.M{"$group": bson.M{
			"_id":         "$buyerAddress",
			"totalUsdt":   bson.M{"$sum": bson.M{"$toDecimal": "$usdtAmount"}},
			"totalTokens": bson.M{"$sum": bson.M{"$toDecimal": "$amount"}},
			"purchases":   bson.M{"$sum": 1},
		}},
		bson.M{"$sort": bson.M{"totalUsdt": -1}},
		bson.M{"$limit": 10},
		bson.M{"$project": bson.M{
			"totalUsdt":   bson.M{"$toString": "$totalUsdt"},
			"totalTokens": bson.M{"$toString": "$totalTokens"},
			"purchases":   1,
		}},
	}
}

// TotalStats returns sale-wide totals: tokens sold, stablecoin raised,
// purchase count and average purchase size.
func (s *Store) TotalStats(ctx context.Context, start, end *time.Time) (*models.TotalStats, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	cur, err := s.col.Aggregate(ctx, totalStatsPipeline(successMatch(start, end)))
	if err != nil {
		logger.Errorf("total stats aggregation failed: %v", err)
		return nil, fmt.Errorf("failed to aggregate totals: %w", err)
	}
	defer cur.Close(ctx)

	var results []models.TotalStats
	if err := cur.All(ctx, &results); err != nil {
		return nil, fmt.Errorf("failed to decode totals: %w", err)
	}
	if len(results) == 0 {
		return &models.TotalStats{
			TotalTokensSold: "0",
			TotalUsdtRaised: "0",
			AveragePurchase: "0",
		}, nil
	}
	return &results[0], nil
}

// DailyStats returns the per-calendar-day rollup, ascending by date.
func (s *Store) DailyStats(ctx context.Context, start, end *time.Time) ([]models.DailyStat, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	cur, err := s.col.Aggregate(ctx, dailyStatsPipeline(successMatch(start, end)))
	if err != nil {
		logger.Errorf("daily stats aggregation failed: %v", err)
		return nil, fmt.Errorf("failed to aggregate daily stats: %w", err)
	}
	defer cur.Close(ctx)

	daily := []models.DailyStat{}
	if err := cur.All(ctx, &daily); err != nil {
		return nil, fmt.Errorf("failed to decode daily stats: %w", err)
	}
	return daily, nil
}

// TopBuyers returns the top ten buyers by total stablecoin spent,
// descending.
func (s *Store) TopBuyers(ctx context.Context, start, end *time.Time) ([]models.TopBuyer, error) {
	ctx, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()

	cur, err := s.col.Aggregate(ctx, topBuyersPipeline(successMatch(start, end)))
	if err != nil {
		logger.Errorf("top buyers aggregation failed: %v", err)
		return nil, fmt.Errorf("failed to aggregate top buyers: %w", err)
	}
	defer cur.Close(ctx)

	buyers := []models.TopBuyer{}
	if err := cur.All(ctx, &buyers); err != nil {
		return nil, fmt.Errorf("failed to decode top buyers: %w", err)
	}
	return buyers, nil
}
