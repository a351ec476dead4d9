package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"

	"github.com/stablemint/tokensale-backend/internal/models"
)

func TestBuildQuery(t *testing.T) {
	s := &Store{}

	t.Run("address only", func(t *testing.T) {
		q := s.buildQuery(Filter{BuyerAddress: "0xabc"})
		assert.Equal(t, bson.M{"buyerAddress": "0xabc"}, q)
	})

	t.Run("all filters", func(t *testing.T) {
		start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		end := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)
		q := s.buildQuery(Filter{
			BuyerAddress: "0xabc",
			Type:         models.TypeBuy,
			Status:       models.StatusSuccess,
			StartDate:    &start,
			EndDate:      &end,
		})
		assert.Equal(t, bson.M{
			"buyerAddress": "0xabc",
			"type":         "BUY",
			"status":       "SUCCESS",
			"timestamp":    bson.M{"$gte": start, "$lte": end},
		}, q)
	})

	t.Run("open-ended range", func(t *testing.T) {
		start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
		q := s.buildQuery(Filter{BuyerAddress: "0xabc", StartDate: &start})
		assert.Equal(t, bson.M{"$gte": start}, q["timestamp"])
	})
}

func TestSuccessMatch(t *testing.T) {
	m := successMatch(nil, nil)
	assert.Equal(t, bson.M{"status": models.StatusSuccess, "type": models.TypeBuy}, m)

	end := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	m = successMatch(nil, &end)
	assert.Equal(t, bson.M{"$lte": end}, m["timestamp"])
}

// stage pulls the single operator document out of a pipeline stage, e.g.
// stage(t, p, 1, "$group").
func stage(t *testing.T, pipeline bson.A, idx int, op string) bson.M {
	t.Helper()
	require.Less(t, idx, len(pipeline))
	doc, ok := pipeline[idx].(bson.M)
	require.True(t, ok)
	body, ok := doc[op]
	require.True(t, ok, "stage %d is not %s", idx, op)
	inner, ok := body.(bson.M)
	if !ok {
		// $limit carries a scalar, not a document.
		return bson.M{op: body}
	}
	return inner
}

func TestTopBuyersPipeline(t *testing.T) {
	match := successMatch(nil, nil)
	p := topBuyersPipeline(match)
	require.Len(t, p, 5)

	assert.Equal(t, match, stage(t, p, 0, "$match"))

	group := stage(t, p, 1, "$group")
	assert.Equal(t, "$buyerAddress", group["_id"])
	assert.Equal(t, bson.M{"$sum": bson.M{"$toDecimal": "$usdtAmount"}}, group["totalUsdt"])
	assert.Equal(t, bson.M{"$sum": bson.M{"$toDecimal": "$amount"}}, group["totalTokens"])
	assert.Equal(t, bson.M{"$sum": 1}, group["purchases"])

	// Descending by summed stablecoin spend, capped at ten.
	assert.Equal(t, bson.M{"totalUsdt": -1}, stage(t, p, 2, "$sort"))
	assert.Equal(t, bson.M{"$limit": 10}, stage(t, p, 3, "$limit"))

	project := stage(t, p, 4, "$project")
	assert.Equal(t, bson.M{"$toString": "$totalUsdt"}, project["totalUsdt"])
}

func TestDailyStatsPipeline(t *testing.T) {
	match := successMatch(nil, nil)
	p := dailyStatsPipeline(match)
	require.Len(t, p, 4)

	assert.Equal(t, match, stage(t, p, 0, "$match"))

	// Grouping key is the calendar day, so two records on the same day
	// land in one row with summed amounts and a count of two.
	group := stage(t, p, 1, "$group")
	assert.Equal(t, bson.M{"$dateToString": bson.M{
		"format": "%Y-%m-%d",
		"date":   "$timestamp",
	}}, group["_id"])
	assert.Equal(t, bson.M{"$sum": bson.M{"$toDecimal": "$usdtAmount"}}, group["usdtRaised"])
	assert.Equal(t, bson.M{"$sum": bson.M{"$toDecimal": "$amount"}}, group["tokensSold"])
	assert.Equal(t, bson.M{"$sum": 1}, group["transactionCount"])

	// Ascending by date.
	assert.Equal(t, bson.M{"_id": 1}, stage(t, p, 2, "$sort"))
}

func TestTotalStatsPipeline(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	match := successMatch(&start, nil)
	p := totalStatsPipeline(match)
	require.Len(t, p, 3)

	// Only successful BUY records in the requested range contribute.
	assert.Equal(t, match, stage(t, p, 0, "$match"))

	group := stage(t, p, 1, "$group")
	assert.Nil(t, group["_id"])
	assert.Equal(t, bson.M{"$sum": bson.M{"$toDecimal": "$usdtAmount"}}, group["totalUsdtRaised"])
	assert.Equal(t, bson.M{"$sum": bson.M{"$toDecimal": "$amount"}}, group["totalTokensSold"])
	assert.Equal(t, bson.M{"$avg": bson.M{"$toDecimal": "$usdtAmount"}}, group["averagePurchase"])
	assert.Equal(t, bson.M{"$sum": 1}, group["transactionCount"])
}
