package services

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/stablemint/tokensale-backend/internal/models"
	"github.com/stablemint/tokensale-backend/internal/store"
)

func TestGetHistory_Pagination(t *testing.T) {
	st := new(MockStore)
	svc := NewReportingService(st)
	ctx := context.Background()

	txs := []models.Transaction{{RequestID: "a"}, {RequestID: "b"}}
	st.On("FindByBuyer", mock.Anything, mock.AnythingOfType("store.Filter"), int64(3), int64(10)).
		Return(txs, int64(25), nil)

	result, pagination, err := svc.GetHistory(ctx, HistoryQuery{Address: buyerAddr, Page: 3, Limit: 10})
	require.NoError(t, err)
	assert.Len(t, result, 2)
	assert.Equal(t, int64(25), pagination.Total)
	assert.Equal(t, int64(3), pagination.Page)
	assert.Equal(t, int64(10), pagination.Limit)
	assert.Equal(t, int64(3), pagination.Pages)
}

func TestGetHistory_Defaults(t *testing.T) {
	st := new(MockStore)
	svc := NewReportingService(st)

	st.On("FindByBuyer", mock.Anything, mock.AnythingOfType("store.Filter"), int64(1), int64(10)).
		Return([]models.Transaction{}, int64(0), nil)

	_, pagination, err := svc.GetHistory(context.Background(), HistoryQuery{Address: buyerAddr})
	require.NoError(t, err)
	assert.Equal(t, int64(1), pagination.Page)
	assert.Equal(t, int64(10), pagination.Limit)
	assert.Equal(t, int64(0), pagination.Pages)
}

func TestGetHistory_Filters(t *testing.T) {
	st := new(MockStore)
	svc := NewReportingService(st)

	var captured store.Filter
	st.On("FindByBuyer", mock.Anything, mock.AnythingOfType("store.Filter"), int64(1), int64(10)).
		Run(func(args mock.Arguments) {
			captured = args.Get(1).(store.Filter)
		}).
		Return([]models.Transaction{}, int64(0), nil)

	_, _, err := svc.GetHistory(context.Background(), HistoryQuery{
		Address:   buyerAddr,
		Type:      models.TypeBuy,
		Status:    models.StatusSuccess,
		StartDate: "2026-01-01",
		EndDate:   "2026-01-31",
	})
	require.NoError(t, err)

	assert.Equal(t, strings.ToLower(buyerAddr), captured.BuyerAddress)
	assert.Equal(t, models.TypeBuy, captured.Type)
	assert.Equal(t, models.StatusSuccess, captured.Status)
	require.NotNil(t, captured.StartDate)
	require.NotNil(t, captured.EndDate)
	assert.Equal(t, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), *captured.StartDate)
	// A bare end date covers the whole day.
	assert.Equal(t, time.Date(2026, 1, 31, 23, 59, 59, int(time.Second-time.Nanosecond), time.UTC), *captured.EndDate)
}

func TestGetHistory_Invalid(t *testing.T) {
	svc := NewReportingService(new(MockStore))
	ctx := context.Background()

	_, _, err := svc.GetHistory(ctx, HistoryQuery{Address: "bogus"})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, _, err = svc.GetHistory(ctx, HistoryQuery{Address: buyerAddr, Type: "SELL"})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, _, err = svc.GetHistory(ctx, HistoryQuery{Address: buyerAddr, Status: "DONE"})
	assert.ErrorIs(t, err, ErrInvalidRequest)

	_, _, err = svc.GetHistory(ctx, HistoryQuery{Address: buyerAddr, StartDate: "yesterday"})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestGetStats(t *testing.T) {
	st := new(MockStore)
	svc := NewReportingService(st)

	totals := &models.TotalStats{
		TotalTokensSold:  "30",
		TotalUsdtRaised:  "30",
		TransactionCount: 2,
		AveragePurchase:  "15",
	}
	daily := []models.DailyStat{{Date: "2026-08-27", TokensSold: "30", UsdtRaised: "30", TransactionCount: 2}}
	top := []models.TopBuyer{{BuyerAddress: strings.ToLower(buyerAddr), TotalUsdt: "30", TotalTokens: "30", Purchases: 2}}

	st.On("TotalStats", mock.Anything, mock.Anything, mock.Anything).Return(totals, nil)
	st.On("DailyStats", mock.Anything, mock.Anything, mock.Anything).Return(daily, nil)
	st.On("TopBuyers", mock.Anything, mock.Anything, mock.Anything).Return(top, nil)

	stats, err := svc.GetStats(context.Background(), StatsQuery{})
	require.NoError(t, err)
	assert.Equal(t, totals, stats.TotalStats)
	assert.Equal(t, daily, stats.DailyStats)
	assert.Equal(t, top, stats.TopBuyers)
}

func TestGetStats_InvalidDate(t *testing.T) {
	svc := NewReportingService(new(MockStore))
	_, err := svc.GetStats(context.Background(), StatsQuery{StartDate: "01/01/2026"})
	assert.ErrorIs(t, err, ErrInvalidRequest)
}

func TestExportCSV(t *testing.T) {
	st := new(MockStore)
	svc := NewReportingService(st)

	ts := time.Date(2026, 8, 27, 12, 30, 0, 0, time.UTC)
	txs := []models.Transaction{
		{
			Type:       models.TypeBuy,
			Amount:     "20",
			Status:     models.StatusSuccess,
			TxHash:     "0xmint2",
			Timestamp:  ts,
			TokenPrice: 1,
			UsdtAmount: "20",
		},
		{
			Type:       models.TypeBuy,
			Amount:     "10",
			Status:     models.StatusFailed,
			Timestamp:  ts.Add(-time.Hour),
			TokenPrice: 1,
			UsdtAmount: "10",
		},
	}
	st.On("FindAllByBuyer", mock.Anything, strings.ToLower(buyerAddr)).Return(txs, nil)

	data, err := svc.ExportCSV(context.Background(), buyerAddr)
	require.NoError(t, err)

	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "Date,Type,Amount,Status,Transaction Hash,Token Price,USDT Amount", lines[0])
	assert.Equal(t, "2026-08-27T12:30:00Z,BUY,20,SUCCESS,0xmint2,1,20", lines[1])
	assert.Equal(t, "2026-08-27T11:30:00Z,BUY,10,FAILED,,1,10", lines[2])
}

func TestExportHistory_InvalidAddress(t *testing.T) {
	svc := NewReportingService(new(MockStore))
	_, err := svc.ExportHistory(context.Background(), "not-hex")
	assert.ErrorIs(t, err, ErrInvalidRequest)
}
