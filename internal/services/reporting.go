package services

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/stablemint/tokensale-backend/internal/models"
	"github.com/stablemint/tokensale-backend/internal/store"
)

const (
	defaultPage  = 1
	defaultLimit = 10
	maxLimit     = 100
)

// HistoryQuery narrows a buyer's transaction history. Dates accept
// RFC 3339 or plain YYYY-MM-DD; a date-only end is inclusive of the
// whole day.
type HistoryQuery struct {
	Address   string
	Page      int64
	Limit     int64
	Type      string
	Status    string
	StartDate string
	EndDate   string
}

// StatsQuery optionally restricts aggregation to a date range.
type StatsQuery struct {
	StartDate string
	EndDate   string
}

// Stats bundles the three reporting aggregates.
type Stats struct {
	TotalStats *models.TotalStats `json:"totalStats"`
	DailyStats []models.DailyStat `json:"dailyStats"`
	TopBuyers  []models.TopBuyer  `json:"topBuyers"`
}

// ReportingService serves read-only queries over the ledger. It never
// touches the chain and never mutates a record.
type ReportingService struct {
	store TransactionStore
}

func NewReportingService(st TransactionStore) *ReportingService {
	return &ReportingService{store: st}
}

// GetHistory returns one page of a buyer's records, newest first, with
// page metadata.
func (s *ReportingService) GetHistory(ctx context.Context, q HistoryQuery) ([]models.Transaction, *models.Pagination, error) {
	if !common.IsHexAddress(q.Address) {
		return nil, nil, fmt.Errorf("%w: address is not a valid address", ErrInvalidRequest)
	}
	if q.Page < 1 {
		q.Page = defaultPage
	}
	if q.Limit < 1 {
		q.Limit = defaultLimit
	}
	if q.Limit > maxLimit {
		q.Limit = maxLimit
	}
	if err := validateEnum("type", q.Type, models.TypeBuy, models.TypeApprove); err != nil {
		return nil, nil, err
	}
	if err := validateEnum("status", q.Status, models.StatusPending, models.StatusPaid, models.StatusSuccess, models.StatusFailed); err != nil {
		return nil, nil, err
	}

	start, end, err := parseDateRange(q.StartDate, q.EndDate)
	if err != nil {
		return nil, nil, err
	}

	filter := store.Filter{
		BuyerAddress: normalizeAddress(q.Address),
		Type:         q.Type,
		Status:       q.Status,
		StartDate:    start,
		EndDate:      end,
	}
	txs, total, err := s.store.FindByBuyer(ctx, filter, q.Page, q.Limit)
	if err != nil {
		return nil, nil, err
	}

	pages := total / q.Limit
	if total%q.Limit != 0 {
		pages++
	}
	return txs, &models.Pagination{
		Total: total,
		Page:  q.Page,
		Limit: q.Limit,
		Pages: pages,
	}, nil
}

// GetStats returns sale-wide totals, the daily rollup and the buyer
// leaderboard, optionally restricted to a date range.
func (s *ReportingService) GetStats(ctx context.Context, q StatsQuery) (*Stats, error) {
	start, end, err := parseDateRange(q.StartDate, q.EndDate)
	if err != nil {
		return nil, err
	}

	totals, err := s.store.TotalStats(ctx, start, end)
	if err != nil {
		return nil, err
	}
	daily, err := s.store.DailyStats(ctx, start, end)
	if err != nil {
		return nil, err
	}
	top, err := s.store.TopBuyers(ctx, start, end)
	if err != nil {
		return nil, err
	}

	return &Stats{TotalStats: totals, DailyStats: daily, TopBuyers: top}, nil
}

// StuckPurchases returns records that confirmed payment but never
// reached a terminal state within the given age: the buyer's stablecoin
// moved and no tokens were minted. Operators resolve these by hand, by
// refunding or minting; nothing reconciles them automatically.
func (s *ReportingService) StuckPurchases(ctx context.Context, olderThan time.Duration) ([]models.Transaction, error) {
	return s.store.FindStuckPaid(ctx, olderThan)
}

// ExportHistory returns every record for a buyer, newest first.
func (s *ReportingService) ExportHistory(ctx context.Context, address string) ([]models.Transaction, error) {
	if !common.IsHexAddress(address) {
		return nil, fmt.Errorf("%w: address is not a valid address", ErrInvalidRequest)
	}
	return s.store.FindAllByBuyer(ctx, normalizeAddress(address))
}

// ExportCSV renders a buyer's full history as CSV with a header row and
// a fixed column order.
func (s *ReportingService) ExportCSV(ctx context.Context, address string) ([]byte, error) {
	txs, err := s.ExportHistory(ctx, address)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"Date", "Type", "Amount", "Status", "Transaction Hash", "Token Price", "USDT Amount"}); err != nil {
		return nil, fmt.Errorf("failed to write csv header: %w", err)
	}
	for _, tx := range txs {
		row := []string{
			tx.Timestamp.UTC().Format(time.RFC3339),
			tx.Type,
			tx.Amount,
			tx.Status,
			tx.TxHash,
			strconv.FormatFloat(tx.TokenPrice, 'f', -1, 64),
			tx.UsdtAmount,
		}
		if err := w.Write(row); err != nil {
			return nil, fmt.Errorf("failed to write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, fmt.Errorf("failed to flush csv: %w", err)
	}
	return buf.Bytes(), nil
}

func validateEnum(name, value string, allowed ...string) error {
	if value == "" {
		return nil
	}
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("%w: invalid %s filter %q", ErrInvalidRequest, name, value)
}

// normalizeAddress canonicalizes the hex form before lowercasing so
// lookups match what the orchestrator stored.
func normalizeAddress(address string) string {
	return strings.ToLower(common.HexToAddress(address).Hex())
}

func parseDateRange(startDate, endDate string) (*time.Time, *time.Time, error) {
	start, _, err := parseDate(startDate, "startDate")
	if err != nil {
		return nil, nil, err
	}
	end, dateOnly, err := parseDate(endDate, "endDate")
	if err != nil {
		return nil, nil, err
	}
	if end != nil && dateOnly {
		// A bare end date means "through the end of that day".
		e := end.Add(24*time.Hour - time.Nanosecond)
		end = &e
	}
	return start, end, nil
}

func parseDate(value, name string) (*time.Time, bool, error) {
	if value == "" {
		return nil, false, nil
	}
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return &t, false, nil
	}
	if t, err := time.Parse("2006-01-02", value); err == nil {
		return &t, true, nil
	}
	return nil, false, fmt.Errorf("%w: invalid %s format", ErrInvalidRequest, name)
}
