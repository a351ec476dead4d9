package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/stablemint/tokensale-backend/internal/models"
	"github.com/stablemint/tokensale-backend/internal/services"
	"github.com/stablemint/tokensale-backend/pkg/logger"
)

// ReportingProvider is the reporting surface the handler needs;
// satisfied by services.ReportingService.
type ReportingProvider interface {
	GetHistory(ctx context.Context, q services.HistoryQuery) ([]models.Transaction, *models.Pagination, error)
	GetStats(ctx context.Context, q services.StatsQuery) (*services.Stats, error)
	ExportHistory(ctx context.Context, address string) ([]models.Transaction, error)
	ExportCSV(ctx context.Context, address string) ([]byte, error)
	StuckPurchases(ctx context.Context, olderThan time.Duration) ([]models.Transaction, error)
}

type ReportingHandler struct {
	service ReportingProvider
}

func NewReportingHandler(service ReportingProvider) *ReportingHandler {
	return &ReportingHandler{service: service}
}

// History handles GET /api/transaction-history.
func (h *ReportingHandler) History(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	address := q.Get("address")
	if address == "" {
		writeError(w, http.StatusBadRequest, "address query parameter is required")
		return
	}

	query := services.HistoryQuery{
		Address:   address,
		Page:      parseInt(q.Get("page"), 1),
		Limit:     parseInt(q.Get("limit"), 10),
		Type:      q.Get("type"),
		Status:    q.Get("status"),
		StartDate: q.Get("startDate"),
		EndDate:   q.Get("endDate"),
	}

	txs, pagination, err := h.service.GetHistory(r.Context(), query)
	if err != nil {
		if errors.Is(err, services.ErrInvalidRequest) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		logger.Errorf("failed to fetch history for %s: %v", address, err)
		writeServerError(w, "Failed to fetch transaction history", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"transactions": txs,
		"pagination":   pagination,
	})
}

// Stats handles GET /api/stats.
func (h *ReportingHandler) Stats(w http.ResponseWriter, r *http.Request) {
	query := services.StatsQuery{
		StartDate: r.URL.Query().Get("startDate"),
		EndDate:   r.URL.Query().Get("endDate"),
	}

	stats, err := h.service.GetStats(r.Context(), query)
	if err != nil {
		if errors.Is(err, services.ErrInvalidRequest) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		logger.Errorf("failed to compute stats: %v", err)
		writeServerError(w, "Failed to fetch statistics", err)
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// Export handles GET /api/export-transactions.
func (h *ReportingHandler) Export(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	address := q.Get("address")
	if address == "" {
		writeError(w, http.StatusBadRequest, "address query parameter is required")
		return
	}

	format := q.Get("format")
	if format == "" {
		format = "json"
	}

	switch format {
	case "csv":
		data, err := h.service.ExportCSV(r.Context(), address)
		if err != nil {
			h.writeExportError(w, address, err)
			return
		}
		w.Header().Set("Content-Type", "text/csv")
		w.Header().Set("Content-Disposition",
			fmt.Sprintf("attachment; filename=transactions-%s.csv", time.Now().UTC().Format("2006-01-02")))
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(data); err != nil {
			logger.Errorf("failed to write csv response: %v", err)
		}
	case "json":
		txs, err := h.service.ExportHistory(r.Context(), address)
		if err != nil {
			h.writeExportError(w, address, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"transactions": txs})
	default:
		writeError(w, http.StatusBadRequest, "format must be csv or json")
	}
}

// StuckTransactions handles GET /api/stuck-transactions: purchases where
// payment confirmed but minting never did. Operational surface for
// reconciliation, not part of the buyer-facing API.
func (h *ReportingHandler) StuckTransactions(w http.ResponseWriter, r *http.Request) {
	olderThan := 10 * time.Minute
	if raw := r.URL.Query().Get("olderThanMinutes"); raw != "" {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil && n > 0 {
			olderThan = time.Duration(n) * time.Minute
		}
	}

	txs, err := h.service.StuckPurchases(r.Context(), olderThan)
	if err != nil {
		logger.Errorf("failed to fetch stuck transactions: %v", err)
		writeServerError(w, "Failed to fetch stuck transactions", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"transactions": txs})
}

func (h *ReportingHandler) writeExportError(w http.ResponseWriter, address string, err error) {
	if errors.Is(err, services.ErrInvalidRequest) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	logger.Errorf("failed to export transactions for %s: %v", address, err)
	writeServerError(w, "Failed to export transactions", err)
}

func parseInt(value string, fallback int64) int64 {
	if value == "" {
		return fallback
	}
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil || n < 1 {
		return fallback
	}
	return n
}
