package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/stablemint/tokensale-backend/internal/chain"
	"github.com/stablemint/tokensale-backend/internal/services"
	"github.com/stablemint/tokensale-backend/pkg/logger"
)

// PurchaseProvider is the purchase surface the handler needs; satisfied
// by services.PurchaseService.
type PurchaseProvider interface {
	BuyTokens(ctx context.Context, req services.BuyRequest) (*services.BuyResult, error)
	TokenPrice() (decimal.Decimal, int)
	Allowance(ctx context.Context, address string) (string, error)
}

type PurchaseHandler struct {
	service PurchaseProvider
}

func NewPurchaseHandler(service PurchaseProvider) *PurchaseHandler {
	return &PurchaseHandler{service: service}
}

// BuyTokens handles POST /api/buy-tokens.
func (h *PurchaseHandler) BuyTokens(w http.ResponseWriter, r *http.Request) {
	var req services.BuyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	result, err := h.service.BuyTokens(r.Context(), req)
	if err != nil {
		h.writeBuyError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":         true,
		"transactionHash": result.TransactionHash,
		"tokenAmount":     result.TokenAmount,
		"paymentTxHash":   result.PaymentTxHash,
	})
}

func (h *PurchaseHandler) writeBuyError(w http.ResponseWriter, err error) {
	var balErr *services.BalanceError
	if errors.As(err, &balErr) {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error":     "Insufficient USDT balance",
			"required":  balErr.Required,
			"available": balErr.Available,
		})
		return
	}

	var allowErr *services.AllowanceError
	if errors.As(err, &allowErr) {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error":    "Insufficient USDT allowance",
			"required": allowErr.Required,
			"approved": allowErr.Approved,
		})
		return
	}

	switch {
	case errors.Is(err, services.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, chain.ErrInsufficientGas):
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error":   "Insufficient funds for gas",
			"details": err.Error(),
		})
	case errors.Is(err, chain.ErrCallReverted):
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error":   "Transaction reverted",
			"details": err.Error(),
		})
	default:
		logger.Errorf("purchase failed: %v", err)
		writeServerError(w, "Failed to process purchase", err)
	}
}

// TokenPrice handles GET /api/token-price.
func (h *PurchaseHandler) TokenPrice(w http.ResponseWriter, r *http.Request) {
	price, decimals := h.service.TokenPrice()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"price":    price.InexactFloat64(),
		"decimals": decimals,
	})
}

// UsdtAllowance handles GET /api/usdt-allowance.
func (h *PurchaseHandler) UsdtAllowance(w http.ResponseWriter, r *http.Request) {
	address := r.URL.Query().Get("address")
	if address == "" {
		writeError(w, http.StatusBadRequest, "address query parameter is required")
		return
	}

	allowance, err := h.service.Allowance(r.Context(), address)
	if err != nil {
		if errors.Is(err, services.ErrInvalidRequest) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		logger.Errorf("failed to read allowance for %s: %v", address, err)
		writeServerError(w, "Failed to fetch allowance", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"allowance": allowance})
}
