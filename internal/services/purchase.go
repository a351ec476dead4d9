package services

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/stablemint/tokensale-backend/internal/chain"
	"github.com/stablemint/tokensale-backend/internal/models"
	"github.com/stablemint/tokensale-backend/internal/store"
	"github.com/stablemint/tokensale-backend/pkg/logger"
)

// Token units: the stablecoin carries 6 decimal places, the sale token 18.
const (
	UsdtDecimals  = 6
	TokenDecimals = 18
)

var (
	ErrInvalidRequest = errors.New("invalid request")
)

// BalanceError is returned when the buyer's stablecoin balance does not
// cover the requested amount. Amounts are whole-USDT decimal strings.
type BalanceError struct {
	Required  string
	Available string
}

func (e *BalanceError) Error() string {
	return fmt.Sprintf("insufficient USDT balance: required %s, available %s", e.Required, e.Available)
}

// AllowanceError is returned when the buyer has not approved enough
// stablecoin for the privileged signer to pull.
type AllowanceError struct {
	Required string
	Approved string
}

func (e *AllowanceError) Error() string {
	return fmt.Sprintf("insufficient USDT allowance: required %s, approved %s", e.Required, e.Approved)
}

// TransactionStore is the ledger surface the services depend on,
// implemented by store.Store and mocked in tests.
type TransactionStore interface {
	CreatePending(ctx context.Context, tx *models.Transaction) error
	MarkPaid(ctx context.Context, requestID, paymentTxHash string) error
	MarkSuccess(ctx context.Context, requestID, txHash string) error
	MarkFailed(ctx context.Context, requestID, reason string) error
	FindByBuyer(ctx context.Context, f store.Filter, page, limit int64) ([]models.Transaction, int64, error)
	FindAllByBuyer(ctx context.Context, buyerAddress string) ([]models.Transaction, error)
	FindStuckPaid(ctx context.Context, olderThan time.Duration) ([]models.Transaction, error)
	TotalStats(ctx context.Context, start, end *time.Time) (*models.TotalStats, error)
	DailyStats(ctx context.Context, start, end *time.Time) ([]models.DailyStat, error)
	TopBuyers(ctx context.Context, start, end *time.Time) ([]models.TopBuyer, error)
}

// BuyRequest is a purchase attempt: spend UsdtAmount (whole-USDT decimal
// string) from BuyerAddress.
type BuyRequest struct {
	UsdtAmount   string `json:"usdtAmount"`
	BuyerAddress string `json:"buyerAddress"`
}

// BuyResult reports a completed purchase.
type BuyResult struct {
	TransactionHash string `json:"transactionHash"`
	TokenAmount     string `json:"tokenAmount"`
	PaymentTxHash   string `json:"paymentTxHash"`
}

// PurchaseService orchestrates the buy flow: precondition reads, the
// pull-then-mint write sequence, and the ledger transitions around it.
// It is the ledger's only writer.
type PurchaseService struct {
	gateway   chain.Gateway
	store     TransactionStore
	usdtAddr  common.Address
	tokenAddr common.Address
	price     decimal.Decimal
}

func NewPurchaseService(gateway chain.Gateway, st TransactionStore, usdtAddr, tokenAddr common.Address, price decimal.Decimal) *PurchaseService {
	return &PurchaseService{
		gateway:   gateway,
		store:     st,
		usdtAddr:  usdtAddr,
		tokenAddr: tokenAddr,
		price:     price,
	}
}

// TokenPrice returns the fixed sale price and the token's decimals.
func (s *PurchaseService) TokenPrice() (decimal.Decimal, int) {
	return s.price, TokenDecimals
}

// Allowance reads how much stablecoin the given address has approved the
// privileged signer to pull, as a whole-USDT decimal string.
func (s *PurchaseService) Allowance(ctx context.Context, address string) (string, error) {
	if !common.IsHexAddress(address) {
		return "", fmt.Errorf("%w: invalid address", ErrInvalidRequest)
	}
	approved, err := s.gateway.Allowance(ctx, s.usdtAddr, common.HexToAddress(address), s.gateway.SignerAddress())
	if err != nil {
		return "", fmt.Errorf("failed to read allowance: %w", err)
	}
	return fromUnits(approved, UsdtDecimals), nil
}

// BuyTokens runs one purchase end to end. Preconditions fail fast with
// no ledger write; once a PENDING record exists, every outcome of the
// two chain writes lands in the ledger as a PAID, SUCCESS or FAILED
// transition before the error (if any) propagates to the caller.
func (s *PurchaseService) BuyTokens(ctx context.Context, req BuyRequest) (*BuyResult, error) {
	usdtAmount, buyer, err := s.validate(req)
	if err != nil {
		return nil, err
	}

	usdtUnits := usdtAmount.Shift(UsdtDecimals).BigInt()

	balance, err := s.gateway.BalanceOf(ctx, s.usdtAddr, buyer)
	if err != nil {
		return nil, fmt.Errorf("failed to read buyer balance: %w", err)
	}
	if balance.Cmp(usdtUnits) < 0 {
		return nil, &BalanceError{
			Required:  usdtAmount.String(),
			Available: fromUnits(balance, UsdtDecimals),
		}
	}

	approved, err := s.gateway.Allowance(ctx, s.usdtAddr, buyer, s.gateway.SignerAddress())
	if err != nil {
		return nil, fmt.Errorf("failed to read buyer allowance: %w", err)
	}
	if approved.Cmp(usdtUnits) < 0 {
		return nil, &AllowanceError{
			Required: usdtAmount.String(),
			Approved: fromUnits(approved, UsdtDecimals),
		}
	}

	tokenAmount := usdtAmount.DivRound(s.price, TokenDecimals)
	tokenUnits := tokenAmount.Shift(TokenDecimals).BigInt()

	record := &models.Transaction{
		RequestID:    uuid.NewString(),
		BuyerAddress: strings.ToLower(buyer.Hex()),
		Type:         models.TypeBuy,
		Amount:       tokenAmount.String(),
		Timestamp:    time.Now().UTC(),
		TokenPrice:   s.price.InexactFloat64(),
		UsdtAmount:   usdtAmount.String(),
	}
	if err := s.store.CreatePending(ctx, record); err != nil {
		return nil, err
	}

	logger.Infof("purchase %s: %s buys %s tokens for %s USDT", record.RequestID, record.BuyerAddress, tokenAmount, usdtAmount)

	paymentTxHash, err := s.gateway.TransferFrom(ctx, s.usdtAddr, buyer, s.gateway.SignerAddress(), usdtUnits)
	if err != nil {
		s.fail(ctx, record.RequestID, err)
		return nil, fmt.Errorf("USDT transfer failed: %w", err)
	}
	if err := s.store.MarkPaid(ctx, record.RequestID, paymentTxHash); err != nil {
		// Payment has moved on-chain; keep going and let the terminal
		// transition record the outcome.
		logger.Errorf("purchase %s: failed to record PAID state: %v", record.RequestID, err)
	}

	mintTxHash, err := s.gateway.Mint(ctx, s.tokenAddr, buyer, tokenUnits)
	if err != nil {
		// Funds were pulled but nothing was minted. The record stays
		// FAILED with the payment hash attached so operators can refund
		// or mint by hand; there is no automatic compensation.
		logger.Errorf("purchase %s: mint failed after confirmed payment %s: %v", record.RequestID, paymentTxHash, err)
		s.fail(ctx, record.RequestID, err)
		return nil, fmt.Errorf("mint failed after confirmed payment %s: %w", paymentTxHash, err)
	}

	if err := s.store.MarkSuccess(ctx, record.RequestID, mintTxHash); err != nil {
		logger.Errorf("purchase %s: chain writes confirmed but ledger update failed: %v", record.RequestID, err)
		return nil, fmt.Errorf("purchase confirmed on-chain (mint %s) but ledger update failed: %w", mintTxHash, err)
	}

	logger.Infof("purchase %s complete: mint tx %s", record.RequestID, mintTxHash)
	return &BuyResult{
		TransactionHash: mintTxHash,
		TokenAmount:     tokenAmount.String(),
		PaymentTxHash:   paymentTxHash,
	}, nil
}

func (s *PurchaseService) validate(req BuyRequest) (decimal.Decimal, common.Address, error) {
	if req.UsdtAmount == "" || req.BuyerAddress == "" {
		return decimal.Zero, common.Address{}, fmt.Errorf("%w: usdtAmount and buyerAddress are required", ErrInvalidRequest)
	}
	if !common.IsHexAddress(req.BuyerAddress) {
		return decimal.Zero, common.Address{}, fmt.Errorf("%w: buyerAddress is not a valid address", ErrInvalidRequest)
	}
	amount, err := decimal.NewFromString(req.UsdtAmount)
	if err != nil {
		return decimal.Zero, common.Address{}, fmt.Errorf("%w: usdtAmount is not a decimal number", ErrInvalidRequest)
	}
	if !amount.IsPositive() {
		return decimal.Zero, common.Address{}, fmt.Errorf("%w: usdtAmount must be positive", ErrInvalidRequest)
	}
	if !amount.Shift(UsdtDecimals).IsInteger() {
		return decimal.Zero, common.Address{}, fmt.Errorf("%w: usdtAmount has more than %d decimal places", ErrInvalidRequest, UsdtDecimals)
	}
	return amount, common.HexToAddress(req.BuyerAddress), nil
}

func (s *PurchaseService) fail(ctx context.Context, requestID string, cause error) {
	if err := s.store.MarkFailed(ctx, requestID, cause.Error()); err != nil {
		logger.Errorf("purchase %s: failed to record FAILED state: %v", requestID, err)
	}
}

// fromUnits renders a smallest-unit integer as a whole-token decimal
// string, e.g. 1500000 with 6 decimals -> "1.5".
func fromUnits(units *big.Int, decimals int32) string {
	return decimal.NewFromBigInt(units, -decimals).String()
}
