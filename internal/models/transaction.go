package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Transaction types.
const (
	TypeBuy     = "BUY"
	TypeApprove = "APPROVE"
)

// Transaction statuses. A record starts PENDING, moves to PAID once the
// stablecoin pull is confirmed, and ends in SUCCESS or FAILED. Terminal
// records are never rewritten.
const (
	StatusPending = "PENDING"
	StatusPaid    = "PAID"
	StatusSuccess = "SUCCESS"
	StatusFailed  = "FAILED"
)

// Transaction is one ledger record describing a purchase attempt and its
// outcome. Amounts are decimal strings; arithmetic on them happens in
// shopspring/decimal, never float64.
type Transaction struct {
	ID            primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	RequestID     string             `bson:"requestId" json:"requestId"`
	BuyerAddress  string             `bson:"buyerAddress" json:"buyerAddress"`
	Type          string             `bson:"type" json:"type"`
	Amount        string             `bson:"amount" json:"amount"`
	Status        string             `bson:"status" json:"status"`
	TxHash        string             `bson:"txHash,omitempty" json:"txHash"`
	PaymentTxHash string             `bson:"paymentTxHash,omitempty" json:"paymentTxHash,omitempty"`
	FailReason    string             `bson:"failReason,omitempty" json:"failReason,omitempty"`
	Timestamp     time.Time          `bson:"timestamp" json:"timestamp"`
	TokenPrice    float64            `bson:"tokenPrice" json:"tokenPrice"`
	UsdtAmount    string             `bson:"usdtAmount" json:"usdtAmount"`
}

// Pagination is page metadata returned with every history page.
type Pagination struct {
	Total int64 `json:"total"`
	Page  int64 `json:"page"`
	Limit int64 `json:"limit"`
	Pages int64 `json:"pages"`
}

// TotalStats aggregates successful BUY records.
type TotalStats struct {
	TotalTokensSold  string `bson:"totalTokensSold" json:"totalTokensSold"`
	TotalUsdtRaised  string `bson:"totalUsdtRaised" json:"totalUsdtRaised"`
	TransactionCount int64  `bson:"transactionCount" json:"transactionCount"`
	AveragePurchase  string `bson:"averagePurchase" json:"averagePurchase"`
}

// DailyStat is one calendar day of the sale, date formatted YYYY-MM-DD.
type DailyStat struct {
	Date             string `bson:"_id" json:"date"`
	TokensSold       string `bson:"tokensSold" json:"tokensSold"`
	UsdtRaised       string `bson:"usdtRaised" json:"usdtRaised"`
	TransactionCount int64  `bson:"transactionCount" json:"transactionCount"`
}

// TopBuyer is one leaderboard entry, ranked by total stablecoin spent.
type TopBuyer struct {
	BuyerAddress string `bson:"_id" json:"buyerAddress"`
	TotalUsdt    string `bson:"totalUsdt" json:"totalUsdt"`
	TotalTokens  string `bson:"totalTokens" json:"totalTokens"`
	Purchases    int64  `bson:"purchases" json:"purchases"`
}
