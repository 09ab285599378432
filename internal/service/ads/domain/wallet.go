// internal/service/ads/domain/wallet.go
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// WalletBalance 卖家预付钱包
type WalletBalance struct {
	SellerID      string
	Balance       decimal.Decimal
	LockedBalance decimal.Decimal
	UpdatedAt     time.Time
}

// Covers 报告可用余额是否足以支付 amount
func (w *WalletBalance) Covers(amount decimal.Decimal) bool {
	return w.Balance.GreaterThanOrEqual(amount)
}

type TransactionType string

const (
	TransactionDebit  TransactionType = "debit"
	TransactionCredit TransactionType = "credit"
)

// WalletTransaction 钱包流水，每次扣款/充值一条，记录变动后的余额
type WalletTransaction struct {
	ID           string
	SellerID     string
	AdID         string
	Type         TransactionType
	Amount       decimal.Decimal
	BalanceAfter decimal.Decimal
	Description  string
	CreatedAt    time.Time
}
