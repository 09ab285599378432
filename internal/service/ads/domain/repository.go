// internal/service/ads/domain/repository.go
package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// AdRepository 广告存储
type AdRepository interface {
	FindByID(ctx context.Context, id string) (*Ad, error)
	Save(ctx context.Context, ad *Ad) error
	UpdateState(ctx context.Context, id string, state State, at time.Time) error
	// DecrementClickBudget 原子地把剩余点击预算减一，减到 0 时同时置为 PAUSED(BUDGET_EXHAUSTED)。
	// 广告不在投放中返回 ErrAdNotServing，预算已为 0 返回 ErrBudgetExhausted。
	DecrementClickBudget(ctx context.Context, id string, at time.Time) (remaining int64, state State, err error)
	// ListServing 返回 ACTIVE、窗口内、预算大于 0 的商品广告
	ListServing(ctx context.Context, today time.Time, limit int) ([]*Ad, error)
	ListPausedBySeller(ctx context.Context, sellerID string, reason PauseReason) ([]*Ad, error)
	// ExpireElapsed 把 end_date < today 的非终态广告置为 EXPIRED，返回被迁移的广告（迁移前状态）
	ExpireElapsed(ctx context.Context, today time.Time) ([]*Ad, error)
}

// WalletLedger 卖家钱包账本
type WalletLedger interface {
	GetWallet(ctx context.Context, sellerID string) (*WalletBalance, error)
	GetBalance(ctx context.Context, sellerID string) (decimal.Decimal, error)
	// Debit 原子扣款；余额不足返回 false 且不产生任何副作用
	Debit(ctx context.Context, sellerID string, amount decimal.Decimal) (bool, error)
	Credit(ctx context.Context, sellerID string, amount decimal.Decimal, description string) (*WalletBalance, error)
}

// ClickLogRepository 只追加的点击日志
type ClickLogRepository interface {
	Append(ctx context.Context, ev ClickEvent) error
	CountSince(ctx context.Context, adID, ip string, since time.Time) (int, error)
	// MostRecent 返回 (ad, ip) 最近一次点击，没有则返回 nil, nil
	MostRecent(ctx context.Context, adID, ip string) (*ClickEvent, error)
	DistinctAdsSince(ctx context.Context, ip string, since time.Time) ([]string, error)
	Stats(ctx context.Context, adID string, dayStart time.Time) (*AdStats, error)
}

// ChargeEntry 一次成功计费需要落库的全部内容
type ChargeEntry struct {
	Click  ClickEvent
	Amount decimal.Decimal
}

// ChargeReceipt 计费提交后的结果
type ChargeReceipt struct {
	BalanceAfter   decimal.Decimal
	RemainingAfter int64
	State          State
	Transaction    WalletTransaction
}

// DeclineEntry 一次拒绝计费需要落库的内容；Pause 非空时同时自动暂停广告
type DeclineEntry struct {
	Click ClickEvent
	Pause PauseReason
}

// ChargeRecorder 把 "扣款 + 减预算 + 写点击日志" 作为一个工作单元提交。
// 任一条件更新失败则全部回滚，并返回 ErrInsufficientFunds / ErrBudgetExhausted / ErrAdNotServing。
type ChargeRecorder interface {
	RecordCharge(ctx context.Context, entry ChargeEntry) (*ChargeReceipt, error)
	// RecordDecline 写入未计费点击，必要时自动暂停；返回是否真的发生了暂停
	RecordDecline(ctx context.Context, entry DeclineEntry) (paused bool, err error)
}
