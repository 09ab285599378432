// internal/service/ads/domain/click.go
package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ClickEvent 是一次点击尝试的不可变记录，无论是否计费都会写入。
// 它是反作弊与计费幂等的事实来源。
type ClickEvent struct {
	ID            string
	AdID          string
	SellerID      string
	IPAddress     string
	ClickedAt     time.Time
	Billed        bool
	ChargedAmount decimal.Decimal
	Reason        DeclineReason // 计费成功时为空
}

func NewBilledClick(ad *Ad, ip string, at time.Time, amount decimal.Decimal) ClickEvent {
	return ClickEvent{
		ID:            uuid.NewString(),
		AdID:          ad.ID,
		SellerID:      ad.SellerID,
		IPAddress:     ip,
		ClickedAt:     at,
		Billed:        true,
		ChargedAmount: amount,
	}
}

func NewUnbilledClick(ad *Ad, ip string, at time.Time, reason DeclineReason) ClickEvent {
	return ClickEvent{
		ID:            uuid.NewString(),
		AdID:          ad.ID,
		SellerID:      ad.SellerID,
		IPAddress:     ip,
		ClickedAt:     at,
		ChargedAmount: decimal.Zero,
		Reason:        reason,
	}
}

// DeclineReason 是计费拒绝的机器可读原因
type DeclineReason string

const (
	ReasonAdNotFound       DeclineReason = "ad_not_found"
	ReasonAdNotActive      DeclineReason = "ad_not_active"
	ReasonDuplicateClick   DeclineReason = "duplicate_click"
	ReasonFraudSuspected   DeclineReason = "fraud_suspected"
	ReasonIPDailyLimit     DeclineReason = "ip_daily_limit"
	ReasonInsufficientFund DeclineReason = "insufficient_balance"
	ReasonBudgetExhausted  DeclineReason = "budget_exhausted"
	ReasonFlatPlan         DeclineReason = "flat_plan"
)

// Message 返回面向调用方的文案
func (r DeclineReason) Message() string {
	switch r {
	case ReasonAdNotFound:
		return "ad not found"
	case ReasonAdNotActive:
		return "ad not active"
	case ReasonDuplicateClick:
		return "duplicate click"
	case ReasonFraudSuspected:
		return "fraud suspected"
	case ReasonIPDailyLimit:
		return "ip daily ad limit reached"
	case ReasonInsufficientFund:
		return "insufficient balance"
	case ReasonBudgetExhausted:
		return "budget exhausted"
	case ReasonFlatPlan:
		return "no charge for flat plan"
	default:
		return string(r)
	}
}

// AdStats 是基于点击日志的广告统计
type AdStats struct {
	AdID         string          `json:"ad_id"`
	TotalClicks  int64           `json:"total_clicks"`
	BilledClicks int64           `json:"billed_clicks"`
	TotalSpend   decimal.Decimal `json:"total_spend"`
	TodayClicks  int64           `json:"today_clicks"`
	TodaySpend   decimal.Decimal `json:"today_spend"`
}
