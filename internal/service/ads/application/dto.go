// internal/service/ads/application/dto.go
package application

import (
	"github.com/shopspring/decimal"

	"adengine/internal/service/ads/domain"
)

// BillingResult 是 ChargeClick 的返回值。拒绝计费是正常结果，不是错误。
type BillingResult struct {
	Success    bool                 `json:"success"`
	Charged    decimal.Decimal      `json:"charged"`
	Message    string               `json:"message"`
	Reason     domain.DeclineReason `json:"reason,omitempty"`
	ClickID    string               `json:"click_id,omitempty"`
	FraudScore int                  `json:"fraud_score"`
	// 以下两个字段只在成功计费时填写
	BalanceAfter         *decimal.Decimal `json:"balance_after,omitempty"`
	RemainingClickBudget *int64           `json:"remaining_click_budget,omitempty"`
}

func declined(reason domain.DeclineReason) *BillingResult {
	return &BillingResult{Success: false, Charged: decimal.Zero, Message: reason.Message(), Reason: reason}
}

// ActivationResult 是 Activate/Reactivate 的返回值
type ActivationResult struct {
	Activated bool         `json:"activated"`
	Errors    []string     `json:"errors,omitempty"`
	State     domain.State `json:"-"`
	Status    string       `json:"status"`
}

func newActivationResult(ad *domain.Ad, activated bool, errs []string) *ActivationResult {
	r := &ActivationResult{Activated: activated, Errors: errs}
	if ad != nil {
		r.State = ad.State
		r.Status = ad.State.String()
	}
	return r
}
