// internal/service/ads/domain/validation.go
package domain

import (
	"fmt"
	"time"
)

const (
	ValidationAdNotFound        = "ad not found"
	ValidationZeroBudget        = "total click budget must be greater than zero"
	ValidationBudgetExhausted   = "remaining click budget is exhausted"
	ValidationWindowElapsed     = "ad end date has already passed"
	ValidationNotStarted        = "ad start date has not been reached"
	ValidationInsufficientFunds = "insufficient wallet balance"
)

// ValidationResult 激活前校验的结果，错误累积返回
type ValidationResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}

func NotFoundResult() ValidationResult {
	return ValidationResult{Valid: false, Errors: []string{ValidationAdNotFound}}
}

// ValidateForActivation 逐项检查，互不短路。wallet 为 nil 时按余额为 0 处理。
func ValidateForActivation(ad *Ad, wallet *WalletBalance, today time.Time) ValidationResult {
	var errs []string
	if ad.TotalClickBudget <= 0 {
		errs = append(errs, ValidationZeroBudget)
	} else if ad.RemainingClickBudget <= 0 {
		errs = append(errs, ValidationBudgetExhausted)
	}
	if ad.Elapsed(today) {
		errs = append(errs, ValidationWindowElapsed)
	} else if ad.NotStarted(today) {
		errs = append(errs, ValidationNotStarted)
	}
	need := ad.ActivationCost()
	if wallet == nil || !wallet.Covers(need) {
		have := "0.00"
		if wallet != nil {
			have = wallet.Balance.StringFixed(2)
		}
		errs = append(errs, fmt.Sprintf("%s: need at least %s, have %s", ValidationInsufficientFunds, need.StringFixed(2), have))
	}
	return ValidationResult{Valid: len(errs) == 0, Errors: errs}
}
