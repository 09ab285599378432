// internal/service/ads/domain/errors.go
package domain

import (
	"errors"
	"fmt"
)

var (
	ErrAdNotFound        = errors.New("ad not found")
	ErrWalletNotFound    = errors.New("wallet not found")
	ErrAdExpired         = errors.New("ad has expired")
	ErrInvalidTransition = errors.New("invalid ad state transition")

	// 以下三个错误由存储层的条件更新返回，表示比较交换失败，调用方应转换为计费拒绝
	ErrInsufficientFunds = errors.New("insufficient wallet balance")
	ErrBudgetExhausted   = errors.New("click budget exhausted")
	ErrAdNotServing      = errors.New("ad is not serving")

	ErrStoreUnavailable     = errors.New("store unavailable")
	ErrConsistencyViolation = errors.New("consistency violation")
)

// StoreError 包装基础设施错误（数据库、Redis、Kafka 不可用等）。
// errors.Is(err, ErrStoreUnavailable) 对它成立。
type StoreError struct {
	Op  string
	Err error
}

func NewStoreError(op string, err error) *StoreError {
	return &StoreError{Op: op, Err: err}
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrStoreUnavailable, e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func (e *StoreError) Is(target error) bool { return target == ErrStoreUnavailable }

// InvariantViolation 表示串行化边界出了问题：余额或剩余点击预算变成了负数。
// 不做任何截断，直接向上返回。
type InvariantViolation struct {
	Invariant string
	AdID      string
	SellerID  string
	Detail    string
}

func (e *InvariantViolation) Error() string {
	return fmt.Sprintf("%s: %s (ad=%s seller=%s): %s", ErrConsistencyViolation, e.Invariant, e.AdID, e.SellerID, e.Detail)
}

func (e *InvariantViolation) Is(target error) bool { return target == ErrConsistencyViolation }
