package infrastructure

import (
	"context"

	"gorm.io/gorm"

	"adengine/internal/service/ads/domain"
)

// GormChargeRecorder 在一个 MySQL 事务里完成 "减预算 + 扣款 + 写点击日志"。
// 加锁顺序与应用层一致：先广告行，后钱包行。
type GormChargeRecorder struct {
	db *gorm.DB
}

func NewGormChargeRecorder(db *gorm.DB) *GormChargeRecorder {
	return &GormChargeRecorder{db: db}
}

func (r *GormChargeRecorder) RecordCharge(ctx context.Context, entry domain.ChargeEntry) (*domain.ChargeReceipt, error) {
	click := entry.Click
	var receipt domain.ChargeReceipt
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		remaining, state, err := decrementClickBudget(tx, click.AdID, click.ClickedAt)
		if err != nil {
			return err
		}
		txn, err := debitWallet(tx, click.SellerID, click.AdID, entry.Amount, "ad click charge", click.ClickedAt)
		if err != nil {
			return err
		}
		if err := appendClick(tx, click); err != nil {
			return err
		}
		receipt = domain.ChargeReceipt{
			BalanceAfter:   txn.BalanceAfter,
			RemainingAfter: remaining,
			State:          state,
			Transaction:    txn,
		}
		return nil
	})
	if err != nil {
		return nil, translateTxErr("billing.record_charge", err)
	}
	return &receipt, nil
}

func (r *GormChargeRecorder) RecordDecline(ctx context.Context, entry domain.DeclineEntry) (bool, error) {
	click := entry.Click
	paused := false
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if entry.Pause != domain.PauseReasonNone {
			status, autoPaused, reason := fromDomainState(domain.Paused(entry.Pause))
			res := tx.Model(&AdModel{}).
				Where("id = ? AND status = ? AND auto_paused = ?", click.AdID, dbStatusActive, false).
				Updates(map[string]interface{}{
					"status":       status,
					"auto_paused":  autoPaused,
					"pause_reason": reason,
					"updated_at":   click.ClickedAt,
				})
			if res.Error != nil {
				return res.Error
			}
			paused = res.RowsAffected > 0
		}
		return appendClick(tx, click)
	})
	if err != nil {
		return false, storeErr("billing.record_decline", err)
	}
	return paused, nil
}
