package infrastructure

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"adengine/internal/service/ads/domain"
)

// GormWalletLedger 是 WalletLedger 的 GORM 实现
type GormWalletLedger struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGormWalletLedger(db *gorm.DB) *GormWalletLedger {
	return &GormWalletLedger{db: db, now: time.Now}
}

func (l *GormWalletLedger) GetWallet(ctx context.Context, sellerID string) (*domain.WalletBalance, error) {
	var model WalletModel
	err := l.db.WithContext(ctx).Where("seller_id = ?", sellerID).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrWalletNotFound
		}
		return nil, storeErr("wallet.get", err)
	}
	return ToDomainWallet(&model), nil
}

func (l *GormWalletLedger) GetBalance(ctx context.Context, sellerID string) (decimal.Decimal, error) {
	w, err := l.GetWallet(ctx, sellerID)
	if err != nil {
		return decimal.Zero, err
	}
	return w.Balance, nil
}

// Debit 余额不足或钱包不存在时返回 false，不写任何数据
func (l *GormWalletLedger) Debit(ctx context.Context, sellerID string, amount decimal.Decimal) (bool, error) {
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		_, err := debitWallet(tx, sellerID, "", amount, "debit", l.now())
		return err
	})
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, domain.ErrInsufficientFunds), errors.Is(err, domain.ErrWalletNotFound):
		return false, nil
	default:
		return false, storeErr("wallet.debit", err)
	}
}

// debitWallet 锁定钱包行，用 balance >= amount 的条件更新扣款，并写一条流水
func debitWallet(tx *gorm.DB, sellerID, adID string, amount decimal.Decimal, desc string, at time.Time) (domain.WalletTransaction, error) {
	var model WalletModel
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("seller_id = ?", sellerID).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return domain.WalletTransaction{}, domain.ErrWalletNotFound
		}
		return domain.WalletTransaction{}, err
	}
	if model.Balance.LessThan(amount) {
		return domain.WalletTransaction{}, domain.ErrInsufficientFunds
	}
	res := tx.Model(&WalletModel{}).
		Where("seller_id = ? AND balance >= ?", sellerID, amount).
		Updates(map[string]interface{}{
			"balance":    gorm.Expr("balance - ?", amount),
			"updated_at": at,
		})
	if res.Error != nil {
		return domain.WalletTransaction{}, res.Error
	}
	if res.RowsAffected == 0 {
		return domain.WalletTransaction{}, domain.ErrInsufficientFunds
	}

	txn := domain.WalletTransaction{
		ID:           uuid.NewString(),
		SellerID:     sellerID,
		AdID:         adID,
		Type:         domain.TransactionDebit,
		Amount:       amount,
		BalanceAfter: model.Balance.Sub(amount),
		Description:  desc,
		CreatedAt:    at,
	}
	if err := tx.Create(FromDomainTransaction(txn)).Error; err != nil {
		return domain.WalletTransaction{}, err
	}
	return txn, nil
}

// Credit 充值；钱包不存在时创建
func (l *GormWalletLedger) Credit(ctx context.Context, sellerID string, amount decimal.Decimal, description string) (*domain.WalletBalance, error) {
	now := l.now()
	var wallet WalletModel
	err := l.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("seller_id = ?", sellerID).First(&wallet).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			wallet = WalletModel{SellerID: sellerID, Balance: amount, LockedBalance: decimal.Zero, UpdatedAt: now}
			if err := tx.Create(&wallet).Error; err != nil {
				return err
			}
		case err != nil:
			return err
		default:
			wallet.Balance = wallet.Balance.Add(amount)
			wallet.UpdatedAt = now
			err := tx.Model(&WalletModel{}).Where("seller_id = ?", sellerID).Updates(map[string]interface{}{
				"balance":    gorm.Expr("balance + ?", amount),
				"updated_at": now,
			}).Error
			if err != nil {
				return err
			}
		}
		return tx.Create(FromDomainTransaction(domain.WalletTransaction{
			ID:           uuid.NewString(),
			SellerID:     sellerID,
			Type:         domain.TransactionCredit,
			Amount:       amount,
			BalanceAfter: wallet.Balance,
			Description:  description,
			CreatedAt:    now,
		})).Error
	})
	if err != nil {
		return nil, storeErr("wallet.credit", err)
	}
	return ToDomainWallet(&wallet), nil
}
