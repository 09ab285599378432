package infrastructure

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"adengine/internal/service/ads/domain"
)

const dateLayout = "2006-01-02"

// GormAdRepository 是 AdRepository 的 GORM 实现
type GormAdRepository struct {
	db *gorm.DB
}

func NewGormAdRepository(db *gorm.DB) *GormAdRepository {
	return &GormAdRepository{db: db}
}

func storeErr(op string, err error) error {
	return domain.NewStoreError(op, errors.WithStack(err))
}

func (r *GormAdRepository) FindByID(ctx context.Context, id string) (*domain.Ad, error) {
	var model AdModel
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, domain.ErrAdNotFound
		}
		return nil, storeErr("ads.find", err)
	}
	return ToDomainAd(&model), nil
}

// Save 按主键插入或整行覆盖
func (r *GormAdRepository) Save(ctx context.Context, ad *domain.Ad) error {
	if err := r.db.WithContext(ctx).Save(FromDomainAd(ad)).Error; err != nil {
		return storeErr("ads.save", err)
	}
	return nil
}

func (r *GormAdRepository) UpdateState(ctx context.Context, id string, state domain.State, at time.Time) error {
	status, autoPaused, reason := fromDomainState(state)
	res := r.db.WithContext(ctx).Model(&AdModel{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":       status,
		"auto_paused":  autoPaused,
		"pause_reason": reason,
		"updated_at":   at,
	})
	if res.Error != nil {
		return storeErr("ads.update_state", res.Error)
	}
	if res.RowsAffected == 0 {
		return domain.ErrAdNotFound
	}
	return nil
}

func (r *GormAdRepository) DecrementClickBudget(ctx context.Context, id string, at time.Time) (int64, domain.State, error) {
	var (
		remaining int64
		state     domain.State
	)
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		remaining, state, err = decrementClickBudget(tx, id, at)
		return err
	})
	if err != nil {
		return 0, domain.State{}, translateTxErr("ads.decrement_budget", err)
	}
	return remaining, state, nil
}

// decrementClickBudget 在事务内锁定广告行并做条件扣减，预算归零时一并自动暂停
func decrementClickBudget(tx *gorm.DB, id string, at time.Time) (int64, domain.State, error) {
	var model AdModel
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).Where("id = ?", id).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, domain.State{}, domain.ErrAdNotFound
		}
		return 0, domain.State{}, err
	}
	state := toDomainState(model.Status, model.AutoPaused, model.PauseReason)
	if !state.IsActive() {
		return model.RemainingClickBudget, state, domain.ErrAdNotServing
	}
	if model.RemainingClickBudget <= 0 {
		return model.RemainingClickBudget, state, domain.ErrBudgetExhausted
	}

	remaining := model.RemainingClickBudget - 1
	updates := map[string]interface{}{
		"remaining_click_budget": gorm.Expr("remaining_click_budget - 1"),
		"updated_at":             at,
	}
	if remaining == 0 {
		state = domain.Paused(domain.PauseReasonBudgetExhausted)
		updates["status"], updates["auto_paused"], updates["pause_reason"] = fromDomainState(state)
	}
	res := tx.Model(&AdModel{}).
		Where("id = ? AND status = ? AND auto_paused = ? AND remaining_click_budget > 0", id, dbStatusActive, false).
		Updates(updates)
	if res.Error != nil {
		return 0, domain.State{}, res.Error
	}
	if res.RowsAffected == 0 {
		return 0, domain.State{}, domain.ErrBudgetExhausted
	}
	return remaining, state, nil
}

func (r *GormAdRepository) ListServing(ctx context.Context, today time.Time, limit int) ([]*domain.Ad, error) {
	day := today.Format(dateLayout)
	q := r.db.WithContext(ctx).
		Where("status = ? AND auto_paused = ? AND ad_type = ?", dbStatusActive, false, string(domain.AdTypeProductInternal)).
		Where("start_date <= ? AND end_date >= ? AND remaining_click_budget > 0", day, day).
		Order("id")
	if limit > 0 {
		q = q.Limit(limit)
	}
	var models []AdModel
	if err := q.Find(&models).Error; err != nil {
		return nil, storeErr("ads.list_serving", err)
	}
	return toDomainAds(models), nil
}

func (r *GormAdRepository) ListPausedBySeller(ctx context.Context, sellerID string, reason domain.PauseReason) ([]*domain.Ad, error) {
	var models []AdModel
	err := r.db.WithContext(ctx).
		Where("seller_id = ? AND status = ? AND auto_paused = ? AND pause_reason = ?", sellerID, dbStatusInactive, true, string(reason)).
		Order("id").
		Find(&models).Error
	if err != nil {
		return nil, storeErr("ads.list_paused", err)
	}
	return toDomainAds(models), nil
}

func (r *GormAdRepository) ExpireElapsed(ctx context.Context, today time.Time) ([]*domain.Ad, error) {
	day := today.Format(dateLayout)
	var models []AdModel
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("end_date < ? AND status <> ?", day, dbStatusExpired).
			Find(&models).Error
		if err != nil || len(models) == 0 {
			return err
		}
		ids := make([]string, 0, len(models))
		for _, m := range models {
			ids = append(ids, m.ID)
		}
		return tx.Model(&AdModel{}).Where("id IN ?", ids).Updates(map[string]interface{}{
			"status":       dbStatusExpired,
			"auto_paused":  false,
			"pause_reason": "",
			"updated_at":   today,
		}).Error
	})
	if err != nil {
		return nil, storeErr("ads.expire", err)
	}
	return toDomainAds(models), nil
}

func toDomainAds(models []AdModel) []*domain.Ad {
	out := make([]*domain.Ad, 0, len(models))
	for i := range models {
		out = append(out, ToDomainAd(&models[i]))
	}
	return out
}

// translateTxErr 保留领域错误，其余包装为存储错误
func translateTxErr(op string, err error) error {
	switch {
	case errors.Is(err, domain.ErrAdNotFound),
		errors.Is(err, domain.ErrWalletNotFound),
		errors.Is(err, domain.ErrAdNotServing),
		errors.Is(err, domain.ErrBudgetExhausted),
		errors.Is(err, domain.ErrInsufficientFunds):
		return err
	default:
		return storeErr(op, err)
	}
}
