package infrastructure

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"adengine/internal/pkg/database"
	"adengine/internal/service/ads/domain"
)

// GormClickLog 是 ClickLogRepository 的 GORM 实现
type GormClickLog struct {
	db *gorm.DB
}

func NewGormClickLog(db *gorm.DB) *GormClickLog {
	return &GormClickLog{db: db}
}

// Append 写入点击记录；同一 ID 重复写入视为成功
func (r *GormClickLog) Append(ctx context.Context, ev domain.ClickEvent) error {
	if err := appendClick(r.db.WithContext(ctx), ev); err != nil {
		return storeErr("clicks.append", err)
	}
	return nil
}

func appendClick(tx *gorm.DB, ev domain.ClickEvent) error {
	err := tx.Create(FromDomainClick(ev)).Error
	if err != nil && database.IsDuplicateEntry(err) {
		return nil
	}
	return err
}

func (r *GormClickLog) CountSince(ctx context.Context, adID, ip string, since time.Time) (int, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&ClickLogModel{}).
		Where("ads_id = ? AND ip_address = ? AND clicked_at >= ?", adID, ip, since).
		Count(&n).Error
	if err != nil {
		return 0, storeErr("clicks.count", err)
	}
	return int(n), nil
}

func (r *GormClickLog) MostRecent(ctx context.Context, adID, ip string) (*domain.ClickEvent, error) {
	var model ClickLogModel
	err := r.db.WithContext(ctx).
		Where("ads_id = ? AND ip_address = ?", adID, ip).
		Order("clicked_at DESC").
		First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, storeErr("clicks.most_recent", err)
	}
	return ToDomainClick(&model), nil
}

func (r *GormClickLog) DistinctAdsSince(ctx context.Context, ip string, since time.Time) ([]string, error) {
	var ids []string
	err := r.db.WithContext(ctx).Model(&ClickLogModel{}).
		Where("ip_address = ? AND clicked_at >= ?", ip, since).
		Distinct().
		Order("ads_id").
		Pluck("ads_id", &ids).Error
	if err != nil {
		return nil, storeErr("clicks.distinct_ads", err)
	}
	return ids, nil
}

type clickAggregate struct {
	Clicks       int64
	BilledClicks int64
	Spend        decimal.Decimal
}

const clickAggregateSelect = "COUNT(*) AS clicks, " +
	"COALESCE(SUM(CASE WHEN billed THEN 1 ELSE 0 END), 0) AS billed_clicks, " +
	"COALESCE(SUM(CASE WHEN billed THEN charged_amount ELSE 0 END), 0) AS spend"

func (r *GormClickLog) Stats(ctx context.Context, adID string, dayStart time.Time) (*domain.AdStats, error) {
	var total, today clickAggregate
	db := r.db.WithContext(ctx)
	if err := db.Model(&ClickLogModel{}).Select(clickAggregateSelect).Where("ads_id = ?", adID).Scan(&total).Error; err != nil {
		return nil, storeErr("clicks.stats", err)
	}
	err := db.Model(&ClickLogModel{}).Select(clickAggregateSelect).
		Where("ads_id = ? AND clicked_at >= ?", adID, dayStart).
		Scan(&today).Error
	if err != nil {
		return nil, storeErr("clicks.stats_today", err)
	}
	return &domain.AdStats{
		AdID:         adID,
		TotalClicks:  total.Clicks,
		BilledClicks: total.BilledClicks,
		TotalSpend:   total.Spend,
		TodayClicks:  today.Clicks,
		TodaySpend:   today.Spend,
	}, nil
}
