package adapter

import (
	"context"
	"time"

	"adengine/internal/service/ads/domain"
)

// ClickLogHistoryAdapter 直接用点击日志表回答反作弊查询
type ClickLogHistoryAdapter struct {
	clicks domain.ClickLogRepository
}

func NewClickLogHistoryAdapter(clicks domain.ClickLogRepository) *ClickLogHistoryAdapter {
	return &ClickLogHistoryAdapter{clicks: clicks}
}

func (a *ClickLogHistoryAdapter) Summarize(ctx context.Context, adID, ip string, now time.Time, window time.Duration, dayStart time.Time) (domain.ClickHistorySummary, error) {
	recent, err := a.clicks.CountSince(ctx, adID, ip, now.Add(-window))
	if err != nil {
		return domain.ClickHistorySummary{}, err
	}
	ads, err := a.clicks.DistinctAdsSince(ctx, ip, dayStart)
	if err != nil {
		return domain.ClickHistorySummary{}, err
	}
	summary := domain.ClickHistorySummary{RecentSameAdIP: recent, DistinctAdsToday: len(ads)}
	for _, id := range ads {
		if id == adID {
			summary.AdClickedToday = true
			break
		}
	}
	return summary, nil
}

// Track 无需额外索引，点击日志本身就是数据源
func (a *ClickLogHistoryAdapter) Track(context.Context, domain.ClickEvent) error {
	return nil
}
