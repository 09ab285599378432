package adapter

import (
	"context"
	"sync"
	"time"

	"adengine/internal/pkg/logger"
	"adengine/internal/service/ads/domain"
	"adengine/internal/service/ads/domain/port"
)

// FallbackClickHistory 以 Redis 索引为主、点击日志为准。
// 索引写入失败后，只要那次点击还可能落在反作弊窗口或当天统计里，
// 查询就改走点击日志，避免漏掉的点击让重复点击检测失效。
type FallbackClickHistory struct {
	primary  port.ClickHistory
	fallback port.ClickHistory

	mu       sync.RWMutex
	failedAt time.Time // 最近一次 Track 失败的点击时间
}

func NewFallbackClickHistory(primary, fallback port.ClickHistory) *FallbackClickHistory {
	return &FallbackClickHistory{primary: primary, fallback: fallback}
}

func (f *FallbackClickHistory) Summarize(ctx context.Context, adID, ip string, now time.Time, window time.Duration, dayStart time.Time) (domain.ClickHistorySummary, error) {
	if f.degraded(now, window, dayStart) {
		return f.fallback.Summarize(ctx, adID, ip, now, window, dayStart)
	}
	summary, err := f.primary.Summarize(ctx, adID, ip, now, window, dayStart)
	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("ad", adID).Msg("⚠️ click history index unavailable, reading click log")
		return f.fallback.Summarize(ctx, adID, ip, now, window, dayStart)
	}
	return summary, nil
}

// Track 写主索引；失败时记下点击时间并把错误返回给调用方
func (f *FallbackClickHistory) Track(ctx context.Context, ev domain.ClickEvent) error {
	if err := f.primary.Track(ctx, ev); err != nil {
		f.mu.Lock()
		if ev.ClickedAt.After(f.failedAt) {
			f.failedAt = ev.ClickedAt
		}
		f.mu.Unlock()
		return err
	}
	return nil
}

// degraded 报告主索引是否可能缺少窗口内或当天的点击
func (f *FallbackClickHistory) degraded(now time.Time, window time.Duration, dayStart time.Time) bool {
	f.mu.RLock()
	failedAt := f.failedAt
	f.mu.RUnlock()
	if failedAt.IsZero() {
		return false
	}
	return now.Sub(failedAt) < window || !failedAt.Before(dayStart)
}
