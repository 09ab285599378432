package adapter

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"adengine/internal/service/ads/domain"
	"adengine/internal/service/ads/infrastructure/memory"
)

// brokenIndex 模拟 Redis 索引：Track 按开关失败，Summarize 只看自己记住的点击
type brokenIndex struct {
	failTrack     bool
	failSummarize bool
	tracked       []domain.ClickEvent
}

func (b *brokenIndex) Summarize(_ context.Context, adID, ip string, now time.Time, window time.Duration, _ time.Time) (domain.ClickHistorySummary, error) {
	if b.failSummarize {
		return domain.ClickHistorySummary{}, errors.New("redis: connection refused")
	}
	var s domain.ClickHistorySummary
	for _, ev := range b.tracked {
		if ev.AdID == adID && ev.IPAddress == ip && ev.ClickedAt.After(now.Add(-window)) {
			s.RecentSameAdIP++
		}
	}
	return s, nil
}

func (b *brokenIndex) Track(_ context.Context, ev domain.ClickEvent) error {
	if b.failTrack {
		return errors.New("redis: connection refused")
	}
	b.tracked = append(b.tracked, ev)
	return nil
}

var clickAt = time.Date(2024, 6, 15, 12, 0, 0, 0, time.UTC)

func loggedClick(t *testing.T, store *memory.Store, at time.Time) domain.ClickEvent {
	t.Helper()
	ev := domain.ClickEvent{ID: at.String(), AdID: "ad-1", SellerID: "seller-1", IPAddress: "10.0.0.1", ClickedAt: at, Billed: true, ChargedAmount: decimal.RequireFromString("1.00")}
	require.NoError(t, store.Append(context.Background(), ev))
	return ev
}

func TestFallbackClickHistoryReadsClickLogAfterTrackFailure(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	index := &brokenIndex{failTrack: true}
	h := NewFallbackClickHistory(index, NewClickLogHistoryAdapter(store))
	dayStart := time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)

	ev := loggedClick(t, store, clickAt)
	require.Error(t, h.Track(ctx, ev))

	// 索引里没有这次点击，但重复点击仍然要被看到
	s, err := h.Summarize(ctx, "ad-1", "10.0.0.1", clickAt.Add(5*time.Second), 10*time.Second, dayStart)
	require.NoError(t, err)
	assert.Equal(t, 1, s.RecentSameAdIP)
	assert.True(t, s.AdClickedToday)
}

func TestFallbackClickHistoryUsesIndexWhenHealthy(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	index := &brokenIndex{}
	h := NewFallbackClickHistory(index, NewClickLogHistoryAdapter(store))
	dayStart := time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)

	// 只写日志不写索引：健康时读的是索引
	loggedClick(t, store, clickAt)

	s, err := h.Summarize(ctx, "ad-1", "10.0.0.1", clickAt.Add(time.Second), 10*time.Second, dayStart)
	require.NoError(t, err)
	assert.Zero(t, s.RecentSameAdIP)
}

func TestFallbackClickHistoryRecoversAfterWindowAndDay(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	index := &brokenIndex{failTrack: true}
	h := NewFallbackClickHistory(index, NewClickLogHistoryAdapter(store))

	require.Error(t, h.Track(ctx, loggedClick(t, store, clickAt)))
	index.failTrack = false

	// 第二天且已出窗口：丢失的那次点击不再影响任何统计，回到索引
	next := clickAt.AddDate(0, 0, 1)
	nextStart := time.Date(2024, 6, 16, 0, 0, 0, 0, time.UTC)
	assert.False(t, h.degraded(next, 10*time.Second, nextStart))

	// 同一天但已出窗口：当天统计仍可能缺数据
	sameDayStart := time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)
	assert.True(t, h.degraded(clickAt.Add(time.Hour), 10*time.Second, sameDayStart))
}

func TestFallbackClickHistoryFallsBackOnSummarizeError(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	index := &brokenIndex{failSummarize: true}
	h := NewFallbackClickHistory(index, NewClickLogHistoryAdapter(store))
	dayStart := time.Date(2024, 6, 15, 0, 0, 0, 0, time.UTC)

	loggedClick(t, store, clickAt)

	s, err := h.Summarize(ctx, "ad-1", "10.0.0.1", clickAt.Add(time.Second), 10*time.Second, dayStart)
	require.NoError(t, err)
	assert.Equal(t, 1, s.RecentSameAdIP)
}
