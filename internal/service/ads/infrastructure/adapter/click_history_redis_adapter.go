package adapter

import (
	"context"
	"fmt"
	"time"

	"adengine/internal/pkg/redis"
	"adengine/internal/service/ads/domain"
)

const (
	trackClickScriptName = "track_click"
	summarizeScriptName  = "summarize_clicks"
	dailyAdsKeyRetention = 26 * time.Hour
)

// ClickHistoryRedisAdapter 用 Redis 维护反作弊所需的点击窗口：
// 每个 (ad, ip) 一个按时间打分的 ZSET，每个 (ip, 日期) 一个广告集合。
// 点击日志仍然写数据库，这里只是读优化的索引。
type ClickHistoryRedisAdapter struct {
	redisClient *redis.Client
	window      time.Duration
	location    *time.Location
}

// NewClickHistoryRedisAdapter 创建适配器并加载 Lua 脚本
func NewClickHistoryRedisAdapter(redisClient *redis.Client, window time.Duration, loc *time.Location) (*ClickHistoryRedisAdapter, error) {
	if err := redisClient.LoadScriptFromContent(trackClickScriptName, trackClickScript); err != nil {
		return nil, fmt.Errorf("failed to load track click script: %w", err)
	}
	if err := redisClient.LoadScriptFromContent(summarizeScriptName, summarizeClicksScript); err != nil {
		return nil, fmt.Errorf("failed to load summarize clicks script: %w", err)
	}
	if loc == nil {
		loc = time.UTC
	}
	return &ClickHistoryRedisAdapter{redisClient: redisClient, window: window, location: loc}, nil
}

// 两个 key 共用 ip 作为 hash tag，保证集群模式下落在同一个 slot
func windowKey(adID, ip string) string { return fmt.Sprintf("ads:clicks:{%s}:%s", ip, adID) }

func dailyAdsKey(ip string, day time.Time) string {
	return fmt.Sprintf("ads:ip_ads:{%s}:%s", ip, day.Format("20060102"))
}

func (a *ClickHistoryRedisAdapter) Summarize(ctx context.Context, adID, ip string, now time.Time, window time.Duration, dayStart time.Time) (domain.ClickHistorySummary, error) {
	keys := []string{windowKey(adID, ip), dailyAdsKey(ip, dayStart.In(a.location))}
	args := []interface{}{now.UnixMilli(), window.Milliseconds(), adID}

	result, err := a.redisClient.RunScript(ctx, summarizeScriptName, keys, args...)
	if err != nil {
		return domain.ClickHistorySummary{}, domain.NewStoreError("redis.summarize_clicks", err)
	}
	values, ok := result.([]interface{})
	if !ok || len(values) != 3 {
		return domain.ClickHistorySummary{}, fmt.Errorf("unexpected result from summarize script: %v", result)
	}
	recent, _ := values[0].(int64)
	distinct, _ := values[1].(int64)
	clickedToday, _ := values[2].(int64)
	return domain.ClickHistorySummary{
		RecentSameAdIP:   int(recent),
		DistinctAdsToday: int(distinct),
		AdClickedToday:   clickedToday == 1,
	}, nil
}

func (a *ClickHistoryRedisAdapter) Track(ctx context.Context, ev domain.ClickEvent) error {
	day := ev.ClickedAt.In(a.location)
	keys := []string{windowKey(ev.AdID, ev.IPAddress), dailyAdsKey(ev.IPAddress, day)}
	args := []interface{}{
		ev.ClickedAt.UnixMilli(),
		a.window.Milliseconds(),
		ev.ID,
		ev.AdID,
		dailyAdsKeyRetention.Milliseconds(),
	}
	if _, err := a.redisClient.RunScript(ctx, trackClickScriptName, keys, args...); err != nil {
		return domain.NewStoreError("redis.track_click", err)
	}
	return nil
}

var summarizeClicksScript = `
-- KEYS[1]: (ad, ip) 点击窗口 ZSET
-- KEYS[2]: (ip, 日期) 广告集合
-- ARGV[1]: 当前时间毫秒  ARGV[2]: 窗口毫秒  ARGV[3]: ad id
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local recent = redis.call('zcount', KEYS[1], now - window, '+inf')
local distinct = redis.call('scard', KEYS[2])
local clicked = redis.call('sismember', KEYS[2], ARGV[3])
return {recent, distinct, clicked}
`

var trackClickScript = `
-- KEYS[1]: (ad, ip) 点击窗口 ZSET
-- KEYS[2]: (ip, 日期) 广告集合
-- ARGV[1]: 点击时间毫秒  ARGV[2]: 窗口毫秒  ARGV[3]: click id  ARGV[4]: ad id  ARGV[5]: 集合保留毫秒
local at = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
-- 1. 清理窗口外的旧点击
redis.call('zremrangebyscore', KEYS[1], '-inf', at - window)
-- 2. 记录本次点击
redis.call('zadd', KEYS[1], at, ARGV[3])
redis.call('pexpire', KEYS[1], window)
-- 3. 记录该 IP 今天点过的广告
redis.call('sadd', KEYS[2], ARGV[4])
redis.call('pexpire', KEYS[2], tonumber(ARGV[5]))
return 1
`
