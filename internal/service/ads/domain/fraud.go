// internal/service/ads/domain/fraud.go
package domain

import (
	"fmt"
	"time"
)

const MaxFraudScore = 100

// FraudPolicy 反作弊参数
type FraudPolicy struct {
	Window            time.Duration // 同 IP 同广告的追溯窗口
	ScorePerRepeat    int           // 窗口内每次历史点击累加的分值
	MaxAdsPerIPPerDay int           // 单 IP 每天可点击的不同广告数，0 表示不限制
	BlockScore        int           // 分值达到该阈值时拒绝计费，0 表示只看 IsDuplicate
}

func DefaultFraudPolicy() FraudPolicy {
	return FraudPolicy{
		Window:            5 * time.Minute,
		ScorePerRepeat:    25,
		MaxAdsPerIPPerDay: 10,
		BlockScore:        MaxFraudScore,
	}
}

// ClickHistorySummary 是判定所需的点击日志统计
type ClickHistorySummary struct {
	RecentSameAdIP   int  // 窗口内 (ad, ip) 的历史点击数
	DistinctAdsToday int  // 该 IP 今天点过的不同广告数
	AdClickedToday   bool // 该 IP 今天是否点过当前广告
}

// FraudVerdict 是一次点击的判定结果
type FraudVerdict struct {
	IsDuplicate     bool     `json:"is_duplicate"`
	FraudScore      int      `json:"fraud_score"`
	IPLimitExceeded bool     `json:"ip_limit_exceeded"`
	Indicators      []string `json:"indicators,omitempty"`
}

// Evaluate 根据历史统计计算判定。分值随窗口内点击次数单调递增，并封顶 100。
func (p FraudPolicy) Evaluate(h ClickHistorySummary) FraudVerdict {
	v := FraudVerdict{}
	if h.RecentSameAdIP > 0 {
		v.IsDuplicate = true
		v.FraudScore = min(h.RecentSameAdIP*p.ScorePerRepeat, MaxFraudScore)
		v.Indicators = append(v.Indicators, fmt.Sprintf("%d prior clicks from this ip within %s", h.RecentSameAdIP, p.Window))
	}
	if p.MaxAdsPerIPPerDay > 0 && !h.AdClickedToday && h.DistinctAdsToday >= p.MaxAdsPerIPPerDay {
		v.IPLimitExceeded = true
		v.Indicators = append(v.Indicators, fmt.Sprintf("ip already clicked %d distinct ads today", h.DistinctAdsToday))
	}
	return v
}

// Blocks 报告判定结果是否应当拒绝计费，以及对应的原因
func (p FraudPolicy) Blocks(v FraudVerdict) (DeclineReason, bool) {
	switch {
	case v.IsDuplicate:
		return ReasonDuplicateClick, true
	case p.BlockScore > 0 && v.FraudScore >= p.BlockScore:
		return ReasonFraudSuspected, true
	case v.IPLimitExceeded:
		return ReasonIPDailyLimit, true
	default:
		return "", false
	}
}
