// internal/service/ads/domain/rank.go
package domain

import (
	"math"
	"sort"
	"time"
)

const (
	DefaultRankWeight = 0.3
	DefaultTieEpsilon = 0.01
	MaxProductScore   = 100.0
)

// AdRankSnapshot 是排名时的派生快照，不持久化
type AdRankSnapshot struct {
	AdID         string    `json:"ad_id"`
	BidAmount    float64   `json:"bid_amount"`
	ProductScore float64   `json:"product_score"`
	Rank         float64   `json:"rank"`
	CreatedAt    time.Time `json:"created_at"` // 平局时的第二排序键
}

// Candidate 是已通过资格过滤、等待排名的广告
type Candidate struct {
	Ad           *Ad
	Product      Product
	ProductScore float64
}

// RankedAd 是排名结果
type RankedAd struct {
	Ad       *Ad
	Product  Product
	Snapshot AdRankSnapshot
}

// RankingPolicy 排名公式参数: rank = bid + product_score * Weight
type RankingPolicy struct {
	Weight     float64
	TieEpsilon float64
}

func DefaultRankingPolicy() RankingPolicy {
	return RankingPolicy{Weight: DefaultRankWeight, TieEpsilon: DefaultTieEpsilon}
}

// Snapshot 计算单个候选的 Ad Rank
func (p RankingPolicy) Snapshot(c Candidate) AdRankSnapshot {
	score := math.Min(math.Max(c.ProductScore, 0), MaxProductScore)
	bid := c.Ad.BidAmount().InexactFloat64()
	return AdRankSnapshot{
		AdID:         c.Ad.ID,
		BidAmount:    bid,
		ProductScore: score,
		Rank:         bid + score*p.Weight,
		CreatedAt:    c.Ad.CreatedAt,
	}
}

// Less 定义排名顺序: rank 按 TieEpsilon 宽的网格分桶，桶号降序；
// 同一桶内视为平局，依次比较 product_score 降序、created_at 降序，最后按 ad_id 升序。
// 分桶而不是比较两两差值，平局关系才是传递的，排序结果与输入顺序无关。
func (p RankingPolicy) Less(a, b AdRankSnapshot) bool {
	if ba, bb := p.tieBucket(a.Rank), p.tieBucket(b.Rank); ba != bb {
		return ba > bb
	}
	if a.ProductScore != b.ProductScore {
		return a.ProductScore > b.ProductScore
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.After(b.CreatedAt)
	}
	return a.AdID < b.AdID
}

// tieBucket 把 rank 映射到宽度为 TieEpsilon 的网格；epsilon 为 0 时只有完全相等才算平局
func (p RankingPolicy) tieBucket(rank float64) float64 {
	if p.TieEpsilon <= 0 {
		return rank
	}
	return math.Round(rank / p.TieEpsilon)
}

// Rank 计算快照并排序
func (p RankingPolicy) Rank(cands []Candidate) []RankedAd {
	ranked := make([]RankedAd, 0, len(cands))
	for _, c := range cands {
		ranked = append(ranked, RankedAd{Ad: c.Ad, Product: c.Product, Snapshot: p.Snapshot(c)})
	}
	sort.Slice(ranked, func(i, j int) bool { return p.Less(ranked[i].Snapshot, ranked[j].Snapshot) })
	return ranked
}
