// internal/service/ads/domain/product.go
package domain

import (
	"math"
	"strings"
)

// Product 是从商品目录读取的只读视图
type Product struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Tags        []string `json:"tags"`
	Category    string   `json:"category"`
}

// QueryContext 是一次搜索/列表请求的上下文
type QueryContext struct {
	Keyword  string `json:"keyword"`
	Category string `json:"category"`
}

// Key 用作排名缓存的键
func (q QueryContext) Key() string {
	return "k=" + strings.ToLower(strings.TrimSpace(q.Keyword)) + "|c=" + strings.ToLower(strings.TrimSpace(q.Category))
}

// MatchesQuery 是默认的匹配谓词：类目相等，或关键词出现在名称/描述/标签中。
// 关键词和类目都为空时视为列表页，全部匹配。
func MatchesQuery(p Product, q QueryContext) bool {
	keyword := strings.ToLower(strings.TrimSpace(q.Keyword))
	category := strings.TrimSpace(q.Category)
	if keyword == "" && category == "" {
		return true
	}
	if category != "" && strings.EqualFold(p.Category, category) {
		return true
	}
	if keyword == "" {
		return false
	}
	if strings.Contains(strings.ToLower(p.Name), keyword) || strings.Contains(strings.ToLower(p.Description), keyword) {
		return true
	}
	for _, tag := range p.Tags {
		if strings.Contains(strings.ToLower(tag), keyword) {
			return true
		}
	}
	return false
}

// ProductScore 在目录没有直接给出质量分时，用评分、销量、点击率估算 0..100 的分值。
// rating 为 0..5 星。
func ProductScore(rating float64, sales int64, ctr float64) float64 {
	ratingPart := math.Min(math.Max(rating, 0), 5) * 2 // 0..10
	salesPart := math.Min(float64(sales)/100, 10)
	ctrPart := math.Min(ctr*10, 10)
	raw := ratingPart*0.6 + salesPart*0.3 + ctrPart*0.1 // 0..10
	return math.Round(raw*1000) / 100
}
