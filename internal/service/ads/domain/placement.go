// internal/service/ads/domain/placement.go
package domain

// DisplayItem 是合并后结果列表中的一项: OrganicItem | SponsoredItem
type DisplayItem interface {
	Item() Product
	isDisplayItem()
}

type OrganicItem struct {
	Product Product
}

func (o OrganicItem) Item() Product { return o.Product }
func (OrganicItem) isDisplayItem()  {}

type SponsoredItem struct {
	Product Product
	Rank    AdRankSnapshot
}

func (s SponsoredItem) Item() Product { return s.Product }
func (SponsoredItem) isDisplayItem()  {}

// IsSponsoredSlot 报告 1 起始的绝对位置是否是广告位: 1, 3, 6, 16, 26, 36 ...
func IsSponsoredSlot(pos int) bool {
	switch {
	case pos == 1 || pos == 3 || pos == 6:
		return true
	case pos >= 16:
		return (pos-6)%10 == 0
	default:
		return false
	}
}

// AvailableSlots 返回 organicCount 条自然结果最多能容纳的广告数。
// 广告只插在某条自然结果之前，不会追加到列表末尾。
func AvailableSlots(organicCount int) int {
	slots, pos := 0, 1
	for remaining := organicCount; remaining > 0; pos++ {
		if IsSponsoredSlot(pos) {
			slots++
			continue
		}
		remaining--
	}
	return slots
}

// MergeSponsored 按广告位策略把已排序的广告插入自然结果。
// 自然结果全部保留，只向后顺延；广告用完后剩余广告位跳过。
func MergeSponsored(organic []Product, ranked []RankedAd) []DisplayItem {
	out := make([]DisplayItem, 0, len(organic)+min(len(ranked), AvailableSlots(len(organic))))
	oi, si := 0, 0
	for oi < len(organic) {
		if si < len(ranked) && IsSponsoredSlot(len(out)+1) {
			out = append(out, SponsoredItem{Product: ranked[si].Product, Rank: ranked[si].Snapshot})
			si++
			continue
		}
		out = append(out, OrganicItem{Product: organic[oi]})
		oi++
	}
	return out
}

// DedupeAgainstOrganic 去掉自然结果里已经出现的商品，同一商品只保留排名最高的广告
func DedupeAgainstOrganic(ranked []RankedAd, organic []Product) []RankedAd {
	seen := make(map[string]struct{}, len(organic)+len(ranked))
	for _, p := range organic {
		seen[p.ID] = struct{}{}
	}
	out := make([]RankedAd, 0, len(ranked))
	for _, r := range ranked {
		if _, dup := seen[r.Product.ID]; dup {
			continue
		}
		seen[r.Product.ID] = struct{}{}
		out = append(out, r)
	}
	return out
}
