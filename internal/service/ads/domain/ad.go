// internal/service/ads/domain/ad.go
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// AdType 对应持久化层的 ad_type 列
type AdType string

const (
	AdTypeProductInternal AdType = "product_internal"
	AdTypeBannerExternal  AdType = "banner_external"
)

// Creative 是广告素材的联合类型: ProductCreative | BannerCreative
type Creative interface {
	Type() AdType
	isCreative()
}

// ProductCreative 推广站内商品
type ProductCreative struct {
	ProductID string
}

func (ProductCreative) Type() AdType { return AdTypeProductInternal }
func (ProductCreative) isCreative()  {}

// BannerCreative 外链横幅
type BannerCreative struct {
	Asset string
	Link  string
}

func (BannerCreative) Type() AdType { return AdTypeBannerExternal }
func (BannerCreative) isCreative()  {}

// BillingPlan 计费方式
type BillingPlan string

const (
	BillingPlanPerClick     BillingPlan = "PER_CLICK"
	BillingPlanDurationFlat BillingPlan = "DURATION_FLAT"
)

// Ad 是广告聚合根
type Ad struct {
	ID                   string
	SellerID             string
	Creative             Creative
	StartDate            time.Time
	EndDate              time.Time
	Plan                 BillingPlan
	PerClickRate         decimal.Decimal
	PlanCost             decimal.Decimal
	TotalClickBudget     int64
	RemainingClickBudget int64
	State                State
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// ProductID 返回推广商品ID；横幅广告返回 false
func (a *Ad) ProductID() (string, bool) {
	pc, ok := a.Creative.(ProductCreative)
	if !ok {
		return "", false
	}
	return pc.ProductID, true
}

// BidAmount 是参与排名的出价：按点击计费取单次点击价，包时段取整期费用
func (a *Ad) BidAmount() decimal.Decimal {
	if a.Plan == BillingPlanDurationFlat {
		return a.PlanCost
	}
	return a.PerClickRate
}

// ClickCharge 是单次有效点击应扣的金额；包时段广告不按点击扣费
func (a *Ad) ClickCharge() decimal.Decimal {
	if a.Plan == BillingPlanDurationFlat {
		return decimal.Zero
	}
	return a.PerClickRate
}

// ActivationCost 是激活前钱包至少需要的余额
func (a *Ad) ActivationCost() decimal.Decimal {
	if a.Plan == BillingPlanDurationFlat {
		return a.PlanCost
	}
	return a.PerClickRate
}

// InWindow 按自然日比较 start_date <= today <= end_date。
// 日期列不带时区，所以比较的是年月日而不是时间点。
func (a *Ad) InWindow(today time.Time) bool {
	day := civil(today)
	return civil(a.StartDate) <= day && day <= civil(a.EndDate)
}

// Elapsed 报告投放窗口是否已经结束 (end_date < today)
func (a *Ad) Elapsed(today time.Time) bool {
	return civil(a.EndDate) < civil(today)
}

// NotStarted 报告投放窗口是否尚未开始 (today < start_date)
func (a *Ad) NotStarted(today time.Time) bool {
	return civil(today) < civil(a.StartDate)
}

// Servable 是排名前的资格过滤中与商品无关的部分
func (a *Ad) Servable(today time.Time) bool {
	return a.State.IsActive() && a.InWindow(today) && a.RemainingClickBudget > 0
}

// ExpireIfElapsed 惰性过期检查，任何状态迁移前都要先调用。
// 返回 true 表示本次调用把广告迁移到了 EXPIRED。
func (a *Ad) ExpireIfElapsed(today time.Time) bool {
	if a.State.IsTerminal() || !a.Elapsed(today) {
		return false
	}
	a.transition(Expired(), today)
	return true
}

// Activate 把广告置为 ACTIVE，校验由调用方（Validator）负责
func (a *Ad) Activate(today time.Time) error {
	if a.ExpireIfElapsed(today) || a.State.IsTerminal() {
		return ErrAdExpired
	}
	a.transition(Active(), today)
	return nil
}

// Stop 手动停止，任意状态都允许；已过期的广告保持 EXPIRED
func (a *Ad) Stop(today time.Time) {
	if a.ExpireIfElapsed(today) || a.State.IsTerminal() {
		return
	}
	a.transition(Inactive(), today)
}

// AutoPause 由计费引擎在余额不足或预算耗尽时调用
func (a *Ad) AutoPause(reason PauseReason, now time.Time) error {
	if !a.State.IsActive() {
		return ErrInvalidTransition
	}
	a.transition(Paused(reason), now)
	return nil
}

func (a *Ad) transition(to State, now time.Time) {
	a.State = to
	a.UpdatedAt = now
}

// Day 把时间截断到所在时区的自然日
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func civil(t time.Time) int {
	y, m, d := t.Date()
	return y*10000 + int(m)*100 + d
}
