package infrastructure

import (
	"database/sql"

	"adengine/internal/service/ads/domain"
)

// ToDomainAd 将数据库模型转换为领域模型
func ToDomainAd(m *AdModel) *domain.Ad {
	if m == nil {
		return nil
	}
	ad := &domain.Ad{
		ID:                   m.ID,
		SellerID:             m.SellerID,
		StartDate:            m.StartDate,
		EndDate:              m.EndDate,
		Plan:                 domain.BillingPlan(m.BillingPlan),
		PerClickRate:         m.PerClickRate,
		PlanCost:             m.PlanCost,
		TotalClickBudget:     m.TotalClickBudget,
		RemainingClickBudget: m.RemainingClickBudget,
		State:                toDomainState(m.Status, m.AutoPaused, m.PauseReason),
		CreatedAt:            m.CreatedAt,
		UpdatedAt:            m.UpdatedAt,
	}
	if domain.AdType(m.AdType) == domain.AdTypeBannerExternal {
		ad.Creative = domain.BannerCreative{Asset: m.BannerAsset.String, Link: m.BannerLink.String}
	} else {
		ad.Creative = domain.ProductCreative{ProductID: m.ProductID.String}
	}
	return ad
}

// FromDomainAd 将领域模型转换为数据库模型
func FromDomainAd(ad *domain.Ad) *AdModel {
	if ad == nil {
		return nil
	}
	status, autoPaused, reason := fromDomainState(ad.State)
	m := &AdModel{
		ID:                   ad.ID,
		SellerID:             ad.SellerID,
		StartDate:            ad.StartDate,
		EndDate:              ad.EndDate,
		BillingPlan:          string(ad.Plan),
		PerClickRate:         ad.PerClickRate,
		PlanCost:             ad.PlanCost,
		TotalClickBudget:     ad.TotalClickBudget,
		RemainingClickBudget: ad.RemainingClickBudget,
		Status:               status,
		AutoPaused:           autoPaused,
		PauseReason:          reason,
		CreatedAt:            ad.CreatedAt,
		UpdatedAt:            ad.UpdatedAt,
	}
	switch c := ad.Creative.(type) {
	case domain.ProductCreative:
		m.AdType = string(domain.AdTypeProductInternal)
		m.ProductID = nullString(c.ProductID)
	case domain.BannerCreative:
		m.AdType = string(domain.AdTypeBannerExternal)
		m.BannerAsset = nullString(c.Asset)
		m.BannerLink = nullString(c.Link)
	}
	return m
}

// 持久化形式沿用 status + auto_paused 两列：PAUSED 存为 inactive + auto_paused=1
const (
	dbStatusInactive = "inactive"
	dbStatusActive   = "active"
	dbStatusExpired  = "expired"
)

func fromDomainState(s domain.State) (status string, autoPaused bool, reason string) {
	switch s.Status {
	case domain.StatusActive:
		return dbStatusActive, false, ""
	case domain.StatusPaused:
		return dbStatusInactive, true, string(s.PauseReason)
	case domain.StatusExpired:
		return dbStatusExpired, false, ""
	default:
		return dbStatusInactive, false, ""
	}
}

func toDomainState(status string, autoPaused bool, reason string) domain.State {
	switch {
	case status == dbStatusExpired:
		return domain.Expired()
	case autoPaused:
		// active + auto_paused 这种旧数据里的非法组合按暂停处理
		r := domain.PauseReason(reason)
		if r == domain.PauseReasonNone {
			r = domain.PauseReasonBudgetExhausted
		}
		return domain.Paused(r)
	case status == dbStatusActive:
		return domain.Active()
	default:
		return domain.Inactive()
	}
}

func ToDomainClick(m *ClickLogModel) *domain.ClickEvent {
	if m == nil {
		return nil
	}
	return &domain.ClickEvent{
		ID:            m.ID,
		AdID:          m.AdID,
		SellerID:      m.SellerID,
		IPAddress:     m.IPAddress,
		ClickedAt:     m.ClickedAt,
		Billed:        m.Billed,
		ChargedAmount: m.ChargedAmount,
		Reason:        domain.DeclineReason(m.Reason),
	}
}

func FromDomainClick(ev domain.ClickEvent) *ClickLogModel {
	return &ClickLogModel{
		ID:            ev.ID,
		AdID:          ev.AdID,
		SellerID:      ev.SellerID,
		IPAddress:     ev.IPAddress,
		ClickedAt:     ev.ClickedAt,
		Billed:        ev.Billed,
		ChargedAmount: ev.ChargedAmount,
		Reason:        string(ev.Reason),
	}
}

func ToDomainWallet(m *WalletModel) *domain.WalletBalance {
	if m == nil {
		return nil
	}
	return &domain.WalletBalance{
		SellerID:      m.SellerID,
		Balance:       m.Balance,
		LockedBalance: m.LockedBalance,
		UpdatedAt:     m.UpdatedAt,
	}
}

func FromDomainTransaction(t domain.WalletTransaction) *WalletTransactionModel {
	return &WalletTransactionModel{
		ID:           t.ID,
		SellerID:     t.SellerID,
		AdID:         nullString(t.AdID),
		Type:         string(t.Type),
		Amount:       t.Amount,
		BalanceAfter: t.BalanceAfter,
		Description:  t.Description,
		CreatedAt:    t.CreatedAt,
	}
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
