// internal/service/ads/domain/event.go
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	EventClickCharged   = "ads.click.charged"
	EventClickDeclined  = "ads.click.declined"
	EventAdStateChanged = "ads.state.changed"
)

// Event 是发布到消息总线/推送通道的领域事件
type Event interface {
	EventName() string
	// PartitionKey 决定 Kafka 分区，同一卖家的事件保持有序
	PartitionKey() string
	Seller() string
}

type ClickCharged struct {
	ClickID        string          `json:"click_id"`
	AdID           string          `json:"ad_id"`
	SellerID       string          `json:"seller_id"`
	IPAddress      string          `json:"ip_address"`
	Charged        decimal.Decimal `json:"charged"`
	BalanceAfter   decimal.Decimal `json:"balance_after"`
	RemainingAfter int64           `json:"remaining_click_budget"`
	OccurredAt     time.Time       `json:"occurred_at"`
}

func (e ClickCharged) EventName() string    { return EventClickCharged }
func (e ClickCharged) PartitionKey() string { return e.SellerID }
func (e ClickCharged) Seller() string       { return e.SellerID }

type ClickDeclined struct {
	ClickID    string        `json:"click_id,omitempty"`
	AdID       string        `json:"ad_id"`
	SellerID   string        `json:"seller_id"`
	IPAddress  string        `json:"ip_address"`
	Reason     DeclineReason `json:"reason"`
	FraudScore int           `json:"fraud_score"`
	OccurredAt time.Time     `json:"occurred_at"`
}

func (e ClickDeclined) EventName() string    { return EventClickDeclined }
func (e ClickDeclined) PartitionKey() string { return e.SellerID }
func (e ClickDeclined) Seller() string       { return e.SellerID }

type AdStateChanged struct {
	AdID        string      `json:"ad_id"`
	SellerID    string      `json:"seller_id"`
	From        Status      `json:"from"`
	To          Status      `json:"to"`
	PauseReason PauseReason `json:"pause_reason,omitempty"`
	OccurredAt  time.Time   `json:"occurred_at"`
}

func (e AdStateChanged) EventName() string    { return EventAdStateChanged }
func (e AdStateChanged) PartitionKey() string { return e.SellerID }
func (e AdStateChanged) Seller() string       { return e.SellerID }

func NewAdStateChanged(ad *Ad, from State, at time.Time) AdStateChanged {
	return AdStateChanged{
		AdID:        ad.ID,
		SellerID:    ad.SellerID,
		From:        from.Status,
		To:          ad.State.Status,
		PauseReason: ad.State.PauseReason,
		OccurredAt:  at,
	}
}
