package infrastructure

import (
	"database/sql"
	"time"

	"github.com/shopspring/decimal"
)

// AdModel 对应数据库中的 ads 表
type AdModel struct {
	ID                   string          `gorm:"primaryKey;type:varchar(36)"`
	SellerID             string          `gorm:"type:varchar(36);index:idx_ads_seller_status"`
	AdType               string          `gorm:"type:varchar(32)"`
	ProductID            sql.NullString  `gorm:"type:varchar(36)"`
	BannerAsset          sql.NullString  `gorm:"type:varchar(512)"`
	BannerLink           sql.NullString  `gorm:"type:varchar(1024)"`
	StartDate            time.Time       `gorm:"type:date"`
	EndDate              time.Time       `gorm:"type:date;index:idx_ads_serving,priority:2"`
	BillingPlan          string          `gorm:"type:varchar(16)"`
	PerClickRate         decimal.Decimal `gorm:"type:decimal(12,2)"`
	PlanCost             decimal.Decimal `gorm:"type:decimal(15,2)"`
	TotalClickBudget     int64
	RemainingClickBudget int64
	Status               string `gorm:"type:varchar(16);index:idx_ads_serving,priority:1;index:idx_ads_seller_status"`
	AutoPaused           bool
	PauseReason          string `gorm:"type:varchar(32)"`
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// TableName 指定 GORM 应该使用的表名
func (AdModel) TableName() string {
	return "ads"
}

// WalletModel 对应 seller_wallet 表
type WalletModel struct {
	SellerID      string          `gorm:"primaryKey;type:varchar(36)"`
	Balance       decimal.Decimal `gorm:"type:decimal(15,2);not null;default:0"`
	LockedBalance decimal.Decimal `gorm:"type:decimal(15,2);not null;default:0"`
	UpdatedAt     time.Time
}

func (WalletModel) TableName() string {
	return "seller_wallet"
}

// WalletTransactionModel 对应 seller_wallet_transactions 表
type WalletTransactionModel struct {
	ID           string          `gorm:"primaryKey;type:varchar(36)"`
	SellerID     string          `gorm:"type:varchar(36);index"`
	AdID         sql.NullString  `gorm:"type:varchar(36)"`
	Type         string          `gorm:"type:varchar(16)"`
	Amount       decimal.Decimal `gorm:"type:decimal(15,2)"`
	BalanceAfter decimal.Decimal `gorm:"type:decimal(15,2)"`
	Description  string          `gorm:"type:varchar(255)"`
	CreatedAt    time.Time
}

func (WalletTransactionModel) TableName() string {
	return "seller_wallet_transactions"
}

// ClickLogModel 对应 ads_click_logs 表，只插入不更新
type ClickLogModel struct {
	ID            string    `gorm:"primaryKey;type:varchar(36)"`
	AdID          string    `gorm:"column:ads_id;type:varchar(36);index:idx_click_ad_ip_time,priority:1"`
	SellerID      string    `gorm:"type:varchar(36)"`
	IPAddress     string    `gorm:"type:varchar(45);index:idx_click_ad_ip_time,priority:2;index:idx_click_ip_time,priority:1"`
	ClickedAt     time.Time `gorm:"type:datetime(3);index:idx_click_ad_ip_time,priority:3;index:idx_click_ip_time,priority:2"`
	Billed        bool
	ChargedAmount decimal.Decimal `gorm:"type:decimal(12,2)"`
	Reason        string          `gorm:"type:varchar(32)"`
}

func (ClickLogModel) TableName() string {
	return "ads_click_logs"
}

// AllModels 供 AutoMigrate 使用
func AllModels() []interface{} {
	return []interface{}{&AdModel{}, &WalletModel{}, &WalletTransactionModel{}, &ClickLogModel{}}
}
