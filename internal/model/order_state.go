package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderState 订单成交/取消状态
type OrderState struct {
	ID             string          `gorm:"column:id;type:varchar(66);primaryKey" json:"id"`
	Protocol       Protocol        `gorm:"column:kind;type:varchar(32);not null" json:"protocol"`
	Maker          string          `gorm:"column:maker;type:varchar(42);not null;index" json:"maker"`
	QuantityFilled decimal.Decimal `gorm:"column:quantity_filled;type:numeric(78,0);not null;default:0" json:"quantity_filled"`
	Cancelled      bool            `gorm:"column:cancelled;not null;default:false" json:"cancelled"`
	UpdatedAt      time.Time       `gorm:"column:updated_at;not null" json:"updated_at"`
}

// TableName 返回表名
func (OrderState) TableName() string {
	return "orders"
}

// CancelEvent 单笔订单取消事件
type CancelEvent struct {
	Protocol  Protocol  `gorm:"column:order_kind;type:varchar(32);primaryKey" json:"protocol"`
	OrderID   string    `gorm:"column:order_id;type:varchar(66);primaryKey" json:"order_id"`
	Maker     string    `gorm:"column:maker;type:varchar(42);not null" json:"maker"`
	CreatedAt time.Time `gorm:"column:created_at;not null" json:"created_at"`
}

// TableName 返回表名
func (CancelEvent) TableName() string {
	return "cancel_events"
}

// BulkCancelEvent 批量取消事件 (master nonce 纪元)
type BulkCancelEvent struct {
	Protocol  Protocol        `gorm:"column:order_kind;type:varchar(32);primaryKey" json:"protocol"`
	Maker     string          `gorm:"column:maker;type:varchar(42);primaryKey" json:"maker"`
	MinNonce  decimal.Decimal `gorm:"column:min_nonce;type:numeric(78,0);primaryKey" json:"min_nonce"`
	CreatedAt time.Time       `gorm:"column:created_at;not null" json:"created_at"`
}

// TableName 返回表名
func (BulkCancelEvent) TableName() string {
	return "bulk_cancel_events"
}

// NonceCancelEvent 单个 nonce 槽位取消事件
type NonceCancelEvent struct {
	Protocol  Protocol  `gorm:"column:order_kind;type:varchar(32);primaryKey" json:"protocol"`
	Maker     string    `gorm:"column:maker;type:varchar(42);primaryKey" json:"maker"`
	Nonce     string    `gorm:"column:nonce;type:varchar(78);primaryKey" json:"nonce"`
	CreatedAt time.Time `gorm:"column:created_at;not null" json:"created_at"`
}

// TableName 返回表名
func (NonceCancelEvent) TableName() string {
	return "nonce_cancel_events"
}

// NonceCancelledRedisKey 已取消 nonce 的 Redis 缓存 key
func NonceCancelledRedisKey(protocol Protocol, maker, nonceKey string) string {
	return "eidos:indexer:nonce-cancelled:" + string(protocol) + ":" + maker + ":" + nonceKey
}
