package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Order Trade 轮中的卖单
type Order struct {
	ID        uint64          `json:"id"`
	Seller    Account         `json:"seller"`
	Amount    decimal.Decimal `json:"amount"`    // 挂单时的原始数量
	Remaining decimal.Decimal `json:"remaining"` // 剩余可成交数量
	Price     decimal.Decimal `json:"price"`     // 单价（value/token）
	Round     int             `json:"round"`
	Status    OrderStatus     `json:"status"`
	CreatedAt time.Time       `json:"created_at"`
	ClosedAt  *time.Time      `json:"closed_at,omitempty"`
}

// OrderStatus 订单状态
type OrderStatus string

const (
	OrderStatusOpen        OrderStatus = "open"         // 开放中（可能已部分成交）
	OrderStatusFilled      OrderStatus = "filled"       // 全部成交
	OrderStatusCanceled    OrderStatus = "canceled"     // 卖家撤单
	OrderStatusForceClosed OrderStatus = "force_closed" // Trade 轮结束时强制关闭
)

// IsOpen 剩余数量 > 0 才可成交
func (o *Order) IsOpen() bool {
	return o.Remaining.IsPositive()
}

// Filled 已成交数量
func (o *Order) Filled() decimal.Decimal {
	return o.Amount.Sub(o.Remaining)
}

// IsPartiallyFilled 部分成交
func (o *Order) IsPartiallyFilled() bool {
	return o.IsOpen() && o.Filled().IsPositive()
}
