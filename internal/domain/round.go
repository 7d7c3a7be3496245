package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// RoundKind 轮次类型
type RoundKind string

const (
	RoundKindNone  RoundKind = "none"  // 尚未开始第一轮
	RoundKindSale  RoundKind = "sale"  // 平台按固定价格出售
	RoundKindTrade RoundKind = "trade" // 用户之间挂单交易
)

// SaleSnapshot Sale 轮快照
type SaleSnapshot struct {
	Price         decimal.Decimal `json:"price"`
	TokensForSale decimal.Decimal `json:"tokens_for_sale"`
	TokensSold    decimal.Decimal `json:"tokens_sold"`
}

// Remaining 剩余可售数量
func (s SaleSnapshot) Remaining() decimal.Decimal {
	return s.TokensForSale.Sub(s.TokensSold)
}

// SoldOut 是否已售罄（供应为 0 时视为售罄）
func (s SaleSnapshot) SoldOut() bool {
	return s.TokensSold.GreaterThanOrEqual(s.TokensForSale)
}

// TradeSnapshot Trade 轮快照
type TradeSnapshot struct {
	VolumeTraded decimal.Decimal `json:"volume_traded"`
}

// Round 当前轮次。Sale 与 Trade 互斥：Kind=sale 时只有 Sale 非空，Kind=trade 时只有 Trade 非空。
// EndTime 由 StartTime+Duration 推导，不单独存储。
type Round struct {
	Number    int            `json:"number"`
	Kind      RoundKind      `json:"kind"`
	StartTime time.Time      `json:"start_time"`
	Duration  time.Duration  `json:"duration"`
	Sale      *SaleSnapshot  `json:"sale,omitempty"`
	Trade     *TradeSnapshot `json:"trade,omitempty"`
}

// NewSaleRound 打开新的 Sale 轮
func NewSaleRound(number int, start time.Time, d time.Duration, price, supply decimal.Decimal) Round {
	return Round{
		Number:    number,
		Kind:      RoundKindSale,
		StartTime: start,
		Duration:  d,
		Sale: &SaleSnapshot{
			Price:         price,
			TokensForSale: supply,
			TokensSold:    decimal.Zero,
		},
	}
}

// NewTradeRound 打开新的 Trade 轮（成交额归零）
func NewTradeRound(number int, start time.Time, d time.Duration) Round {
	return Round{
		Number:    number,
		Kind:      RoundKindTrade,
		StartTime: start,
		Duration:  d,
		Trade:     &TradeSnapshot{VolumeTraded: decimal.Zero},
	}
}

// EndTime 轮次结束时间
func (r Round) EndTime() time.Time {
	if r.Kind == RoundKindNone {
		return time.Time{}
	}
	return r.StartTime.Add(r.Duration)
}

// Expired now >= EndTime
func (r Round) Expired(now time.Time) bool {
	if r.Kind == RoundKindNone {
		return false
	}
	return !now.Before(r.EndTime())
}

// Clone 深拷贝快照指针，避免外部修改内部状态
func (r Round) Clone() Round {
	out := r
	if r.Sale != nil {
		s := *r.Sale
		out.Sale = &s
	}
	if r.Trade != nil {
		t := *r.Trade
		out.Trade = &t
	}
	return out
}
