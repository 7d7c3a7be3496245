package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventType 事件类型
type EventType string

const (
	EventBuyACDM           EventType = "BuyACDM"
	EventAddOrder          EventType = "AddOrder"
	EventRedeemOrder       EventType = "RedeemOrder"
	EventRemoveOrder       EventType = "RemoveOrder"
	EventRegister          EventType = "Register"
	EventSaleRoundStarted  EventType = "SaleRoundStarted"
	EventTradeRoundStarted EventType = "TradeRoundStarted"
)

// Event 平台对外发出的事件。字段按事件类型取用：
//   - BuyACDM:           Account=买家, Amount=代币数量
//   - AddOrder:          OrderID, Amount, Price
//   - RedeemOrder:       Account=买家, OrderID, Amount=释放代币数量
//   - RemoveOrder:       OrderID（Forced=true 表示轮次结束强制关闭）
//   - Register:          Account=被推荐人, Counterparty=推荐人
//   - SaleRoundStarted:  Round, Price, Amount=本轮供应
//   - TradeRoundStarted: Round, Amount=销毁的未售数量
type Event struct {
	TxID         string          `json:"tx_id"`
	Type         EventType       `json:"type"`
	Round        int             `json:"round"`
	Account      Account         `json:"account"`
	Counterparty Account         `json:"counterparty"`
	OrderID      uint64          `json:"order_id,omitempty"`
	Amount       decimal.Decimal `json:"amount"`
	Price        decimal.Decimal `json:"price"`
	Forced       bool            `json:"forced,omitempty"`
	Timestamp    time.Time       `json:"timestamp"`
}

// PayoutLeg 分账腿
type PayoutLeg string

const (
	LegReferrer1 PayoutLeg = "referrer1"
	LegReferrer2 PayoutLeg = "referrer2"
	LegSeller    PayoutLeg = "seller"
	LegPlatform  PayoutLeg = "platform"
	LegRefund    PayoutLeg = "refund"
)

// Payout 一次资金转出尝试的结果。Delivered=false 时资金滞留在平台托管账户。
type Payout struct {
	TxID      string          `json:"tx_id"`
	Leg       PayoutLeg       `json:"leg"`
	Recipient Account         `json:"recipient"`
	Amount    decimal.Decimal `json:"amount"`
	Delivered bool            `json:"delivered"`
	Error     string          `json:"error,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}
