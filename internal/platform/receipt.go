package platform

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/betbot/acdm/internal/domain"
)

// Op 操作名
type Op string

const (
	OpRegister        Op = "register"
	OpStartSaleRound  Op = "start_sale_round"
	OpStartTradeRound Op = "start_trade_round"
	OpBuyACDM         Op = "buy_acdm"
	OpAddOrder        Op = "add_order"
	OpRedeemOrder     Op = "redeem_order"
	OpRemoveOrder     Op = "remove_order"
)

// Receipt 一次成功操作的结果：事件 + 逐腿分账记录。
// 分账腿失败不影响操作成功，只体现在 Payouts 中。
type Receipt struct {
	TxID      string          `json:"tx_id"`
	Op        Op              `json:"op"`
	Caller    domain.Account  `json:"caller"`
	Round     int             `json:"round"`
	OrderID   uint64          `json:"order_id,omitempty"`
	Tokens    decimal.Decimal `json:"tokens"`   // 转给调用方/挂单/退还的代币数量
	Value     decimal.Decimal `json:"value"`    // 调用方支付的价值
	Consumed  decimal.Decimal `json:"consumed"` // 实际消耗（参与分账）的价值
	Refund    decimal.Decimal `json:"refund"`   // 退回调用方的价值
	Events    []domain.Event  `json:"events"`
	Payouts   []domain.Payout `json:"payouts"`
	Timestamp time.Time       `json:"timestamp"`
}

// FailedPayouts 未送达的分账腿
func (r *Receipt) FailedPayouts() []domain.Payout {
	var out []domain.Payout
	for _, p := range r.Payouts {
		if !p.Delivered {
			out = append(out, p)
		}
	}
	return out
}
