package fees

import (
	"github.com/shopspring/decimal"

	"github.com/betbot/acdm/internal/domain"
	"github.com/betbot/acdm/pkg/marketmath"
)

// Schedule 分账比例（百分比）。平台拿走剩余部分，包括缺失推荐层级的份额与截断产生的尾差。
type Schedule struct {
	Name   string
	Level1 decimal.Decimal // 一级推荐人
	Level2 decimal.Decimal // 二级推荐人
	Seller decimal.Decimal // 卖家（Sale 轮为 0）
}

var (
	// SaleSchedule Sale 轮购买：5% / 3% / 平台 92%
	SaleSchedule = Schedule{
		Name:   "sale",
		Level1: decimal.NewFromInt(5),
		Level2: decimal.NewFromInt(3),
		Seller: decimal.Zero,
	}
	// TradeSchedule Trade 轮成交：卖家 95%，卖家的一、二级推荐人各 2.5%
	TradeSchedule = Schedule{
		Name:   "trade",
		Level1: decimal.RequireFromString("2.5"),
		Level2: decimal.RequireFromString("2.5"),
		Seller: decimal.NewFromInt(95),
	}
)

// Allocation 一笔待转出的份额
type Allocation struct {
	Leg       domain.PayoutLeg
	Recipient domain.Account
	Amount    decimal.Decimal
}

// Split 纯函数：把 value 按 schedule 分给推荐链、卖家与平台。
// 顺序固定为 referrer1 -> referrer2 -> seller -> platform；金额为 0 的腿不返回。
// 所有腿之和恒等于 value。
func Split(value decimal.Decimal, chain domain.ReferralChain, seller, platform domain.Account, s Schedule) []Allocation {
	out := make([]Allocation, 0, 4)
	rest := value

	take := func(leg domain.PayoutLeg, to domain.Account, percent decimal.Decimal) {
		if domain.IsNoAccount(to) || !percent.IsPositive() {
			return
		}
		amt := marketmath.Share(value, percent)
		if !amt.IsPositive() {
			return
		}
		rest = rest.Sub(amt)
		out = append(out, Allocation{Leg: leg, Recipient: to, Amount: amt})
	}

	take(domain.LegReferrer1, chain.Level1, s.Level1)
	take(domain.LegReferrer2, chain.Level2, s.Level2)
	take(domain.LegSeller, seller, s.Seller)

	if rest.IsPositive() {
		out = append(out, Allocation{Leg: domain.LegPlatform, Recipient: platform, Amount: rest})
	}
	return out
}

// Total 各腿之和
func Total(allocs []Allocation) decimal.Decimal {
	sum := decimal.Zero
	for _, a := range allocs {
		sum = sum.Add(a.Amount)
	}
	return sum
}
