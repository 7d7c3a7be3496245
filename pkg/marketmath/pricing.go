package marketmath

import (
	"github.com/shopspring/decimal"
)

// Precision 定点精度：所有价值与代币数量保留 18 位小数（与 wei 一致），超出部分一律截断。
const Precision int32 = 18

var (
	// GenesisPrice 第 1 个 Sale 轮的单价
	GenesisPrice = decimal.RequireFromString("0.00001")
	// GenesisSupply 第 1 个 Sale 轮的供应量
	GenesisSupply = decimal.NewFromInt(100000)

	priceGrowth = decimal.RequireFromString("1.03")
	priceStep   = decimal.RequireFromString("0.000004")
	hundred     = decimal.NewFromInt(100)
)

// Truncate 截断到 Precision 位小数（向零取整）
func Truncate(d decimal.Decimal) decimal.Decimal {
	return d.Truncate(Precision)
}

// Mul 定点乘法，结果截断
func Mul(a, b decimal.Decimal) decimal.Decimal {
	return a.Mul(b).Truncate(Precision)
}

// Div 定点除法，结果向零截断。除数为 0 时返回 0。
//
// 注意：decimal.Div 会按 DivisionPrecision 四舍五入，这里必须用 QuoRem 才能保证截断语义。
func Div(a, b decimal.Decimal) decimal.Decimal {
	if b.IsZero() {
		return decimal.Zero
	}
	q, _ := a.QuoRem(b, Precision)
	return q
}

// NextSalePrice 下一个 Sale 轮单价 = prev * 1.03 + 0.000004（截断）
func NextSalePrice(prev decimal.Decimal) decimal.Decimal {
	return Mul(prev, priceGrowth).Add(priceStep)
}

// NextSaleSupply 下一个 Sale 轮供应量 = 上一 Trade 轮成交额 / 新单价（截断）
func NextSaleSupply(previousTradeVolume, newPrice decimal.Decimal) decimal.Decimal {
	return Div(previousTradeVolume, newPrice)
}

// SaleTerms 根据上一轮收盘状态计算第 n 个 Sale 轮的单价与供应量。
// n==1 时使用创世常量，忽略 prevPrice/prevVolume。
func SaleTerms(n int, prevPrice, prevVolume decimal.Decimal) (price, supply decimal.Decimal) {
	if n <= 1 {
		return GenesisPrice, GenesisSupply
	}
	price = NextSalePrice(prevPrice)
	return price, NextSaleSupply(prevVolume, price)
}

// TokensForValue 支付 value 按 price 可买到的代币数量（截断）
func TokensForValue(value, price decimal.Decimal) decimal.Decimal {
	return Div(value, price)
}

// ValueForTokens 购买 tokens 个代币需要的价值（截断）
func ValueForTokens(tokens, price decimal.Decimal) decimal.Decimal {
	return Mul(tokens, price)
}

// Share 按百分比计算份额，例如 Share(v, 2.5) = v * 2.5%（截断）
func Share(value, percent decimal.Decimal) decimal.Decimal {
	return Div(value.Mul(percent), hundred)
}
