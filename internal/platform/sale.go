package platform

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/betbot/acdm/internal/domain"
	"github.com/betbot/acdm/internal/fees"
	"github.com/betbot/acdm/internal/metrics"
	"github.com/betbot/acdm/pkg/marketmath"
)

// BuyACDM 在 Sale 轮以当前价格购买代币。
// 超出剩余供应的部分退回买家；实际消耗的价值按 5%/3% 分给两级推荐人，余额归平台。
func (p *Platform) BuyACDM(ctx context.Context, buyer domain.Account, value decimal.Decimal) (*Receipt, error) {
	if domain.IsNoAccount(buyer) {
		return nil, p.fail(OpBuyACDM, domain.ErrInvalidAccount)
	}
	value = marketmath.Truncate(value)
	if !value.IsPositive() {
		return nil, p.fail(OpBuyACDM, domain.ErrZeroPayment)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if !p.saleOpen(now) {
		return nil, p.fail(OpBuyACDM, fmt.Errorf("%w: current round is %s #%d", domain.ErrSaleRoundNotActive, p.round.Kind, p.round.Number))
	}
	sale := p.round.Sale

	tokens := marketmath.TokensForValue(value, sale.Price)
	consumed, refund := value, decimal.Zero
	if remaining := sale.Remaining(); tokens.GreaterThan(remaining) {
		tokens = remaining
		consumed = marketmath.ValueForTokens(tokens, sale.Price)
		refund = value.Sub(consumed)
	}
	if !tokens.IsPositive() {
		return nil, p.fail(OpBuyACDM, fmt.Errorf("%w: payment %s buys no tokens at %s", domain.ErrZeroAmount, value, sale.Price))
	}
	if bal := p.wallet.BalanceOf(buyer); bal.LessThan(value) {
		return nil, p.fail(OpBuyACDM, fmt.Errorf("%w: balance %s, payment %s", domain.ErrInsufficientFunds, bal, value))
	}
	if refund.IsPositive() && !p.wallet.Accepts(buyer) {
		return nil, p.fail(OpBuyACDM, fmt.Errorf("%w: refund of %s", domain.ErrRefundRejected, refund))
	}
	if held := p.token.BalanceOf(p.cfg.Custody); held.LessThan(tokens) {
		return nil, p.fail(OpBuyACDM, errors.Errorf("custody holds %s tokens, sale needs %s", held, tokens))
	}

	// 前置条件已全部满足，之后的步骤不受调用方取消影响
	ctx = context.WithoutCancel(ctx)
	if err := p.wallet.Transfer(ctx, buyer, p.cfg.Custody, value); err != nil {
		return nil, p.fail(OpBuyACDM, err)
	}
	if err := p.token.TransferFrom(p.cfg.Custody, buyer, tokens); err != nil {
		if rerr := p.wallet.Transfer(ctx, p.cfg.Custody, buyer, value); rerr != nil {
			p.log.Errorf("return payment after failed token delivery: %v", rerr)
		}
		return nil, p.fail(OpBuyACDM, errors.Wrap(err, "deliver sale tokens"))
	}
	sale.TokensSold = sale.TokensSold.Add(tokens)

	r := p.newReceipt(OpBuyACDM, buyer, now)
	r.Tokens = tokens
	r.Value = value
	r.Consumed = consumed
	r.Refund = refund

	if refund.IsPositive() {
		p.pay(ctx, r, []fees.Allocation{{Leg: domain.LegRefund, Recipient: buyer, Amount: refund}})
	}
	p.pay(ctx, r, fees.Split(consumed, p.referrals.Chain(buyer), domain.NoAccount, p.cfg.Custody, fees.SaleSchedule))

	ev := p.event(r, domain.EventBuyACDM)
	ev.Account = buyer
	ev.Amount = tokens
	ev.Price = sale.Price
	r.Events = append(r.Events, ev)

	metrics.Purchases.Add(1)
	p.log.WithField("round", p.round.Number).Infof("buy: %s tokens=%s consumed=%s refund=%s",
		buyer.Hex(), tokens, consumed, refund)

	p.dispatch(ctx, r)
	return r, nil
}
