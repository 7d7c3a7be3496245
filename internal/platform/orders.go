package platform

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/betbot/acdm/internal/domain"
	"github.com/betbot/acdm/internal/fees"
	"github.com/betbot/acdm/pkg/marketmath"
)

// AddOrder 在 Trade 轮挂卖单，amount 个代币从卖家转入托管账户（需事先授权给平台）。
func (p *Platform) AddOrder(ctx context.Context, seller domain.Account, amount, price decimal.Decimal) (*Receipt, error) {
	if domain.IsNoAccount(seller) {
		return nil, p.fail(OpAddOrder, domain.ErrInvalidAccount)
	}
	amount = marketmath.Truncate(amount)
	price = marketmath.Truncate(price)
	if !amount.IsPositive() {
		return nil, p.fail(OpAddOrder, domain.ErrZeroAmount)
	}
	if !price.IsPositive() {
		return nil, p.fail(OpAddOrder, domain.ErrZeroPrice)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if !p.tradeOpen(now) {
		return nil, p.fail(OpAddOrder, fmt.Errorf("%w: current round is %s #%d", domain.ErrTradeRoundNotActive, p.round.Kind, p.round.Number))
	}
	if err := p.token.TransferFrom(seller, p.cfg.Custody, amount); err != nil {
		return nil, p.fail(OpAddOrder, err)
	}

	o := p.book.Create(seller, amount, price, p.round.Number, now)

	r := p.newReceipt(OpAddOrder, seller, now)
	r.OrderID = o.ID
	r.Tokens = amount

	ev := p.event(r, domain.EventAddOrder)
	ev.Account = seller
	ev.OrderID = o.ID
	ev.Amount = amount
	ev.Price = price
	r.Events = append(r.Events, ev)

	p.log.WithField("round", p.round.Number).Infof("order #%d added: %s amount=%s price=%s", o.ID, seller.Hex(), amount, price)

	p.dispatch(ctx, r)
	return r, nil
}

// RedeemOrder 按订单价格买入，超出剩余数量的部分退回买家。
// 消耗的价值中 95% 给卖家，2.5%/2.5% 给卖家的两级推荐人，缺失的推荐人份额归平台。
func (p *Platform) RedeemOrder(ctx context.Context, buyer domain.Account, id uint64, value decimal.Decimal) (*Receipt, error) {
	if domain.IsNoAccount(buyer) {
		return nil, p.fail(OpRedeemOrder, domain.ErrInvalidAccount)
	}
	value = marketmath.Truncate(value)
	if !value.IsPositive() {
		return nil, p.fail(OpRedeemOrder, domain.ErrZeroPayment)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if !p.tradeOpen(now) {
		return nil, p.fail(OpRedeemOrder, fmt.Errorf("%w: current round is %s #%d", domain.ErrTradeRoundNotActive, p.round.Kind, p.round.Number))
	}
	o, err := p.book.Lookup(id)
	if err != nil {
		return nil, p.fail(OpRedeemOrder, err)
	}

	tokens := marketmath.TokensForValue(value, o.Price)
	consumed, refund := value, decimal.Zero
	if tokens.GreaterThan(o.Remaining) {
		tokens = o.Remaining
		consumed = marketmath.ValueForTokens(tokens, o.Price)
		refund = value.Sub(consumed)
	}
	if !tokens.IsPositive() {
		return nil, p.fail(OpRedeemOrder, fmt.Errorf("%w: payment %s buys no tokens at %s", domain.ErrZeroAmount, value, o.Price))
	}
	if bal := p.wallet.BalanceOf(buyer); bal.LessThan(value) {
		return nil, p.fail(OpRedeemOrder, fmt.Errorf("%w: balance %s, payment %s", domain.ErrInsufficientFunds, bal, value))
	}
	if refund.IsPositive() && !p.wallet.Accepts(buyer) {
		return nil, p.fail(OpRedeemOrder, fmt.Errorf("%w: refund of %s", domain.ErrRefundRejected, refund))
	}

	ctx = context.WithoutCancel(ctx)
	if err := p.wallet.Transfer(ctx, buyer, p.cfg.Custody, value); err != nil {
		return nil, p.fail(OpRedeemOrder, err)
	}
	if err := p.token.TransferFrom(p.cfg.Custody, buyer, tokens); err != nil {
		if rerr := p.wallet.Transfer(ctx, p.cfg.Custody, buyer, value); rerr != nil {
			p.log.Errorf("return payment after failed token delivery: %v", rerr)
		}
		return nil, p.fail(OpRedeemOrder, errors.Wrap(err, "deliver order tokens"))
	}
	filled, err := p.book.Fill(id, tokens, now)
	if err != nil {
		// Lookup 与 Fill 在同一把锁内，走到这里说明簿记已损坏
		p.log.WithField("order", id).Errorf("fill after token delivery: %v", err)
	}
	p.round.Trade.VolumeTraded = p.round.Trade.VolumeTraded.Add(consumed)

	r := p.newReceipt(OpRedeemOrder, buyer, now)
	r.OrderID = id
	r.Tokens = tokens
	r.Value = value
	r.Consumed = consumed
	r.Refund = refund

	if refund.IsPositive() {
		p.pay(ctx, r, []fees.Allocation{{Leg: domain.LegRefund, Recipient: buyer, Amount: refund}})
	}
	p.pay(ctx, r, fees.Split(consumed, p.referrals.Chain(o.Seller), o.Seller, p.cfg.Custody, fees.TradeSchedule))

	ev := p.event(r, domain.EventRedeemOrder)
	ev.Account = buyer
	ev.Counterparty = o.Seller
	ev.OrderID = id
	ev.Amount = tokens
	ev.Price = o.Price
	r.Events = append(r.Events, ev)

	p.log.WithField("round", p.round.Number).Infof("order #%d redeemed: %s tokens=%s consumed=%s refund=%s remaining=%s",
		id, buyer.Hex(), tokens, consumed, refund, filled.Remaining)

	p.dispatch(ctx, r)
	return r, nil
}

// RemoveOrder 卖家撤单，剩余代币从托管账户退还。任何轮次都可以撤单。
func (p *Platform) RemoveOrder(ctx context.Context, seller domain.Account, id uint64) (*Receipt, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	o, ok := p.book.Get(id)
	if !ok {
		return nil, p.fail(OpRemoveOrder, fmt.Errorf("%w: #%d", domain.ErrOrderNotFound, id))
	}
	if o.Seller != seller {
		return nil, p.fail(OpRemoveOrder, fmt.Errorf("%w: #%d", domain.ErrNotOrderOwner, id))
	}
	if !o.IsOpen() {
		return nil, p.fail(OpRemoveOrder, fmt.Errorf("%w: #%d is %s", domain.ErrOrderClosed, id, o.Status))
	}

	if err := p.token.TransferFrom(p.cfg.Custody, seller, o.Remaining); err != nil {
		return nil, p.fail(OpRemoveOrder, errors.Wrap(err, "return order tokens"))
	}
	closed, returned, err := p.book.Close(id, domain.OrderStatusCanceled, now)
	if err != nil {
		p.log.WithField("order", id).Errorf("close after token return: %v", err)
		returned = o.Remaining
		closed = o
	}

	r := p.newReceipt(OpRemoveOrder, seller, now)
	r.OrderID = id
	r.Tokens = returned

	ev := p.event(r, domain.EventRemoveOrder)
	ev.Account = seller
	ev.OrderID = id
	ev.Amount = returned
	ev.Price = closed.Price
	r.Events = append(r.Events, ev)

	p.log.Infof("order #%d removed by %s: returned=%s", id, seller.Hex(), returned)

	p.dispatch(ctx, r)
	return r, nil
}

// Order 查询订单（包括已关闭的订单）
func (p *Platform) Order(id uint64) (domain.Order, error) {
	o, ok := p.book.Get(id)
	if !ok {
		return domain.Order{}, fmt.Errorf("%w: #%d", domain.ErrOrderNotFound, id)
	}
	return o, nil
}

// OpenOrders 所有开放订单
func (p *Platform) OpenOrders() []domain.Order {
	return p.book.Open()
}

// OrdersBySeller 卖家的全部订单
func (p *Platform) OrdersBySeller(seller domain.Account) []domain.Order {
	return p.book.BySeller(seller)
}

// AllOrders 全部订单（含已关闭），按 ID 升序
func (p *Platform) AllOrders() []domain.Order {
	return p.book.All()
}
