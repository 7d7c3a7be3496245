package platform

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/betbot/acdm/internal/domain"
	"github.com/betbot/acdm/internal/metrics"
	"github.com/betbot/acdm/pkg/marketmath"
)

// RoundInfo 当前轮次视图
type RoundInfo struct {
	Number    int              `json:"number"`
	Kind      domain.RoundKind `json:"kind"`
	StartTime time.Time        `json:"start_time"`
	EndTime   time.Time        `json:"end_time"`
	Expired   bool             `json:"expired"`

	// Sale 轮
	Price           decimal.Decimal `json:"price"`
	TokensForSale   decimal.Decimal `json:"tokens_for_sale"`
	TokensSold      decimal.Decimal `json:"tokens_sold"`
	TokensRemaining decimal.Decimal `json:"tokens_remaining"`
	SoldOut         bool            `json:"sold_out"`

	// Trade 轮
	VolumeTraded decimal.Decimal `json:"volume_traded"`
	OpenOrders   int             `json:"open_orders"`

	LastSalePrice decimal.Decimal `json:"last_sale_price"`
}

// CanAdvance 当前轮次是否允许切换到下一轮
func (ri RoundInfo) CanAdvance() bool {
	switch ri.Kind {
	case domain.RoundKindNone:
		return true
	case domain.RoundKindSale:
		return ri.Expired || ri.SoldOut
	default:
		return ri.Expired
	}
}

// Round 返回当前轮次视图
func (p *Platform) Round() RoundInfo {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	ri := RoundInfo{
		Number:          p.round.Number,
		Kind:            p.round.Kind,
		StartTime:       p.round.StartTime,
		EndTime:         p.round.EndTime(),
		Expired:         p.round.Expired(now),
		Price:           decimal.Zero,
		TokensForSale:   decimal.Zero,
		TokensSold:      decimal.Zero,
		TokensRemaining: decimal.Zero,
		VolumeTraded:    decimal.Zero,
		OpenOrders:      len(p.book.Open()),
		LastSalePrice:   p.lastPrice,
	}
	if s := p.round.Sale; s != nil {
		ri.Price = s.Price
		ri.TokensForSale = s.TokensForSale
		ri.TokensSold = s.TokensSold
		ri.TokensRemaining = s.Remaining()
		ri.SoldOut = s.SoldOut()
	}
	if t := p.round.Trade; t != nil {
		ri.VolumeTraded = t.VolumeTraded
	}
	return ri
}

// StartSaleRound 开启下一个 Sale 轮。
// 允许从初始状态或已到期的 Trade 轮进入；所有仍开放的卖单被强制关闭，剩余代币退还卖家。
func (p *Platform) StartSaleRound(ctx context.Context) (*Receipt, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	switch p.round.Kind {
	case domain.RoundKindSale:
		if p.round.Expired(now) || p.round.Sale.SoldOut() {
			return nil, p.fail(OpStartSaleRound, fmt.Errorf("%w: sale round #%d must be closed via StartTradeRound",
				domain.ErrTradeRoundNotActive, p.round.Number))
		}
		return nil, p.fail(OpStartSaleRound, fmt.Errorf("%w: sale round #%d ends at %s",
			domain.ErrRoundAlreadyActive, p.round.Number, p.round.EndTime().Format(time.RFC3339)))
	case domain.RoundKindTrade:
		if !p.round.Expired(now) {
			return nil, p.fail(OpStartSaleRound, fmt.Errorf("%w: trade round #%d ends at %s",
				domain.ErrRoundNotExpired, p.round.Number, p.round.EndTime().Format(time.RFC3339)))
		}
	}

	number := p.round.Number + 1
	volume := decimal.Zero
	if p.round.Trade != nil {
		volume = p.round.Trade.VolumeTraded
	}
	price, supply := marketmath.SaleTerms(number, p.lastPrice, volume)

	open := p.book.Open()
	if held, owed := p.token.BalanceOf(p.cfg.Custody), p.book.OpenRemaining(); held.LessThan(owed) {
		return nil, p.fail(OpStartSaleRound, errors.Errorf("custody holds %s tokens, open orders need %s", held, owed))
	}

	// 余额已校验，强制关闭不会失败；任何失败都在增发前中止
	r := p.newReceipt(OpStartSaleRound, domain.NoAccount, now)
	for _, o := range open {
		if err := p.token.TransferFrom(p.cfg.Custody, o.Seller, o.Remaining); err != nil {
			return nil, p.fail(OpStartSaleRound, errors.Wrapf(err, "return tokens of order %d", o.ID))
		}
		closed, returned, err := p.book.Close(o.ID, domain.OrderStatusForceClosed, now)
		if err != nil {
			return nil, p.fail(OpStartSaleRound, errors.Wrapf(err, "force close order %d", o.ID))
		}
		ev := p.event(r, domain.EventRemoveOrder)
		ev.Account = closed.Seller
		ev.OrderID = closed.ID
		ev.Amount = returned
		ev.Price = closed.Price
		ev.Forced = true
		r.Events = append(r.Events, ev)
	}

	if supply.IsPositive() {
		if err := p.token.Mint(p.cfg.Custody, supply); err != nil {
			return nil, p.fail(OpStartSaleRound, errors.Wrap(err, "mint sale supply"))
		}
	}

	p.round = domain.NewSaleRound(number, now, p.cfg.RoundDuration, price, supply)
	p.lastPrice = price
	r.Round = number
	r.Tokens = supply

	ev := p.event(r, domain.EventSaleRoundStarted)
	ev.Amount = supply
	ev.Price = price
	r.Events = append(r.Events, ev)

	metrics.RoundsStarted.Add(string(domain.RoundKindSale), 1)
	p.log.WithField("round", number).Infof("sale round started: price=%s supply=%s force_closed=%d",
		price, supply, len(r.Events)-1)

	p.dispatch(ctx, r)
	return r, nil
}

// StartTradeRound 结束当前 Sale 轮并开启 Trade 轮。
// Sale 轮需已到期或售罄；未售出的代币被销毁。
func (p *Platform) StartTradeRound(ctx context.Context) (*Receipt, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	if p.round.Kind != domain.RoundKindSale {
		return nil, p.fail(OpStartTradeRound, fmt.Errorf("%w: current round is %s", domain.ErrSaleRoundNotActive, p.round.Kind))
	}
	sale := p.round.Sale
	if !p.round.Expired(now) && !sale.SoldOut() {
		return nil, p.fail(OpStartTradeRound, fmt.Errorf("%w: sale round #%d ends at %s with %s tokens left",
			domain.ErrRoundNotExpired, p.round.Number, p.round.EndTime().Format(time.RFC3339), sale.Remaining()))
	}

	unsold := sale.Remaining()
	if unsold.IsPositive() {
		if err := p.token.Burn(p.cfg.Custody, unsold); err != nil {
			return nil, p.fail(OpStartTradeRound, errors.Wrap(err, "burn unsold supply"))
		}
	} else {
		unsold = decimal.Zero
	}

	number := p.round.Number
	p.round = domain.NewTradeRound(number, now, p.cfg.RoundDuration)

	r := p.newReceipt(OpStartTradeRound, domain.NoAccount, now)
	r.Tokens = unsold
	ev := p.event(r, domain.EventTradeRoundStarted)
	ev.Amount = unsold
	r.Events = append(r.Events, ev)

	metrics.RoundsStarted.Add(string(domain.RoundKindTrade), 1)
	p.log.WithField("round", number).Infof("trade round started: burned=%s", unsold)

	p.dispatch(ctx, r)
	return r, nil
}

// TryAdvance 切换到下一轮：Sale 轮之后是 Trade 轮，其余情况开启 Sale 轮。
// 条件不满足时返回对应的状态错误。
func (p *Platform) TryAdvance(ctx context.Context) (*Receipt, error) {
	p.mu.Lock()
	kind := p.round.Kind
	p.mu.Unlock()

	if kind == domain.RoundKindSale {
		return p.StartTradeRound(ctx)
	}
	return p.StartSaleRound(ctx)
}
