package platform

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/acdm/internal/domain"
	"github.com/betbot/acdm/internal/fees"
	"github.com/betbot/acdm/internal/metrics"
	"github.com/betbot/acdm/internal/referral"
	"github.com/betbot/acdm/pkg/orderbook"
)

// DefaultRoundDuration 默认轮次时长（3 天）
const DefaultRoundDuration = 3 * 24 * time.Hour

// Token 代币协作方。平台是唯一被授权的调用方。
type Token interface {
	Mint(to domain.Account, amount decimal.Decimal) error
	Burn(from domain.Account, amount decimal.Decimal) error
	BalanceOf(account domain.Account) decimal.Decimal
	TransferFrom(from, to domain.Account, amount decimal.Decimal) error
}

// Wallet 原生价值账本
type Wallet interface {
	fees.Transferer
	BalanceOf(account domain.Account) decimal.Decimal
	Accepts(account domain.Account) bool
}

// ReceiptHandler 每次成功的操作都会收到一份回执（在平台锁内按顺序调用）
type ReceiptHandler interface {
	HandleReceipt(ctx context.Context, r *Receipt) error
}

// ReceiptHandlerFunc 函数适配器
type ReceiptHandlerFunc func(ctx context.Context, r *Receipt) error

func (f ReceiptHandlerFunc) HandleReceipt(ctx context.Context, r *Receipt) error {
	return f(ctx, r)
}

// Config 平台配置
type Config struct {
	Custody       domain.Account   // 平台托管账户（代币 operator，收款账户）
	Treasury      domain.Account   // 平台份额转出账户；为空则留在托管账户
	RoundDuration time.Duration    // 每轮时长
	Clock         func() time.Time // 时钟，测试中注入
}

// Platform Sale/Trade 轮次状态机及全部对外操作。
// 所有操作由 mu 串行化：先校验全部前置条件，再一次性提交状态，最后逐腿分账。
type Platform struct {
	mu sync.Mutex

	cfg       Config
	token     Token
	wallet    Wallet
	referrals *referral.Graph
	book      *orderbook.Book
	dist      *fees.Distributor

	round     domain.Round
	lastPrice decimal.Decimal // 最近一个 Sale 轮的单价
	stranded  decimal.Decimal // 分账失败滞留在托管账户中的金额

	handlers []ReceiptHandler
	log      *logrus.Entry
}

// New 创建平台
func New(cfg Config, token Token, wallet Wallet) (*Platform, error) {
	if domain.IsNoAccount(cfg.Custody) {
		return nil, errors.New("platform: custody account is required")
	}
	if token == nil || wallet == nil {
		return nil, errors.New("platform: token and wallet are required")
	}
	if cfg.RoundDuration <= 0 {
		cfg.RoundDuration = DefaultRoundDuration
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}

	p := &Platform{
		cfg:       cfg,
		token:     token,
		wallet:    wallet,
		referrals: referral.NewGraph(),
		book:      orderbook.New(),
		dist:      fees.NewDistributor(wallet, cfg.Custody, cfg.Treasury),
		round:     domain.Round{Kind: domain.RoundKindNone},
		lastPrice: decimal.Zero,
		stranded:  decimal.Zero,
		log:       logrus.WithField("module", "platform"),
	}

	p.book.OnNew(func(domain.Order) { metrics.OrdersAdded.Add(1) })
	p.book.OnRedeemed(func(domain.Order, decimal.Decimal) { metrics.OrdersRedeemed.Add(1) })
	p.book.OnClosed(func(o domain.Order) {
		switch o.Status {
		case domain.OrderStatusCanceled:
			metrics.OrdersRemoved.Add(1)
		case domain.OrderStatusForceClosed:
			metrics.OrdersForced.Add(1)
		}
	})
	return p, nil
}

// OnReceipt 注册回执处理器
func (p *Platform) OnReceipt(h ReceiptHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.handlers = append(p.handlers, h)
}

// OnEvent 按顺序接收每个成功操作产生的事件
func (p *Platform) OnEvent(fn func(domain.Event)) {
	p.OnReceipt(ReceiptHandlerFunc(func(_ context.Context, r *Receipt) error {
		for _, e := range r.Events {
			fn(e)
		}
		return nil
	}))
}

// Custody 平台托管账户
func (p *Platform) Custody() domain.Account {
	return p.cfg.Custody
}

// RoundDuration 每轮时长
func (p *Platform) RoundDuration() time.Duration {
	return p.cfg.RoundDuration
}

func (p *Platform) now() time.Time {
	return p.cfg.Clock()
}

func (p *Platform) newReceipt(op Op, caller domain.Account, now time.Time) *Receipt {
	return &Receipt{
		TxID:      uuid.NewString(),
		Op:        op,
		Caller:    caller,
		Round:     p.round.Number,
		Tokens:    decimal.Zero,
		Value:     decimal.Zero,
		Consumed:  decimal.Zero,
		Refund:    decimal.Zero,
		Timestamp: now,
	}
}

func (p *Platform) event(r *Receipt, typ domain.EventType) domain.Event {
	return domain.Event{
		TxID:      r.TxID,
		Type:      typ,
		Round:     p.round.Number,
		Amount:    decimal.Zero,
		Price:     decimal.Zero,
		Timestamp: r.Timestamp,
	}
}

// pay 执行分账并累计滞留金额
func (p *Platform) pay(ctx context.Context, r *Receipt, allocs []fees.Allocation) {
	payouts := p.dist.Distribute(ctx, r.TxID, allocs, r.Timestamp)
	p.stranded = p.stranded.Add(fees.Undelivered(payouts))
	r.Payouts = append(r.Payouts, payouts...)
}

// dispatch 在锁内调用，保证处理器看到的回执顺序与操作顺序一致。
// 操作已提交，处理器不受调用方取消影响。
func (p *Platform) dispatch(ctx context.Context, r *Receipt) {
	ctx = context.WithoutCancel(ctx)
	for _, h := range p.handlers {
		if err := h.HandleReceipt(ctx, r); err != nil {
			p.log.WithField("tx", r.TxID).Warnf("receipt handler failed: %v", err)
		}
	}
}

func (p *Platform) fail(op Op, err error) error {
	code := domain.CodeOf(err)
	if code == "" {
		code = "Internal"
		p.log.WithField("op", op).Errorf("operation failed: %v", err)
	} else {
		p.log.WithField("op", op).Debugf("operation rejected: %v", err)
	}
	metrics.OperationErrors.Add(code, 1)
	return err
}

func (p *Platform) saleOpen(now time.Time) bool {
	return p.round.Kind == domain.RoundKindSale && !p.round.Expired(now) && !p.round.Sale.SoldOut()
}

func (p *Platform) tradeOpen(now time.Time) bool {
	return p.round.Kind == domain.RoundKindTrade && !p.round.Expired(now)
}
