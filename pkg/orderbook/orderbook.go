package orderbook

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/betbot/acdm/internal/domain"
)

// Book Trade 轮订单簿。
//
// 已关闭的订单仍保留在表中（按 ID 可查），以便区分 OrderNotFound 与 OrderClosed。
// 订单 ID 从 1 开始单调递增，跨轮次不重置。
type Book struct {
	mu     sync.RWMutex
	orders map[uint64]*domain.Order
	nextID uint64

	// 回调
	newCallbacks      []func(order domain.Order)
	redeemedCallbacks []func(order domain.Order, tokens decimal.Decimal)
	closedCallbacks   []func(order domain.Order)
}

// New 创建空订单簿
func New() *Book {
	return &Book{
		orders: make(map[uint64]*domain.Order),
		nextID: 1,
	}
}

// NextID 下一个将被分配的订单 ID
func (b *Book) NextID() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.nextID
}

// Create 登记新订单（代币托管由调用方完成）
func (b *Book) Create(seller domain.Account, amount, price decimal.Decimal, round int, now time.Time) domain.Order {
	b.mu.Lock()
	o := &domain.Order{
		ID:        b.nextID,
		Seller:    seller,
		Amount:    amount,
		Remaining: amount,
		Price:     price,
		Round:     round,
		Status:    domain.OrderStatusOpen,
		CreatedAt: now,
	}
	b.orders[o.ID] = o
	b.nextID++
	out := *o
	b.mu.Unlock()

	// 触发回调（在锁外执行，避免死锁）
	for _, cb := range b.newCallbacks {
		cb(out)
	}
	return out
}

// Get 按 ID 查询（返回副本）
func (b *Book) Get(id uint64) (domain.Order, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	o, ok := b.orders[id]
	if !ok {
		return domain.Order{}, false
	}
	return *o, true
}

// Lookup 查询可成交订单：不存在返回 ErrOrderNotFound，已关闭返回 ErrOrderClosed
func (b *Book) Lookup(id uint64) (domain.Order, error) {
	o, ok := b.Get(id)
	if !ok {
		return domain.Order{}, fmt.Errorf("%w: #%d", domain.ErrOrderNotFound, id)
	}
	if !o.IsOpen() {
		return o, fmt.Errorf("%w: #%d", domain.ErrOrderClosed, id)
	}
	return o, nil
}

// Fill 成交 tokens 个代币；剩余归零时订单变为 filled
func (b *Book) Fill(id uint64, tokens decimal.Decimal, now time.Time) (domain.Order, error) {
	b.mu.Lock()
	o, ok := b.orders[id]
	if !ok {
		b.mu.Unlock()
		return domain.Order{}, fmt.Errorf("%w: #%d", domain.ErrOrderNotFound, id)
	}
	if !o.IsOpen() {
		b.mu.Unlock()
		return *o, fmt.Errorf("%w: #%d", domain.ErrOrderClosed, id)
	}
	if !tokens.IsPositive() || tokens.GreaterThan(o.Remaining) {
		b.mu.Unlock()
		return *o, fmt.Errorf("fill %s out of range (remaining %s)", tokens, o.Remaining)
	}
	o.Remaining = o.Remaining.Sub(tokens)
	filled := !o.IsOpen()
	if filled {
		o.Status = domain.OrderStatusFilled
		ts := now
		o.ClosedAt = &ts
	}
	out := *o
	b.mu.Unlock()

	for _, cb := range b.redeemedCallbacks {
		cb(out, tokens)
	}
	if filled {
		for _, cb := range b.closedCallbacks {
			cb(out)
		}
	}
	return out, nil
}

// Close 关闭订单并返回关闭前的剩余数量（由调用方退还给卖家）。
// status 只能是 canceled 或 force_closed。
func (b *Book) Close(id uint64, status domain.OrderStatus, now time.Time) (domain.Order, decimal.Decimal, error) {
	if status != domain.OrderStatusCanceled && status != domain.OrderStatusForceClosed {
		return domain.Order{}, decimal.Zero, fmt.Errorf("invalid close status: %s", status)
	}
	b.mu.Lock()
	o, ok := b.orders[id]
	if !ok {
		b.mu.Unlock()
		return domain.Order{}, decimal.Zero, fmt.Errorf("%w: #%d", domain.ErrOrderNotFound, id)
	}
	if !o.IsOpen() {
		b.mu.Unlock()
		return *o, decimal.Zero, fmt.Errorf("%w: #%d", domain.ErrOrderClosed, id)
	}
	returned := o.Remaining
	o.Remaining = decimal.Zero
	o.Status = status
	ts := now
	o.ClosedAt = &ts
	out := *o
	b.mu.Unlock()

	for _, cb := range b.closedCallbacks {
		cb(out)
	}
	return out, returned, nil
}

// Open 所有未关闭订单（按 ID 升序）
func (b *Book) Open() []domain.Order {
	return b.filter(func(o *domain.Order) bool { return o.IsOpen() })
}

// BySeller 卖家的全部订单（含已关闭）
func (b *Book) BySeller(seller domain.Account) []domain.Order {
	return b.filter(func(o *domain.Order) bool { return o.Seller == seller })
}

// All 全部订单
func (b *Book) All() []domain.Order {
	return b.filter(func(*domain.Order) bool { return true })
}

// OpenRemaining 未关闭订单的剩余数量合计（即托管中属于卖家的代币）
func (b *Book) OpenRemaining() decimal.Decimal {
	sum := decimal.Zero
	for _, o := range b.Open() {
		sum = sum.Add(o.Remaining)
	}
	return sum
}

func (b *Book) filter(keep func(o *domain.Order) bool) []domain.Order {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]domain.Order, 0, len(b.orders))
	for _, o := range b.orders {
		if keep(o) {
			out = append(out, *o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// OnNew 注册新订单回调
func (b *Book) OnNew(cb func(order domain.Order)) {
	b.newCallbacks = append(b.newCallbacks, cb)
}

// OnRedeemed 注册成交回调
func (b *Book) OnRedeemed(cb func(order domain.Order, tokens decimal.Decimal)) {
	b.redeemedCallbacks = append(b.redeemedCallbacks, cb)
}

// OnClosed 注册关闭回调（成交完毕/撤单/强制关闭）
func (b *Book) OnClosed(cb func(order domain.Order)) {
	b.closedCallbacks = append(b.closedCallbacks, cb)
}

// Snapshot 订单簿快照
type Snapshot struct {
	NextID uint64         `json:"next_id"`
	Orders []domain.Order `json:"orders"`
}

// Snapshot 导出快照
func (b *Book) Snapshot() Snapshot {
	orders := b.All()
	b.mu.RLock()
	defer b.mu.RUnlock()
	return Snapshot{NextID: b.nextID, Orders: orders}
}

// Restore 用快照覆盖订单簿（不触发回调）
func (b *Book) Restore(s Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.orders = make(map[uint64]*domain.Order, len(s.Orders))
	for i := range s.Orders {
		o := s.Orders[i]
		b.orders[o.ID] = &o
	}
	b.nextID = s.NextID
	if b.nextID == 0 {
		b.nextID = 1
	}
}
