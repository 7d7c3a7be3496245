package wallet

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/betbot/acdm/internal/domain"
)

// Wallet 原生价值账本（执行环境提供的“ETH”余额）。
// 标记为 rejecting 的账户拒收转入，用于模拟无法接收价值的合约账户。
type Wallet struct {
	mu        sync.RWMutex
	balances  map[domain.Account]decimal.Decimal
	rejecting map[domain.Account]bool
}

// New 创建空钱包
func New() *Wallet {
	return &Wallet{
		balances:  make(map[domain.Account]decimal.Decimal),
		rejecting: make(map[domain.Account]bool),
	}
}

// Deposit 凭空充值（仅 dev faucet 与测试使用）
func (w *Wallet) Deposit(account domain.Account, amount decimal.Decimal) error {
	if domain.IsNoAccount(account) {
		return domain.ErrInvalidAccount
	}
	if !amount.IsPositive() {
		return domain.ErrZeroPayment
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.balances[account] = w.balances[account].Add(amount)
	return nil
}

// BalanceOf 余额
func (w *Wallet) BalanceOf(account domain.Account) decimal.Decimal {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.balances[account]
}

// Accepts 账户是否接收转入
func (w *Wallet) Accepts(account domain.Account) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return !w.rejecting[account]
}

// SetRejecting 设置账户是否拒收
func (w *Wallet) SetRejecting(account domain.Account, reject bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if reject {
		w.rejecting[account] = true
		return
	}
	delete(w.rejecting, account)
}

// Transfer 转账。失败时余额不变。
func (w *Wallet) Transfer(ctx context.Context, from, to domain.Account, amount decimal.Decimal) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if domain.IsNoAccount(to) {
		return domain.ErrInvalidAccount
	}
	if amount.IsZero() {
		return nil
	}
	if amount.IsNegative() {
		return domain.ErrZeroPayment
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.rejecting[to] {
		return fmt.Errorf("%w: %s", domain.ErrTransferRejected, to.Hex())
	}
	bal := w.balances[from]
	if bal.LessThan(amount) {
		return fmt.Errorf("%w: have %s, need %s", domain.ErrInsufficientFunds, bal, amount)
	}
	w.balances[from] = bal.Sub(amount)
	w.balances[to] = w.balances[to].Add(amount)
	return nil
}

// Snapshot 钱包快照
type Snapshot struct {
	Balances  map[domain.Account]decimal.Decimal `json:"balances"`
	Rejecting []domain.Account                   `json:"rejecting,omitempty"`
}

// Snapshot 导出快照
func (w *Wallet) Snapshot() Snapshot {
	w.mu.RLock()
	defer w.mu.RUnlock()
	s := Snapshot{Balances: make(map[domain.Account]decimal.Decimal, len(w.balances))}
	for a, v := range w.balances {
		s.Balances[a] = v
	}
	for a := range w.rejecting {
		s.Rejecting = append(s.Rejecting, a)
	}
	sort.Slice(s.Rejecting, func(i, j int) bool { return s.Rejecting[i].Hex() < s.Rejecting[j].Hex() })
	return s
}

// Restore 用快照覆盖钱包
func (w *Wallet) Restore(s Snapshot) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.balances = make(map[domain.Account]decimal.Decimal, len(s.Balances))
	for a, v := range s.Balances {
		w.balances[a] = v
	}
	w.rejecting = make(map[domain.Account]bool, len(s.Rejecting))
	for _, a := range s.Rejecting {
		w.rejecting[a] = true
	}
}
