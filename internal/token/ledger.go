package token

import (
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/betbot/acdm/internal/domain"
)

// Ledger ERC-20 风格的代币账本（平台的外部协作方）。
//
// Mint/Burn/TransferFrom 只能通过 Operator() 返回的句柄调用，句柄即授权：
// 只有构造时指定的 operator（平台托管账户）持有它。
type Ledger struct {
	mu sync.RWMutex

	name     string
	symbol   string
	operator domain.Account

	totalSupply decimal.Decimal
	balances    map[domain.Account]decimal.Decimal
	allowances  map[domain.Account]map[domain.Account]decimal.Decimal
}

// NewLedger 创建代币账本
func NewLedger(name, symbol string, operator domain.Account) *Ledger {
	return &Ledger{
		name:        name,
		symbol:      symbol,
		operator:    operator,
		totalSupply: decimal.Zero,
		balances:    make(map[domain.Account]decimal.Decimal),
		allowances:  make(map[domain.Account]map[domain.Account]decimal.Decimal),
	}
}

func (l *Ledger) Name() string   { return l.name }
func (l *Ledger) Symbol() string { return l.symbol }

// OperatorAccount 被授权的平台账户
func (l *Ledger) OperatorAccount() domain.Account {
	return l.operator
}

// TotalSupply 总供应
func (l *Ledger) TotalSupply() decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.totalSupply
}

// BalanceOf 余额
func (l *Ledger) BalanceOf(account domain.Account) decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balances[account]
}

// Allowance owner 授权给 spender 的额度
func (l *Ledger) Allowance(owner, spender domain.Account) decimal.Decimal {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.allowances[owner][spender]
}

// Approve 设置授权额度（覆盖而非累加）
func (l *Ledger) Approve(owner, spender domain.Account, amount decimal.Decimal) error {
	if domain.IsNoAccount(owner) || domain.IsNoAccount(spender) {
		return domain.ErrInvalidAccount
	}
	if amount.IsNegative() {
		return domain.ErrZeroAmount
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	m := l.allowances[owner]
	if m == nil {
		m = make(map[domain.Account]decimal.Decimal)
		l.allowances[owner] = m
	}
	m[spender] = amount
	return nil
}

// Transfer 持有人自行转账
func (l *Ledger) Transfer(from, to domain.Account, amount decimal.Decimal) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.move(from, to, amount)
}

func (l *Ledger) move(from, to domain.Account, amount decimal.Decimal) error {
	if domain.IsNoAccount(to) {
		return domain.ErrInvalidAccount
	}
	if !amount.IsPositive() {
		return domain.ErrZeroAmount
	}
	bal := l.balances[from]
	if bal.LessThan(amount) {
		return fmt.Errorf("%w: have %s, need %s", domain.ErrInsufficientTokens, bal, amount)
	}
	l.setBalance(from, bal.Sub(amount))
	l.setBalance(to, l.balances[to].Add(amount))
	return nil
}

func (l *Ledger) setBalance(a domain.Account, v decimal.Decimal) {
	if v.IsZero() {
		delete(l.balances, a)
		return
	}
	l.balances[a] = v
}

// Operator 平台专用句柄
func (l *Ledger) Operator() *Operator {
	return &Operator{l: l}
}

// Operator 实现平台需要的 mint/burn/transferFrom/balanceOf
type Operator struct {
	l *Ledger
}

// Mint 增发到 to
func (o *Operator) Mint(to domain.Account, amount decimal.Decimal) error {
	if domain.IsNoAccount(to) {
		return domain.ErrInvalidAccount
	}
	if !amount.IsPositive() {
		return domain.ErrZeroAmount
	}
	l := o.l
	l.mu.Lock()
	defer l.mu.Unlock()
	l.setBalance(to, l.balances[to].Add(amount))
	l.totalSupply = l.totalSupply.Add(amount)
	return nil
}

// Burn 从 from 销毁
func (o *Operator) Burn(from domain.Account, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return domain.ErrZeroAmount
	}
	l := o.l
	l.mu.Lock()
	defer l.mu.Unlock()
	bal := l.balances[from]
	if bal.LessThan(amount) {
		return fmt.Errorf("%w: have %s, burn %s", domain.ErrInsufficientTokens, bal, amount)
	}
	l.setBalance(from, bal.Sub(amount))
	l.totalSupply = l.totalSupply.Sub(amount)
	return nil
}

// TransferFrom operator 代为转账。from 为 operator 自身时不消耗授权额度。
// 失败时账本不变。
func (o *Operator) TransferFrom(from, to domain.Account, amount decimal.Decimal) error {
	l := o.l
	l.mu.Lock()
	defer l.mu.Unlock()

	if from != l.operator {
		allowed := l.allowances[from][l.operator]
		if allowed.LessThan(amount) {
			return fmt.Errorf("%w: allowed %s, need %s", domain.ErrInsufficientAllowance, allowed, amount)
		}
		if err := l.move(from, to, amount); err != nil {
			return err
		}
		l.allowances[from][l.operator] = allowed.Sub(amount)
		return nil
	}
	return l.move(from, to, amount)
}

// BalanceOf 余额
func (o *Operator) BalanceOf(account domain.Account) decimal.Decimal {
	return o.l.BalanceOf(account)
}

// Snapshot 账本快照
type Snapshot struct {
	TotalSupply decimal.Decimal                                       `json:"total_supply"`
	Balances    map[domain.Account]decimal.Decimal                    `json:"balances"`
	Allowances  map[domain.Account]map[domain.Account]decimal.Decimal `json:"allowances"`
}

// Snapshot 导出快照
func (l *Ledger) Snapshot() Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	s := Snapshot{
		TotalSupply: l.totalSupply,
		Balances:    make(map[domain.Account]decimal.Decimal, len(l.balances)),
		Allowances:  make(map[domain.Account]map[domain.Account]decimal.Decimal, len(l.allowances)),
	}
	for a, v := range l.balances {
		s.Balances[a] = v
	}
	for owner, m := range l.allowances {
		cp := make(map[domain.Account]decimal.Decimal, len(m))
		for spender, v := range m {
			cp[spender] = v
		}
		s.Allowances[owner] = cp
	}
	return s
}

// Restore 用快照覆盖账本
func (l *Ledger) Restore(s Snapshot) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.totalSupply = s.TotalSupply
	l.balances = make(map[domain.Account]decimal.Decimal, len(s.Balances))
	for a, v := range s.Balances {
		l.balances[a] = v
	}
	l.allowances = make(map[domain.Account]map[domain.Account]decimal.Decimal, len(s.Allowances))
	for owner, m := range s.Allowances {
		cp := make(map[domain.Account]decimal.Decimal, len(m))
		for spender, v := range m {
			cp[spender] = v
		}
		l.allowances[owner] = cp
	}
}
