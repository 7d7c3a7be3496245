package platform

import (
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/betbot/acdm/internal/domain"
	"github.com/betbot/acdm/internal/referral"
	"github.com/betbot/acdm/pkg/orderbook"
)

// State 平台可持久化状态（不含代币与钱包余额，由各自账本快照）
type State struct {
	Round     domain.Round       `json:"round"`
	LastPrice decimal.Decimal    `json:"last_price"`
	Stranded  decimal.Decimal    `json:"stranded"`
	Referrals []referral.Edge    `json:"referrals"`
	Book      orderbook.Snapshot `json:"book"`
}

// Snapshot 导出当前状态
func (p *Platform) Snapshot() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshot()
}

// Capture 在平台锁内导出状态并调用 fn。
// fn 内读取的代币与钱包快照和 State 处于同一时刻；fn 不能再调用 Platform 的方法。
func (p *Platform) Capture(fn func(State)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(p.snapshot())
}

func (p *Platform) snapshot() State {
	return State{
		Round:     p.round.Clone(),
		LastPrice: p.lastPrice,
		Stranded:  p.stranded,
		Referrals: p.referrals.Edges(),
		Book:      p.book.Snapshot(),
	}
}

// Restore 用快照覆盖当前状态
func (p *Platform) Restore(s State) error {
	round := s.Round.Clone()
	if round.Kind == "" {
		round.Kind = domain.RoundKindNone
	}
	switch round.Kind {
	case domain.RoundKindNone:
		round.Sale, round.Trade = nil, nil
	case domain.RoundKindSale:
		if round.Sale == nil || round.Trade != nil {
			return errors.Errorf("restore: sale round #%d has inconsistent snapshot", round.Number)
		}
	case domain.RoundKindTrade:
		if round.Trade == nil || round.Sale != nil {
			return errors.Errorf("restore: trade round #%d has inconsistent snapshot", round.Number)
		}
	default:
		return errors.Errorf("restore: unknown round kind %q", round.Kind)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.round = round
	p.lastPrice = s.LastPrice
	p.stranded = s.Stranded
	p.referrals.Restore(s.Referrals)
	p.book.Restore(s.Book)
	return nil
}

// Stranded 分账失败滞留在托管账户中的累计金额
func (p *Platform) Stranded() decimal.Decimal {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stranded
}
