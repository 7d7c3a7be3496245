package platform

import (
	"context"

	"github.com/betbot/acdm/internal/domain"
	"github.com/betbot/acdm/internal/metrics"
)

// Register 登记推荐关系，每个账户只能登记一次。referrer 为空表示没有推荐人。
func (p *Platform) Register(ctx context.Context, referee, referrer domain.Account) (*Receipt, error) {
	if domain.IsNoAccount(referee) {
		return nil, p.fail(OpRegister, domain.ErrInvalidAccount)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	edge, err := p.referrals.Register(referee, referrer, now)
	if err != nil {
		return nil, p.fail(OpRegister, err)
	}

	r := p.newReceipt(OpRegister, referee, now)
	ev := p.event(r, domain.EventRegister)
	ev.Account = edge.Referee
	ev.Counterparty = edge.Referrer
	r.Events = append(r.Events, ev)

	metrics.Registrations.Add(1)
	p.log.Infof("registered %s (referrer %s)", referee.Hex(), referrer.Hex())

	p.dispatch(ctx, r)
	return r, nil
}

// IsRegistered 是否已登记
func (p *Platform) IsRegistered(account domain.Account) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.referrals.IsRegistered(account)
}

// Referrals 账户的两级推荐人
func (p *Platform) Referrals(account domain.Account) domain.ReferralChain {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.referrals.Chain(account)
}

// ReferrerOf 一级推荐人；未注册或无推荐人时为 NoAccount
func (p *Platform) ReferrerOf(account domain.Account) domain.Account {
	return p.Referrals(account).Level1
}
