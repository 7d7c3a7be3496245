package fees

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"github.com/betbot/acdm/internal/domain"
	"github.com/betbot/acdm/internal/metrics"
)

// Transferer 原生价值转账
type Transferer interface {
	Transfer(ctx context.Context, from, to domain.Account, amount decimal.Decimal) error
}

// Distributor 从平台托管账户逐笔转出分账。
// 每条腿独立执行、独立失败：任何一腿失败都不会回滚其它腿，也不会让外层操作失败。
type Distributor struct {
	wallet   Transferer
	custody  domain.Account
	treasury domain.Account
	log      *logrus.Entry
}

// NewDistributor custody 为平台托管账户；treasury 为空时平台份额留在托管账户中。
func NewDistributor(wallet Transferer, custody, treasury domain.Account) *Distributor {
	return &Distributor{
		wallet:   wallet,
		custody:  custody,
		treasury: treasury,
		log:      logrus.WithField("module", "fees"),
	}
}

// Custody 平台托管账户
func (d *Distributor) Custody() domain.Account {
	return d.custody
}

// Distribute 按顺序执行分账，每条腿返回一条 Payout 记录
func (d *Distributor) Distribute(ctx context.Context, txID string, allocs []Allocation, now time.Time) []domain.Payout {
	out := make([]domain.Payout, 0, len(allocs))
	for _, a := range allocs {
		p := domain.Payout{
			TxID:      txID,
			Leg:       a.Leg,
			Recipient: a.Recipient,
			Amount:    a.Amount,
			Timestamp: now,
		}

		if a.Leg == domain.LegPlatform && (domain.IsNoAccount(d.treasury) || d.treasury == d.custody) {
			// 平台份额直接留存在托管账户
			p.Recipient = d.custody
			p.Delivered = true
			out = append(out, p)
			continue
		}
		to := a.Recipient
		if a.Leg == domain.LegPlatform {
			to = d.treasury
			p.Recipient = to
		}

		if err := d.wallet.Transfer(ctx, d.custody, to, a.Amount); err != nil {
			p.Error = err.Error()
			metrics.PayoutsFailed.Add(1)
			d.log.WithFields(logrus.Fields{
				"tx":        txID,
				"leg":       a.Leg,
				"recipient": to.Hex(),
				"amount":    a.Amount.String(),
			}).Warnf("payout failed, amount stays in custody: %v", err)
		} else {
			p.Delivered = true
			metrics.PayoutsDelivered.Add(1)
		}
		out = append(out, p)
	}
	return out
}

// Undelivered 未送达金额合计
func Undelivered(payouts []domain.Payout) decimal.Decimal {
	sum := decimal.Zero
	for _, p := range payouts {
		if !p.Delivered {
			sum = sum.Add(p.Amount)
		}
	}
	return sum
}
