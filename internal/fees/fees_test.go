package fees

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/acdm/internal/domain"
)

var (
	platform = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	treasury = common.HexToAddress("0x00000000000000000000000000000000000000ee")
	seller   = common.HexToAddress("0x0000000000000000000000000000000000000005")
	ref1     = common.HexToAddress("0x0000000000000000000000000000000000000001")
	ref2     = common.HexToAddress("0x0000000000000000000000000000000000000002")
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

type transfer struct {
	from, to domain.Account
	amount   decimal.Decimal
}

type fakeTransferer struct {
	rejecting map[domain.Account]bool
	transfers []transfer
}

func (f *fakeTransferer) Transfer(_ context.Context, from, to domain.Account, amount decimal.Decimal) error {
	if f.rejecting[to] {
		return domain.ErrTransferRejected
	}
	f.transfers = append(f.transfers, transfer{from: from, to: to, amount: amount})
	return nil
}

func amounts(allocs []Allocation) map[domain.PayoutLeg]string {
	m := make(map[domain.PayoutLeg]string, len(allocs))
	for _, a := range allocs {
		m[a.Leg] = a.Amount.String()
	}
	return m
}

func TestSplit_SaleTwoLevels(t *testing.T) {
	allocs := Split(d("0.00005"), domain.ReferralChain{Level1: ref1, Level2: ref2}, domain.NoAccount, platform, SaleSchedule)
	require.Len(t, allocs, 3)
	assert.Equal(t, domain.LegReferrer1, allocs[0].Leg)
	assert.Equal(t, domain.LegReferrer2, allocs[1].Leg)
	assert.Equal(t, domain.LegPlatform, allocs[2].Leg)

	assert.Equal(t, map[domain.PayoutLeg]string{
		domain.LegReferrer1: "0.0000025",
		domain.LegReferrer2: "0.0000015",
		domain.LegPlatform:  "0.000046",
	}, amounts(allocs))
	assert.True(t, Total(allocs).Equal(d("0.00005")))
}

func TestSplit_SaleMissingLevelGoesToPlatform(t *testing.T) {
	allocs := Split(d("0.000001"), domain.ReferralChain{Level1: ref1}, domain.NoAccount, platform, SaleSchedule)
	require.Len(t, allocs, 2)
	assert.Equal(t, "0.00000005", allocs[0].Amount.String())
	assert.Equal(t, ref1, allocs[0].Recipient)
	assert.Equal(t, "0.00000095", allocs[1].Amount.String())
	assert.Equal(t, platform, allocs[1].Recipient)
}

func TestSplit_SaleNoReferrers(t *testing.T) {
	allocs := Split(d("0.001"), domain.ReferralChain{}, domain.NoAccount, platform, SaleSchedule)
	require.Len(t, allocs, 1)
	assert.Equal(t, domain.LegPlatform, allocs[0].Leg)
	assert.True(t, allocs[0].Amount.Equal(d("0.001")))
}

func TestSplit_TradeFullChainLeavesNothingForPlatform(t *testing.T) {
	allocs := Split(d("0.03"), domain.ReferralChain{Level1: ref1, Level2: ref2}, seller, platform, TradeSchedule)
	assert.Equal(t, map[domain.PayoutLeg]string{
		domain.LegReferrer1: "0.00075",
		domain.LegReferrer2: "0.00075",
		domain.LegSeller:    "0.0285",
	}, amounts(allocs))
	assert.True(t, Total(allocs).Equal(d("0.03")))
}

func TestSplit_TradeNoReferrers(t *testing.T) {
	allocs := Split(d("0.03"), domain.ReferralChain{}, seller, platform, TradeSchedule)
	assert.Equal(t, map[domain.PayoutLeg]string{
		domain.LegSeller:   "0.0285",
		domain.LegPlatform: "0.0015",
	}, amounts(allocs))
}

func TestSplit_DustAccruesToPlatform(t *testing.T) {
	// 1e-18 的 5% 截断为 0，整笔归平台
	allocs := Split(d("0.000000000000000001"), domain.ReferralChain{Level1: ref1}, domain.NoAccount, platform, SaleSchedule)
	require.Len(t, allocs, 1)
	assert.Equal(t, domain.LegPlatform, allocs[0].Leg)
}

func TestDistribute_PlatformShareRetainedWithoutTreasury(t *testing.T) {
	w := &fakeTransferer{}
	dist := NewDistributor(w, platform, domain.NoAccount)

	allocs := Split(d("0.00005"), domain.ReferralChain{Level1: ref1, Level2: ref2}, domain.NoAccount, platform, SaleSchedule)
	payouts := dist.Distribute(context.Background(), "tx", allocs, time.Now())

	require.Len(t, payouts, 3)
	for _, p := range payouts {
		assert.True(t, p.Delivered)
		assert.Equal(t, "tx", p.TxID)
	}
	// 只有两笔推荐人转账，平台份额不动
	require.Len(t, w.transfers, 2)
	assert.Equal(t, ref1, w.transfers[0].to)
	assert.Equal(t, ref2, w.transfers[1].to)
	assert.Equal(t, platform, w.transfers[0].from)
}

func TestDistribute_TreasuryReceivesPlatformShare(t *testing.T) {
	w := &fakeTransferer{}
	dist := NewDistributor(w, platform, treasury)

	payouts := dist.Distribute(context.Background(), "tx", Split(d("1"), domain.ReferralChain{}, domain.NoAccount, platform, SaleSchedule), time.Now())
	require.Len(t, payouts, 1)
	assert.Equal(t, treasury, payouts[0].Recipient)
	require.Len(t, w.transfers, 1)
	assert.Equal(t, treasury, w.transfers[0].to)
}

func TestDistribute_FailedLegDoesNotBlockOthers(t *testing.T) {
	w := &fakeTransferer{rejecting: map[domain.Account]bool{ref1: true}}
	dist := NewDistributor(w, platform, domain.NoAccount)

	allocs := Split(d("0.03"), domain.ReferralChain{Level1: ref1, Level2: ref2}, seller, platform, TradeSchedule)
	payouts := dist.Distribute(context.Background(), "tx", allocs, time.Now())

	require.Len(t, payouts, 3)
	assert.False(t, payouts[0].Delivered)
	assert.NotEmpty(t, payouts[0].Error)
	assert.True(t, payouts[1].Delivered)
	assert.True(t, payouts[2].Delivered)
	assert.True(t, Undelivered(payouts).Equal(d("0.00075")))

	require.Len(t, w.transfers, 2)
	assert.Equal(t, ref2, w.transfers[0].to)
	assert.Equal(t, seller, w.transfers[1].to)
}

func TestDistribute_ErrorKind(t *testing.T) {
	assert.True(t, errors.Is(domain.ErrTransferRejected, domain.ErrTransferRejected))
	assert.Equal(t, domain.KindTransfer, domain.KindOf(domain.ErrTransferRejected))
}
