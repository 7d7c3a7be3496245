package referral

import (
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/acdm/internal/domain"
)

var (
	alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	carol = common.HexToAddress("0x00000000000000000000000000000000000ca201")
	dave  = common.HexToAddress("0x000000000000000000000000000000000000da4e")
)

func TestGraph_RegisterWithoutReferrer(t *testing.T) {
	g := NewGraph()
	_, err := g.Register(alice, domain.NoAccount, time.Now())
	require.NoError(t, err)

	assert.True(t, g.IsRegistered(alice))
	assert.Equal(t, domain.NoAccount, g.ReferrerOf(alice))
	assert.Equal(t, domain.NoAccount, g.ReferrerOfReferrer(alice))
}

func TestGraph_TwoLevelChain(t *testing.T) {
	g := NewGraph()
	now := time.Now()
	_, err := g.Register(alice, domain.NoAccount, now)
	require.NoError(t, err)
	_, err = g.Register(bob, alice, now)
	require.NoError(t, err)
	_, err = g.Register(carol, bob, now)
	require.NoError(t, err)

	chain := g.Chain(carol)
	assert.Equal(t, bob, chain.Level1)
	assert.Equal(t, alice, chain.Level2)

	chain = g.Chain(bob)
	assert.Equal(t, alice, chain.Level1)
	assert.Equal(t, domain.NoAccount, chain.Level2)

	// 未注册账户没有上线
	assert.Equal(t, domain.ReferralChain{}, g.Chain(dave))
}

func TestGraph_UnknownReferrer(t *testing.T) {
	g := NewGraph()
	_, err := g.Register(bob, alice, time.Now())
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrUnknownReferrer))
	assert.Equal(t, domain.KindAuthorization, domain.KindOf(err))
	assert.False(t, g.IsRegistered(bob))
}

func TestGraph_SelfReferralRejected(t *testing.T) {
	g := NewGraph()
	_, err := g.Register(alice, alice, time.Now())
	assert.True(t, errors.Is(err, domain.ErrUnknownReferrer))
}

func TestGraph_EdgeIsImmutable(t *testing.T) {
	g := NewGraph()
	now := time.Now()
	_, err := g.Register(alice, domain.NoAccount, now)
	require.NoError(t, err)
	_, err = g.Register(bob, domain.NoAccount, now)
	require.NoError(t, err)
	_, err = g.Register(carol, alice, now)
	require.NoError(t, err)

	_, err = g.Register(carol, bob, now)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrAlreadyRegistered))
	assert.Equal(t, alice, g.ReferrerOf(carol))
}

func TestGraph_ZeroRefereeRejected(t *testing.T) {
	g := NewGraph()
	_, err := g.Register(domain.NoAccount, domain.NoAccount, time.Now())
	assert.True(t, errors.Is(err, domain.ErrInvalidAccount))
}

func TestGraph_SnapshotRoundTrip(t *testing.T) {
	g := NewGraph()
	t0 := time.Unix(1_700_000_000, 0)
	_, _ = g.Register(alice, domain.NoAccount, t0)
	_, _ = g.Register(bob, alice, t0.Add(time.Second))

	edges := g.Edges()
	require.Len(t, edges, 2)
	assert.Equal(t, alice, edges[0].Referee)

	restored := NewGraph()
	restored.Restore(edges)
	assert.Equal(t, alice, restored.ReferrerOf(bob))
	assert.Equal(t, 2, restored.Len())
}
