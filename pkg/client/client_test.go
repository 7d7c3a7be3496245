package client

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/acdm/internal/api"
	"github.com/betbot/acdm/internal/domain"
	"github.com/betbot/acdm/internal/platform"
	"github.com/betbot/acdm/internal/token"
	"github.com/betbot/acdm/internal/wallet"
)

var (
	custody = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	alice   = common.HexToAddress("0x0000000000000000000000000000000000000001")
	bob     = common.HexToAddress("0x0000000000000000000000000000000000000002")
)

func newServer(t *testing.T) (*httptest.Server, *api.Hub) {
	t.Helper()
	ledger := token.NewLedger("ACDM", "ACDM", custody)
	w := wallet.New()
	p, err := platform.New(platform.Config{Custody: custody}, ledger.Operator(), w)
	require.NoError(t, err)
	hub := api.NewHub()
	p.OnReceipt(hub)
	srv := httptest.NewServer(api.New(api.Config{Platform: p, Token: ledger, Wallet: w, Hub: hub, Faucet: true}).Router())
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})
	return srv, hub
}

func TestClientSaleAndOrders(t *testing.T) {
	srv, _ := newServer(t)
	ctx := context.Background()
	c := New(srv.URL+"/", alice)

	require.NoError(t, c.Health(ctx))

	bal, err := c.Faucet(ctx, alice, decimal.NewFromInt(1))
	require.NoError(t, err)
	assert.True(t, bal.Equal(decimal.NewFromInt(1)))

	_, err = c.StartSaleRound(ctx)
	require.NoError(t, err)

	r, err := c.Buy(ctx, decimal.RequireFromString("0.1"))
	require.NoError(t, err)
	assert.Equal(t, platform.OpBuyACDM, r.Op)
	assert.True(t, r.Tokens.Equal(decimal.NewFromInt(10000)))

	round, err := c.Round(ctx)
	require.NoError(t, err)
	assert.Equal(t, domain.RoundKindSale, round.Kind)
	assert.True(t, round.TokensSold.Equal(decimal.NewFromInt(10000)))

	info, err := c.AccountInfo(ctx, alice)
	require.NoError(t, err)
	assert.True(t, info.Tokens.Equal(decimal.NewFromInt(10000)))

	allowance, err := c.Approve(ctx, decimal.NewFromInt(500))
	require.NoError(t, err)
	assert.True(t, allowance.Equal(decimal.NewFromInt(500)))

	// Sale 轮不能挂单
	_, err = c.AddOrder(ctx, decimal.NewFromInt(100), decimal.RequireFromString("0.001"))
	require.Error(t, err)
	assert.Equal(t, "TradeRoundNotActive", CodeOf(err))

	orders, err := c.Orders(ctx, OrdersQuery{All: true})
	require.NoError(t, err)
	assert.Empty(t, orders)

	p, err := c.Platform(ctx)
	require.NoError(t, err)
	assert.Equal(t, custody, p.Custody)
}

func TestClientErrors(t *testing.T) {
	srv, _ := newServer(t)
	ctx := context.Background()

	_, err := New(srv.URL, domain.NoAccount).Buy(ctx, decimal.NewFromInt(1))
	require.Error(t, err)
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 400, apiErr.Status)
	assert.Equal(t, "InvalidAccount", apiErr.Code)

	_, err = New(srv.URL, bob).Order(ctx, 7)
	assert.Equal(t, "OrderNotFound", CodeOf(err))

	_, err = New(srv.URL, bob).Events(ctx, EventsQuery{})
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 503, apiErr.Status)

	_, err = New("http://127.0.0.1:1", bob).Round(ctx)
	require.Error(t, err)
	assert.Empty(t, CodeOf(err))
}

func TestClientStream(t *testing.T) {
	srv, hub := newServer(t)
	c := New(srv.URL, alice)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	got := make(chan api.StreamMessage, 4)
	go func() {
		_ = c.Stream(ctx, []domain.EventType{domain.EventRegister}, func(m api.StreamMessage) { got <- m })
	}()
	require.Eventually(t, func() bool { return hub.Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	_, err := c.Register(ctx, domain.NoAccount)
	require.NoError(t, err)

	select {
	case m := <-got:
		assert.Equal(t, domain.EventRegister, m.Type)
		assert.Equal(t, alice, m.Account)
	case <-ctx.Done():
		t.Fatal("no event received")
	}
}
