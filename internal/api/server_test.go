package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/betbot/acdm/internal/domain"
	"github.com/betbot/acdm/internal/journal"
	"github.com/betbot/acdm/internal/platform"
	"github.com/betbot/acdm/internal/token"
	"github.com/betbot/acdm/internal/wallet"
	"github.com/betbot/acdm/pkg/ratelimit"
)

var (
	custody = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	alice   = common.HexToAddress("0x0000000000000000000000000000000000000001")
	bob     = common.HexToAddress("0x0000000000000000000000000000000000000002")
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type countingSaver struct {
	mu sync.Mutex
	n  int
}

func (s *countingSaver) Save(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return nil
}

type harness struct {
	srv    *httptest.Server
	p      *platform.Platform
	ledger *token.Ledger
	wallet *wallet.Wallet
	clock  *clock
	saver  *countingSaver
}

func newHarness(t *testing.T, mutate func(*Config)) *harness {
	t.Helper()
	clk := &clock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	ledger := token.NewLedger("ACDM", "ACDM", custody)
	w := wallet.New()
	p, err := platform.New(platform.Config{Custody: custody, RoundDuration: 72 * time.Hour, Clock: clk.Now}, ledger.Operator(), w)
	require.NoError(t, err)

	saver := &countingSaver{}
	cfg := Config{Platform: p, Token: ledger, Wallet: w, Saver: saver, Faucet: true}
	if mutate != nil {
		mutate(&cfg)
	}
	if cfg.Hub != nil {
		p.OnReceipt(cfg.Hub)
	}
	if cfg.Journal != nil {
		p.OnReceipt(cfg.Journal)
	}
	srv := httptest.NewServer(New(cfg).Router())
	t.Cleanup(srv.Close)
	return &harness{srv: srv, p: p, ledger: ledger, wallet: w, clock: clk, saver: saver}
}

func (h *harness) do(t *testing.T, method, path string, account *domain.Account, body any) (int, []byte) {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(raw)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, h.srv.URL+path, rd)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if account != nil {
		req.Header.Set(AccountHeader, account.Hex())
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	buf := new(bytes.Buffer)
	_, _ = buf.ReadFrom(resp.Body)
	return resp.StatusCode, buf.Bytes()
}

func decodeError(t *testing.T, raw []byte) errorBody {
	t.Helper()
	var e errorBody
	require.NoError(t, json.Unmarshal(raw, &e), string(raw))
	return e
}

func decodeReceipt(t *testing.T, raw []byte) platform.Receipt {
	t.Helper()
	var r platform.Receipt
	require.NoError(t, json.Unmarshal(raw, &r), string(raw))
	return r
}

func (h *harness) fund(t *testing.T, a domain.Account, value string) {
	t.Helper()
	code, raw := h.do(t, http.MethodPost, "/api/dev/faucet", nil, map[string]string{"account": a.Hex(), "value": value})
	require.Equal(t, http.StatusOK, code, string(raw))
}

func (h *harness) startSale(t *testing.T) {
	t.Helper()
	code, raw := h.do(t, http.MethodPost, "/api/rounds/sale", nil, nil)
	require.Equal(t, http.StatusCreated, code, string(raw))
}

func TestHealthz(t *testing.T) {
	h := newHarness(t, nil)
	code, _ := h.do(t, http.MethodGet, "/healthz", nil, nil)
	assert.Equal(t, http.StatusOK, code)

	code, raw := h.do(t, http.MethodGet, "/debug/vars", nil, nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Contains(t, string(raw), "rounds_started")
}

func TestSaleFlow(t *testing.T) {
	h := newHarness(t, nil)
	h.fund(t, alice, "1")
	assert.Equal(t, 1, h.saver.n)
	h.startSale(t)

	code, raw := h.do(t, http.MethodGet, "/api/round", nil, nil)
	require.Equal(t, http.StatusOK, code)
	var info platform.RoundInfo
	require.NoError(t, json.Unmarshal(raw, &info))
	assert.Equal(t, domain.RoundKindSale, info.Kind)
	assert.True(t, info.Price.Equal(decimal.RequireFromString("0.00001")))

	code, raw = h.do(t, http.MethodPost, "/api/buy", &alice, map[string]string{"value": "0.1"})
	require.Equal(t, http.StatusCreated, code, string(raw))
	r := decodeReceipt(t, raw)
	assert.Equal(t, platform.OpBuyACDM, r.Op)
	assert.True(t, r.Tokens.Equal(decimal.NewFromInt(10000)), r.Tokens.String())

	code, raw = h.do(t, http.MethodGet, "/api/accounts/"+alice.Hex(), nil, nil)
	require.Equal(t, http.StatusOK, code)
	var acc AccountView
	require.NoError(t, json.Unmarshal(raw, &acc))
	assert.True(t, acc.Tokens.Equal(decimal.NewFromInt(10000)))
	assert.True(t, acc.Value.Equal(decimal.RequireFromString("0.9")))
	assert.False(t, acc.Registered)
	assert.Empty(t, acc.Orders)

	code, raw = h.do(t, http.MethodGet, "/api/platform", nil, nil)
	require.Equal(t, http.StatusOK, code)
	var pv PlatformView
	require.NoError(t, json.Unmarshal(raw, &pv))
	assert.Equal(t, custody, pv.Custody)
	assert.True(t, pv.CustodyValue.Equal(decimal.RequireFromString("0.1")))
	assert.Equal(t, "72h0m0s", pv.RoundDuration)
}

func TestErrorMapping(t *testing.T) {
	h := newHarness(t, nil)

	// 缺少身份
	code, raw := h.do(t, http.MethodPost, "/api/buy", nil, map[string]string{"value": "0.1"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "InvalidAccount", decodeError(t, raw).Code)

	// 没有进行中的销售轮次
	code, raw = h.do(t, http.MethodPost, "/api/buy", &alice, map[string]string{"value": "0.1"})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "SaleRoundNotActive", decodeError(t, raw).Code)

	h.startSale(t)
	code, raw = h.do(t, http.MethodPost, "/api/rounds/sale", nil, nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "RoundAlreadyActive", decodeError(t, raw).Code)

	code, raw = h.do(t, http.MethodPost, "/api/rounds/trade", nil, nil)
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "RoundNotExpired", decodeError(t, raw).Code)

	// 余额不足
	code, raw = h.do(t, http.MethodPost, "/api/buy", &alice, map[string]string{"value": "0.1"})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "InsufficientFunds", decodeError(t, raw).Code)

	code, raw = h.do(t, http.MethodGet, "/api/orders/99", nil, nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Equal(t, "OrderNotFound", decodeError(t, raw).Code)

	code, _ = h.do(t, http.MethodGet, "/api/orders/abc", nil, nil)
	assert.Equal(t, http.StatusBadRequest, code)

	code, raw = h.do(t, http.MethodGet, "/api/accounts/not-an-address", nil, nil)
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "InvalidAccount", decodeError(t, raw).Code)

	req, err := http.NewRequest(http.MethodPost, h.srv.URL+"/api/buy", strings.NewReader("{"))
	require.NoError(t, err)
	req.Header.Set(AccountHeader, alice.Hex())
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRegisterEndpoint(t *testing.T) {
	h := newHarness(t, nil)

	code, raw := h.do(t, http.MethodPost, "/api/register", &bob, nil)
	require.Equal(t, http.StatusCreated, code, string(raw))

	code, raw = h.do(t, http.MethodPost, "/api/register", &alice, map[string]string{"referrer": bob.Hex()})
	require.Equal(t, http.StatusCreated, code, string(raw))

	code, raw = h.do(t, http.MethodPost, "/api/register", &alice, map[string]string{"referrer": bob.Hex()})
	assert.Equal(t, http.StatusConflict, code)
	assert.Equal(t, "AlreadyRegistered", decodeError(t, raw).Code)

	code, raw = h.do(t, http.MethodGet, "/api/accounts/"+alice.Hex(), nil, nil)
	require.Equal(t, http.StatusOK, code)
	var acc AccountView
	require.NoError(t, json.Unmarshal(raw, &acc))
	assert.True(t, acc.Registered)
	assert.Equal(t, bob, acc.Referrer1)
	assert.Equal(t, domain.NoAccount, acc.Referrer2)
}

func TestTradeFlow(t *testing.T) {
	h := newHarness(t, nil)
	h.fund(t, alice, "1")
	h.fund(t, bob, "1")
	h.startSale(t)
	code, raw := h.do(t, http.MethodPost, "/api/buy", &alice, map[string]string{"value": "0.1"})
	require.Equal(t, http.StatusCreated, code, string(raw))

	h.clock.Advance(73 * time.Hour)
	code, raw = h.do(t, http.MethodPost, "/api/rounds/trade", nil, nil)
	require.Equal(t, http.StatusCreated, code, string(raw))

	// 未授权时挂单失败
	code, raw = h.do(t, http.MethodPost, "/api/orders", &alice, map[string]string{"amount": "1000", "price": "0.00002"})
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "InsufficientAllowance", decodeError(t, raw).Code)

	code, raw = h.do(t, http.MethodPost, "/api/token/approve", &alice, map[string]string{"amount": "1000"})
	require.Equal(t, http.StatusOK, code, string(raw))

	code, raw = h.do(t, http.MethodPost, "/api/orders", &alice, map[string]string{"amount": "1000", "price": "0.00002"})
	require.Equal(t, http.StatusCreated, code, string(raw))
	r := decodeReceipt(t, raw)
	require.NotZero(t, r.OrderID)
	id := r.OrderID

	code, raw = h.do(t, http.MethodGet, "/api/orders", nil, nil)
	require.Equal(t, http.StatusOK, code)
	var open []domain.Order
	require.NoError(t, json.Unmarshal(raw, &open))
	require.Len(t, open, 1)
	assert.Equal(t, alice, open[0].Seller)

	path := "/api/orders/" + strconv.FormatUint(id, 10)
	code, raw = h.do(t, http.MethodDelete, path, &bob, nil)
	assert.Equal(t, http.StatusForbidden, code)
	assert.Equal(t, "NotOrderOwner", decodeError(t, raw).Code)

	code, raw = h.do(t, http.MethodPost, path+"/redeem", &bob, map[string]string{"value": "0.01"})
	require.Equal(t, http.StatusCreated, code, string(raw))
	r = decodeReceipt(t, raw)
	assert.True(t, r.Tokens.Equal(decimal.NewFromInt(500)), r.Tokens.String())
	assert.True(t, h.ledger.BalanceOf(bob).Equal(decimal.NewFromInt(500)))

	code, raw = h.do(t, http.MethodDelete, path, &alice, nil)
	require.Equal(t, http.StatusCreated, code, string(raw))
	r = decodeReceipt(t, raw)
	assert.True(t, r.Tokens.Equal(decimal.NewFromInt(500)), r.Tokens.String())

	code, raw = h.do(t, http.MethodGet, "/api/orders", nil, nil)
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(raw, &open))
	assert.Empty(t, open)

	code, raw = h.do(t, http.MethodGet, "/api/orders?status=all", nil, nil)
	require.Equal(t, http.StatusOK, code)
	var all []domain.Order
	require.NoError(t, json.Unmarshal(raw, &all))
	assert.Len(t, all, 1)

	code, raw = h.do(t, http.MethodGet, "/api/orders?seller="+alice.Hex()+"&status=all", nil, nil)
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(raw, &all))
	assert.Len(t, all, 1)
}

func TestRateLimit(t *testing.T) {
	h := newHarness(t, func(c *Config) {
		c.Limiter = ratelimit.NewKeyed(func() ratelimit.RateLimiter { return ratelimit.NewTokenBucket(1, 0.001) })
	})
	code, _ := h.do(t, http.MethodPost, "/api/register", &alice, nil)
	assert.Equal(t, http.StatusCreated, code)

	code, raw := h.do(t, http.MethodPost, "/api/register", &alice, nil)
	assert.Equal(t, http.StatusTooManyRequests, code)
	assert.Equal(t, "RateLimited", decodeError(t, raw).Code)

	// 其他账户不受影响，读接口不限流
	code, _ = h.do(t, http.MethodPost, "/api/register", &bob, nil)
	assert.Equal(t, http.StatusCreated, code)
	code, _ = h.do(t, http.MethodGet, "/api/round", nil, nil)
	assert.Equal(t, http.StatusOK, code)
}

func TestFaucetDisabled(t *testing.T) {
	h := newHarness(t, func(c *Config) { c.Faucet = false })
	code, _ := h.do(t, http.MethodPost, "/api/dev/faucet", nil, map[string]string{"account": alice.Hex(), "value": "1"})
	assert.Equal(t, http.StatusNotFound, code)
}

func TestJournalEndpoints(t *testing.T) {
	code, _ := newHarness(t, nil).do(t, http.MethodGet, "/api/events", nil, nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)

	j, err := journal.Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = j.Close() })

	h := newHarness(t, func(c *Config) { c.Journal = j })
	h.fund(t, alice, "1")
	h.startSale(t)
	code, raw := h.do(t, http.MethodPost, "/api/buy", &alice, map[string]string{"value": "0.1"})
	require.Equal(t, http.StatusCreated, code, string(raw))

	code, raw = h.do(t, http.MethodGet, "/api/events", nil, nil)
	require.Equal(t, http.StatusOK, code, string(raw))
	var events []journal.EventRecord
	require.NoError(t, json.Unmarshal(raw, &events))
	require.Len(t, events, 2)
	assert.Equal(t, domain.EventSaleRoundStarted, events[0].Type)
	assert.Equal(t, domain.EventBuyACDM, events[1].Type)

	code, raw = h.do(t, http.MethodGet, "/api/events?type=BuyACDM&account="+alice.Hex(), nil, nil)
	require.Equal(t, http.StatusOK, code)
	require.NoError(t, json.Unmarshal(raw, &events))
	assert.Len(t, events, 1)

	code, raw = h.do(t, http.MethodGet, "/api/payouts?undelivered=true", nil, nil)
	require.Equal(t, http.StatusOK, code)
	var payouts []domain.Payout
	require.NoError(t, json.Unmarshal(raw, &payouts))
	assert.Empty(t, payouts)

	code, _ = h.do(t, http.MethodGet, "/api/events?after=x", nil, nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestEventStream(t *testing.T) {
	hub := NewHub()
	h := newHarness(t, func(c *Config) { c.Hub = hub })
	t.Cleanup(hub.Close)

	url := "ws" + strings.TrimPrefix(h.srv.URL, "http") + "/api/events/stream?type=Register"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool { return hub.Len() == 1 }, time.Second, 10*time.Millisecond)

	h.startSale(t)
	code, raw := h.do(t, http.MethodPost, "/api/register", &alice, nil)
	require.Equal(t, http.StatusCreated, code, string(raw))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var msg StreamMessage
	require.NoError(t, conn.ReadJSON(&msg))
	assert.Equal(t, platform.OpRegister, msg.Op)
	assert.Equal(t, domain.EventRegister, msg.Type)
}
