package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"github.com/betbot/acdm/internal/domain"
	"github.com/betbot/acdm/internal/journal"
	"github.com/betbot/acdm/internal/platform"
)

type registerRequest struct {
	Referrer string `json:"referrer"`
}

type valueRequest struct {
	Value decimal.Decimal `json:"value"`
}

type orderRequest struct {
	Amount decimal.Decimal `json:"amount"`
	Price  decimal.Decimal `json:"price"`
}

type approveRequest struct {
	Amount decimal.Decimal `json:"amount"`
}

type faucetRequest struct {
	Account string          `json:"account"`
	Value   decimal.Decimal `json:"value"`
}

// PlatformView GET /api/platform
type PlatformView struct {
	Custody       domain.Account  `json:"custody"`
	TokenName     string          `json:"token_name"`
	TokenSymbol   string          `json:"token_symbol"`
	TotalSupply   decimal.Decimal `json:"total_supply"`
	CustodyTokens decimal.Decimal `json:"custody_tokens"`
	CustodyValue  decimal.Decimal `json:"custody_value"`
	Stranded      decimal.Decimal `json:"stranded"`
	RoundDuration string          `json:"round_duration"`
}

// AccountView GET /api/accounts/:account
type AccountView struct {
	Account    domain.Account  `json:"account"`
	Tokens     decimal.Decimal `json:"tokens"`
	Value      decimal.Decimal `json:"value"`
	Allowance  decimal.Decimal `json:"allowance"`
	Registered bool            `json:"registered"`
	Referrer1  domain.Account  `json:"referrer1"`
	Referrer2  domain.Account  `json:"referrer2"`
	Orders     []domain.Order  `json:"orders"`
}

// respond 成功的变更统一返回 201 + 回执
func respond(c *gin.Context, r *platform.Receipt, err error) {
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, r)
}

func bindJSON(c *gin.Context, v any) bool {
	if err := c.ShouldBindJSON(v); err != nil {
		badRequest(c, "invalid request body: "+err.Error())
		return false
	}
	return true
}

func orderID(c *gin.Context) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		badRequest(c, "invalid order id")
		return 0, false
	}
	return id, true
}

func (s *Server) handlePlatform(c *gin.Context) {
	custody := s.cfg.Platform.Custody()
	c.JSON(http.StatusOK, PlatformView{
		Custody:       custody,
		TokenName:     s.cfg.Token.Name(),
		TokenSymbol:   s.cfg.Token.Symbol(),
		TotalSupply:   s.cfg.Token.TotalSupply(),
		CustodyTokens: s.cfg.Token.BalanceOf(custody),
		CustodyValue:  s.cfg.Wallet.BalanceOf(custody),
		Stranded:      s.cfg.Platform.Stranded(),
		RoundDuration: s.cfg.Platform.RoundDuration().String(),
	})
}

func (s *Server) handleRound(c *gin.Context) {
	c.JSON(http.StatusOK, s.cfg.Platform.Round())
}

func (s *Server) handleRegister(c *gin.Context) {
	account, err := caller(c)
	if err != nil {
		writeError(c, err)
		return
	}
	var req registerRequest
	if c.Request.ContentLength != 0 && !bindJSON(c, &req) {
		return
	}
	referrer := domain.NoAccount
	if strings.TrimSpace(req.Referrer) != "" {
		if referrer, err = domain.ParseAccount(req.Referrer); err != nil {
			writeError(c, err)
			return
		}
	}
	r, err := s.cfg.Platform.Register(c.Request.Context(), account, referrer)
	respond(c, r, err)
}

func (s *Server) handleStartSale(c *gin.Context) {
	r, err := s.cfg.Platform.StartSaleRound(c.Request.Context())
	respond(c, r, err)
}

func (s *Server) handleStartTrade(c *gin.Context) {
	r, err := s.cfg.Platform.StartTradeRound(c.Request.Context())
	respond(c, r, err)
}

func (s *Server) handleBuy(c *gin.Context) {
	account, err := caller(c)
	if err != nil {
		writeError(c, err)
		return
	}
	var req valueRequest
	if !bindJSON(c, &req) {
		return
	}
	r, err := s.cfg.Platform.BuyACDM(c.Request.Context(), account, req.Value)
	respond(c, r, err)
}

func (s *Server) handleOrderAdd(c *gin.Context) {
	account, err := caller(c)
	if err != nil {
		writeError(c, err)
		return
	}
	var req orderRequest
	if !bindJSON(c, &req) {
		return
	}
	r, err := s.cfg.Platform.AddOrder(c.Request.Context(), account, req.Amount, req.Price)
	respond(c, r, err)
}

func (s *Server) handleOrderRedeem(c *gin.Context) {
	account, err := caller(c)
	if err != nil {
		writeError(c, err)
		return
	}
	id, ok := orderID(c)
	if !ok {
		return
	}
	var req valueRequest
	if !bindJSON(c, &req) {
		return
	}
	r, err := s.cfg.Platform.RedeemOrder(c.Request.Context(), account, id, req.Value)
	respond(c, r, err)
}

func (s *Server) handleOrderRemove(c *gin.Context) {
	account, err := caller(c)
	if err != nil {
		writeError(c, err)
		return
	}
	id, ok := orderID(c)
	if !ok {
		return
	}
	r, err := s.cfg.Platform.RemoveOrder(c.Request.Context(), account, id)
	respond(c, r, err)
}

// handleOrdersList ?seller=0x..&status=open|all（默认 open）
func (s *Server) handleOrdersList(c *gin.Context) {
	var orders []domain.Order
	if raw := c.Query("seller"); raw != "" {
		seller, err := domain.ParseAccount(raw)
		if err != nil {
			writeError(c, err)
			return
		}
		orders = s.cfg.Platform.OrdersBySeller(seller)
		if c.DefaultQuery("status", "open") == "open" {
			orders = openOnly(orders)
		}
	} else if c.DefaultQuery("status", "open") == "all" {
		orders = s.cfg.Platform.AllOrders()
	} else {
		orders = s.cfg.Platform.OpenOrders()
	}
	if orders == nil {
		orders = []domain.Order{}
	}
	c.JSON(http.StatusOK, orders)
}

func openOnly(orders []domain.Order) []domain.Order {
	out := orders[:0]
	for _, o := range orders {
		if o.IsOpen() {
			out = append(out, o)
		}
	}
	return out
}

func (s *Server) handleOrderGet(c *gin.Context) {
	id, ok := orderID(c)
	if !ok {
		return
	}
	o, err := s.cfg.Platform.Order(id)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (s *Server) handleAccountGet(c *gin.Context) {
	account, err := domain.ParseAccount(c.Param("account"))
	if err != nil {
		writeError(c, err)
		return
	}
	chain := s.cfg.Platform.Referrals(account)
	orders := s.cfg.Platform.OrdersBySeller(account)
	if orders == nil {
		orders = []domain.Order{}
	}
	c.JSON(http.StatusOK, AccountView{
		Account:    account,
		Tokens:     s.cfg.Token.BalanceOf(account),
		Value:      s.cfg.Wallet.BalanceOf(account),
		Allowance:  s.cfg.Token.Allowance(account, s.cfg.Platform.Custody()),
		Registered: s.cfg.Platform.IsRegistered(account),
		Referrer1:  chain.Level1,
		Referrer2:  chain.Level2,
		Orders:     orders,
	})
}

// handleApprove 授权平台从调用方划转代币（挂单前需要）
func (s *Server) handleApprove(c *gin.Context) {
	account, err := caller(c)
	if err != nil {
		writeError(c, err)
		return
	}
	var req approveRequest
	if !bindJSON(c, &req) {
		return
	}
	custody := s.cfg.Platform.Custody()
	if err := s.cfg.Token.Approve(account, custody, req.Amount); err != nil {
		writeError(c, err)
		return
	}
	s.save(c)
	c.JSON(http.StatusOK, gin.H{
		"owner":     account,
		"spender":   custody,
		"allowance": s.cfg.Token.Allowance(account, custody),
	})
}

// handleFaucet 开发环境充值
func (s *Server) handleFaucet(c *gin.Context) {
	var req faucetRequest
	if !bindJSON(c, &req) {
		return
	}
	account, err := domain.ParseAccount(req.Account)
	if err != nil {
		writeError(c, err)
		return
	}
	if err := s.cfg.Wallet.Deposit(account, req.Value); err != nil {
		writeError(c, err)
		return
	}
	s.save(c)
	c.JSON(http.StatusOK, gin.H{"account": account, "value": s.cfg.Wallet.BalanceOf(account)})
}

// handleEventsList ?type=&account=&order=&after=&limit=
func (s *Server) handleEventsList(c *gin.Context) {
	if s.cfg.Journal == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, errorBody{Error: "journal disabled", Code: "JournalDisabled"})
		return
	}
	f := journal.EventFilter{Type: domain.EventType(c.Query("type"))}
	if raw := c.Query("account"); raw != "" {
		a, err := domain.ParseAccount(raw)
		if err != nil {
			writeError(c, err)
			return
		}
		f.Account = &a
	}
	var err error
	if f.OrderID, err = queryUint(c, "order"); err != nil {
		badRequest(c, "invalid order")
		return
	}
	after, err := queryUint(c, "after")
	if err != nil {
		badRequest(c, "invalid after")
		return
	}
	f.AfterSeq = int64(after)
	limit, err := queryUint(c, "limit")
	if err != nil {
		badRequest(c, "invalid limit")
		return
	}
	f.Limit = int(limit)

	events, err := s.cfg.Journal.ListEvents(c.Request.Context(), f)
	if err != nil {
		writeError(c, err)
		return
	}
	if events == nil {
		events = []journal.EventRecord{}
	}
	c.JSON(http.StatusOK, events)
}

// handlePayoutsList ?tx=&recipient=&undelivered=1&limit=
func (s *Server) handlePayoutsList(c *gin.Context) {
	if s.cfg.Journal == nil {
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, errorBody{Error: "journal disabled", Code: "JournalDisabled"})
		return
	}
	f := journal.PayoutFilter{TxID: c.Query("tx")}
	if raw := c.Query("recipient"); raw != "" {
		a, err := domain.ParseAccount(raw)
		if err != nil {
			writeError(c, err)
			return
		}
		f.Recipient = &a
	}
	if v, err := strconv.ParseBool(c.DefaultQuery("undelivered", "false")); err == nil {
		f.UndeliveredOnly = v
	}
	limit, err := queryUint(c, "limit")
	if err != nil {
		badRequest(c, "invalid limit")
		return
	}
	f.Limit = int(limit)

	payouts, err := s.cfg.Journal.ListPayouts(c.Request.Context(), f)
	if err != nil {
		writeError(c, err)
		return
	}
	if payouts == nil {
		payouts = []domain.Payout{}
	}
	c.JSON(http.StatusOK, payouts)
}

func queryUint(c *gin.Context, key string) (uint64, error) {
	raw := c.Query(key)
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseUint(raw, 10, 64)
}
