// Package client acdmd HTTP API 客户端
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"github.com/betbot/acdm/internal/api"
	"github.com/betbot/acdm/internal/domain"
	"github.com/betbot/acdm/internal/journal"
	"github.com/betbot/acdm/internal/platform"
)

// APIError 非 2xx 响应
type APIError struct {
	Status  int
	Code    string
	Kind    string
	Message string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("acdmd %d %s: %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("acdmd %d: %s", e.Status, e.Message)
}

// CodeOf 返回 APIError 的错误码
func CodeOf(err error) string {
	var e *APIError
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// Client acdmd 客户端。Account 为空时只能调用只读接口。
type Client struct {
	client  *resty.Client
	account domain.Account
}

// New host 形如 http://127.0.0.1:8080
func New(host string, account domain.Account) *Client {
	host = strings.TrimSuffix(host, "/")
	c := resty.New().
		SetBaseURL(host).
		SetTimeout(15 * time.Second).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "acdm-client")
	return &Client{client: c, account: account}
}

// WithAccount 以另一个账户身份调用
func (c *Client) WithAccount(account domain.Account) *Client {
	return &Client{client: c.client, account: account}
}

// Account 当前调用方
func (c *Client) Account() domain.Account {
	return c.account
}

// BaseURL 服务地址
func (c *Client) BaseURL() string {
	return c.client.BaseURL
}

func (c *Client) newRequest(ctx context.Context) *resty.Request {
	r := c.client.R().SetContext(ctx)
	if !domain.IsNoAccount(c.account) {
		r.SetHeader(api.AccountHeader, c.account.Hex())
	}
	return r
}

func (c *Client) do(ctx context.Context, method, endpoint string, body, out any, params map[string]string) error {
	r := c.newRequest(ctx)
	if body != nil {
		r.SetHeader("Content-Type", "application/json").SetBody(body)
	}
	if len(params) > 0 {
		r.SetQueryParams(params)
	}
	if out != nil {
		r.SetResult(out)
	}
	resp, err := r.Execute(method, endpoint)
	if err != nil {
		return errors.Wrapf(err, "%s %s", method, endpoint)
	}
	return parseError(resp)
}

func parseError(resp *resty.Response) error {
	if resp.IsSuccess() {
		return nil
	}
	e := &APIError{Status: resp.StatusCode()}
	var body struct {
		Error string `json:"error"`
		Code  string `json:"code"`
		Kind  string `json:"kind"`
	}
	if err := json.Unmarshal(resp.Body(), &body); err == nil && body.Error != "" {
		e.Message, e.Code, e.Kind = body.Error, body.Code, body.Kind
	} else {
		e.Message = strings.TrimSpace(string(resp.Body()))
		if e.Message == "" {
			e.Message = resp.Status()
		}
	}
	return e
}

// Health GET /healthz
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil, nil)
}

// Platform 平台概况
func (c *Client) Platform(ctx context.Context) (*api.PlatformView, error) {
	var out api.PlatformView
	if err := c.do(ctx, http.MethodGet, "/api/platform", nil, &out, nil); err != nil {
		return nil, err
	}
	return &out, nil
}

// Round 当前轮次
func (c *Client) Round(ctx context.Context) (*platform.RoundInfo, error) {
	var out platform.RoundInfo
	if err := c.do(ctx, http.MethodGet, "/api/round", nil, &out, nil); err != nil {
		return nil, err
	}
	return &out, nil
}

// OrdersQuery 订单列表条件
type OrdersQuery struct {
	Seller domain.Account // 为空表示全部卖家
	All    bool           // 包含已关闭订单
}

// Orders 订单列表
func (c *Client) Orders(ctx context.Context, q OrdersQuery) ([]domain.Order, error) {
	params := map[string]string{"status": "open"}
	if q.All {
		params["status"] = "all"
	}
	if !domain.IsNoAccount(q.Seller) {
		params["seller"] = q.Seller.Hex()
	}
	var out []domain.Order
	if err := c.do(ctx, http.MethodGet, "/api/orders", nil, &out, params); err != nil {
		return nil, err
	}
	return out, nil
}

// Order 单个订单
func (c *Client) Order(ctx context.Context, id uint64) (*domain.Order, error) {
	var out domain.Order
	if err := c.do(ctx, http.MethodGet, orderPath(id), nil, &out, nil); err != nil {
		return nil, err
	}
	return &out, nil
}

// AccountInfo 账户余额、授权额度、推荐关系与挂单
func (c *Client) AccountInfo(ctx context.Context, account domain.Account) (*api.AccountView, error) {
	var out api.AccountView
	if err := c.do(ctx, http.MethodGet, "/api/accounts/"+account.Hex(), nil, &out, nil); err != nil {
		return nil, err
	}
	return &out, nil
}

// EventsQuery 事件查询条件
type EventsQuery struct {
	Type     domain.EventType
	Account  domain.Account
	OrderID  uint64
	AfterSeq int64
	Limit    int
}

// Events 事件日志
func (c *Client) Events(ctx context.Context, q EventsQuery) ([]journal.EventRecord, error) {
	params := map[string]string{}
	if q.Type != "" {
		params["type"] = string(q.Type)
	}
	if !domain.IsNoAccount(q.Account) {
		params["account"] = q.Account.Hex()
	}
	if q.OrderID > 0 {
		params["order"] = strconv.FormatUint(q.OrderID, 10)
	}
	if q.AfterSeq > 0 {
		params["after"] = strconv.FormatInt(q.AfterSeq, 10)
	}
	if q.Limit > 0 {
		params["limit"] = strconv.Itoa(q.Limit)
	}
	var out []journal.EventRecord
	if err := c.do(ctx, http.MethodGet, "/api/events", nil, &out, params); err != nil {
		return nil, err
	}
	return out, nil
}

// Payouts 分账记录；undelivered=true 只返回未送达的
func (c *Client) Payouts(ctx context.Context, undelivered bool, limit int) ([]domain.Payout, error) {
	params := map[string]string{"undelivered": strconv.FormatBool(undelivered)}
	if limit > 0 {
		params["limit"] = strconv.Itoa(limit)
	}
	var out []domain.Payout
	if err := c.do(ctx, http.MethodGet, "/api/payouts", nil, &out, params); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) receipt(ctx context.Context, method, endpoint string, body any) (*platform.Receipt, error) {
	var out platform.Receipt
	if err := c.do(ctx, method, endpoint, body, &out, nil); err != nil {
		return nil, err
	}
	return &out, nil
}

// Register 注册，referrer 可为空
func (c *Client) Register(ctx context.Context, referrer domain.Account) (*platform.Receipt, error) {
	body := map[string]string{}
	if !domain.IsNoAccount(referrer) {
		body["referrer"] = referrer.Hex()
	}
	return c.receipt(ctx, http.MethodPost, "/api/register", body)
}

// StartSaleRound 开启 Sale 轮
func (c *Client) StartSaleRound(ctx context.Context) (*platform.Receipt, error) {
	return c.receipt(ctx, http.MethodPost, "/api/rounds/sale", nil)
}

// StartTradeRound 开启 Trade 轮
func (c *Client) StartTradeRound(ctx context.Context) (*platform.Receipt, error) {
	return c.receipt(ctx, http.MethodPost, "/api/rounds/trade", nil)
}

// Buy Sale 轮按固定价格购买
func (c *Client) Buy(ctx context.Context, value decimal.Decimal) (*platform.Receipt, error) {
	return c.receipt(ctx, http.MethodPost, "/api/buy", map[string]decimal.Decimal{"value": value})
}

// AddOrder 挂单（需要先 Approve）
func (c *Client) AddOrder(ctx context.Context, amount, price decimal.Decimal) (*platform.Receipt, error) {
	return c.receipt(ctx, http.MethodPost, "/api/orders", map[string]decimal.Decimal{"amount": amount, "price": price})
}

// RedeemOrder 吃单
func (c *Client) RedeemOrder(ctx context.Context, id uint64, value decimal.Decimal) (*platform.Receipt, error) {
	return c.receipt(ctx, http.MethodPost, orderPath(id)+"/redeem", map[string]decimal.Decimal{"value": value})
}

// RemoveOrder 撤单
func (c *Client) RemoveOrder(ctx context.Context, id uint64) (*platform.Receipt, error) {
	return c.receipt(ctx, http.MethodDelete, orderPath(id), nil)
}

// Approve 授权平台托管账户划转 amount 代币，返回当前额度
func (c *Client) Approve(ctx context.Context, amount decimal.Decimal) (decimal.Decimal, error) {
	var out struct {
		Allowance decimal.Decimal `json:"allowance"`
	}
	if err := c.do(ctx, http.MethodPost, "/api/token/approve", map[string]decimal.Decimal{"amount": amount}, &out, nil); err != nil {
		return decimal.Zero, err
	}
	return out.Allowance, nil
}

// Faucet 开发环境充值，返回充值后余额
func (c *Client) Faucet(ctx context.Context, account domain.Account, value decimal.Decimal) (decimal.Decimal, error) {
	var out struct {
		Value decimal.Decimal `json:"value"`
	}
	body := map[string]any{"account": account.Hex(), "value": value}
	if err := c.do(ctx, http.MethodPost, "/api/dev/faucet", body, &out, nil); err != nil {
		return decimal.Zero, err
	}
	return out.Value, nil
}

func orderPath(id uint64) string {
	return "/api/orders/" + strconv.FormatUint(id, 10)
}
