package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/betbot/acdm/internal/domain"
	"github.com/betbot/acdm/internal/journal"
	"github.com/betbot/acdm/internal/metrics"
	"github.com/betbot/acdm/internal/platform"
	"github.com/betbot/acdm/internal/token"
	"github.com/betbot/acdm/internal/wallet"
	"github.com/betbot/acdm/pkg/ratelimit"
)

// AccountHeader 调用方身份
const AccountHeader = "X-Account"

// Snapshotter 非回执类变更（授权、充值）之后触发持久化
type Snapshotter interface {
	Save(ctx context.Context) error
}

// Config API 依赖
type Config struct {
	Platform *platform.Platform
	Token    *token.Ledger
	Wallet   *wallet.Wallet
	Journal  *journal.Journal // 可选
	Hub      *Hub             // 可选
	Saver    Snapshotter      // 可选

	Limiter     *ratelimit.Keyed // 可选，按账户限流
	Faucet      bool             // 开启 /api/dev/faucet
	FaucetLimit *ratelimit.Keyed // 可选，faucet 单独限流
	EnablePprof bool
}

// Server HTTP API
type Server struct {
	cfg Config
	log *logrus.Entry
}

// New 创建 API 服务
func New(cfg Config) *Server {
	return &Server{cfg: cfg, log: logrus.WithField("module", "api")}
}

// Router gin 路由
func (s *Server) Router() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), s.requestID(), s.accessLog())

	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })
	debug := gin.WrapH(metrics.Handler(s.cfg.EnablePprof))
	r.GET("/debug/vars", debug)
	if s.cfg.EnablePprof {
		r.GET("/debug/pprof/*any", debug)
	}

	api := r.Group("/api")
	api.GET("/platform", s.handlePlatform)
	api.GET("/round", s.handleRound)
	api.GET("/orders", s.handleOrdersList)
	api.GET("/orders/:id", s.handleOrderGet)
	api.GET("/accounts/:account", s.handleAccountGet)
	api.GET("/events", s.handleEventsList)
	api.GET("/payouts", s.handlePayoutsList)
	if s.cfg.Hub != nil {
		api.GET("/events/stream", s.cfg.Hub.ServeWS)
	}

	write := api.Group("/", s.rateLimit(s.cfg.Limiter))
	write.POST("/register", s.handleRegister)
	write.POST("/rounds/sale", s.handleStartSale)
	write.POST("/rounds/trade", s.handleStartTrade)
	write.POST("/buy", s.handleBuy)
	write.POST("/orders", s.handleOrderAdd)
	write.DELETE("/orders/:id", s.handleOrderRemove)
	write.POST("/orders/:id/redeem", s.handleOrderRedeem)
	write.POST("/token/approve", s.handleApprove)

	if s.cfg.Faucet {
		api.POST("/dev/faucet", s.rateLimit(s.cfg.FaucetLimit), s.handleFaucet)
	}
	return r
}

// HTTPServer 包装为 http.Server
func (s *Server) HTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func (s *Server) requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

func (s *Server) accessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.log.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.FullPath(),
			"status":  c.Writer.Status(),
			"elapsed": time.Since(start).String(),
			"request": c.GetString("request_id"),
		}).Debug("request")
	}
}

// rateLimit 按 X-Account（缺省时按客户端 IP）限流
func (s *Server) rateLimit(l *ratelimit.Keyed) gin.HandlerFunc {
	return func(c *gin.Context) {
		if l == nil {
			c.Next()
			return
		}
		key := strings.ToLower(strings.TrimSpace(c.GetHeader(AccountHeader)))
		if key == "" {
			key = c.ClientIP()
		}
		if !l.Allow(key) {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, errorBody{Error: "rate limit exceeded", Code: "RateLimited"})
			return
		}
		c.Next()
	}
}

// caller 从请求头解析调用方账户
func caller(c *gin.Context) (domain.Account, error) {
	raw := strings.TrimSpace(c.GetHeader(AccountHeader))
	if raw == "" {
		return domain.NoAccount, domain.ErrInvalidAccount
	}
	return domain.ParseAccount(raw)
}

func (s *Server) save(c *gin.Context) {
	if s.cfg.Saver == nil {
		return
	}
	if err := s.cfg.Saver.Save(c.Request.Context()); err != nil {
		s.log.Errorf("save snapshot: %v", err)
	}
}
