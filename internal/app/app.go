package app

import (
	"context"
	"net/http"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/betbot/acdm/internal/api"
	"github.com/betbot/acdm/internal/domain"
	"github.com/betbot/acdm/internal/journal"
	"github.com/betbot/acdm/internal/keeper"
	"github.com/betbot/acdm/internal/metrics"
	"github.com/betbot/acdm/internal/platform"
	"github.com/betbot/acdm/internal/token"
	"github.com/betbot/acdm/internal/wallet"
	"github.com/betbot/acdm/pkg/config"
	"github.com/betbot/acdm/pkg/logger"
	"github.com/betbot/acdm/pkg/persistence"
	"github.com/betbot/acdm/pkg/ratelimit"
	"github.com/betbot/acdm/pkg/shutdown"
)

const (
	saveInterval    = time.Second
	shutdownTimeout = 10 * time.Second
)

// App acdmd 的全部依赖
type App struct {
	Config   *config.Config
	Ledger   *token.Ledger
	Wallet   *wallet.Wallet
	Platform *platform.Platform
	Saver    *Saver
	Journal  *journal.Journal // storage.journal_path 为空时为 nil
	Hub      *api.Hub
	Keeper   *keeper.Keeper // keeper.enabled=false 时为 nil
	API      *api.Server

	store    persistence.Service
	closeDB  func() error
	shutdown *shutdown.Manager
	log      *logrus.Entry
}

// New 按配置组装各组件并恢复快照
func New(cfg *config.Config) (*App, error) {
	a := &App{
		Config:   cfg,
		shutdown: shutdown.NewManager(),
		log:      logrus.WithField("module", "app"),
	}
	ok := false
	defer func() {
		if !ok {
			a.closeStores()
		}
	}()

	custody, err := domain.ParseAccount(cfg.Platform.Account)
	if err != nil {
		return nil, errors.Wrap(err, "platform.account")
	}
	treasury := domain.NoAccount
	if cfg.Platform.Treasury != "" {
		if treasury, err = domain.ParseAccount(cfg.Platform.Treasury); err != nil {
			return nil, errors.Wrap(err, "platform.treasury")
		}
	}

	a.Ledger = token.NewLedger(cfg.Platform.TokenName, cfg.Platform.TokenSymbol, custody)
	a.Wallet = wallet.New()
	a.Platform, err = platform.New(platform.Config{
		Custody:       custody,
		Treasury:      treasury,
		RoundDuration: cfg.Platform.RoundDuration,
	}, a.Ledger.Operator(), a.Wallet)
	if err != nil {
		return nil, err
	}

	if err := a.openStore(); err != nil {
		return nil, err
	}
	a.Saver = NewSaver(a.store, a.Platform, a.Ledger, a.Wallet, saveInterval)
	restored, err := a.Saver.Load()
	if err != nil {
		return nil, err
	}
	if restored {
		round := a.Platform.Round()
		a.log.Infof("restored snapshot: round #%d (%s), supply=%s", round.Number, round.Kind, a.Ledger.TotalSupply())
		if err := logger.SetRound(round.Number); err != nil {
			a.log.Warnf("switch log file: %v", err)
		}
	}

	if cfg.Storage.JournalPath != "" {
		if a.Journal, err = journal.Open(cfg.Storage.JournalPath); err != nil {
			return nil, err
		}
	}

	a.Hub = api.NewHub()
	if a.Journal != nil {
		a.Platform.OnReceipt(a.Journal)
	}
	a.Platform.OnReceipt(a.Saver)
	a.Platform.OnReceipt(a.Hub)
	a.Platform.OnReceipt(platform.ReceiptHandlerFunc(roundLogSwitch))

	if cfg.Keeper.Enabled {
		if a.Keeper, err = keeper.New(a.Platform, cfg.Keeper.Schedule); err != nil {
			return nil, err
		}
	}

	apiCfg := api.Config{
		Platform:    a.Platform,
		Token:       a.Ledger,
		Wallet:      a.Wallet,
		Journal:     a.Journal,
		Hub:         a.Hub,
		Saver:       a.Saver,
		Faucet:      cfg.Dev.Faucet,
		EnablePprof: cfg.Server.EnablePprof,
	}
	if cfg.Server.RateLimit > 0 {
		rate, burst := cfg.Server.RateLimit, cfg.Server.RateBurst
		apiCfg.Limiter = ratelimit.NewKeyed(func() ratelimit.RateLimiter {
			return ratelimit.NewTokenBucket(burst, rate)
		})
	}
	if cfg.Dev.Faucet {
		apiCfg.FaucetLimit = ratelimit.NewKeyed(func() ratelimit.RateLimiter {
			return ratelimit.NewSlidingWindow(5, time.Minute)
		})
	}
	a.API = api.New(apiCfg)

	ok = true
	return a, nil
}

func (a *App) openStore() error {
	cfg := a.Config.Storage
	switch cfg.Backend {
	case "badger":
		key, err := persistence.ParseKey(cfg.EncryptionKey)
		if err != nil {
			return errors.Wrap(err, "storage.encryption_key")
		}
		svc, err := persistence.OpenBadger(persistence.BadgerOptions{
			Path:          filepath.Join(cfg.Dir, "badger"),
			EncryptionKey: key,
		})
		if err != nil {
			return err
		}
		a.store, a.closeDB = svc, svc.Close
	default:
		a.store = persistence.NewJSONFileService(cfg.Dir)
	}
	a.log.Infof("snapshot backend: %s (%s)", cfg.Backend, cfg.Dir)
	return nil
}

func (a *App) closeStores() {
	if a.Journal != nil {
		_ = a.Journal.Close()
	}
	if a.closeDB != nil {
		_ = a.closeDB()
	}
}

// roundLogSwitch 新一轮开始时切换日志文件
func roundLogSwitch(_ context.Context, r *platform.Receipt) error {
	if r.Op != platform.OpStartSaleRound {
		return nil
	}
	return logger.SetRound(r.Round)
}

// Run 启动后台任务与 HTTP 服务，阻塞到 ctx 结束后按顺序关闭
func (a *App) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	go a.Saver.Run(runCtx)

	if a.Keeper != nil {
		// 启动时先推进一次：首次运行开启第一个 Sale 轮，重启后补上停机期间到期的轮次
		a.Keeper.Tick(runCtx)
		if err := a.Keeper.Start(runCtx); err != nil {
			return err
		}
	}

	if addr := a.Config.Server.DebugListen; addr != "" {
		if _, err := metrics.StartAsync(runCtx, addr); err != nil {
			a.log.Warnf("debug server: %v", err)
		}
	}

	srv := a.API.HTTPServer(a.Config.Server.Listen)
	errCh := make(chan error, 1)
	go func() {
		a.log.Infof("acdmd listening on %s", a.Config.Server.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	a.shutdown.OnShutdown("http", srv.Shutdown)
	if a.Keeper != nil {
		a.shutdown.OnShutdown("keeper", a.Keeper.Stop)
	}
	a.shutdown.OnShutdown("hub", func(context.Context) error {
		a.Hub.Close()
		return nil
	})
	a.shutdown.OnShutdown("snapshot", a.Saver.Save)
	if a.Journal != nil {
		a.shutdown.OnShutdown("journal", func(context.Context) error { return a.Journal.Close() })
	}
	if a.closeDB != nil {
		a.shutdown.OnShutdown("badger", func(context.Context) error { return a.closeDB() })
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-errCh:
		a.log.Errorf("http server error: %v", runErr)
	}
	cancel()

	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	if failed := a.shutdown.Shutdown(shutdownCtx); failed > 0 && runErr == nil {
		runErr = errors.Errorf("%d shutdown handlers failed", failed)
	}
	return runErr
}
