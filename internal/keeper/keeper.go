package keeper

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/betbot/acdm/internal/domain"
	"github.com/betbot/acdm/internal/platform"
)

// maxStepsPerTick 一次 tick 最多推进的轮次数（零供应的 Sale 轮会立即售罄，可以连续推进）
const maxStepsPerTick = 3

// Advancer 轮次推进
type Advancer interface {
	TryAdvance(ctx context.Context) (*platform.Receipt, error)
}

// Keeper 定时检查当前轮次，到期（或售罄）后开启下一轮
type Keeper struct {
	cron     *cron.Cron
	advancer Advancer
	schedule string
	log      *logrus.Entry

	mu     sync.Mutex // 防止 tick 重入
	ctx    context.Context
	cancel context.CancelFunc
}

// New schedule 为 cron 表达式，支持 "@every 30s" 这类描述符
func New(advancer Advancer, schedule string) (*Keeper, error) {
	if _, err := cron.ParseStandard(schedule); err != nil {
		return nil, fmt.Errorf("keeper schedule %q: %w", schedule, err)
	}
	log := logrus.WithField("module", "keeper")
	return &Keeper{
		cron:     cron.New(cron.WithChain(cron.Recover(cron.PrintfLogger(log)))),
		advancer: advancer,
		schedule: schedule,
		log:      log,
	}, nil
}

// Start 注册任务并启动调度
func (k *Keeper) Start(ctx context.Context) error {
	k.ctx, k.cancel = context.WithCancel(ctx)
	if _, err := k.cron.AddFunc(k.schedule, func() { k.Tick(k.ctx) }); err != nil {
		return fmt.Errorf("register keeper tick: %w", err)
	}
	k.cron.Start()
	k.log.Infof("keeper started: schedule=%s", k.schedule)
	return nil
}

// Stop 停止调度并等待正在执行的 tick 结束
func (k *Keeper) Stop(ctx context.Context) error {
	if k.cancel != nil {
		k.cancel()
	}
	select {
	case <-k.cron.Stop().Done():
		k.log.Info("keeper stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Tick 尝试推进轮次，返回成功推进的次数。
// 轮次未到期属于正常情况，不记为错误。
func (k *Keeper) Tick(ctx context.Context) int {
	k.mu.Lock()
	defer k.mu.Unlock()

	steps := 0
	for steps < maxStepsPerTick {
		if ctx.Err() != nil {
			return steps
		}
		r, err := k.advancer.TryAdvance(ctx)
		if err != nil {
			if !errors.Is(err, domain.ErrRoundNotExpired) {
				k.log.Errorf("advance round: %v", err)
			}
			return steps
		}
		steps++
		k.log.WithField("round", r.Round).Infof("advanced: %s", r.Op)
	}
	return steps
}
