package app

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/betbot/acdm/internal/metrics"
	"github.com/betbot/acdm/internal/platform"
	"github.com/betbot/acdm/internal/token"
	"github.com/betbot/acdm/internal/wallet"
	"github.com/betbot/acdm/pkg/persistence"
)

// snapshotID 持久化 key 中的实例标识
const snapshotID = "acdm"

// stateFields 三个账本各占一个 persistence key，SaveFields 一次提交
type stateFields struct {
	Platform *platform.State  `persistence:"platform"`
	Token    *token.Snapshot  `persistence:"token"`
	Wallet   *wallet.Snapshot `persistence:"wallet"`
}

// Saver 平台/代币/钱包快照。
// 作为回执处理器时只标记脏状态（处理器在平台锁内执行），由 Run 在锁外合并落盘。
type Saver struct {
	service  persistence.Service
	platform *platform.Platform
	ledger   *token.Ledger
	wallet   *wallet.Wallet
	interval time.Duration

	mu    sync.Mutex // 串行化 Save
	dirty chan struct{}
	log   *logrus.Entry
}

// NewSaver interval 为两次落盘的最小间隔
func NewSaver(service persistence.Service, p *platform.Platform, ledger *token.Ledger, w *wallet.Wallet, interval time.Duration) *Saver {
	return &Saver{
		service:  service,
		platform: p,
		ledger:   ledger,
		wallet:   w,
		interval: interval,
		dirty:    make(chan struct{}, 1),
		log:      logrus.WithField("module", "snapshot"),
	}
}

// HandleReceipt 实现 platform.ReceiptHandler
func (s *Saver) HandleReceipt(context.Context, *platform.Receipt) error {
	s.markDirty()
	return nil
}

func (s *Saver) markDirty() {
	select {
	case s.dirty <- struct{}{}:
	default:
	}
}

// Save 立即落盘
func (s *Saver) Save(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var fields stateFields
	s.platform.Capture(func(st platform.State) {
		tok := s.ledger.Snapshot()
		wal := s.wallet.Snapshot()
		fields = stateFields{Platform: &st, Token: &tok, Wallet: &wal}
	})
	if err := persistence.SaveFields(&fields, snapshotID, s.service); err != nil {
		metrics.SnapshotErrors.Add(1)
		return errors.Wrap(err, "save snapshot")
	}
	metrics.SnapshotSaves.Add(1)
	return nil
}

// Load 恢复快照；没有快照时返回 false
func (s *Saver) Load() (bool, error) {
	var fields stateFields
	n, err := persistence.LoadFields(&fields, snapshotID, s.service)
	if err != nil {
		metrics.SnapshotErrors.Add(1)
		return false, errors.Wrap(err, "load snapshot")
	}
	if n == 0 {
		return false, nil
	}
	if fields.Platform != nil {
		if err := s.platform.Restore(*fields.Platform); err != nil {
			metrics.SnapshotErrors.Add(1)
			return false, err
		}
	}
	if fields.Token != nil {
		s.ledger.Restore(*fields.Token)
	}
	if fields.Wallet != nil {
		s.wallet.Restore(*fields.Wallet)
	}
	metrics.SnapshotLoads.Add(1)
	return true, nil
}

// Run 合并脏标记并落盘，直到 ctx 结束
func (s *Saver) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.dirty:
			if err := s.Save(ctx); err != nil {
				s.log.Errorf("%v", err)
			}
			if s.interval > 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(s.interval):
				}
			}
		}
	}
}
