package shutdown

import (
	"context"
	"sync"

	"github.com/betbot/acdm/pkg/logger"
)

// Handler 关闭处理函数
type Handler func(ctx context.Context) error

type namedHandler struct {
	name    string
	handler Handler
}

// Manager 优雅关闭管理器。回调按注册顺序依次执行（先停入口，再落盘，最后关存储）。
type Manager struct {
	callbacks []namedHandler
	mu        sync.Mutex
	once      sync.Once
}

// NewManager 创建新的关闭管理器
func NewManager() *Manager {
	return &Manager{}
}

// OnShutdown 注册关闭回调
func (m *Manager) OnShutdown(name string, handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, namedHandler{name: name, handler: handler})
}

// Shutdown 执行所有关闭回调（阻塞调用，只执行一次）。
// ctx 应该带超时；超时后剩余回调仍会执行，但拿到的是已取消的 ctx。
// 返回失败的回调数量。
func (m *Manager) Shutdown(ctx context.Context) int {
	failed := 0
	m.once.Do(func() {
		m.mu.Lock()
		callbacks := append([]namedHandler(nil), m.callbacks...)
		m.mu.Unlock()

		if len(callbacks) == 0 {
			logger.Info("没有注册的关闭回调")
			return
		}
		logger.Infof("开始优雅关闭，共 %d 个回调", len(callbacks))

		for _, cb := range callbacks {
			if err := cb.handler(ctx); err != nil {
				failed++
				logger.Errorf("关闭回调 %s 失败: %v", cb.name, err)
				continue
			}
			logger.Debugf("关闭回调 %s 已完成", cb.name)
		}
		if ctx.Err() != nil {
			logger.Warnf("关闭超时: %v", ctx.Err())
		}
		logger.Infof("所有关闭回调已完成（失败 %d 个）", failed)
	})
	return failed
}
