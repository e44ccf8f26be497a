package shutdown

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
)

// 停机顺序，数字越小越早执行
const (
	OrderHTTPServer   = 10 // 停止接受新请求并等待进行中的请求
	OrderHealthChecks = 20 // 停止后台节点巡检
	OrderOutput       = 30 // 刷新并关闭事件输出
	OrderChainClients = 40 // 关闭链节点连接
	OrderStore        = 50 // 最后关闭存储，保证前面的步骤仍可落库
)

// Hook 停机处理函数
type Hook struct {
	Name  string
	Func  func(ctx context.Context) error
	Order int
}

// Manager 优雅停机管理器
type Manager struct {
	logger  *logrus.Logger
	timeout time.Duration

	mu    sync.Mutex
	hooks []Hook
	done  chan struct{}
	err   error
	once  sync.Once

	signals    chan os.Signal
	signalStop sync.Once
}

// NewManager 创建优雅停机管理器
func NewManager(timeout time.Duration, logger *logrus.Logger) *Manager {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Manager{
		logger:  logger,
		timeout: timeout,
		done:    make(chan struct{}),
		signals: make(chan os.Signal, 1),
	}
}

// Register 注册停机处理函数，同一顺序按注册先后执行
func (m *Manager) Register(name string, order int, fn func(ctx context.Context) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hooks = append(m.hooks, Hook{Name: name, Func: fn, Order: order})
	m.logger.Debugf("注册停机处理函数: %s (order: %d)", name, order)
}

// RegisterCloser 注册无参数的关闭函数
func (m *Manager) RegisterCloser(name string, order int, closeFn func() error) {
	m.Register(name, order, func(context.Context) error { return closeFn() })
}

// ListenSignals 收到 SIGINT/SIGTERM 时触发停机
func (m *Manager) ListenSignals() {
	signal.Notify(m.signals, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case sig, ok := <-m.signals:
			if !ok {
				return
			}
			m.logger.Infof("收到停机信号: %v", sig)
			m.Shutdown()
		case <-m.done:
		}
	}()
	m.logger.Info("停机管理器已启动，监听信号: SIGINT, SIGTERM")
}

// Shutdown 执行停机流程，只会执行一次
func (m *Manager) Shutdown() error {
	m.once.Do(func() {
		m.err = m.run()
		m.stopSignals()
		close(m.done)
	})
	return m.err
}

// Done 停机完成后关闭
func (m *Manager) Done() <-chan struct{} {
	return m.done
}

// Wait 等待停机完成并返回停机错误
func (m *Manager) Wait() error {
	<-m.done
	return m.err
}

func (m *Manager) stopSignals() {
	m.signalStop.Do(func() {
		signal.Stop(m.signals)
	})
}

func (m *Manager) run() error {
	m.logger.Info("开始优雅停机流程...")

	ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
	defer cancel()

	m.mu.Lock()
	hooks := make([]Hook, len(m.hooks))
	copy(hooks, m.hooks)
	m.mu.Unlock()
	sort.SliceStable(hooks, func(i, j int) bool { return hooks[i].Order < hooks[j].Order })

	var errs []error
	for _, hook := range hooks {
		if ctx.Err() != nil {
			m.logger.Warnf("停机超时，跳过: %s", hook.Name)
			errs = append(errs, fmt.Errorf("%s: %w", hook.Name, ctx.Err()))
			continue
		}

		start := time.Now()
		err := hook.Func(ctx)
		entry := m.logger.WithFields(logrus.Fields{
			"hook":     hook.Name,
			"duration": time.Since(start).String(),
		})
		if err != nil {
			entry.WithError(err).Error("停机处理失败")
			errs = append(errs, fmt.Errorf("%s: %w", hook.Name, err))
			continue
		}
		entry.Info("停机处理完成")
	}

	if len(errs) > 0 {
		m.logger.Errorf("停机过程中发生 %d 个错误", len(errs))
	} else {
		m.logger.Info("优雅停机流程完成")
	}
	return errors.Join(errs...)
}

// Hooks 已注册的停机函数名称，按执行顺序
func (m *Manager) Hooks() []string {
	m.mu.Lock()
	hooks := make([]Hook, len(m.hooks))
	copy(hooks, m.hooks)
	m.mu.Unlock()

	sort.SliceStable(hooks, func(i, j int) bool { return hooks[i].Order < hooks[j].Order })
	names := make([]string, len(hooks))
	for i, h := range hooks {
		names[i] = h.Name
	}
	return names
}
