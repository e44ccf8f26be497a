package retry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// RetryConfig 重试配置
type RetryConfig struct {
	MaxAttempts         int           `mapstructure:"max_attempts" json:"max_attempts"`                 // 最大尝试次数
	InitialInterval     time.Duration `mapstructure:"initial_interval" json:"initial_interval"`         // 初始重试间隔
	MaxInterval         time.Duration `mapstructure:"max_interval" json:"max_interval"`                 // 最大重试间隔
	BackoffFactor       float64       `mapstructure:"backoff_factor" json:"backoff_factor"`             // 退避因子
	RandomizationFactor float64       `mapstructure:"randomization_factor" json:"randomization_factor"` // 随机化因子
	EnableJitter        bool          `mapstructure:"enable_jitter" json:"enable_jitter"`               // 启用抖动
}

// DefaultRetryConfig 默认重试配置（链上RPC查询）
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:         3,
		InitialInterval:     200 * time.Millisecond,
		MaxInterval:         5 * time.Second,
		BackoffFactor:       2.0,
		RandomizationFactor: 0.2,
		EnableJitter:        true,
	}
}

// NoRetryConfig 只执行一次，测试和命令行单次查询使用
func NoRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxAttempts:     1,
		InitialInterval: time.Millisecond,
		MaxInterval:     time.Millisecond,
		BackoffFactor:   1,
	}
}

// RetryableError 可重试错误接口，errors.WalletError 实现了该接口
type RetryableError interface {
	error
	IsRetryable() bool
}

// 常见的瞬时网络错误
var transientErrors = []string{
	"connection refused",
	"connection reset",
	"connection timeout",
	"timeout",
	"temporary failure",
	"service unavailable",
	"too many requests", // 429
	"rate limit",
	"i/o timeout",
	"no such host",
	"network is unreachable",
	"broken pipe",
	"unavailable", // grpc codes.Unavailable
	"node is behind",
}

// IsRetryableError 判断是否为可重试错误
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var retryableErr RetryableError
	if errors.As(err, &retryableErr) {
		return retryableErr.IsRetryable()
	}

	errStr := strings.ToLower(err.Error())
	for _, transient := range transientErrors {
		if strings.Contains(errStr, transient) {
			return true
		}
	}
	return false
}

// Retrier 重试器
type Retrier struct {
	config *RetryConfig
	logger *logrus.Logger

	mu   sync.Mutex
	rand *rand.Rand
}

// NewRetrier 创建重试器
func NewRetrier(config *RetryConfig, logger *logrus.Logger) *Retrier {
	if config == nil {
		config = DefaultRetryConfig()
	}
	if config.MaxAttempts < 1 {
		config.MaxAttempts = 1
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &Retrier{
		config: config,
		logger: logger,
		rand:   rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// ExecuteFunc 执行函数类型
type ExecuteFunc func() error

// Execute 执行重试逻辑
func (r *Retrier) Execute(ctx context.Context, operation string, fn ExecuteFunc) error {
	var lastErr error

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn()
		if err == nil {
			if attempt > 1 {
				r.logger.Debugf("操作 '%s' 在第 %d 次尝试后成功", operation, attempt)
			}
			return nil
		}
		lastErr = err

		if !IsRetryableError(err) {
			r.logger.Debugf("操作 '%s' 失败且不可重试: %v", operation, err)
			return err
		}

		if attempt == r.config.MaxAttempts {
			if attempt > 1 {
				r.logger.Warnf("操作 '%s' 在 %d 次尝试后最终失败: %v", operation, attempt, err)
				return fmt.Errorf("重试 %d 次后失败: %w", attempt, err)
			}
			return err
		}

		delay := r.calculateDelay(attempt)
		r.logger.Debugf("操作 '%s' 第 %d 次失败: %v，%v 后重试", operation, attempt, err, delay)

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	return lastErr
}

// calculateDelay 计算延迟时间
func (r *Retrier) calculateDelay(attempt int) time.Duration {
	delay := float64(r.config.InitialInterval) * math.Pow(r.config.BackoffFactor, float64(attempt-1))

	if r.config.EnableJitter && r.config.RandomizationFactor > 0 {
		r.mu.Lock()
		jitter := (r.rand.Float64()*2 - 1) * r.config.RandomizationFactor * delay
		r.mu.Unlock()
		delay += jitter
	}

	if delay > float64(r.config.MaxInterval) {
		delay = float64(r.config.MaxInterval)
	}
	if delay < 0 {
		delay = float64(r.config.InitialInterval)
	}
	return time.Duration(delay)
}
