package errors

import (
	"net/http"
	"sync"

	"github.com/sirupsen/logrus"
)

// ErrorHandler 错误处理器：统计、按严重级别记录日志并映射HTTP状态码
type ErrorHandler struct {
	logger *logrus.Logger
	stats  *ErrorStats
	mu     sync.RWMutex

	callbacks []ErrorCallback
}

// ErrorCallback 错误回调函数
type ErrorCallback func(err *WalletError)

// NewErrorHandler 创建错误处理器
func NewErrorHandler(logger *logrus.Logger) *ErrorHandler {
	return &ErrorHandler{
		logger:    logger,
		stats:     NewErrorStats(),
		callbacks: make([]ErrorCallback, 0),
	}
}

// Normalize 将任意错误转换为 WalletError
func Normalize(err error) *WalletError {
	if we, ok := As(err); ok {
		return we
	}
	return WrapError(err, ErrorTypeInternal, SeverityMedium, CodeUnknown, "未知错误")
}

// HandleError 处理错误并返回标准化后的错误
func (eh *ErrorHandler) HandleError(err error) *WalletError {
	if err == nil {
		return nil
	}
	we := Normalize(err)

	eh.mu.Lock()
	eh.stats.RecordError(we)
	callbacks := make([]ErrorCallback, len(eh.callbacks))
	copy(callbacks, eh.callbacks)
	eh.mu.Unlock()

	eh.log(we)

	for _, cb := range callbacks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					eh.logger.Errorf("错误回调执行时发生panic: %v", r)
				}
			}()
			cb(we)
		}()
	}
	return we
}

// log 根据严重级别选择日志级别
func (eh *ErrorHandler) log(err *WalletError) {
	entry := eh.logger.WithFields(logrus.Fields{
		"error_type": err.Type.String(),
		"error_code": err.Code,
		"component":  err.Component,
		"retryable":  err.Retryable,
	})
	if err.WalletID != nil {
		entry = entry.WithField("wallet_id", *err.WalletID)
	}
	if err.TxID != nil {
		entry = entry.WithField("tx_id", *err.TxID)
	}
	if err.Cause != nil {
		entry = entry.WithError(err.Cause)
	}

	switch err.Severity {
	case SeverityLow:
		entry.Debug(err.Message)
	case SeverityMedium:
		entry.Warn(err.Message)
	default:
		// Critical 也只记 Error，服务进程不因单个请求退出
		entry.Error(err.Message)
	}
}

// HTTPStatus 错误类型到HTTP状态码的映射
func HTTPStatus(err error) int {
	switch TypeOf(err) {
	case ErrorTypeValidation, ErrorTypeDerivation:
		return http.StatusBadRequest
	case ErrorTypeNotFound:
		return http.StatusNotFound
	case ErrorTypeConflict:
		return http.StatusConflict
	case ErrorTypeCapabilityNotSupported:
		return http.StatusNotImplemented
	case ErrorTypeBalanceUnavailable, ErrorTypeTransport:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// AddCallback 添加错误回调
func (eh *ErrorHandler) AddCallback(callback ErrorCallback) {
	eh.mu.Lock()
	defer eh.mu.Unlock()
	eh.callbacks = append(eh.callbacks, callback)
}

// GetStats 获取错误统计信息
func (eh *ErrorHandler) GetStats() ErrorStats {
	eh.mu.RLock()
	defer eh.mu.RUnlock()
	return *eh.stats
}

// ClearStats 清除统计信息
func (eh *ErrorHandler) ClearStats() {
	eh.mu.Lock()
	defer eh.mu.Unlock()
	eh.stats = NewErrorStats()
}
