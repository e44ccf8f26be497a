package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// ErrorType 错误类型
type ErrorType int

const (
	// 输入相关错误
	ErrorTypeValidation ErrorType = iota
	ErrorTypeNotFound
	ErrorTypeConflict

	// 链上相关错误
	ErrorTypeBalanceUnavailable
	ErrorTypeTransport
	ErrorTypeCapabilityNotSupported

	// 密钥相关错误
	ErrorTypeDerivation

	// 系统相关错误
	ErrorTypeStorage
	ErrorTypeConfig
	ErrorTypePublish
	ErrorTypeInternal
)

// ErrorSeverity 错误严重级别
type ErrorSeverity int

const (
	SeverityLow ErrorSeverity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

// 错误码
const (
	CodeUnsupportedChain    = "UNSUPPORTED_CHAIN"
	CodeInvalidMnemonic     = "INVALID_MNEMONIC"
	CodeInvalidAddress      = "INVALID_ADDRESS"
	CodeInvalidAmount       = "INVALID_AMOUNT"
	CodeInvalidData         = "INVALID_DATA"
	CodeInvalidRequest      = "INVALID_REQUEST"
	CodeSameOwner           = "SAME_OWNER"
	CodeConcurrentUpdate    = "CONCURRENT_UPDATE"
	CodeWalletNotFound      = "WALLET_NOT_FOUND"
	CodeTransactionNotFound = "TRANSACTION_NOT_FOUND"
	CodeBundleNotFound      = "BUNDLE_NOT_FOUND"
	CodeBalanceUnavailable  = "BALANCE_UNAVAILABLE"
	CodeRPCTimeout          = "RPC_TIMEOUT"
	CodeRPCFailed           = "RPC_FAILED"
	CodeBroadcastFailed     = "BROADCAST_FAILED"
	CodeCapabilityMissing   = "CAPABILITY_NOT_SUPPORTED"
	CodeDerivationFailed    = "DERIVATION_FAILED"
	CodeIllegalTransition   = "ILLEGAL_STATUS_TRANSITION"
	CodeStorageFailed       = "STORAGE_FAILED"
	CodeConfigInvalid       = "CONFIG_INVALID"
	CodeMnemonicEncryption  = "MNEMONIC_ENCRYPTION_FAILED"
	CodeMnemonicUnavailable = "MNEMONIC_UNAVAILABLE"
	CodePublishFailed       = "PUBLISH_FAILED"
	CodeUnknown             = "UNKNOWN_ERROR"
)

// WalletError 自定义错误类型
type WalletError struct {
	Type      ErrorType              `json:"type"`
	Severity  ErrorSeverity          `json:"severity"`
	Code      string                 `json:"code"`
	Message   string                 `json:"message"`
	Timestamp time.Time              `json:"timestamp"`
	Context   map[string]interface{} `json:"context,omitempty"`
	Cause     error                  `json:"-"`
	Retryable bool                   `json:"retryable"`
	Component string                 `json:"component,omitempty"`
	WalletID  *string                `json:"wallet_id,omitempty"`
	TxID      *string                `json:"tx_id,omitempty"`
}

// Error 实现error接口
func (e *WalletError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap 支持errors.Unwrap
func (e *WalletError) Unwrap() error {
	return e.Cause
}

// Is 按错误码匹配，支持 errors.Is(err, ErrWalletNotFound())
func (e *WalletError) Is(target error) bool {
	var t *WalletError
	if !stderrors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

// IsRetryable 判断是否可重试
func (e *WalletError) IsRetryable() bool {
	return e.Retryable
}

// WithContext 添加上下文信息
func (e *WalletError) WithContext(key string, value interface{}) *WalletError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithComponent 标记出错组件
func (e *WalletError) WithComponent(component string) *WalletError {
	e.Component = component
	return e
}

// WithWalletID 添加钱包ID
func (e *WalletError) WithWalletID(walletID string) *WalletError {
	e.WalletID = &walletID
	return e
}

// WithTxID 添加交易ID
func (e *WalletError) WithTxID(txID string) *WalletError {
	e.TxID = &txID
	return e
}

// NewWalletError 创建新的错误
func NewWalletError(errorType ErrorType, severity ErrorSeverity, code, message string) *WalletError {
	return &WalletError{
		Type:      errorType,
		Severity:  severity,
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
		Retryable: determineRetryable(errorType, code),
	}
}

// WrapError 包装现有错误
func WrapError(err error, errorType ErrorType, severity ErrorSeverity, code, message string) *WalletError {
	return &WalletError{
		Type:      errorType,
		Severity:  severity,
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
		Cause:     err,
		Retryable: determineRetryable(errorType, code),
	}
}

// determineRetryable 根据错误类型判断是否可重试
func determineRetryable(errorType ErrorType, code string) bool {
	switch errorType {
	case ErrorTypeTransport:
		return true
	case ErrorTypeBalanceUnavailable:
		return true
	case ErrorTypePublish:
		return true
	case ErrorTypeStorage:
		// bbolt 超时可重试，数据损坏不可重试
		return code != CodeInvalidData
	default:
		return false
	}
}

// As 提取 WalletError
func As(err error) (*WalletError, bool) {
	var we *WalletError
	if stderrors.As(err, &we) {
		return we, true
	}
	return nil, false
}

// TypeOf 返回错误类型，非 WalletError 返回 ErrorTypeInternal
func TypeOf(err error) ErrorType {
	if we, ok := As(err); ok {
		return we.Type
	}
	return ErrorTypeInternal
}

// IsType 判断错误链中是否包含指定类型的 WalletError
func IsType(err error, errorType ErrorType) bool {
	we, ok := As(err)
	return ok && we.Type == errorType
}

// 预定义错误构造函数（每次返回新实例，避免共享可变状态）

// ErrUnsupportedChain 不支持的链类型
func ErrUnsupportedChain(chain string) *WalletError {
	return NewWalletError(ErrorTypeValidation, SeverityLow, CodeUnsupportedChain,
		fmt.Sprintf("不支持的链类型: %s", chain))
}

// ErrInvalidMnemonic 助记词无效
func ErrInvalidMnemonic() *WalletError {
	return NewWalletError(ErrorTypeValidation, SeverityLow, CodeInvalidMnemonic, "助记词无效")
}

// ErrInvalidAddress 地址格式无效
func ErrInvalidAddress(address string) *WalletError {
	return NewWalletError(ErrorTypeValidation, SeverityLow, CodeInvalidAddress,
		fmt.Sprintf("地址格式无效: %s", address))
}

// ErrInvalidAmount 金额无效
func ErrInvalidAmount(amount string) *WalletError {
	return NewWalletError(ErrorTypeValidation, SeverityLow, CodeInvalidAmount,
		fmt.Sprintf("金额无效: %s", amount))
}

// ErrInvalidRequest 请求参数无效
func ErrInvalidRequest(message string) *WalletError {
	return NewWalletError(ErrorTypeValidation, SeverityLow, CodeInvalidRequest, message)
}

// ErrWalletNotFound 钱包不存在
func ErrWalletNotFound() *WalletError {
	return NewWalletError(ErrorTypeNotFound, SeverityLow, CodeWalletNotFound, "钱包不存在")
}

// ErrTransactionNotFound 交易不存在
func ErrTransactionNotFound() *WalletError {
	return NewWalletError(ErrorTypeNotFound, SeverityLow, CodeTransactionNotFound, "交易不存在")
}

// ErrBundleNotFound 交易包不存在
func ErrBundleNotFound() *WalletError {
	return NewWalletError(ErrorTypeNotFound, SeverityLow, CodeBundleNotFound, "交易包不存在")
}

// ErrBalanceUnavailable 余额查询失败
func ErrBalanceUnavailable(cause error) *WalletError {
	return WrapError(cause, ErrorTypeBalanceUnavailable, SeverityMedium, CodeBalanceUnavailable, "余额暂不可用")
}

// ErrCapabilityNotSupported 链不支持该能力
func ErrCapabilityNotSupported(chain, capability string) *WalletError {
	return NewWalletError(ErrorTypeCapabilityNotSupported, SeverityLow, CodeCapabilityMissing,
		fmt.Sprintf("%s 不支持 %s", chain, capability))
}

// ErrIllegalTransition 非法的状态转换
func ErrIllegalTransition(from, to string) *WalletError {
	return NewWalletError(ErrorTypeConflict, SeverityMedium, CodeIllegalTransition,
		fmt.Sprintf("非法的交易状态转换: %s -> %s", from, to))
}

// ErrSameOwner 新所有者与当前所有者相同
func ErrSameOwner(address string) *WalletError {
	return NewWalletError(ErrorTypeConflict, SeverityLow, CodeSameOwner,
		fmt.Sprintf("新所有者与当前地址相同: %s", address))
}

// ErrStorage 存储失败
func ErrStorage(cause error, message string) *WalletError {
	return WrapError(cause, ErrorTypeStorage, SeverityHigh, CodeStorageFailed, message)
}

// ErrConfigInvalid 配置无效
func ErrConfigInvalid(message string) *WalletError {
	return NewWalletError(ErrorTypeConfig, SeverityCritical, CodeConfigInvalid, message)
}

// 错误类型字符串映射
var errorTypeNames = map[ErrorType]string{
	ErrorTypeValidation:             "Validation",
	ErrorTypeNotFound:               "NotFound",
	ErrorTypeConflict:               "Conflict",
	ErrorTypeBalanceUnavailable:     "BalanceUnavailable",
	ErrorTypeTransport:              "Transport",
	ErrorTypeCapabilityNotSupported: "CapabilityNotSupported",
	ErrorTypeDerivation:             "Derivation",
	ErrorTypeStorage:                "Storage",
	ErrorTypeConfig:                 "Config",
	ErrorTypePublish:                "Publish",
	ErrorTypeInternal:               "Internal",
}

// String 返回错误类型的字符串表示
func (et ErrorType) String() string {
	if name, exists := errorTypeNames[et]; exists {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", et)
}

// 严重级别字符串映射
var severityNames = map[ErrorSeverity]string{
	SeverityLow:      "Low",
	SeverityMedium:   "Medium",
	SeverityHigh:     "High",
	SeverityCritical: "Critical",
}

// String 返回严重级别的字符串表示
func (es ErrorSeverity) String() string {
	if name, exists := severityNames[es]; exists {
		return name
	}
	return fmt.Sprintf("Unknown(%d)", es)
}

// BundleItemError 批量交易中第 Index 项（从1开始）失败
type BundleItemError struct {
	BundleID string
	Index    int
	Err      error
}

// Error 实现error接口
func (e *BundleItemError) Error() string {
	return fmt.Sprintf("交易包 %s 第 %d 笔交易失败: %v", e.BundleID, e.Index, e.Err)
}

// Unwrap 支持errors.Unwrap
func (e *BundleItemError) Unwrap() error {
	return e.Err
}

// ErrorStats 错误统计
type ErrorStats struct {
	TotalErrors       int                   `json:"total_errors"`
	ErrorsByType      map[ErrorType]int     `json:"errors_by_type"`
	ErrorsBySeverity  map[ErrorSeverity]int `json:"errors_by_severity"`
	ErrorsByComponent map[string]int        `json:"errors_by_component"`
	RecentErrors      []*WalletError        `json:"recent_errors"`
	LastError         *WalletError          `json:"last_error"`
	LastErrorTime     time.Time             `json:"last_error_time"`
}

// NewErrorStats 创建错误统计
func NewErrorStats() *ErrorStats {
	return &ErrorStats{
		ErrorsByType:      make(map[ErrorType]int),
		ErrorsBySeverity:  make(map[ErrorSeverity]int),
		ErrorsByComponent: make(map[string]int),
		RecentErrors:      make([]*WalletError, 0),
	}
}

// RecordError 记录错误
func (es *ErrorStats) RecordError(err *WalletError) {
	es.TotalErrors++
	es.ErrorsByType[err.Type]++
	es.ErrorsBySeverity[err.Severity]++
	if err.Component != "" {
		es.ErrorsByComponent[err.Component]++
	}

	es.LastError = err
	es.LastErrorTime = err.Timestamp

	// 保留最近100个错误
	es.RecentErrors = append(es.RecentErrors, err)
	if len(es.RecentErrors) > 100 {
		es.RecentErrors = es.RecentErrors[1:]
	}
}

// GetErrorRate 获取错误率（错误/小时）
func (es *ErrorStats) GetErrorRate(duration time.Duration) float64 {
	if duration <= 0 {
		return 0
	}

	cutoff := time.Now().Add(-duration)
	recentCount := 0
	for _, err := range es.RecentErrors {
		if err.Timestamp.After(cutoff) {
			recentCount++
		}
	}

	hours := duration.Hours()
	if hours == 0 {
		return float64(recentCount)
	}
	return float64(recentCount) / hours
}
