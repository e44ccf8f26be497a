package validation

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"custody/internal/chain"
	werrors "custody/internal/errors"
	"custody/pkg/models"
)

// UnknownDecimals 精度未知时跳过小数位检查
const UnknownDecimals int32 = -1

var hexDataRegex = regexp.MustCompile(`^0x([0-9a-fA-F]{2})*$`)

// Validator 转账参数验证器
type Validator struct {
	logger     *logrus.Logger
	strictMode bool // 严格模式下警告视为错误
	rules      map[string]ValidationRule
}

// ValidationRule 验证规则接口
type ValidationRule interface {
	Validate(data interface{}) error
	Name() string
	Description() string
}

// ValidationResult 验证结果
type ValidationResult struct {
	Valid    bool                   `json:"valid"`
	Errors   []*werrors.WalletError `json:"errors,omitempty"`
	Warnings []string               `json:"warnings,omitempty"`
	DataType string                 `json:"data_type"`
}

// Err 返回第一个错误，没有错误时返回 nil
func (r *ValidationResult) Err() error {
	if r.Valid || len(r.Errors) == 0 {
		return nil
	}
	return r.Errors[0]
}

func (r *ValidationResult) addError(err error) {
	r.Valid = false
	if we, ok := werrors.As(err); ok {
		r.Errors = append(r.Errors, we)
		return
	}
	r.Errors = append(r.Errors, werrors.WrapError(err, werrors.ErrorTypeValidation, werrors.SeverityLow,
		werrors.CodeInvalidRequest, "参数验证失败"))
}

// NewValidator 创建验证器
func NewValidator(logger *logrus.Logger, strictMode bool) *Validator {
	v := &Validator{
		logger:     logger,
		strictMode: strictMode,
		rules:      make(map[string]ValidationRule),
	}

	v.AddRule(NewAmountValidationRule())
	v.AddRule(NewHexDataValidationRule())
	v.AddRule(NewTokenValidationRule())

	return v
}

// AddRule 添加验证规则
func (v *Validator) AddRule(rule ValidationRule) {
	v.rules[rule.Name()] = rule
	v.logger.Debugf("已注册验证规则: %s", rule.Name())
}

// ValidateTransfer 验证转账参数。decimals 为 UnknownDecimals 时不检查小数位
func (v *Validator) ValidateTransfer(spec *models.TransferSpec, adapter chain.Adapter, decimals int32) *ValidationResult {
	result := &ValidationResult{
		Valid:    true,
		DataType: "transfer",
		Errors:   make([]*werrors.WalletError, 0),
		Warnings: make([]string, 0),
	}
	if spec == nil {
		result.addError(werrors.ErrInvalidRequest("转账参数为空"))
		return result
	}

	if err := adapter.ValidateAddress(strings.TrimSpace(spec.ToAddress)); err != nil {
		result.addError(err)
	}

	for _, name := range []string{"amount", "data", "token"} {
		rule, ok := v.rules[name]
		if !ok {
			continue
		}
		if err := rule.Validate(spec); err != nil {
			result.addError(err)
		}
	}

	if decimals >= 0 {
		if _, err := chain.ParseAmount(spec.Amount, decimals); err != nil {
			result.addError(werrors.ErrInvalidAmount(spec.Amount).WithContext("reason", err.Error()))
		}
	}

	if spec.IsToken() {
		if err := adapter.ValidateAddress(*spec.TokenAddress); err != nil {
			result.addError(werrors.ErrInvalidAddress(*spec.TokenAddress).WithContext("field", "token_address"))
		}
	}

	if spec.Data != nil && *spec.Data != "" && adapter.Type() != models.ChainETH {
		result.Warnings = append(result.Warnings, fmt.Sprintf("%s 链不使用 data 字段，将仅作记录", adapter.Type()))
	}

	if v.strictMode && len(result.Warnings) > 0 {
		for _, w := range result.Warnings {
			result.addError(werrors.ErrInvalidRequest(w))
		}
	}

	if !result.Valid {
		v.logger.WithFields(logrus.Fields{
			"to_address": spec.ToAddress,
			"amount":     spec.Amount,
			"errors":     len(result.Errors),
		}).Debug("转账参数验证失败")
	}
	return result
}

// AmountValidationRule 金额必须是正的十进制数
type AmountValidationRule struct{}

func NewAmountValidationRule() *AmountValidationRule {
	return &AmountValidationRule{}
}

func (r *AmountValidationRule) Name() string { return "amount" }

func (r *AmountValidationRule) Description() string { return "十进制金额验证规则" }

func (r *AmountValidationRule) Validate(data interface{}) error {
	spec, ok := data.(*models.TransferSpec)
	if !ok {
		return fmt.Errorf("数据类型不是转账参数")
	}
	amount := strings.TrimSpace(spec.Amount)
	if amount == "" {
		return werrors.ErrInvalidAmount(spec.Amount).WithContext("reason", "金额为空")
	}
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return werrors.ErrInvalidAmount(spec.Amount).WithContext("reason", "不是十进制数")
	}
	if d.Sign() <= 0 {
		return werrors.ErrInvalidAmount(spec.Amount).WithContext("reason", "金额必须大于0")
	}
	if strings.ContainsAny(amount, "eE") {
		return werrors.ErrInvalidAmount(spec.Amount).WithContext("reason", "不支持科学计数法")
	}
	return nil
}

// HexDataValidationRule 合约调用数据必须是 0x 开头的完整字节
type HexDataValidationRule struct{}

func NewHexDataValidationRule() *HexDataValidationRule {
	return &HexDataValidationRule{}
}

func (r *HexDataValidationRule) Name() string { return "data" }

func (r *HexDataValidationRule) Description() string { return "十六进制数据验证规则" }

func (r *HexDataValidationRule) Validate(data interface{}) error {
	spec, ok := data.(*models.TransferSpec)
	if !ok {
		return fmt.Errorf("数据类型不是转账参数")
	}
	if spec.Data == nil || *spec.Data == "" {
		return nil
	}
	if !IsHexData(*spec.Data) {
		return werrors.NewWalletError(werrors.ErrorTypeValidation, werrors.SeverityLow,
			werrors.CodeInvalidData, "data 必须是0x开头的十六进制字节")
	}
	return nil
}

// TokenValidationRule 代币转账需要代币符号
type TokenValidationRule struct{}

func NewTokenValidationRule() *TokenValidationRule {
	return &TokenValidationRule{}
}

func (r *TokenValidationRule) Name() string { return "token" }

func (r *TokenValidationRule) Description() string { return "代币字段验证规则" }

func (r *TokenValidationRule) Validate(data interface{}) error {
	spec, ok := data.(*models.TransferSpec)
	if !ok {
		return fmt.Errorf("数据类型不是转账参数")
	}
	if len(spec.TokenSymbol) > 32 {
		return werrors.ErrInvalidRequest("代币符号过长")
	}
	return nil
}

// IsHexData 判断是否为 0x 开头的偶数长度十六进制串
func IsHexData(s string) bool {
	return hexDataRegex.MatchString(s)
}
