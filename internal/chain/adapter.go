package chain

import (
	"context"
	"math/big"

	"custody/pkg/models"
)

// Adapter 链适配器：地址派生、余额查询、费用估算
type Adapter interface {
	// Type 链类型
	Type() models.ChainType

	// NativeSymbol 原生资产符号（ETH / SOL / TRX）
	NativeSymbol() string

	// Decimals 原生资产精度
	Decimals() int32

	// DeriveAddress 由 BIP-39 种子派生地址与公钥
	DeriveAddress(seed []byte) (*DerivedKey, error)

	// ValidateAddress 校验地址格式
	ValidateAddress(address string) error

	// CanonicalAddress 校验地址并返回唯一的规范形式，存储和比较前都应先规范化
	CanonicalAddress(address string) (string, error)

	// NativeBalance 查询原生资产余额，失败时返回 BalanceUnavailable，不会返回零值
	NativeBalance(ctx context.Context, address string) (string, error)

	// TokenBalances 查询代币持仓
	TokenBalances(ctx context.Context, address string) ([]models.TokenInfo, error)

	// EstimateTransfer 估算转账费用，不改变任何状态
	EstimateTransfer(ctx context.Context, req *TransferRequest) (*Estimate, error)
}

// DerivedKey 派生结果
type DerivedKey struct {
	Address   string
	PublicKey string
	Path      string
}

// TransferRequest 转账请求
type TransferRequest struct {
	From         string
	To           string
	Amount       string
	TokenAddress *string
	Data         *string
}

// IsToken 是否为代币转账
func (r *TransferRequest) IsToken() bool {
	return r.TokenAddress != nil && *r.TokenAddress != "" && *r.TokenAddress != models.NativeTokenAddress
}

// Estimate 费用估算结果
type Estimate struct {
	GasLimit uint64   `json:"gas_limit"`
	GasPrice *big.Int `json:"gas_price"` // 最小单位
	Fee      string   `json:"fee"`       // 以原生资产计的十进制金额
	Symbol   string   `json:"symbol"`
}
