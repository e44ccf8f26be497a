package tron

import (
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"errors"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/fbsobreira/gotron-sdk/pkg/address"
	"github.com/fbsobreira/gotron-sdk/pkg/proto/core"
	"github.com/sirupsen/logrus"

	"custody/internal/chain"
	werrors "custody/internal/errors"
	"custody/internal/retry"
	"custody/internal/seed"
	"custody/pkg/models"
)

const (
	// DerivationPath BIP-44 TRON 路径
	DerivationPath = "m/44'/195'/0'/0/0"
	// Decimals TRX 精度（sun）
	Decimals int32 = 6
	// Symbol 原生资产符号
	Symbol = "TRX"

	addressLength       = 21
	addressPrefix  byte = 0x41
)

var errNoClient = errors.New("未配置TRON gRPC客户端")

// RPC TRON 节点接口，*client.GrpcClient 满足该接口
type RPC interface {
	GetAccount(addr string) (*core.Account, error)
	TRC20ContractBalance(addr, contractAddress string) (*big.Int, error)
}

// FeeModel 带宽/能量费用模型
type FeeModel struct {
	BandwidthPerTransfer int64 `mapstructure:"bandwidth_per_transfer"` // 原生转账消耗的带宽（字节）
	BandwidthPerTRC20    int64 `mapstructure:"bandwidth_per_trc20"`    // TRC-20 转账消耗的带宽（字节）
	EnergyPerTRC20       int64 `mapstructure:"energy_per_trc20"`       // TRC-20 转账消耗的能量
	SunPerBandwidth      int64 `mapstructure:"sun_per_bandwidth"`
	SunPerEnergy         int64 `mapstructure:"sun_per_energy"`
}

// DefaultFeeModel 默认费用模型
func DefaultFeeModel() FeeModel {
	return FeeModel{
		BandwidthPerTransfer: 268,
		BandwidthPerTRC20:    345,
		EnergyPerTRC20:       65000,
		SunPerBandwidth:      1000,
		SunPerEnergy:         420,
	}
}

// Config TRON 适配器配置
type Config struct {
	Tokens []chain.TokenSpec
	Fees   FeeModel
}

// Adapter TRON 链适配器
type Adapter struct {
	rpc     RPC
	config  Config
	retrier *retry.Retrier
	logger  *logrus.Logger
}

// NewAdapter 创建 TRON 适配器
func NewAdapter(rpc RPC, config Config, retrier *retry.Retrier, logger *logrus.Logger) *Adapter {
	if config.Fees == (FeeModel{}) {
		config.Fees = DefaultFeeModel()
	}
	if retrier == nil {
		retrier = retry.NewRetrier(retry.DefaultRetryConfig(), logger)
	}
	return &Adapter{rpc: rpc, config: config, retrier: retrier, logger: logger}
}

// Type 链类型
func (a *Adapter) Type() models.ChainType { return models.ChainTRON }

// NativeSymbol 原生资产符号
func (a *Adapter) NativeSymbol() string { return Symbol }

// Decimals 原生资产精度
func (a *Adapter) Decimals() int32 { return Decimals }

// DeriveAddress 派生 0x41 版本字节的 base58check 地址
func (a *Adapter) DeriveAddress(seedBytes []byte) (*chain.DerivedKey, error) {
	priv, err := seed.DeriveSecp256k1(seedBytes, DerivationPath)
	if err != nil {
		return nil, err
	}
	key, err := crypto.ToECDSA(priv)
	if err != nil {
		return nil, werrors.WrapError(err, werrors.ErrorTypeDerivation, werrors.SeverityHigh,
			werrors.CodeDerivationFailed, "无效的私钥")
	}
	pub := key.Public().(*ecdsa.PublicKey)
	return &chain.DerivedKey{
		Address:   address.PubkeyToAddress(*pub).String(),
		PublicKey: hex.EncodeToString(crypto.FromECDSAPub(pub)),
		Path:      DerivationPath,
	}, nil
}

// ValidateAddress 校验 base58check 且版本字节为 0x41
func (a *Adapter) ValidateAddress(addr string) error {
	if !strings.HasPrefix(addr, "T") {
		return werrors.ErrInvalidAddress(addr)
	}
	parsed, err := address.Base58ToAddress(addr)
	if err != nil || len(parsed) != addressLength || parsed[0] != addressPrefix {
		return werrors.ErrInvalidAddress(addr)
	}
	return nil
}

// CanonicalAddress base58check 地址只有一种编码
func (a *Adapter) CanonicalAddress(addr string) (string, error) {
	if err := a.ValidateAddress(addr); err != nil {
		return "", err
	}
	return addr, nil
}

// NativeBalance 查询 TRX 余额，未激活账户余额为0
func (a *Adapter) NativeBalance(ctx context.Context, addr string) (string, error) {
	if err := a.ValidateAddress(addr); err != nil {
		return "", err
	}
	if a.rpc == nil {
		return "", chain.BalanceError(models.ChainTRON, errNoClient)
	}

	var sun int64
	err := a.retrier.Execute(ctx, "GetAccount", func() error {
		acc, err := a.rpc.GetAccount(addr)
		if err != nil {
			if isAccountNotFound(err) {
				sun = 0
				return nil
			}
			return err
		}
		sun = acc.GetBalance()
		return nil
	})
	if err != nil {
		a.logger.WithError(err).WithField("address", addr).Warn("查询TRX余额失败")
		return "", chain.BalanceError(models.ChainTRON, chain.RPCError(models.ChainTRON, "GetAccount", err))
	}
	return chain.FromBaseUnits(big.NewInt(sun), Decimals), nil
}

// TokenBalances 按配置的 TRC-20 列表查询余额
func (a *Adapter) TokenBalances(ctx context.Context, addr string) ([]models.TokenInfo, error) {
	if len(a.config.Tokens) == 0 {
		return nil, werrors.ErrCapabilityNotSupported(string(models.ChainTRON), "token_balances").
			WithContext("reason", "未配置 TRC-20 代币列表")
	}
	if err := a.ValidateAddress(addr); err != nil {
		return nil, err
	}
	if a.rpc == nil {
		return nil, chain.BalanceError(models.ChainTRON, errNoClient)
	}

	tokens := make([]models.TokenInfo, 0, len(a.config.Tokens))
	for _, spec := range a.config.Tokens {
		var raw *big.Int
		err := a.retrier.Execute(ctx, "TRC20ContractBalance", func() error {
			var err error
			raw, err = a.rpc.TRC20ContractBalance(addr, spec.Address)
			return err
		})
		if err != nil {
			a.logger.WithError(err).WithFields(logrus.Fields{
				"address":  addr,
				"contract": spec.Address,
			}).Warn("查询TRC-20余额失败")
			return nil, chain.BalanceError(models.ChainTRON, chain.RPCError(models.ChainTRON, "TRC20ContractBalance", err))
		}
		name, logo := spec.TokenInfoFields()
		tokens = append(tokens, models.TokenInfo{
			TokenAddress: spec.Address,
			Symbol:       spec.Symbol,
			Decimals:     spec.Decimals,
			Balance:      chain.FromBaseUnits(raw, spec.Decimals),
			Name:         name,
			LogoURL:      logo,
		})
	}
	return tokens, nil
}

// EstimateTransfer 按带宽/能量模型估算（不查询账户免费额度）
func (a *Adapter) EstimateTransfer(ctx context.Context, req *chain.TransferRequest) (*chain.Estimate, error) {
	if err := a.ValidateAddress(req.From); err != nil {
		return nil, err
	}
	if err := a.ValidateAddress(req.To); err != nil {
		return nil, err
	}

	fees := a.config.Fees
	if !req.IsToken() {
		if _, err := chain.ToBaseUnits(req.Amount, Decimals); err != nil {
			return nil, werrors.ErrInvalidAmount(req.Amount).WithContext("reason", err.Error())
		}
		sun := fees.BandwidthPerTransfer * fees.SunPerBandwidth
		return &chain.Estimate{
			GasLimit: uint64(fees.BandwidthPerTransfer),
			GasPrice: big.NewInt(fees.SunPerBandwidth),
			Fee:      chain.FromBaseUnits(big.NewInt(sun), Decimals),
			Symbol:   Symbol,
		}, nil
	}

	if err := a.ValidateAddress(*req.TokenAddress); err != nil {
		return nil, err
	}
	if spec, ok := chain.FindToken(a.config.Tokens, *req.TokenAddress, func(x, y string) bool { return x == y }); ok {
		if _, err := chain.ToBaseUnits(req.Amount, spec.Decimals); err != nil {
			return nil, werrors.ErrInvalidAmount(req.Amount).WithContext("reason", err.Error())
		}
	}
	sun := fees.EnergyPerTRC20*fees.SunPerEnergy + fees.BandwidthPerTRC20*fees.SunPerBandwidth
	return &chain.Estimate{
		GasLimit: uint64(fees.EnergyPerTRC20),
		GasPrice: big.NewInt(fees.SunPerEnergy),
		Fee:      chain.FromBaseUnits(big.NewInt(sun), Decimals),
		Symbol:   Symbol,
	}, nil
}

func isAccountNotFound(err error) bool {
	return strings.Contains(strings.ToLower(err.Error()), "account not found")
}
