package solana

import (
	"context"
	"crypto/ed25519"
	"math/big"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/sirupsen/logrus"

	"custody/internal/chain"
	werrors "custody/internal/errors"
	"custody/internal/retry"
	"custody/internal/seed"
	"custody/pkg/models"
)

const (
	// DerivationPath SLIP-0010 路径（Phantom / Solflare 兼容）
	DerivationPath = "m/44'/501'/0'/0'"
	// Decimals SOL 精度（lamports）
	Decimals int32 = 9
	// Symbol 原生资产符号
	Symbol = "SOL"

	defaultLamportsPerSignature uint64 = 5000
)

// TokenAccount SPL 代币账户
type TokenAccount struct {
	Account  string
	Mint     string
	Amount   string // 最小单位
	Decimals int32
}

// RPC Solana 节点接口
type RPC interface {
	GetBalance(ctx context.Context, owner solana.PublicKey) (uint64, error)
	GetTokenAccounts(ctx context.Context, owner solana.PublicKey) ([]TokenAccount, error)
}

// Config Solana 适配器配置
type Config struct {
	LamportsPerSignature uint64
	// 已知的 mint 元数据，用于补充符号和名称
	Tokens     []chain.TokenSpec
	RPCTimeout time.Duration
}

// Adapter Solana 链适配器
type Adapter struct {
	rpc     RPC
	config  Config
	retrier *retry.Retrier
	logger  *logrus.Logger
}

// NewAdapter 创建 Solana 适配器
func NewAdapter(rpc RPC, config Config, retrier *retry.Retrier, logger *logrus.Logger) *Adapter {
	if config.LamportsPerSignature == 0 {
		config.LamportsPerSignature = defaultLamportsPerSignature
	}
	if config.RPCTimeout <= 0 {
		config.RPCTimeout = 10 * time.Second
	}
	if retrier == nil {
		retrier = retry.NewRetrier(retry.DefaultRetryConfig(), logger)
	}
	return &Adapter{rpc: rpc, config: config, retrier: retrier, logger: logger}
}

// Type 链类型
func (a *Adapter) Type() models.ChainType { return models.ChainSOL }

// NativeSymbol 原生资产符号
func (a *Adapter) NativeSymbol() string { return Symbol }

// Decimals 原生资产精度
func (a *Adapter) Decimals() int32 { return Decimals }

// DeriveAddress 地址即 ed25519 公钥的 base58 编码
func (a *Adapter) DeriveAddress(seedBytes []byte) (*chain.DerivedKey, error) {
	priv, err := seed.DeriveEd25519(seedBytes, DerivationPath)
	if err != nil {
		return nil, err
	}
	pub := solana.PublicKeyFromBytes(priv.Public().(ed25519.PublicKey))
	return &chain.DerivedKey{
		Address:   pub.String(),
		PublicKey: pub.String(),
		Path:      DerivationPath,
	}, nil
}

// ValidateAddress 校验 base58 编码的 32 字节公钥
func (a *Adapter) ValidateAddress(address string) error {
	if _, err := solana.PublicKeyFromBase58(address); err != nil {
		return werrors.ErrInvalidAddress(address)
	}
	return nil
}

// CanonicalAddress base58 公钥只有一种编码
func (a *Adapter) CanonicalAddress(address string) (string, error) {
	pk, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return "", werrors.ErrInvalidAddress(address)
	}
	return pk.String(), nil
}

// NativeBalance 查询 SOL 余额
func (a *Adapter) NativeBalance(ctx context.Context, address string) (string, error) {
	owner, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return "", werrors.ErrInvalidAddress(address)
	}
	if a.rpc == nil {
		return "", chain.BalanceError(models.ChainSOL, errNoClient)
	}

	var lamports uint64
	err = a.retrier.Execute(ctx, "getBalance", func() error {
		callCtx, cancel := context.WithTimeout(ctx, a.config.RPCTimeout)
		defer cancel()
		var err error
		lamports, err = a.rpc.GetBalance(callCtx, owner)
		return err
	})
	if err != nil {
		a.logger.WithError(err).WithField("address", address).Warn("查询SOL余额失败")
		return "", chain.BalanceError(models.ChainSOL, chain.RPCError(models.ChainSOL, "getBalance", err))
	}
	return chain.FromBaseUnits(new(big.Int).SetUint64(lamports), Decimals), nil
}

// TokenBalances 实时查询 getTokenAccountsByOwner，同一 mint 的多个账户合并
func (a *Adapter) TokenBalances(ctx context.Context, address string) ([]models.TokenInfo, error) {
	owner, err := solana.PublicKeyFromBase58(address)
	if err != nil {
		return nil, werrors.ErrInvalidAddress(address)
	}
	if a.rpc == nil {
		return nil, chain.BalanceError(models.ChainSOL, errNoClient)
	}

	var accounts []TokenAccount
	err = a.retrier.Execute(ctx, "getTokenAccountsByOwner", func() error {
		callCtx, cancel := context.WithTimeout(ctx, a.config.RPCTimeout)
		defer cancel()
		var err error
		accounts, err = a.rpc.GetTokenAccounts(callCtx, owner)
		return err
	})
	if err != nil {
		a.logger.WithError(err).WithField("address", address).Warn("查询SPL代币账户失败")
		return nil, chain.BalanceError(models.ChainSOL, chain.RPCError(models.ChainSOL, "getTokenAccountsByOwner", err))
	}

	tokens, err := a.aggregate(accounts)
	if err != nil {
		a.logger.WithError(err).WithField("address", address).Warn("SPL代币持仓数据无效")
		return nil, chain.BalanceError(models.ChainSOL, err)
	}
	return tokens, nil
}

// EstimateTransfer 签名数 × 每签名 lamports
func (a *Adapter) EstimateTransfer(ctx context.Context, req *chain.TransferRequest) (*chain.Estimate, error) {
	if err := a.ValidateAddress(req.From); err != nil {
		return nil, err
	}
	if err := a.ValidateAddress(req.To); err != nil {
		return nil, err
	}
	if req.IsToken() {
		if err := a.ValidateAddress(*req.TokenAddress); err != nil {
			return nil, err
		}
	} else if _, err := chain.ToBaseUnits(req.Amount, Decimals); err != nil {
		return nil, werrors.ErrInvalidAmount(req.Amount).WithContext("reason", err.Error())
	}

	signatures := uint64(1)
	fee := new(big.Int).SetUint64(signatures * a.config.LamportsPerSignature)
	return &chain.Estimate{
		GasLimit: signatures,
		GasPrice: new(big.Int).SetUint64(a.config.LamportsPerSignature),
		Fee:      chain.FromBaseUnits(fee, Decimals),
		Symbol:   Symbol,
	}, nil
}
