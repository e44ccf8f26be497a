package ethereum

import (
	"context"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	lru "github.com/hashicorp/golang-lru"
	"github.com/sirupsen/logrus"

	"custody/internal/chain"
	werrors "custody/internal/errors"
	"custody/internal/retry"
	"custody/internal/seed"
	"custody/pkg/models"
)

const (
	// DerivationPath BIP-44 以太坊路径
	DerivationPath = "m/44'/60'/0'/0/0"
	// Decimals ETH 精度
	Decimals int32 = 18
	// Symbol 原生资产符号
	Symbol = "ETH"

	metadataCacheSize = 256
)

// RPC 以太坊节点接口，*ethclient.Client 满足该接口
type RPC interface {
	BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
}

// Config 以太坊适配器配置
type Config struct {
	Tokens          []chain.TokenSpec
	MaxGasPriceGwei int64
	RPCTimeout      time.Duration
}

// Adapter 以太坊链适配器
type Adapter struct {
	rpc     RPC
	config  Config
	retrier *retry.Retrier
	logger  *logrus.Logger
	abi     abi.ABI

	// 合约元数据缓存（symbol / decimals）
	metadata *lru.Cache
}

type tokenMetadata struct {
	Symbol   string
	Decimals int32
}

// NewAdapter 创建以太坊适配器，rpc 为 nil 时只能派生地址
func NewAdapter(rpc RPC, config Config, retrier *retry.Retrier, logger *logrus.Logger) (*Adapter, error) {
	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	if err != nil {
		return nil, err
	}
	cache, err := lru.New(metadataCacheSize)
	if err != nil {
		return nil, err
	}
	if retrier == nil {
		retrier = retry.NewRetrier(retry.DefaultRetryConfig(), logger)
	}
	if config.RPCTimeout <= 0 {
		config.RPCTimeout = 10 * time.Second
	}
	return &Adapter{
		rpc:      rpc,
		config:   config,
		retrier:  retrier,
		logger:   logger,
		abi:      parsed,
		metadata: cache,
	}, nil
}

// Type 链类型
func (a *Adapter) Type() models.ChainType { return models.ChainETH }

// NativeSymbol 原生资产符号
func (a *Adapter) NativeSymbol() string { return Symbol }

// Decimals 原生资产精度
func (a *Adapter) Decimals() int32 { return Decimals }

// DeriveAddress 派生 EIP-55 校验和地址与压缩公钥
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
	return &chain.DerivedKey{
		Address:   crypto.PubkeyToAddress(key.PublicKey).Hex(),
		PublicKey: hexutil.Encode(crypto.CompressPubkey(&key.PublicKey)),
		Path:      DerivationPath,
	}, nil
}

// ValidateAddress 校验 0x 开头的 20 字节地址，大小写混合时必须符合 EIP-55
func (a *Adapter) ValidateAddress(address string) error {
	if !strings.HasPrefix(address, "0x") || !common.IsHexAddress(address) {
		return werrors.ErrInvalidAddress(address)
	}
	body := address[2:]
	if strings.ToLower(body) != body && strings.ToUpper(body) != body {
		if common.HexToAddress(address).Hex() != address {
			return werrors.ErrInvalidAddress(address).WithContext("reason", "EIP-55 校验和不匹配")
		}
	}
	return nil
}

// CanonicalAddress 返回 EIP-55 校验和形式
func (a *Adapter) CanonicalAddress(address string) (string, error) {
	if err := a.ValidateAddress(address); err != nil {
		return "", err
	}
	return common.HexToAddress(address).Hex(), nil
}

// NativeBalance 查询 ETH 余额
func (a *Adapter) NativeBalance(ctx context.Context, address string) (string, error) {
	if err := a.ValidateAddress(address); err != nil {
		return "", err
	}
	if a.rpc == nil {
		return "", chain.BalanceError(models.ChainETH, errNoClient)
	}

	var wei *big.Int
	err := a.retrier.Execute(ctx, "eth_getBalance", func() error {
		callCtx, cancel := context.WithTimeout(ctx, a.config.RPCTimeout)
		defer cancel()
		var err error
		wei, err = a.rpc.BalanceAt(callCtx, common.HexToAddress(address), nil)
		return err
	})
	if err != nil {
		a.logger.WithError(err).WithField("address", address).Warn("查询ETH余额失败")
		return "", chain.BalanceError(models.ChainETH, chain.RPCError(models.ChainETH, "eth_getBalance", err))
	}
	return chain.FromBaseUnits(wei, Decimals), nil
}

// TokenBalances 按配置的 ERC-20 列表查询 balanceOf
func (a *Adapter) TokenBalances(ctx context.Context, address string) ([]models.TokenInfo, error) {
	if len(a.config.Tokens) == 0 {
		return nil, werrors.ErrCapabilityNotSupported(string(models.ChainETH), "token_balances").
			WithContext("reason", "未配置 ERC-20 代币列表")
	}
	if err := a.ValidateAddress(address); err != nil {
		return nil, err
	}
	if a.rpc == nil {
		return nil, chain.BalanceError(models.ChainETH, errNoClient)
	}

	tokens := make([]models.TokenInfo, 0, len(a.config.Tokens))
	for _, spec := range a.config.Tokens {
		meta, err := a.tokenMetadata(ctx, spec)
		if err != nil {
			return nil, chain.BalanceError(models.ChainETH, err)
		}
		raw, err := a.erc20Balance(ctx, spec.Address, address)
		if err != nil {
			a.logger.WithError(err).WithFields(logrus.Fields{
				"address": address,
				"token":   spec.Address,
			}).Warn("查询ERC-20余额失败")
			return nil, chain.BalanceError(models.ChainETH, err)
		}
		name, logo := spec.TokenInfoFields()
		tokens = append(tokens, models.TokenInfo{
			TokenAddress: common.HexToAddress(spec.Address).Hex(),
			Symbol:       meta.Symbol,
			Decimals:     meta.Decimals,
			Balance:      chain.FromBaseUnits(raw, meta.Decimals),
			Name:         name,
			LogoURL:      logo,
		})
	}
	return tokens, nil
}

// EstimateTransfer eth_estimateGas + eth_gasPrice，gas价格受配置上限约束
func (a *Adapter) EstimateTransfer(ctx context.Context, req *chain.TransferRequest) (*chain.Estimate, error) {
	if err := a.ValidateAddress(req.From); err != nil {
		return nil, err
	}
	if err := a.ValidateAddress(req.To); err != nil {
		return nil, err
	}
	if a.rpc == nil {
		return nil, chain.RPCError(models.ChainETH, "eth_estimateGas", errNoClient)
	}

	msg, err := a.buildCallMsg(ctx, req)
	if err != nil {
		return nil, err
	}

	var gasLimit uint64
	err = a.retrier.Execute(ctx, "eth_estimateGas", func() error {
		callCtx, cancel := context.WithTimeout(ctx, a.config.RPCTimeout)
		defer cancel()
		var err error
		gasLimit, err = a.rpc.EstimateGas(callCtx, msg)
		return err
	})
	if err != nil {
		return nil, chain.RPCError(models.ChainETH, "eth_estimateGas", err)
	}

	var gasPrice *big.Int
	err = a.retrier.Execute(ctx, "eth_gasPrice", func() error {
		callCtx, cancel := context.WithTimeout(ctx, a.config.RPCTimeout)
		defer cancel()
		var err error
		gasPrice, err = a.rpc.SuggestGasPrice(callCtx)
		return err
	})
	if err != nil {
		return nil, chain.RPCError(models.ChainETH, "eth_gasPrice", err)
	}

	if a.config.MaxGasPriceGwei > 0 {
		maxPrice := new(big.Int).Mul(big.NewInt(a.config.MaxGasPriceGwei), big.NewInt(1e9))
		if gasPrice.Cmp(maxPrice) > 0 {
			a.logger.WithFields(logrus.Fields{
				"suggested": gasPrice.String(),
				"max":       maxPrice.String(),
			}).Debug("gas价格超过上限，使用上限值")
			gasPrice = maxPrice
		}
	}

	fee := new(big.Int).Mul(new(big.Int).SetUint64(gasLimit), gasPrice)
	return &chain.Estimate{
		GasLimit: gasLimit,
		GasPrice: gasPrice,
		Fee:      chain.FromBaseUnits(fee, Decimals),
		Symbol:   Symbol,
	}, nil
}

// buildCallMsg 构造估算用的调用消息
func (a *Adapter) buildCallMsg(ctx context.Context, req *chain.TransferRequest) (ethereum.CallMsg, error) {
	from := common.HexToAddress(req.From)
	to := common.HexToAddress(req.To)

	if !req.IsToken() {
		value, err := chain.ToBaseUnits(req.Amount, Decimals)
		if err != nil {
			return ethereum.CallMsg{}, werrors.ErrInvalidAmount(req.Amount).WithContext("reason", err.Error())
		}
		msg := ethereum.CallMsg{From: from, To: &to, Value: value}
		if req.Data != nil && *req.Data != "" {
			data, err := hexutil.Decode(*req.Data)
			if err != nil {
				return ethereum.CallMsg{}, werrors.NewWalletError(werrors.ErrorTypeValidation, werrors.SeverityLow,
					werrors.CodeInvalidData, "交易数据必须是0x开头的十六进制")
			}
			msg.Data = data
		}
		return msg, nil
	}

	if err := a.ValidateAddress(*req.TokenAddress); err != nil {
		return ethereum.CallMsg{}, err
	}
	spec, ok := chain.FindToken(a.config.Tokens, *req.TokenAddress, strings.EqualFold)
	if !ok {
		spec = chain.TokenSpec{Address: *req.TokenAddress}
	}
	meta, err := a.tokenMetadata(ctx, spec)
	if err != nil {
		return ethereum.CallMsg{}, chain.RPCError(models.ChainETH, "erc20_metadata", err)
	}
	amount, err := chain.ToBaseUnits(req.Amount, meta.Decimals)
	if err != nil {
		return ethereum.CallMsg{}, werrors.ErrInvalidAmount(req.Amount).WithContext("reason", err.Error())
	}
	data, err := a.abi.Pack("transfer", to, amount)
	if err != nil {
		return ethereum.CallMsg{}, werrors.WrapError(err, werrors.ErrorTypeValidation, werrors.SeverityLow,
			werrors.CodeInvalidData, "ERC-20 transfer 编码失败")
	}
	contract := common.HexToAddress(*req.TokenAddress)
	return ethereum.CallMsg{From: from, To: &contract, Data: data}, nil
}
