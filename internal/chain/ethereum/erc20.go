package ethereum

import (
	"context"
	"errors"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"custody/internal/chain"
	"custody/pkg/models"
)

var errNoClient = errors.New("未配置以太坊RPC客户端")

// ERC-20 ABI（balanceOf / transfer / decimals / symbol）
const erc20ABI = `[
	{"constant":true,"inputs":[{"name":"_owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"balance","type":"uint256"}],"type":"function"},
	{"constant":false,"inputs":[{"name":"_to","type":"address"},{"name":"_value","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"symbol","outputs":[{"name":"","type":"string"}],"type":"function"}
]`

// erc20Balance 调用 balanceOf
func (a *Adapter) erc20Balance(ctx context.Context, contract, owner string) (*big.Int, error) {
	data, err := a.abi.Pack("balanceOf", common.HexToAddress(owner))
	if err != nil {
		return nil, err
	}
	result, err := a.call(ctx, "balanceOf", contract, data)
	if err != nil {
		return nil, err
	}
	// 空返回表示地址从未持有该代币
	if len(result) == 0 {
		return big.NewInt(0), nil
	}
	out, err := a.abi.Unpack("balanceOf", result)
	if err != nil {
		return nil, err
	}
	balance, ok := out[0].(*big.Int)
	if !ok || balance == nil {
		return big.NewInt(0), nil
	}
	return balance, nil
}

// tokenMetadata 配置缺省时从合约读取 symbol / decimals，并写入LRU缓存
func (a *Adapter) tokenMetadata(ctx context.Context, spec chain.TokenSpec) (tokenMetadata, error) {
	if spec.Symbol != "" && spec.Decimals > 0 {
		return tokenMetadata{Symbol: spec.Symbol, Decimals: spec.Decimals}, nil
	}

	key := strings.ToLower(spec.Address)
	if cached, ok := a.metadata.Get(key); ok {
		return cached.(tokenMetadata), nil
	}

	meta := tokenMetadata{Symbol: spec.Symbol, Decimals: spec.Decimals}
	if meta.Decimals == 0 {
		data, _ := a.abi.Pack("decimals")
		result, err := a.call(ctx, "decimals", spec.Address, data)
		if err != nil {
			return tokenMetadata{}, err
		}
		out, err := a.abi.Unpack("decimals", result)
		if err != nil {
			return tokenMetadata{}, err
		}
		if d, ok := out[0].(uint8); ok {
			meta.Decimals = int32(d)
		}
	}
	if meta.Symbol == "" {
		data, _ := a.abi.Pack("symbol")
		result, err := a.call(ctx, "symbol", spec.Address, data)
		if err != nil {
			return tokenMetadata{}, err
		}
		out, err := a.abi.Unpack("symbol", result)
		if err != nil {
			return tokenMetadata{}, err
		}
		if s, ok := out[0].(string); ok {
			meta.Symbol = s
		}
	}

	a.metadata.Add(key, meta)
	return meta, nil
}

// call 带重试与超时的 eth_call
func (a *Adapter) call(ctx context.Context, method, contract string, data []byte) ([]byte, error) {
	to := common.HexToAddress(contract)
	var result []byte
	err := a.retrier.Execute(ctx, "eth_call:"+method, func() error {
		callCtx, cancel := context.WithTimeout(ctx, a.config.RPCTimeout)
		defer cancel()
		var err error
		result, err = a.rpc.CallContract(callCtx, ethereum.CallMsg{To: &to, Data: data}, nil)
		return err
	})
	if err != nil {
		return nil, chain.RPCError(models.ChainETH, "eth_call:"+method, err)
	}
	return result, nil
}
