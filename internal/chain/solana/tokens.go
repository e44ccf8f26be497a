package solana

import (
	"errors"
	"fmt"
	"math/big"
	"sort"

	"custody/internal/chain"
	"custody/pkg/models"
)

var errNoClient = errors.New("未配置Solana RPC客户端")

// aggregate 按 mint 合并代币账户余额，并补充已知的元数据。任一账户余额无法解析时整体失败
func (a *Adapter) aggregate(accounts []TokenAccount) ([]models.TokenInfo, error) {
	type holding struct {
		amount   *big.Int
		decimals int32
	}
	byMint := make(map[string]*holding)
	for _, acc := range accounts {
		amount, ok := new(big.Int).SetString(acc.Amount, 10)
		if !ok {
			return nil, fmt.Errorf("代币账户 %s 余额无法解析: %q", acc.Account, acc.Amount)
		}
		h, exists := byMint[acc.Mint]
		if !exists {
			h = &holding{amount: new(big.Int), decimals: acc.Decimals}
			byMint[acc.Mint] = h
		}
		h.amount.Add(h.amount, amount)
	}

	mints := make([]string, 0, len(byMint))
	for mint := range byMint {
		mints = append(mints, mint)
	}
	sort.Strings(mints)

	tokens := make([]models.TokenInfo, 0, len(mints))
	for _, mint := range mints {
		h := byMint[mint]
		info := models.TokenInfo{
			TokenAddress: mint,
			Symbol:       shortMint(mint),
			Decimals:     h.decimals,
			Balance:      chain.FromBaseUnits(h.amount, h.decimals),
		}
		if spec, ok := chain.FindToken(a.config.Tokens, mint, func(x, y string) bool { return x == y }); ok {
			if spec.Symbol != "" {
				info.Symbol = spec.Symbol
			}
			info.Name, info.LogoURL = spec.TokenInfoFields()
		}
		tokens = append(tokens, info)
	}
	return tokens, nil
}

// shortMint 未知 mint 使用地址前缀作为符号
func shortMint(mint string) string {
	if len(mint) <= 6 {
		return mint
	}
	return mint[:6]
}
