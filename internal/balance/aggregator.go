package balance

import (
	"context"

	"github.com/sirupsen/logrus"

	"custody/internal/chain"
	werrors "custody/internal/errors"
	"custody/internal/store"
	"custody/internal/wallet"
	"custody/pkg/models"
)

// FallbackPolicy 余额不可用时的调用方策略
type FallbackPolicy int

const (
	// FailOnUnavailable 直接返回 BalanceUnavailable
	FailOnUnavailable FallbackPolicy = iota
	// ZeroOnUnavailable 返回零余额并标记 Fallback
	ZeroOnUnavailable
)

// ParseFallbackPolicy 解析配置中的策略名
func ParseFallbackPolicy(name string) FallbackPolicy {
	if name == "zero" {
		return ZeroOnUnavailable
	}
	return FailOnUnavailable
}

// Aggregator 余额聚合：原生余额实时查询，代币列表写穿缓存在钱包记录上
type Aggregator struct {
	repo   store.Repository
	chains *chain.Registry
	locker *wallet.Locker
	logger *logrus.Logger
}

// NewAggregator 创建余额聚合器
func NewAggregator(repo store.Repository, chains *chain.Registry, locker *wallet.Locker, logger *logrus.Logger) *Aggregator {
	if locker == nil {
		locker = wallet.NewLocker()
	}
	return &Aggregator{repo: repo, chains: chains, locker: locker, logger: logger}
}

// GetBalance 实时查询原生余额，从不缓存
func (a *Aggregator) GetBalance(ctx context.Context, walletID string) (*models.Balance, error) {
	w, adapter, err := a.resolve(ctx, walletID)
	if err != nil {
		return nil, err
	}
	amount, err := adapter.NativeBalance(ctx, w.Address)
	if err != nil {
		if we, ok := werrors.As(err); ok {
			we.WithWalletID(walletID)
		}
		return nil, err
	}
	return &models.Balance{
		WalletID:    w.WalletID,
		Address:     w.Address,
		Balance:     amount,
		TokenSymbol: adapter.NativeSymbol(),
	}, nil
}

// GetBalanceWithFallback 按策略处理余额不可用；零值结果带 Fallback 标记
func (a *Aggregator) GetBalanceWithFallback(ctx context.Context, walletID string, policy FallbackPolicy) (*models.Balance, error) {
	bal, err := a.GetBalance(ctx, walletID)
	if err == nil || policy != ZeroOnUnavailable {
		return bal, err
	}
	if !werrors.IsType(err, werrors.ErrorTypeBalanceUnavailable) && !werrors.IsType(err, werrors.ErrorTypeTransport) {
		return nil, err
	}

	w, adapter, rerr := a.resolve(ctx, walletID)
	if rerr != nil {
		return nil, rerr
	}
	a.logger.WithError(err).WithField("wallet_id", walletID).Warn("余额查询失败，按策略返回零值")
	return &models.Balance{
		WalletID:    w.WalletID,
		Address:     w.Address,
		Balance:     "0",
		TokenSymbol: adapter.NativeSymbol(),
		Fallback:    true,
	}, nil
}

// GetTokens 返回钱包代币列表；缓存为空时查询链上并写回钱包记录
func (a *Aggregator) GetTokens(ctx context.Context, walletID string) ([]models.TokenInfo, error) {
	w, err := a.repo.GetWallet(ctx, walletID)
	if err != nil {
		return nil, err
	}
	if len(w.Tokens) > 0 {
		return w.Tokens, nil
	}
	return a.RefreshTokens(ctx, walletID)
}

// RefreshTokens 强制重新查询代币列表并写回
func (a *Aggregator) RefreshTokens(ctx context.Context, walletID string) ([]models.TokenInfo, error) {
	w, adapter, err := a.resolve(ctx, walletID)
	if err != nil {
		return nil, err
	}

	native, err := adapter.NativeBalance(ctx, w.Address)
	if err != nil {
		return nil, err
	}
	tokens, err := adapter.TokenBalances(ctx, w.Address)
	if err != nil {
		return nil, err
	}

	list := make([]models.TokenInfo, 0, len(tokens)+1)
	list = append(list, models.TokenInfo{
		TokenAddress: models.NativeTokenAddress,
		Symbol:       adapter.NativeSymbol(),
		Decimals:     adapter.Decimals(),
		Balance:      native,
	})
	list = append(list, tokens...)

	unlock := a.locker.Lock(walletID)
	defer unlock()

	updated, err := a.repo.UpdateWallet(context.WithoutCancel(ctx), walletID, func(w *models.Wallet) error {
		w.Tokens = list
		return nil
	})
	if err != nil {
		return nil, err
	}

	a.logger.WithFields(logrus.Fields{
		"wallet_id": walletID,
		"tokens":    len(updated.Tokens),
	}).Debug("代币列表已刷新")
	return updated.Tokens, nil
}

func (a *Aggregator) resolve(ctx context.Context, walletID string) (*models.Wallet, chain.Adapter, error) {
	w, err := a.repo.GetWallet(ctx, walletID)
	if err != nil {
		return nil, nil, err
	}
	adapter, err := a.chains.Get(w.ChainType)
	if err != nil {
		return nil, nil, err
	}
	return w, adapter, nil
}
