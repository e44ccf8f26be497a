package custody

import (
	"context"

	"github.com/sirupsen/logrus"

	"custody/internal/balance"
	"custody/internal/chain"
	werrors "custody/internal/errors"
	"custody/internal/output"
	"custody/internal/security"
	"custody/internal/store"
	"custody/internal/txengine"
	"custody/internal/validation"
	"custody/internal/wallet"
	"custody/pkg/models"
)

// Deps 服务依赖
type Deps struct {
	Repo        store.Repository
	Chains      *chain.Registry
	Cipher      *security.MnemonicCipher
	Broadcaster txengine.Broadcaster
	Output      output.Output
	Validator   *validation.Validator
	Fallback    balance.FallbackPolicy
	Logger      *logrus.Logger
}

// Service 托管钱包服务入口，HTTP 与 CLI 都通过它调用核心逻辑
type Service struct {
	wallets  *wallet.Registry
	txs      *txengine.Engine
	balances *balance.Aggregator
	chains   *chain.Registry
	errors   *werrors.ErrorHandler
	fallback balance.FallbackPolicy
	logger   *logrus.Logger
}

// NewService 组装服务，各组件共享同一个钱包锁
func NewService(deps Deps) *Service {
	if deps.Output == nil {
		deps.Output = output.NopOutput{}
	}
	if deps.Validator == nil {
		deps.Validator = validation.NewValidator(deps.Logger, false)
	}

	locker := wallet.NewLocker()
	return &Service{
		wallets:  wallet.NewRegistry(deps.Repo, deps.Chains, deps.Cipher, deps.Output, locker, deps.Logger),
		txs:      txengine.NewEngine(deps.Repo, deps.Chains, deps.Validator, deps.Broadcaster, deps.Output, locker, deps.Logger),
		balances: balance.NewAggregator(deps.Repo, deps.Chains, locker, deps.Logger),
		chains:   deps.Chains,
		errors:   werrors.NewErrorHandler(deps.Logger),
		fallback: deps.Fallback,
		logger:   deps.Logger,
	}
}

// observe 记录错误统计，原样返回错误以保留 BundleItemError 等具体类型
func (s *Service) observe(component string, err error) error {
	if err == nil {
		return nil
	}
	if we, ok := werrors.As(err); ok && we.Component == "" {
		we.WithComponent(component)
	}
	s.errors.HandleError(err)
	return err
}

// ErrorHandler 错误处理器（HTTP 层用于状态码映射与统计）
func (s *Service) ErrorHandler() *werrors.ErrorHandler {
	return s.errors
}

// Chains 已注册的链类型
func (s *Service) Chains() []models.ChainType {
	return s.chains.List()
}

// CreateWallet 创建或导入钱包
func (s *Service) CreateWallet(ctx context.Context, req wallet.CreateRequest) (*wallet.CreateResult, error) {
	result, err := s.wallets.CreateWallet(ctx, req)
	return result, s.observe("wallet", err)
}

// GetWallet 获取钱包
func (s *Service) GetWallet(ctx context.Context, walletID string) (*models.Wallet, error) {
	w, err := s.wallets.GetWallet(ctx, walletID)
	return w, s.observe("wallet", err)
}

// ListWallets 列出钱包
func (s *Service) ListWallets(ctx context.Context) ([]*models.Wallet, error) {
	ws, err := s.wallets.ListWallets(ctx)
	return ws, s.observe("wallet", err)
}

// ExportMnemonic 导出助记词
func (s *Service) ExportMnemonic(ctx context.Context, walletID string) (string, error) {
	m, err := s.wallets.ExportMnemonic(ctx, walletID)
	return m, s.observe("wallet", err)
}

// TransferOwnership 转移所有权
func (s *Service) TransferOwnership(ctx context.Context, walletID string, ref wallet.OwnerRef) (*models.Wallet, error) {
	w, err := s.wallets.TransferOwnership(ctx, walletID, ref)
	return w, s.observe("wallet", err)
}

// OwnershipHistory 所有权转移历史
func (s *Service) OwnershipHistory(ctx context.Context, walletID string) ([]*models.OwnershipTransfer, error) {
	h, err := s.wallets.OwnershipHistory(ctx, walletID)
	return h, s.observe("wallet", err)
}

// SetSponsor 设置或清除赞助地址
func (s *Service) SetSponsor(ctx context.Context, walletID, sponsorAddress string, active bool) (*models.Wallet, error) {
	w, err := s.wallets.SetSponsor(ctx, walletID, sponsorAddress, active)
	return w, s.observe("wallet", err)
}

// GetBalance 查询余额，按配置的策略处理余额不可用
func (s *Service) GetBalance(ctx context.Context, walletID string) (*models.Balance, error) {
	b, err := s.balances.GetBalanceWithFallback(ctx, walletID, s.fallback)
	return b, s.observe("balance", err)
}

// GetTokens 获取代币列表
func (s *Service) GetTokens(ctx context.Context, walletID string, refresh bool) ([]models.TokenInfo, error) {
	var (
		tokens []models.TokenInfo
		err    error
	)
	if refresh {
		tokens, err = s.balances.RefreshTokens(ctx, walletID)
	} else {
		tokens, err = s.balances.GetTokens(ctx, walletID)
	}
	return tokens, s.observe("balance", err)
}

// SubmitTransaction 提交交易
func (s *Service) SubmitTransaction(ctx context.Context, req txengine.SubmitRequest) (*models.Transaction, error) {
	tx, err := s.txs.Submit(ctx, req)
	return tx, s.observe("txengine", err)
}

// SimulateTransaction 模拟交易
func (s *Service) SimulateTransaction(ctx context.Context, req txengine.SimulateRequest) (*models.Transaction, error) {
	tx, err := s.txs.Simulate(ctx, req)
	return tx, s.observe("txengine", err)
}

// CreateBundle 创建交易包
func (s *Service) CreateBundle(ctx context.Context, req txengine.BundleRequest) (*txengine.BundleResult, error) {
	result, err := s.txs.CreateBundle(ctx, req)
	return result, s.observe("txengine", err)
}

// GetBundle 获取交易包
func (s *Service) GetBundle(ctx context.Context, bundleID string) (*txengine.BundleResult, error) {
	result, err := s.txs.GetBundle(ctx, bundleID)
	return result, s.observe("txengine", err)
}

// GetTransaction 获取交易
func (s *Service) GetTransaction(ctx context.Context, txID string) (*models.Transaction, error) {
	tx, err := s.txs.GetTransaction(ctx, txID)
	return tx, s.observe("txengine", err)
}

// ListTransactions 钱包交易历史
func (s *Service) ListTransactions(ctx context.Context, walletID string) ([]*models.Transaction, error) {
	txs, err := s.txs.ListTransactions(ctx, walletID)
	return txs, s.observe("txengine", err)
}

// UpdateTransactionStatus 外部确认回调入口
func (s *Service) UpdateTransactionStatus(ctx context.Context, txID string, status models.TxStatus, txHash *string) (*models.Transaction, error) {
	tx, err := s.txs.UpdateStatus(ctx, txID, status, txHash)
	return tx, s.observe("txengine", err)
}
