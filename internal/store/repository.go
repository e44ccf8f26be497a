package store

import (
	"context"

	"custody/pkg/models"
)

// Repository 钱包、交易、交易包与所有权记录的持久化接口
type Repository interface {
	SaveWallet(ctx context.Context, wallet *models.Wallet) error
	GetWallet(ctx context.Context, walletID string) (*models.Wallet, error)
	ListWallets(ctx context.Context) ([]*models.Wallet, error)
	// UpdateWallet 在单个事务内读取、修改并写回钱包
	UpdateWallet(ctx context.Context, walletID string, mutate func(*models.Wallet) error) (*models.Wallet, error)

	SaveTransaction(ctx context.Context, tx *models.Transaction) error
	GetTransaction(ctx context.Context, txID string) (*models.Transaction, error)
	UpdateTransaction(ctx context.Context, txID string, mutate func(*models.Transaction) error) (*models.Transaction, error)
	ListTransactions(ctx context.Context, walletID string) ([]*models.Transaction, error)
	ListBundleTransactions(ctx context.Context, bundleID string) ([]*models.Transaction, error)

	SaveBundle(ctx context.Context, bundle *models.Bundle) error
	GetBundle(ctx context.Context, bundleID string) (*models.Bundle, error)

	// TransferOwnership 追加审计记录并修改钱包，两者在同一事务内提交
	TransferOwnership(ctx context.Context, record *models.OwnershipTransfer, mutate func(*models.Wallet) error) (*models.Wallet, error)
	ListOwnershipTransfers(ctx context.Context, walletID string) ([]*models.OwnershipTransfer, error)

	Close() error
}
