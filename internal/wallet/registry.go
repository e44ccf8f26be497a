package wallet

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"custody/internal/chain"
	werrors "custody/internal/errors"
	"custody/internal/logging"
	"custody/internal/output"
	"custody/internal/security"
	"custody/internal/seed"
	"custody/internal/store"
	"custody/pkg/models"
)

// Registry 钱包注册表：创建、导入、所有权转移与赞助设置
type Registry struct {
	repo   store.Repository
	chains *chain.Registry
	cipher *security.MnemonicCipher
	output output.Output
	locker *Locker
	logger *logrus.Logger
}

// CreateRequest 创建钱包请求，Mnemonic 为空时生成新助记词
type CreateRequest struct {
	Name      string
	ChainType string
	Mnemonic  string
}

// CreateResult 创建结果，明文助记词只在这里返回一次
type CreateResult struct {
	Wallet   *models.Wallet `json:"wallet"`
	Mnemonic string         `json:"mnemonic"`
}

// OwnerRef 新所有者：外部地址或受管钱包ID，二选一
type OwnerRef struct {
	Address  string `json:"new_owner_address,omitempty"`
	WalletID string `json:"new_owner_wallet_id,omitempty"`
}

// NewRegistry 创建钱包注册表
func NewRegistry(repo store.Repository, chains *chain.Registry, cipher *security.MnemonicCipher,
	out output.Output, locker *Locker, logger *logrus.Logger) *Registry {
	if out == nil {
		out = output.NopOutput{}
	}
	if locker == nil {
		locker = NewLocker()
	}
	return &Registry{
		repo:   repo,
		chains: chains,
		cipher: cipher,
		output: out,
		locker: locker,
		logger: logger,
	}
}

// Locker 返回共享的钱包锁
func (r *Registry) Locker() *Locker {
	return r.locker
}

// CreateWallet 创建或导入钱包。链类型在任何派生之前校验
func (r *Registry) CreateWallet(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	adapter, err := r.chains.Resolve(req.ChainType)
	if err != nil {
		return nil, err
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, werrors.ErrInvalidRequest("钱包名称不能为空")
	}

	mnemonic := seed.Normalize(req.Mnemonic)
	if mnemonic == "" {
		if mnemonic, err = seed.GenerateMnemonic(); err != nil {
			return nil, err
		}
	}

	seedBytes, err := seed.DeriveSeed(mnemonic)
	if err != nil {
		return nil, err
	}
	key, err := adapter.DeriveAddress(seedBytes)
	if err != nil {
		return nil, err
	}

	sealed, err := r.cipher.Seal(mnemonic)
	if err != nil {
		return nil, err
	}

	wallet := &models.Wallet{
		WalletID:          uuid.NewString(),
		Name:              name,
		ChainType:         adapter.Type(),
		Address:           key.Address,
		PublicKey:         key.PublicKey,
		CreatedAt:         time.Now().UTC(),
		EncryptedMnemonic: sealed,
		Tokens:            []models.TokenInfo{},
	}

	if err := r.repo.SaveWallet(context.WithoutCancel(ctx), wallet); err != nil {
		return nil, err
	}

	logging.NewWalletLogger(r.logger, wallet.WalletID, string(wallet.ChainType)).WithFields(logrus.Fields{
		"address":  wallet.Address,
		"imported": req.Mnemonic != "",
	}).Info("钱包已创建")

	if err := r.output.WriteWallet(wallet); err != nil {
		r.logger.WithError(err).WithField("wallet_id", wallet.WalletID).Warn("输出钱包事件失败")
	}

	return &CreateResult{Wallet: redact(wallet), Mnemonic: mnemonic}, nil
}

// GetWallet 获取钱包（不含助记词密文）
func (r *Registry) GetWallet(ctx context.Context, walletID string) (*models.Wallet, error) {
	wallet, err := r.repo.GetWallet(ctx, walletID)
	if err != nil {
		return nil, err
	}
	return redact(wallet), nil
}

// ListWallets 列出所有钱包
func (r *Registry) ListWallets(ctx context.Context) ([]*models.Wallet, error) {
	wallets, err := r.repo.ListWallets(ctx)
	if err != nil {
		return nil, err
	}
	for i, w := range wallets {
		wallets[i] = redact(w)
	}
	return wallets, nil
}

// TransferOwnership 转移钱包所有权：审计记录与地址修改在同一个存储事务内提交
func (r *Registry) TransferOwnership(ctx context.Context, walletID string, ref OwnerRef) (*models.Wallet, error) {
	unlock := r.locker.Lock(walletID)
	defer unlock()

	wallet, err := r.repo.GetWallet(ctx, walletID)
	if err != nil {
		return nil, err
	}
	adapter, err := r.chains.Get(wallet.ChainType)
	if err != nil {
		return nil, err
	}

	newOwner, err := r.resolveOwner(ctx, ref)
	if err != nil {
		return nil, err
	}
	if newOwner, err = adapter.CanonicalAddress(newOwner); err != nil {
		return nil, err
	}
	if newOwner == wallet.Address {
		return nil, werrors.ErrSameOwner(newOwner)
	}

	record := &models.OwnershipTransfer{
		TransferID: uuid.NewString(),
		WalletID:   walletID,
		OldOwner:   wallet.Address,
		NewOwner:   newOwner,
		Timestamp:  time.Now().UTC(),
	}

	updated, err := r.repo.TransferOwnership(context.WithoutCancel(ctx), record, func(w *models.Wallet) error {
		if w.Address != record.OldOwner {
			return werrors.NewWalletError(werrors.ErrorTypeConflict, werrors.SeverityMedium,
				werrors.CodeConcurrentUpdate, "钱包地址已被并发修改")
		}
		w.Address = newOwner
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.logger.WithFields(logrus.Fields{
		"wallet_id": walletID,
		"old_owner": record.OldOwner,
		"new_owner": record.NewOwner,
	}).Info("钱包所有权已转移")

	if err := r.output.WriteOwnershipTransfer(record); err != nil {
		r.logger.WithError(err).WithField("wallet_id", walletID).Warn("输出所有权转移事件失败")
	}
	return redact(updated), nil
}

// resolveOwner 受管钱包ID解析为其当前地址
func (r *Registry) resolveOwner(ctx context.Context, ref OwnerRef) (string, error) {
	address := strings.TrimSpace(ref.Address)
	ownerWallet := strings.TrimSpace(ref.WalletID)

	switch {
	case address != "" && ownerWallet != "":
		return "", werrors.ErrInvalidRequest("new_owner_address 与 new_owner_wallet_id 只能提供一个")
	case address != "":
		return address, nil
	case ownerWallet != "":
		owner, err := r.repo.GetWallet(ctx, ownerWallet)
		if err != nil {
			return "", err
		}
		return owner.Address, nil
	default:
		return "", werrors.ErrInvalidRequest("必须提供新所有者地址或钱包ID")
	}
}

// OwnershipHistory 所有权转移记录，按时间顺序
func (r *Registry) OwnershipHistory(ctx context.Context, walletID string) ([]*models.OwnershipTransfer, error) {
	if _, err := r.repo.GetWallet(ctx, walletID); err != nil {
		return nil, err
	}
	return r.repo.ListOwnershipTransfers(ctx, walletID)
}

// SetSponsor 设置或清除赞助地址。active=false 时清除引用
func (r *Registry) SetSponsor(ctx context.Context, walletID, sponsorAddress string, active bool) (*models.Wallet, error) {
	unlock := r.locker.Lock(walletID)
	defer unlock()

	wallet, err := r.repo.GetWallet(ctx, walletID)
	if err != nil {
		return nil, err
	}

	sponsorAddress = strings.TrimSpace(sponsorAddress)
	if active {
		adapter, err := r.chains.Get(wallet.ChainType)
		if err != nil {
			return nil, err
		}
		if sponsorAddress, err = adapter.CanonicalAddress(sponsorAddress); err != nil {
			return nil, err
		}
	}

	updated, err := r.repo.UpdateWallet(ctx, walletID, func(w *models.Wallet) error {
		if active {
			w.SponsorAddress = &sponsorAddress
		} else {
			w.SponsorAddress = nil
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.logger.WithFields(logrus.Fields{
		"wallet_id": walletID,
		"sponsor":   sponsorAddress,
		"active":    active,
	}).Info("赞助设置已更新")
	return redact(updated), nil
}

// ExportMnemonic 解密并返回钱包助记词
func (r *Registry) ExportMnemonic(ctx context.Context, walletID string) (string, error) {
	wallet, err := r.repo.GetWallet(ctx, walletID)
	if err != nil {
		return "", err
	}
	mnemonic, err := r.cipher.Open(wallet.EncryptedMnemonic)
	if err != nil {
		return "", err
	}
	r.logger.WithField("wallet_id", walletID).Warn("助记词已导出")
	return mnemonic, nil
}

// redact 对外返回的钱包不携带助记词密文
func redact(w *models.Wallet) *models.Wallet {
	c := w.Clone()
	c.EncryptedMnemonic = ""
	return c
}
