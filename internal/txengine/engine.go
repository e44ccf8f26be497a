package txengine

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"custody/internal/chain"
	werrors "custody/internal/errors"
	"custody/internal/logging"
	"custody/internal/output"
	"custody/internal/store"
	"custody/internal/validation"
	"custody/internal/wallet"
	"custody/pkg/models"
)

// Engine 交易引擎：提交、模拟、交易包与状态流转
type Engine struct {
	repo        store.Repository
	chains      *chain.Registry
	validator   *validation.Validator
	broadcaster Broadcaster
	output      output.Output
	locker      *wallet.Locker
	logger      *logrus.Logger
}

// SubmitRequest 提交交易请求
type SubmitRequest struct {
	WalletID string `json:"wallet_id"`
	models.TransferSpec
	UseSponsor bool `json:"use_sponsor"`
}

// SimulateRequest 模拟交易请求
type SimulateRequest struct {
	WalletID string `json:"wallet_id"`
	models.TransferSpec
}

// BundleRequest 创建交易包请求
type BundleRequest struct {
	WalletID     string                `json:"wallet_id"`
	Transactions []models.TransferSpec `json:"transactions"`
	Name         *string               `json:"name,omitempty"`
	Description  *string               `json:"description,omitempty"`
	UseSponsor   bool                  `json:"use_sponsor"`
}

// BundleResult 交易包及其成员交易
type BundleResult struct {
	Bundle       *models.Bundle        `json:"bundle"`
	Transactions []*models.Transaction `json:"transactions"`
}

// NewEngine 创建交易引擎，broadcaster 可为 nil
func NewEngine(repo store.Repository, chains *chain.Registry, validator *validation.Validator,
	broadcaster Broadcaster, out output.Output, locker *wallet.Locker, logger *logrus.Logger) *Engine {
	if out == nil {
		out = output.NopOutput{}
	}
	if locker == nil {
		locker = wallet.NewLocker()
	}
	return &Engine{
		repo:        repo,
		chains:      chains,
		validator:   validator,
		broadcaster: broadcaster,
		output:      out,
		locker:      locker,
		logger:      logger,
	}
}

// Submit 提交交易。开始持久化后不再响应调用方取消；广播失败时记录为 failed 并返回错误
func (e *Engine) Submit(ctx context.Context, req SubmitRequest) (*models.Transaction, error) {
	w, adapter, err := e.resolveWallet(ctx, req.WalletID)
	if err != nil {
		return nil, err
	}

	tx, err := e.build(ctx, w, adapter, &req.TransferSpec, req.UseSponsor)
	if err != nil {
		return nil, err
	}
	return e.record(context.WithoutCancel(ctx), w, tx)
}

// Simulate 模拟交易，只做费用估算，不写入任何记录
func (e *Engine) Simulate(ctx context.Context, req SimulateRequest) (*models.Transaction, error) {
	w, adapter, err := e.resolveWallet(ctx, req.WalletID)
	if err != nil {
		return nil, err
	}

	spec := &req.TransferSpec
	if err := e.validate(w, adapter, spec); err != nil {
		return nil, err
	}

	estimate, err := adapter.EstimateTransfer(ctx, e.transferRequest(w, spec))
	if err != nil {
		return nil, err
	}

	tx := e.newTransaction(w, adapter, spec)
	tx.TokenSymbol = resolveSymbol(w, adapter, spec.TokenAddress)
	tx.Status = models.TxStatusSimulated
	applyEstimate(tx, estimate)

	e.logger.WithFields(logrus.Fields{
		"wallet_id": w.WalletID,
		"to":        tx.ToAddress,
		"amount":    tx.Amount,
		"fee":       estimate.Fee,
	}).Debug("交易模拟完成")
	return tx, nil
}

// CreateBundle 创建交易包。成员按顺序验证并持久化；第 i 笔失败时返回已落库的成员与 BundleItemError，
// 广播失败的第 i 笔以 failed 状态计入。交易包记录总会写入（complete 或 incomplete）
func (e *Engine) CreateBundle(ctx context.Context, req BundleRequest) (*BundleResult, error) {
	if len(req.Transactions) == 0 {
		return nil, werrors.ErrInvalidRequest("交易包至少需要一笔交易")
	}

	unlock := e.locker.Lock(req.WalletID)
	defer unlock()

	w, adapter, err := e.resolveWallet(ctx, req.WalletID)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	persistCtx := context.WithoutCancel(ctx)
	bundleID := uuid.NewString()
	recorded := make([]*models.Transaction, 0, len(req.Transactions))

	var itemErr *werrors.BundleItemError
	for i := range req.Transactions {
		spec := &req.Transactions[i]

		tx, err := e.build(persistCtx, w, adapter, spec, req.UseSponsor)
		if err == nil {
			tx.BundleID = &bundleID
			tx, err = e.record(persistCtx, w, tx)
		}
		if tx != nil {
			// 广播失败的成员已以 failed 状态落库，同样计入交易包
			recorded = append(recorded, tx)
		}
		if err != nil {
			itemErr = &werrors.BundleItemError{BundleID: bundleID, Index: i + 1, Err: err}
			break
		}
	}

	bundle := &models.Bundle{
		BundleID:         bundleID,
		WalletID:         w.WalletID,
		Name:             req.Name,
		Description:      req.Description,
		TransactionCount: len(recorded),
		Timestamp:        time.Now().UTC(),
		Status:           models.BundleComplete,
	}
	if itemErr != nil {
		failed := itemErr.Index
		bundle.Status = models.BundleIncomplete
		bundle.FailedIndex = &failed
	}

	if err := e.repo.SaveBundle(persistCtx, bundle); err != nil {
		return &BundleResult{Transactions: recorded}, err
	}
	if err := e.output.WriteBundle(bundle); err != nil {
		e.logger.WithError(err).WithField("bundle_id", bundleID).Warn("输出交易包事件失败")
	}

	entry := e.logger.WithFields(logrus.Fields{
		"wallet_id": w.WalletID,
		"bundle_id": bundleID,
		"recorded":  len(recorded),
		"requested": len(req.Transactions),
	})
	result := &BundleResult{Bundle: bundle, Transactions: recorded}
	if itemErr != nil {
		entry.WithError(itemErr.Err).Warnf("交易包第 %d 笔交易失败", itemErr.Index)
		return result, itemErr
	}
	entry.Info("交易包已创建")
	return result, nil
}

// UpdateStatus 推进交易状态，只允许 pending -> confirmed/failed
func (e *Engine) UpdateStatus(ctx context.Context, txID string, status models.TxStatus, txHash *string) (*models.Transaction, error) {
	updated, err := e.repo.UpdateTransaction(ctx, txID, func(t *models.Transaction) error {
		if !t.Status.CanTransitionTo(status) {
			return werrors.ErrIllegalTransition(string(t.Status), string(status)).WithTxID(t.TxID)
		}
		t.Status = status
		if txHash != nil && *txHash != "" {
			t.TxHash = txHash
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.WithFields(logrus.Fields{
		"tx_id":  txID,
		"status": status,
	}).Info("交易状态已更新")
	e.publish(updated)
	return updated, nil
}

// GetTransaction 获取交易
func (e *Engine) GetTransaction(ctx context.Context, txID string) (*models.Transaction, error) {
	return e.repo.GetTransaction(ctx, txID)
}

// ListTransactions 钱包的交易历史
func (e *Engine) ListTransactions(ctx context.Context, walletID string) ([]*models.Transaction, error) {
	if _, err := e.repo.GetWallet(ctx, walletID); err != nil {
		return nil, err
	}
	return e.repo.ListTransactions(ctx, walletID)
}

// GetBundle 获取交易包及成员交易
func (e *Engine) GetBundle(ctx context.Context, bundleID string) (*BundleResult, error) {
	bundle, err := e.repo.GetBundle(ctx, bundleID)
	if err != nil {
		return nil, err
	}
	txs, err := e.repo.ListBundleTransactions(ctx, bundleID)
	if err != nil {
		return nil, err
	}
	return &BundleResult{Bundle: bundle, Transactions: txs}, nil
}

// resolveWallet 获取钱包及其链适配器
func (e *Engine) resolveWallet(ctx context.Context, walletID string) (*models.Wallet, chain.Adapter, error) {
	w, err := e.repo.GetWallet(ctx, walletID)
	if err != nil {
		return nil, nil, err
	}
	adapter, err := e.chains.Get(w.ChainType)
	if err != nil {
		return nil, nil, err
	}
	return w, adapter, nil
}

// validate 校验转账参数，代币精度从钱包的代币列表中查找
func (e *Engine) validate(w *models.Wallet, adapter chain.Adapter, spec *models.TransferSpec) error {
	decimals := adapter.Decimals()
	if spec.IsToken() {
		decimals = validation.UnknownDecimals
		if token, ok := findToken(w, *spec.TokenAddress); ok {
			decimals = token.Decimals
		}
	}
	return e.validator.ValidateTransfer(spec, adapter, decimals).Err()
}

// build 构造待提交的交易：校验、赞助解析与尽力而为的费用估算
func (e *Engine) build(ctx context.Context, w *models.Wallet, adapter chain.Adapter, spec *models.TransferSpec, useSponsor bool) (*models.Transaction, error) {
	if err := e.validate(w, adapter, spec); err != nil {
		return nil, err
	}

	tx := e.newTransaction(w, adapter, spec)
	tx.Status = models.TxStatusPending
	if sym := strings.TrimSpace(spec.TokenSymbol); sym != "" {
		tx.TokenSymbol = sym
	} else {
		tx.TokenSymbol = resolveSymbol(w, adapter, spec.TokenAddress)
	}

	if useSponsor {
		if w.HasSponsor() {
			sponsor := *w.SponsorAddress
			tx.IsSponsored = true
			tx.SponsorAddress = &sponsor
		} else {
			e.logger.WithField("wallet_id", w.WalletID).Debug("请求使用赞助但钱包未设置赞助地址")
		}
	}

	estimate, err := adapter.EstimateTransfer(ctx, e.transferRequest(w, spec))
	if err != nil {
		e.logger.WithError(err).WithField("wallet_id", w.WalletID).Warn("费用估算失败，交易不带 gas 信息继续提交")
	} else {
		applyEstimate(tx, estimate)
	}
	return tx, nil
}

// record 持久化交易并在配置了广播器时广播
func (e *Engine) record(ctx context.Context, w *models.Wallet, tx *models.Transaction) (*models.Transaction, error) {
	if err := e.repo.SaveTransaction(ctx, tx); err != nil {
		return nil, err
	}

	if e.broadcaster == nil {
		e.logTransaction(tx, "交易已记录，等待广播")
		e.publish(tx)
		return tx, nil
	}

	result, broadcastErr := e.broadcaster.Broadcast(ctx, w, tx)
	updated, err := e.repo.UpdateTransaction(ctx, tx.TxID, func(t *models.Transaction) error {
		if broadcastErr != nil {
			t.Status = models.TxStatusFailed
			return nil
		}
		if result.TxHash != "" {
			hash := result.TxHash
			t.TxHash = &hash
		}
		t.Demo = result.Demo
		if result.Status != "" && t.Status.CanTransitionTo(result.Status) {
			t.Status = result.Status
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.publish(updated)

	if broadcastErr != nil {
		e.logger.WithError(broadcastErr).WithField("tx_id", tx.TxID).Error("交易广播失败")
		return updated, werrors.WrapError(broadcastErr, werrors.ErrorTypeTransport, werrors.SeverityHigh,
			werrors.CodeBroadcastFailed, "交易广播失败").WithTxID(tx.TxID).WithWalletID(w.WalletID)
	}
	e.logTransaction(updated, "交易已广播")
	return updated, nil
}

func (e *Engine) newTransaction(w *models.Wallet, adapter chain.Adapter, spec *models.TransferSpec) *models.Transaction {
	tx := &models.Transaction{
		TxID:        uuid.NewString(),
		WalletID:    w.WalletID,
		FromAddress: w.Address,
		ToAddress:   strings.TrimSpace(spec.ToAddress),
		Amount:      spec.Amount,
		TokenSymbol: adapter.NativeSymbol(),
		Timestamp:   time.Now().UTC(),
		Data:        spec.Data,
	}
	if spec.IsToken() {
		addr := *spec.TokenAddress
		tx.TokenAddress = &addr
	}
	return tx
}

func (e *Engine) transferRequest(w *models.Wallet, spec *models.TransferSpec) *chain.TransferRequest {
	return &chain.TransferRequest{
		From:         w.Address,
		To:           strings.TrimSpace(spec.ToAddress),
		Amount:       spec.Amount,
		TokenAddress: spec.TokenAddress,
		Data:         spec.Data,
	}
}

func (e *Engine) publish(tx *models.Transaction) {
	if err := e.output.WriteTransaction(tx); err != nil {
		e.logger.WithError(err).WithField("tx_id", tx.TxID).Warn("输出交易事件失败")
	}
}

func (e *Engine) logTransaction(tx *models.Transaction, message string) {
	logging.NewTransactionLogger(e.logger, tx.WalletID, tx.TxID).WithFields(logrus.Fields{
		"status":    tx.Status,
		"amount":    tx.Amount,
		"symbol":    tx.TokenSymbol,
		"sponsored": tx.IsSponsored,
	}).Info(message)
}

// resolveSymbol 按代币地址在钱包代币列表中查找符号，找不到时使用原生符号
func resolveSymbol(w *models.Wallet, adapter chain.Adapter, tokenAddress *string) string {
	if tokenAddress == nil || *tokenAddress == "" {
		return adapter.NativeSymbol()
	}
	if token, ok := findToken(w, *tokenAddress); ok && token.Symbol != "" {
		return token.Symbol
	}
	return adapter.NativeSymbol()
}

func findToken(w *models.Wallet, address string) (models.TokenInfo, bool) {
	hex := strings.HasPrefix(address, "0x")
	for _, t := range w.Tokens {
		if t.TokenAddress == address || (hex && strings.EqualFold(t.TokenAddress, address)) {
			return t, true
		}
	}
	return models.TokenInfo{}, false
}

func applyEstimate(tx *models.Transaction, estimate *chain.Estimate) {
	gasUsed := strconv.FormatUint(estimate.GasLimit, 10)
	tx.GasUsed = &gasUsed
	if estimate.GasPrice != nil {
		gasPrice := estimate.GasPrice.String()
		tx.GasPrice = &gasPrice
	}
}
