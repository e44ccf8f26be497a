package txengine

import (
	"context"
	"errors"
	"io"
	"math/big"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"custody/internal/chain"
	eth "custody/internal/chain/ethereum"
	werrors "custody/internal/errors"
	"custody/internal/retry"
	"custody/internal/security"
	"custody/internal/store"
	"custody/internal/validation"
	"custody/internal/wallet"
	"custody/pkg/models"
)

const recipient = "0x000000000000000000000000000000000000dEaD"

type fakeRPC struct {
	mu          sync.Mutex
	balance     *big.Int
	estimateErr error
	estimates   int
}

func (f *fakeRPC) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	return f.balance, nil
}

func (f *fakeRPC) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return nil, errors.New("unexpected contract call")
}

func (f *fakeRPC) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.estimates++
	if f.estimateErr != nil {
		return 0, f.estimateErr
	}
	return 21000, nil
}

func (f *fakeRPC) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(20_000_000_000), nil
}

type failingBroadcaster struct{}

func (failingBroadcaster) Broadcast(ctx context.Context, w *models.Wallet, tx *models.Transaction) (*BroadcastResult, error) {
	return nil, errors.New("node rejected transaction")
}

type testEnv struct {
	engine   *Engine
	wallets  *wallet.Registry
	repo     *store.BoltStore
	rpc      *fakeRPC
	adapter  *eth.Adapter
	walletID string
}

func newTestEnv(t *testing.T, broadcaster Broadcaster) *testEnv {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	repo, err := store.NewBoltStore(filepath.Join(t.TempDir(), "custody.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	rpc := &fakeRPC{balance: big.NewInt(3_000_000_000_000_000_000)}
	adapter, err := eth.NewAdapter(rpc, eth.Config{}, retry.NewRetrier(retry.NoRetryConfig(), logger), logger)
	require.NoError(t, err)
	chains := chain.NewRegistry(adapter)

	cipher, err := security.NewMnemonicCipher("", security.KDFParams{}, true)
	require.NoError(t, err)
	locker := wallet.NewLocker()
	wallets := wallet.NewRegistry(repo, chains, cipher, nil, locker, logger)

	created, err := wallets.CreateWallet(context.Background(), wallet.CreateRequest{Name: "A", ChainType: "ETH"})
	require.NoError(t, err)

	engine := NewEngine(repo, chains, validation.NewValidator(logger, false), broadcaster, nil, locker, logger)
	return &testEnv{engine: engine, wallets: wallets, repo: repo, rpc: rpc, adapter: adapter, walletID: created.Wallet.WalletID}
}

func strPtr(s string) *string { return &s }

func TestSimulate_EthereumScenario(t *testing.T) {
	env := newTestEnv(t, NewDemoBroadcaster())
	ctx := context.Background()

	w, err := env.wallets.GetWallet(ctx, env.walletID)
	require.NoError(t, err)
	before, err := env.adapter.NativeBalance(ctx, w.Address)
	require.NoError(t, err)

	tx, err := env.engine.Simulate(ctx, SimulateRequest{
		WalletID:     env.walletID,
		TransferSpec: models.TransferSpec{ToAddress: recipient, Amount: "1.5"},
	})
	require.NoError(t, err)

	assert.Equal(t, models.TxStatusSimulated, tx.Status)
	assert.Equal(t, "ETH", tx.TokenSymbol)
	assert.Equal(t, "1.5", tx.Amount)
	require.NotNil(t, tx.GasUsed)
	assert.Equal(t, "21000", *tx.GasUsed)
	require.NotNil(t, tx.GasPrice)
	assert.Equal(t, "20000000000", *tx.GasPrice)
	assert.Nil(t, tx.TxHash)
	assert.Equal(t, 1, env.rpc.estimates)

	txs, err := env.engine.ListTransactions(ctx, env.walletID)
	require.NoError(t, err)
	assert.Empty(t, txs)

	_, err = env.engine.GetTransaction(ctx, tx.TxID)
	assert.ErrorIs(t, err, werrors.ErrTransactionNotFound())

	after, err := env.adapter.NativeBalance(ctx, w.Address)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestSimulate_ResolvesTokenSymbol(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	usdt := "0xdAC17F958D2ee523a2206206994597C13D831ec7"

	_, err := env.repo.UpdateWallet(ctx, env.walletID, func(w *models.Wallet) error {
		w.Tokens = []models.TokenInfo{
			{TokenAddress: models.NativeTokenAddress, Symbol: "ETH", Decimals: 18, Balance: "3"},
			{TokenAddress: usdt, Symbol: "USDT", Decimals: 6, Balance: "10"},
		}
		return nil
	})
	require.NoError(t, err)

	w, err := env.repo.GetWallet(ctx, env.walletID)
	require.NoError(t, err)

	assert.Equal(t, "USDT", resolveSymbol(w, env.adapter, strPtr(strings.ToLower(usdt))))
	assert.Equal(t, "ETH", resolveSymbol(w, env.adapter, strPtr("0x1111111111111111111111111111111111111111")))
	assert.Equal(t, "ETH", resolveSymbol(w, env.adapter, nil))

	_, err = env.engine.Simulate(ctx, SimulateRequest{
		WalletID:     env.walletID,
		TransferSpec: models.TransferSpec{ToAddress: recipient, Amount: "1.1234567", TokenAddress: strPtr(usdt)},
	})
	assert.ErrorIs(t, err, werrors.ErrInvalidAmount(""))
}

func TestSimulate_EstimateFailureIsReturned(t *testing.T) {
	env := newTestEnv(t, nil)
	env.rpc.estimateErr = errors.New("execution reverted")

	_, err := env.engine.Simulate(context.Background(), SimulateRequest{
		WalletID:     env.walletID,
		TransferSpec: models.TransferSpec{ToAddress: recipient, Amount: "1"},
	})
	require.Error(t, err)
	assert.True(t, werrors.IsType(err, werrors.ErrorTypeTransport))
}

func TestSubmit_WithoutBroadcasterStaysPending(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	amount := "100.123456789012345678"

	tx, err := env.engine.Submit(ctx, SubmitRequest{
		WalletID:     env.walletID,
		TransferSpec: models.TransferSpec{ToAddress: recipient, Amount: amount},
	})
	require.NoError(t, err)
	assert.Equal(t, models.TxStatusPending, tx.Status)
	assert.Nil(t, tx.TxHash)
	assert.False(t, tx.Demo)

	stored, err := env.engine.GetTransaction(ctx, tx.TxID)
	require.NoError(t, err)
	assert.Equal(t, amount, stored.Amount)
	assert.Equal(t, "21000", *stored.GasUsed)

	confirmed, err := env.engine.UpdateStatus(ctx, tx.TxID, models.TxStatusConfirmed, strPtr("0xabc"))
	require.NoError(t, err)
	assert.Equal(t, models.TxStatusConfirmed, confirmed.Status)
	assert.Equal(t, "0xabc", *confirmed.TxHash)

	_, err = env.engine.UpdateStatus(ctx, tx.TxID, models.TxStatusFailed, nil)
	assert.ErrorIs(t, err, werrors.ErrIllegalTransition("", ""))

	stored, err = env.engine.GetTransaction(ctx, tx.TxID)
	require.NoError(t, err)
	assert.Equal(t, models.TxStatusConfirmed, stored.Status)
}

func TestSubmit_DemoBroadcasterConfirmsAndLabels(t *testing.T) {
	env := newTestEnv(t, NewDemoBroadcaster())

	tx, err := env.engine.Submit(context.Background(), SubmitRequest{
		WalletID:     env.walletID,
		TransferSpec: models.TransferSpec{ToAddress: recipient, Amount: "0.25"},
	})
	require.NoError(t, err)
	assert.Equal(t, models.TxStatusConfirmed, tx.Status)
	assert.True(t, tx.Demo)
	require.NotNil(t, tx.TxHash)
	assert.True(t, strings.HasPrefix(*tx.TxHash, DemoHashPrefix))
	assert.Len(t, *tx.TxHash, len(DemoHashPrefix)+32)
}

func TestSubmit_BroadcastFailureRecordsFailed(t *testing.T) {
	env := newTestEnv(t, failingBroadcaster{})
	ctx := context.Background()

	tx, err := env.engine.Submit(ctx, SubmitRequest{
		WalletID:     env.walletID,
		TransferSpec: models.TransferSpec{ToAddress: recipient, Amount: "1"},
	})
	require.Error(t, err)
	we, ok := werrors.As(err)
	require.True(t, ok)
	assert.Equal(t, werrors.CodeBroadcastFailed, we.Code)

	require.NotNil(t, tx)
	stored, err := env.engine.GetTransaction(ctx, tx.TxID)
	require.NoError(t, err)
	assert.Equal(t, models.TxStatusFailed, stored.Status)
}

func TestSubmit_EstimateIsBestEffort(t *testing.T) {
	env := newTestEnv(t, nil)
	env.rpc.estimateErr = errors.New("execution reverted")

	tx, err := env.engine.Submit(context.Background(), SubmitRequest{
		WalletID:     env.walletID,
		TransferSpec: models.TransferSpec{ToAddress: recipient, Amount: "1"},
	})
	require.NoError(t, err)
	assert.Nil(t, tx.GasUsed)
	assert.Equal(t, models.TxStatusPending, tx.Status)
}

func TestSubmit_Sponsorship(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()
	req := SubmitRequest{
		WalletID:     env.walletID,
		TransferSpec: models.TransferSpec{ToAddress: recipient, Amount: "1"},
		UseSponsor:   true,
	}

	tx, err := env.engine.Submit(ctx, req)
	require.NoError(t, err)
	assert.False(t, tx.IsSponsored)

	sponsor := "0x4444444444444444444444444444444444444444"
	_, err = env.wallets.SetSponsor(ctx, env.walletID, sponsor, true)
	require.NoError(t, err)

	tx, err = env.engine.Submit(ctx, req)
	require.NoError(t, err)
	assert.True(t, tx.IsSponsored)
	assert.Equal(t, sponsor, *tx.SponsorAddress)

	req.UseSponsor = false
	tx, err = env.engine.Submit(ctx, req)
	require.NoError(t, err)
	assert.False(t, tx.IsSponsored)
}

func TestSubmit_Rejections(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	_, err := env.engine.Submit(ctx, SubmitRequest{WalletID: "missing", TransferSpec: models.TransferSpec{ToAddress: recipient, Amount: "1"}})
	assert.ErrorIs(t, err, werrors.ErrWalletNotFound())

	_, err = env.engine.Submit(ctx, SubmitRequest{WalletID: env.walletID, TransferSpec: models.TransferSpec{ToAddress: "bad", Amount: "1"}})
	assert.ErrorIs(t, err, werrors.ErrInvalidAddress(""))

	_, err = env.engine.Submit(ctx, SubmitRequest{WalletID: env.walletID, TransferSpec: models.TransferSpec{ToAddress: recipient, Amount: "abc"}})
	assert.ErrorIs(t, err, werrors.ErrInvalidAmount(""))

	txs, err := env.engine.ListTransactions(ctx, env.walletID)
	require.NoError(t, err)
	assert.Empty(t, txs)
}

func TestCreateBundle_Complete(t *testing.T) {
	env := newTestEnv(t, NewDemoBroadcaster())
	ctx := context.Background()

	result, err := env.engine.CreateBundle(ctx, BundleRequest{
		WalletID: env.walletID,
		Name:     strPtr("payroll"),
		Transactions: []models.TransferSpec{
			{ToAddress: recipient, Amount: "1"},
			{ToAddress: recipient, Amount: "2"},
			{ToAddress: recipient, Amount: "3"},
		},
	})
	require.NoError(t, err)
	require.Len(t, result.Transactions, 3)
	assert.Equal(t, models.BundleComplete, result.Bundle.Status)
	assert.Equal(t, 3, result.Bundle.TransactionCount)
	assert.Nil(t, result.Bundle.FailedIndex)

	for i, tx := range result.Transactions {
		require.NotNil(t, tx.BundleID)
		assert.Equal(t, result.Bundle.BundleID, *tx.BundleID)
		assert.Equal(t, []string{"1", "2", "3"}[i], tx.Amount)
	}

	fetched, err := env.engine.GetBundle(ctx, result.Bundle.BundleID)
	require.NoError(t, err)
	assert.Equal(t, "payroll", *fetched.Bundle.Name)
	assert.Len(t, fetched.Transactions, 3)
}

func TestCreateBundle_PartialFailureIsAttributable(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	result, err := env.engine.CreateBundle(ctx, BundleRequest{
		WalletID: env.walletID,
		Transactions: []models.TransferSpec{
			{ToAddress: recipient, Amount: "1"},
			{ToAddress: recipient, Amount: "2"},
			{ToAddress: "not-an-address", Amount: "3"},
			{ToAddress: recipient, Amount: "4"},
		},
	})
	require.Error(t, err)

	var itemErr *werrors.BundleItemError
	require.True(t, errors.As(err, &itemErr))
	assert.Equal(t, 3, itemErr.Index)
	assert.ErrorIs(t, err, werrors.ErrInvalidAddress(""))

	require.NotNil(t, result)
	require.Len(t, result.Transactions, 2)
	assert.Equal(t, models.BundleIncomplete, result.Bundle.Status)
	require.NotNil(t, result.Bundle.FailedIndex)
	assert.Equal(t, 3, *result.Bundle.FailedIndex)
	assert.Equal(t, itemErr.BundleID, result.Bundle.BundleID)

	fetched, err := env.engine.GetBundle(ctx, result.Bundle.BundleID)
	require.NoError(t, err)
	assert.Len(t, fetched.Transactions, 2)
	assert.Equal(t, 2, fetched.Bundle.TransactionCount)

	all, err := env.engine.ListTransactions(ctx, env.walletID)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestCreateBundle_BroadcastFailureCountsMember(t *testing.T) {
	env := newTestEnv(t, failingBroadcaster{})
	ctx := context.Background()

	result, err := env.engine.CreateBundle(ctx, BundleRequest{
		WalletID:     env.walletID,
		Transactions: []models.TransferSpec{{ToAddress: recipient, Amount: "1"}},
	})
	var itemErr *werrors.BundleItemError
	require.True(t, errors.As(err, &itemErr))
	assert.Equal(t, 1, itemErr.Index)

	require.NotNil(t, result)
	require.Len(t, result.Transactions, 1)
	assert.Equal(t, models.TxStatusFailed, result.Transactions[0].Status)
	assert.Equal(t, 1, result.Bundle.TransactionCount)
	assert.Equal(t, models.BundleIncomplete, result.Bundle.Status)

	fetched, err := env.engine.GetBundle(ctx, result.Bundle.BundleID)
	require.NoError(t, err)
	require.Len(t, fetched.Transactions, len(result.Transactions))
	assert.Equal(t, result.Transactions[0].TxID, fetched.Transactions[0].TxID)
	assert.Equal(t, fetched.Bundle.TransactionCount, len(fetched.Transactions))
}

func TestCreateBundle_Rejections(t *testing.T) {
	env := newTestEnv(t, nil)
	ctx := context.Background()

	_, err := env.engine.CreateBundle(ctx, BundleRequest{WalletID: env.walletID})
	assert.ErrorIs(t, err, werrors.ErrInvalidRequest(""))

	_, err = env.engine.CreateBundle(ctx, BundleRequest{
		WalletID:     "missing",
		Transactions: []models.TransferSpec{{ToAddress: recipient, Amount: "1"}},
	})
	assert.ErrorIs(t, err, werrors.ErrWalletNotFound())

	_, err = env.engine.GetBundle(ctx, "missing")
	assert.ErrorIs(t, err, werrors.ErrBundleNotFound())
}

func TestNewBroadcaster(t *testing.T) {
	b, err := NewBroadcaster("none")
	require.NoError(t, err)
	assert.Nil(t, b)

	b, err = NewBroadcaster("Demo")
	require.NoError(t, err)
	assert.IsType(t, &DemoBroadcaster{}, b)

	_, err = NewBroadcaster("mainnet")
	assert.True(t, werrors.IsType(err, werrors.ErrorTypeConfig))
}
