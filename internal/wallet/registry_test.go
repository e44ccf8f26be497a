package wallet

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"custody/internal/chain"
	"custody/internal/chain/ethereum"
	"custody/internal/chain/solana"
	"custody/internal/chain/tron"
	werrors "custody/internal/errors"
	"custody/internal/security"
	"custody/internal/store"
	"custody/pkg/models"
)

const abandonMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"

func newTestRegistry(t *testing.T) (*Registry, *store.BoltStore) {
	t.Helper()
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	repo, err := store.NewBoltStore(filepath.Join(t.TempDir(), "custody.db"), logger)
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	eth, err := ethereum.NewAdapter(nil, ethereum.Config{}, nil, logger)
	require.NoError(t, err)
	chains := chain.NewRegistry(eth, solana.NewAdapter(nil, solana.Config{}, nil, logger), tron.NewAdapter(nil, tron.Config{}, nil, logger))

	cipher, err := security.NewMnemonicCipher("test-key", security.KDFParams{Memory: 1024, Iterations: 1, Parallelism: 1}, false)
	require.NoError(t, err)

	return NewRegistry(repo, chains, cipher, nil, nil, logger), repo
}

func TestCreateWallet_GeneratesMnemonic(t *testing.T) {
	reg, repo := newTestRegistry(t)
	ctx := context.Background()

	result, err := reg.CreateWallet(ctx, CreateRequest{Name: "A", ChainType: "ETH"})
	require.NoError(t, err)

	assert.Equal(t, models.ChainETH, result.Wallet.ChainType)
	assert.Len(t, strings.Fields(result.Mnemonic), 12)
	assert.Empty(t, result.Wallet.EncryptedMnemonic)
	assert.Regexp(t, `^0x[0-9a-fA-F]{40}$`, result.Wallet.Address)

	stored, err := repo.GetWallet(ctx, result.Wallet.WalletID)
	require.NoError(t, err)
	assert.True(t, security.IsEncrypted(stored.EncryptedMnemonic))
	assert.NotContains(t, stored.EncryptedMnemonic, result.Mnemonic)
}

func TestCreateWallet_ImportIsDeterministic(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	tests := []struct {
		chainType string
		address   string
	}{
		{"ETH", "0x9858EfFD232B4033E47d90003D41EC34EcaEda94"},
		{"sol", "HAgk14JpMQLgt6rVgv7cBQFJWFto5Dqxi472uT3DKpqk"},
	}
	for _, tt := range tests {
		t.Run(tt.chainType, func(t *testing.T) {
			first, err := reg.CreateWallet(ctx, CreateRequest{Name: "import", ChainType: tt.chainType, Mnemonic: abandonMnemonic})
			require.NoError(t, err)
			second, err := reg.CreateWallet(ctx, CreateRequest{Name: "again", ChainType: tt.chainType, Mnemonic: "  " + abandonMnemonic + " "})
			require.NoError(t, err)

			assert.Equal(t, tt.address, first.Wallet.Address)
			assert.Equal(t, first.Wallet.Address, second.Wallet.Address)
			assert.Equal(t, first.Wallet.PublicKey, second.Wallet.PublicKey)
			assert.NotEqual(t, first.Wallet.WalletID, second.Wallet.WalletID)
		})
	}
}

func TestCreateWallet_RoundTripThroughExport(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	created, err := reg.CreateWallet(ctx, CreateRequest{Name: "origin", ChainType: "TRON"})
	require.NoError(t, err)

	exported, err := reg.ExportMnemonic(ctx, created.Wallet.WalletID)
	require.NoError(t, err)
	assert.Equal(t, created.Mnemonic, exported)

	imported, err := reg.CreateWallet(ctx, CreateRequest{Name: "copy", ChainType: "TRON", Mnemonic: exported})
	require.NoError(t, err)
	assert.Equal(t, created.Wallet.Address, imported.Wallet.Address)
}

func TestCreateWallet_Rejections(t *testing.T) {
	reg, repo := newTestRegistry(t)
	ctx := context.Background()

	_, err := reg.CreateWallet(ctx, CreateRequest{Name: "x", ChainType: "BTC", Mnemonic: "not even words"})
	assert.True(t, werrors.IsType(err, werrors.ErrorTypeValidation))
	assert.ErrorIs(t, err, werrors.ErrUnsupportedChain(""))

	_, err = reg.CreateWallet(ctx, CreateRequest{Name: "x", ChainType: "ETH", Mnemonic: "abandon abandon abandon"})
	assert.ErrorIs(t, err, werrors.ErrInvalidMnemonic())

	_, err = reg.CreateWallet(ctx, CreateRequest{Name: "  ", ChainType: "ETH"})
	assert.ErrorIs(t, err, werrors.ErrInvalidRequest(""))

	wallets, err := repo.ListWallets(ctx)
	require.NoError(t, err)
	assert.Empty(t, wallets)
}

func TestTransferOwnership_AuditChain(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	created, err := reg.CreateWallet(ctx, CreateRequest{Name: "A", ChainType: "ETH", Mnemonic: abandonMnemonic})
	require.NoError(t, err)
	walletID := created.Wallet.WalletID
	original := created.Wallet.Address

	owners := []string{
		"0x1111111111111111111111111111111111111111",
		"0x2222222222222222222222222222222222222222",
		"0x3333333333333333333333333333333333333333",
	}
	for _, owner := range owners {
		_, err := reg.TransferOwnership(ctx, walletID, OwnerRef{Address: owner})
		require.NoError(t, err)
	}

	history, err := reg.OwnershipHistory(ctx, walletID)
	require.NoError(t, err)
	require.Len(t, history, len(owners))

	assert.Equal(t, original, history[0].OldOwner)
	for i := 1; i < len(history); i++ {
		assert.Equal(t, history[i-1].NewOwner, history[i].OldOwner)
	}

	wallet, err := reg.GetWallet(ctx, walletID)
	require.NoError(t, err)
	assert.Equal(t, history[len(history)-1].NewOwner, wallet.Address)
	assert.Equal(t, created.Wallet.PublicKey, wallet.PublicKey)
}

func TestTransferOwnership_ToManagedWallet(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	source, err := reg.CreateWallet(ctx, CreateRequest{Name: "src", ChainType: "ETH"})
	require.NoError(t, err)
	target, err := reg.CreateWallet(ctx, CreateRequest{Name: "dst", ChainType: "ETH"})
	require.NoError(t, err)
	solWallet, err := reg.CreateWallet(ctx, CreateRequest{Name: "sol", ChainType: "SOL"})
	require.NoError(t, err)

	updated, err := reg.TransferOwnership(ctx, source.Wallet.WalletID, OwnerRef{WalletID: target.Wallet.WalletID})
	require.NoError(t, err)
	assert.Equal(t, target.Wallet.Address, updated.Address)

	_, err = reg.TransferOwnership(ctx, source.Wallet.WalletID, OwnerRef{WalletID: solWallet.Wallet.WalletID})
	assert.ErrorIs(t, err, werrors.ErrInvalidAddress(""))

	_, err = reg.TransferOwnership(ctx, source.Wallet.WalletID, OwnerRef{WalletID: "missing"})
	assert.ErrorIs(t, err, werrors.ErrWalletNotFound())
}

func TestTransferOwnership_Rejections(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	created, err := reg.CreateWallet(ctx, CreateRequest{Name: "A", ChainType: "ETH"})
	require.NoError(t, err)
	walletID := created.Wallet.WalletID

	_, err = reg.TransferOwnership(ctx, walletID, OwnerRef{})
	assert.ErrorIs(t, err, werrors.ErrInvalidRequest(""))

	_, err = reg.TransferOwnership(ctx, walletID, OwnerRef{Address: "0x1", WalletID: "w"})
	assert.ErrorIs(t, err, werrors.ErrInvalidRequest(""))

	_, err = reg.TransferOwnership(ctx, walletID, OwnerRef{Address: "not-an-address"})
	assert.ErrorIs(t, err, werrors.ErrInvalidAddress(""))

	_, err = reg.TransferOwnership(ctx, walletID, OwnerRef{Address: created.Wallet.Address})
	assert.ErrorIs(t, err, werrors.ErrSameOwner(""))

	_, err = reg.TransferOwnership(ctx, "missing", OwnerRef{Address: "0x1111111111111111111111111111111111111111"})
	assert.ErrorIs(t, err, werrors.ErrWalletNotFound())

	history, err := reg.OwnershipHistory(ctx, walletID)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestTransferOwnership_CanonicalizesAddress(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	created, err := reg.CreateWallet(ctx, CreateRequest{Name: "A", ChainType: "ETH", Mnemonic: abandonMnemonic})
	require.NoError(t, err)
	walletID := created.Wallet.WalletID
	original := created.Wallet.Address

	// 小写形式与原地址是同一个账户
	_, err = reg.TransferOwnership(ctx, walletID, OwnerRef{Address: strings.ToLower(original)})
	assert.ErrorIs(t, err, werrors.ErrSameOwner(""))

	history, err := reg.OwnershipHistory(ctx, walletID)
	require.NoError(t, err)
	assert.Empty(t, history)

	updated, err := reg.TransferOwnership(ctx, walletID, OwnerRef{Address: "0x000000000000000000000000000000000000dead"})
	require.NoError(t, err)
	assert.Equal(t, "0x000000000000000000000000000000000000dEaD", updated.Address)

	history, err = reg.OwnershipHistory(ctx, walletID)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, original, history[0].OldOwner)
	assert.Equal(t, "0x000000000000000000000000000000000000dEaD", history[0].NewOwner)

	sponsored, err := reg.SetSponsor(ctx, walletID, strings.ToLower(original), true)
	require.NoError(t, err)
	assert.Equal(t, original, *sponsored.SponsorAddress)
}

func TestTransferOwnership_ConcurrentTransfersSerialize(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	created, err := reg.CreateWallet(ctx, CreateRequest{Name: "A", ChainType: "ETH"})
	require.NoError(t, err)
	walletID := created.Wallet.WalletID

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := reg.TransferOwnership(ctx, walletID, OwnerRef{Address: fmt.Sprintf("0x%040x", i+1)})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	history, err := reg.OwnershipHistory(ctx, walletID)
	require.NoError(t, err)
	require.Len(t, history, n)
	for i := 1; i < n; i++ {
		assert.Equal(t, history[i-1].NewOwner, history[i].OldOwner)
	}
	assert.Equal(t, 0, reg.Locker().size())
}

func TestSetSponsor(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	created, err := reg.CreateWallet(ctx, CreateRequest{Name: "A", ChainType: "ETH"})
	require.NoError(t, err)
	walletID := created.Wallet.WalletID
	sponsor := "0x4444444444444444444444444444444444444444"

	updated, err := reg.SetSponsor(ctx, walletID, sponsor, true)
	require.NoError(t, err)
	require.True(t, updated.HasSponsor())
	assert.Equal(t, sponsor, *updated.SponsorAddress)

	_, err = reg.SetSponsor(ctx, walletID, "bogus", true)
	assert.ErrorIs(t, err, werrors.ErrInvalidAddress(""))

	cleared, err := reg.SetSponsor(ctx, walletID, "", false)
	require.NoError(t, err)
	assert.False(t, cleared.HasSponsor())

	_, err = reg.SetSponsor(ctx, "missing", sponsor, true)
	assert.ErrorIs(t, err, werrors.ErrWalletNotFound())
}

func TestListWallets_Redacted(t *testing.T) {
	reg, _ := newTestRegistry(t)
	ctx := context.Background()

	for _, c := range []string{"ETH", "SOL", "TRON"} {
		_, err := reg.CreateWallet(ctx, CreateRequest{Name: c, ChainType: c})
		require.NoError(t, err)
	}

	wallets, err := reg.ListWallets(ctx)
	require.NoError(t, err)
	require.Len(t, wallets, 3)
	for _, w := range wallets {
		assert.Empty(t, w.EncryptedMnemonic)
	}
}
