package solana

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/gagliardetto/solana-go"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"custody/internal/chain"
	werrors "custody/internal/errors"
	"custody/internal/retry"
	"custody/internal/seed"
)

const (
	abandonMnemonic = "abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon abandon about"
	abandonAddress  = "HAgk14JpMQLgt6rVgv7cBQFJWFto5Dqxi472uT3DKpqk"
	usdcMint        = "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v"
)

type fakeRPC struct {
	lamports uint64
	accounts []TokenAccount
	err      error
}

func (f *fakeRPC) GetBalance(ctx context.Context, owner solana.PublicKey) (uint64, error) {
	return f.lamports, f.err
}

func (f *fakeRPC) GetTokenAccounts(ctx context.Context, owner solana.PublicKey) ([]TokenAccount, error) {
	return f.accounts, f.err
}

func newTestAdapter(rpc RPC, cfg Config) *Adapter {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewAdapter(rpc, cfg, retry.NewRetrier(retry.NoRetryConfig(), logger), logger)
}

func TestDeriveAddress(t *testing.T) {
	s, err := seed.DeriveSeed(abandonMnemonic)
	require.NoError(t, err)

	a := newTestAdapter(nil, Config{})
	key, err := a.DeriveAddress(s)
	require.NoError(t, err)

	assert.Equal(t, abandonAddress, key.Address)
	assert.Equal(t, key.Address, key.PublicKey)
	assert.NoError(t, a.ValidateAddress(key.Address))
}

func TestValidateAddress(t *testing.T) {
	a := newTestAdapter(nil, Config{})

	assert.NoError(t, a.ValidateAddress(usdcMint))
	for _, bad := range []string{"", "0x9858EfFD232B4033E47d90003D41EC34EcaEda94", "abc", "I0OlI0OlI0OlI0OlI0OlI0OlI0OlI0Ol"} {
		assert.True(t, errors.Is(a.ValidateAddress(bad), werrors.ErrInvalidAddress("")), bad)
	}
}

func TestNativeBalance(t *testing.T) {
	a := newTestAdapter(&fakeRPC{lamports: 2_500_000_000}, Config{})

	balance, err := a.NativeBalance(context.Background(), abandonAddress)
	require.NoError(t, err)
	assert.Equal(t, "2.5", balance)

	a = newTestAdapter(&fakeRPC{err: errors.New("node unhealthy")}, Config{})
	balance, err = a.NativeBalance(context.Background(), abandonAddress)
	assert.Empty(t, balance)
	assert.Equal(t, werrors.ErrorTypeBalanceUnavailable, werrors.TypeOf(err))
}

func TestTokenBalances_AggregatesByMint(t *testing.T) {
	rpc := &fakeRPC{accounts: []TokenAccount{
		{Account: "acc1", Mint: usdcMint, Amount: "1500000", Decimals: 6},
		{Account: "acc2", Mint: usdcMint, Amount: "500000", Decimals: 6},
		{Account: "acc3", Mint: "So11111111111111111111111111111111111111112", Amount: "1000000000", Decimals: 9},
	}}
	a := newTestAdapter(rpc, Config{Tokens: []chain.TokenSpec{{Address: usdcMint, Symbol: "USDC", Name: "USD Coin"}}})

	tokens, err := a.TokenBalances(context.Background(), abandonAddress)
	require.NoError(t, err)
	require.Len(t, tokens, 2)

	assert.Equal(t, usdcMint, tokens[0].TokenAddress)
	assert.Equal(t, "USDC", tokens[0].Symbol)
	assert.Equal(t, "2", tokens[0].Balance)
	require.NotNil(t, tokens[0].Name)

	assert.Equal(t, "So1111", tokens[1].Symbol)
	assert.Equal(t, "1", tokens[1].Balance)
	assert.Equal(t, int32(9), tokens[1].Decimals)
}

func TestTokenBalances_UnparsableAmountFails(t *testing.T) {
	rpc := &fakeRPC{accounts: []TokenAccount{
		{Account: "acc1", Mint: usdcMint, Amount: "1500000", Decimals: 6},
		{Account: "acc2", Mint: "bogus", Amount: "NaN", Decimals: 0},
	}}
	a := newTestAdapter(rpc, Config{})

	tokens, err := a.TokenBalances(context.Background(), abandonAddress)
	assert.Nil(t, tokens)
	assert.Equal(t, werrors.ErrorTypeBalanceUnavailable, werrors.TypeOf(err))
	assert.Contains(t, err.Error(), "acc2")
}

func TestTokenBalances_Failure(t *testing.T) {
	a := newTestAdapter(&fakeRPC{err: errors.New("429 too many requests")}, Config{})

	_, err := a.TokenBalances(context.Background(), abandonAddress)
	assert.Equal(t, werrors.ErrorTypeBalanceUnavailable, werrors.TypeOf(err))
}

func TestEstimateTransfer(t *testing.T) {
	a := newTestAdapter(nil, Config{})

	est, err := a.EstimateTransfer(context.Background(), &chain.TransferRequest{
		From:   abandonAddress,
		To:     usdcMint,
		Amount: "0.25",
	})
	require.NoError(t, err)
	assert.Equal(t, "0.000005", est.Fee)
	assert.Equal(t, "SOL", est.Symbol)

	_, err = a.EstimateTransfer(context.Background(), &chain.TransferRequest{From: abandonAddress, To: usdcMint, Amount: "0.0000000001"})
	assert.True(t, errors.Is(err, werrors.ErrInvalidAmount("")))
}

func TestParseTokenAccount(t *testing.T) {
	raw := []byte(`{
		"program": "spl-token",
		"parsed": {
			"info": {
				"isNative": false,
				"mint": "EPjFWdd5AufqSSqeM2qN1xzybapC8G4wEGGkZwyTDt1v",
				"owner": "HAgk14JpMQLgt6rVgv7cBQFJWFto5Dqxi472uT3DKpqk",
				"state": "initialized",
				"tokenAmount": {"amount": "42000000", "decimals": 6, "uiAmount": 42.0, "uiAmountString": "42"}
			},
			"type": "account"
		},
		"space": 165
	}`)

	acc, err := ParseTokenAccount(raw)
	require.NoError(t, err)
	assert.Equal(t, usdcMint, acc.Mint)
	assert.Equal(t, "42000000", acc.Amount)
	assert.Equal(t, int32(6), acc.Decimals)

	_, err = ParseTokenAccount(nil)
	assert.Error(t, err)
	_, err = ParseTokenAccount([]byte(`{"parsed":{"info":{}}}`))
	assert.Error(t, err)
}
