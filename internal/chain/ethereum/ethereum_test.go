package ethereum

import (
	"bytes"
	"context"
	"errors"
	"io"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
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
	abandonAddress  = "0x9858EfFD232B4033E47d90003D41EC34EcaEda94"
	usdtContract    = "0xdAC17F958D2ee523a2206206994597C13D831ec7"
	recipient       = "0x000000000000000000000000000000000000dEaD"
)

type fakeRPC struct {
	parsed abi.ABI

	balance    *big.Int
	balanceErr error

	tokenBalance *big.Int
	callErr      error
	callCount    map[string]int

	gas      uint64
	gasPrice *big.Int
	lastMsg  ethereum.CallMsg
}

func newFakeRPC(t *testing.T) *fakeRPC {
	parsed, err := abi.JSON(strings.NewReader(erc20ABI))
	require.NoError(t, err)
	return &fakeRPC{parsed: parsed, callCount: map[string]int{}}
}

func (f *fakeRPC) BalanceAt(ctx context.Context, account common.Address, blockNumber *big.Int) (*big.Int, error) {
	return f.balance, f.balanceErr
}

func (f *fakeRPC) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	if f.callErr != nil {
		return nil, f.callErr
	}
	for name, method := range f.parsed.Methods {
		if !bytes.HasPrefix(msg.Data, method.ID) {
			continue
		}
		f.callCount[name]++
		switch name {
		case "balanceOf":
			return method.Outputs.Pack(f.tokenBalance)
		case "decimals":
			return method.Outputs.Pack(uint8(6))
		case "symbol":
			return method.Outputs.Pack("USDT")
		}
	}
	return nil, errors.New("unexpected call")
}

func (f *fakeRPC) EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error) {
	f.lastMsg = msg
	return f.gas, nil
}

func (f *fakeRPC) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return f.gasPrice, nil
}

func newTestAdapter(t *testing.T, rpc RPC, cfg Config) *Adapter {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	a, err := NewAdapter(rpc, cfg, retry.NewRetrier(retry.NoRetryConfig(), logger), logger)
	require.NoError(t, err)
	return a
}

func TestDeriveAddress_KnownVector(t *testing.T) {
	s, err := seed.DeriveSeed(abandonMnemonic)
	require.NoError(t, err)

	a := newTestAdapter(t, nil, Config{})
	key, err := a.DeriveAddress(s)
	require.NoError(t, err)

	assert.Equal(t, abandonAddress, key.Address)
	assert.Len(t, key.PublicKey, 68) // 0x + 33字节压缩公钥
	assert.True(t, strings.HasPrefix(key.PublicKey, "0x02") || strings.HasPrefix(key.PublicKey, "0x03"))
	assert.Equal(t, DerivationPath, key.Path)

	again, err := a.DeriveAddress(s)
	require.NoError(t, err)
	assert.Equal(t, key, again)
}

func TestValidateAddress(t *testing.T) {
	a := newTestAdapter(t, nil, Config{})

	tests := []struct {
		address string
		valid   bool
	}{
		{abandonAddress, true},
		{strings.ToLower(abandonAddress), true},
		{"0x" + strings.ToUpper(abandonAddress[2:]), true},
		{"0x9858efFD232B4033E47d90003D41EC34EcaEda94", false}, // 校验和错误
		{abandonAddress[2:], false},
		{"0x1234", false},
		{"", false},
	}
	for _, tt := range tests {
		err := a.ValidateAddress(tt.address)
		if tt.valid {
			assert.NoError(t, err, tt.address)
		} else {
			assert.True(t, errors.Is(err, werrors.ErrInvalidAddress("")), tt.address)
		}
	}
}

func TestCanonicalAddress(t *testing.T) {
	a := newTestAdapter(t, nil, Config{})

	for _, in := range []string{abandonAddress, strings.ToLower(abandonAddress), "0x" + strings.ToUpper(abandonAddress[2:])} {
		got, err := a.CanonicalAddress(in)
		require.NoError(t, err, in)
		assert.Equal(t, abandonAddress, got)
	}

	_, err := a.CanonicalAddress("0x9858efFD232B4033E47d90003D41EC34EcaEda94")
	assert.True(t, errors.Is(err, werrors.ErrInvalidAddress("")))
}

func TestNativeBalance(t *testing.T) {
	rpc := newFakeRPC(t)
	rpc.balance, _ = new(big.Int).SetString("1500000000000000000", 10)
	a := newTestAdapter(t, rpc, Config{})

	balance, err := a.NativeBalance(context.Background(), abandonAddress)
	require.NoError(t, err)
	assert.Equal(t, "1.5", balance)
}

func TestNativeBalance_FailureIsNotZero(t *testing.T) {
	rpc := newFakeRPC(t)
	rpc.balanceErr = errors.New("upstream returned 500")
	a := newTestAdapter(t, rpc, Config{})

	balance, err := a.NativeBalance(context.Background(), abandonAddress)
	require.Error(t, err)
	assert.Empty(t, balance)
	assert.Equal(t, werrors.ErrorTypeBalanceUnavailable, werrors.TypeOf(err))
}

func TestTokenBalances_NoConfiguredTokens(t *testing.T) {
	a := newTestAdapter(t, newFakeRPC(t), Config{})

	_, err := a.TokenBalances(context.Background(), abandonAddress)
	require.Error(t, err)
	assert.Equal(t, werrors.ErrorTypeCapabilityNotSupported, werrors.TypeOf(err))
}

func TestTokenBalances_FetchesAndCachesMetadata(t *testing.T) {
	rpc := newFakeRPC(t)
	rpc.tokenBalance = big.NewInt(12_345_678)
	a := newTestAdapter(t, rpc, Config{Tokens: []chain.TokenSpec{{Address: strings.ToLower(usdtContract), Name: "Tether USD"}}})

	for i := 0; i < 2; i++ {
		tokens, err := a.TokenBalances(context.Background(), abandonAddress)
		require.NoError(t, err)
		require.Len(t, tokens, 1)
		assert.Equal(t, usdtContract, tokens[0].TokenAddress)
		assert.Equal(t, "USDT", tokens[0].Symbol)
		assert.Equal(t, int32(6), tokens[0].Decimals)
		assert.Equal(t, "12.345678", tokens[0].Balance)
		require.NotNil(t, tokens[0].Name)
		assert.Equal(t, "Tether USD", *tokens[0].Name)
	}

	assert.Equal(t, 1, rpc.callCount["decimals"])
	assert.Equal(t, 1, rpc.callCount["symbol"])
	assert.Equal(t, 2, rpc.callCount["balanceOf"])
}

func TestTokenBalances_RPCFailure(t *testing.T) {
	rpc := newFakeRPC(t)
	rpc.callErr = errors.New("boom")
	a := newTestAdapter(t, rpc, Config{Tokens: []chain.TokenSpec{{Address: usdtContract, Symbol: "USDT", Decimals: 6}}})

	_, err := a.TokenBalances(context.Background(), abandonAddress)
	assert.Equal(t, werrors.ErrorTypeBalanceUnavailable, werrors.TypeOf(err))
}

func TestEstimateTransfer_CapsGasPrice(t *testing.T) {
	rpc := newFakeRPC(t)
	rpc.gas = 21000
	rpc.gasPrice = big.NewInt(200_000_000_000) // 200 gwei
	a := newTestAdapter(t, rpc, Config{MaxGasPriceGwei: 100})

	est, err := a.EstimateTransfer(context.Background(), &chain.TransferRequest{
		From:   abandonAddress,
		To:     recipient,
		Amount: "0.1",
	})
	require.NoError(t, err)

	assert.Equal(t, uint64(21000), est.GasLimit)
	assert.Equal(t, "100000000000", est.GasPrice.String())
	assert.Equal(t, "0.0021", est.Fee)
	assert.Equal(t, "ETH", est.Symbol)
	assert.Equal(t, "100000000000000000", rpc.lastMsg.Value.String())
}

func TestEstimateTransfer_ERC20(t *testing.T) {
	rpc := newFakeRPC(t)
	rpc.gas = 65000
	rpc.gasPrice = big.NewInt(1_000_000_000)
	a := newTestAdapter(t, rpc, Config{Tokens: []chain.TokenSpec{{Address: usdtContract, Symbol: "USDT", Decimals: 6}}})

	token := usdtContract
	est, err := a.EstimateTransfer(context.Background(), &chain.TransferRequest{
		From:         abandonAddress,
		To:           recipient,
		Amount:       "2.5",
		TokenAddress: &token,
	})
	require.NoError(t, err)

	assert.Equal(t, "0.000065", est.Fee)
	require.NotNil(t, rpc.lastMsg.To)
	assert.Equal(t, usdtContract, rpc.lastMsg.To.Hex())

	args, err := rpc.parsed.Methods["transfer"].Inputs.Unpack(rpc.lastMsg.Data[4:])
	require.NoError(t, err)
	assert.Equal(t, "2500000", args[1].(*big.Int).String())
}

func TestEstimateTransfer_InvalidInput(t *testing.T) {
	a := newTestAdapter(t, newFakeRPC(t), Config{})

	_, err := a.EstimateTransfer(context.Background(), &chain.TransferRequest{From: abandonAddress, To: "nope", Amount: "1"})
	assert.True(t, errors.Is(err, werrors.ErrInvalidAddress("")))

	_, err = a.EstimateTransfer(context.Background(), &chain.TransferRequest{From: abandonAddress, To: recipient, Amount: "-1"})
	assert.True(t, errors.Is(err, werrors.ErrInvalidAmount("")))

	bad := "zz"
	_, err = a.EstimateTransfer(context.Background(), &chain.TransferRequest{From: abandonAddress, To: recipient, Amount: "1", Data: &bad})
	assert.Equal(t, werrors.ErrorTypeValidation, werrors.TypeOf(err))
}
