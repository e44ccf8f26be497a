package validation

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"custody/internal/chain/ethereum"
	"custody/internal/chain/solana"
	werrors "custody/internal/errors"
	"custody/pkg/models"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func ethAdapter(t *testing.T) *ethereum.Adapter {
	a, err := ethereum.NewAdapter(nil, ethereum.Config{}, nil, testLogger())
	require.NoError(t, err)
	return a
}

func strPtr(s string) *string { return &s }

func TestNewValidator(t *testing.T) {
	v := NewValidator(testLogger(), true)

	assert.NotNil(t, v)
	assert.True(t, v.strictMode)
	assert.Equal(t, 3, len(v.rules))
}

func TestValidateTransfer(t *testing.T) {
	v := NewValidator(testLogger(), false)
	adapter := ethAdapter(t)
	to := "0x1111111111111111111111111111111111111111"

	tests := []struct {
		name     string
		spec     *models.TransferSpec
		decimals int32
		code     string
	}{
		{"valid native", &models.TransferSpec{ToAddress: to, Amount: "1.5"}, 18, ""},
		{"full precision", &models.TransferSpec{ToAddress: to, Amount: "100.123456789012345678"}, 18, ""},
		{"too precise", &models.TransferSpec{ToAddress: to, Amount: "0.1234567"}, 6, werrors.CodeInvalidAmount},
		{"unknown decimals", &models.TransferSpec{ToAddress: to, Amount: "0.1234567"}, UnknownDecimals, ""},
		{"zero", &models.TransferSpec{ToAddress: to, Amount: "0"}, 18, werrors.CodeInvalidAmount},
		{"negative", &models.TransferSpec{ToAddress: to, Amount: "-2"}, 18, werrors.CodeInvalidAmount},
		{"empty amount", &models.TransferSpec{ToAddress: to, Amount: ""}, 18, werrors.CodeInvalidAmount},
		{"exponent", &models.TransferSpec{ToAddress: to, Amount: "1e3"}, 18, werrors.CodeInvalidAmount},
		{"bad address", &models.TransferSpec{ToAddress: "0x123", Amount: "1"}, 18, werrors.CodeInvalidAddress},
		{"bad data", &models.TransferSpec{ToAddress: to, Amount: "1", Data: strPtr("0xabc")}, 18, werrors.CodeInvalidData},
		{"good data", &models.TransferSpec{ToAddress: to, Amount: "1", Data: strPtr("0xa9059cbb")}, 18, ""},
		{"bad token", &models.TransferSpec{ToAddress: to, Amount: "1", TokenAddress: strPtr("usdt")}, 6, werrors.CodeInvalidAddress},
		{"native sentinel", &models.TransferSpec{ToAddress: to, Amount: "1", TokenAddress: strPtr(models.NativeTokenAddress)}, 18, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := v.ValidateTransfer(tt.spec, adapter, tt.decimals)
			if tt.code == "" {
				assert.True(t, result.Valid, "errors: %v", result.Errors)
				assert.NoError(t, result.Err())
				return
			}
			require.False(t, result.Valid)
			assert.Equal(t, tt.code, result.Errors[0].Code)
			assert.Error(t, result.Err())
		})
	}
}

func TestValidateTransfer_NilSpec(t *testing.T) {
	v := NewValidator(testLogger(), false)
	result := v.ValidateTransfer(nil, ethAdapter(t), 18)
	assert.False(t, result.Valid)
	assert.ErrorIs(t, result.Err(), werrors.ErrInvalidRequest(""))
}

func TestValidateTransfer_StrictModeRejectsWarnings(t *testing.T) {
	sol := solana.NewAdapter(nil, solana.Config{}, nil, testLogger())
	spec := &models.TransferSpec{
		ToAddress: "HAgk14JpMQLgt6rVgv7cBQFJWFto5Dqxi472uT3DKpqk",
		Amount:    "0.5",
		Data:      strPtr("0x00"),
	}

	lenient := NewValidator(testLogger(), false).ValidateTransfer(spec, sol, 9)
	assert.True(t, lenient.Valid)
	assert.Len(t, lenient.Warnings, 1)

	strict := NewValidator(testLogger(), true).ValidateTransfer(spec, sol, 9)
	assert.False(t, strict.Valid)
}

func TestIsHexData(t *testing.T) {
	assert.True(t, IsHexData("0x"))
	assert.True(t, IsHexData("0xdeadBEEF"))
	assert.False(t, IsHexData("deadbeef"))
	assert.False(t, IsHexData("0xabc"))
	assert.False(t, IsHexData("0xzz"))
}
