package chain

import (
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToBaseUnits(t *testing.T) {
	tests := []struct {
		amount   string
		decimals int32
		want     string
	}{
		{"1", 18, "1000000000000000000"},
		{"0.1", 18, "100000000000000000"},
		{"0.000000000000000001", 18, "1"},
		{"1.5", 9, "1500000000"},
		{"2.50", 1, "25"},
		{"123456789.123456", 6, "123456789123456"},
	}
	for _, tt := range tests {
		t.Run(tt.amount, func(t *testing.T) {
			v, err := ToBaseUnits(tt.amount, tt.decimals)
			require.NoError(t, err)
			assert.Equal(t, tt.want, v.String())
		})
	}
}

func TestToBaseUnits_Rejects(t *testing.T) {
	for _, tc := range []struct {
		amount   string
		decimals int32
	}{
		{"", 18},
		{"abc", 18},
		{"0", 18},
		{"-1", 18},
		{"0.0000001", 6},
		{"1e-10", 9},
	} {
		_, err := ToBaseUnits(tc.amount, tc.decimals)
		assert.Error(t, err, tc.amount)
	}
}

func TestFromBaseUnits(t *testing.T) {
	v, _ := new(big.Int).SetString("1234500000000000000", 10)
	assert.Equal(t, "1.2345", FromBaseUnits(v, 18))
	assert.Equal(t, "0", FromBaseUnits(big.NewInt(0), 9))
	assert.Equal(t, "0", FromBaseUnits(nil, 9))
	assert.Equal(t, "0.000001", FromBaseUnits(big.NewInt(1), 6))
}

// 十进制字符串在往返转换中不丢精度
func TestAmountPrecisionRoundTrip(t *testing.T) {
	amount := "98765.432109876543210987"
	v, err := ToBaseUnits(amount, 18)
	require.NoError(t, err)
	assert.Equal(t, amount, FromBaseUnits(v, 18))
}
