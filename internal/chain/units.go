package chain

import (
	"fmt"
	"math/big"

	"github.com/shopspring/decimal"
)

// ParseAmount 解析十进制金额字符串，要求为正数且小数位不超过 decimals
func ParseAmount(amount string, decimals int32) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(amount)
	if err != nil {
		return decimal.Zero, fmt.Errorf("金额格式无效: %s", amount)
	}
	if d.Sign() <= 0 {
		return decimal.Zero, fmt.Errorf("金额必须大于0: %s", amount)
	}
	if -d.Exponent() > decimals && !d.Shift(decimals).IsInteger() {
		return decimal.Zero, fmt.Errorf("金额精度超过 %d 位小数: %s", decimals, amount)
	}
	return d, nil
}

// ToBaseUnits 十进制金额转最小单位
func ToBaseUnits(amount string, decimals int32) (*big.Int, error) {
	d, err := ParseAmount(amount, decimals)
	if err != nil {
		return nil, err
	}
	return d.Shift(decimals).BigInt(), nil
}

// FromBaseUnits 最小单位转十进制字符串
func FromBaseUnits(value *big.Int, decimals int32) string {
	if value == nil {
		return "0"
	}
	return decimal.NewFromBigInt(value, -decimals).String()
}
