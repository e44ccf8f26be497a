package seed

import (
	"github.com/tyler-smith/go-bip32"

	werrors "custody/internal/errors"
)

// DeriveSecp256k1 按 BIP-32 路径派生 secp256k1 私钥（32字节）
func DeriveSecp256k1(seed []byte, path string) ([]byte, error) {
	indexes, err := ParsePath(path)
	if err != nil {
		return nil, derivationError(err, path)
	}

	key, err := bip32.NewMasterKey(seed)
	if err != nil {
		return nil, derivationError(err, path)
	}
	for _, idx := range indexes {
		key, err = key.NewChildKey(idx)
		if err != nil {
			return nil, derivationError(err, path)
		}
	}

	// bip32 私钥可能带有前导 0x00
	priv := key.Key
	if len(priv) > 32 {
		priv = priv[len(priv)-32:]
	}
	out := make([]byte, 32)
	copy(out[32-len(priv):], priv)
	return out, nil
}

func derivationError(err error, path string) *werrors.WalletError {
	return werrors.WrapError(err, werrors.ErrorTypeDerivation, werrors.SeverityHigh,
		werrors.CodeDerivationFailed, "密钥派生失败").WithContext("path", path)
}
