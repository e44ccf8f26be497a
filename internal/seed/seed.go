package seed

import (
	"strings"

	"github.com/tyler-smith/go-bip39"

	werrors "custody/internal/errors"
)

// EntropyBits 新助记词的熵长度（12个单词）
const EntropyBits = 128

// SeedLength BIP-39 种子长度
const SeedLength = 64

// GenerateMnemonic 生成 128 位熵的英文助记词
func GenerateMnemonic() (string, error) {
	entropy, err := bip39.NewEntropy(EntropyBits)
	if err != nil {
		return "", werrors.WrapError(err, werrors.ErrorTypeDerivation, werrors.SeverityHigh,
			werrors.CodeDerivationFailed, "生成熵失败")
	}
	mnemonic, err := bip39.NewMnemonic(entropy)
	if err != nil {
		return "", werrors.WrapError(err, werrors.ErrorTypeDerivation, werrors.SeverityHigh,
			werrors.CodeDerivationFailed, "生成助记词失败")
	}
	return mnemonic, nil
}

// Normalize 规范化助记词的空白
func Normalize(mnemonic string) string {
	return strings.Join(strings.Fields(mnemonic), " ")
}

// ValidateMnemonic 校验单词表与校验和
func ValidateMnemonic(mnemonic string) error {
	if !bip39.IsMnemonicValid(Normalize(mnemonic)) {
		return werrors.ErrInvalidMnemonic()
	}
	return nil
}

// DeriveSeed 由助记词派生 64 字节种子（空口令）。
// 相同助记词总是得到相同种子，非法助记词在生成任何密钥材料之前被拒绝。
func DeriveSeed(mnemonic string) ([]byte, error) {
	normalized := Normalize(mnemonic)
	if err := ValidateMnemonic(normalized); err != nil {
		return nil, err
	}
	seed, err := bip39.NewSeedWithErrorChecking(normalized, "")
	if err != nil {
		return nil, werrors.WrapError(err, werrors.ErrorTypeValidation, werrors.SeverityLow,
			werrors.CodeInvalidMnemonic, "助记词无效")
	}
	return seed, nil
}
