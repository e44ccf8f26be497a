package security

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	werrors "custody/internal/errors"
)

// 存储前缀
const (
	PrefixEncrypted = "v1:"
	PrefixPlaintext = "plain:"
)

const (
	saltSize = 16
	// 密文格式: salt(16) | memory(4) | iterations(4) | parallelism(1) | nonce(24) | ciphertext
	headerSize = saltSize + 4 + 4 + 1
)

// KDFParams Argon2id 参数
type KDFParams struct {
	Memory      uint32 `mapstructure:"memory_kib"`
	Iterations  uint32 `mapstructure:"iterations"`
	Parallelism uint8  `mapstructure:"parallelism"`
}

// KDF 参数上限，密文头中的参数超出范围时拒绝解密
const (
	MaxKDFMemoryKiB  = 1 << 20 // 1 GiB
	MaxKDFIterations = 64
)

// Validate 检查参数范围，argon2 在 parallelism 为 0 时会 panic
func (p KDFParams) Validate() error {
	switch {
	case p.Parallelism < 1:
		return fmt.Errorf("parallelism 必须大于 0")
	case p.Iterations < 1 || p.Iterations > MaxKDFIterations:
		return fmt.Errorf("iterations %d 超出范围 [1, %d]", p.Iterations, MaxKDFIterations)
	case p.Memory < 8*uint32(p.Parallelism) || p.Memory > MaxKDFMemoryKiB:
		return fmt.Errorf("memory %d KiB 超出范围 [%d, %d]", p.Memory, 8*uint32(p.Parallelism), MaxKDFMemoryKiB)
	}
	return nil
}

// DefaultKDFParams 默认 Argon2id 参数
func DefaultKDFParams() KDFParams {
	return KDFParams{
		Memory:      64 * 1024,
		Iterations:  3,
		Parallelism: 2,
	}
}

// MnemonicCipher 助记词加密器
type MnemonicCipher struct {
	passphrase     []byte
	params         KDFParams
	allowPlaintext bool
}

// NewMnemonicCipher 创建助记词加密器。passphrase 为空时只能在允许明文的模式下使用
func NewMnemonicCipher(passphrase string, params KDFParams, allowPlaintext bool) (*MnemonicCipher, error) {
	if passphrase == "" && !allowPlaintext {
		return nil, werrors.ErrConfigInvalid("security.mnemonic_key 未配置且未开启 allow_plaintext_mnemonic")
	}
	if params.Memory == 0 || params.Iterations == 0 || params.Parallelism == 0 {
		params = DefaultKDFParams()
	}
	if err := params.Validate(); err != nil {
		return nil, werrors.ErrConfigInvalid("security.kdf 参数无效: " + err.Error())
	}
	return &MnemonicCipher{
		passphrase:     []byte(passphrase),
		params:         params,
		allowPlaintext: allowPlaintext,
	}, nil
}

// Seal 加密助记词，返回可存储的字符串
func (c *MnemonicCipher) Seal(mnemonic string) (string, error) {
	if len(c.passphrase) == 0 {
		return PrefixPlaintext + mnemonic, nil
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", encryptionError(err, "生成盐失败")
	}

	key := c.deriveKey(salt, c.params)
	defer zero(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", encryptionError(err, "创建加密器失败")
	}
	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return "", encryptionError(err, "生成nonce失败")
	}

	out := make([]byte, 0, headerSize+len(nonce)+len(mnemonic)+chacha20poly1305.Overhead)
	out = append(out, salt...)
	out = binary.LittleEndian.AppendUint32(out, c.params.Memory)
	out = binary.LittleEndian.AppendUint32(out, c.params.Iterations)
	out = append(out, c.params.Parallelism)
	out = append(out, nonce...)
	out = aead.Seal(out, nonce, []byte(mnemonic), nil)

	return PrefixEncrypted + base64.StdEncoding.EncodeToString(out), nil
}

// Open 解密 Seal 生成的字符串
func (c *MnemonicCipher) Open(stored string) (string, error) {
	switch {
	case strings.HasPrefix(stored, PrefixPlaintext):
		if !c.allowPlaintext {
			return "", encryptionError(nil, "明文助记词存储未被允许")
		}
		return strings.TrimPrefix(stored, PrefixPlaintext), nil
	case strings.HasPrefix(stored, PrefixEncrypted):
	default:
		return "", encryptionError(nil, "未知的助记词存储格式")
	}

	if len(c.passphrase) == 0 {
		return "", encryptionError(nil, "未配置助记词密钥，无法解密")
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(stored, PrefixEncrypted))
	if err != nil {
		return "", encryptionError(err, "密文编码无效")
	}
	minSize := headerSize + chacha20poly1305.NonceSizeX + chacha20poly1305.Overhead
	if len(raw) < minSize {
		return "", encryptionError(fmt.Errorf("密文长度 %d 小于 %d", len(raw), minSize), "密文长度无效")
	}

	params := KDFParams{
		Memory:      binary.LittleEndian.Uint32(raw[saltSize:]),
		Iterations:  binary.LittleEndian.Uint32(raw[saltSize+4:]),
		Parallelism: raw[saltSize+8],
	}
	if err := params.Validate(); err != nil {
		return "", encryptionError(err, "密文中的 KDF 参数无效")
	}
	nonce := raw[headerSize : headerSize+chacha20poly1305.NonceSizeX]
	ciphertext := raw[headerSize+chacha20poly1305.NonceSizeX:]

	key := c.deriveKey(raw[:saltSize], params)
	defer zero(key)

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return "", encryptionError(err, "创建加密器失败")
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", encryptionError(err, "助记词解密失败")
	}
	return string(plaintext), nil
}

// IsEncrypted 判断存储值是否为密文
func IsEncrypted(stored string) bool {
	return strings.HasPrefix(stored, PrefixEncrypted)
}

func (c *MnemonicCipher) deriveKey(salt []byte, params KDFParams) []byte {
	return argon2.IDKey(c.passphrase, salt, params.Iterations, params.Memory, params.Parallelism, chacha20poly1305.KeySize)
}

func encryptionError(cause error, message string) *werrors.WalletError {
	return werrors.WrapError(cause, werrors.ErrorTypeInternal, werrors.SeverityHigh,
		werrors.CodeMnemonicEncryption, message).WithComponent("security")
}

func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
