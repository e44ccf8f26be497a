package seed

import (
	"crypto/ed25519"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/binary"
	"fmt"
)

// SLIP-0010 ed25519 主密钥种子
var ed25519Curve = []byte("ed25519 seed")

// DeriveEd25519 按 SLIP-0010 派生 ed25519 私钥，路径各段必须是硬化索引
func DeriveEd25519(seed []byte, path string) (ed25519.PrivateKey, error) {
	indexes, err := ParsePath(path)
	if err != nil {
		return nil, derivationError(err, path)
	}

	mac := hmac.New(sha512.New, ed25519Curve)
	mac.Write(seed)
	sum := mac.Sum(nil)
	key, chainCode := sum[:32], sum[32:]

	for _, idx := range indexes {
		if idx < HardenedOffset {
			return nil, derivationError(fmt.Errorf("ed25519 只支持硬化派生: %d", idx), path)
		}
		data := make([]byte, 0, 37)
		data = append(data, 0x00)
		data = append(data, key...)
		data = binary.BigEndian.AppendUint32(data, idx)

		mac = hmac.New(sha512.New, chainCode)
		mac.Write(data)
		sum = mac.Sum(nil)
		key, chainCode = sum[:32], sum[32:]
	}

	return ed25519.NewKeyFromSeed(key), nil
}
