package models

import (
	"fmt"
	"strings"
	"time"
)

// ChainType 链类型标签
type ChainType string

const (
	ChainETH  ChainType = "ETH"
	ChainSOL  ChainType = "SOL"
	ChainTRON ChainType = "TRON"
)

// NativeTokenAddress 原生资产在代币列表中的占位地址
const NativeTokenAddress = "native"

// SupportedChains 受支持的链类型（封闭集合）
var SupportedChains = []ChainType{ChainETH, ChainSOL, ChainTRON}

// ParseChainType 解析链类型标签，未知标签返回错误
func ParseChainType(s string) (ChainType, error) {
	ct := ChainType(strings.ToUpper(strings.TrimSpace(s)))
	for _, supported := range SupportedChains {
		if ct == supported {
			return ct, nil
		}
	}
	return "", fmt.Errorf("不支持的链类型: %q", s)
}

// Wallet 托管钱包
type Wallet struct {
	WalletID          string      `json:"wallet_id"`
	Name              string      `json:"name"`
	ChainType         ChainType   `json:"chain_type"`
	Address           string      `json:"address"`
	PublicKey         string      `json:"public_key"`
	CreatedAt         time.Time   `json:"created_at"`
	EncryptedMnemonic string      `json:"encrypted_mnemonic,omitempty"`
	Tokens            []TokenInfo `json:"tokens"`
	SponsorAddress    *string     `json:"sponsor_address,omitempty"`
}

// HasSponsor 是否存在有效的赞助地址
func (w *Wallet) HasSponsor() bool {
	return w.SponsorAddress != nil && *w.SponsorAddress != ""
}

// Clone 深拷贝，避免调用方修改缓存中的记录
func (w *Wallet) Clone() *Wallet {
	if w == nil {
		return nil
	}
	c := *w
	if w.Tokens != nil {
		c.Tokens = make([]TokenInfo, len(w.Tokens))
		copy(c.Tokens, w.Tokens)
	}
	if w.SponsorAddress != nil {
		sponsor := *w.SponsorAddress
		c.SponsorAddress = &sponsor
	}
	return &c
}

// ToKafkaMessage 转换为Kafka消息格式（不包含助记词密文）
func (w *Wallet) ToKafkaMessage() map[string]interface{} {
	msg := map[string]interface{}{
		"type":       "wallet_created",
		"wallet_id":  w.WalletID,
		"name":       w.Name,
		"chain_type": string(w.ChainType),
		"address":    w.Address,
		"public_key": w.PublicKey,
		"created_at": w.CreatedAt.Unix(),
	}
	if w.HasSponsor() {
		msg["sponsor_address"] = *w.SponsorAddress
	}
	return msg
}

// TokenInfo 代币持仓信息
type TokenInfo struct {
	TokenAddress string  `json:"token_address"`
	Symbol       string  `json:"symbol"`
	Decimals     int32   `json:"decimals"`
	Balance      string  `json:"balance"` // 十进制字符串，禁止使用浮点
	Name         *string `json:"name,omitempty"`
	LogoURL      *string `json:"logo_url,omitempty"`
}

// IsNative 是否为原生资产
func (t TokenInfo) IsNative() bool {
	return t.TokenAddress == NativeTokenAddress
}

// OwnershipTransfer 所有权转移审计记录（只追加）
type OwnershipTransfer struct {
	TransferID string    `json:"transfer_id"`
	WalletID   string    `json:"wallet_id"`
	OldOwner   string    `json:"old_owner"`
	NewOwner   string    `json:"new_owner"`
	Timestamp  time.Time `json:"timestamp"`
}

// ToKafkaMessage 转换为Kafka消息格式
func (o *OwnershipTransfer) ToKafkaMessage() map[string]interface{} {
	return map[string]interface{}{
		"type":        "ownership_transferred",
		"transfer_id": o.TransferID,
		"wallet_id":   o.WalletID,
		"old_owner":   o.OldOwner,
		"new_owner":   o.NewOwner,
		"timestamp":   o.Timestamp.Unix(),
	}
}
