package models

import (
	"time"
)

// TxStatus 交易状态
type TxStatus string

const (
	TxStatusPending   TxStatus = "pending"
	TxStatusConfirmed TxStatus = "confirmed"
	TxStatusFailed    TxStatus = "failed"
	TxStatusSimulated TxStatus = "simulated"
)

// IsTerminal 是否为终态
func (s TxStatus) IsTerminal() bool {
	return s == TxStatusConfirmed || s == TxStatusFailed || s == TxStatusSimulated
}

// CanTransitionTo 状态机: pending -> confirmed | failed，其余均不可变
func (s TxStatus) CanTransitionTo(next TxStatus) bool {
	if s != TxStatusPending {
		return false
	}
	return next == TxStatusConfirmed || next == TxStatusFailed
}

// Transaction 交易记录
type Transaction struct {
	TxID           string    `json:"tx_id"`
	WalletID       string    `json:"wallet_id"`
	FromAddress    string    `json:"from_address"`
	ToAddress      string    `json:"to_address"`
	Amount         string    `json:"amount"` // 十进制字符串，原样保存
	TokenSymbol    string    `json:"token_symbol"`
	TokenAddress   *string   `json:"token_address,omitempty"`
	TxHash         *string   `json:"tx_hash,omitempty"`
	Status         TxStatus  `json:"status"`
	Timestamp      time.Time `json:"timestamp"`
	GasUsed        *string   `json:"gas_used,omitempty"`
	GasPrice       *string   `json:"gas_price,omitempty"`
	IsSponsored    bool      `json:"is_sponsored"`
	SponsorAddress *string   `json:"sponsor_address,omitempty"`
	BundleID       *string   `json:"bundle_id,omitempty"`
	Data           *string   `json:"data,omitempty"`

	// Demo 为 true 表示状态/哈希由演示广播器生成，并非链上真实数据
	Demo bool `json:"demo,omitempty"`
}

// ToKafkaMessage 转换为Kafka消息格式
func (t *Transaction) ToKafkaMessage() map[string]interface{} {
	msg := map[string]interface{}{
		"type":         "transaction_recorded",
		"tx_id":        t.TxID,
		"wallet_id":    t.WalletID,
		"from_address": t.FromAddress,
		"to_address":   t.ToAddress,
		"amount":       t.Amount,
		"token_symbol": t.TokenSymbol,
		"status":       string(t.Status),
		"timestamp":    t.Timestamp.Unix(),
		"is_sponsored": t.IsSponsored,
		"demo":         t.Demo,
	}
	if t.TxHash != nil {
		msg["tx_hash"] = *t.TxHash
	}
	if t.BundleID != nil {
		msg["bundle_id"] = *t.BundleID
	}
	if t.SponsorAddress != nil {
		msg["sponsor_address"] = *t.SponsorAddress
	}
	return msg
}

// TransferSpec 转账参数，提交、模拟和交易包成员共用
type TransferSpec struct {
	ToAddress    string  `json:"to_address"`
	Amount       string  `json:"amount"`
	TokenSymbol  string  `json:"token_symbol,omitempty"`
	TokenAddress *string `json:"token_address,omitempty"`
	Data         *string `json:"data,omitempty"`
}

// IsToken 是否为代币转账
func (s *TransferSpec) IsToken() bool {
	return s.TokenAddress != nil && *s.TokenAddress != "" && *s.TokenAddress != NativeTokenAddress
}
