package models

import "time"

// BundleStatus 批量交易包状态
type BundleStatus string

const (
	BundleComplete   BundleStatus = "complete"
	BundleIncomplete BundleStatus = "incomplete"
)

// Bundle 批量交易包元数据
type Bundle struct {
	BundleID         string       `json:"bundle_id"`
	WalletID         string       `json:"wallet_id"`
	Name             *string      `json:"name,omitempty"`
	Description      *string      `json:"description,omitempty"`
	TransactionCount int          `json:"transaction_count"`
	Timestamp        time.Time    `json:"timestamp"`
	Status           BundleStatus `json:"status"`
	FailedIndex      *int         `json:"failed_index,omitempty"` // 从1开始计数
}

// ToKafkaMessage 转换为Kafka消息格式
func (b *Bundle) ToKafkaMessage() map[string]interface{} {
	msg := map[string]interface{}{
		"type":              "bundle_recorded",
		"bundle_id":         b.BundleID,
		"wallet_id":         b.WalletID,
		"transaction_count": b.TransactionCount,
		"timestamp":         b.Timestamp.Unix(),
		"status":            string(b.Status),
	}
	if b.FailedIndex != nil {
		msg["failed_index"] = *b.FailedIndex
	}
	return msg
}

// Balance 余额快照（实时计算，不持久化）
type Balance struct {
	WalletID    string   `json:"wallet_id"`
	Address     string   `json:"address"`
	Balance     string   `json:"balance"`
	TokenSymbol string   `json:"token_symbol"`
	USDValue    *float64 `json:"usd_value,omitempty"`

	// Fallback 为 true 表示链上查询失败后由调用方策略填充的替代值
	Fallback bool `json:"fallback,omitempty"`
}
