package output

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"custody/pkg/models"
)

// Output 事件输出接口：钱包创建、交易记录、交易包、所有权转移
type Output interface {
	WriteWallet(wallet *models.Wallet) error
	WriteTransaction(tx *models.Transaction) error
	WriteBundle(bundle *models.Bundle) error
	WriteOwnershipTransfer(record *models.OwnershipTransfer) error
	Close() error
}

// 事件类型，同时作为 topic 映射的键
const (
	EventWallets            = "wallets"
	EventTransactions       = "transactions"
	EventBundles            = "bundles"
	EventOwnershipTransfers = "ownership_transfers"
)

// DefaultTopics 默认 topic 映射
func DefaultTopics() map[string]string {
	return map[string]string{
		EventWallets:            "custody_wallets",
		EventTransactions:       "custody_transactions",
		EventBundles:            "custody_bundles",
		EventOwnershipTransfers: "custody_ownership_transfers",
	}
}

// KafkaConfig Kafka配置
type KafkaConfig struct {
	Brokers []string          `mapstructure:"brokers"`
	Topics  map[string]string `mapstructure:"topics"`
}

// Config 输出配置
type Config struct {
	Format    string      `mapstructure:"format"` // none | json | kafka | kafka_async
	Directory string      `mapstructure:"directory"`
	Kafka     KafkaConfig `mapstructure:"kafka"`
}

// NewOutput 根据配置创建输出器
func NewOutput(cfg Config, logger *logrus.Logger) (Output, error) {
	switch strings.ToLower(cfg.Format) {
	case "", "none":
		return NopOutput{}, nil
	case "json":
		return NewFileOutput(cfg.Directory, logger)
	case "kafka", "kafka_async":
		brokers := cfg.Kafka.Brokers
		if len(brokers) == 0 {
			brokers = []string{"localhost:9092"}
		}
		topics := mergeTopics(cfg.Kafka.Topics)
		if cfg.Format == "kafka_async" {
			return NewAsyncKafkaOutput(brokers, topics, logger)
		}
		return NewKafkaOutput(brokers, topics, logger)
	default:
		return nil, fmt.Errorf("不支持的输出格式: %s", cfg.Format)
	}
}

// mergeTopics 用配置覆盖默认 topic
func mergeTopics(configured map[string]string) map[string]string {
	topics := DefaultTopics()
	for k, v := range configured {
		if v != "" {
			topics[k] = v
		}
	}
	return topics
}

// envelope 事件的 payload 与分区键
type envelope struct {
	event   string
	key     string
	payload map[string]interface{}
}

func walletEnvelope(w *models.Wallet) envelope {
	return envelope{event: EventWallets, key: w.WalletID, payload: w.ToKafkaMessage()}
}

func transactionEnvelope(t *models.Transaction) envelope {
	return envelope{event: EventTransactions, key: t.WalletID, payload: t.ToKafkaMessage()}
}

func bundleEnvelope(b *models.Bundle) envelope {
	return envelope{event: EventBundles, key: b.WalletID, payload: b.ToKafkaMessage()}
}

func ownershipEnvelope(o *models.OwnershipTransfer) envelope {
	return envelope{event: EventOwnershipTransfers, key: o.WalletID, payload: o.ToKafkaMessage()}
}

// NopOutput 不输出任何事件
type NopOutput struct{}

func (NopOutput) WriteWallet(*models.Wallet) error                       { return nil }
func (NopOutput) WriteTransaction(*models.Transaction) error             { return nil }
func (NopOutput) WriteBundle(*models.Bundle) error                       { return nil }
func (NopOutput) WriteOwnershipTransfer(*models.OwnershipTransfer) error { return nil }
func (NopOutput) Close() error                                           { return nil }
