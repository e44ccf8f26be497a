package output

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"

	"custody/pkg/models"
)

// KafkaOutput Kafka同步输出器
type KafkaOutput struct {
	logger   *logrus.Logger
	topics   map[string]string // 事件类型到topic的映射
	producer sarama.SyncProducer
}

// NewKafkaOutput 创建Kafka输出器
func NewKafkaOutput(brokers []string, topics map[string]string, logger *logrus.Logger) (*KafkaOutput, error) {
	logger.Infof("初始化Kafka输出器，brokers: %v", brokers)

	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Producer.Retry.Max = 5
	config.Producer.Return.Successes = true
	config.Producer.Timeout = 5 * time.Second
	config.Version = sarama.V2_8_0_0

	producer, err := sarama.NewSyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("创建Kafka生产者失败: %w", err)
	}

	logger.Info("Kafka生产者已创建")
	return NewKafkaOutputWithProducer(producer, topics, logger), nil
}

// NewKafkaOutputWithProducer 使用已有的生产者创建输出器
func NewKafkaOutputWithProducer(producer sarama.SyncProducer, topics map[string]string, logger *logrus.Logger) *KafkaOutput {
	return &KafkaOutput{
		logger:   logger,
		topics:   mergeTopics(topics),
		producer: producer,
	}
}

// send 发送事件，以钱包ID作为分区键保证同一钱包的事件有序
func (k *KafkaOutput) send(env envelope) error {
	data, err := json.Marshal(env.payload)
	if err != nil {
		return fmt.Errorf("序列化数据失败: %w", err)
	}

	topic := k.topics[env.event]
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(env.key),
		Value: sarama.ByteEncoder(data),
	}

	partition, offset, err := k.producer.SendMessage(msg)
	if err != nil {
		return fmt.Errorf("发送消息到Kafka失败: %w", err)
	}

	k.logger.Debugf("成功发送事件到Kafka topic '%s' (partition: %d, offset: %d)", topic, partition, offset)
	return nil
}

// WriteWallet 写入钱包创建事件
func (k *KafkaOutput) WriteWallet(w *models.Wallet) error {
	if w == nil {
		return nil
	}
	return k.send(walletEnvelope(w))
}

// WriteTransaction 写入交易事件
func (k *KafkaOutput) WriteTransaction(t *models.Transaction) error {
	if t == nil {
		return nil
	}
	return k.send(transactionEnvelope(t))
}

// WriteBundle 写入交易包事件
func (k *KafkaOutput) WriteBundle(b *models.Bundle) error {
	if b == nil {
		return nil
	}
	return k.send(bundleEnvelope(b))
}

// WriteOwnershipTransfer 写入所有权转移事件
func (k *KafkaOutput) WriteOwnershipTransfer(r *models.OwnershipTransfer) error {
	if r == nil {
		return nil
	}
	return k.send(ownershipEnvelope(r))
}

// Close 关闭Kafka连接
func (k *KafkaOutput) Close() error {
	if k.producer != nil {
		return k.producer.Close()
	}
	return nil
}
