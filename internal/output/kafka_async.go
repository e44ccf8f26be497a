package output

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"

	"custody/pkg/models"
)

// AsyncKafkaOutput 异步Kafka输出器，写入不阻塞请求路径
type AsyncKafkaOutput struct {
	logger   *logrus.Logger
	topics   map[string]string
	producer sarama.AsyncProducer
	wg       sync.WaitGroup

	closeOnce sync.Once
	inputMu   sync.RWMutex // 保护关闭与投递之间的竞争
	closed    bool

	// 统计信息
	mu         sync.RWMutex
	sentCount  int64
	errorCount int64
}

// NewAsyncKafkaOutput 创建异步Kafka输出器
func NewAsyncKafkaOutput(brokers []string, topics map[string]string, logger *logrus.Logger) (*AsyncKafkaOutput, error) {
	logger.Infof("初始化异步Kafka输出器，brokers: %v", brokers)

	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true
	config.Producer.RequiredAcks = sarama.WaitForLocal
	config.Producer.Retry.Max = 3
	config.Producer.Timeout = 3 * time.Second
	config.Producer.Flush.Frequency = 100 * time.Millisecond
	config.Producer.Compression = sarama.CompressionSnappy
	config.ChannelBufferSize = 1000
	config.Version = sarama.V2_8_0_0

	producer, err := sarama.NewAsyncProducer(brokers, config)
	if err != nil {
		return nil, fmt.Errorf("创建异步Kafka生产者失败: %w", err)
	}
	return NewAsyncKafkaOutputWithProducer(producer, topics, logger), nil
}

// NewAsyncKafkaOutputWithProducer 使用已有的异步生产者创建输出器
func NewAsyncKafkaOutputWithProducer(producer sarama.AsyncProducer, topics map[string]string, logger *logrus.Logger) *AsyncKafkaOutput {
	k := &AsyncKafkaOutput{
		logger:   logger,
		topics:   mergeTopics(topics),
		producer: producer,
	}

	k.wg.Add(2)
	go k.handleSuccesses()
	go k.handleErrors()

	logger.Info("异步Kafka生产者已启动")
	return k
}

// handleSuccesses 处理成功发送的消息，生产者关闭后通道关闭
func (k *AsyncKafkaOutput) handleSuccesses() {
	defer k.wg.Done()
	for msg := range k.producer.Successes() {
		k.mu.Lock()
		k.sentCount++
		k.mu.Unlock()
		k.logger.Debugf("事件成功发送到 topic %s, partition %d, offset %d", msg.Topic, msg.Partition, msg.Offset)
	}
}

// handleErrors 处理发送失败的消息
func (k *AsyncKafkaOutput) handleErrors() {
	defer k.wg.Done()
	for perr := range k.producer.Errors() {
		k.mu.Lock()
		k.errorCount++
		k.mu.Unlock()
		k.logger.Errorf("Kafka发送失败: topic=%s, error=%v", perr.Msg.Topic, perr.Err)
	}
}

// send 非阻塞投递，输入通道满时返回错误
func (k *AsyncKafkaOutput) send(env envelope) error {
	data, err := json.Marshal(env.payload)
	if err != nil {
		return fmt.Errorf("序列化数据失败: %w", err)
	}

	msg := &sarama.ProducerMessage{
		Topic: k.topics[env.event],
		Key:   sarama.StringEncoder(env.key),
		Value: sarama.ByteEncoder(data),
	}

	k.inputMu.RLock()
	defer k.inputMu.RUnlock()
	if k.closed {
		return fmt.Errorf("Kafka生产者已关闭")
	}

	select {
	case k.producer.Input() <- msg:
		return nil
	default:
		return fmt.Errorf("Kafka生产者输入通道已满")
	}
}

// WriteWallet 异步写入钱包创建事件
func (k *AsyncKafkaOutput) WriteWallet(w *models.Wallet) error {
	if w == nil {
		return nil
	}
	return k.send(walletEnvelope(w))
}

// WriteTransaction 异步写入交易事件
func (k *AsyncKafkaOutput) WriteTransaction(t *models.Transaction) error {
	if t == nil {
		return nil
	}
	return k.send(transactionEnvelope(t))
}

// WriteBundle 异步写入交易包事件
func (k *AsyncKafkaOutput) WriteBundle(b *models.Bundle) error {
	if b == nil {
		return nil
	}
	return k.send(bundleEnvelope(b))
}

// WriteOwnershipTransfer 异步写入所有权转移事件
func (k *AsyncKafkaOutput) WriteOwnershipTransfer(r *models.OwnershipTransfer) error {
	if r == nil {
		return nil
	}
	return k.send(ownershipEnvelope(r))
}

// GetStats 获取统计信息（已发送, 失败）
func (k *AsyncKafkaOutput) GetStats() (int64, int64) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.sentCount, k.errorCount
}

// Close 关闭生产者：先停止接收新事件，生产者刷新缓冲后关闭结果通道
func (k *AsyncKafkaOutput) Close() error {
	var err error
	k.closeOnce.Do(func() {
		k.logger.Info("关闭异步Kafka生产者...")
		k.inputMu.Lock()
		k.closed = true
		k.inputMu.Unlock()

		err = k.producer.Close()
		k.wg.Wait()

		sent, failed := k.GetStats()
		k.logger.Infof("异步Kafka生产者已关闭，总计发送: %d，错误: %d", sent, failed)
	})
	return err
}
