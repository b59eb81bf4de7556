package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/eidos-exchange/eidos/eidos-indexer/internal/metrics"
	"github.com/eidos-exchange/eidos/eidos-indexer/pkg/logger"
)

// ErrProducerClosed 生产者已关闭
var ErrProducerClosed = errors.New("producer is closed")

// Producer 任务生产者
type Producer struct {
	producer sarama.SyncProducer
	mu       sync.RWMutex
	closed   bool
	now      func() time.Time
}

// ProducerConfig 生产者配置
type ProducerConfig struct {
	Brokers      []string
	ClientID     string
	MaxRetries   int
	RetryBackoff time.Duration
	SASL         *SASLConfig
}

// NewProducer 创建生产者
func NewProducer(cfg *ProducerConfig) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers is required")
	}

	config := sarama.NewConfig()
	config.Version = sarama.V2_8_0_0
	config.ClientID = cfg.ClientID
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true
	config.Producer.RequiredAcks = sarama.WaitForAll

	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}
	config.Producer.Retry.Max = maxRetries

	retryBackoff := cfg.RetryBackoff
	if retryBackoff == 0 {
		retryBackoff = 100 * time.Millisecond
	}
	config.Producer.Retry.Backoff = retryBackoff

	if err := applySASL(config, cfg.SASL); err != nil {
		return nil, err
	}

	producer, err := sarama.NewSyncProducer(cfg.Brokers, config)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer failed: %w", err)
	}

	return NewProducerWithSync(producer), nil
}

// NewProducerWithSync 使用已有的 SyncProducer 创建生产者
func NewProducerWithSync(producer sarama.SyncProducer) *Producer {
	return &Producer{
		producer: producer,
		now:      time.Now,
	}
}

// Close 关闭生产者
func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}

	p.closed = true
	return p.producer.Close()
}

// Enqueue 投递任务, delay > 0 时消费者会等到 now+delay 再处理
func (p *Producer) Enqueue(ctx context.Context, topic, key string, payload any, delay time.Duration) error {
	msg, err := p.newMessage(topic, key, payload, delay)
	if err != nil {
		return err
	}
	return p.publish(ctx, msg)
}

// EnqueueBatch 批量投递同一 topic 的任务, 立即可处理
func (p *Producer) EnqueueBatch(ctx context.Context, topic string, keys []string, payloads []any) error {
	if len(keys) != len(payloads) {
		return fmt.Errorf("enqueue batch: %d keys for %d payloads", len(keys), len(payloads))
	}
	if len(keys) == 0 {
		return nil
	}

	msgs := make([]*sarama.ProducerMessage, 0, len(keys))
	for i := range keys {
		msg, err := p.newMessage(topic, keys[i], payloads[i], 0)
		if err != nil {
			return err
		}
		msgs = append(msgs, msg)
	}

	if err := p.checkOpen(ctx); err != nil {
		return err
	}
	if err := p.producer.SendMessages(msgs); err != nil {
		metrics.RecordKafkaMessage(topic, "failed")
		logger.Error("failed to send kafka batch",
			zap.String("topic", topic),
			zap.Int("count", len(msgs)),
			zap.Error(err))
		return fmt.Errorf("send %d messages to %s failed: %w", len(msgs), topic, err)
	}

	for range msgs {
		metrics.RecordKafkaMessage(topic, "published")
	}
	return nil
}

func (p *Producer) newMessage(topic, key string, payload any, delay time.Duration) (*sarama.ProducerMessage, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload failed: %w", topic, err)
	}

	var notBefore time.Time
	if delay > 0 {
		notBefore = p.now().Add(delay)
	}
	return buildMessage(topic, key, data, uuid.New().String(), 1, notBefore, nil), nil
}

func (p *Producer) checkOpen(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrProducerClosed
	}
	return nil
}

// publish 发送消息
func (p *Producer) publish(ctx context.Context, msg *sarama.ProducerMessage) error {
	if err := p.checkOpen(ctx); err != nil {
		return err
	}

	partition, offset, err := p.producer.SendMessage(msg)
	if err != nil {
		metrics.RecordKafkaMessage(msg.Topic, "failed")
		logger.Error("failed to send kafka message",
			zap.String("topic", msg.Topic),
			zap.Error(err))
		return fmt.Errorf("send message to %s failed: %w", msg.Topic, err)
	}

	metrics.RecordKafkaMessage(msg.Topic, "published")
	logger.Debug("kafka message sent",
		zap.String("topic", msg.Topic),
		zap.Int32("partition", partition),
		zap.Int64("offset", offset))
	return nil
}
