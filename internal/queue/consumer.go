package queue

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/eidos-exchange/eidos/eidos-indexer/internal/metrics"
	"github.com/eidos-exchange/eidos/eidos-indexer/pkg/logger"
)

// Handler 消息处理函数, 返回 error 触发重试
type Handler func(ctx context.Context, d *Delivery) error

// ConsumerConfig 消费者配置
type ConsumerConfig struct {
	Brokers           []string
	GroupID           string
	ClientID          string
	Topics            []string
	MaxRetries        int
	RetryBackoff      time.Duration
	MaxRetryBackoff   time.Duration
	MaxProcessingTime time.Duration
	SASL              *SASLConfig
}

func (c *ConsumerConfig) setDefaults() {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 10
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = time.Second
	}
	if c.MaxRetryBackoff < c.RetryBackoff {
		c.MaxRetryBackoff = time.Minute
	}
	if c.MaxProcessingTime <= 0 {
		c.MaxProcessingTime = 5 * time.Minute
	}
}

// Consumer 任务消费者
// 每个分区一个 goroutine, 同一分区内的消息串行处理
type Consumer struct {
	config   ConsumerConfig
	group    sarama.ConsumerGroup
	handler  Handler
	producer *Producer
	now      func() time.Time

	started int32
	closeCh chan struct{}
	closeWg sync.WaitGroup
}

// NewConsumer 创建消费者, producer 用于重试与死信
func NewConsumer(cfg ConsumerConfig, handler Handler, producer *Producer) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka brokers is required")
	}
	if cfg.GroupID == "" {
		return nil, errors.New("consumer group id is required")
	}
	if len(cfg.Topics) == 0 {
		return nil, errors.New("topics is required")
	}

	config := sarama.NewConfig()
	config.Version = sarama.V2_8_0_0
	config.ClientID = cfg.ClientID
	config.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategySticky()}
	config.Consumer.Offsets.Initial = sarama.OffsetOldest
	config.Consumer.Offsets.AutoCommit.Enable = true
	config.Consumer.Offsets.AutoCommit.Interval = time.Second
	config.Consumer.Return.Errors = true
	if err := applySASL(config, cfg.SASL); err != nil {
		return nil, err
	}

	group, err := sarama.NewConsumerGroup(cfg.Brokers, cfg.GroupID, config)
	if err != nil {
		return nil, fmt.Errorf("create consumer group failed: %w", err)
	}

	return newConsumer(cfg, group, handler, producer), nil
}

func newConsumer(cfg ConsumerConfig, group sarama.ConsumerGroup, handler Handler, producer *Producer) *Consumer {
	cfg.setDefaults()
	return &Consumer{
		config:   cfg,
		group:    group,
		handler:  handler,
		producer: producer,
		now:      time.Now,
		closeCh:  make(chan struct{}),
	}
}

// Start 启动消费者
func (c *Consumer) Start(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&c.started, 0, 1) {
		return errors.New("consumer already started")
	}
	if c.handler == nil {
		return errors.New("message handler is required")
	}

	c.closeWg.Add(2)
	go c.consumeLoop(ctx)
	go c.errorLoop()

	logger.Info("queue consumer started",
		zap.Strings("topics", c.config.Topics),
		zap.String("group_id", c.config.GroupID))
	return nil
}

// Stop 停止消费者
func (c *Consumer) Stop() error {
	if !atomic.CompareAndSwapInt32(&c.started, 1, 0) {
		return nil
	}

	close(c.closeCh)
	err := c.group.Close()
	c.closeWg.Wait()
	return err
}

func (c *Consumer) consumeLoop(ctx context.Context) {
	defer c.closeWg.Done()

	handler := &groupHandler{consumer: c}
	for {
		select {
		case <-c.closeCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		if err := c.group.Consume(ctx, c.config.Topics, handler); err != nil {
			if errors.Is(err, sarama.ErrClosedConsumerGroup) {
				return
			}
			logger.Error("queue consume error",
				zap.Strings("topics", c.config.Topics),
				zap.Error(err))
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			case <-c.closeCh:
				return
			}
		}
	}
}

func (c *Consumer) errorLoop() {
	defer c.closeWg.Done()

	for {
		select {
		case <-c.closeCh:
			return
		case err, ok := <-c.group.Errors():
			if !ok {
				return
			}
			logger.Error("consumer group error", zap.Error(err))
		}
	}
}

// process 处理单条消息, 返回 nil 表示可以提交 offset
func (c *Consumer) process(ctx context.Context, msg *sarama.ConsumerMessage) error {
	d := newDelivery(msg)
	metrics.RecordKafkaMessage(d.Topic, "consumed")

	if err := c.waitUntil(ctx, d.NotBefore); err != nil {
		return err
	}

	hctx, cancel := context.WithTimeout(logger.NewContext(ctx,
		zap.String("topic", d.Topic),
		zap.String("message_id", d.MessageID),
		zap.Int("attempt", d.Attempt)), c.config.MaxProcessingTime)
	err := c.handler(hctx, d)
	cancel()
	if err == nil {
		return nil
	}

	logger.Warn("queue message handling failed",
		zap.String("topic", d.Topic),
		zap.String("key", d.Key),
		zap.String("message_id", d.MessageID),
		zap.Int("attempt", d.Attempt),
		zap.Error(err))
	return c.retry(ctx, d, err)
}

// retry 以 attempt+1 重新发布, 超过最大次数转入死信
func (c *Consumer) retry(ctx context.Context, d *Delivery, cause error) error {
	if d.Attempt >= c.config.MaxRetries {
		dlq := DeadLetterTopic(d.Topic)
		msg := buildMessage(dlq, d.Key, d.Value, d.MessageID, d.Attempt, time.Time{}, cause)
		if err := c.producer.publish(ctx, msg); err != nil {
			return fmt.Errorf("move message %s to dead letter failed: %w", d.MessageID, err)
		}

		metrics.QueueDeadLetterTotal.WithLabelValues(d.Topic).Inc()
		logger.Error("queue message exhausted retries, moved to dead letter",
			zap.String("topic", d.Topic),
			zap.String("dead_letter_topic", dlq),
			zap.String("key", d.Key),
			zap.String("message_id", d.MessageID),
			zap.Int("attempts", d.Attempt),
			zap.Error(cause))
		return nil
	}

	backoff := c.backoff(d.Attempt)
	msg := buildMessage(d.Topic, d.Key, d.Value, d.MessageID, d.Attempt+1, c.now().Add(backoff), cause)
	if err := c.producer.publish(ctx, msg); err != nil {
		return fmt.Errorf("republish message %s failed: %w", d.MessageID, err)
	}

	metrics.QueueRetriesTotal.WithLabelValues(d.Topic).Inc()
	logger.Info("queue message scheduled for retry",
		zap.String("topic", d.Topic),
		zap.String("message_id", d.MessageID),
		zap.Int("next_attempt", d.Attempt+1),
		zap.Duration("backoff", backoff))
	return nil
}

// backoff 指数退避, 第 1 次失败后等待 RetryBackoff
func (c *Consumer) backoff(attempt int) time.Duration {
	backoff := c.config.RetryBackoff
	for i := 1; i < attempt; i++ {
		backoff *= 2
		if backoff >= c.config.MaxRetryBackoff {
			return c.config.MaxRetryBackoff
		}
	}
	return backoff
}

func (c *Consumer) waitUntil(ctx context.Context, notBefore time.Time) error {
	if notBefore.IsZero() {
		return nil
	}
	wait := notBefore.Sub(c.now())
	if wait <= 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// groupHandler 实现 sarama.ConsumerGroupHandler
type groupHandler struct {
	consumer *Consumer
}

func (h *groupHandler) Setup(session sarama.ConsumerGroupSession) error {
	logger.Info("queue consumer session setup",
		zap.Int32("generation_id", session.GenerationID()),
		zap.String("member_id", session.MemberID()))
	return nil
}

func (h *groupHandler) Cleanup(_ sarama.ConsumerGroupSession) error { return nil }

func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := session.Context()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-h.consumer.closeCh:
			return nil
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := h.consumer.process(ctx, msg); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				// 不提交 offset, 下个 session 重新投递
				return err
			}
			session.MarkMessage(msg, "")
		}
	}
}
