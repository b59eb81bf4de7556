// Package queue 基于 Kafka 的任务队列
//
// 至少一次投递, 失败后以 attempt+1 重新发布到原 topic,
// 超过最大次数进入 <topic>.dead-letter, 需要人工介入.
//
// ## Topic
//
//  1. backfill-active-user-collections
//     - 生产者: 调度器 (首轮) / 回填任务自身 (续扫)
//     - 消息格式: model.BackfillCursor
//     - 单分区, 同一时刻只有一个活跃消费者
//
//  2. resync-user-collections
//     - 生产者: 回填任务
//     - Partition Key: user:collectionId
//     - 消息格式: model.RefreshJob
package queue

import (
	"encoding/json"
	"strconv"
	"time"

	"github.com/IBM/sarama"
)

// 消息头
const (
	HeaderAttempt   = "x-attempt"
	HeaderNotBefore = "x-not-before"
	HeaderMessageID = "x-message-id"
	HeaderError     = "x-error"
)

const deadLetterSuffix = ".dead-letter"

// DeadLetterTopic 死信 topic
func DeadLetterTopic(topic string) string {
	return topic + deadLetterSuffix
}

// Delivery 一次消息投递
type Delivery struct {
	Topic     string
	Key       string
	Value     []byte
	MessageID string
	// Attempt 第几次投递, 从 1 开始
	Attempt int
	// NotBefore 最早处理时间, 零值表示立即处理
	NotBefore time.Time
	Partition int32
	Offset    int64
}

// Decode 解析 JSON 消息体
func (d *Delivery) Decode(v any) error {
	return json.Unmarshal(d.Value, v)
}

func newDelivery(msg *sarama.ConsumerMessage) *Delivery {
	d := &Delivery{
		Topic:     msg.Topic,
		Key:       string(msg.Key),
		Value:     msg.Value,
		Attempt:   1,
		Partition: msg.Partition,
		Offset:    msg.Offset,
	}

	for _, h := range msg.Headers {
		if h == nil {
			continue
		}
		switch string(h.Key) {
		case HeaderAttempt:
			if n, err := strconv.Atoi(string(h.Value)); err == nil && n > 0 {
				d.Attempt = n
			}
		case HeaderNotBefore:
			if ms, err := strconv.ParseInt(string(h.Value), 10, 64); err == nil && ms > 0 {
				d.NotBefore = time.UnixMilli(ms)
			}
		case HeaderMessageID:
			d.MessageID = string(h.Value)
		}
	}
	return d
}

// buildMessage 构建待发送消息
func buildMessage(topic, key string, value []byte, messageID string, attempt int, notBefore time.Time, cause error) *sarama.ProducerMessage {
	headers := []sarama.RecordHeader{
		{Key: []byte(HeaderMessageID), Value: []byte(messageID)},
		{Key: []byte(HeaderAttempt), Value: []byte(strconv.Itoa(attempt))},
	}
	if !notBefore.IsZero() {
		headers = append(headers, sarama.RecordHeader{
			Key:   []byte(HeaderNotBefore),
			Value: []byte(strconv.FormatInt(notBefore.UnixMilli(), 10)),
		})
	}
	if cause != nil {
		headers = append(headers, sarama.RecordHeader{
			Key:   []byte(HeaderError),
			Value: []byte(cause.Error()),
		})
	}

	return &sarama.ProducerMessage{
		Topic:   topic,
		Key:     sarama.StringEncoder(key),
		Value:   sarama.ByteEncoder(value),
		Headers: headers,
	}
}
