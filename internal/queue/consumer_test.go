package queue

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eidos-exchange/eidos/eidos-indexer/internal/metrics"
)

func newTestConsumer(t *testing.T, handler Handler) (*Consumer, *Producer, func() *sarama.ProducerMessage) {
	sp, p := newMockProducer(t)
	c := newConsumer(ConsumerConfig{
		Topics:          []string{"resync-user-collections"},
		MaxRetries:      10,
		RetryBackoff:    time.Second,
		MaxRetryBackoff: time.Minute,
	}, nil, handler, p)
	c.now = func() time.Time { return fixedNow }

	var sent *sarama.ProducerMessage
	expectSend := func() *sarama.ProducerMessage { return sent }
	sp.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		sent = msg
		return nil
	})
	return c, p, expectSend
}

func consumerMessage(attempt int, notBefore time.Time) *sarama.ConsumerMessage {
	headers := []*sarama.RecordHeader{
		{Key: []byte(HeaderMessageID), Value: []byte("msg-1")},
		{Key: []byte(HeaderAttempt), Value: []byte(strconv.Itoa(attempt))},
	}
	if !notBefore.IsZero() {
		headers = append(headers, &sarama.RecordHeader{
			Key:   []byte(HeaderNotBefore),
			Value: []byte(strconv.FormatInt(notBefore.UnixMilli(), 10)),
		})
	}
	return &sarama.ConsumerMessage{
		Topic:     "resync-user-collections",
		Key:       []byte("0xaaa:c1"),
		Value:     []byte(`{"user":"0xaaa","collectionId":"c1"}`),
		Headers:   headers,
		Partition: 0,
		Offset:    42,
	}
}

func TestNewDelivery(t *testing.T) {
	d := newDelivery(consumerMessage(3, fixedNow))

	assert.Equal(t, "resync-user-collections", d.Topic)
	assert.Equal(t, "0xaaa:c1", d.Key)
	assert.Equal(t, "msg-1", d.MessageID)
	assert.Equal(t, 3, d.Attempt)
	assert.True(t, d.NotBefore.Equal(fixedNow))
	assert.Equal(t, int64(42), d.Offset)

	var job struct {
		User         string `json:"user"`
		CollectionID string `json:"collectionId"`
	}
	require.NoError(t, d.Decode(&job))
	assert.Equal(t, "0xaaa", job.User)
	assert.Equal(t, "c1", job.CollectionID)

	// 无消息头时视为第一次投递
	bare := newDelivery(&sarama.ConsumerMessage{Topic: "t", Value: []byte("{}")})
	assert.Equal(t, 1, bare.Attempt)
	assert.True(t, bare.NotBefore.IsZero())
}

func TestConsumer_ProcessSuccess(t *testing.T) {
	_, p := newMockProducer(t)
	var got *Delivery
	c := newConsumer(ConsumerConfig{Topics: []string{"resync-user-collections"}}, nil, func(ctx context.Context, d *Delivery) error {
		got = d
		return nil
	}, p)

	require.NoError(t, c.process(context.Background(), consumerMessage(1, time.Time{})))
	require.NotNil(t, got)
	assert.Equal(t, "msg-1", got.MessageID)
}

func TestConsumer_ProcessFailureRepublishes(t *testing.T) {
	handlerErr := errors.New("db down")
	c, _, sent := newTestConsumer(t, func(ctx context.Context, d *Delivery) error {
		return handlerErr
	})
	before := testutil.ToFloat64(metrics.QueueRetriesTotal.WithLabelValues("resync-user-collections"))

	require.NoError(t, c.process(context.Background(), consumerMessage(3, time.Time{})))

	msg := sent()
	require.NotNil(t, msg)
	assert.Equal(t, "resync-user-collections", msg.Topic)
	assert.Equal(t, "0xaaa:c1", string(encoded(t, msg.Key)))
	assert.JSONEq(t, `{"user":"0xaaa","collectionId":"c1"}`, string(encoded(t, msg.Value)))

	attempt, _ := header(msg, HeaderAttempt)
	assert.Equal(t, "4", attempt)
	id, _ := header(msg, HeaderMessageID)
	assert.Equal(t, "msg-1", id)
	notBefore, _ := header(msg, HeaderNotBefore)
	// 第 3 次失败退避 4s
	assert.Equal(t, strconv.FormatInt(fixedNow.Add(4*time.Second).UnixMilli(), 10), notBefore)
	cause, _ := header(msg, HeaderError)
	assert.Equal(t, "db down", cause)

	after := testutil.ToFloat64(metrics.QueueRetriesTotal.WithLabelValues("resync-user-collections"))
	assert.Equal(t, before+1, after)
}

func TestConsumer_ProcessExhaustedGoesToDeadLetter(t *testing.T) {
	c, _, sent := newTestConsumer(t, func(ctx context.Context, d *Delivery) error {
		return errors.New("still failing")
	})
	before := testutil.ToFloat64(metrics.QueueDeadLetterTotal.WithLabelValues("resync-user-collections"))

	require.NoError(t, c.process(context.Background(), consumerMessage(10, time.Time{})))

	msg := sent()
	require.NotNil(t, msg)
	assert.Equal(t, "resync-user-collections.dead-letter", msg.Topic)
	attempt, _ := header(msg, HeaderAttempt)
	assert.Equal(t, "10", attempt)
	_, ok := header(msg, HeaderNotBefore)
	assert.False(t, ok)

	after := testutil.ToFloat64(metrics.QueueDeadLetterTotal.WithLabelValues("resync-user-collections"))
	assert.Equal(t, before+1, after)
}

func TestConsumer_ProcessRepublishFailure(t *testing.T) {
	sp, p := newMockProducer(t)
	c := newConsumer(ConsumerConfig{Topics: []string{"resync-user-collections"}}, nil, func(ctx context.Context, d *Delivery) error {
		return errors.New("handler failed")
	}, p)
	sp.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	// 重新发布失败时不能提交 offset
	err := c.process(context.Background(), consumerMessage(1, time.Time{}))
	assert.Error(t, err)
}

func TestConsumer_WaitsForNotBefore(t *testing.T) {
	_, p := newMockProducer(t)
	called := false
	c := newConsumer(ConsumerConfig{Topics: []string{"resync-user-collections"}}, nil, func(ctx context.Context, d *Delivery) error {
		called = true
		return nil
	}, p)
	c.now = func() time.Time { return fixedNow }

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := c.process(ctx, consumerMessage(2, fixedNow.Add(time.Hour)))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, called)

	// 已过期的 not-before 立即处理
	require.NoError(t, c.process(context.Background(), consumerMessage(2, fixedNow.Add(-time.Minute))))
	assert.True(t, called)
}

func TestConsumer_Backoff(t *testing.T) {
	c := newConsumer(ConsumerConfig{RetryBackoff: time.Second, MaxRetryBackoff: time.Minute}, nil, nil, nil)

	testCases := []struct {
		attempt  int
		expected time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{6, 32 * time.Second},
		{7, time.Minute},
		{10, time.Minute},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.expected, c.backoff(tc.attempt), "attempt %d", tc.attempt)
	}
}

func TestConsumerConfig_Defaults(t *testing.T) {
	cfg := ConsumerConfig{}
	cfg.setDefaults()

	assert.Equal(t, 10, cfg.MaxRetries)
	assert.Equal(t, time.Second, cfg.RetryBackoff)
	assert.Equal(t, time.Minute, cfg.MaxRetryBackoff)
	assert.Equal(t, 5*time.Minute, cfg.MaxProcessingTime)
}

func TestNewConsumer_Validation(t *testing.T) {
	_, err := NewConsumer(ConsumerConfig{GroupID: "g", Topics: []string{"t"}}, nil, nil)
	assert.Error(t, err)

	_, err = NewConsumer(ConsumerConfig{Brokers: []string{"localhost:9092"}, Topics: []string{"t"}}, nil, nil)
	assert.Error(t, err)

	_, err = NewConsumer(ConsumerConfig{Brokers: []string{"localhost:9092"}, GroupID: "g"}, nil, nil)
	assert.Error(t, err)
}

func TestDeadLetterTopic(t *testing.T) {
	assert.Equal(t, "backfill-active-user-collections.dead-letter", DeadLetterTopic("backfill-active-user-collections"))
}
