package queue

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eidos-exchange/eidos/eidos-indexer/internal/model"
)

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func newMockProducer(t *testing.T) (*mocks.SyncProducer, *Producer) {
	config := mocks.NewTestConfig()
	config.Producer.Return.Successes = true
	sp := mocks.NewSyncProducer(t, config)

	p := NewProducerWithSync(sp)
	p.now = func() time.Time { return fixedNow }
	t.Cleanup(func() { _ = p.Close() })
	return sp, p
}

func header(msg *sarama.ProducerMessage, key string) (string, bool) {
	for _, h := range msg.Headers {
		if string(h.Key) == key {
			return string(h.Value), true
		}
	}
	return "", false
}

func encoded(t *testing.T, enc sarama.Encoder) []byte {
	t.Helper()
	data, err := enc.Encode()
	require.NoError(t, err)
	return data
}

func TestProducer_Enqueue(t *testing.T) {
	sp, p := newMockProducer(t)

	sp.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		assert.Equal(t, "backfill-active-user-collections", msg.Topic)
		assert.Equal(t, "backfill", string(encoded(t, msg.Key)))

		var cursor model.BackfillCursor
		require.NoError(t, json.Unmarshal(encoded(t, msg.Value), &cursor))
		require.NotNil(t, cursor.LastUpdatedAt)
		assert.True(t, cursor.LastUpdatedAt.Equal(fixedNow))

		attempt, ok := header(msg, HeaderAttempt)
		assert.True(t, ok)
		assert.Equal(t, "1", attempt)

		id, ok := header(msg, HeaderMessageID)
		assert.True(t, ok)
		assert.NotEmpty(t, id)

		_, ok = header(msg, HeaderNotBefore)
		assert.False(t, ok, "zero delay must not set not-before")
		return nil
	})

	ts := fixedNow
	err := p.Enqueue(context.Background(), "backfill-active-user-collections", "backfill",
		model.BackfillCursor{LastUpdatedAt: &ts}, 0)
	require.NoError(t, err)
}

func TestProducer_EnqueueWithDelay(t *testing.T) {
	sp, p := newMockProducer(t)

	sp.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		notBefore, ok := header(msg, HeaderNotBefore)
		require.True(t, ok)
		assert.Equal(t, strconv.FormatInt(fixedNow.Add(30*time.Second).UnixMilli(), 10), notBefore)
		return nil
	})

	require.NoError(t, p.Enqueue(context.Background(), "topic", "k", map[string]int{"a": 1}, 30*time.Second))
}

func TestProducer_EnqueueSendFailure(t *testing.T) {
	sp, p := newMockProducer(t)
	sp.ExpectSendMessageAndFail(sarama.ErrNotEnoughReplicas)

	err := p.Enqueue(context.Background(), "topic", "k", "payload", 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, sarama.ErrNotEnoughReplicas)
}

func TestProducer_EnqueueMarshalError(t *testing.T) {
	_, p := newMockProducer(t)

	err := p.Enqueue(context.Background(), "topic", "k", make(chan int), 0)
	assert.Error(t, err)
}

func TestProducer_EnqueueCancelledContext(t *testing.T) {
	_, p := newMockProducer(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.Enqueue(ctx, "topic", "k", "payload", 0)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestProducer_Closed(t *testing.T) {
	_, p := newMockProducer(t)
	require.NoError(t, p.Close())
	require.NoError(t, p.Close())

	err := p.Enqueue(context.Background(), "topic", "k", "payload", 0)
	assert.True(t, errors.Is(err, ErrProducerClosed))
}

func TestProducer_EnqueueBatchMismatch(t *testing.T) {
	_, p := newMockProducer(t)

	err := p.EnqueueBatch(context.Background(), "topic", []string{"a", "b"}, []any{1})
	assert.Error(t, err)

	assert.NoError(t, p.EnqueueBatch(context.Background(), "topic", nil, nil))
}

func TestRefreshQueue_Enqueue(t *testing.T) {
	sp, p := newMockProducer(t)
	q := NewRefreshQueue(p, "resync-user-collections")

	jobs := []model.RefreshJob{
		{User: "0xaaa", CollectionID: "c1"},
		{User: "0xbbb", CollectionID: "c2"},
	}
	for _, job := range jobs {
		job := job
		sp.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
			assert.Equal(t, "resync-user-collections", msg.Topic)
			assert.Equal(t, job.Key(), string(encoded(t, msg.Key)))

			var got model.RefreshJob
			require.NoError(t, json.Unmarshal(encoded(t, msg.Value), &got))
			assert.Equal(t, job, got)
			return nil
		})
	}

	require.NoError(t, q.Enqueue(context.Background(), jobs))
}

func TestRefreshQueue_EnqueueFailure(t *testing.T) {
	sp, p := newMockProducer(t)
	q := NewRefreshQueue(p, "resync-user-collections")
	sp.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	err := q.Enqueue(context.Background(), []model.RefreshJob{{User: "0xaaa", CollectionID: "c1"}})
	assert.Error(t, err)
}
