package queue

import (
	"context"

	"github.com/eidos-exchange/eidos/eidos-indexer/internal/model"
)

// RefreshQueue 用户-集合刷新任务队列
type RefreshQueue struct {
	producer *Producer
	topic    string
}

// NewRefreshQueue 创建刷新任务队列
func NewRefreshQueue(producer *Producer, topic string) *RefreshQueue {
	return &RefreshQueue{producer: producer, topic: topic}
}

// Enqueue 投递刷新任务, 同一 (user, collection) 路由到同一分区
func (q *RefreshQueue) Enqueue(ctx context.Context, jobs []model.RefreshJob) error {
	keys := make([]string, len(jobs))
	payloads := make([]any, len(jobs))
	for i, job := range jobs {
		keys[i] = job.Key()
		payloads[i] = job
	}
	return q.producer.EnqueueBatch(ctx, q.topic, keys, payloads)
}
