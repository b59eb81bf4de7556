package jobs

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/eidos-exchange/eidos/eidos-indexer/internal/metrics"
	"github.com/eidos-exchange/eidos/eidos-indexer/internal/model"
	"github.com/eidos-exchange/eidos/eidos-indexer/internal/queue"
	"github.com/eidos-exchange/eidos/eidos-indexer/internal/scheduler"
	"github.com/eidos-exchange/eidos/eidos-indexer/pkg/logger"
)

// backfillMessageKey 回填消息固定 key, 保证续扫链落在同一分区串行执行
const backfillMessageKey = "backfill"

// CursorEnqueuer 回填游标投递
type CursorEnqueuer interface {
	Enqueue(ctx context.Context, topic, key string, payload any, delay time.Duration) error
}

// BackfillDriver 驱动回填续扫链: 消费游标, 执行一批, 满额时投递下一个游标
type BackfillDriver struct {
	job      *BackfillActiveUserCollectionsJob
	producer CursorEnqueuer
	topic    string
}

// NewBackfillDriver 创建回填驱动
func NewBackfillDriver(job *BackfillActiveUserCollectionsJob, producer CursorEnqueuer, topic string) *BackfillDriver {
	return &BackfillDriver{
		job:      job,
		producer: producer,
		topic:    topic,
	}
}

// HandleDelivery 处理回填队列消息, 返回 error 由队列按重试策略重新投递同一游标
func (d *BackfillDriver) HandleDelivery(ctx context.Context, delivery *queue.Delivery) error {
	cursor, err := model.DecodeBackfillCursor(delivery.Value)
	if err != nil {
		return fmt.Errorf("decode backfill cursor failed: %w", err)
	}

	result, err := d.job.Run(ctx, cursor)
	if err != nil {
		return err
	}
	return d.OnCompleted(ctx, result)
}

// OnCompleted 批次成功后, 需要续扫时以零延迟投递下一个游标
func (d *BackfillDriver) OnCompleted(ctx context.Context, result *BackfillResult) error {
	if result == nil || !result.Requeue || result.NextCursor == nil {
		return nil
	}

	if err := d.producer.Enqueue(ctx, d.topic, backfillMessageKey, *result.NextCursor, 0); err != nil {
		return fmt.Errorf("requeue backfill failed: %w", err)
	}
	metrics.BackfillRequeuesTotal.Inc()
	logger.WithContext(ctx).Debug("backfill requeued",
		zap.Timep("next_cursor", result.NextCursor.LastUpdatedAt))
	return nil
}

// Trigger 以空游标开启一条新的续扫链
func (d *BackfillDriver) Trigger(ctx context.Context) error {
	return d.producer.Enqueue(ctx, d.topic, backfillMessageKey, model.BackfillCursor{}, 0)
}

// BackfillSeedJob 定时开启回填续扫链
type BackfillSeedJob struct {
	scheduler.BaseJob
	driver *BackfillDriver
}

// NewBackfillSeedJob 创建回填调度任务
func NewBackfillSeedJob(driver *BackfillDriver, lockTTL time.Duration) *BackfillSeedJob {
	return &BackfillSeedJob{
		BaseJob: scheduler.NewBaseJob(JobNameBackfillActiveUserCollections, 30*time.Second, lockTTL),
		driver:  driver,
	}
}

// Execute 投递首轮游标
func (j *BackfillSeedJob) Execute(ctx context.Context) (*scheduler.JobResult, error) {
	if err := j.driver.Trigger(ctx); err != nil {
		return nil, err
	}
	return &scheduler.JobResult{
		AffectedCount: 1,
		Details:       map[string]interface{}{"topic": j.driver.topic},
	}, nil
}
