package jobs

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/eidos-exchange/eidos/eidos-indexer/internal/metrics"
	"github.com/eidos-exchange/eidos/eidos-indexer/internal/model"
	"github.com/eidos-exchange/eidos/eidos-indexer/internal/queue"
	"github.com/eidos-exchange/eidos/eidos-indexer/pkg/logger"
)

// CollectionRecomputer 用户-集合聚合重算
type CollectionRecomputer interface {
	Recompute(ctx context.Context, owner, collectionID string) (decimal.Decimal, error)
}

// ResyncUserCollectionsJob 消费重算任务, 按当前 NFT 余额重建 user_collections
type ResyncUserCollectionsJob struct {
	repo CollectionRecomputer
}

// NewResyncUserCollectionsJob 创建重算任务
func NewResyncUserCollectionsJob(repo CollectionRecomputer) *ResyncUserCollectionsJob {
	return &ResyncUserCollectionsJob{repo: repo}
}

// Handle 重算单个 (user, collection), 幂等
func (j *ResyncUserCollectionsJob) Handle(ctx context.Context, job model.RefreshJob) error {
	if job.User == "" || job.CollectionID == "" {
		metrics.UserCollectionsRecomputedTotal.WithLabelValues("invalid").Inc()
		logger.WithContext(ctx).Warn("drop malformed refresh job",
			zap.String("user", job.User),
			zap.String("collection_id", job.CollectionID))
		return nil
	}

	count, err := j.repo.Recompute(ctx, job.User, job.CollectionID)
	if err != nil {
		metrics.UserCollectionsRecomputedTotal.WithLabelValues("failed").Inc()
		return fmt.Errorf("recompute user collection %s failed: %w", job.Key(), err)
	}

	metrics.UserCollectionsRecomputedTotal.WithLabelValues("success").Inc()
	logger.WithContext(ctx).Debug("user collection recomputed",
		zap.String("user", job.User),
		zap.String("collection_id", job.CollectionID),
		zap.String("token_count", count.String()))
	return nil
}

// HandleDelivery 处理重算队列消息
// 无法解码的消息重试也不会成功, 直接丢弃
func (j *ResyncUserCollectionsJob) HandleDelivery(ctx context.Context, delivery *queue.Delivery) error {
	var job model.RefreshJob
	if err := delivery.Decode(&job); err != nil {
		metrics.UserCollectionsRecomputedTotal.WithLabelValues("invalid").Inc()
		logger.WithContext(ctx).Warn("drop undecodable refresh job",
			zap.String("key", delivery.Key),
			zap.Error(err))
		return nil
	}
	return j.Handle(ctx, job)
}
