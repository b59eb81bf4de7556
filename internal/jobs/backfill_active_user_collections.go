// Package jobs 活跃用户集合回填与重算任务
//
// 回填任务按 updated_at 升序扫描最近的 NFT 所有权变动, 对每个 (owner, collection)
// 加 6 小时去重锁后投递重算任务. 批次满额时带游标把自己重新投递到回填队列,
// 形成续扫链, 直到窗口尾部.
package jobs

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/eidos-exchange/eidos/eidos-indexer/internal/lock"
	"github.com/eidos-exchange/eidos/eidos-indexer/internal/metrics"
	"github.com/eidos-exchange/eidos/eidos-indexer/internal/model"
	"github.com/eidos-exchange/eidos/eidos-indexer/pkg/logger"
)

// JobNameBackfillActiveUserCollections 回填任务名, 同时也是调度任务名
const JobNameBackfillActiveUserCollections = "backfill-active-user-collections"

// 不参与回填的接收地址: 零地址与销毁地址
var excludedOwners = []string{
	"0x0000000000000000000000000000000000000000",
	"0x000000000000000000000000000000000000dead",
}

// OwnershipScanner 所有权变动扫描
type OwnershipScanner interface {
	ScanOwnershipChanges(ctx context.Context, params model.ScanParams) ([]model.OwnershipChange, error)
}

// Locker 非阻塞去重锁
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// releaseTimeout 撤销锁的时限, 不受批次 ctx 取消影响
const releaseTimeout = 5 * time.Second

// RefreshEnqueuer 重算任务队列
type RefreshEnqueuer interface {
	Enqueue(ctx context.Context, jobs []model.RefreshJob) error
}

// BackfillConfig 回填配置
type BackfillConfig struct {
	BatchLimit  int
	Window      time.Duration
	LockTTL     time.Duration
	Concurrency int
}

// DefaultBackfillConfig 默认回填配置
var DefaultBackfillConfig = BackfillConfig{
	BatchLimit:  400,
	Window:      4380 * time.Hour,
	LockTTL:     6 * time.Hour,
	Concurrency: 8,
}

// BackfillResult 单批回填结果
type BackfillResult struct {
	// Requeue 批次满额, 可能还有未扫描的记录
	Requeue    bool
	NextCursor *model.BackfillCursor

	Scanned  int
	Enqueued int
	// Skipped = Locked + NoCollection
	Skipped      int
	Locked       int
	NoCollection int
}

// BackfillActiveUserCollectionsJob 活跃用户集合回填
type BackfillActiveUserCollectionsJob struct {
	scanner OwnershipScanner
	locker  Locker
	queue   RefreshEnqueuer
	config  BackfillConfig
	now     func() time.Time
}

// NewBackfillActiveUserCollectionsJob 创建回填任务
func NewBackfillActiveUserCollectionsJob(scanner OwnershipScanner, locker Locker, queue RefreshEnqueuer, config *BackfillConfig) *BackfillActiveUserCollectionsJob {
	cfg := DefaultBackfillConfig
	if config != nil {
		cfg = *config
	}
	if cfg.BatchLimit <= 0 {
		cfg.BatchLimit = DefaultBackfillConfig.BatchLimit
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultBackfillConfig.Window
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = DefaultBackfillConfig.LockTTL
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultBackfillConfig.Concurrency
	}

	return &BackfillActiveUserCollectionsJob{
		scanner: scanner,
		locker:  locker,
		queue:   queue,
		config:  cfg,
		now:     time.Now,
	}
}

// Run 处理一批所有权变动
// 任一记录的加锁或投递失败都会使整批失败, 游标不前进, 由队列重试重新扫描同一批
func (j *BackfillActiveUserCollectionsJob) Run(ctx context.Context, cursor model.BackfillCursor) (*BackfillResult, error) {
	startTime := time.Now()

	records, err := j.scanner.ScanOwnershipChanges(ctx, model.ScanParams{
		Since:    cursor.LastUpdatedAt,
		Limit:    j.config.BatchLimit,
		Window:   j.config.Window,
		Now:      j.now(),
		Excluded: excludedOwners,
	})
	if err != nil {
		metrics.RecordBackfillRun("failed", 0, 0, 0)
		return nil, fmt.Errorf("scan ownership changes failed: %w", err)
	}

	var enqueued, locked int64
	noCollection := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(j.config.Concurrency)
	for _, rec := range records {
		if rec.CollectionID == nil || *rec.CollectionID == "" {
			noCollection++
			continue
		}
		owner, collectionID := rec.Owner, *rec.CollectionID
		g.Go(func() error {
			ok, err := j.dispatch(gctx, owner, collectionID)
			if err != nil {
				return err
			}
			if ok {
				atomic.AddInt64(&enqueued, 1)
			} else {
				atomic.AddInt64(&locked, 1)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		metrics.RecordBackfillRun("failed", 0, 0, 0)
		logger.WithContext(ctx).Error("backfill batch failed",
			zap.Int("scanned", len(records)),
			zap.Timep("cursor", cursor.LastUpdatedAt),
			zap.Error(err))
		return nil, err
	}

	result := &BackfillResult{
		Scanned:      len(records),
		Enqueued:     int(enqueued),
		Locked:       int(locked),
		NoCollection: noCollection,
		Skipped:      int(locked) + noCollection,
	}
	if len(records) == j.config.BatchLimit {
		last := records[len(records)-1].UpdatedAt
		if cursor.LastUpdatedAt != nil && last.Equal(*cursor.LastUpdatedAt) {
			// 整批同一时间戳, 下界是闭区间, 续扫只会拿到同一批
			metrics.BackfillStalledTotal.Inc()
			logger.WithContext(ctx).Error("backfill cursor stalled, stop requeue",
				zap.Time("cursor", last),
				zap.Int("batch_limit", j.config.BatchLimit))
		} else {
			result.Requeue = true
			result.NextCursor = &model.BackfillCursor{LastUpdatedAt: &last}
		}
	}

	metrics.RecordBackfillRun("success", result.Enqueued, result.Locked, result.NoCollection)
	logger.WithContext(ctx).Info("backfill batch completed",
		zap.Int("scanned", result.Scanned),
		zap.Int("enqueued", result.Enqueued),
		zap.Int("skipped", result.Skipped),
		zap.Bool("requeue", result.Requeue),
		zap.Duration("duration", time.Since(startTime)))
	return result, nil
}

// dispatch 加锁并投递单个 (owner, collection), 返回是否投递
// 投递失败时撤销刚拿到的锁, 否则重试时该 pair 会被当作已投递跳过
func (j *BackfillActiveUserCollectionsJob) dispatch(ctx context.Context, owner, collectionID string) (bool, error) {
	// 同批已有失败, 不再加锁
	if err := ctx.Err(); err != nil {
		return false, err
	}

	key := lock.DedupKey(owner, collectionID)
	acquired, err := j.locker.Acquire(ctx, key, j.config.LockTTL)
	if err != nil {
		return false, err
	}
	if !acquired {
		return false, nil
	}

	job := model.RefreshJob{User: owner, CollectionID: collectionID}
	if err := j.queue.Enqueue(ctx, []model.RefreshJob{job}); err != nil {
		j.release(ctx, key)
		return false, fmt.Errorf("enqueue refresh job %s failed: %w", job.Key(), err)
	}
	return true, nil
}

// release 撤销失败投递的锁, 撤销失败只能等 TTL 到期
func (j *BackfillActiveUserCollectionsJob) release(ctx context.Context, key string) {
	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()

	if err := j.locker.Release(rctx, key); err != nil {
		logger.WithContext(ctx).Warn("release dedup lock failed, pair stays locked until ttl",
			zap.String("key", key),
			zap.Error(err))
	}
}
