package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/eidos-exchange/eidos/eidos-indexer/internal/model"
)

// staleExecutionMessage 进程崩溃后遗留的 running 记录
const staleExecutionMessage = "execution abandoned (marked as failed on startup)"

// ExecutionRepository 定时任务执行记录
type ExecutionRepository struct {
	*Repository
}

// NewExecutionRepository 创建执行记录仓储
func NewExecutionRepository(db *gorm.DB) *ExecutionRepository {
	return &ExecutionRepository{Repository: NewRepository(db)}
}

// Create 写入执行记录, 回填 ID
func (r *ExecutionRepository) Create(ctx context.Context, exec *model.JobExecution) error {
	exec.CreatedAt = time.Now().UnixMilli()
	return r.DB(ctx).Create(exec).Error
}

// Update 保存执行结果
func (r *ExecutionRepository) Update(ctx context.Context, exec *model.JobExecution) error {
	return r.DB(ctx).Save(exec).Error
}

// GetLatestByJobName 最近一次执行, 没有时返回 nil
func (r *ExecutionRepository) GetLatestByJobName(ctx context.Context, jobName string) (*model.JobExecution, error) {
	execs, err := r.ListByJobName(ctx, jobName, 1)
	if err != nil || len(execs) == 0 {
		return nil, err
	}
	return execs[0], nil
}

// ListByJobName 按开始时间倒序的执行历史
func (r *ExecutionRepository) ListByJobName(ctx context.Context, jobName string, limit int) ([]*model.JobExecution, error) {
	var execs []*model.JobExecution
	err := r.DB(ctx).
		Where("job_name = ?", jobName).
		Order("started_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&execs).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return execs, err
}

// MarkStaleRunningAsFailed 开始时间早于 threshold 之前仍为 running 的记录改为 failed
func (r *ExecutionRepository) MarkStaleRunningAsFailed(ctx context.Context, threshold time.Duration) (int64, error) {
	now := time.Now()
	result := r.DB(ctx).
		Model(&model.JobExecution{}).
		Where("status = ?", model.JobStatusRunning).
		Where("started_at < ?", now.Add(-threshold).UnixMilli()).
		Updates(map[string]interface{}{
			"status":        model.JobStatusFailed,
			"finished_at":   now.UnixMilli(),
			"error_message": staleExecutionMessage,
		})
	return result.RowsAffected, result.Error
}
