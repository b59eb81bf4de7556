// Package scheduler 定时任务调度
package scheduler

import (
	"context"
	"time"

	"github.com/eidos-exchange/eidos/eidos-indexer/internal/model"
)

// Job 定时任务
type Job interface {
	// Name 任务名称
	Name() string
	// Execute 执行任务
	Execute(ctx context.Context) (*JobResult, error)
	// Timeout 单次执行超时
	Timeout() time.Duration
	// LockTTL 跨实例互斥锁 TTL, 0 表示不加锁
	LockTTL() time.Duration
}

// JobResult 任务执行结果
type JobResult struct {
	ProcessedCount int
	AffectedCount  int
	Details        map[string]interface{}
}

// ToExecutionResult 转换为执行记录中的结果
func (r *JobResult) ToExecutionResult() model.ExecutionResult {
	if r == nil {
		return nil
	}
	result := model.ExecutionResult{
		"processed_count": r.ProcessedCount,
		"affected_count":  r.AffectedCount,
	}
	for k, v := range r.Details {
		result[k] = v
	}
	return result
}

// BaseJob 任务公共属性
type BaseJob struct {
	name    string
	timeout time.Duration
	lockTTL time.Duration
}

// NewBaseJob 创建任务公共属性
func NewBaseJob(name string, timeout, lockTTL time.Duration) BaseJob {
	return BaseJob{
		name:    name,
		timeout: timeout,
		lockTTL: lockTTL,
	}
}

func (j BaseJob) Name() string           { return j.name }
func (j BaseJob) Timeout() time.Duration { return j.timeout }
func (j BaseJob) LockTTL() time.Duration { return j.lockTTL }

// JobConfig 任务调度配置
type JobConfig struct {
	Cron    string
	Enabled bool
}
