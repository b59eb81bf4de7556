package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/eidos-exchange/eidos/eidos-indexer/internal/metrics"
	"github.com/eidos-exchange/eidos/eidos-indexer/internal/model"
	"github.com/eidos-exchange/eidos/eidos-indexer/internal/repository"
	"github.com/eidos-exchange/eidos/eidos-indexer/pkg/logger"
)

// staleExecutionThreshold 启动时超过该时长仍为 running 的记录视为进程崩溃遗留
const staleExecutionThreshold = time.Hour

// Scheduler 任务调度器
type Scheduler struct {
	cron     *cron.Cron
	client   redis.UniversalClient
	execRepo *repository.ExecutionRepository

	mu      sync.RWMutex
	jobs    map[string]Job
	configs map[string]JobConfig
	entries map[string]cron.EntryID

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewScheduler 创建调度器
func NewScheduler(client redis.UniversalClient, execRepo *repository.ExecutionRepository) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())

	return &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		client:   client,
		execRepo: execRepo,
		jobs:     make(map[string]Job),
		configs:  make(map[string]JobConfig),
		entries:  make(map[string]cron.EntryID),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// RegisterJob 注册任务
func (s *Scheduler) RegisterJob(job Job, config JobConfig) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.Name()]; exists {
		return fmt.Errorf("job %s already registered", job.Name())
	}

	s.jobs[job.Name()] = job
	s.configs[job.Name()] = config

	if !config.Enabled {
		logger.Info("job registered but disabled", zap.String("job", job.Name()))
		return nil
	}

	id, err := s.cron.AddFunc(config.Cron, func() {
		s.executeJob(job)
	})
	if err != nil {
		delete(s.jobs, job.Name())
		delete(s.configs, job.Name())
		return fmt.Errorf("failed to add cron job %s: %w", job.Name(), err)
	}
	s.entries[job.Name()] = id

	logger.Info("job registered",
		zap.String("job", job.Name()),
		zap.String("cron", config.Cron))
	return nil
}

// Start 启动调度器
func (s *Scheduler) Start(ctx context.Context) {
	if n, err := s.execRepo.MarkStaleRunningAsFailed(ctx, staleExecutionThreshold); err != nil {
		logger.Warn("failed to mark stale job executions", zap.Error(err))
	} else if n > 0 {
		logger.Info("marked stale job executions as failed", zap.Int64("count", n))
	}

	s.cron.Start()
	s.refreshScheduleMetrics()
	logger.Info("scheduler started", zap.Int("jobs", len(s.cron.Entries())))
}

// Stop 停止调度器, 等待执行中的任务结束
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.wg.Wait()
	logger.Info("scheduler stopped")
}

// TriggerJob 手动触发任务
func (s *Scheduler) TriggerJob(jobName string) error {
	s.mu.RLock()
	job, exists := s.jobs[jobName]
	s.mu.RUnlock()

	if !exists {
		return fmt.Errorf("job %s not found", jobName)
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.executeJob(job)
	}()
	return nil
}

// executeJob 执行任务
func (s *Scheduler) executeJob(job Job) {
	select {
	case <-s.ctx.Done():
		return
	default:
	}

	ctx, cancel := context.WithTimeout(s.ctx, job.Timeout())
	defer cancel()

	if ttl := job.LockTTL(); ttl > 0 {
		lock := NewJobLock(s.client, job.Name(), ttl)
		acquired, err := lock.TryLock(ctx)
		if err != nil {
			logger.Error("failed to acquire job lock",
				zap.String("job", job.Name()),
				zap.Error(err))
			s.recordExecution(job.Name(), model.JobStatusFailed, err.Error())
			return
		}
		if !acquired {
			logger.Debug("job is running on another instance", zap.String("job", job.Name()))
			s.recordExecution(job.Name(), model.JobStatusSkipped, "job is running on another instance")
			return
		}
		defer func() {
			if err := lock.Unlock(context.Background()); err != nil {
				logger.Error("failed to release job lock",
					zap.String("job", job.Name()),
					zap.Error(err))
			}
		}()
	}

	exec := model.NewJobExecution(job.Name(), time.Now())
	if err := s.execRepo.Create(ctx, exec); err != nil {
		logger.Error("failed to record job start",
			zap.String("job", job.Name()),
			zap.Error(err))
	}

	logger.Info("starting job", zap.String("job", job.Name()))
	result, err := job.Execute(ctx)
	exec.Finish(time.Now(), err, result.ToExecutionResult())

	if err != nil {
		logger.Error("job failed",
			zap.String("job", job.Name()),
			zap.Duration("duration", exec.Duration()),
			zap.Error(err))
	} else {
		logger.Info("job completed",
			zap.String("job", job.Name()),
			zap.Duration("duration", exec.Duration()))
	}
	metrics.RecordJobExecution(job.Name(), string(exec.Status), exec.Duration().Seconds())

	if err := s.execRepo.Update(context.Background(), exec); err != nil {
		logger.Error("failed to update job execution",
			zap.String("job", job.Name()),
			zap.Error(err))
	}
	s.refreshScheduleMetrics()
}

// recordExecution 记录未真正执行的情况 (跳过或加锁失败)
func (s *Scheduler) recordExecution(jobName string, status model.JobStatus, message string) {
	exec := model.NewInstantExecution(jobName, status, time.Now(), message)
	metrics.RecordJobExecution(jobName, string(status), 0)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.execRepo.Create(ctx, exec); err != nil {
		logger.Error("failed to record job execution",
			zap.String("job", jobName),
			zap.Error(err))
	}
}

func (s *Scheduler) refreshScheduleMetrics() {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for name, id := range s.entries {
		if next := s.cron.Entry(id).Next; !next.IsZero() {
			metrics.UpdateJobSchedule(name, float64(next.Unix()))
		}
	}
	metrics.UpdateScheduledJobs(len(s.entries))
}

// JobStatus 任务状态
type JobStatus struct {
	Name       string `json:"name"`
	Enabled    bool   `json:"enabled"`
	Cron       string `json:"cron"`
	IsLocked   bool   `json:"is_locked"`
	LastStatus string `json:"last_status,omitempty"`
	LastError  string `json:"last_error,omitempty"`
	LastRunAt  int64  `json:"last_run_at,omitempty"`
}

// GetJobStatus 获取任务状态
func (s *Scheduler) GetJobStatus(ctx context.Context, jobName string) (*JobStatus, error) {
	s.mu.RLock()
	_, exists := s.jobs[jobName]
	config := s.configs[jobName]
	s.mu.RUnlock()

	if !exists {
		return nil, fmt.Errorf("job %s not found", jobName)
	}

	lastExec, err := s.execRepo.GetLatestByJobName(ctx, jobName)
	if err != nil {
		return nil, err
	}
	locked, err := IsJobLocked(ctx, s.client, jobName)
	if err != nil {
		return nil, err
	}

	status := &JobStatus{
		Name:     jobName,
		Enabled:  config.Enabled,
		Cron:     config.Cron,
		IsLocked: locked,
	}
	if lastExec != nil {
		status.LastStatus = string(lastExec.Status)
		status.LastRunAt = lastExec.StartedAt
		if lastExec.ErrorMessage != nil {
			status.LastError = *lastExec.ErrorMessage
		}
	}
	return status, nil
}
