package model

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// JobStatus 任务执行状态
type JobStatus string

const (
	JobStatusRunning JobStatus = "running"
	JobStatusSuccess JobStatus = "success"
	JobStatusFailed  JobStatus = "failed"
	JobStatusSkipped JobStatus = "skipped" // 其他实例持有任务锁
)

// JobExecution 定时任务执行记录, 时间均为 unix 毫秒
type JobExecution struct {
	ID           int64           `gorm:"column:id;primaryKey;autoIncrement"`
	JobName      string          `gorm:"column:job_name;type:varchar(100);not null;index:idx_job_started,priority:1"`
	Status       JobStatus       `gorm:"column:status;type:varchar(20);not null"`
	StartedAt    int64           `gorm:"column:started_at;not null;index:idx_job_started,priority:2"`
	FinishedAt   *int64          `gorm:"column:finished_at"`
	DurationMs   *int            `gorm:"column:duration_ms"`
	ErrorMessage *string         `gorm:"column:error_message;type:text"`
	Result       ExecutionResult `gorm:"column:result;type:text"`
	CreatedAt    int64           `gorm:"column:created_at;not null"`
}

// TableName 表名
func (JobExecution) TableName() string {
	return "indexer_job_executions"
}

// NewJobExecution 开始一次执行
func NewJobExecution(jobName string, startedAt time.Time) *JobExecution {
	return &JobExecution{
		JobName:   jobName,
		Status:    JobStatusRunning,
		StartedAt: startedAt.UnixMilli(),
	}
}

// NewInstantExecution 未真正执行的记录 (跳过或加锁失败), 开始即结束
func NewInstantExecution(jobName string, status JobStatus, at time.Time, message string) *JobExecution {
	exec := NewJobExecution(jobName, at)
	exec.finish(status, at, message)
	return exec
}

// Finish 结束执行, err 非空记为失败并丢弃结果
func (e *JobExecution) Finish(at time.Time, err error, result ExecutionResult) {
	if err != nil {
		e.finish(JobStatusFailed, at, err.Error())
		return
	}
	e.finish(JobStatusSuccess, at, "")
	e.Result = result
}

func (e *JobExecution) finish(status JobStatus, at time.Time, message string) {
	finishedAt := at.UnixMilli()
	duration := int(finishedAt - e.StartedAt)
	e.Status = status
	e.FinishedAt = &finishedAt
	e.DurationMs = &duration
	if message != "" {
		e.ErrorMessage = &message
	}
}

// Duration 执行耗时, 未结束时为 0
func (e *JobExecution) Duration() time.Duration {
	if e.DurationMs == nil {
		return 0
	}
	return time.Duration(*e.DurationMs) * time.Millisecond
}

// ExecutionResult 执行结果, 以 JSON 文本存储
type ExecutionResult map[string]interface{}

// Value 实现 driver.Valuer
func (r ExecutionResult) Value() (driver.Value, error) {
	if r == nil {
		return nil, nil
	}
	data, err := json.Marshal(r)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Scan 实现 sql.Scanner
func (r *ExecutionResult) Scan(value interface{}) error {
	switch v := value.(type) {
	case nil:
		*r = nil
		return nil
	case []byte:
		return json.Unmarshal(v, r)
	case string:
		return json.Unmarshal([]byte(v), r)
	default:
		return fmt.Errorf("unsupported execution result type %T", value)
	}
}
