// Package metrics 提供 eidos-indexer 服务的 Prometheus 监控指标
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "eidos_indexer"

// 订单有效性检查指标
var (
	// ValidityChecksTotal 有效性检查总数
	ValidityChecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "validity_checks_total",
			Help:      "订单有效性检查总数",
		},
		[]string{"protocol", "result"}, // result: valid, invalid-target, cancelled, filled, no-balance, ..., error
	)

	// ValidityCheckDuration 有效性检查耗时
	ValidityCheckDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "validity_check_duration_seconds",
			Help:      "订单有效性检查耗时(秒)",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
		},
		[]string{"protocol"},
	)

	// ChainRechecksTotal 链上复核次数
	ChainRechecksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chain_rechecks_total",
			Help:      "链上授权复核次数",
		},
		[]string{"kind", "result"}, // kind: ft_allowance, nft_approval; result: approved, denied, error
	)

	// ApprovalWriteBackErrorsTotal 授权缓存回写失败次数
	ApprovalWriteBackErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "approval_write_back_errors_total",
			Help:      "授权缓存回写失败次数",
		},
		[]string{"kind"},
	)
)

// 链上调用指标
var (
	// RPCRequestsTotal RPC 请求总数
	RPCRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rpc_requests_total",
			Help:      "RPC 请求总数",
		},
		[]string{"method", "status"},
	)

	// RPCRequestDuration RPC 请求耗时
	RPCRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "rpc_request_duration_seconds",
			Help:      "RPC 请求耗时(秒)",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method"},
	)
)

// 回填任务指标
var (
	// BackfillRunsTotal 回填批次执行总数
	BackfillRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backfill_runs_total",
			Help:      "回填批次执行总数",
		},
		[]string{"status"}, // status: success, failed
	)

	// BackfillRecordsTotal 回填扫描记录处理结果
	BackfillRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backfill_records_total",
			Help:      "回填扫描记录数",
		},
		[]string{"outcome"}, // outcome: enqueued, locked, no_collection
	)

	// BackfillRequeuesTotal 回填自我续扫次数
	BackfillRequeuesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backfill_requeues_total",
			Help:      "回填续扫次数",
		},
	)

	// BackfillStalledTotal 游标无法前进的满批次, 需要人工处理
	BackfillStalledTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backfill_stalled_total",
			Help:      "回填游标停滞次数",
		},
	)

	// LockAcquireTotal 去重锁获取结果
	LockAcquireTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "lock_acquire_total",
			Help:      "分布式锁获取次数",
		},
		[]string{"result"}, // result: acquired, held, error, released
	)

	// UserCollectionsRecomputedTotal 用户-集合聚合重算次数
	UserCollectionsRecomputedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "user_collections_recomputed_total",
			Help:      "用户-集合聚合重算次数",
		},
		[]string{"status"},
	)
)

// 队列指标
var (
	// QueueMessagesTotal 队列消息总数
	QueueMessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_messages_total",
			Help:      "队列消息总数",
		},
		[]string{"topic", "direction"}, // direction: produced, consumed, failed
	)

	// QueueRetriesTotal 队列消息重试次数
	QueueRetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_retries_total",
			Help:      "队列消息重试次数",
		},
		[]string{"topic"},
	)

	// QueueDeadLetterTotal 进入死信队列的消息数 (需要人工介入)
	QueueDeadLetterTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "queue_dead_letter_total",
			Help:      "死信消息数",
		},
		[]string{"topic"},
	)
)

// 任务调度指标
var (
	// JobExecutionsTotal 任务执行总数
	JobExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_executions_total",
			Help:      "任务执行总数",
		},
		[]string{"job_name", "status"},
	)

	// JobDuration 任务执行耗时
	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "任务执行耗时(秒)",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
		},
		[]string{"job_name"},
	)

	// JobNextExecutionTime 任务下次执行时间
	JobNextExecutionTime = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "job_next_execution_timestamp",
			Help:      "任务下次执行时间戳",
		},
		[]string{"job_name"},
	)

	// ScheduledJobsGauge 已调度任务数
	ScheduledJobsGauge = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scheduled_jobs_total",
			Help:      "已调度任务总数",
		},
	)
)

// RecordValidityCheck 记录有效性检查
func RecordValidityCheck(protocol, result string, durationSeconds float64) {
	ValidityChecksTotal.WithLabelValues(protocol, result).Inc()
	ValidityCheckDuration.WithLabelValues(protocol).Observe(durationSeconds)
}

// RecordChainRecheck 记录链上复核
func RecordChainRecheck(kind, result string) {
	ChainRechecksTotal.WithLabelValues(kind, result).Inc()
}

// RecordRPCRequest 记录 RPC 请求
func RecordRPCRequest(method, status string, durationSeconds float64) {
	RPCRequestsTotal.WithLabelValues(method, status).Inc()
	RPCRequestDuration.WithLabelValues(method).Observe(durationSeconds)
}

// RecordBackfillRun 记录回填批次
func RecordBackfillRun(status string, enqueued, locked, noCollection int) {
	BackfillRunsTotal.WithLabelValues(status).Inc()
	BackfillRecordsTotal.WithLabelValues("enqueued").Add(float64(enqueued))
	BackfillRecordsTotal.WithLabelValues("locked").Add(float64(locked))
	BackfillRecordsTotal.WithLabelValues("no_collection").Add(float64(noCollection))
}

// RecordKafkaMessage 记录队列消息
func RecordKafkaMessage(topic, direction string) {
	QueueMessagesTotal.WithLabelValues(topic, direction).Inc()
}

// RecordJobExecution 记录任务执行
func RecordJobExecution(jobName, status string, durationSeconds float64) {
	JobExecutionsTotal.WithLabelValues(jobName, status).Inc()
	JobDuration.WithLabelValues(jobName).Observe(durationSeconds)
}

// UpdateJobSchedule 更新任务调度时间
func UpdateJobSchedule(jobName string, nextExecutionTimestamp float64) {
	JobNextExecutionTime.WithLabelValues(jobName).Set(nextExecutionTimestamp)
}

// UpdateScheduledJobs 更新已调度任务数
func UpdateScheduledJobs(count int) {
	ScheduledJobsGauge.Set(float64(count))
}
