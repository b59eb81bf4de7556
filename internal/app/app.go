// Package app 索引服务应用入口
//
// ## 服务信息
// - 服务名: eidos-indexer
// - gRPC 端口: 50058 (健康检查)
// - HTTP 端口: 8088 (/metrics, /health)
//
// ## 依赖
// - PostgreSQL: 索引数据、订单状态、用户集合聚合、任务执行记录
// - Redis: 去重锁、任务锁、nonce 取消缓存
// - Kafka: 回填续扫队列、用户集合重算队列
// - RPC 节点: 授权链上复核
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/eidos-exchange/eidos/eidos-indexer/internal/blockchain"
	"github.com/eidos-exchange/eidos/eidos-indexer/internal/config"
	"github.com/eidos-exchange/eidos/eidos-indexer/internal/contract"
	"github.com/eidos-exchange/eidos/eidos-indexer/internal/jobs"
	"github.com/eidos-exchange/eidos/eidos-indexer/internal/lock"
	"github.com/eidos-exchange/eidos/eidos-indexer/internal/oracle"
	"github.com/eidos-exchange/eidos/eidos-indexer/internal/queue"
	"github.com/eidos-exchange/eidos/eidos-indexer/internal/repository"
	"github.com/eidos-exchange/eidos/eidos-indexer/internal/scheduler"
	"github.com/eidos-exchange/eidos/eidos-indexer/internal/validity"
	"github.com/eidos-exchange/eidos/eidos-indexer/pkg/logger"
)

// App 索引服务应用
type App struct {
	cfg *config.Config

	// 基础设施
	db           *gorm.DB
	redisClient  redis.UniversalClient
	chainClient  *blockchain.Client
	producer     *queue.Producer
	grpcServer   *grpc.Server
	healthServer *health.Server
	httpServer   *http.Server

	checker   *validity.Checker
	scheduler *scheduler.Scheduler
	consumers []*queue.Consumer

	ctx    context.Context
	cancel context.CancelFunc
}

// New 创建应用实例
func New(cfg *config.Config) *App {
	ctx, cancel := context.WithCancel(context.Background())
	return &App{
		cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
	}
}

// Run 启动应用
func (a *App) Run() error {
	if err := a.initDB(); err != nil {
		return fmt.Errorf("failed to init database: %w", err)
	}
	if err := a.initRedis(); err != nil {
		return fmt.Errorf("failed to init redis: %w", err)
	}
	if err := a.initChecker(); err != nil {
		return fmt.Errorf("failed to init validity checker: %w", err)
	}
	if err := a.initQueue(); err != nil {
		return fmt.Errorf("failed to init queue: %w", err)
	}

	a.scheduler.Start(a.ctx)
	a.triggerStartupJobs()
	for _, c := range a.consumers {
		if err := c.Start(a.ctx); err != nil {
			return fmt.Errorf("failed to start consumer: %w", err)
		}
	}

	if err := a.startGRPC(); err != nil {
		return fmt.Errorf("failed to start gRPC: %w", err)
	}
	a.startHTTP()

	logger.Info("indexer service started",
		zap.Int("grpc_port", a.cfg.Service.GRPCPort),
		zap.Int("http_port", a.cfg.Service.HTTPPort))
	return nil
}

// Checker 订单有效性检查器
func (a *App) Checker() *validity.Checker {
	return a.checker
}

// CheckOptions 配置中的默认检查选项
func (a *App) CheckOptions() validity.CheckOptions {
	return validity.CheckOptions{
		OnChainApprovalRecheck: a.cfg.Checker.OnChainApprovalRecheck,
		CheckFilledOrCancelled: a.cfg.Checker.CheckFilledOrCancelled,
	}
}

// Shutdown 优雅关闭
func (a *App) Shutdown(ctx context.Context) error {
	logger.Info("shutting down indexer service...")

	if a.healthServer != nil {
		a.healthServer.Shutdown()
	}
	if a.grpcServer != nil {
		a.grpcServer.GracefulStop()
	}
	if a.httpServer != nil {
		if err := a.httpServer.Shutdown(ctx); err != nil {
			logger.Warn("http server shutdown error", zap.Error(err))
		}
	}

	if a.scheduler != nil {
		a.scheduler.Stop()
	}
	for _, c := range a.consumers {
		if err := c.Stop(); err != nil {
			logger.Warn("consumer stop error", zap.Error(err))
		}
	}
	a.cancel()

	// 消费者停止后再关闭生产者, 重试消息仍需发送
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			logger.Warn("producer close error", zap.Error(err))
		}
	}
	if a.chainClient != nil {
		a.chainClient.Close()
	}
	if a.redisClient != nil {
		a.redisClient.Close()
	}
	if a.db != nil {
		if sqlDB, _ := a.db.DB(); sqlDB != nil {
			sqlDB.Close()
		}
	}

	logger.Info("indexer service stopped")
	return nil
}

// initDB 初始化数据库
func (a *App) initDB() error {
	db, err := gorm.Open(postgres.Open(a.cfg.Postgres.DSN()), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	sqlDB.SetMaxOpenConns(a.cfg.Postgres.MaxConnections)
	sqlDB.SetMaxIdleConns(a.cfg.Postgres.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(time.Duration(a.cfg.Postgres.ConnMaxLifetime) * time.Second)

	a.db = db
	logger.Info("database connected",
		zap.String("host", a.cfg.Postgres.Host),
		zap.String("database", a.cfg.Postgres.Database))

	if a.cfg.Postgres.AutoMigrate {
		if err := AutoMigrate(a.db); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		logger.Info("database migrated")
	}
	return nil
}

// initRedis 初始化 Redis, 单地址为单机, 多地址为集群
func (a *App) initRedis() error {
	a.redisClient = redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    a.cfg.Redis.Addresses,
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
		PoolSize: a.cfg.Redis.PoolSize,
	})

	ctx, cancel := context.WithTimeout(a.ctx, 5*time.Second)
	defer cancel()
	if err := a.redisClient.Ping(ctx).Err(); err != nil {
		return err
	}

	logger.Info("redis connected", zap.Strings("addresses", a.cfg.Redis.Addresses))
	return nil
}

// initChecker 组装有效性检查链路: 索引仓储 -> 余额/授权 -> 检查器
func (a *App) initChecker() error {
	rpcURLs := append([]string{a.cfg.Blockchain.RPCURL}, a.cfg.Blockchain.BackupRPCURLs...)
	client, err := blockchain.NewClient(&blockchain.ClientConfig{
		ChainID: a.cfg.Blockchain.ChainID,
		RPCURLs: rpcURLs,
	})
	if err != nil {
		return err
	}
	a.chainClient = client

	reader, err := contract.NewTokenReader(client, a.cfg.Blockchain.CallTimeout)
	if err != nil {
		return err
	}
	reader.WithRateLimit(a.cfg.Blockchain.RateLimit, a.cfg.Blockchain.RateBurst)
	exchanges, err := contract.NewExchangeBook(a.cfg.Blockchain.ChainID, a.cfg.Blockchain.ExchangeOverrides)
	if err != nil {
		return err
	}

	indexRepo := repository.NewIndexRepository(a.db)
	kinds, err := repository.NewContractKindCache(indexRepo, a.cfg.Checker.ContractCacheSize)
	if err != nil {
		return err
	}
	a.checker = validity.NewChecker(
		kinds,
		repository.NewOrderStateRepository(a.db),
		repository.NewNonceRepository(a.db, a.redisClient),
		oracle.NewOracle(indexRepo, reader),
		exchanges,
	)

	logger.Info("validity checker initialized",
		zap.Int64("chain_id", a.cfg.Blockchain.ChainID),
		zap.Int("rpc_endpoints", len(rpcURLs)))
	return nil
}

// initQueue 初始化回填/重算队列与调度
func (a *App) initQueue() error {
	var sasl *queue.SASLConfig
	if a.cfg.Kafka.SASL.Enable {
		sasl = &queue.SASLConfig{
			Enable:    true,
			Mechanism: a.cfg.Kafka.SASL.Mechanism,
			Username:  a.cfg.Kafka.SASL.Username,
			Password:  a.cfg.Kafka.SASL.Password,
		}
	}

	producer, err := queue.NewProducer(&queue.ProducerConfig{
		Brokers:  a.cfg.Kafka.Brokers,
		ClientID: a.cfg.Kafka.ClientID,
		SASL:     sasl,
	})
	if err != nil {
		return err
	}
	a.producer = producer

	backfillJob := jobs.NewBackfillActiveUserCollectionsJob(
		repository.NewOwnershipRepository(a.db),
		lock.NewRedisLocker(a.redisClient),
		queue.NewRefreshQueue(producer, a.cfg.Queue.ResyncTopic),
		&jobs.BackfillConfig{
			BatchLimit:  a.cfg.Backfill.BatchLimit,
			Window:      a.cfg.Backfill.Window,
			LockTTL:     a.cfg.Backfill.LockTTL,
			Concurrency: a.cfg.Backfill.Concurrency,
		},
	)
	driver := jobs.NewBackfillDriver(backfillJob, producer, a.cfg.Queue.BackfillTopic)
	resync := jobs.NewResyncUserCollectionsJob(repository.NewUserCollectionRepository(a.db))

	handlers := []struct {
		topic   string
		handler queue.Handler
	}{
		{a.cfg.Queue.BackfillTopic, driver.HandleDelivery},
		{a.cfg.Queue.ResyncTopic, resync.HandleDelivery},
	}
	for _, h := range handlers {
		consumer, err := queue.NewConsumer(queue.ConsumerConfig{
			Brokers:         a.cfg.Kafka.Brokers,
			GroupID:         a.cfg.Kafka.GroupID + "-" + h.topic,
			ClientID:        a.cfg.Kafka.ClientID,
			Topics:          []string{h.topic},
			MaxRetries:      a.cfg.Queue.MaxRetries,
			RetryBackoff:    a.cfg.Queue.RetryBackoff,
			MaxRetryBackoff: a.cfg.Queue.MaxRetryBackoff,
			SASL:            sasl,
		}, h.handler, producer)
		if err != nil {
			return fmt.Errorf("create consumer for %s: %w", h.topic, err)
		}
		a.consumers = append(a.consumers, consumer)
	}

	a.scheduler = scheduler.NewScheduler(a.redisClient, repository.NewExecutionRepository(a.db))
	err = a.scheduler.RegisterJob(
		jobs.NewBackfillSeedJob(driver, a.cfg.Backfill.JobLockTTL),
		scheduler.JobConfig{Cron: a.cfg.Backfill.Cron, Enabled: a.cfg.Backfill.Enabled},
	)
	if err != nil {
		return err
	}

	logger.Info("queue initialized",
		zap.String("backfill_topic", a.cfg.Queue.BackfillTopic),
		zap.String("resync_topic", a.cfg.Queue.ResyncTopic),
		zap.Bool("backfill_enabled", a.cfg.Backfill.Enabled))
	return nil
}

// triggerStartupJobs 按配置在启动时立即执行一次回填调度
func (a *App) triggerStartupJobs() {
	if !a.cfg.Backfill.RunOnStart {
		return
	}
	if err := a.scheduler.TriggerJob(jobs.JobNameBackfillActiveUserCollections); err != nil {
		logger.Warn("trigger backfill on start failed", zap.Error(err))
	}
}

// startGRPC 启动 gRPC 健康检查服务
func (a *App) startGRPC() error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", a.cfg.Service.GRPCPort))
	if err != nil {
		return err
	}

	a.grpcServer = grpc.NewServer()
	a.healthServer = health.NewServer()
	grpc_health_v1.RegisterHealthServer(a.grpcServer, a.healthServer)
	a.healthServer.SetServingStatus(a.cfg.Service.Name, grpc_health_v1.HealthCheckResponse_SERVING)

	go func() {
		if err := a.grpcServer.Serve(lis); err != nil {
			logger.Error("gRPC server error", zap.Error(err))
		}
	}()
	return nil
}

// startHTTP 启动指标与健康检查端点
func (a *App) startHTTP() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", a.handleHealth)

	a.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", a.cfg.Service.HTTPPort),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
		}
	}()
}

// handleHealth 依赖健康检查: 数据库、Redis、RPC 节点
func (a *App) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	if err := a.checkHealth(ctx); err != nil {
		logger.Warn("health check failed", zap.Error(err))
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(a.healthReport(ctx))
}

// healthReport 依赖均正常时附带 RPC 端点与回填调度状态
type healthReport struct {
	Status       string                      `json:"status"`
	RPCEndpoints []blockchain.EndpointStatus `json:"rpc_endpoints"`
	Jobs         []*scheduler.JobStatus      `json:"jobs,omitempty"`
}

func (a *App) healthReport(ctx context.Context) *healthReport {
	report := &healthReport{
		Status:       "ok",
		RPCEndpoints: a.chainClient.Endpoints(),
	}
	if a.scheduler != nil {
		status, err := a.scheduler.GetJobStatus(ctx, jobs.JobNameBackfillActiveUserCollections)
		if err != nil {
			logger.Warn("get backfill job status failed", zap.Error(err))
		} else {
			report.Jobs = append(report.Jobs, status)
		}
	}
	return report
}

func (a *App) checkHealth(ctx context.Context) error {
	sqlDB, err := a.db.DB()
	if err != nil {
		return err
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if err := a.redisClient.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	if err := a.chainClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("rpc: %w", err)
	}
	return nil
}
