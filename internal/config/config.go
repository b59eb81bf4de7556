package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 配置
type Config struct {
	Service    ServiceConfig    `yaml:"service" json:"service"`
	Postgres   PostgresConfig   `yaml:"postgres" json:"postgres"`
	Redis      RedisConfig      `yaml:"redis" json:"redis"`
	Kafka      KafkaConfig      `yaml:"kafka" json:"kafka"`
	Blockchain BlockchainConfig `yaml:"blockchain" json:"blockchain"`
	Checker    CheckerConfig    `yaml:"checker" json:"checker"`
	Backfill   BackfillConfig   `yaml:"backfill" json:"backfill"`
	Queue      QueueConfig      `yaml:"queue" json:"queue"`
	Log        LogConfig        `yaml:"log" json:"log"`
}

// ServiceConfig 服务配置
type ServiceConfig struct {
	Name     string `yaml:"name" json:"name"`
	GRPCPort int    `yaml:"grpc_port" json:"grpc_port"`
	HTTPPort int    `yaml:"http_port" json:"http_port"`
	Env      string `yaml:"env" json:"env"`
}

// PostgresConfig PostgreSQL 配置
type PostgresConfig struct {
	Host            string `yaml:"host" json:"host"`
	Port            int    `yaml:"port" json:"port"`
	Database        string `yaml:"database" json:"database"`
	User            string `yaml:"user" json:"user"`
	Password        string `yaml:"password" json:"password"`
	SSLMode         string `yaml:"ssl_mode" json:"ssl_mode"`
	MaxConnections  int    `yaml:"max_connections" json:"max_connections"`
	MaxIdleConns    int    `yaml:"max_idle_conns" json:"max_idle_conns"`
	ConnMaxLifetime int    `yaml:"conn_max_lifetime" json:"conn_max_lifetime"`
	AutoMigrate     bool   `yaml:"auto_migrate" json:"auto_migrate"`
}

// DSN 返回连接串
func (c *PostgresConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Addresses []string `yaml:"addresses" json:"addresses"`
	Password  string   `yaml:"password" json:"password"`
	DB        int      `yaml:"db" json:"db"`
	PoolSize  int      `yaml:"pool_size" json:"pool_size"`
}

// KafkaConfig Kafka 配置
type KafkaConfig struct {
	Brokers  []string  `yaml:"brokers" json:"brokers"`
	GroupID  string    `yaml:"group_id" json:"group_id"`
	ClientID string    `yaml:"client_id" json:"client_id"`
	SASL     KafkaSASL `yaml:"sasl" json:"sasl"`
}

// KafkaSASL Kafka SASL 认证
type KafkaSASL struct {
	Enable    bool   `yaml:"enable" json:"enable"`
	Mechanism string `yaml:"mechanism" json:"mechanism"` // PLAIN, SCRAM-SHA-256, SCRAM-SHA-512
	Username  string `yaml:"username" json:"username"`
	Password  string `yaml:"password" json:"password"`
}

// BlockchainConfig 区块链配置
type BlockchainConfig struct {
	RPCURL        string        `yaml:"rpc_url" json:"rpc_url"`
	BackupRPCURLs []string      `yaml:"backup_rpc_urls" json:"backup_rpc_urls"`
	ChainID       int64         `yaml:"chain_id" json:"chain_id"`
	CallTimeout   time.Duration `yaml:"call_timeout" json:"call_timeout"`
	// RateLimit 链上只读调用每秒上限, 0 表示不限
	RateLimit float64 `yaml:"rate_limit" json:"rate_limit"`
	RateBurst int     `yaml:"rate_burst" json:"rate_burst"`
	// ExchangeOverrides 协议 -> 交易所合约地址, 覆盖内置地址表
	ExchangeOverrides map[string]string `yaml:"exchange_overrides" json:"exchange_overrides"`
}

// CheckerConfig 订单有效性检查默认选项
type CheckerConfig struct {
	OnChainApprovalRecheck bool `yaml:"onchain_approval_recheck" json:"onchain_approval_recheck"`
	CheckFilledOrCancelled bool `yaml:"check_filled_or_cancelled" json:"check_filled_or_cancelled"`
	ContractCacheSize      int  `yaml:"contract_cache_size" json:"contract_cache_size"`
}

// BackfillConfig 活跃用户集合回填配置
type BackfillConfig struct {
	Enabled     bool          `yaml:"enabled" json:"enabled"`
	Cron        string        `yaml:"cron" json:"cron"`
	BatchLimit  int           `yaml:"batch_limit" json:"batch_limit"`
	Window      time.Duration `yaml:"window" json:"window"`
	LockTTL     time.Duration `yaml:"lock_ttl" json:"lock_ttl"`
	JobLockTTL  time.Duration `yaml:"job_lock_ttl" json:"job_lock_ttl"`
	Concurrency int           `yaml:"concurrency" json:"concurrency"`
	// RunOnStart 启动时立即开启一条续扫链, 不等第一次 cron
	RunOnStart bool `yaml:"run_on_start" json:"run_on_start"`
}

// QueueConfig 任务队列配置
type QueueConfig struct {
	BackfillTopic   string        `yaml:"backfill_topic" json:"backfill_topic"`
	ResyncTopic     string        `yaml:"resync_topic" json:"resync_topic"`
	MaxRetries      int           `yaml:"max_retries" json:"max_retries"`
	RetryBackoff    time.Duration `yaml:"retry_backoff" json:"retry_backoff"`
	MaxRetryBackoff time.Duration `yaml:"max_retry_backoff" json:"max_retry_backoff"`
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `yaml:"level" json:"level"`
	Format string `yaml:"format" json:"format"`
}

// Load 加载配置
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	// 环境变量替换
	content := expandEnvVars(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(content), &cfg); err != nil {
		return nil, err
	}

	setDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate 校验必填项
func (c *Config) Validate() error {
	if c.Blockchain.RPCURL == "" {
		return fmt.Errorf("blockchain.rpc_url is required")
	}
	if len(c.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka.brokers is required")
	}
	if len(c.Redis.Addresses) == 0 {
		return fmt.Errorf("redis.addresses is required")
	}
	if c.Backfill.BatchLimit <= 0 {
		return fmt.Errorf("backfill.batch_limit must be positive")
	}
	if c.Queue.BackfillTopic == c.Queue.ResyncTopic {
		return fmt.Errorf("queue.backfill_topic and queue.resync_topic must differ")
	}
	return nil
}

// expandEnvVars 展开环境变量 ${VAR:default}
func expandEnvVars(s string) string {
	result := s
	for {
		start := strings.Index(result, "${")
		if start == -1 {
			break
		}
		end := strings.Index(result[start:], "}")
		if end == -1 {
			break
		}
		end += start

		expr := result[start+2 : end]
		varName, defaultVal, _ := strings.Cut(expr, ":")

		value := os.Getenv(varName)
		if value == "" {
			value = defaultVal
		}

		result = result[:start] + value + result[end+1:]
	}
	return result
}

// setDefaults 设置默认值
func setDefaults(cfg *Config) {
	if cfg.Service.Name == "" {
		cfg.Service.Name = "eidos-indexer"
	}
	if cfg.Service.GRPCPort == 0 {
		cfg.Service.GRPCPort = 50058
	}
	if cfg.Service.HTTPPort == 0 {
		cfg.Service.HTTPPort = 8088
	}
	if cfg.Service.Env == "" {
		cfg.Service.Env = "dev"
	}

	if cfg.Postgres.Port == 0 {
		cfg.Postgres.Port = 5432
	}
	if cfg.Postgres.SSLMode == "" {
		cfg.Postgres.SSLMode = "disable"
	}
	if cfg.Postgres.MaxConnections == 0 {
		cfg.Postgres.MaxConnections = 50
	}
	if cfg.Postgres.MaxIdleConns == 0 {
		cfg.Postgres.MaxIdleConns = 10
	}
	if cfg.Postgres.ConnMaxLifetime == 0 {
		cfg.Postgres.ConnMaxLifetime = 3600
	}

	if cfg.Redis.PoolSize == 0 {
		cfg.Redis.PoolSize = 50
	}

	if cfg.Kafka.GroupID == "" {
		cfg.Kafka.GroupID = "eidos-indexer"
	}
	if cfg.Kafka.ClientID == "" {
		cfg.Kafka.ClientID = "eidos-indexer"
	}

	if cfg.Blockchain.ChainID == 0 {
		cfg.Blockchain.ChainID = 11155111 // Sepolia
	}
	if cfg.Blockchain.CallTimeout == 0 {
		cfg.Blockchain.CallTimeout = 10 * time.Second
	}
	if cfg.Blockchain.RateBurst == 0 {
		cfg.Blockchain.RateBurst = 10
	}

	if cfg.Checker.ContractCacheSize == 0 {
		cfg.Checker.ContractCacheSize = 10000
	}

	if cfg.Backfill.Cron == "" {
		cfg.Backfill.Cron = "0 0 * * * *"
	}
	if cfg.Backfill.BatchLimit == 0 {
		cfg.Backfill.BatchLimit = 400
	}
	if cfg.Backfill.Window == 0 {
		cfg.Backfill.Window = 4380 * time.Hour // 6 个月
	}
	if cfg.Backfill.LockTTL == 0 {
		cfg.Backfill.LockTTL = 6 * time.Hour
	}
	if cfg.Backfill.JobLockTTL == 0 {
		cfg.Backfill.JobLockTTL = 5 * time.Minute
	}
	if cfg.Backfill.Concurrency == 0 {
		cfg.Backfill.Concurrency = 8
	}

	if cfg.Queue.BackfillTopic == "" {
		cfg.Queue.BackfillTopic = "backfill-active-user-collections"
	}
	if cfg.Queue.ResyncTopic == "" {
		cfg.Queue.ResyncTopic = "resync-user-collections"
	}
	if cfg.Queue.MaxRetries == 0 {
		cfg.Queue.MaxRetries = 10
	}
	if cfg.Queue.RetryBackoff == 0 {
		cfg.Queue.RetryBackoff = time.Second
	}
	if cfg.Queue.MaxRetryBackoff == 0 {
		cfg.Queue.MaxRetryBackoff = time.Minute
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
}
