// Package blockchain 只读 RPC 客户端, 用于授权复核等链上查询
package blockchain

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"go.uber.org/zap"

	"github.com/eidos-exchange/eidos/eidos-indexer/internal/metrics"
	"github.com/eidos-exchange/eidos/eidos-indexer/pkg/logger"
)

var (
	ErrNoHealthyRPC = errors.New("no healthy RPC endpoint available")
	ErrWrongChain   = errors.New("rpc endpoint serves a different chain")
)

// ClientConfig 客户端配置
type ClientConfig struct {
	ChainID       int64
	RPCURLs       []string
	MaxRetries    int           // 单次调用最多尝试次数, 默认 3
	RetryInterval time.Duration // 默认 1s
	// HealthCheckFreq 故障端点的冷却时间, 冷却期内不再尝试, 默认 30s
	HealthCheckFreq time.Duration
}

// EndpointStatus 端点状态快照
type EndpointStatus struct {
	URL       string    `json:"url"`
	Healthy   bool      `json:"healthy"`
	Failures  int       `json:"failures"`
	CheckedAt time.Time `json:"checked_at"`
}

type endpoint struct {
	url       string
	healthy   bool
	failures  int
	checkedAt time.Time
}

func (e *endpoint) markDown(now time.Time) {
	e.healthy = false
	e.failures++
	e.checkedAt = now
}

func (e *endpoint) markUp(now time.Time) {
	e.healthy = true
	e.failures = 0
	e.checkedAt = now
}

// usable 健康, 或故障冷却期已过
func (e *endpoint) usable(now time.Time, cooldown time.Duration) bool {
	return e.healthy || now.Sub(e.checkedAt) >= cooldown
}

// Client 多端点故障转移的只读客户端, 实现 bind.ContractCaller
type Client struct {
	chainID       int64
	maxRetries    int
	retryInterval time.Duration
	cooldown      time.Duration

	mu        sync.RWMutex
	endpoints []*endpoint
	active    int
	conn      *ethclient.Client

	now func() time.Time
}

// NewClient 创建区块链客户端, 首次调用时才建立连接
func NewClient(cfg *ClientConfig) (*Client, error) {
	if len(cfg.RPCURLs) == 0 {
		return nil, errors.New("at least one RPC URL is required")
	}

	c := &Client{
		chainID:       cfg.ChainID,
		maxRetries:    cfg.MaxRetries,
		retryInterval: cfg.RetryInterval,
		cooldown:      cfg.HealthCheckFreq,
		now:           time.Now,
	}
	if c.maxRetries <= 0 {
		c.maxRetries = 3
	}
	if c.retryInterval <= 0 {
		c.retryInterval = time.Second
	}
	if c.cooldown <= 0 {
		c.cooldown = 30 * time.Second
	}
	for _, url := range cfg.RPCURLs {
		c.endpoints = append(c.endpoints, &endpoint{url: url, healthy: true})
	}
	return c, nil
}

// ChainID 配置的链 ID
func (c *Client) ChainID() int64 {
	return c.chainID
}

// BlockNumber 最新区块号
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	return invoke(ctx, c, "eth_blockNumber", func(conn *ethclient.Client) (uint64, error) {
		return conn.BlockNumber(ctx)
	})
}

// CodeAt 合约代码
func (c *Client) CodeAt(ctx context.Context, contract common.Address, blockNumber *big.Int) ([]byte, error) {
	return invoke(ctx, c, "eth_getCode", func(conn *ethclient.Client) ([]byte, error) {
		return conn.CodeAt(ctx, contract, blockNumber)
	})
}

// CallContract 只读合约调用
func (c *Client) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	return invoke(ctx, c, "eth_call", func(conn *ethclient.Client) ([]byte, error) {
		return conn.CallContract(ctx, msg, blockNumber)
	})
}

// HealthCheck 能取到最新区块即视为健康
func (c *Client) HealthCheck(ctx context.Context) error {
	_, err := c.BlockNumber(ctx)
	return err
}

// Endpoints 全部端点的状态快照
func (c *Client) Endpoints() []EndpointStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]EndpointStatus, len(c.endpoints))
	for i, ep := range c.endpoints {
		out[i] = EndpointStatus{
			URL:       ep.url,
			Healthy:   ep.healthy,
			Failures:  ep.failures,
			CheckedAt: ep.checkedAt,
		}
	}
	return out
}

// Close 关闭当前连接
func (c *Client) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropLocked()
}

// invoke 在当前连接上执行 fn, 失败时标记端点故障并切换, 最多 maxRetries 次
func invoke[T any](ctx context.Context, c *Client, method string, fn func(*ethclient.Client) (T, error)) (T, error) {
	var zero T
	start := c.now()
	lastErr := ErrNoHealthyRPC

	for attempt := 1; attempt <= c.maxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			lastErr = err
			break
		}

		conn, err := c.connection(ctx)
		if err == nil {
			var out T
			out, err = fn(conn)
			if err == nil {
				metrics.RecordRPCRequest(method, "success", c.now().Sub(start).Seconds())
				return out, nil
			}
			if ctx.Err() != nil {
				lastErr = err
				break
			}
			c.fail(conn, err)
		}
		lastErr = err

		if attempt < c.maxRetries && !c.wait(ctx) {
			break
		}
	}

	metrics.RecordRPCRequest(method, "error", c.now().Sub(start).Seconds())
	return zero, lastErr
}

// connection 返回当前连接, 没有时按顺序拨号
func (c *Client) connection(ctx context.Context) (*ethclient.Client, error) {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn != nil {
		return conn, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return c.conn, nil
	}

	now := c.now()
	for i := range c.endpoints {
		idx := (c.active + i) % len(c.endpoints)
		ep := c.endpoints[idx]
		if !ep.usable(now, c.cooldown) {
			continue
		}

		conn, err := c.dial(ctx, ep.url)
		if err != nil {
			ep.markDown(now)
			logger.Warn("rpc endpoint unavailable",
				zap.String("url", ep.url),
				zap.Int("failures", ep.failures),
				zap.Error(err))
			continue
		}

		ep.markUp(now)
		c.conn = conn
		c.active = idx
		return conn, nil
	}
	return nil, ErrNoHealthyRPC
}

// dial 拨号并确认链 ID, 连到错误的链按故障处理
func (c *Client) dial(ctx context.Context, url string) (*ethclient.Client, error) {
	conn, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, err
	}

	id, err := conn.ChainID(ctx)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if c.chainID != 0 && id.Int64() != c.chainID {
		conn.Close()
		return nil, fmt.Errorf("%w: want %d, got %s", ErrWrongChain, c.chainID, id)
	}
	return conn, nil
}

// fail 标记当前端点故障, 下次调用从下一个端点开始拨号
func (c *Client) fail(conn *ethclient.Client, cause error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	// 其他调用已经切换过
	if c.conn != conn {
		return
	}

	ep := c.endpoints[c.active]
	ep.markDown(c.now())
	logger.Warn("rpc call failed, switching endpoint",
		zap.String("url", ep.url),
		zap.Int("failures", ep.failures),
		zap.Error(cause))

	c.dropLocked()
	c.active = (c.active + 1) % len(c.endpoints)
}

func (c *Client) dropLocked() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

func (c *Client) wait(ctx context.Context) bool {
	timer := time.NewTimer(c.retryInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
