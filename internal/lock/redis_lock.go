// Package lock 基于 Redis 的去重锁
package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/eidos-exchange/eidos/eidos-indexer/internal/metrics"
)

const dedupKeyPrefix = "backfill-token-supply:"

// 只删除本实例持有的锁
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// DedupKey (owner, collection) 的去重锁 key
func DedupKey(owner, collectionID string) string {
	return dedupKeyPrefix + owner + ":" + collectionID
}

// RedisLocker 非阻塞去重锁
// 正常路径下锁只在 TTL 到期时释放, 持有期间同一 key 的后续获取都返回 false.
// 加锁后投递失败时由调用方 Release 撤销, 让重试能重新投递
type RedisLocker struct {
	client redis.UniversalClient
	owner  string
}

// NewRedisLocker 创建去重锁, 锁值为本实例的 uuid, 便于排查持有者
func NewRedisLocker(client redis.UniversalClient) *RedisLocker {
	return &RedisLocker{
		client: client,
		owner:  uuid.New().String(),
	}
}

// Acquire 获取锁 (SET NX PX), 不重试
// Redis 故障返回 error, 不会被当作"未获取"
func (l *RedisLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		return false, fmt.Errorf("acquire lock %s: ttl must be positive", key)
	}

	ok, err := l.client.SetNX(ctx, key, l.owner, ttl).Result()
	if err != nil {
		metrics.LockAcquireTotal.WithLabelValues("error").Inc()
		return false, fmt.Errorf("acquire lock %s failed: %w", key, err)
	}
	if ok {
		metrics.LockAcquireTotal.WithLabelValues("acquired").Inc()
	} else {
		metrics.LockAcquireTotal.WithLabelValues("held").Inc()
	}
	return ok, nil
}

// Release 撤销本实例持有的锁, 锁已过期或被他人持有时不做任何事
func (l *RedisLocker) Release(ctx context.Context, key string) error {
	n, err := releaseScript.Run(ctx, l.client, []string{key}, l.owner).Int()
	if err != nil {
		return fmt.Errorf("release lock %s failed: %w", key, err)
	}
	if n > 0 {
		metrics.LockAcquireTotal.WithLabelValues("released").Inc()
	}
	return nil
}
