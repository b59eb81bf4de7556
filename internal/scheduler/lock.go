package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const lockPrefix = "eidos:indexer:job:lock:"

// 只释放自己持有的锁
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// JobLock 任务互斥锁, 同一任务同一时刻只在一个实例上执行
type JobLock struct {
	client redis.UniversalClient
	key    string
	value  string
	ttl    time.Duration
}

// NewJobLock 创建任务锁
func NewJobLock(client redis.UniversalClient, jobName string, ttl time.Duration) *JobLock {
	return &JobLock{
		client: client,
		key:    lockPrefix + jobName,
		value:  uuid.New().String(),
		ttl:    ttl,
	}
}

// TryLock 尝试获取锁
func (l *JobLock) TryLock(ctx context.Context) (bool, error) {
	ok, err := l.client.SetNX(ctx, l.key, l.value, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("failed to acquire job lock: %w", err)
	}
	return ok, nil
}

// Unlock 释放锁
func (l *JobLock) Unlock(ctx context.Context) error {
	err := releaseScript.Run(ctx, l.client, []string{l.key}, l.value).Err()
	if err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to release job lock: %w", err)
	}
	return nil
}

// IsJobLocked 任务是否正在某个实例上执行
func IsJobLocked(ctx context.Context, client redis.UniversalClient, jobName string) (bool, error) {
	n, err := client.Exists(ctx, lockPrefix+jobName).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
