package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/eidos-exchange/eidos/eidos-indexer/internal/model"
	"github.com/eidos-exchange/eidos/eidos-indexer/pkg/logger"
)

// NonceRepository 订单 nonce 取消状态仓储
// master nonce 纪元与单个 nonce 槽位均按协议隔离
type NonceRepository interface {
	// GetMinNonce 获取 maker 当前最小有效 master nonce, 无批量取消记录时返回 0
	GetMinNonce(ctx context.Context, protocol model.Protocol, maker string) (decimal.Decimal, error)

	// IsNonceCancelled 检查 nonce 槽位是否已被单独取消
	// 先查 Redis 缓存，再查数据库
	IsNonceCancelled(ctx context.Context, protocol model.Protocol, maker, nonceKey string) (bool, error)
}

// nonceRepository 取消状态仓储实现
type nonceRepository struct {
	*Repository
	rdb redis.UniversalClient
}

// NewNonceRepository 创建 nonce 仓储
func NewNonceRepository(db *gorm.DB, rdb redis.UniversalClient) NonceRepository {
	return &nonceRepository{
		Repository: NewRepository(db),
		rdb:        rdb,
	}
}

// nonceCacheTTL 取消是永久性的, 缓存只为减轻数据库压力
const nonceCacheTTL = 7 * 24 * time.Hour

func (r *nonceRepository) GetMinNonce(ctx context.Context, protocol model.Protocol, maker string) (decimal.Decimal, error) {
	var event model.BulkCancelEvent
	err := r.DB(ctx).
		Where("order_kind = ? AND maker = ?", protocol, model.NormalizeAddress(maker)).
		Order("min_nonce DESC").
		First(&event).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return decimal.Zero, nil
		}
		return decimal.Zero, fmt.Errorf("get min nonce failed: %w", err)
	}
	return event.MinNonce, nil
}

// IsNonceCancelled 检查 nonce 槽位是否已取消
func (r *nonceRepository) IsNonceCancelled(ctx context.Context, protocol model.Protocol, maker, nonceKey string) (bool, error) {
	maker = model.NormalizeAddress(maker)
	key := model.NonceCancelledRedisKey(protocol, maker, nonceKey)

	exists, err := r.rdb.Exists(ctx, key).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		// Redis 错误，降级到数据库查询
		logger.Warn("nonce cache unavailable, fallback to db",
			zap.String("key", key),
			zap.Error(err))
		return r.isCancelledInDB(ctx, protocol, maker, nonceKey)
	}
	if exists > 0 {
		return true, nil
	}

	cancelled, err := r.isCancelledInDB(ctx, protocol, maker, nonceKey)
	if err != nil {
		return false, err
	}
	if cancelled {
		r.cache(ctx, key)
	}
	return cancelled, nil
}

// isCancelledInDB 从数据库检查 nonce 槽位
func (r *nonceRepository) isCancelledInDB(ctx context.Context, protocol model.Protocol, maker, nonceKey string) (bool, error) {
	var count int64
	result := r.DB(ctx).Model(&model.NonceCancelEvent{}).
		Where("order_kind = ? AND maker = ? AND nonce = ?", protocol, maker, nonceKey).
		Count(&count)
	if result.Error != nil {
		return false, fmt.Errorf("check nonce cancelled in db failed: %w", result.Error)
	}
	return count > 0, nil
}

// cache 写入 Redis 缓存, 失败不影响业务, 下次查询会从数据库读取
func (r *nonceRepository) cache(ctx context.Context, key string) {
	if err := r.rdb.Set(ctx, key, "1", nonceCacheTTL).Err(); err != nil {
		logger.Warn("set nonce cache failed",
			zap.String("key", key),
			zap.Error(err))
	}
}
