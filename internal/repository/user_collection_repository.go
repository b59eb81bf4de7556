package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/eidos-exchange/eidos/eidos-indexer/internal/model"
)

const recomputeMaxRetries = 3

// UserCollectionRepository 用户-集合聚合仓储
type UserCollectionRepository struct {
	*Repository
}

// NewUserCollectionRepository 创建用户-集合聚合仓储
func NewUserCollectionRepository(db *gorm.DB) *UserCollectionRepository {
	return &UserCollectionRepository{
		Repository: NewRepository(db),
	}
}

// Recompute 重新计算 (owner, collection) 的持有量并写回聚合表, 持有量为 0 时删除
func (r *UserCollectionRepository) Recompute(ctx context.Context, owner, collectionID string) (decimal.Decimal, error) {
	owner = model.NormalizeAddress(owner)
	var total decimal.Decimal

	// 同一 owner 的并发重算可能死锁, 由重试兜底
	err := r.TransactionWithRetry(ctx, recomputeMaxRetries, func(ctx context.Context) error {
		total = decimal.Zero
		var sum decimal.NullDecimal
		row := r.DB(ctx).
			Table("nft_balances AS nb").
			Select("SUM(nb.amount)").
			Joins("JOIN tokens AS t ON t.contract = nb.contract AND t.token_id = nb.token_id").
			Where("nb.owner = ? AND t.collection_id = ?", owner, collectionID).
			Row()
		if err := row.Scan(&sum); err != nil {
			return fmt.Errorf("sum collection balance: %w", err)
		}
		if sum.Valid {
			total = sum.Decimal
		}

		if !total.IsPositive() {
			return r.DB(ctx).
				Where("owner = ? AND collection_id = ?", owner, collectionID).
				Delete(&model.UserCollection{}).Error
		}

		uc := &model.UserCollection{
			Owner:        owner,
			CollectionID: collectionID,
			TokenCount:   total,
			UpdatedAt:    time.Now().UTC(),
		}
		return r.DB(ctx).Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "owner"}, {Name: "collection_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"token_count", "updated_at"}),
		}).Create(uc).Error
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("recompute user collection: %w", err)
	}
	return total, nil
}
