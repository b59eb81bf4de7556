package repository

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/eidos-exchange/eidos/eidos-indexer/internal/model"
)

// OwnershipRepository NFT 所有权变动扫描
type OwnershipRepository struct {
	*Repository
}

// NewOwnershipRepository 创建所有权仓储
func NewOwnershipRepository(db *gorm.DB) *OwnershipRepository {
	return &OwnershipRepository{
		Repository: NewRepository(db),
	}
}

// ScanOwnershipChanges 按 updated_at 升序扫描窗口内的转入记录
// Since 为包含下界, 与上一批最后一条相同时间戳的记录会被重复返回, 由去重锁吸收
func (r *OwnershipRepository) ScanOwnershipChanges(ctx context.Context, params model.ScanParams) ([]model.OwnershipChange, error) {
	if params.Limit <= 0 {
		return nil, fmt.Errorf("scan ownership changes: invalid limit %d", params.Limit)
	}

	query := r.DB(ctx).
		Table("nft_transfer_events AS nte").
		Select("nte.to_address AS owner, t.collection_id AS collection_id, nte.updated_at AS updated_at").
		Joins("JOIN tokens AS t ON t.contract = nte.address AND t.token_id = nte.token_id").
		Where("nte.updated_at > ?", params.Now.Add(-params.Window))

	if len(params.Excluded) > 0 {
		excluded := make([]string, 0, len(params.Excluded))
		for _, addr := range params.Excluded {
			excluded = append(excluded, model.NormalizeAddress(addr))
		}
		query = query.Where("nte.to_address NOT IN ?", excluded)
	}
	if params.Since != nil {
		query = query.Where("nte.updated_at >= ?", *params.Since)
	}

	var changes []model.OwnershipChange
	err := query.
		Order("nte.updated_at ASC").
		Limit(params.Limit).
		Scan(&changes).Error
	if err != nil {
		return nil, fmt.Errorf("scan ownership changes: %w", err)
	}
	return changes, nil
}
