package repository

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/eidos-exchange/eidos/eidos-indexer/internal/model"
)

// IndexRepository 索引缓存读写 (合约类型、余额、授权)
type IndexRepository interface {
	// GetContractKind 合约未被索引时 ok=false
	GetContractKind(ctx context.Context, contract string) (kind model.AssetKind, ok bool, err error)

	GetFtBalance(ctx context.Context, coin, owner string) (decimal.Decimal, error)
	GetNftBalance(ctx context.Context, contract string, tokenID *big.Int, owner string) (decimal.Decimal, error)

	GetFtApproval(ctx context.Context, token, owner, spender string) (value decimal.Decimal, ok bool, err error)
	UpsertFtApproval(ctx context.Context, token, owner, spender string, value decimal.Decimal) error
	GetNftApproval(ctx context.Context, contract, owner, operator string) (bool, error)
	UpsertNftApproval(ctx context.Context, contract, owner, operator string, approved bool) error
}

type indexRepository struct {
	*Repository
}

// NewIndexRepository 创建索引仓储
func NewIndexRepository(db *gorm.DB) IndexRepository {
	return &indexRepository{
		Repository: NewRepository(db),
	}
}

func (r *indexRepository) GetContractKind(ctx context.Context, contract string) (model.AssetKind, bool, error) {
	var c model.Contract
	err := r.DB(ctx).
		Where("address = ?", model.NormalizeAddress(contract)).
		First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get contract kind: %w", err)
	}

	kind, err := model.ParseAssetKind(string(c.Kind))
	if err != nil {
		// 索引中存在但类型未知, 视同未索引
		return "", false, nil
	}
	return kind, true, nil
}

func (r *indexRepository) GetFtBalance(ctx context.Context, coin, owner string) (decimal.Decimal, error) {
	var balance model.FtBalance
	err := r.DB(ctx).
		Where("contract = ? AND owner = ?", model.NormalizeAddress(coin), model.NormalizeAddress(owner)).
		First(&balance).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("get ft balance: %w", err)
	}
	return balance.Amount, nil
}

func (r *indexRepository) GetNftBalance(ctx context.Context, contract string, tokenID *big.Int, owner string) (decimal.Decimal, error) {
	if tokenID == nil {
		return decimal.Zero, nil
	}
	var balance model.NftBalance
	err := r.DB(ctx).
		Where("contract = ? AND token_id = ? AND owner = ?",
			model.NormalizeAddress(contract), tokenID.String(), model.NormalizeAddress(owner)).
		First(&balance).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return decimal.Zero, nil
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("get nft balance: %w", err)
	}
	return balance.Amount, nil
}

func (r *indexRepository) GetFtApproval(ctx context.Context, token, owner, spender string) (decimal.Decimal, bool, error) {
	var approval model.FtApproval
	err := r.DB(ctx).
		Where("token = ? AND owner = ? AND spender = ?",
			model.NormalizeAddress(token), model.NormalizeAddress(owner), model.NormalizeAddress(spender)).
		First(&approval).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return decimal.Zero, false, nil
	}
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("get ft approval: %w", err)
	}
	return approval.Value, true, nil
}

func (r *indexRepository) UpsertFtApproval(ctx context.Context, token, owner, spender string, value decimal.Decimal) error {
	approval := &model.FtApproval{
		Token:     model.NormalizeAddress(token),
		Owner:     model.NormalizeAddress(owner),
		Spender:   model.NormalizeAddress(spender),
		Value:     value,
		UpdatedAt: time.Now().UTC(),
	}
	return r.DB(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "token"}, {Name: "owner"}, {Name: "spender"}},
		DoUpdates: clause.AssignmentColumns([]string{"value", "updated_at"}),
	}).Create(approval).Error
}

func (r *indexRepository) GetNftApproval(ctx context.Context, contract, owner, operator string) (bool, error) {
	var approval model.NftApproval
	err := r.DB(ctx).
		Where("contract = ? AND owner = ? AND operator = ?",
			model.NormalizeAddress(contract), model.NormalizeAddress(owner), model.NormalizeAddress(operator)).
		First(&approval).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("get nft approval: %w", err)
	}
	return approval.Approved, nil
}

func (r *indexRepository) UpsertNftApproval(ctx context.Context, contract, owner, operator string, approved bool) error {
	approval := &model.NftApproval{
		Contract:  model.NormalizeAddress(contract),
		Owner:     model.NormalizeAddress(owner),
		Operator:  model.NormalizeAddress(operator),
		Approved:  approved,
		UpdatedAt: time.Now().UTC(),
	}
	return r.DB(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "contract"}, {Name: "owner"}, {Name: "operator"}},
		DoUpdates: clause.AssignmentColumns([]string{"approved", "updated_at"}),
	}).Create(approval).Error
}
