package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/eidos-exchange/eidos/eidos-indexer/internal/model"
)

// OrderStateRepository 订单成交/取消状态仓储
type OrderStateRepository interface {
	// IsOrderCancelled 订单被显式取消 (orders.cancelled 或 cancel_events)
	IsOrderCancelled(ctx context.Context, orderID string, protocol model.Protocol) (bool, error)
	// GetQuantityFilled 已成交数量, 未知订单返回 0
	GetQuantityFilled(ctx context.Context, orderID string) (decimal.Decimal, error)
}

type orderStateRepository struct {
	*Repository
}

// NewOrderStateRepository 创建订单状态仓储
func NewOrderStateRepository(db *gorm.DB) OrderStateRepository {
	return &orderStateRepository{
		Repository: NewRepository(db),
	}
}

func (r *orderStateRepository) IsOrderCancelled(ctx context.Context, orderID string, protocol model.Protocol) (bool, error) {
	var count int64
	err := r.DB(ctx).Model(&model.CancelEvent{}).
		Where("order_id = ? AND order_kind = ?", orderID, protocol).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("check cancel events failed: %w", err)
	}
	if count > 0 {
		return true, nil
	}

	err = r.DB(ctx).Model(&model.OrderState{}).
		Where("id = ? AND kind = ? AND cancelled = ?", orderID, protocol, true).
		Count(&count).Error
	if err != nil {
		return false, fmt.Errorf("check order cancelled failed: %w", err)
	}
	return count > 0, nil
}

func (r *orderStateRepository) GetQuantityFilled(ctx context.Context, orderID string) (decimal.Decimal, error) {
	var state model.OrderState
	err := r.DB(ctx).Where("id = ?", orderID).First(&state).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return decimal.Zero, nil
		}
		return decimal.Zero, fmt.Errorf("get quantity filled failed: %w", err)
	}
	return state.QuantityFilled, nil
}
