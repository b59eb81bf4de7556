// Package validity 判断已入库订单当前是否仍可成交
package validity

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/eidos-exchange/eidos/eidos-indexer/internal/metrics"
	"github.com/eidos-exchange/eidos/eidos-indexer/internal/model"
	"github.com/eidos-exchange/eidos/eidos-indexer/pkg/errors"
	"github.com/eidos-exchange/eidos/eidos-indexer/pkg/logger"
)

// ContractIndex 已索引合约
type ContractIndex interface {
	GetContractKind(ctx context.Context, contract string) (model.AssetKind, bool, error)
}

// OrderStateStore 订单成交/取消状态
type OrderStateStore interface {
	IsOrderCancelled(ctx context.Context, orderID string, protocol model.Protocol) (bool, error)
	GetQuantityFilled(ctx context.Context, orderID string) (decimal.Decimal, error)
}

// NonceRegistry nonce 取消状态
type NonceRegistry interface {
	GetMinNonce(ctx context.Context, protocol model.Protocol, maker string) (decimal.Decimal, error)
	IsNonceCancelled(ctx context.Context, protocol model.Protocol, maker, nonceKey string) (bool, error)
}

// BalanceApprovalOracle 余额/授权查询
type BalanceApprovalOracle interface {
	FtBalance(ctx context.Context, coin, owner string) (decimal.Decimal, error)
	NftBalance(ctx context.Context, contract string, tokenID *big.Int, owner string) (decimal.Decimal, error)
	CachedFtApproval(ctx context.Context, coin, owner, spender string) (decimal.Decimal, error)
	FetchAndUpdateFtApproval(ctx context.Context, coin, owner, spender string) (decimal.Decimal, error)
	NftApproved(ctx context.Context, kind model.AssetKind, contract, owner, operator string, recheck bool) (bool, error)
}

// ExchangeResolver 协议对应的交易所合约 (授权对象)
type ExchangeResolver interface {
	Exchange(protocol model.Protocol) (common.Address, error)
}

// CheckOptions 检查选项, 零值表示两项都关闭
type CheckOptions struct {
	// OnChainApprovalRecheck 授权以链上为准: 买单实时读取额度, 卖单在缓存为否时复核
	OnChainApprovalRecheck bool
	// CheckFilledOrCancelled 额外检查显式取消和成交量
	CheckFilledOrCancelled bool
}

// Checker 订单有效性检查
type Checker struct {
	contracts ContractIndex
	orders    OrderStateStore
	nonces    NonceRegistry
	oracle    BalanceApprovalOracle
	exchanges ExchangeResolver
}

// NewChecker 创建有效性检查器
func NewChecker(
	contracts ContractIndex,
	orders OrderStateStore,
	nonces NonceRegistry,
	oracle BalanceApprovalOracle,
	exchanges ExchangeResolver,
) *Checker {
	return &Checker{
		contracts: contracts,
		orders:    orders,
		nonces:    nonces,
		oracle:    oracle,
		exchanges: exchanges,
	}
}

// Check 按固定顺序检查, 命中第一个失效原因即返回
// 返回 nil 表示可成交; 失效结论见 IsInvalid; 其余错误均为 ErrCheckFailed
func (c *Checker) Check(ctx context.Context, order *model.Order, opts CheckOptions) (err error) {
	if order == nil {
		return errors.Wrap(errors.ErrInvalidRequest, model.ErrInvalidOrder)
	}

	start := time.Now()
	defer func() {
		metrics.RecordValidityCheck(string(order.Protocol), resultLabel(err), time.Since(start).Seconds())
		if reason := Reason(err); reason != "" {
			logger.WithContext(ctx).Debug("order invalid",
				zap.String("order_id", order.ID),
				zap.String("protocol", string(order.Protocol)),
				zap.String("reason", reason))
		}
	}()

	if err := order.Validate(); err != nil {
		return errors.Wrap(errors.ErrInvalidRequest, err)
	}

	kind, ok, err := c.contracts.GetContractKind(ctx, order.Asset.Contract)
	if err != nil {
		return checkFailed("get contract kind", err)
	}
	if !ok {
		return ErrInvalidTarget
	}

	if opts.CheckFilledOrCancelled {
		cancelled, err := c.orders.IsOrderCancelled(ctx, order.ID, order.Protocol)
		if err != nil {
			return checkFailed("get order cancelled", err)
		}
		if cancelled {
			return ErrCancelled
		}

		filled, err := c.orders.GetQuantityFilled(ctx, order.ID)
		if err != nil {
			return checkFailed("get quantity filled", err)
		}
		if filled.GreaterThanOrEqual(order.Amount) {
			return ErrFilled
		}
	}

	minNonce, err := c.nonces.GetMinNonce(ctx, order.Protocol, order.Actor)
	if err != nil {
		return checkFailed("get min nonce", err)
	}
	if minNonce.GreaterThan(order.MasterNonce) {
		return ErrCancelled
	}

	nonceCancelled, err := c.nonces.IsNonceCancelled(ctx, order.Protocol, order.Actor, order.NonceKey())
	if err != nil {
		return checkFailed("get nonce cancelled", err)
	}
	if nonceCancelled {
		return ErrCancelled
	}

	exchange, err := c.exchanges.Exchange(order.Protocol)
	if err != nil {
		return checkFailed("resolve exchange", err)
	}

	hasBalance, hasApproval, err := c.balanceAndApproval(ctx, order, kind, exchange, opts)
	if err != nil {
		return checkFailed("get balance and approval", err)
	}

	switch {
	case !hasBalance && !hasApproval:
		return ErrNoBalanceNoApproval
	case !hasBalance:
		return ErrNoBalance
	case !hasApproval:
		return ErrNoApproval
	}
	return nil
}

// balanceAndApproval 余额与授权两个读取互不依赖, 并行执行
func (c *Checker) balanceAndApproval(
	ctx context.Context,
	order *model.Order,
	kind model.AssetKind,
	exchange common.Address,
	opts CheckOptions,
) (hasBalance, hasApproval bool, err error) {
	operator := model.NormalizeAddress(exchange.Hex())
	g, gctx := errgroup.WithContext(ctx)

	switch order.Side {
	case model.SideBuy:
		g.Go(func() error {
			balance, err := c.oracle.FtBalance(gctx, order.Coin, order.Actor)
			if err != nil {
				return err
			}
			hasBalance = balance.GreaterThanOrEqual(order.Price)
			return nil
		})
		g.Go(func() error {
			var allowance decimal.Decimal
			var err error
			if opts.OnChainApprovalRecheck {
				allowance, err = c.oracle.FetchAndUpdateFtApproval(gctx, order.Coin, order.Actor, operator)
			} else {
				allowance, err = c.oracle.CachedFtApproval(gctx, order.Coin, order.Actor, operator)
			}
			if err != nil {
				return err
			}
			hasApproval = allowance.GreaterThanOrEqual(order.Price)
			return nil
		})

	case model.SideSell:
		g.Go(func() error {
			balance, err := c.oracle.NftBalance(gctx, order.Asset.Contract, order.Asset.TokenID, order.Actor)
			if err != nil {
				return err
			}
			hasBalance = balance.GreaterThanOrEqual(order.Amount)
			return nil
		})
		g.Go(func() error {
			approved, err := c.oracle.NftApproved(gctx, kind, order.Asset.Contract, order.Actor, operator, opts.OnChainApprovalRecheck)
			if err != nil {
				return err
			}
			hasApproval = approved
			return nil
		})

	default:
		return false, false, fmt.Errorf("unknown order side %d", order.Side)
	}

	if err := g.Wait(); err != nil {
		return false, false, err
	}
	return hasBalance, hasApproval, nil
}

func checkFailed(step string, cause error) error {
	return errors.Wrapf(ErrCheckFailed, cause, "%s", step)
}

func resultLabel(err error) string {
	if err == nil {
		return "valid"
	}
	if reason := Reason(err); reason != "" {
		return reason
	}
	return "error"
}
