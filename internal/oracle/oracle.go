// Package oracle 余额/授权查询: 默认读索引缓存, 需要时回落到链上读取
package oracle

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/eidos-exchange/eidos/eidos-indexer/internal/metrics"
	"github.com/eidos-exchange/eidos/eidos-indexer/internal/model"
	"github.com/eidos-exchange/eidos/eidos-indexer/pkg/logger"
)

// IndexReader 索引缓存读写
type IndexReader interface {
	GetFtBalance(ctx context.Context, coin, owner string) (decimal.Decimal, error)
	GetNftBalance(ctx context.Context, contract string, tokenID *big.Int, owner string) (decimal.Decimal, error)
	GetFtApproval(ctx context.Context, token, owner, spender string) (decimal.Decimal, bool, error)
	UpsertFtApproval(ctx context.Context, token, owner, spender string, value decimal.Decimal) error
	GetNftApproval(ctx context.Context, contract, owner, operator string) (bool, error)
	UpsertNftApproval(ctx context.Context, contract, owner, operator string, approved bool) error
}

// ChainReader 链上只读调用
type ChainReader interface {
	Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error)
	IsApprovedForAll(ctx context.Context, kind model.AssetKind, nft, owner, operator common.Address) (bool, error)
}

// Oracle 余额与授权查询, 无内部状态, 可并发使用
type Oracle struct {
	index IndexReader
	chain ChainReader
}

// NewOracle 创建查询服务
func NewOracle(index IndexReader, chain ChainReader) *Oracle {
	return &Oracle{
		index: index,
		chain: chain,
	}
}

// FtBalance 索引中的 FT 余额
func (o *Oracle) FtBalance(ctx context.Context, coin, owner string) (decimal.Decimal, error) {
	return o.index.GetFtBalance(ctx, coin, owner)
}

// NftBalance 索引中的 NFT 余额
func (o *Oracle) NftBalance(ctx context.Context, contract string, tokenID *big.Int, owner string) (decimal.Decimal, error) {
	return o.index.GetNftBalance(ctx, contract, tokenID, owner)
}

// CachedFtApproval 索引中的 ERC20 授权额度, 无记录视为 0
func (o *Oracle) CachedFtApproval(ctx context.Context, coin, owner, spender string) (decimal.Decimal, error) {
	value, _, err := o.index.GetFtApproval(ctx, coin, owner, spender)
	if err != nil {
		return decimal.Zero, err
	}
	return value, nil
}

// FetchAndUpdateFtApproval 读取链上授权额度并刷新缓存
func (o *Oracle) FetchAndUpdateFtApproval(ctx context.Context, coin, owner, spender string) (decimal.Decimal, error) {
	allowance, err := o.chain.Allowance(ctx,
		common.HexToAddress(coin), common.HexToAddress(owner), common.HexToAddress(spender))
	if err != nil {
		metrics.RecordChainRecheck("ft_allowance", "error")
		return decimal.Zero, fmt.Errorf("fetch ft approval: %w", err)
	}

	value := decimal.NewFromBigInt(allowance, 0)
	if value.IsPositive() {
		metrics.RecordChainRecheck("ft_allowance", "approved")
	} else {
		metrics.RecordChainRecheck("ft_allowance", "denied")
	}

	if err := o.index.UpsertFtApproval(ctx, coin, owner, spender, value); err != nil {
		// 本次调用以链上结果为准, 缓存下次刷新
		metrics.ApprovalWriteBackErrorsTotal.WithLabelValues("ft_allowance").Inc()
		logger.Warn("write back ft approval failed",
			zap.String("coin", coin),
			zap.String("owner", owner),
			zap.String("spender", spender),
			zap.Error(err))
	}
	return value, nil
}

// NftApproved operator 是否获得全部授权
// 缓存为 false 且 recheck 时以链上结果为准, 链上为 true 时写回缓存
func (o *Oracle) NftApproved(ctx context.Context, kind model.AssetKind, contract, owner, operator string, recheck bool) (bool, error) {
	approved, err := o.index.GetNftApproval(ctx, contract, owner, operator)
	if err != nil {
		return false, err
	}
	if approved || !recheck {
		return approved, nil
	}

	approved, err = o.chain.IsApprovedForAll(ctx, kind,
		common.HexToAddress(contract), common.HexToAddress(owner), common.HexToAddress(operator))
	if err != nil {
		metrics.RecordChainRecheck("nft_approval", "error")
		return false, fmt.Errorf("fetch nft approval: %w", err)
	}
	if !approved {
		metrics.RecordChainRecheck("nft_approval", "denied")
		return false, nil
	}
	metrics.RecordChainRecheck("nft_approval", "approved")

	if err := o.index.UpsertNftApproval(ctx, contract, owner, operator, true); err != nil {
		metrics.ApprovalWriteBackErrorsTotal.WithLabelValues("nft_approval").Inc()
		logger.Warn("write back nft approval failed",
			zap.String("contract", contract),
			zap.String("owner", owner),
			zap.String("operator", operator),
			zap.Error(err))
	}
	return true, nil
}
