package repository

import (
	"context"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/eidos-exchange/eidos/eidos-indexer/internal/model"
)

// ContractKindReader 合约类型读取
type ContractKindReader interface {
	GetContractKind(ctx context.Context, contract string) (model.AssetKind, bool, error)
}

// ContractKindCache 合约类型进程内缓存
// 合约被索引后类型不再变化, 只缓存命中结果; 未索引的合约每次回源
type ContractKindCache struct {
	inner ContractKindReader
	cache *lru.Cache[string, model.AssetKind]
}

// NewContractKindCache 创建合约类型缓存
func NewContractKindCache(inner ContractKindReader, size int) (*ContractKindCache, error) {
	if size <= 0 {
		size = 10000
	}
	cache, err := lru.New[string, model.AssetKind](size)
	if err != nil {
		return nil, err
	}
	return &ContractKindCache{inner: inner, cache: cache}, nil
}

func (c *ContractKindCache) GetContractKind(ctx context.Context, contract string) (model.AssetKind, bool, error) {
	key := model.NormalizeAddress(contract)
	if kind, ok := c.cache.Get(key); ok {
		return kind, true, nil
	}

	kind, ok, err := c.inner.GetContractKind(ctx, key)
	if err != nil || !ok {
		return kind, ok, err
	}
	c.cache.Add(key, kind)
	return kind, true, nil
}
