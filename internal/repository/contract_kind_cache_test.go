package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/eidos-exchange/eidos/eidos-indexer/internal/model"
)

type MockContractKindReader struct {
	mock.Mock
}

func (m *MockContractKindReader) GetContractKind(ctx context.Context, contract string) (model.AssetKind, bool, error) {
	args := m.Called(ctx, contract)
	return args.Get(0).(model.AssetKind), args.Bool(1), args.Error(2)
}

func TestContractKindCache_CachesHits(t *testing.T) {
	inner := new(MockContractKindReader)
	inner.On("GetContractKind", mock.Anything, "0xabc").Return(model.AssetKindERC1155, true, nil).Once()

	cache, err := NewContractKindCache(inner, 10)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		kind, ok, err := cache.GetContractKind(context.Background(), "0xABC")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, model.AssetKindERC1155, kind)
	}
	inner.AssertExpectations(t)
}

func TestContractKindCache_MissesAreNotCached(t *testing.T) {
	inner := new(MockContractKindReader)
	inner.On("GetContractKind", mock.Anything, "0xabc").Return(model.AssetKind(""), false, nil).Once()
	inner.On("GetContractKind", mock.Anything, "0xabc").Return(model.AssetKindERC721, true, nil).Once()

	cache, err := NewContractKindCache(inner, 10)
	require.NoError(t, err)

	_, ok, err := cache.GetContractKind(context.Background(), "0xabc")
	require.NoError(t, err)
	assert.False(t, ok)

	kind, ok, err := cache.GetContractKind(context.Background(), "0xabc")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, model.AssetKindERC721, kind)
	inner.AssertExpectations(t)
}

func TestContractKindCache_ErrorPassesThrough(t *testing.T) {
	inner := new(MockContractKindReader)
	inner.On("GetContractKind", mock.Anything, "0xabc").Return(model.AssetKind(""), false, errors.New("db down"))

	cache, err := NewContractKindCache(inner, 0)
	require.NoError(t, err)

	_, _, err = cache.GetContractKind(context.Background(), "0xabc")
	assert.Error(t, err)
}
