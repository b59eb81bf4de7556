package model

import (
	"errors"
	"math/big"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testMaker       = "0x1111111111111111111111111111111111111111"
	testNFT         = "0x2222222222222222222222222222222222222222"
	testCoin        = "0x3333333333333333333333333333333333333333"
	testMarketplace = "0xabababababababababababababababababababab"
)

func sellOrder() *Order {
	return &Order{
		ID:          "0xorder",
		Protocol:    ProtocolPaymentProcessor,
		Side:        SideSell,
		Actor:       testMaker,
		Asset:       Asset{Contract: testNFT, TokenID: big.NewInt(7), Kind: AssetKindERC721},
		Amount:      decimal.NewFromInt(1),
		Price:       decimal.NewFromInt(100),
		Coin:        testCoin,
		Marketplace: testMarketplace,
		Nonce:       decimal.NewFromInt(42),
	}
}

func TestOrder_Validate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(o *Order)
		wantErr bool
	}{
		{"valid sell", func(o *Order) {}, false},
		{"valid buy collection offer", func(o *Order) {
			o.Side = SideBuy
			o.Asset.TokenID = nil
		}, false},
		{"missing id", func(o *Order) { o.ID = "" }, true},
		{"missing protocol", func(o *Order) { o.Protocol = "" }, true},
		{"bad actor", func(o *Order) { o.Actor = "0x12" }, true},
		{"bad contract", func(o *Order) { o.Asset.Contract = "nft" }, true},
		{"zero amount", func(o *Order) { o.Amount = decimal.Zero }, true},
		{"erc721 amount above one", func(o *Order) { o.Amount = decimal.NewFromInt(2) }, true},
		{"erc1155 amount above one", func(o *Order) {
			o.Asset.Kind = AssetKindERC1155
			o.Amount = decimal.NewFromInt(5)
		}, false},
		{"negative nonce", func(o *Order) { o.Nonce = decimal.NewFromInt(-1) }, true},
		{"sell without token id", func(o *Order) { o.Asset.TokenID = nil }, true},
		{"buy with bad coin", func(o *Order) {
			o.Side = SideBuy
			o.Coin = ""
		}, true},
		{"unknown side", func(o *Order) { o.Side = Side(9) }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := sellOrder()
			tt.mutate(o)
			err := o.Validate()
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrInvalidOrder))
			} else {
				assert.NoError(t, err)
			}
		})
	}

	var nilOrder *Order
	assert.True(t, errors.Is(nilOrder.Validate(), ErrInvalidOrder))
}

func TestOrder_NonceKey(t *testing.T) {
	o := sellOrder()
	key := o.NonceKey()

	assert.Len(t, key, 66)
	assert.Equal(t, key, sellOrder().NonceKey())

	upper := sellOrder()
	upper.Marketplace = "0xABABABABABABABABABABABABABABABABABABABAB"
	assert.Equal(t, key, upper.NonceKey())

	otherNonce := sellOrder()
	otherNonce.Nonce = decimal.NewFromInt(43)
	assert.NotEqual(t, key, otherNonce.NonceKey())

	otherMarket := sellOrder()
	otherMarket.Marketplace = "0x5555555555555555555555555555555555555555"
	assert.NotEqual(t, key, otherMarket.NonceKey())
}

func TestParseAssetKind(t *testing.T) {
	kind, err := ParseAssetKind("ERC721")
	require.NoError(t, err)
	assert.Equal(t, AssetKindERC721, kind)

	kind, err = ParseAssetKind("erc1155")
	require.NoError(t, err)
	assert.Equal(t, AssetKindERC1155, kind)

	_, err = ParseAssetKind("erc20")
	assert.True(t, errors.Is(err, ErrUnknownAssetKind))
}

func TestSide_String(t *testing.T) {
	assert.Equal(t, "buy", SideBuy.String())
	assert.Equal(t, "sell", SideSell.String())
	assert.Equal(t, "unknown", Side(3).String())
}

func TestNormalizeAddress(t *testing.T) {
	assert.Equal(t, "0xabcdef", NormalizeAddress(" 0xAbCdEf "))
}
