package model

import (
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidOrder     = errors.New("invalid order")
	ErrUnknownAssetKind = errors.New("unknown asset kind")
)

// Protocol 订单协议 (nonce/成交状态按协议隔离)
type Protocol string

const (
	ProtocolPaymentProcessor   Protocol = "payment-processor"
	ProtocolPaymentProcessorV2 Protocol = "payment-processor-v2"
)

// Side 订单方向
type Side uint8

const (
	SideBuy  Side = 0 // 用 FT 购买 NFT
	SideSell Side = 1 // 出售 NFT 换取 FT
)

func (s Side) String() string {
	switch s {
	case SideBuy:
		return "buy"
	case SideSell:
		return "sell"
	default:
		return "unknown"
	}
}

// AssetKind NFT 合约类型
type AssetKind string

const (
	AssetKindERC721  AssetKind = "erc721"
	AssetKindERC1155 AssetKind = "erc1155"
)

// ParseAssetKind 解析合约类型
func ParseAssetKind(s string) (AssetKind, error) {
	switch AssetKind(strings.ToLower(s)) {
	case AssetKindERC721:
		return AssetKindERC721, nil
	case AssetKindERC1155:
		return AssetKindERC1155, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownAssetKind, s)
	}
}

// Asset 订单标的
type Asset struct {
	Contract string
	TokenID  *big.Int
	Kind     AssetKind // 上游声明的类型, 校验时以索引中的类型为准
}

// Order 已签名订单 (上游创建后不可变)
type Order struct {
	ID          string // 订单内容哈希
	Protocol    Protocol
	Side        Side
	Actor       string // maker
	Asset       Asset
	Amount      decimal.Decimal
	Price       decimal.Decimal
	Coin        string
	MasterNonce decimal.Decimal
	Marketplace string
	Nonce       decimal.Decimal
}

// NonceKey 单笔取消使用的 nonce 槽位: keccak256(abi.encodePacked(marketplace, nonce))
func (o *Order) NonceKey() string {
	buf := make([]byte, 0, common.AddressLength+32)
	buf = append(buf, common.HexToAddress(o.Marketplace).Bytes()...)
	buf = append(buf, common.LeftPadBytes(o.Nonce.BigInt().Bytes(), 32)...)
	return crypto.Keccak256Hash(buf).Hex()
}

// Validate 结构校验, 不涉及任何索引状态
func (o *Order) Validate() error {
	if o == nil {
		return fmt.Errorf("%w: nil order", ErrInvalidOrder)
	}
	if o.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidOrder)
	}
	if o.Protocol == "" {
		return fmt.Errorf("%w: missing protocol", ErrInvalidOrder)
	}
	if !common.IsHexAddress(o.Actor) {
		return fmt.Errorf("%w: bad actor %q", ErrInvalidOrder, o.Actor)
	}
	if !common.IsHexAddress(o.Asset.Contract) {
		return fmt.Errorf("%w: bad asset contract %q", ErrInvalidOrder, o.Asset.Contract)
	}
	if !o.Amount.IsPositive() {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidOrder)
	}
	if o.Asset.Kind == AssetKindERC721 && !o.Amount.Equal(decimal.NewFromInt(1)) {
		return fmt.Errorf("%w: erc721 amount must be 1", ErrInvalidOrder)
	}
	if o.MasterNonce.IsNegative() || o.Nonce.IsNegative() {
		return fmt.Errorf("%w: negative nonce", ErrInvalidOrder)
	}

	switch o.Side {
	case SideBuy:
		if !common.IsHexAddress(o.Coin) {
			return fmt.Errorf("%w: bad coin %q", ErrInvalidOrder, o.Coin)
		}
		if o.Price.IsNegative() {
			return fmt.Errorf("%w: negative price", ErrInvalidOrder)
		}
	case SideSell:
		if o.Asset.TokenID == nil {
			return fmt.Errorf("%w: sell order without token id", ErrInvalidOrder)
		}
	default:
		return fmt.Errorf("%w: unknown side %d", ErrInvalidOrder, o.Side)
	}
	return nil
}

// NormalizeAddress 地址统一小写存储和比较
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}
