package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Contract 已索引的 NFT 合约
type Contract struct {
	Address   string    `gorm:"column:address;type:varchar(42);primaryKey" json:"address"`
	Kind      AssetKind `gorm:"column:kind;type:varchar(16);not null" json:"kind"`
	CreatedAt time.Time `gorm:"column:created_at;not null" json:"created_at"`
}

// TableName 返回表名
func (Contract) TableName() string {
	return "contracts"
}

// Token 已索引的 token, CollectionID 为空表示尚未归入任何集合
type Token struct {
	Contract     string    `gorm:"column:contract;type:varchar(42);primaryKey" json:"contract"`
	TokenID      string    `gorm:"column:token_id;type:varchar(78);primaryKey" json:"token_id"`
	CollectionID *string   `gorm:"column:collection_id;type:varchar(128);index" json:"collection_id,omitempty"`
	UpdatedAt    time.Time `gorm:"column:updated_at;not null" json:"updated_at"`
}

// TableName 返回表名
func (Token) TableName() string {
	return "tokens"
}

// NftTransferEvent NFT 转账事件
type NftTransferEvent struct {
	TxHash      string          `gorm:"column:tx_hash;type:varchar(66);primaryKey" json:"tx_hash"`
	LogIndex    int             `gorm:"column:log_index;primaryKey" json:"log_index"`
	BatchIndex  int             `gorm:"column:batch_index;primaryKey;default:0" json:"batch_index"`
	Address     string          `gorm:"column:address;type:varchar(42);not null" json:"address"`
	TokenID     string          `gorm:"column:token_id;type:varchar(78);not null" json:"token_id"`
	FromAddress string          `gorm:"column:from_address;type:varchar(42);not null" json:"from_address"`
	ToAddress   string          `gorm:"column:to_address;type:varchar(42);not null" json:"to_address"`
	Amount      decimal.Decimal `gorm:"column:amount;type:numeric(78,0);not null" json:"amount"`
	BlockNumber int64           `gorm:"column:block_number;not null" json:"block_number"`
	UpdatedAt   time.Time       `gorm:"column:updated_at;not null;index" json:"updated_at"`
}

// TableName 返回表名
func (NftTransferEvent) TableName() string {
	return "nft_transfer_events"
}

// FtBalance FT 余额
type FtBalance struct {
	Contract string          `gorm:"column:contract;type:varchar(42);primaryKey" json:"contract"`
	Owner    string          `gorm:"column:owner;type:varchar(42);primaryKey" json:"owner"`
	Amount   decimal.Decimal `gorm:"column:amount;type:numeric(78,0);not null" json:"amount"`
}

// TableName 返回表名
func (FtBalance) TableName() string {
	return "ft_balances"
}

// NftBalance NFT 余额
type NftBalance struct {
	Contract string          `gorm:"column:contract;type:varchar(42);primaryKey" json:"contract"`
	TokenID  string          `gorm:"column:token_id;type:varchar(78);primaryKey" json:"token_id"`
	Owner    string          `gorm:"column:owner;type:varchar(42);primaryKey" json:"owner"`
	Amount   decimal.Decimal `gorm:"column:amount;type:numeric(78,0);not null" json:"amount"`
}

// TableName 返回表名
func (NftBalance) TableName() string {
	return "nft_balances"
}

// FtApproval ERC20 授权额度缓存
type FtApproval struct {
	Token     string          `gorm:"column:token;type:varchar(42);primaryKey" json:"token"`
	Owner     string          `gorm:"column:owner;type:varchar(42);primaryKey" json:"owner"`
	Spender   string          `gorm:"column:spender;type:varchar(42);primaryKey" json:"spender"`
	Value     decimal.Decimal `gorm:"column:value;type:numeric(78,0);not null" json:"value"`
	UpdatedAt time.Time       `gorm:"column:updated_at;not null" json:"updated_at"`
}

// TableName 返回表名
func (FtApproval) TableName() string {
	return "ft_approvals"
}

// NftApproval NFT operator 授权缓存
type NftApproval struct {
	Contract  string    `gorm:"column:contract;type:varchar(42);primaryKey" json:"contract"`
	Owner     string    `gorm:"column:owner;type:varchar(42);primaryKey" json:"owner"`
	Operator  string    `gorm:"column:operator;type:varchar(42);primaryKey" json:"operator"`
	Approved  bool      `gorm:"column:approved;not null" json:"approved"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null" json:"updated_at"`
}

// TableName 返回表名
func (NftApproval) TableName() string {
	return "nft_approvals"
}

// UserCollection 用户-集合聚合
type UserCollection struct {
	Owner        string          `gorm:"column:owner;type:varchar(42);primaryKey" json:"owner"`
	CollectionID string          `gorm:"column:collection_id;type:varchar(128);primaryKey" json:"collection_id"`
	TokenCount   decimal.Decimal `gorm:"column:token_count;type:numeric(78,0);not null" json:"token_count"`
	UpdatedAt    time.Time       `gorm:"column:updated_at;not null" json:"updated_at"`
}

// TableName 返回表名
func (UserCollection) TableName() string {
	return "user_collections"
}
