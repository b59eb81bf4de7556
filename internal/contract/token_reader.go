// Package contract provides token contract reads and exchange address lookup.
package contract

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/time/rate"

	"github.com/eidos-exchange/eidos/eidos-indexer/internal/model"
)

// ERC20AllowanceABI is the minimal ABI for ERC20 allowance queries.
const ERC20AllowanceABI = `[
	{
		"type": "function",
		"name": "allowance",
		"inputs": [
			{"name": "owner", "type": "address"},
			{"name": "spender", "type": "address"}
		],
		"outputs": [{"name": "", "type": "uint256"}],
		"stateMutability": "view"
	}
]`

// ERC721ApprovalABI is the minimal ABI for ERC721 operator approval.
const ERC721ApprovalABI = `[
	{
		"type": "function",
		"name": "isApprovedForAll",
		"inputs": [
			{"name": "owner", "type": "address"},
			{"name": "operator", "type": "address"}
		],
		"outputs": [{"name": "", "type": "bool"}],
		"stateMutability": "view"
	}
]`

// ERC1155ApprovalABI is the minimal ABI for ERC1155 operator approval.
const ERC1155ApprovalABI = `[
	{
		"type": "function",
		"name": "isApprovedForAll",
		"inputs": [
			{"name": "account", "type": "address"},
			{"name": "operator", "type": "address"}
		],
		"outputs": [{"name": "", "type": "bool"}],
		"stateMutability": "view"
	}
]`

// ErrUnexpectedOutput the contract returned data that does not match the ABI.
var ErrUnexpectedOutput = errors.New("unexpected contract output")

// TokenReader reads allowance and operator approval directly from the chain.
type TokenReader struct {
	caller      bind.ContractCaller
	callTimeout time.Duration
	limiter     *rate.Limiter // nil means unlimited

	erc20ABI   abi.ABI
	erc721ABI  abi.ABI
	erc1155ABI abi.ABI
}

// NewTokenReader creates a token reader. callTimeout <= 0 disables the per-call bound.
func NewTokenReader(caller bind.ContractCaller, callTimeout time.Duration) (*TokenReader, error) {
	erc20, err := abi.JSON(strings.NewReader(ERC20AllowanceABI))
	if err != nil {
		return nil, err
	}
	erc721, err := abi.JSON(strings.NewReader(ERC721ApprovalABI))
	if err != nil {
		return nil, err
	}
	erc1155, err := abi.JSON(strings.NewReader(ERC1155ApprovalABI))
	if err != nil {
		return nil, err
	}

	return &TokenReader{
		caller:      caller,
		callTimeout: callTimeout,
		erc20ABI:    erc20,
		erc721ABI:   erc721,
		erc1155ABI:  erc1155,
	}, nil
}

// WithRateLimit bounds on-chain reads to rps calls per second. rps <= 0 removes the bound.
func (r *TokenReader) WithRateLimit(rps float64, burst int) *TokenReader {
	if rps <= 0 {
		r.limiter = nil
		return r
	}
	if burst <= 0 {
		burst = 1
	}
	r.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	return r
}

// Allowance queries ERC20 allowance(owner, spender) at the latest block.
func (r *TokenReader) Allowance(ctx context.Context, token, owner, spender common.Address) (*big.Int, error) {
	data, err := r.erc20ABI.Pack("allowance", owner, spender)
	if err != nil {
		return nil, err
	}

	result, err := r.call(ctx, token, data)
	if err != nil {
		return nil, fmt.Errorf("allowance %s: %w", token.Hex(), err)
	}

	out, err := r.erc20ABI.Unpack("allowance", result)
	if err != nil {
		return nil, fmt.Errorf("allowance %s: %w", token.Hex(), err)
	}
	if len(out) != 1 {
		return nil, ErrUnexpectedOutput
	}
	value, ok := out[0].(*big.Int)
	if !ok {
		return nil, ErrUnexpectedOutput
	}
	return value, nil
}

// IsApprovedForAll queries isApprovedForAll(owner, operator) on an NFT contract.
func (r *TokenReader) IsApprovedForAll(ctx context.Context, kind model.AssetKind, nft, owner, operator common.Address) (bool, error) {
	var parsed abi.ABI
	switch kind {
	case model.AssetKindERC721:
		parsed = r.erc721ABI
	case model.AssetKindERC1155:
		parsed = r.erc1155ABI
	default:
		return false, fmt.Errorf("%w: %q", model.ErrUnknownAssetKind, kind)
	}

	data, err := parsed.Pack("isApprovedForAll", owner, operator)
	if err != nil {
		return false, err
	}

	result, err := r.call(ctx, nft, data)
	if err != nil {
		return false, fmt.Errorf("isApprovedForAll %s: %w", nft.Hex(), err)
	}

	out, err := parsed.Unpack("isApprovedForAll", result)
	if err != nil {
		return false, fmt.Errorf("isApprovedForAll %s: %w", nft.Hex(), err)
	}
	if len(out) != 1 {
		return false, ErrUnexpectedOutput
	}
	approved, ok := out[0].(bool)
	if !ok {
		return false, ErrUnexpectedOutput
	}
	return approved, nil
}

func (r *TokenReader) call(ctx context.Context, to common.Address, data []byte) ([]byte, error) {
	if r.limiter != nil {
		if err := r.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("rate limit: %w", err)
		}
	}
	if r.callTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.callTimeout)
		defer cancel()
	}

	msg := ethereum.CallMsg{
		To:   &to,
		Data: data,
	}
	return r.caller.CallContract(ctx, msg, nil)
}
