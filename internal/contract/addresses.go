package contract

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/eidos-exchange/eidos/eidos-indexer/internal/model"
)

// Chain IDs
const (
	ChainIDSepolia int64 = 11155111
)

// ErrExchangeNotConfigured no exchange address for the protocol on this chain.
var ErrExchangeNotConfigured = errors.New("exchange address not configured")

// exchangeAddresses is the built-in address book: protocol -> chain -> exchange.
var exchangeAddresses = map[model.Protocol]map[int64]common.Address{
	model.ProtocolPaymentProcessor: {
		ChainIDSepolia: common.HexToAddress("0x7ca79c6f5040d97f66d9eba5accde49bc546d98d"),
	},
	model.ProtocolPaymentProcessorV2: {
		ChainIDSepolia: common.HexToAddress("0x7ca79c6f5040d97f66d9eba5accde49bc546d98d"),
	},
}

// ExchangeAddress returns the built-in exchange (approval operator) address.
func ExchangeAddress(protocol model.Protocol, chainID int64) (common.Address, error) {
	byChain, ok := exchangeAddresses[protocol]
	if !ok {
		return common.Address{}, fmt.Errorf("%w: protocol %s", ErrExchangeNotConfigured, protocol)
	}
	addr, ok := byChain[chainID]
	if !ok {
		return common.Address{}, fmt.Errorf("%w: protocol %s on chain %d", ErrExchangeNotConfigured, protocol, chainID)
	}
	return addr, nil
}

// ExchangeBook resolves exchange addresses for one chain, config overrides first.
type ExchangeBook struct {
	chainID   int64
	overrides map[model.Protocol]common.Address
}

// NewExchangeBook creates an exchange book. Override keys are protocol names.
func NewExchangeBook(chainID int64, overrides map[string]string) (*ExchangeBook, error) {
	b := &ExchangeBook{
		chainID:   chainID,
		overrides: make(map[model.Protocol]common.Address, len(overrides)),
	}
	for protocol, addr := range overrides {
		if !common.IsHexAddress(addr) {
			return nil, fmt.Errorf("invalid exchange override for %s: %q", protocol, addr)
		}
		b.overrides[model.Protocol(strings.TrimSpace(protocol))] = common.HexToAddress(addr)
	}
	return b, nil
}

// Exchange returns the exchange address for the protocol.
func (b *ExchangeBook) Exchange(protocol model.Protocol) (common.Address, error) {
	if addr, ok := b.overrides[protocol]; ok {
		return addr, nil
	}
	return ExchangeAddress(protocol, b.chainID)
}
