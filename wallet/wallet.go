// Package wallet puts multi-chain EVM wallets and direct MNEE wallets behind
// one Provider contract, and tracks which of them is connected.
package wallet

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/mneepay/checkout/types"
)

// Kind identifies a wallet provider family
type Kind string

const (
	// KindEVM is a multi-chain wallet paying ERC-20 tokens.
	KindEVM Kind = "evm"
	// KindDirect is a single-chain wallet paying MNEE directly on BSV.
	KindDirect Kind = "direct"
)

func (k Kind) Valid() bool {
	return k == KindEVM || k == KindDirect
}

type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
)

// Account is what a provider reports after connecting.
type Account struct {
	Address    string
	ChainID    int64
	PublicKeys []string
}

// State is a point in time view of the adapter.
type State struct {
	Status     Status           `json:"status"`
	Kind       Kind             `json:"kind,omitempty"`
	Address    string           `json:"address,omitempty"`
	ChainID    int64            `json:"chainId,omitempty"`
	PublicKeys []string         `json:"publicKeys,omitempty"`
	Balance    *decimal.Decimal `json:"balance,omitempty"`
}

func (s State) IsConnected() bool {
	return s.Status == StatusConnected && s.Address != ""
}

// TransferRequest asks the active provider to pay a deposit address.
type TransferRequest struct {
	To string
	// Amount in whole token units; providers scale it to base units.
	Amount decimal.Decimal
	Token  types.TokenInfo
}

// Confirmation is the provider's view of a submitted transfer.
type Confirmation struct {
	TxID        string
	Confirmed   bool
	BlockNumber uint64
}

// Provider is implemented once per wallet family.
type Provider interface {
	Kind() Kind
	Connect(ctx context.Context) (Account, error)
	Disconnect(ctx context.Context) error
	Balance(ctx context.Context, token types.TokenInfo) (decimal.Decimal, error)

	// Transfer submits a payment and returns its transaction id without
	// waiting for confirmation.
	Transfer(ctx context.Context, req TransferRequest) (string, error)

	// WaitForConfirmation blocks until txID is confirmed, fails, or ctx ends.
	WaitForConfirmation(ctx context.Context, txID string) (Confirmation, error)
}

// EventType enumerates externally observed wallet events.
type EventType string

const (
	EventConnected      EventType = "connected"
	EventDisconnected   EventType = "disconnected"
	EventAccountChanged EventType = "account_changed"
	EventChainChanged   EventType = "chain_changed"
)

// Event is pushed by a wallet integration when the user acts in the wallet
// UI outside of an adapter call.
type Event struct {
	Kind       Kind
	Type       EventType
	Address    string
	ChainID    int64
	PublicKeys []string
}
