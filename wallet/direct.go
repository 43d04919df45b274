package wallet

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mneepay/checkout/logger"
	"github.com/mneepay/checkout/types"
	"github.com/mneepay/checkout/utils"
)

// DirectAccount is reported by a direct MNEE wallet on connect.
type DirectAccount struct {
	Address    string
	PublicKeys []string
}

// DirectRecipient is one output of a direct transfer, in whole MNEE.
type DirectRecipient struct {
	Address string
	Amount  decimal.Decimal
}

// DirectTxStatus is the wallet's view of a broadcast transfer.
type DirectTxStatus string

const (
	DirectTxPending   DirectTxStatus = "pending"
	DirectTxConfirmed DirectTxStatus = "confirmed"
	DirectTxFailed    DirectTxStatus = "failed"
)

// DirectWallet is the capability a single-chain MNEE wallet exposes.
type DirectWallet interface {
	Connect(ctx context.Context) (DirectAccount, error)
	Disconnect(ctx context.Context) error
	Balance(ctx context.Context) (decimal.Decimal, error)
	// Transfer broadcasts and returns the transaction id immediately.
	Transfer(ctx context.Context, recipients []DirectRecipient) (string, error)
	TransactionStatus(ctx context.Context, txID string) (DirectTxStatus, error)
}

// DirectProvider pays MNEE straight to a BSV deposit address.
type DirectProvider struct {
	wallet       DirectWallet
	pollInterval time.Duration
	logger       logger.Logger

	mu        sync.Mutex
	connected bool
}

type DirectOption func(*DirectProvider)

func WithStatusInterval(d time.Duration) DirectOption {
	return func(p *DirectProvider) {
		if d > 0 {
			p.pollInterval = d
		}
	}
}

func WithDirectLogger(l logger.Logger) DirectOption {
	return func(p *DirectProvider) { p.logger = logger.OrNoop(l) }
}

var _ Provider = (*DirectProvider)(nil)

func NewDirectProvider(w DirectWallet, opts ...DirectOption) *DirectProvider {
	p := &DirectProvider{
		wallet:       w,
		pollInterval: defaultReceiptInterval,
		logger:       logger.NoopLogger{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *DirectProvider) Kind() Kind { return KindDirect }

func (p *DirectProvider) Connect(ctx context.Context) (Account, error) {
	acct, err := p.wallet.Connect(ctx)
	if err != nil {
		return Account{}, err
	}
	if acct.Address == "" {
		return Account{}, fmt.Errorf("wallet returned no address")
	}

	p.mu.Lock()
	p.connected = true
	p.mu.Unlock()

	return Account{Address: acct.Address, PublicKeys: acct.PublicKeys}, nil
}

func (p *DirectProvider) Disconnect(ctx context.Context) error {
	p.mu.Lock()
	p.connected = false
	p.mu.Unlock()
	return p.wallet.Disconnect(ctx)
}

func (p *DirectProvider) isConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// Transfer sends whole or fractional MNEE to req.To.
func (p *DirectProvider) Transfer(ctx context.Context, req TransferRequest) (string, error) {
	if !p.isConnected() {
		return "", ErrNotConnected
	}
	if req.Token.Network != "" && !req.Token.Network.IsBSV() {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedChain, req.Token.Network)
	}
	if err := utils.ValidateAddressForNetwork(req.To, types.NetworkBSV); err != nil {
		return "", fmt.Errorf("invalid destination: %w", err)
	}
	if !req.Amount.IsPositive() {
		return "", fmt.Errorf("transfer amount must be positive")
	}

	decimals := req.Token.Decimals
	if decimals == 0 {
		if mnee, ok := types.LookupToken(types.NetworkBSV, types.AssetMNEE); ok {
			decimals = mnee.Decimals
		}
	}
	amount := req.Amount.Round(int32(decimals))

	txID, err := p.wallet.Transfer(ctx, []DirectRecipient{{Address: req.To, Amount: amount}})
	if err != nil {
		return "", err
	}

	p.logger.Info("mnee transfer submitted", map[string]any{
		"tx_hash": txID,
		"amount":  amount.String(),
	})
	return txID, nil
}

// WaitForConfirmation polls the wallet's view of txID.
func (p *DirectProvider) WaitForConfirmation(ctx context.Context, txID string) (Confirmation, error) {
	ticker := time.NewTicker(p.pollInterval)
	defer ticker.Stop()

	for {
		status, err := p.wallet.TransactionStatus(ctx, txID)
		switch {
		case err != nil:
			p.logger.Debug("direct status lookup failed", map[string]any{"tx_hash": txID, "error": err})
		case status == DirectTxConfirmed:
			return Confirmation{TxID: txID, Confirmed: true}, nil
		case status == DirectTxFailed:
			return Confirmation{TxID: txID}, &TransferError{Kind: ErrExecutionFailed, Message: fmt.Sprintf("transaction %s was rejected by the network", txID)}
		}

		select {
		case <-ctx.Done():
			return Confirmation{TxID: txID}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (p *DirectProvider) Balance(ctx context.Context, token types.TokenInfo) (decimal.Decimal, error) {
	if !p.isConnected() {
		return decimal.Zero, ErrNotConnected
	}
	if token.Symbol != "" && token.Symbol != types.AssetMNEE {
		return decimal.Zero, fmt.Errorf("direct wallet only holds MNEE, not %s", token.Symbol)
	}
	return p.wallet.Balance(ctx)
}
