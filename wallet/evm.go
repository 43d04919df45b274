package wallet

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"

	"github.com/mneepay/checkout/logger"
	"github.com/mneepay/checkout/types"
	"github.com/mneepay/checkout/utils"
)

// EVMTransaction is an unsigned call the wallet signs and broadcasts.
type EVMTransaction struct {
	From    common.Address
	To      common.Address
	Value   *big.Int
	Data    []byte
	ChainID *big.Int
}

// EVMWallet is the capability a multi-chain wallet integration exposes.
type EVMWallet interface {
	Accounts(ctx context.Context) ([]common.Address, error)
	ChainID(ctx context.Context) (*big.Int, error)
	SwitchChain(ctx context.Context, chainID *big.Int) error
	SendTransaction(ctx context.Context, tx EVMTransaction) (common.Hash, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error)
	TransactionReceipt(ctx context.Context, hash common.Hash) (*gethtypes.Receipt, error)
}

const defaultReceiptInterval = 2 * time.Second

// EVMProvider pays ERC-20 tokens through an EVMWallet.
type EVMProvider struct {
	wallet          EVMWallet
	receiptInterval time.Duration
	logger          logger.Logger

	mu      sync.Mutex
	account common.Address
}

type EVMOption func(*EVMProvider)

func WithReceiptInterval(d time.Duration) EVMOption {
	return func(p *EVMProvider) {
		if d > 0 {
			p.receiptInterval = d
		}
	}
}

func WithEVMLogger(l logger.Logger) EVMOption {
	return func(p *EVMProvider) { p.logger = logger.OrNoop(l) }
}

var _ Provider = (*EVMProvider)(nil)

func NewEVMProvider(w EVMWallet, opts ...EVMOption) *EVMProvider {
	p := &EVMProvider{
		wallet:          w,
		receiptInterval: defaultReceiptInterval,
		logger:          logger.NoopLogger{},
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *EVMProvider) Kind() Kind { return KindEVM }

func (p *EVMProvider) Connect(ctx context.Context) (Account, error) {
	accounts, err := p.wallet.Accounts(ctx)
	if err != nil {
		return Account{}, err
	}
	if len(accounts) == 0 {
		return Account{}, errors.New("wallet returned no accounts")
	}
	chainID, err := p.wallet.ChainID(ctx)
	if err != nil {
		return Account{}, fmt.Errorf("read chain id: %w", err)
	}

	p.mu.Lock()
	p.account = accounts[0]
	p.mu.Unlock()

	return Account{Address: accounts[0].Hex(), ChainID: chainID.Int64()}, nil
}

func (p *EVMProvider) Disconnect(context.Context) error {
	p.mu.Lock()
	p.account = common.Address{}
	p.mu.Unlock()
	return nil
}

func (p *EVMProvider) from() (common.Address, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.account == (common.Address{}) {
		return common.Address{}, ErrNotConnected
	}
	return p.account, nil
}

// Transfer sends token.transfer(to, amount) on the token's network, switching
// the wallet's chain first when needed.
func (p *EVMProvider) Transfer(ctx context.Context, req TransferRequest) (string, error) {
	from, err := p.from()
	if err != nil {
		return "", err
	}
	network := req.Token.Network
	if !network.IsEVM() {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedChain, network)
	}
	if err := utils.ValidateAddressForNetwork(req.To, network); err != nil {
		return "", fmt.Errorf("invalid destination: %w", err)
	}
	if err := utils.ValidateAddressForNetwork(req.Token.Address, network); err != nil {
		return "", fmt.Errorf("invalid token contract: %w", err)
	}

	amount, err := utils.ToBaseUnits(req.Amount, req.Token.Decimals)
	if err != nil {
		return "", err
	}
	if amount.Sign() <= 0 {
		return "", fmt.Errorf("transfer amount must be positive")
	}

	chainID := big.NewInt(network.ChainID())
	if err := p.ensureChain(ctx, chainID); err != nil {
		return "", err
	}

	data, err := PackTransfer(common.HexToAddress(req.To), amount)
	if err != nil {
		return "", fmt.Errorf("pack transfer: %w", err)
	}

	hash, err := p.wallet.SendTransaction(ctx, EVMTransaction{
		From:    from,
		To:      common.HexToAddress(req.Token.Address),
		Value:   big.NewInt(0),
		Data:    data,
		ChainID: chainID,
	})
	if err != nil {
		return "", err
	}

	p.logger.Info("erc20 transfer submitted", map[string]any{
		"tx_hash":     hash.Hex(),
		"token":       req.Token.Symbol,
		"chain_id":    chainID.Int64(),
		"amount_base": amount.String(),
	})
	return hash.Hex(), nil
}

func (p *EVMProvider) ensureChain(ctx context.Context, want *big.Int) error {
	current, err := p.wallet.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("read chain id: %w", err)
	}
	if current.Cmp(want) == 0 {
		return nil
	}

	p.logger.Info("switching wallet chain", map[string]any{
		"from_chain_id": current.Int64(),
		"to_chain_id":   want.Int64(),
	})
	if err := p.wallet.SwitchChain(ctx, want); err != nil {
		return err
	}

	current, err = p.wallet.ChainID(ctx)
	if err != nil {
		return fmt.Errorf("read chain id: %w", err)
	}
	if current.Cmp(want) != 0 {
		return fmt.Errorf("%w: wallet still on chain %s after switching to %s", ErrUnsupportedChain, current, want)
	}
	return nil
}

// WaitForConfirmation polls for the receipt of hash until it is mined.
// A mined receipt with failed status is an execution failure.
func (p *EVMProvider) WaitForConfirmation(ctx context.Context, txID string) (Confirmation, error) {
	hash := common.HexToHash(txID)
	ticker := time.NewTicker(p.receiptInterval)
	defer ticker.Stop()

	for {
		receipt, err := p.wallet.TransactionReceipt(ctx, hash)
		switch {
		case err == nil && receipt != nil:
			conf := Confirmation{TxID: txID, Confirmed: receipt.Status == gethtypes.ReceiptStatusSuccessful}
			if receipt.BlockNumber != nil {
				conf.BlockNumber = receipt.BlockNumber.Uint64()
			}
			if !conf.Confirmed {
				return conf, &TransferError{Kind: ErrExecutionFailed, Message: fmt.Sprintf("transaction %s failed on chain", txID)}
			}
			return conf, nil
		case err != nil && !errors.Is(err, ethereum.NotFound):
			p.logger.Debug("receipt lookup failed", map[string]any{"tx_hash": txID, "error": err})
		}

		select {
		case <-ctx.Done():
			return Confirmation{TxID: txID}, ctx.Err()
		case <-ticker.C:
		}
	}
}

// Balance reads the ERC-20 balance of the connected account.
func (p *EVMProvider) Balance(ctx context.Context, token types.TokenInfo) (decimal.Decimal, error) {
	owner, err := p.from()
	if err != nil {
		return decimal.Zero, err
	}
	if !common.IsHexAddress(token.Address) {
		return decimal.Zero, fmt.Errorf("token %s has no contract on %s", token.Symbol, token.Network)
	}

	data, err := packBalanceOf(owner)
	if err != nil {
		return decimal.Zero, err
	}
	contract := common.HexToAddress(token.Address)
	out, err := p.wallet.CallContract(ctx, ethereum.CallMsg{From: owner, To: &contract, Data: data})
	if err != nil {
		return decimal.Zero, fmt.Errorf("balanceOf call: %w", err)
	}
	raw, err := unpackBalanceOf(out)
	if err != nil {
		return decimal.Zero, err
	}
	return utils.FromBaseUnits(raw, token.Decimals), nil
}
