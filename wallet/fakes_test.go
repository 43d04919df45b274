package wallet

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/shopspring/decimal"
)

type fakeEVMWallet struct {
	mu sync.Mutex

	accounts     []common.Address
	chainID      int64
	switchErr    error
	ignoreSwitch bool
	sendErr      error
	sent         []EVMTransaction
	switches     []int64
	receipts     map[common.Hash]*gethtypes.Receipt
	misses       int
	balance      *big.Int
}

func newFakeEVMWallet(chainID int64) *fakeEVMWallet {
	return &fakeEVMWallet{
		accounts: []common.Address{common.HexToAddress("0xE4d365a5a8fC0DCEE9E3C5985D7FcBab8B4A0fE1")},
		chainID:  chainID,
		receipts: make(map[common.Hash]*gethtypes.Receipt),
	}
}

func (f *fakeEVMWallet) Accounts(context.Context) ([]common.Address, error) {
	return f.accounts, nil
}

func (f *fakeEVMWallet) ChainID(context.Context) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return big.NewInt(f.chainID), nil
}

func (f *fakeEVMWallet) SwitchChain(_ context.Context, id *big.Int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.switches = append(f.switches, id.Int64())
	if f.switchErr != nil {
		return f.switchErr
	}
	if !f.ignoreSwitch {
		f.chainID = id.Int64()
	}
	return nil
}

func (f *fakeEVMWallet) SendTransaction(_ context.Context, tx EVMTransaction) (common.Hash, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return common.Hash{}, f.sendErr
	}
	f.sent = append(f.sent, tx)
	return common.BigToHash(big.NewInt(int64(len(f.sent)))), nil
}

func (f *fakeEVMWallet) CallContract(_ context.Context, msg ethereum.CallMsg) ([]byte, error) {
	if f.balance == nil {
		return nil, errors.New("execution reverted")
	}
	return erc20ABI.Methods["balanceOf"].Outputs.Pack(f.balance)
}

func (f *fakeEVMWallet) TransactionReceipt(_ context.Context, hash common.Hash) (*gethtypes.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.misses > 0 {
		f.misses--
		return nil, ethereum.NotFound
	}
	r, ok := f.receipts[hash]
	if !ok {
		return nil, ethereum.NotFound
	}
	return r, nil
}

type fakeDirectWallet struct {
	mu sync.Mutex

	address     string
	connectErr  error
	transferErr error
	transfers   [][]DirectRecipient
	statuses    []DirectTxStatus
	balance     decimal.Decimal
	disconnects int

	// block, when set, holds Connect until closed.
	block chan struct{}
}

func (f *fakeDirectWallet) Connect(ctx context.Context) (DirectAccount, error) {
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return DirectAccount{}, ctx.Err()
		}
	}
	if f.connectErr != nil {
		return DirectAccount{}, f.connectErr
	}
	return DirectAccount{Address: f.address, PublicKeys: []string{"02abc"}}, nil
}

func (f *fakeDirectWallet) Disconnect(context.Context) error {
	f.mu.Lock()
	f.disconnects++
	f.mu.Unlock()
	return nil
}

func (f *fakeDirectWallet) Balance(context.Context) (decimal.Decimal, error) {
	return f.balance, nil
}

func (f *fakeDirectWallet) Transfer(_ context.Context, recipients []DirectRecipient) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.transferErr != nil {
		return "", f.transferErr
	}
	f.transfers = append(f.transfers, recipients)
	return "ab12cd34ef56ab12cd34ef56ab12cd34ef56ab12cd34ef56ab12cd34ef56ab12", nil
}

func (f *fakeDirectWallet) TransactionStatus(context.Context, string) (DirectTxStatus, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.statuses) == 0 {
		return DirectTxPending, nil
	}
	s := f.statuses[0]
	if len(f.statuses) > 1 {
		f.statuses = f.statuses[1:]
	}
	return s, nil
}
