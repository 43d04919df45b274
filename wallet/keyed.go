package wallet

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/mneepay/checkout/types"
	"github.com/mneepay/checkout/utils"
)

// EthBackend is the subset of *ethclient.Client used by KeyedEVMWallet.
type EthBackend interface {
	ChainID(ctx context.Context) (*big.Int, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	EstimateGas(ctx context.Context, msg ethereum.CallMsg) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *gethtypes.Transaction) error
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*gethtypes.Receipt, error)
	Close()
}

var _ EthBackend = (*ethclient.Client)(nil)

// KeyedEVMWallet signs with a local private key and talks to one RPC
// endpoint per chain. It backs headless payers and integration tests.
type KeyedEVMWallet struct {
	key     *ecdsa.PrivateKey
	address common.Address

	mu       sync.Mutex
	backends map[int64]EthBackend
	current  int64
}

var _ EVMWallet = (*KeyedEVMWallet)(nil)

func NewKeyedEVMWallet(key *ecdsa.PrivateKey, backends map[int64]EthBackend, defaultChain int64) (*KeyedEVMWallet, error) {
	if key == nil {
		return nil, fmt.Errorf("signer key is required")
	}
	if _, ok := backends[defaultChain]; !ok {
		return nil, fmt.Errorf("%w: no rpc for default chain %d", ErrUnsupportedChain, defaultChain)
	}
	return &KeyedEVMWallet{
		key:      key,
		address:  crypto.PubkeyToAddress(key.PublicKey),
		backends: backends,
		current:  defaultChain,
	}, nil
}

// DialKeyedEVMWallet dials every configured chain and checks that each
// endpoint serves the chain id its network expects.
func DialKeyedEVMWallet(ctx context.Context, hexKey string, chains map[types.Network]types.ChainConfig, defaultNetwork types.Network) (*KeyedEVMWallet, error) {
	key, err := utils.PrivateKeyFromHex(hexKey)
	if err != nil {
		return nil, err
	}

	backends := make(map[int64]EthBackend, len(chains))
	closeAll := func() {
		for _, b := range backends {
			b.Close()
		}
	}
	for network, cfg := range chains {
		if !network.IsEVM() {
			continue
		}
		client, err := ethclient.DialContext(ctx, cfg.RPCURL)
		if err != nil {
			closeAll()
			return nil, fmt.Errorf("ethereum rpc dial %s: %w", network, err)
		}
		id, err := client.ChainID(ctx)
		if err != nil {
			client.Close()
			closeAll()
			return nil, fmt.Errorf("chain id fetch %s: %w", network, err)
		}
		if id.Int64() != network.ChainID() {
			client.Close()
			closeAll()
			return nil, fmt.Errorf("rpc for %s serves chain %s, want %d", network, id, network.ChainID())
		}
		backends[id.Int64()] = client
	}

	w, err := NewKeyedEVMWallet(key, backends, defaultNetwork.ChainID())
	if err != nil {
		closeAll()
		return nil, err
	}
	return w, nil
}

func (w *KeyedEVMWallet) Address() common.Address { return w.address }

func (w *KeyedEVMWallet) backend() (EthBackend, int64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.backends[w.current], w.current
}

func (w *KeyedEVMWallet) Accounts(context.Context) ([]common.Address, error) {
	return []common.Address{w.address}, nil
}

func (w *KeyedEVMWallet) ChainID(context.Context) (*big.Int, error) {
	_, id := w.backend()
	return big.NewInt(id), nil
}

func (w *KeyedEVMWallet) SwitchChain(_ context.Context, chainID *big.Int) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.backends[chainID.Int64()]; !ok {
		return fmt.Errorf("%w: no rpc configured for chain %s", ErrUnsupportedChain, chainID)
	}
	w.current = chainID.Int64()
	return nil
}

// SendTransaction signs a legacy EIP-155 transaction and broadcasts it.
func (w *KeyedEVMWallet) SendTransaction(ctx context.Context, tx EVMTransaction) (common.Hash, error) {
	eth, current := w.backend()
	if tx.ChainID != nil && tx.ChainID.Int64() != current {
		return common.Hash{}, fmt.Errorf("%w: wallet on chain %d, transaction for %s", ErrUnsupportedChain, current, tx.ChainID)
	}
	value := tx.Value
	if value == nil {
		value = big.NewInt(0)
	}

	to := tx.To
	gasLimit, err := eth.EstimateGas(ctx, ethereum.CallMsg{From: w.address, To: &to, Value: value, Data: tx.Data})
	if err != nil {
		return common.Hash{}, fmt.Errorf("estimate gas failed: %w", err)
	}

	gasPrice, err := eth.SuggestGasPrice(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("suggest gas price failed: %w", err)
	}

	nonce, err := eth.PendingNonceAt(ctx, w.address)
	if err != nil {
		return common.Hash{}, fmt.Errorf("pending nonce failed: %w", err)
	}

	unsigned := gethtypes.NewTransaction(nonce, to, value, gasLimit, gasPrice, tx.Data)
	signed, err := gethtypes.SignTx(unsigned, gethtypes.LatestSignerForChainID(big.NewInt(current)), w.key)
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign tx failed: %w", err)
	}

	if err := eth.SendTransaction(ctx, signed); err != nil {
		return common.Hash{}, fmt.Errorf("send tx failed: %w", err)
	}
	return signed.Hash(), nil
}

func (w *KeyedEVMWallet) CallContract(ctx context.Context, msg ethereum.CallMsg) ([]byte, error) {
	eth, _ := w.backend()
	return eth.CallContract(ctx, msg, nil)
}

func (w *KeyedEVMWallet) TransactionReceipt(ctx context.Context, hash common.Hash) (*gethtypes.Receipt, error) {
	eth, _ := w.backend()
	return eth.TransactionReceipt(ctx, hash)
}

// Close releases every RPC connection.
func (w *KeyedEVMWallet) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, b := range w.backends {
		b.Close()
	}
}
