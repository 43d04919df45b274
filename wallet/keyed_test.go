package wallet

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gethtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mneepay/checkout/types"
)

type fakeBackend struct {
	chainID  int64
	sent     []*gethtypes.Transaction
	closed   bool
	gasErr   error
	estimate ethereum.CallMsg
}

func (b *fakeBackend) ChainID(context.Context) (*big.Int, error) { return big.NewInt(b.chainID), nil }

func (b *fakeBackend) PendingNonceAt(context.Context, common.Address) (uint64, error) {
	return uint64(len(b.sent)), nil
}

func (b *fakeBackend) EstimateGas(_ context.Context, msg ethereum.CallMsg) (uint64, error) {
	b.estimate = msg
	if b.gasErr != nil {
		return 0, b.gasErr
	}
	return 65_000, nil
}

func (b *fakeBackend) SuggestGasPrice(context.Context) (*big.Int, error) { return big.NewInt(1_000_000_000), nil }

func (b *fakeBackend) SendTransaction(_ context.Context, tx *gethtypes.Transaction) error {
	b.sent = append(b.sent, tx)
	return nil
}

func (b *fakeBackend) CallContract(context.Context, ethereum.CallMsg, *big.Int) ([]byte, error) {
	return erc20ABI.Methods["balanceOf"].Outputs.Pack(big.NewInt(5_000_000))
}

func (b *fakeBackend) TransactionReceipt(_ context.Context, hash common.Hash) (*gethtypes.Receipt, error) {
	for _, tx := range b.sent {
		if tx.Hash() == hash {
			return &gethtypes.Receipt{Status: gethtypes.ReceiptStatusSuccessful, BlockNumber: big.NewInt(9), TxHash: hash}, nil
		}
	}
	return nil, ethereum.NotFound
}

func (b *fakeBackend) Close() { b.closed = true }

func TestKeyedEVMWalletSignsTokenTransfer(t *testing.T) {
	ctx := context.Background()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	mainnet := &fakeBackend{chainID: 1}
	base := &fakeBackend{chainID: 8453}
	w, err := NewKeyedEVMWallet(key, map[int64]EthBackend{1: mainnet, 8453: base}, 1)
	require.NoError(t, err)

	a := NewAdapter(WithProvider(NewEVMProvider(w)))
	st, err := a.Connect(ctx, KindEVM)
	require.NoError(t, err)
	assert.Equal(t, crypto.PubkeyToAddress(key.PublicKey).Hex(), st.Address)
	assert.Equal(t, int64(1), st.ChainID)

	token := baseUSDC(t)
	txID, err := a.Transfer(ctx, TransferRequest{To: depositEVM, Amount: decimal.RequireFromString("19.99"), Token: token})
	require.NoError(t, err)

	assert.Empty(t, mainnet.sent)
	require.Len(t, base.sent, 1)
	tx := base.sent[0]
	assert.Equal(t, txID, tx.Hash().Hex())
	assert.Equal(t, common.HexToAddress(token.Address), *tx.To())
	assert.Equal(t, uint64(65_000), tx.Gas())
	assert.Equal(t, w.Address(), base.estimate.From)

	sender, err := gethtypes.Sender(gethtypes.LatestSignerForChainID(big.NewInt(8453)), tx)
	require.NoError(t, err)
	assert.Equal(t, w.Address(), sender)

	to, amount, err := UnpackTransfer(tx.Data())
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress(depositEVM), to)
	assert.Equal(t, "19990000", amount.String())

	conf, err := a.WaitForConfirmation(ctx, txID)
	require.NoError(t, err)
	assert.True(t, conf.Confirmed)
	assert.Equal(t, uint64(9), conf.BlockNumber)

	bal, err := a.Balance(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "5", bal.String())

	w.Close()
	assert.True(t, mainnet.closed)
	assert.True(t, base.closed)
}

func TestKeyedEVMWalletErrors(t *testing.T) {
	ctx := context.Background()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	_, err = NewKeyedEVMWallet(nil, map[int64]EthBackend{1: &fakeBackend{chainID: 1}}, 1)
	assert.Error(t, err)

	_, err = NewKeyedEVMWallet(key, map[int64]EthBackend{1: &fakeBackend{chainID: 1}}, 8453)
	assert.ErrorIs(t, err, ErrUnsupportedChain)

	backend := &fakeBackend{chainID: 1, gasErr: errors.New("execution reverted: transfer amount exceeds balance")}
	w, err := NewKeyedEVMWallet(key, map[int64]EthBackend{1: backend}, 1)
	require.NoError(t, err)

	assert.ErrorIs(t, w.SwitchChain(ctx, big.NewInt(137)), ErrUnsupportedChain)

	a := NewAdapter(WithProvider(NewEVMProvider(w)))
	_, err = a.Connect(ctx, KindEVM)
	require.NoError(t, err)

	usdt, ok := types.LookupToken(types.NetworkEthereum, types.AssetUSDT)
	require.True(t, ok)
	_, err = a.Transfer(ctx, TransferRequest{To: depositEVM, Amount: decimal.NewFromInt(1), Token: usdt})
	var te *TransferError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, ErrContractRejected, te.Kind)
	assert.Empty(t, backend.sent)
}
