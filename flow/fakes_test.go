package flow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/mneepay/checkout/session"
	"github.com/mneepay/checkout/types"
	"github.com/mneepay/checkout/wallet"
)

const (
	evmBuyer   = "0xE4d365a5a8fC0DCEE9E3C5985D7FcBab8B4A0fE1"
	bsvBuyer   = "1BvBMSEYstWetqTFn5Au4m4GFg7xJaNVN2"
	depositEVM = "0x384Aa214be0B279cbf211e9b2C992d8633F77848"
	depositBSV = "1BoatSLRHtKNngkdXEeobR76b53LETtpyT"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock() *clock {
	return &clock{t: time.Date(2026, 10, 16, 12, 0, 0, 0, time.UTC)}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type fakeBackend struct {
	mu    sync.Mutex
	clock *clock

	product  *types.ProductConfig
	fetchErr error

	createReqs []session.CreateSessionRequest
	createErr  error
	// gate, when set, holds CreateSession until closed; started receives
	// one value per call that reached the gate.
	gate    chan struct{}
	started chan struct{}

	completeCalls  []string
	completeErr    error
	completeResult *session.CompleteResult

	statusCalls int
	// confirmOn is the status poll that first reports confirmation; 0 never does.
	confirmOn int
}

func newFakeBackend(c *clock) *fakeBackend {
	return &fakeBackend{clock: c, started: make(chan struct{}, 16)}
}

func (b *fakeBackend) FetchProductConfig(_ context.Context, id string) (*types.ProductConfig, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fetchErr != nil {
		return nil, b.fetchErr
	}
	if b.product == nil || b.product.ID != id {
		return nil, types.NewError(types.ErrNotFound, "checkout button "+id+" not found")
	}
	p := *b.product
	return &p, nil
}

func (b *fakeBackend) CreateSession(ctx context.Context, _ string, req session.CreateSessionRequest) (*types.CheckoutSession, error) {
	b.mu.Lock()
	b.createReqs = append(b.createReqs, req)
	n := len(b.createReqs)
	gate := b.gate
	err := b.createErr
	b.mu.Unlock()

	if gate != nil {
		b.started <- struct{}{}
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return &types.CheckoutSession{
		SessionID:          fmt.Sprintf("ses_%d", n),
		SessionToken:       fmt.Sprintf("tok_%d", n),
		DepositAddress:     depositEVM,
		MneeDepositAddress: depositBSV,
		MneeAmount:         decimal.New(req.AmountCents, -2),
		ExpiresAt:          b.clock.Now().Add(15 * time.Minute),
	}, nil
}

func (b *fakeBackend) CompleteSession(_ context.Context, token, txHash string) (*session.CompleteResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.completeCalls = append(b.completeCalls, token+"|"+txHash)
	if b.completeErr != nil {
		return nil, b.completeErr
	}
	if b.completeResult != nil {
		return b.completeResult, nil
	}
	return &session.CompleteResult{Success: true, Status: "completed"}, nil
}

func (b *fakeBackend) GetTransactionStatus(_ context.Context, txHash string) (*session.TransactionStatus, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.statusCalls++
	if b.statusCalls == 1 {
		return nil, types.NewError(types.ErrNetworkError, "backend returned 503 Service Unavailable")
	}
	if b.confirmOn > 0 && b.statusCalls >= b.confirmOn {
		return &session.TransactionStatus{Found: true, TxHash: txHash, IsConfirmed: true}, nil
	}
	return &session.TransactionStatus{Found: false, TxHash: txHash}, nil
}

func (b *fakeBackend) creates() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.createReqs)
}

func (b *fakeBackend) lastCreate() session.CreateSessionRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.createReqs[len(b.createReqs)-1]
}

func (b *fakeBackend) completes() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.completeCalls...)
}

func (b *fakeBackend) polls() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.statusCalls
}

type fakeWallet struct {
	mu        sync.Mutex
	state     wallet.State
	connErr   error
	transfer  error
	transfers []wallet.TransferRequest
	waitErr   error
	// hold, when set, holds WaitForConfirmation until closed.
	hold      chan struct{}
	// gate, when set, holds Transfer until closed; sending signals each
	// Transfer that reached it.
	gate      chan struct{}
	sending   chan struct{}
	listeners map[int]func(wallet.State)
	next      int
}

func newFakeWallet() *fakeWallet {
	return &fakeWallet{
		state:     wallet.State{Status: wallet.StatusDisconnected},
		listeners: make(map[int]func(wallet.State)),
	}
}

func connectedWallet(kind wallet.Kind) *fakeWallet {
	w := newFakeWallet()
	w.state = walletState(kind)
	return w
}

func walletState(kind wallet.Kind) wallet.State {
	if kind == wallet.KindDirect {
		return wallet.State{Status: wallet.StatusConnected, Kind: kind, Address: bsvBuyer, PublicKeys: []string{"02abc"}}
	}
	return wallet.State{Status: wallet.StatusConnected, Kind: kind, Address: evmBuyer, ChainID: 8453}
}

func (w *fakeWallet) State() wallet.State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

func (w *fakeWallet) Connect(_ context.Context, kind wallet.Kind) (wallet.State, error) {
	w.mu.Lock()
	if w.connErr != nil {
		w.mu.Unlock()
		return wallet.State{}, w.connErr
	}
	w.state = walletState(kind)
	st := w.state
	w.mu.Unlock()
	w.notify(st)
	return st, nil
}

func (w *fakeWallet) Transfer(_ context.Context, req wallet.TransferRequest) (string, error) {
	w.mu.Lock()
	gate := w.gate
	w.mu.Unlock()
	if gate != nil {
		w.sending <- struct{}{}
		<-gate
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.transfer != nil {
		return "", wallet.Classify(w.transfer)
	}
	w.transfers = append(w.transfers, req)
	return fmt.Sprintf("0xtx%d", len(w.transfers)), nil
}

func (w *fakeWallet) WaitForConfirmation(ctx context.Context, txID string) (wallet.Confirmation, error) {
	w.mu.Lock()
	hold, err := w.hold, w.waitErr
	w.mu.Unlock()
	if hold != nil {
		select {
		case <-hold:
		case <-ctx.Done():
			return wallet.Confirmation{}, ctx.Err()
		}
	}
	if err != nil {
		return wallet.Confirmation{TxID: txID}, wallet.Classify(err)
	}
	return wallet.Confirmation{TxID: txID, Confirmed: true}, nil
}

func (w *fakeWallet) OnChange(fn func(wallet.State)) func() {
	w.mu.Lock()
	id := w.next
	w.next++
	w.listeners[id] = fn
	w.mu.Unlock()
	return func() {
		w.mu.Lock()
		delete(w.listeners, id)
		w.mu.Unlock()
	}
}

func (w *fakeWallet) notify(st wallet.State) {
	w.mu.Lock()
	fns := make([]func(wallet.State), 0, len(w.listeners))
	for _, fn := range w.listeners {
		fns = append(fns, fn)
	}
	w.mu.Unlock()
	for _, fn := range fns {
		fn(st)
	}
}

func (w *fakeWallet) sent() []wallet.TransferRequest {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]wallet.TransferRequest(nil), w.transfers...)
}

type callbacks struct {
	mu        sync.Mutex
	successes []types.PaymentResult
	errs      []error
}

func (c *callbacks) onSuccess(_ context.Context, r types.PaymentResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.successes = append(c.successes, r)
	return nil
}

func (c *callbacks) onError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.errs = append(c.errs, err)
}

func (c *callbacks) counts() (int, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.successes), len(c.errs)
}
