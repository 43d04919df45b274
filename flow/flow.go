// Package flow drives a checkout from form collection through wallet payment
// to confirmed completion.
//
// A Flow owns its own guards: one session creation in flight per instance,
// and at most one completion per transaction hash. Integrators call the
// action methods and observe State snapshots through Subscribe.
package flow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/mneepay/checkout/cart"
	"github.com/mneepay/checkout/logger"
	"github.com/mneepay/checkout/metrics"
	"github.com/mneepay/checkout/pricing"
	"github.com/mneepay/checkout/session"
	"github.com/mneepay/checkout/types"
	"github.com/mneepay/checkout/wallet"
)

// SessionBackend is the subset of *session.Client a flow calls.
type SessionBackend interface {
	FetchProductConfig(ctx context.Context, productID string) (*types.ProductConfig, error)
	CreateSession(ctx context.Context, productID string, req session.CreateSessionRequest) (*types.CheckoutSession, error)
	CompleteSession(ctx context.Context, sessionToken, txHash string) (*session.CompleteResult, error)
	GetTransactionStatus(ctx context.Context, txHash string) (*session.TransactionStatus, error)
}

var _ SessionBackend = (*session.Client)(nil)

// WalletAdapter is the subset of *wallet.Adapter a flow calls.
type WalletAdapter interface {
	State() wallet.State
	Connect(ctx context.Context, kind wallet.Kind) (wallet.State, error)
	Transfer(ctx context.Context, req wallet.TransferRequest) (string, error)
	WaitForConfirmation(ctx context.Context, txID string) (wallet.Confirmation, error)
	OnChange(fn func(wallet.State)) func()
}

var _ WalletAdapter = (*wallet.Adapter)(nil)

// CartSource feeds cart mode checkouts.
type CartSource interface {
	Items() []cart.Item
	Totals() pricing.CartTotals
	SetIdentity(ctx context.Context, id cart.Identity) error
	Clear(ctx context.Context) error
}

var _ CartSource = (*cart.Store)(nil)

// Options configures a Flow.
type Options struct {
	// ProductID is the checkout button. Required unless Product carries it.
	ProductID string
	// Product skips the config fetch on Open when set.
	Product *types.ProductConfig

	// Cart enables cart mode when it holds items at Open.
	Cart CartSource

	PollInterval    time.Duration
	MaxPollAttempts int

	// OnSuccess is awaited before the flow reports completion.
	OnSuccess     func(ctx context.Context, result types.PaymentResult) error
	OnError       func(err error)
	OnStateChange func(State)

	Logger  logger.Logger
	Metrics metrics.Recorder
	Now     func() time.Time
}

// Flow is one checkout instance.
type Flow struct {
	id        string
	productID string
	backend   SessionBackend
	wallet    WalletAdapter
	cart      CartSource

	pollInterval    time.Duration
	maxPollAttempts int
	onSuccess       func(context.Context, types.PaymentResult) error
	onError         func(error)
	onStateChange   func(State)

	logger  logger.Logger
	metrics metrics.Recorder
	now     func() time.Time

	mu         sync.Mutex
	state      State
	closed     bool
	// payAttempt names the payment in flight; Reset advances it so late
	// transfer results of an abandoned attempt are dropped.
	payAttempt uint64

	// creating is the in-flight session creation guard; sessionAttempt
	// invalidates results of creations started before a ClearSession.
	creating       atomic.Bool
	sessionAttempt atomic.Uint64

	processedMu sync.Mutex
	processed   map[string]struct{}

	ctx       context.Context
	cancel    context.CancelFunc
	runMu     sync.Mutex
	runCtx    context.Context
	runCancel context.CancelFunc
	wg        sync.WaitGroup

	listenersMu   sync.Mutex
	listeners     map[int]func(State)
	nextListener  int
	walletUnwatch func()
}

// New builds a flow in the initial step.
func New(backend SessionBackend, w WalletAdapter, opts Options) (*Flow, error) {
	if backend == nil {
		return nil, types.NewError(types.ErrConfigError, "session backend is required")
	}
	if w == nil {
		return nil, types.NewError(types.ErrConfigError, "wallet adapter is required")
	}
	productID := opts.ProductID
	if productID == "" && opts.Product != nil {
		productID = opts.Product.ID
	}
	if productID == "" {
		return nil, types.NewError(types.ErrConfigError, "product id is required")
	}

	f := &Flow{
		id:              uuid.NewString(),
		productID:       productID,
		backend:         backend,
		wallet:          w,
		cart:            opts.Cart,
		pollInterval:    opts.PollInterval,
		maxPollAttempts: opts.MaxPollAttempts,
		onSuccess:       opts.OnSuccess,
		onError:         opts.OnError,
		onStateChange:   opts.OnStateChange,
		logger:          logger.OrNoop(opts.Logger),
		metrics:         metrics.OrNoop(opts.Metrics),
		now:             opts.Now,
		processed:       make(map[string]struct{}),
		listeners:       make(map[int]func(State)),
	}
	if f.pollInterval <= 0 {
		f.pollInterval = types.DefaultPollInterval
	}
	if f.maxPollAttempts <= 0 {
		f.maxPollAttempts = types.DefaultMaxPollAttempts
	}
	if f.now == nil {
		f.now = time.Now
	}

	f.ctx, f.cancel = context.WithCancel(context.Background())
	f.runCtx, f.runCancel = context.WithCancel(f.ctx)

	f.state = State{
		Step:    StepInitial,
		Product: opts.Product,
		Wallet:  w.State(),
	}
	f.walletUnwatch = w.OnChange(f.onWalletChange)
	return f, nil
}

// ID is the instance id used in logs.
func (f *Flow) ID() string { return f.id }

// State returns a snapshot of the current state.
func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state.clone()
}

// Subscribe registers fn for every state change.
func (f *Flow) Subscribe(fn func(State)) func() {
	f.listenersMu.Lock()
	id := f.nextListener
	f.nextListener++
	f.listeners[id] = fn
	f.listenersMu.Unlock()

	return func() {
		f.listenersMu.Lock()
		delete(f.listeners, id)
		f.listenersMu.Unlock()
	}
}

// Open starts the checkout. It loads the product config when needed and
// enters cart mode when the cart has items.
func (f *Flow) Open(ctx context.Context) error {
	f.mu.Lock()
	if f.closed || f.state.Step != StepInitial {
		f.mu.Unlock()
		return nil
	}
	cartMode := f.cart != nil && len(f.cart.Items()) > 0
	needConfig := !cartMode && f.state.Product == nil
	f.mu.Unlock()

	var product *types.ProductConfig
	if needConfig {
		p, err := f.backend.FetchProductConfig(ctx, f.productID)
		if err != nil {
			f.mu.Lock()
			f.setErrorLocked(ErrKeyConfig, err)
			st := f.state.clone()
			f.mu.Unlock()
			f.logger.Error("failed to load product config", map[string]any{
				"flow_id":    f.id,
				"product_id": f.productID,
				"error":      err,
			})
			f.publish(st)
			f.reportError(err)
			return err
		}
		product = p
	}

	f.mu.Lock()
	if f.closed || f.state.Step != StepInitial {
		f.mu.Unlock()
		return nil
	}
	if product != nil {
		f.state.Product = product
	}
	delete(f.state.Errors, ErrKeyConfig)
	f.state.CartMode = cartMode
	if cartMode {
		f.state.Step = StepCart
	} else {
		f.state.Step = StepCollecting
		if f.state.Form.Quantity == nil {
			one := 1
			f.state.Form.Quantity = &one
		}
	}
	f.recomputeLocked()
	st := f.state.clone()
	f.mu.Unlock()

	f.logger.Debug("checkout opened", map[string]any{"flow_id": f.id, "step": st.Step})
	f.publish(st)
	return nil
}

// UpdateForm applies fn to a copy of the form data and recomputes totals.
// Field errors are cleared; reserved errors are kept.
func (f *Flow) UpdateForm(fn func(*FormData)) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	form := f.state.Form.clone()
	fn(&form)
	f.state.Form = form
	for k := range f.state.Errors {
		if !isReservedKey(k) {
			delete(f.state.Errors, k)
		}
	}
	f.recomputeLocked()
	st := f.state.clone()
	f.mu.Unlock()
	f.publish(st)
}

// ProceedToPayment validates the form and leaves collecting or cart. It
// reports false when validation failed; the messages are in State.Errors.
func (f *Flow) ProceedToPayment(ctx context.Context) bool {
	f.mu.Lock()
	if f.closed || (f.state.Step != StepCollecting && f.state.Step != StepCart) {
		f.mu.Unlock()
		return false
	}
	if !f.passValidationLocked() {
		st := f.state.clone()
		f.mu.Unlock()
		f.publish(st)
		return false
	}

	form := f.state.Form
	connected := f.state.Wallet.IsConnected()
	if connected {
		f.state.Step = StepConfirming
	} else {
		f.state.Step = StepConnecting
	}
	st := f.state.clone()
	f.mu.Unlock()

	f.syncCartIdentity(ctx, form, st.Wallet)
	f.publish(st)

	if connected {
		f.afterWalletConnected(ctx)
	}
	return true
}

// passValidationLocked runs the validation gate and records its messages.
func (f *Flow) passValidationLocked() bool {
	product := f.state.Product
	if f.state.CartMode {
		product = nil
	}
	fieldErrs := ValidateForm(product, f.state.Form)

	for k := range f.state.Errors {
		if !isReservedKey(k) {
			delete(f.state.Errors, k)
		}
	}
	if fieldErrs == nil {
		return true
	}
	if f.state.Errors == nil {
		f.state.Errors = make(map[string]string, len(fieldErrs))
	}
	for k, v := range fieldErrs {
		f.state.Errors[k] = v
	}
	return false
}

// ConnectWallet connects the wallet family kind and continues the flow.
func (f *Flow) ConnectWallet(ctx context.Context, kind wallet.Kind) error {
	if f.isClosed() {
		return nil
	}
	_, err := f.wallet.Connect(ctx, kind)
	if errors.Is(err, wallet.ErrConnectSuperseded) {
		return nil
	}
	if err != nil {
		f.mu.Lock()
		f.setErrorLocked(ErrKeyWallet, err)
		st := f.state.clone()
		f.mu.Unlock()
		f.logger.Warn("wallet connection failed", map[string]any{
			"flow_id": f.id,
			"kind":    kind,
			"error":   err,
		})
		f.publish(st)
		return err
	}
	f.WalletConnected(ctx)
	return nil
}

// WalletConnected moves collecting or connecting to confirming once a wallet
// address is present. Safe to call from several observers at once.
func (f *Flow) WalletConnected(ctx context.Context) {
	ws := f.wallet.State()
	if !ws.IsConnected() || ws.Address == "" {
		return
	}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.state.Wallet = ws
	delete(f.state.Errors, ErrKeyWallet)

	switch f.state.Step {
	case StepConnecting:
		f.state.Step = StepConfirming
	case StepCollecting:
		if !f.passValidationLocked() {
			st := f.state.clone()
			f.mu.Unlock()
			f.publish(st)
			return
		}
		f.state.Step = StepConfirming
	case StepConfirming:
	default:
		st := f.state.clone()
		f.mu.Unlock()
		f.publish(st)
		return
	}
	form := f.state.Form
	st := f.state.clone()
	f.mu.Unlock()

	f.syncCartIdentity(ctx, form, ws)
	f.publish(st)
	f.afterWalletConnected(ctx)
}

// afterWalletConnected creates the session straight away for the direct
// family and asks for a token otherwise.
func (f *Flow) afterWalletConnected(ctx context.Context) {
	f.mu.Lock()
	if f.state.Step != StepConfirming {
		f.mu.Unlock()
		return
	}

	if f.state.Wallet.Kind == wallet.KindDirect {
		sel := TokenSelection{Network: types.NetworkBSV, Asset: types.AssetMNEE}
		if f.state.Product != nil && !f.state.CartMode && !f.state.Product.Accepts(sel.Network, sel.Asset) {
			err := types.NewError(types.ErrUnsupportedChain, "this checkout does not accept MNEE on BSV")
			f.setErrorLocked(ErrKeyWallet, err)
			st := f.state.clone()
			f.mu.Unlock()
			f.publish(st)
			f.reportError(err)
			return
		}
		f.state.Token = &sel
		f.state.ShowTokenSelector = false
		st := f.state.clone()
		f.mu.Unlock()
		f.publish(st)
		_ = f.CreateSession(ctx)
		return
	}

	if f.state.Token == nil || !f.state.Session.IsValid(f.now()) {
		f.state.ShowTokenSelector = true
	}
	st := f.state.clone()
	f.mu.Unlock()
	f.publish(st)
}

// SelectToken picks the settlement token for a multi-chain wallet and
// creates the session for it.
func (f *Flow) SelectToken(ctx context.Context, sel TokenSelection) error {
	if _, ok := types.LookupToken(sel.Network, sel.Asset); !ok {
		return types.NewError(types.ErrUnsupportedChain, fmt.Sprintf("%s is not available on %s", sel.Asset, sel.Network))
	}

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return nil
	}
	if f.state.Step != StepConfirming {
		step := f.state.Step
		f.mu.Unlock()
		return types.NewError(types.ErrInvalidState, fmt.Sprintf("cannot select a token in step %s", step))
	}
	if f.state.Product != nil && !f.state.CartMode && !f.state.Product.Accepts(sel.Network, sel.Asset) {
		f.mu.Unlock()
		return types.NewError(types.ErrUnsupportedChain, fmt.Sprintf("%s on %s is not accepted", sel.Asset, sel.Network))
	}
	if sel.Network.IsEVM() != (f.state.Wallet.Kind == wallet.KindEVM) {
		f.mu.Unlock()
		return types.NewError(types.ErrUnsupportedChain, fmt.Sprintf("connected wallet cannot pay on %s", sel.Network))
	}

	changed := f.state.Token == nil || *f.state.Token != sel
	f.state.Token = &sel
	f.state.ShowTokenSelector = false
	if changed && f.state.Session != nil {
		f.clearSessionLocked()
	}
	st := f.state.clone()
	f.mu.Unlock()

	f.publish(st)
	return f.CreateSession(ctx)
}

// TryAgain returns from error to confirming.
func (f *Flow) TryAgain(ctx context.Context) {
	f.mu.Lock()
	if f.closed || f.state.Step != StepError {
		f.mu.Unlock()
		return
	}
	f.state.Step = StepConfirming
	delete(f.state.Errors, ErrKeyPayment)
	delete(f.state.Errors, ErrKeySession)
	f.state.TxHash = ""
	needSession := !f.state.Session.IsValid(f.now())
	st := f.state.clone()
	f.mu.Unlock()

	f.publish(st)
	if needSession {
		f.afterWalletConnected(ctx)
	}
}

// Reset returns to initial. The session, payment result, errors and token
// choice are dropped; the wallet connection and form data are kept.
// Confirmation watchers and polling are cancelled.
func (f *Flow) Reset() {
	f.runMu.Lock()
	f.runCancel()
	f.runCtx, f.runCancel = context.WithCancel(f.ctx)
	f.runMu.Unlock()

	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.clearSessionLocked()
	f.payAttempt++
	f.state = State{
		Step:    StepInitial,
		Product: f.state.Product,
		Form:    f.state.Form,
		Wallet:  f.wallet.State(),
	}
	st := f.state.clone()
	f.mu.Unlock()

	f.logger.Debug("checkout reset", map[string]any{"flow_id": f.id})
	f.publish(st)
}

// Close cancels background work. Further actions are no-ops.
func (f *Flow) Close() {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	f.closed = true
	f.mu.Unlock()

	f.cancel()
	if f.walletUnwatch != nil {
		f.walletUnwatch()
	}
}

// Wait blocks until background confirmation work has stopped.
func (f *Flow) Wait() {
	f.wg.Wait()
}

func (f *Flow) onWalletChange(ws wallet.State) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		return
	}
	prev := f.state.Wallet
	f.state.Wallet = ws
	step := f.state.Step
	st := f.state.clone()
	f.mu.Unlock()

	f.publish(st)

	// a wallet that connects on its own while we wait for it continues the flow
	if ws.IsConnected() && !prev.IsConnected() && step == StepConnecting {
		f.wg.Add(1)
		go func() {
			defer f.wg.Done()
			f.WalletConnected(f.ctx)
		}()
	}
}

func (f *Flow) syncCartIdentity(ctx context.Context, form FormData, ws wallet.State) {
	if f.cart == nil {
		return
	}
	err := f.cart.SetIdentity(ctx, cart.Identity{
		Email:         form.Email,
		Phone:         form.Phone,
		WalletAddress: ws.Address,
		WalletKind:    string(ws.Kind),
	})
	if err != nil {
		f.logger.Warn("failed to persist cart identity", map[string]any{"flow_id": f.id, "error": err})
	}
}

func (f *Flow) recomputeLocked() {
	switch {
	case f.state.CartMode && f.cart != nil:
		f.state.Totals = f.cart.Totals()
	case f.state.Product != nil:
		in := pricing.ProductInputFrom(f.state.Product, f.state.Form.CustomFields, f.state.Form.quantity(), f.state.Form.DonationAmount)
		f.state.Totals = pricing.Product(in)
	default:
		f.state.Totals = pricing.CartTotals{}
	}
}

func (f *Flow) setErrorLocked(key string, err error) {
	if f.state.Errors == nil {
		f.state.Errors = make(map[string]string)
	}
	f.state.Errors[key] = errorMessage(err)
}

// errorMessage prefers the server provided text of a CheckoutError.
func errorMessage(err error) string {
	if ce, ok := types.AsCheckoutError(err); ok && ce.Message != "" {
		return ce.Message
	}
	var te *wallet.TransferError
	if errors.As(err, &te) && te.Message != "" {
		return te.Message
	}
	return err.Error()
}

func (f *Flow) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *Flow) runContext() context.Context {
	f.runMu.Lock()
	defer f.runMu.Unlock()
	return f.runCtx
}

func (f *Flow) publish(st State) {
	f.listenersMu.Lock()
	fns := make([]func(State), 0, len(f.listeners)+1)
	if f.onStateChange != nil {
		fns = append(fns, f.onStateChange)
	}
	for _, fn := range f.listeners {
		fns = append(fns, fn)
	}
	f.listenersMu.Unlock()

	for _, fn := range fns {
		f.safeCall("state listener", func() { fn(st) })
	}
}

func (f *Flow) reportError(err error) {
	if f.onError == nil || err == nil {
		return
	}
	f.safeCall("error callback", func() { f.onError(err) })
}

// safeCall runs integrator code and logs a panic instead of propagating it.
func (f *Flow) safeCall(what string, fn func()) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s panicked: %v", what, r)
			f.logger.Error("integrator callback panicked", map[string]any{
				"flow_id":  f.id,
				"callback": what,
				"panic":    fmt.Sprint(r),
			})
		}
	}()
	fn()
	return nil
}
