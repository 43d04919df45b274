package wallet

import (
	"context"
	"fmt"
	"sync"

	"github.com/shopspring/decimal"

	"github.com/mneepay/checkout/logger"
	"github.com/mneepay/checkout/types"
)

// Adapter routes wallet calls to the one active provider.
//
// Only one provider is active at a time. Switching families is an explicit
// disconnect followed by a connect; connection results and external events
// for any provider other than the current target are dropped.
type Adapter struct {
	mu        sync.Mutex
	providers map[Kind]Provider
	active    Provider
	target    Kind
	attempt   uint64
	state     State

	logger logger.Logger

	listenersMu  sync.Mutex
	listeners    map[int]func(State)
	nextListener int
}

type AdapterOption func(*Adapter)

func WithAdapterLogger(l logger.Logger) AdapterOption {
	return func(a *Adapter) { a.logger = logger.OrNoop(l) }
}

func WithProvider(p Provider) AdapterOption {
	return func(a *Adapter) { a.providers[p.Kind()] = p }
}

func NewAdapter(opts ...AdapterOption) *Adapter {
	a := &Adapter{
		providers: make(map[Kind]Provider),
		state:     State{Status: StatusDisconnected},
		logger:    logger.NoopLogger{},
		listeners: make(map[int]func(State)),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Register adds or replaces the provider for its kind.
func (a *Adapter) Register(p Provider) {
	a.mu.Lock()
	a.providers[p.Kind()] = p
	a.mu.Unlock()
}

// Supports reports whether a provider is registered for kind.
func (a *Adapter) Supports(kind Kind) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	_, ok := a.providers[kind]
	return ok
}

func (a *Adapter) State() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.copyStateLocked()
}

// OnChange registers fn for every state change.
func (a *Adapter) OnChange(fn func(State)) func() {
	a.listenersMu.Lock()
	id := a.nextListener
	a.nextListener++
	a.listeners[id] = fn
	a.listenersMu.Unlock()

	return func() {
		a.listenersMu.Lock()
		delete(a.listeners, id)
		a.listenersMu.Unlock()
	}
}

// Connect makes kind the active provider. An active provider of another
// kind is disconnected first.
func (a *Adapter) Connect(ctx context.Context, kind Kind) (State, error) {
	a.mu.Lock()
	p, ok := a.providers[kind]
	if !ok {
		a.mu.Unlock()
		return State{}, fmt.Errorf("%w: %s", ErrUnknownProvider, kind)
	}
	if a.state.Status == StatusConnected && a.state.Kind == kind {
		st := a.copyStateLocked()
		a.mu.Unlock()
		return st, nil
	}

	previous := a.active
	a.attempt++
	attempt := a.attempt
	a.target = kind
	a.active = nil
	a.state = State{Status: StatusConnecting, Kind: kind}
	connecting := a.copyStateLocked()
	a.mu.Unlock()

	if previous != nil && previous.Kind() != kind {
		if err := previous.Disconnect(ctx); err != nil {
			a.logger.Warn("failed to disconnect previous wallet", map[string]any{
				"kind":  previous.Kind(),
				"error": err,
			})
		}
	}
	a.notify(connecting)

	acct, err := p.Connect(ctx)

	a.mu.Lock()
	if a.attempt != attempt || a.target != kind {
		if err == nil && a.active == p && a.state.Status == StatusConnected {
			// an external connect event for the same provider landed first
			st := a.copyStateLocked()
			a.mu.Unlock()
			return st, nil
		}
		a.mu.Unlock()
		a.logger.Debug("dropping superseded wallet connection", map[string]any{"kind": kind})
		if err == nil {
			_ = p.Disconnect(ctx)
		}
		return State{}, ErrConnectSuperseded
	}
	if err != nil {
		a.target = ""
		a.state = State{Status: StatusDisconnected}
		st := a.copyStateLocked()
		a.mu.Unlock()
		a.notify(st)
		return st, fmt.Errorf("connect %s wallet: %w", kind, err)
	}

	a.active = p
	a.state = State{
		Status:     StatusConnected,
		Kind:       kind,
		Address:    acct.Address,
		ChainID:    acct.ChainID,
		PublicKeys: acct.PublicKeys,
	}
	st := a.copyStateLocked()
	a.mu.Unlock()

	a.logger.Info("wallet connected", map[string]any{
		"kind":     kind,
		"address":  acct.Address,
		"chain_id": acct.ChainID,
	})
	a.notify(st)
	return st, nil
}

// Disconnect drops the active provider and any pending connection attempt.
func (a *Adapter) Disconnect(ctx context.Context) error {
	a.mu.Lock()
	active := a.active
	a.attempt++
	a.target = ""
	a.active = nil
	a.state = State{Status: StatusDisconnected}
	st := a.copyStateLocked()
	a.mu.Unlock()

	var err error
	if active != nil {
		err = active.Disconnect(ctx)
	}
	a.notify(st)
	return err
}

// HandleEvent applies an externally observed wallet event. It reports
// whether the event changed the adapter state.
func (a *Adapter) HandleEvent(ev Event) bool {
	a.mu.Lock()

	switch ev.Type {
	case EventConnected:
		// Only the intended target may connect, and only while we wait for it.
		if ev.Kind != a.target || a.state.Status == StatusConnected || ev.Address == "" {
			a.mu.Unlock()
			a.logger.Debug("ignoring stale wallet connect event", map[string]any{"kind": ev.Kind, "target": a.target})
			return false
		}
		p, ok := a.providers[ev.Kind]
		if !ok {
			a.mu.Unlock()
			return false
		}
		a.attempt++
		a.active = p
		a.state = State{
			Status:     StatusConnected,
			Kind:       ev.Kind,
			Address:    ev.Address,
			ChainID:    ev.ChainID,
			PublicKeys: ev.PublicKeys,
		}

	case EventDisconnected:
		if !a.isActiveLocked(ev.Kind) {
			a.mu.Unlock()
			return false
		}
		a.target = ""
		a.active = nil
		a.state = State{Status: StatusDisconnected}

	case EventAccountChanged:
		if !a.isActiveLocked(ev.Kind) {
			a.mu.Unlock()
			return false
		}
		if ev.Address == "" {
			a.target = ""
			a.active = nil
			a.state = State{Status: StatusDisconnected}
		} else {
			if ev.Address == a.state.Address {
				a.mu.Unlock()
				return false
			}
			a.state.Address = ev.Address
			a.state.Balance = nil
		}

	case EventChainChanged:
		if !a.isActiveLocked(ev.Kind) || ev.ChainID == a.state.ChainID {
			a.mu.Unlock()
			return false
		}
		a.state.ChainID = ev.ChainID
		a.state.Balance = nil

	default:
		a.mu.Unlock()
		return false
	}

	st := a.copyStateLocked()
	a.mu.Unlock()
	a.notify(st)
	return true
}

// Transfer submits a payment through the active provider. Failures are
// returned as *TransferError.
func (a *Adapter) Transfer(ctx context.Context, req TransferRequest) (string, error) {
	p, err := a.activeProvider()
	if err != nil {
		return "", err
	}

	txID, err := p.Transfer(ctx, req)
	if err != nil {
		te := Classify(err)
		a.logger.Warn("wallet transfer failed", map[string]any{
			"kind":       p.Kind(),
			"error_kind": te.Kind,
			"error":      err,
		})
		return "", te
	}
	return txID, nil
}

func (a *Adapter) WaitForConfirmation(ctx context.Context, txID string) (Confirmation, error) {
	p, err := a.activeProvider()
	if err != nil {
		return Confirmation{}, err
	}
	conf, err := p.WaitForConfirmation(ctx, txID)
	if err != nil {
		return conf, Classify(err)
	}
	return conf, nil
}

// Balance reads and caches the connected address's balance of token.
func (a *Adapter) Balance(ctx context.Context, token types.TokenInfo) (decimal.Decimal, error) {
	p, err := a.activeProvider()
	if err != nil {
		return decimal.Zero, err
	}
	bal, err := p.Balance(ctx, token)
	if err != nil {
		return decimal.Zero, err
	}

	a.mu.Lock()
	if a.active == p {
		a.state.Balance = &bal
	}
	a.mu.Unlock()
	return bal, nil
}

func (a *Adapter) activeProvider() (Provider, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.active == nil || a.state.Status != StatusConnected {
		return nil, ErrNotConnected
	}
	return a.active, nil
}

func (a *Adapter) isActiveLocked(kind Kind) bool {
	return a.active != nil && a.state.Kind == kind
}

func (a *Adapter) copyStateLocked() State {
	st := a.state
	if st.PublicKeys != nil {
		st.PublicKeys = append([]string(nil), st.PublicKeys...)
	}
	if st.Balance != nil {
		b := *st.Balance
		st.Balance = &b
	}
	return st
}

func (a *Adapter) notify(st State) {
	a.listenersMu.Lock()
	fns := make([]func(State), 0, len(a.listeners))
	for _, fn := range a.listeners {
		fns = append(fns, fn)
	}
	a.listenersMu.Unlock()

	for _, fn := range fns {
		fn(st)
	}
}
