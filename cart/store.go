// Package cart holds a multi-item cart that persists every mutation and keeps
// peer stores on the same scope in sync.
package cart

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mneepay/checkout/logger"
	"github.com/mneepay/checkout/pricing"
	"github.com/mneepay/checkout/types"
	"github.com/mneepay/checkout/utils"
)

const DefaultScope = "default"

// Store owns the items of one cart scope.
type Store struct {
	// writeMu orders mutations with their saves and broadcasts; it is
	// taken before mu.
	writeMu   sync.Mutex
	mu        sync.RWMutex
	id        string
	scope     string
	items     []Item
	itemCount int
	subtotal  float64
	identity  *Identity

	storage     Storage
	broadcaster Broadcaster
	logger      logger.Logger
	now         func() time.Time

	listenersMu  sync.Mutex
	listeners    map[int]func(Snapshot)
	nextListener int

	detach func()
}

type Option func(*Store)

func WithScope(scope string) Option {
	return func(s *Store) {
		if scope != "" {
			s.scope = scope
		}
	}
}

func WithStorage(storage Storage) Option {
	return func(s *Store) { s.storage = storage }
}

func WithBroadcaster(b Broadcaster) Option {
	return func(s *Store) { s.broadcaster = b }
}

func WithLogger(l logger.Logger) Option {
	return func(s *Store) { s.logger = logger.OrNoop(l) }
}

func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// NewStore builds an empty store. Call Load to restore persisted state.
func NewStore(opts ...Option) *Store {
	s := &Store{
		id:        uuid.NewString(),
		scope:     DefaultScope,
		storage:   NewMemoryStorage(),
		logger:    logger.NoopLogger{},
		now:       time.Now,
		listeners: make(map[int]func(Snapshot)),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ID is the instance id stamped on this store's broadcasts.
func (s *Store) ID() string { return s.id }

func (s *Store) Scope() string { return s.scope }

// Load restores the persisted snapshot. Missing or unreadable snapshots
// leave the cart empty.
func (s *Store) Load(ctx context.Context) error {
	snap, err := s.storage.Load(ctx, s.scope)
	switch {
	case errors.Is(err, ErrNotFound):
		return nil
	case errors.Is(err, ErrUnsupportedVersion):
		s.logger.Warn("ignoring cart snapshot from newer release", map[string]any{"scope": s.scope, "error": err})
		return nil
	case err != nil:
		return fmt.Errorf("load cart: %w", err)
	}

	s.mu.Lock()
	s.items = snap.Items
	s.itemCount, s.subtotal = recompute(s.items)
	s.identity = snap.Identity
	s.mu.Unlock()
	return nil
}

// Attach starts applying snapshots published by peer stores.
func (s *Store) Attach(ctx context.Context) error {
	if s.broadcaster == nil {
		return nil
	}
	unsubscribe, err := s.broadcaster.Subscribe(ctx, s.scope, func(snap Snapshot) {
		if snap.Source == s.id {
			return
		}
		s.SyncExternal(snap)
	})
	if err != nil {
		return fmt.Errorf("attach cart broadcaster: %w", err)
	}

	s.mu.Lock()
	s.detach = unsubscribe
	s.mu.Unlock()
	return nil
}

// Close detaches from the broadcaster and drops listeners.
func (s *Store) Close() {
	s.mu.Lock()
	detach := s.detach
	s.detach = nil
	s.mu.Unlock()
	if detach != nil {
		detach()
	}

	s.listenersMu.Lock()
	s.listeners = make(map[int]func(Snapshot))
	s.listenersMu.Unlock()
}

// AddItem adds a product line. A line with the same product, identical
// option selections and the same pricing has its quantity increased instead.
func (s *Store) AddItem(ctx context.Context, in AddItemInput) (Item, error) {
	if fields := utils.ValidateStruct(in); fields != nil {
		return Item{}, types.NewError(types.ErrInvalidInput, "invalid cart item").WithData(fields)
	}
	if in.Quantity < 1 {
		in.Quantity = 1
	}
	optionsTotal := pricing.OptionsTotal(in.CustomFields, in.SelectedOptions)

	var added Item
	err := s.update(ctx, func() (bool, error) {
		for i, it := range s.items {
			if mergeable(it, in, optionsTotal) {
				s.items[i].Quantity += in.Quantity
				added = s.items[i]
				return true, nil
			}
		}
		added = Item{
			ID:                    uuid.NewString(),
			ProductExternalID:     in.ProductExternalID,
			ProductName:           in.ProductName,
			BaseAmount:            in.BaseAmount,
			Quantity:              in.Quantity,
			SelectedOptions:       in.SelectedOptions,
			OptionsTotal:          optionsTotal,
			CustomFields:          in.CustomFields,
			TaxRate:               in.TaxRate,
			ShippingCost:          in.ShippingCost,
			FreeShippingThreshold: in.FreeShippingThreshold,
			AddedAt:               s.now().UTC(),
		}
		s.items = append(s.items, added)
		return true, nil
	})
	return added, err
}

func (s *Store) RemoveItem(ctx context.Context, id string) error {
	return s.update(ctx, func() (bool, error) {
		idx := s.indexLocked(id)
		if idx < 0 {
			return false, types.NewError(types.ErrNotFound, fmt.Sprintf("cart item %s not found", id))
		}
		s.items = append(s.items[:idx:idx], s.items[idx+1:]...)
		return true, nil
	})
}

// SetQuantity replaces an item's quantity. Quantities below one are ignored.
func (s *Store) SetQuantity(ctx context.Context, id string, n int) error {
	if n < 1 {
		return nil
	}
	return s.update(ctx, func() (bool, error) {
		idx := s.indexLocked(id)
		if idx < 0 {
			return false, types.NewError(types.ErrNotFound, fmt.Sprintf("cart item %s not found", id))
		}
		if s.items[idx].Quantity == n {
			return false, nil
		}
		s.items[idx].Quantity = n
		return true, nil
	})
}

func (s *Store) Clear(ctx context.Context) error {
	return s.update(ctx, func() (bool, error) {
		s.items = nil
		return true, nil
	})
}

// SetIdentity records the contact and wallet identity persisted with the cart.
func (s *Store) SetIdentity(ctx context.Context, id Identity) error {
	return s.update(ctx, func() (bool, error) {
		if s.identity != nil && *s.identity == id {
			return false, nil
		}
		s.identity = &id
		return true, nil
	})
}

func (s *Store) Identity() *Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneIdentity(s.identity)
}

// SyncExternal absorbs a snapshot written by a peer. It is applied only when
// it differs from the current state and is never re-broadcast or re-persisted.
// It reports whether the snapshot was applied.
func (s *Store) SyncExternal(snap Snapshot) bool {
	s.mu.Lock()
	if sameItems(s.items, snap.Items) && sameIdentity(s.identity, snap.Identity) {
		s.mu.Unlock()
		return false
	}
	s.items = cloneItems(snap.Items)
	s.identity = cloneIdentity(snap.Identity)
	s.itemCount, s.subtotal = recompute(s.items)
	local := s.snapshotLocked()
	s.mu.Unlock()

	s.logger.Debug("applied external cart update", map[string]any{
		"scope":      s.scope,
		"source":     snap.Source,
		"item_count": local.ItemCount,
	})
	s.notify(local)
	return true
}

func (s *Store) Items() []Item {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return cloneItems(s.items)
}

func (s *Store) ItemCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.itemCount
}

func (s *Store) Subtotal() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.subtotal
}

// Totals prices the current items.
func (s *Store) Totals() pricing.CartTotals {
	s.mu.RLock()
	lines := make([]pricing.LineInput, len(s.items))
	for i, it := range s.items {
		lines[i] = it.lineInput()
	}
	s.mu.RUnlock()
	return pricing.Cart(lines)
}

func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snapshotLocked()
}

// Subscribe registers fn for every local or external change.
func (s *Store) Subscribe(fn func(Snapshot)) func() {
	s.listenersMu.Lock()
	id := s.nextListener
	s.nextListener++
	s.listeners[id] = fn
	s.listenersMu.Unlock()

	return func() {
		s.listenersMu.Lock()
		delete(s.listeners, id)
		s.listenersMu.Unlock()
	}
}

func (s *Store) indexLocked(id string) int {
	for i, it := range s.items {
		if it.ID == id {
			return i
		}
	}
	return -1
}

func (s *Store) commitLocked() Snapshot {
	s.itemCount, s.subtotal = recompute(s.items)
	return s.snapshotLocked()
}

func (s *Store) snapshotLocked() Snapshot {
	return Snapshot{
		Version:   SnapshotVersion,
		Items:     cloneItems(s.items),
		ItemCount: s.itemCount,
		Subtotal:  s.subtotal,
		Identity:  cloneIdentity(s.identity),
		UpdatedAt: s.now().UTC(),
		Source:    s.id,
	}
}

// update runs fn under the state lock. When fn reports a change the new
// snapshot is saved and broadcast before the next mutation starts, then
// listeners are notified outside both locks.
func (s *Store) update(ctx context.Context, fn func() (bool, error)) error {
	s.writeMu.Lock()
	s.mu.Lock()
	changed, err := fn()
	if err != nil || !changed {
		s.mu.Unlock()
		s.writeMu.Unlock()
		return err
	}
	snap := s.commitLocked()
	s.mu.Unlock()

	err = s.emit(ctx, snap)
	s.writeMu.Unlock()
	s.notify(snap)
	return err
}

// emit persists and broadcasts. In-memory state is already updated when
// persistence fails.
func (s *Store) emit(ctx context.Context, snap Snapshot) error {
	var errs []error
	if err := s.storage.Save(ctx, s.scope, snap); err != nil {
		s.logger.Error("failed to persist cart", map[string]any{"scope": s.scope, "error": err})
		errs = append(errs, fmt.Errorf("persist cart: %w", err))
	}
	if s.broadcaster != nil {
		if err := s.broadcaster.Publish(ctx, s.scope, snap); err != nil {
			s.logger.Warn("failed to broadcast cart", map[string]any{"scope": s.scope, "error": err})
			errs = append(errs, fmt.Errorf("broadcast cart: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (s *Store) notify(snap Snapshot) {
	s.listenersMu.Lock()
	fns := make([]func(Snapshot), 0, len(s.listeners))
	for _, fn := range s.listeners {
		fns = append(fns, fn)
	}
	s.listenersMu.Unlock()

	for _, fn := range fns {
		fn(snap)
	}
}

// sameItems compares canonical JSON encodings so values that went through a
// JSON round trip compare equal to their originals.
func sameItems(a, b []Item) bool {
	if len(a) != len(b) {
		return false
	}
	if len(a) == 0 {
		return true
	}
	return sameJSON(a, b)
}

// mergeable reports whether in describes the same priced line as it.
func mergeable(it Item, in AddItemInput, optionsTotal float64) bool {
	return it.ProductExternalID == in.ProductExternalID &&
		it.BaseAmount == in.BaseAmount &&
		it.OptionsTotal == optionsTotal &&
		it.TaxRate == in.TaxRate &&
		it.ShippingCost == in.ShippingCost &&
		sameThreshold(it.FreeShippingThreshold, in.FreeShippingThreshold) &&
		sameOptions(it.SelectedOptions, in.SelectedOptions)
}

func sameThreshold(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func sameOptions(a, b map[string]any) bool {
	if len(a) == 0 && len(b) == 0 {
		return true
	}
	return sameJSON(a, b)
}

func sameIdentity(a, b *Identity) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func sameJSON(a, b any) bool {
	ra, errA := json.Marshal(a)
	rb, errB := json.Marshal(b)
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(ra, rb)
}
