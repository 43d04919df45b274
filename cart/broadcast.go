package cart

import (
	"context"
	"sync"
)

// Broadcaster fans cart snapshots out to peer stores sharing a scope.
// Delivery is best effort and unordered beyond last write observed wins.
type Broadcaster interface {
	Publish(ctx context.Context, scope string, snap Snapshot) error
	Subscribe(ctx context.Context, scope string, fn func(Snapshot)) (unsubscribe func(), err error)
}

// LocalHub is an in-process Broadcaster for several stores in one process.
type LocalHub struct {
	mu     sync.RWMutex
	nextID int
	subs   map[string]map[int]func(Snapshot)
}

func NewLocalHub() *LocalHub {
	return &LocalHub{subs: make(map[string]map[int]func(Snapshot))}
}

func (h *LocalHub) Publish(_ context.Context, scope string, snap Snapshot) error {
	h.mu.RLock()
	fns := make([]func(Snapshot), 0, len(h.subs[scope]))
	for _, fn := range h.subs[scope] {
		fns = append(fns, fn)
	}
	h.mu.RUnlock()

	for _, fn := range fns {
		fn(Snapshot{
			Version:   snap.Version,
			Items:     cloneItems(snap.Items),
			ItemCount: snap.ItemCount,
			Subtotal:  snap.Subtotal,
			Identity:  cloneIdentity(snap.Identity),
			UpdatedAt: snap.UpdatedAt,
			Source:    snap.Source,
		})
	}
	return nil
}

func (h *LocalHub) Subscribe(_ context.Context, scope string, fn func(Snapshot)) (func(), error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.subs[scope] == nil {
		h.subs[scope] = make(map[int]func(Snapshot))
	}
	id := h.nextID
	h.nextID++
	h.subs[scope][id] = fn

	return func() {
		h.mu.Lock()
		delete(h.subs[scope], id)
		h.mu.Unlock()
	}, nil
}

func cloneIdentity(id *Identity) *Identity {
	if id == nil {
		return nil
	}
	cp := *id
	return &cp
}
