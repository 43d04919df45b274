package cart

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mneepay/checkout/types"
	"github.com/mneepay/checkout/utils"
)

var (
	// ErrNotFound is returned by Storage.Load when nothing is stored for a scope.
	ErrNotFound = errors.New("cart snapshot not found")

	// ErrUnsupportedVersion marks a snapshot written by a newer release.
	ErrUnsupportedVersion = errors.New("unsupported cart snapshot version")
)

// Storage persists cart snapshots under a scope key.
type Storage interface {
	Load(ctx context.Context, scope string) (*Snapshot, error)
	Save(ctx context.Context, scope string, snap Snapshot) error
}

// MemoryStorage keeps encoded snapshots in process memory.
type MemoryStorage struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{data: make(map[string][]byte)}
}

func (m *MemoryStorage) Load(_ context.Context, scope string) (*Snapshot, error) {
	m.mu.RLock()
	raw, ok := m.data[scope]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return DecodeSnapshot(raw)
}

func (m *MemoryStorage) Save(_ context.Context, scope string, snap Snapshot) error {
	raw, err := EncodeSnapshot(snap)
	if err != nil {
		return err
	}
	m.mu.Lock()
	m.data[scope] = raw
	m.mu.Unlock()
	return nil
}

// Put stores raw bytes for a scope, bypassing encoding.
func (m *MemoryStorage) Put(scope string, raw []byte) {
	m.mu.Lock()
	m.data[scope] = raw
	m.mu.Unlock()
}

// EncodeSnapshot stamps the current version and encodes the snapshot.
func EncodeSnapshot(snap Snapshot) ([]byte, error) {
	snap.Version = SnapshotVersion
	raw, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("marshal cart snapshot failed: %w", err)
	}
	return raw, nil
}

// DecodeSnapshot decodes any known snapshot version into the current shape.
// Older shapes are migrated and missing fields defaulted; derived counters
// are always recomputed.
func DecodeSnapshot(raw []byte) (*Snapshot, error) {
	var header struct {
		Version int `json:"version"`
	}
	if err := json.Unmarshal(raw, &header); err != nil {
		return nil, fmt.Errorf("unmarshal cart snapshot failed: %w", err)
	}

	var snap *Snapshot
	switch {
	case header.Version > SnapshotVersion:
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, header.Version)
	case header.Version == SnapshotVersion:
		snap = &Snapshot{}
		if err := json.Unmarshal(raw, snap); err != nil {
			return nil, fmt.Errorf("unmarshal cart snapshot failed: %w", err)
		}
	default:
		var err error
		if snap, err = migrateLegacy(raw); err != nil {
			return nil, err
		}
	}

	normalize(snap)
	return snap, nil
}

// legacyItem covers the unversioned (v0) and v1 item shapes.
type legacyItem struct {
	ID                    string              `json:"id"`
	ProductID             string              `json:"productId"`
	ProductExternalID     string              `json:"productExternalId"`
	Name                  string              `json:"name"`
	ProductName           string              `json:"productName"`
	Price                 *float64            `json:"price"`
	BaseAmount            *float64            `json:"baseAmount"`
	Quantity              int                 `json:"quantity"`
	SelectedOptions       map[string]any      `json:"selectedOptions"`
	OptionsTotal          float64             `json:"optionsTotal"`
	CustomFields          []types.CustomField `json:"customFields"`
	TaxRate               float64             `json:"taxRate"`
	ShippingCost          float64             `json:"shippingCost"`
	FreeShippingThreshold *float64            `json:"freeShippingThreshold"`
	AddedAt               json.RawMessage     `json:"addedAt"`
}

type legacySnapshot struct {
	Version       int          `json:"version"`
	Items         []legacyItem `json:"items"`
	Email         string       `json:"email"`
	Phone         string       `json:"phone"`
	WalletAddress string       `json:"walletAddress"`
	Identity      *Identity    `json:"identity"`
}

func migrateLegacy(raw []byte) (*Snapshot, error) {
	var old legacySnapshot
	if err := json.Unmarshal(raw, &old); err != nil {
		return nil, fmt.Errorf("unmarshal legacy cart snapshot failed: %w", err)
	}

	snap := &Snapshot{Items: make([]Item, 0, len(old.Items))}
	for _, li := range old.Items {
		it := Item{
			ID:                    li.ID,
			ProductExternalID:     firstNonEmpty(li.ProductExternalID, li.ProductID),
			ProductName:           firstNonEmpty(li.ProductName, li.Name),
			Quantity:              li.Quantity,
			SelectedOptions:       li.SelectedOptions,
			OptionsTotal:          li.OptionsTotal,
			CustomFields:          li.CustomFields,
			TaxRate:               li.TaxRate,
			ShippingCost:          li.ShippingCost,
			FreeShippingThreshold: li.FreeShippingThreshold,
			AddedAt:               legacyTime(li.AddedAt),
		}
		switch {
		case li.BaseAmount != nil:
			it.BaseAmount = *li.BaseAmount
		case li.Price != nil:
			it.BaseAmount = *li.Price
		}
		snap.Items = append(snap.Items, it)
	}

	snap.Identity = old.Identity
	if snap.Identity == nil && (old.Email != "" || old.Phone != "" || old.WalletAddress != "") {
		snap.Identity = &Identity{Email: old.Email, Phone: old.Phone, WalletAddress: old.WalletAddress}
	}
	return snap, nil
}

func legacyTime(raw json.RawMessage) time.Time {
	if len(raw) == 0 {
		return time.Time{}
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		s = string(raw)
	}
	t, err := utils.ParseFlexibleTime(s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func normalize(snap *Snapshot) {
	items := snap.Items[:0]
	for _, it := range snap.Items {
		if it.ProductExternalID == "" && it.ProductName == "" {
			continue
		}
		if it.ID == "" {
			it.ID = uuid.NewString()
		}
		if it.Quantity < 1 {
			it.Quantity = 1
		}
		items = append(items, it)
	}
	snap.Items = items
	snap.Version = SnapshotVersion
	snap.ItemCount, snap.Subtotal = recompute(snap.Items)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
