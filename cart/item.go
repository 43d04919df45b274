package cart

import (
	"time"

	"github.com/mneepay/checkout/pricing"
	"github.com/mneepay/checkout/types"
)

// Item is one line in a cart.
type Item struct {
	ID                string         `json:"id"`
	ProductExternalID string         `json:"productExternalId"`
	ProductName       string         `json:"productName"`
	BaseAmount        float64        `json:"baseAmount"`
	Quantity          int            `json:"quantity"`
	SelectedOptions   map[string]any `json:"selectedOptions,omitempty"`

	// Sum of option modifiers for one unit, fixed at add time.
	OptionsTotal float64 `json:"optionsTotal"`

	// Schema snapshot taken at add time for display.
	CustomFields []types.CustomField `json:"customFields,omitempty"`

	TaxRate               float64   `json:"taxRate"`
	ShippingCost          float64   `json:"shippingCost"`
	FreeShippingThreshold *float64  `json:"freeShippingThreshold,omitempty"`
	AddedAt               time.Time `json:"addedAt"`
}

func (it Item) lineInput() pricing.LineInput {
	return pricing.LineInput{
		ItemID:                it.ID,
		BaseAmount:            it.BaseAmount,
		OptionsTotal:          it.OptionsTotal,
		Quantity:              it.Quantity,
		TaxRate:               it.TaxRate,
		ShippingCost:          it.ShippingCost,
		FreeShippingThreshold: it.FreeShippingThreshold,
	}
}

// AddItemInput describes a product added to the cart.
type AddItemInput struct {
	ProductExternalID     string              `json:"productExternalId" validate:"required"`
	ProductName           string              `json:"productName" validate:"required"`
	BaseAmount            float64             `json:"baseAmount" validate:"gte=0"`
	Quantity              int                 `json:"quantity" validate:"gte=0"`
	SelectedOptions       map[string]any      `json:"selectedOptions"`
	CustomFields          []types.CustomField `json:"customFields"`
	TaxRate               float64             `json:"taxRate" validate:"gte=0,lte=1"`
	ShippingCost          float64             `json:"shippingCost" validate:"gte=0"`
	FreeShippingThreshold *float64            `json:"freeShippingThreshold" validate:"omitempty,gte=0"`
}

// Identity is the minimal contact and wallet identity persisted with a cart.
type Identity struct {
	Email         string `json:"email,omitempty"`
	Phone         string `json:"phone,omitempty"`
	WalletAddress string `json:"walletAddress,omitempty"`
	WalletKind    string `json:"walletKind,omitempty"`
}

// SnapshotVersion is the persisted schema version written by this package.
const SnapshotVersion = 2

// Snapshot is the full persisted and broadcast state of a cart.
type Snapshot struct {
	Version   int       `json:"version"`
	Items     []Item    `json:"items"`
	ItemCount int       `json:"itemCount"`
	Subtotal  float64   `json:"subtotal"`
	Identity  *Identity `json:"identity,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`

	// Instance id of the writer, used to drop our own broadcasts.
	Source string `json:"source,omitempty"`
}

// recompute derives itemCount and subtotal from scratch.
func recompute(items []Item) (int, float64) {
	count := 0
	subtotal := 0.0
	for _, it := range items {
		count += it.Quantity
		subtotal += (it.BaseAmount + it.OptionsTotal) * float64(it.Quantity)
	}
	return count, pricing.Round2(subtotal)
}

func cloneItems(items []Item) []Item {
	if items == nil {
		return nil
	}
	out := make([]Item, len(items))
	for i, it := range items {
		if it.SelectedOptions != nil {
			opts := make(map[string]any, len(it.SelectedOptions))
			for k, v := range it.SelectedOptions {
				opts[k] = v
			}
			it.SelectedOptions = opts
		}
		if it.CustomFields != nil {
			it.CustomFields = append([]types.CustomField(nil), it.CustomFields...)
		}
		out[i] = it
	}
	return out
}
