// Package pricing computes option modifiers, line totals and cart totals.
//
// Monetary values are float64 decimal currency units rounded to cents at every
// aggregation step. Lines are rounded first, then the summed cart totals are
// rounded again, which reproduces the amounts historical orders were charged.
package pricing

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"

	"github.com/mneepay/checkout/types"
)

// LineInput describes one cart line for totals computation.
type LineInput struct {
	ItemID       string
	BaseAmount   float64
	OptionsTotal float64
	Quantity     int
	TaxRate      float64
	ShippingCost float64

	// Shipping is waived when the line subtotal reaches this amount.
	FreeShippingThreshold *float64
}

type LineTotals struct {
	ItemID    string  `json:"itemId,omitempty"`
	UnitPrice float64 `json:"unitPrice"`
	Quantity  int     `json:"quantity"`
	Subtotal  float64 `json:"subtotal"`
	Tax       float64 `json:"tax"`
	Shipping  float64 `json:"shipping"`
	Total     float64 `json:"total"`
}

type CartTotals struct {
	Subtotal float64      `json:"subtotal"`
	Tax      float64      `json:"tax"`
	Shipping float64      `json:"shipping"`
	Total    float64      `json:"total"`
	Items    []LineTotals `json:"items"`
}

// Round2 rounds half away from zero to two decimals.
func Round2(x float64) float64 {
	return math.Round(x*100) / 100
}

// Line computes the rounded totals of a single line.
func Line(in LineInput) LineTotals {
	qty := in.Quantity
	if qty < 1 {
		qty = 1
	}

	unit := in.BaseAmount + in.OptionsTotal
	raw := unit * float64(qty)
	subtotal := Round2(raw)
	// tax and the threshold see the unrounded subtotal
	tax := Round2(raw * in.TaxRate)

	shipping := Round2(in.ShippingCost)
	if in.FreeShippingThreshold != nil && raw >= *in.FreeShippingThreshold {
		shipping = 0
	}

	return LineTotals{
		ItemID:    in.ItemID,
		UnitPrice: Round2(unit),
		Quantity:  qty,
		Subtotal:  subtotal,
		Tax:       tax,
		Shipping:  shipping,
		Total:     Round2(subtotal + tax + shipping),
	}
}

// Cart aggregates already rounded lines and rounds the sums again.
func Cart(lines []LineInput) CartTotals {
	out := CartTotals{Items: make([]LineTotals, 0, len(lines))}

	for _, in := range lines {
		lt := Line(in)
		out.Items = append(out.Items, lt)
		out.Subtotal += lt.Subtotal
		out.Tax += lt.Tax
		out.Shipping += lt.Shipping
	}

	out.Subtotal = Round2(out.Subtotal)
	out.Tax = Round2(out.Tax)
	out.Shipping = Round2(out.Shipping)
	out.Total = Round2(out.Subtotal + out.Tax + out.Shipping)
	return out
}

// ProductInput describes a single product checkout priced in cents.
type ProductInput struct {
	PriceCents   int64
	OptionsCents int64
	Quantity     int

	// DonationAmount replaces the product price when set.
	DonationAmount *float64

	TaxRatePercent             float64
	ShippingCostCents          int64
	FreeShippingThresholdCents *int64
}

// Product prices a non-cart checkout. The free shipping threshold is compared
// in cents against the rounded subtotal.
func Product(in ProductInput) CartTotals {
	qty := in.Quantity
	if qty < 1 {
		qty = 1
	}

	unit := float64(in.PriceCents+in.OptionsCents) / 100
	if in.DonationAmount != nil {
		unit = *in.DonationAmount + float64(in.OptionsCents)/100
	}

	subtotal := Round2(unit * float64(qty))
	tax := Round2(subtotal * in.TaxRatePercent / 100)

	shipping := Round2(float64(in.ShippingCostCents) / 100)
	if in.FreeShippingThresholdCents != nil && math.Round(subtotal*100) >= float64(*in.FreeShippingThresholdCents) {
		shipping = 0
	}

	total := Round2(subtotal + tax + shipping)
	return CartTotals{
		Subtotal: subtotal,
		Tax:      tax,
		Shipping: shipping,
		Total:    total,
		Items: []LineTotals{{
			UnitPrice: Round2(unit),
			Quantity:  qty,
			Subtotal:  subtotal,
			Tax:       tax,
			Shipping:  shipping,
			Total:     total,
		}},
	}
}

// ProductInputFrom derives the pricing input of a product checkout.
func ProductInputFrom(cfg *types.ProductConfig, selections map[string]any, quantity int, donation *float64) ProductInput {
	in := ProductInput{
		PriceCents:                 cfg.PriceCents,
		OptionsCents:               OptionsTotalCents(cfg.CustomFields, selections),
		Quantity:                   quantity,
		TaxRatePercent:             cfg.TaxRatePercent,
		ShippingCostCents:          cfg.ShippingCostCents,
		FreeShippingThresholdCents: cfg.FreeShippingThresholdCents,
	}
	if cfg.ButtonType == types.ButtonDonation {
		in.DonationAmount = donation
	}
	if !cfg.AllowQuantity {
		in.Quantity = 1
	}
	return in
}

// ToCents converts a decimal currency amount to integer cents, rounding half up.
func ToCents(amount float64) int64 {
	return decimal.NewFromFloat(amount).Shift(2).Round(0).IntPart()
}

// FromCents converts integer cents to a decimal currency amount.
func FromCents(cents int64) decimal.Decimal {
	return decimal.New(cents, -2)
}

// FormatAmount renders an amount with two decimals.
func FormatAmount(amount float64) string {
	return fmt.Sprintf("%.2f", Round2(amount))
}
