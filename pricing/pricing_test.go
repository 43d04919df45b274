package pricing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mneepay/checkout/types"
)

func ptr[T any](v T) *T { return &v }

func sizeSchema() []types.CustomField {
	return []types.CustomField{
		{
			ID:   "size",
			Type: types.FieldSelect,
			Options: []types.FieldOption{
				{Label: "Small", Value: "s"},
				{Label: "Large", Value: "l", PriceModifierCents: 200},
			},
		},
		{
			ID:   "color",
			Type: types.FieldRadio,
			Options: []types.FieldOption{
				{Label: "Gold", Value: "gold", PriceModifierCents: 150},
			},
		},
		{ID: "giftwrap", Type: types.FieldCheckbox, PriceModifierCents: 399},
		{ID: "note", Type: types.FieldText},
	}
}

func TestOptionsTotal(t *testing.T) {
	schema := sizeSchema()

	cases := []struct {
		name string
		sel  map[string]any
		want int64
	}{
		{"nothing selected", map[string]any{}, 0},
		{"priced select", map[string]any{"size": "l"}, 200},
		{"free select", map[string]any{"size": "s"}, 0},
		{"checkbox on", map[string]any{"giftwrap": true}, 399},
		{"checkbox off", map[string]any{"giftwrap": false}, 0},
		{"checkbox string", map[string]any{"giftwrap": "true"}, 399},
		{"everything", map[string]any{"size": "l", "color": "gold", "giftwrap": true, "note": "hi"}, 749},
		{"unknown option value", map[string]any{"size": "xl"}, 0},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, OptionsTotalCents(schema, tc.sel))
			assert.InDelta(t, float64(tc.want)/100, OptionsTotal(schema, tc.sel), 1e-9)
		})
	}
}

func TestOptionsTotalInvariantUnderReorderAndExtraKeys(t *testing.T) {
	schema := sizeSchema()
	sel := map[string]any{"size": "l", "giftwrap": true}
	base := OptionsTotalCents(schema, sel)

	reversed := make([]types.CustomField, len(schema))
	for i, f := range schema {
		reversed[len(schema)-1-i] = f
	}
	assert.Equal(t, base, OptionsTotalCents(reversed, sel))

	withExtra := map[string]any{"size": "l", "giftwrap": true, "unrelated": "x", "another": 42}
	assert.Equal(t, base, OptionsTotalCents(schema, withExtra))
	assert.Equal(t, base, OptionsTotalCents(reversed, withExtra))
}

func TestOptionPrices(t *testing.T) {
	prices := OptionPrices(sizeSchema(), map[string]any{"size": "l", "giftwrap": true, "color": "none"})
	assert.Equal(t, map[string]float64{"size": 2.00, "giftwrap": 3.99}, prices)
}

func TestRound2(t *testing.T) {
	assert.Equal(t, 1.6, Round2(1.5996))
	assert.Equal(t, 0.0, Round2(0.004))
	assert.Equal(t, 52.5, Round2(43.98+3.52+5.00))
}

func TestLineTwoStageRounding(t *testing.T) {
	item := LineInput{BaseAmount: 19.995, Quantity: 1, TaxRate: 0.08}

	line := Line(item)
	assert.InDelta(t, 1.60, line.Tax, 1e-9)

	totals := Cart([]LineInput{item, item})
	assert.InDelta(t, 3.20, totals.Tax, 1e-9)
	require.Len(t, totals.Items, 2)
	assert.InDelta(t, 1.60, totals.Items[0].Tax, 1e-9)
}

func TestLineFreeShippingBoundaryInclusive(t *testing.T) {
	at := Line(LineInput{BaseAmount: 50, Quantity: 1, ShippingCost: 5, FreeShippingThreshold: ptr(50.0)})
	assert.Equal(t, 0.0, at.Shipping)

	below := Line(LineInput{BaseAmount: 49.99, Quantity: 1, ShippingCost: 5, FreeShippingThreshold: ptr(50.0)})
	assert.Equal(t, 5.0, below.Shipping)

	roundsUpToThreshold := Line(LineInput{BaseAmount: 49.996, Quantity: 1, ShippingCost: 5, FreeShippingThreshold: ptr(50.0)})
	assert.Equal(t, 50.0, roundsUpToThreshold.Subtotal)
	assert.Equal(t, 5.0, roundsUpToThreshold.Shipping)
	assert.Equal(t, 55.0, roundsUpToThreshold.Total)

	noThreshold := Line(LineInput{BaseAmount: 500, Quantity: 1, ShippingCost: 5})
	assert.Equal(t, 5.0, noThreshold.Shipping)
}

func TestLineShippingIsFlatPerLine(t *testing.T) {
	line := Line(LineInput{BaseAmount: 10, Quantity: 3, ShippingCost: 4.5})
	assert.Equal(t, 30.0, line.Subtotal)
	assert.Equal(t, 4.5, line.Shipping)
	assert.Equal(t, 34.5, line.Total)
}

func TestCartAggregates(t *testing.T) {
	totals := Cart([]LineInput{
		{ItemID: "a", BaseAmount: 19.99, OptionsTotal: 2, Quantity: 2, TaxRate: 0.08, ShippingCost: 5, FreeShippingThreshold: ptr(50.0)},
		{ItemID: "b", BaseAmount: 30, Quantity: 2, TaxRate: 0.1, ShippingCost: 7, FreeShippingThreshold: ptr(50.0)},
	})

	assert.InDelta(t, 103.98, totals.Subtotal, 1e-9)
	assert.InDelta(t, 9.52, totals.Tax, 1e-9)
	assert.InDelta(t, 5.00, totals.Shipping, 1e-9)
	assert.InDelta(t, 118.50, totals.Total, 1e-9)
	assert.Equal(t, "a", totals.Items[0].ItemID)
}

func TestCartEmpty(t *testing.T) {
	totals := Cart(nil)
	assert.Zero(t, totals.Total)
	assert.Empty(t, totals.Items)
}

func TestProductEcommerceScenario(t *testing.T) {
	totals := Product(ProductInput{
		PriceCents:                 1999,
		OptionsCents:               200,
		Quantity:                   2,
		TaxRatePercent:             8,
		ShippingCostCents:          500,
		FreeShippingThresholdCents: ptr(int64(5000)),
	})

	assert.InDelta(t, 43.98, totals.Subtotal, 1e-9)
	assert.InDelta(t, 5.00, totals.Shipping, 1e-9)
	assert.InDelta(t, 3.52, totals.Tax, 1e-9)
	assert.InDelta(t, 52.50, totals.Total, 1e-9)
	assert.Equal(t, int64(5250), ToCents(totals.Total))
}

func TestProductDonationOverridesPrice(t *testing.T) {
	totals := Product(ProductInput{PriceCents: 100, Quantity: 1, DonationAmount: ptr(25.0)})
	assert.Equal(t, 25.0, totals.Total)
}

func TestProductInputFrom(t *testing.T) {
	cfg := &types.ProductConfig{
		ID:             "btn_1",
		ButtonType:     types.ButtonEcommerce,
		PriceCents:     1999,
		CustomFields:   sizeSchema(),
		TaxRatePercent: 8,
	}

	in := ProductInputFrom(cfg, map[string]any{"size": "l"}, 3, nil)
	assert.Equal(t, int64(200), in.OptionsCents)
	assert.Equal(t, 1, in.Quantity, "quantity ignored unless allowed")

	cfg.AllowQuantity = true
	in = ProductInputFrom(cfg, nil, 3, ptr(10.0))
	assert.Equal(t, 3, in.Quantity)
	assert.Nil(t, in.DonationAmount, "donation only applies to donation buttons")
}

func TestToCents(t *testing.T) {
	assert.Equal(t, int64(5250), ToCents(52.5))
	assert.Equal(t, int64(1999), ToCents(19.99))
	assert.Equal(t, int64(2), ToCents(0.015))
	assert.Equal(t, "19.99", FromCents(1999).String())
	assert.Equal(t, "3.20", FormatAmount(3.2))
}
