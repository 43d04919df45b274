package merchant

import (
	"context"
	"fmt"

	"github.com/mneepay/checkout/pricing"
	"github.com/mneepay/checkout/types"
	"github.com/mneepay/checkout/utils"
)

// ProductResolver looks up the merchant's authoritative product config.
type ProductResolver func(ctx context.Context, productID string) (*types.ProductConfig, error)

// TaxShippingFunc overrides a product's tax rate (percent) and shipping
// cost (cents) for a destination.
type TaxShippingFunc func(ctx context.Context, product *types.ProductConfig, to *types.Address) (taxRatePercent float64, shippingCents int64, err error)

type TotalsItem struct {
	ProductID       string         `json:"productId" validate:"required"`
	Quantity        int            `json:"quantity" validate:"gte=1"`
	SelectedOptions map[string]any `json:"selectedOptions,omitempty"`
}

type TotalsRequest struct {
	Items    []TotalsItem   `json:"items" validate:"required,min=1,dive"`
	Shipping *types.Address `json:"shippingAddress,omitempty"`
}

// TotalsCalculator prices a cart from merchant side product data.
type TotalsCalculator struct {
	resolve     ProductResolver
	taxShipping TaxShippingFunc
}

// NewTotalsCalculator builds a calculator. taxShipping may be nil.
func NewTotalsCalculator(resolve ProductResolver, taxShipping TaxShippingFunc) *TotalsCalculator {
	return &TotalsCalculator{resolve: resolve, taxShipping: taxShipping}
}

func (c *TotalsCalculator) Calculate(ctx context.Context, req TotalsRequest) (pricing.CartTotals, error) {
	if c == nil || c.resolve == nil {
		return pricing.CartTotals{}, types.NewError(types.ErrConfigError, "product resolver is required")
	}
	if fields := utils.ValidateStruct(&req); fields != nil {
		return pricing.CartTotals{}, types.NewError(types.ErrInvalidInput, "invalid totals request").WithData(fields)
	}

	lines := make([]pricing.LineInput, 0, len(req.Items))
	for _, item := range req.Items {
		product, err := c.resolve(ctx, item.ProductID)
		if err != nil {
			return pricing.CartTotals{}, fmt.Errorf("resolve product %s: %w", item.ProductID, err)
		}
		if product == nil {
			return pricing.CartTotals{}, types.NewError(types.ErrNotFound, fmt.Sprintf("product %s not found", item.ProductID))
		}

		rate, shippingCents := product.TaxRatePercent, product.ShippingCostCents
		if c.taxShipping != nil {
			if rate, shippingCents, err = c.taxShipping(ctx, product, req.Shipping); err != nil {
				return pricing.CartTotals{}, fmt.Errorf("tax and shipping for %s: %w", item.ProductID, err)
			}
		}

		line := pricing.LineInput{
			ItemID:       item.ProductID,
			BaseAmount:   pricing.FromCents(product.PriceCents).InexactFloat64(),
			OptionsTotal: pricing.OptionsTotal(product.CustomFields, item.SelectedOptions),
			Quantity:     item.Quantity,
			TaxRate:      rate / 100,
			ShippingCost: pricing.FromCents(shippingCents).InexactFloat64(),
		}
		if t := product.FreeShippingThresholdCents; t != nil {
			threshold := pricing.FromCents(*t).InexactFloat64()
			line.FreeShippingThreshold = &threshold
		}
		lines = append(lines, line)
	}
	return pricing.Cart(lines), nil
}
