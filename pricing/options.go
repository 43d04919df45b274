package pricing

import (
	"fmt"
	"strings"

	"github.com/mneepay/checkout/types"
)

// OptionPricesCents returns the modifier, in cents, contributed by every
// schema field that has a priced selection. Selections for unknown fields
// are ignored.
func OptionPricesCents(schema []types.CustomField, selections map[string]any) map[string]int64 {
	out := make(map[string]int64)
	for _, field := range schema {
		sel, ok := selections[field.ID]
		if !ok || sel == nil {
			continue
		}
		if mod := fieldModifier(field, sel); mod != 0 {
			out[field.ID] = mod
		}
	}
	return out
}

// OptionsTotalCents sums the modifiers of every priced selection.
func OptionsTotalCents(schema []types.CustomField, selections map[string]any) int64 {
	var total int64
	for _, mod := range OptionPricesCents(schema, selections) {
		total += mod
	}
	return total
}

// OptionsTotal is OptionsTotalCents in decimal currency units.
func OptionsTotal(schema []types.CustomField, selections map[string]any) float64 {
	return float64(OptionsTotalCents(schema, selections)) / 100
}

// OptionPrices is OptionPricesCents in decimal currency units.
func OptionPrices(schema []types.CustomField, selections map[string]any) map[string]float64 {
	cents := OptionPricesCents(schema, selections)
	out := make(map[string]float64, len(cents))
	for id, c := range cents {
		out[id] = float64(c) / 100
	}
	return out
}

func fieldModifier(field types.CustomField, sel any) int64 {
	switch field.Type {
	case types.FieldSelect, types.FieldRadio:
		value := selectionString(sel)
		for _, opt := range field.Options {
			if opt.Value == value {
				return opt.PriceModifierCents
			}
		}
	case types.FieldCheckbox:
		if selectionBool(sel) {
			return field.PriceModifierCents
		}
	}
	return 0
}

func selectionString(sel any) string {
	switch v := sel.(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

func selectionBool(sel any) bool {
	switch v := sel.(type) {
	case bool:
		return v
	case string:
		return strings.EqualFold(v, "true") || v == "on"
	default:
		return false
	}
}
