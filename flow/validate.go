package flow

import (
	"fmt"
	"strings"

	"github.com/mneepay/checkout/pricing"
	"github.com/mneepay/checkout/types"
	"github.com/mneepay/checkout/utils"
)

type contactFields struct {
	Email    string         `json:"email" validate:"omitempty,email"`
	Phone    string         `json:"phone" validate:"omitempty,phone"`
	Shipping *types.Address `json:"shipping" validate:"omitempty"`
}

// ValidateForm checks form against the product's collection rules and
// returns field keyed messages. A nil product only checks formats.
func ValidateForm(product *types.ProductConfig, form FormData) map[string]string {
	contact := contactFields{
		Email: strings.TrimSpace(form.Email),
		Phone: strings.TrimSpace(form.Phone),
	}
	if product != nil && product.RequireShipping {
		contact.Shipping = form.Shipping
	}

	errs := utils.ValidateStruct(&contact)
	if errs == nil {
		errs = make(map[string]string)
	}

	if product == nil {
		return nilIfEmpty(errs)
	}

	if product.RequireEmail && contact.Email == "" {
		errs["email"] = "is required"
	}
	if product.RequirePhone && contact.Phone == "" {
		errs["phone"] = "is required"
	}
	if product.RequireShipping && form.Shipping == nil {
		errs["shipping"] = "is required"
	}

	for _, field := range product.CustomFields {
		if field.Required && !hasSelection(field, form.CustomFields[field.ID]) {
			errs["customFields."+field.ID] = "is required"
		}
	}

	if product.AllowQuantity && form.Quantity != nil {
		switch q := *form.Quantity; {
		case q < 1:
			errs["quantity"] = "must be at least 1"
		case product.MaxQuantity > 0 && q > product.MaxQuantity:
			errs["quantity"] = fmt.Sprintf("must be at most %d", product.MaxQuantity)
		}
	}

	if product.ButtonType == types.ButtonDonation {
		switch d := form.DonationAmount; {
		case d == nil || *d <= 0:
			errs["donationAmount"] = "is required"
		case pricing.ToCents(*d) < product.MinDonationCents:
			errs["donationAmount"] = "must be at least " + pricing.FromCents(product.MinDonationCents).StringFixed(2)
		}
	}

	return nilIfEmpty(errs)
}

func hasSelection(field types.CustomField, v any) bool {
	switch sel := v.(type) {
	case nil:
		return false
	case string:
		return strings.TrimSpace(sel) != ""
	case bool:
		// a required checkbox must be ticked
		return sel || field.Type != types.FieldCheckbox
	}
	return true
}

func nilIfEmpty(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	return m
}
