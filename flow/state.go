package flow

import (
	"github.com/mneepay/checkout/pricing"
	"github.com/mneepay/checkout/types"
	"github.com/mneepay/checkout/wallet"
)

// Step is a checkout screen.
type Step string

const (
	StepInitial    Step = "initial"
	StepCollecting Step = "collecting"
	StepCart       Step = "cart"
	StepConnecting Step = "connecting"
	StepConfirming Step = "confirming"
	StepProcessing Step = "processing"
	StepComplete   Step = "complete"
	StepError      Step = "error"

	// StepPending means the payment was submitted and the session completed,
	// but confirmation polling gave up before the backend saw it confirmed.
	StepPending Step = "pending"
)

// Reserved keys of State.Errors. All other keys name form fields.
const (
	ErrKeySession = "session"
	ErrKeyPayment = "payment"
	ErrKeyConfig  = "config"
	ErrKeyWallet  = "wallet"
)

func isReservedKey(k string) bool {
	switch k {
	case ErrKeySession, ErrKeyPayment, ErrKeyConfig, ErrKeyWallet:
		return true
	}
	return false
}

// FormData is what the buyer has entered so far.
type FormData struct {
	CustomFields   map[string]any `json:"customFields,omitempty"`
	Quantity       *int           `json:"quantity,omitempty"`
	DonationAmount *float64       `json:"donationAmount,omitempty"`
	Email          string         `json:"email,omitempty"`
	Phone          string         `json:"phone,omitempty"`
	Shipping       *types.Address `json:"shipping,omitempty"`
}

func (f FormData) clone() FormData {
	out := f
	if f.CustomFields != nil {
		out.CustomFields = make(map[string]any, len(f.CustomFields))
		for k, v := range f.CustomFields {
			out.CustomFields[k] = v
		}
	}
	if f.Quantity != nil {
		q := *f.Quantity
		out.Quantity = &q
	}
	if f.DonationAmount != nil {
		d := *f.DonationAmount
		out.DonationAmount = &d
	}
	if f.Shipping != nil {
		s := *f.Shipping
		out.Shipping = &s
	}
	return out
}

func (f FormData) quantity() int {
	if f.Quantity == nil || *f.Quantity < 1 {
		return 1
	}
	return *f.Quantity
}

// TokenSelection is the settlement token picked for a payment.
type TokenSelection struct {
	Network types.Network         `json:"network"`
	Asset   types.SettlementAsset `json:"asset"`
}

// State is an immutable snapshot of a checkout.
type State struct {
	Step    Step                 `json:"step"`
	Product *types.ProductConfig `json:"product,omitempty"`
	Form    FormData             `json:"form"`
	Totals  pricing.CartTotals   `json:"totals"`

	CartMode bool `json:"cartMode"`

	// Errors holds field keyed validation messages plus the reserved
	// session, payment, config and wallet keys.
	Errors map[string]string `json:"errors,omitempty"`

	Wallet            wallet.State    `json:"wallet"`
	Token             *TokenSelection `json:"token,omitempty"`
	ShowTokenSelector bool            `json:"showTokenSelector"`

	Session         *types.CheckoutSession `json:"session,omitempty"`
	CreatingSession bool                   `json:"creatingSession"`

	TxHash        string               `json:"txHash,omitempty"`
	PaymentResult *types.PaymentResult `json:"paymentResult,omitempty"`
}

func (s State) clone() State {
	out := s
	out.Form = s.Form.clone()
	if s.Totals.Items != nil {
		out.Totals.Items = append([]pricing.LineTotals(nil), s.Totals.Items...)
	}
	if s.Errors != nil {
		out.Errors = make(map[string]string, len(s.Errors))
		for k, v := range s.Errors {
			out.Errors[k] = v
		}
	}
	if s.Wallet.PublicKeys != nil {
		out.Wallet.PublicKeys = append([]string(nil), s.Wallet.PublicKeys...)
	}
	if s.Wallet.Balance != nil {
		b := *s.Wallet.Balance
		out.Wallet.Balance = &b
	}
	if s.Token != nil {
		t := *s.Token
		out.Token = &t
	}
	if s.Session != nil {
		sess := *s.Session
		out.Session = &sess
	}
	if s.PaymentResult != nil {
		pr := *s.PaymentResult
		if pr.Metadata != nil {
			pr.Metadata = make(map[string]any, len(s.PaymentResult.Metadata))
			for k, v := range s.PaymentResult.Metadata {
				pr.Metadata[k] = v
			}
		}
		out.PaymentResult = &pr
	}
	return out
}

// HasErrors reports whether any error is recorded.
func (s State) HasErrors() bool { return len(s.Errors) > 0 }
