package types

import (
	"time"

	"github.com/shopspring/decimal"
)

// ButtonType selects how a checkout button prices its purchase
type ButtonType string

const (
	ButtonPaywall   ButtonType = "paywall"
	ButtonEcommerce ButtonType = "ecommerce"
	ButtonDonation  ButtonType = "donation"
)

// FieldType is the input kind of a merchant defined custom field
type FieldType string

const (
	FieldText     FieldType = "text"
	FieldNumber   FieldType = "number"
	FieldSelect   FieldType = "select"
	FieldRadio    FieldType = "radio"
	FieldCheckbox FieldType = "checkbox"
)

// FieldOption is one choice of a select or radio field.
type FieldOption struct {
	Label string `json:"label"`
	Value string `json:"value" validate:"required"`

	// Price modifier in cents, added once per unit when this option is chosen.
	PriceModifierCents int64 `json:"priceModifier,omitempty"`
}

// CustomField is one entry of a product's option schema.
type CustomField struct {
	ID       string        `json:"id" validate:"required"`
	Label    string        `json:"label"`
	Type     FieldType     `json:"type" validate:"required,oneof=text number select radio checkbox"`
	Required bool          `json:"required,omitempty"`
	Options  []FieldOption `json:"options,omitempty" validate:"dive"`

	// Price modifier in cents applied when a checkbox field is ticked.
	PriceModifierCents int64 `json:"priceModifier,omitempty"`
}

// ProductConfig is the public pricing and option schema of a checkout button.
type ProductConfig struct {
	ID         string     `json:"id" validate:"required"`
	Name       string     `json:"name"`
	ButtonType ButtonType `json:"buttonType" validate:"omitempty,oneof=paywall ecommerce donation"`
	PriceCents int64      `json:"priceCents" validate:"gte=0"`
	Currency   string     `json:"currency,omitempty"`

	CustomFields []CustomField `json:"customFields,omitempty" validate:"dive"`

	TaxRatePercent             float64 `json:"taxRatePercent,omitempty" validate:"gte=0,lte=100"`
	ShippingCostCents          int64   `json:"shippingCostCents,omitempty" validate:"gte=0"`
	FreeShippingThresholdCents *int64  `json:"freeShippingThresholdCents,omitempty"`

	CollectEmail    bool `json:"collectEmail,omitempty"`
	RequireEmail    bool `json:"requireEmail,omitempty"`
	CollectPhone    bool `json:"collectPhone,omitempty"`
	RequirePhone    bool `json:"requirePhone,omitempty"`
	CollectShipping bool `json:"collectShipping,omitempty"`
	RequireShipping bool `json:"requireShipping,omitempty"`

	AllowQuantity    bool  `json:"allowQuantity,omitempty"`
	MaxQuantity      int   `json:"maxQuantity,omitempty" validate:"gte=0"`
	MinDonationCents int64 `json:"minDonationCents,omitempty" validate:"gte=0"`

	CartEnabled bool `json:"cartEnabled,omitempty"`

	AcceptedNetworks []Network         `json:"acceptedNetworks,omitempty"`
	AcceptedAssets   []SettlementAsset `json:"acceptedAssets,omitempty"`
}

// Accepts reports whether the product settles on the given network and asset.
// An empty accept list means every registered token is allowed.
func (p *ProductConfig) Accepts(network Network, asset SettlementAsset) bool {
	if _, ok := LookupToken(network, asset); !ok {
		return false
	}
	if len(p.AcceptedNetworks) > 0 && !contains(p.AcceptedNetworks, network) {
		return false
	}
	if len(p.AcceptedAssets) > 0 && !contains(p.AcceptedAssets, asset) {
		return false
	}
	return true
}

func contains[T comparable](list []T, v T) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}

// Address is a postal shipping address.
type Address struct {
	Name       string `json:"name" validate:"required"`
	Line1      string `json:"line1" validate:"required"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city" validate:"required"`
	State      string `json:"state" validate:"required"`
	PostalCode string `json:"postalCode" validate:"required"`
	Country    string `json:"country" validate:"required"`
}

// CheckoutSession is issued by the backend once per checkout attempt.
type CheckoutSession struct {
	SessionID          string          `json:"sessionId"`
	SessionToken       string          `json:"sessionToken"`
	DepositAddress     string          `json:"depositAddress,omitempty"`
	MneeDepositAddress string          `json:"mneeDepositAddress,omitempty"`
	MneeAmount         decimal.Decimal `json:"mneeAmount"`
	ExpiresAt          time.Time       `json:"expiresAt"`
}

// IsValid reports whether the session can still be paid at now.
func (s *CheckoutSession) IsValid(now time.Time) bool {
	if s == nil || s.SessionToken == "" {
		return false
	}
	return now.Before(s.ExpiresAt)
}

// PaymentResult is handed to the merchant once a payment completes.
type PaymentResult struct {
	TxHash    string          `json:"txHash"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  SettlementAsset `json:"currency"`
	From      string          `json:"from"`
	To        string          `json:"to"`
	Timestamp time.Time       `json:"timestamp"`
	Network   Network         `json:"network"`
	Metadata  map[string]any  `json:"metadata,omitempty"`
}

// ChainConfig contains connection settings for one EVM network
type ChainConfig struct {
	Network Network       `json:"network"`
	RPCURL  string        `json:"rpcUrl" validate:"required,url"`
	Timeout time.Duration `json:"timeout,omitempty"`
}

// Config contains global configuration for the checkout library
type Config struct {
	APIBase         string                  `json:"apiBase" validate:"required,url"`
	DefaultTimeout  time.Duration           `json:"defaultTimeout,omitempty"`
	PollInterval    time.Duration           `json:"pollInterval,omitempty"`
	MaxPollAttempts int                     `json:"maxPollAttempts,omitempty" validate:"gte=0"`
	LogLevel        string                  `json:"logLevel,omitempty" validate:"omitempty,oneof=debug info warn error"`
	EnableMetrics   bool                    `json:"enableMetrics,omitempty"`
	Chains          map[Network]ChainConfig `json:"chains,omitempty"`
}

const (
	DefaultTimeout         = 30 * time.Second
	DefaultPollInterval    = 3 * time.Second
	DefaultMaxPollAttempts = 200
)

// WithDefaults returns a copy with zero values replaced by defaults.
func (c Config) WithDefaults() Config {
	if c.DefaultTimeout <= 0 {
		c.DefaultTimeout = DefaultTimeout
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.MaxPollAttempts <= 0 {
		c.MaxPollAttempts = DefaultMaxPollAttempts
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	return c
}
