package merchant

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/mneepay/checkout/types"
	"github.com/mneepay/checkout/utils"
)

// SignatureHeader carries the hex HMAC-SHA256 of the raw webhook body.
const SignatureHeader = "X-MneePay-Signature"

// Webhook event types.
const (
	EventPaymentCompleted = "payment.completed"
	EventPaymentConfirmed = "payment.confirmed"
	EventPaymentFailed    = "payment.failed"
	EventSessionExpired   = "session.expired"
)

var ErrInvalidSignature = types.NewError(types.ErrInvalidInput, "invalid webhook signature")

type WebhookEvent struct {
	ID   string      `json:"id" validate:"required"`
	Type string      `json:"type" validate:"required"`
	Data WebhookData `json:"data"`
}

type WebhookData struct {
	SessionID string                `json:"sessionId" validate:"required"`
	OrderID   string                `json:"orderId,omitempty"`
	Status    string                `json:"status,omitempty"`
	TxHash    string                `json:"txHash,omitempty"`
	Amount    decimal.Decimal       `json:"amount"`
	Currency  types.SettlementAsset `json:"currency,omitempty"`
	Chain     types.Network         `json:"chain,omitempty"`
}

// SignPayload returns the hex signature the backend sends for payload.
func SignPayload(payload []byte, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

// VerifyWebhookSignature checks signature against payload in constant time.
// A "sha256=" prefix on the signature is accepted.
func VerifyWebhookSignature(payload []byte, signature, secret string) bool {
	sig := strings.ToLower(strings.TrimPrefix(strings.TrimSpace(signature), "sha256="))
	if sig == "" || secret == "" {
		return false
	}
	expected := SignPayload(payload, secret)
	return hmac.Equal([]byte(expected), []byte(sig))
}

// ParseWebhook verifies then decodes a webhook body.
func ParseWebhook(payload []byte, signature, secret string) (*WebhookEvent, error) {
	if !VerifyWebhookSignature(payload, signature, secret) {
		return nil, ErrInvalidSignature
	}

	var event WebhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, types.WrapError(err, types.ErrInvalidInput, "decode webhook event")
	}
	if fields := utils.ValidateStruct(&event); fields != nil {
		return nil, types.NewError(types.ErrInvalidInput, "invalid webhook event").WithData(fields)
	}
	return &event, nil
}
