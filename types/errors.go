package types

import (
	"errors"
	"fmt"
)

// Common error codes
const (
	ErrInvalidInput            = "INVALID_INPUT"
	ErrNotFound                = "NOT_FOUND"
	ErrConfigError             = "CONFIG_ERROR"
	ErrSessionCreationFailed   = "SESSION_CREATION_FAILED"
	ErrSessionCompletionFailed = "SESSION_COMPLETION_FAILED"
	ErrSessionExpired          = "SESSION_EXPIRED"
	ErrNetworkError            = "NETWORK_ERROR"
	ErrPaymentFailed           = "PAYMENT_FAILED"
	ErrWalletNotConnected      = "WALLET_NOT_CONNECTED"
	ErrUnsupportedChain        = "UNSUPPORTED_CHAIN"
	ErrInvalidState            = "INVALID_STATE"
)

var retryable = map[string]bool{
	ErrNetworkError:            true,
	ErrSessionCreationFailed:   true,
	ErrSessionCompletionFailed: true,
	ErrSessionExpired:          true,
}

// CheckoutError is the error type returned across package boundaries
type CheckoutError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`

	cause error
}

func NewError(code, message string) *CheckoutError {
	return &CheckoutError{Code: code, Message: message}
}

// WrapError attaches code and message to an underlying cause.
func WrapError(cause error, code, message string) *CheckoutError {
	return &CheckoutError{Code: code, Message: message, cause: cause}
}

func (e *CheckoutError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *CheckoutError) Unwrap() error {
	return e.cause
}

// WithData returns a copy of the error carrying extra payload.
func (e *CheckoutError) WithData(data any) *CheckoutError {
	cp := *e
	cp.Data = data
	return &cp
}

// Retryable reports whether the same call may succeed when repeated.
func (e *CheckoutError) Retryable() bool {
	return retryable[e.Code]
}

// AsCheckoutError finds the first CheckoutError in err's chain.
func AsCheckoutError(err error) (*CheckoutError, bool) {
	var ce *CheckoutError
	if errors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code string) bool {
	ce, ok := AsCheckoutError(err)
	return ok && ce.Code == code
}
