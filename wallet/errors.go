package wallet

import (
	"context"
	"errors"
	"regexp"
	"strings"
)

// ErrorKind classifies transfer failures
type ErrorKind string

const (
	ErrUserRejected        ErrorKind = "user_rejected"
	ErrInsufficientBalance ErrorKind = "insufficient_balance"
	ErrNetwork             ErrorKind = "network_error"
	ErrContractRejected    ErrorKind = "contract_rejected"
	ErrExecutionFailed     ErrorKind = "execution_failed"
	ErrUnknown             ErrorKind = "unknown"
)

var (
	ErrNotConnected      = errors.New("wallet not connected")
	ErrUnknownProvider   = errors.New("wallet provider not registered")
	ErrConnectSuperseded = errors.New("wallet connection superseded")
	ErrUnsupportedChain  = errors.New("chain not supported by wallet")
)

// TransferError is a provider failure mapped onto the transfer taxonomy.
type TransferError struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *TransferError) Error() string {
	return string(e.Kind) + ": " + e.Message
}

func (e *TransferError) Unwrap() error {
	return e.Cause
}

// Recoverable reports whether the user can retry from the pre-transfer state.
func (e *TransferError) Recoverable() bool {
	return e.Kind == ErrUserRejected || e.Kind == ErrNetwork
}

// Ordered: the first matching rule wins.
var classifyRules = []struct {
	kind    ErrorKind
	needles []string
}{
	{ErrUserRejected, []string{"user rejected", "user denied", "rejected by user", "denied transaction", "cancel"}},
	{ErrInsufficientBalance, []string{"insufficient"}},
	{ErrNetwork, []string{"network", "timeout", "timed out", "fetch", "connection", "econnrefused", "unavailable"}},
	{ErrContractRejected, []string{"revert", "contract"}},
	{ErrExecutionFailed, []string{"execution", "failed on chain", "status 0"}},
}

// rejectionCode matches the EIP-1193 user rejection code as a standalone
// number, never as part of an address, amount or nonce.
var rejectionCode = regexp.MustCompile(`\b4001\b`)

// Classify maps a provider error onto a TransferError by message heuristics.
// Errors already classified are returned unchanged.
func Classify(err error) *TransferError {
	if err == nil {
		return nil
	}

	var te *TransferError
	if errors.As(err, &te) {
		return te
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return &TransferError{Kind: ErrNetwork, Message: err.Error(), Cause: err}
	case errors.Is(err, context.Canceled):
		return &TransferError{Kind: ErrUnknown, Message: err.Error(), Cause: err}
	}

	msg := strings.ToLower(err.Error())
	if rejectionCode.MatchString(msg) {
		return &TransferError{Kind: ErrUserRejected, Message: err.Error(), Cause: err}
	}
	for _, rule := range classifyRules {
		for _, needle := range rule.needles {
			if strings.Contains(msg, needle) {
				return &TransferError{Kind: rule.kind, Message: err.Error(), Cause: err}
			}
		}
	}
	return &TransferError{Kind: ErrUnknown, Message: err.Error(), Cause: err}
}

// IsUserRejected reports whether err classifies as a user rejection.
func IsUserRejected(err error) bool {
	te := Classify(err)
	return te != nil && te.Kind == ErrUserRejected
}
