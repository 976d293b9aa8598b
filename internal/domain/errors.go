package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrLockHeld      = errors.New("lock already held")
	ErrValidation    = errors.New("validation failed")
)

// Rejection kinds. A rejection is an expected business outcome, not a fault.
var (
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrPositionNotFound   = errors.New("position not found")
	ErrMarketResolved     = errors.New("market resolved")
	ErrRiskRejected       = errors.New("risk rejected")
	ErrArbitrageRejected  = errors.New("arbitrage rejected")
	ErrLiquidity          = errors.New("insufficient liquidity")
	ErrChallengeNotActive = errors.New("challenge not active")
)

// ValidationError reports malformed input detected before any I/O.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// Invalid builds a ValidationError for field.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// RejectionError carries a rejection kind and the human-readable reason shown
// to the trader.
type RejectionError struct {
	Kind   error
	Reason string
}

func (e *RejectionError) Error() string { return e.Reason }

func (e *RejectionError) Unwrap() error { return e.Kind }

// Reject builds a RejectionError of the given kind.
func Reject(kind error, reason string) error {
	return &RejectionError{Kind: kind, Reason: reason}
}

// RejectionCode returns a stable machine code for a rejection kind.
func RejectionCode(err error) string {
	switch {
	case errors.Is(err, ErrInsufficientFunds):
		return "INSUFFICIENT_FUNDS"
	case errors.Is(err, ErrPositionNotFound):
		return "POSITION_NOT_FOUND"
	case errors.Is(err, ErrMarketResolved):
		return "MARKET_RESOLVED"
	case errors.Is(err, ErrRiskRejected):
		return "RISK_REJECTED"
	case errors.Is(err, ErrArbitrageRejected):
		return "ARBITRAGE_REJECTED"
	case errors.Is(err, ErrLiquidity):
		return "LIQUIDITY_ERROR"
	case errors.Is(err, ErrChallengeNotActive):
		return "CHALLENGE_NOT_ACTIVE"
	}
	return ""
}
