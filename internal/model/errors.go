package model

import (
	"errors"
	"fmt"
)

// Kind is the closed set of failure discriminants surfaced at the API
// boundary. A Kind is itself an error so callers can test with errors.Is.
type Kind string

const (
	InvalidQuantity    Kind = "InvalidQuantity"
	InvalidSymbol      Kind = "InvalidSymbol"
	QuoteUnavailable   Kind = "QuoteUnavailable"
	UserNotFound       Kind = "UserNotFound"
	InsufficientFunds  Kind = "InsufficientFunds"
	NoSuchHolding      Kind = "NoSuchHolding"
	InsufficientShares Kind = "InsufficientShares"
	PersistenceError   Kind = "PersistenceError"
)

func (k Kind) Error() string { return string(k) }

// Retryable reports whether the caller may retry the same request.
func (k Kind) Retryable() bool {
	return k == PersistenceError || k == QuoteUnavailable
}

// Error carries a Kind plus the operation and underlying cause.
type Error struct {
	Kind   Kind
	Op     string
	Symbol string
	Err    error
}

// NewError builds an *Error.
func NewError(kind Kind, op, symbol string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Symbol: symbol, Err: cause}
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Op, e.Kind)
	if e.Symbol != "" {
		msg = fmt.Sprintf("%s [%s]", msg, e.Symbol)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes both the Kind and the cause to errors.Is/As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// KindOf extracts the Kind from err. Errors without one are reported as
// PersistenceError; nil yields "".
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var k Kind
	if errors.As(err, &k) {
		return k
	}
	return PersistenceError
}
