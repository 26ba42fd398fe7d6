// Package xerrors gives the error taxonomy of spec.md §7 concrete Go
// types. The teacher scatters ad hoc fmt.Errorf strings and occasional
// typed errors across pkg/errors and pkg/matching; here every caller-facing
// rejection carries a stable Code so the boundary layer (internal/api,
// internal/gateway) can map it to a wire status without string matching.
package xerrors

import (
	"errors"
	"fmt"
)

// Class groups codes by retry semantics (spec §7).
type Class string

const (
	ClassInput     Class = "input"     // client fault, non-retriable
	ClassState     Class = "state"     // client fault, sometimes retriable
	ClassEscrow    Class = "escrow"    // client fault, not retriable without funding
	ClassLiquidity Class = "liquidity" // not a failure, a semantic outcome
	ClassTransient Class = "transient" // retriable
	ClassInternal  Class = "internal"  // fatal invariant violation
)

// Code is one taxonomy entry.
type Code string

const (
	CodeInvalidPrice         Code = "INVALID_PRICE"
	CodeInvalidQuantity      Code = "INVALID_QUANTITY"
	CodeUnknownMarket        Code = "UNKNOWN_MARKET"
	CodeUnknownOrder         Code = "UNKNOWN_ORDER"
	CodeMarketNotOpen        Code = "MARKET_NOT_OPEN"
	CodeNotCancellable       Code = "NOT_CANCELLABLE"
	CodeNotOwner             Code = "NOT_OWNER"
	CodeNotFound             Code = "NOT_FOUND"
	CodeInsufficientBalance  Code = "INSUFFICIENT_BALANCE"
	CodeInsufficientShares   Code = "INSUFFICIENT_SHARES"
	CodeInsufficientLiquid   Code = "INSUFFICIENT_LIQUIDITY"
	CodeLedgerConflict       Code = "LEDGER_CONFLICT"
	CodeBusUnavailable       Code = "BUS_UNAVAILABLE"
	CodeInvariantViolation   Code = "INVARIANT_VIOLATION"
)

var classOf = map[Code]Class{
	CodeInvalidPrice:        ClassInput,
	CodeInvalidQuantity:     ClassInput,
	CodeUnknownMarket:       ClassInput,
	CodeUnknownOrder:        ClassInput,
	CodeMarketNotOpen:       ClassState,
	CodeNotCancellable:      ClassState,
	CodeNotOwner:            ClassState,
	CodeNotFound:            ClassState,
	CodeInsufficientBalance: ClassEscrow,
	CodeInsufficientShares:  ClassEscrow,
	CodeInsufficientLiquid:  ClassLiquidity,
	CodeLedgerConflict:      ClassTransient,
	CodeBusUnavailable:      ClassTransient,
	CodeInvariantViolation:  ClassInternal,
}

// Error is the concrete error type returned by every core operation that
// can be rejected. It wraps an optional underlying cause for logging
// without leaking it to callers that only branch on Code.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return string(e.Code)
}

func (e *Error) Unwrap() error { return e.Cause }

// Class reports the retry/severity class of e's code.
func (e *Error) Class() Class { return classOf[e.Code] }

// New builds an Error with no message.
func New(code Code) *Error { return &Error{Code: code} }

// Newf builds an Error with a formatted message.
func Newf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error carrying an underlying cause, used for transient and
// internal errors where the cause matters for operator diagnosis but must
// not be echoed verbatim to the client.
func Wrap(code Code, cause error) *Error {
	return &Error{Code: code, Message: cause.Error(), Cause: cause}
}

// CodeOf extracts the Code from err if it is (or wraps) an *Error, and
// reports ok=false otherwise.
func CodeOf(err error) (Code, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Code, true
	}
	return "", false
}

// Retriable reports whether the caller may safely retry the command that
// produced err.
func Retriable(err error) bool {
	e, ok := err.(*Error)
	if !ok {
		return false
	}
	return e.Class() == ClassTransient
}
