// Package swaperr holds the error taxonomy shared by every settlement
// component. Errors are plain values: callers on either chain branch on the
// Kind of an error rather than on its message.
package swaperr

import "errors"

type Kind int

const (
	KindUnknown Kind = iota
	// KindValidation is a malformed order, immutables record or parameter set.
	// Rejected before any state mutation.
	KindValidation
	// KindTiming is recoverable by waiting or by rescue.
	KindTiming
	// KindEconomic is recoverable by resubmitting with corrected parameters.
	KindEconomic
	// KindConcurrency signals a race; re-read state before retrying.
	KindConcurrency
	// KindIntegrity is fatal for the attempt and never retried with the same input.
	KindIntegrity
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindTiming:
		return "timing"
	case KindEconomic:
		return "economic"
	case KindConcurrency:
		return "concurrency"
	case KindIntegrity:
		return "integrity"
	default:
		return "unknown"
	}
}

// Error is a classified sentinel. Context is attached by wrapping with
// fmt.Errorf("%w: ...").
type Error struct {
	Kind Kind
	Code string
}

func (e *Error) Error() string {
	return e.Code
}

func newError(kind Kind, code string) *Error {
	return &Error{Kind: kind, Code: code}
}

var (
	ErrInvalidOrder            = newError(KindValidation, "invalid order")
	ErrInvalidTimelockOrdering = newError(KindValidation, "invalid timelock ordering")
	ErrInvalidImmutables       = newError(KindValidation, "invalid immutables")
	ErrInvalidParams           = newError(KindValidation, "invalid parameters")
	ErrNotFound                = newError(KindValidation, "not found")
	ErrUnauthorized            = newError(KindValidation, "unauthorized caller")
	ErrOverfill                = newError(KindValidation, "fill exceeds remaining amount")
	ErrAmountOverflow          = newError(KindValidation, "amount overflows 256 bits")
	ErrDuplicateOrder          = newError(KindValidation, "duplicate order")
	ErrInvalidAmount           = newError(KindValidation, "invalid amount")

	ErrTooEarly     = newError(KindTiming, "too early")
	ErrTooLate      = newError(KindTiming, "too late")
	ErrExpired      = newError(KindTiming, "auction expired")
	ErrOrderExpired = newError(KindTiming, "order expired")

	ErrInsufficientDeposit = newError(KindEconomic, "insufficient deposit")
	ErrPriceRejected       = newError(KindEconomic, "price rejected")
	ErrOutOfBounds         = newError(KindEconomic, "price out of bounds")
	ErrWorsePrice          = newError(KindEconomic, "price worse than auction curve")
	ErrIncompleteFill      = newError(KindEconomic, "order not fully filled")

	ErrAlreadyCommitted = newError(KindConcurrency, "order already committed")
	ErrDuplicateEscrow  = newError(KindConcurrency, "duplicate escrow")
	ErrAlreadyFinalized = newError(KindConcurrency, "escrow already finalized")
	ErrNotFunded        = newError(KindConcurrency, "escrow not funded")
	ErrInvalidState     = newError(KindConcurrency, "invalid state for operation")
	ErrNoCommitment     = newError(KindConcurrency, "no active commitment")

	ErrHashMismatch = newError(KindIntegrity, "secret does not match hashlock")
)

// KindOf returns the kind of the outermost classified error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Retryable reports whether the same call may succeed later without changing
// its inputs.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindTiming, KindConcurrency:
		return true
	}
	return false
}
