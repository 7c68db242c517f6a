package exchange

import (
	"errors"
	"fmt"
)

// ErrorKind is the closed taxonomy of failures the Exchange can report,
// per spec.md §7.
type ErrorKind int

const (
	UnknownInstrument ErrorKind = iota
	UnknownAccount
	BadInput
	InsufficientFunds
	InsufficientInventory
	FOKUnfillable
	OrderNotFound
)

func (k ErrorKind) String() string {
	switch k {
	case UnknownInstrument:
		return "unknown_instrument"
	case UnknownAccount:
		return "unknown_account"
	case BadInput:
		return "bad_input"
	case InsufficientFunds:
		return "insufficient_funds"
	case InsufficientInventory:
		return "insufficient_inventory"
	case FOKUnfillable:
		return "fok_unfillable"
	case OrderNotFound:
		return "order_not_found"
	default:
		return "unknown"
	}
}

// sentinels let callers errors.Is against a stable kind without parsing
// strings, mirroring the teacher's internal/orders/errors.go pattern.
var (
	errUnknownInstrument     = errors.New("instrument not listed")
	errUnknownAccount        = errors.New("account not registered")
	errBadInput              = errors.New("invalid price or quantity")
	errInsufficientFunds     = errors.New("insufficient funds")
	errInsufficientInventory = errors.New("insufficient inventory")
	errFOKUnfillable         = errors.New("FOK order cannot be fully filled")
	errOrderNotFound         = errors.New("order not found")
)

func sentinelFor(kind ErrorKind) error {
	switch kind {
	case UnknownInstrument:
		return errUnknownInstrument
	case UnknownAccount:
		return errUnknownAccount
	case BadInput:
		return errBadInput
	case InsufficientFunds:
		return errInsufficientFunds
	case InsufficientInventory:
		return errInsufficientInventory
	case FOKUnfillable:
		return errFOKUnfillable
	case OrderNotFound:
		return errOrderNotFound
	default:
		return errors.New("unknown exchange error")
	}
}

// Error is the wrapper returned by every fallible Exchange operation. It
// carries the symbol/order involved for logging and supports errors.Is
// against the Kind's sentinel.
type Error struct {
	Kind    ErrorKind
	Symbol  string
	OrderID string
	err     error
}

func newError(kind ErrorKind, symbol string) *Error {
	return &Error{Kind: kind, Symbol: symbol, err: sentinelFor(kind)}
}

func (e *Error) WithOrderID(id string) *Error {
	e.OrderID = id
	return e
}

func (e *Error) Error() string {
	if e.Symbol == "" {
		return e.err.Error()
	}
	return fmt.Sprintf("%s: %s", e.Symbol, e.err.Error())
}

func (e *Error) Unwrap() error { return e.err }

// Is lets errors.Is(err, ErrOrderNotFound) style checks work against the
// kind sentinels exported below.
func (e *Error) Is(target error) bool {
	return errors.Is(e.err, target)
}

// Exported sentinels for callers that want errors.Is(err, exchange.ErrOrderNotFound).
var (
	ErrUnknownInstrument     = errUnknownInstrument
	ErrUnknownAccount        = errUnknownAccount
	ErrBadInput              = errBadInput
	ErrInsufficientFunds     = errInsufficientFunds
	ErrInsufficientInventory = errInsufficientInventory
	ErrFOKUnfillable         = errFOKUnfillable
	ErrOrderNotFound         = errOrderNotFound
)
