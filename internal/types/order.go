// Package types holds the pure value types shared by the matching and
// exchange packages: orders, trades, accounts, and their identity/ordering
// keys.
package types

import (
	"time"

	"github.com/google/uuid"
)

// Side is the side of a book an order rests on. It is never a property
// carried on Order itself — only of the book operation being performed.
type Side int

const (
	Bid Side = iota
	Ask
)

func (s Side) String() string {
	if s == Bid {
		return "bid"
	}
	return "ask"
}

// TimeInForce is the closed set of order disciplines.
type TimeInForce int

const (
	// DAY orders rest on the book until fully filled or cancelled.
	DAY TimeInForce = iota
	// IOC orders fill what they can immediately; any remainder is refunded,
	// never rested.
	IOC
	// FOK orders either fill completely and immediately, or are rejected
	// with no state change.
	FOK
)

func (t TimeInForce) String() string {
	switch t {
	case IOC:
		return "IOC"
	case FOK:
		return "FOK"
	default:
		return "DAY"
	}
}

// OrderStatus is the terminal/intermediate disposition reported back to
// the caller of PlaceOrder.
type OrderStatus int

const (
	Open OrderStatus = iota
	Partial
	Filled
	Cancelled
)

func (s OrderStatus) String() string {
	switch s {
	case Partial:
		return "partial"
	case Filled:
		return "filled"
	case Cancelled:
		return "cancelled"
	default:
		return "open"
	}
}

// Order is a single limit order, resting or in the process of being
// matched. Price and Remaining never go negative; Remaining is
// monotonically non-increasing once the order exists.
type Order struct {
	ID        uuid.UUID
	AccountID uuid.UUID
	Price     float64
	Remaining uint64
	Original  uint64
	CreatedAt time.Time
	// Seq breaks ties between two orders with an identical CreatedAt,
	// preserving insertion order under coarse clocks.
	Seq uint64
	TIF TimeInForce

	// Index is maintained by container/heap; callers must not set it.
	Index int
}

// Filled reports how much of the order has executed so far.
func (o *Order) Filled() uint64 {
	return o.Original - o.Remaining
}
