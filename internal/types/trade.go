package types

import (
	"time"

	"github.com/google/uuid"
)

// Trade is an immutable record of a single execution between a buy order
// and a sell order. Price is always the resting (maker) order's price.
type Trade struct {
	ID          uuid.UUID
	Symbol      string
	Price       float64
	Quantity    uint64
	BuyerID     uuid.UUID
	SellerID    uuid.UUID
	BuyOrderID  uuid.UUID
	SellOrderID uuid.UUID
	Timestamp   time.Time
}
