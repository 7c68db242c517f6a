package matching

import (
	"time"

	"github.com/google/uuid"

	"github.com/nodalmarket/xchange/internal/types"
)

// opposite returns the side a taker on `side` crosses into.
func opposite(side types.Side) types.Side {
	if side == types.Bid {
		return types.Ask
	}
	return types.Bid
}

// crosses reports whether a taker with the given side/price crosses a
// maker quoted at makerPrice.
func crosses(side types.Side, takerPrice, makerPrice float64) bool {
	if side == types.Bid {
		return takerPrice >= makerPrice
	}
	return takerPrice <= makerPrice
}

// Match crosses taker against the opposite side of book and returns the
// trades produced, in execution order. It never rests the taker — that
// decision belongs to the caller, based on time-in-force. It never touches
// account cash or inventory.
func Match(book *OrderBook, taker *types.Order, side types.Side) []types.Trade {
	var trades []types.Trade
	opp := opposite(side)

	for taker.Remaining > 0 {
		maker := book.PeekBest(opp)
		if maker == nil || !crosses(side, taker.Price, maker.Price) {
			break
		}

		qty := taker.Remaining
		if maker.Remaining < qty {
			qty = maker.Remaining
		}
		price := maker.Price

		trade := types.Trade{
			ID:        uuid.New(),
			Symbol:    book.Symbol,
			Price:     price,
			Quantity:  qty,
			Timestamp: time.Now(),
		}
		if side == types.Bid {
			trade.BuyerID = taker.AccountID
			trade.SellerID = maker.AccountID
			trade.BuyOrderID = taker.ID
			trade.SellOrderID = maker.ID
		} else {
			trade.BuyerID = maker.AccountID
			trade.SellerID = taker.AccountID
			trade.BuyOrderID = maker.ID
			trade.SellOrderID = taker.ID
		}

		taker.Remaining -= qty
		book.ConsumeHead(opp, qty)

		trades = append(trades, trade)
	}

	return trades
}

// MaxCrossable walks the opposite side of book without mutating it and
// returns the largest quantity a taker with the given side/price could
// cross — used by the FOK pre-check, which must determine fillability
// before committing any state change.
func MaxCrossable(book *OrderBook, side types.Side, price float64) uint64 {
	h := book.heapFor(opposite(side))
	var total uint64
	for _, o := range h.orders {
		if crosses(side, price, o.Price) {
			total += o.Remaining
		}
	}
	return total
}
