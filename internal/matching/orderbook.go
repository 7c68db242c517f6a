// Package matching implements the per-instrument order book and the pure
// price-time-priority matching algorithm. Nothing in this package touches
// account cash or inventory — that is the Exchange's job.
package matching

import (
	"container/heap"
	"sync"

	"github.com/google/uuid"

	"github.com/nodalmarket/xchange/internal/types"
)

// restingHeap is a container/heap priority queue of resting orders for one
// side of one book, generalizing the teacher's OrderHeap to carry an
// explicit insertion-sequence tiebreak alongside price and timestamp.
type restingHeap struct {
	orders []*types.Order
	side   types.Side
}

func (h restingHeap) Len() int { return len(h.orders) }

func (h restingHeap) Less(i, j int) bool {
	a, b := h.orders[i], h.orders[j]
	if a.Price != b.Price {
		if h.side == types.Bid {
			return a.Price > b.Price
		}
		return a.Price < b.Price
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.Seq < b.Seq
}

func (h restingHeap) Swap(i, j int) {
	h.orders[i], h.orders[j] = h.orders[j], h.orders[i]
	h.orders[i].Index = i
	h.orders[j].Index = j
}

func (h *restingHeap) Push(x interface{}) {
	order := x.(*types.Order)
	order.Index = len(h.orders)
	h.orders = append(h.orders, order)
}

func (h *restingHeap) Pop() interface{} {
	old := h.orders
	n := len(old)
	order := old[n-1]
	old[n-1] = nil
	order.Index = -1
	h.orders = old[:n-1]
	return order
}

func (h *restingHeap) peek() *types.Order {
	if len(h.orders) == 0 {
		return nil
	}
	return h.orders[0]
}

// PriceLevel is one aggregated rung of a book snapshot: no order identity
// is leaked, only the summed resting quantity at that price.
type PriceLevel struct {
	Price    float64
	Quantity uint64
}

// AccountOrder pairs a removed resting order with the side it rested on,
// returned by RemoveAllForAccount.
type AccountOrder struct {
	Order *types.Order
	Side  types.Side
}

// OrderBook is the two-sided resting-order store for a single instrument.
// It does not lock its resting orders: callers (the Exchange) serialize
// access per instrument, exactly as spec.md §5 describes. Its only mutex
// guards the insertion-sequence counter.
type OrderBook struct {
	Symbol string

	bids *restingHeap
	asks *restingHeap

	// byID indexes every resting order by id for O(1)-ish lookup ahead of
	// the O(n) scan RemoveByID still needs to find its heap slot.
	byID map[uuid.UUID]*AccountOrder

	mu  sync.Mutex // guards seq only; heap mutation itself happens under the caller's instrument lock
	seq uint64
}

// NewOrderBook creates an empty book for symbol.
func NewOrderBook(symbol string) *OrderBook {
	bids := &restingHeap{side: types.Bid}
	asks := &restingHeap{side: types.Ask}
	heap.Init(bids)
	heap.Init(asks)
	return &OrderBook{
		Symbol: symbol,
		bids:   bids,
		asks:   asks,
		byID:   make(map[uuid.UUID]*AccountOrder),
	}
}

func (ob *OrderBook) heapFor(side types.Side) *restingHeap {
	if side == types.Bid {
		return ob.bids
	}
	return ob.asks
}

func (ob *OrderBook) nextSeq() uint64 {
	ob.mu.Lock()
	defer ob.mu.Unlock()
	ob.seq++
	return ob.seq
}

// Add appends order to side and re-establishes the heap invariant.
func (ob *OrderBook) Add(order *types.Order, side types.Side) {
	order.Seq = ob.nextSeq()
	heap.Push(ob.heapFor(side), order)
	ob.byID[order.ID] = &AccountOrder{Order: order, Side: side}
}

// PeekBest returns the best (price, then time) resting order on side, or
// nil if that side is empty.
func (ob *OrderBook) PeekBest(side types.Side) *types.Order {
	return ob.heapFor(side).peek()
}

// ConsumeHead decrements the head order's remaining quantity by qty. If
// that exhausts the order, it is removed from the book and returned with
// removed=true; otherwise the (still-resting) order is returned with
// removed=false. Panics if side is empty or qty exceeds the head's
// remaining — both are caller bugs, since the matching engine always
// clamps qty to min(taker.Remaining, maker.Remaining).
func (ob *OrderBook) ConsumeHead(side types.Side, qty uint64) (order *types.Order, removed bool) {
	h := ob.heapFor(side)
	head := h.peek()
	if head == nil {
		panic("matching: ConsumeHead on empty side")
	}
	if qty > head.Remaining {
		panic("matching: ConsumeHead qty exceeds head remaining")
	}
	head.Remaining -= qty
	if head.Remaining == 0 {
		heap.Pop(h)
		delete(ob.byID, head.ID)
		return head, true
	}
	return head, false
}

// OrderByID returns the resting order with the given id on side, without
// removing it, or (nil, false) if it is not resting there.
func (ob *OrderBook) OrderByID(id uuid.UUID, side types.Side) (*types.Order, bool) {
	entry, ok := ob.byID[id]
	if !ok || entry.Side != side {
		return nil, false
	}
	return entry.Order, true
}

// RemoveByID removes and returns the resting order with the given id from
// side, or (nil, false) if it is not resting there.
func (ob *OrderBook) RemoveByID(id uuid.UUID, side types.Side) (*types.Order, bool) {
	entry, ok := ob.byID[id]
	if !ok || entry.Side != side {
		return nil, false
	}
	h := ob.heapFor(side)
	for i, o := range h.orders {
		if o.ID == id {
			heap.Remove(h, i)
			delete(ob.byID, id)
			return entry.Order, true
		}
	}
	return nil, false
}

// RemoveAllForAccount removes every resting order owned by accountID from
// both sides of the book.
func (ob *OrderBook) RemoveAllForAccount(accountID uuid.UUID) []AccountOrder {
	var removed []AccountOrder
	for id, entry := range ob.byID {
		if entry.Order.AccountID != accountID {
			continue
		}
		h := ob.heapFor(entry.Side)
		for i, o := range h.orders {
			if o.ID == id {
				heap.Remove(h, i)
				break
			}
		}
		delete(ob.byID, id)
		removed = append(removed, *entry)
	}
	return removed
}

// AggregateLevels returns the price->quantity ladder for side, for
// snapshot emission. No order identity is leaked.
func (ob *OrderBook) AggregateLevels(side types.Side) []PriceLevel {
	h := ob.heapFor(side)
	byPrice := make(map[float64]uint64, len(h.orders))
	for _, o := range h.orders {
		byPrice[o.Price] += o.Remaining
	}
	levels := make([]PriceLevel, 0, len(byPrice))
	for price, qty := range byPrice {
		levels = append(levels, PriceLevel{Price: price, Quantity: qty})
	}
	sortLevels(levels, side)
	return levels
}

func sortLevels(levels []PriceLevel, side types.Side) {
	for i := 1; i < len(levels); i++ {
		for j := i; j > 0; j-- {
			less := levels[j].Price < levels[j-1].Price
			if side == types.Bid {
				less = levels[j].Price > levels[j-1].Price
			}
			if !less {
				break
			}
			levels[j], levels[j-1] = levels[j-1], levels[j]
		}
	}
}
