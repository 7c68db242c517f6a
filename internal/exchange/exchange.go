// Package exchange is the account/escrow ledger and dispatcher that sits
// above the matching package: it owns accounts, per-instrument books,
// locks, escrow, settlement, time-in-force policy, and the trade callback.
package exchange

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/nodalmarket/xchange/internal/matching"
	"github.com/nodalmarket/xchange/internal/types"
)

// Stats is a supplemental read-only snapshot of a single instrument,
// grounded in BerkZerker/Market-Sim's Exchange.get_exchange_stats.
type Stats struct {
	Symbol       string
	CurrentPrice *float64
	BestBid      *float64
	BestAsk      *float64
	TotalBids    int
	TotalAsks    int
}

// Exchange is the core's single process-wide state holder. It is
// explicitly constructed and injected by the caller, never discovered via
// ambient lookup.
type Exchange struct {
	// structural guards the instrument/account maps themselves (adding an
	// instrument or registering an account), never order-mutation state.
	structural sync.RWMutex

	books     map[string]*matching.OrderBook
	lastPrice map[string]float64
	locks     map[string]*sync.RWMutex
	accounts  map[uuid.UUID]*types.Account

	sink    EventSink
	logger  *zap.Logger
	metrics *Metrics
}

// New creates an Exchange with no instruments or accounts registered yet.
// sink may be nil, in which case trade events are silently discarded.
func New(sink EventSink, logger *zap.Logger, metrics *Metrics) *Exchange {
	if sink == nil {
		sink = NoopSink{}
	}
	return &Exchange{
		books:     make(map[string]*matching.OrderBook),
		lastPrice: make(map[string]float64),
		locks:     make(map[string]*sync.RWMutex),
		accounts:  make(map[uuid.UUID]*types.Account),
		sink:      sink,
		logger:    logger,
		metrics:   metrics,
	}
}

// AddInstrument registers symbol with a fresh, empty book. Idempotent: a
// second call for an already-listed symbol is a no-op (the seed price is
// not re-applied). initialPrice, if non-nil, seeds the last-trade price.
func (ex *Exchange) AddInstrument(symbol string, initialPrice *float64) {
	ex.structural.Lock()
	defer ex.structural.Unlock()

	if _, exists := ex.books[symbol]; exists {
		return
	}
	ex.books[symbol] = matching.NewOrderBook(symbol)
	ex.locks[symbol] = &sync.RWMutex{}
	if initialPrice != nil {
		ex.lastPrice[symbol] = *initialPrice
	}
	ex.logger.Info("instrument listed", zap.String("symbol", symbol))
}

// RegisterAccount inserts account into the account map. Returns an error
// if the id is already registered.
func (ex *Exchange) RegisterAccount(account *types.Account) error {
	ex.structural.Lock()
	defer ex.structural.Unlock()

	if _, exists := ex.accounts[account.ID]; exists {
		return newError(BadInput, "").WithOrderID(account.ID.String())
	}
	ex.accounts[account.ID] = account
	return nil
}

// GetAccount returns the account with id, or (nil, false).
func (ex *Exchange) GetAccount(id uuid.UUID) (*types.Account, bool) {
	ex.structural.RLock()
	defer ex.structural.RUnlock()
	a, ok := ex.accounts[id]
	return a, ok
}

func (ex *Exchange) lockFor(symbol string) (*sync.RWMutex, *matching.OrderBook, bool) {
	ex.structural.RLock()
	defer ex.structural.RUnlock()
	lock, ok := ex.locks[symbol]
	if !ok {
		return nil, nil, false
	}
	return lock, ex.books[symbol], true
}

// GetLastPrice returns the last traded price for symbol. If no trade has
// happened yet and both sides of the book are populated, it falls back to
// the midpoint of top-of-book; otherwise it reports no price.
func (ex *Exchange) GetLastPrice(symbol string) (float64, bool) {
	lock, book, ok := ex.lockFor(symbol)
	if !ok {
		return 0, false
	}
	lock.RLock()
	defer lock.RUnlock()
	return ex.lastPriceLocked(symbol, book)
}

// lastPriceLocked is GetLastPrice's body without its own lock acquisition.
// Callers must already hold the symbol's instrument lock (for at least
// reading) — sync.RWMutex forbids recursive RLock from one goroutine, so
// any caller that already holds the lock must call this directly instead
// of going through GetLastPrice.
func (ex *Exchange) lastPriceLocked(symbol string, book *matching.OrderBook) (float64, bool) {
	ex.structural.RLock()
	price, hasTrade := ex.lastPrice[symbol]
	ex.structural.RUnlock()
	if hasTrade {
		return price, true
	}

	bid := book.PeekBest(types.Bid)
	ask := book.PeekBest(types.Ask)
	if bid != nil && ask != nil {
		return (bid.Price + ask.Price) / 2.0, true
	}
	return 0, false
}

// GetBestBidAsk returns the best resting bid and ask prices for symbol.
// Either may be absent if that side of the book is empty.
func (ex *Exchange) GetBestBidAsk(symbol string) (bestBid, bestAsk *float64, err error) {
	lock, book, ok := ex.lockFor(symbol)
	if !ok {
		return nil, nil, newError(UnknownInstrument, symbol)
	}
	lock.RLock()
	defer lock.RUnlock()

	if bid := book.PeekBest(types.Bid); bid != nil {
		p := bid.Price
		bestBid = &p
	}
	if ask := book.PeekBest(types.Ask); ask != nil {
		p := ask.Price
		bestAsk = &p
	}
	return bestBid, bestAsk, nil
}

// SnapshotBook returns the aggregated price ladder for both sides of symbol.
func (ex *Exchange) SnapshotBook(symbol string) (bids, asks []matching.PriceLevel, err error) {
	lock, book, ok := ex.lockFor(symbol)
	if !ok {
		return nil, nil, newError(UnknownInstrument, symbol)
	}
	lock.RLock()
	defer lock.RUnlock()
	return book.AggregateLevels(types.Bid), book.AggregateLevels(types.Ask), nil
}

// Stats returns the BerkZerker/Market-Sim-style summary for symbol.
func (ex *Exchange) Stats(symbol string) (*Stats, error) {
	lock, book, ok := ex.lockFor(symbol)
	if !ok {
		return nil, newError(UnknownInstrument, symbol)
	}
	lock.RLock()
	defer lock.RUnlock()

	stats := &Stats{Symbol: symbol}
	if bid := book.PeekBest(types.Bid); bid != nil {
		p := bid.Price
		stats.BestBid = &p
	}
	if ask := book.PeekBest(types.Ask); ask != nil {
		p := ask.Price
		stats.BestAsk = &p
	}
	stats.TotalBids = len(book.AggregateLevels(types.Bid))
	stats.TotalAsks = len(book.AggregateLevels(types.Ask))
	if price, ok := ex.lastPriceLocked(symbol, book); ok {
		stats.CurrentPrice = &price
	}
	return stats, nil
}

// Instruments returns every listed symbol.
func (ex *Exchange) Instruments() []string {
	ex.structural.RLock()
	defer ex.structural.RUnlock()
	out := make([]string, 0, len(ex.books))
	for symbol := range ex.books {
		out = append(out, symbol)
	}
	return out
}

// refundEscrow reverses the cash/inventory debit made when order was
// first placed, for non-liquidity-provider accounts. side is the side the
// order rests/rested on; qty is the quantity being refunded.
func refundEscrow(account *types.Account, symbol string, side types.Side, price float64, qty uint64) {
	if account.IsLiquidityProvider || qty == 0 {
		return
	}
	if side == types.Bid {
		account.Cash += price * float64(qty)
	} else {
		account.Inventory[symbol] += qty
	}
}

// debitEscrow attempts the pre-trade escrow debit for a new order. On
// success it mutates account and returns nil; on failure it leaves account
// untouched and returns the error to fail with.
func debitEscrow(account *types.Account, symbol string, side types.Side, price float64, qty uint64) error {
	if account.IsLiquidityProvider {
		return nil
	}
	if side == types.Bid {
		required := price * float64(qty)
		if account.Cash < required {
			return newError(InsufficientFunds, symbol)
		}
		account.Cash -= required
		return nil
	}
	if account.Inventory[symbol] < qty {
		return newError(InsufficientInventory, symbol)
	}
	account.Inventory[symbol] -= qty
	return nil
}

// PlaceOrder validates, escrows, matches, settles, and — for DAY orders
// with a remainder — rests order. Returns the trades produced and the
// order's terminal (or resting) status. On any pre-match validation
// failure or FOK rejection, the Exchange's visible state is unchanged.
func (ex *Exchange) PlaceOrder(symbol string, order *types.Order, side types.Side) ([]types.Trade, types.OrderStatus, error) {
	start := time.Now()

	lock, book, ok := ex.lockFor(symbol)
	if !ok {
		ex.reject(symbol, "unknown_instrument")
		return nil, types.Cancelled, newError(UnknownInstrument, symbol)
	}

	account, ok := ex.GetAccount(order.AccountID)
	if !ok {
		ex.reject(symbol, "unknown_account")
		return nil, types.Cancelled, newError(UnknownAccount, symbol).WithOrderID(order.ID.String())
	}

	if order.Price <= 0 || order.Remaining == 0 {
		ex.reject(symbol, "bad_input")
		return nil, types.Cancelled, newError(BadInput, symbol).WithOrderID(order.ID.String())
	}

	lock.Lock()

	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now()
	}
	order.Original = order.Remaining
	originalQty := order.Original

	if err := debitEscrow(account, symbol, side, order.Price, originalQty); err != nil {
		lock.Unlock()
		ex.reject(symbol, err.(*Error).Kind.String())
		return nil, types.Cancelled, err
	}

	if order.TIF == types.FOK {
		maxCrossable := matching.MaxCrossable(book, side, order.Price)
		if maxCrossable < order.Remaining {
			refundEscrow(account, symbol, side, order.Price, originalQty)
			lock.Unlock()
			ex.reject(symbol, "fok_unfillable")
			return nil, types.Cancelled, newError(FOKUnfillable, symbol).WithOrderID(order.ID.String())
		}
	}

	trades := matching.Match(book, order, side)

	ex.settle(symbol, trades)

	if len(trades) > 0 {
		ex.structural.Lock()
		ex.lastPrice[symbol] = trades[len(trades)-1].Price
		ex.structural.Unlock()
	}

	filledQty := originalQty - order.Remaining
	status := ex.disposition(book, order, side, account, symbol, order.TIF, originalQty, filledQty, trades)

	if ex.metrics != nil {
		ex.metrics.ordersPlaced.WithLabelValues(symbol, side.String(), order.TIF.String()).Inc()
		ex.metrics.tradesExecuted.WithLabelValues(symbol).Add(float64(len(trades)))
		ex.metrics.matchLatency.WithLabelValues(symbol).Observe(time.Since(start).Seconds())
	}

	lock.Unlock()

	if len(trades) > 0 {
		ex.sink.OnTrades(symbol, trades)
	}

	return trades, status, nil
}

// settle credits counterparties from trades, skipping credits to
// liquidity-provider accounts (they are ledger-neutral by design). The
// taker itself is never debited here — its escrow was already taken at
// order time, at the taker's own price.
func (ex *Exchange) settle(symbol string, trades []types.Trade) {
	for _, t := range trades {
		if buyer, ok := ex.GetAccount(t.BuyerID); ok && !buyer.IsLiquidityProvider {
			buyer.Inventory[symbol] += t.Quantity
		}
		if seller, ok := ex.GetAccount(t.SellerID); ok && !seller.IsLiquidityProvider {
			seller.Cash += t.Price * float64(t.Quantity)
		}
	}
}

// disposition applies the time-in-force terminal handling (rest, refund,
// or cancel) and returns the status to report. Must run under the
// instrument lock.
func (ex *Exchange) disposition(
	book *matching.OrderBook,
	order *types.Order,
	side types.Side,
	account *types.Account,
	symbol string,
	tif types.TimeInForce,
	originalQty, filledQty uint64,
	trades []types.Trade,
) types.OrderStatus {
	switch tif {
	case types.DAY:
		if order.Remaining > 0 {
			book.Add(order, side)
			if filledQty > 0 {
				return types.Partial
			}
			return types.Open
		}
		ex.refundPriceImprovement(account, side, order.Price, originalQty, trades)
		return types.Filled

	case types.IOC:
		if order.Remaining > 0 {
			refundEscrow(account, symbol, side, order.Price, order.Remaining)
		}
		if filledQty == 0 {
			return types.Cancelled
		}
		return types.Filled

	case types.FOK:
		// The pre-check guarantees order.Remaining == 0 here.
		ex.refundPriceImprovement(account, side, order.Price, originalQty, trades)
		return types.Filled
	}

	return types.Cancelled
}

// refundPriceImprovement returns the difference between what a fully
// filled bid escrowed (at its own limit price) and what it actually paid
// across its trades (at maker prices, which may be lower). Asks have no
// analogous refund: their escrow is inventory, consumed exactly at the
// quantities traded.
func (ex *Exchange) refundPriceImprovement(account *types.Account, side types.Side, price float64, originalQty uint64, trades []types.Trade) {
	if account.IsLiquidityProvider || side != types.Bid {
		return
	}
	var paid float64
	for _, t := range trades {
		paid += t.Price * float64(t.Quantity)
	}
	refund := price*float64(originalQty) - paid
	if refund > 0 {
		account.Cash += refund
	}
}

func (ex *Exchange) reject(symbol, reason string) {
	if ex.metrics != nil {
		ex.metrics.ordersRejected.WithLabelValues(symbol, reason).Inc()
	}
}

// CancelOrder removes orderID from side of symbol's book and refunds its
// escrow to its true owner. Returns the refunded (remaining) quantity.
// accountID must match the resting order's own AccountID — a caller
// naming someone else's order is treated the same as the order not
// existing, so escrow can never be refunded into the wrong account.
func (ex *Exchange) CancelOrder(symbol string, orderID uuid.UUID, side types.Side, accountID uuid.UUID) (uint64, error) {
	lock, book, ok := ex.lockFor(symbol)
	if !ok {
		return 0, newError(UnknownInstrument, symbol)
	}
	lock.Lock()
	defer lock.Unlock()

	resting, found := book.OrderByID(orderID, side)
	if !found || resting.AccountID != accountID {
		return 0, newError(OrderNotFound, symbol).WithOrderID(orderID.String())
	}

	order, _ := book.RemoveByID(orderID, side)

	if account, ok := ex.GetAccount(order.AccountID); ok {
		refundEscrow(account, symbol, side, order.Price, order.Remaining)
	}
	if ex.metrics != nil {
		ex.metrics.ordersCancelled.WithLabelValues(symbol, side.String()).Inc()
	}
	return order.Remaining, nil
}

// CancelAllForAccount removes every resting order owned by accountID from
// symbol's book, refunding escrow for each.
func (ex *Exchange) CancelAllForAccount(symbol string, accountID uuid.UUID) ([]matching.AccountOrder, error) {
	lock, book, ok := ex.lockFor(symbol)
	if !ok {
		return nil, newError(UnknownInstrument, symbol)
	}
	lock.Lock()
	defer lock.Unlock()

	removed := book.RemoveAllForAccount(accountID)
	account, hasAccount := ex.GetAccount(accountID)
	for _, r := range removed {
		if hasAccount {
			refundEscrow(account, symbol, r.Side, r.Order.Price, r.Order.Remaining)
		}
		if ex.metrics != nil {
			ex.metrics.ordersCancelled.WithLabelValues(symbol, r.Side.String()).Inc()
		}
	}
	return removed, nil
}
