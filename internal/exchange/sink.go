package exchange

import (
	"fmt"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/nodalmarket/xchange/internal/types"
)

// EventSink is the observer boundary the Exchange publishes trades
// through. The Exchange calls OnTrades after the per-instrument lock is
// released, on the goroutine that performed the match, never inside the
// critical section. All trades of one PlaceOrder call arrive in a single
// OnTrades call, in execution order. Calls stemming from different
// PlaceOrder calls on the same instrument are not ordered by the Exchange:
// once the lock is released they can reach OnTrades in either order, or
// concurrently.
type EventSink interface {
	OnTrades(symbol string, trades []types.Trade)
}

// NoopSink discards every event; used when the caller has no observer.
type NoopSink struct{}

func (NoopSink) OnTrades(string, []types.Trade) {}

// DefaultCircuitBreakerSettings mirrors the teacher's
// internal/architecture/fx/resilience.DefaultSettings: trip once at least
// 10 requests have been seen and at least half of them failed, log state
// transitions.
func DefaultCircuitBreakerSettings(name string, logger *zap.Logger) gobreaker.Settings {
	return gobreaker.Settings{
		Name:        name,
		MaxRequests: 5,
		Interval:    30 * time.Second,
		Timeout:     60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return counts.Requests >= 10 && failureRatio >= 0.5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Info("event sink circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	}
}

// symbolQueue is a per-instrument FIFO of pending dispatches. At most one
// pool goroutine drains a given symbol's queue at a time, so two
// successive OnTrades calls for the same instrument are always delivered
// in submission order, while two different instruments still drain on
// separate pool goroutines concurrently.
type symbolQueue struct {
	pending  [][]types.Trade
	draining bool
}

// AsyncSink wraps a caller-supplied EventSink so the exchange's calling
// goroutine never blocks on it: dispatch runs on a bounded ants worker
// pool, serialized per instrument so each symbol's batches reach the inner
// sink in the order OnTrades received them, and each dispatched call is wrapped in a circuit breaker so a
// panicking or permanently-failing sink gets tripped open and its
// failures are swallowed (logged, never surfaced) rather than affecting
// exchange state — per spec.md §4.4 and §7.
type AsyncSink struct {
	inner   EventSink
	pool    *ants.Pool
	breaker *gobreaker.CircuitBreaker
	logger  *zap.Logger

	mu     sync.Mutex
	queues map[string]*symbolQueue
}

// NewAsyncSink creates an AsyncSink with a worker pool of the given size.
func NewAsyncSink(inner EventSink, poolSize int, settings gobreaker.Settings, logger *zap.Logger) (*AsyncSink, error) {
	pool, err := ants.NewPool(poolSize, ants.WithNonblocking(true))
	if err != nil {
		return nil, fmt.Errorf("event sink worker pool: %w", err)
	}
	return &AsyncSink{
		inner:   inner,
		pool:    pool,
		breaker: gobreaker.NewCircuitBreaker(settings),
		logger:  logger,
		queues:  make(map[string]*symbolQueue),
	}, nil
}

// OnTrades satisfies EventSink by enqueueing trades for symbol and, if no
// drain is already in flight for that symbol, submitting one to the pool.
func (s *AsyncSink) OnTrades(symbol string, trades []types.Trade) {
	s.mu.Lock()
	q, ok := s.queues[symbol]
	if !ok {
		q = &symbolQueue{}
		s.queues[symbol] = q
	}
	q.pending = append(q.pending, trades)
	startDrain := !q.draining
	if startDrain {
		q.draining = true
	}
	s.mu.Unlock()

	if !startDrain {
		return
	}

	submitErr := s.pool.Submit(func() { s.drain(symbol, q) })
	if submitErr != nil {
		// Drop the whole queued backlog for this symbol rather than leave
		// q.draining permanently true with nobody to clear it.
		s.mu.Lock()
		dropped := len(q.pending)
		q.pending = nil
		q.draining = false
		s.mu.Unlock()
		s.logger.Warn("event sink dispatch dropped, worker pool overloaded",
			zap.String("symbol", symbol),
			zap.Int("batches_dropped", dropped),
			zap.Error(submitErr))
	}
}

// drain delivers every batch queued for symbol, in submission order, then
// releases the symbol back to idle so a later OnTrades can start a fresh
// drain. It never runs concurrently with itself for the same symbol.
func (s *AsyncSink) drain(symbol string, q *symbolQueue) {
	for {
		s.mu.Lock()
		if len(q.pending) == 0 {
			q.draining = false
			s.mu.Unlock()
			return
		}
		batch := q.pending[0]
		q.pending = q.pending[1:]
		s.mu.Unlock()

		_, err := s.breaker.Execute(func() (interface{}, error) {
			return nil, s.callInner(symbol, batch)
		})
		if err != nil {
			s.logger.Warn("event sink call failed",
				zap.String("symbol", symbol),
				zap.Int("trade_count", len(batch)),
				zap.Error(err))
		}
	}
}

// callInner recovers a panicking sink into an error so the circuit breaker
// sees it as a failure instead of crashing the worker goroutine.
func (s *AsyncSink) callInner(symbol string, trades []types.Trade) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("event sink panicked: %v", r)
		}
	}()
	s.inner.OnTrades(symbol, trades)
	return nil
}

// Close releases the underlying worker pool. Callers should invoke this
// during shutdown, after the Exchange itself has stopped accepting orders.
func (s *AsyncSink) Close() {
	s.pool.Release()
}
