package exchange

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects Prometheus instrumentation for the exchange core,
// generalizing the teacher's internal/monitoring/metrics.go collector to
// the order/trade/rejection counters a matching core needs.
type Metrics struct {
	ordersPlaced   *prometheus.CounterVec
	ordersRejected *prometheus.CounterVec
	ordersCancelled *prometheus.CounterVec
	tradesExecuted *prometheus.CounterVec
	matchLatency   *prometheus.HistogramVec
}

// NewMetrics registers the exchange's Prometheus series against reg. Pass
// prometheus.NewRegistry() in tests to avoid colliding with the default
// global registry across test runs.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ordersPlaced: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "xchange_orders_placed_total",
				Help: "Total number of orders accepted by place_order.",
			},
			[]string{"symbol", "side", "tif"},
		),
		ordersRejected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "xchange_orders_rejected_total",
				Help: "Total number of orders rejected, by error kind.",
			},
			[]string{"symbol", "reason"},
		),
		ordersCancelled: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "xchange_orders_cancelled_total",
				Help: "Total number of resting orders removed via cancel.",
			},
			[]string{"symbol", "side"},
		),
		tradesExecuted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "xchange_trades_executed_total",
				Help: "Total number of trades produced by the matching engine.",
			},
			[]string{"symbol"},
		),
		matchLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "xchange_place_order_latency_seconds",
				Help:    "Latency of place_order under the instrument lock.",
				Buckets: prometheus.ExponentialBuckets(0.00001, 2, 12),
			},
			[]string{"symbol"},
		),
	}
}
