// Package app wires the exchange core's constructors into an fx.App,
// generalizing the teacher's internal/orders/matching/orders_matching_module.go
// pattern from a single fx.Provide to the core's full dependency graph:
// config, logger, metrics registry, async sink, and the Exchange itself.
package app

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/nodalmarket/xchange/internal/config"
	"github.com/nodalmarket/xchange/internal/exchange"
)

// Module is the fx.Options bundle a binary assembles the exchange core
// from. A caller that wants its own EventSink should fx.Provide one
// before including Module — fx.Provide(func() exchange.EventSink {...}).
var Module = fx.Options(
	fx.Provide(
		NewConfig,
		NewLogger,
		NewRegisterer,
		NewMetrics,
		NewAsyncSink,
		NewExchange,
	),
)

// NewConfig loads the core's own configuration from the default search
// path. configPath is left empty here; binaries that want an explicit
// path should fx.Replace this provider.
func NewConfig() (*config.Config, error) {
	return config.LoadConfig("")
}

// NewLogger builds the zap.Logger the whole graph shares.
func NewLogger(cfg *config.Config) (*zap.Logger, error) {
	return config.NewLogger(cfg)
}

// NewRegisterer provides the Prometheus registry metrics are collected
// against. A dedicated registry (rather than the global default) keeps
// repeated fx.New calls in tests from panicking on duplicate registration.
func NewRegisterer() prometheus.Registerer {
	return prometheus.NewRegistry()
}

// NewMetrics builds the exchange's Prometheus collectors.
func NewMetrics(reg prometheus.Registerer) *exchange.Metrics {
	return exchange.NewMetrics(reg)
}

// sinkParams lets the caller's EventSink be optional: a binary that wants
// to observe trades provides one with fx.Provide before including Module,
// otherwise AsyncSink falls back to a no-op.
type sinkParams struct {
	fx.In

	Sink exchange.EventSink `optional:"true"`
}

// NewAsyncSink builds the bounded, circuit-broken dispatcher every trade
// event passes through. If no exchange.EventSink has been provided
// upstream, it falls back to exchange.NoopSink so the graph still
// constructs in tests and standalone-core deployments.
func NewAsyncSink(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger, p sinkParams) (*exchange.AsyncSink, error) {
	sink := p.Sink
	if sink == nil {
		sink = exchange.NoopSink{}
	}
	settings := exchange.DefaultCircuitBreakerSettings("exchange-event-sink", logger)
	settings.MaxRequests = cfg.CircuitBreaker.MaxRequests
	settings.Interval = cfg.CircuitBreaker.Interval
	settings.Timeout = cfg.CircuitBreaker.Timeout

	async, err := exchange.NewAsyncSink(sink, cfg.Engine.SinkWorkerPoolSize, settings, logger)
	if err != nil {
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			async.Close()
			return nil
		},
	})

	return async, nil
}

// NewExchange builds the core Exchange and seeds it with every configured
// instrument.
func NewExchange(lc fx.Lifecycle, cfg *config.Config, logger *zap.Logger, metrics *exchange.Metrics, sink *exchange.AsyncSink) *exchange.Exchange {
	ex := exchange.New(sink, logger, metrics)

	for _, inst := range cfg.Instruments {
		ex.AddInstrument(inst.Symbol, inst.InitialPrice)
	}

	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			logger.Info("exchange core started", zap.Int("instrument_count", len(cfg.Instruments)))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("exchange core stopped")
			return nil
		},
	})

	return ex
}
