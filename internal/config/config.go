// Package config loads the exchange core's own tuning knobs: the ones
// that govern its internal worker pool, circuit breaker, and the
// instruments it lists at startup. It carries no database, HTTP, or auth
// sections — those belong to collaborators outside this core.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// InstrumentConfig seeds one instrument at startup.
type InstrumentConfig struct {
	Symbol       string   `mapstructure:"symbol"`
	InitialPrice *float64 `mapstructure:"initial_price"`
}

// Config is the exchange core's full set of tunables.
type Config struct {
	Engine struct {
		TradeChannelBuffer int `mapstructure:"trade_channel_buffer"`
		SinkWorkerPoolSize int `mapstructure:"sink_worker_pool_size"`
	} `mapstructure:"engine"`

	CircuitBreaker struct {
		MaxRequests uint32        `mapstructure:"max_requests"`
		Interval    time.Duration `mapstructure:"interval"`
		Timeout     time.Duration `mapstructure:"timeout"`
	} `mapstructure:"circuit_breaker"`

	Instruments []InstrumentConfig `mapstructure:"instruments"`

	Monitoring struct {
		LogLevel string `mapstructure:"log_level"`
	} `mapstructure:"monitoring"`
}

// LoadConfig reads exchange.yaml from configPath (or the working
// directory/./config if empty), falling back to defaults for anything the
// file and environment don't supply.
func LoadConfig(configPath string) (*Config, error) {
	cfg := &Config{}
	setDefaults(cfg)

	v := viper.New()
	v.SetConfigName("exchange")
	v.SetConfigType("yaml")

	if configPath != "" {
		v.AddConfigPath(configPath)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("XCHANGE")

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return cfg, nil
}

func setDefaults(cfg *Config) {
	cfg.Engine.TradeChannelBuffer = 1024
	cfg.Engine.SinkWorkerPoolSize = 16

	cfg.CircuitBreaker.MaxRequests = 5
	cfg.CircuitBreaker.Interval = 30 * time.Second
	cfg.CircuitBreaker.Timeout = 60 * time.Second

	cfg.Monitoring.LogLevel = "info"
}

// NewLogger builds a zap.Logger per cfg.Monitoring.LogLevel, matching the
// teacher's InitLogger: debug gets development mode (console-friendly,
// caller info), everything else gets production mode (JSON, sampled).
func NewLogger(cfg *Config) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)

	switch cfg.Monitoring.LogLevel {
	case "debug":
		logger, err = zap.NewDevelopment()
	default:
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}
	return logger, nil
}
