// Package config loads per-pair trading parameters from YAML through
// viper, so every key can also be overridden with a HEDGEARB_-prefixed
// environment variable; .env files layer underneath via godotenv.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

// DynamicThresholdConfig is the optional rolling-stat threshold override.
type DynamicThresholdConfig struct {
	Enabled         bool    `mapstructure:"enabled"`
	Window          int     `mapstructure:"window"`
	OpenPercentile  float64 `mapstructure:"open_percentile"`
	ClosePercentile float64 `mapstructure:"close_percentile"`
}

// VenueConfig is the opaque per-venue option bag passed straight to the
// adapter being instantiated.
type VenueConfig struct {
	Kind         string            `mapstructure:"kind"` // ws | poll | rfq
	BaseURL      string            `mapstructure:"base_url"`
	WSURL        string            `mapstructure:"ws_url"`
	PollInterval time.Duration     `mapstructure:"poll_interval"`
	Options      map[string]string `mapstructure:"options"`
}

// PairConfig carries every recognised per-pair setting.
type PairConfig struct {
	Enabled           bool    `mapstructure:"enabled"`
	Symbol            string  `mapstructure:"symbol"`
	ExchangeA         string  `mapstructure:"exchange_a"`
	ExchangeB         string  `mapstructure:"exchange_b"`
	Quantity          string  `mapstructure:"quantity"`
	QuantityPrecision string  `mapstructure:"quantity_precision"`
	OpenThreshold     float64 `mapstructure:"open_threshold"`
	CloseThreshold    float64 `mapstructure:"close_threshold"`
	MinDepthQuantity  string  `mapstructure:"min_depth_quantity"`
	AccumulateMode    bool    `mapstructure:"accumulate_mode"`
	MaxPosition       string  `mapstructure:"max_position"`

	TriggerExchange string `mapstructure:"trigger_exchange"` // A | B

	DynamicThreshold DynamicThresholdConfig `mapstructure:"dynamic_threshold"`

	VenueA VenueConfig `mapstructure:"venue_a"`
	VenueB VenueConfig `mapstructure:"venue_b"`
}

// QuantityDec parses the decimal quantity, returning an error on malformed
// or non-positive values.
func (p PairConfig) QuantityDec() (decimal.Decimal, error) {
	q, err := decimal.NewFromString(p.Quantity)
	if err != nil {
		return decimal.Zero, fmt.Errorf("quantity %q: %w", p.Quantity, err)
	}
	if !q.IsPositive() {
		return decimal.Zero, fmt.Errorf("quantity must be positive, got %s", q)
	}
	return q, nil
}

// MinDepthDec parses min_depth_quantity, defaulting to zero when unset.
func (p PairConfig) MinDepthDec() (decimal.Decimal, error) {
	if p.MinDepthQuantity == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(p.MinDepthQuantity)
}

// MaxPositionDec parses max_position, defaulting to the single trade
// quantity when unset.
func (p PairConfig) MaxPositionDec() (decimal.Decimal, error) {
	if p.MaxPosition == "" {
		return p.QuantityDec()
	}
	return decimal.NewFromString(p.MaxPosition)
}

// File is the top-level YAML document: engine-wide settings plus a map of
// pair id -> PairConfig.
type File struct {
	LogLevel  string                `mapstructure:"log_level"`
	RedisAddr string                `mapstructure:"redis_addr"`
	AdminAddr string                `mapstructure:"admin_addr"`
	TradeLog  TradeLogConfig        `mapstructure:"trade_log"`
	Pairs     map[string]PairConfig `mapstructure:"pairs"`
}

// TradeLogConfig selects the persisted audit sink.
type TradeLogConfig struct {
	SQLitePath  string `mapstructure:"sqlite_path"`
	PostgresURL string `mapstructure:"postgres_url"`
}

// Load reads the YAML config at path, with HEDGEARB_* environment
// overrides. envFile, when non-empty, is loaded into the process
// environment first (missing file is not an error, matching godotenv's
// usual optional-.env semantics).
func Load(path, envFile string) (*File, error) {
	if envFile != "" {
		_ = godotenv.Load(envFile)
	} else {
		_ = godotenv.Load()
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetEnvPrefix("HEDGEARB")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var f File
	if err := v.Unmarshal(&f); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := f.validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Pair returns the named pair's config or an error when missing/disabled.
func (f *File) Pair(id string) (PairConfig, error) {
	p, ok := f.Pairs[id]
	if !ok {
		return PairConfig{}, fmt.Errorf("pair %q not found in config", id)
	}
	if !p.Enabled {
		return PairConfig{}, fmt.Errorf("pair %q is disabled", id)
	}
	return p, nil
}

func (f *File) validate() error {
	for id, p := range f.Pairs {
		if !p.Enabled {
			continue
		}
		if p.Symbol == "" {
			return fmt.Errorf("pair %q: symbol is required", id)
		}
		if p.ExchangeA == "" || p.ExchangeB == "" {
			return fmt.Errorf("pair %q: exchange_a and exchange_b are required", id)
		}
		if _, err := p.QuantityDec(); err != nil {
			return fmt.Errorf("pair %q: %w", id, err)
		}
		if p.OpenThreshold < 0 {
			return fmt.Errorf("pair %q: open_threshold must be >= 0", id)
		}
		if p.AccumulateMode {
			if _, err := p.MaxPositionDec(); err != nil {
				return fmt.Errorf("pair %q: %w", id, err)
			}
		}
	}
	return nil
}
