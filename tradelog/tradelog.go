// Package tradelog is the audit sink the engine writes every fill, signal,
// and slippage figure to (component C6). The core depends only on the Sink
// interface; the concrete sinks here cover the deployment shapes the
// engine runs in: structured log output (always on), an embedded sqlite
// file for single-host runs, and shared Postgres for fleet runs.
package tradelog

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// Record is one leg fill, keyed by (pair, date) in persisted sinks.
type Record struct {
	Timestamp    time.Time
	Pair         string
	Exchange     string
	Side         string // buy | sell
	SignalPrice  decimal.Decimal
	FilledPrice  decimal.Decimal
	Quantity     decimal.Decimal
	OrderID      string
	PositionType string // open | close | balance | unwind
	SpreadPct    decimal.Decimal
	PnLPct       decimal.Decimal
	Notes        string

	SignalDelayMs   int64
	PlaceDurationMs int64
	ExecDurationMs  int64
	Attempts        int
}

// SlippagePct is (filled - signal) / signal * 100 for buys, sign-flipped
// for sells, so positive always means "worse than signalled".
func (r Record) SlippagePct() decimal.Decimal {
	if r.SignalPrice.IsZero() {
		return decimal.Zero
	}
	s := r.FilledPrice.Sub(r.SignalPrice).Div(r.SignalPrice).Mul(decimal.NewFromInt(100))
	if r.Side == "sell" {
		return s.Neg()
	}
	return s
}

// Sink receives every trade record. Implementations must not block the
// execution path for long; slow sinks should buffer internally.
type Sink interface {
	LogTrade(r Record)
	Close() error
}

// Nop discards every record. Used by tests and monitor-only dry runs that
// want no persistence at all.
type Nop struct{}

func (Nop) LogTrade(Record) {}
func (Nop) Close() error { return nil }

// ZerologSink writes each record as one structured log line. It is the
// always-on sink; persisted sinks are layered on top via Multi.
type ZerologSink struct {
	log zerolog.Logger
}

// NewZerologSink creates a ZerologSink writing through logger.
func NewZerologSink(logger zerolog.Logger) *ZerologSink {
	return &ZerologSink{log: logger.With().Str("component", "tradelog").Logger()}
}

func (s *ZerologSink) LogTrade(r Record) {
	s.log.Info().
		Time("ts", r.Timestamp).
		Str("pair", r.Pair).
		Str("exchange", r.Exchange).
		Str("side", r.Side).
		Str("type", r.PositionType).
		Str("signal_price", r.SignalPrice.String()).
		Str("filled_price", r.FilledPrice.String()).
		Str("qty", r.Quantity.String()).
		Str("order_id", r.OrderID).
		Str("spread_pct", r.SpreadPct.StringFixed(4)).
		Str("pnl_pct", r.PnLPct.StringFixed(4)).
		Str("slippage_pct", r.SlippagePct().StringFixed(4)).
		Int64("signal_delay_ms", r.SignalDelayMs).
		Int("attempts", r.Attempts).
		Str("notes", r.Notes).
		Msg("trade")
}

func (s *ZerologSink) Close() error { return nil }

// Multi fans every record out to several sinks.
type Multi []Sink

func (m Multi) LogTrade(r Record) {
	for _, s := range m {
		s.LogTrade(r)
	}
}

func (m Multi) Close() error {
	var first error
	for _, s := range m {
		if err := s.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}
