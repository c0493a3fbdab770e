// Package bus publishes trade and signal events to Redis pub/sub channels
// for out-of-process observers (dashboards, the chat webhook relay). The
// engine owns the Publisher's lifetime; a nil Publisher is a valid no-op
// so callers need no enabled-flag plumbing.
package bus

import (
	"context"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"hedgearb/model"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Channel names observers subscribe to.
const (
	ChannelTradeExecution = "hedgearb-trade-execution"
	ChannelTradeSummary   = "hedgearb-trade-summary"
	ChannelSignal         = "hedgearb-signal"
)

// TradeExecution is one leg fill event.
type TradeExecution struct {
	Exchange  string          `json:"exchange"`
	Pair      string          `json:"pair"`
	Side      string          `json:"side"`
	Action    string          `json:"action"` // open | close | unwind
	Quantity  decimal.Decimal `json:"quantity"`
	Price     decimal.Decimal `json:"price"`
	SpreadPct decimal.Decimal `json:"spread_pct"`
	Timestamp time.Time       `json:"timestamp"`
}

// TradeSummary is the realised result of one full open/close round trip.
type TradeSummary struct {
	Pair        string          `json:"pair"`
	ExchangeA   string          `json:"exchange_a"`
	ExchangeB   string          `json:"exchange_b"`
	EntrySpread decimal.Decimal `json:"entry_spread_pct"`
	ExitSpread  decimal.Decimal `json:"exit_spread_pct"`
	PnLPct      decimal.Decimal `json:"pnl_pct"`
	Quantity    decimal.Decimal `json:"quantity"`
	DurationSec float64         `json:"duration_seconds"`
	OpenTime    time.Time       `json:"open_time"`
	CloseTime   time.Time       `json:"close_time"`
}

// SignalEvent mirrors a TradingSignal for observers.
type SignalEvent struct {
	Type      string          `json:"type"`
	Pair      string          `json:"pair"`
	SpreadPct decimal.Decimal `json:"spread_pct"`
	Reason    string          `json:"reason"`
	Timestamp time.Time       `json:"timestamp"`
}

// Publisher wraps one Redis connection. A nil *Publisher is valid and
// publishes nothing, so callers need no enabled-flag plumbing.
type Publisher struct {
	client *redis.Client
	log    zerolog.Logger
}

// New connects to addr and verifies the connection with a short ping.
// Returns an error when Redis is unreachable; callers typically log it and
// continue with a nil Publisher (event publishing is best-effort).
func New(addr, password string, db int, logger zerolog.Logger) (*Publisher, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return &Publisher{
		client: client,
		log:    logger.With().Str("component", "bus").Logger(),
	}, nil
}

// Close releases the Redis connection.
func (p *Publisher) Close() {
	if p == nil || p.client == nil {
		return
	}
	p.client.Close()
}

func (p *Publisher) publish(channel string, v any) {
	if p == nil || p.client == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		p.log.Warn().Err(err).Str("channel", channel).Msg("marshal failed")
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := p.client.Publish(ctx, channel, data).Err(); err != nil {
		p.log.Warn().Err(err).Str("channel", channel).Msg("publish failed")
	}
}

// PublishExecution announces one leg fill.
func (p *Publisher) PublishExecution(e TradeExecution) {
	p.publish(ChannelTradeExecution, e)
}

// PublishSummary announces a completed round trip derived from a closed
// position.
func (p *Publisher) PublishSummary(pos *model.Position, pnlPct decimal.Decimal) {
	if pos == nil {
		return
	}
	p.publish(ChannelTradeSummary, TradeSummary{
		Pair:        pos.Symbol,
		ExchangeA:   pos.ExchangeAName,
		ExchangeB:   pos.ExchangeBName,
		EntrySpread: pos.OpenSpreadPct,
		PnLPct:      pnlPct,
		Quantity:    pos.Quantity,
		DurationSec: pos.CloseTime.Sub(pos.OpenTime).Seconds(),
		OpenTime:    pos.OpenTime,
		CloseTime:   pos.CloseTime,
	})
}

// PublishSignal announces a gated trading signal.
func (p *Publisher) PublishSignal(sig *model.TradingSignal, at time.Time) {
	if sig == nil {
		return
	}
	p.publish(ChannelSignal, SignalEvent{
		Type:      string(sig.Type),
		Pair:      sig.Symbol,
		SpreadPct: sig.SpreadPct,
		Reason:    sig.Reason,
		Timestamp: at,
	})
}
