// Package model holds the data types shared by every component of the
// hedge arbitrage engine: price snapshots, order books, order results, and
// the positions the engine carries while hedged.
package model

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Side is a normalised order side, independent of any venue's own casing
// convention.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// RetryMode selects the pricing discipline an adapter uses when placing an
// order. Opportunistic orders are priced at the reference price (or one
// tick of improvement) and abandoned quickly; aggressive orders cross the
// book to guarantee a fill.
type RetryMode string

const (
	RetryOpportunistic RetryMode = "opportunistic"
	RetryAggressive    RetryMode = "aggressive"
)

// OrderStatus mirrors the lifecycle of an order as reported by
// Adapter.GetOrderInfo.
type OrderStatus string

const (
	StatusOpen            OrderStatus = "OPEN"
	StatusPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	StatusFilled          OrderStatus = "FILLED"
	StatusCanceled        OrderStatus = "CANCELED"
	StatusRejected        OrderStatus = "REJECTED"
	StatusUnknown         OrderStatus = "UNKNOWN"
)

// PriceLevel is a single (price, size) pair in an order book.
type PriceLevel struct {
	Price decimal.Decimal
	Size  decimal.Decimal
}

// OrderBook is the normalised top-of-book-plus-depth view the core
// consumes. Bids are ordered descending by price, asks ascending; a venue
// adapter may keep a fuller book internally but only ever hands the core a
// snapshot shaped like this.
type OrderBook struct {
	Bids      []PriceLevel
	Asks      []PriceLevel
	Timestamp time.Time
	QuoteID   string // non-empty only for RFQ-style venues
}

// BestBid returns the highest bid level, or false if the book is empty.
func (ob *OrderBook) BestBid() (PriceLevel, bool) {
	if ob == nil || len(ob.Bids) == 0 {
		return PriceLevel{}, false
	}
	return ob.Bids[0], true
}

// BestAsk returns the lowest ask level, or false if the book is empty.
func (ob *OrderBook) BestAsk() (PriceLevel, bool) {
	if ob == nil || len(ob.Asks) == 0 {
		return PriceLevel{}, false
	}
	return ob.Asks[0], true
}

// PriceSnapshot is the unit of work the price monitor hands to the
// strategy: a synchronised view of both venues' top-of-book at one instant.
// It is created on every trigger-venue book update, consumed by exactly one
// strategy evaluation, and then discarded.
type PriceSnapshot struct {
	Symbol string

	ExchangeAName string
	BidA          decimal.Decimal
	AskA          decimal.Decimal
	BidSizeA      decimal.Decimal
	AskSizeA      decimal.Decimal
	TimestampA    time.Time
	QuoteIDA      string

	ExchangeBName string
	BidB          decimal.Decimal
	AskB          decimal.Decimal
	BidSizeB      decimal.Decimal
	AskSizeB      decimal.Decimal
	TimestampB    time.Time
	QuoteIDB      string
}

// OpenSpreadPct is (bid_a - ask_b) / ask_b * 100: the immediate profit of
// selling at A's bid and buying at B's ask.
func (s *PriceSnapshot) OpenSpreadPct() decimal.Decimal {
	if s.AskB.IsZero() {
		return decimal.Zero
	}
	return s.BidA.Sub(s.AskB).Div(s.AskB).Mul(decimal.NewFromInt(100))
}

// CloseSpreadPct is (bid_b - ask_a) / ask_a * 100: the immediate profit of
// unwinding the hedge.
func (s *PriceSnapshot) CloseSpreadPct() decimal.Decimal {
	if s.AskA.IsZero() {
		return decimal.Zero
	}
	return s.BidB.Sub(s.AskA).Div(s.AskA).Mul(decimal.NewFromInt(100))
}

// AgeA and AgeB report how stale each leg's snapshot is relative to now.
func (s *PriceSnapshot) AgeA(now time.Time) time.Duration { return now.Sub(s.TimestampA) }
func (s *PriceSnapshot) AgeB(now time.Time) time.Duration { return now.Sub(s.TimestampB) }

// OrderResult is returned by every adapter place/cancel call.
type OrderResult struct {
	Success      bool
	OrderID      string
	FilledPrice  decimal.Decimal
	FilledQty    decimal.Decimal
	PartialFill  bool
	ErrorKind    string
	ErrorMessage string
}

// OrderInfo is returned by adapter order-query calls.
type OrderInfo struct {
	OrderID       string
	Side          Side
	RequestedSize decimal.Decimal
	Price         decimal.Decimal
	Status        OrderStatus
	FilledSize    decimal.Decimal
	RemainingSize decimal.Decimal
}

// PositionSide describes a venue-reported position direction, used by
// reconciliation (position.SyncFromExchanges).
type PositionSide string

const (
	PositionLong    PositionSide = "long"
	PositionShort   PositionSide = "short"
	PositionNeutral PositionSide = "neutral"
)

// VenuePosition is the normalised venue position-query response.
type VenuePosition struct {
	Side          PositionSide
	Size          decimal.Decimal
	EntryPrice    decimal.Decimal
	UnrealizedPnL decimal.Decimal
}

// ExecutionMetrics carries optional per-leg timing and retry
// instrumentation for a Position. It is a separate, optionally-nil struct
// rather than inline fields so a Position without instrumentation carries
// no dead columns.
type ExecutionMetrics struct {
	EntryDelayMs int64
	ExitDelayMs  int64

	PlaceDurationAMs int64
	PlaceDurationBMs int64
	ExecDurationAMs  int64
	ExecDurationBMs  int64

	AttemptsA int
	AttemptsB int
}

// Position tracks one open (or closed) hedged position: venue A is always
// the short leg, venue B the long leg.
type Position struct {
	Symbol        string
	Quantity      decimal.Decimal
	ExchangeAName string
	ExchangeBName string

	SignalEntryPriceA decimal.Decimal
	FilledEntryPriceA decimal.Decimal
	SignalEntryPriceB decimal.Decimal
	FilledEntryPriceB decimal.Decimal

	SignalExitPriceA decimal.Decimal
	FilledExitPriceA decimal.Decimal
	SignalExitPriceB decimal.Decimal
	FilledExitPriceB decimal.Decimal

	EntryOrderIDA string
	EntryOrderIDB string
	ExitOrderIDA  string
	ExitOrderIDB  string

	OpenSpreadPct decimal.Decimal

	OpenTime  time.Time
	CloseTime time.Time

	Metrics *ExecutionMetrics
}

// IsOpen reports whether the position has been entered but not yet closed.
func (p *Position) IsOpen() bool {
	return p.Quantity.IsPositive() && p.CloseTime.IsZero()
}

// PnLPct computes the realised (or, pre-close, mark-to-market) pnl
// percentage given the current A/B close prices: (open spread - close
// spread) relative to the B entry price.
func (p *Position) PnLPct(closePriceA, closePriceB decimal.Decimal) decimal.Decimal {
	if p.FilledEntryPriceB.IsZero() {
		return decimal.Zero
	}
	openSpread := p.FilledEntryPriceA.Sub(p.FilledEntryPriceB)
	closeSpread := closePriceA.Sub(closePriceB)
	pnl := openSpread.Sub(closeSpread)
	return pnl.Div(p.FilledEntryPriceB).Mul(decimal.NewFromInt(100))
}

// HoldingDuration formats the position's holding time for log lines:
// "5m 30s" or "1h 23m 45s".
func (p *Position) HoldingDuration(now time.Time) string {
	end := p.CloseTime
	if end.IsZero() {
		end = now
	}
	d := end.Sub(p.OpenTime)
	hours := int(d.Hours())
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60
	switch {
	case hours > 0:
		return fmt.Sprintf("%dh %dm %ds", hours, minutes, seconds)
	case minutes > 0:
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	default:
		return fmt.Sprintf("%ds", seconds)
	}
}

// PositionMode selects single-slot or accumulate semantics for the position
// manager.
type PositionMode string

const (
	ModeSingle     PositionMode = "single"
	ModeAccumulate PositionMode = "accumulate"
)

// PositionManagerState is the position manager's persisted-in-memory state.
type PositionManagerState struct {
	Mode          PositionMode
	CurrentNetQty decimal.Decimal // signed: positive = net long via B leg
	MaxPosition   decimal.Decimal
	PositionStep  decimal.Decimal
	History       []*Position
}

// SignalType distinguishes an Open from a Close trading signal.
type SignalType string

const (
	SignalOpen  SignalType = "OPEN"
	SignalClose SignalType = "CLOSE"
)

// TradingSignal is transient: it exists only during one strategy callback
// and is never persisted.
type TradingSignal struct {
	Type      SignalType
	Symbol    string
	SpreadPct decimal.Decimal
	Snapshot  *PriceSnapshot
	Reason    string
}

// Direction describes which side of the hedge a leg-pair trade represents,
// used by the accumulate-mode position manager to know which way
// CurrentNetQty should move.
type Direction string

const (
	DirectionOpenShort  Direction = "open_short"  // A sells, B buys
	DirectionOpenLong   Direction = "open_long"   // A buys, B sells
	DirectionCloseShort Direction = "close_short" // A buys, B sells
	DirectionCloseLong  Direction = "close_long"  // A sells, B buys
)
