// Package pricing provides tick-size rounding and per-pair precision rules.
// Every price and quantity in the engine is an arbitrary-precision decimal;
// no float64 enters any money computation, and every emitted price is
// quantised to its venue's tick.
package pricing

import (
	"github.com/shopspring/decimal"
)

// TickSize is a positive decimal minimum price increment. Sizes are
// instead rounded down to their own SizeStep (see RoundToSizeStep).
type TickSize decimal.Decimal

// Contract carries the tick size, size step, and minimum order size of one
// venue instrument. Adapters receive it in their configuration (the engine
// takes it from DefaultPrecisionTable); no adapter discovers it at connect
// time. It is immutable once constructed.
type Contract struct {
	Symbol      string
	TickSize    decimal.Decimal
	SizeStep    decimal.Decimal
	MinOrderQty decimal.Decimal
}

// RoundToTick rounds price to the nearest multiple of c.TickSize using
// half-up rounding.
func (c Contract) RoundToTick(price decimal.Decimal) decimal.Decimal {
	return roundToStep(price, c.TickSize)
}

// RoundToSizeStep rounds a quantity down to the nearest multiple of
// c.SizeStep; quantities are never rounded up past what was requested,
// since that could exceed a caller's intended notional.
func (c Contract) RoundToSizeStep(qty decimal.Decimal) decimal.Decimal {
	if c.SizeStep.IsZero() {
		return qty
	}
	units := qty.Div(c.SizeStep).Floor()
	return units.Mul(c.SizeStep)
}

// roundToStep performs half-up rounding of v to the nearest multiple of
// step. step must be positive.
func roundToStep(v, step decimal.Decimal) decimal.Decimal {
	if step.IsZero() {
		return v
	}
	units := v.Div(step)
	rounded := units.Round(0)
	// shopspring's Round(0) is half away from zero, which coincides with
	// half-up for the positive prices this engine deals in.
	return rounded.Mul(step)
}

// AggressiveOffset returns the price an aggressive-mode order should cross
// the book by: buys are pushed up, sells pushed down, by pct percent of the
// reference price.
func AggressiveOffset(reference decimal.Decimal, isBuy bool, pct decimal.Decimal) decimal.Decimal {
	offset := reference.Mul(pct).Div(decimal.NewFromInt(100))
	if isBuy {
		return reference.Add(offset)
	}
	return reference.Sub(offset)
}

// DefaultAggressiveOffsetPct is the default crossing offset for
// aggressive-mode orders, as a percentage of the reference price.
var DefaultAggressiveOffsetPct = decimal.NewFromFloat(0.05)

// PrecisionTable is a symbol -> Contract lookup for venues (or tests)
// that have no live metadata-discovery endpoint and fall back to a static
// table.
type PrecisionTable map[string]Contract

// DefaultPrecisionTable covers the commonly traded USDT perps.
var DefaultPrecisionTable = PrecisionTable{
	"btc-usdt":  {Symbol: "btc-usdt", TickSize: decimal.New(1, -2), SizeStep: decimal.New(1, -5)},
	"eth-usdt":  {Symbol: "eth-usdt", TickSize: decimal.New(1, -2), SizeStep: decimal.New(1, -4)},
	"sol-usdt":  {Symbol: "sol-usdt", TickSize: decimal.New(1, -3), SizeStep: decimal.New(1, -2)},
	"doge-usdt": {Symbol: "doge-usdt", TickSize: decimal.New(1, -6), SizeStep: decimal.New(1, 0)},
	"xrp-usdt":  {Symbol: "xrp-usdt", TickSize: decimal.New(1, -4), SizeStep: decimal.New(1, -1)},
}

// Lookup returns the Contract for symbol, falling back to an 8-decimal
// tick and step when the symbol is unknown.
func (t PrecisionTable) Lookup(symbol string) Contract {
	if c, ok := t[symbol]; ok {
		return c
	}
	return Contract{Symbol: symbol, TickSize: decimal.New(1, -8), SizeStep: decimal.New(1, -8)}
}
