// Package position implements the position manager: it tracks the live
// hedged position, enforces the accumulate-mode cap, and reconciles local
// state against what the venues actually report.
package position

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"hedgearb/metrics"
	"hedgearb/model"
	"hedgearb/tradelog"
	"hedgearb/venue"
)

// DefaultLegMismatchTolerancePct is the leg-vs-leg divergence, as a share of
// the position step, above which SyncFromExchanges logs a hedge mismatch.
var DefaultLegMismatchTolerancePct = decimal.NewFromFloat(0.10)

// Manager owns the engine's view of the current hedged position. It is not
// goroutine-safe on its own: the strategy's executing lock already
// serialises every mutation, matching the single-owner model the engine
// runs under.
type Manager struct {
	mode model.PositionMode

	// single-slot mode
	current *model.Position

	// accumulate mode
	currentNetQty decimal.Decimal
	maxPosition   decimal.Decimal
	positionStep  decimal.Decimal

	history []*model.Position

	pair string
	sink tradelog.Sink
	log  zerolog.Logger
}

// Config parameterises a Manager.
type Config struct {
	Pair        string
	Mode        model.PositionMode
	MaxPosition decimal.Decimal
	Step        decimal.Decimal
}

// New creates a Manager. sink receives one record per leg fill; it may be
// tradelog.Nop for tests.
func New(cfg Config, sink tradelog.Sink, logger zerolog.Logger) *Manager {
	if cfg.Mode == "" {
		cfg.Mode = model.ModeSingle
	}
	return &Manager{
		mode:         cfg.Mode,
		maxPosition:  cfg.MaxPosition,
		positionStep: cfg.Step,
		pair:         cfg.Pair,
		sink:         sink,
		log:          logger.With().Str("component", "position").Str("pair", cfg.Pair).Logger(),
	}
}

// Mode returns the manager's configured mode.
func (m *Manager) Mode() model.PositionMode { return m.mode }

// HasPosition reports whether the single slot is occupied (single mode) or
// any net quantity is held (accumulate mode).
func (m *Manager) HasPosition() bool {
	if m.mode == model.ModeSingle {
		return m.current != nil
	}
	return !m.currentNetQty.IsZero()
}

// GetPosition returns the currently held position, if any. In accumulate
// mode it returns the most recently added open position.
func (m *Manager) GetPosition() (*model.Position, bool) {
	if m.mode == model.ModeSingle {
		return m.current, m.current != nil
	}
	for i := len(m.history) - 1; i >= 0; i-- {
		if m.history[i].IsOpen() {
			return m.history[i], true
		}
	}
	return nil, false
}

// CurrentNetQty returns the signed net quantity in accumulate mode; in
// single mode it returns zero or the held position's (positive) quantity.
func (m *Manager) CurrentNetQty() decimal.Decimal {
	if m.mode == model.ModeAccumulate {
		return m.currentNetQty
	}
	if m.current != nil {
		return m.current.Quantity
	}
	return decimal.Zero
}

// netDelta returns the signed change a direction applies to currentNetQty.
func (m *Manager) netDelta(dir model.Direction) decimal.Decimal {
	switch dir {
	case model.DirectionOpenShort, model.DirectionCloseLong:
		return m.positionStep.Neg()
	case model.DirectionOpenLong, model.DirectionCloseShort:
		return m.positionStep
	}
	return decimal.Zero
}

// CanOpen reports whether opening in the given direction is allowed: slot
// empty in single mode, cap respected in accumulate mode.
func (m *Manager) CanOpen(dir model.Direction) bool {
	if m.mode == model.ModeSingle {
		return m.current == nil
	}
	next := m.currentNetQty.Add(m.netDelta(dir))
	return next.Abs().LessThanOrEqual(m.maxPosition)
}

// CanClose reports whether closing in the given direction is allowed. In
// accumulate mode a close while already flat is treated as a reverse open
// and is allowed as long as the cap holds.
func (m *Manager) CanClose(dir model.Direction) bool {
	if m.mode == model.ModeSingle {
		return m.current != nil
	}
	next := m.currentNetQty.Add(m.netDelta(dir))
	return next.Abs().LessThanOrEqual(m.maxPosition)
}

// SetPosition stores p in the single slot and logs both entry legs.
func (m *Manager) SetPosition(p *model.Position, signalDelayAMs, signalDelayBMs int64) {
	m.current = p
	m.history = append(m.history, p)
	m.logOpenTrade(p, signalDelayAMs, signalDelayBMs)
	m.publishNetQty()
}

// AddPosition records one accumulate-mode leg-pair and moves the net
// quantity one step in the trade's direction.
func (m *Manager) AddPosition(p *model.Position, dir model.Direction, signalDelayAMs, signalDelayBMs int64) {
	m.history = append(m.history, p)
	m.currentNetQty = m.currentNetQty.Add(m.netDelta(dir))
	m.log.Info().
		Str("direction", string(dir)).
		Str("net_qty", m.currentNetQty.String()).
		Str("max_position", m.maxPosition.String()).
		Msg("position added")
	m.logOpenTrade(p, signalDelayAMs, signalDelayBMs)
	m.publishNetQty()
}

// ReducePosition records one accumulate-mode closing leg-pair, moves the
// net quantity back one step, and returns the realised pnl percentage.
func (m *Manager) ReducePosition(p *model.Position, dir model.Direction, signalDelayAMs, signalDelayBMs int64) decimal.Decimal {
	m.currentNetQty = m.currentNetQty.Add(m.netDelta(dir))
	pnl := p.PnLPct(p.FilledExitPriceA, p.FilledExitPriceB)
	m.log.Info().
		Str("direction", string(dir)).
		Str("net_qty", m.currentNetQty.String()).
		Str("pnl_pct", pnl.StringFixed(4)).
		Msg("position reduced")
	m.logCloseTrade(p, pnl, signalDelayAMs, signalDelayBMs)
	m.publishNetQty()
	return pnl
}

// ClosePosition computes realised pnl from the slot's position, logs both
// exit legs, clears the slot, and returns the pnl percentage. The position
// must already carry its filled exit prices (the executor sets them).
func (m *Manager) ClosePosition(signalDelayAMs, signalDelayBMs int64) decimal.Decimal {
	p := m.current
	if p == nil {
		return decimal.Zero
	}
	pnl := p.PnLPct(p.FilledExitPriceA, p.FilledExitPriceB)
	m.logCloseTrade(p, pnl, signalDelayAMs, signalDelayBMs)
	m.current = nil
	m.log.Info().
		Str("pnl_pct", pnl.StringFixed(4)).
		Str("held", p.HoldingDuration(time.Now())).
		Msg("position closed")
	m.publishNetQty()
	return pnl
}

// History returns all recorded positions, open and closed.
func (m *Manager) History() []*model.Position { return m.history }

// SyncFromExchanges queries both venues for their actual positions, logs
// any leg mismatch beyond tolerance, and adopts the venue-reported net as
// the authoritative current quantity. Called at startup in accumulate mode.
func (m *Manager) SyncFromExchanges(ctx context.Context, adapterA, adapterB venue.Adapter, symbol string) error {
	posA, okA, err := adapterA.GetPosition(ctx, symbol)
	if err != nil {
		return err
	}
	posB, okB, err := adapterB.GetPosition(ctx, symbol)
	if err != nil {
		return err
	}

	// A short = negative, B long = positive.
	qtyA := decimal.Zero
	if okA {
		qtyA = signedQty(posA)
	}
	qtyB := decimal.Zero
	if okB {
		qtyB = signedQty(posB)
	}

	net := qtyA.Add(qtyB)
	legDiff := qtyA.Abs().Sub(qtyB.Abs()).Abs()
	tolerance := m.positionStep.Mul(DefaultLegMismatchTolerancePct)
	if !m.positionStep.IsZero() && legDiff.GreaterThan(tolerance) {
		m.log.Warn().
			Str("venue_a_qty", qtyA.String()).
			Str("venue_b_qty", qtyB.String()).
			Str("leg_diff", legDiff.String()).
			Str("tolerance", tolerance.String()).
			Msg("hedge legs diverge beyond tolerance")
	}

	if !net.Equal(m.currentNetQty) {
		m.log.Info().
			Str("local", m.currentNetQty.String()).
			Str("venues", net.String()).
			Msg("adopting venue-reported net position")
	}
	m.currentNetQty = net
	m.publishNetQty()
	return nil
}

// VerifyAndSync re-queries both venues and, if the actual net diverges
// from expected by more than tolerance, overwrites the local value with
// venue truth and logs a warning.
func (m *Manager) VerifyAndSync(ctx context.Context, adapterA, adapterB venue.Adapter, symbol string, expected, tolerance decimal.Decimal) error {
	posA, okA, err := adapterA.GetPosition(ctx, symbol)
	if err != nil {
		return err
	}
	posB, okB, err := adapterB.GetPosition(ctx, symbol)
	if err != nil {
		return err
	}
	actual := decimal.Zero
	if okA {
		actual = actual.Add(signedQty(posA))
	}
	if okB {
		actual = actual.Add(signedQty(posB))
	}
	diff := actual.Sub(expected).Abs()
	if diff.GreaterThan(tolerance) {
		m.log.Warn().
			Str("expected", expected.String()).
			Str("actual", actual.String()).
			Str("diff", diff.String()).
			Msg("sync divergence, adopting venue truth")
		m.currentNetQty = actual
		m.publishNetQty()
	}
	return nil
}

func signedQty(p *model.VenuePosition) decimal.Decimal {
	switch p.Side {
	case model.PositionShort:
		return p.Size.Neg()
	case model.PositionLong:
		return p.Size
	}
	return decimal.Zero
}

func (m *Manager) publishNetQty() {
	f, _ := m.CurrentNetQty().Float64()
	metrics.NetPositionQty.WithLabelValues(m.pair).Set(f)
}

func (m *Manager) logOpenTrade(p *model.Position, delayAMs, delayBMs int64) {
	if m.sink == nil {
		return
	}
	m.sink.LogTrade(tradelog.Record{
		Timestamp:     p.OpenTime,
		Pair:          m.pair,
		Exchange:      p.ExchangeAName,
		Side:          string(model.SideSell),
		SignalPrice:   p.SignalEntryPriceA,
		FilledPrice:   p.FilledEntryPriceA,
		Quantity:      p.Quantity,
		OrderID:       p.EntryOrderIDA,
		PositionType:  "open",
		SpreadPct:     p.OpenSpreadPct,
		SignalDelayMs: delayAMs,
	})
	m.sink.LogTrade(tradelog.Record{
		Timestamp:     p.OpenTime,
		Pair:          m.pair,
		Exchange:      p.ExchangeBName,
		Side:          string(model.SideBuy),
		SignalPrice:   p.SignalEntryPriceB,
		FilledPrice:   p.FilledEntryPriceB,
		Quantity:      p.Quantity,
		OrderID:       p.EntryOrderIDB,
		PositionType:  "open",
		SpreadPct:     p.OpenSpreadPct,
		SignalDelayMs: delayBMs,
	})
}

func (m *Manager) logCloseTrade(p *model.Position, pnl decimal.Decimal, delayAMs, delayBMs int64) {
	if m.sink == nil {
		return
	}
	m.sink.LogTrade(tradelog.Record{
		Timestamp:     p.CloseTime,
		Pair:          m.pair,
		Exchange:      p.ExchangeAName,
		Side:          string(model.SideBuy),
		SignalPrice:   p.SignalExitPriceA,
		FilledPrice:   p.FilledExitPriceA,
		Quantity:      p.Quantity,
		OrderID:       p.ExitOrderIDA,
		PositionType:  "close",
		PnLPct:        pnl,
		SignalDelayMs: delayAMs,
	})
	m.sink.LogTrade(tradelog.Record{
		Timestamp:     p.CloseTime,
		Pair:          m.pair,
		Exchange:      p.ExchangeBName,
		Side:          string(model.SideSell),
		SignalPrice:   p.SignalExitPriceB,
		FilledPrice:   p.FilledExitPriceB,
		Quantity:      p.Quantity,
		OrderID:       p.ExitOrderIDB,
		PositionType:  "close",
		PnLPct:        pnl,
		SignalDelayMs: delayBMs,
	})
}
