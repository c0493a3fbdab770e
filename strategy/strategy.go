// Package strategy implements the signal state machine: it consumes
// PriceSnapshots from the monitor, gates open/close signals by threshold,
// cooldown, staleness, and depth, and drives the executor and position
// manager.
package strategy

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"hedgearb/clock"
	"hedgearb/executor"
	"hedgearb/metrics"
	"hedgearb/model"
	"hedgearb/notify"
	"hedgearb/position"
)

// Gate defaults.
const (
	DefaultCooldown       = 5 * time.Second
	DefaultMaxSignalDelay = 150 * time.Millisecond
)

// Config parameterises a Strategy.
type Config struct {
	Symbol            string
	Quantity          decimal.Decimal
	OpenThresholdPct  decimal.Decimal
	CloseThresholdPct decimal.Decimal
	MinDepthQty       decimal.Decimal
	Cooldown          time.Duration
	MaxSignalDelay    time.Duration
	MonitorOnly       bool
	Accumulate        bool

	// SignalHook, when set, observes every emitted signal (after gating,
	// before execution). Used by the engine to publish signal events.
	SignalHook func(sig *model.TradingSignal, at time.Time)
}

// Strategy evaluates every snapshot and serialises execution through a
// single in-flight lock; snapshots arriving mid-trade are dropped, never
// queued.
type Strategy struct {
	cfg        Config
	thresholds ThresholdSource

	exec     *executor.Executor
	pos      *position.Manager
	notifier notify.Notifier
	clk      clock.Clock
	log      zerolog.Logger

	mu           sync.Mutex
	executing    bool
	lastOpenTime time.Time

	// FatalC delivers the one error class the strategy cannot absorb:
	// the engine reads it and terminates the process.
	FatalC chan error
}

// New creates a Strategy. thresholds may be nil, in which case the static
// configured thresholds are used.
func New(cfg Config, exec *executor.Executor, pos *position.Manager, notifier notify.Notifier, thresholds ThresholdSource, clk clock.Clock, logger zerolog.Logger) *Strategy {
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.MaxSignalDelay <= 0 {
		cfg.MaxSignalDelay = DefaultMaxSignalDelay
	}
	if thresholds == nil {
		thresholds = StaticThreshold{OpenPct: cfg.OpenThresholdPct, ClosePct: cfg.CloseThresholdPct}
	}
	if notifier == nil {
		notifier = notify.Nop{}
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Strategy{
		cfg:        cfg,
		thresholds: thresholds,
		exec:       exec,
		pos:        pos,
		notifier:   notifier,
		clk:        clk,
		log:        logger.With().Str("component", "strategy").Str("pair", cfg.Symbol).Logger(),
		FatalC:     make(chan error, 1),
	}
}

// OnSnapshot is the monitor callback: one full evaluation per snapshot.
// Errors never propagate out; a FatalUnwindFailure is delivered on FatalC.
func (s *Strategy) OnSnapshot(snap *model.PriceSnapshot) {
	s.mu.Lock()
	if s.executing {
		s.mu.Unlock()
		return
	}
	now := s.clk.Now()
	openPct := snap.OpenSpreadPct()
	closePct := snap.CloseSpreadPct()
	s.thresholds.Observe(openPct, closePct)
	openThreshold, closeThreshold := s.thresholds.Thresholds()

	sig := s.evaluate(snap, now, openPct, closePct, openThreshold, closeThreshold)
	if sig == nil {
		s.mu.Unlock()
		return
	}
	s.executing = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.executing = false
		s.mu.Unlock()
	}()

	metrics.SignalsTotal.WithLabelValues(s.cfg.Symbol, string(sig.Type)).Inc()
	if s.cfg.SignalHook != nil {
		s.cfg.SignalHook(sig, now)
	}
	switch sig.Type {
	case model.SignalOpen:
		s.handleOpen(sig, now)
	case model.SignalClose:
		s.handleClose(sig, now)
	}
}

// evaluate applies the gate chain and returns a signal, or nil with
// the skip reason logged. Caller holds s.mu.
func (s *Strategy) evaluate(snap *model.PriceSnapshot, now time.Time, openPct, closePct, openThreshold, closeThreshold decimal.Decimal) *model.TradingSignal {
	wantOpen := s.canOpenNow()
	wantClose := s.canCloseNow()

	if wantOpen && openPct.GreaterThanOrEqual(openThreshold) {
		if remaining := s.cfg.Cooldown - now.Sub(s.lastOpenTime); !s.lastOpenTime.IsZero() && remaining > 0 {
			s.log.Debug().Dur("remaining", remaining).Msg("signal skipped: cooldown")
			return nil
		}
		if reason, ok := s.signalFresh(snap, now); !ok {
			s.log.Warn().Str("reason", reason).Msg("signal skipped: signal delay exceeded")
			return nil
		}
		if snap.BidSizeA.LessThan(s.cfg.MinDepthQty) || snap.AskSizeB.LessThan(s.cfg.MinDepthQty) {
			s.log.Debug().
				Str("bid_size_a", snap.BidSizeA.String()).
				Str("ask_size_b", snap.AskSizeB.String()).
				Str("min_depth", s.cfg.MinDepthQty.String()).
				Msg("signal skipped: depth insufficient")
			return nil
		}
		return &model.TradingSignal{
			Type:      model.SignalOpen,
			Symbol:    s.cfg.Symbol,
			SpreadPct: openPct,
			Snapshot:  snap,
			Reason:    "open spread above threshold",
		}
	}

	if wantClose && closePct.GreaterThanOrEqual(closeThreshold) {
		if reason, ok := s.signalFresh(snap, now); !ok {
			s.log.Warn().Str("reason", reason).Msg("signal skipped: signal delay exceeded")
			return nil
		}
		return &model.TradingSignal{
			Type:      model.SignalClose,
			Symbol:    s.cfg.Symbol,
			SpreadPct: closePct,
			Snapshot:  snap,
			Reason:    "close spread above threshold",
		}
	}
	return nil
}

func (s *Strategy) canOpenNow() bool {
	if s.cfg.Accumulate {
		return s.pos.CanOpen(model.DirectionOpenShort)
	}
	return !s.pos.HasPosition()
}

func (s *Strategy) canCloseNow() bool {
	if s.cfg.Accumulate {
		// Cap is the only gate: a close while flat runs as a reverse open.
		return s.pos.CanClose(model.DirectionCloseShort)
	}
	return s.pos.HasPosition()
}

// signalFresh checks both legs' snapshot ages against MaxSignalDelay; a
// stale leg (common when one venue streams and the other polls) must not
// fire a trade.
func (s *Strategy) signalFresh(snap *model.PriceSnapshot, now time.Time) (string, bool) {
	ageA := snap.AgeA(now)
	ageB := snap.AgeB(now)
	if ageA > s.cfg.MaxSignalDelay {
		return "venue A snapshot age " + ageA.String() + " exceeds " + s.cfg.MaxSignalDelay.String(), false
	}
	if ageB > s.cfg.MaxSignalDelay {
		return "venue B snapshot age " + ageB.String() + " exceeds " + s.cfg.MaxSignalDelay.String(), false
	}
	return "", true
}

func (s *Strategy) handleOpen(sig *model.TradingSignal, signalAt time.Time) {
	snap := sig.Snapshot
	delayA := snap.AgeA(signalAt).Milliseconds()
	delayB := snap.AgeB(signalAt).Milliseconds()

	if s.cfg.MonitorOnly {
		// Virtual fill at the quoted reference prices: same bookkeeping,
		// no adapter calls.
		pos := &model.Position{
			Symbol:            s.cfg.Symbol,
			Quantity:          s.cfg.Quantity,
			ExchangeAName:     snap.ExchangeAName,
			ExchangeBName:     snap.ExchangeBName,
			SignalEntryPriceA: snap.BidA,
			FilledEntryPriceA: snap.BidA,
			SignalEntryPriceB: snap.AskB,
			FilledEntryPriceB: snap.AskB,
			EntryOrderIDA:     "virtual",
			EntryOrderIDB:     "virtual",
			OpenSpreadPct:     sig.SpreadPct,
			OpenTime:          signalAt,
		}
		s.recordOpen(pos, delayA, delayB, signalAt)
		s.log.Info().Str("spread_pct", sig.SpreadPct.StringFixed(4)).Msg("monitor-only: virtual open")
		return
	}

	pos, err := s.exec.ExecuteOpen(context.Background(), executor.OpenRequest{
		PriceA:    snap.BidA,
		PriceB:    snap.AskB,
		SpreadPct: sig.SpreadPct,
		QuoteIDA:  snap.QuoteIDA,
		QuoteIDB:  snap.QuoteIDB,
		SignalAt:  signalAt,
	})
	if err != nil {
		s.fatal(err)
		return
	}
	if pos == nil {
		return
	}
	s.recordOpen(pos, delayA, delayB, signalAt)
	s.notifier.NotifyOpen(pos)
}

func (s *Strategy) recordOpen(pos *model.Position, delayA, delayB int64, signalAt time.Time) {
	if s.cfg.Accumulate {
		s.pos.AddPosition(pos, model.DirectionOpenShort, delayA, delayB)
	} else {
		s.pos.SetPosition(pos, delayA, delayB)
	}
	s.mu.Lock()
	s.lastOpenTime = signalAt
	s.mu.Unlock()
}

func (s *Strategy) handleClose(sig *model.TradingSignal, signalAt time.Time) {
	snap := sig.Snapshot
	held, ok := s.pos.GetPosition()
	if !ok {
		if !s.cfg.Accumulate {
			return
		}
		// Flat in accumulate mode: the close legs (A buys, B sells) run as
		// a reverse open, bounded only by the cap. Entry fields carry the
		// close-side reference prices so the leg pair is fully recorded.
		held = &model.Position{
			Symbol:            s.cfg.Symbol,
			Quantity:          s.cfg.Quantity,
			ExchangeAName:     snap.ExchangeAName,
			ExchangeBName:     snap.ExchangeBName,
			SignalEntryPriceA: snap.AskA,
			FilledEntryPriceA: snap.AskA,
			SignalEntryPriceB: snap.BidB,
			FilledEntryPriceB: snap.BidB,
			OpenSpreadPct:     sig.SpreadPct,
			OpenTime:          signalAt,
		}
	}
	delayA := snap.AgeA(signalAt).Milliseconds()
	delayB := snap.AgeB(signalAt).Milliseconds()

	if s.cfg.MonitorOnly {
		held.SignalExitPriceA = snap.AskA
		held.FilledExitPriceA = snap.AskA
		held.SignalExitPriceB = snap.BidB
		held.FilledExitPriceB = snap.BidB
		held.ExitOrderIDA = "virtual"
		held.ExitOrderIDB = "virtual"
		held.CloseTime = signalAt
		pnl := s.recordClose(held, delayA, delayB)
		s.log.Info().Str("pnl_pct", pnl.StringFixed(4)).Msg("monitor-only: virtual close")
		return
	}

	pos, err := s.exec.ExecuteClose(context.Background(), executor.CloseRequest{
		Position: held,
		PriceA:   snap.AskA,
		PriceB:   snap.BidB,
		QuoteIDA: snap.QuoteIDA,
		QuoteIDB: snap.QuoteIDB,
		SignalAt: signalAt,
	})
	if err != nil {
		s.fatal(err)
		return
	}
	if pos == nil {
		return
	}
	pnl := s.recordClose(pos, delayA, delayB)
	s.notifier.NotifyClose(pos, pnl)
}

func (s *Strategy) recordClose(pos *model.Position, delayA, delayB int64) decimal.Decimal {
	if s.cfg.Accumulate {
		return s.pos.ReducePosition(pos, model.DirectionCloseShort, delayA, delayB)
	}
	return s.pos.ClosePosition(delayA, delayB)
}

// fatal surfaces a FatalUnwindFailure to the engine: the process prefers
// crashing over running with silent unhedged exposure.
func (s *Strategy) fatal(err error) {
	s.log.Error().Err(err).Msg("🚨 fatal execution failure")
	s.notifier.NotifyFatal(err.Error())
	select {
	case s.FatalC <- err:
	default:
	}
}
