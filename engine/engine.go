// Package engine wires one trading pair end to end: two venue adapters,
// the price monitor, position manager, executor, and strategy, plus the
// ambient services (trade log sinks, notifier, Redis event bus, admin
// HTTP). One Engine owns one scheduler context per pair; shutdown cancels
// it and every background task drains cooperatively.
package engine

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"hedgearb/adminsrv"
	"hedgearb/bus"
	"hedgearb/clock"
	"hedgearb/config"
	"hedgearb/executor"
	"hedgearb/model"
	"hedgearb/monitor"
	"hedgearb/notify"
	"hedgearb/position"
	"hedgearb/pricing"
	"hedgearb/strategy"
	"hedgearb/tradelog"
	"hedgearb/venue"
	"hedgearb/venue/poll"
	"hedgearb/venue/rfq"
	"hedgearb/venue/ws"
)

// Overrides are the CLI-level knobs that take precedence over the pair's
// YAML configuration.
type Overrides struct {
	Quantity       decimal.Decimal // zero = use config
	OpenThreshold  decimal.Decimal
	CloseThreshold decimal.Decimal
	MonitorOnly    bool
}

// Engine runs a single configured pair until its context is cancelled or a
// fatal unwind failure forces termination.
type Engine struct {
	file *config.File
	log  zerolog.Logger

	publisher *bus.Publisher
	sink      tradelog.Sink
	notifier  notify.Notifier
}

// New builds an Engine from the loaded config file: it connects the audit
// sinks and best-effort services (Redis bus, Telegram) once, shared by
// every pair this process runs.
func New(file *config.File, logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		file: file,
		log:  logger.With().Str("component", "engine").Logger(),
	}

	sinks := tradelog.Multi{tradelog.NewZerologSink(logger)}
	if file.TradeLog.SQLitePath != "" {
		s, err := tradelog.NewSQLiteSink(file.TradeLog.SQLitePath, logger)
		if err != nil {
			return nil, fmt.Errorf("open sqlite trade log: %w", err)
		}
		sinks = append(sinks, s)
	}
	if file.TradeLog.PostgresURL != "" {
		s, err := tradelog.NewPostgresSink(file.TradeLog.PostgresURL, logger)
		if err != nil {
			return nil, fmt.Errorf("connect postgres trade log: %w", err)
		}
		sinks = append(sinks, s)
	}
	e.sink = sinks

	if file.RedisAddr != "" {
		pub, err := bus.New(file.RedisAddr, "", 0, logger)
		if err != nil {
			e.log.Warn().Err(err).Msg("redis unreachable, event publishing disabled")
		} else {
			e.publisher = pub
		}
	}

	if tn, err := notify.NewTelegramNotifier(logger); err != nil {
		e.log.Info().Err(err).Msg("telegram notifier disabled")
		e.notifier = notify.Nop{}
	} else {
		e.notifier = tn
	}
	return e, nil
}

// Close releases the engine's shared resources.
func (e *Engine) Close() {
	e.publisher.Close()
	if e.sink != nil {
		e.sink.Close()
	}
}

// RunPair runs one pair to completion. It returns nil on graceful
// shutdown and executor.ErrFatalUnwind when an unhedged residual forced
// termination.
func (e *Engine) RunPair(ctx context.Context, pairID string, ov Overrides) error {
	pc, err := e.file.Pair(pairID)
	if err != nil {
		return err
	}
	qty, err := pc.QuantityDec()
	if err != nil {
		return err
	}
	if !ov.Quantity.IsZero() {
		qty = ov.Quantity
	}
	minDepth, err := pc.MinDepthDec()
	if err != nil {
		return err
	}
	maxPos, err := pc.MaxPositionDec()
	if err != nil {
		return err
	}
	openThreshold := decimal.NewFromFloat(pc.OpenThreshold)
	closeThreshold := decimal.NewFromFloat(pc.CloseThreshold)
	if !ov.OpenThreshold.IsZero() {
		openThreshold = ov.OpenThreshold
	}
	if !ov.CloseThreshold.IsZero() {
		closeThreshold = ov.CloseThreshold
	}

	contract := pricing.DefaultPrecisionTable.Lookup(pc.Symbol)
	adapterA, err := buildAdapter(pc.ExchangeA, pc.VenueA, pc.Symbol, contract, e.log)
	if err != nil {
		return fmt.Errorf("venue A: %w", err)
	}
	adapterB, err := buildAdapter(pc.ExchangeB, pc.VenueB, pc.Symbol, contract, e.log)
	if err != nil {
		return fmt.Errorf("venue B: %w", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	// Monitor-only still streams live books; only order placement is
	// synthesized, so both adapters connect either way.
	if err := adapterA.Connect(runCtx); err != nil {
		return fmt.Errorf("connect %s: %w", adapterA.Name(), err)
	}
	defer adapterA.Disconnect()
	if err := adapterB.Connect(runCtx); err != nil {
		return fmt.Errorf("connect %s: %w", adapterB.Name(), err)
	}
	defer adapterB.Disconnect()

	mode := model.ModeSingle
	if pc.AccumulateMode {
		mode = model.ModeAccumulate
	}
	sink := e.sink
	if e.publisher != nil {
		sink = tradelog.Multi{e.sink, &busSink{pub: e.publisher}}
	}
	posMgr := position.New(position.Config{
		Pair:        pc.Symbol,
		Mode:        mode,
		MaxPosition: maxPos,
		Step:        qty,
	}, sink, e.log)

	if pc.AccumulateMode && !ov.MonitorOnly {
		if err := posMgr.SyncFromExchanges(runCtx, adapterA, adapterB, pc.Symbol); err != nil {
			e.log.Warn().Err(err).Msg("startup position sync failed")
		}
	}

	exec := executor.New(executor.Config{
		Pair:     pc.Symbol,
		Quantity: qty,
		OnUnwind: e.notifier.NotifyUnwind,
	}, adapterA, adapterB, clock.Real{}, e.log)

	var thresholds strategy.ThresholdSource
	if pc.DynamicThreshold.Enabled {
		thresholds = strategy.NewRollingPercentileThreshold(
			pc.DynamicThreshold.Window,
			pc.DynamicThreshold.OpenPercentile,
			pc.DynamicThreshold.ClosePercentile,
			openThreshold,
			closeThreshold,
		)
	}

	notifier := e.notifier
	if e.publisher != nil {
		notifier = &publishingNotifier{inner: e.notifier, pub: e.publisher}
	}

	stratCfg := strategy.Config{
		Symbol:            pc.Symbol,
		Quantity:          qty,
		OpenThresholdPct:  openThreshold,
		CloseThresholdPct: closeThreshold,
		MinDepthQty:       minDepth,
		MonitorOnly:       ov.MonitorOnly,
		Accumulate:        pc.AccumulateMode,
	}
	if e.publisher != nil {
		stratCfg.SignalHook = e.publisher.PublishSignal
	}
	strat := strategy.New(stratCfg, exec, posMgr, notifier, thresholds, clock.Real{}, e.log)

	trigger := monitor.TriggerA
	if pc.TriggerExchange == "B" {
		trigger = monitor.TriggerB
	}
	mon := monitor.New(monitor.Config{
		Pair:          pc.Symbol,
		ExchangeAName: adapterA.Name(),
		ExchangeBName: adapterB.Name(),
		Trigger:       trigger,
	}, adapterA, adapterB, e.log)
	mon.Subscribe(strat.OnSnapshot)

	if e.file.AdminAddr != "" {
		admin := adminsrv.New(e.file.AdminAddr, map[string]*position.Manager{pc.Symbol: posMgr}, e.log)
		go func() {
			if err := admin.Start(runCtx); err != nil {
				e.log.Warn().Err(err).Msg("admin server stopped")
			}
		}()
	}

	monDone := make(chan error, 1)
	go func() { monDone <- mon.Start(runCtx) }()

	e.log.Info().
		Str("pair", pairID).
		Str("symbol", pc.Symbol).
		Str("qty", qty.String()).
		Str("open_threshold", openThreshold.String()).
		Str("close_threshold", closeThreshold.String()).
		Bool("monitor_only", ov.MonitorOnly).
		Msg("pair running")

	select {
	case err := <-strat.FatalC:
		cancel()
		<-monDone
		return err
	case err := <-monDone:
		return err
	}
}

// buildAdapter instantiates the venue adapter a pair config names: a
// streamed book (ws, with a REST trading delegate), a polled BBO, or an
// RFQ quote loop.
func buildAdapter(name string, vc config.VenueConfig, symbol string, contract pricing.Contract, logger zerolog.Logger) (venue.Adapter, error) {
	switch vc.Kind {
	case "ws":
		trader := poll.New(poll.Config{
			VenueName: name,
			BaseURL:   vc.BaseURL,
			Symbol:    symbol,
			Contract:  contract,
		}, logger)
		return ws.New(ws.Config{
			VenueName: name,
			WSURL:     vc.WSURL,
			Symbol:    symbol,
			Contract:  contract,
		}, logger).WithTrader(trader), nil
	case "poll", "":
		return poll.New(poll.Config{
			VenueName:    name,
			BaseURL:      vc.BaseURL,
			Symbol:       symbol,
			Contract:     contract,
			PollInterval: vc.PollInterval,
		}, logger), nil
	case "rfq":
		return rfq.New(rfq.Config{
			VenueName:    name,
			BaseURL:      vc.BaseURL,
			Symbol:       symbol,
			Contract:     contract,
			PollInterval: vc.PollInterval,
		}, logger), nil
	}
	return nil, fmt.Errorf("unknown venue kind %q for %s", vc.Kind, name)
}

// busSink forwards each trade record to the Redis event bus so dashboards
// see fills in real time alongside the persisted audit sinks.
type busSink struct {
	pub *bus.Publisher
}

func (b *busSink) LogTrade(r tradelog.Record) {
	b.pub.PublishExecution(bus.TradeExecution{
		Exchange:  r.Exchange,
		Pair:      r.Pair,
		Side:      r.Side,
		Action:    r.PositionType,
		Quantity:  r.Quantity,
		Price:     r.FilledPrice,
		SpreadPct: r.SpreadPct,
		Timestamp: r.Timestamp,
	})
}

func (b *busSink) Close() error { return nil }

// publishingNotifier decorates the operator notifier with round-trip
// summaries on the event bus.
type publishingNotifier struct {
	inner notify.Notifier
	pub   *bus.Publisher
}

func (n *publishingNotifier) NotifyOpen(p *model.Position) { n.inner.NotifyOpen(p) }

func (n *publishingNotifier) NotifyClose(p *model.Position, pnlPct decimal.Decimal) {
	n.pub.PublishSummary(p, pnlPct)
	n.inner.NotifyClose(p, pnlPct)
}

func (n *publishingNotifier) NotifyUnwind(venueName string, qty decimal.Decimal) {
	n.inner.NotifyUnwind(venueName, qty)
}

func (n *publishingNotifier) NotifyFatal(msg string) { n.inner.NotifyFatal(msg) }
