// Package executor implements the two-leg parallel order executor. An
// open or close is an atomic-intent operation: both legs are submitted
// concurrently, single-leg failures are retried, and an unhedgeable
// residual triggers an emergency unwind rather than a silent one-sided
// position.
package executor

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"hedgearb/clock"
	"hedgearb/metrics"
	"hedgearb/model"
	"hedgearb/venue"
)

// Retry defaults.
const (
	DefaultMaxRetries     = 3
	DefaultCloseRetries   = 5
	DefaultRetryDelay     = 300 * time.Millisecond
	DefaultUnwindRetries  = 5
	aggressiveFromAttempt = 3
)

// DefaultBalanceTolerance is the residual leg mismatch tolerated after
// top-up and trim.
var DefaultBalanceTolerance = decimal.NewFromFloat(0.001)

// ErrFatalUnwind is returned when the emergency unwind itself failed and a
// single-leg residual remains: the process must stop and a human must
// square the book.
var ErrFatalUnwind = errors.New("fatal unwind failure: unhedged single-leg residual")

// Executor drives two venue adapters as one hedged instrument.
type Executor struct {
	adapterA venue.Adapter
	adapterB venue.Adapter

	pair     string
	quantity decimal.Decimal

	maxRetries       int
	retryDelay       time.Duration
	balanceTolerance decimal.Decimal

	onUnwind func(venueName string, qty decimal.Decimal)

	clk clock.Clock
	log zerolog.Logger
}

// Config parameterises an Executor.
type Config struct {
	Pair             string
	Quantity         decimal.Decimal
	MaxRetries       int
	RetryDelay       time.Duration
	BalanceTolerance decimal.Decimal

	// OnUnwind, when set, is called after a successful emergency unwind
	// so the operator can be notified.
	OnUnwind func(venueName string, qty decimal.Decimal)
}

// New creates an Executor over the two venue legs. A is always the short
// leg, B the long leg.
func New(cfg Config, adapterA, adapterB venue.Adapter, clk clock.Clock, logger zerolog.Logger) *Executor {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.BalanceTolerance.IsZero() {
		cfg.BalanceTolerance = DefaultBalanceTolerance
	}
	if clk == nil {
		clk = clock.Real{}
	}
	return &Executor{
		adapterA:         adapterA,
		adapterB:         adapterB,
		pair:             cfg.Pair,
		quantity:         cfg.Quantity,
		maxRetries:       cfg.MaxRetries,
		retryDelay:       cfg.RetryDelay,
		balanceTolerance: cfg.BalanceTolerance,
		onUnwind:         cfg.OnUnwind,
		clk:              clk,
		log:              logger.With().Str("component", "executor").Str("pair", cfg.Pair).Logger(),
	}
}

// OpenRequest carries everything ExecuteOpen needs from a strategy signal.
type OpenRequest struct {
	PriceA    decimal.Decimal // A sell-to-open reference (A's bid)
	PriceB    decimal.Decimal // B buy-to-open reference (B's ask)
	SpreadPct decimal.Decimal
	QuoteIDA  string
	QuoteIDB  string
	SignalAt  time.Time // zero means no signal timing is recorded
}

// CloseRequest carries everything ExecuteClose needs.
type CloseRequest struct {
	Position *model.Position
	PriceA   decimal.Decimal // A buy-to-close reference (A's ask)
	PriceB   decimal.Decimal // B sell-to-close reference (B's bid)
	QuoteIDA string
	QuoteIDB string
	SignalAt time.Time
}

type legResult struct {
	res *model.OrderResult
	err error
}

// legOrders carries the per-leg parameters of one parallel submission.
type legOrders struct {
	priceA, priceB     decimal.Decimal
	quoteIDA, quoteIDB string
	sideA, sideB       model.Side
}

// placeParallel submits both legs concurrently and joins before returning:
// no Position is constructed until both legs have reported.
func (e *Executor) placeParallel(ctx context.Context, open bool, qty decimal.Decimal, req legOrders) (legResult, legResult) {
	var a, b legResult
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if open {
			a.res, a.err = e.adapterA.PlaceOpenOrder(ctx, req.sideA, qty, req.priceA, model.RetryOpportunistic, req.quoteIDA)
		} else {
			a.res, a.err = e.adapterA.PlaceCloseOrder(ctx, req.sideA, qty, req.priceA, model.RetryOpportunistic, req.quoteIDA)
		}
	}()
	go func() {
		defer wg.Done()
		if open {
			b.res, b.err = e.adapterB.PlaceOpenOrder(ctx, req.sideB, qty, req.priceB, model.RetryAggressive, req.quoteIDB)
		} else {
			b.res, b.err = e.adapterB.PlaceCloseOrder(ctx, req.sideB, qty, req.priceB, model.RetryAggressive, req.quoteIDB)
		}
	}()
	wg.Wait()
	return a, b
}

// succeeded treats a partial fill as success: the leg is live and the
// quantity mismatch belongs to reconciliation, not the single-leg retry
// path.
func succeeded(l legResult) bool {
	if l.err != nil || l.res == nil {
		return false
	}
	return l.res.Success || (l.res.PartialFill && l.res.FilledQty.IsPositive())
}

// ExecuteOpen runs the four-outcome open protocol: parallel submit,
// single-leg retry, emergency unwind on exhaustion. On success the
// returned Position carries filled entry prices, order ids, and timing
// metrics. A nil Position with a nil error means the cycle was skipped.
// ErrFatalUnwind is the only terminal error.
func (e *Executor) ExecuteOpen(ctx context.Context, req OpenRequest) (*model.Position, error) {
	start := e.clk.Now()
	if !req.SignalAt.IsZero() {
		e.log.Debug().Int64("signal_to_submit_ms", start.Sub(req.SignalAt).Milliseconds()).Msg("open execution starting")
	}
	e.log.Info().
		Str("price_a", req.PriceA.String()).
		Str("price_b", req.PriceB.String()).
		Str("spread_pct", req.SpreadPct.StringFixed(4)).
		Msg("📤 executing open: sell A / buy B")

	resA, resB := e.placeParallel(ctx, true, e.quantity, legOrders{
		priceA: req.PriceA, priceB: req.PriceB,
		quoteIDA: req.QuoteIDA, quoteIDB: req.QuoteIDB,
		sideA: model.SideSell, sideB: model.SideBuy,
	})

	sA, sB := succeeded(resA), succeeded(resB)
	attemptsA, attemptsB := 1, 1

	switch {
	case !sA && !sB:
		// Outcome 1: skip the cycle entirely.
		e.log.Warn().
			Str("error_a", legError(resA)).
			Str("error_b", legError(resB)).
			Msg("open failed on both legs, skipping cycle")
		e.countOrder(e.adapterA.Name(), model.SideSell, "rejected")
		e.countOrder(e.adapterB.Name(), model.SideBuy, "rejected")
		return nil, nil

	case !sA && sB:
		// Outcome 3: retry A aggressively; on exhaustion unwind B.
		e.log.Warn().Str("error", legError(resA)).Msg("leg A failed, retrying aggressively")
		retry, attempts := e.retryPlaceOrder(ctx, e.adapterA, orderOpen, model.SideSell, e.quantity, req.PriceA, model.RetryAggressive, req.QuoteIDA, e.maxRetries)
		attemptsA += attempts
		if retry == nil || !retry.Success {
			if err := e.emergencyClose(ctx, e.adapterB, model.SideSell, filledOrDefault(resB.res, e.quantity)); err != nil {
				return nil, err
			}
			return nil, nil
		}
		resA.res, resA.err = retry, nil

	case sA && !sB:
		// Outcome 4: symmetric.
		e.log.Warn().Str("error", legError(resB)).Msg("leg B failed, retrying aggressively")
		retry, attempts := e.retryPlaceOrder(ctx, e.adapterB, orderOpen, model.SideBuy, e.quantity, req.PriceB, model.RetryAggressive, req.QuoteIDB, e.maxRetries)
		attemptsB += attempts
		if retry == nil || !retry.Success {
			if err := e.emergencyClose(ctx, e.adapterA, model.SideBuy, filledOrDefault(resA.res, e.quantity)); err != nil {
				return nil, err
			}
			return nil, nil
		}
		resB.res, resB.err = retry, nil
	}

	// Outcome 2: both legs filled (possibly after retry). Reconcile
	// fill quantities before a Position exists.
	filledA := filledOrDefault(resA.res, e.quantity)
	filledB := filledOrDefault(resB.res, e.quantity)
	balancedA, balancedB, err := e.balancePositions(ctx, e.quantity, filledA, filledB, model.SideSell, model.SideBuy, req.PriceA, req.PriceB, orderOpen)
	if err != nil {
		return nil, err
	}
	finalQty := decimal.Min(balancedA, balancedB)
	if finalQty.IsZero() {
		e.log.Error().Msg("balanced position is zero after reconciliation")
		return nil, nil
	}

	end := e.clk.Now()
	execMs := end.Sub(start).Milliseconds()
	metricsObserve(e.pair, "open", execMs)
	e.countOrder(e.adapterA.Name(), model.SideSell, "filled")
	e.countOrder(e.adapterB.Name(), model.SideBuy, "filled")

	pos := &model.Position{
		Symbol:            e.pair,
		Quantity:          finalQty,
		ExchangeAName:     e.adapterA.Name(),
		ExchangeBName:     e.adapterB.Name(),
		SignalEntryPriceA: req.PriceA,
		SignalEntryPriceB: req.PriceB,
		FilledEntryPriceA: priceOrDefault(resA.res, req.PriceA),
		FilledEntryPriceB: priceOrDefault(resB.res, req.PriceB),
		EntryOrderIDA:     resA.res.OrderID,
		EntryOrderIDB:     resB.res.OrderID,
		OpenSpreadPct:     req.SpreadPct,
		OpenTime:          end,
		Metrics: &model.ExecutionMetrics{
			EntryDelayMs:    delayMs(req.SignalAt, end),
			ExecDurationAMs: execMs,
			ExecDurationBMs: execMs,
			AttemptsA:       attemptsA,
			AttemptsB:       attemptsB,
		},
	}
	e.log.Info().
		Str("qty", finalQty.String()).
		Str("filled_a", pos.FilledEntryPriceA.String()).
		Str("filled_b", pos.FilledEntryPriceB.String()).
		Int64("exec_ms", execMs).
		Msg("✅ open complete")
	return pos, nil
}

// ExecuteClose runs the close protocol: parallel submit, then retry a
// failed leg with a raised attempt bound (maxRetries+2 attempts for leg A,
// DefaultCloseRetries for leg B). If that leg still fails, ErrFatalUnwind
// is returned and the close is not retried further. Both-legs-failed skips
// the cycle (the position stays open). On success the passed Position is
// mutated with exit prices/ids/times and returned.
func (e *Executor) ExecuteClose(ctx context.Context, req CloseRequest) (*model.Position, error) {
	pos := req.Position
	start := e.clk.Now()
	e.log.Info().
		Str("price_a", req.PriceA.String()).
		Str("price_b", req.PriceB.String()).
		Str("qty", pos.Quantity.String()).
		Msg("📤 executing close: buy A / sell B")

	resA, resB := e.placeParallel(ctx, false, pos.Quantity, legOrders{
		priceA: req.PriceA, priceB: req.PriceB,
		quoteIDA: req.QuoteIDA, quoteIDB: req.QuoteIDB,
		sideA: model.SideBuy, sideB: model.SideSell,
	})

	sA, sB := succeeded(resA), succeeded(resB)
	attemptsA, attemptsB := 1, 1

	switch {
	case !sA && !sB:
		e.log.Warn().
			Str("error_a", legError(resA)).
			Str("error_b", legError(resB)).
			Msg("close failed on both legs, will retry on next signal")
		return nil, nil

	case !sA && sB:
		// The failing side of a close is retried with a raised attempt
		// bound; exhausting it is fatal rather than leaving a silent
		// half-closed hedge.
		retry, attempts := e.retryPlaceOrder(ctx, e.adapterA, orderClose, model.SideBuy, pos.Quantity, req.PriceA, model.RetryOpportunistic, req.QuoteIDA, e.maxRetries+2)
		attemptsA += attempts
		if retry == nil || !retry.Success {
			e.log.Error().Msg("🚨 leg A close failed after retries, manual intervention required")
			metrics.UnwindsTotal.WithLabelValues(e.pair, e.adapterA.Name(), "failed").Inc()
			return nil, ErrFatalUnwind
		}
		resA.res, resA.err = retry, nil

	case sA && !sB:
		retry, attempts := e.retryPlaceOrder(ctx, e.adapterB, orderClose, model.SideSell, pos.Quantity, req.PriceB, model.RetryAggressive, req.QuoteIDB, DefaultCloseRetries)
		attemptsB += attempts
		if retry == nil || !retry.Success {
			e.log.Error().Msg("🚨 leg B close failed after retries, manual intervention required")
			metrics.UnwindsTotal.WithLabelValues(e.pair, e.adapterB.Name(), "failed").Inc()
			return nil, ErrFatalUnwind
		}
		resB.res, resB.err = retry, nil
	}

	filledA := filledOrDefault(resA.res, pos.Quantity)
	filledB := filledOrDefault(resB.res, pos.Quantity)
	if _, _, err := e.balancePositions(ctx, pos.Quantity, filledA, filledB, model.SideBuy, model.SideSell, req.PriceA, req.PriceB, orderClose); err != nil {
		return nil, err
	}

	end := e.clk.Now()
	execMs := end.Sub(start).Milliseconds()
	metricsObserve(e.pair, "close", execMs)
	e.countOrder(e.adapterA.Name(), model.SideBuy, "filled")
	e.countOrder(e.adapterB.Name(), model.SideSell, "filled")

	pos.SignalExitPriceA = req.PriceA
	pos.SignalExitPriceB = req.PriceB
	pos.FilledExitPriceA = priceOrDefault(resA.res, req.PriceA)
	pos.FilledExitPriceB = priceOrDefault(resB.res, req.PriceB)
	pos.ExitOrderIDA = resA.res.OrderID
	pos.ExitOrderIDB = resB.res.OrderID
	pos.CloseTime = end
	if pos.Metrics == nil {
		pos.Metrics = &model.ExecutionMetrics{}
	}
	pos.Metrics.ExitDelayMs = delayMs(req.SignalAt, end)
	pos.Metrics.AttemptsA += attemptsA - 1
	pos.Metrics.AttemptsB += attemptsB - 1

	e.log.Info().
		Str("filled_a", pos.FilledExitPriceA.String()).
		Str("filled_b", pos.FilledExitPriceB.String()).
		Str("held", pos.HoldingDuration(end)).
		Int64("exec_ms", execMs).
		Msg("✅ close complete")
	return pos, nil
}

type orderType int

const (
	orderOpen orderType = iota
	orderClose
)

// retryPlaceOrder is the bounded placement retry loop: every attempt
// after the first refreshes the reference price (and quote id) from the
// adapter's cached book, and from attempt 3 onward the mode is forced
// aggressive. A partial fill is returned as success so the caller can
// reconcile. Returns the last result (nil when ctx ended before any
// attempt returned a result) plus the number of attempts consumed.
func (e *Executor) retryPlaceOrder(ctx context.Context, ad venue.Adapter, ot orderType, side model.Side, qty, price decimal.Decimal, mode model.RetryMode, quoteID string, maxRetries int) (*model.OrderResult, int) {
	currentPrice := price
	currentQuoteID := quoteID
	var last *model.OrderResult

	for attempt := 1; attempt <= maxRetries; attempt++ {
		if ctx.Err() != nil {
			return last, attempt - 1
		}
		if attempt > 1 {
			metrics.OrderRetries.WithLabelValues(e.pair, ad.Name()).Inc()
			if err := e.clk.Sleep(ctx, e.retryDelay); err != nil {
				return last, attempt - 1
			}
			if book, ok := ad.GetLatestOrderBook(); ok {
				if book.QuoteID != "" {
					currentQuoteID = book.QuoteID
				}
				if side == model.SideBuy {
					if ask, ok := book.BestAsk(); ok {
						currentPrice = ask.Price
					}
				} else {
					if bid, ok := book.BestBid(); ok {
						currentPrice = bid.Price
					}
				}
			}
		}
		currentMode := mode
		if attempt >= aggressiveFromAttempt {
			currentMode = model.RetryAggressive
		}

		var res *model.OrderResult
		var err error
		switch ot {
		case orderOpen:
			res, err = ad.PlaceOpenOrder(ctx, side, qty, currentPrice, currentMode, currentQuoteID)
		default:
			res, err = ad.PlaceCloseOrder(ctx, side, qty, currentPrice, currentMode, currentQuoteID)
		}
		if err != nil {
			e.log.Warn().Err(err).Str("venue", ad.Name()).Int("attempt", attempt).Msg("place order errored")
			continue
		}
		last = res
		if res.PartialFill && res.FilledQty.IsPositive() {
			// A partial fill is progress, not failure: hand it up for
			// quantity reconciliation.
			partial := *res
			partial.Success = true
			return &partial, attempt
		}
		if res.Success {
			return res, attempt
		}
		e.log.Warn().
			Str("venue", ad.Name()).
			Int("attempt", attempt).
			Str("error", res.ErrorMessage).
			Msg("place order rejected")
	}
	if last == nil {
		last = &model.OrderResult{Success: false, ErrorKind: "retries_exhausted", ErrorMessage: "max retries exceeded"}
	}
	return last, maxRetries
}

// balancePositions reconciles mismatched fill quantities: first top up
// each under-filled side to the target with aggressive
// orders, then trim the over-filled side with a reverse order if the legs
// still differ beyond tolerance.
func (e *Executor) balancePositions(ctx context.Context, target, filledA, filledB decimal.Decimal, sideA, sideB model.Side, priceA, priceB decimal.Decimal, ot orderType) (decimal.Decimal, decimal.Decimal, error) {
	diffA := target.Sub(filledA)
	diffB := target.Sub(filledB)
	if diffA.IsZero() && diffB.IsZero() {
		return filledA, filledB, nil
	}
	e.log.Warn().
		Str("target", target.String()).
		Str("filled_a", filledA.String()).
		Str("filled_b", filledB.String()).
		Msg("hedge imbalance detected, reconciling")

	balancedA, balancedB := filledA, filledB
	if diffA.IsPositive() {
		if res, _ := e.retryPlaceOrder(ctx, e.adapterA, ot, sideA, diffA, priceA, model.RetryAggressive, "", e.maxRetries); res != nil && res.Success {
			balancedA = balancedA.Add(res.FilledQty)
		}
	}
	if diffB.IsPositive() {
		if res, _ := e.retryPlaceOrder(ctx, e.adapterB, ot, sideB, diffB, priceB, model.RetryAggressive, "", e.maxRetries); res != nil && res.Success {
			balancedB = balancedB.Add(res.FilledQty)
		}
	}

	finalDiff := balancedA.Sub(balancedB)
	if finalDiff.Abs().GreaterThan(e.balanceTolerance) {
		if finalDiff.IsPositive() {
			// A is over-filled: trim the excess with a reverse order.
			reverse := model.SideSell
			if sideA == model.SideSell {
				reverse = model.SideBuy
			}
			if res, _ := e.retryPlaceOrder(ctx, e.adapterA, orderClose, reverse, finalDiff, priceA, model.RetryAggressive, "", e.maxRetries); res != nil && res.Success {
				balancedA = balancedA.Sub(res.FilledQty)
			}
		} else {
			reverse := model.SideSell
			if sideB == model.SideSell {
				reverse = model.SideBuy
			}
			if res, _ := e.retryPlaceOrder(ctx, e.adapterB, orderClose, reverse, finalDiff.Abs(), priceB, model.RetryAggressive, "", e.maxRetries); res != nil && res.Success {
				balancedB = balancedB.Sub(res.FilledQty)
			}
		}
	}

	residual := balancedA.Sub(balancedB).Abs()
	if residual.GreaterThan(e.balanceTolerance) {
		e.log.Error().
			Str("balanced_a", balancedA.String()).
			Str("balanced_b", balancedB.String()).
			Str("residual", residual.String()).
			Msg("🚨 hedge imbalance unresolvable after top-up and trim")
		return balancedA, balancedB, ErrFatalUnwind
	}
	e.log.Info().
		Str("balanced_a", balancedA.String()).
		Str("balanced_b", balancedB.String()).
		Msg("hedge rebalanced")
	return balancedA, balancedB, nil
}

// emergencyClose unwinds a single filled leg at the venue's current top of
// book with aggressive retry, restoring flat exposure after the other leg
// could not be completed. side is the direction that reverses the filled
// leg. Returns ErrFatalUnwind when the unwind itself fails.
func (e *Executor) emergencyClose(ctx context.Context, ad venue.Adapter, side model.Side, qty decimal.Decimal) error {
	e.log.Warn().Str("venue", ad.Name()).Str("qty", qty.String()).Msg("🚨 emergency unwind")

	book, ok := ad.GetLatestOrderBook()
	if !ok {
		e.log.Error().Str("venue", ad.Name()).Msg("no book available for emergency unwind")
		metrics.UnwindsTotal.WithLabelValues(e.pair, ad.Name(), "failed").Inc()
		return ErrFatalUnwind
	}
	var price decimal.Decimal
	if side == model.SideBuy {
		ask, ok := book.BestAsk()
		if !ok {
			metrics.UnwindsTotal.WithLabelValues(e.pair, ad.Name(), "failed").Inc()
			return ErrFatalUnwind
		}
		price = ask.Price
	} else {
		bid, ok := book.BestBid()
		if !ok {
			metrics.UnwindsTotal.WithLabelValues(e.pair, ad.Name(), "failed").Inc()
			return ErrFatalUnwind
		}
		price = bid.Price
	}

	res, _ := e.retryPlaceOrder(ctx, ad, orderClose, side, qty, price, model.RetryAggressive, book.QuoteID, DefaultUnwindRetries)
	if res == nil || !res.Success {
		e.log.Error().Str("venue", ad.Name()).Msg("🚨 emergency unwind failed, manual intervention required")
		metrics.UnwindsTotal.WithLabelValues(e.pair, ad.Name(), "failed").Inc()
		return ErrFatalUnwind
	}
	e.log.Info().Str("venue", ad.Name()).Str("order_id", res.OrderID).Msg("unwind complete")
	metrics.UnwindsTotal.WithLabelValues(e.pair, ad.Name(), "ok").Inc()
	if e.onUnwind != nil {
		e.onUnwind(ad.Name(), qty)
	}
	return nil
}

func legError(l legResult) string {
	if l.err != nil {
		return l.err.Error()
	}
	if l.res != nil && l.res.ErrorMessage != "" {
		return l.res.ErrorMessage
	}
	return ""
}

func filledOrDefault(r *model.OrderResult, def decimal.Decimal) decimal.Decimal {
	if r != nil && r.FilledQty.IsPositive() {
		return r.FilledQty
	}
	return def
}

func priceOrDefault(r *model.OrderResult, def decimal.Decimal) decimal.Decimal {
	if r != nil && r.FilledPrice.IsPositive() {
		return r.FilledPrice
	}
	return def
}

func delayMs(signalAt, end time.Time) int64 {
	if signalAt.IsZero() {
		return 0
	}
	return end.Sub(signalAt).Milliseconds()
}

func metricsObserve(pair, direction string, ms int64) {
	metrics.ExecutionDurationMs.WithLabelValues(pair, direction).Observe(float64(ms))
}

func (e *Executor) countOrder(venueName string, side model.Side, outcome string) {
	metrics.OrdersTotal.WithLabelValues(e.pair, venueName, string(side), outcome).Inc()
}
