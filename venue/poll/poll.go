// Package poll implements venue.Adapter for exchanges that expose only a
// REST best-bid/offer endpoint: no WebSocket push, no RFQ quote lifecycle.
// The adapter polls at a fixed cadence and reports a fresh model.OrderBook
// to its subscriber on every tick where the top of book actually changed.
package poll

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"hedgearb/model"
	"hedgearb/pricing"
	"hedgearb/venue"
)

// DefaultPollInterval is the default cadence for REST-BBO venues.
const DefaultPollInterval = 500 * time.Millisecond

// Config parameterises one Adapter instance.
type Config struct {
	VenueName    string
	BaseURL      string
	Symbol       string
	APIKey       string
	APISecret    string
	Contract     pricing.Contract
	PollInterval time.Duration
}

// Adapter polls a REST best-bid/offer endpoint on a fixed cadence.
type Adapter struct {
	cfg    Config
	http   *resty.Client
	log    zerolog.Logger
	waiter *venue.OrderWaiter

	mu       sync.RWMutex
	latest   *model.OrderBook
	callback func(*model.OrderBook)

	stop chan struct{}
	done chan struct{}
}

// New creates a poll.Adapter. The caller must call Connect before use.
func New(cfg Config, logger zerolog.Logger) *Adapter {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	return &Adapter{
		cfg: cfg,
		http: resty.New().
			SetBaseURL(cfg.BaseURL).
			SetTimeout(5 * time.Second).
			SetRetryCount(2).
			SetRetryWaitTime(200 * time.Millisecond),
		log:    logger.With().Str("component", "venue/poll").Str("venue", cfg.VenueName).Logger(),
		waiter: venue.NewOrderWaiter(),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (a *Adapter) Name() string { return a.cfg.VenueName }

// Connect starts the background polling loop. It does not block.
func (a *Adapter) Connect(ctx context.Context) error {
	if a.cfg.APIKey == "" {
		a.log.Warn().Msg("connecting without API credentials; order placement will fail")
	}
	go a.pollLoop(ctx)
	a.log.Info().Dur("interval", a.cfg.PollInterval).Msg("poll adapter connected")
	return nil
}

// Disconnect stops the polling loop and waits for it to exit.
func (a *Adapter) Disconnect() error {
	select {
	case <-a.stop:
	default:
		close(a.stop)
	}
	<-a.done
	return nil
}

func (a *Adapter) pollLoop(ctx context.Context) {
	defer close(a.done)
	ticker := time.NewTicker(a.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.stop:
			return
		case <-ticker.C:
			ob, err := a.fetchBook(ctx)
			if err != nil {
				a.log.Warn().Err(err).Msg("bbo poll failed")
				continue
			}
			a.mu.Lock()
			changed := a.latest == nil || !sameTopOfBook(a.latest, ob)
			a.latest = ob
			cb := a.callback
			a.mu.Unlock()
			if changed && cb != nil {
				cb(ob)
			}
		}
	}
}

func sameTopOfBook(prev, next *model.OrderBook) bool {
	pb, pok := prev.BestBid()
	nb, nok := next.BestBid()
	pa, paok := prev.BestAsk()
	na, naok := next.BestAsk()
	if pok != nok || paok != naok {
		return false
	}
	return pb.Price.Equal(nb.Price) && pa.Price.Equal(na.Price)
}

type bboResponse struct {
	BidPrice string `json:"bidPrice"`
	BidQty   string `json:"bidQty"`
	AskPrice string `json:"askPrice"`
	AskQty   string `json:"askQty"`
}

func (a *Adapter) fetchBook(ctx context.Context) (*model.OrderBook, error) {
	var out bboResponse
	resp, err := a.http.R().
		SetContext(ctx).
		SetQueryParam("symbol", a.cfg.Symbol).
		SetResult(&out).
		Get("/v1/ticker/bookTicker")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", venue.ErrConnection, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: bbo poll status %d", venue.ErrConnection, resp.StatusCode())
	}
	bid, err := decimal.NewFromString(out.BidPrice)
	if err != nil {
		return nil, fmt.Errorf("parse bid price: %w", err)
	}
	ask, err := decimal.NewFromString(out.AskPrice)
	if err != nil {
		return nil, fmt.Errorf("parse ask price: %w", err)
	}
	bidSize, _ := decimal.NewFromString(out.BidQty)
	askSize, _ := decimal.NewFromString(out.AskQty)
	return &model.OrderBook{
		Bids:      []model.PriceLevel{{Price: bid, Size: bidSize}},
		Asks:      []model.PriceLevel{{Price: ask, Size: askSize}},
		Timestamp: time.Now(),
	}, nil
}

// SubscribeOrderBook registers callback, invoked from the poll loop's
// goroutine whenever top of book changes.
func (a *Adapter) SubscribeOrderBook(callback func(*model.OrderBook)) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.callback = callback
	return nil
}

// GetLatestOrderBook returns the most recently polled book.
func (a *Adapter) GetLatestOrderBook() (*model.OrderBook, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.latest == nil {
		return nil, false
	}
	return a.latest, true
}

type orderResponse struct {
	OrderID     string `json:"orderId"`
	Status      string `json:"status"`
	FilledPrice string `json:"avgPrice"`
	FilledQty   string `json:"executedQty"`
}

func (a *Adapter) placeOrder(ctx context.Context, side model.Side, qty, price decimal.Decimal, retryMode model.RetryMode) (*model.OrderResult, error) {
	clientOrderID := uuid.NewString()
	limitPrice := a.cfg.Contract.RoundToTick(price)
	if retryMode == model.RetryAggressive {
		limitPrice = a.cfg.Contract.RoundToTick(pricing.AggressiveOffset(price, side == model.SideBuy, pricing.DefaultAggressiveOffsetPct))
	}

	var out orderResponse
	resp, err := a.http.R().
		SetContext(ctx).
		SetQueryParam("symbol", a.cfg.Symbol).
		SetQueryParam("side", string(side)).
		SetQueryParam("quantity", qty.String()).
		SetQueryParam("price", limitPrice.String()).
		SetQueryParam("newClientOrderId", clientOrderID).
		SetResult(&out).
		Post("/v1/order")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", venue.ErrConnection, err)
	}
	if resp.IsError() {
		return &model.OrderResult{Success: false, ErrorKind: "OrderRejected", ErrorMessage: resp.String()}, fmt.Errorf("%w: status %d", venue.ErrOrderReject, resp.StatusCode())
	}

	filledQty, _ := decimal.NewFromString(out.FilledQty)
	filledPrice, _ := decimal.NewFromString(out.FilledPrice)
	result := &model.OrderResult{
		Success:     true,
		OrderID:     out.OrderID,
		FilledPrice: filledPrice,
		FilledQty:   filledQty,
		PartialFill: out.Status == string(model.StatusPartiallyFilled),
	}
	switch model.OrderStatus(out.Status) {
	case model.StatusFilled, model.StatusCanceled, model.StatusRejected:
		a.waiter.NotifyTerminal(out.OrderID, &model.OrderInfo{
			OrderID:       out.OrderID,
			Side:          side,
			RequestedSize: qty,
			Price:         limitPrice,
			Status:        model.OrderStatus(out.Status),
			FilledSize:    filledQty,
			RemainingSize: qty.Sub(filledQty),
		})
	}
	return result, nil
}

func (a *Adapter) PlaceOpenOrder(ctx context.Context, side model.Side, qty, referencePrice decimal.Decimal, retryMode model.RetryMode, quoteID string) (*model.OrderResult, error) {
	return a.placeOrder(ctx, side, qty, referencePrice, retryMode)
}

func (a *Adapter) PlaceCloseOrder(ctx context.Context, side model.Side, qty, referencePrice decimal.Decimal, retryMode model.RetryMode, quoteID string) (*model.OrderResult, error) {
	return a.placeOrder(ctx, side, qty, referencePrice, retryMode)
}

func (a *Adapter) PlaceMarketOrder(ctx context.Context, side model.Side, qty, referencePrice decimal.Decimal, retryMode model.RetryMode, quoteID string) (*model.OrderResult, error) {
	return a.placeOrder(ctx, side, qty, referencePrice, retryMode)
}

func (a *Adapter) CancelOrder(ctx context.Context, orderID string) (*model.OrderResult, error) {
	var out orderResponse
	resp, err := a.http.R().
		SetContext(ctx).
		SetQueryParam("symbol", a.cfg.Symbol).
		SetQueryParam("orderId", orderID).
		SetResult(&out).
		Delete("/v1/order")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", venue.ErrConnection, err)
	}
	if resp.IsError() {
		return &model.OrderResult{Success: false, OrderID: orderID}, nil
	}
	filledQty, _ := decimal.NewFromString(out.FilledQty)
	return &model.OrderResult{Success: true, OrderID: orderID, FilledQty: filledQty, PartialFill: filledQty.IsPositive()}, nil
}

func (a *Adapter) GetOrderInfo(ctx context.Context, orderID string) (*model.OrderInfo, error) {
	info, _, err := a.waiter.AwaitTerminalStatus(ctx, orderID, venue.DefaultOrderStatusWaitTimeout, func(ctx context.Context) (*model.OrderInfo, error) {
		return a.queryOrder(ctx, orderID)
	})
	return info, err
}

func (a *Adapter) queryOrder(ctx context.Context, orderID string) (*model.OrderInfo, error) {
	var out orderResponse
	resp, err := a.http.R().
		SetContext(ctx).
		SetQueryParam("symbol", a.cfg.Symbol).
		SetQueryParam("orderId", orderID).
		SetResult(&out).
		Get("/v1/order")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", venue.ErrOrderTimeout, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: status %d", venue.ErrOrderTimeout, resp.StatusCode())
	}
	filledQty, _ := decimal.NewFromString(out.FilledQty)
	return &model.OrderInfo{
		OrderID:    out.OrderID,
		Status:     model.OrderStatus(out.Status),
		FilledSize: filledQty,
	}, nil
}

func (a *Adapter) GetPosition(ctx context.Context, symbol string) (*model.VenuePosition, bool, error) {
	var out struct {
		PositionAmt string `json:"positionAmt"`
		EntryPrice  string `json:"entryPrice"`
		UnrealPnL   string `json:"unRealizedProfit"`
	}
	resp, err := a.http.R().SetContext(ctx).SetQueryParam("symbol", symbol).SetResult(&out).Get("/v1/positionRisk")
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", venue.ErrConnection, err)
	}
	if resp.IsError() {
		return nil, false, fmt.Errorf("%w: status %d", venue.ErrConnection, resp.StatusCode())
	}
	size, _ := decimal.NewFromString(out.PositionAmt)
	if size.IsZero() {
		return nil, false, nil
	}
	entry, _ := decimal.NewFromString(out.EntryPrice)
	pnl, _ := decimal.NewFromString(out.UnrealPnL)
	side := model.PositionLong
	if size.IsNegative() {
		side = model.PositionShort
	}
	return &model.VenuePosition{Side: side, Size: size.Abs(), EntryPrice: entry, UnrealizedPnL: pnl}, true, nil
}

func (a *Adapter) Contract() pricing.Contract { return a.cfg.Contract }

func (a *Adapter) RoundToTick(price decimal.Decimal) decimal.Decimal {
	return a.cfg.Contract.RoundToTick(price)
}

var _ venue.Adapter = (*Adapter)(nil)
