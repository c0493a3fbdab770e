// Package rfq implements venue.Adapter for request-for-quote venues: there
// is no persistent order book, only an indicative-quote endpoint that
// returns a bid/ask/quote_id triple on demand. The adapter polls that
// endpoint on a fixed cadence to synthesize a one-level order book, and
// every aggressive-mode order must carry the quote_id from the most recent
// quote or the venue will reject it.
package rfq

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

// DefaultPollInterval is the default cadence for indicative-quote
// polling.
const DefaultPollInterval = time.Second

// DefaultQueryQuantity is the notional size quoted when polling for an
// indicative price.
var DefaultQueryQuantity = decimal.NewFromFloat(0.1)

// ErrMissingQuoteID is returned when an aggressive-mode order is placed
// without a quote_id; the venue binds execution to the quote and rejects
// bare market orders.
var ErrMissingQuoteID = fmt.Errorf("%w: aggressive order requires a quote_id", venue.ErrOrderReject)

// Config parameterises one Adapter instance.
type Config struct {
	VenueName     string
	BaseURL       string
	Symbol        string
	Contract      pricing.Contract
	PollInterval  time.Duration
	QueryQuantity decimal.Decimal
}

// Adapter polls an indicative-quote endpoint to synthesize a book and
// carries quote_id through every aggressive order placement.
type Adapter struct {
	cfg    Config
	http   *resty.Client
	log    zerolog.Logger
	waiter *venue.OrderWaiter

	mu       sync.RWMutex
	latest   *model.OrderBook
	quoteID  string
	callback func(*model.OrderBook)

	stop chan struct{}
	done chan struct{}
}

// New creates an rfq.Adapter. Connect must be called before use.
func New(cfg Config, logger zerolog.Logger) *Adapter {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.QueryQuantity.IsZero() {
		cfg.QueryQuantity = DefaultQueryQuantity
	}
	return &Adapter{
		cfg: cfg,
		http: resty.New().
			SetBaseURL(cfg.BaseURL).
			SetTimeout(5 * time.Second),
		log:    logger.With().Str("component", "venue/rfq").Str("venue", cfg.VenueName).Logger(),
		waiter: venue.NewOrderWaiter(),
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (a *Adapter) Name() string { return a.cfg.VenueName }

func (a *Adapter) Connect(ctx context.Context) error {
	go a.pollLoop(ctx)
	a.log.Info().Dur("interval", a.cfg.PollInterval).Msg("rfq adapter connected")
	return nil
}

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
	consecutiveErrors := 0
	const maxConsecutiveErrors = 5
	for {
		select {
		case <-ctx.Done():
			return
		case <-a.stop:
			return
		case <-ticker.C:
			ob, err := a.fetchIndicativeQuote(ctx)
			if err != nil {
				consecutiveErrors++
				a.log.Warn().Err(err).Int("consecutive_errors", consecutiveErrors).Msg("indicative quote fetch failed")
				if consecutiveErrors >= maxConsecutiveErrors {
					a.log.Warn().Msg("too many consecutive quote failures, backing off")
					time.Sleep(10 * time.Second)
					consecutiveErrors = 0
				}
				continue
			}
			consecutiveErrors = 0
			a.mu.Lock()
			a.latest = ob
			a.quoteID = ob.QuoteID
			cb := a.callback
			a.mu.Unlock()
			if cb != nil {
				cb(ob)
			}
		}
	}
}

type quoteResponse struct {
	Bid        string `json:"bid"`
	Ask        string `json:"ask"`
	MarkPrice  string `json:"mark_price"`
	QuoteID    string `json:"quote_id"`
}

func (a *Adapter) fetchIndicativeQuote(ctx context.Context) (*model.OrderBook, error) {
	var out quoteResponse
	resp, err := a.http.R().
		SetContext(ctx).
		SetQueryParam("symbol", a.cfg.Symbol).
		SetQueryParam("quantity", a.cfg.QueryQuantity.String()).
		SetResult(&out).
		Get("/v1/quote/indicative")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", venue.ErrConnection, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: quote status %d", venue.ErrConnection, resp.StatusCode())
	}
	bid, err := decimal.NewFromString(out.Bid)
	if err != nil {
		return nil, fmt.Errorf("parse bid: %w", err)
	}
	ask, err := decimal.NewFromString(out.Ask)
	if err != nil {
		return nil, fmt.Errorf("parse ask: %w", err)
	}
	return &model.OrderBook{
		Bids:      []model.PriceLevel{{Price: bid, Size: a.cfg.QueryQuantity}},
		Asks:      []model.PriceLevel{{Price: ask, Size: a.cfg.QueryQuantity}},
		Timestamp: time.Now(),
		QuoteID:   out.QuoteID,
	}, nil
}

func (a *Adapter) SubscribeOrderBook(callback func(*model.OrderBook)) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.callback = callback
	return nil
}

func (a *Adapter) GetLatestOrderBook() (*model.OrderBook, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.latest == nil {
		return nil, false
	}
	return a.latest, true
}

type orderResponse struct {
	OrderID     string `json:"order_id"`
	Status      string `json:"status"`
	FilledPrice string `json:"filled_price"`
	FilledQty   string `json:"filled_qty"`
}

// placeLimitOrder is used for opportunistic orders: priced at reference,
// fail fast, no quote_id required.
func (a *Adapter) placeLimitOrder(ctx context.Context, side model.Side, qty, price decimal.Decimal) (*model.OrderResult, error) {
	limitPrice := a.cfg.Contract.RoundToTick(price)
	return a.submit(ctx, side, qty, limitPrice, "")
}

// placeMarketOrder is used for aggressive orders: it must carry the
// quote_id from the most recent indicative quote.
func (a *Adapter) placeMarketOrder(ctx context.Context, side model.Side, qty, referencePrice decimal.Decimal, quoteID string) (*model.OrderResult, error) {
	if quoteID == "" {
		a.mu.RLock()
		quoteID = a.quoteID
		a.mu.RUnlock()
	}
	if quoteID == "" {
		return &model.OrderResult{Success: false, ErrorKind: "OrderRejected", ErrorMessage: ErrMissingQuoteID.Error()}, ErrMissingQuoteID
	}
	price := a.cfg.Contract.RoundToTick(pricing.AggressiveOffset(referencePrice, side == model.SideBuy, pricing.DefaultAggressiveOffsetPct))
	return a.submit(ctx, side, qty, price, quoteID)
}

func (a *Adapter) submit(ctx context.Context, side model.Side, qty, price decimal.Decimal, quoteID string) (*model.OrderResult, error) {
	clientOrderID := uuid.NewString()
	var out orderResponse
	req := a.http.R().
		SetContext(ctx).
		SetQueryParam("symbol", a.cfg.Symbol).
		SetQueryParam("side", string(side)).
		SetQueryParam("quantity", qty.String()).
		SetQueryParam("price", price.String()).
		SetQueryParam("client_order_id", clientOrderID).
		SetResult(&out)
	if quoteID != "" {
		req.SetQueryParam("quote_id", quoteID)
	}
	resp, err := req.Post("/v1/order")
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
			Price:         price,
			Status:        model.OrderStatus(out.Status),
			FilledSize:    filledQty,
			RemainingSize: qty.Sub(filledQty),
		})
	}
	return result, nil
}

func (a *Adapter) PlaceOpenOrder(ctx context.Context, side model.Side, qty, referencePrice decimal.Decimal, retryMode model.RetryMode, quoteID string) (*model.OrderResult, error) {
	if retryMode == model.RetryAggressive {
		return a.placeMarketOrder(ctx, side, qty, referencePrice, quoteID)
	}
	return a.placeLimitOrder(ctx, side, qty, referencePrice)
}

func (a *Adapter) PlaceCloseOrder(ctx context.Context, side model.Side, qty, referencePrice decimal.Decimal, retryMode model.RetryMode, quoteID string) (*model.OrderResult, error) {
	if retryMode == model.RetryAggressive {
		return a.placeMarketOrder(ctx, side, qty, referencePrice, quoteID)
	}
	return a.placeLimitOrder(ctx, side, qty, referencePrice)
}

func (a *Adapter) PlaceMarketOrder(ctx context.Context, side model.Side, qty, referencePrice decimal.Decimal, retryMode model.RetryMode, quoteID string) (*model.OrderResult, error) {
	return a.placeMarketOrder(ctx, side, qty, referencePrice, quoteID)
}

func (a *Adapter) CancelOrder(ctx context.Context, orderID string) (*model.OrderResult, error) {
	var out orderResponse
	resp, err := a.http.R().
		SetContext(ctx).
		SetQueryParam("order_id", orderID).
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
		SetQueryParam("order_id", orderID).
		SetResult(&out).
		Get("/v1/order")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", venue.ErrOrderTimeout, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: status %d", venue.ErrOrderTimeout, resp.StatusCode())
	}
	filledQty, _ := decimal.NewFromString(out.FilledQty)
	return &model.OrderInfo{OrderID: out.OrderID, Status: model.OrderStatus(out.Status), FilledSize: filledQty}, nil
}

func (a *Adapter) GetPosition(ctx context.Context, symbol string) (*model.VenuePosition, bool, error) {
	var out struct {
		Size       string `json:"size"`
		Side       string `json:"side"`
		EntryPrice string `json:"entry_price"`
		UnrealPnL  string `json:"unrealized_pnl"`
	}
	resp, err := a.http.R().SetContext(ctx).SetQueryParam("symbol", symbol).SetResult(&out).Get("/v1/position")
	if err != nil {
		return nil, false, fmt.Errorf("%w: %v", venue.ErrConnection, err)
	}
	if resp.IsError() {
		return nil, false, fmt.Errorf("%w: status %d", venue.ErrConnection, resp.StatusCode())
	}
	size, _ := decimal.NewFromString(out.Size)
	if size.IsZero() {
		return nil, false, nil
	}
	entry, _ := decimal.NewFromString(out.EntryPrice)
	pnl, _ := decimal.NewFromString(out.UnrealPnL)
	side := model.PositionLong
	if out.Side == "short" {
		side = model.PositionShort
	}
	return &model.VenuePosition{Side: side, Size: size, EntryPrice: entry, UnrealizedPnL: pnl}, true, nil
}

func (a *Adapter) Contract() pricing.Contract { return a.cfg.Contract }

func (a *Adapter) RoundToTick(price decimal.Decimal) decimal.Decimal {
	return a.cfg.Contract.RoundToTick(price)
}

var _ venue.Adapter = (*Adapter)(nil)
