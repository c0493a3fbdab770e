// Package ws implements venue.Adapter for exchanges that stream order-book
// state as WebSocket snapshot+delta frames with a monotonic sequence
// number: an initial full snapshot followed by incremental updates, where
// a gap in the sequence means the local book is no longer trustworthy and
// must be rebuilt from a fresh snapshot. While rebuilding, deltas are
// discarded.
package ws

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/vmihailenco/msgpack/v5"

	"hedgearb/clock"
	"hedgearb/metrics"
	"hedgearb/model"
	"hedgearb/pricing"
	"hedgearb/venue"
)

// frame is the wire shape of one book update: a full snapshot (isSnapshot
// true) or a delta applied on top of the adapter's local book.
type frame struct {
	Sequence   int64             `msgpack:"seq"`
	IsSnapshot bool              `msgpack:"snapshot"`
	Bids       map[string]string `msgpack:"bids"`
	Asks       map[string]string `msgpack:"asks"`
}

// Config parameterises one Adapter instance.
type Config struct {
	VenueName   string
	WSURL       string
	Symbol      string
	Contract    pricing.Contract
	RecvCeiling time.Duration
}

// Adapter maintains a local price-level book from a snapshot+delta stream,
// rebuilding from scratch whenever the sequence number gaps.
type Adapter struct {
	cfg    Config
	log    zerolog.Logger
	waiter *venue.OrderWaiter

	mu       sync.RWMutex
	bids     map[string]decimal.Decimal // price string -> size
	asks     map[string]decimal.Decimal
	lastSeq  int64
	hasSeq   bool
	lastTS   time.Time
	callback func(*model.OrderBook)

	conn *websocket.Conn

	signal *clock.StopSignal
	done   chan struct{}

	trader venue.Adapter
}

// WithTrader attaches a REST trading delegate (typically a venue/poll or
// venue/rfq Adapter pointed at the same venue's order-entry endpoint) that
// handles every order/position call; the ws.Adapter itself only maintains
// the streamed book.
func (a *Adapter) WithTrader(trader venue.Adapter) *Adapter {
	a.trader = trader
	return a
}

// New creates a ws.Adapter. Connect must be called before use.
func New(cfg Config, logger zerolog.Logger) *Adapter {
	if cfg.RecvCeiling <= 0 {
		cfg.RecvCeiling = venue.DefaultWebSocketRecvCeiling
	}
	return &Adapter{
		cfg:    cfg,
		log:    logger.With().Str("component", "venue/ws").Str("venue", cfg.VenueName).Logger(),
		waiter: venue.NewOrderWaiter(),
		bids:   make(map[string]decimal.Decimal),
		asks:   make(map[string]decimal.Decimal),
		done:   make(chan struct{}),
	}
}

func (a *Adapter) Name() string { return a.cfg.VenueName }

// Connect starts the maintain-connection loop, which reconnects with
// capped exponential backoff on any read or dial error.
func (a *Adapter) Connect(ctx context.Context) error {
	a.signal = clock.NewStopSignal(ctx)
	go a.maintainConnection()
	return nil
}

// Disconnect stops the connection loop and closes any open socket.
func (a *Adapter) Disconnect() error {
	if a.signal != nil {
		a.signal.Stop()
	}
	a.mu.Lock()
	if a.conn != nil {
		a.conn.Close()
	}
	a.mu.Unlock()
	<-a.done
	return nil
}

func (a *Adapter) maintainConnection() {
	defer close(a.done)
	attempt := 0
	for {
		if a.signal.Stopped() {
			return
		}
		attempt++
		if attempt > 1 {
			metrics.ReconnectsTotal.WithLabelValues(a.cfg.Symbol, a.cfg.VenueName).Inc()
		}
		if err := a.connectAndListen(); err != nil {
			backoff := clock.ConnectionBackoff(attempt)
			a.log.Warn().Err(err).Dur("backoff", backoff).Msg("ws connection lost, reconnecting")
			if sleepErr := (clock.Real{}).Sleep(a.signal.Context(), backoff); sleepErr != nil {
				return
			}
			continue
		}
		attempt = 0
	}
}

func (a *Adapter) connectAndListen() error {
	conn, _, err := websocket.DefaultDialer.DialContext(a.signal.Context(), a.cfg.WSURL, nil)
	if err != nil {
		return fmt.Errorf("%w: %v", venue.ErrConnection, err)
	}
	defer conn.Close()

	a.mu.Lock()
	a.conn = conn
	a.lastSeq = 0
	a.hasSeq = false
	a.mu.Unlock()

	if err := conn.WriteJSON(map[string]string{"op": "subscribe", "channel": "book", "symbol": a.cfg.Symbol}); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	a.log.Info().Msg("ws subscribed")

	for {
		if a.signal.Stopped() {
			return nil
		}
		conn.SetReadDeadline(time.Now().Add(a.cfg.RecvCeiling))
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read: %w", err)
		}
		if err := a.handleFrame(payload); err != nil {
			a.log.Warn().Err(err).Msg("dropping unparsable frame")
		}
	}
}

func (a *Adapter) handleFrame(payload []byte) error {
	var f frame
	dec := msgpack.NewDecoder(bytes.NewReader(payload))
	if err := dec.Decode(&f); err != nil {
		return fmt.Errorf("decode frame: %w", err)
	}

	a.mu.Lock()
	switch {
	case f.IsSnapshot:
		a.bids = toDecimalMap(f.Bids)
		a.asks = toDecimalMap(f.Asks)
		a.lastSeq = f.Sequence
		a.hasSeq = true
	case !a.hasSeq || f.Sequence != a.lastSeq+1:
		// Sequence gap: local book can no longer be trusted as a delta
		// base. Drop it until the next snapshot arrives.
		a.hasSeq = false
		a.mu.Unlock()
		a.log.Warn().Int64("expected", a.lastSeq+1).Int64("got", f.Sequence).Msg("sequence gap, awaiting resync snapshot")
		return nil
	default:
		applyDelta(a.bids, f.Bids)
		applyDelta(a.asks, f.Asks)
		a.lastSeq = f.Sequence
	}
	a.lastTS = time.Now()
	ob := a.snapshotLocked()
	a.mu.Unlock()

	if cb := a.getCallback(); cb != nil {
		cb(ob)
	}
	return nil
}

func (a *Adapter) getCallback() func(*model.OrderBook) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.callback
}

func toDecimalMap(src map[string]string) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal, len(src))
	for price, size := range src {
		d, err := decimal.NewFromString(size)
		if err != nil {
			continue
		}
		out[price] = d
	}
	return out
}

// applyDelta merges a delta's (price -> size) pairs into dst; a zero size
// removes the level, matching standard L2 delta semantics.
func applyDelta(dst map[string]decimal.Decimal, delta map[string]string) {
	for price, sizeStr := range delta {
		size, err := decimal.NewFromString(sizeStr)
		if err != nil {
			continue
		}
		if size.IsZero() {
			delete(dst, price)
			continue
		}
		dst[price] = size
	}
}

// snapshotLocked converts the internal price-string maps to a sorted
// model.OrderBook. Caller must hold a.mu.
func (a *Adapter) snapshotLocked() *model.OrderBook {
	bids := make([]model.PriceLevel, 0, len(a.bids))
	for priceStr, size := range a.bids {
		price, err := decimal.NewFromString(priceStr)
		if err != nil {
			continue
		}
		bids = append(bids, model.PriceLevel{Price: price, Size: size})
	}
	asks := make([]model.PriceLevel, 0, len(a.asks))
	for priceStr, size := range a.asks {
		price, err := decimal.NewFromString(priceStr)
		if err != nil {
			continue
		}
		asks = append(asks, model.PriceLevel{Price: price, Size: size})
	}
	sortDescending(bids)
	sortAscending(asks)
	return &model.OrderBook{Bids: bids, Asks: asks, Timestamp: a.lastTS}
}

func sortDescending(levels []model.PriceLevel) {
	for i := 1; i < len(levels); i++ {
		for j := i; j > 0 && levels[j].Price.GreaterThan(levels[j-1].Price); j-- {
			levels[j], levels[j-1] = levels[j-1], levels[j]
		}
	}
}

func sortAscending(levels []model.PriceLevel) {
	for i := 1; i < len(levels); i++ {
		for j := i; j > 0 && levels[j].Price.LessThan(levels[j-1].Price); j-- {
			levels[j], levels[j-1] = levels[j-1], levels[j]
		}
	}
}

// SubscribeOrderBook registers callback, invoked from the read loop's
// goroutine on every applied frame.
func (a *Adapter) SubscribeOrderBook(callback func(*model.OrderBook)) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.callback = callback
	return nil
}

// GetLatestOrderBook returns the current locally-maintained book.
func (a *Adapter) GetLatestOrderBook() (*model.OrderBook, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if !a.hasSeq {
		return nil, false
	}
	return a.snapshotLocked(), true
}

// Order placement for WS-streaming venues rides a companion REST endpoint:
// book streaming and trade execution are two separate concerns composed at
// the engine layer rather than forced into one type.
func (a *Adapter) placeOrder(ctx context.Context, side model.Side, qty, price decimal.Decimal, retryMode model.RetryMode) (*model.OrderResult, error) {
	return nil, fmt.Errorf("%w: ws adapter requires a configured REST trading endpoint (see WithTrader)", venue.ErrConnection)
}

func (a *Adapter) PlaceOpenOrder(ctx context.Context, side model.Side, qty, referencePrice decimal.Decimal, retryMode model.RetryMode, quoteID string) (*model.OrderResult, error) {
	if a.trader != nil {
		return a.trader.PlaceOpenOrder(ctx, side, qty, referencePrice, retryMode, quoteID)
	}
	return a.placeOrder(ctx, side, qty, referencePrice, retryMode)
}

func (a *Adapter) PlaceCloseOrder(ctx context.Context, side model.Side, qty, referencePrice decimal.Decimal, retryMode model.RetryMode, quoteID string) (*model.OrderResult, error) {
	if a.trader != nil {
		return a.trader.PlaceCloseOrder(ctx, side, qty, referencePrice, retryMode, quoteID)
	}
	return a.placeOrder(ctx, side, qty, referencePrice, retryMode)
}

func (a *Adapter) PlaceMarketOrder(ctx context.Context, side model.Side, qty, referencePrice decimal.Decimal, retryMode model.RetryMode, quoteID string) (*model.OrderResult, error) {
	if a.trader != nil {
		return a.trader.PlaceMarketOrder(ctx, side, qty, referencePrice, retryMode, quoteID)
	}
	return a.placeOrder(ctx, side, qty, referencePrice, retryMode)
}

func (a *Adapter) CancelOrder(ctx context.Context, orderID string) (*model.OrderResult, error) {
	if a.trader != nil {
		return a.trader.CancelOrder(ctx, orderID)
	}
	return nil, fmt.Errorf("%w: no trading endpoint configured", venue.ErrConnection)
}

func (a *Adapter) GetOrderInfo(ctx context.Context, orderID string) (*model.OrderInfo, error) {
	if a.trader != nil {
		return a.trader.GetOrderInfo(ctx, orderID)
	}
	return nil, fmt.Errorf("%w: no trading endpoint configured", venue.ErrConnection)
}

func (a *Adapter) GetPosition(ctx context.Context, symbol string) (*model.VenuePosition, bool, error) {
	if a.trader != nil {
		return a.trader.GetPosition(ctx, symbol)
	}
	return nil, false, fmt.Errorf("%w: no trading endpoint configured", venue.ErrConnection)
}

func (a *Adapter) Contract() pricing.Contract { return a.cfg.Contract }

func (a *Adapter) RoundToTick(price decimal.Decimal) decimal.Decimal {
	return a.cfg.Contract.RoundToTick(price)
}

var _ venue.Adapter = (*Adapter)(nil)
