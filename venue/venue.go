// Package venue defines the normalised adapter contract every venue
// implementation (venue/ws, venue/poll, venue/rfq) must satisfy. Each venue
// is a distinct type implementing one interface; nothing above this package
// knows how a particular venue streams books or signs orders.
package venue

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"hedgearb/model"
	"hedgearb/pricing"
)

// Adapter normalises one venue: connection lifecycle, order-book
// streaming, order placement/cancellation, and position query.
type Adapter interface {
	// Name returns the venue's identifier, e.g. "binance-futures".
	Name() string

	// Connect establishes the venue session. Contract metadata comes from
	// the adapter's configuration; Connect does not discover it. It fails
	// with ConnectionError or AuthError.
	Connect(ctx context.Context) error

	// Disconnect cancels background tasks and releases resources.
	// Idempotent.
	Disconnect() error

	// SubscribeOrderBook arranges for callback to be invoked whenever the
	// top of book changes; implementations must throttle/de-duplicate so a
	// stream of identical snapshots is not re-emitted.
	SubscribeOrderBook(callback func(*model.OrderBook)) error

	// GetLatestOrderBook synchronously returns the most recently cached
	// book, or false if none has arrived yet.
	GetLatestOrderBook() (*model.OrderBook, bool)

	// PlaceOpenOrder places a taker order intended to open a leg.
	PlaceOpenOrder(ctx context.Context, side model.Side, qty, referencePrice decimal.Decimal, retryMode model.RetryMode, quoteID string) (*model.OrderResult, error)

	// PlaceCloseOrder places a taker order intended to close a leg.
	PlaceCloseOrder(ctx context.Context, side model.Side, qty, referencePrice decimal.Decimal, retryMode model.RetryMode, quoteID string) (*model.OrderResult, error)

	// PlaceMarketOrder is the primitive underlying both open and close.
	PlaceMarketOrder(ctx context.Context, side model.Side, qty, referencePrice decimal.Decimal, retryMode model.RetryMode, quoteID string) (*model.OrderResult, error)

	// CancelOrder is a best-effort cancel; it returns success with any
	// partial-fill data the venue reports.
	CancelOrder(ctx context.Context, orderID string) (*model.OrderResult, error)

	// GetOrderInfo fetches current order status, tolerating a brief
	// post-submit window where the order is not yet indexed.
	GetOrderInfo(ctx context.Context, orderID string) (*model.OrderInfo, error)

	// GetPosition returns the signed position at this venue, or false if
	// there is none.
	GetPosition(ctx context.Context, symbol string) (*model.VenuePosition, bool, error)

	// Contract returns the discovered (or configured) tick/size metadata.
	Contract() pricing.Contract

	// RoundToTick quantises a price to this venue's tick size.
	RoundToTick(price decimal.Decimal) decimal.Decimal
}

// Sentinel error kinds. Call sites use errors.Is/errors.As while adapters
// attach venue-specific detail via fmt.Errorf("...: %w", ErrConnection).
var (
	ErrConnection   = errors.New("connection error")
	ErrAuth         = errors.New("auth error")
	ErrOrderReject  = errors.New("order rejected")
	ErrOrderTimeout = errors.New("order status timeout")
)

// BookStale reports whether a book's timestamp is older than maxAge
// relative to now. Staleness is a predicate, never an error: the strategy
// skips signals while it holds.
func BookStale(ts time.Time, now time.Time, maxAge time.Duration) bool {
	if ts.IsZero() {
		return true
	}
	return now.Sub(ts) > maxAge
}

// DefaultOrderStatusWaitTimeout bounds every order-status wait before the
// adapter falls back to a REST status query.
const DefaultOrderStatusWaitTimeout = time.Second

// DefaultWebSocketRecvCeiling bounds every WebSocket read so a silently
// dead connection forces a reconnect.
const DefaultWebSocketRecvCeiling = 30 * time.Second
