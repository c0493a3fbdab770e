// Package monitor implements the dual-venue price monitor: it holds
// references to exactly two venue adapters, caches their latest books, and
// emits a synchronised PriceSnapshot to its subscribers whenever the
// designated trigger venue updates. Emission is rate limited, and a
// background task warns when either venue's book goes quiet.
package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"hedgearb/metrics"
	"hedgearb/model"
	"hedgearb/venue"
)

// DefaultMinCallbackInterval rate-limits snapshot emission.
const DefaultMinCallbackInterval = 100 * time.Millisecond

// DefaultFreshnessThreshold is the per-venue staleness ceiling the
// background health task warns against.
const DefaultFreshnessThreshold = 30 * time.Second

// Trigger selects which venue's book update fires a snapshot.
type Trigger string

const (
	TriggerA Trigger = "A"
	TriggerB Trigger = "B"
)

// Subscriber receives every emitted PriceSnapshot.
type Subscriber func(*model.PriceSnapshot)

// venueState tracks one adapter's cached book plus update bookkeeping.
type venueState struct {
	mu          sync.RWMutex
	book        *model.OrderBook
	updateCount int64
	lastUpdate  time.Time
}

func (v *venueState) set(ob *model.OrderBook) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.book = ob
	v.updateCount++
	v.lastUpdate = time.Now()
}

func (v *venueState) get() (*model.OrderBook, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.book, v.book != nil
}

func (v *venueState) snapshot() (count int64, last time.Time) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.updateCount, v.lastUpdate
}

// Monitor fans out synchronised book updates from two adapters as
// PriceSnapshots.
type Monitor struct {
	Pair          string
	ExchangeAName string
	ExchangeBName string

	adapterA venue.Adapter
	adapterB venue.Adapter
	trigger  Trigger

	minInterval        time.Duration
	freshnessThreshold time.Duration

	stateA venueState
	stateB venueState

	mu          sync.Mutex
	subscribers map[int]Subscriber
	nextSubID   int
	lastEmit    time.Time

	log zerolog.Logger
}

// Config parameterises a Monitor.
type Config struct {
	Pair                string
	ExchangeAName       string
	ExchangeBName       string
	Trigger             Trigger
	MinCallbackInterval time.Duration
	FreshnessThreshold  time.Duration
}

// New creates a Monitor wired to two adapters. Call Start to begin
// subscribing and running the health task.
func New(cfg Config, adapterA, adapterB venue.Adapter, logger zerolog.Logger) *Monitor {
	if cfg.MinCallbackInterval <= 0 {
		cfg.MinCallbackInterval = DefaultMinCallbackInterval
	}
	if cfg.FreshnessThreshold <= 0 {
		cfg.FreshnessThreshold = DefaultFreshnessThreshold
	}
	if cfg.Trigger == "" {
		cfg.Trigger = TriggerA
	}
	return &Monitor{
		Pair:               cfg.Pair,
		ExchangeAName:      cfg.ExchangeAName,
		ExchangeBName:      cfg.ExchangeBName,
		adapterA:           adapterA,
		adapterB:           adapterB,
		trigger:            cfg.Trigger,
		minInterval:        cfg.MinCallbackInterval,
		freshnessThreshold: cfg.FreshnessThreshold,
		log:                logger.With().Str("component", "monitor").Str("pair", cfg.Pair).Logger(),
	}
}

// Subscribe registers callback to receive every emitted snapshot and
// returns a function that removes the subscription.
func (m *Monitor) Subscribe(callback Subscriber) (unsubscribe func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.subscribers == nil {
		m.subscribers = make(map[int]Subscriber)
	}
	id := m.nextSubID
	m.nextSubID++
	m.subscribers[id] = callback
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subscribers, id)
	}
}

// Start begins streaming from both adapters and launches the background
// health task. It blocks until ctx is cancelled.
func (m *Monitor) Start(ctx context.Context) error {
	if err := m.adapterA.SubscribeOrderBook(func(ob *model.OrderBook) { m.onUpdate(ExchangeA, ob) }); err != nil {
		return err
	}
	if err := m.adapterB.SubscribeOrderBook(func(ob *model.OrderBook) { m.onUpdate(ExchangeB, ob) }); err != nil {
		return err
	}
	go m.healthTask(ctx)
	<-ctx.Done()
	return nil
}

// Which distinguishes the A/B leg a book update arrived from.
type Which int

const (
	ExchangeA Which = iota
	ExchangeB
)

func (m *Monitor) onUpdate(which Which, ob *model.OrderBook) {
	var venueName string
	switch which {
	case ExchangeA:
		m.stateA.set(ob)
		venueName = m.ExchangeAName
	case ExchangeB:
		m.stateB.set(ob)
		venueName = m.ExchangeBName
	}
	metrics.BookUpdatesTotal.WithLabelValues(m.Pair, venueName).Inc()

	fires := (which == ExchangeA && m.trigger == TriggerA) || (which == ExchangeB && m.trigger == TriggerB)
	if !fires {
		return
	}
	m.maybeEmit()
}

func (m *Monitor) maybeEmit() {
	bookA, okA := m.stateA.get()
	bookB, okB := m.stateB.get()
	if !okA || !okB {
		return
	}
	bidA, bidOkA := bookA.BestBid()
	askA, askOkA := bookA.BestAsk()
	bidB, bidOkB := bookB.BestBid()
	askB, askOkB := bookB.BestAsk()
	if !bidOkA || !askOkA || !bidOkB || !askOkB {
		return
	}

	m.mu.Lock()
	now := time.Now()
	if !m.lastEmit.IsZero() && now.Sub(m.lastEmit) < m.minInterval {
		m.mu.Unlock()
		return
	}
	m.lastEmit = now
	subs := make([]Subscriber, 0, len(m.subscribers))
	for _, sub := range m.subscribers {
		subs = append(subs, sub)
	}
	m.mu.Unlock()

	snap := &model.PriceSnapshot{
		Symbol:        m.Pair,
		ExchangeAName: m.ExchangeAName,
		BidA:          bidA.Price,
		AskA:          askA.Price,
		BidSizeA:      bidA.Size,
		AskSizeA:      askA.Size,
		TimestampA:    bookA.Timestamp,
		QuoteIDA:      bookA.QuoteID,
		ExchangeBName: m.ExchangeBName,
		BidB:          bidB.Price,
		AskB:          askB.Price,
		BidSizeB:      bidB.Size,
		AskSizeB:      askB.Size,
		TimestampB:    bookB.Timestamp,
		QuoteIDB:      bookB.QuoteID,
	}
	metrics.OpenSpreadPct.WithLabelValues(m.Pair).Set(toFloat(snap.OpenSpreadPct()))
	metrics.CloseSpreadPct.WithLabelValues(m.Pair).Set(toFloat(snap.CloseSpreadPct()))

	for _, sub := range subs {
		sub(snap)
	}
}

func toFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}

// IsOrderbookStale reports whether either venue's cached book is older
// than maxAge.
func (m *Monitor) IsOrderbookStale(maxAge time.Duration) bool {
	now := time.Now()
	bookA, okA := m.stateA.get()
	if !okA || venue.BookStale(bookA.Timestamp, now, maxAge) {
		return true
	}
	bookB, okB := m.stateB.get()
	if !okB || venue.BookStale(bookB.Timestamp, now, maxAge) {
		return true
	}
	return false
}

// LatestSnapshot builds a PriceSnapshot from the current cached books
// without waiting for the trigger venue, for callers that need an
// on-demand read. Only top-of-book prices and timestamps are copied.
func (m *Monitor) LatestSnapshot() (*model.PriceSnapshot, bool) {
	bookA, okA := m.stateA.get()
	bookB, okB := m.stateB.get()
	if !okA || !okB {
		return nil, false
	}
	bidA, _ := bookA.BestBid()
	askA, _ := bookA.BestAsk()
	bidB, _ := bookB.BestBid()
	askB, _ := bookB.BestAsk()
	return &model.PriceSnapshot{
		Symbol:        m.Pair,
		ExchangeAName: m.ExchangeAName,
		BidA:          bidA.Price,
		AskA:          askA.Price,
		TimestampA:    bookA.Timestamp,
		ExchangeBName: m.ExchangeBName,
		BidB:          bidB.Price,
		AskB:          askB.Price,
		TimestampB:    bookB.Timestamp,
	}, true
}

func (m *Monitor) healthTask(ctx context.Context) {
	ticker := time.NewTicker(m.freshnessThreshold / 3)
	if m.freshnessThreshold < 3*time.Second {
		ticker = time.NewTicker(time.Second)
	}
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.checkFreshness(m.ExchangeAName, &m.stateA)
			m.checkFreshness(m.ExchangeBName, &m.stateB)
		}
	}
}

func (m *Monitor) checkFreshness(name string, state *venueState) {
	count, last := state.snapshot()
	if count == 0 {
		return
	}
	age := time.Since(last)
	if age > m.freshnessThreshold {
		metrics.BookStaleTotal.WithLabelValues(m.Pair, name).Inc()
		m.log.Warn().Str("venue", name).Dur("age", age).Msg("venue book exceeds freshness threshold")
	}
}
