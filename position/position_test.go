package position

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"hedgearb/model"
	"hedgearb/pricing"
	"hedgearb/tradelog"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

// recordingSink captures every trade record for assertions.
type recordingSink struct {
	records []tradelog.Record
}

func (r *recordingSink) LogTrade(rec tradelog.Record) { r.records = append(r.records, rec) }
func (r *recordingSink) Close() error { return nil }

func samplePosition() *model.Position {
	return &model.Position{
		Symbol:            "btc-usdt",
		Quantity:          dec("0.01"),
		ExchangeAName:     "venue-a",
		ExchangeBName:     "venue-b",
		SignalEntryPriceA: dec("100.10"),
		FilledEntryPriceA: dec("100.10"),
		SignalEntryPriceB: dec("100.01"),
		FilledEntryPriceB: dec("100.01"),
		EntryOrderIDA:     "a1",
		EntryOrderIDB:     "b1",
		OpenSpreadPct:     dec("0.0899"),
		OpenTime:          time.Unix(1_700_000_000, 0),
	}
}

func TestSingleModeLifecycle(t *testing.T) {
	sink := &recordingSink{}
	m := New(Config{Pair: "btc-usdt", Mode: model.ModeSingle}, sink, zerolog.Nop())

	if m.HasPosition() {
		t.Fatal("fresh manager must be flat")
	}
	if !m.CanOpen(model.DirectionOpenShort) {
		t.Fatal("empty slot must allow open")
	}

	p := samplePosition()
	m.SetPosition(p, 10, 20)
	if !m.HasPosition() {
		t.Fatal("slot must be occupied after SetPosition")
	}
	if m.CanOpen(model.DirectionOpenShort) {
		t.Fatal("occupied slot must refuse a second open")
	}
	if len(sink.records) != 2 {
		t.Fatalf("open must log one record per leg, got %d", len(sink.records))
	}

	// Close at the reverse spread: A exits at 100.01, B at 100.10.
	p.SignalExitPriceA = dec("100.01")
	p.FilledExitPriceA = dec("100.01")
	p.SignalExitPriceB = dec("100.10")
	p.FilledExitPriceB = dec("100.10")
	p.CloseTime = p.OpenTime.Add(time.Minute)

	pnl := m.ClosePosition(5, 5)
	if m.HasPosition() {
		t.Fatal("slot must be empty after close")
	}
	if len(sink.records) != 4 {
		t.Fatalf("open+close must log four leg records, got %d", len(sink.records))
	}
	// (entry spread − exit spread) / entry B: (0.09 − (−0.09)) / 100.01.
	want := dec("0.18").Div(dec("100.01")).Mul(dec("100"))
	if !pnl.Sub(want).Abs().LessThan(dec("0.0001")) {
		t.Fatalf("pnl = %s, want ≈ %s", pnl, want)
	}
}

func TestAccumulateCapInvariant(t *testing.T) {
	m := New(Config{
		Pair:        "btc-usdt",
		Mode:        model.ModeAccumulate,
		MaxPosition: dec("0.02"),
		Step:        dec("0.01"),
	}, tradelog.Nop{}, zerolog.Nop())

	if !m.CanOpen(model.DirectionOpenShort) {
		t.Fatal("flat manager must allow first open")
	}
	m.AddPosition(samplePosition(), model.DirectionOpenShort, 0, 0)
	if !m.CurrentNetQty().Equal(dec("-0.01")) {
		t.Fatalf("net = %s, want -0.01 after open short", m.CurrentNetQty())
	}
	m.AddPosition(samplePosition(), model.DirectionOpenShort, 0, 0)
	if !m.CurrentNetQty().Equal(dec("-0.02")) {
		t.Fatalf("net = %s, want -0.02", m.CurrentNetQty())
	}
	if m.CanOpen(model.DirectionOpenShort) {
		t.Fatal("third open short would breach the 0.02 cap")
	}
	if !m.CanClose(model.DirectionCloseShort) {
		t.Fatal("close short moves toward flat and must be allowed")
	}
}

func TestAccumulateCloseWhileFlatIsReverseOpen(t *testing.T) {
	m := New(Config{
		Pair:        "btc-usdt",
		Mode:        model.ModeAccumulate,
		MaxPosition: dec("0.02"),
		Step:        dec("0.01"),
	}, tradelog.Nop{}, zerolog.Nop())

	// Flat: a close-short (A buys, B sells) takes net to +0.01, still
	// within the cap, so it is allowed as a reverse open.
	if !m.CanClose(model.DirectionCloseShort) {
		t.Fatal("close while flat must be allowed when the cap holds")
	}
}

func TestAccumulateDirectionArithmetic(t *testing.T) {
	m := New(Config{
		Pair:        "btc-usdt",
		Mode:        model.ModeAccumulate,
		MaxPosition: dec("1"),
		Step:        dec("0.01"),
	}, tradelog.Nop{}, zerolog.Nop())

	cases := []struct {
		dir  model.Direction
		want string
	}{
		{model.DirectionOpenShort, "-0.01"},
		{model.DirectionOpenLong, "0"},
		{model.DirectionCloseShort, "0.01"},
		{model.DirectionCloseLong, "0"},
	}
	for _, c := range cases {
		m.currentNetQty = m.currentNetQty.Add(m.netDelta(c.dir))
		if !m.currentNetQty.Equal(dec(c.want)) {
			t.Fatalf("after %s: net = %s, want %s", c.dir, m.currentNetQty, c.want)
		}
	}
}

// posAdapter stubs venue.Adapter for reconciliation tests: only
// GetPosition matters.
type posAdapter struct {
	name string
	pos  *model.VenuePosition
}

func (p *posAdapter) Name() string { return p.name }
func (p *posAdapter) Connect(context.Context) error { return nil }
func (p *posAdapter) Disconnect() error { return nil }
func (p *posAdapter) SubscribeOrderBook(func(*model.OrderBook)) error { return nil }
func (p *posAdapter) GetLatestOrderBook() (*model.OrderBook, bool) { return nil, false }

func (p *posAdapter) PlaceOpenOrder(context.Context, model.Side, decimal.Decimal, decimal.Decimal, model.RetryMode, string) (*model.OrderResult, error) {
	return nil, nil
}

func (p *posAdapter) PlaceCloseOrder(context.Context, model.Side, decimal.Decimal, decimal.Decimal, model.RetryMode, string) (*model.OrderResult, error) {
	return nil, nil
}

func (p *posAdapter) PlaceMarketOrder(context.Context, model.Side, decimal.Decimal, decimal.Decimal, model.RetryMode, string) (*model.OrderResult, error) {
	return nil, nil
}

func (p *posAdapter) CancelOrder(context.Context, string) (*model.OrderResult, error) {
	return nil, nil
}

func (p *posAdapter) GetOrderInfo(context.Context, string) (*model.OrderInfo, error) {
	return nil, nil
}

func (p *posAdapter) GetPosition(context.Context, string) (*model.VenuePosition, bool, error) {
	return p.pos, p.pos != nil, nil
}

func (p *posAdapter) Contract() pricing.Contract { return pricing.Contract{} }
func (p *posAdapter) RoundToTick(d decimal.Decimal) decimal.Decimal { return d }

func TestSyncFromExchangesAdoptsVenueNet(t *testing.T) {
	m := New(Config{
		Pair:        "btc-usdt",
		Mode:        model.ModeAccumulate,
		MaxPosition: dec("1"),
		Step:        dec("0.01"),
	}, tradelog.Nop{}, zerolog.Nop())

	a := &posAdapter{name: "venue-a", pos: &model.VenuePosition{Side: model.PositionShort, Size: dec("0.03")}}
	b := &posAdapter{name: "venue-b", pos: &model.VenuePosition{Side: model.PositionLong, Size: dec("0.02")}}

	if err := m.SyncFromExchanges(context.Background(), a, b, "btc-usdt"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// A short −0.03 + B long +0.02 = −0.01, adopted as local truth.
	if !m.CurrentNetQty().Equal(dec("-0.01")) {
		t.Fatalf("net = %s, want -0.01", m.CurrentNetQty())
	}
}

func TestVerifyAndSyncOverwritesOnDivergence(t *testing.T) {
	m := New(Config{
		Pair:        "btc-usdt",
		Mode:        model.ModeAccumulate,
		MaxPosition: dec("1"),
		Step:        dec("0.01"),
	}, tradelog.Nop{}, zerolog.Nop())
	m.currentNetQty = dec("-0.05")

	a := &posAdapter{name: "venue-a", pos: &model.VenuePosition{Side: model.PositionShort, Size: dec("0.02")}}
	b := &posAdapter{name: "venue-b", pos: &model.VenuePosition{Side: model.PositionLong, Size: dec("0.02")}}

	if err := m.VerifyAndSync(context.Background(), a, b, "btc-usdt", m.currentNetQty, dec("0.001")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	// Venues report net 0; |0 − (−0.05)| > 0.001, so local is overwritten.
	if !m.CurrentNetQty().IsZero() {
		t.Fatalf("net = %s, want 0 after divergence overwrite", m.CurrentNetQty())
	}
}

func TestVerifyAndSyncKeepsLocalWithinTolerance(t *testing.T) {
	m := New(Config{
		Pair:        "btc-usdt",
		Mode:        model.ModeAccumulate,
		MaxPosition: dec("1"),
		Step:        dec("0.01"),
	}, tradelog.Nop{}, zerolog.Nop())
	m.currentNetQty = dec("-0.0101")

	a := &posAdapter{name: "venue-a", pos: &model.VenuePosition{Side: model.PositionShort, Size: dec("0.01")}}
	b := &posAdapter{name: "venue-b"}

	if err := m.VerifyAndSync(context.Background(), a, b, "btc-usdt", m.currentNetQty, dec("0.001")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !m.CurrentNetQty().Equal(dec("-0.0101")) {
		t.Fatalf("net = %s, local must survive a within-tolerance check", m.CurrentNetQty())
	}
}
