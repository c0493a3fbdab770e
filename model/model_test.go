package model

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestOpenSpreadPct(t *testing.T) {
	s := &PriceSnapshot{
		BidA: d("100.10"), AskB: d("100.01"),
	}
	got := s.OpenSpreadPct()
	want := d("0.0899910008999100089991000899910009")
	if got.Sub(want).Abs().GreaterThan(d("0.0001")) {
		t.Fatalf("open spread = %s, want ~%s", got, want)
	}
}

func TestCloseSpreadPct(t *testing.T) {
	s := &PriceSnapshot{BidB: d("100.10"), AskA: d("100.01")}
	got := s.CloseSpreadPct()
	if got.LessThanOrEqual(decimal.Zero) {
		t.Fatalf("expected positive close spread, got %s", got)
	}
}

func TestPositionIsOpen(t *testing.T) {
	p := &Position{Quantity: d("0.01")}
	if !p.IsOpen() {
		t.Fatal("expected open position")
	}
	p.CloseTime = time.Now()
	if p.IsOpen() {
		t.Fatal("expected closed position")
	}
}

func TestPositionPnLPctMatchesSpreadConvergence(t *testing.T) {
	// A converging round trip: A (sold at 100.10) is bought back at 100.00
	// and B (bought at 100.01) is sold at 100.10, so both legs gain and
	// pnl must be positive.
	p := &Position{
		FilledEntryPriceA: d("100.10"),
		FilledEntryPriceB: d("100.01"),
	}
	pnl := p.PnLPct(d("100.00"), d("100.10"))
	if !pnl.IsPositive() {
		t.Fatalf("expected positive pnl on converging round trip, got %s", pnl)
	}
}

func TestHoldingDurationFormatting(t *testing.T) {
	now := time.Now()
	p := &Position{OpenTime: now.Add(-90 * time.Second)}
	got := p.HoldingDuration(now)
	if got != "1m 30s" {
		t.Fatalf("got %q, want 1m 30s", got)
	}

	p2 := &Position{OpenTime: now.Add(-(time.Hour + 23*time.Minute + 45*time.Second))}
	if got := p2.HoldingDuration(now); got != "1h 23m 45s" {
		t.Fatalf("got %q, want 1h 23m 45s", got)
	}
}

func TestOrderBookBestLevels(t *testing.T) {
	ob := &OrderBook{}
	if _, ok := ob.BestBid(); ok {
		t.Fatal("expected no best bid on empty book")
	}
	ob.Bids = []PriceLevel{{Price: d("100"), Size: d("1")}}
	ob.Asks = []PriceLevel{{Price: d("101"), Size: d("2")}}
	bid, ok := ob.BestBid()
	if !ok || !bid.Price.Equal(d("100")) {
		t.Fatalf("unexpected best bid %+v", bid)
	}
	ask, ok := ob.BestAsk()
	if !ok || !ask.Price.Equal(d("101")) {
		t.Fatalf("unexpected best ask %+v", ask)
	}
}
