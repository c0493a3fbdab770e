package ws

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/vmihailenco/msgpack/v5"

	"hedgearb/model"
	"hedgearb/pricing"
)

func encode(t *testing.T, f frame) []byte {
	t.Helper()
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	if err := enc.Encode(f); err != nil {
		t.Fatalf("encode frame: %v", err)
	}
	return buf.Bytes()
}

func newTestAdapter() *Adapter {
	return New(Config{VenueName: "test", Symbol: "BTCUSDT", Contract: pricing.Contract{TickSize: decimal.New(1, -2)}}, zerolog.Nop())
}

func TestHandleFrameSnapshotThenDelta(t *testing.T) {
	a := newTestAdapter()

	snap := frame{Sequence: 5, IsSnapshot: true, Bids: map[string]string{"100.00": "1.0"}, Asks: map[string]string{"100.05": "1.0"}}
	if err := a.handleFrame(encode(t, snap)); err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	delta := frame{Sequence: 6, Bids: map[string]string{"100.00": "2.5"}}
	if err := a.handleFrame(encode(t, delta)); err != nil {
		t.Fatalf("delta: %v", err)
	}

	ob, ok := a.GetLatestOrderBook()
	if !ok {
		t.Fatal("expected a book after snapshot+delta")
	}
	bid, _ := ob.BestBid()
	if !bid.Size.Equal(decimal.RequireFromString("2.5")) {
		t.Fatalf("expected delta to update size to 2.5, got %s", bid.Size)
	}
}

func TestHandleFrameDeltaZeroSizeRemovesLevel(t *testing.T) {
	a := newTestAdapter()
	a.handleFrame(encode(t, frame{Sequence: 1, IsSnapshot: true, Bids: map[string]string{"100.00": "1.0", "99.00": "2.0"}, Asks: map[string]string{}}))
	a.handleFrame(encode(t, frame{Sequence: 2, Bids: map[string]string{"100.00": "0"}}))

	ob, _ := a.GetLatestOrderBook()
	if len(ob.Bids) != 1 {
		t.Fatalf("expected one remaining bid level, got %d", len(ob.Bids))
	}
	if !ob.Bids[0].Price.Equal(decimal.RequireFromString("99.00")) {
		t.Fatalf("expected 99.00 to remain, got %s", ob.Bids[0].Price)
	}
}

func TestHandleFrameSequenceGapInvalidatesBook(t *testing.T) {
	a := newTestAdapter()
	a.handleFrame(encode(t, frame{Sequence: 1, IsSnapshot: true, Bids: map[string]string{"100.00": "1.0"}, Asks: map[string]string{"100.05": "1.0"}}))

	// Jump straight to sequence 10, skipping 2-9: must invalidate, not apply.
	a.handleFrame(encode(t, frame{Sequence: 10, Bids: map[string]string{"100.00": "9.0"}}))

	if _, ok := a.GetLatestOrderBook(); ok {
		t.Fatal("expected book to be invalidated after a sequence gap")
	}

	// A fresh snapshot must resync it.
	a.handleFrame(encode(t, frame{Sequence: 11, IsSnapshot: true, Bids: map[string]string{"100.00": "3.0"}, Asks: map[string]string{"100.05": "1.0"}}))
	ob, ok := a.GetLatestOrderBook()
	if !ok {
		t.Fatal("expected book to resync after a new snapshot")
	}
	bid, _ := ob.BestBid()
	if !bid.Size.Equal(decimal.RequireFromString("3.0")) {
		t.Fatalf("expected resynced size 3.0, got %s", bid.Size)
	}
}

func TestSnapshotOrdering(t *testing.T) {
	a := newTestAdapter()
	a.handleFrame(encode(t, frame{
		Sequence:   1,
		IsSnapshot: true,
		Bids:       map[string]string{"100.00": "1", "101.00": "1", "99.00": "1"},
		Asks:       map[string]string{"102.00": "1", "103.00": "1", "101.50": "1"},
	}))
	ob, _ := a.GetLatestOrderBook()
	if !ob.Bids[0].Price.Equal(decimal.RequireFromString("101.00")) {
		t.Fatalf("expected bids descending, top is %s", ob.Bids[0].Price)
	}
	if !ob.Asks[0].Price.Equal(decimal.RequireFromString("101.50")) {
		t.Fatalf("expected asks ascending, top is %s", ob.Asks[0].Price)
	}
}

func TestCallbackInvokedOnFrame(t *testing.T) {
	a := newTestAdapter()
	var gotCount int
	a.SubscribeOrderBook(func(ob *model.OrderBook) { gotCount++ })
	a.handleFrame(encode(t, frame{Sequence: 1, IsSnapshot: true, Bids: map[string]string{"100.00": "1.0"}, Asks: map[string]string{}}))
	if gotCount != 1 {
		t.Fatalf("expected callback invoked once, got %d", gotCount)
	}
}
