package tradelog

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestSlippagePct(t *testing.T) {
	cases := []struct {
		name   string
		side   string
		signal string
		filled string
		want   string
	}{
		// A buy filled above signal is positive (worse) slippage.
		{"buy worse", "buy", "100.00", "100.10", "0.1"},
		{"buy better", "buy", "100.00", "99.90", "-0.1"},
		// A sell filled below signal is positive (worse) slippage.
		{"sell worse", "sell", "100.00", "99.90", "0.1"},
		{"sell better", "sell", "100.00", "100.10", "-0.1"},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			r := Record{Side: c.side, SignalPrice: dec(c.signal), FilledPrice: dec(c.filled)}
			if got := r.SlippagePct(); !got.Equal(dec(c.want)) {
				t.Fatalf("slippage = %s, want %s", got, c.want)
			}
		})
	}
}

func TestSlippageZeroSignalPrice(t *testing.T) {
	r := Record{Side: "buy", FilledPrice: dec("100")}
	if !r.SlippagePct().IsZero() {
		t.Fatal("zero signal price must not divide")
	}
}

func TestPostgresSinkInsertsOneRowPerLeg(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer db.Close()
	sink := newPostgresSinkFromDB(db)

	mock.ExpectExec("INSERT INTO trades").
		WithArgs(
			sqlmock.AnyArg(), "2026-08-01", "btc-usdt", "venue-a", "sell",
			"100.1", "100.09", "0.01", "a1", "open",
			"0.0899", "0", sqlmock.AnyArg(), "",
			int64(12), int64(0), int64(0), 1,
		).
		WillReturnResult(sqlmock.NewResult(1, 1))

	sink.LogTrade(Record{
		Timestamp:     time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
		Pair:          "btc-usdt",
		Exchange:      "venue-a",
		Side:          "sell",
		SignalPrice:   dec("100.1"),
		FilledPrice:   dec("100.09"),
		Quantity:      dec("0.01"),
		OrderID:       "a1",
		PositionType:  "open",
		SpreadPct:     dec("0.0899"),
		SignalDelayMs: 12,
		Attempts:      1,
	})

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestMultiFansOut(t *testing.T) {
	var a, b countingSink
	m := Multi{&a, &b}
	m.LogTrade(Record{Pair: "btc-usdt"})
	m.LogTrade(Record{Pair: "btc-usdt"})
	if a.n != 2 || b.n != 2 {
		t.Fatalf("fan-out counts = %d/%d, want 2/2", a.n, b.n)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if !a.closed || !b.closed {
		t.Fatal("close must reach every sink")
	}
}

type countingSink struct {
	n      int
	closed bool
}

func (c *countingSink) LogTrade(Record) { c.n++ }
func (c *countingSink) Close() error { c.closed = true; return nil }
