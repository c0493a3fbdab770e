package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestRoundToTickHalfUp(t *testing.T) {
	c := Contract{TickSize: decimal.New(1, -2)} // 0.01
	got := c.RoundToTick(decimal.RequireFromString("100.005"))
	want := decimal.RequireFromString("100.01")
	if !got.Equal(want) {
		t.Fatalf("got %s want %s", got, want)
	}
}

func TestRoundToSizeStepFloors(t *testing.T) {
	c := Contract{SizeStep: decimal.RequireFromString("0.001")}
	got := c.RoundToSizeStep(decimal.RequireFromString("0.0079"))
	want := decimal.RequireFromString("0.007")
	if !got.Equal(want) {
		t.Fatalf("got %s want %s", got, want)
	}
}

func TestAggressiveOffsetDirection(t *testing.T) {
	ref := decimal.RequireFromString("100")
	buy := AggressiveOffset(ref, true, DefaultAggressiveOffsetPct)
	sell := AggressiveOffset(ref, false, DefaultAggressiveOffsetPct)
	if !buy.GreaterThan(ref) {
		t.Fatalf("buy offset should exceed reference: %s", buy)
	}
	if !sell.LessThan(ref) {
		t.Fatalf("sell offset should be below reference: %s", sell)
	}
}

func TestLookupFallsBackToDefault(t *testing.T) {
	c := DefaultPrecisionTable.Lookup("unknown-pair")
	if !c.TickSize.Equal(decimal.New(1, -8)) {
		t.Fatalf("expected default tick size, got %s", c.TickSize)
	}
}
