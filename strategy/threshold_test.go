package strategy

import (
	"testing"
)

func TestStaticThresholdPassesConstantsThrough(t *testing.T) {
	s := StaticThreshold{OpenPct: dec("0.05"), ClosePct: dec("0.01")}
	open, close := s.Thresholds()
	if !open.Equal(dec("0.05")) || !close.Equal(dec("0.01")) {
		t.Fatalf("got %s/%s", open, close)
	}
}

func TestRollingPercentileFloorsAtStatic(t *testing.T) {
	r := NewRollingPercentileThreshold(10, 0.75, 0.25, dec("0.05"), dec("0.01"))

	// All observed spreads below the floor: the gate must not loosen
	// past the operator's configured minimum.
	for i := 0; i < 10; i++ {
		r.Observe(dec("0.01"), dec("0.001"))
	}
	open, close := r.Thresholds()
	if !open.Equal(dec("0.05")) {
		t.Fatalf("open = %s, want the 0.05 floor", open)
	}
	if !close.Equal(dec("0.01")) {
		t.Fatalf("close = %s, want the 0.01 floor", close)
	}
}

func TestRollingPercentileTightensAboveFloor(t *testing.T) {
	r := NewRollingPercentileThreshold(4, 0.75, 0.25, dec("0.05"), dec("0.00"))
	for _, s := range []string{"0.10", "0.20", "0.30", "0.40"} {
		r.Observe(dec(s), dec(s))
	}
	open, _ := r.Thresholds()
	// P75 of {0.10, 0.20, 0.30, 0.40} is sorted index floor(0.75*4) = 3,
	// the 4th value.
	if !open.Equal(dec("0.40")) {
		t.Fatalf("open = %s, want P75 = 0.40", open)
	}
}

func TestRollingWindowEvictsOldSamples(t *testing.T) {
	r := NewRollingPercentileThreshold(2, 0.75, 0.25, dec("0"), dec("0"))
	r.Observe(dec("9"), dec("9"))
	r.Observe(dec("0.1"), dec("0.1"))
	r.Observe(dec("0.2"), dec("0.2"))
	open, _ := r.Thresholds()
	if open.GreaterThan(dec("0.2")) {
		t.Fatalf("open = %s, the 9 sample should have been evicted", open)
	}
}
