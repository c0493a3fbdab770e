package strategy

import (
	"sort"
	"sync"

	"github.com/shopspring/decimal"
)

// ThresholdSource supplies the open/close spread gates for each
// evaluation. StaticThreshold wraps the configured constants;
// RollingPercentileThreshold recomputes them from a rolling spread
// distribution.
type ThresholdSource interface {
	Thresholds() (openPct, closePct decimal.Decimal)
	Observe(openSpreadPct, closeSpreadPct decimal.Decimal)
}

// StaticThreshold returns the configured constants unchanged.
type StaticThreshold struct {
	OpenPct  decimal.Decimal
	ClosePct decimal.Decimal
}

func (s StaticThreshold) Thresholds() (decimal.Decimal, decimal.Decimal) {
	return s.OpenPct, s.ClosePct
}

func (StaticThreshold) Observe(_, _ decimal.Decimal) {}

// DefaultRollingWindow is the number of spread samples the dynamic
// threshold keeps.
const DefaultRollingWindow = 500

// RollingPercentileThreshold derives the open threshold from a percentile
// of the recently observed open-spread distribution (and the close
// threshold likewise), floored at the configured static values so the gate
// can never loosen past the operator's floor. It only tightens.
type RollingPercentileThreshold struct {
	mu sync.Mutex

	window          int
	openPercentile  float64 // e.g. 0.75
	closePercentile float64 // e.g. 0.25

	floorOpen  decimal.Decimal
	floorClose decimal.Decimal

	openSamples  []decimal.Decimal
	closeSamples []decimal.Decimal
}

// NewRollingPercentileThreshold creates a dynamic source over the given
// window with P75/P25 defaults when percentiles are zero.
func NewRollingPercentileThreshold(window int, openPercentile, closePercentile float64, floorOpen, floorClose decimal.Decimal) *RollingPercentileThreshold {
	if window <= 0 {
		window = DefaultRollingWindow
	}
	if openPercentile <= 0 || openPercentile >= 1 {
		openPercentile = 0.75
	}
	if closePercentile <= 0 || closePercentile >= 1 {
		closePercentile = 0.25
	}
	return &RollingPercentileThreshold{
		window:          window,
		openPercentile:  openPercentile,
		closePercentile: closePercentile,
		floorOpen:       floorOpen,
		floorClose:      floorClose,
	}
}

func (r *RollingPercentileThreshold) Observe(openSpreadPct, closeSpreadPct decimal.Decimal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.openSamples = appendBounded(r.openSamples, openSpreadPct, r.window)
	r.closeSamples = appendBounded(r.closeSamples, closeSpreadPct, r.window)
}

func (r *RollingPercentileThreshold) Thresholds() (decimal.Decimal, decimal.Decimal) {
	r.mu.Lock()
	defer r.mu.Unlock()
	open := percentile(r.openSamples, r.openPercentile)
	if open.LessThan(r.floorOpen) {
		open = r.floorOpen
	}
	close := percentile(r.closeSamples, r.closePercentile)
	if close.LessThan(r.floorClose) {
		close = r.floorClose
	}
	return open, close
}

func appendBounded(s []decimal.Decimal, v decimal.Decimal, max int) []decimal.Decimal {
	s = append(s, v)
	if len(s) > max {
		s = s[len(s)-max:]
	}
	return s
}

// percentile returns the p-th percentile of samples as the sorted sample at
// zero-based index floor(p*n), clamped to the last sample, or zero when
// there are no samples yet.
func percentile(samples []decimal.Decimal, p float64) decimal.Decimal {
	if len(samples) == 0 {
		return decimal.Zero
	}
	sorted := append([]decimal.Decimal(nil), samples...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].LessThan(sorted[j]) })
	idx := int(p * float64(len(sorted)))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
