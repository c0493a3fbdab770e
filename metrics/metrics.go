// Package metrics holds the Prometheus collectors shared across the engine
// (monitor, executor, strategy) and the registry adminsrv exposes at
// /metrics. Modeled on chidi150c-coinbase's metrics.go: a package-level
// var block of collectors, registered in init. The collectors are exported
// prometheus vectors that callers label and update directly.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	BookUpdatesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hedgearb_book_updates_total",
			Help: "Order book updates received per venue.",
		},
		[]string{"pair", "venue"},
	)

	BookStaleTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hedgearb_book_stale_total",
			Help: "Health checks that found a venue's book older than the freshness threshold.",
		},
		[]string{"pair", "venue"},
	)

	SignalsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hedgearb_signals_total",
			Help: "Trading signals emitted by type.",
		},
		[]string{"pair", "type"},
	)

	OpenSpreadPct = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hedgearb_open_spread_pct",
			Help: "Most recently observed open spread percentage.",
		},
		[]string{"pair"},
	)

	CloseSpreadPct = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hedgearb_close_spread_pct",
			Help: "Most recently observed close spread percentage.",
		},
		[]string{"pair"},
	)

	NetPositionQty = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "hedgearb_net_position_qty",
			Help: "Current signed net position quantity held by the position manager.",
		},
		[]string{"pair"},
	)

	OrdersTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hedgearb_orders_total",
			Help: "Orders placed, by venue, side and outcome.",
		},
		[]string{"pair", "venue", "side", "outcome"},
	)

	OrderRetries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hedgearb_order_retries_total",
			Help: "Order placement retry attempts, by venue.",
		},
		[]string{"pair", "venue"},
	)

	UnwindsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hedgearb_unwinds_total",
			Help: "Emergency single-leg unwinds triggered, by venue and outcome.",
		},
		[]string{"pair", "venue", "outcome"},
	)

	ExecutionDurationMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hedgearb_execution_duration_ms",
			Help:    "Two-leg execution wall-clock duration in milliseconds.",
			Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000},
		},
		[]string{"pair", "direction"},
	)

	ReconnectsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hedgearb_venue_reconnects_total",
			Help: "Venue adapter reconnection attempts.",
		},
		[]string{"pair", "venue"},
	)
)

func init() {
	prometheus.MustRegister(
		BookUpdatesTotal,
		BookStaleTotal,
		SignalsTotal,
		OpenSpreadPct,
		CloseSpreadPct,
		NetPositionQty,
		OrdersTotal,
		OrderRetries,
		UnwindsTotal,
		ExecutionDurationMs,
		ReconnectsTotal,
	)
}
