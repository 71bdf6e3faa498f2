// Package metrics exposes the pipeline's Prometheus collectors.
//
//   - sniper_ticks_ingested_total          accepted trade prints
//   - sniper_ticks_rejected_total{reason}  invalid|late|spike
//   - sniper_bars_sealed_total / sniper_bars_persisted_total
//   - sniper_feed_reconnects_total, sniper_feed_connected
//   - sniper_setups_total{event}           armed|expired|confirmed|duplicate|capped
//   - sniper_armed_setups                  currently waiting setups
//   - sniper_signals_total{grade}          composed signals, reject included
//   - sniper_exits_total{reason,direction}
//   - sniper_open_positions, sniper_realized_pnl_usd
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	TicksIngested = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sniper_ticks_ingested_total",
			Help: "Trade prints merged into bars",
		},
	)

	TicksRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sniper_ticks_rejected_total",
			Help: "Trade prints dropped by the validity or spike gates",
		},
		[]string{"reason"},
	)

	BarsSealed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sniper_bars_sealed_total",
			Help: "Bars closed by bucket rollover",
		},
	)

	BarsPersisted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sniper_bars_persisted_total",
			Help: "Sealed bars written by the flush loop",
		},
	)

	FeedReconnects = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "sniper_feed_reconnects_total",
			Help: "Feed reconnect attempts",
		},
	)

	FeedConnected = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sniper_feed_connected",
			Help: "1 while the trade stream is connected",
		},
	)

	SetupEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sniper_setups_total",
			Help: "Armed setup lifecycle events",
		},
		[]string{"event"},
	)

	ArmedSetups = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sniper_armed_setups",
			Help: "Setups currently waiting for confirmation",
		},
	)

	Signals = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sniper_signals_total",
			Help: "Composed signals by final grade",
		},
		[]string{"grade"},
	)

	Exits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sniper_exits_total",
			Help: "Position exits and scale-outs by reason and direction",
		},
		[]string{"reason", "direction"},
	)

	OpenPositions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sniper_open_positions",
			Help: "Positions not yet closed",
		},
	)

	RealizedPnL = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "sniper_realized_pnl_usd",
			Help: "Realized P&L since process start",
		},
	)
)

func init() {
	prometheus.MustRegister(
		TicksIngested,
		TicksRejected,
		BarsSealed,
		BarsPersisted,
		FeedReconnects,
		FeedConnected,
		SetupEvents,
		ArmedSetups,
		Signals,
		Exits,
		OpenPositions,
		RealizedPnL,
	)
}

// Handler serves the Prometheus exposition format
func Handler() http.Handler {
	return promhttp.Handler()
}
