package hft

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	droppedEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hft_dropped_events_total",
			Help: "Events dropped because a downstream ring was full",
		},
		[]string{"stage"},
	)

	marketEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hft_market_events_total",
			Help: "Market events emitted by the feed handler",
		},
		[]string{"symbol"},
	)

	decisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hft_strategy_decisions_total",
			Help: "Strategy decisions emitted",
		},
		[]string{"side"},
	)

	riskRejectsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hft_risk_rejects_total",
			Help: "Decisions rejected by the risk check",
		},
		[]string{"reason"},
	)

	ordersSentTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hft_orders_sent_total",
			Help: "Orders handed to the terminal stage's transport",
		},
		[]string{"transport"},
	)

	execUpdatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hft_exec_updates_total",
			Help: "Execution updates by type",
		},
		[]string{"exec_type"},
	)

	skippedFramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hft_skipped_frames_total",
			Help: "Inbound wire frames skipped as malformed or unknown",
		},
		[]string{"reason"},
	)

	logDropsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hft_log_drops_total",
			Help: "Log records dropped because a log ring was full",
		},
		[]string{"source"},
	)

	activeOrders = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "hft_oms_active_orders",
			Help: "Orders tracked by the OMS engine that have not reached a terminal state",
		},
	)

	orderRoundTrip = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "hft_order_round_trip_seconds",
			Help:    "Time from order send to exec report receipt",
			Buckets: prometheus.ExponentialBuckets(0.00005, 2, 14),
		},
		[]string{"exec_type"},
	)

	// DepthResyncsTotal counts snapshot resynchronizations of exchange-facing books.
	DepthResyncsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "hft_depth_resyncs_total",
			Help: "Book resynchronizations from a full snapshot",
		},
		[]string{"symbol"},
	)
)
