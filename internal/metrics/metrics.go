// Package metrics provides Prometheus instrumentation for the Whisspra chat
// core. It exposes gauges for connection counts, counters for message and
// coordinator throughput, and histograms for dispatch latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of active WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "whisspra_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// OnlineUsers tracks the number of distinct users with at least one
	// live connection on this node.
	OnlineUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "whisspra_online_users",
		Help: "Current number of distinct online users",
	})

	// MessagesTotal counts processed send intents, labeled by outcome:
	// "sent", "rejected", or "rate_limited".
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "whisspra_messages_total",
		Help: "Total number of send intents processed",
	}, []string{"outcome"})

	// DispatchLatency records the validate-persist-broadcast latency of one
	// send intent in seconds.
	DispatchLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "whisspra_dispatch_latency_seconds",
		Help:    "Send intent dispatch latency in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	})

	// BroadcastFanout records how many connections each room broadcast
	// reached.
	BroadcastFanout = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "whisspra_broadcast_fanout",
		Help:    "Connections reached per room broadcast",
		Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250},
	})

	// SafetyScansTotal counts completed safety scans by terminal verdict.
	SafetyScansTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "whisspra_safety_scans_total",
		Help: "Total number of completed safety scans",
	}, []string{"verdict"})

	// AutoRepliesTotal counts auto-reply trigger evaluations by outcome:
	// "sent", "skipped", or "failed".
	AutoRepliesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "whisspra_auto_replies_total",
		Help: "Total number of auto-reply trigger evaluations",
	}, []string{"outcome"})

	// StatusAdvancesTotal counts bulk delivery-status advances by target
	// status.
	StatusAdvancesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "whisspra_status_advances_total",
		Help: "Total number of bulk delivery-status advances",
	}, []string{"status"})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		OnlineUsers,
		MessagesTotal,
		DispatchLatency,
		BroadcastFanout,
		SafetyScansTotal,
		AutoRepliesTotal,
		StatusAdvancesTotal,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
