// Package metrics provides Prometheus instrumentation for the chat server.
// It exposes gauges for connection and presence counts, counters for message
// throughput, and a histogram for delivery latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of active WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "quickchat_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// OnlineUsers tracks the current number of users with at least one
	// open connection.
	OnlineUsers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "quickchat_online_users",
		Help: "Current number of online users",
	})

	// MessagesTotal counts messages processed, labeled by outcome:
	// "sent" (persisted), "delivered" (pushed to a live connection),
	// "dropped" (rejected or failed before persistence).
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "quickchat_messages_total",
		Help: "Total number of messages processed",
	}, []string{"outcome"}) // outcome = "sent", "delivered", "dropped"

	// DeliveryLatency records time from send acceptance to push completion.
	DeliveryLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "quickchat_delivery_latency_seconds",
		Help:    "Message delivery latency in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	})

	// SeenBatches counts seen-state reconciliations that updated at least
	// one message.
	SeenBatches = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "quickchat_seen_batches_total",
		Help: "Total number of seen-state batches applied",
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		OnlineUsers,
		MessagesTotal,
		DeliveryLatency,
		SeenBatches,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
