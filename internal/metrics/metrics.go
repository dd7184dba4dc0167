// Package metrics provides Prometheus instrumentation for the conversation
// service. It exposes gauges for connection and conversation counts,
// counters for message and typing throughput, and a histogram for append
// latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of active WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chatsvc_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// OpenConversations tracks the current number of live conversation sessions.
	OpenConversations = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chatsvc_open_conversations",
		Help: "Current number of open conversation sessions",
	})

	// MessagesTotal counts message send outcomes, labeled by result:
	// "sent", "rejected", or "rate_limited".
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chatsvc_messages_total",
		Help: "Total number of message sends by outcome",
	}, []string{"result"})

	// AppendLatency records message append latency in seconds, from handler
	// entry to durable commit.
	AppendLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "chatsvc_append_latency_seconds",
		Help:    "Message append latency in seconds",
		Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	})

	// TypingEventsTotal counts typing indicator updates accepted from clients.
	TypingEventsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatsvc_typing_events_total",
		Help: "Total number of typing indicator updates",
	})

	// MarkReadTotal counts read-receipt watermark updates.
	MarkReadTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "chatsvc_mark_read_total",
		Help: "Total number of mark-read operations",
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		OpenConversations,
		MessagesTotal,
		AppendLatency,
		TypingEventsTotal,
		MarkReadTotal,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
