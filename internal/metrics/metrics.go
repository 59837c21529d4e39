// Package metrics holds the Prometheus instruments of the sender. All
// collectors are registered with the global registry, so importing this
// package is enough to expose them on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	MessagesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "campaign_sender",
			Name:      "messages_total",
			Help:      "Recorded send attempts by outcome status.",
		}, []string{"status"})

	BlacklistedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "campaign_sender",
			Name:      "blacklisted_total",
			Help:      "Recipients skipped because their address is blacklisted.",
		})

	RenderFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "campaign_sender",
			Name:      "render_failures_total",
			Help:      "Recipients whose message could not be rendered.",
		})

	SendDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "campaign_sender",
			Name:      "send_duration_seconds",
			Help:      "Transport submission latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"mailer"})

	ThrottleWaitSeconds = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "campaign_sender",
			Name:      "throttle_wait_seconds_total",
			Help:      "Cumulative time spent waiting for a send permit.",
		})
)

func init() {
	prometheus.MustRegister(
		MessagesTotal,
		BlacklistedTotal,
		RenderFailuresTotal,
		SendDuration,
		ThrottleWaitSeconds,
	)
}
