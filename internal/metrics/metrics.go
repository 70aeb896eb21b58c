package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingestion metrics
	MessagesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pushrelay_messages_total",
			Help: "Total number of inbound push messages by outcome",
		},
		[]string{"outcome"},
	)

	DedupErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pushrelay_dedup_errors_total",
			Help: "Total number of identity store errors",
		},
	)

	// Rendering metrics
	RendersTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pushrelay_renders_total",
			Help: "Total number of presentation sink render calls by result",
		},
		[]string{"result"},
	)

	RenderDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pushrelay_render_duration_seconds",
			Help:    "Duration of presentation sink render calls in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Listener metrics
	ListenerErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pushrelay_listener_errors_total",
			Help: "Total number of live listener delivery failures",
		},
		[]string{"event"},
	)

	// Correlation metrics
	OpensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pushrelay_opens_total",
			Help: "Total number of activation payloads by result",
		},
		[]string{"result"},
	)

	RecordsTracked = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pushrelay_records_tracked",
			Help: "Current number of notification records held in memory",
		},
	)
)
