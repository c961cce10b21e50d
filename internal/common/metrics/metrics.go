// internal/common/metrics/metrics.go
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	OutboxEnqueued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_entries_enqueued_total",
			Help: "Total number of outbox entries enqueued, by outcome",
		},
		[]string{"event_key", "outcome"},
	)

	OutboxDelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_entries_delivered_total",
			Help: "Total number of outbox entries delivered to the transport",
		},
		[]string{"event_key"},
	)

	OutboxFailed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_delivery_failures_total",
			Help: "Total number of delivery attempt failures, by error code",
		},
		[]string{"event_key", "error_code"},
	)

	OutboxSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "outbox_entries_skipped_total",
			Help: "Total number of entries skipped by the preference gate or dedup",
		},
		[]string{"reason"},
	)

	TickDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name: "outbox_tick_duration_seconds",
			Help: "Duration of one worker tick in seconds",
		},
	)

	PendingEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "outbox_pending_entries",
			Help: "Number of PENDING entries observed at the last tick",
		},
	)
)
