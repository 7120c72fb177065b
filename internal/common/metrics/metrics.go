package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TransitionsApplied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lifecycle_transitions_applied_total",
			Help: "Total number of accepted lifecycle transitions",
		},
		[]string{"action", "new_status"},
	)

	TransitionsRejected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "lifecycle_transitions_rejected_total",
			Help: "Total number of rejected lifecycle transitions",
		},
		[]string{"action", "error_code"},
	)

	TransitionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "lifecycle_transition_duration_seconds",
			Help: "Duration of transition processing in seconds",
		},
		[]string{"action"},
	)

	PendingQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "moderation_pending_queue_depth",
			Help: "Number of submissions waiting for moderation",
		},
	)

	PublishedListings = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "map_published_listings",
			Help: "Number of submissions currently on the public map",
		},
	)

	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_sent_total",
			Help: "Total number of notifications sent per channel",
		},
		[]string{"channel", "status"},
	)
)
