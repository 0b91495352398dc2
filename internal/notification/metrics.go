package notification

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	notificationsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_notifications_created_total",
		Help: "Total notifications accepted by the create use case.",
	}, []string{"class", "severity"})

	notificationsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_notifications_processed_total",
		Help: "Dispatch pass outcomes per notification.",
	}, []string{"outcome"})

	deliveryAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dispatch_delivery_attempts_total",
		Help: "Per-channel delivery attempt results.",
	}, []string{"channel", "result"})

	escalationsSpawned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dispatch_escalations_total",
		Help: "Derived escalation notifications created by the sweep.",
	})

	passDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dispatch_pass_duration_seconds",
		Help:    "Duration of one tenant dispatch pass.",
		Buckets: prometheus.DefBuckets,
	})
)
