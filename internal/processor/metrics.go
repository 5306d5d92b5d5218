package processor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Drain metrics for Prometheus monitoring.
var (
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "maildrain_queue_messages_pending",
			Help: "Number of pending messages in the queue store",
		},
	)

	MessagesProcessedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "maildrain_messages_processed_total",
			Help: "Total number of drained messages by outcome",
		},
		[]string{"outcome"}, // sent, failed
	)

	MessagesSkippedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "maildrain_messages_skipped_total",
			Help: "Total number of messages skipped because another worker held the claim",
		},
	)

	ReconcileErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "maildrain_reconcile_errors_total",
			Help: "Total number of failed queue store status updates by operation",
		},
		[]string{"op"}, // mark_sent, mark_failed
	)

	SendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "maildrain_send_duration_seconds",
			Help:    "Duration of provider delivery attempts",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider"},
	)

	BatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "maildrain_batch_duration_seconds",
			Help:    "Duration of full drain passes",
			Buckets: []float64{.1, .5, 1, 5, 10, 30, 60, 120},
		},
	)
)
