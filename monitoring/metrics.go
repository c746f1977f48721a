package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	releaseOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_releases_total",
			Help: "Escrow release outcomes per payment",
		},
		[]string{"result"},
	)

	refundOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "settlement_refunds_total",
			Help: "Completed refunds by type",
		},
		[]string{"type"},
	)

	webhookEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_events_total",
			Help: "Processed webhook events",
		},
		[]string{"type", "result"},
	)

	heldPayments = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "held_payments",
			Help: "Held payments seen by the last release batch",
		},
	)

	releaseBatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "release_batch_duration_seconds",
			Help:    "Duration of escrow release batches",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
		},
	)
)

// TrackRelease records the outcome of one payment in a release batch.
func TrackRelease(result string) {
	releaseOperations.WithLabelValues(result).Inc()
}

// TrackRefund records a completed refund ("refund" or "reversal_and_refund").
func TrackRefund(refundType string) {
	refundOperations.WithLabelValues(refundType).Inc()
}

// TrackWebhookEvent records a webhook delivery outcome.
func TrackWebhookEvent(eventType, result string) {
	webhookEvents.WithLabelValues(eventType, result).Inc()
}

// SetHeldPayments reports the held backlog observed by a batch.
func SetHeldPayments(n int) {
	heldPayments.Set(float64(n))
}

// ObserveReleaseBatch records a batch duration.
func ObserveReleaseBatch(d time.Duration) {
	releaseBatchDuration.Observe(d.Seconds())
}
