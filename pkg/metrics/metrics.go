package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all application metrics
type Metrics struct {
	// Intake metrics
	QuotesSubmitted    prometheus.Counter
	QuoteSubmitErrors  *prometheus.CounterVec
	ImagePersistErrors prometheus.Counter
	NotificationErrors *prometheus.CounterVec

	// Downstream forwarding metrics
	ForwardAttempts *prometheus.CounterVec
	ForwardLatency  prometheus.Histogram

	// Fallback queue metrics
	FallbackEnqueued     prometheus.Counter
	FallbackEnqueueError prometheus.Counter
	FallbackQueueSize    prometheus.Gauge
	FallbackDeadLettered prometheus.Gauge
	RetryPasses          *prometheus.CounterVec
	RetryPassDuration    prometheus.Histogram

	// Database metrics
	DatabaseOperations *prometheus.CounterVec
}

// NewMetrics creates all application metrics and registers them with reg.
// A nil reg uses the default registerer.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		QuotesSubmitted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quotes_submitted_total",
			Help:      "Total number of persisted quote requests",
		}),
		QuoteSubmitErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quote_submit_errors_total",
			Help:      "Quote submissions rejected or not persisted",
		}, []string{"reason"}),
		ImagePersistErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quote_image_persist_errors_total",
			Help:      "Quote images that failed to persist",
		}),
		NotificationErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "quote_notification_errors_total",
			Help:      "Best-effort notifications that failed",
		}, []string{"channel"}),

		ForwardAttempts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "downstream_forward_attempts_total",
			Help:      "Attempts to forward quotes to the downstream system",
		}, []string{"source", "result"}),
		ForwardLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "downstream_forward_duration_seconds",
			Help:      "Duration of downstream forward calls",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		}),

		FallbackEnqueued: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallback_enqueued_total",
			Help:      "Quotes placed in the fallback queue",
		}),
		FallbackEnqueueError: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallback_enqueue_errors_total",
			Help:      "Quotes that could not be placed in the fallback queue",
		}),
		FallbackQueueSize: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "fallback_queue_size",
			Help:      "Entries currently held in the fallback queue",
		}),
		FallbackDeadLettered: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "fallback_dead_lettered",
			Help:      "Entries that exhausted their retry budget",
		}),
		RetryPasses: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fallback_retry_passes_total",
			Help:      "Completed retry passes over the fallback queue",
		}, []string{"result"}),
		RetryPassDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fallback_retry_pass_duration_seconds",
			Help:      "Time spent in a retry pass",
			Buckets:   []float64{.01, .05, .1, .5, 1, 5, 10, 30, 60},
		}),

		DatabaseOperations: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "database_operations_total",
			Help:      "Total number of database operations",
		}, []string{"operation", "status"}),
	}
}

// NewNop returns metrics registered on a throwaway registry, for tests and tools.
func NewNop() *Metrics {
	return NewMetrics("test", prometheus.NewRegistry())
}
