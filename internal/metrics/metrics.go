// Package metrics holds the prometheus collectors for the HTTP surface and
// the approval and payment workflows.
package metrics

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "bookshop"

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	bookDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "book_decisions_total",
			Help:      "Approval decisions applied, by outcome",
		},
		[]string{"status"},
	)

	paymentsInitiatedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payments_initiated_total",
			Help:      "Checkout sessions opened",
		},
	)

	paymentTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_transitions_total",
			Help:      "Payments moved to a terminal state, by status and confirmation source",
		},
		[]string{"status", "source"},
	)

	reconcileOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_reconcile_outcomes_total",
			Help:      "Reconcile calls by source and outcome (applied, noop, pending, unknown_reference, error)",
		},
		[]string{"source", "outcome"},
	)

	providerRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "payment_provider_request_duration_seconds",
			Help:      "Latency of outbound payment provider calls",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation", "result"},
	)

	breakerState = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "payment_provider_breaker_state",
			Help:      "Circuit breaker state for the payment provider (0 closed, 1 open, 2 half open)",
		},
	)

	eventsPublishedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_published_total",
			Help:      "Domain events handed to the publisher, by type and result",
		},
		[]string{"type", "result"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		bookDecisionsTotal,
		paymentsInitiatedTotal,
		paymentTransitionsTotal,
		reconcileOutcomesTotal,
		providerRequestDuration,
		breakerState,
		eventsPublishedTotal,
	)
}

func Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		c.Next()

		status := strconv.Itoa(c.Writer.Status())
		httpRequestsTotal.WithLabelValues(c.Request.Method, path, status).Inc()
		httpRequestDuration.WithLabelValues(c.Request.Method, path).Observe(time.Since(start).Seconds())
	}
}

func Handler() gin.HandlerFunc {
	return gin.WrapH(promhttp.Handler())
}

func RecordBookDecision(status string) {
	bookDecisionsTotal.WithLabelValues(status).Inc()
}

func RecordPaymentInitiated() {
	paymentsInitiatedTotal.Inc()
}

func RecordPaymentTransition(status, source string) {
	paymentTransitionsTotal.WithLabelValues(status, source).Inc()
}

func RecordReconcile(source, outcome string) {
	reconcileOutcomesTotal.WithLabelValues(source, outcome).Inc()
}

func ObserveProviderRequest(operation string, err error, took time.Duration) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	providerRequestDuration.WithLabelValues(operation, result).Observe(took.Seconds())
}

func SetBreakerState(state int) {
	breakerState.Set(float64(state))
}

func RecordEventPublished(eventType string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	eventsPublishedTotal.WithLabelValues(eventType, result).Inc()
}
