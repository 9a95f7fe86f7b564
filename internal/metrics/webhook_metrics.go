package metrics

import (
	"time"

	"github.com/Dhoini/payment-reconciler/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// WebhookMetrics метрики обработки событий платежной системы
type WebhookMetrics interface {
	ObserveEvent(eventType, outcome string, duration time.Duration)
	IncRejected(reason string)
	IncFulfillmentSkipped()
	IncPaymentFailed(currency string)
	IncPaymentRefunded(currency string, amount float64)
	IncLookupFailure()
}

type webhookMetrics struct {
	log            *logger.Logger
	events         *prometheus.CounterVec
	duration       *prometheus.HistogramVec
	rejected       *prometheus.CounterVec
	skipped        prometheus.Counter
	paymentsStatus *prometheus.CounterVec
	refundAmount   *prometheus.HistogramVec
	lookupFailures prometheus.Counter
}

// NewWebhookMetrics регистрирует метрики в registry
func NewWebhookMetrics(registry *prometheus.Registry, log *logger.Logger) WebhookMetrics {
	factory := promauto.With(registry)

	return &webhookMetrics{
		log: log,
		events: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webhook_events_total",
				Help: "The total number of processed provider events by type and outcome",
			},
			[]string{"type", "outcome"},
		),
		duration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "webhook_processing_seconds",
				Help:    "Provider event processing time",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"type"},
		),
		rejected: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webhook_rejected_total",
				Help: "Deliveries rejected before dispatch",
			},
			[]string{"reason"},
		),
		skipped: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "fulfillment_skipped_total",
				Help: "Billing cycles skipped on customer request",
			},
		),
		paymentsStatus: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "payments_status_total",
				Help: "The total number of payments by status",
			},
			[]string{"status", "currency"},
		),
		refundAmount: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "payments_refund_amount",
				Help:    "Refunded amounts distribution",
				Buckets: prometheus.ExponentialBuckets(10, 10, 5), // 10, 100, 1000, 10000, 100000
			},
			[]string{"currency"},
		),
		lookupFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "provider_lookup_failures_total",
				Help: "Failed subscription metadata lookups against the provider",
			},
		),
	}
}

func (m *webhookMetrics) ObserveEvent(eventType, outcome string, duration time.Duration) {
	m.events.WithLabelValues(eventType, outcome).Inc()
	m.duration.WithLabelValues(eventType).Observe(duration.Seconds())
}

func (m *webhookMetrics) IncRejected(reason string) {
	m.rejected.WithLabelValues(reason).Inc()
}

func (m *webhookMetrics) IncFulfillmentSkipped() {
	m.skipped.Inc()
}

func (m *webhookMetrics) IncPaymentFailed(currency string) {
	m.paymentsStatus.WithLabelValues("failed", currency).Inc()
}

func (m *webhookMetrics) IncPaymentRefunded(currency string, amount float64) {
	m.paymentsStatus.WithLabelValues("refunded", currency).Inc()
	m.refundAmount.WithLabelValues(currency).Observe(amount)
}

func (m *webhookMetrics) IncLookupFailure() {
	m.lookupFailures.Inc()
}
