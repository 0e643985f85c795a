package metrics

import (
	"time"

	"github.com/Dhoini/Billing-microservice/pkg/logger"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Webhook processing outcomes.
const (
	OutcomeProcessed    = "processed"
	OutcomeIgnored      = "ignored"
	OutcomeUnresolvable = "unresolvable"
	OutcomeFailed       = "failed"
)

// BillingMetrics интерфейс для метрик биллинга
type BillingMetrics interface {
	ObserveWebhookEvent(eventType, outcome string, duration time.Duration)
	IncSuspension(reason string)
	IncReactivation()
	IncLimitRejection(resource string)
	IncPlanChange(outcome string)
	IncGatewayError(operation, code string)
}

type billingMetrics struct {
	log             *logger.Logger
	webhookEvents   *prometheus.CounterVec
	webhookDuration *prometheus.HistogramVec
	suspensions     *prometheus.CounterVec
	reactivations   prometheus.Counter
	limitRejections *prometheus.CounterVec
	planChanges     *prometheus.CounterVec
	gatewayErrors   *prometheus.CounterVec
}

// NewBillingMetrics регистрирует метрики биллинга в registry
func NewBillingMetrics(registry *prometheus.Registry, log *logger.Logger) BillingMetrics {
	factory := promauto.With(registry)

	return &billingMetrics{
		log: log,
		webhookEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_webhook_events_total",
				Help: "The total number of processed Stripe webhook events by type and outcome",
			},
			[]string{"event_type", "outcome"},
		),
		webhookDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "billing_webhook_duration_seconds",
				Help:    "Webhook event handling latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"event_type"},
		),
		suspensions: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_tenant_suspensions_total",
				Help: "The total number of tenant suspensions by reason",
			},
			[]string{"reason"},
		),
		reactivations: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "billing_tenant_reactivations_total",
				Help: "The total number of lifted tenant suspensions",
			},
		),
		limitRejections: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_limit_rejections_total",
				Help: "The total number of operations rejected by plan quotas",
			},
			[]string{"resource"},
		),
		planChanges: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_plan_changes_total",
				Help: "The total number of plan change requests by outcome",
			},
			[]string{"outcome"},
		),
		gatewayErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "billing_gateway_errors_total",
				Help: "The total number of payment gateway errors",
			},
			[]string{"operation", "code"},
		),
	}
}

func (m *billingMetrics) ObserveWebhookEvent(eventType, outcome string, duration time.Duration) {
	m.webhookEvents.WithLabelValues(eventType, outcome).Inc()
	m.webhookDuration.WithLabelValues(eventType).Observe(duration.Seconds())
}

func (m *billingMetrics) IncSuspension(reason string) {
	m.suspensions.WithLabelValues(reason).Inc()
}

func (m *billingMetrics) IncReactivation() {
	m.reactivations.Inc()
}

func (m *billingMetrics) IncLimitRejection(resource string) {
	m.limitRejections.WithLabelValues(resource).Inc()
}

func (m *billingMetrics) IncPlanChange(outcome string) {
	m.planChanges.WithLabelValues(outcome).Inc()
}

func (m *billingMetrics) IncGatewayError(operation, code string) {
	m.gatewayErrors.WithLabelValues(operation, code).Inc()
}

type nopMetrics struct{}

// NewNopBillingMetrics метрики-заглушка для тестов и запуска без Prometheus
func NewNopBillingMetrics() BillingMetrics { return nopMetrics{} }

func (nopMetrics) ObserveWebhookEvent(string, string, time.Duration) {}
func (nopMetrics) IncSuspension(string) {}
func (nopMetrics) IncReactivation() {}
func (nopMetrics) IncLimitRejection(string) {}
func (nopMetrics) IncPlanChange(string) {}
func (nopMetrics) IncGatewayError(string, string) {}
