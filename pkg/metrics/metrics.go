package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dmitrymomot/saasbilling/pkg/billing"
)

const namespace = "billing"

// Billing exports billing counters to Prometheus.
type Billing struct {
	webhooks        *prometheus.CounterVec
	webhookFailures *prometheus.CounterVec
	checkouts       *prometheus.CounterVec
	checkoutErrors  *prometheus.CounterVec
	credits         *prometheus.CounterVec
}

var _ billing.Metrics = (*Billing)(nil)

// NewBilling registers the billing collectors on reg.
func NewBilling(reg prometheus.Registerer) (*Billing, error) {
	m := &Billing{
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhooks_processed_total",
			Help:      "Verified webhook deliveries by provider, event kind and outcome.",
		}, []string{"provider", "kind", "outcome"}),
		webhookFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "webhooks_failed_total",
			Help:      "Webhook deliveries that were rejected or not applied.",
		}, []string{"provider", "reason"}),
		checkouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_sessions_created_total",
			Help:      "Hosted checkout sessions created by mode.",
		}, []string{"mode"}),
		checkoutErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkout_sessions_failed_total",
			Help:      "Checkout session requests that failed.",
		}, []string{"mode", "reason"}),
		credits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credits_granted_total",
			Help:      "Credits added to user ledgers by reason.",
		}, []string{"reason"}),
	}

	for _, c := range []prometheus.Collector{m.webhooks, m.webhookFailures, m.checkouts, m.checkoutErrors, m.credits} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Billing) WebhookProcessed(provider string, kind billing.EventKind, outcome billing.Outcome) {
	m.webhooks.WithLabelValues(provider, string(kind), string(outcome)).Inc()
}

func (m *Billing) WebhookFailed(provider, reason string) {
	m.webhookFailures.WithLabelValues(provider, reason).Inc()
}

func (m *Billing) CheckoutCreated(mode billing.CheckoutMode) {
	m.checkouts.WithLabelValues(string(mode)).Inc()
}

func (m *Billing) CheckoutFailed(mode billing.CheckoutMode, reason string) {
	m.checkoutErrors.WithLabelValues(string(mode), reason).Inc()
}

func (m *Billing) CreditsGranted(reason billing.LedgerReason, credits int64) {
	if credits <= 0 {
		return
	}
	m.credits.WithLabelValues(string(reason)).Add(float64(credits))
}

// NewRegistry returns a registry with the Go runtime and process collectors.
func NewRegistry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return reg
}

// Handler serves the registry in the Prometheus text format.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})
}
