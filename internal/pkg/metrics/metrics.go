// Package metrics exposes the Prometheus collectors of the ledger. All
// recording methods are safe on a nil *Metrics so components can run
// uninstrumented in tests.
package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	DebitApplied      = "applied"
	DebitInsufficient = "insufficient"
	DebitError        = "error"
)

// Webhook retry outcomes.
const (
	RetryQueued      = "queued"
	RetryApplied     = "applied"
	RetryRescheduled = "rescheduled"
	RetryDead        = "dead"
)

type Config struct {
	ServiceName string
	Environment string
}

type Metrics struct {
	registry *prometheus.Registry

	debits              *prometheus.CounterVec
	debitedCredits      prometheus.Counter
	credits             *prometheus.CounterVec
	grants              prometheus.Counter
	providerEvents      *prometheus.CounterVec
	webhookRetries      *prometheus.CounterVec
	notificationFailure *prometheus.CounterVec
	httpDuration        *prometheus.HistogramVec
}

// New builds a fresh registry holding the ledger collectors plus the Go and
// process collectors.
func New(cfg Config) *Metrics {
	service := strings.TrimSpace(cfg.ServiceName)
	if service == "" {
		service = "ledger"
	}
	env := strings.TrimSpace(cfg.Environment)
	if env == "" {
		env = "unknown"
	}
	constLabels := prometheus.Labels{"service": service, "env": env}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
		debits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "ledger_debits_total",
			Help:        "Debit attempts by outcome.",
			ConstLabels: constLabels,
		}, []string{"outcome"}),
		debitedCredits: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "ledger_debited_credits_total",
			Help:        "Credits consumed by applied debits.",
			ConstLabels: constLabels,
		}),
		credits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "ledger_credits_total",
			Help:        "Credits added to balances by entry kind.",
			ConstLabels: constLabels,
		}, []string{"kind"}),
		grants: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "ledger_daily_grants_total",
			Help:        "Daily free credits granted.",
			ConstLabels: constLabels,
		}),
		providerEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "ledger_provider_events_total",
			Help:        "Payment provider events by type and outcome.",
			ConstLabels: constLabels,
		}, []string{"type", "outcome"}),
		webhookRetries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "ledger_webhook_retries_total",
			Help:        "Queued webhook retry attempts by outcome.",
			ConstLabels: constLabels,
		}, []string{"outcome"}),
		notificationFailure: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "ledger_notification_failures_total",
			Help:        "Notification deliveries that failed, by sink.",
			ConstLabels: constLabels,
		}, []string{"sink"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "ledger_http_request_duration_seconds",
			Help:        "HTTP request latency by route and status.",
			Buckets:     []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
			ConstLabels: constLabels,
		}, []string{"method", "route", "status"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.debits,
		m.debitedCredits,
		m.credits,
		m.grants,
		m.providerEvents,
		m.webhookRetries,
		m.notificationFailure,
		m.httpDuration,
	)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

func (m *Metrics) Debit(outcome string, amount int64) {
	if m == nil {
		return
	}
	m.debits.WithLabelValues(outcome).Inc()
	if outcome == DebitApplied && amount > 0 {
		m.debitedCredits.Add(float64(amount))
	}
}

func (m *Metrics) Credit(kind string, amount int64) {
	if m == nil || amount <= 0 {
		return
	}
	m.credits.WithLabelValues(kind).Add(float64(amount))
}

func (m *Metrics) Grant() {
	if m == nil {
		return
	}
	m.grants.Inc()
}

func (m *Metrics) ProviderEvent(eventType, outcome string) {
	if m == nil {
		return
	}
	m.providerEvents.WithLabelValues(eventType, outcome).Inc()
}

func (m *Metrics) WebhookRetry(outcome string) {
	if m == nil {
		return
	}
	m.webhookRetries.WithLabelValues(outcome).Inc()
}

func (m *Metrics) NotificationFailure(sink string) {
	if m == nil {
		return
	}
	m.notificationFailure.WithLabelValues(sink).Inc()
}

// ObserveHTTP records a request; route should be the chi route pattern to
// keep cardinality bounded.
func (m *Metrics) ObserveHTTP(method, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.httpDuration.WithLabelValues(method, route, strconv.Itoa(status)).Observe(elapsed.Seconds())
}
