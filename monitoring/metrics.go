package monitoring

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "paygate"

// Metrics holds the prometheus collectors. A nil *Metrics is a valid no-op recorder.
type Metrics struct {
	registry *prometheus.Registry

	httpRequests        *prometheus.CounterVec
	httpDuration        *prometheus.HistogramVec
	transactions        *prometheus.CounterVec
	providerCalls       *prometheus.CounterVec
	providerDuration    prometheus.Histogram
	rateLimitRejections *prometheus.CounterVec
	ipBlockRejections   prometheus.Counter
	fraudAssessments    *prometheus.CounterVec
	securityEvents      *prometheus.CounterVec
	alertsCreated       *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by method, route and status code",
		}, []string{"method", "route", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
		transactions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transactions_finalized_total",
			Help:      "Transactions moved to a terminal status",
		}, []string{"status"}),
		providerCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_calls_total",
			Help:      "Outbound provider calls by status code",
		}, []string{"code"}),
		providerDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_call_duration_seconds",
			Help:      "Outbound provider call latency",
			Buckets:   []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		}),
		rateLimitRejections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_rejections_total",
			Help:      "Requests rejected by the fixed-window limiter",
		}, []string{"identifier_type"}),
		ipBlockRejections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ip_block_rejections_total",
			Help:      "Requests rejected because the source IP is blacklisted",
		}),
		fraudAssessments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fraud_assessments_total",
			Help:      "Fraud assessments by outcome",
		}, []string{"status"}),
		securityEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "security_events_total",
			Help:      "Security events recorded",
		}, []string{"type", "severity"}),
		alertsCreated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_created_total",
			Help:      "Alerts raised by the evaluation engine",
		}, []string{"metric", "severity"}),
	}

	reg.MustRegister(
		m.httpRequests,
		m.httpDuration,
		m.transactions,
		m.providerCalls,
		m.providerDuration,
		m.rateLimitRejections,
		m.ipBlockRejections,
		m.fraudAssessments,
		m.securityEvents,
		m.alertsCreated,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveHTTPRequest(method, route string, code int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveTransaction(status string) {
	if m == nil {
		return
	}
	m.transactions.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveProviderCall(code int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.providerCalls.WithLabelValues(strconv.Itoa(code)).Inc()
	m.providerDuration.Observe(elapsed.Seconds())
}

func (m *Metrics) ObserveRateLimitRejection(identifierType string) {
	if m == nil {
		return
	}
	m.rateLimitRejections.WithLabelValues(identifierType).Inc()
}

func (m *Metrics) ObserveIPBlockRejection() {
	if m == nil {
		return
	}
	m.ipBlockRejections.Inc()
}

func (m *Metrics) ObserveFraudAssessment(status string) {
	if m == nil {
		return
	}
	m.fraudAssessments.WithLabelValues(status).Inc()
}

func (m *Metrics) ObserveSecurityEvent(eventType, severity string) {
	if m == nil {
		return
	}
	m.securityEvents.WithLabelValues(eventType, severity).Inc()
}

func (m *Metrics) ObserveAlert(metric, severity string) {
	if m == nil {
		return
	}
	m.alertsCreated.WithLabelValues(metric, severity).Inc()
}
