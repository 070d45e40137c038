// Package metrics holds the pipeline's prometheus collectors. A nil *Metrics
// is valid and records nothing.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "leadpipe"

type Metrics struct {
	registry prometheus.Gatherer

	leadsSubmitted    *prometheus.CounterVec
	pdfsGenerated     *prometheus.CounterVec
	emails            *prometheus.CounterVec
	followupLeads     *prometheus.CounterVec
	followupRuns      *prometheus.CounterVec
	webhooks          *prometheus.CounterVec
	leadsSold         prometheus.Counter
	monetizationQueue prometheus.Gauge
	httpRequests      *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		registry: reg,
		leadsSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "leads_submitted_total",
			Help:      "Leads created, by lead type and routing.",
		}, []string{"lead_type", "keep_or_sell"}),
		pdfsGenerated: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pdfs_total",
			Help:      "PDF requests, by outcome (rendered, cached, failed).",
		}, []string{"outcome"}),
		emails: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "emails_total",
			Help:      "Email sends, by template and outcome.",
		}, []string{"template", "outcome"}),
		followupLeads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "followup_leads_total",
			Help:      "Leads handled by follow-up runs, by day and result (sent, skipped, error).",
		}, []string{"day", "result"}),
		followupRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "followup_runs_total",
			Help:      "Follow-up scheduler invocations, by day and outcome.",
		}, []string{"day", "outcome"}),
		webhooks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "buyer_webhooks_total",
			Help:      "Buyer webhook deliveries, by buyer and outcome.",
		}, []string{"buyer", "outcome"}),
		leadsSold: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "leads_sold_total",
			Help:      "Leads marked sold.",
		}),
		monetizationQueue: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "monetization_queue_depth",
			Help:      "Tasks waiting for a monetization worker.",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests, by route and status code.",
		}, []string{"route", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency, by route.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.leadsSubmitted,
		m.pdfsGenerated,
		m.emails,
		m.followupLeads,
		m.followupRuns,
		m.webhooks,
		m.leadsSold,
		m.monetizationQueue,
		m.httpRequests,
		m.httpDuration,
	)
	return m
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Gatherer exposes the registry for tests.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	if m == nil {
		return prometheus.NewRegistry()
	}
	return m.registry
}

func (m *Metrics) LeadSubmitted(leadType, keepOrSell string) {
	if m == nil {
		return
	}
	m.leadsSubmitted.WithLabelValues(leadType, keepOrSell).Inc()
}

func (m *Metrics) PDF(outcome string) {
	if m == nil {
		return
	}
	m.pdfsGenerated.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Email(template, outcome string) {
	if m == nil {
		return
	}
	m.emails.WithLabelValues(template, outcome).Inc()
}

func (m *Metrics) FollowupRun(day int, outcome string, sent, skipped, errs int) {
	if m == nil {
		return
	}
	d := strconv.Itoa(day)
	m.followupRuns.WithLabelValues(d, outcome).Inc()
	m.followupLeads.WithLabelValues(d, "sent").Add(float64(sent))
	m.followupLeads.WithLabelValues(d, "skipped").Add(float64(skipped))
	m.followupLeads.WithLabelValues(d, "error").Add(float64(errs))
}

func (m *Metrics) Webhook(buyer, outcome string) {
	if m == nil {
		return
	}
	m.webhooks.WithLabelValues(buyer, outcome).Inc()
}

func (m *Metrics) LeadSold() {
	if m == nil {
		return
	}
	m.leadsSold.Inc()
}

func (m *Metrics) SetQueueDepth(n int) {
	if m == nil {
		return
	}
	m.monetizationQueue.Set(float64(n))
}

func (m *Metrics) ObserveHTTP(route string, code int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.httpRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	m.httpDuration.WithLabelValues(route).Observe(elapsed.Seconds())
}
