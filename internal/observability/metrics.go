// Package observability exposes the Prometheus registry and engine counters.
package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects Prometheus metrics for the application.
type Metrics struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	chargesTotal    *prometheus.CounterVec
	invoicesTotal   *prometheus.CounterVec
	remindersTotal  prometheus.Counter
}

// NewMetrics initialises the registry and base metrics.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "clubledger_http_requests_total",
		Help: "HTTP requests by route and status code.",
	}, []string{"route", "code"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "clubledger_http_request_duration_seconds",
		Help:    "HTTP request duration per route.",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	charges := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "clubledger_charges_total",
		Help: "Settled charges by invoice source.",
	}, []string{"source"})
	invoices := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "clubledger_invoices_generated_total",
		Help: "Invoices created by batch generation, by source.",
	}, []string{"source"})
	reminders := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "clubledger_reminders_sent_total",
		Help: "Overdue-invoice reminders emitted.",
	})
	registry.MustRegister(requests, duration, charges, invoices, reminders)
	return &Metrics{
		registry:        registry,
		handler:         promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		requestsTotal:   requests,
		requestDuration: duration,
		chargesTotal:    charges,
		invoicesTotal:   invoices,
		remindersTotal:  reminders,
	}
}

// Handler returns the /metrics endpoint handler.
func (m *Metrics) Handler() http.Handler {
	return m.handler
}

// CountCharge records one settled charge.
func (m *Metrics) CountCharge(source string) {
	if m == nil {
		return
	}
	m.chargesTotal.WithLabelValues(source).Inc()
}

// CountGenerated records invoices created by a batch run.
func (m *Metrics) CountGenerated(source string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.invoicesTotal.WithLabelValues(source).Add(float64(n))
}

// CountReminders records reminders emitted by one run.
func (m *Metrics) CountReminders(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.remindersTotal.Add(float64(n))
}

// Middleware instruments HTTP handlers with request metrics.
func (m *Metrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = r.URL.Path
		}
		m.requestsTotal.WithLabelValues(route, strconv.Itoa(rec.status)).Inc()
		m.requestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}
