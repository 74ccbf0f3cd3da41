// Package metrics exposes the service's Prometheus collectors: report
// workflow counters, inbound message counters and HTTP server metrics.
package metrics

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "nutrition"

// Metrics owns a private registry so tests can create as many as they need.
// All methods are safe on a nil receiver.
type Metrics struct {
	registry *prometheus.Registry

	reportsSubmitted *prometheus.CounterVec
	reportsAnalyzed  *prometheus.CounterVec
	reportsCancelled prometheus.Counter
	messages         *prometheus.CounterVec

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	httpActive   prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		reportsSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "reports_submitted_total",
			Help: "Report submissions by outcome.",
		}, []string{"outcome"}),
		reportsAnalyzed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "reports_analyzed_total",
			Help: "Report analyses by resulting status.",
		}, []string{"status"}),
		reportsCancelled: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "reports_cancelled_total",
			Help: "Reports cancelled.",
		}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "messages_total",
			Help: "Inbound text messages by transport and handling keyword.",
		}, []string{"transport", "keyword"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "http", Name: "requests_total",
			Help: "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "code"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace, Subsystem: "http", Name: "request_duration_seconds",
			Help:    "HTTP request latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		httpActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "http", Name: "active_requests",
			Help: "HTTP requests in flight.",
		}),
	}
	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.reportsSubmitted, m.reportsAnalyzed, m.reportsCancelled, m.messages,
		m.httpRequests, m.httpDuration, m.httpActive,
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

func (m *Metrics) ReportSubmitted(outcome string) {
	if m == nil {
		return
	}
	m.reportsSubmitted.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ReportAnalyzed(status string) {
	if m == nil {
		return
	}
	m.reportsAnalyzed.WithLabelValues(status).Inc()
}

func (m *Metrics) ReportCancelled() {
	if m == nil {
		return
	}
	m.reportsCancelled.Inc()
}

// MessageHandled counts one inbound message. keyword is empty when no
// handler matched.
func (m *Metrics) MessageHandled(transport, keyword string) {
	if m == nil {
		return
	}
	if keyword == "" {
		keyword = "unhandled"
	}
	m.messages.WithLabelValues(transport, keyword).Inc()
}

// Middleware records HTTP request count, latency and concurrency.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if m == nil {
				return next(c)
			}
			m.httpActive.Inc()
			start := time.Now()

			err := next(c)

			m.httpActive.Dec()
			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			method := c.Request().Method
			m.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
			m.httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() echo.HandlerFunc {
	return echo.WrapHandler(promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
}
