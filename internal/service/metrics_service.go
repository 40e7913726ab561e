package service

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService exposes Prometheus collectors for the HTTP surface, API key
// validation and the audit buffer. It satisfies the auditMetrics interface
// consumed by AuditService.
type MetricsService struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec

	keyValidations *prometheus.CounterVec
	rateLimited    prometheus.Counter

	auditBufferDepth prometheus.Gauge
	auditFlushed     prometheus.Counter
	auditDropped     prometheus.Counter
}

func NewMetricsService() *MetricsService {
	s := &MetricsService{
		registry: prometheus.NewRegistry(),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "maildoor_http_requests_total",
			Help: "HTTP requests by method, route and status code.",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "maildoor_http_request_duration_seconds",
			Help:    "HTTP request latency by method and route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route"}),
		keyValidations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "maildoor_apikey_validations_total",
			Help: "API key validation attempts by outcome.",
		}, []string{"outcome"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "maildoor_apikey_rate_limited_total",
			Help: "Requests rejected by the per-key rate limiter.",
		}),
		auditBufferDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "maildoor_audit_buffer_depth",
			Help: "Audit entries currently buffered in memory.",
		}),
		auditFlushed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "maildoor_audit_entries_flushed_total",
			Help: "Audit entries successfully written to the store.",
		}),
		auditDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "maildoor_audit_entries_dropped_total",
			Help: "Audit entries dropped after a failed flush or rejection.",
		}),
	}

	s.registry.MustRegister(
		s.httpRequests,
		s.httpDuration,
		s.keyValidations,
		s.rateLimited,
		s.auditBufferDepth,
		s.auditFlushed,
		s.auditDropped,
	)
	return s
}

// Registry returns the registry backing the /metrics endpoint.
func (s *MetricsService) Registry() *prometheus.Registry {
	return s.registry
}

// Handler serves the registry in Prometheus exposition format.
func (s *MetricsService) Handler() http.Handler {
	return promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{})
}

// ObserveRequest records one completed HTTP request.
func (s *MetricsService) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	s.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	s.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// ObserveKeyValidation records one API key validation attempt.
func (s *MetricsService) ObserveKeyValidation(ok bool) {
	outcome := "failure"
	if ok {
		outcome = "success"
	}
	s.keyValidations.WithLabelValues(outcome).Inc()
}

// ObserveRateLimited records one rate limiter rejection.
func (s *MetricsService) ObserveRateLimited() {
	s.rateLimited.Inc()
}

func (s *MetricsService) SetAuditBufferDepth(depth int) {
	s.auditBufferDepth.Set(float64(depth))
}

func (s *MetricsService) AddAuditFlushed(count int) {
	s.auditFlushed.Add(float64(count))
}

func (s *MetricsService) AddAuditDropped(count int) {
	s.auditDropped.Add(float64(count))
}
