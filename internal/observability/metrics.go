package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private Prometheus registry. All methods are safe on a nil
// receiver.
type Metrics struct {
	registry        *prometheus.Registry
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	errors          *prometheus.CounterVec
	auditFailures   *prometheus.CounterVec
	eventFailures   *prometheus.CounterVec
	ingestRows      *prometheus.CounterVec
	goalIncrements  *prometheus.CounterVec
	firstContacts   prometheus.Counter
}

// NewMetrics registers the service collectors.
func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()
	factory := promauto.With(registry)

	return &Metrics{
		registry: registry,
		requests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "path", "status"}),
		requestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Duration of HTTP requests in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path"}),
		errors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "http_errors_total",
			Help: "Total number of failed HTTP requests by error code",
		}, []string{"method", "path", "code"}),
		auditFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "audit_append_failures_total",
			Help: "Activity log appends that failed after the mutation committed",
		}, []string{"action"}),
		eventFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "event_publish_failures_total",
			Help: "Domain events whose subscribers returned an error",
		}, []string{"type"}),
		ingestRows: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ingest_rows_total",
			Help: "Bulk ingestion rows by outcome",
		}, []string{"outcome"}),
		goalIncrements: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "goal_increments_total",
			Help: "Goal achieved increments applied",
		}, []string{"type"}),
		firstContacts: factory.NewCounter(prometheus.CounterOpts{
			Name: "lead_first_contacts_total",
			Help: "Leads that left the new status",
		}),
	}
}

// Registry exposes the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// RecordRequest increments counters for requests.
func (m *Metrics) RecordRequest(path, method string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordError increments error counters.
func (m *Metrics) RecordError(path, method, code string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(method, path, code).Inc()
}

// AuditAppendFailed counts a dropped activity record.
func (m *Metrics) AuditAppendFailed(action string) {
	if m == nil {
		return
	}
	m.auditFailures.WithLabelValues(action).Inc()
}

// EventPublishFailed counts an event whose subscribers failed.
func (m *Metrics) EventPublishFailed(eventType string) {
	if m == nil {
		return
	}
	m.eventFailures.WithLabelValues(eventType).Inc()
}

// IngestRows records the outcome of an ingestion batch.
func (m *Metrics) IngestRows(inserted, failed int) {
	if m == nil {
		return
	}
	m.ingestRows.WithLabelValues("inserted").Add(float64(inserted))
	m.ingestRows.WithLabelValues("failed").Add(float64(failed))
}

// GoalIncremented records by increments applied to goals of goalType.
func (m *Metrics) GoalIncremented(goalType string, by int) {
	if m == nil || by <= 0 {
		return
	}
	m.goalIncrements.WithLabelValues(goalType).Add(float64(by))
}

// FirstContacts records leads leaving the new status.
func (m *Metrics) FirstContacts(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.firstContacts.Add(float64(n))
}
