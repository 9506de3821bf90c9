// Package metrics holds the Prometheus collectors exported by vigil and the
// HTTP handler that serves them.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// StatusUpserts counts merged regional observations.
	StatusUpserts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_status_upserts_total",
			Help: "Total monitor status upserts by region and status",
		},
		[]string{"region", "status"},
	)
	// StatusUpsertErrors counts failed upserts by error class.
	StatusUpsertErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_status_upsert_errors_total",
			Help: "Total failed monitor status upserts",
		},
		[]string{"reason"},
	)
	// NotificationsSent counts channel send attempts by outcome.
	NotificationsSent = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_notifications_sent_total",
			Help: "Total notification send attempts by provider, intent and outcome",
		},
		[]string{"provider", "intent", "outcome"},
	)
	// SendDuration observes how long a channel send took, retries included.
	SendDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "vigil_notification_send_seconds",
			Help:    "Duration of notification sends including retries",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"provider"},
	)
	// AuditFailures counts audit records that could not be accepted or written.
	AuditFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_audit_failures_total",
			Help: "Total audit records dropped",
		},
		[]string{"reason"},
	)
	// Probes counts probes run by the embedded checker.
	Probes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_probes_total",
			Help: "Total probes executed by the embedded checker",
		},
		[]string{"region", "status"},
	)
	// HTTPRequests counts API requests by route pattern and response code.
	HTTPRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vigil_http_requests_total",
			Help: "Total HTTP requests by method, route and status code",
		},
		[]string{"method", "route", "code"},
	)
)

func init() {
	prometheus.MustRegister(
		StatusUpserts,
		StatusUpsertErrors,
		NotificationsSent,
		SendDuration,
		AuditFailures,
		Probes,
		HTTPRequests,
	)
}

// PromHandler returns an HTTP handler that exposes Prometheus metrics.
func PromHandler() http.Handler { return promhttp.Handler() }
