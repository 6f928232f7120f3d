// Package metrics holds the Prometheus collectors shared across the service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "regsim_http_requests_total",
		Help: "HTTP requests by method, path pattern and status.",
	}, []string{"method", "path", "status"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "regsim_http_request_duration_seconds",
		Help:    "HTTP request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	BedAssignments = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "regsim_bed_assignments_total",
		Help: "Bed assignment attempts by outcome code.",
	}, []string{"code"})

	ValidationFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "regsim_validation_failures_total",
		Help: "Registration validation failures by severity.",
	}, []string{"severity"})

	MitosisRuns = promauto.NewCounter(prometheus.CounterOpts{
		Name: "regsim_mitosis_runs_total",
		Help: "Completed mitosis reset runs.",
	})

	MitosisPurged = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "regsim_mitosis_purged_records_total",
		Help: "Records purged by mitosis, by record type.",
	}, []string{"record_type"})
)
