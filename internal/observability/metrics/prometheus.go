// Package metrics provides Prometheus metrics for the review workflow.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics.
type Metrics struct {
	SubmissionsTotal     prometheus.Counter
	DuplicateSubmissions prometheus.Counter
	ApprovalsTotal       prometheus.Counter
	RejectionsTotal      prometheus.Counter
	BookingsCreated      prometheus.Counter
	ReviewLatency        prometheus.Histogram
	PendingRecords       prometheus.Gauge
	ActiveWatchers       prometheus.Gauge
	EventsPublished      prometheus.Counter
	EventsConsumed       prometheus.Counter
	OutboxPending        prometheus.Gauge
}

// New creates and registers all metrics.
func New() *Metrics {
	m := &Metrics{
		SubmissionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prescriptions_submitted_total",
			Help: "Total prescriptions submitted for review",
		}),
		DuplicateSubmissions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prescriptions_duplicate_submissions_total",
			Help: "Submissions rejected as duplicates",
		}),
		ApprovalsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prescriptions_approved_total",
			Help: "Total prescriptions approved",
		}),
		RejectionsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prescriptions_rejected_total",
			Help: "Total prescriptions rejected",
		}),
		BookingsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "bookings_created_total",
			Help: "Bookings created from approvals",
		}),
		ReviewLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "prescription_review_latency_seconds",
			Help:    "Time from submission to review decision",
			Buckets: []float64{1, 5, 15, 60, 300, 900, 3600, 14400},
		}),
		PendingRecords: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "prescriptions_pending",
			Help: "Records currently awaiting review",
		}),
		ActiveWatchers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "watchers_active",
			Help: "Currently open watch streams",
		}),
		EventsPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "workflow_events_published_total",
			Help: "Total workflow events published",
		}),
		EventsConsumed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "workflow_events_consumed_total",
			Help: "Total workflow events consumed",
		}),
		OutboxPending: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "outbox_pending_entries",
			Help: "Pending outbox entries",
		}),
	}

	prometheus.MustRegister(
		m.SubmissionsTotal,
		m.DuplicateSubmissions,
		m.ApprovalsTotal,
		m.RejectionsTotal,
		m.BookingsCreated,
		m.ReviewLatency,
		m.PendingRecords,
		m.ActiveWatchers,
		m.EventsPublished,
		m.EventsConsumed,
		m.OutboxPending,
	)

	return m
}

// Handler returns the Prometheus HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
