// Package metrics provides Prometheus metrics for the ingestion pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RecordsTotal counts reconciled records by result (success, error).
	RecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mailhaus",
			Subsystem: "ingest",
			Name:      "records_total",
			Help:      "Total number of provider records processed by result",
		},
		[]string{"result"},
	)

	// RecordIssuesTotal counts record failures and field warnings by class.
	RecordIssuesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mailhaus",
			Subsystem: "ingest",
			Name:      "record_issues_total",
			Help:      "Total number of record errors and field warnings by class",
		},
		[]string{"class"},
	)

	// RecordDuration tracks the time to reconcile one record.
	RecordDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "mailhaus",
			Subsystem: "ingest",
			Name:      "record_duration_seconds",
			Help:      "Duration of one record's reconciliation transaction in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		},
	)

	// UnitsClaimed counts units claimed by workers.
	UnitsClaimed = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mailhaus",
			Subsystem: "tracker",
			Name:      "units_claimed_total",
			Help:      "Total number of ingestion units claimed",
		},
	)

	// UnitsFinished counts units reaching a terminal status.
	UnitsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mailhaus",
			Subsystem: "tracker",
			Name:      "units_finished_total",
			Help:      "Total number of ingestion units finished by status",
		},
		[]string{"status"},
	)

	// UnitDuration tracks wall time from claim to completion.
	UnitDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mailhaus",
			Subsystem: "tracker",
			Name:      "unit_duration_seconds",
			Help:      "Duration of ingestion unit processing in seconds",
			Buckets:   []float64{1, 5, 15, 30, 60, 300, 900, 1800, 3600},
		},
		[]string{"kind"},
	)

	// UnitsInFlight tracks units currently being processed by this process.
	UnitsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mailhaus",
			Subsystem: "tracker",
			Name:      "units_in_flight",
			Help:      "Number of ingestion units currently being processed",
		},
	)

	// UnitsStuck is the stuck-unit count seen by the last health check.
	UnitsStuck = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "mailhaus",
			Subsystem: "tracker",
			Name:      "units_stuck",
			Help:      "Number of units past their pending or processing threshold",
		},
	)

	// AlertsSent counts health alerts delivered by type.
	AlertsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mailhaus",
			Subsystem: "monitoring",
			Name:      "alerts_sent_total",
			Help:      "Total number of health alerts delivered to the webhook",
		},
		[]string{"type"},
	)

	// SuppressionChecked counts candidates run through the DNM gate.
	SuppressionChecked = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mailhaus",
			Subsystem: "suppression",
			Name:      "checked_total",
			Help:      "Total number of candidates checked against the DNM registry",
		},
	)

	// SuppressionBlocked counts candidates excluded by the DNM gate.
	SuppressionBlocked = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mailhaus",
			Subsystem: "suppression",
			Name:      "blocked_total",
			Help:      "Total number of candidates excluded by the DNM registry",
		},
	)

	// RecipientsGenerated counts campaign recipient rows written.
	RecipientsGenerated = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "mailhaus",
			Subsystem: "campaign",
			Name:      "recipients_total",
			Help:      "Total number of campaign recipients generated",
		},
	)

	// ProviderRequestsTotal counts provider API requests by status code.
	ProviderRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "mailhaus",
			Subsystem: "provider",
			Name:      "requests_total",
			Help:      "Total number of provider API requests",
		},
		[]string{"method", "status_code"},
	)

	// ProviderRequestDuration tracks provider API latency.
	ProviderRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "mailhaus",
			Subsystem: "provider",
			Name:      "request_duration_seconds",
			Help:      "Duration of provider API requests in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"method"},
	)
)

// RecordResult records one reconciled record.
func RecordResult(success bool, durationSeconds float64) {
	result := "success"
	if !success {
		result = "error"
	}
	RecordsTotal.WithLabelValues(result).Inc()
	RecordDuration.Observe(durationSeconds)
}

// RecordIssue records a record error or field warning.
func RecordIssue(class string) {
	RecordIssuesTotal.WithLabelValues(class).Inc()
}

// RecordUnitFinished records a unit reaching status.
func RecordUnitFinished(kind, status string, durationSeconds float64) {
	UnitsFinished.WithLabelValues(status).Inc()
	UnitDuration.WithLabelValues(kind).Observe(durationSeconds)
}

// RecordSuppression records a bulk gate pass.
func RecordSuppression(checked, blocked int) {
	SuppressionChecked.Add(float64(checked))
	SuppressionBlocked.Add(float64(blocked))
}

// RecordProviderRequest records an outbound provider API request.
func RecordProviderRequest(method, statusCode string, durationSeconds float64) {
	ProviderRequestsTotal.WithLabelValues(method, statusCode).Inc()
	ProviderRequestDuration.WithLabelValues(method).Observe(durationSeconds)
}
