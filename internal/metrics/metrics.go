// Package metrics provides Prometheus instrumentation for ingestion runs and
// the read API.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels for RowsProcessed.
const (
	OutcomeMapped    = "mapped"
	OutcomeMalformed = "malformed"
	OutcomeUnread    = "unreadable"
)

// Metrics holds the indexer's collectors. A nil *Metrics records nothing.
type Metrics struct {
	// Rows by outcome: mapped, malformed, unreadable
	RowsProcessed *prometheus.CounterVec

	DocumentsStored prometheus.Counter

	// Store failures after retries, by kind: transient, permanent
	StoreFailures *prometheus.CounterVec

	StoreRetries prometheus.Counter

	DuplicateKeys prometheus.Counter

	StoreLatency prometheus.Histogram

	// API requests by route pattern and status code
	APIRequests *prometheus.CounterVec
}

// New registers the collectors with reg. A nil reg uses the default registry.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		RowsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pfi_ingest_rows_total",
			Help: "Total source rows processed by outcome",
		}, []string{"outcome"}),

		DocumentsStored: factory.NewCounter(prometheus.CounterOpts{
			Name: "pfi_ingest_documents_stored_total",
			Help: "Total project documents accepted by the store",
		}),

		StoreFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pfi_ingest_store_failures_total",
			Help: "Total documents the store rejected after retries",
		}, []string{"kind"}),

		StoreRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "pfi_ingest_store_retries_total",
			Help: "Total store submissions retried after a transient error",
		}),

		DuplicateKeys: factory.NewCounter(prometheus.CounterOpts{
			Name: "pfi_ingest_duplicate_keys_total",
			Help: "Total rows whose hmt_id was already seen in the same run",
		}),

		StoreLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "pfi_store_upsert_duration_seconds",
			Help:    "Duration of a single store upsert attempt",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),

		APIRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pfi_api_requests_total",
			Help: "Total read API requests by route and status",
		}, []string{"route", "status"}),
	}
}

// IncrementRows records one processed row.
func (m *Metrics) IncrementRows(outcome string) {
	if m != nil {
		m.RowsProcessed.WithLabelValues(outcome).Inc()
	}
}

// IncrementStored records a document accepted by the store.
func (m *Metrics) IncrementStored() {
	if m != nil {
		m.DocumentsStored.Inc()
	}
}

// IncrementStoreFailure records a document that could not be stored.
func (m *Metrics) IncrementStoreFailure(permanent bool) {
	if m == nil {
		return
	}
	kind := "transient"
	if permanent {
		kind = "permanent"
	}
	m.StoreFailures.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncrementRetries() {
	if m != nil {
		m.StoreRetries.Inc()
	}
}

func (m *Metrics) IncrementDuplicates() {
	if m != nil {
		m.DuplicateKeys.Inc()
	}
}

// ObserveStoreLatency records the duration of one upsert attempt.
func (m *Metrics) ObserveStoreLatency(d time.Duration) {
	if m != nil {
		m.StoreLatency.Observe(d.Seconds())
	}
}

// IncrementAPIRequest records a served API request.
func (m *Metrics) IncrementAPIRequest(route, status string) {
	if m != nil {
		m.APIRequests.WithLabelValues(route, status).Inc()
	}
}
