// Package telemetry exposes Prometheus metrics for the memory pipeline.
//
// Metrics register on the default registry through the process-wide
// Default() instance; tests construct isolated instances against their own
// registry with NewMetrics.
package telemetry

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the instrument set for one registry.
type Metrics struct {
	IngestEventsTotal        *prometheus.CounterVec
	IngestDuration           prometheus.Histogram
	SearchDuration           *prometheus.HistogramVec
	LLMRequestsTotal         *prometheus.CounterVec
	EmbedderRequestsTotal    *prometheus.CounterVec
	EmbedderBatchSize        prometheus.Histogram
	RetentionWritebacksTotal *prometheus.CounterVec
	MigratedRecordsTotal     *prometheus.CounterVec
	StoreErrorsTotal         *prometheus.CounterVec
}

var (
	defaultOnce    sync.Once
	defaultMetrics *Metrics
)

// Default returns the process-wide metrics instance, registering it on the
// default Prometheus registry on first use.
func Default() *Metrics {
	defaultOnce.Do(func() {
		defaultMetrics = NewMetrics(prometheus.DefaultRegisterer)
	})
	return defaultMetrics
}

// NewMetrics creates and registers the instrument set on reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		IngestEventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "powermem_ingest_events_total",
			Help: "Memory events emitted by the ingest pipeline, by event type.",
		}, []string{"event"}),
		IngestDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "powermem_ingest_duration_seconds",
			Help:    "End-to-end duration of Add calls.",
			Buckets: prometheus.DefBuckets,
		}),
		SearchDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "powermem_search_duration_seconds",
			Help:    "Per-store search duration during retrieval fan-out.",
			Buckets: prometheus.DefBuckets,
		}, []string{"store"}),
		LLMRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "powermem_llm_requests_total",
			Help: "LLM provider calls, by provider, operation, and outcome.",
		}, []string{"provider", "operation", "status"}),
		EmbedderRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "powermem_embedder_requests_total",
			Help: "Embedder provider calls, by provider and outcome.",
		}, []string{"provider", "status"}),
		EmbedderBatchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "powermem_embedder_batch_size",
			Help:    "Number of texts coalesced into one embedder batch.",
			Buckets: []float64{1, 2, 4, 8, 16, 32, 64},
		}),
		RetentionWritebacksTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "powermem_retention_writebacks_total",
			Help: "Retention reinforcement write-backs, by outcome.",
		}, []string{"status"}),
		MigratedRecordsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "powermem_migrated_records_total",
			Help: "Records moved into sub-stores by migrations.",
		}, []string{"sub_store"}),
		StoreErrorsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "powermem_store_errors_total",
			Help: "Storage backend failures, by store and operation.",
		}, []string{"store", "operation"}),
	}
}

// RecordIngestEvent counts one emitted memory event.
func (m *Metrics) RecordIngestEvent(event string) {
	m.IngestEventsTotal.WithLabelValues(event).Inc()
}

// ObserveIngestDuration records the duration of one Add call.
func (m *Metrics) ObserveIngestDuration(d time.Duration) {
	m.IngestDuration.Observe(d.Seconds())
}

// ObserveSearchDuration records one per-store search during fan-out.
func (m *Metrics) ObserveSearchDuration(store string, d time.Duration) {
	m.SearchDuration.WithLabelValues(store).Observe(d.Seconds())
}

// RecordLLMRequest counts one LLM call outcome.
func (m *Metrics) RecordLLMRequest(provider, operation, status string) {
	m.LLMRequestsTotal.WithLabelValues(provider, operation, status).Inc()
}

// RecordEmbedderRequest counts one embedder call outcome and its batch
// size.
func (m *Metrics) RecordEmbedderRequest(provider, status string, batchSize int) {
	m.EmbedderRequestsTotal.WithLabelValues(provider, status).Inc()
	if batchSize > 0 {
		m.EmbedderBatchSize.Observe(float64(batchSize))
	}
}

// RecordRetentionWriteback counts one reinforcement write-back outcome:
// applied, dropped, or failed.
func (m *Metrics) RecordRetentionWriteback(status string) {
	m.RetentionWritebacksTotal.WithLabelValues(status).Inc()
}

// RecordMigratedRecords counts records moved into a sub-store.
func (m *Metrics) RecordMigratedRecords(subStore string, n int) {
	m.MigratedRecordsTotal.WithLabelValues(subStore).Add(float64(n))
}

// RecordStoreError counts one backend failure.
func (m *Metrics) RecordStoreError(store, operation string) {
	m.StoreErrorsTotal.WithLabelValues(store, operation).Inc()
}
