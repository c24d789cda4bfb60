package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "kbcore"

// Result label values.
const (
	ResultSuccess = "success"
	ResultFailure = "failure"
)

// Metrics holds the Prometheus collectors for ingestion, embedding and deletion.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	ingestChunks      *prometheus.CounterVec
	embeddingRequests *prometheus.CounterVec
	embeddingDuration prometheus.Histogram
	entriesDeleted    prometheus.Counter
	chunksDeleted     prometheus.Counter
}

// New registers the collectors on reg. Pass prometheus.NewRegistry() in tests
// to avoid clashing with the default registry.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		ingestChunks: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "ingest_chunks_total",
				Help:      "Chunks processed by ingestion, by result",
			},
			[]string{"result"},
		),
		embeddingRequests: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "embedding_requests_total",
				Help:      "Embedding generations, by result",
			},
			[]string{"result"},
		),
		embeddingDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "embedding_duration_seconds",
				Help:      "Latency of embedding provider calls",
				Buckets:   prometheus.DefBuckets,
			},
		),
		entriesDeleted: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "entries_deleted_total",
				Help:      "Knowledge entries deleted",
			},
		),
		chunksDeleted: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "chunks_deleted_total",
				Help:      "Knowledge chunks removed alongside their parent entry",
			},
		),
	}
}

func result(ok bool) string {
	if ok {
		return ResultSuccess
	}
	return ResultFailure
}

// ObserveChunk records one ingested chunk.
func (m *Metrics) ObserveChunk(ok bool) {
	if m == nil {
		return
	}
	m.ingestChunks.WithLabelValues(result(ok)).Inc()
}

// ObserveEmbedding records one provider call and its latency.
func (m *Metrics) ObserveEmbedding(ok bool, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.embeddingRequests.WithLabelValues(result(ok)).Inc()
	m.embeddingDuration.Observe(elapsed.Seconds())
}

// ObserveDelete records a deleted entry and the number of chunks removed with it.
func (m *Metrics) ObserveDelete(chunks int64) {
	if m == nil {
		return
	}
	m.entriesDeleted.Inc()
	if chunks > 0 {
		m.chunksDeleted.Add(float64(chunks))
	}
}
