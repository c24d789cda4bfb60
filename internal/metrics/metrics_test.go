package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveChunk(true)
	m.ObserveChunk(true)
	m.ObserveChunk(false)
	m.ObserveEmbedding(true, 20*time.Millisecond)
	m.ObserveEmbedding(false, time.Second)
	m.ObserveDelete(5)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.ingestChunks.WithLabelValues(ResultSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ingestChunks.WithLabelValues(ResultFailure)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.embeddingRequests.WithLabelValues(ResultFailure)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.entriesDeleted))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.chunksDeleted))
	assert.Equal(t, 1, testutil.CollectAndCount(m.embeddingDuration))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveChunk(true)
		m.ObserveEmbedding(false, time.Millisecond)
		m.ObserveDelete(3)
	})
}

func TestMetrics_Names(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.ObserveChunk(true)
	m.ObserveEmbedding(true, time.Millisecond)
	m.ObserveDelete(1)

	families, err := reg.Gather()
	assert.NoError(t, err)

	names := make([]string, 0, len(families))
	for _, f := range families {
		names = append(names, f.GetName())
	}
	assert.Contains(t, names, "kbcore_ingest_chunks_total")
	assert.Contains(t, names, "kbcore_embedding_requests_total")
	assert.Contains(t, names, "kbcore_embedding_duration_seconds")
	assert.Contains(t, names, "kbcore_entries_deleted_total")
}
