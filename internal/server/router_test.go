package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cloo-solutions/kbcore/internal/api/handlers"
	"github.com/cloo-solutions/kbcore/internal/metrics"
	"github.com/cloo-solutions/kbcore/internal/repository/memory"
	"github.com/cloo-solutions/kbcore/internal/service"
)

// lengthProvider returns a deterministic three-dimensional vector derived from the text.
type lengthProvider struct{}

func (lengthProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{float32(len(text)%7 + 1), float32(strings.Count(text, ".") + 1), 1}, nil
}

func newTestServer(t *testing.T, ping func(context.Context) error) *httptest.Server {
	t.Helper()
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	log := zap.NewNop()
	store := memory.NewStore()

	embedding := service.NewEmbeddingService(lengthProvider{}, service.EmbeddingConfig{Dimensions: 3}, log, m)
	knowledge := service.NewKnowledgeService(store.Entries(), store.Chunks(), log, m)
	ingestion := service.NewIngestionService(embedding, knowledge, service.IngestConfig{
		Chunk:       service.ChunkConfig{MaxLength: 2},
		Concurrency: 2,
	}, log, m)
	search := service.NewSearchService(embedding, store.Entries(), store.Chunks(), log)

	srv := httptest.NewServer(NewRouter(RouterConfig{
		Logger:           log,
		Gatherer:         reg,
		KnowledgeHandler: handlers.NewKnowledgeHandler(knowledge, ingestion, embedding),
		SearchHandler:    handlers.NewSearchHandler(search),
		Ping:             ping,
	}))
	t.Cleanup(srv.Close)
	return srv
}

func doJSON(t *testing.T, method, url, body string) (int, map[string]interface{}) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = bytes.NewReader([]byte(body))
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func TestRouter_Health(t *testing.T) {
	srv := newTestServer(t, nil)

	status, body := doJSON(t, http.MethodGet, srv.URL+"/health", "")

	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "ok", body["data"].(map[string]interface{})["status"])
}

func TestRouter_Health_StorageDown(t *testing.T) {
	srv := newTestServer(t, func(context.Context) error { return errors.New("connection refused") })

	status, _ := doJSON(t, http.MethodGet, srv.URL+"/health", "")

	assert.Equal(t, http.StatusServiceUnavailable, status)
}

func TestRouter_EntryLifecycle(t *testing.T) {
	srv := newTestServer(t, nil)

	status, body := doJSON(t, http.MethodPost, srv.URL+"/entries",
		`{"title":"Doc","source_type":"text","content":"A. B. C.","metadata":{"lang":"en"}}`)
	require.Equal(t, http.StatusCreated, status)
	data := body["data"].(map[string]interface{})
	assert.Equal(t, float64(1), data["entry_id"])
	assert.Equal(t, float64(3), data["stored"])

	status, body = doJSON(t, http.MethodGet, srv.URL+"/entries/1/chunks", "")
	require.Equal(t, http.StatusOK, status)
	chunks := body["data"].([]interface{})
	require.Len(t, chunks, 3)
	assert.Equal(t, "A.", chunks[0].(map[string]interface{})["content"])

	status, _ = doJSON(t, http.MethodPatch, srv.URL+"/entries/1", `{"title":"Renamed"}`)
	assert.Equal(t, http.StatusOK, status)

	status, body = doJSON(t, http.MethodGet, srv.URL+"/entries/1", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, "Renamed", body["data"].(map[string]interface{})["title"])

	status, body = doJSON(t, http.MethodPost, srv.URL+"/search", `{"query":"A.","min_score":0.9,"limit":3}`)
	require.Equal(t, http.StatusOK, status)
	results := body["data"].([]interface{})
	require.NotEmpty(t, results)
	assert.Equal(t, "A.", results[0].(map[string]interface{})["content"])

	status, body = doJSON(t, http.MethodDelete, srv.URL+"/entries/1", "")
	require.Equal(t, http.StatusOK, status)
	assert.Equal(t, float64(1), body["data"].(map[string]interface{})["deleted"])

	status, body = doJSON(t, http.MethodDelete, srv.URL+"/entries/1", "")
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "NOT_FOUND", body["code"])
}

func TestRouter_CreateEntry_BadSourceType(t *testing.T) {
	srv := newTestServer(t, nil)

	status, body := doJSON(t, http.MethodPost, srv.URL+"/entries",
		`{"title":"Doc","source_type":"bogus","content":"A."}`)

	assert.Equal(t, http.StatusUnprocessableEntity, status)
	assert.Equal(t, "VALIDATION_ERROR", body["code"])
}

func TestRouter_Metrics(t *testing.T) {
	srv := newTestServer(t, nil)

	status, _ := doJSON(t, http.MethodPost, srv.URL+"/entries",
		`{"title":"Doc","source_type":"text","content":"A. B."}`)
	require.Equal(t, http.StatusCreated, status)

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(raw), `kbcore_ingest_chunks_total{result="success"} 2`)
	assert.Contains(t, string(raw), "kbcore_embedding_duration_seconds")
}
