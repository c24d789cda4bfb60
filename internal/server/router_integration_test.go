//go:build integration

package server

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cloo-solutions/kbcore/internal/api/handlers"
	"github.com/cloo-solutions/kbcore/internal/repository"
	"github.com/cloo-solutions/kbcore/internal/service"
	"github.com/cloo-solutions/kbcore/internal/testutil"
)

func TestRouter_Postgres_EntryLifecycle(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	pool := testutil.NewTestPool(ctx, t, pc, "../../migrations")

	log := zap.NewNop()
	entries := repository.NewEntryRepository(pool)
	chunks := repository.NewChunkRepository(pool)
	embedding := service.NewEmbeddingService(lengthProvider{}, service.EmbeddingConfig{Dimensions: 3}, log, nil)
	knowledge := service.NewKnowledgeService(entries, chunks, log, nil)
	ingestion := service.NewIngestionService(embedding, knowledge, service.IngestConfig{
		Chunk:       service.ChunkConfig{MaxLength: 2},
		Concurrency: 3,
	}, log, nil)

	srv := httptest.NewServer(NewRouter(RouterConfig{
		Logger:           log,
		KnowledgeHandler: handlers.NewKnowledgeHandler(knowledge, ingestion, embedding),
		SearchHandler:    handlers.NewSearchHandler(service.NewSearchService(embedding, entries, chunks, log)),
		Ping:             pool.Ping,
	}))
	defer srv.Close()

	status, body := doJSON(t, http.MethodPost, srv.URL+"/entries",
		`{"title":"Doc","source_type":"website","content":"A. B. C."}`)
	require.Equal(t, http.StatusCreated, status)
	data := body["data"].(map[string]interface{})
	assert.Equal(t, float64(3), data["stored"])

	status, body = doJSON(t, http.MethodGet, srv.URL+"/entries/1/chunks", "")
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["data"], 3)

	status, body = doJSON(t, http.MethodPost, srv.URL+"/search",
		`{"query":"A.","source_type":"website","min_score":0.5}`)
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["data"], 3)

	status, _ = doJSON(t, http.MethodPost, srv.URL+"/entries/1/chunks", `{"text":"One. Two."}`)
	require.Equal(t, http.StatusOK, status)

	status, body = doJSON(t, http.MethodGet, srv.URL+"/entries/1/chunks", "")
	require.Equal(t, http.StatusOK, status)
	assert.Len(t, body["data"], 2)

	status, _ = doJSON(t, http.MethodDelete, srv.URL+"/entries/1", "")
	require.Equal(t, http.StatusOK, status)

	var remaining int
	require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM knowledge_chunks`).Scan(&remaining))
	assert.Zero(t, remaining)
}
