package admin

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cloo-solutions/kbcore/internal/cli"
	"github.com/cloo-solutions/kbcore/internal/config"
	"github.com/cloo-solutions/kbcore/internal/domain"
	"github.com/cloo-solutions/kbcore/internal/service"
)

type stubProvider struct{}

func (stubProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	return []float32{float32(len(text)), 1, 1}, nil
}

func memoryFactory(t *testing.T) AppFactory {
	t.Helper()
	cfg := &config.Config{
		Store:               config.StoreMemory,
		EmbeddingDimensions: 3,
		EmbeddingMaxInput:   2000,
		ChunkMaxLength:      2,
		IngestConcurrency:   1,
	}
	app, err := cli.NewApp(context.Background(), cfg, zap.NewNop(), cli.WithEmbeddingProvider(stubProvider{}))
	require.NoError(t, err)

	return func(ctx context.Context) (*cli.App, func(), error) {
		return app, func() {}, nil
	}
}

func run(factory AppFactory, build func(AppFactory) *cobra.Command, args ...string) (string, error) {
	cmd := build(factory)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestIngestSearchDelete(t *testing.T) {
	factory := memoryFactory(t)

	out, err := run(factory, IngestCmd, "A. B. C.", "--title", "Doc", "--meta", "lang=en")
	require.NoError(t, err)
	assert.Contains(t, out, "Entry 1: stored 3 of 3 chunks")

	out, err = run(factory, SearchCmd, "A.", "--min-score", "0.99", "-o", "json")
	require.NoError(t, err)
	var results []map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &results))
	require.NotEmpty(t, results)
	assert.Equal(t, "A.", results[0]["content"])
	assert.Equal(t, float64(1), results[0]["parent_id"])

	out, err = run(factory, SearchCmd, "A. B. C.", "--target", "entries")
	require.NoError(t, err)
	assert.Contains(t, out, "[entry 1] Doc")

	out, err = run(factory, DeleteCmd, "1")
	require.NoError(t, err)
	assert.Contains(t, out, "Deleted entry 1")

	_, err = run(factory, DeleteCmd, "1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestIngest_Reingest(t *testing.T) {
	factory := memoryFactory(t)

	_, err := run(factory, IngestCmd, "X. Y.", "--title", "Doc")
	require.NoError(t, err)

	out, err := run(factory, IngestCmd, "--parent", "1", "-o", "json")
	require.NoError(t, err)

	var result map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, float64(1), result["entry_id"])
	assert.Equal(t, float64(2), result["stored"])
}

func TestIngest_FromStdin(t *testing.T) {
	factory := memoryFactory(t)

	cmd := IngestCmd(factory)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetIn(strings.NewReader("  One. Two.\n"))
	cmd.SetArgs([]string{"--file", "-", "--title", "Stdin"})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), "stored 2 of 2 chunks")
}

func TestIngest_RequiresText(t *testing.T) {
	_, err := run(memoryFactory(t), IngestCmd, "--title", "Doc")
	assert.Error(t, err)
}

func TestIngest_BadSourceType(t *testing.T) {
	_, err := run(memoryFactory(t), IngestCmd, "A.", "--title", "Doc", "--type", "bogus")
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestPrintIngest_JSONFailures(t *testing.T) {
	var out bytes.Buffer
	err := printIngest(&out, "json", 4, &service.IngestResult{
		RunID:    "run-1",
		Total:    2,
		Stored:   1,
		Failures: []service.ChunkFailure{{Index: 1, Err: errors.New("provider timeout")}},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"entry_id":4,"run_id":"run-1","total":2,"stored":1,"failures":[{"index":1,"error":"provider timeout"}]}`, out.String())
}

func TestPrintJSON_EncodeError(t *testing.T) {
	var out bytes.Buffer
	err := printJSON(&out, map[string]float64{"score": math.NaN()})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to encode output")
	assert.Empty(t, out.String())
}

func TestDelete_InvalidID(t *testing.T) {
	_, err := run(memoryFactory(t), DeleteCmd, "abc")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "positive integer")
}

func TestNewHandler_ServesHealth(t *testing.T) {
	app, _, err := memoryFactory(t)(context.Background())
	require.NoError(t, err)

	w := httptest.NewRecorder()
	NewHandler(app).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
}
