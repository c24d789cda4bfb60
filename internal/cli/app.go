package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goopenai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/cloo-solutions/kbcore/internal/config"
	"github.com/cloo-solutions/kbcore/internal/database"
	"github.com/cloo-solutions/kbcore/internal/logger"
	"github.com/cloo-solutions/kbcore/internal/metrics"
	"github.com/cloo-solutions/kbcore/internal/openai"
	"github.com/cloo-solutions/kbcore/internal/repository"
	"github.com/cloo-solutions/kbcore/internal/repository/memory"
	"github.com/cloo-solutions/kbcore/internal/service"
)

// ErrProviderNotConfigured is returned by every embedding call when no OpenAI key is set.
var ErrProviderNotConfigured = errors.New("embedding provider not configured: KBCORE_OPENAI_API_KEY is not set")

// App holds the services shared by every kbcored command.
type App struct {
	Config    *config.Config
	Logger    *zap.Logger
	Registry  *prometheus.Registry
	Knowledge *service.KnowledgeService
	Embedding *service.EmbeddingService
	Ingestion *service.IngestionService
	Search    *service.SearchService

	pool *pgxpool.Pool
}

// AppOption overrides a dependency, mostly for tests.
type AppOption func(*appOptions)

type appOptions struct {
	provider service.EmbeddingProvider
}

// WithEmbeddingProvider replaces the provider derived from configuration.
func WithEmbeddingProvider(p service.EmbeddingProvider) AppOption {
	return func(o *appOptions) { o.provider = p }
}

// NewLogger builds the process logger from configuration.
func NewLogger(cfg *config.Config) (*zap.Logger, error) {
	return logger.New(logger.Config{Level: cfg.LogLevel, Development: cfg.Debug})
}

// NewApp connects storage and wires the services. Close releases the pool.
func NewApp(ctx context.Context, cfg *config.Config, log *zap.Logger, opts ...AppOption) (*App, error) {
	log = logger.OrNop(log)
	var o appOptions
	for _, opt := range opts {
		opt(&o)
	}

	app := &App{
		Config:   cfg,
		Logger:   log,
		Registry: prometheus.NewRegistry(),
	}
	app.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(app.Registry)

	var entries service.EntryRepository
	var chunks service.ChunkRepository
	switch cfg.Store {
	case config.StoreMemory:
		store := memory.NewStore()
		entries, chunks = store.Entries(), store.Chunks()
		log.Warn("using in-memory store, data is lost on exit")
	default:
		pool, err := database.NewPool(ctx, database.Config{URL: cfg.DatabaseURL, MaxConns: cfg.DBMaxConns})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		app.pool = pool
		entries, chunks = repository.NewEntryRepository(pool), repository.NewChunkRepository(pool)
		log.Info("connected to database")
	}

	provider := o.provider
	if provider == nil {
		p, err := newProvider(cfg, log)
		if err != nil {
			app.Close()
			return nil, err
		}
		provider = p
	}

	app.Embedding = service.NewEmbeddingService(provider, service.EmbeddingConfig{
		MaxInputChars: cfg.EmbeddingMaxInput,
		Dimensions:    cfg.EmbeddingDimensions,
	}, log.Named("embedding"), m)
	app.Knowledge = service.NewKnowledgeService(entries, chunks, log.Named("knowledge"), m)
	app.Ingestion = service.NewIngestionService(app.Embedding, app.Knowledge, service.IngestConfig{
		Chunk:       service.ChunkConfig{MaxLength: cfg.ChunkMaxLength},
		Concurrency: cfg.IngestConcurrency,
	}, log.Named("ingest"), m)
	app.Search = service.NewSearchService(app.Embedding, entries, chunks, log.Named("search"))

	return app, nil
}

func newProvider(cfg *config.Config, log *zap.Logger) (service.EmbeddingProvider, error) {
	if cfg.OpenAIAPIKey == "" {
		log.Warn("no OpenAI key configured, embedding requests will fail")
		return unavailableProvider{}, nil
	}
	if !cfg.HasOpenAI() {
		return nil, errors.New("KBCORE_OPENAI_API_KEY is malformed")
	}
	return openai.NewClientWithConfig(openai.Config{
		APIKey:            cfg.OpenAIAPIKey,
		BaseURL:           cfg.OpenAIBaseURL,
		EmbeddingModel:    goopenai.EmbeddingModel(cfg.EmbeddingModel),
		Timeout:           cfg.EmbeddingTimeout,
		RequestsPerSecond: cfg.EmbeddingRateLimit,
	}), nil
}

type unavailableProvider struct{}

func (unavailableProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	return nil, ErrProviderNotConfigured
}

// Ping checks storage reachability. The in-memory store is always reachable.
func (a *App) Ping(ctx context.Context) error {
	if a.pool == nil {
		return nil
	}
	return a.pool.Ping(ctx)
}

func (a *App) Close() {
	if a.pool != nil {
		a.pool.Close()
	}
}
