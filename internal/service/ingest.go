package service

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cloo-solutions/kbcore/internal/domain"
	"github.com/cloo-solutions/kbcore/internal/logger"
	"github.com/cloo-solutions/kbcore/internal/metrics"
	"github.com/cloo-solutions/kbcore/internal/telemetry"
)

// MetadataIngestRunID is the chunk metadata key shared by all chunks of one ingestion run.
const MetadataIngestRunID = "ingest_run_id"

// Embedder generates serialized embeddings
type Embedder interface {
	GenerateEmbedding(ctx context.Context, text string) (string, error)
}

// KnowledgeWriter is the subset of KnowledgeService used by ingestion
type KnowledgeWriter interface {
	EntryExists(ctx context.Context, id int64) (bool, error)
	GetEntry(ctx context.Context, id int64) (*domain.KnowledgeEntry, error)
	CreateEntry(ctx context.Context, input CreateEntryInput) (int64, error)
	CreateChunk(ctx context.Context, input CreateChunkInput) (int64, error)
	DeleteChunks(ctx context.Context, parentID int64) (int64, error)
}

// IngestConfig controls chunk size and how many chunks are embedded at once.
type IngestConfig struct {
	Chunk       ChunkConfig
	Concurrency int
}

// DefaultIngestConfig returns sequential ingestion with the default chunk size.
func DefaultIngestConfig() IngestConfig {
	return IngestConfig{
		Chunk:       DefaultChunkConfig(),
		Concurrency: 1,
	}
}

// IngestInput represents a request to chunk and store text under an existing entry
type IngestInput struct {
	ParentID   int64
	SourceType string
	Text       string
	Metadata   domain.Metadata
}

// ChunkFailure records why one chunk was not stored.
type ChunkFailure struct {
	Index int
	Err   error
}

// IngestResult is the outcome of one ingestion run.
type IngestResult struct {
	RunID    string
	Total    int
	Stored   int
	Failures []ChunkFailure
}

// Failed returns the number of chunks that were not stored.
func (r *IngestResult) Failed() int {
	return r.Total - r.Stored
}

// DocumentInput represents a full ingestion request: entry plus chunks
type DocumentInput struct {
	Title      string
	SourceType string
	Content    string
	Metadata   domain.Metadata
}

// DocumentResult is the outcome of IngestDocument
type DocumentResult struct {
	EntryID int64
	Ingest  *IngestResult
}

// IngestionService chunks text, embeds each chunk and stores the results
type IngestionService struct {
	embedder Embedder
	store    KnowledgeWriter
	cfg      IngestConfig
	logger   *zap.Logger
	metrics  *metrics.Metrics
	newRunID func() string
}

// NewIngestionService creates a new IngestionService instance
func NewIngestionService(embedder Embedder, store KnowledgeWriter, cfg IngestConfig, log *zap.Logger, m *metrics.Metrics) *IngestionService {
	if cfg.Chunk.MaxLength <= 0 {
		cfg.Chunk.MaxLength = DefaultChunkMaxLength
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	return &IngestionService{
		embedder: embedder,
		store:    store,
		cfg:      cfg,
		logger:   logger.OrNop(log),
		metrics:  m,
		newRunID: uuid.NewString,
	}
}

// Ingest splits text into chunks and stores each one under ParentID. A chunk
// that fails to embed or persist is recorded and skipped; the rest continue.
// Invalid top-level input returns an empty result and an error, with no side effects.
func (s *IngestionService) Ingest(ctx context.Context, input IngestInput) (*IngestResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "IngestionService.Ingest", telemetry.SpanAttributes{
		EntryID:    input.ParentID,
		SourceType: input.SourceType,
		Operation:  "ingest",
	})
	defer span.End()

	result := &IngestResult{}

	if input.ParentID <= 0 {
		return result, domain.InvalidInputf("parent id must be greater than 0")
	}
	sourceType, err := domain.ParseSourceType(input.SourceType)
	if err != nil {
		return result, domain.InvalidInputf("invalid source type: %s", input.SourceType)
	}
	if strings.TrimSpace(input.Text) == "" {
		return result, domain.InvalidInputf("text is required")
	}

	exists, err := s.store.EntryExists(ctx, input.ParentID)
	if err != nil {
		return result, err
	}
	if !exists {
		return result, domain.ErrEntryNotFound
	}

	chunks := ChunkText(input.Text, s.cfg.Chunk.MaxLength)
	result.RunID = s.newRunID()
	result.Total = len(chunks)
	if len(chunks) == 0 {
		return result, nil
	}

	embedded := s.embedChunks(ctx, chunks)
	s.storeChunks(ctx, input.ParentID, sourceType, embedded, input.Metadata, result)
	return result, nil
}

// embeddedChunk is one chunk after the embedding phase. Embedding is empty when Err is set.
type embeddedChunk struct {
	Content   string
	Embedding string
	Err       error
}

// embedChunks embeds every chunk with at most cfg.Concurrency calls in flight.
// The returned slice is in chunk order.
func (s *IngestionService) embedChunks(ctx context.Context, chunks []string) []embeddedChunk {
	out := make([]embeddedChunk, len(chunks))
	g := new(errgroup.Group)
	g.SetLimit(s.cfg.Concurrency)

	// Each goroutine owns out[i]; indices are fixed before dispatch.
	for i, content := range chunks {
		out[i].Content = content
		if ctxErr := ctx.Err(); ctxErr != nil {
			out[i].Err = ctxErr
			continue
		}
		g.Go(func() error {
			out[i].Embedding, out[i].Err = s.embedder.GenerateEmbedding(ctx, content)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// storeChunks persists the embedded chunks in index order and folds every
// outcome into result.
func (s *IngestionService) storeChunks(ctx context.Context, parentID int64, sourceType domain.SourceType, chunks []embeddedChunk, meta domain.Metadata, result *IngestResult) {
	metadata := meta.Clone()
	metadata[MetadataIngestRunID] = result.RunID

	for i, c := range chunks {
		err := c.Err
		if err == nil {
			_, err = s.store.CreateChunk(ctx, CreateChunkInput{
				ParentID:   parentID,
				SourceType: string(sourceType),
				ChunkIndex: i,
				Content:    c.Content,
				Embedding:  c.Embedding,
				Metadata:   metadata,
			})
		}
		if err == nil {
			result.Stored++
			s.metrics.ObserveChunk(true)
			continue
		}

		result.Failures = append(result.Failures, ChunkFailure{Index: i, Err: err})
		s.metrics.ObserveChunk(false)
		telemetry.ChunkFailed(ctx, parentID, i, result.RunID, err)
		s.logger.Warn("chunk ingestion failed",
			zap.Int64("parent_id", parentID),
			zap.Int("chunk_index", i),
			zap.String(MetadataIngestRunID, result.RunID),
			zap.Error(err),
		)
	}

	s.logger.Info("chunk ingestion finished",
		zap.Int64("parent_id", parentID),
		zap.String(MetadataIngestRunID, result.RunID),
		zap.Int("created", result.Stored),
		zap.Int("failed", result.Failed()),
	)
}

// IngestDocument embeds the whole document, stores it as a new entry and
// ingests its chunks.
func (s *IngestionService) IngestDocument(ctx context.Context, input DocumentInput) (*DocumentResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "IngestionService.IngestDocument", telemetry.SpanAttributes{
		SourceType: input.SourceType,
		Operation:  "ingest_document",
	})
	defer span.End()

	if _, err := domain.ParseSourceType(input.SourceType); err != nil {
		return nil, err
	}
	if SanitizeText(input.Title) == "" {
		return nil, domain.Validationf("knowledge entry Title is required")
	}
	if err := domain.ValidateContent(input.Content); err != nil {
		return nil, err
	}

	embedding, err := s.embedder.GenerateEmbedding(ctx, input.Content)
	if err != nil {
		return nil, err
	}

	entryID, err := s.store.CreateEntry(ctx, CreateEntryInput{
		Title:      input.Title,
		SourceType: input.SourceType,
		Content:    input.Content,
		Embedding:  embedding,
		Metadata:   input.Metadata,
	})
	if err != nil {
		return nil, err
	}

	result, err := s.Ingest(ctx, IngestInput{
		ParentID:   entryID,
		SourceType: input.SourceType,
		Text:       input.Content,
		Metadata:   input.Metadata,
	})
	return &DocumentResult{EntryID: entryID, Ingest: result}, err
}

// Reingest replaces an entry's chunks. When text is empty the entry's stored
// content is chunked again. Indices restart at 0. Every chunk is embedded
// before the old ones are removed; if none embeds, the old chunks are kept and
// the embedding error is returned.
func (s *IngestionService) Reingest(ctx context.Context, parentID int64, text string) (*IngestResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "IngestionService.Reingest", telemetry.SpanAttributes{
		EntryID:   parentID,
		Operation: "reingest",
	})
	defer span.End()

	result := &IngestResult{}
	if parentID <= 0 {
		return result, domain.InvalidInputf("parent id must be greater than 0")
	}

	entry, err := s.store.GetEntry(ctx, parentID)
	if err != nil {
		return result, err
	}
	if strings.TrimSpace(text) == "" {
		text = entry.Content
	}

	chunks := ChunkText(text, s.cfg.Chunk.MaxLength)
	if len(chunks) == 0 {
		return result, domain.InvalidInputf("text is required")
	}
	result.RunID = s.newRunID()
	result.Total = len(chunks)

	embedded := s.embedChunks(ctx, chunks)
	if err := firstErrIfAllFailed(embedded); err != nil {
		span.SetError(err)
		s.logger.Warn("re-ingestion aborted, previous chunks kept",
			zap.Int64("parent_id", parentID),
			zap.Error(err),
		)
		return result, err
	}

	removed, err := s.store.DeleteChunks(ctx, parentID)
	if err != nil {
		return result, err
	}
	s.logger.Info("previous chunks removed for re-ingestion",
		zap.Int64("parent_id", parentID),
		zap.Int64("chunks_deleted", removed),
	)

	s.storeChunks(ctx, parentID, entry.SourceType, embedded, entry.Metadata, result)
	return result, nil
}

// firstErrIfAllFailed returns the first chunk error when no chunk embedded.
func firstErrIfAllFailed(chunks []embeddedChunk) error {
	for _, c := range chunks {
		if c.Err == nil {
			return nil
		}
	}
	if len(chunks) == 0 {
		return nil
	}
	return chunks[0].Err
}
