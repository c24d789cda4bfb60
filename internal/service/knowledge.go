package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/cloo-solutions/kbcore/internal/domain"
	"github.com/cloo-solutions/kbcore/internal/logger"
	"github.com/cloo-solutions/kbcore/internal/metrics"
	"github.com/cloo-solutions/kbcore/internal/pagination"
	"github.com/cloo-solutions/kbcore/internal/telemetry"
)

// EntryRepository defines the persistence interface for knowledge entries
type EntryRepository interface {
	Create(ctx context.Context, e *domain.KnowledgeEntry) (int64, error)
	GetByID(ctx context.Context, id int64) (*domain.KnowledgeEntry, error)
	Exists(ctx context.Context, id int64) (bool, error)
	UpdateFields(ctx context.Context, id int64, fields EntryFields) (int64, error)
	Delete(ctx context.Context, id int64) (int64, error)
	List(ctx context.Context, cursor *pagination.Cursor, limit int) (*EntryPage, error)
	NearestEntries(ctx context.Context, query []float32, filter CandidateFilter) ([]*domain.KnowledgeEntry, error)
}

// ChunkRepository defines the persistence interface for knowledge chunks
type ChunkRepository interface {
	Create(ctx context.Context, c *domain.KnowledgeChunk) (int64, error)
	ListByParent(ctx context.Context, parentID int64) ([]*domain.KnowledgeChunk, error)
	DeleteByParent(ctx context.Context, parentID int64) (int64, error)
	NearestChunks(ctx context.Context, query []float32, filter CandidateFilter) ([]*domain.KnowledgeChunk, error)
}

// EntryFields is a sparse set of columns to write. Nil/empty members are left untouched.
type EntryFields struct {
	Title     *string
	Content   *string
	Embedding []float32
	Metadata  domain.Metadata
}

// Empty reports whether no column would be written.
func (f EntryFields) Empty() bool {
	return f.Title == nil && f.Content == nil && len(f.Embedding) == 0 && len(f.Metadata) == 0
}

// CandidateFilter narrows a nearest-neighbour candidate fetch.
type CandidateFilter struct {
	SourceType domain.SourceType
	Limit      int
}

// EntryPage is one page of entries in newest-first order
type EntryPage struct {
	Items      []*domain.KnowledgeEntry
	NextCursor string
	HasMore    bool
}

// KnowledgeService handles validated reads and writes of entries and chunks
type KnowledgeService struct {
	entries EntryRepository
	chunks  ChunkRepository
	logger  *zap.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// NewKnowledgeService creates a new KnowledgeService instance
func NewKnowledgeService(entries EntryRepository, chunks ChunkRepository, log *zap.Logger, m *metrics.Metrics) *KnowledgeService {
	return &KnowledgeService{
		entries: entries,
		chunks:  chunks,
		logger:  logger.OrNop(log),
		metrics: m,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// CreateEntryInput represents the input for creating a knowledge entry
type CreateEntryInput struct {
	Title      string
	SourceType string
	Content    string
	Embedding  string
	Metadata   domain.Metadata
}

// UpdateEntryInput represents a partial update. Nil or empty fields are skipped.
type UpdateEntryInput struct {
	ID        int64
	Title     *string
	Content   *string
	Embedding *string
	Metadata  domain.Metadata
}

// CreateChunkInput represents the input for storing one chunk
type CreateChunkInput struct {
	ParentID   int64
	SourceType string
	ChunkIndex int
	Content    string
	Embedding  string
	Metadata   domain.Metadata
}

type ListEntriesInput struct {
	Cursor string
	Limit  int
}

// CreateEntry validates and stores a new entry, returning its id.
func (s *KnowledgeService) CreateEntry(ctx context.Context, input CreateEntryInput) (int64, error) {
	ctx, span := telemetry.StartSpan(ctx, "KnowledgeService.CreateEntry", telemetry.SpanAttributes{
		SourceType: input.SourceType,
		Operation:  "create_entry",
	})
	defer span.End()

	sourceType, err := domain.ParseSourceType(input.SourceType)
	if err != nil {
		return 0, err
	}
	embedding, err := domain.ParseEmbedding(input.Embedding)
	if err != nil {
		return 0, err
	}

	entry := &domain.KnowledgeEntry{
		Title:      SanitizeText(input.Title),
		SourceType: sourceType,
		Content:    input.Content,
		Embedding:  embedding,
		Metadata:   input.Metadata.Clone(),
		CreatedAt:  s.now(),
	}
	if err := domain.ValidateEntry(entry); err != nil {
		return 0, err
	}

	id, err := s.entries.Create(ctx, entry)
	if err != nil {
		span.SetError(err)
		return 0, domain.StorageFailure("create knowledge entry", err)
	}

	s.logger.Info("knowledge entry created",
		zap.Int64("entry_id", id),
		zap.String("source_type", string(sourceType)),
	)
	return id, nil
}

// UpdateEntry writes only the supplied, non-empty fields and returns the affected count.
func (s *KnowledgeService) UpdateEntry(ctx context.Context, input UpdateEntryInput) (int64, error) {
	ctx, span := telemetry.StartSpan(ctx, "KnowledgeService.UpdateEntry", telemetry.SpanAttributes{
		EntryID:   input.ID,
		Operation: "update_entry",
	})
	defer span.End()

	if input.ID <= 0 {
		return 0, domain.InvalidInputf("entry id must be greater than 0")
	}

	exists, err := s.entries.Exists(ctx, input.ID)
	if err != nil {
		return 0, domain.StorageFailure("look up knowledge entry", err)
	}
	if !exists {
		return 0, domain.ErrEntryNotFound
	}

	fields, err := buildEntryFields(input)
	if err != nil {
		return 0, err
	}
	if fields.Empty() {
		return 0, domain.ErrNoOp
	}

	affected, err := s.entries.UpdateFields(ctx, input.ID, fields)
	if err != nil {
		span.SetError(err)
		return 0, domain.StorageFailure("update knowledge entry", err)
	}
	if affected == 0 {
		return 0, domain.ErrEntryNotFound
	}
	return affected, nil
}

func buildEntryFields(input UpdateEntryInput) (EntryFields, error) {
	var fields EntryFields

	if input.Title != nil {
		if title := SanitizeText(*input.Title); title != "" {
			fields.Title = &title
		}
	}
	if input.Content != nil && *input.Content != "" {
		if err := domain.ValidateContent(*input.Content); err != nil {
			return EntryFields{}, err
		}
		content := *input.Content
		fields.Content = &content
	}
	if input.Embedding != nil && *input.Embedding != "" {
		v, err := domain.ParseEmbedding(*input.Embedding)
		if err != nil {
			return EntryFields{}, err
		}
		fields.Embedding = v
	}
	if len(input.Metadata) > 0 {
		fields.Metadata = input.Metadata.Clone()
	}

	return fields, nil
}

// DeleteEntry removes an entry and then, best-effort, its chunks.
// A failure while removing chunks is logged and never fails the call.
func (s *KnowledgeService) DeleteEntry(ctx context.Context, id int64) (int64, error) {
	ctx, span := telemetry.StartSpan(ctx, "KnowledgeService.DeleteEntry", telemetry.SpanAttributes{
		EntryID:   id,
		Operation: "delete_entry",
	})
	defer span.End()

	if id <= 0 {
		return 0, domain.InvalidInputf("entry id must be greater than 0")
	}

	affected, err := s.entries.Delete(ctx, id)
	if err != nil {
		span.SetError(err)
		return 0, domain.StorageFailure("delete knowledge entry", err)
	}
	if affected == 0 {
		return 0, domain.ErrEntryNotFound
	}

	removed, err := s.chunks.DeleteByParent(ctx, id)
	if err != nil {
		s.logger.Warn("chunk cleanup failed after entry delete",
			zap.Int64("entry_id", id),
			zap.Error(err),
		)
		telemetry.CaptureError(ctx, err)
	}

	s.metrics.ObserveDelete(removed)
	s.logger.Info("knowledge entry deleted",
		zap.Int64("entry_id", id),
		zap.Int64("chunks_deleted", removed),
	)
	return affected, nil
}

// CreateChunk validates and stores one chunk of an existing entry.
func (s *KnowledgeService) CreateChunk(ctx context.Context, input CreateChunkInput) (int64, error) {
	ctx, span := telemetry.StartSpan(ctx, "KnowledgeService.CreateChunk", telemetry.SpanAttributes{
		EntryID:    input.ParentID,
		SourceType: input.SourceType,
		Operation:  "create_chunk",
	})
	defer span.End()

	sourceType, err := domain.ParseSourceType(input.SourceType)
	if err != nil {
		return 0, err
	}
	embedding, err := domain.ParseEmbedding(input.Embedding)
	if err != nil {
		return 0, err
	}

	chunk := &domain.KnowledgeChunk{
		ParentID:   input.ParentID,
		SourceType: sourceType,
		ChunkIndex: input.ChunkIndex,
		Content:    input.Content,
		Embedding:  embedding,
		Metadata:   input.Metadata.Clone(),
		CreatedAt:  s.now(),
	}
	if err := domain.ValidateChunk(chunk); err != nil {
		return 0, err
	}

	exists, err := s.entries.Exists(ctx, input.ParentID)
	if err != nil {
		return 0, domain.StorageFailure("look up parent entry", err)
	}
	if !exists {
		return 0, domain.ErrEntryNotFound
	}

	id, err := s.chunks.Create(ctx, chunk)
	if err != nil {
		span.SetError(err)
		return 0, domain.StorageFailure("create knowledge chunk", err)
	}
	return id, nil
}

// GetEntry retrieves an entry by id
func (s *KnowledgeService) GetEntry(ctx context.Context, id int64) (*domain.KnowledgeEntry, error) {
	ctx, span := telemetry.StartSpan(ctx, "KnowledgeService.GetEntry", telemetry.SpanAttributes{
		EntryID:   id,
		Operation: "get_entry",
	})
	defer span.End()

	entry, err := s.entries.GetByID(ctx, id)
	if err != nil {
		return nil, domain.StorageFailure("get knowledge entry", err)
	}
	return entry, nil
}

// ListEntries returns entries newest first using cursor pagination
func (s *KnowledgeService) ListEntries(ctx context.Context, input ListEntriesInput) (*EntryPage, error) {
	cursor, err := pagination.DecodeCursor(input.Cursor)
	if err != nil {
		return nil, domain.InvalidInputf("invalid cursor")
	}

	page, err := s.entries.List(ctx, cursor, pagination.ClampLimit(input.Limit))
	if err != nil {
		return nil, domain.StorageFailure("list knowledge entries", err)
	}
	return page, nil
}

// ListChunks returns an entry's chunks ordered by chunk index
func (s *KnowledgeService) ListChunks(ctx context.Context, parentID int64) ([]*domain.KnowledgeChunk, error) {
	exists, err := s.entries.Exists(ctx, parentID)
	if err != nil {
		return nil, domain.StorageFailure("look up parent entry", err)
	}
	if !exists {
		return nil, domain.ErrEntryNotFound
	}

	chunks, err := s.chunks.ListByParent(ctx, parentID)
	if err != nil {
		return nil, domain.StorageFailure("list knowledge chunks", err)
	}
	return chunks, nil
}

// EntryExists reports whether an entry with id is stored.
func (s *KnowledgeService) EntryExists(ctx context.Context, id int64) (bool, error) {
	if id <= 0 {
		return false, nil
	}
	exists, err := s.entries.Exists(ctx, id)
	if err != nil {
		return false, domain.StorageFailure("look up knowledge entry", err)
	}
	return exists, nil
}

// DeleteChunks removes every chunk of an existing entry and returns how many were removed.
func (s *KnowledgeService) DeleteChunks(ctx context.Context, parentID int64) (int64, error) {
	exists, err := s.EntryExists(ctx, parentID)
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, domain.ErrEntryNotFound
	}

	removed, err := s.chunks.DeleteByParent(ctx, parentID)
	if err != nil {
		return 0, domain.StorageFailure("delete knowledge chunks", err)
	}
	return removed, nil
}
