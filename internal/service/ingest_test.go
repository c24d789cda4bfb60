package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cloo-solutions/kbcore/internal/domain"
	"github.com/cloo-solutions/kbcore/internal/metrics"
)

// MockEmbedder mocks serialized embedding generation
type MockEmbedder struct {
	mock.Mock
}

func (m *MockEmbedder) GenerateEmbedding(ctx context.Context, text string) (string, error) {
	args := m.Called(ctx, text)
	return args.String(0), args.Error(1)
}

// MockKnowledgeWriter mocks the knowledge store used by ingestion
type MockKnowledgeWriter struct {
	mock.Mock
}

func (m *MockKnowledgeWriter) EntryExists(ctx context.Context, id int64) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *MockKnowledgeWriter) GetEntry(ctx context.Context, id int64) (*domain.KnowledgeEntry, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*domain.KnowledgeEntry), args.Error(1)
}

func (m *MockKnowledgeWriter) CreateEntry(ctx context.Context, input CreateEntryInput) (int64, error) {
	args := m.Called(ctx, input)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockKnowledgeWriter) CreateChunk(ctx context.Context, input CreateChunkInput) (int64, error) {
	args := m.Called(ctx, input)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockKnowledgeWriter) DeleteChunks(ctx context.Context, parentID int64) (int64, error) {
	args := m.Called(ctx, parentID)
	return args.Get(0).(int64), args.Error(1)
}

// One sentence per chunk for short test inputs.
func sentencePerChunk() IngestConfig {
	return IngestConfig{Chunk: ChunkConfig{MaxLength: 2}, Concurrency: 1}
}

func newIngestionService(e Embedder, w KnowledgeWriter, cfg IngestConfig) *IngestionService {
	svc := NewIngestionService(e, w, cfg, zap.NewNop(), metrics.New(prometheus.NewRegistry()))
	svc.newRunID = func() string { return "run-1" }
	return svc
}

func TestIngestionService_Ingest_ContinuesPastFailure(t *testing.T) {
	embedder := new(MockEmbedder)
	writer := new(MockKnowledgeWriter)
	svc := newIngestionService(embedder, writer, sentencePerChunk())
	ctx := context.Background()

	writer.On("EntryExists", mock.Anything, int64(7)).Return(true, nil)
	embedder.On("GenerateEmbedding", mock.Anything, "A.").Return("[1,0]", nil)
	embedder.On("GenerateEmbedding", mock.Anything, "B.").Return("", domain.EmbeddingFailure("provider down", errors.New("503")))
	embedder.On("GenerateEmbedding", mock.Anything, "C.").Return("[0,1]", nil)
	writer.On("CreateChunk", mock.Anything, mock.MatchedBy(func(in CreateChunkInput) bool {
		return in.ParentID == 7 && in.ChunkIndex == 0 && in.Content == "A."
	})).Return(int64(1), nil)
	writer.On("CreateChunk", mock.Anything, mock.MatchedBy(func(in CreateChunkInput) bool {
		return in.ParentID == 7 && in.ChunkIndex == 2 && in.Content == "C."
	})).Return(int64(2), nil)

	result, err := svc.Ingest(ctx, IngestInput{ParentID: 7, SourceType: "text", Text: "A. B. C.", Metadata: domain.Metadata{}})

	require.NoError(t, err)
	assert.Equal(t, 3, result.Total)
	assert.Equal(t, 2, result.Stored)
	assert.Equal(t, 1, result.Failed())
	require.Len(t, result.Failures, 1)
	assert.Equal(t, 1, result.Failures[0].Index)
	assert.ErrorIs(t, result.Failures[0].Err, domain.ErrEmbeddingUnavailable)
	embedder.AssertExpectations(t)
	writer.AssertExpectations(t)
}

func TestIngestionService_Ingest_StorageFailureIsSkipped(t *testing.T) {
	embedder := new(MockEmbedder)
	writer := new(MockKnowledgeWriter)
	svc := newIngestionService(embedder, writer, sentencePerChunk())

	writer.On("EntryExists", mock.Anything, int64(7)).Return(true, nil)
	embedder.On("GenerateEmbedding", mock.Anything, mock.Anything).Return("[1,0]", nil)
	writer.On("CreateChunk", mock.Anything, mock.MatchedBy(func(in CreateChunkInput) bool { return in.ChunkIndex == 0 })).
		Return(int64(0), domain.NewDomainError(domain.ErrCodeStorage, "disk full"))
	writer.On("CreateChunk", mock.Anything, mock.MatchedBy(func(in CreateChunkInput) bool { return in.ChunkIndex == 1 })).
		Return(int64(9), nil)

	result, err := svc.Ingest(context.Background(), IngestInput{ParentID: 7, SourceType: "qna", Text: "A. B."})

	require.NoError(t, err)
	assert.Equal(t, 1, result.Stored)
	assert.Equal(t, 0, result.Failures[0].Index)
	assert.ErrorIs(t, result.Failures[0].Err, domain.ErrStorage)
}

func TestIngestionService_Ingest_AddsRunIDToMetadata(t *testing.T) {
	embedder := new(MockEmbedder)
	writer := new(MockKnowledgeWriter)
	svc := newIngestionService(embedder, writer, sentencePerChunk())

	caller := domain.Metadata{"url": "https://example.com"}
	writer.On("EntryExists", mock.Anything, int64(7)).Return(true, nil)
	embedder.On("GenerateEmbedding", mock.Anything, mock.Anything).Return("[1,0]", nil)
	writer.On("CreateChunk", mock.Anything, mock.MatchedBy(func(in CreateChunkInput) bool {
		return in.Metadata["url"] == "https://example.com" && in.Metadata[MetadataIngestRunID] == "run-1"
	})).Return(int64(1), nil)

	result, err := svc.Ingest(context.Background(), IngestInput{ParentID: 7, SourceType: "website", Text: "A. B.", Metadata: caller})

	require.NoError(t, err)
	assert.Equal(t, "run-1", result.RunID)
	assert.Equal(t, 2, result.Stored)
	assert.NotContains(t, caller, MetadataIngestRunID)
}

func TestIngestionService_Ingest_InvalidInput(t *testing.T) {
	tests := []struct {
		name  string
		input IngestInput
	}{
		{"zero parent", IngestInput{ParentID: 0, SourceType: "text", Text: "A."}},
		{"bad source type", IngestInput{ParentID: 7, SourceType: "bogus", Text: "A."}},
		{"empty text", IngestInput{ParentID: 7, SourceType: "text", Text: "   "}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			embedder := new(MockEmbedder)
			writer := new(MockKnowledgeWriter)
			svc := newIngestionService(embedder, writer, sentencePerChunk())

			result, err := svc.Ingest(context.Background(), tt.input)

			assert.ErrorIs(t, err, domain.ErrInvalidInput)
			assert.Zero(t, result.Stored)
			writer.AssertNotCalled(t, "CreateChunk", mock.Anything, mock.Anything)
			embedder.AssertNotCalled(t, "GenerateEmbedding", mock.Anything, mock.Anything)
		})
	}
}

func TestIngestionService_Ingest_MissingParent(t *testing.T) {
	embedder := new(MockEmbedder)
	writer := new(MockKnowledgeWriter)
	svc := newIngestionService(embedder, writer, sentencePerChunk())
	writer.On("EntryExists", mock.Anything, int64(7)).Return(false, nil)

	result, err := svc.Ingest(context.Background(), IngestInput{ParentID: 7, SourceType: "text", Text: "A."})

	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Zero(t, result.Stored)
	embedder.AssertNotCalled(t, "GenerateEmbedding", mock.Anything, mock.Anything)
}

func TestIngestionService_Ingest_ConcurrentKeepsIndices(t *testing.T) {
	embedder := new(MockEmbedder)
	writer := new(MockKnowledgeWriter)
	cfg := sentencePerChunk()
	cfg.Concurrency = 4
	svc := newIngestionService(embedder, writer, cfg)

	text := "A. B. C. D. E. F. G. H."
	want := map[string]int{"A.": 0, "B.": 1, "C.": 2, "D.": 3, "E.": 4, "F.": 5, "G.": 6, "H.": 7}

	var mismatches atomic.Int32
	writer.On("EntryExists", mock.Anything, int64(7)).Return(true, nil)
	embedder.On("GenerateEmbedding", mock.Anything, mock.Anything).Return("[1,0]", nil)
	writer.On("CreateChunk", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		in := args.Get(1).(CreateChunkInput)
		if want[in.Content] != in.ChunkIndex {
			mismatches.Add(1)
		}
	}).Return(int64(1), nil)

	result, err := svc.Ingest(context.Background(), IngestInput{ParentID: 7, SourceType: "text", Text: text})

	require.NoError(t, err)
	assert.Equal(t, 8, result.Stored)
	assert.Zero(t, mismatches.Load())
}

func TestIngestionService_Ingest_CancelledContext(t *testing.T) {
	embedder := new(MockEmbedder)
	writer := new(MockKnowledgeWriter)
	svc := newIngestionService(embedder, writer, sentencePerChunk())

	ctx, cancel := context.WithCancel(context.Background())
	writer.On("EntryExists", mock.Anything, int64(7)).Return(true, nil).Run(func(mock.Arguments) { cancel() })

	result, err := svc.Ingest(ctx, IngestInput{ParentID: 7, SourceType: "text", Text: "A. B."})

	require.NoError(t, err)
	assert.Equal(t, 2, result.Total)
	assert.Zero(t, result.Stored)
	require.Len(t, result.Failures, 2)
	assert.ErrorIs(t, result.Failures[0].Err, context.Canceled)
	embedder.AssertNotCalled(t, "GenerateEmbedding", mock.Anything, mock.Anything)
}

func TestIngestionService_IngestDocument(t *testing.T) {
	embedder := new(MockEmbedder)
	writer := new(MockKnowledgeWriter)
	svc := newIngestionService(embedder, writer, DefaultIngestConfig())

	content := "Microdosing is popular. It may have benefits."
	embedder.On("GenerateEmbedding", mock.Anything, content).Return("[0.6,0.8]", nil)
	writer.On("CreateEntry", mock.Anything, mock.MatchedBy(func(in CreateEntryInput) bool {
		return in.Title == "Doc" && in.Embedding == "[0.6,0.8]" && in.Content == content
	})).Return(int64(21), nil)
	writer.On("EntryExists", mock.Anything, int64(21)).Return(true, nil)
	writer.On("CreateChunk", mock.Anything, mock.MatchedBy(func(in CreateChunkInput) bool {
		return in.ParentID == 21 && in.ChunkIndex == 0 && in.Content == content
	})).Return(int64(1), nil)

	res, err := svc.IngestDocument(context.Background(), DocumentInput{Title: "Doc", SourceType: "text", Content: content})

	require.NoError(t, err)
	assert.Equal(t, int64(21), res.EntryID)
	assert.Equal(t, 1, res.Ingest.Stored)
	writer.AssertExpectations(t)
}

func TestIngestionService_IngestDocument_RejectsBeforeEmbedding(t *testing.T) {
	embedder := new(MockEmbedder)
	writer := new(MockKnowledgeWriter)
	svc := newIngestionService(embedder, writer, DefaultIngestConfig())

	_, err := svc.IngestDocument(context.Background(), DocumentInput{Title: "Doc", SourceType: "bogus", Content: "A."})
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = svc.IngestDocument(context.Background(), DocumentInput{Title: "", SourceType: "text", Content: "A."})
	assert.ErrorIs(t, err, domain.ErrValidation)

	embedder.AssertNotCalled(t, "GenerateEmbedding", mock.Anything, mock.Anything)
}

func TestIngestionService_IngestDocument_EmbeddingUnavailable(t *testing.T) {
	embedder := new(MockEmbedder)
	writer := new(MockKnowledgeWriter)
	svc := newIngestionService(embedder, writer, DefaultIngestConfig())

	embedder.On("GenerateEmbedding", mock.Anything, mock.Anything).Return("", domain.EmbeddingFailure("down", errors.New("timeout")))

	_, err := svc.IngestDocument(context.Background(), DocumentInput{Title: "Doc", SourceType: "text", Content: "A."})

	assert.ErrorIs(t, err, domain.ErrEmbeddingUnavailable)
	writer.AssertNotCalled(t, "CreateEntry", mock.Anything, mock.Anything)
}

func TestIngestionService_Reingest_UsesStoredContent(t *testing.T) {
	embedder := new(MockEmbedder)
	writer := new(MockKnowledgeWriter)
	svc := newIngestionService(embedder, writer, sentencePerChunk())

	entry := &domain.KnowledgeEntry{ID: 4, SourceType: domain.SourceTypeFile, Content: "A. B.", Metadata: domain.Metadata{"f": "x.pdf"}}
	writer.On("GetEntry", mock.Anything, int64(4)).Return(entry, nil)
	writer.On("DeleteChunks", mock.Anything, int64(4)).Return(int64(3), nil)
	embedder.On("GenerateEmbedding", mock.Anything, mock.Anything).Return("[1,0]", nil)
	writer.On("CreateChunk", mock.Anything, mock.MatchedBy(func(in CreateChunkInput) bool {
		return in.SourceType == "file" && in.Metadata["f"] == "x.pdf"
	})).Return(int64(1), nil)

	result, err := svc.Reingest(context.Background(), 4, "")

	require.NoError(t, err)
	assert.Equal(t, 2, result.Stored)
	writer.AssertExpectations(t)
}

func TestIngestionService_Reingest_NotFound(t *testing.T) {
	embedder := new(MockEmbedder)
	writer := new(MockKnowledgeWriter)
	svc := newIngestionService(embedder, writer, sentencePerChunk())
	writer.On("GetEntry", mock.Anything, int64(4)).Return(nil, domain.ErrEntryNotFound)

	_, err := svc.Reingest(context.Background(), 4, "A.")

	assert.ErrorIs(t, err, domain.ErrNotFound)
	writer.AssertNotCalled(t, "DeleteChunks", mock.Anything, mock.Anything)
}

func TestIngestionService_Reingest_ProviderDownKeepsChunks(t *testing.T) {
	embedder := new(MockEmbedder)
	writer := new(MockKnowledgeWriter)
	svc := newIngestionService(embedder, writer, sentencePerChunk())

	entry := &domain.KnowledgeEntry{ID: 4, SourceType: domain.SourceTypeText, Content: "A. B. C."}
	writer.On("GetEntry", mock.Anything, int64(4)).Return(entry, nil)
	embedder.On("GenerateEmbedding", mock.Anything, mock.Anything).Return("", domain.EmbeddingFailure("down", errors.New("503")))

	result, err := svc.Reingest(context.Background(), 4, "")

	assert.ErrorIs(t, err, domain.ErrEmbeddingUnavailable)
	assert.Equal(t, 3, result.Total)
	assert.Zero(t, result.Stored)
	writer.AssertNotCalled(t, "DeleteChunks", mock.Anything, mock.Anything)
	writer.AssertNotCalled(t, "CreateChunk", mock.Anything, mock.Anything)
}

func TestIngestionService_Reingest_EmbedsBeforeDeleting(t *testing.T) {
	embedder := new(MockEmbedder)
	writer := new(MockKnowledgeWriter)
	svc := newIngestionService(embedder, writer, sentencePerChunk())

	var embeddedBeforeDelete int
	entry := &domain.KnowledgeEntry{ID: 4, SourceType: domain.SourceTypeText, Content: "A. B."}
	writer.On("GetEntry", mock.Anything, int64(4)).Return(entry, nil)
	embedder.On("GenerateEmbedding", mock.Anything, "A.").Return("[1,0]", nil)
	embedder.On("GenerateEmbedding", mock.Anything, "B.").Return("", domain.EmbeddingFailure("down", errors.New("503")))
	writer.On("DeleteChunks", mock.Anything, int64(4)).Run(func(mock.Arguments) {
		for _, c := range embedder.Calls {
			if c.Method == "GenerateEmbedding" {
				embeddedBeforeDelete++
			}
		}
	}).Return(int64(2), nil)
	writer.On("CreateChunk", mock.Anything, mock.MatchedBy(func(in CreateChunkInput) bool {
		return in.ChunkIndex == 0 && in.Content == "A."
	})).Return(int64(9), nil)

	result, err := svc.Reingest(context.Background(), 4, "")

	require.NoError(t, err)
	assert.Equal(t, 2, embeddedBeforeDelete)
	assert.Equal(t, 1, result.Stored)
	require.Len(t, result.Failures, 1)
	assert.Equal(t, 1, result.Failures[0].Index)
	writer.AssertExpectations(t)
}
