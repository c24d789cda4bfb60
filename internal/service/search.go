package service

import (
	"context"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/cloo-solutions/kbcore/internal/domain"
	"github.com/cloo-solutions/kbcore/internal/logger"
	"github.com/cloo-solutions/kbcore/internal/telemetry"
	"github.com/cloo-solutions/kbcore/internal/vector"
)

const (
	DefaultSearchLimit = 10
	MaxSearchLimit     = 100
)

// SearchTarget selects which table is ranked
type SearchTarget string

const (
	SearchTargetChunks  SearchTarget = "chunks"
	SearchTargetEntries SearchTarget = "entries"
)

// VectorGenerator embeds a query without serializing it
type VectorGenerator interface {
	GenerateVector(ctx context.Context, text string) ([]float32, error)
}

// SearchInput represents a semantic search request
type SearchInput struct {
	Query      string
	MinScore   float64
	Limit      int
	Target     SearchTarget
	SourceType string
}

// SearchResult is one ranked hit. ParentID and ChunkIndex are set for chunk hits.
type SearchResult struct {
	Target     SearchTarget    `json:"target"`
	ID         int64           `json:"id"`
	ParentID   int64           `json:"parent_id,omitempty"`
	ChunkIndex int             `json:"chunk_index"`
	Title      string          `json:"title,omitempty"`
	SourceType string          `json:"source_type"`
	Content    string          `json:"content"`
	Metadata   domain.Metadata `json:"metadata,omitempty"`
	Score      float64         `json:"score"`
}

// SearchService ranks stored embeddings against a query by cosine similarity
type SearchService struct {
	embedder VectorGenerator
	entries  EntryRepository
	chunks   ChunkRepository
	logger   *zap.Logger
}

// NewSearchService creates a new SearchService instance
func NewSearchService(embedder VectorGenerator, entries EntryRepository, chunks ChunkRepository, log *zap.Logger) *SearchService {
	return &SearchService{
		embedder: embedder,
		entries:  entries,
		chunks:   chunks,
		logger:   logger.OrNop(log),
	}
}

// Search embeds the query and returns hits scoring at least MinScore, best first.
func (s *SearchService) Search(ctx context.Context, input SearchInput) ([]SearchResult, error) {
	ctx, span := telemetry.StartSpan(ctx, "SearchService.Search", telemetry.SpanAttributes{
		SourceType: input.SourceType,
		Operation:  "search",
	})
	defer span.End()

	if strings.TrimSpace(input.Query) == "" {
		return nil, domain.InvalidInputf("query is required")
	}
	if input.MinScore < -1 || input.MinScore > 1 {
		return nil, domain.InvalidInputf("min_score must be within [-1, 1]")
	}

	target := input.Target
	if target == "" {
		target = SearchTargetChunks
	}
	if target != SearchTargetChunks && target != SearchTargetEntries {
		return nil, domain.InvalidInputf("invalid search target: %s", target)
	}

	filter := CandidateFilter{Limit: clampSearchLimit(input.Limit)}
	if input.SourceType != "" {
		st, err := domain.ParseSourceType(input.SourceType)
		if err != nil {
			return nil, domain.InvalidInputf("invalid source type: %s", input.SourceType)
		}
		filter.SourceType = st
	}

	query, err := s.embedder.GenerateVector(ctx, input.Query)
	if err != nil {
		return nil, err
	}

	var results []SearchResult
	switch target {
	case SearchTargetEntries:
		results, err = s.rankEntries(ctx, query, filter, input.MinScore)
	default:
		results, err = s.rankChunks(ctx, query, filter, input.MinScore)
	}
	if err != nil {
		span.SetError(err)
		return nil, domain.StorageFailure("search candidates", err)
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > filter.Limit {
		results = results[:filter.Limit]
	}

	s.logger.Debug("search completed",
		zap.String("target", string(target)),
		zap.Int("results", len(results)),
		zap.Float64("min_score", input.MinScore),
	)
	return results, nil
}

func (s *SearchService) rankEntries(ctx context.Context, query []float32, filter CandidateFilter, minScore float64) ([]SearchResult, error) {
	candidates, err := s.entries.NearestEntries(ctx, query, filter)
	if err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, len(candidates))
	for _, e := range candidates {
		score := vector.CosineSimilarity(query, e.Embedding)
		if score < minScore {
			continue
		}
		results = append(results, SearchResult{
			Target:     SearchTargetEntries,
			ID:         e.ID,
			Title:      e.Title,
			SourceType: string(e.SourceType),
			Content:    e.Content,
			Metadata:   e.Metadata,
			Score:      score,
		})
	}
	return results, nil
}

func (s *SearchService) rankChunks(ctx context.Context, query []float32, filter CandidateFilter, minScore float64) ([]SearchResult, error) {
	candidates, err := s.chunks.NearestChunks(ctx, query, filter)
	if err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, len(candidates))
	for _, c := range candidates {
		score := vector.CosineSimilarity(query, c.Embedding)
		if score < minScore {
			continue
		}
		results = append(results, SearchResult{
			Target:     SearchTargetChunks,
			ID:         c.ID,
			ParentID:   c.ParentID,
			ChunkIndex: c.ChunkIndex,
			SourceType: string(c.SourceType),
			Content:    c.Content,
			Metadata:   c.Metadata,
			Score:      score,
		})
	}
	return results, nil
}

func clampSearchLimit(limit int) int {
	if limit <= 0 {
		return DefaultSearchLimit
	}
	if limit > MaxSearchLimit {
		return MaxSearchLimit
	}
	return limit
}
