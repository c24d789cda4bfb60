package service

import (
	"context"
	"fmt"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/cloo-solutions/kbcore/internal/domain"
	"github.com/cloo-solutions/kbcore/internal/logger"
	"github.com/cloo-solutions/kbcore/internal/metrics"
	"github.com/cloo-solutions/kbcore/internal/telemetry"
	"github.com/cloo-solutions/kbcore/internal/vector"
)

const (
	DefaultEmbeddingMaxInputChars = 2000
	DefaultEmbeddingDimensions    = 1536
)

// EmbeddingProvider turns text into a raw embedding vector
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// EmbeddingConfig bounds what is sent to and accepted from the provider.
type EmbeddingConfig struct {
	MaxInputChars int
	Dimensions    int
}

// DefaultEmbeddingConfig returns the ada-002 compatible defaults.
func DefaultEmbeddingConfig() EmbeddingConfig {
	return EmbeddingConfig{
		MaxInputChars: DefaultEmbeddingMaxInputChars,
		Dimensions:    DefaultEmbeddingDimensions,
	}
}

// EmbeddingService produces unit-normalized embeddings from free text
type EmbeddingService struct {
	provider EmbeddingProvider
	cfg      EmbeddingConfig
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// NewEmbeddingService creates a new EmbeddingService instance
func NewEmbeddingService(provider EmbeddingProvider, cfg EmbeddingConfig, log *zap.Logger, m *metrics.Metrics) *EmbeddingService {
	if cfg.MaxInputChars <= 0 {
		cfg.MaxInputChars = DefaultEmbeddingMaxInputChars
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = DefaultEmbeddingDimensions
	}
	return &EmbeddingService{
		provider: provider,
		cfg:      cfg,
		logger:   logger.OrNop(log),
		metrics:  m,
	}
}

// GenerateEmbedding embeds text and returns the serialized unit vector.
func (s *EmbeddingService) GenerateEmbedding(ctx context.Context, text string) (string, error) {
	v, err := s.GenerateVector(ctx, text)
	if err != nil {
		return "", err
	}
	encoded, err := vector.Encode(v)
	if err != nil {
		return "", domain.EmbeddingFailure("failed to serialize embedding", err)
	}
	return encoded, nil
}

// GenerateVector runs the same pipeline as GenerateEmbedding without the
// final serialization.
func (s *EmbeddingService) GenerateVector(ctx context.Context, text string) ([]float32, error) {
	ctx, span := telemetry.StartSpan(ctx, "embedding.generate", telemetry.SpanAttributes{
		Operation: "generate_embedding",
	})
	defer span.End()

	clean := SanitizeText(text)
	if clean == "" {
		return nil, domain.InvalidInputf("text to embed is empty")
	}
	clean = truncateRunes(clean, s.cfg.MaxInputChars)

	start := time.Now()
	raw, err := s.provider.Embed(ctx, clean)
	elapsed := time.Since(start)
	if err != nil {
		s.metrics.ObserveEmbedding(false, elapsed)
		s.logger.Warn("embedding provider call failed", zap.Error(err), zap.Duration("elapsed", elapsed))
		span.SetError(err)
		return nil, domain.EmbeddingFailure("embedding provider failed", err)
	}

	if len(raw) != s.cfg.Dimensions {
		s.metrics.ObserveEmbedding(false, elapsed)
		err := fmt.Errorf("got %d dimensions, want %d", len(raw), s.cfg.Dimensions)
		s.logger.Warn("embedding has wrong dimensionality", zap.Error(err))
		return nil, domain.EmbeddingFailure("unexpected embedding dimensionality", err)
	}

	normalized, err := vector.Normalize(raw)
	if err != nil {
		s.metrics.ObserveEmbedding(false, elapsed)
		s.logger.Warn("embedding could not be normalized", zap.Error(err))
		return nil, domain.EmbeddingFailure("embedding could not be normalized", err)
	}
	// A zero vector normalizes to itself.
	if !vector.IsUnit(normalized, domain.UnitNormTolerance) {
		s.metrics.ObserveEmbedding(false, elapsed)
		s.logger.Warn("provider returned a zero-magnitude embedding")
		return nil, domain.EmbeddingFailure("embedding has zero magnitude", vector.ErrInvalidVector)
	}

	s.metrics.ObserveEmbedding(true, elapsed)
	s.logger.Debug("embedding generated",
		zap.Int("input_chars", utf8.RuneCountInString(clean)),
		zap.Duration("elapsed", elapsed),
	)
	return normalized, nil
}

// truncateRunes cuts s to at most n characters.
func truncateRunes(s string, n int) string {
	if n <= 0 || utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}
