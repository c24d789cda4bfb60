// Package telemetry wraps sentry-go spans and error capture for kbcore services.
// Every helper is a no-op when Sentry was never initialized.
package telemetry

import (
	"context"
	"strconv"
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"

	"github.com/cloo-solutions/kbcore/internal/domain"
	"github.com/cloo-solutions/kbcore/internal/logger"
)

const (
	serverName   = "kbcored"
	flushTimeout = 5 * time.Second
)

// Config holds the configuration for Sentry initialization.
type Config struct {
	DSN              string
	Environment      string
	TracesSampleRate float64
	Debug            bool
	Logger           *zap.Logger
}

// Init initializes Sentry and returns a flush func. An empty DSN or a failed
// init yields a no-op flush so the daemon keeps running untraced.
func Init(cfg Config) (func(), error) {
	log := logger.OrNop(cfg.Logger)
	if cfg.DSN == "" {
		return func() {}, nil
	}
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if cfg.TracesSampleRate <= 0 {
		cfg.TracesSampleRate = 1.0
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              cfg.DSN,
		Environment:      cfg.Environment,
		EnableTracing:    true,
		TracesSampleRate: cfg.TracesSampleRate,
		Debug:            cfg.Debug,
		ServerName:       serverName,
		TracesSampler:    sampler(cfg.TracesSampleRate),
	})
	if err != nil {
		log.Warn("sentry init failed, continuing without tracing", zap.Error(err))
		return func() {}, nil
	}

	log.Info("sentry tracing initialized",
		zap.String("environment", cfg.Environment),
		zap.Float64("sample_rate", cfg.TracesSampleRate),
	)
	return func() { sentry.Flush(flushTimeout) }, nil
}

// sampler drops health and metrics scrapes and keeps child spans consistent with their parent.
func sampler(rate float64) sentry.TracesSampler {
	return func(ctx sentry.SamplingContext) float64 {
		switch ctx.Span.Name {
		case "GET /health", "GET /metrics":
			return 0
		}
		var none sentry.SpanID
		if ctx.Span.ParentSpanID != none {
			if ctx.Span.Sampled.Bool() {
				return 1
			}
			return 0
		}
		return rate
	}
}

// SpanAttributes are the tags kbcore attaches to service spans. Zero values are skipped.
type SpanAttributes struct {
	EntryID    int64
	SourceType string
	Operation  string
}

type Span struct {
	inner *sentry.Span
}

func (s *Span) End() {
	if s.inner != nil {
		s.inner.Finish()
	}
}

// SetError records err on the span. Only storage failures and unclassified
// errors are reported to Sentry; caller mistakes only set the span status.
func (s *Span) SetError(err error) {
	if s.inner == nil || err == nil {
		return
	}
	s.inner.Status = StatusOf(err)
	if s.inner.Status == sentry.SpanStatusInternalError {
		CaptureError(s.inner.Context(), err)
	}
}

// StatusOf maps a domain error code to a span status.
func StatusOf(err error) sentry.SpanStatus {
	switch domain.CodeOf(err) {
	case domain.ErrCodeInvalidInput, domain.ErrCodeNoOp:
		return sentry.SpanStatusInvalidArgument
	case domain.ErrCodeValidation:
		return sentry.SpanStatusFailedPrecondition
	case domain.ErrCodeNotFound:
		return sentry.SpanStatusNotFound
	case domain.ErrCodeEmbeddingUnavailable:
		return sentry.SpanStatusUnavailable
	default:
		return sentry.SpanStatusInternalError
	}
}

// StartSpan opens a child of the span in ctx, or a new transaction when there is none.
func StartSpan(ctx context.Context, name string, attrs SpanAttributes) (context.Context, *Span) {
	var span *sentry.Span
	if parent := sentry.SpanFromContext(ctx); parent != nil {
		span = parent.StartChild(name)
	} else {
		span = sentry.StartSpan(ctx, name, sentry.WithTransactionName(name))
	}

	if attrs.EntryID > 0 {
		span.SetTag("entry_id", strconv.FormatInt(attrs.EntryID, 10))
	}
	if attrs.SourceType != "" {
		span.SetTag("source_type", attrs.SourceType)
	}
	if attrs.Operation != "" {
		span.SetData("operation", attrs.Operation)
	}

	return span.Context(), &Span{inner: span}
}

func CaptureError(ctx context.Context, err error) {
	if hub := sentry.GetHubFromContext(ctx); hub != nil {
		hub.CaptureException(err)
		return
	}
	sentry.CaptureException(err)
}

// ChunkFailed leaves a breadcrumb for a chunk that could not be stored so a
// later captured error shows which chunks of the run were lost.
func ChunkFailed(ctx context.Context, parentID int64, index int, runID string, err error) {
	crumb := &sentry.Breadcrumb{
		Type:     "error",
		Category: "ingest",
		Message:  "chunk " + strconv.Itoa(index) + " of entry " + strconv.FormatInt(parentID, 10) + " failed",
		Data: map[string]interface{}{
			"ingest_run_id": runID,
			"error":         err.Error(),
		},
		Level:     sentry.LevelWarning,
		Timestamp: time.Now(),
	}
	if hub := sentry.GetHubFromContext(ctx); hub != nil {
		hub.AddBreadcrumb(crumb, nil)
		return
	}
	sentry.AddBreadcrumb(crumb)
}
