package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/cloo-solutions/kbcore/internal/api"
	"github.com/cloo-solutions/kbcore/internal/domain"
	"github.com/cloo-solutions/kbcore/internal/service"
)

type KnowledgeService interface {
	GetEntry(ctx context.Context, id int64) (*domain.KnowledgeEntry, error)
	UpdateEntry(ctx context.Context, input service.UpdateEntryInput) (int64, error)
	DeleteEntry(ctx context.Context, id int64) (int64, error)
	ListEntries(ctx context.Context, input service.ListEntriesInput) (*service.EntryPage, error)
	ListChunks(ctx context.Context, parentID int64) ([]*domain.KnowledgeChunk, error)
}

type IngestionService interface {
	IngestDocument(ctx context.Context, input service.DocumentInput) (*service.DocumentResult, error)
	Reingest(ctx context.Context, parentID int64, text string) (*service.IngestResult, error)
}

type Embedder interface {
	GenerateEmbedding(ctx context.Context, text string) (string, error)
}

type KnowledgeHandler struct {
	svc      KnowledgeService
	ingest   IngestionService
	embedder Embedder
}

func NewKnowledgeHandler(svc KnowledgeService, ingest IngestionService, embedder Embedder) *KnowledgeHandler {
	return &KnowledgeHandler{svc: svc, ingest: ingest, embedder: embedder}
}

type CreateEntryRequest struct {
	Title      string          `json:"title"`
	SourceType string          `json:"source_type"`
	Content    string          `json:"content"`
	Metadata   domain.Metadata `json:"metadata"`
}

// UpdateEntryRequest carries optional fields. Reembed derives a new embedding from Content.
type UpdateEntryRequest struct {
	Title     *string         `json:"title"`
	Content   *string         `json:"content"`
	Embedding *string         `json:"embedding"`
	Metadata  domain.Metadata `json:"metadata"`
	Reembed   bool            `json:"reembed"`
}

type ReingestRequest struct {
	Text string `json:"text"`
}

type EntryResponse struct {
	ID         int64           `json:"id"`
	Title      string          `json:"title"`
	SourceType string          `json:"source_type"`
	Content    string          `json:"content"`
	Metadata   domain.Metadata `json:"metadata"`
	Dimensions int             `json:"dimensions"`
	CreatedAt  string          `json:"created_at"`
}

type ChunkResponse struct {
	ID         int64           `json:"id"`
	ParentID   int64           `json:"parent_id"`
	ChunkIndex int             `json:"chunk_index"`
	SourceType string          `json:"source_type"`
	Content    string          `json:"content"`
	Metadata   domain.Metadata `json:"metadata"`
	CreatedAt  string          `json:"created_at"`
}

type ChunkFailureResponse struct {
	Index int    `json:"index"`
	Error string `json:"error"`
}

type IngestResponse struct {
	EntryID  int64                  `json:"entry_id,omitempty"`
	RunID    string                 `json:"run_id"`
	Total    int                    `json:"total"`
	Stored   int                    `json:"stored"`
	Failures []ChunkFailureResponse `json:"failures"`
}

// PartialCreateResponse is returned when the entry was stored but chunking it failed.
type PartialCreateResponse struct {
	api.ErrorResponse
	EntryID int64 `json:"entry_id"`
}

type EntryListResponse struct {
	Items   []*EntryResponse `json:"items"`
	Cursor  string           `json:"cursor,omitempty"`
	HasMore bool             `json:"has_more"`
}

func entryToResponse(e *domain.KnowledgeEntry) *EntryResponse {
	return &EntryResponse{
		ID:         e.ID,
		Title:      e.Title,
		SourceType: string(e.SourceType),
		Content:    e.Content,
		Metadata:   e.Metadata,
		Dimensions: len(e.Embedding),
		CreatedAt:  e.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func chunkToResponse(c *domain.KnowledgeChunk) *ChunkResponse {
	return &ChunkResponse{
		ID:         c.ID,
		ParentID:   c.ParentID,
		ChunkIndex: c.ChunkIndex,
		SourceType: string(c.SourceType),
		Content:    c.Content,
		Metadata:   c.Metadata,
		CreatedAt:  c.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func ingestToResponse(entryID int64, r *service.IngestResult) *IngestResponse {
	failures := make([]ChunkFailureResponse, len(r.Failures))
	for i, f := range r.Failures {
		failures[i] = ChunkFailureResponse{Index: f.Index, Error: f.Err.Error()}
	}
	return &IngestResponse{
		EntryID:  entryID,
		RunID:    r.RunID,
		Total:    r.Total,
		Stored:   r.Stored,
		Failures: failures,
	}
}

// Create ingests a whole document: the entry plus its chunks.
func (h *KnowledgeHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if req.Title == "" {
		api.Error(w, http.StatusBadRequest, "title is required")
		return
	}
	if req.Content == "" {
		api.Error(w, http.StatusBadRequest, "content is required")
		return
	}
	if req.SourceType == "" {
		api.Error(w, http.StatusBadRequest, "source_type is required")
		return
	}

	result, err := h.ingest.IngestDocument(r.Context(), service.DocumentInput{
		Title:      req.Title,
		SourceType: req.SourceType,
		Content:    req.Content,
		Metadata:   req.Metadata,
	})
	if err != nil {
		if result != nil && result.EntryID > 0 {
			status, body := api.ErrorBody(err)
			api.JSON(w, status, PartialCreateResponse{ErrorResponse: body, EntryID: result.EntryID})
			return
		}
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusCreated, ingestToResponse(result.EntryID, result.Ingest))
}

func (h *KnowledgeHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := entryID(w, r)
	if !ok {
		return
	}

	entry, err := h.svc.GetEntry(r.Context(), id)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, entryToResponse(entry))
}

func (h *KnowledgeHandler) Update(w http.ResponseWriter, r *http.Request) {
	id, ok := entryID(w, r)
	if !ok {
		return
	}

	var req UpdateEntryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	input := service.UpdateEntryInput{
		ID:        id,
		Title:     req.Title,
		Content:   req.Content,
		Embedding: req.Embedding,
		Metadata:  req.Metadata,
	}

	if req.Reembed {
		if req.Embedding != nil {
			api.Error(w, http.StatusBadRequest, "embedding and reembed are mutually exclusive")
			return
		}
		if req.Content == nil || *req.Content == "" {
			api.Error(w, http.StatusBadRequest, "content is required when reembed is set")
			return
		}
		if _, err := h.svc.GetEntry(r.Context(), id); err != nil {
			api.HandleError(w, err)
			return
		}
		embedding, err := h.embedder.GenerateEmbedding(r.Context(), *req.Content)
		if err != nil {
			api.HandleError(w, err)
			return
		}
		input.Embedding = &embedding
	}

	updated, err := h.svc.UpdateEntry(r.Context(), input)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, map[string]int64{"updated": updated})
}

func (h *KnowledgeHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id, ok := entryID(w, r)
	if !ok {
		return
	}

	deleted, err := h.svc.DeleteEntry(r.Context(), id)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, map[string]int64{"deleted": deleted})
}

func (h *KnowledgeHandler) List(w http.ResponseWriter, r *http.Request) {
	cursor := r.URL.Query().Get("cursor")
	limitStr := r.URL.Query().Get("limit")
	limit := 0
	if limitStr != "" {
		if parsed, err := strconv.Atoi(limitStr); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	page, err := h.svc.ListEntries(r.Context(), service.ListEntriesInput{
		Cursor: cursor,
		Limit:  limit,
	})
	if err != nil {
		api.HandleError(w, err)
		return
	}

	responses := make([]*EntryResponse, len(page.Items))
	for i, e := range page.Items {
		responses[i] = entryToResponse(e)
	}

	api.Success(w, http.StatusOK, EntryListResponse{
		Items:   responses,
		Cursor:  page.NextCursor,
		HasMore: page.HasMore,
	})
}

func (h *KnowledgeHandler) ListChunks(w http.ResponseWriter, r *http.Request) {
	id, ok := entryID(w, r)
	if !ok {
		return
	}

	chunks, err := h.svc.ListChunks(r.Context(), id)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	responses := make([]*ChunkResponse, len(chunks))
	for i, c := range chunks {
		responses[i] = chunkToResponse(c)
	}

	api.Success(w, http.StatusOK, responses)
}

// Reingest replaces the entry's chunks. An empty body re-chunks the stored content.
func (h *KnowledgeHandler) Reingest(w http.ResponseWriter, r *http.Request) {
	id, ok := entryID(w, r)
	if !ok {
		return
	}

	var req ReingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		api.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}

	result, err := h.ingest.Reingest(r.Context(), id, req.Text)
	if err != nil {
		api.HandleError(w, err)
		return
	}

	api.Success(w, http.StatusOK, ingestToResponse(id, result))
}

func entryID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := chi.URLParam(r, "id")
	if raw == "" {
		api.Error(w, http.StatusBadRequest, "id is required")
		return 0, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		api.Error(w, http.StatusBadRequest, "id must be a positive integer")
		return 0, false
	}
	return id, true
}
