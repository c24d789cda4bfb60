// Package memory holds knowledge entries and chunks in process memory.
// Search is a brute-force cosine scan.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cloo-solutions/kbcore/internal/domain"
	"github.com/cloo-solutions/kbcore/internal/pagination"
	"github.com/cloo-solutions/kbcore/internal/service"
	"github.com/cloo-solutions/kbcore/internal/vector"
)

type chunkKey struct {
	parentID int64
	index    int
}

// Store is the shared state behind EntryRepository and ChunkRepository.
type Store struct {
	mu          sync.RWMutex
	nextEntryID int64
	nextChunkID int64
	entries     map[int64]*domain.KnowledgeEntry
	chunks      map[int64]*domain.KnowledgeChunk
	chunkIndex  map[chunkKey]int64
}

func NewStore() *Store {
	return &Store{
		entries:    make(map[int64]*domain.KnowledgeEntry),
		chunks:     make(map[int64]*domain.KnowledgeChunk),
		chunkIndex: make(map[chunkKey]int64),
	}
}

// Entries returns the entry repository view of the store.
func (s *Store) Entries() *EntryRepository {
	return &EntryRepository{store: s}
}

// Chunks returns the chunk repository view of the store.
func (s *Store) Chunks() *ChunkRepository {
	return &ChunkRepository{store: s}
}

type EntryRepository struct {
	store *Store
}

var _ service.EntryRepository = (*EntryRepository)(nil)

func (r *EntryRepository) Create(ctx context.Context, e *domain.KnowledgeEntry) (int64, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextEntryID++
	stored := copyEntry(e)
	stored.ID = s.nextEntryID
	s.entries[stored.ID] = stored
	e.ID = stored.ID
	return stored.ID, nil
}

func (r *EntryRepository) GetByID(ctx context.Context, id int64) (*domain.KnowledgeEntry, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[id]
	if !ok {
		return nil, domain.ErrEntryNotFound
	}
	return copyEntry(e), nil
}

func (r *EntryRepository) Exists(ctx context.Context, id int64) (bool, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.entries[id]
	return ok, nil
}

func (r *EntryRepository) UpdateFields(ctx context.Context, id int64, fields service.EntryFields) (int64, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[id]
	if !ok {
		return 0, nil
	}
	if fields.Title != nil {
		e.Title = *fields.Title
	}
	if fields.Content != nil {
		e.Content = *fields.Content
	}
	if len(fields.Embedding) > 0 {
		e.Embedding = append([]float32(nil), fields.Embedding...)
	}
	if len(fields.Metadata) > 0 {
		e.Metadata = fields.Metadata.Clone()
	}
	return 1, nil
}

// Delete removes the entry only. Chunks are left for ChunkRepository.DeleteByParent.
func (r *EntryRepository) Delete(ctx context.Context, id int64) (int64, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[id]; !ok {
		return 0, nil
	}
	delete(s.entries, id)
	return 1, nil
}

func (r *EntryRepository) List(ctx context.Context, cursor *pagination.Cursor, limit int) (*service.EntryPage, error) {
	if limit <= 0 {
		limit = pagination.DefaultLimit
	}
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]*domain.KnowledgeEntry, 0, len(s.entries))
	for _, e := range s.entries {
		if cursor.Before(e.CreatedAt, e.ID) {
			items = append(items, e)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].ID > items[j].ID
		}
		return items[i].CreatedAt.After(items[j].CreatedAt)
	})

	items, next, hasMore := pagination.Trim(items, limit, func(e *domain.KnowledgeEntry) (int64, time.Time) {
		return e.ID, e.CreatedAt
	})

	page := &service.EntryPage{
		Items:      make([]*domain.KnowledgeEntry, 0, len(items)),
		NextCursor: next,
		HasMore:    hasMore,
	}
	for _, e := range items {
		page.Items = append(page.Items, copyEntry(e))
	}
	return page, nil
}

func (r *EntryRepository) NearestEntries(ctx context.Context, query []float32, filter service.CandidateFilter) ([]*domain.KnowledgeEntry, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	type scored struct {
		e     *domain.KnowledgeEntry
		score float64
	}
	candidates := make([]scored, 0, len(s.entries))
	for _, e := range s.entries {
		if filter.SourceType != "" && e.SourceType != filter.SourceType {
			continue
		}
		candidates = append(candidates, scored{e: e, score: vector.CosineSimilarity(query, e.Embedding)})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score == candidates[j].score {
			return candidates[i].e.ID < candidates[j].e.ID
		}
		return candidates[i].score > candidates[j].score
	})

	n := topN(filter.Limit, len(candidates))
	out := make([]*domain.KnowledgeEntry, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, copyEntry(candidates[i].e))
	}
	return out, nil
}

type ChunkRepository struct {
	store *Store
}

var _ service.ChunkRepository = (*ChunkRepository)(nil)

// Create enforces the parent reference and (parent_id, chunk_index) uniqueness.
func (r *ChunkRepository) Create(ctx context.Context, c *domain.KnowledgeChunk) (int64, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[c.ParentID]; !ok {
		return 0, domain.ErrEntryNotFound
	}
	key := chunkKey{parentID: c.ParentID, index: c.ChunkIndex}
	if _, dup := s.chunkIndex[key]; dup {
		return 0, domain.ErrDuplicateChunkIndex
	}

	s.nextChunkID++
	stored := copyChunk(c)
	stored.ID = s.nextChunkID
	s.chunks[stored.ID] = stored
	s.chunkIndex[key] = stored.ID
	c.ID = stored.ID
	return stored.ID, nil
}

func (r *ChunkRepository) ListByParent(ctx context.Context, parentID int64) ([]*domain.KnowledgeChunk, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.KnowledgeChunk, 0)
	for _, c := range s.chunks {
		if c.ParentID == parentID {
			out = append(out, copyChunk(c))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ChunkIndex < out[j].ChunkIndex })
	return out, nil
}

func (r *ChunkRepository) DeleteByParent(ctx context.Context, parentID int64) (int64, error) {
	s := r.store
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for id, c := range s.chunks {
		if c.ParentID != parentID {
			continue
		}
		delete(s.chunkIndex, chunkKey{parentID: c.ParentID, index: c.ChunkIndex})
		delete(s.chunks, id)
		removed++
	}
	return removed, nil
}

func (r *ChunkRepository) NearestChunks(ctx context.Context, query []float32, filter service.CandidateFilter) ([]*domain.KnowledgeChunk, error) {
	s := r.store
	s.mu.RLock()
	defer s.mu.RUnlock()

	type scored struct {
		c     *domain.KnowledgeChunk
		score float64
	}
	candidates := make([]scored, 0, len(s.chunks))
	for _, c := range s.chunks {
		if filter.SourceType != "" && c.SourceType != filter.SourceType {
			continue
		}
		candidates = append(candidates, scored{c: c, score: vector.CosineSimilarity(query, c.Embedding)})
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].score == candidates[j].score {
			return candidates[i].c.ID < candidates[j].c.ID
		}
		return candidates[i].score > candidates[j].score
	})

	n := topN(filter.Limit, len(candidates))
	out := make([]*domain.KnowledgeChunk, 0, n)
	for i := 0; i < n; i++ {
		out = append(out, copyChunk(candidates[i].c))
	}
	return out, nil
}

// topN is the number of candidates to return; limit <= 0 means all.
func topN(limit, available int) int {
	if limit <= 0 || limit > available {
		return available
	}
	return limit
}

func copyEntry(e *domain.KnowledgeEntry) *domain.KnowledgeEntry {
	cp := *e
	cp.Embedding = append([]float32(nil), e.Embedding...)
	cp.Metadata = e.Metadata.Clone()
	return &cp
}

func copyChunk(c *domain.KnowledgeChunk) *domain.KnowledgeChunk {
	cp := *c
	cp.Embedding = append([]float32(nil), c.Embedding...)
	cp.Metadata = c.Metadata.Clone()
	return &cp
}
