package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/cloo-solutions/kbcore/internal/domain"
	"github.com/cloo-solutions/kbcore/internal/service"
)

const chunkColumns = `id, parent_id, source_type, chunk_index, content, embedding, metadata, created_at`

// ChunkRepository handles persistence of knowledge chunks.
type ChunkRepository struct {
	db dbtx
}

var _ service.ChunkRepository = (*ChunkRepository)(nil)

func NewChunkRepository(pool *pgxpool.Pool) *ChunkRepository {
	return &ChunkRepository{db: pool}
}

func (r *ChunkRepository) Create(ctx context.Context, c *domain.KnowledgeChunk) (int64, error) {
	metadata, err := marshalMetadata(c.Metadata)
	if err != nil {
		return 0, domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "metadata is not JSON serializable", err)
	}

	var id int64
	err = r.db.QueryRow(ctx,
		`INSERT INTO knowledge_chunks (parent_id, source_type, chunk_index, content, embedding, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id`,
		c.ParentID, c.SourceType, c.ChunkIndex, c.Content, pgvector.NewVector(c.Embedding), metadata, c.CreatedAt,
	).Scan(&id)
	if err != nil {
		switch pgErrorCode(err) {
		case pgForeignKeyViolation:
			return 0, domain.ErrEntryNotFound
		case pgUniqueViolation:
			return 0, domain.ErrDuplicateChunkIndex
		case pgCheckViolation:
			return 0, domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "knowledge chunk violates a constraint", err)
		}
		return 0, err
	}
	c.ID = id
	return id, nil
}

func (r *ChunkRepository) ListByParent(ctx context.Context, parentID int64) ([]*domain.KnowledgeChunk, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+chunkColumns+`
		 FROM knowledge_chunks
		 WHERE parent_id = $1
		 ORDER BY chunk_index`,
		parentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanChunkRows(rows)
}

func (r *ChunkRepository) DeleteByParent(ctx context.Context, parentID int64) (int64, error) {
	cmdTag, err := r.db.Exec(ctx,
		`DELETE FROM knowledge_chunks WHERE parent_id = $1`,
		parentID,
	)
	if err != nil {
		return 0, err
	}
	return cmdTag.RowsAffected(), nil
}

// NearestChunks orders by pgvector cosine distance. No ANN index is used.
func (r *ChunkRepository) NearestChunks(ctx context.Context, query []float32, filter service.CandidateFilter) ([]*domain.KnowledgeChunk, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = service.DefaultSearchLimit
	}

	rows, err := r.db.Query(ctx,
		`SELECT `+chunkColumns+`
		 FROM knowledge_chunks
		 WHERE ($2 = '' OR source_type = $2)
		 ORDER BY embedding <=> $1, id
		 LIMIT $3`,
		pgvector.NewVector(query), string(filter.SourceType), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanChunkRows(rows)
}

func scanChunkRows(rows pgx.Rows) ([]*domain.KnowledgeChunk, error) {
	results := make([]*domain.KnowledgeChunk, 0)
	for rows.Next() {
		var c domain.KnowledgeChunk
		var embedding pgvector.Vector
		var metadata []byte
		if err := rows.Scan(&c.ID, &c.ParentID, &c.SourceType, &c.ChunkIndex, &c.Content, &embedding, &metadata, &c.CreatedAt); err != nil {
			return nil, err
		}
		c.Embedding = embedding.Slice()

		m, err := unmarshalMetadata(metadata)
		if err != nil {
			return nil, fmt.Errorf("decode metadata of chunk %d: %w", c.ID, err)
		}
		c.Metadata = m
		results = append(results, &c)
	}
	return results, rows.Err()
}
