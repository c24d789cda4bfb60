package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/cloo-solutions/kbcore/internal/domain"
	"github.com/cloo-solutions/kbcore/internal/pagination"
	"github.com/cloo-solutions/kbcore/internal/service"
)

const entryColumns = `id, title, source_type, content, embedding, metadata, created_at`

type EntryRepository struct {
	db dbtx
}

var _ service.EntryRepository = (*EntryRepository)(nil)

func NewEntryRepository(pool *pgxpool.Pool) *EntryRepository {
	return &EntryRepository{db: pool}
}

func (r *EntryRepository) Create(ctx context.Context, e *domain.KnowledgeEntry) (int64, error) {
	metadata, err := marshalMetadata(e.Metadata)
	if err != nil {
		return 0, domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "metadata is not JSON serializable", err)
	}

	var id int64
	err = r.db.QueryRow(ctx,
		`INSERT INTO knowledge_entries (title, source_type, content, embedding, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 RETURNING id`,
		e.Title, e.SourceType, e.Content, pgvector.NewVector(e.Embedding), metadata, e.CreatedAt,
	).Scan(&id)
	if err != nil {
		if pgErrorCode(err) == pgCheckViolation {
			return 0, domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "knowledge entry violates a constraint", err)
		}
		return 0, err
	}
	e.ID = id
	return id, nil
}

func (r *EntryRepository) GetByID(ctx context.Context, id int64) (*domain.KnowledgeEntry, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+entryColumns+` FROM knowledge_entries WHERE id = $1`,
		id,
	)
	e, err := scanEntry(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrEntryNotFound
		}
		return nil, err
	}
	return e, nil
}

func (r *EntryRepository) Exists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM knowledge_entries WHERE id = $1)`,
		id,
	).Scan(&exists)
	return exists, err
}

// UpdateFields writes only the columns present in fields.
func (r *EntryRepository) UpdateFields(ctx context.Context, id int64, fields service.EntryFields) (int64, error) {
	sets := make([]string, 0, 4)
	args := make([]any, 0, 5)
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if fields.Title != nil {
		add("title", *fields.Title)
	}
	if fields.Content != nil {
		add("content", *fields.Content)
	}
	if len(fields.Embedding) > 0 {
		add("embedding", pgvector.NewVector(fields.Embedding))
	}
	if len(fields.Metadata) > 0 {
		metadata, err := marshalMetadata(fields.Metadata)
		if err != nil {
			return 0, domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "metadata is not JSON serializable", err)
		}
		add("metadata", metadata)
	}
	if len(sets) == 0 {
		return 0, domain.ErrNoOp
	}

	args = append(args, id)
	query := fmt.Sprintf(`UPDATE knowledge_entries SET %s WHERE id = $%d`, strings.Join(sets, ", "), len(args))

	cmdTag, err := r.db.Exec(ctx, query, args...)
	if err != nil {
		if pgErrorCode(err) == pgCheckViolation {
			return 0, domain.NewDomainErrorWithCause(domain.ErrCodeValidation, "knowledge entry violates a constraint", err)
		}
		return 0, err
	}
	return cmdTag.RowsAffected(), nil
}

// Delete removes the entry. The foreign key cascades to its chunks.
func (r *EntryRepository) Delete(ctx context.Context, id int64) (int64, error) {
	cmdTag, err := r.db.Exec(ctx,
		`DELETE FROM knowledge_entries WHERE id = $1`,
		id,
	)
	if err != nil {
		return 0, err
	}
	return cmdTag.RowsAffected(), nil
}

func (r *EntryRepository) List(ctx context.Context, cursor *pagination.Cursor, limit int) (*service.EntryPage, error) {
	if limit <= 0 {
		limit = pagination.DefaultLimit
	}

	var rows pgx.Rows
	var err error

	if cursor != nil {
		rows, err = r.db.Query(ctx,
			`SELECT `+entryColumns+`
			 FROM knowledge_entries
			 WHERE (created_at, id) < ($1, $2)
			 ORDER BY created_at DESC, id DESC
			 LIMIT $3`,
			cursor.Timestamp, cursor.LastID, limit+1,
		)
	} else {
		rows, err = r.db.Query(ctx,
			`SELECT `+entryColumns+`
			 FROM knowledge_entries
			 ORDER BY created_at DESC, id DESC
			 LIMIT $1`,
			limit+1,
		)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items, err := scanEntryRows(rows)
	if err != nil {
		return nil, err
	}

	items, nextCursor, hasMore := pagination.Trim(items, limit, entryKey)

	return &service.EntryPage{
		Items:      items,
		NextCursor: nextCursor,
		HasMore:    hasMore,
	}, nil
}

func entryKey(e *domain.KnowledgeEntry) (int64, time.Time) {
	return e.ID, e.CreatedAt
}

// NearestEntries orders by pgvector cosine distance. No ANN index is used.
func (r *EntryRepository) NearestEntries(ctx context.Context, query []float32, filter service.CandidateFilter) ([]*domain.KnowledgeEntry, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = service.DefaultSearchLimit
	}

	rows, err := r.db.Query(ctx,
		`SELECT `+entryColumns+`
		 FROM knowledge_entries
		 WHERE ($2 = '' OR source_type = $2)
		 ORDER BY embedding <=> $1, id
		 LIMIT $3`,
		pgvector.NewVector(query), string(filter.SourceType), limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanEntryRows(rows)
}

func scanEntry(row pgx.Row) (*domain.KnowledgeEntry, error) {
	var e domain.KnowledgeEntry
	var embedding pgvector.Vector
	var metadata []byte
	if err := row.Scan(&e.ID, &e.Title, &e.SourceType, &e.Content, &embedding, &metadata, &e.CreatedAt); err != nil {
		return nil, err
	}
	e.Embedding = embedding.Slice()

	m, err := unmarshalMetadata(metadata)
	if err != nil {
		return nil, fmt.Errorf("decode metadata of entry %d: %w", e.ID, err)
	}
	e.Metadata = m
	return &e, nil
}

func scanEntryRows(rows pgx.Rows) ([]*domain.KnowledgeEntry, error) {
	results := make([]*domain.KnowledgeEntry, 0)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, e)
	}
	return results, rows.Err()
}
