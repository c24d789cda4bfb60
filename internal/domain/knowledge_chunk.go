package domain

import "time"

// KnowledgeChunk is a sentence-coherent segment of an entry, embedded on its own.
// Chunks are written once by ingestion and removed only with their parent.
type KnowledgeChunk struct {
	ID         int64
	ParentID   int64
	SourceType SourceType
	ChunkIndex int
	Content    string
	Embedding  []float32
	Metadata   Metadata
	CreatedAt  time.Time
}

// ValidateChunk validates a KnowledgeChunk before it is stored
func ValidateChunk(c *KnowledgeChunk) error {
	if c == nil {
		return Validationf("knowledge chunk cannot be nil")
	}

	if c.ParentID <= 0 {
		return Validationf("knowledge chunk ParentID must be greater than 0")
	}

	if !c.SourceType.Valid() {
		return Validationf("knowledge chunk SourceType is invalid: %s", c.SourceType)
	}

	if c.ChunkIndex < 0 {
		return Validationf("knowledge chunk ChunkIndex cannot be negative")
	}

	if c.Content == "" {
		return Validationf("knowledge chunk Content is required")
	}

	return ValidateEmbedding(c.Embedding)
}
