package domain

import (
	"time"

	"github.com/cloo-solutions/kbcore/internal/vector"
)

// MaxContentBytes is the storage ceiling for entry content.
const MaxContentBytes = 65535

// UnitNormTolerance bounds how far a stored embedding's norm may drift from 1.
const UnitNormTolerance = 1e-3

// SourceType identifies where a knowledge entry came from
type SourceType string

const (
	SourceTypeQnA     SourceType = "qna"
	SourceTypeFile    SourceType = "file"
	SourceTypeText    SourceType = "text"
	SourceTypeWebsite SourceType = "website"
)

// SourceTypes lists every accepted SourceType.
func SourceTypes() []SourceType {
	return []SourceType{SourceTypeQnA, SourceTypeFile, SourceTypeText, SourceTypeWebsite}
}

// ParseSourceType converts s to a SourceType, rejecting unknown values.
func ParseSourceType(s string) (SourceType, error) {
	t := SourceType(s)
	if !t.Valid() {
		return "", NewDomainError(ErrCodeValidation, "invalid source type: "+s)
	}
	return t, nil
}

// Valid reports whether t is one of the closed set of source types.
func (t SourceType) Valid() bool {
	switch t {
	case SourceTypeQnA, SourceTypeFile, SourceTypeText, SourceTypeWebsite:
		return true
	}
	return false
}

// Metadata is the open key/value map attached to entries and chunks.
type Metadata map[string]any

// Clone returns a shallow copy of m. A nil map clones to an empty one.
func (m Metadata) Clone() Metadata {
	out := make(Metadata, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// KnowledgeEntry is the parent record from which chunks are derived
type KnowledgeEntry struct {
	ID         int64
	Title      string
	SourceType SourceType
	Content    string
	Embedding  []float32
	Metadata   Metadata
	CreatedAt  time.Time
}

// ValidateEntry validates a KnowledgeEntry before it is first stored.
func ValidateEntry(e *KnowledgeEntry) error {
	if e == nil {
		return Validationf("knowledge entry cannot be nil")
	}

	if e.Title == "" {
		return Validationf("knowledge entry Title is required")
	}

	if !e.SourceType.Valid() {
		return Validationf("knowledge entry SourceType is invalid: %s", e.SourceType)
	}

	if err := ValidateContent(e.Content); err != nil {
		return err
	}

	return ValidateEmbedding(e.Embedding)
}

// ValidateContent checks that content is present and within MaxContentBytes.
func ValidateContent(content string) error {
	if content == "" {
		return Validationf("knowledge entry Content is required")
	}
	if len(content) > MaxContentBytes {
		return ErrContentTooLong
	}
	return nil
}

// ValidateEmbedding checks that v is a finite unit vector.
func ValidateEmbedding(v []float32) error {
	if !vector.Valid(v) {
		return ErrInvalidEmbedding
	}
	if !vector.IsUnit(v, UnitNormTolerance) {
		return Validationf("embedding is not a unit vector")
	}
	return nil
}

// ParseEmbedding decodes the serialized form of an embedding and validates it.
func ParseEmbedding(serialized string) ([]float32, error) {
	if serialized == "" {
		return nil, Validationf("embedding is required")
	}
	v, err := vector.Decode(serialized)
	if err != nil {
		return nil, NewDomainErrorWithCause(ErrCodeValidation, "invalid embedding", err)
	}
	if err := ValidateEmbedding(v); err != nil {
		return nil, err
	}
	return v, nil
}
