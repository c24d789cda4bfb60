package domain

import (
	"errors"
	"fmt"
)

// ErrorCode classifies a DomainError. The set is closed.
type ErrorCode string

const (
	ErrCodeInvalidInput         ErrorCode = "INVALID_INPUT"
	ErrCodeEmbeddingUnavailable ErrorCode = "EMBEDDING_UNAVAILABLE"
	ErrCodeNotFound             ErrorCode = "NOT_FOUND"
	ErrCodeValidation           ErrorCode = "VALIDATION_ERROR"
	ErrCodeStorage              ErrorCode = "STORAGE_ERROR"
	ErrCodeNoOp                 ErrorCode = "NO_OP"
)

// DomainError represents a domain-specific error
type DomainError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is reports whether target is a DomainError with the same code, so
// errors.Is(err, domain.ErrNotFound) holds for every not-found error.
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// NewDomainError creates a new DomainError
func NewDomainError(code ErrorCode, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     nil,
	}
}

// NewDomainErrorWithCause creates a new DomainError with an underlying cause
func NewDomainErrorWithCause(code ErrorCode, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// CodeOf returns the code of the first DomainError in err's chain, or "" if there is none.
func CodeOf(err error) ErrorCode {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ""
}

// Error kinds. Match with errors.Is.
var (
	ErrInvalidInput         = NewDomainError(ErrCodeInvalidInput, "invalid input")
	ErrEmbeddingUnavailable = NewDomainError(ErrCodeEmbeddingUnavailable, "embedding unavailable")
	ErrNotFound             = NewDomainError(ErrCodeNotFound, "not found")
	ErrValidation           = NewDomainError(ErrCodeValidation, "validation failed")
	ErrStorage              = NewDomainError(ErrCodeStorage, "storage failure")
	ErrNoOp                 = NewDomainError(ErrCodeNoOp, "nothing to update")
)

// Not found errors
var (
	ErrEntryNotFound = NewDomainError(ErrCodeNotFound, "knowledge entry not found")
)

// Validation errors
var (
	ErrInvalidSourceType   = NewDomainError(ErrCodeValidation, "invalid source type")
	ErrContentTooLong      = NewDomainError(ErrCodeValidation, "content exceeds maximum length")
	ErrInvalidEmbedding    = NewDomainError(ErrCodeValidation, "invalid embedding")
	ErrDuplicateChunkIndex = NewDomainError(ErrCodeValidation, "chunk index already exists for parent")
)

// Validationf builds a VALIDATION_ERROR with a formatted message.
func Validationf(format string, args ...any) *DomainError {
	return NewDomainError(ErrCodeValidation, fmt.Sprintf(format, args...))
}

// InvalidInputf builds an INVALID_INPUT error with a formatted message.
func InvalidInputf(format string, args ...any) *DomainError {
	return NewDomainError(ErrCodeInvalidInput, fmt.Sprintf(format, args...))
}

// StorageFailure wraps a persistence error unless it already carries a domain code.
func StorageFailure(op string, err error) error {
	if err == nil {
		return nil
	}
	if CodeOf(err) != "" {
		return err
	}
	return NewDomainErrorWithCause(ErrCodeStorage, op, err)
}

// EmbeddingFailure wraps a provider error as EMBEDDING_UNAVAILABLE.
func EmbeddingFailure(message string, err error) error {
	return NewDomainErrorWithCause(ErrCodeEmbeddingUnavailable, message, err)
}
