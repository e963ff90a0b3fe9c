package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Sentinel errors for common error conditions.
var (
	// ErrNotFound indicates that a requested entity was not found.
	ErrNotFound = errors.New("not found")

	// ErrInvalidInput indicates that the input data is invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrRateLimited indicates that the request was rate limited.
	ErrRateLimited = errors.New("rate limited")

	// ErrServiceUnavailable indicates that an external service is unavailable.
	ErrServiceUnavailable = errors.New("service unavailable")

	// ErrMalformedMessage indicates that a queue message body could not be decoded.
	ErrMalformedMessage = errors.New("malformed message")

	// ErrPersistence indicates that a write to the book store failed.
	ErrPersistence = errors.New("persistence failure")

	// ErrEnqueue indicates that a validated request could not be handed to the queue.
	ErrEnqueue = errors.New("enqueue failure")
)

// ValidationError represents a validation error for a specific field.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// FieldError is one entry of a request validation report.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// FieldErrors is the ordered list of every violated field in a request.
type FieldErrors []FieldError

// Error implements the error interface.
func (e FieldErrors) Error() string {
	parts := make([]string, len(e))
	for i, fe := range e {
		parts[i] = fe.Field + ": " + fe.Message
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e FieldErrors) Unwrap() error {
	return ErrInvalidInput
}

// Fields returns the names of the violated fields in report order.
func (e FieldErrors) Fields() []string {
	fields := make([]string, len(e))
	for i, fe := range e {
		fields[i] = fe.Field
	}
	return fields
}

// NotFoundError provides details about a not found entity.
type NotFoundError struct {
	Entity string
	ID     string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Entity, e.ID)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *NotFoundError) Unwrap() error {
	return ErrNotFound
}

// RateLimitError provides details about a rate limit error.
type RateLimitError struct {
	Source     string
	RetryAfter time.Duration
}

// Error implements the error interface.
func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited by %s: retry after %s", e.Source, e.RetryAfter)
}

// Unwrap returns the underlying sentinel error for use with errors.Is.
func (e *RateLimitError) Unwrap() error {
	return ErrRateLimited
}

// ExternalAPIError provides details about an external API error.
type ExternalAPIError struct {
	Source     string
	StatusCode int
	Message    string
	Cause      error
}

// Error implements the error interface.
func (e *ExternalAPIError) Error() string {
	return fmt.Sprintf("%s API error (status %d): %s", e.Source, e.StatusCode, e.Message)
}

// Unwrap returns the underlying cause error.
func (e *ExternalAPIError) Unwrap() error {
	return e.Cause
}

// MalformedMessageError reports a queue message whose body is not a usable JSON object.
type MalformedMessageError struct {
	MessageID string
	Cause     error
}

// Error implements the error interface.
func (e *MalformedMessageError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("malformed message %s", e.MessageID)
	}
	return fmt.Sprintf("malformed message %s: %v", e.MessageID, e.Cause)
}

// Unwrap exposes both the sentinel and the decode cause.
func (e *MalformedMessageError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrMalformedMessage}
	}
	return []error{ErrMalformedMessage, e.Cause}
}

// PersistenceError reports a failed upsert of a persisted item.
type PersistenceError struct {
	Backend string
	PK      string
	Cause   error
}

// Error implements the error interface.
func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s write of %q failed: %v", e.Backend, e.PK, e.Cause)
}

// Unwrap exposes both the sentinel and the store cause.
func (e *PersistenceError) Unwrap() []error {
	if e.Cause == nil {
		return []error{ErrPersistence}
	}
	return []error{ErrPersistence, e.Cause}
}

// NewNotFoundError creates a new NotFoundError.
func NewNotFoundError(entity, id string) *NotFoundError {
	return &NotFoundError{
		Entity: entity,
		ID:     id,
	}
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// NewRateLimitError creates a new RateLimitError.
func NewRateLimitError(source string, retryAfter time.Duration) *RateLimitError {
	return &RateLimitError{
		Source:     source,
		RetryAfter: retryAfter,
	}
}

// NewExternalAPIError creates a new ExternalAPIError.
func NewExternalAPIError(source string, statusCode int, message string, cause error) *ExternalAPIError {
	return &ExternalAPIError{
		Source:     source,
		StatusCode: statusCode,
		Message:    message,
		Cause:      cause,
	}
}

// NewMalformedMessageError creates a new MalformedMessageError.
func NewMalformedMessageError(messageID string, cause error) *MalformedMessageError {
	return &MalformedMessageError{
		MessageID: messageID,
		Cause:     cause,
	}
}

// NewPersistenceError creates a new PersistenceError.
func NewPersistenceError(backend, pk string, cause error) *PersistenceError {
	return &PersistenceError{
		Backend: backend,
		PK:      pk,
		Cause:   cause,
	}
}
