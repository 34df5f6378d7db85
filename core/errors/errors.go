// Package errors provides standardized error types and helpers for the marginalia codebase.
package errors

import (
	"errors"
	"fmt"
)

// Sentinel errors for common cases
var (
	// ErrNotFound indicates a resource was not found
	ErrNotFound = errors.New("not found")
	// ErrInvalidInput indicates invalid input or validation failure
	ErrInvalidInput = errors.New("invalid input")
	// ErrInvalidRange indicates a highlight range that is empty or out of bounds
	ErrInvalidRange = errors.New("invalid range")
	// ErrConflict indicates a duplicate exact span
	ErrConflict = errors.New("conflict")
	// ErrMismatch indicates recomputed canonical text disagrees with the stored value
	ErrMismatch = errors.New("canonicalization mismatch")
	// ErrSelection indicates a selection that cannot be resolved to offsets
	ErrSelection = errors.New("selection not usable")
)

// NotFoundError represents a resource not found error with context
type NotFoundError struct {
	Resource string // Type of resource (e.g., "fragment", "highlight")
	ID       string // Identifier of the resource
	Err      error  // Underlying error, if any
}

func (e *NotFoundError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
	}
	return fmt.Sprintf("%s not found", e.Resource)
}

func (e *NotFoundError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrNotFound
}

// ValidationError represents an input validation error with context
type ValidationError struct {
	Field   string // Field name that failed validation
	Message string // Human-readable error message
	Err     error  // Underlying error, if any
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

func (e *ValidationError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrInvalidInput
}

// InvalidRangeError reports a highlight range rejected against the canonical
// text it addresses. Ranges are half-open codepoint intervals [Start, End).
type InvalidRangeError struct {
	Start  int // Requested start offset
	End    int // Requested end offset
	Length int // Codepoint length of the canonical text
}

func (e *InvalidRangeError) Error() string {
	return fmt.Sprintf("invalid range [%d, %d) against canonical text of length %d", e.Start, e.End, e.Length)
}

func (e *InvalidRangeError) Unwrap() error {
	return ErrInvalidRange
}

// ConflictError reports an attempt to store a duplicate exact span.
type ConflictError struct {
	OwnerID    string
	FragmentID string
	Start      int
	End        int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("duplicate highlight [%d, %d) on fragment %s for owner %s", e.Start, e.End, e.FragmentID, e.OwnerID)
}

func (e *ConflictError) Unwrap() error {
	return ErrConflict
}

// CanonicalizationMismatchError is raised by the validation gate when freshly
// recomputed canonical text disagrees with the stored value. It carries lengths
// rather than content so the mismatch can be logged without dumping documents.
type CanonicalizationMismatchError struct {
	FragmentID    string
	StoredLen     int // Codepoint length of the stored canonical text
	RecomputedLen int // Codepoint length of the recomputed canonical text
}

func (e *CanonicalizationMismatchError) Error() string {
	return fmt.Sprintf("canonical text mismatch for fragment %s: stored %d codepoints, recomputed %d", e.FragmentID, e.StoredLen, e.RecomputedLen)
}

func (e *CanonicalizationMismatchError) Unwrap() error {
	return ErrMismatch
}

// SelectionResolutionError reports a user selection that could not be mapped
// to canonical offsets: a collapsed selection, a boundary node missing from
// the current node index, or a selection touching a disallowed region.
type SelectionResolutionError struct {
	Reason string
	Err    error // Underlying error, if any
}

func (e *SelectionResolutionError) Error() string {
	return fmt.Sprintf("selection not usable: %s", e.Reason)
}

func (e *SelectionResolutionError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrSelection
}

// NewNotFound creates a NotFoundError
func NewNotFound(resource, id string) *NotFoundError {
	return &NotFoundError{Resource: resource, ID: id}
}

// NewValidation creates a ValidationError
func NewValidation(field, message string) *ValidationError {
	return &ValidationError{Field: field, Message: message}
}

// NewInvalidRange creates an InvalidRangeError
func NewInvalidRange(start, end, length int) *InvalidRangeError {
	return &InvalidRangeError{Start: start, End: end, Length: length}
}

// NewConflict creates a ConflictError
func NewConflict(ownerID, fragmentID string, start, end int) *ConflictError {
	return &ConflictError{OwnerID: ownerID, FragmentID: fragmentID, Start: start, End: end}
}

// NewMismatch creates a CanonicalizationMismatchError
func NewMismatch(fragmentID string, storedLen, recomputedLen int) *CanonicalizationMismatchError {
	return &CanonicalizationMismatchError{FragmentID: fragmentID, StoredLen: storedLen, RecomputedLen: recomputedLen}
}

// NewSelection creates a SelectionResolutionError
func NewSelection(reason string) *SelectionResolutionError {
	return &SelectionResolutionError{Reason: reason}
}

// Wrap adds context to an error. If err is nil, returns nil.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Is wraps errors.Is for convenience
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As wraps errors.As for convenience
func As(err error, target interface{}) bool {
	return errors.As(err, target)
}
