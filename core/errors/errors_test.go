package errors

import (
	"errors"
	"strings"
	"testing"
)

// TestNotFoundError tests NotFoundError formatting and unwrapping.
func TestNotFoundError(t *testing.T) {
	err := NewNotFound("fragment", "frag-123")

	if !strings.Contains(err.Error(), "fragment not found: frag-123") {
		t.Errorf("unexpected message: %s", err.Error())
	}

	if !errors.Is(err, ErrNotFound) {
		t.Error("should unwrap to ErrNotFound")
	}
}

// TestNotFoundErrorWithoutID tests NotFoundError with an empty ID.
func TestNotFoundErrorWithoutID(t *testing.T) {
	err := NewNotFound("highlight", "")

	if err.Error() != "highlight not found" {
		t.Errorf("unexpected message: %s", err.Error())
	}
}

// TestInvalidRangeError tests range error formatting and sentinel matching.
func TestInvalidRangeError(t *testing.T) {
	err := NewInvalidRange(10, 5, 100)

	if !errors.Is(err, ErrInvalidRange) {
		t.Error("should unwrap to ErrInvalidRange")
	}

	if !strings.Contains(err.Error(), "[10, 5)") {
		t.Errorf("message should contain the range: %s", err.Error())
	}

	var rangeErr *InvalidRangeError
	if !errors.As(err, &rangeErr) {
		t.Fatal("errors.As should match *InvalidRangeError")
	}
	if rangeErr.Length != 100 {
		t.Errorf("Length = %d, want 100", rangeErr.Length)
	}
}

// TestConflictError tests duplicate-span conflict errors.
func TestConflictError(t *testing.T) {
	err := NewConflict("owner-1", "frag-1", 3, 8)

	if !errors.Is(err, ErrConflict) {
		t.Error("should unwrap to ErrConflict")
	}

	var conflict *ConflictError
	if !errors.As(err, &conflict) {
		t.Fatal("errors.As should match *ConflictError")
	}
	if conflict.Start != 3 || conflict.End != 8 {
		t.Errorf("conflict range = [%d, %d), want [3, 8)", conflict.Start, conflict.End)
	}
}

// TestMismatchError tests that mismatch errors carry lengths, not content.
func TestMismatchError(t *testing.T) {
	err := NewMismatch("frag-9", 120, 118)

	if !errors.Is(err, ErrMismatch) {
		t.Error("should unwrap to ErrMismatch")
	}

	msg := err.Error()
	if !strings.Contains(msg, "frag-9") || !strings.Contains(msg, "120") || !strings.Contains(msg, "118") {
		t.Errorf("message should name fragment and lengths: %s", msg)
	}
}

// TestSelectionError tests selection resolution errors.
func TestSelectionError(t *testing.T) {
	err := NewSelection("collapsed selection")

	if !errors.Is(err, ErrSelection) {
		t.Error("should unwrap to ErrSelection")
	}
	if !strings.Contains(err.Error(), "collapsed selection") {
		t.Errorf("unexpected message: %s", err.Error())
	}
}

// TestValidationError tests validation errors unwrap to ErrInvalidInput.
func TestValidationError(t *testing.T) {
	err := NewValidation("color", "not in palette")

	if !errors.Is(err, ErrInvalidInput) {
		t.Error("should unwrap to ErrInvalidInput")
	}
}

// TestWrap tests the Wrap helper.
func TestWrap(t *testing.T) {
	if Wrap(nil, "context") != nil {
		t.Error("wrapping nil should return nil")
	}

	base := NewNotFound("fragment", "x")
	wrapped := Wrap(base, "loading highlights")
	if !errors.Is(wrapped, ErrNotFound) {
		t.Error("wrapped error should still match ErrNotFound")
	}
	if !strings.Contains(wrapped.Error(), "loading highlights") {
		t.Errorf("wrapped message should contain context: %s", wrapped.Error())
	}
}
