// Package errors provides standardized error types and helpers for the
// Outliner codebase.
package errors

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for common cases
var (
	// ErrNotFound indicates a resource was not found
	ErrNotFound = errors.New("not found")
	// ErrInvariant indicates a mutation would violate a segment invariant
	ErrInvariant = errors.New("invariant violation")
	// ErrOutOfRange indicates a position or count outside valid bounds
	ErrOutOfRange = errors.New("out of range")
	// ErrInvalidInput indicates invalid input or a validation failure
	ErrInvalidInput = errors.New("invalid input")
	// ErrAlreadyExists indicates a resource already exists
	ErrAlreadyExists = errors.New("already exists")
	// ErrUnauthorized indicates insufficient permissions
	ErrUnauthorized = errors.New("unauthorized")
	// ErrInternal indicates an internal system error
	ErrInternal = errors.New("internal error")
)

// NotFoundError represents a resource not found error with context
type NotFoundError struct {
	Resource string // Type of resource (e.g., "document", "segment", "annotation")
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

// InvariantError reports a mutation that would break span contiguity,
// span non-overlap, or index ordering. It names the offending segments so
// callers can explain the rejection to a user. The store state is never
// mutated when one of these is returned.
type InvariantError struct {
	Invariant  string   // Which invariant failed (e.g., "completeness", "overlap", "index-order")
	SegmentIDs []string // Segments involved in the violation
	Detail     string   // Human-readable description, including the spans
	Err        error    // Underlying error, if any
}

func (e *InvariantError) Error() string {
	msg := fmt.Sprintf("invariant %s violated", e.Invariant)
	if len(e.SegmentIDs) > 0 {
		msg += fmt.Sprintf(" by segments [%s]", strings.Join(e.SegmentIDs, ", "))
	}
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *InvariantError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrInvariant
}

// RangeError reports a position or count outside valid bounds, such as a
// split position beyond a segment's width or a merge of fewer than two
// segments. Values are reported, never silently clamped.
type RangeError struct {
	Operation string // Operation that was attempted (e.g., "split", "merge")
	Value     int    // The offending value
	Min       int    // Inclusive lower bound
	Max       int    // Exclusive upper bound
	Err       error  // Underlying error, if any
}

func (e *RangeError) Error() string {
	return fmt.Sprintf("%s: value %d out of range [%d, %d)", e.Operation, e.Value, e.Min, e.Max)
}

func (e *RangeError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrOutOfRange
}

// ValidationError represents an input validation error with context.
// Validation failures are advisory: the core reports them but never blocks
// storage on its own.
type ValidationError struct {
	Field   string // Field name that failed validation
	Value   string // Value that failed validation (may be redacted)
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

// PermissionError represents an authorization error, such as restoring a
// document that belongs to another user.
type PermissionError struct {
	Operation string // Operation that was attempted
	Resource  string // Resource being accessed
	Reason    string // Why permission was denied
	Err       error  // Underlying error, if any
}

func (e *PermissionError) Error() string {
	if e.Operation != "" && e.Resource != "" {
		return fmt.Sprintf("permission denied: cannot %s %s: %s", e.Operation, e.Resource, e.Reason)
	}
	return fmt.Sprintf("permission denied: %s", e.Reason)
}

func (e *PermissionError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return ErrUnauthorized
}

// Helper functions for creating common errors

// NewNotFound creates a NotFoundError
func NewNotFound(resource, id string) *NotFoundError {
	return &NotFoundError{
		Resource: resource,
		ID:       id,
	}
}

// NewInvariant creates an InvariantError
func NewInvariant(invariant string, segmentIDs []string, detail string) *InvariantError {
	return &InvariantError{
		Invariant:  invariant,
		SegmentIDs: segmentIDs,
		Detail:     detail,
	}
}

// NewRange creates a RangeError
func NewRange(operation string, value, min, max int) *RangeError {
	return &RangeError{
		Operation: operation,
		Value:     value,
		Min:       min,
		Max:       max,
	}
}

// NewValidation creates a ValidationError
func NewValidation(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}

// NewPermission creates a PermissionError
func NewPermission(operation, resource, reason string) *PermissionError {
	return &PermissionError{
		Operation: operation,
		Resource:  resource,
		Reason:    reason,
	}
}

// Wrap adds context to an error. If err is nil, returns nil.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf adds formatted context to an error. If err is nil, returns nil.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	message := fmt.Sprintf(format, args...)
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
