package models

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a saga or node does not exist within the caller's scope.
	ErrNotFound = errors.New("not found")
	// ErrTerminalNode is returned when continuing from an ended or unsafe node.
	ErrTerminalNode = errors.New("node has ended its timeline and cannot be continued")
	// ErrGenerationInProgress is returned while another generation holds the saga.
	ErrGenerationInProgress = errors.New("a chapter is already being generated for this saga")
	// ErrStoryModeLocked is returned when changing the mode of a saga that already has one.
	ErrStoryModeLocked = errors.New("story mode is already set for this saga")
	// ErrWrongMode is returned when an operation does not match the saga's story mode.
	ErrWrongMode = errors.New("operation does not match the saga's story mode")
)

// ValidationError reports a rejected input before any generation or persistence.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Invalid builds a ValidationError.
func Invalid(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err wraps a ValidationError.
func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}
