package config

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidYAML indicates YAML parsing failed.
	ErrInvalidYAML = errors.New("invalid YAML syntax")

	// ErrValidationFailed indicates configuration validation failed.
	ErrValidationFailed = errors.New("configuration validation failed")

	// ErrInvalidValue indicates a field has an invalid value.
	ErrInvalidValue = errors.New("invalid field value")

	// ErrInvalidReference indicates an invalid cross-reference (e.g. a
	// default provider that is not declared).
	ErrInvalidReference = errors.New("invalid configuration reference")
)

// ValidationError wraps a validation failure with its location.
type ValidationError struct {
	Section string // configuration section (flow, bus, providers, ...)
	Field   string // field name (optional)
	Err     error  // underlying error
}

// Error returns the formatted message.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: field %q: %v", e.Section, e.Field, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Section, e.Err)
}

// Unwrap returns the underlying error.
func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError creates a validation error for a section field.
func NewValidationError(section, field string, err error) error {
	return &ValidationError{Section: section, Field: field, Err: err}
}
