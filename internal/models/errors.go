package models

import (
	"errors"
	"fmt"
)

// API error codes surfaced in response bodies.
const (
	CodeValidationError  = "VALIDATION_ERROR"
	CodeResourceNotFound = "RESOURCE_NOT_FOUND"
	CodeDuplicateKey     = "DUPLICATE_KEY"
	CodeInvalidAPIKey    = "INVALID_API_KEY"
	CodeInternalError    = "INTERNAL_ERROR"
)

// Sentinel errors returned by the repositories.
var (
	ErrNotFound  = errors.New("resource not found")
	ErrDuplicate = errors.New("duplicate key")
)

// Violation is one field-level validation failure.
type Violation struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError carries every violation found in a request. Validation
// always runs before any mutation; a non-empty violation list means
// nothing was applied.
type ValidationError struct {
	Violations []Violation
}

func (e *ValidationError) Error() string {
	if len(e.Violations) == 0 {
		return "validation failed"
	}
	first := e.Violations[0]
	if len(e.Violations) == 1 {
		return fmt.Sprintf("%s: %s", first.Field, first.Message)
	}
	return fmt.Sprintf("%s: %s (and %d more)", first.Field, first.Message, len(e.Violations)-1)
}
