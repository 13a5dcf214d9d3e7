package stage

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnknown indicates an unrecognized stage or source type name.
	ErrUnknown = errors.New("unknown stage or source type")
	// ErrValidation indicates a stage payload failed its shape check.
	ErrValidation = errors.New("stage payload validation failed")
)

// FieldError names one offending payload field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// ValidationError reports every field that failed validation for a stage
// payload. It matches ErrValidation with errors.Is.
type ValidationError struct {
	Stage  Stage        `json:"stage"`
	Fields []FieldError `json:"fields"`
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		parts = append(parts, fmt.Sprintf("%s %s", f.Field, f.Message))
	}
	return fmt.Sprintf("invalid %s payload: %s", e.Stage, strings.Join(parts, "; "))
}

func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// FieldNames returns the offending field names in report order.
func (e *ValidationError) FieldNames() []string {
	names := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		names = append(names, f.Field)
	}
	return names
}
