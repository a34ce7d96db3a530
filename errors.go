package wingsite

import (
	"errors"
	"fmt"
	"strings"
)

// ErrPageNotFound is returned when no page matches any attempted slug.
var ErrPageNotFound = errors.New("page not found")

// ValidationError describes a rejected appointment request.
type ValidationError struct {
	Field  string // JSON field name (e.g., "appointmentDate")
	Reason string // Human-readable explanation
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
	}
	return "validation failed: " + e.Reason
}

// ValidationErrors collects several field failures.
type ValidationErrors []*ValidationError

func (errs ValidationErrors) Error() string {
	parts := make([]string, 0, len(errs))
	for _, e := range errs {
		parts = append(parts, e.Error())
	}
	return strings.Join(parts, "; ")
}

// IsValidation reports whether err is a validation failure.
func IsValidation(err error) bool {
	var one *ValidationError
	if errors.As(err, &one) {
		return true
	}
	var many ValidationErrors
	return errors.As(err, &many)
}
