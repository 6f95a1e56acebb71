package billing

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRange is returned when the from period is after the to period.
	ErrInvalidRange = errors.New("billing: from period after to period")
	// ErrNoSourceData is returned when every source came back empty.
	ErrNoSourceData = errors.New("billing: no data for this filter")
	// ErrNilSource is returned when a required collaborator is missing.
	ErrNilSource = errors.New("billing: nil source")
)

// ValidationError reports a rejected request parameter.
type ValidationError struct {
	Field  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "billing: validation: " + e.Reason
	}
	return fmt.Sprintf("billing: validation: %s %s", e.Field, e.Reason)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// NewValidationError builds a ValidationError for field.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}
