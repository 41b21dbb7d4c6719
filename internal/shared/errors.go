package shared

import (
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
)

// Error classes shared by every domain package. Domain sentinels wrap one of
// these so transports can map them without importing the domain.
var (
	// ErrNotFound indicates resource not found.
	ErrNotFound = errors.New("not found")
	// ErrValidation indicates malformed or out-of-range input.
	ErrValidation = errors.New("validation failed")
	// ErrConflict indicates the request is well formed but not allowed in the current state.
	ErrConflict = errors.New("conflict")
	// ErrTransient indicates a retryable storage failure (timeout, lock contention).
	ErrTransient = errors.New("transient failure")
	// ErrConsistency indicates an internal invariant would have been broken.
	ErrConsistency = errors.New("consistency violation")
)

// ValidationError names the offending field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation: " + e.Message
	}
	return fmt.Sprintf("validation: %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NewValidationError builds a ValidationError.
func NewValidationError(field, message string) error {
	return &ValidationError{Field: field, Message: message}
}

// FromValidator converts go-playground validator output into a ValidationError
// for the first failing field. Other errors are returned unchanged.
func FromValidator(err error) error {
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
		fe := fieldErrs[0]
		msg := fe.Tag()
		if fe.Param() != "" {
			msg += "=" + fe.Param()
		}
		return &ValidationError{Field: fe.Namespace(), Message: "failed " + msg}
	}
	return err
}

// IsRetryable reports whether the operation may succeed when repeated.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrTransient)
}
