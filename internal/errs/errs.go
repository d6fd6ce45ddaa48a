// Package errs defines the domain error taxonomy and the centralized
// user-message classifier. Raw error text never reaches a session record or a
// client; everything user-visible passes through UserMessage.
package errs

import (
	"errors"
	"fmt"
)

// ExternalServiceError indicates an upstream service call failed or returned
// unusable data. It is retryable at the job level.
type ExternalServiceError struct {
	Service string
	Op      string
	Err     error
}

func (e *ExternalServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Service, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s failed", e.Service, e.Op)
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

// NewExternalService wraps err as an ExternalServiceError.
func NewExternalService(service, op string, err error) error {
	return &ExternalServiceError{Service: service, Op: op, Err: err}
}

// TimeoutError indicates a bounded polling or waiting budget was exhausted.
// It is fatal to the chain that raised it.
type TimeoutError struct {
	Op       string
	Attempts int
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s timed out after %d attempts", e.Op, e.Attempts)
}

// NewTimeout builds a TimeoutError.
func NewTimeout(op string, attempts int) error {
	return &TimeoutError{Op: op, Attempts: attempts}
}

// ValidationError indicates a referenced record does not exist or input is
// malformed. Typically a stale or cancelled request; handled by silent early
// return, never alert-worthy.
type ValidationError struct {
	Entity string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Entity, e.Reason)
}

// NewValidation builds a ValidationError.
func NewValidation(entity, reason string) error {
	return &ValidationError{Entity: entity, Reason: reason}
}

// DataIntegrityError indicates an empty or partial payload from a provider.
// It degrades gracefully rather than failing a pipeline.
type DataIntegrityError struct {
	Reason string
}

func (e *DataIntegrityError) Error() string { return e.Reason }

// NewDataIntegrity builds a DataIntegrityError.
func NewDataIntegrity(reason string) error {
	return &DataIntegrityError{Reason: reason}
}

// IsExternalService reports whether err is an ExternalServiceError.
func IsExternalService(err error) bool {
	var target *ExternalServiceError
	return errors.As(err, &target)
}

// IsTimeout reports whether err is a TimeoutError.
func IsTimeout(err error) bool {
	var target *TimeoutError
	return errors.As(err, &target)
}

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// IsDataIntegrity reports whether err is a DataIntegrityError.
func IsDataIntegrity(err error) bool {
	var target *DataIntegrityError
	return errors.As(err, &target)
}

// UserMessage maps any error to a sanitized message safe to store on a
// session and show to a client. Internal detail is deliberately stripped.
func UserMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case IsTimeout(err):
		return "The analysis took longer than expected. Please try again."
	case IsExternalService(err):
		return "We could not reach the review data provider. Please try again shortly."
	case IsValidation(err):
		return "The requested analysis could not be found."
	case IsDataIntegrity(err):
		return "We received incomplete data for this product. Partial results may be available."
	default:
		return "Something went wrong while analyzing this product. Please try again."
	}
}
