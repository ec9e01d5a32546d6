// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package domain

import "errors"

// ErrorType represents the semantic category of an error
type ErrorType int

const (
	ErrorTypeValidation       ErrorType = iota // Invalid input or configuration
	ErrorTypeNotFound                          // Entity does not exist
	ErrorTypeConflict                          // Uniqueness or revision conflict
	ErrorTypeInternal                          // Unexpected failure
	ErrorTypeUnavailable                       // Backing store or broker unreachable
	ErrorTypePreconditionSkip                  // Operation not applicable to the entity's current state
	ErrorTypeConcurrencyMiss                   // Conditional write matched zero rows
	ErrorTypeProvider                          // External video provider failure
	ErrorTypeDataIntegrity                     // Ledger or reference inconsistency found by the auditor
)

// String returns the name used in logs and batch summaries.
func (t ErrorType) String() string {
	switch t {
	case ErrorTypeValidation:
		return "validation"
	case ErrorTypeNotFound:
		return "not_found"
	case ErrorTypeConflict:
		return "conflict"
	case ErrorTypeUnavailable:
		return "unavailable"
	case ErrorTypePreconditionSkip:
		return "precondition_skip"
	case ErrorTypeConcurrencyMiss:
		return "concurrency_miss"
	case ErrorTypeProvider:
		return "provider"
	case ErrorTypeDataIntegrity:
		return "data_integrity"
	default:
		return "internal"
	}
}

// DomainError represents an error with semantic type information
type DomainError struct {
	Type    ErrorType
	Message string
	Err     error // underlying error for wrapping
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// GetErrorType returns the semantic type of an error
func GetErrorType(err error) ErrorType {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type
	}
	return ErrorTypeInternal // default fallback
}

// IsSkip reports whether err is an expected outcome of an idempotent
// operation (precondition not met, or lost a race to a concurrent run).
func IsSkip(err error) bool {
	if err == nil {
		return false
	}
	t := GetErrorType(err)
	return t == ErrorTypePreconditionSkip || t == ErrorTypeConcurrencyMiss
}

// Error constructors for different types
func NewValidationError(message string, err ...error) *DomainError {
	return &DomainError{Type: ErrorTypeValidation, Message: message, Err: errors.Join(err...)}
}

func NewNotFoundError(message string, err ...error) *DomainError {
	return &DomainError{Type: ErrorTypeNotFound, Message: message, Err: errors.Join(err...)}
}

func NewConflictError(message string, err ...error) *DomainError {
	return &DomainError{Type: ErrorTypeConflict, Message: message, Err: errors.Join(err...)}
}

func NewInternalError(message string, err ...error) *DomainError {
	return &DomainError{Type: ErrorTypeInternal, Message: message, Err: errors.Join(err...)}
}

func NewUnavailableError(message string, err ...error) *DomainError {
	return &DomainError{Type: ErrorTypeUnavailable, Message: message, Err: errors.Join(err...)}
}

func NewPreconditionSkip(message string, err ...error) *DomainError {
	return &DomainError{Type: ErrorTypePreconditionSkip, Message: message, Err: errors.Join(err...)}
}

func NewConcurrencyMiss(message string, err ...error) *DomainError {
	return &DomainError{Type: ErrorTypeConcurrencyMiss, Message: message, Err: errors.Join(err...)}
}

func NewProviderError(message string, err ...error) *DomainError {
	return &DomainError{Type: ErrorTypeProvider, Message: message, Err: errors.Join(err...)}
}

func NewDataIntegrityError(message string, err ...error) *DomainError {
	return &DomainError{Type: ErrorTypeDataIntegrity, Message: message, Err: errors.Join(err...)}
}

// ErrServiceUnavailable is returned when a service is used before its dependencies are wired.
var ErrServiceUnavailable = NewUnavailableError("service unavailable")
