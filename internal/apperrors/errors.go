// Package apperrors defines the failure taxonomy shared by the compiler, planner, cache and
// HTTP layers.
//
// Callers classify failures with errors.Is against the sentinels below. The typed wrappers
// carry extra context (the offending request key, the misconfigured field) and unwrap to
// their sentinel so the HTTP layer can choose a status code without knowing which package
// produced the error.
package apperrors

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrSchemaInconsistency indicates a field schema that cannot be compiled.
	// It is a configuration bug and is never recoverable by the caller.
	ErrSchemaInconsistency = errors.New("schema inconsistency")

	// ErrInvalidRequest indicates a request parameter the caller can correct.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrEmptyResult indicates a base query that matched no entities.
	ErrEmptyResult = errors.New("empty result")

	// ErrConcurrentPopulation indicates another writer won the race to populate a fingerprint.
	ErrConcurrentPopulation = errors.New("concurrent population conflict")

	// ErrTransactionFailure indicates a rolled back store transaction. Safe to retry.
	ErrTransactionFailure = errors.New("transaction failure")
)

type (
	// InvalidRequestError reports the request key that could not be honoured.
	InvalidRequestError struct {
		Key    string
		Reason string
	}

	// SchemaError reports the field (and attribute, when relevant) that failed compilation.
	SchemaError struct {
		FieldKey    string
		AttributeID int64
		Reason      string
	}
)

// InvalidRequest builds an InvalidRequestError for key.
//
// Example:
//
//	return apperrors.InvalidRequest("limit", "must be a number, got %q", raw)
func InvalidRequest(key, format string, args ...any) error {
	return &InvalidRequestError{Key: key, Reason: fmt.Sprintf(format, args...)}
}

func (e *InvalidRequestError) Error() string {
	return fmt.Sprintf("invalid request parameter %q: %s", e.Key, e.Reason)
}

// Unwrap lets errors.Is match ErrInvalidRequest.
func (e *InvalidRequestError) Unwrap() error {
	return ErrInvalidRequest
}

// Schema builds a SchemaError for the given field.
func Schema(fieldKey string, attributeID int64, reason string) error {
	return &SchemaError{FieldKey: fieldKey, AttributeID: attributeID, Reason: reason}
}

func (e *SchemaError) Error() string {
	if e.AttributeID != 0 {
		return fmt.Sprintf("field %q (attribute %d): %s", e.FieldKey, e.AttributeID, e.Reason)
	}

	return fmt.Sprintf("field %q: %s", e.FieldKey, e.Reason)
}

// Unwrap lets errors.Is match ErrSchemaInconsistency.
func (e *SchemaError) Unwrap() error {
	return ErrSchemaInconsistency
}

// IsRetryable reports whether the whole request may be retried.
// Cancelled requests are not retryable: the caller went away.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, context.Canceled) {
		return false
	}

	return errors.Is(err, ErrTransactionFailure) || errors.Is(err, context.DeadlineExceeded)
}

// InvalidKey returns the offending request key carried by err, if any.
func InvalidKey(err error) (string, bool) {
	var invalid *InvalidRequestError
	if errors.As(err, &invalid) {
		return invalid.Key, true
	}

	return "", false
}
