// Package errors defines structured error types for the store.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode defines specific error types for the store.
type ErrorCode string

const (
	// ErrPersistRead is returned when the durable medium cannot be read
	ErrPersistRead ErrorCode = "PERSIST_READ"
	// ErrPersistWrite is returned when the durable medium cannot be written
	ErrPersistWrite ErrorCode = "PERSIST_WRITE"
	// ErrMalformedData is returned when durable data cannot be decoded
	ErrMalformedData ErrorCode = "MALFORMED_DATA"
	// ErrInvalidValue is returned when a value cannot be represented as JSON
	ErrInvalidValue ErrorCode = "INVALID_VALUE"
	// ErrReplication is returned when a broadcast cannot be sent
	ErrReplication ErrorCode = "REPLICATION"
)

// StoreError is a concrete error type with a code, the namespace it relates
// to, and an optional wrapped cause.
type StoreError struct {
	code       ErrorCode
	namespace  string
	message    string
	wrappedErr error
}

// New creates a new StoreError.
func New(code ErrorCode, namespace, message string) *StoreError {
	return &StoreError{code: code, namespace: namespace, message: message}
}

// Wrap wraps an underlying error.
func (e *StoreError) Wrap(err error) *StoreError {
	e.wrappedErr = err
	return e
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	msg := e.message
	if e.namespace != "" {
		msg = fmt.Sprintf("%s %q", msg, e.namespace)
	}
	if e.wrappedErr != nil {
		return fmt.Sprintf("%s: %v", msg, e.wrappedErr)
	}
	return msg
}

// Code returns the error code.
func (e *StoreError) Code() ErrorCode {
	return e.code
}

// Namespace returns the namespace the error relates to, if any.
func (e *StoreError) Namespace() string {
	return e.namespace
}

// Unwrap returns the wrapped error if any.
func (e *StoreError) Unwrap() error {
	return e.wrappedErr
}

// Is matches the code sentinels below, which carry no namespace.
func (e *StoreError) Is(target error) bool {
	t, ok := target.(*StoreError)
	return ok && t.namespace == "" && t.code == e.code
}

// Sentinels usable with errors.Is.
var (
	PersistRead   = &StoreError{code: ErrPersistRead, message: "persist read"}
	PersistWrite  = &StoreError{code: ErrPersistWrite, message: "persist write"}
	MalformedData = &StoreError{code: ErrMalformedData, message: "malformed data"}
	InvalidValue  = &StoreError{code: ErrInvalidValue, message: "invalid value"}
	Replication   = &StoreError{code: ErrReplication, message: "replication"}
)

// CodeOf returns the code of the first StoreError in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var se *StoreError
	if errors.As(err, &se) {
		return se.code
	}
	return ""
}

// Predefined error constructors for common cases

// PersistReadFailed wraps a medium load failure.
func PersistReadFailed(namespace string, err error) *StoreError {
	return New(ErrPersistRead, namespace, "failed to load namespace").Wrap(err)
}

// PersistWriteFailed wraps a medium store or remove failure.
func PersistWriteFailed(namespace string, err error) *StoreError {
	return New(ErrPersistWrite, namespace, "failed to persist namespace").Wrap(err)
}

// Malformed wraps a decoding failure of durable data.
func Malformed(namespace string, err error) *StoreError {
	return New(ErrMalformedData, namespace, "malformed data for namespace").Wrap(err)
}

// Invalid wraps a value normalization failure.
func Invalid(namespace string, err error) *StoreError {
	return New(ErrInvalidValue, namespace, "invalid value for namespace").Wrap(err)
}

// ReplicationFailed wraps a bus publish failure.
func ReplicationFailed(namespace string, err error) *StoreError {
	return New(ErrReplication, namespace, "failed to broadcast namespace").Wrap(err)
}
