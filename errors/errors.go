// Package errors defines the coordination core's error taxonomy. Each
// category is a typed struct so callers can branch with errors.As and map
// categories to transport responses without string matching.
package errors

import "fmt"

// AuthenticationError means the identity claims were missing or unusable.
// It is surfaced as an access denial and never exposes internal detail.
type AuthenticationError struct {
	Reason string
}

func (e *AuthenticationError) Error() string {
	return fmt.Sprintf("authentication failed: %s", e.Reason)
}

// NewAuthentication creates an AuthenticationError.
func NewAuthentication(reason string) *AuthenticationError {
	return &AuthenticationError{Reason: reason}
}

// InvalidEventError means a coordination request failed validation. Field
// names the offending request field.
type InvalidEventError struct {
	Field  string
	Reason string
}

func (e *InvalidEventError) Error() string {
	return fmt.Sprintf("invalid event: field %q: %s", e.Field, e.Reason)
}

// NewInvalidEvent creates an InvalidEventError for the given field.
func NewInvalidEvent(field, reason string) *InvalidEventError {
	return &InvalidEventError{Field: field, Reason: reason}
}

// StorageError wraps a failure of the durable store. Writes guarded by it
// leave no partial state, and a storage failure on the append path must
// prevent any subsequent stream publish for that event.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// NewStorage wraps err as a StorageError for operation op.
func NewStorage(op string, err error) *StorageError {
	return &StorageError{Op: op, Err: err}
}

// StreamUnavailableError records a stream-transport failure at publish
// time. It is recovered locally: the publish is best-effort and the caller
// still succeeds for the already-committed event.
type StreamUnavailableError struct {
	Op  string
	Err error
}

func (e *StreamUnavailableError) Error() string {
	return fmt.Sprintf("stream unavailable during %s: %v", e.Op, e.Err)
}

func (e *StreamUnavailableError) Unwrap() error { return e.Err }

// NewStreamUnavailable wraps err as a StreamUnavailableError.
func NewStreamUnavailable(op string, err error) *StreamUnavailableError {
	return &StreamUnavailableError{Op: op, Err: err}
}

// ConsumerFatalError means a stream consumption loop exhausted its retry
// budget and stopped. It is surfaced to the owning supervisor for restart
// rather than retried indefinitely in-process.
type ConsumerFatalError struct {
	Consumer string
	Attempts int
	Err      error
}

func (e *ConsumerFatalError) Error() string {
	return fmt.Sprintf("consumer %s stopped after %d consecutive errors: %v", e.Consumer, e.Attempts, e.Err)
}

func (e *ConsumerFatalError) Unwrap() error { return e.Err }

// NewConsumerFatal creates a ConsumerFatalError.
func NewConsumerFatal(consumer string, attempts int, err error) *ConsumerFatalError {
	return &ConsumerFatalError{Consumer: consumer, Attempts: attempts, Err: err}
}
