package domain

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound = errors.New("not found")
	ErrCapacity = errors.New("too many active generations")
)

// InvalidInputError reports a missing or unusable submission input. It is
// never retried.
type InvalidInputError struct {
	Field  string
	Reason string
}

func (e *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid input %q: %s", e.Field, e.Reason)
}

// TransportError wraps a network-level failure or a non-2xx response from
// the remote generation service.
type TransportError struct {
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("transport error: status %d", e.StatusCode)
	}
	return fmt.Sprintf("transport error: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Retryable reports whether the failure should be retried silently on the
// next poll tick. Only server-side 5xx responses qualify; every other
// transport failure stops the poll loop and is surfaced for a manual retry.
func (e *TransportError) Retryable() bool {
	return e.StatusCode >= 500
}

// DecodeError reports a malformed response body. Polling treats it as
// transient, but it is logged distinctly from transport failures.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode response: %v", e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// StorageError reports a local persistence failure. It is non-fatal: callers
// keep their in-memory state and the next write retries.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// RemoteGenerationError is the service itself reporting a failed generation.
// Terminal for the job; any consumed one-time credit is refunded.
type RemoteGenerationError struct {
	Messages []string
}

func (e *RemoteGenerationError) Error() string {
	if len(e.Messages) == 0 {
		return "generation failed"
	}
	return "generation failed: " + strings.Join(e.Messages, "; ")
}
