package syncerr

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrAborted reports a local cancellation (controller teardown, superseded
// attempt, host offline). It is never surfaced and never counted toward
// retry or circuit-breaker state.
var ErrAborted = errors.New("operation aborted")

// IsAbort reports whether err is a local cancellation.
// A deadline expiry is not an abort: it is a timeout and counts as a failure.
func IsAbort(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrAborted) || errors.Is(err, context.Canceled)
}

// TransportError reports that the push channel could not be established
// or was lost.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("transport: %v", e.Err)
	}
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// FetchError reports a failed bulk read.
type FetchError struct {
	// Collection is the namespaced collection the read belonged to.
	Collection string

	// StatusCode is the remote status, if the service answered.
	StatusCode int

	// Timeout is set when the read hit its ceiling and was force-aborted.
	Timeout bool

	Err error
}

func (e *FetchError) Error() string {
	switch {
	case e.Timeout:
		return fmt.Sprintf("fetch %s: timed out", e.Collection)
	case e.StatusCode != 0:
		return fmt.Sprintf("fetch %s: status %d: %v", e.Collection, e.StatusCode, e.Err)
	default:
		return fmt.Sprintf("fetch %s: %v", e.Collection, e.Err)
	}
}

func (e *FetchError) Unwrap() error { return e.Err }

// CircuitOpenError is returned instead of invoking an operation while the
// named circuit is open. It signals "service degraded" rather than
// "request failed".
type CircuitOpenError struct {
	Service    string
	RetryAfter time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit %s open: service degraded, retry after %s", e.Service, e.RetryAfter)
}

// IsCircuitOpen reports whether err is (or wraps) a CircuitOpenError.
func IsCircuitOpen(err error) bool {
	var coe *CircuitOpenError
	return errors.As(err, &coe)
}

// DataShapeError reports a malformed row. The row is dropped; the fetch
// that produced it still succeeds.
type DataShapeError struct {
	EntityType string
	Field      string
	Reason     string
}

func (e *DataShapeError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("malformed %s row: %s", e.EntityType, e.Reason)
	}
	return fmt.Sprintf("malformed %s row: field %q: %s", e.EntityType, e.Field, e.Reason)
}

// RetriesExhaustedError is the terminal error surfaced after the retry
// schedule gives up.
type RetriesExhaustedError struct {
	Collection string
	Attempts   int
	Last       error
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("%s: giving up after %d attempts: %v", e.Collection, e.Attempts, e.Last)
}

func (e *RetriesExhaustedError) Unwrap() error { return e.Last }

// MutationError reports a rejected optimistic mutation.
type MutationError struct {
	Collection string
	ItemID     string
	Err        error
}

func (e *MutationError) Error() string {
	return fmt.Sprintf("mutation on %s/%s failed: %v", e.Collection, e.ItemID, e.Err)
}

func (e *MutationError) Unwrap() error { return e.Err }
