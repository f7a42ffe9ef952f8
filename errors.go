package lantern

import (
	"errors"
	"fmt"
)

// Common sentinel errors for the lantern package.
var (
	// ErrUpstreamTransport is returned when the database cannot be reached.
	ErrUpstreamTransport = errors.New("upstream transport failure")

	// ErrUpstreamQuery is returned when the database rejected or failed the query.
	ErrUpstreamQuery = errors.New("upstream query failure")

	// ErrSinkClosed is returned when writing a frame to a closed delivery channel.
	ErrSinkClosed = errors.New("sink closed")

	// ErrNotFound is returned by the workspace store for missing records.
	ErrNotFound = errors.New("not found")

	// ErrStoreClosed is returned when operations are attempted on a closed store.
	ErrStoreClosed = errors.New("store is closed")
)

// StreamErrorType categorizes failures during a streamed query.
type StreamErrorType int

const (
	// StreamErrorTypeUnknown is an unclassified error.
	StreamErrorTypeUnknown StreamErrorType = iota
	// StreamErrorTypeTransport indicates a network failure reaching the database.
	StreamErrorTypeTransport
	// StreamErrorTypeQuery indicates the database rejected or failed the query.
	StreamErrorTypeQuery
	// StreamErrorTypeSink indicates a write to the client failed.
	StreamErrorTypeSink
)

// StreamError provides detailed information about streamed query failures.
type StreamError struct {
	Type    StreamErrorType
	Message string
	Cause   error
}

func (e *StreamError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *StreamError) Unwrap() error {
	return e.Cause
}

// Is implements error matching for StreamError.
func (e *StreamError) Is(target error) bool {
	switch e.Type {
	case StreamErrorTypeTransport:
		return target == ErrUpstreamTransport
	case StreamErrorTypeQuery:
		return target == ErrUpstreamQuery
	case StreamErrorTypeSink:
		return target == ErrSinkClosed
	}
	return false
}

// newStreamError creates a new StreamError.
func newStreamError(errType StreamErrorType, message string, cause error) *StreamError {
	return &StreamError{
		Type:    errType,
		Message: message,
		Cause:   cause,
	}
}
