package uasc

import (
	"errors"
	"fmt"

	"github.com/opd-ai/uasc/transport"
)

var (
	// ErrChannelClosed indicates an operation on a channel that has been
	// closed, either cleanly or after a fatal error.
	ErrChannelClosed = errors.New("secure channel closed")

	// ErrChannelNotOpen indicates an operation that requires an open
	// channel was attempted before Open/Accept completed.
	ErrChannelNotOpen = errors.New("secure channel not open")

	// ErrTokenExpired indicates the current security token lapsed without
	// a successful renewal.
	ErrTokenExpired = errors.New("security token expired")

	// ErrRenewTimeout indicates a token renewal request went unanswered
	// for longer than the configured renewal timeout.
	ErrRenewTimeout = errors.New("token renewal timed out")

	// ErrSequenceViolation indicates a received sequence number that was
	// not the expected next value.
	ErrSequenceViolation = errors.New("sequence number violation")
)

// ChannelError is a channel-fatal protocol failure. Once a ChannelError
// is surfaced the channel is Closed, its keys are wiped and it must not
// be used again.
type ChannelError struct {
	Status transport.StatusCode
	Err    error
}

// Error implements the error interface.
func (e *ChannelError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("channel fatal: %s: %v", e.Status, e.Err)
	}
	return fmt.Sprintf("channel fatal: %s", e.Status)
}

// Unwrap returns the underlying cause.
func (e *ChannelError) Unwrap() error { return e.Err }

func fatalError(status transport.StatusCode, err error) *ChannelError {
	return &ChannelError{Status: status, Err: err}
}

// RequestError is a request-level failure: one in-flight message was
// aborted, the channel itself remains usable.
type RequestError struct {
	RequestID uint32
	Status    transport.StatusCode
	Reason    string
}

// Error implements the error interface.
func (e *RequestError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("request %d aborted: %s: %s", e.RequestID, e.Status, e.Reason)
	}
	return fmt.Sprintf("request %d aborted: %s", e.RequestID, e.Status)
}
