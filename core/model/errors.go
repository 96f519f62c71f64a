package model

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionClosed is returned when submitting to a closed session.
	ErrSessionClosed = errors.New("model session closed")
	// ErrOutputsConsumed is yielded when Outputs is iterated a second time.
	ErrOutputsConsumed = errors.New("model outputs already consumed")
)

// ConnectError reports a failed handshake with the model backend.
type ConnectError struct {
	Model string
	Err   error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("failed to connect to model %q: %v", e.Model, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// StreamError reports a failure of an established model stream. Code is set
// when the backend closed the stream with an error code.
type StreamError struct {
	Code string
	Err  error
}

func (e *StreamError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("model stream failed (%s): %v", e.Code, e.Err)
	}
	return fmt.Sprintf("model stream failed: %v", e.Err)
}

func (e *StreamError) Unwrap() error {
	return e.Err
}

// ProtocolViolationError reports a backend breaking the turn contract.
type ProtocolViolationError struct {
	Reason string
}

func (e *ProtocolViolationError) Error() string {
	return "model protocol violation: " + e.Reason
}
