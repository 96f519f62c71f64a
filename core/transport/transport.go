// Package transport carries raw JSON frames between a client and the bridge.
package transport

import (
	"context"
	"errors"
)

// ErrClosed is returned once the peer closed the connection in an orderly
// way or Close was called locally.
var ErrClosed = errors.New("transport closed")

// Conn is one client connection. Receive and Send may be used concurrently
// with each other but each from a single goroutine.
type Conn interface {
	Receive(ctx context.Context) ([]byte, error)
	Send(ctx context.Context, frame []byte) error
	Close() error
}

// WriteError reports a frame that could not be delivered to the client.
type WriteError struct {
	Err error
}

func (e *WriteError) Error() string {
	return "failed to write frame: " + e.Err.Error()
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
