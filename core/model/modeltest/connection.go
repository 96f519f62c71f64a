// Package modeltest provides a scripted in-memory model connection for
// tests.
package modeltest

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/koscakluka/ema-bridge/core/events"
)

// ErrClosed is returned by Receive and Send after Close.
var ErrClosed = errors.New("modeltest: connection closed")

type received struct {
	event events.Event
	err   error
}

// Connection records everything the session sends and replays whatever
// the test emits. It satisfies model.Connection.
type Connection struct {
	// OnSend runs for every sent event after it was recorded. It may emit
	// responses or block to simulate a slow backend.
	OnSend func(c *Connection, event events.Event) error
	// OnInterrupt runs after an interrupt was recorded.
	OnInterrupt func(c *Connection)
	CloseErr    error

	mu         sync.Mutex
	sent       []events.Event
	interrupts int
	closeCalls int

	incoming  chan received
	closed    chan struct{}
	closeOnce sync.Once
}

func NewConnection() *Connection {
	return &Connection{
		incoming: make(chan received, 1024),
		closed:   make(chan struct{}),
	}
}

// Emit queues events to be returned by Receive in order.
func (c *Connection) Emit(evts ...events.Event) {
	for _, event := range evts {
		c.incoming <- received{event: event}
	}
}

// Fail makes the next Receive after the queued events return err.
func (c *Connection) Fail(err error) {
	c.incoming <- received{err: err}
}

// End makes Receive report a clean close once queued events are consumed.
func (c *Connection) End() {
	c.Fail(io.EOF)
}

func (c *Connection) Send(ctx context.Context, event events.Event) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}

	c.mu.Lock()
	c.sent = append(c.sent, event)
	onSend := c.OnSend
	c.mu.Unlock()

	if onSend != nil {
		return onSend(c, event)
	}
	return nil
}

func (c *Connection) Receive(ctx context.Context) (events.Event, error) {
	select {
	case r := <-c.incoming:
		return r.event, r.err
	case <-c.closed:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Connection) Interrupt(context.Context) error {
	c.mu.Lock()
	c.interrupts++
	onInterrupt := c.OnInterrupt
	c.mu.Unlock()

	if onInterrupt != nil {
		onInterrupt(c)
	}
	return nil
}

func (c *Connection) Close() error {
	c.mu.Lock()
	c.closeCalls++
	c.mu.Unlock()

	c.closeOnce.Do(func() { close(c.closed) })
	return c.CloseErr
}

// Closed is closed once Close was called.
func (c *Connection) Closed() <-chan struct{} {
	return c.closed
}

func (c *Connection) Sent() []events.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]events.Event(nil), c.sent...)
}

func (c *Connection) Interrupts() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.interrupts
}

func (c *Connection) CloseCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeCalls
}
