package model

import (
	"context"
	"io"
	"sync"

	"github.com/koscakluka/ema-bridge/core/events"
)

// eventQueue is a FIFO with a single consumer. Pushes never block; a
// producer that wants backpressure calls waitRoom first.
type eventQueue struct {
	mu     sync.Mutex
	items  []events.Event
	closed bool
	err    error

	ready chan struct{}
	room  chan struct{}
}

func newEventQueue() *eventQueue {
	return &eventQueue{
		ready: make(chan struct{}, 1),
		room:  make(chan struct{}, 1),
	}
}

func (q *eventQueue) push(event events.Event) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrSessionClosed
	}
	q.items = append(q.items, event)
	signal(q.ready)
	return nil
}

// pushBounded appends event. When the queue already holds limit items the
// oldest droppable one is removed first; if none is droppable the queue grows.
func (q *eventQueue) pushBounded(event events.Event, limit int, droppable func(events.Event) bool) (dropped bool, err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false, ErrSessionClosed
	}
	if limit > 0 && len(q.items) >= limit {
		for i, queued := range q.items {
			if droppable(queued) {
				q.items = append(q.items[:i], q.items[i+1:]...)
				dropped = true
				break
			}
		}
	}
	q.items = append(q.items, event)
	signal(q.ready)
	return dropped, nil
}

// waitRoom blocks until the queue holds fewer than limit items.
func (q *eventQueue) waitRoom(ctx context.Context, limit int) error {
	for {
		q.mu.Lock()
		if q.closed {
			q.mu.Unlock()
			return ErrSessionClosed
		}
		if limit <= 0 || len(q.items) < limit {
			q.mu.Unlock()
			return nil
		}
		q.mu.Unlock()

		select {
		case <-q.room:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// purge removes every queued event matching and reports how many went.
func (q *eventQueue) purge(match func(events.Event) bool) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	kept := q.items[:0]
	for _, event := range q.items {
		if !match(event) {
			kept = append(kept, event)
		}
	}
	purged := len(q.items) - len(kept)
	clear(q.items[len(kept):])
	q.items = kept
	if purged > 0 {
		signal(q.room)
	}
	return purged
}

// close stops the queue for producers. Queued items are still delivered,
// after which next returns err, or io.EOF when err is nil.
func (q *eventQueue) close(err error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return
	}
	q.closed = true
	q.err = err
	signal(q.ready)
	signal(q.room)
}

func (q *eventQueue) next(ctx context.Context) (events.Event, error) {
	for {
		q.mu.Lock()
		if len(q.items) > 0 {
			event := q.items[0]
			q.items[0] = nil
			q.items = q.items[1:]
			signal(q.room)
			q.mu.Unlock()
			return event, nil
		}
		if q.closed {
			err := q.err
			q.mu.Unlock()
			if err == nil {
				err = io.EOF
			}
			return nil, err
		}
		q.mu.Unlock()

		select {
		case <-q.ready:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (q *eventQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
