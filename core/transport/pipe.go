package transport

import (
	"context"
	"sync"
)

const pipeBuffer = 64

// Pipe returns two connected in-memory Conns. Frames sent on one end are
// received on the other. Closing either end closes both, frames already
// buffered are still delivered.
func Pipe() (Conn, Conn) {
	shared := &pipeState{done: make(chan struct{})}
	a := make(chan []byte, pipeBuffer)
	b := make(chan []byte, pipeBuffer)
	return &pipeEnd{state: shared, in: a, out: b}, &pipeEnd{state: shared, in: b, out: a}
}

type pipeState struct {
	once sync.Once
	done chan struct{}
}

type pipeEnd struct {
	state *pipeState
	in    <-chan []byte
	out   chan<- []byte
}

func (p *pipeEnd) Receive(ctx context.Context) ([]byte, error) {
	select {
	case frame := <-p.in:
		return frame, nil
	default:
	}

	select {
	case frame := <-p.in:
		return frame, nil
	case <-p.state.done:
		select {
		case frame := <-p.in:
			return frame, nil
		default:
			return nil, ErrClosed
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *pipeEnd) Send(ctx context.Context, frame []byte) error {
	select {
	case <-p.state.done:
		return &WriteError{Err: ErrClosed}
	default:
	}

	copied := append([]byte(nil), frame...)
	select {
	case p.out <- copied:
		return nil
	case <-p.state.done:
		return &WriteError{Err: ErrClosed}
	case <-ctx.Done():
		return &WriteError{Err: ctx.Err()}
	}
}

func (p *pipeEnd) Close() error {
	p.state.once.Do(func() { close(p.state.done) })
	return nil
}
