// Package transport provides the duplex message channels that peers use to
// exchange sync messages. Framing is one message per Send.
package transport

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Send and Receive once the channel is closed.
var ErrClosed = errors.New("transport closed")

// Conn interface represents the behavior required of a duplex channel
// between two peers. Send and Receive may be called from different
// goroutines, but each only from one goroutine at a time.
type Conn interface {
	Send(ctx context.Context, msg []byte) error
	Receive(ctx context.Context) ([]byte, error)
	Close() error
}

// =============================================================================

// Pipe returns the two ends of an in-memory duplex channel. Closing either
// end closes both.
func Pipe() (Conn, Conn) {
	p := pipe{
		aToB:   make(chan []byte),
		bToA:   make(chan []byte),
		closed: make(chan struct{}),
	}

	a := pipeEnd{pipe: &p, in: p.bToA, out: p.aToB}
	b := pipeEnd{pipe: &p, in: p.aToB, out: p.bToA}

	return &a, &b
}

type pipe struct {
	aToB   chan []byte
	bToA   chan []byte
	closed chan struct{}
	once   sync.Once
}

type pipeEnd struct {
	pipe *pipe
	in   chan []byte
	out  chan []byte
}

// Send delivers the message to the other end, blocking until it is
// received.
func (pe *pipeEnd) Send(ctx context.Context, msg []byte) error {
	cp := append([]byte{}, msg...)

	select {
	case pe.out <- cp:
		return nil
	case <-pe.pipe.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive waits for the next message from the other end.
func (pe *pipeEnd) Receive(ctx context.Context) ([]byte, error) {
	select {
	case msg := <-pe.in:
		return msg, nil
	case <-pe.pipe.closed:
		return nil, ErrClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close closes both ends of the pipe.
func (pe *pipeEnd) Close() error {
	pe.pipe.once.Do(func() {
		close(pe.pipe.closed)
	})
	return nil
}
