package netio

import (
	"context"
	"errors"
)

// ErrQueueClosed is returned by Send once Close has been called. Receive
// reports a closed queue as a nil frame with a nil error instead.
var ErrQueueClosed = errors.New("netio: queue closed")

// Loopback is a channel-backed in-process TxQueue/RxQueue pair, used for
// the loopback test scenario and for unit tests that exercise a sender and
// receiver against each other without a real NIC.
type Loopback struct {
	ch     chan []byte
	closed chan struct{}
}

// NewLoopback creates a connected pair: frames sent on the returned
// TxQueue are delivered to the returned RxQueue, in order, with the given
// channel depth.
func NewLoopback(depth int) (*LoopbackTx, *LoopbackRx) {
	l := &Loopback{ch: make(chan []byte, depth), closed: make(chan struct{})}
	return &LoopbackTx{l}, &LoopbackRx{l}
}

// LoopbackTx is the TxQueue half of a Loopback pair.
type LoopbackTx struct{ l *Loopback }

// Send copies frame and enqueues it; it never blocks indefinitely because
// the loopback scenario's line rate is bounded by the test's own pacing.
func (t *LoopbackTx) Send(frame []byte) error {
	select {
	case <-t.l.closed:
		return ErrQueueClosed
	default:
	}
	cp := make([]byte, len(frame))
	copy(cp, frame)
	select {
	case t.l.ch <- cp:
		return nil
	case <-t.l.closed:
		return ErrQueueClosed
	}
}

// Close closes the underlying channel pair.
func (t *LoopbackTx) Close() error {
	closeOnce(t.l)
	return nil
}

// LoopbackRx is the RxQueue half of a Loopback pair.
type LoopbackRx struct{ l *Loopback }

// Receive blocks until a frame is available, ctx is done, or the queue is
// closed.
func (r *LoopbackRx) Receive(ctx context.Context) ([]byte, error) {
	select {
	case f, ok := <-r.l.ch:
		if !ok {
			return nil, nil
		}
		return f, nil
	case <-ctx.Done():
		return nil, nil
	case <-r.l.closed:
		return nil, nil
	}
}

// Close closes the underlying channel pair.
func (r *LoopbackRx) Close() error {
	closeOnce(r.l)
	return nil
}

func closeOnce(l *Loopback) {
	select {
	case <-l.closed:
	default:
		close(l.closed)
	}
}
