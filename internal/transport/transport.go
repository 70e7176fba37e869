// Package transport provides the per-connection transport abstraction:
// a WebSocket primary and a long-lived HTTP stream fallback, each fed
// by a bounded outbound queue so one slow client never blocks another.
package transport

import (
	"errors"
	"fmt"
	"sync"
)

// Transport kinds.
const (
	KindWebSocket = "websocket"
	KindStream    = "stream"
)

// ErrHandleClosed reports a push to a closed handle.
var ErrHandleClosed = errors.New("transport handle closed")

// ErrQueueFull reports a push rejected by backpressure.
var ErrQueueFull = errors.New("transport send queue full")

// Handle is a live transport attachment for one player. Push must never
// block: a full queue is a backpressure signal and the frame is the
// caller's to drop or count.
type Handle interface {
	// ID is the unique handle identifier.
	ID() string
	// Kind is the transport kind (websocket or stream).
	Kind() string
	// Push enqueues a frame for delivery. Returns ErrHandleClosed or
	// ErrQueueFull; it never blocks on the client's I/O.
	Push(frame []byte) error
	// Close shuts the handle down. Idempotent.
	Close() error
}

// sendQueue routes outbound frames to a buffered channel drained by the
// handle's write pump.
type sendQueue struct {
	frames chan []byte
	mu     sync.Mutex
	closed bool
}

func newSendQueue(size int) *sendQueue {
	if size <= 0 {
		size = 64
	}
	return &sendQueue{frames: make(chan []byte, size)}
}

// push enqueues a frame without blocking.
func (q *sendQueue) push(frame []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return ErrHandleClosed
	}
	select {
	case q.frames <- frame:
		return nil
	default:
		return fmt.Errorf("%w (%d pending)", ErrQueueFull, len(q.frames))
	}
}

// close marks the queue closed and closes the channel. Idempotent.
func (q *sendQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.frames)
	}
}

func (q *sendQueue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}
