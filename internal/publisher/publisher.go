// Package publisher provides the outbound side of the bridge.
//
// Every publisher is a bounded queue drained by a single writer goroutine, the
// only code that touches the underlying socket. Send never blocks: when the
// queue is full the message is dropped and types.ErrBackpressure is returned.
//
// # Core Philosophy
//
// "Drop frames, never queue. Latency > Completeness."
//
// A live camera feed is only useful when it is recent. A slow subscriber must
// never stall the transport callback that produced the frame.
package publisher

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/e7canasta/orion-bridge/internal/types"
)

// DefaultQueueDepth is the outbound queue size when none is configured
const DefaultQueueDepth = 8

// ErrPublisherClosed is returned by Send after Close
var ErrPublisherClosed = errors.New("publisher is closed")

// Publisher is an outbound two-part message transport
type Publisher interface {
	// Send enqueues a (topic, body) message without blocking.
	// The body must not be modified by the caller afterwards.
	Send(topic string, body []byte) error

	// Stats returns a counters snapshot
	Stats() Stats

	// Close flushes queued messages and then releases the socket.
	// Idempotent.
	Close() error
}

// Message is one outbound (topic, body) pair
type Message struct {
	Topic string
	Body  []byte
}

// Stats contains publisher counters
type Stats struct {
	// Enqueued is the number of messages accepted by Send
	Enqueued uint64
	// Sent is the number of messages written to the socket
	Sent uint64
	// Dropped is the number of messages rejected because the queue was full
	Dropped uint64
	// WriteErrors is the number of socket writes that failed
	WriteErrors uint64
	// Depth is the current number of queued messages
	Depth int
	// Capacity is the queue size
	Capacity int
}

// writeFunc performs the actual socket write for one message
type writeFunc func(Message) error

// queue is a bounded single-writer outbound queue
type queue struct {
	name  string
	ch    chan Message
	write writeFunc

	mu     sync.RWMutex
	closed bool
	done   chan struct{}

	enqueued    atomic.Uint64
	sent        atomic.Uint64
	dropped     atomic.Uint64
	writeErrors atomic.Uint64
}

// newQueue creates a queue and starts its writer goroutine
func newQueue(name string, depth int, write writeFunc) *queue {
	if depth <= 0 {
		depth = DefaultQueueDepth
	}

	q := &queue{
		name:  name,
		ch:    make(chan Message, depth),
		write: write,
		done:  make(chan struct{}),
	}

	go q.run()

	return q
}

// Send enqueues a message (non-blocking).
//
//   - If the queue has space: message is queued, Enqueued incremented
//   - If the queue is full: message is dropped, Dropped incremented, ErrBackpressure returned
func (q *queue) Send(topic string, body []byte) error {
	q.mu.RLock()
	defer q.mu.RUnlock()

	if q.closed {
		return ErrPublisherClosed
	}

	select {
	case q.ch <- Message{Topic: topic, Body: body}:
		q.enqueued.Add(1)
		return nil
	default:
		q.dropped.Add(1)
		return fmt.Errorf("%s queue full (%d): %w", q.name, cap(q.ch), types.ErrBackpressure)
	}
}

// Stats returns current counters
func (q *queue) Stats() Stats {
	return Stats{
		Enqueued:    q.enqueued.Load(),
		Sent:        q.sent.Load(),
		Dropped:     q.dropped.Load(),
		WriteErrors: q.writeErrors.Load(),
		Depth:       len(q.ch),
		Capacity:    cap(q.ch),
	}
}

// close stops accepting messages and waits for the writer to exit.
// Messages still queued are written before the writer stops.
func (q *queue) close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()

	<-q.done
}

func (q *queue) run() {
	defer close(q.done)

	for msg := range q.ch {
		if err := q.write(msg); err != nil {
			q.writeErrors.Add(1)
			slog.Warn("publisher write failed",
				"publisher", q.name,
				"topic", msg.Topic,
				"size", len(msg.Body),
				"error", err,
			)
			continue
		}
		q.sent.Add(1)
	}
}
