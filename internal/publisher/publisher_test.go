package publisher

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/e7canasta/orion-bridge/internal/types"
)

// gatedWriter blocks every write until release is closed
type gatedWriter struct {
	release chan struct{}

	mu      sync.Mutex
	written []Message
}

func newGatedWriter() *gatedWriter {
	return &gatedWriter{release: make(chan struct{})}
}

func (w *gatedWriter) write(m Message) error {
	<-w.release
	w.mu.Lock()
	w.written = append(w.written, m)
	w.mu.Unlock()
	return nil
}

func (w *gatedWriter) count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.written)
}

// TestQueueDelivers verifies basic functionality.
func TestQueueDelivers(t *testing.T) {
	w := newGatedWriter()
	close(w.release)

	q := newQueue("test", 4, w.write)

	if err := q.Send("camera/image", []byte("frame")); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	q.close()

	if w.count() != 1 {
		t.Fatalf("Expected 1 written, got %d", w.count())
	}
	if string(w.written[0].Body) != "frame" || w.written[0].Topic != "camera/image" {
		t.Errorf("Unexpected message: %+v", w.written[0])
	}

	stats := q.Stats()
	if stats.Enqueued != 1 || stats.Sent != 1 || stats.Dropped != 0 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
}

// TestQueueNonBlockingSend verifies Send never blocks on a stuck writer.
func TestQueueNonBlockingSend(t *testing.T) {
	w := newGatedWriter()
	q := newQueue("test", 1, w.write)

	done := make(chan []error)
	go func() {
		var errs []error
		// 1 in the writer, 1 in the buffer, the rest must drop
		for i := 0; i < 10; i++ {
			errs = append(errs, q.Send("t", []byte{byte(i)}))
		}
		done <- errs
	}()

	var errs []error
	select {
	case errs = <-done:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Send blocked (should be non-blocking)")
	}

	var backpressure int
	for _, err := range errs {
		if errors.Is(err, types.ErrBackpressure) {
			backpressure++
		} else if err != nil {
			t.Errorf("Unexpected error: %v", err)
		}
	}
	if backpressure < 8 {
		t.Errorf("Expected at least 8 backpressure errors, got %d", backpressure)
	}

	close(w.release)
	q.close()

	// Conservation law: every Send is either enqueued or dropped
	stats := q.Stats()
	if stats.Enqueued+stats.Dropped != 10 {
		t.Errorf("Conservation law violated: %d enqueued + %d dropped != 10", stats.Enqueued, stats.Dropped)
	}
	if stats.Sent != stats.Enqueued {
		t.Errorf("Expected queued messages flushed on close: sent=%d enqueued=%d", stats.Sent, stats.Enqueued)
	}
}

// TestQueueSendAfterClose verifies closed queues reject messages.
func TestQueueSendAfterClose(t *testing.T) {
	w := newGatedWriter()
	close(w.release)
	q := newQueue("test", 2, w.write)

	q.close()
	q.close() // idempotent

	if err := q.Send("t", nil); !errors.Is(err, ErrPublisherClosed) {
		t.Errorf("Expected ErrPublisherClosed, got %v", err)
	}
}

// TestQueueWriteErrors verifies failed writes are counted, not retried.
func TestQueueWriteErrors(t *testing.T) {
	calls := 0
	q := newQueue("test", 4, func(Message) error {
		calls++
		return errors.New("socket gone")
	})

	_ = q.Send("t", []byte{1})
	_ = q.Send("t", []byte{2})
	q.close()

	stats := q.Stats()
	if stats.WriteErrors != 2 || stats.Sent != 0 {
		t.Errorf("Expected 2 write errors and 0 sent, got %+v", stats)
	}
	if calls != 2 {
		t.Errorf("Expected 2 write attempts, got %d", calls)
	}
}

// TestQueueDefaultDepth verifies zero depth falls back to the default.
func TestQueueDefaultDepth(t *testing.T) {
	w := newGatedWriter()
	close(w.release)
	q := newQueue("test", 0, w.write)
	defer q.close()

	if q.Stats().Capacity != DefaultQueueDepth {
		t.Errorf("Expected capacity %d, got %d", DefaultQueueDepth, q.Stats().Capacity)
	}
}

func TestListenEndpoint(t *testing.T) {
	cases := map[string]string{
		"tcp://*:5556":         "tcp://0.0.0.0:5556",
		"tcp://127.0.0.1:5556": "tcp://127.0.0.1:5556",
		"ipc:///tmp/bridge":    "ipc:///tmp/bridge",
	}
	for in, want := range cases {
		if got := listenEndpoint(in); got != want {
			t.Errorf("listenEndpoint(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestBrokerURL(t *testing.T) {
	if got := brokerURL("localhost:1883"); got != "tcp://localhost:1883" {
		t.Errorf("Unexpected broker url: %s", got)
	}
	if got := brokerURL("ssl://broker:8883"); got != "ssl://broker:8883" {
		t.Errorf("Unexpected broker url: %s", got)
	}
}
