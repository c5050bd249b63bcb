package router

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/e7canasta/orion-bridge/internal/types"
)

// wireSender writes the two parts as separate appends, the way a socket
// writes frames, and flags any overlapping call.
type wireSender struct {
	parts      [][]byte
	inFlight   atomic.Int32
	overlapped atomic.Bool
	err        error
}

func (s *wireSender) Send(topic string, body []byte) error {
	if s.inFlight.Add(1) > 1 {
		s.overlapped.Store(true)
	}
	defer s.inFlight.Add(-1)

	if s.err != nil {
		return s.err
	}

	s.parts = append(s.parts, []byte(topic))
	time.Sleep(10 * time.Microsecond)
	s.parts = append(s.parts, body)
	return nil
}

func TestRoute_SendsTopicThenBody(t *testing.T) {
	sender := &wireSender{}
	r := New(sender)

	require.NoError(t, r.Route("camera/image", []byte{1, 2, 3}))

	require.Len(t, sender.parts, 2)
	assert.Equal(t, "camera/image", string(sender.parts[0]))
	assert.Equal(t, []byte{1, 2, 3}, sender.parts[1])
	assert.Equal(t, uint64(1), r.Stats().Routed["camera/image"])
}

func TestRoute_SerializesConcurrentCallers(t *testing.T) {
	sender := &wireSender{}
	r := New(sender)

	const goroutines = 8
	const perGoroutine = 50

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			topic := fmt.Sprintf("cam/%d", g)
			for i := 0; i < perGoroutine; i++ {
				_ = r.Route(topic, []byte(topic+"-body"))
			}
		}(g)
	}
	wg.Wait()

	assert.False(t, sender.overlapped.Load(), "sender was entered concurrently")
	require.Len(t, sender.parts, goroutines*perGoroutine*2)

	for i := 0; i < len(sender.parts); i += 2 {
		topic := string(sender.parts[i])
		assert.Equal(t, topic+"-body", string(sender.parts[i+1]), "part %d", i)
	}
}

func TestRoute_Backpressure(t *testing.T) {
	sender := &wireSender{err: fmt.Errorf("queue depth 1: %w", types.ErrBackpressure)}
	r := New(sender)

	err := r.Route("camera/image", []byte{1})
	assert.ErrorIs(t, err, types.ErrBackpressure)

	stats := r.Stats()
	assert.Equal(t, uint64(1), stats.Dropped["camera/image"])
	assert.Zero(t, stats.Routed["camera/image"])
}

func TestRoute_OtherErrorsAreWrapped(t *testing.T) {
	boom := errors.New("socket closed")
	r := New(&wireSender{err: boom})

	err := r.RoutePayload(types.EncodedPayload{Topic: "a", Body: []byte{1}})
	assert.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, types.ErrBackpressure)
	assert.Equal(t, uint64(1), r.Stats().Failed["a"])
}
