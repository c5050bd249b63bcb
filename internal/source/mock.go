package source

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/e7canasta/orion-bridge/internal/types"
)

// MockFeed describes a synthetic camera published on one topic
type MockFeed struct {
	Width      uint32
	Height     uint32
	FormatCode uint32
	// FPS > 0 starts a generator goroutine on Subscribe; 0 means frames are
	// only delivered through Emit.
	FPS float64
}

// Mock is an in-process Transport that generates test-pattern frames
type Mock struct {
	mu    sync.Mutex
	feeds map[string]MockFeed
	subs  map[string]*mockSubscription
}

// NewMock creates a mock transport serving the given feeds
func NewMock(feeds map[string]MockFeed) *Mock {
	m := &Mock{
		feeds: make(map[string]MockFeed, len(feeds)),
		subs:  make(map[string]*mockSubscription),
	}
	for topic, feed := range feeds {
		m.feeds[topic] = feed
	}
	return m
}

// AddFeed registers (or replaces) a feed
func (m *Mock) AddFeed(topic string, feed MockFeed) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.feeds[topic] = feed
}

// Topics returns the topics this transport can resolve
func (m *Mock) Topics() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	topics := make([]string, 0, len(m.feeds))
	for topic := range m.feeds {
		topics = append(topics, topic)
	}
	return topics
}

// Subscribe implements Transport
func (m *Mock) Subscribe(topic string, fn Handler) (Subscription, error) {
	if fn == nil {
		return nil, fmt.Errorf("handler cannot be nil")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	feed, ok := m.feeds[topic]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}
	if _, exists := m.subs[topic]; exists {
		return nil, fmt.Errorf("topic %s already subscribed", topic)
	}

	sub := &mockSubscription{
		owner:  m,
		topic:  topic,
		feed:   feed,
		fn:     fn,
		stopCh: make(chan struct{}),
	}
	m.subs[topic] = sub

	if feed.FPS > 0 {
		sub.wg.Add(1)
		go sub.generate()
	}

	slog.Info("mock source subscribed",
		"topic", topic,
		"width", feed.Width,
		"height", feed.Height,
		"format_code", feed.FormatCode,
		"fps", feed.FPS,
	)

	return sub, nil
}

// Emit synchronously delivers frame to the subscriber of topic.
// Returns ErrUnknownTopic if nobody is subscribed.
func (m *Mock) Emit(topic string, frame types.RawFrame) error {
	m.mu.Lock()
	sub, ok := m.subs[topic]
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s (no subscriber)", ErrUnknownTopic, topic)
	}

	sub.deliver(frame)
	return nil
}

type mockSubscription struct {
	owner *Mock
	topic string
	feed  MockFeed
	fn    Handler

	deliverMu sync.Mutex // one delivery at a time, like a per-topic transport thread
	stopOnce  sync.Once
	stopCh    chan struct{}
	wg        sync.WaitGroup
	seq       uint64
}

func (s *mockSubscription) Topic() string {
	return s.topic
}

func (s *mockSubscription) Unsubscribe() error {
	s.stopOnce.Do(func() {
		close(s.stopCh)
		s.wg.Wait()

		// wait out an in-flight Emit
		s.deliverMu.Lock()
		s.deliverMu.Unlock()

		s.owner.mu.Lock()
		delete(s.owner.subs, s.topic)
		s.owner.mu.Unlock()

		slog.Info("mock source unsubscribed", "topic", s.topic, "frames_generated", s.seq)
	})
	return nil
}

func (s *mockSubscription) deliver(frame types.RawFrame) {
	s.deliverMu.Lock()
	defer s.deliverMu.Unlock()

	select {
	case <-s.stopCh:
		return
	default:
	}

	s.fn(frame)
}

// generate emits frames at the feed FPS until Unsubscribe
func (s *mockSubscription) generate() {
	defer s.wg.Done()

	ticker := time.NewTicker(time.Duration(float64(time.Second) / s.feed.FPS))
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.deliver(s.createFrame())
		}
	}
}

// createFrame renders a moving diagonal gradient in the feed's native layout
func (s *mockSubscription) createFrame() types.RawFrame {
	s.seq++

	channels := types.PixelFormatFromCode(s.feed.FormatCode).Channels()
	if channels == 0 {
		// Unknown codes still produce bytes so the bridge can reject them
		channels = 3
	}

	w, h := int(s.feed.Width), int(s.feed.Height)
	data := make([]byte, w*h*channels)
	shift := int(s.seq)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			o := (y*w + x) * channels
			for c := 0; c < channels; c++ {
				data[o+c] = byte(x + y + shift + c*85)
			}
		}
	}

	frame := types.NewRawFrame(s.feed.Width, s.feed.Height, s.feed.FormatCode, data)
	frame.TraceID = uuid.New().String()
	return frame
}
