package bridge

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/e7canasta/orion-bridge/internal/envelope"
	"github.com/e7canasta/orion-bridge/internal/pixel"
	"github.com/e7canasta/orion-bridge/internal/router"
	"github.com/e7canasta/orion-bridge/internal/source"
	"github.com/e7canasta/orion-bridge/internal/types"
)

// State is the lifecycle state of a Session
type State int32

const (
	StateUninitialized State = iota
	StateSubscribed
	StateRunning
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateSubscribed:
		return "subscribed"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Session bridges one source topic to one output topic.
//
// Frames are processed inline on the transport's callback goroutine, one at a
// time and in arrival order. Nothing is buffered: a frame that cannot be
// published right now is dropped.
type Session struct {
	id          uuid.UUID
	sourceTopic string
	outputTopic string

	encoder *envelope.Encoder
	router  *router.Router
	logger  *slog.Logger

	sub source.Subscription // owned by the manager lock

	state   atomic.Int32
	stopped atomic.Bool

	// mu serializes OnFrame; seq is the sequence of the last published frame
	mu  sync.Mutex
	seq uint64

	received      atomic.Uint64
	published     atomic.Uint64
	convertErrors atomic.Uint64
	backpressure  atomic.Uint64
	routeErrors   atomic.Uint64
	lastSeq       atomic.Uint64
	lastFrameAt   atomic.Int64

	rate rateTracker
}

func newSession(sourceTopic, outputTopic string, enc *envelope.Encoder, r *router.Router, logger *slog.Logger) *Session {
	id := uuid.New()
	return &Session{
		id:          id,
		sourceTopic: sourceTopic,
		outputTopic: outputTopic,
		encoder:     enc,
		router:      r,
		logger: logger.With(
			"session_id", id.String(),
			"source_topic", sourceTopic,
			"output_topic", outputTopic,
		),
	}
}

// ID returns the session handle id
func (s *Session) ID() uuid.UUID { return s.id }

// SourceTopic returns the inbound topic
func (s *Session) SourceTopic() string { return s.sourceTopic }

// OutputTopic returns the outbound topic
func (s *Session) OutputTopic() string { return s.outputTopic }

// State returns the current lifecycle state
func (s *Session) State() State { return State(s.state.Load()) }

// Sequence returns the number of frames published so far
func (s *Session) Sequence() uint64 { return s.lastSeq.Load() }

// subscribe registers OnFrame with the transport
func (s *Session) subscribe(transport source.Transport) error {
	if s.sourceTopic == "" {
		return fmt.Errorf("%w: empty source topic", types.ErrSubscription)
	}

	sub, err := transport.Subscribe(s.sourceTopic, s.OnFrame)
	if err != nil {
		return fmt.Errorf("%w: %s: %w", types.ErrSubscription, s.sourceTopic, err)
	}

	s.sub = sub
	s.state.CompareAndSwap(int32(StateUninitialized), int32(StateSubscribed))
	return nil
}

// OnFrame converts, encodes and routes one inbound frame.
// Errors are frame-local: they are counted, logged and the frame is dropped.
func (s *Session) OnFrame(frame types.RawFrame) {
	if s.stopped.Load() {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped.Load() {
		return
	}

	now := time.Now()
	s.received.Add(1)
	s.lastFrameAt.Store(now.UnixNano())
	s.rate.observe(now)
	s.state.CompareAndSwap(int32(StateSubscribed), int32(StateRunning))

	canonical, err := pixel.Convert(frame)
	if err != nil {
		s.convertErrors.Add(1)
		s.logger.Warn("dropping frame: conversion failed",
			"error", err,
			"width", frame.Width,
			"height", frame.Height,
			"format_code", frame.FormatCode,
			"size", len(frame.Data),
			"trace_id", frame.TraceID,
		)
		return
	}
	canonical.Seq = s.seq + 1

	body, err := s.encoder.Encode(canonical)
	if err != nil {
		s.fail(err)
		return
	}

	if err := s.router.Route(s.outputTopic, body); err != nil {
		if errors.Is(err, types.ErrBackpressure) {
			s.backpressure.Add(1)
			s.logger.Debug("dropping frame: outbound buffer full",
				"seq", canonical.Seq,
				"trace_id", canonical.TraceID,
			)
			return
		}
		s.routeErrors.Add(1)
		s.logger.Warn("dropping frame: route failed", "error", err, "trace_id", canonical.TraceID)
		return
	}

	s.seq++
	s.lastSeq.Store(s.seq)
	s.published.Add(1)

	s.logger.Debug("frame published",
		"seq", s.seq,
		"size", len(body),
		"trace_id", canonical.TraceID,
	)
}

// fail stops the session after an encoder error. The subscription stays
// registered until the manager removes the session; OnFrame ignores it.
func (s *Session) fail(err error) {
	s.stopped.Store(true)
	s.state.Store(int32(StateStopped))
	s.logger.Error("session stopped: encoder failure", "error", err)
}

// stop sets the shutdown flag and unsubscribes. After it returns no
// callback for this session is running.
func (s *Session) stop() error {
	s.stopped.Store(true)

	var err error
	if s.sub != nil {
		err = s.sub.Unsubscribe()
	}
	s.state.Store(int32(StateStopped))
	return err
}

// SessionStats is a snapshot of session counters
type SessionStats struct {
	ID            string    `json:"id"`
	SourceTopic   string    `json:"source_topic"`
	OutputTopic   string    `json:"output_topic"`
	State         string    `json:"state"`
	Received      uint64    `json:"received"`
	Published     uint64    `json:"published"`
	ConvertErrors uint64    `json:"convert_errors"`
	Backpressure  uint64    `json:"backpressure_drops"`
	RouteErrors   uint64    `json:"route_errors"`
	LastSeq       uint64    `json:"last_seq"`
	LastFrameAt   time.Time `json:"last_frame_at,omitempty"`
	Rate          RateStats `json:"rate"`
}

// Stats returns a snapshot of the session counters
func (s *Session) Stats() SessionStats {
	stats := SessionStats{
		ID:            s.id.String(),
		SourceTopic:   s.sourceTopic,
		OutputTopic:   s.outputTopic,
		State:         s.State().String(),
		Received:      s.received.Load(),
		Published:     s.published.Load(),
		ConvertErrors: s.convertErrors.Load(),
		Backpressure:  s.backpressure.Load(),
		RouteErrors:   s.routeErrors.Load(),
		LastSeq:       s.lastSeq.Load(),
		Rate:          s.rate.stats(),
	}
	if ns := s.lastFrameAt.Load(); ns != 0 {
		stats.LastFrameAt = time.Unix(0, ns)
	}
	return stats
}

// DropRate returns the fraction (0.0 to 1.0) of received frames that were not published.
// Returns 0.0 if nothing has been received.
func DropRate(stats SessionStats) float64 {
	if stats.Received == 0 || stats.Published >= stats.Received {
		return 0.0
	}
	dropped := stats.Received - stats.Published
	return float64(dropped) / float64(stats.Received)
}
