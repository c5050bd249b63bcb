// Package bridge connects source subscriptions to the shared outbound publisher.
//
// A Manager owns one publisher and one router. Each AddSession subscribes a
// source topic and republishes its frames, converted and encoded, on an
// output topic. Sessions run independently on their transport callbacks; the
// router is the only point where they meet.
package bridge

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/e7canasta/orion-bridge/internal/envelope"
	"github.com/e7canasta/orion-bridge/internal/publisher"
	"github.com/e7canasta/orion-bridge/internal/router"
	"github.com/e7canasta/orion-bridge/internal/source"
	"github.com/e7canasta/orion-bridge/internal/types"
)

// DefaultOutputTopic is used when AddSession is given an empty output topic
const DefaultOutputTopic = "camera/image"

// Options configures a Manager
type Options struct {
	// Encoder serializes frames (default: map envelope)
	Encoder *envelope.Encoder
	// DefaultOutputTopic replaces an empty output topic (default: "camera/image")
	DefaultOutputTopic string
	// Logger (default: slog.Default())
	Logger *slog.Logger
}

// SessionHandle identifies a session returned by AddSession
type SessionHandle struct {
	ID          uuid.UUID
	SourceTopic string
}

// Stats is a snapshot of the whole bridge
type Stats struct {
	Sessions  []SessionStats
	Publisher publisher.Stats
	Router    router.Stats
}

// Manager owns the publisher and the set of active sessions
type Manager struct {
	transport source.Transport
	publisher publisher.Publisher
	router    *router.Router
	encoder   *envelope.Encoder

	defaultOutput string
	logger        *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*Session
	closed   bool
}

// NewManager creates a manager. The manager takes ownership of pub and
// closes it on Close.
func NewManager(transport source.Transport, pub publisher.Publisher, opts Options) (*Manager, error) {
	if transport == nil {
		return nil, fmt.Errorf("transport cannot be nil")
	}
	if pub == nil {
		return nil, fmt.Errorf("publisher cannot be nil")
	}

	if opts.Encoder == nil {
		enc, err := envelope.NewEncoder(envelope.FormatMap)
		if err != nil {
			return nil, err
		}
		opts.Encoder = enc
	}
	if opts.DefaultOutputTopic == "" {
		opts.DefaultOutputTopic = DefaultOutputTopic
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	return &Manager{
		transport:     transport,
		publisher:     pub,
		router:        router.New(pub),
		encoder:       opts.Encoder,
		defaultOutput: opts.DefaultOutputTopic,
		logger:        opts.Logger,
		sessions:      make(map[string]*Session),
	}, nil
}

// AddSession subscribes sourceTopic and republishes it on outputTopic.
//
// Returns types.ErrDuplicateTopic if sourceTopic already has a session and
// types.ErrSubscription if the transport rejects it. Existing sessions are
// never affected by a failed AddSession.
func (m *Manager) AddSession(sourceTopic, outputTopic string) (SessionHandle, error) {
	if outputTopic == "" {
		outputTopic = m.defaultOutput
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return SessionHandle{}, ErrManagerClosed
	}
	if _, exists := m.sessions[sourceTopic]; exists {
		return SessionHandle{}, fmt.Errorf("%w: %s", types.ErrDuplicateTopic, sourceTopic)
	}

	sess := newSession(sourceTopic, outputTopic, m.encoder, m.router, m.logger)
	if err := sess.subscribe(m.transport); err != nil {
		return SessionHandle{}, err
	}
	m.sessions[sourceTopic] = sess

	m.logger.Info("bridge session added",
		"session_id", sess.ID().String(),
		"source_topic", sourceTopic,
		"output_topic", outputTopic,
		"sessions", len(m.sessions),
	)

	return SessionHandle{ID: sess.ID(), SourceTopic: sourceTopic}, nil
}

// RemoveSession unsubscribes and forgets the session named by handle
func (m *Manager) RemoveSession(handle SessionHandle) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sess, ok := m.sessions[handle.SourceTopic]
	if !ok || sess.ID() != handle.ID {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, handle.SourceTopic)
	}

	delete(m.sessions, handle.SourceTopic)

	if err := sess.stop(); err != nil {
		m.logger.Warn("unsubscribe failed", "source_topic", handle.SourceTopic, "error", err)
	}

	stats := sess.Stats()
	m.logger.Info("bridge session removed",
		"session_id", stats.ID,
		"source_topic", stats.SourceTopic,
		"received", stats.Received,
		"published", stats.Published,
	)
	return nil
}

// Session returns the live session for sourceTopic
func (m *Manager) Session(sourceTopic string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sess, ok := m.sessions[sourceTopic]
	return sess, ok
}

// Sessions returns a snapshot of every live session, ordered by source topic
func (m *Manager) Sessions() []SessionStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]SessionStats, 0, len(m.sessions))
	for _, sess := range m.sessions {
		out = append(out, sess.Stats())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceTopic < out[j].SourceTopic })
	return out
}

// Stats returns session, publisher and router counters
func (m *Manager) Stats() Stats {
	return Stats{
		Sessions:  m.Sessions(),
		Publisher: m.publisher.Stats(),
		Router:    m.router.Stats(),
	}
}

// Close stops every session, then closes the publisher. Subscriptions are
// cancelled first so no callback can reach a closed publisher. Idempotent.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true

	var errs []error
	for topic, sess := range m.sessions {
		if err := sess.stop(); err != nil {
			errs = append(errs, fmt.Errorf("stop %s: %w", topic, err))
		}
	}
	count := len(m.sessions)
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	if err := m.publisher.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close publisher: %w", err))
	}

	m.logger.Info("bridge manager closed", "sessions_stopped", count)
	return errors.Join(errs...)
}
