// Package router binds encoded frames to output topics and hands them to the
// shared outbound publisher as two-part (topic, body) messages.
package router

import (
	"errors"
	"fmt"
	"sync"

	"github.com/e7canasta/orion-bridge/internal/types"
)

// Sender is the outbound transport. Send must not block: a full outbound
// buffer is reported as an error wrapping types.ErrBackpressure.
//
// Sender implementations are not required to be safe for concurrent use;
// Router serializes every call.
type Sender interface {
	Send(topic string, body []byte) error
}

// Router serializes access to a single Sender so that the topic part of one
// message is always followed by its own body.
type Router struct {
	mu     sync.Mutex
	sender Sender

	routed  map[string]uint64
	dropped map[string]uint64
	failed  map[string]uint64
}

// New creates a Router over sender
func New(sender Sender) *Router {
	return &Router{
		sender:  sender,
		routed:  make(map[string]uint64),
		dropped: make(map[string]uint64),
		failed:  make(map[string]uint64),
	}
}

// Route sends body on topic.
//
// Returns an error wrapping types.ErrBackpressure when the sender's buffer is
// full; the caller decides whether to drop. Never blocks on the network.
func (r *Router) Route(topic string, body []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.sender.Send(topic, body); err != nil {
		if errors.Is(err, types.ErrBackpressure) {
			r.dropped[topic]++
			return err
		}
		r.failed[topic]++
		return fmt.Errorf("route %q: %w", topic, err)
	}

	r.routed[topic]++
	return nil
}

// RoutePayload is Route for an EncodedPayload
func (r *Router) RoutePayload(p types.EncodedPayload) error {
	return r.Route(p.Topic, p.Body)
}

// Stats is a per-topic snapshot of routing outcomes
type Stats struct {
	Routed  map[string]uint64
	Dropped map[string]uint64
	Failed  map[string]uint64
}

// Stats returns a snapshot of per-topic counters
func (r *Router) Stats() Stats {
	r.mu.Lock()
	defer r.mu.Unlock()

	return Stats{
		Routed:  copyCounts(r.routed),
		Dropped: copyCounts(r.dropped),
		Failed:  copyCounts(r.failed),
	}
}

func copyCounts(src map[string]uint64) map[string]uint64 {
	dst := make(map[string]uint64, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
