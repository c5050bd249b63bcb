// Package source defines the inbound camera transport contract and its implementations.
//
// A Transport resolves hierarchical topic names (e.g. "/gazebo/default/robot/camera/image")
// and delivers frames by invoking a Handler from a transport-owned goroutine, one per
// subscription. Handlers must not block for long: a stalled callback backs up the producer.
package source

import (
	"errors"

	"github.com/e7canasta/orion-bridge/internal/types"
)

// ErrUnknownTopic is returned by Subscribe when the topic cannot be resolved
var ErrUnknownTopic = errors.New("unknown source topic")

// Handler receives frames for one subscription, in arrival order
type Handler func(frame types.RawFrame)

// Transport is a subscribe-with-callback frame source
type Transport interface {
	// Subscribe registers fn for topic. Frames start flowing immediately.
	Subscribe(topic string, fn Handler) (Subscription, error)
}

// Subscription is an active registration returned by Subscribe
type Subscription interface {
	// Topic returns the subscribed topic name
	Topic() string

	// Unsubscribe stops delivery. When it returns, fn is no longer running
	// and will not be called again. Idempotent.
	Unsubscribe() error
}
