package types

import "errors"

// Pipeline error taxonomy. Components wrap these with context; match with errors.Is.
var (
	// ErrUnsupportedFormat is returned for Unknown formats or a byte length
	// that does not match the declared dimensions and format.
	ErrUnsupportedFormat = errors.New("unsupported pixel format")

	// ErrInvalidDimensions is returned for zero-width or zero-height frames.
	ErrInvalidDimensions = errors.New("invalid frame dimensions")

	// ErrBackpressure is returned when the outbound buffer is full.
	ErrBackpressure = errors.New("outbound buffer full")

	// ErrSubscription is returned when a source topic cannot be subscribed.
	ErrSubscription = errors.New("subscription failed")

	// ErrDuplicateTopic is returned when a source topic already has a session.
	ErrDuplicateTopic = errors.New("source topic already registered")
)
