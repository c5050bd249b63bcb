package bridge

import "errors"

var (
	// ErrSessionNotFound is returned when a handle does not name a live session
	ErrSessionNotFound = errors.New("session not found")

	// ErrManagerClosed is returned by operations after Close
	ErrManagerClosed = errors.New("bridge manager is closed")
)
