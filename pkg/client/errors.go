package client

import "errors"

// Package-level errors.
var (
	// ErrAlreadyStarted is returned when Start is called on a running client.
	ErrAlreadyStarted = errors.New("client: already started")

	// ErrNotStarted is returned when an operation requires a running client.
	ErrNotStarted = errors.New("client: not started")

	// ErrAlreadyStopped is returned when Stop is called twice.
	ErrAlreadyStopped = errors.New("client: already stopped")

	// ErrNoLink is returned when Config.Link is nil.
	ErrNoLink = errors.New("client: link builder is required")

	// ErrNotBound is returned when no remote service is bound.
	ErrNotBound = errors.New("client: no remote service bound")
)
