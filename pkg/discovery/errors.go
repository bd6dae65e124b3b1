package discovery

import "errors"

// Package-level sentinel errors for device table operations.
var (
	// ErrUnknownDevice is returned for a handle whose device was destroyed.
	ErrUnknownDevice = errors.New("discovery: unknown device")

	// ErrTableFull is returned when no slot is free for a new device.
	ErrTableFull = errors.New("discovery: device table full")

	// ErrNoQuerier is returned by Query when the table cannot send commands.
	ErrNoQuerier = errors.New("discovery: no querier configured")

	// ErrNotCached is returned by Query before the first reply arrives.
	ErrNotCached = errors.New("discovery: register value not cached yet")

	// ErrBadAnnounce is logged for announces too short to hold a status word.
	ErrBadAnnounce = errors.New("discovery: malformed announce")
)
