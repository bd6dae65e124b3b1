package node

import "errors"

// Node errors.
var (
	// Configuration errors
	ErrInvalidDeviceID = errors.New("node: device identifier must be non-zero")
	ErrNoSender        = errors.New("node: sender is required")
	ErrTooManyServices = errors.New("node: max services exceeds available service indices")

	// Registry errors
	ErrRegistryFrozen = errors.New("node: registry is frozen after start")
	ErrRegistryFull   = errors.New("node: service registry is full")
	ErrNilService     = errors.New("node: service is nil")

	// Lifecycle errors
	ErrNotStarted     = errors.New("node: not started")
	ErrAlreadyStarted = errors.New("node: already started")
)
