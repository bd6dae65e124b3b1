package transport

import "errors"

// Transport errors.
var (
	// ErrClosed is returned when an operation is attempted on a closed link.
	ErrClosed = errors.New("transport: closed")

	// ErrInvalidAddress is returned when a peer address cannot be used.
	ErrInvalidAddress = errors.New("transport: invalid address")

	// ErrNoHandler is returned when no frame handler is configured.
	ErrNoHandler = errors.New("transport: no frame handler configured")

	// ErrNotStarted is returned when an operation requires a started link.
	ErrNotStarted = errors.New("transport: not started")

	// ErrAlreadyStarted is returned when Start is called on a running link.
	ErrAlreadyStarted = errors.New("transport: already started")

	// ErrNoConn is returned when a stream link has no connection.
	ErrNoConn = errors.New("transport: no connection")

	// ErrSendFailed is returned when a frame could not be delivered to any peer.
	ErrSendFailed = errors.New("transport: send failed")

	// ErrFrameTooLarge is returned when a frame exceeds the bus maximum.
	ErrFrameTooLarge = errors.New("transport: frame too large")

	// ErrNoLinks is returned when a manager has no links configured.
	ErrNoLinks = errors.New("transport: no links configured")
)
