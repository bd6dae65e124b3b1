package pipe

import "errors"

// Pipe errors.
var (
	// ErrTryAgain means the write could not be accepted now: the frame
	// was full and has been flushed, or a frame is awaiting its ACK.
	ErrTryAgain = errors.New("pipe: try again")

	// ErrTimeout means the pipe ran out of retries and was dropped.
	ErrTimeout = errors.New("pipe: dropped after retries")

	// ErrClosed means the pipe is closed.
	ErrClosed = errors.New("pipe: closed")

	// ErrNoFreePort means every input port is in use.
	ErrNoFreePort = errors.New("pipe: no free port")

	// ErrTooLarge means the data cannot fit a single sub-packet.
	ErrTooLarge = errors.New("pipe: data too large for a frame")

	// ErrBadOpenCommand means an open command payload is malformed.
	ErrBadOpenCommand = errors.New("pipe: malformed open command")

	// ErrNoSender means no frame sender was configured.
	ErrNoSender = errors.New("pipe: sender is required")

	// ErrNoHandler means no packet handler was given.
	ErrNoHandler = errors.New("pipe: handler is required")
)
