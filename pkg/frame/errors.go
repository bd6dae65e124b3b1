package frame

import "errors"

// Frame layer errors.
var (
	// Decoding errors
	ErrShortFrame    = errors.New("frame: data too short")
	ErrFrameTooLong  = errors.New("frame: declared payload exceeds maximum size")
	ErrBadCRC        = errors.New("frame: checksum mismatch")
	ErrBadPacket     = errors.New("frame: sub-packet exceeds frame payload")
	ErrStreamFailure = errors.New("frame: failed to read from stream")

	// Encoding errors
	ErrFrameFull      = errors.New("frame: not enough space for sub-packet")
	ErrPacketTooLarge = errors.New("frame: sub-packet data too large")
)
