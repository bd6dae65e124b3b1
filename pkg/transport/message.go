package transport

import "net"

// ReceivedFrame is an encoded frame as it arrived from a link.
// The bytes are not validated; the node checks length and checksum.
type ReceivedFrame struct {
	// Data contains the raw frame bytes. The handler owns the slice.
	Data []byte

	// Source identifies where the frame came from, if the medium knows.
	Source net.Addr

	// Link is the type of link the frame arrived on.
	Link LinkType
}

// FrameHandler is called for each received frame.
// Implementations should return quickly or hand the frame to another
// goroutine to avoid blocking the link's read loop.
type FrameHandler func(f *ReceivedFrame)

// Link is a physical-layer adapter that moves encoded frames.
//
// Every frame sent on a link reaches every other endpoint of the segment;
// addressing happens inside the frame.
type Link interface {
	// Start begins delivering received frames to the configured handler.
	Start() error

	// Stop closes the link and waits for its read loop to exit.
	Stop() error

	// Send transmits one encoded frame.
	Send(data []byte) error
}
