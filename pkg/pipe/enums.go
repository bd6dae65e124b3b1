// Package pipe implements reliable, ordered byte streams between two bus
// endpoints on top of ordinary frames.
//
// An output pipe owns one frame buffer addressed to the receiving device
// with COMMAND and ACK_REQUESTED set. Writes append sub-packets on the
// pipe service index; a flushed frame is retransmitted with doubling
// backoff until the receiver's CRC-ACK arrives. At most one frame per
// pipe is unacknowledged.
//
// An input pipe listens on a random 9-bit port and delivers each
// sub-packet at most once, using a 5-bit rolling counter carried in the
// command field.
package pipe

import "time"

// Pipe command field layout.
const (
	CounterMask uint16 = 0x001f
	FlagClose   uint16 = 0x0020
	FlagMeta    uint16 = 0x0040
	PortShift          = 7
	PortMask    uint16 = 0x01ff
)

// Defaults.
const (
	// DefaultRetryBase is the delay before the first retransmission.
	DefaultRetryBase = 8 * time.Millisecond

	// DefaultMaxRetries is the number of retransmissions before the final
	// grace period.
	DefaultMaxRetries = 4

	// openPayloadSize is device id (8) + port (2) + flags (2).
	openPayloadSize = 12
)

// OutputState is the lifecycle state of an output pipe.
type OutputState uint8

const (
	// StateFree means the pipe is closed and acknowledged, or was never opened.
	StateFree OutputState = iota
	// StateOpen accepts writes.
	StateOpen
	// StateClosedWaiting has sent its close packet and awaits the ACK.
	StateClosedWaiting
	// StateDropped ran out of retries; the pipe must be reopened.
	StateDropped
)

// String returns the state name.
func (s OutputState) String() string {
	switch s {
	case StateFree:
		return "Free"
	case StateOpen:
		return "Open"
	case StateClosedWaiting:
		return "ClosedWaiting"
	case StateDropped:
		return "Dropped"
	default:
		return "Unknown"
	}
}

// Command builds a pipe command field.
func Command(port uint16, counter uint8, meta, close bool) uint16 {
	cmd := (port&PortMask)<<PortShift | uint16(counter)&CounterMask
	if meta {
		cmd |= FlagMeta
	}
	if close {
		cmd |= FlagClose
	}
	return cmd
}

// PortOf extracts the port from a pipe command field.
func PortOf(cmd uint16) uint16 {
	return (cmd >> PortShift) & PortMask
}

// CounterOf extracts the sequence counter from a pipe command field.
func CounterOf(cmd uint16) uint8 {
	return uint8(cmd & CounterMask)
}
