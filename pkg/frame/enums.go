// Package frame implements the bus wire format: frame layout, the frame
// checksum, and packing/unpacking of sub-packets within a frame payload.
//
// The package provides:
//   - Frame header encoding/decoding (little-endian on the wire)
//   - The 16-bit frame checksum
//   - Sub-packet push and iteration
//   - Byte-stream framing for serial-like links
package frame

// Flags is the frame flag set (header byte 3).
type Flags uint8

const (
	// FlagCommand marks the device identifier as the addressee rather than
	// the sender.
	FlagCommand Flags = 0x01

	// FlagAckRequested asks the addressee to CRC-ACK the whole frame.
	FlagAckRequested Flags = 0x02

	// FlagIdentifierIsServiceClass marks the low 32 bits of the device
	// identifier as a service class (broadcast by class).
	FlagIdentifierIsServiceClass Flags = 0x04

	// FlagLoopback marks a locally injected frame. It is never transmitted.
	FlagLoopback Flags = 0x40
)

// Has reports whether all bits of mask are set.
func (f Flags) Has(mask Flags) bool {
	return f&mask == mask
}

// String returns a compact representation such as "CMD|ACK".
func (f Flags) String() string {
	if f == 0 {
		return "-"
	}
	s := ""
	add := func(name string) {
		if s != "" {
			s += "|"
		}
		s += name
	}
	if f.Has(FlagCommand) {
		add("CMD")
	}
	if f.Has(FlagAckRequested) {
		add("ACK")
	}
	if f.Has(FlagIdentifierIsServiceClass) {
		add("BCAST")
	}
	if f.Has(FlagLoopback) {
		add("LOOP")
	}
	if rest := f &^ (FlagCommand | FlagAckRequested | FlagIdentifierIsServiceClass | FlagLoopback); rest != 0 {
		add("?")
	}
	return s
}

// Wire sizes.
const (
	// HeaderSize is checksum (2) + size (1) + flags (1) + device identifier (8).
	HeaderSize = 12

	// MaxPayloadSize is the largest payload a frame can carry.
	MaxPayloadSize = 236

	// MaxFrameSize is the largest encoded frame.
	MaxFrameSize = HeaderSize + MaxPayloadSize

	// PacketHeaderSize is size (1) + service index (1) + service command (2).
	PacketHeaderSize = 4

	// MaxPacketDataSize is the largest data block of a single sub-packet.
	MaxPacketDataSize = MaxPayloadSize - PacketHeaderSize

	// crcOffset is where checksum coverage starts.
	crcOffset = 2
)

// Reserved service indices.
const (
	// ServiceIndexControl hosts the control service and announce reports.
	ServiceIndexControl uint8 = 0x00

	// ServiceIndexMaxNormal is the first index not available to regular services.
	ServiceIndexMaxNormal uint8 = 0x30

	// ServiceIndexPipe carries pipe (stream) traffic.
	ServiceIndexPipe uint8 = 0x3e

	// ServiceIndexCRCAck carries frame acknowledgements.
	ServiceIndexCRCAck uint8 = 0x3f

	// ServiceIndexMask masks the index bits of the service index byte.
	ServiceIndexMask uint8 = 0x3f
)

// Service command layout.
const (
	CmdGetRegister   uint16 = 0x1000
	CmdSetRegister   uint16 = 0x2000
	CmdTypeMask      uint16 = 0xf000
	RegisterCodeMask uint16 = 0x0fff

	CmdEventMask         uint16 = 0x8000
	CmdEventCodeMask     uint16 = 0x00ff
	CmdEventCounterMask  uint16 = 0x007f
	CmdEventCounterShift        = 8

	// CmdAnnounce is the control-service command used for announces.
	CmdAnnounce uint16 = 0x0000

	// CmdCommandNotImplemented reports an addressed command that was rejected.
	CmdCommandNotImplemented uint16 = 0x0003
)

// ServiceClassControl is the class of the built-in control service.
const ServiceClassControl uint32 = 0x00000000

// Announce status word (entry 0 of an announce payload).
const (
	AnnounceRestartCounterMask uint32 = 0x0000000f
	AnnounceRestartCounterMax  uint32 = 0x0000000f
	AnnounceSupportsACK        uint32 = 0x00000100
	AnnounceSupportsBroadcast  uint32 = 0x00000200
	AnnounceSupportsFrames     uint32 = 0x00000400
)

// GetCommand returns the GET command for a register code.
func GetCommand(code uint16) uint16 {
	return CmdGetRegister | (code & RegisterCodeMask)
}

// SetCommand returns the SET command for a register code.
func SetCommand(code uint16) uint16 {
	return CmdSetRegister | (code & RegisterCodeMask)
}

// EventCommand encodes an event code with a rolling counter.
func EventCommand(code uint8, counter uint8) uint16 {
	return CmdEventMask |
		(uint16(counter)&CmdEventCounterMask)<<CmdEventCounterShift |
		uint16(code)&CmdEventCodeMask
}
