package frame

import (
	"encoding/binary"
	"fmt"
)

// Frame is one physical transmission unit on the bus.
//
// Wire layout (all multi-byte fields little-endian):
//
//	checksum (2) | payload size (1) | flags (1) | device identifier (8) | payload (0-236)
//
// The checksum covers every byte from offset 2 to the end of the payload.
type Frame struct {
	// CRC is the stored checksum. Use Seal to compute it and Validate to
	// check it.
	CRC uint16

	// Size is the declared payload length.
	Size uint8

	// Flags is the frame flag set.
	Flags Flags

	// DeviceID is the sender (reports), the addressee (commands), or a
	// service class in the low 32 bits (FlagIdentifierIsServiceClass).
	DeviceID uint64

	// Data holds the payload; only Data[:Size] is meaningful.
	Data [MaxPayloadSize]byte
}

// New returns an empty frame for the given device identifier and flags.
func New(deviceID uint64, flags Flags) *Frame {
	return &Frame{
		DeviceID: deviceID,
		Flags:    flags,
	}
}

// Reset empties the frame and rebinds it to a device identifier and flags.
func (f *Frame) Reset(deviceID uint64, flags Flags) {
	f.CRC = 0
	f.Size = 0
	f.Flags = flags
	f.DeviceID = deviceID
}

// Payload returns the declared payload bytes. The slice aliases the frame.
func (f *Frame) Payload() []byte {
	return f.Data[:f.Size]
}

// IsEmpty reports whether the frame carries no sub-packets.
func (f *Frame) IsEmpty() bool {
	return f.Size == 0
}

// IsCommand reports whether the frame is addressed to DeviceID.
func (f *Frame) IsCommand() bool {
	return f.Flags.Has(FlagCommand)
}

// WireSize returns the encoded size of the frame in bytes.
func (f *Frame) WireSize() int {
	return HeaderSize + int(f.Size)
}

// EncodeTo serializes the frame into buf, which must hold WireSize bytes.
// FlagLoopback is never serialized.
// Returns the number of bytes written.
func (f *Frame) EncodeTo(buf []byte) int {
	binary.LittleEndian.PutUint16(buf[0:], f.CRC)
	buf[2] = f.Size
	buf[3] = uint8(f.Flags &^ FlagLoopback)
	binary.LittleEndian.PutUint64(buf[4:], f.DeviceID)
	copy(buf[HeaderSize:], f.Data[:f.Size])
	return f.WireSize()
}

// Bytes returns the wire encoding of the frame.
func (f *Frame) Bytes() []byte {
	buf := make([]byte, f.WireSize())
	f.EncodeTo(buf)
	return buf
}

// ComputeCRC computes the checksum over bytes [2, 12+Size) of the wire
// encoding.
func (f *Frame) ComputeCRC() uint16 {
	var buf [MaxFrameSize]byte
	n := f.EncodeTo(buf[:])
	return CRC16(buf[crcOffset:n])
}

// Seal computes and stores the checksum.
func (f *Frame) Seal() {
	f.CRC = f.ComputeCRC()
}

// Validate reports whether the stored checksum matches the frame contents.
func (f *Frame) Validate() bool {
	return f.CRC == f.ComputeCRC()
}

// Clone returns a deep copy of the frame.
func (f *Frame) Clone() *Frame {
	c := *f
	return &c
}

// String returns a short human-readable description.
func (f *Frame) String() string {
	return fmt.Sprintf("frame{crc=%04x size=%d flags=%s dev=%016x}", f.CRC, f.Size, f.Flags, f.DeviceID)
}

// Parse decodes a frame from wire data. It checks the declared length
// against the buffer but does not verify the checksum; call Validate.
// Bytes past the declared length are ignored.
func Parse(data []byte) (*Frame, error) {
	f := &Frame{}
	if err := f.Decode(data); err != nil {
		return nil, err
	}
	return f, nil
}

// Decode deserializes wire data into f.
func (f *Frame) Decode(data []byte) error {
	if len(data) < HeaderSize {
		return ErrShortFrame
	}

	size := data[2]
	if int(size) > MaxPayloadSize {
		return ErrFrameTooLong
	}
	if len(data) < HeaderSize+int(size) {
		return ErrShortFrame
	}

	f.CRC = binary.LittleEndian.Uint16(data[0:])
	f.Size = size
	f.Flags = Flags(data[3])
	f.DeviceID = binary.LittleEndian.Uint64(data[4:])
	copy(f.Data[:], data[HeaderSize:HeaderSize+int(size)])
	return nil
}
