package frame

import (
	"encoding/binary"
	"fmt"
)

// Packet is one addressed command or report carried inside a frame.
//
// Sub-packet layout within the frame payload:
//
//	size (1) | service index (1) | service command (2, LE) | data (size) | zero padding to 4
//
// A decoded Packet also carries the header fields of its frame so that
// handlers can address replies and acknowledgements.
type Packet struct {
	// CRC is the checksum of the frame the packet arrived in.
	CRC uint16

	// Flags are the flags of the containing frame.
	Flags Flags

	// DeviceID is the device identifier of the containing frame.
	DeviceID uint64

	// ServiceIndex selects the service on the node.
	ServiceIndex uint8

	// ServiceCommand is the service-specific command or report code.
	ServiceCommand uint16

	// Data is the packet payload. It is owned by the Packet.
	Data []byte
}

// IsCommand reports whether the packet is a command (addressed to DeviceID).
func (p *Packet) IsCommand() bool {
	return p.Flags.Has(FlagCommand)
}

// IsReport reports whether the packet is a report (sent by DeviceID).
func (p *Packet) IsReport() bool {
	return !p.IsCommand()
}

// IsBroadcast reports whether the device identifier names a service class.
func (p *Packet) IsBroadcast() bool {
	return p.Flags.Has(FlagIdentifierIsServiceClass)
}

// IsLoopback reports whether the packet was injected locally.
func (p *Packet) IsLoopback() bool {
	return p.Flags.Has(FlagLoopback)
}

// BroadcastClass returns the service class of a broadcast packet.
func (p *Packet) BroadcastClass() uint32 {
	return uint32(p.DeviceID)
}

// IsRegisterGet reports whether the command is a register GET.
func (p *Packet) IsRegisterGet() bool {
	return p.ServiceCommand&CmdTypeMask == CmdGetRegister
}

// IsRegisterSet reports whether the command is a register SET.
func (p *Packet) IsRegisterSet() bool {
	return p.ServiceCommand&CmdTypeMask == CmdSetRegister
}

// IsEvent reports whether the packet is an event report.
func (p *Packet) IsEvent() bool {
	return p.IsReport() && p.ServiceCommand&CmdEventMask != 0
}

// RegisterCode returns the register code of a GET or SET command.
func (p *Packet) RegisterCode() uint16 {
	return p.ServiceCommand & RegisterCodeMask
}

// IsAnnounce reports whether the packet is an announce report.
func (p *Packet) IsAnnounce() bool {
	return p.IsReport() &&
		!p.IsBroadcast() &&
		p.ServiceIndex == ServiceIndexControl &&
		p.ServiceCommand == CmdAnnounce
}

// String returns a short human-readable description.
func (p *Packet) String() string {
	return fmt.Sprintf("pkt{dev=%016x flags=%s idx=%d cmd=%04x len=%d}",
		p.DeviceID, p.Flags, p.ServiceIndex, p.ServiceCommand, len(p.Data))
}

// align4 rounds n up to the next multiple of 4.
func align4(n int) int {
	return (n + 3) &^ 3
}

// Push appends a sub-packet to the frame, aligned to a 4-byte boundary,
// and advances the declared size. It returns the payload offset of the
// new sub-packet. When the sub-packet does not fit, ErrFrameFull is
// returned and the frame is left untouched.
func (f *Frame) Push(serviceIndex uint8, command uint16, data []byte) (int, error) {
	if len(data) > MaxPacketDataSize {
		return 0, ErrPacketTooLarge
	}

	start := align4(int(f.Size))
	end := start + PacketHeaderSize + len(data)
	if end > MaxPayloadSize {
		return 0, ErrFrameFull
	}

	// Zero the alignment gap left by the previous sub-packet.
	for i := int(f.Size); i < start; i++ {
		f.Data[i] = 0
	}

	f.Data[start] = uint8(len(data))
	f.Data[start+1] = serviceIndex
	binary.LittleEndian.PutUint16(f.Data[start+2:], command)
	copy(f.Data[start+PacketHeaderSize:], data)
	f.Size = uint8(end)

	return start, nil
}

// HasRoom reports whether a sub-packet with n data bytes would fit.
func (f *Frame) HasRoom(n int) bool {
	return align4(int(f.Size))+PacketHeaderSize+n <= MaxPayloadSize
}

// PacketAt decodes the sub-packet starting at payload offset off.
func (f *Frame) PacketAt(off int) (*Packet, error) {
	size := int(f.Size)
	if off+PacketHeaderSize > size {
		return nil, ErrBadPacket
	}
	n := int(f.Data[off])
	if off+PacketHeaderSize+n > size {
		return nil, ErrBadPacket
	}

	data := make([]byte, n)
	copy(data, f.Data[off+PacketHeaderSize:])

	return &Packet{
		CRC:            f.CRC,
		Flags:          f.Flags,
		DeviceID:       f.DeviceID,
		ServiceIndex:   f.Data[off+1],
		ServiceCommand: binary.LittleEndian.Uint16(f.Data[off+2:]),
		Data:           data,
	}, nil
}

// Iterator walks the sub-packets of a frame in order.
//
// The walk does not modify the frame; packets returned by Next own their
// data and stay valid after the frame is reused.
type Iterator struct {
	f    *Frame
	off  int
	err  error
	done bool
}

// Packets returns an iterator over the frame's sub-packets.
func (f *Frame) Packets() *Iterator {
	return &Iterator{f: f}
}

// Next returns the next sub-packet, or false when the frame is exhausted
// or the next sub-packet is malformed (see Err).
func (it *Iterator) Next() (*Packet, bool) {
	if it.done {
		return nil, false
	}
	if int(it.f.Size)-it.off < PacketHeaderSize {
		it.done = true
		return nil, false
	}

	pkt, err := it.f.PacketAt(it.off)
	if err != nil {
		it.err = err
		it.done = true
		return nil, false
	}

	it.off = align4(it.off + PacketHeaderSize + len(pkt.Data))
	return pkt, true
}

// Err returns the error that stopped the walk, if any.
func (it *Iterator) Err() error {
	return it.err
}

// AllPackets decodes every sub-packet of the frame.
func (f *Frame) AllPackets() ([]*Packet, error) {
	var pkts []*Packet
	it := f.Packets()
	for {
		pkt, ok := it.Next()
		if !ok {
			break
		}
		pkts = append(pkts, pkt)
	}
	return pkts, it.Err()
}

// Single builds a sealed frame carrying exactly one sub-packet.
func Single(deviceID uint64, flags Flags, serviceIndex uint8, command uint16, data []byte) (*Frame, error) {
	f := New(deviceID, flags)
	if _, err := f.Push(serviceIndex, command, data); err != nil {
		return nil, err
	}
	f.Seal()
	return f, nil
}
