package register

import (
	"encoding/binary"

	"github.com/backkem/devbus/pkg/frame"
)

// Block is a state block paired with its layout.
//
// Services keep their register values in a Block and read them through the
// typed accessors; the wire engine and the accessors see the same bytes.
// Block is not safe for concurrent use.
type Block struct {
	layout *Layout
	data   []byte
}

// NewBlock allocates a zeroed state block for a layout.
func NewBlock(l *Layout) *Block {
	return &Block{
		layout: l,
		data:   make([]byte, l.Size()),
	}
}

// Layout returns the block's layout.
func (b *Block) Layout() *Layout {
	return b.layout
}

// Bytes returns the raw state block. The slice aliases the block.
func (b *Block) Bytes() []byte {
	return b.data
}

// Handle answers a register GET or SET packet. See the package-level Handle.
func (b *Block) Handle(pkt *frame.Packet, r Responder) int {
	return Handle(b.data, pkt, b.layout, r)
}

func (b *Block) integer(code uint16) (*Field, error) {
	f, ok := b.layout.Find(code)
	if !ok {
		return nil, ErrUnknownRegister
	}
	if !f.Type.IsInteger() {
		return nil, ErrTypeMismatch
	}
	return f, nil
}

// Uint returns an integer register zero-extended to 64 bits.
func (b *Block) Uint(code uint16) (uint64, error) {
	f, err := b.integer(code)
	if err != nil {
		return 0, err
	}
	p := b.data[f.Offset:]
	switch f.Size() {
	case 1:
		return uint64(p[0]), nil
	case 2:
		return uint64(binary.LittleEndian.Uint16(p)), nil
	case 4:
		return uint64(binary.LittleEndian.Uint32(p)), nil
	default:
		return binary.LittleEndian.Uint64(p), nil
	}
}

// Int returns an integer register sign-extended to 64 bits.
func (b *Block) Int(code uint16) (int64, error) {
	f, err := b.integer(code)
	if err != nil {
		return 0, err
	}
	p := b.data[f.Offset:]
	switch f.Size() {
	case 1:
		return int64(int8(p[0])), nil
	case 2:
		return int64(int16(binary.LittleEndian.Uint16(p))), nil
	case 4:
		return int64(int32(binary.LittleEndian.Uint32(p))), nil
	default:
		return int64(binary.LittleEndian.Uint64(p)), nil
	}
}

// SetUint stores v truncated to the register size.
func (b *Block) SetUint(code uint16, v uint64) error {
	f, err := b.integer(code)
	if err != nil {
		return err
	}
	p := b.data[f.Offset:]
	switch f.Size() {
	case 1:
		p[0] = uint8(v)
	case 2:
		binary.LittleEndian.PutUint16(p, uint16(v))
	case 4:
		binary.LittleEndian.PutUint32(p, uint32(v))
	default:
		binary.LittleEndian.PutUint64(p, v)
	}
	return nil
}

// SetInt stores v truncated to the register size.
func (b *Block) SetInt(code uint16, v int64) error {
	return b.SetUint(code, uint64(v))
}

// Bit returns a bit register.
func (b *Block) Bit(code uint16) (bool, error) {
	f, ok := b.layout.Find(code)
	if !ok {
		return false, ErrUnknownRegister
	}
	if f.Type != TypeBit {
		return false, ErrTypeMismatch
	}
	return b.data[f.Offset]&(1<<f.Bit) != 0, nil
}

// SetBit sets or clears a bit register.
func (b *Block) SetBit(code uint16, on bool) error {
	f, ok := b.layout.Find(code)
	if !ok {
		return ErrUnknownRegister
	}
	if f.Type != TypeBit {
		return ErrTypeMismatch
	}
	if on {
		b.data[f.Offset] |= 1 << f.Bit
	} else {
		b.data[f.Offset] &^= 1 << f.Bit
	}
	return nil
}

// Value returns a copy of any register's wire value.
func (b *Block) Value(code uint16) ([]byte, error) {
	f, ok := b.layout.Find(code)
	if !ok {
		return nil, ErrUnknownRegister
	}
	return readField(b.data, f), nil
}

// SetValue stores a wire value with the same extension rules as a SET.
func (b *Block) SetValue(code uint16, data []byte) error {
	f, ok := b.layout.Find(code)
	if !ok {
		return ErrUnknownRegister
	}
	writeField(b.data, f, data)
	return nil
}
