package register

import "fmt"

// Entry is one element of a register descriptor.
type Entry struct {
	// Code is the register code (low 12 bits of the GET/SET command).
	// Ignored for padding.
	Code uint16

	// Type is the storage type.
	Type Type

	// Len is the byte length for TypeBytes and TypePadding.
	Len uint8
}

// Descriptor is the ordered list of entries describing a state block.
type Descriptor []Entry

// Entry constructors.
func U8(code uint16) Entry { return Entry{Code: code, Type: TypeU8} }
func U16(code uint16) Entry { return Entry{Code: code, Type: TypeU16} }
func U32(code uint16) Entry { return Entry{Code: code, Type: TypeU32} }
func U64(code uint16) Entry { return Entry{Code: code, Type: TypeU64} }
func I8(code uint16) Entry { return Entry{Code: code, Type: TypeI8} }
func I16(code uint16) Entry { return Entry{Code: code, Type: TypeI16} }
func I32(code uint16) Entry { return Entry{Code: code, Type: TypeI32} }
func I64(code uint16) Entry { return Entry{Code: code, Type: TypeI64} }
func Bit(code uint16) Entry { return Entry{Code: code, Type: TypeBit} }

// Bytes describes an n-byte array register.
func Bytes(code uint16, n uint8) Entry { return Entry{Code: code, Type: TypeBytes, Len: n} }

// Padding reserves n bytes in the layout.
func Padding(n uint8) Entry { return Entry{Type: TypePadding, Len: n} }

// Field is a descriptor entry placed in a state block.
type Field struct {
	Entry

	// Offset is the byte offset within the state block.
	Offset int

	// Bit is the bit position within the byte at Offset for bit
	// registers, and -1 otherwise.
	Bit int
}

// Size returns the on-wire size of the register value.
func (f *Field) Size() int {
	switch f.Type {
	case TypeBytes, TypePadding:
		return int(f.Len)
	default:
		return f.Type.Size()
	}
}

// Layout is a compiled descriptor.
type Layout struct {
	fields []Field
	byCode map[uint16]int
	size   int
}

// roundUp rounds n up to a multiple of align.
func roundUp(n, align int) int {
	return (n + align - 1) / align * align
}

// Compile computes the byte offsets of every entry.
//
// Numeric registers are aligned to min(size, 4). Byte arrays and padding
// are unaligned. Consecutive bit registers share a byte, eight per byte;
// any other entry closes the current bit byte.
func Compile(desc Descriptor) (*Layout, error) {
	l := &Layout{
		fields: make([]Field, 0, len(desc)),
		byCode: make(map[uint16]int, len(desc)),
	}

	off := 0
	bit := 0
	for i, e := range desc {
		if e.Type > TypePadding {
			return nil, fmt.Errorf("%w: entry %d has type %v", ErrInvalidEntry, i, e.Type)
		}

		if e.Type == TypeBit {
			l.add(Field{Entry: e, Offset: off, Bit: bit})
			bit++
			if bit == 8 {
				off++
				bit = 0
			}
			if _, dup := l.byCode[e.Code]; dup {
				return nil, fmt.Errorf("%w: 0x%03x", ErrDuplicateCode, e.Code)
			}
			l.byCode[e.Code] = len(l.fields) - 1
			continue
		}

		if bit > 0 {
			off++
			bit = 0
		}

		switch e.Type {
		case TypePadding:
			off += int(e.Len)
			continue
		case TypeBytes:
			if e.Len == 0 {
				return nil, fmt.Errorf("%w: zero-length bytes register 0x%03x", ErrInvalidEntry, e.Code)
			}
		default:
			off = roundUp(off, min(e.Type.Size(), 4))
		}

		if _, dup := l.byCode[e.Code]; dup {
			return nil, fmt.Errorf("%w: 0x%03x", ErrDuplicateCode, e.Code)
		}
		l.add(Field{Entry: e, Offset: off, Bit: -1})
		l.byCode[e.Code] = len(l.fields) - 1
		off += l.fields[len(l.fields)-1].Size()
	}
	if bit > 0 {
		off++
	}
	l.size = off

	return l, nil
}

// MustCompile is like Compile but panics on error. Intended for
// package-level descriptor tables.
func MustCompile(desc Descriptor) *Layout {
	l, err := Compile(desc)
	if err != nil {
		panic(err)
	}
	return l
}

func (l *Layout) add(f Field) {
	l.fields = append(l.fields, f)
}

// Size returns the number of bytes the state block must hold.
func (l *Layout) Size() int {
	return l.size
}

// Check reports ErrBlockTooSmall when block cannot hold the layout.
func (l *Layout) Check(block []byte) error {
	if len(block) < l.size {
		return fmt.Errorf("%w: %d bytes, need %d", ErrBlockTooSmall, len(block), l.size)
	}
	return nil
}

// Fields returns the placed registers in descriptor order.
func (l *Layout) Fields() []Field {
	return l.fields
}

// Find returns the field for a register code.
func (l *Layout) Find(code uint16) (*Field, bool) {
	i, ok := l.byCode[code]
	if !ok {
		return nil, false
	}
	return &l.fields[i], true
}
