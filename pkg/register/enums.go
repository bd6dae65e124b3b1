// Package register implements the declarative register marshaling engine
// shared by every service.
//
// A service describes its state block with a Descriptor: an ordered list
// of (code, type, length) entries. Compile turns the descriptor into a
// Layout with byte offsets, and Handle answers register GET and SET
// commands against a state block without per-register code.
package register

import "fmt"

// Type is the storage type of a register.
type Type uint8

const (
	TypeU8 Type = iota
	TypeU16
	TypeU32
	TypeU64
	TypeI8
	TypeI16
	TypeI32
	TypeI64
	// TypeBit is a single bit; consecutive bit registers pack 8 per byte.
	TypeBit
	// TypeBytes is a fixed-length byte array.
	TypeBytes
	// TypePadding reserves bytes without a register code.
	TypePadding
)

// Size returns the storage size in bytes for fixed-size numeric types,
// 1 for bits and 0 for variable-length types.
func (t Type) Size() int {
	switch t {
	case TypeU8, TypeI8, TypeBit:
		return 1
	case TypeU16, TypeI16:
		return 2
	case TypeU32, TypeI32:
		return 4
	case TypeU64, TypeI64:
		return 8
	default:
		return 0
	}
}

// Signed reports whether the type is a signed integer.
func (t Type) Signed() bool {
	switch t {
	case TypeI8, TypeI16, TypeI32, TypeI64:
		return true
	default:
		return false
	}
}

// IsInteger reports whether the type is a numeric integer type.
func (t Type) IsInteger() bool {
	return t <= TypeI64
}

// String returns the type name.
func (t Type) String() string {
	switch t {
	case TypeU8:
		return "u8"
	case TypeU16:
		return "u16"
	case TypeU32:
		return "u32"
	case TypeU64:
		return "u64"
	case TypeI8:
		return "i8"
	case TypeI16:
		return "i16"
	case TypeI32:
		return "i32"
	case TypeI64:
		return "i64"
	case TypeBit:
		return "bit"
	case TypeBytes:
		return "bytes"
	case TypePadding:
		return "padding"
	default:
		return fmt.Sprintf("Type(%d)", uint8(t))
	}
}

// Register code ranges.
const (
	// CodeReadOnlyFirst is the first read-only register code.
	CodeReadOnlyFirst uint16 = 0x100

	// CodeReadOnlyLast is the last read-only register code.
	CodeReadOnlyLast uint16 = 0x1ff
)

// IsReadOnly reports whether a register code is in the read-only range.
func IsReadOnly(code uint16) bool {
	return code >= CodeReadOnlyFirst && code <= CodeReadOnlyLast
}
