package register

import "github.com/backkem/devbus/pkg/frame"

// Responder sends a report on behalf of the service that owns a state block.
type Responder interface {
	Report(command uint16, data []byte) error
}

// Handle answers a register GET or SET packet against a state block.
//
// GET replies through r with the register's exact on-wire size. SET copies
// an exact-length payload verbatim; a shorter payload is zero- or
// sign-extended by type; a single byte against a bit register sets or
// clears that bit. SET on a read-only code is not handled.
//
// The result is the register code for a handled SET, the negated code for
// a handled GET, and 0 when nothing matched. On 0 the caller replies "not
// implemented". A block that fails Layout.Check matches nothing.
func Handle(block []byte, pkt *frame.Packet, l *Layout, r Responder) int {
	if l.Check(block) != nil {
		return 0
	}

	code := pkt.RegisterCode()
	switch {
	case pkt.IsRegisterGet():
		f, ok := l.Find(code)
		if !ok {
			return 0
		}
		if r != nil {
			r.Report(pkt.ServiceCommand, readField(block, f))
		}
		return -int(code)

	case pkt.IsRegisterSet():
		if IsReadOnly(code) {
			return 0
		}
		f, ok := l.Find(code)
		if !ok {
			return 0
		}
		writeField(block, f, pkt.Data)
		return int(code)
	}

	return 0
}

// readField returns a copy of the wire value of f.
func readField(block []byte, f *Field) []byte {
	if f.Type == TypeBit {
		if block[f.Offset]&(1<<f.Bit) != 0 {
			return []byte{1}
		}
		return []byte{0}
	}
	out := make([]byte, f.Size())
	copy(out, block[f.Offset:])
	return out
}

// writeField stores a wire value into f.
func writeField(block []byte, f *Field, data []byte) {
	if f.Type == TypeBit {
		mask := byte(1) << f.Bit
		if len(data) > 0 && data[0] != 0 {
			block[f.Offset] |= mask
		} else {
			block[f.Offset] &^= mask
		}
		return
	}

	dst := block[f.Offset : f.Offset+f.Size()]
	n := copy(dst, data)
	if n == len(dst) {
		return
	}

	var fill byte
	if f.Type.Signed() && n > 0 && data[n-1]&0x80 != 0 {
		fill = 0xff
	}
	for i := n; i < len(dst); i++ {
		dst[i] = fill
	}
}
