package frame

// CRC16 computes the bus checksum over data.
//
// The algorithm is the bit-shift form of CRC-16/CCITT with initial value
// 0xFFFF. Every device on the bus computes it the same way; it must not be
// replaced by a differently-seeded or reflected variant.
func CRC16(data []byte) uint16 {
	crc := uint16(0xffff)
	for _, b := range data {
		x := uint8(crc>>8) ^ b
		x ^= x >> 4
		crc = (crc << 8) ^ (uint16(x) << 12) ^ (uint16(x) << 5) ^ uint16(x)
	}
	return crc
}
