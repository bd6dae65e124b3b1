package discovery

import (
	"encoding/binary"
	"hash/fnv"
)

// ShortID returns a four character label for a device identifier: two
// upper-case letters followed by two digits. Labels are stable across
// runs. Different devices may share a label.
func ShortID(deviceID uint64) string {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], deviceID)

	h := fnv.New32a()
	h.Write(buf[:])
	v := h.Sum32()
	v = (v >> 30) ^ (v & (1<<30 - 1))

	out := make([]byte, 4)
	out[0] = 'A' + byte(v%26)
	v /= 26
	out[1] = 'A' + byte(v%26)
	v /= 26
	out[2] = '0' + byte(v%10)
	v /= 10
	out[3] = '0' + byte(v%10)
	return string(out)
}
