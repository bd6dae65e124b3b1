package discovery

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/backkem/devbus/pkg/frame"
)

// Handle is a stable reference to a device record. A handle outlives its
// record: once the device is destroyed the handle stops resolving, even
// if the slot is reused for another device. The zero Handle never
// resolves.
type Handle struct {
	index      uint32
	generation uint32
}

// IsZero reports whether h is the zero handle.
func (h Handle) IsZero() bool {
	return h.generation == 0
}

// String returns a debug representation.
func (h Handle) String() string {
	return fmt.Sprintf("dev#%d.%d", h.index, h.generation)
}

// Device is a snapshot of one device record.
type Device struct {
	// Handle identifies the record.
	Handle Handle

	// ID is the 64-bit device identifier.
	ID uint64

	// ShortID is the human-readable label of ID.
	ShortID string

	// Status is entry 0 of the last announce: restart counter and
	// capability flags.
	Status uint32

	// Services are the announced service classes; Services[i] is hosted
	// at service index i+1.
	Services []uint32

	// Created is when the record was allocated.
	Created time.Time

	// LastAnnounce is when the last announce arrived.
	LastAnnounce time.Time

	// Expiry is when the record is evicted unless the device announces.
	Expiry time.Time
}

// RestartCounter returns the restart counter from the status word.
func (d *Device) RestartCounter() uint8 {
	return uint8(d.Status & frame.AnnounceRestartCounterMask)
}

// SupportsACK reports whether the device answers CRC-ACK requests.
func (d *Device) SupportsACK() bool {
	return d.Status&frame.AnnounceSupportsACK != 0
}

// SupportsBroadcast reports whether the device handles broadcast commands.
func (d *Device) SupportsBroadcast() bool {
	return d.Status&frame.AnnounceSupportsBroadcast != 0
}

// ServiceIndex returns the index of the first service of a class.
func (d *Device) ServiceIndex(class uint32) (uint8, bool) {
	for i, c := range d.Services {
		if c == class {
			return uint8(i + 1), true
		}
	}
	return 0, false
}

// String returns a short description.
func (d *Device) String() string {
	return fmt.Sprintf("%s(%016x) rc=%d services=%d", d.ShortID, d.ID, d.RestartCounter(), len(d.Services))
}

func (d *Device) clone() Device {
	c := *d
	c.Services = append([]uint32(nil), d.Services...)
	return c
}

// Event is a device table notification.
type Event struct {
	Kind EventKind

	// Device is a snapshot of the record the event concerns. For
	// EventBroadcast only Device.ID is set: it holds the service class in
	// its low 32 bits.
	Device Device

	// Packet is the report that caused the event, if any.
	Packet *frame.Packet
}

// String returns a short description.
func (e Event) String() string {
	return fmt.Sprintf("%s %s", e.Kind, e.Device.ShortID)
}

// parseAnnounce splits an announce payload into the status word and the
// service classes. Trailing bytes that do not form a full entry are
// ignored.
func parseAnnounce(data []byte) (uint32, []uint32, error) {
	if len(data) < 4 {
		return 0, nil, ErrBadAnnounce
	}
	n := len(data) / 4
	status := binary.LittleEndian.Uint32(data)
	services := make([]uint32, 0, n-1)
	for i := 1; i < n; i++ {
		services = append(services, binary.LittleEndian.Uint32(data[i*4:]))
	}
	return status, services, nil
}

