package discovery

import (
	"fmt"
	"time"
)

// Table timing and sizing defaults.
const (
	// DefaultDeviceTimeout is how long a device lives without announcing.
	DefaultDeviceTimeout = 2 * time.Second

	// DefaultScanInterval is the minimum time between eviction scans.
	DefaultScanInterval = 300 * time.Millisecond

	// DefaultCapacity is the default number of device slots.
	DefaultCapacity = 64

	// DefaultQueryRetry is the minimum time between two GETs for the same
	// register while no reply has arrived.
	DefaultQueryRetry = 100 * time.Millisecond
)

// EventKind identifies a device table event.
type EventKind uint8

const (
	// EventCreated is raised when a device record is allocated.
	EventCreated EventKind = iota + 1

	// EventDestroyed is raised when a device record is freed, either on
	// expiry or because the device rebooted.
	EventDestroyed

	// EventAnnounce is raised for each announce of a known device.
	EventAnnounce

	// EventBroadcast is raised for reports addressed to a service class.
	EventBroadcast

	// EventPacket is raised for other reports from a known device.
	EventPacket
)

// String returns the event kind name.
func (k EventKind) String() string {
	switch k {
	case EventCreated:
		return "created"
	case EventDestroyed:
		return "destroyed"
	case EventAnnounce:
		return "announce"
	case EventBroadcast:
		return "broadcast"
	case EventPacket:
		return "packet"
	default:
		return fmt.Sprintf("EventKind(%d)", uint8(k))
	}
}
