package client

import (
	"fmt"

	"github.com/backkem/devbus/pkg/discovery"
	"github.com/backkem/devbus/pkg/frame"
)

// EventKind identifies a client event.
type EventKind uint8

const (
	// EventDevice carries a device table event in Event.Device.
	EventDevice EventKind = iota + 1

	// EventBound is raised when a remote service is bound; Event.Bound
	// holds the device.
	EventBound

	// EventUnbound is raised when the bound device goes away.
	EventUnbound

	// EventPipeData carries a data packet of an input pipe.
	EventPipeData

	// EventPipeMeta carries a metadata packet of an input pipe.
	EventPipeMeta

	// EventPipeClosed is raised when the sender closes an input pipe.
	EventPipeClosed
)

// String returns the event kind name.
func (k EventKind) String() string {
	switch k {
	case EventDevice:
		return "device"
	case EventBound:
		return "bound"
	case EventUnbound:
		return "unbound"
	case EventPipeData:
		return "pipe-data"
	case EventPipeMeta:
		return "pipe-meta"
	case EventPipeClosed:
		return "pipe-closed"
	default:
		return fmt.Sprintf("EventKind(%d)", uint8(k))
	}
}

// Event is delivered to Config.OnEvent on the callback goroutine.
type Event struct {
	Kind EventKind

	// Device is set for EventDevice.
	Device discovery.Event

	// Bound is the bound device for EventBound and EventUnbound.
	Bound discovery.Device

	// Port is the input pipe port for pipe events.
	Port uint16

	// Packet is the pipe packet for EventPipeData and EventPipeMeta.
	Packet *frame.Packet
}
