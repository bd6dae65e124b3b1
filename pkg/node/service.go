package node

import (
	"time"

	"github.com/backkem/devbus/pkg/frame"
)

// Service is a unit of behavior hosted by a node.
//
// Services are registered once before the node starts and live for the
// node's lifetime. HandlePacket receives every command routed to the
// service's index; it must not block.
type Service interface {
	// ServiceClass returns the 32-bit class announced for the service.
	ServiceClass() uint32

	// HandlePacket handles a command addressed to the service.
	HandlePacket(h *Handle, pkt *frame.Packet)
}

// ServiceProcessor is implemented by services that need periodic work.
type ServiceProcessor interface {
	Process(h *Handle, now time.Time)
}

// Processor is node-level periodic work, such as pipe retries or
// device table eviction.
type Processor interface {
	Process(now time.Time)
}

// ProcessorFunc adapts a function to the Processor interface.
type ProcessorFunc func(now time.Time)

// Process calls f(now).
func (f ProcessorFunc) Process(now time.Time) { f(now) }

// Observer sees every valid packet the node receives, before routing.
type Observer interface {
	ObservePacket(pkt *frame.Packet)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(pkt *frame.Packet)

// ObservePacket calls f(pkt).
func (f ObserverFunc) ObservePacket(pkt *frame.Packet) { f(pkt) }

// CommandHook is offered commands addressed to this node on indices that
// no registered service owns. It returns true when it consumed the packet.
type CommandHook interface {
	HandleCommand(pkt *frame.Packet) bool
}

// CommandHookFunc adapts a function to the CommandHook interface.
type CommandHookFunc func(pkt *frame.Packet) bool

// HandleCommand calls f(pkt).
func (f CommandHookFunc) HandleCommand(pkt *frame.Packet) bool { return f(pkt) }
