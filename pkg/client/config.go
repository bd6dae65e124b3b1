package client

import (
	"time"

	"github.com/backkem/devbus/pkg/node"
	"github.com/backkem/devbus/pkg/transport"
	"github.com/pion/logging"
)

// Defaults for Config.
const (
	// DefaultPumpInterval is how often the pump goroutine runs Process.
	DefaultPumpInterval = 10 * time.Millisecond

	// DefaultEventQueueSize is the capacity of the callback queue.
	DefaultEventQueueSize = 256

	// DefaultRxQueueSize is the capacity of the received frame queue.
	DefaultRxQueueSize = 256
)

// Config configures a Client.
type Config struct {
	// DeviceID is the host node's identifier.
	// Required.
	DeviceID uint64

	// Link builds the physical-layer link.
	// Required.
	Link transport.LinkBuilder

	// Description is served by the host node's control service.
	Description string

	// Loopback makes the host node see its own frames, so it appears in
	// its own device table.
	Loopback bool

	// Observers see every packet the host node receives, on the pump
	// goroutine. They must not block.
	Observers []node.Observer

	// OnEvent receives client events on the callback goroutine. Optional.
	OnEvent func(Event)

	// PumpInterval is the Process period. Default: DefaultPumpInterval.
	PumpInterval time.Duration

	// EventQueueSize is the callback queue capacity. Events raised while
	// the queue is full are dropped. Default: DefaultEventQueueSize.
	EventQueueSize int

	// RxQueueSize is the received frame queue capacity.
	// Default: DefaultRxQueueSize.
	RxQueueSize int

	// Now returns the current time. Default: time.Now.
	Now func() time.Time

	// LoggerFactory is the factory for creating loggers.
	LoggerFactory logging.LoggerFactory
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.DeviceID == 0 {
		return node.ErrInvalidDeviceID
	}
	if c.Link == nil {
		return ErrNoLink
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.PumpInterval <= 0 {
		c.PumpInterval = DefaultPumpInterval
	}
	if c.EventQueueSize <= 0 {
		c.EventQueueSize = DefaultEventQueueSize
	}
	if c.RxQueueSize <= 0 {
		c.RxQueueSize = DefaultRxQueueSize
	}
}
