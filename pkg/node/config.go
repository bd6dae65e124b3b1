package node

import (
	"time"

	"github.com/backkem/devbus/pkg/frame"
	"github.com/pion/logging"
)

// Defaults.
const (
	// DefaultAnnounceInterval is the period between announce reports.
	DefaultAnnounceInterval = 500 * time.Millisecond

	// DefaultMaxServices bounds the service table, control service included.
	DefaultMaxServices = 16

	// maxServices is the largest table the index space allows.
	maxServices = int(frame.ServiceIndexMaxNormal)
)

// Sender puts one encoded frame on the bus. transport.Link satisfies it.
type Sender interface {
	Send(data []byte) error
}

// Config holds the configuration of a Node.
type Config struct {
	// DeviceID is the node's 64-bit device identifier.
	// Required, non-zero.
	DeviceID uint64

	// Sender transmits encoded frames.
	// Required.
	Sender Sender

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time

	// AnnounceInterval is the period of announce reports (default: 500ms).
	AnnounceInterval time.Duration

	// MaxServices is the size of the service table including the control
	// service at index 0 (default: 16, max: 48).
	MaxServices int

	// Device information served by the control service.
	Description     string // register 0x180
	ProductID       uint32 // register 0x181
	FirmwareVersion uint32 // register 0x185

	// Loopback re-injects every transmitted frame into the node with
	// FlagLoopback set, so observers see this node's own traffic.
	Loopback bool

	// OnReset is called when a reset command arrives on the control
	// service. If nil, the node restarts its restart counter and uptime.
	OnReset func()

	// OnIdentify is called when an identify command arrives.
	OnIdentify func()

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if c.DeviceID == 0 {
		return ErrInvalidDeviceID
	}
	if c.Sender == nil {
		return ErrNoSender
	}
	if c.MaxServices > maxServices {
		return ErrTooManyServices
	}
	return nil
}

// applyDefaults fills in default values for unset fields.
func (c *Config) applyDefaults() {
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.AnnounceInterval == 0 {
		c.AnnounceInterval = DefaultAnnounceInterval
	}
	if c.MaxServices <= 0 {
		c.MaxServices = DefaultMaxServices
	}
	if len(c.Description) > frame.MaxPacketDataSize {
		c.Description = c.Description[:frame.MaxPacketDataSize]
	}
}
