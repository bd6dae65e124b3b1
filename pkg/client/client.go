// Package client runs a host node on its own goroutines.
//
// The protocol components (node, device table, pipes) are cooperative and
// single-threaded. A Client drives them from a pump goroutine that hands
// received frames to the node and runs Process every PumpInterval, and
// delivers events to user code on a separate callback goroutine through
// a buffered queue. A mutex guards the components and the bound remote
// service, so every exported method is safe for concurrent use.
//
// Critical sections only cover non-blocking protocol calls. Blocking
// helpers (Query, Output.Write) poll between pump ticks without holding
// the lock.
package client

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/backkem/devbus/pkg/discovery"
	"github.com/backkem/devbus/pkg/node"
	"github.com/backkem/devbus/pkg/pipe"
	"github.com/backkem/devbus/pkg/transport"
	"github.com/pion/logging"
)

// Client is a host-side protocol instance bound to one link.
type Client struct {
	config Config
	log    logging.LeveledLogger

	link    transport.Link
	node    *node.Node
	table   *discovery.Table
	outputs *pipe.Outputs
	inputs  *pipe.Inputs

	rx     chan []byte
	events chan Event

	framesDropped atomic.Uint32
	eventsDropped atomic.Uint32

	// Guarded by mu.
	mu         sync.Mutex
	state      State
	bindClass  uint32
	bound      discovery.Device
	boundIndex uint8

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Stats are the client's queue counters.
type Stats struct {
	// FramesDropped counts received frames lost to a full rx queue.
	FramesDropped uint32

	// EventsDropped counts events lost to a full callback queue.
	EventsDropped uint32
}

// New creates a client. The link is built but not started.
func New(config Config) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config.applyDefaults()

	c := &Client{
		config: config,
		rx:     make(chan []byte, config.RxQueueSize),
		events: make(chan Event, config.EventQueueSize),
		stopCh: make(chan struct{}),
	}
	if config.LoggerFactory != nil {
		c.log = config.LoggerFactory.NewLogger("client")
	}

	link, err := config.Link(c.receive)
	if err != nil {
		return nil, err
	}
	c.link = link

	c.node, err = node.New(node.Config{
		DeviceID:      config.DeviceID,
		Sender:        link,
		Now:           config.Now,
		Description:   config.Description,
		Loopback:      config.Loopback,
		LoggerFactory: config.LoggerFactory,
	})
	if err != nil {
		link.Stop()
		return nil, err
	}

	c.table = discovery.New(discovery.Config{
		Querier:       c.node,
		Now:           config.Now,
		OnEvent:       c.onTableEvent,
		LoggerFactory: config.LoggerFactory,
	})
	c.outputs, err = pipe.NewOutputs(pipe.OutputsConfig{
		Sender:        c.node,
		Now:           config.Now,
		LoggerFactory: config.LoggerFactory,
	})
	if err != nil {
		link.Stop()
		return nil, err
	}
	c.inputs = pipe.NewInputs(pipe.InputsConfig{LoggerFactory: config.LoggerFactory})

	c.node.AddObserver(c.table)
	c.node.AddObserver(c.outputs)
	for _, o := range config.Observers {
		c.node.AddObserver(o)
	}
	c.node.AddProcessor(c.table)
	c.node.AddProcessor(c.outputs)
	c.node.AddCommandHook(c.inputs)

	return c, nil
}

// DeviceID returns the host node's identifier.
func (c *Client) DeviceID() uint64 {
	return c.config.DeviceID
}

// State returns the lifecycle state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Register adds a local service to the host node. Services must be
// registered before Start.
func (c *Client) Register(svc node.Service) (*node.Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.node.Register(svc)
}

// Start starts the link, the node and both goroutines.
func (c *Client) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.state.CanStart() {
		if c.state == StateRunning {
			return ErrAlreadyStarted
		}
		return ErrAlreadyStopped
	}

	if err := c.link.Start(); err != nil {
		return err
	}
	if err := c.node.Start(); err != nil {
		c.link.Stop()
		return err
	}
	c.state = StateRunning

	c.wg.Add(2)
	go c.pump()
	go c.callbacks()

	if c.log != nil {
		c.log.Infof("client %016x started", c.config.DeviceID)
	}
	return nil
}

// Stop stops both goroutines and closes the link. Queued events that were
// not yet delivered are discarded.
func (c *Client) Stop() error {
	c.mu.Lock()
	if !c.state.CanStop() {
		state := c.state
		c.mu.Unlock()
		if state == StateStopped {
			return ErrAlreadyStopped
		}
		return ErrNotStarted
	}
	c.state = StateStopped
	c.mu.Unlock()

	c.stopOnce.Do(func() { close(c.stopCh) })
	err := c.link.Stop()
	c.wg.Wait()

	if c.log != nil {
		c.log.Info("client stopped")
	}
	if errors.Is(err, transport.ErrClosed) {
		err = nil
	}
	return err
}

// Stats returns the queue counters.
func (c *Client) Stats() Stats {
	return Stats{
		FramesDropped: c.framesDropped.Load(),
		EventsDropped: c.eventsDropped.Load(),
	}
}

// Do runs fn with exclusive access to the host node and device table.
// fn must not block and must not call other Client methods.
func (c *Client) Do(fn func(n *node.Node, t *discovery.Table)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c.node, c.table)
}

// Outputs returns the host node's output pipe set. Only use it where the
// client lock is held: inside Do, or from a registered service's
// HandlePacket or Process.
func (c *Client) Outputs() *pipe.Outputs {
	return c.outputs
}

// receive is the link's frame handler. It never blocks the link.
func (c *Client) receive(f *transport.ReceivedFrame) {
	select {
	case c.rx <- f.Data:
	default:
		c.framesDropped.Add(1)
	}
}

func (c *Client) pump() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.PumpInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case data := <-c.rx:
			c.mu.Lock()
			if err := c.node.HandleBytes(data); err != nil && c.log != nil {
				c.log.Tracef("rx: %v", err)
			}
			c.mu.Unlock()
		case <-ticker.C:
			c.mu.Lock()
			if err := c.node.Process(); err != nil && c.log != nil {
				c.log.Debugf("process: %v", err)
			}
			c.mu.Unlock()
		}
	}
}

func (c *Client) callbacks() {
	defer c.wg.Done()
	for {
		select {
		case <-c.stopCh:
			return
		case e := <-c.events:
			if c.config.OnEvent != nil {
				c.config.OnEvent(e)
			}
		}
	}
}

// emit queues an event for the callback goroutine. Called with mu held.
func (c *Client) emit(e Event) {
	select {
	case c.events <- e:
	default:
		c.eventsDropped.Add(1)
		if c.log != nil {
			c.log.Warnf("event queue full, dropping %s event", e.Kind)
		}
	}
}

// onTableEvent runs inside the device table, with mu held.
func (c *Client) onTableEvent(e discovery.Event) {
	c.emit(Event{Kind: EventDevice, Device: e})

	switch e.Kind {
	case discovery.EventDestroyed:
		if !c.bound.Handle.IsZero() && c.bound.Handle == e.Device.Handle {
			dev := c.bound
			c.bound = discovery.Device{}
			c.boundIndex = 0
			c.emit(Event{Kind: EventUnbound, Bound: dev})
		}
	case discovery.EventCreated, discovery.EventAnnounce:
		if c.bindClass != 0 && c.bound.Handle.IsZero() {
			c.tryBind(e.Device)
		}
	}
}

func (c *Client) tryBind(dev discovery.Device) bool {
	idx, ok := dev.ServiceIndex(c.bindClass)
	if !ok || dev.ID == c.config.DeviceID {
		return false
	}
	c.bound = dev
	c.boundIndex = idx
	if c.log != nil {
		c.log.Infof("bound class %08x on %s index %d", c.bindClass, dev.ShortID, idx)
	}
	c.emit(Event{Kind: EventBound, Bound: dev})
	return true
}

// Bind selects the first remote device hosting a service of the class.
// When the bound device disappears or reboots the binding moves to the
// next device that announces the class.
func (c *Client) Bind(class uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.bindClass = class
	c.bound = discovery.Device{}
	c.boundIndex = 0
	for _, dev := range c.table.Devices() {
		if c.tryBind(dev) {
			return
		}
	}
}

// Unbind drops the binding.
func (c *Client) Unbind() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bindClass = 0
	c.bound = discovery.Device{}
	c.boundIndex = 0
}

// Bound returns the bound device and the index of the bound service.
func (c *Client) Bound() (discovery.Device, uint8, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bound.Handle.IsZero() {
		return discovery.Device{}, 0, false
	}
	return c.bound, c.boundIndex, true
}

// SendBound sends a command to the bound service and returns the frame
// checksum.
func (c *Client) SendBound(command uint16, data []byte, ackRequested bool) (uint16, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.bound.Handle.IsZero() {
		return 0, ErrNotBound
	}
	return c.node.SendCommand(c.bound.ID, c.boundIndex, command, data, ackRequested)
}

// SendCommand sends a command to a device and returns the frame checksum.
func (c *Client) SendCommand(deviceID uint64, serviceIndex uint8, command uint16, data []byte, ackRequested bool) (uint16, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.node.SendCommand(deviceID, serviceIndex, command, data, ackRequested)
}

// SendBroadcast sends a command to every service of a class.
func (c *Client) SendBroadcast(class uint32, command uint16, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.node.SendBroadcast(class, command, data)
}

// Devices returns snapshots of the devices on the bus.
func (c *Client) Devices() []discovery.Device {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.table.Devices()
}

// Query reads a register of a remote service. A value older than maxAge
// is returned as is and refreshed in the background; before the first
// value arrives Query waits until ctx ends.
func (c *Client) Query(ctx context.Context, h discovery.Handle, serviceIndex uint8, code uint16, maxAge time.Duration) ([]byte, error) {
	return c.poll(ctx, func() ([]byte, error) {
		c.mu.Lock()
		defer c.mu.Unlock()
		return c.table.Query(h, serviceIndex, code, maxAge)
	}, discovery.ErrNotCached)
}

// QueryBound reads a register of the bound service.
func (c *Client) QueryBound(ctx context.Context, code uint16, maxAge time.Duration) ([]byte, error) {
	return c.poll(ctx, func() ([]byte, error) {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.bound.Handle.IsZero() {
			return nil, ErrNotBound
		}
		return c.table.Query(c.bound.Handle, c.boundIndex, code, maxAge)
	}, discovery.ErrNotCached)
}

// poll calls fn once per pump interval while it fails with retry.
func (c *Client) poll(ctx context.Context, fn func() ([]byte, error), retry error) ([]byte, error) {
	ticker := time.NewTicker(c.config.PumpInterval)
	defer ticker.Stop()
	for {
		v, err := fn()
		if !errors.Is(err, retry) {
			return v, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-c.stopCh:
			return nil, ErrNotStarted
		case <-ticker.C:
		}
	}
}
