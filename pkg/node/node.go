// Package node implements the per-node service registry and dispatcher.
//
// A Node is an explicit context object: it owns a fixed table of services
// (index 0 is the built-in control service), routes decoded packets to
// them, answers unknown commands with "not implemented", acknowledges
// frames that request it, announces the hosted service classes, and
// batches outgoing reports into a two-buffer transmit pool.
//
// A Node is not safe for concurrent use. Drive it from one goroutine:
// feed received frames to HandleFrame or HandleBytes and call Process
// periodically. pkg/client wraps a node for multi-goroutine hosts.
package node

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/backkem/devbus/pkg/frame"
	"github.com/pion/logging"
)

// Node is one bus endpoint hosting a set of services.
type Node struct {
	config Config
	log    logging.LeveledLogger

	services   []*Handle
	byClass    map[uint32]*Handle
	observers  []Observer
	hooks      []CommandHook
	processors []Processor

	tx       txPool
	loopback []*frame.Frame
	diag     Diagnostics

	started        bool
	startTime      time.Time
	restartCounter uint32
	nextAnnounce   time.Time
	announceNow    bool
}

// New creates a node with the given configuration. The control service is
// registered at index 0. Register further services, then call Start.
func New(config Config) (*Node, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config.applyDefaults()

	n := &Node{
		config:  config,
		byClass: make(map[uint32]*Handle),
	}
	n.tx.reset(config.DeviceID)

	if config.LoggerFactory != nil {
		n.log = config.LoggerFactory.NewLogger("node")
	}

	if _, err := n.Register(newControlService()); err != nil {
		return nil, err
	}
	return n, nil
}

// DeviceID returns the node's device identifier.
func (n *Node) DeviceID() uint64 {
	return n.config.DeviceID
}

// Register adds a service to the table and returns its handle. Indices
// are assigned in registration order.
func (n *Node) Register(svc Service) (*Handle, error) {
	if svc == nil {
		return nil, ErrNilService
	}
	if n.started {
		return nil, ErrRegistryFrozen
	}
	if len(n.services) >= n.config.MaxServices {
		return nil, ErrRegistryFull
	}

	h := &Handle{
		node:    n,
		index:   uint8(len(n.services)),
		service: svc,
	}
	n.services = append(n.services, h)

	class := svc.ServiceClass()
	if _, ok := n.byClass[class]; !ok {
		n.byClass[class] = h
	}

	if n.log != nil {
		n.log.Debugf("registered service class=%08x at index %d", class, h.index)
	}
	return h, nil
}

// Services returns the handles of all registered services, control
// service first.
func (n *Node) Services() []*Handle {
	return append([]*Handle(nil), n.services...)
}

// Service returns the handle at a service index.
func (n *Node) Service(index uint8) (*Handle, bool) {
	if int(index) >= len(n.services) {
		return nil, false
	}
	return n.services[index], true
}

// HostsClass reports whether a service of the given class is registered.
func (n *Node) HostsClass(class uint32) bool {
	_, ok := n.byClass[class]
	return ok
}

// AddObserver registers an observer of all received packets.
func (n *Node) AddObserver(o Observer) {
	n.observers = append(n.observers, o)
}

// AddCommandHook registers a hook for commands on unowned indices.
func (n *Node) AddCommandHook(h CommandHook) {
	n.hooks = append(n.hooks, h)
}

// AddProcessor registers periodic work run by Process.
func (n *Node) AddProcessor(p Processor) {
	n.processors = append(n.processors, p)
}

// Start freezes the registry and schedules the first announce.
func (n *Node) Start() error {
	if n.started {
		return ErrAlreadyStarted
	}
	n.started = true

	now := n.config.Now()
	n.startTime = now
	n.nextAnnounce = now

	if n.log != nil {
		n.log.Infof("node %016x started with %d services", n.config.DeviceID, len(n.services))
	}
	return nil
}

// Started reports whether Start has been called.
func (n *Node) Started() bool {
	return n.started
}

// Now returns the node's current time.
func (n *Node) Now() time.Time {
	return n.config.Now()
}

// Uptime returns the time since Start (or the last reset).
func (n *Node) Uptime() time.Duration {
	if !n.started {
		return 0
	}
	return n.config.Now().Sub(n.startTime)
}

// RestartCounter returns the restart counter of the last announce.
func (n *Node) RestartCounter() uint32 {
	return n.restartCounter
}

// Diagnostics returns a snapshot of the node's counters.
func (n *Node) Diagnostics() Diagnostics {
	return n.diag
}

// Process runs one scheduling tick: loopback delivery, service and node
// processors, the periodic announce, and a final flush.
func (n *Node) Process() error {
	if !n.started {
		return ErrNotStarted
	}

	// Frames looped back while draining wait for the next tick.
	pending := n.loopback
	n.loopback = nil
	for _, f := range pending {
		n.HandleFrame(f)
	}

	now := n.config.Now()
	for _, h := range n.services {
		if p, ok := h.service.(ServiceProcessor); ok {
			p.Process(h, now)
		}
	}
	for _, p := range n.processors {
		p.Process(now)
	}

	if n.announceNow || !now.Before(n.nextAnnounce) {
		n.announceNow = false
		n.nextAnnounce = now.Add(n.config.AnnounceInterval)
		if err := n.Announce(); err != nil && n.log != nil {
			n.log.Warnf("announce failed: %v", err)
		}
	}

	return n.Flush()
}

// AnnounceStatus returns entry 0 of the announce payload for the current
// restart counter.
func (n *Node) AnnounceStatus() uint32 {
	return n.restartCounter&frame.AnnounceRestartCounterMask |
		frame.AnnounceSupportsACK |
		frame.AnnounceSupportsBroadcast |
		frame.AnnounceSupportsFrames
}

// Announce queues an announce report: the status word followed by the
// class of every service at index 1 and up. The restart counter advances
// and saturates at 0xf.
func (n *Node) Announce() error {
	if n.restartCounter < frame.AnnounceRestartCounterMax {
		n.restartCounter++
	}

	payload := make([]byte, 4*len(n.services))
	binary.LittleEndian.PutUint32(payload, n.AnnounceStatus())
	for i, h := range n.services[1:] {
		binary.LittleEndian.PutUint32(payload[4*(i+1):], h.service.ServiceClass())
	}
	return n.queueReport(frame.ServiceIndexControl, frame.CmdAnnounce, payload)
}

// reset restarts the node's lifecycle as seen by peers: the restart
// counter drops back and the next Process announces.
func (n *Node) reset() {
	if n.config.OnReset != nil {
		n.config.OnReset()
		return
	}
	if n.log != nil {
		n.log.Info("soft reset")
	}
	n.restartCounter = 0
	n.startTime = n.config.Now()
	n.announceNow = true
}

// queueReport batches a report from this node into the filling buffer,
// flushing first when it does not fit.
func (n *Node) queueReport(index uint8, command uint16, data []byte) error {
	if len(data) > frame.MaxPacketDataSize {
		n.diag.ReportsDropped++
		return frame.ErrPacketTooLarge
	}

	f := n.tx.filling()
	if !f.HasRoom(len(data)) {
		if err := n.Flush(); err != nil && n.log != nil {
			n.log.Debugf("flush before report failed: %v", err)
		}
		f = n.tx.filling()
	}
	if _, err := f.Push(index, command, data); err != nil {
		n.diag.ReportsDropped++
		return err
	}
	return nil
}

func (n *Node) notImplemented(pkt *frame.Packet) error {
	n.diag.NotImplemented++
	if n.log != nil {
		n.log.Debugf("not implemented: idx=%d cmd=%04x", pkt.ServiceIndex, pkt.ServiceCommand)
	}
	return n.queueReport(pkt.ServiceIndex, frame.CmdCommandNotImplemented, notImplementedPayload(pkt))
}

// Flush seals and transmits the filling report buffer, if it holds any
// sub-packets.
func (n *Node) Flush() error {
	f := n.tx.handOff()
	if f == nil {
		return nil
	}
	f.Seal()
	return n.transmit(f)
}

// SendCommand sends a single-packet command frame to a device and returns
// the frame checksum, which a CRC-ACK will echo when ackRequested is set.
func (n *Node) SendCommand(deviceID uint64, serviceIndex uint8, command uint16, data []byte, ackRequested bool) (uint16, error) {
	flags := frame.FlagCommand
	if ackRequested {
		flags |= frame.FlagAckRequested
	}
	f, err := frame.Single(deviceID, flags, serviceIndex, command, data)
	if err != nil {
		return 0, err
	}
	return f.CRC, n.transmit(f)
}

// SendBroadcast sends a command to every service of a class on the bus.
// Receivers rewrite the service index to their own service's.
func (n *Node) SendBroadcast(class uint32, command uint16, data []byte) error {
	f, err := frame.Single(uint64(class), frame.FlagCommand|frame.FlagIdentifierIsServiceClass, 0, command, data)
	if err != nil {
		return err
	}
	return n.transmit(f)
}

// SendFrame transmits a caller-built frame as is. The caller seals it.
func (n *Node) SendFrame(f *frame.Frame) error {
	return n.transmit(f)
}

func (n *Node) transmit(f *frame.Frame) error {
	if n.config.Loopback {
		c := f.Clone()
		c.Flags |= frame.FlagLoopback
		n.loopback = append(n.loopback, c)
	}

	if err := n.config.Sender.Send(f.Bytes()); err != nil {
		n.diag.SendErrors++
		return fmt.Errorf("sending %s: %w", f, err)
	}
	n.diag.FramesSent++
	if n.log != nil {
		n.log.Tracef("sent %s", f)
	}
	return nil
}
