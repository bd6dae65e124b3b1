// Package discovery tracks the devices visible on a bus segment.
//
// A Table listens to every packet a host node receives. Announces create
// and refresh device records; devices that stop announcing expire; a
// device whose restart counter goes backwards has rebooted and gets a new
// record. Every change is reported as an explicit Event so that state
// derived from a device (open pipes, cached registers) can be dropped.
//
// Restart counters are compared with a plain less-than, not a wrapping
// sequence compare. Devices count restarts up to 0xf and then stay there,
// so the counter never wraps: any decrease, 15 to 1 included, is a reboot,
// and a saturated device repeating 0xf is not.
//
// The table is not safe for concurrent use. Like the node it observes, it
// is driven from one goroutine through ObservePacket and Process.
package discovery

import (
	"time"

	"github.com/backkem/devbus/pkg/frame"
	"github.com/pion/logging"
)

// Querier sends commands to devices. *node.Node implements it.
type Querier interface {
	SendCommand(deviceID uint64, serviceIndex uint8, command uint16, data []byte, ackRequested bool) (uint16, error)
}

// EventHandler receives device table events. It runs on the goroutine
// that drives the table and must not block.
type EventHandler func(Event)

// Config configures a Table.
type Config struct {
	// Querier sends register GETs for Query. Optional.
	Querier Querier

	// Now returns the current time. Default: time.Now.
	Now func() time.Time

	// OnEvent receives table events. Optional.
	OnEvent EventHandler

	// Capacity is the number of device slots. Default: DefaultCapacity.
	Capacity int

	// DeviceTimeout is how long a device lives without announcing.
	// Default: DefaultDeviceTimeout.
	DeviceTimeout time.Duration

	// ScanInterval is the minimum time between eviction scans.
	// Default: DefaultScanInterval.
	ScanInterval time.Duration

	// QueryRetry is the minimum time between repeated GETs of one register.
	// Default: DefaultQueryRetry.
	QueryRetry time.Duration

	// LoggerFactory is the factory for creating loggers.
	LoggerFactory logging.LoggerFactory
}

func (c *Config) applyDefaults() {
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Capacity <= 0 {
		c.Capacity = DefaultCapacity
	}
	if c.DeviceTimeout <= 0 {
		c.DeviceTimeout = DefaultDeviceTimeout
	}
	if c.ScanInterval <= 0 {
		c.ScanInterval = DefaultScanInterval
	}
	if c.QueryRetry <= 0 {
		c.QueryRetry = DefaultQueryRetry
	}
}

type queryKey struct {
	index uint8
	code  uint16
}

type cachedValue struct {
	data      []byte
	updated   time.Time
	requested time.Time
}

type slot struct {
	generation uint32
	used       bool
	dev        Device
	cache      map[queryKey]*cachedValue
}

// Table is the set of devices seen on the bus.
type Table struct {
	config Config
	log    logging.LeveledLogger

	slots    []slot
	free     []uint32
	byID     map[uint64]uint32
	lastScan time.Time
}

// New creates an empty device table.
func New(config Config) *Table {
	config.applyDefaults()

	t := &Table{
		config: config,
		slots:  make([]slot, config.Capacity),
		free:   make([]uint32, 0, config.Capacity),
		byID:   make(map[uint64]uint32),
	}
	// Lowest slots are handed out first.
	for i := config.Capacity - 1; i >= 0; i-- {
		t.free = append(t.free, uint32(i))
	}
	if config.LoggerFactory != nil {
		t.log = config.LoggerFactory.NewLogger("discovery")
	}
	return t
}

// Len returns the number of live devices.
func (t *Table) Len() int {
	return len(t.byID)
}

// Lookup returns the handle of a device by identifier.
func (t *Table) Lookup(deviceID uint64) (Handle, bool) {
	idx, ok := t.byID[deviceID]
	if !ok {
		return Handle{}, false
	}
	return t.slots[idx].dev.Handle, true
}

// Device returns a snapshot of the record h refers to.
func (t *Table) Device(h Handle) (Device, bool) {
	s := t.resolve(h)
	if s == nil {
		return Device{}, false
	}
	return s.dev.clone(), true
}

// Devices returns snapshots of all live devices in slot order.
func (t *Table) Devices() []Device {
	out := make([]Device, 0, len(t.byID))
	for i := range t.slots {
		if t.slots[i].used {
			out = append(out, t.slots[i].dev.clone())
		}
	}
	return out
}

func (t *Table) resolve(h Handle) *slot {
	if h.IsZero() || int(h.index) >= len(t.slots) {
		return nil
	}
	s := &t.slots[h.index]
	if !s.used || s.generation != h.generation {
		return nil
	}
	return s
}

// ObservePacket updates the table from a received packet. It implements
// node.Observer.
func (t *Table) ObservePacket(pkt *frame.Packet) {
	if pkt.IsCommand() {
		return
	}
	if pkt.IsBroadcast() {
		t.emit(Event{
			Kind:   EventBroadcast,
			Device: Device{ID: pkt.DeviceID},
			Packet: pkt,
		})
		return
	}
	if pkt.IsAnnounce() {
		t.announce(pkt)
		return
	}

	idx, ok := t.byID[pkt.DeviceID]
	if !ok {
		return
	}
	s := &t.slots[idx]
	if pkt.IsRegisterGet() {
		key := queryKey{index: pkt.ServiceIndex, code: pkt.RegisterCode()}
		cv := s.cache[key]
		if cv == nil {
			cv = &cachedValue{}
			s.cache[key] = cv
		}
		cv.data = append(cv.data[:0], pkt.Data...)
		cv.updated = t.config.Now()
	}
	t.emit(Event{Kind: EventPacket, Device: s.dev.clone(), Packet: pkt})
}

func (t *Table) announce(pkt *frame.Packet) {
	status, services, err := parseAnnounce(pkt.Data)
	if err != nil {
		if t.log != nil {
			t.log.Debugf("dropping announce from %016x: %v", pkt.DeviceID, err)
		}
		return
	}
	now := t.config.Now()

	idx, ok := t.byID[pkt.DeviceID]
	if !ok {
		t.create(pkt, status, services, now)
		return
	}

	s := &t.slots[idx]
	rc := uint8(status & frame.AnnounceRestartCounterMask)
	// The counter saturates instead of wrapping, so a plain compare
	// detects every reboot.
	if rc < s.dev.RestartCounter() {
		if t.log != nil {
			t.log.Infof("device %s restarted (rc %d -> %d)", s.dev.ShortID, s.dev.RestartCounter(), rc)
		}
		t.destroy(idx)
		t.create(pkt, status, services, now)
		return
	}

	s.dev.Status = status
	s.dev.Services = services
	s.dev.LastAnnounce = now
	s.dev.Expiry = now.Add(t.config.DeviceTimeout)
	t.emit(Event{Kind: EventAnnounce, Device: s.dev.clone(), Packet: pkt})
}

func (t *Table) create(pkt *frame.Packet, status uint32, services []uint32, now time.Time) {
	if len(t.free) == 0 {
		if t.log != nil {
			t.log.Warnf("ignoring device %016x: %v", pkt.DeviceID, ErrTableFull)
		}
		return
	}
	idx := t.free[len(t.free)-1]
	t.free = t.free[:len(t.free)-1]

	s := &t.slots[idx]
	s.generation++
	if s.generation == 0 {
		s.generation = 1
	}
	s.used = true
	s.cache = make(map[queryKey]*cachedValue)
	s.dev = Device{
		Handle:       Handle{index: idx, generation: s.generation},
		ID:           pkt.DeviceID,
		ShortID:      ShortID(pkt.DeviceID),
		Status:       status,
		Services:     services,
		Created:      now,
		LastAnnounce: now,
		Expiry:       now.Add(t.config.DeviceTimeout),
	}
	t.byID[pkt.DeviceID] = idx

	if t.log != nil {
		t.log.Debugf("device created: %s", &s.dev)
	}
	t.emit(Event{Kind: EventCreated, Device: s.dev.clone(), Packet: pkt})
}

func (t *Table) destroy(idx uint32) {
	s := &t.slots[idx]
	dev := s.dev
	delete(t.byID, dev.ID)
	s.used = false
	s.cache = nil
	s.dev = Device{}
	t.free = append(t.free, idx)

	if t.log != nil {
		t.log.Debugf("device destroyed: %s", &dev)
	}
	t.emit(Event{Kind: EventDestroyed, Device: dev})
}

// Process evicts devices whose expiry has passed. Scans run at most once
// per ScanInterval. It implements node.Processor.
func (t *Table) Process(now time.Time) {
	if !t.lastScan.IsZero() && now.Sub(t.lastScan) < t.config.ScanInterval {
		return
	}
	t.lastScan = now

	for i := range t.slots {
		s := &t.slots[i]
		if s.used && now.After(s.dev.Expiry) {
			t.destroy(uint32(i))
		}
	}
}

// Query returns the cached value of a register on a remote service. When
// the value is missing or older than maxAge a GET is sent; the reply
// lands in the cache through ObservePacket. A stale value is still
// returned along with a nil error; ErrNotCached means no value has
// arrived yet.
func (t *Table) Query(h Handle, serviceIndex uint8, code uint16, maxAge time.Duration) ([]byte, error) {
	s := t.resolve(h)
	if s == nil {
		return nil, ErrUnknownDevice
	}
	now := t.config.Now()
	key := queryKey{index: serviceIndex, code: code & frame.RegisterCodeMask}
	cv := s.cache[key]
	if cv == nil {
		cv = &cachedValue{}
		s.cache[key] = cv
	}

	fresh := !cv.updated.IsZero() && now.Sub(cv.updated) <= maxAge
	if !fresh && (cv.requested.IsZero() || now.Sub(cv.requested) >= t.config.QueryRetry) {
		if t.config.Querier == nil {
			return nil, ErrNoQuerier
		}
		if _, err := t.config.Querier.SendCommand(s.dev.ID, serviceIndex, frame.GetCommand(code), nil, false); err != nil {
			return nil, err
		}
		cv.requested = now
	}

	if cv.updated.IsZero() {
		return nil, ErrNotCached
	}
	return append([]byte(nil), cv.data...), nil
}

// Invalidate drops every cached register value of a device.
func (t *Table) Invalidate(h Handle) {
	if s := t.resolve(h); s != nil {
		s.cache = make(map[queryKey]*cachedValue)
	}
}

func (t *Table) emit(e Event) {
	if t.config.OnEvent != nil {
		t.config.OnEvent(e)
	}
}
