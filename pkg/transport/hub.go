package transport

import (
	"fmt"
	"sync"
	"time"

	"github.com/backkem/devbus/pkg/frame"
)

// HubConfig configures a Hub.
type HubConfig struct {
	// AutoProcess enables automatic frame delivery in a background goroutine.
	AutoProcess bool

	// ProcessInterval is how often the auto-processor delivers frames.
	// Default: 1ms
	ProcessInterval time.Duration
}

// Hub is an in-memory multi-drop bus segment. A frame sent on one port is
// delivered to every other started port, in send order.
//
// Without AutoProcess, frames are only delivered by Process, on the
// calling goroutine; tests use this for fully deterministic runs.
type Hub struct {
	mu       sync.Mutex
	ports    []*HubPort
	queue    []hubFrame
	closed   bool
	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup

	// deliverMu serializes delivery so handlers never run concurrently.
	deliverMu sync.Mutex
}

type hubFrame struct {
	from int
	data []byte
}

// NewHub creates a hub.
func NewHub(config HubConfig) *Hub {
	h := &Hub{
		interval: config.ProcessInterval,
		stopCh:   make(chan struct{}),
	}
	if h.interval == 0 {
		h.interval = 1 * time.Millisecond
	}
	if config.AutoProcess {
		h.wg.Add(1)
		go h.autoProcess()
	}
	return h
}

func (h *Hub) autoProcess() {
	defer h.wg.Done()
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-h.stopCh:
			return
		case <-ticker.C:
			h.Process()
		}
	}
}

// Attach adds a port to the hub. The port delivers nothing until started.
func (h *Hub) Attach(handler FrameHandler) (*HubPort, error) {
	if handler == nil {
		return nil, ErrNoHandler
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrClosed
	}

	p := &HubPort{
		hub:     h,
		id:      len(h.ports),
		handler: handler,
	}
	h.ports = append(h.ports, p)
	return p, nil
}

// Pending returns the number of queued frames.
func (h *Hub) Pending() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.queue)
}

// Process delivers every queued frame, including frames queued by
// handlers during delivery. Returns the number of frames taken off the
// queue.
func (h *Hub) Process() int {
	h.deliverMu.Lock()
	defer h.deliverMu.Unlock()

	count := 0
	for {
		h.mu.Lock()
		if len(h.queue) == 0 || h.closed {
			h.mu.Unlock()
			return count
		}
		f := h.queue[0]
		h.queue = h.queue[1:]
		ports := append([]*HubPort(nil), h.ports...)
		h.mu.Unlock()

		count++
		for _, p := range ports {
			if p.id == f.from || !p.active() {
				continue
			}
			p.handler(&ReceivedFrame{
				Data:   append([]byte(nil), f.data...),
				Source: HubAddr{Port: f.from},
				Link:   LinkTypeHub,
			})
		}
	}
}

// Close detaches all ports and stops auto-processing. Queued frames are
// discarded.
func (h *Hub) Close() error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	h.queue = nil
	for _, p := range h.ports {
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()
	}
	h.mu.Unlock()

	close(h.stopCh)
	h.wg.Wait()
	return nil
}

func (h *Hub) push(from int, data []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	h.queue = append(h.queue, hubFrame{from: from, data: append([]byte(nil), data...)})
	return nil
}

// HubAddr identifies a hub port.
type HubAddr struct {
	Port int
}

// Network returns "hub".
func (a HubAddr) Network() string { return "hub" }

// String returns a string representation of the address.
func (a HubAddr) String() string { return fmt.Sprintf("hub:%d", a.Port) }

// HubPort is one drop on a Hub.
type HubPort struct {
	hub     *Hub
	id      int
	handler FrameHandler

	mu      sync.Mutex
	started bool
	closed  bool
}

// ID returns the port number.
func (p *HubPort) ID() int {
	return p.id
}

func (p *HubPort) active() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.started && !p.closed
}

// Start begins delivering frames to the port's handler.
func (p *HubPort) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	if p.started {
		return ErrAlreadyStarted
	}
	p.started = true
	return nil
}

// Stop detaches the port.
func (p *HubPort) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	p.closed = true
	return nil
}

// Send queues one encoded frame for every other port.
func (p *HubPort) Send(data []byte) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return ErrClosed
	}
	if len(data) > frame.MaxFrameSize {
		return ErrFrameTooLarge
	}
	return p.hub.push(p.id, data)
}

// Verify HubPort implements Link.
var _ Link = (*HubPort)(nil)
