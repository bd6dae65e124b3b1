package transport

import (
	"fmt"
	"sync"

	"github.com/pion/logging"
)

// LinkBuilder creates a link that delivers its frames to handler.
type LinkBuilder func(handler FrameHandler) (Link, error)

// Manager joins several links into one bus segment.
//
// Frames received on any link go to the configured FrameHandler. With
// Relay set, they are also forwarded to every other link, which turns the
// manager into a bridge between media (e.g. a serial bus and UDP).
// Send writes to every link.
type Manager struct {
	handler FrameHandler
	relay   bool
	log     logging.LeveledLogger

	mu      sync.RWMutex
	links   []Link
	started bool
	closed  bool
}

// ManagerConfig configures the transport manager.
type ManagerConfig struct {
	// FrameHandler is called for each received frame.
	// Required.
	FrameHandler FrameHandler

	// Relay forwards frames received on one link to all other links.
	Relay bool

	// LoggerFactory is the factory for creating loggers.
	LoggerFactory logging.LoggerFactory
}

// NewManager creates a new transport manager with the given configuration.
func NewManager(config ManagerConfig) (*Manager, error) {
	if config.FrameHandler == nil {
		return nil, ErrNoHandler
	}

	m := &Manager{
		handler: config.FrameHandler,
		relay:   config.Relay,
	}
	if config.LoggerFactory != nil {
		m.log = config.LoggerFactory.NewLogger("transport")
	}
	return m, nil
}

// Attach builds a link wired to the manager. Links attached after Start
// are started immediately.
func (m *Manager) Attach(build LinkBuilder) (Link, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	idx := len(m.links)
	started := m.started
	m.mu.Unlock()

	link, err := build(func(f *ReceivedFrame) {
		m.receive(idx, f)
	})
	if err != nil {
		return nil, fmt.Errorf("building link: %w", err)
	}

	m.mu.Lock()
	m.links = append(m.links, link)
	m.mu.Unlock()

	if started {
		if err := link.Start(); err != nil {
			return nil, fmt.Errorf("starting link: %w", err)
		}
	}
	return link, nil
}

func (m *Manager) receive(from int, f *ReceivedFrame) {
	if m.relay {
		m.mu.RLock()
		links := m.links
		m.mu.RUnlock()
		for i, l := range links {
			if i == from {
				continue
			}
			if err := l.Send(f.Data); err != nil && m.log != nil {
				m.log.Debugf("relay to link %d failed: %v", i, err)
			}
		}
	}
	m.handler(f)
}

// Start starts every attached link.
func (m *Manager) Start() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	if m.started {
		m.mu.Unlock()
		return ErrAlreadyStarted
	}
	if len(m.links) == 0 {
		m.mu.Unlock()
		return ErrNoLinks
	}
	m.started = true
	links := append([]Link(nil), m.links...)
	m.mu.Unlock()

	for i, l := range links {
		if err := l.Start(); err != nil {
			for _, started := range links[:i] {
				started.Stop()
			}
			return fmt.Errorf("starting link %d: %w", i, err)
		}
	}
	return nil
}

// Stop closes all links.
func (m *Manager) Stop() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return ErrClosed
	}
	m.closed = true
	links := m.links
	m.mu.Unlock()

	var first error
	for i, l := range links {
		if err := l.Stop(); err != nil && err != ErrClosed && first == nil {
			first = fmt.Errorf("stopping link %d: %w", i, err)
		}
	}
	return first
}

// Send writes one encoded frame to every link. It fails only when no
// link accepted the frame.
func (m *Manager) Send(data []byte) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrClosed
	}
	links := m.links
	m.mu.RUnlock()

	if len(links) == 0 {
		return ErrNoLinks
	}

	var lastErr error
	sent := 0
	for _, l := range links {
		if err := l.Send(data); err != nil {
			lastErr = err
			continue
		}
		sent++
	}
	if sent == 0 {
		return fmt.Errorf("%w: %v", ErrSendFailed, lastErr)
	}
	return nil
}

// Links returns the attached links.
func (m *Manager) Links() []Link {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Link(nil), m.links...)
}

// Verify Manager implements Link.
var _ Link = (*Manager)(nil)
