package transport

import (
	"net"
	"sync"
	"time"

	"github.com/backkem/devbus/pkg/frame"
	"github.com/pion/logging"
)

// DefaultPort is the default UDP bridge port.
const DefaultPort = 5580

// UDP bridges a bus segment over UDP.
//
// Each datagram carries exactly one encoded frame. Send delivers the frame
// to every known peer; peers are configured statically and, when
// LearnPeers is set, added as datagrams arrive from them.
type UDP struct {
	conn       net.PacketConn
	handler    FrameHandler
	learnPeers bool
	closeCh    chan struct{}
	wg         sync.WaitGroup
	log        logging.LeveledLogger

	mu      sync.RWMutex
	peers   []net.Addr
	started bool
	closed  bool
}

// UDPConfig configures the UDP bridge.
type UDPConfig struct {
	// Conn is an optional pre-existing PacketConn to use.
	// If nil, a new connection will be created using ListenAddr.
	Conn net.PacketConn

	// ListenAddr is the address to listen on (e.g., ":5580").
	// Ignored if Conn is provided.
	ListenAddr string

	// Peers are the initial remote bridge endpoints.
	Peers []net.Addr

	// LearnPeers adds the source of every received datagram to the peer list.
	LearnPeers bool

	// FrameHandler is called for each received frame.
	// Required.
	FrameHandler FrameHandler

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// NewUDP creates a new UDP bridge with the given configuration.
func NewUDP(config UDPConfig) (*UDP, error) {
	if config.FrameHandler == nil {
		return nil, ErrNoHandler
	}

	u := &UDP{
		conn:       config.Conn,
		handler:    config.FrameHandler,
		learnPeers: config.LearnPeers,
		closeCh:    make(chan struct{}),
	}

	if config.LoggerFactory != nil {
		u.log = config.LoggerFactory.NewLogger("transport-udp")
	}

	for _, p := range config.Peers {
		if p == nil {
			return nil, ErrInvalidAddress
		}
		u.peers = append(u.peers, p)
	}

	if u.conn == nil {
		addr := config.ListenAddr
		if addr == "" {
			addr = ":0"
		}

		conn, err := net.ListenPacket("udp", addr)
		if err != nil {
			return nil, err
		}
		u.conn = conn
	}

	return u, nil
}

// Start begins the read loop for receiving frames.
func (u *UDP) Start() error {
	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		return ErrClosed
	}
	if u.started {
		u.mu.Unlock()
		return ErrAlreadyStarted
	}
	u.started = true
	u.mu.Unlock()

	if u.log != nil {
		u.log.Infof("starting UDP bridge on %s", u.conn.LocalAddr())
	}

	u.wg.Add(1)
	go u.readLoop()

	return nil
}

// Stop closes the bridge and waits for the read loop to exit.
func (u *UDP) Stop() error {
	u.mu.Lock()
	if u.closed {
		u.mu.Unlock()
		return ErrClosed
	}
	u.closed = true
	u.mu.Unlock()

	if u.log != nil {
		u.log.Info("stopping UDP bridge")
	}

	close(u.closeCh)

	// Unblock any pending read.
	u.conn.SetReadDeadline(time.Now())
	u.conn.Close()
	u.wg.Wait()

	return nil
}

// AddPeer adds a remote bridge endpoint. Duplicates are ignored.
func (u *UDP) AddPeer(addr net.Addr) error {
	if addr == nil {
		return ErrInvalidAddress
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	u.addPeerLocked(addr)
	return nil
}

func (u *UDP) addPeerLocked(addr net.Addr) bool {
	key := addr.String()
	for _, p := range u.peers {
		if p.String() == key {
			return false
		}
	}
	u.peers = append(u.peers, addr)
	return true
}

// Peers returns a snapshot of the peer list.
func (u *UDP) Peers() []net.Addr {
	u.mu.RLock()
	defer u.mu.RUnlock()
	return append([]net.Addr(nil), u.peers...)
}

// Send transmits one encoded frame to every peer.
// It fails only when no peer accepted the datagram.
func (u *UDP) Send(data []byte) error {
	u.mu.RLock()
	if u.closed {
		u.mu.RUnlock()
		return ErrClosed
	}
	peers := u.peers
	u.mu.RUnlock()

	if len(data) > frame.MaxFrameSize {
		return ErrFrameTooLarge
	}

	var lastErr error
	sent := 0
	for _, addr := range peers {
		if _, err := u.conn.WriteTo(data, addr); err != nil {
			lastErr = err
			if u.log != nil {
				u.log.Warnf("send to %v failed: %v", addr, err)
			}
			continue
		}
		sent++
	}

	if sent == 0 && lastErr != nil {
		return lastErr
	}
	return nil
}

// LocalAddr returns the local address the bridge is listening on.
func (u *UDP) LocalAddr() net.Addr {
	return u.conn.LocalAddr()
}

// readLoop reads datagrams from the connection and dispatches them.
func (u *UDP) readLoop() {
	defer u.wg.Done()

	buf := make([]byte, frame.MaxFrameSize+1)

	for {
		select {
		case <-u.closeCh:
			return
		default:
		}

		n, addr, err := u.conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-u.closeCh:
				return
			default:
				if u.log != nil {
					u.log.Warnf("UDP read error: %v", err)
				}
				continue
			}
		}

		if n == 0 {
			continue
		}
		if n > frame.MaxFrameSize {
			if u.log != nil {
				u.log.Debugf("dropping oversized datagram (%d bytes) from %v", n, addr)
			}
			continue
		}

		if u.learnPeers && addr != nil {
			u.mu.Lock()
			added := u.addPeerLocked(addr)
			u.mu.Unlock()
			if added && u.log != nil {
				u.log.Infof("learned peer %v", addr)
			}
		}

		data := make([]byte, n)
		copy(data, buf[:n])

		if u.log != nil {
			u.log.Tracef("received %d bytes from %v", n, addr)
		}

		u.handler(&ReceivedFrame{
			Data:   data,
			Source: addr,
			Link:   LinkTypeUDP,
		})
	}
}

// Verify UDP implements Link.
var _ Link = (*UDP)(nil)
