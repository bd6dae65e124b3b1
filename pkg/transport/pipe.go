package transport

import (
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/backkem/devbus/pkg/frame"
	"github.com/pion/logging"
	"github.com/pion/transport/v3/test"
)

// NetworkCondition configures link impairment simulation.
// Use this to exercise acknowledgement and retry paths.
type NetworkCondition struct {
	// DropRate is the probability of dropping a frame (0.0 - 1.0).
	DropRate float64

	// DelayMin is the minimum delay to add to each frame.
	DelayMin time.Duration

	// DelayMax is the maximum delay to add to each frame.
	// Actual delay is uniformly distributed between DelayMin and DelayMax.
	DelayMax time.Duration

	// DuplicateRate is the probability of duplicating a frame (0.0 - 1.0).
	DuplicateRate float64

	// CorruptRate is the probability of flipping one payload bit (0.0 - 1.0).
	CorruptRate float64
}

// PipeConfig configures a Pipe.
type PipeConfig struct {
	// AutoProcess enables automatic frame delivery in a background goroutine.
	// Default: true
	AutoProcess bool

	// ProcessInterval is how often the auto-processor delivers frames.
	// Default: 1ms
	ProcessInterval time.Duration

	// Seed seeds the impairment RNG. Zero uses the current time.
	Seed int64
}

// DefaultPipeConfig returns the default pipe configuration.
func DefaultPipeConfig() PipeConfig {
	return PipeConfig{
		AutoProcess:     true,
		ProcessInterval: 1 * time.Millisecond,
	}
}

// Pipe is an in-memory point-to-point bus segment between two endpoints.
// It wraps pion's test.Bridge and adds impairment simulation.
//
// By default frames are delivered in a background goroutine. Disable
// AutoProcess and call Tick or Process for step-by-step delivery.
type Pipe struct {
	bridge *test.Bridge

	mu              sync.RWMutex
	condition       NetworkCondition
	closed          bool
	rng             *rand.Rand
	autoProcess     bool
	processInterval time.Duration
	stopCh          chan struct{}
	wg              sync.WaitGroup
}

// NewPipe creates a new pipe with auto-processing enabled.
func NewPipe() *Pipe {
	return NewPipeWithConfig(DefaultPipeConfig())
}

// NewPipeWithConfig creates a new pipe with the given configuration.
func NewPipeWithConfig(config PipeConfig) *Pipe {
	seed := config.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	p := &Pipe{
		bridge:          test.NewBridge(),
		rng:             rand.New(rand.NewSource(seed)),
		autoProcess:     config.AutoProcess,
		processInterval: config.ProcessInterval,
		stopCh:          make(chan struct{}),
	}

	if p.processInterval == 0 {
		p.processInterval = 1 * time.Millisecond
	}

	if p.autoProcess {
		p.startAutoProcess()
	}

	return p
}

func (p *Pipe) startAutoProcess() {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.processInterval)
		defer ticker.Stop()

		for {
			select {
			case <-p.stopCh:
				return
			case <-ticker.C:
				p.bridge.Tick()
			}
		}
	}()
}

// SetAutoProcess enables or disables automatic frame delivery.
func (p *Pipe) SetAutoProcess(enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || p.autoProcess == enabled {
		return
	}

	p.autoProcess = enabled

	if enabled {
		p.stopCh = make(chan struct{})
		p.startAutoProcess()
	} else {
		close(p.stopCh)
		p.wg.Wait()
	}
}

// AutoProcess returns whether auto-processing is enabled.
func (p *Pipe) AutoProcess() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.autoProcess
}

// SetCondition configures impairment simulation for both directions.
func (p *Pipe) SetCondition(cond NetworkCondition) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.condition = cond
}

// Condition returns the current impairment configuration.
func (p *Pipe) Condition() NetworkCondition {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.condition
}

// Conn0 returns the raw connection for endpoint 0.
func (p *Pipe) Conn0() net.Conn {
	return p.bridge.GetConn0()
}

// Conn1 returns the raw connection for endpoint 1.
func (p *Pipe) Conn1() net.Conn {
	return p.bridge.GetConn1()
}

// Tick delivers one frame in each direction (if available).
// Returns the number of frames delivered (0, 1, or 2).
func (p *Pipe) Tick() int {
	return p.bridge.Tick()
}

// Process delivers all queued frames.
// Returns the number of frames delivered.
func (p *Pipe) Process() int {
	count := 0
	for {
		n := p.Tick()
		if n == 0 {
			break
		}
		count += n
	}
	return count
}

// Close closes both endpoints of the pipe and stops auto-processing.
func (p *Pipe) Close() error {
	p.mu.Lock()

	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true

	if p.autoProcess {
		close(p.stopCh)
	}
	p.mu.Unlock()

	p.wg.Wait()

	err0 := p.bridge.GetConn0().Close()
	err1 := p.bridge.GetConn1().Close()
	p.release(0)
	p.release(1)
	if err0 != nil {
		return err0
	}
	return err1
}

// release discards frames queued towards a closing endpoint so the
// bridge can end its reader with io.EOF.
func (p *Pipe) release(id int) {
	from := 1 - id
	p.bridge.Drop(from, 0, p.bridge.Len(from))
	p.bridge.Tick()
}

// impair applies the configured condition to one outgoing frame and
// returns the copies to put on the wire (zero, one or two).
func (p *Pipe) impair(data []byte) [][]byte {
	p.mu.Lock()
	cond := p.condition
	drop := cond.DropRate > 0 && p.rng.Float64() < cond.DropRate
	dup := cond.DuplicateRate > 0 && p.rng.Float64() < cond.DuplicateRate
	corrupt := cond.CorruptRate > 0 && p.rng.Float64() < cond.CorruptRate
	var delay time.Duration
	if cond.DelayMax > 0 {
		delay = cond.DelayMin
		if cond.DelayMax > cond.DelayMin {
			delay += time.Duration(p.rng.Int63n(int64(cond.DelayMax - cond.DelayMin)))
		}
	}
	var bit int
	if corrupt && len(data) > frame.HeaderSize {
		bit = p.rng.Intn((len(data) - frame.HeaderSize) * 8)
	}
	p.mu.Unlock()

	if drop {
		return nil
	}
	if delay > 0 {
		time.Sleep(delay)
	}

	out := data
	if corrupt && len(data) > frame.HeaderSize {
		out = append([]byte(nil), data...)
		out[frame.HeaderSize+bit/8] ^= 1 << (bit % 8)
	}
	if dup {
		return [][]byte{out, out}
	}
	return [][]byte{out}
}

// PipeAddr implements net.Addr for pipe endpoints.
type PipeAddr struct {
	ID int // Endpoint ID (0 or 1)
}

// Network returns "pipe".
func (a PipeAddr) Network() string { return "pipe" }

// String returns a string representation of the address.
func (a PipeAddr) String() string { return fmt.Sprintf("pipe:%d", a.ID) }

// PipeLink is one endpoint of a Pipe exposed as a Link.
type PipeLink struct {
	pipe    *Pipe
	conn    net.Conn
	localID int
	handler FrameHandler
	wg      sync.WaitGroup
	log     logging.LeveledLogger

	mu      sync.RWMutex
	started bool
	closed  bool
}

// PipeLinkConfig configures a PipeLinkPair.
type PipeLinkConfig struct {
	// Handlers are the frame handlers for each endpoint.
	Handlers [2]FrameHandler

	// PipeConfig configures the underlying pipe (optional).
	PipeConfig PipeConfig

	// LoggerFactory is the factory for creating loggers.
	LoggerFactory logging.LoggerFactory
}

// PipeLinkPair provides two connected links for testing.
//
// Example:
//
//	pair, _ := transport.NewPipeLinkPair(transport.PipeLinkConfig{
//	    Handlers: [2]transport.FrameHandler{handler0, handler1},
//	})
//	defer pair.Close()
//
//	pair.Link(0).Send(frameBytes) // arrives at handler1
type PipeLinkPair struct {
	pipe  *Pipe
	links [2]*PipeLink
}

// NewPipeLinkPair creates two started links joined by a new Pipe.
func NewPipeLinkPair(config PipeLinkConfig) (*PipeLinkPair, error) {
	if config.Handlers[0] == nil || config.Handlers[1] == nil {
		return nil, ErrNoHandler
	}
	if config.PipeConfig.ProcessInterval == 0 {
		seed := config.PipeConfig.Seed
		config.PipeConfig = DefaultPipeConfig()
		config.PipeConfig.Seed = seed
	}

	pair := &PipeLinkPair{
		pipe: NewPipeWithConfig(config.PipeConfig),
	}

	conns := [2]net.Conn{pair.pipe.Conn0(), pair.pipe.Conn1()}
	for i := 0; i < 2; i++ {
		l := &PipeLink{
			pipe:    pair.pipe,
			conn:    conns[i],
			localID: i,
			handler: config.Handlers[i],
		}
		if config.LoggerFactory != nil {
			l.log = config.LoggerFactory.NewLogger(fmt.Sprintf("transport-pipe%d", i))
		}
		pair.links[i] = l
	}

	for _, l := range pair.links {
		if err := l.Start(); err != nil {
			pair.Close()
			return nil, err
		}
	}

	return pair, nil
}

// Link returns the link at the given index (0 or 1).
func (p *PipeLinkPair) Link(id int) *PipeLink {
	if id < 0 || id > 1 {
		return nil
	}
	return p.links[id]
}

// Pipe returns the underlying pipe for impairment and delivery control.
func (p *PipeLinkPair) Pipe() *Pipe {
	return p.pipe
}

// Close stops both links and closes the pipe.
func (p *PipeLinkPair) Close() error {
	for _, l := range p.links {
		if l != nil {
			l.markClosed()
		}
	}
	// Endpoints stopped earlier make the pipe report "already closed".
	p.pipe.Close()
	for _, l := range p.links {
		if l != nil {
			l.wg.Wait()
		}
	}
	return nil
}

// LocalAddr returns the endpoint's address.
func (l *PipeLink) LocalAddr() net.Addr {
	return PipeAddr{ID: l.localID}
}

// Start begins the read loop.
func (l *PipeLink) Start() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}
	if l.started {
		return ErrAlreadyStarted
	}
	l.started = true

	l.wg.Add(1)
	go l.readLoop()
	return nil
}

func (l *PipeLink) markClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false
	}
	l.closed = true
	return true
}

// Stop closes this endpoint. The peer endpoint stops receiving.
func (l *PipeLink) Stop() error {
	if !l.markClosed() {
		return ErrClosed
	}
	err := l.conn.Close()
	l.pipe.release(l.localID)
	l.wg.Wait()
	return err
}

// Send queues one encoded frame towards the other endpoint, subject to
// the pipe's network condition.
func (l *PipeLink) Send(data []byte) error {
	l.mu.RLock()
	closed := l.closed
	l.mu.RUnlock()
	if closed {
		return ErrClosed
	}
	if len(data) > frame.MaxFrameSize {
		return ErrFrameTooLarge
	}

	for _, out := range l.pipe.impair(data) {
		if _, err := l.conn.Write(out); err != nil {
			return err
		}
	}
	return nil
}

func (l *PipeLink) readLoop() {
	defer l.wg.Done()

	buf := make([]byte, frame.MaxFrameSize)
	peer := PipeAddr{ID: 1 - l.localID}
	for {
		n, err := l.conn.Read(buf)
		if err != nil {
			l.mu.RLock()
			closed := l.closed
			l.mu.RUnlock()
			if !closed && l.log != nil {
				l.log.Debugf("pipe read ended: %v", err)
			}
			return
		}

		data := make([]byte, n)
		copy(data, buf[:n])
		l.handler(&ReceivedFrame{
			Data:   data,
			Source: peer,
			Link:   LinkTypePipe,
		})
	}
}

// Verify PipeLink implements Link.
var _ Link = (*PipeLink)(nil)
