package pipe

import (
	"math/rand"
	"time"

	"github.com/backkem/devbus/pkg/frame"
	"github.com/pion/logging"
)

// PacketHandler receives pipe packets. A metadata handler is called with
// nil once the sender closes the pipe, while the port is still held; the
// pipe is freed when it returns.
type PacketHandler func(pkt *frame.Packet)

// InputsConfig configures an input pipe set.
type InputsConfig struct {
	// Rand picks ports. Defaults to a time-seeded source.
	Rand *rand.Rand

	// LoggerFactory is the factory for creating loggers.
	LoggerFactory logging.LoggerFactory
}

// Inputs demultiplexes pipe traffic addressed to this node by port.
// Register it with the node as a command hook.
type Inputs struct {
	rng   *rand.Rand
	log   logging.LeveledLogger
	pipes map[uint16]*Input
}

// NewInputs creates an input pipe set.
func NewInputs(config InputsConfig) *Inputs {
	rng := config.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	in := &Inputs{
		rng:   rng,
		pipes: make(map[uint16]*Input),
	}
	if config.LoggerFactory != nil {
		in.log = config.LoggerFactory.NewLogger("pipe-in")
	}
	return in
}

// Open allocates an input pipe on a random free port. data receives data
// packets; meta receives metadata packets and the final nil.
func (in *Inputs) Open(data, meta PacketHandler) (*Input, error) {
	if data == nil {
		return nil, ErrNoHandler
	}

	port, ok := in.freePort()
	if !ok {
		return nil, ErrNoFreePort
	}

	p := &Input{
		inputs: in,
		port:   port,
		data:   data,
		meta:   meta,
	}
	in.pipes[port] = p

	if in.log != nil {
		in.log.Debugf("opened input pipe on port %d", port)
	}
	return p, nil
}

// freePort picks a random unused port in 1..511, falling back to a scan
// when random probes keep colliding.
func (in *Inputs) freePort() (uint16, bool) {
	if len(in.pipes) >= int(PortMask) {
		return 0, false
	}
	for i := 0; i < 16; i++ {
		port := uint16(in.rng.Intn(int(PortMask))) + 1
		if _, used := in.pipes[port]; !used {
			return port, true
		}
	}
	for port := uint16(1); port <= PortMask; port++ {
		if _, used := in.pipes[port]; !used {
			return port, true
		}
	}
	return 0, false
}

// Count returns the number of open input pipes.
func (in *Inputs) Count() int {
	return len(in.pipes)
}

// HandleCommand consumes every command on the pipe service index. Packets
// for unknown ports and repeated counters are dropped.
func (in *Inputs) HandleCommand(pkt *frame.Packet) bool {
	if pkt.ServiceIndex != frame.ServiceIndexPipe {
		return false
	}

	p, ok := in.pipes[PortOf(pkt.ServiceCommand)]
	if !ok {
		return true
	}
	p.handle(pkt)
	return true
}

// Input is the receiving end of a pipe.
type Input struct {
	inputs   *Inputs
	port     uint16
	expected uint8
	data     PacketHandler
	meta     PacketHandler
	closed   bool
}

// Port returns the port the pipe listens on.
func (p *Input) Port() uint16 {
	return p.port
}

// OpenCommand builds the open payload a peer needs to stream to this pipe
// on the given device.
func (p *Input) OpenCommand(deviceID uint64) []byte {
	return OpenCommand(deviceID, p.port)
}

// Closed reports whether the pipe was closed by either end.
func (p *Input) Closed() bool {
	return p.closed
}

func (p *Input) handle(pkt *frame.Packet) {
	cmd := pkt.ServiceCommand
	if CounterOf(cmd) != p.expected {
		if p.inputs.log != nil {
			p.inputs.log.Tracef("port %d: dropping counter %d, expecting %d", p.port, CounterOf(cmd), p.expected)
		}
		return
	}
	p.expected = (p.expected + 1) & uint8(CounterMask)

	switch {
	case cmd&FlagClose != 0:
		if p.meta != nil {
			p.meta(nil)
		}
		p.Close()
	case cmd&FlagMeta != 0:
		if p.meta != nil {
			p.meta(pkt)
		}
	default:
		p.data(pkt)
	}
}

// Close frees the port. Further traffic for it is discarded.
func (p *Input) Close() {
	if p.closed {
		return
	}
	p.closed = true
	if p.inputs.pipes[p.port] == p {
		delete(p.inputs.pipes, p.port)
	}
}
