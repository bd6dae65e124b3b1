package node

import (
	"time"

	"github.com/backkem/devbus/pkg/transport"
	"github.com/pion/logging"
)

// =============================================================================
// Exported Test Infrastructure for E2E Testing
// =============================================================================

// TestPair provides two nodes joined by an in-memory pipe.
//
// Frames arriving at a node are queued and only handled on the test
// goroutine, by Pump, RunFor or RunUntil, so the nodes are never touched
// concurrently.
//
// Usage:
//
//	pair, _ := node.NewTestPair(node.TestPairConfig{})
//	defer pair.Close()
//
//	pair.Node(1).Register(myService)
//	pair.Start()
//
//	pair.Node(0).SendCommand(pair.Node(1).DeviceID(), 1, cmd, nil, true)
//	pair.RunUntil(func() bool { return done }, time.Second)
type TestPair struct {
	nodes [2]*Node
	links *transport.PipeLinkPair
	rx    [2]chan []byte
}

// TestPairConfig configures a TestPair.
type TestPairConfig struct {
	// DeviceIDs of the two nodes. Zero values get fixed defaults.
	DeviceIDs [2]uint64

	// Configure adjusts each node's Config before creation.
	Configure func(idx int, c *Config)

	// PipeConfig configures the in-memory pipe (optional).
	PipeConfig transport.PipeConfig

	// LoggerFactory is passed to both nodes.
	LoggerFactory logging.LoggerFactory
}

// Default device identifiers of a TestPair.
const (
	TestDeviceID0 uint64 = 0x1111111111111111
	TestDeviceID1 uint64 = 0x2222222222222222
)

// NewTestPair creates two unstarted nodes connected via a pipe.
func NewTestPair(config TestPairConfig) (*TestPair, error) {
	if config.DeviceIDs[0] == 0 {
		config.DeviceIDs[0] = TestDeviceID0
	}
	if config.DeviceIDs[1] == 0 {
		config.DeviceIDs[1] = TestDeviceID1
	}

	p := &TestPair{
		rx: [2]chan []byte{
			make(chan []byte, 256),
			make(chan []byte, 256),
		},
	}

	links, err := transport.NewPipeLinkPair(transport.PipeLinkConfig{
		Handlers: [2]transport.FrameHandler{
			func(f *transport.ReceivedFrame) { p.rx[0] <- f.Data },
			func(f *transport.ReceivedFrame) { p.rx[1] <- f.Data },
		},
		PipeConfig: config.PipeConfig,
	})
	if err != nil {
		return nil, err
	}
	p.links = links

	for i := 0; i < 2; i++ {
		c := Config{
			DeviceID:      config.DeviceIDs[i],
			Sender:        links.Link(i),
			LoggerFactory: config.LoggerFactory,
		}
		if config.Configure != nil {
			config.Configure(i, &c)
		}
		n, err := New(c)
		if err != nil {
			links.Close()
			return nil, err
		}
		p.nodes[i] = n
	}

	return p, nil
}

// Node returns the node at the given index (0 or 1).
func (p *TestPair) Node(idx int) *Node {
	return p.nodes[idx]
}

// Pipe returns the underlying pipe for impairment simulation.
func (p *TestPair) Pipe() *transport.Pipe {
	return p.links.Pipe()
}

// Start starts both nodes.
func (p *TestPair) Start() error {
	for _, n := range p.nodes {
		if err := n.Start(); err != nil {
			return err
		}
	}
	return nil
}

// Pump hands every frame received so far to its node. Returns the number
// of frames handled.
func (p *TestPair) Pump() int {
	count := 0
	for i := 0; i < 2; i++ {
		for {
			select {
			case data := <-p.rx[i]:
				p.nodes[i].HandleBytes(data)
				count++
				continue
			default:
			}
			break
		}
	}
	return count
}

// Step pumps received frames and runs one Process tick on both nodes.
func (p *TestPair) Step() {
	p.Pump()
	for _, n := range p.nodes {
		n.Process()
	}
}

// RunFor steps the pair for the given duration.
func (p *TestPair) RunFor(d time.Duration) {
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		p.Step()
		time.Sleep(time.Millisecond)
	}
}

// RunUntil steps the pair until cond returns true or the timeout expires.
// Returns whether cond was met.
func (p *TestPair) RunUntil(cond func() bool, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		p.Step()
		if cond() {
			return true
		}
		if !time.Now().Before(deadline) {
			return false
		}
		time.Sleep(time.Millisecond)
	}
}

// Close releases the pipe.
func (p *TestPair) Close() {
	if p.links != nil {
		p.links.Close()
	}
}
