package node

import (
	"testing"
	"time"

	"github.com/backkem/devbus/pkg/frame"
)

const (
	testDeviceID uint64 = 0xa1b2c3d4e5f60718
	otherDevice  uint64 = 0x0102030405060708
)

type recordSender struct {
	frames [][]byte
	err    error
}

func (s *recordSender) Send(data []byte) error {
	if s.err != nil {
		return s.err
	}
	s.frames = append(s.frames, append([]byte(nil), data...))
	return nil
}

// packets decodes every sent frame and returns their sub-packets in order.
func (s *recordSender) packets(t *testing.T) []*frame.Packet {
	t.Helper()
	var out []*frame.Packet
	for _, data := range s.frames {
		f, err := frame.Parse(data)
		if err != nil {
			t.Fatalf("Parse() error = %v", err)
		}
		if !f.Validate() {
			t.Fatalf("sent frame %s fails its checksum", f)
		}
		pkts, err := f.AllPackets()
		if err != nil {
			t.Fatalf("AllPackets() error = %v", err)
		}
		out = append(out, pkts...)
	}
	return out
}

func (s *recordSender) reset() {
	s.frames = nil
}

type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0)}
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

type recordService struct {
	class   uint32
	packets []*frame.Packet
	handles []*Handle
}

func (s *recordService) ServiceClass() uint32 { return s.class }

func (s *recordService) HandlePacket(h *Handle, pkt *frame.Packet) {
	s.packets = append(s.packets, pkt)
	s.handles = append(s.handles, h)
}

// newTestNode creates a node with a recording sender and fake clock.
func newTestNode(t *testing.T, configure func(*Config)) (*Node, *recordSender, *fakeClock) {
	t.Helper()
	sender := &recordSender{}
	clock := newFakeClock()
	c := Config{
		DeviceID: testDeviceID,
		Sender:   sender,
		Now:      clock.Now,
	}
	if configure != nil {
		configure(&c)
	}
	n, err := New(c)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return n, sender, clock
}

// commandFrame builds a sealed command frame with the given packets.
func commandFrame(t *testing.T, deviceID uint64, flags frame.Flags, pkts ...frame.Packet) *frame.Frame {
	t.Helper()
	f := frame.New(deviceID, frame.FlagCommand|flags)
	for _, p := range pkts {
		if _, err := f.Push(p.ServiceIndex, p.ServiceCommand, p.Data); err != nil {
			t.Fatalf("Push() error = %v", err)
		}
	}
	f.Seal()
	return f
}
