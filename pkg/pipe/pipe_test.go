package pipe

import (
	"math/rand"
	"testing"
	"time"

	"github.com/backkem/devbus/pkg/frame"
)

const testTarget uint64 = 0x1122334455667788

type recordSender struct {
	frames []*frame.Frame
}

func (s *recordSender) SendFrame(f *frame.Frame) error {
	s.frames = append(s.frames, f.Clone())
	return nil
}

func (s *recordSender) last() *frame.Frame {
	return s.frames[len(s.frames)-1]
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newTestOutputs(t *testing.T) (*Outputs, *recordSender, *fakeClock) {
	t.Helper()
	sender := &recordSender{}
	clock := &fakeClock{now: time.Unix(1700000000, 0)}
	o, err := NewOutputs(OutputsConfig{Sender: sender, Now: clock.Now})
	if err != nil {
		t.Fatalf("NewOutputs() error = %v", err)
	}
	return o, sender, clock
}

func ackFor(f *frame.Frame) *frame.Packet {
	return &frame.Packet{
		DeviceID:       f.DeviceID,
		ServiceIndex:   frame.ServiceIndexCRCAck,
		ServiceCommand: f.CRC,
	}
}

func TestCommandEncoding(t *testing.T) {
	tests := []struct {
		port    uint16
		counter uint8
		meta    bool
		close   bool
		want    uint16
	}{
		{3, 5, false, false, 0x0185},
		{3, 5, true, false, 0x01c5},
		{3, 0, false, true, 0x01a0},
		{0x1ff, 31, true, true, 0xffff},
		{0, 33, false, false, 0x0001},
	}
	for _, tt := range tests {
		got := Command(tt.port, tt.counter, tt.meta, tt.close)
		if got != tt.want {
			t.Errorf("Command(%d, %d, %v, %v) = %04x, want %04x", tt.port, tt.counter, tt.meta, tt.close, got, tt.want)
		}
		if PortOf(got) != tt.port&PortMask || CounterOf(got) != tt.counter&0x1f {
			t.Errorf("PortOf/CounterOf(%04x) = %d/%d", got, PortOf(got), CounterOf(got))
		}
	}
}

func TestOutput_DroppedWithoutAck(t *testing.T) {
	o, sender, clock := newTestOutputs(t)

	p, err := o.Open(testTarget, 3)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := p.Write(make([]byte, 10)); err != nil {
		t.Fatalf("Write() error = %v", err)
	}

	start := clock.Now()
	o.Process(clock.Now()) // flushes buffered data
	if len(sender.frames) != 1 {
		t.Fatalf("sent %d frames after first Process, want 1", len(sender.frames))
	}
	f := sender.frames[0]
	if f.DeviceID != testTarget || !f.Flags.Has(frame.FlagCommand|frame.FlagAckRequested) {
		t.Errorf("pipe frame = %s", f)
	}

	for p.State() != StateDropped && clock.Now().Sub(start) < time.Second {
		clock.Advance(time.Millisecond)
		o.Process(clock.Now())
	}

	if p.State() != StateDropped {
		t.Fatal("pipe not dropped after 1s")
	}
	if got := len(sender.frames); got != 5 {
		t.Errorf("transmissions = %d, want 1 + 4 retries", got)
	}
	// 8 + 16 + 32 + 64 ms of retries, then a 128ms grace period.
	if elapsed := clock.Now().Sub(start); elapsed != 248*time.Millisecond {
		t.Errorf("dropped after %v, want 248ms", elapsed)
	}
	for _, rf := range sender.frames[1:] {
		if rf.CRC != f.CRC {
			t.Error("retransmission differs from the original frame")
		}
	}

	if err := p.Write([]byte{1}); err != ErrTimeout {
		t.Errorf("Write() after drop error = %v, want %v", err, ErrTimeout)
	}
	if err := p.Close(); err != ErrTimeout {
		t.Errorf("Close() after drop error = %v, want %v", err, ErrTimeout)
	}
	if o.Active() != 0 {
		t.Errorf("Active() = %d, want 0", o.Active())
	}
}

func TestOutput_Ack(t *testing.T) {
	o, sender, clock := newTestOutputs(t)
	p, _ := o.Open(testTarget, 3)

	p.Write([]byte("hello"))
	if err := p.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}
	f := sender.last()

	if err := p.Write([]byte("more")); err != ErrTryAgain {
		t.Errorf("Write() while awaiting ack error = %v, want %v", err, ErrTryAgain)
	}

	// ACKs from the wrong device or for the wrong frame are ignored.
	wrongDev := ackFor(f)
	wrongDev.DeviceID++
	o.ObservePacket(wrongDev)
	wrongCRC := ackFor(f)
	wrongCRC.ServiceCommand++
	o.ObservePacket(wrongCRC)
	if err := p.Write([]byte("more")); err != ErrTryAgain {
		t.Fatal("pipe accepted a mismatched ack")
	}

	o.ObservePacket(ackFor(f))
	if err := p.Write([]byte("more")); err != nil {
		t.Fatalf("Write() after ack error = %v", err)
	}

	// A duplicate ack changes nothing.
	o.ObservePacket(ackFor(f))
	if p.State() != StateOpen {
		t.Errorf("State() = %v after duplicate ack", p.State())
	}

	sent := len(sender.frames)
	clock.Advance(50 * time.Millisecond)
	o.Process(clock.Now())
	if len(sender.frames) != sent+1 {
		t.Fatalf("sent %d frames, want the auto-flushed second frame only", len(sender.frames)-sent)
	}
	if pkts, _ := sender.last().AllPackets(); len(pkts) != 1 || string(pkts[0].Data) != "more" {
		t.Errorf("second frame = %v", pkts)
	}
}

func TestOutput_Counters(t *testing.T) {
	o, sender, _ := newTestOutputs(t)
	p, _ := o.Open(testTarget, 0x55)

	p.WriteMeta([]byte{0xaa})
	p.Write([]byte{1})
	p.Write([]byte{2})
	p.Flush()

	pkts, _ := sender.last().AllPackets()
	if len(pkts) != 3 {
		t.Fatalf("frame holds %d packets, want 3", len(pkts))
	}
	for i, pkt := range pkts {
		if pkt.ServiceIndex != frame.ServiceIndexPipe {
			t.Errorf("packet %d index = %#x", i, pkt.ServiceIndex)
		}
		if CounterOf(pkt.ServiceCommand) != uint8(i) || PortOf(pkt.ServiceCommand) != 0x55 {
			t.Errorf("packet %d cmd = %04x", i, pkt.ServiceCommand)
		}
	}
	if pkts[0].ServiceCommand&FlagMeta == 0 || pkts[1].ServiceCommand&FlagMeta != 0 {
		t.Error("meta flag misplaced")
	}
}

func TestOutput_FullFrame(t *testing.T) {
	o, sender, _ := newTestOutputs(t)
	p, _ := o.Open(testTarget, 1)

	if err := p.Write(make([]byte, 200)); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if err := p.Write(make([]byte, 100)); err != ErrTryAgain {
		t.Fatalf("Write() past frame end error = %v, want %v", err, ErrTryAgain)
	}
	if len(sender.frames) != 1 {
		t.Errorf("full frame not flushed: sent %d", len(sender.frames))
	}
	if err := p.Write(make([]byte, frame.MaxPacketDataSize+1)); err != ErrTryAgain {
		// Awaiting ack takes precedence over the size check.
		t.Errorf("Write() error = %v, want %v", err, ErrTryAgain)
	}

	o.ObservePacket(ackFor(sender.last()))
	if err := p.Write(make([]byte, frame.MaxPacketDataSize+1)); err != ErrTooLarge {
		t.Errorf("oversize Write() error = %v, want %v", err, ErrTooLarge)
	}
}

func TestOutput_Close(t *testing.T) {
	o, sender, clock := newTestOutputs(t)
	p, _ := o.Open(testTarget, 9)

	p.Write([]byte{1, 2, 3})
	if err := p.Close(); err != ErrTryAgain {
		t.Fatalf("Close() error = %v, want %v", err, ErrTryAgain)
	}
	if p.State() != StateClosedWaiting {
		t.Fatalf("State() = %v, want ClosedWaiting", p.State())
	}

	pkts, _ := sender.last().AllPackets()
	if len(pkts) != 2 {
		t.Fatalf("close frame holds %d packets, want data + close", len(pkts))
	}
	closePkt := pkts[1]
	if closePkt.ServiceCommand&FlagClose == 0 || len(closePkt.Data) != 0 || CounterOf(closePkt.ServiceCommand) != 1 {
		t.Errorf("close packet = %s", closePkt)
	}

	if err := p.Write([]byte{4}); err != ErrClosed {
		t.Errorf("Write() after Close error = %v, want %v", err, ErrClosed)
	}
	if err := p.Close(); err != ErrTryAgain {
		t.Errorf("second Close() error = %v, want %v", err, ErrTryAgain)
	}

	// Close is retried like any frame.
	clock.Advance(8 * time.Millisecond)
	o.Process(clock.Now())
	if p.Retries() != 1 {
		t.Errorf("Retries() = %d, want 1", p.Retries())
	}

	o.ObservePacket(ackFor(sender.last()))
	if p.State() != StateFree {
		t.Fatalf("State() = %v after close ack, want Free", p.State())
	}
	if err := p.Close(); err != nil {
		t.Errorf("Close() after ack error = %v, want nil", err)
	}
	if o.Active() != 0 {
		t.Errorf("Active() = %d, want 0", o.Active())
	}

	// Duplicate close ack is harmless.
	o.ObservePacket(ackFor(sender.last()))
	if p.State() != StateFree {
		t.Error("duplicate ack changed state")
	}
}

func TestOpenCommand(t *testing.T) {
	data := OpenCommand(testTarget, 0x1a3)
	if len(data) != 12 {
		t.Fatalf("len = %d, want 12", len(data))
	}
	id, port, err := ParseOpenCommand(data)
	if err != nil || id != testTarget || port != 0x1a3 {
		t.Errorf("ParseOpenCommand() = %x, %d, %v", id, port, err)
	}

	if _, _, err := ParseOpenCommand(data[:10]); err != ErrBadOpenCommand {
		t.Errorf("short payload error = %v, want %v", err, ErrBadOpenCommand)
	}
	bad := OpenCommand(testTarget, 0)
	bad[8], bad[9] = 0xff, 0xff
	if _, _, err := ParseOpenCommand(bad); err != ErrBadOpenCommand {
		t.Errorf("oversize port error = %v, want %v", err, ErrBadOpenCommand)
	}

	o, _, _ := newTestOutputs(t)
	p, err := o.OpenFromCommand(&frame.Packet{Data: data})
	if err != nil {
		t.Fatalf("OpenFromCommand() error = %v", err)
	}
	if p.DeviceID() != testTarget || p.Port() != 0x1a3 {
		t.Errorf("pipe = %016x:%d", p.DeviceID(), p.Port())
	}
}

func pipePacket(port uint16, counter uint8, meta, close bool, data []byte) *frame.Packet {
	return &frame.Packet{
		Flags:          frame.FlagCommand,
		ServiceIndex:   frame.ServiceIndexPipe,
		ServiceCommand: Command(port, counter, meta, close),
		Data:           data,
	}
}

func TestInput_AtMostOnce(t *testing.T) {
	in := NewInputs(InputsConfig{Rand: rand.New(rand.NewSource(1))})

	var data, meta []*frame.Packet
	var eof int
	p, err := in.Open(
		func(pkt *frame.Packet) { data = append(data, pkt) },
		func(pkt *frame.Packet) {
			if pkt == nil {
				eof++
				return
			}
			meta = append(meta, pkt)
		},
	)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	port := p.Port()
	if port == 0 || port > PortMask {
		t.Fatalf("Port() = %d", port)
	}

	seq := []*frame.Packet{
		pipePacket(port, 0, true, false, []byte("name")),
		pipePacket(port, 1, false, false, []byte{1}),
		pipePacket(port, 1, false, false, []byte{1}), // retransmission
		pipePacket(port, 0, false, false, []byte{9}), // stale
		pipePacket(port, 2, false, false, []byte{2}),
		pipePacket(port, 3, false, true, nil),
		pipePacket(port, 4, false, false, []byte{3}), // after close
	}
	for _, pkt := range seq {
		if !in.HandleCommand(pkt) {
			t.Fatal("HandleCommand() did not claim a pipe packet")
		}
	}

	if len(meta) != 1 || string(meta[0].Data) != "name" {
		t.Errorf("meta = %v", meta)
	}
	if len(data) != 2 || data[0].Data[0] != 1 || data[1].Data[0] != 2 {
		t.Errorf("data = %v, want packets 1 and 2 once each", data)
	}
	if eof != 1 {
		t.Errorf("EOF signals = %d, want 1", eof)
	}
	if !p.Closed() || in.Count() != 0 {
		t.Error("pipe not freed after close")
	}
}

func TestInput_EOFBeforeFree(t *testing.T) {
	in := NewInputs(InputsConfig{})
	var p *Input
	var calls int
	var closedInHandler bool
	var countInHandler int
	p, err := in.Open(func(*frame.Packet) {}, func(pkt *frame.Packet) {
		if pkt != nil {
			return
		}
		calls++
		closedInHandler = p.Closed()
		countInHandler = in.Count()
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}

	in.HandleCommand(pipePacket(p.Port(), 0, false, true, nil))
	if calls != 1 {
		t.Fatalf("EOF signals = %d, want 1", calls)
	}
	if closedInHandler || countInHandler != 1 {
		t.Errorf("in EOF handler: Closed() = %v, Count() = %d; want false, 1", closedInHandler, countInHandler)
	}
	if !p.Closed() || in.Count() != 0 {
		t.Error("pipe not freed after the EOF handler returned")
	}
}

func TestInput_CounterWraps(t *testing.T) {
	in := NewInputs(InputsConfig{})
	var got int
	p, _ := in.Open(func(*frame.Packet) { got++ }, nil)

	for i := 0; i < 40; i++ {
		in.HandleCommand(pipePacket(p.Port(), uint8(i), false, false, nil))
	}
	if got != 40 {
		t.Errorf("delivered %d, want 40 across counter wrap", got)
	}
}

func TestInputs_Routing(t *testing.T) {
	in := NewInputs(InputsConfig{})
	var a, b int
	pa, _ := in.Open(func(*frame.Packet) { a++ }, nil)
	pb, _ := in.Open(func(*frame.Packet) { b++ }, nil)
	if pa.Port() == pb.Port() {
		t.Fatal("two pipes share a port")
	}

	in.HandleCommand(pipePacket(pb.Port(), 0, false, false, nil))
	if a != 0 || b != 1 {
		t.Errorf("a=%d b=%d, want 0 and 1", a, b)
	}

	if in.HandleCommand(&frame.Packet{ServiceIndex: 1, ServiceCommand: 0x80}) {
		t.Error("claimed a packet on a service index")
	}

	pa.Close()
	if !in.HandleCommand(pipePacket(pa.Port(), 0, false, false, nil)) {
		t.Error("packet for a closed port not consumed")
	}
	if a != 0 {
		t.Error("closed pipe received data")
	}
}

func TestInputs_Exhaustion(t *testing.T) {
	in := NewInputs(InputsConfig{Rand: rand.New(rand.NewSource(7))})
	seen := make(map[uint16]bool)
	for i := 0; i < int(PortMask); i++ {
		p, err := in.Open(func(*frame.Packet) {}, nil)
		if err != nil {
			t.Fatalf("Open() #%d error = %v", i, err)
		}
		if seen[p.Port()] {
			t.Fatalf("port %d allocated twice", p.Port())
		}
		seen[p.Port()] = true
	}
	if _, err := in.Open(func(*frame.Packet) {}, nil); err != ErrNoFreePort {
		t.Errorf("Open() error = %v, want %v", err, ErrNoFreePort)
	}
	if _, err := in.Open(nil, nil); err != ErrNoHandler {
		t.Errorf("Open(nil) error = %v, want %v", err, ErrNoHandler)
	}
}
