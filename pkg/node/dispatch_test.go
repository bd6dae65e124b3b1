package node

import (
	"encoding/binary"
	"testing"

	"github.com/backkem/devbus/pkg/frame"
	"github.com/backkem/devbus/pkg/register"
)

func TestHandleFrame_BadCRC(t *testing.T) {
	n, sender, _ := newTestNode(t, nil)
	svc := &recordService{class: 1}
	n.Register(svc)
	n.Start()

	f := commandFrame(t, testDeviceID, frame.FlagAckRequested,
		frame.Packet{ServiceIndex: 1, ServiceCommand: 0x80})
	f.Data[2] ^= 0xff

	if err := n.HandleFrame(f); err != frame.ErrBadCRC {
		t.Errorf("HandleFrame() error = %v, want %v", err, frame.ErrBadCRC)
	}
	if len(svc.packets) != 0 || len(sender.frames) != 0 {
		t.Error("corrupted frame was delivered or answered")
	}
	if d := n.Diagnostics(); d.BadCRC != 1 || d.FramesReceived != 0 {
		t.Errorf("Diagnostics = %+v", d)
	}
}

func TestHandleFrame_AnyPayloadByteCorrupts(t *testing.T) {
	n, sender, _ := newTestNode(t, nil)
	svc := &recordService{class: 1}
	n.Register(svc)
	n.Start()

	f := commandFrame(t, testDeviceID, frame.FlagAckRequested,
		frame.Packet{ServiceIndex: 1, ServiceCommand: 0x80, Data: []byte{1, 2, 3, 4, 5}})
	for i := 0; i < int(f.Size); i++ {
		bad := f.Clone()
		bad.Data[i] ^= 0x01
		if err := n.HandleFrame(bad); err != frame.ErrBadCRC {
			t.Errorf("payload byte %d flipped: HandleFrame() error = %v, want %v", i, err, frame.ErrBadCRC)
		}
	}
	if len(svc.packets) != 0 || len(sender.frames) != 0 {
		t.Error("corrupted frame was delivered or answered")
	}
	if d := n.Diagnostics(); d.BadCRC != uint32(f.Size) {
		t.Errorf("BadCRC = %d, want %d", d.BadCRC, f.Size)
	}
}

func TestHandleBytes_Truncated(t *testing.T) {
	n, _, _ := newTestNode(t, nil)
	n.Start()

	f := commandFrame(t, testDeviceID, 0, frame.Packet{ServiceIndex: 0, ServiceCommand: 0x80, Data: []byte{1, 2, 3}})
	data := f.Bytes()

	if err := n.HandleBytes(data[:len(data)-2]); err != frame.ErrShortFrame {
		t.Errorf("HandleBytes() error = %v, want %v", err, frame.ErrShortFrame)
	}
	if d := n.Diagnostics(); d.ShortFrames != 1 {
		t.Errorf("ShortFrames = %d, want 1", d.ShortFrames)
	}
}

func TestDispatch_Routing(t *testing.T) {
	n, sender, _ := newTestNode(t, nil)
	a := &recordService{class: 0xa}
	b := &recordService{class: 0xb}
	n.Register(a)
	n.Register(b)

	var observed int
	n.AddObserver(ObserverFunc(func(*frame.Packet) { observed++ }))
	n.Start()

	tests := []struct {
		name    string
		f       *frame.Frame
		wantA   int
		wantB   int
		wantObs int
	}{
		{
			name:    "addressed to index 2",
			f:       commandFrame(t, testDeviceID, 0, frame.Packet{ServiceIndex: 2, ServiceCommand: 0x80}),
			wantB:   1,
			wantObs: 1,
		},
		{
			name:    "addressed to another device",
			f:       commandFrame(t, otherDevice, 0, frame.Packet{ServiceIndex: 1, ServiceCommand: 0x80}),
			wantObs: 1,
		},
		{
			name: "report from another device",
			f: func() *frame.Frame {
				f, _ := frame.Single(otherDevice, 0, 1, 0x1101, []byte{1})
				return f
			}(),
			wantObs: 1,
		},
		{
			name: "two packets in one frame",
			f: commandFrame(t, testDeviceID, 0,
				frame.Packet{ServiceIndex: 1, ServiceCommand: 0x80},
				frame.Packet{ServiceIndex: 2, ServiceCommand: 0x81, Data: []byte{9}}),
			wantA:   1,
			wantB:   1,
			wantObs: 2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a.packets, b.packets, observed = nil, nil, 0
			sender.reset()

			if err := n.HandleFrame(tt.f); err != nil {
				t.Fatalf("HandleFrame() error = %v", err)
			}
			if len(a.packets) != tt.wantA || len(b.packets) != tt.wantB {
				t.Errorf("deliveries a=%d b=%d, want a=%d b=%d", len(a.packets), len(b.packets), tt.wantA, tt.wantB)
			}
			if observed != tt.wantObs {
				t.Errorf("observed = %d, want %d", observed, tt.wantObs)
			}
			if len(sender.frames) != 0 {
				t.Errorf("unexpected reply: %v", sender.packets(t))
			}
		})
	}

	if b.handles == nil || b.handles[0].Index() != 2 {
		t.Error("service received the wrong handle")
	}
}

func TestDispatch_Broadcast(t *testing.T) {
	n, sender, _ := newTestNode(t, nil)
	n.Register(&recordService{class: 0xa})
	target := &recordService{class: 0xbeef}
	second := &recordService{class: 0xbeef}
	n.Register(target)
	n.Register(second)
	n.Start()

	f := commandFrame(t, 0xbeef, frame.FlagIdentifierIsServiceClass,
		frame.Packet{ServiceIndex: 0x3d, ServiceCommand: 0x80})
	n.HandleFrame(f)

	if len(target.packets) != 1 {
		t.Fatalf("first service of class got %d packets, want 1", len(target.packets))
	}
	if len(second.packets) != 0 {
		t.Error("broadcast delivered to more than the first service of the class")
	}
	if idx := target.packets[0].ServiceIndex; idx != 2 {
		t.Errorf("ServiceIndex rewritten to %d, want 2", idx)
	}

	// Class not hosted: silently ignored.
	n.HandleFrame(commandFrame(t, 0xf00d, frame.FlagIdentifierIsServiceClass,
		frame.Packet{ServiceIndex: 0, ServiceCommand: 0x80}))
	if len(sender.frames) != 0 {
		t.Error("replied to a broadcast for a class not hosted")
	}
}

func TestDispatch_NotImplemented(t *testing.T) {
	n, sender, _ := newTestNode(t, nil)
	n.Start()

	f := commandFrame(t, testDeviceID, 0, frame.Packet{ServiceIndex: 7, ServiceCommand: 0x1234})
	n.HandleFrame(f)

	pkts := sender.packets(t)
	if len(pkts) != 1 {
		t.Fatalf("sent %d packets, want 1", len(pkts))
	}
	p := pkts[0]
	if p.ServiceIndex != 7 || p.ServiceCommand != frame.CmdCommandNotImplemented || !p.IsReport() {
		t.Fatalf("reply = %s", p)
	}
	if got := binary.LittleEndian.Uint16(p.Data); got != 0x1234 {
		t.Errorf("original command = %04x, want 1234", got)
	}
	if got := binary.LittleEndian.Uint16(p.Data[2:]); got != f.CRC {
		t.Errorf("frame crc = %04x, want %04x", got, f.CRC)
	}
	if d := n.Diagnostics(); d.NotImplemented != 1 {
		t.Errorf("NotImplemented = %d, want 1", d.NotImplemented)
	}
}

func TestDispatch_CommandHook(t *testing.T) {
	n, sender, _ := newTestNode(t, nil)
	var claimed []*frame.Packet
	n.AddCommandHook(CommandHookFunc(func(pkt *frame.Packet) bool {
		if pkt.ServiceIndex != frame.ServiceIndexPipe {
			return false
		}
		claimed = append(claimed, pkt)
		return true
	}))
	n.Start()

	n.HandleFrame(commandFrame(t, testDeviceID, 0, frame.Packet{ServiceIndex: frame.ServiceIndexPipe, ServiceCommand: 0x181}))
	if len(claimed) != 1 || len(sender.frames) != 0 {
		t.Errorf("hook claimed %d, replies %d; want 1, 0", len(claimed), len(sender.frames))
	}

	n.HandleFrame(commandFrame(t, testDeviceID, 0, frame.Packet{ServiceIndex: 0x20, ServiceCommand: 0x80}))
	if len(sender.packets(t)) != 1 {
		t.Error("unclaimed command was not answered")
	}
}

func TestHandleFrame_CRCAck(t *testing.T) {
	tests := []struct {
		name    string
		id      uint64
		flags   frame.Flags
		wantAck bool
	}{
		{"addressed with ack", testDeviceID, frame.FlagAckRequested, true},
		{"addressed without ack", testDeviceID, 0, false},
		{"other device", otherDevice, frame.FlagAckRequested, false},
		{"hosted class", 0xa, frame.FlagAckRequested | frame.FlagIdentifierIsServiceClass, true},
		{"foreign class", 0xb, frame.FlagAckRequested | frame.FlagIdentifierIsServiceClass, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, sender, _ := newTestNode(t, nil)
			svc := &recordService{class: 0xa}
			n.Register(svc)
			n.Start()

			f := commandFrame(t, tt.id, tt.flags,
				frame.Packet{ServiceIndex: 1, ServiceCommand: 0x80},
				frame.Packet{ServiceIndex: 1, ServiceCommand: 0x81},
				frame.Packet{ServiceIndex: 1, ServiceCommand: 0x82})
			n.HandleFrame(f)

			acks := 0
			for i, p := range sender.packets(t) {
				if p.ServiceIndex != frame.ServiceIndexCRCAck {
					continue
				}
				acks++
				if i != 0 {
					t.Error("ack not sent ahead of replies")
				}
				if p.ServiceCommand != f.CRC || p.DeviceID != testDeviceID || len(p.Data) != 0 {
					t.Errorf("ack = %s, want cmd %04x from this node", p, f.CRC)
				}
			}
			want := 0
			if tt.wantAck {
				want = 1
			}
			if acks != want {
				t.Errorf("acks = %d, want %d", acks, want)
			}
			if d := n.Diagnostics(); d.AcksSent != uint32(want) || d.ReportsDropped != 0 {
				t.Errorf("AcksSent = %d, ReportsDropped = %d; want %d, 0", d.AcksSent, d.ReportsDropped, want)
			}
		})
	}
}

// regService serves a register block.
type regService struct {
	block   *register.Block
	results []int
}

func (s *regService) ServiceClass() uint32 { return 0x1e6 }

func (s *regService) HandlePacket(h *Handle, pkt *frame.Packet) {
	s.results = append(s.results, h.HandleRegisters(s.block, pkt))
}

func TestHandleRegisters(t *testing.T) {
	n, sender, _ := newTestNode(t, nil)
	svc := &regService{block: register.NewBlock(register.MustCompile(register.Descriptor{
		register.U32(0x001),
		register.U32(0x002),
		register.U16(0x101),
	}))}
	svc.block.SetUint(0x101, 0xbeef)
	n.Register(svc)
	n.Start()

	n.HandleFrame(commandFrame(t, testDeviceID, 0,
		frame.Packet{ServiceIndex: 1, ServiceCommand: frame.GetCommand(0x101)},
		frame.Packet{ServiceIndex: 1, ServiceCommand: frame.SetCommand(0x002), Data: []byte{0x2a}},
		frame.Packet{ServiceIndex: 1, ServiceCommand: frame.GetCommand(0x0ff)}))

	if len(svc.results) != 3 || svc.results[0] != -0x101 || svc.results[1] != 0x002 || svc.results[2] != 0 {
		t.Fatalf("results = %v, want [-257 2 0]", svc.results)
	}
	if v, _ := svc.block.Uint(0x002); v != 0x2a {
		t.Errorf("register 0x002 = %#x, want 0x2a", v)
	}

	pkts := sender.packets(t)
	if len(pkts) != 2 {
		t.Fatalf("sent %d packets, want GET reply and not-implemented", len(pkts))
	}
	if pkts[0].ServiceCommand != 0x1101 || len(pkts[0].Data) != 2 || pkts[0].Data[0] != 0xef || pkts[0].Data[1] != 0xbe {
		t.Errorf("GET reply = %s % x", pkts[0], pkts[0].Data)
	}
	if pkts[1].ServiceCommand != frame.CmdCommandNotImplemented {
		t.Errorf("second reply = %s, want not implemented", pkts[1])
	}
}

func TestHandleFrame_MalformedPacket(t *testing.T) {
	n, _, _ := newTestNode(t, nil)
	svc := &recordService{class: 1}
	n.Register(svc)
	n.Start()

	f := commandFrame(t, testDeviceID, 0,
		frame.Packet{ServiceIndex: 1, ServiceCommand: 0x80},
		frame.Packet{ServiceIndex: 1, ServiceCommand: 0x81, Data: []byte{1, 2, 3, 4}})
	// Second packet claims more data than the frame holds.
	f.Data[4] = 0x40
	f.Seal()

	if err := n.HandleFrame(f); err != frame.ErrBadPacket {
		t.Errorf("HandleFrame() error = %v, want %v", err, frame.ErrBadPacket)
	}
	if len(svc.packets) != 1 {
		t.Errorf("delivered %d packets, want the 1 before the malformed one", len(svc.packets))
	}
	if d := n.Diagnostics(); d.BadPackets != 1 {
		t.Errorf("BadPackets = %d, want 1", d.BadPackets)
	}
}
