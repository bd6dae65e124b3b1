package discovery

import (
	"bytes"
	"testing"
	"time"

	"github.com/backkem/devbus/pkg/frame"
	"github.com/backkem/devbus/pkg/node"
	"github.com/backkem/devbus/pkg/register"
)

const tempClass uint32 = 0x1421bac7

type tempService struct {
	block *register.Block
}

func (s *tempService) ServiceClass() uint32 { return tempClass }

func (s *tempService) HandlePacket(h *node.Handle, pkt *frame.Packet) {
	h.HandleRegisters(s.block, pkt)
}

func TestE2E_DiscoverAndQuery(t *testing.T) {
	pair, err := node.NewTestPair(node.TestPairConfig{
		Configure: func(idx int, c *node.Config) {
			c.Loopback = idx == 0
		},
	})
	if err != nil {
		t.Fatalf("NewTestPair() error = %v", err)
	}
	defer pair.Close()

	svc := &tempService{block: register.NewBlock(register.MustCompile(register.Descriptor{
		register.I32(0x101),
	}))}
	svc.block.SetInt(0x101, -2150)
	if _, err := pair.Node(1).Register(svc); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	var events []Event
	table := New(Config{
		Querier: pair.Node(0),
		OnEvent: func(e Event) { events = append(events, e) },
	})
	pair.Node(0).AddObserver(table)
	pair.Node(0).AddProcessor(table)

	if err := pair.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	seen := func() bool { return table.Len() == 2 }
	if !pair.RunUntil(seen, 2*time.Second) {
		t.Fatalf("table has %d devices, want host and peer", table.Len())
	}
	if _, ok := table.Lookup(node.TestDeviceID0); !ok {
		t.Error("host node missing from its own table")
	}
	hd, _ := table.Lookup(node.TestDeviceID1)
	dev, _ := table.Device(hd)
	idx, ok := dev.ServiceIndex(tempClass)
	if !ok || idx != 1 {
		t.Fatalf("ServiceIndex() = %d, %v; want 1, true", idx, ok)
	}

	var value []byte
	got := func() bool {
		v, err := table.Query(hd, idx, 0x101, time.Second)
		if err == nil {
			value = v
			return true
		}
		return false
	}
	if !pair.RunUntil(got, 2*time.Second) {
		t.Fatal("register value never arrived")
	}
	want := []byte{0x9a, 0xf7, 0xff, 0xff}
	if !bytes.Equal(value, want) {
		t.Errorf("Query() = %x, want %x", value, want)
	}

	created := 0
	for _, e := range events {
		if e.Kind == EventCreated {
			created++
		}
	}
	if created != 2 {
		t.Errorf("created events = %d, want 2", created)
	}
}
