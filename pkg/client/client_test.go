package client

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/backkem/devbus/pkg/discovery"
	"github.com/backkem/devbus/pkg/frame"
	"github.com/backkem/devbus/pkg/node"
	"github.com/backkem/devbus/pkg/register"
	"github.com/backkem/devbus/pkg/transport"
)

const (
	hostID       uint64 = 0x0101010101010101
	peripheralID uint64 = 0x0202020202020202
	lightClass   uint32 = 0x1fb57b5d
)

func hubLink(h *transport.Hub) transport.LinkBuilder {
	return func(handler transport.FrameHandler) (transport.Link, error) {
		p, err := h.Attach(handler)
		if err != nil {
			return nil, err
		}
		return p, nil
	}
}

type lightService struct {
	block *register.Block
}

func (s *lightService) ServiceClass() uint32 { return lightClass }

func (s *lightService) HandlePacket(h *node.Handle, pkt *frame.Packet) {
	h.HandleRegisters(s.block, pkt)
}

func newLight() *lightService {
	s := &lightService{block: register.NewBlock(register.MustCompile(register.Descriptor{
		register.U16(0x001),
		register.U16(0x101),
	}))}
	s.block.SetUint(0x101, 0x3344)
	return s
}

// newClient creates and starts a client whose events go to the returned
// channel.
func newClient(t *testing.T, hub *transport.Hub, id uint64, svcs ...node.Service) (*Client, chan Event) {
	t.Helper()
	events := make(chan Event, 1024)
	c, err := New(Config{
		DeviceID: id,
		Link:     hubLink(hub),
		OnEvent:  func(e Event) { events <- e },
	})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	for _, s := range svcs {
		if _, err := c.Register(s); err != nil {
			t.Fatalf("Register() error = %v", err)
		}
	}
	if err := c.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	t.Cleanup(func() { c.Stop() })
	return c, events
}

func waitEvent(t *testing.T, events chan Event, timeout time.Duration, match func(Event) bool) Event {
	t.Helper()
	deadline := time.After(timeout)
	for {
		select {
		case e := <-events:
			if match(e) {
				return e
			}
		case <-deadline:
			t.Fatal("timed out waiting for event")
		}
	}
}

func newHub(t *testing.T) *transport.Hub {
	t.Helper()
	hub := transport.NewHub(transport.HubConfig{AutoProcess: true})
	t.Cleanup(func() { hub.Close() })
	return hub
}

func TestNew_Validation(t *testing.T) {
	hub := newHub(t)
	tests := []struct {
		name   string
		config Config
		want   error
	}{
		{"no device id", Config{Link: hubLink(hub)}, node.ErrInvalidDeviceID},
		{"no link", Config{DeviceID: hostID}, ErrNoLink},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := New(tt.config); !errors.Is(err, tt.want) {
				t.Errorf("New() error = %v, want %v", err, tt.want)
			}
		})
	}

	failing := func(transport.FrameHandler) (transport.Link, error) {
		return nil, transport.ErrClosed
	}
	if _, err := New(Config{DeviceID: hostID, Link: failing}); !errors.Is(err, transport.ErrClosed) {
		t.Errorf("New() with failing link error = %v", err)
	}
}

func TestClient_Lifecycle(t *testing.T) {
	hub := newHub(t)
	c, err := New(Config{DeviceID: hostID, Link: hubLink(hub)})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if err := c.Stop(); !errors.Is(err, ErrNotStarted) {
		t.Errorf("Stop() before Start error = %v, want ErrNotStarted", err)
	}
	if err := c.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	if c.State() != StateRunning {
		t.Errorf("State() = %s, want Running", c.State())
	}
	if err := c.Start(); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start() error = %v, want ErrAlreadyStarted", err)
	}
	if _, err := c.Register(newLight()); !errors.Is(err, node.ErrRegistryFrozen) {
		t.Errorf("Register() after Start error = %v, want ErrRegistryFrozen", err)
	}
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}
	if err := c.Stop(); !errors.Is(err, ErrAlreadyStopped) {
		t.Errorf("second Stop() error = %v, want ErrAlreadyStopped", err)
	}
	if err := c.Start(); !errors.Is(err, ErrAlreadyStopped) {
		t.Errorf("Start() after Stop error = %v, want ErrAlreadyStopped", err)
	}
}

func TestClient_BindAndQuery(t *testing.T) {
	hub := newHub(t)
	host, events := newClient(t, hub, hostID)
	newClient(t, hub, peripheralID, newLight())

	if _, err := host.SendBound(0, nil, false); !errors.Is(err, ErrNotBound) {
		t.Errorf("SendBound() unbound error = %v, want ErrNotBound", err)
	}

	host.Bind(lightClass)
	e := waitEvent(t, events, 3*time.Second, func(e Event) bool { return e.Kind == EventBound })
	if e.Bound.ID != peripheralID {
		t.Fatalf("bound %016x, want %016x", e.Bound.ID, peripheralID)
	}
	dev, idx, ok := host.Bound()
	if !ok || dev.ID != peripheralID || idx != 1 {
		t.Fatalf("Bound() = %016x, %d, %v", dev.ID, idx, ok)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	v, err := host.QueryBound(ctx, 0x101, time.Second)
	if err != nil {
		t.Fatalf("QueryBound() error = %v", err)
	}
	if !bytes.Equal(v, []byte{0x44, 0x33}) {
		t.Errorf("QueryBound() = %x, want 4433", v)
	}

	v, err = host.Query(ctx, dev.Handle, frame.ServiceIndexControl, node.RegFirmwareVersion, time.Second)
	if err != nil || len(v) != 4 {
		t.Errorf("Query(firmware) = %x, %v", v, err)
	}

	// 0x101 is read-only; the SET is refused and the value stays.
	if _, err := host.SendBound(frame.SetCommand(0x101), []byte{0x01, 0x00}, true); err != nil {
		t.Fatalf("SendBound() error = %v", err)
	}
	if _, err := host.SendBound(frame.SetCommand(0x001), []byte{0x01, 0x00}, true); err != nil {
		t.Fatalf("SendBound() error = %v", err)
	}
	deadline := time.Now().Add(3 * time.Second)
	for {
		v, err = host.QueryBound(ctx, 0x001, 0)
		if err == nil && bytes.Equal(v, []byte{0x01, 0x00}) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("register never read back as 0100: %x, %v", v, err)
		}
		time.Sleep(10 * time.Millisecond)
	}

	v, err = host.QueryBound(ctx, 0x101, 0)
	if err != nil || !bytes.Equal(v, []byte{0x44, 0x33}) {
		t.Errorf("read-only register = %x, %v; want 4433", v, err)
	}
}

func TestClient_UnbindOnExpiry(t *testing.T) {
	if testing.Short() {
		t.Skip("waits for device expiry")
	}
	hub := newHub(t)
	host, events := newClient(t, hub, hostID)
	peripheral, _ := newClient(t, hub, peripheralID, newLight())

	host.Bind(lightClass)
	waitEvent(t, events, 3*time.Second, func(e Event) bool { return e.Kind == EventBound })

	peripheral.Stop()
	e := waitEvent(t, events, 4*time.Second, func(e Event) bool { return e.Kind == EventUnbound })
	if e.Bound.ID != peripheralID {
		t.Errorf("unbound %016x, want %016x", e.Bound.ID, peripheralID)
	}
	if _, _, ok := host.Bound(); ok {
		t.Error("still bound after expiry")
	}
	if len(host.Devices()) != 0 {
		t.Errorf("Devices() = %v, want none", host.Devices())
	}
}

func TestClient_DeviceEvents(t *testing.T) {
	hub := newHub(t)
	host, events := newClient(t, hub, hostID)
	newClient(t, hub, peripheralID, newLight())

	e := waitEvent(t, events, 3*time.Second, func(e Event) bool {
		return e.Kind == EventDevice && e.Device.Kind == discovery.EventCreated
	})
	if e.Device.Device.ID != peripheralID {
		t.Errorf("created %016x, want %016x", e.Device.Device.ID, peripheralID)
	}

	var n int
	host.Do(func(_ *node.Node, tbl *discovery.Table) { n = tbl.Len() })
	if n != 1 {
		t.Errorf("table has %d devices, want 1", n)
	}
}

func TestClient_Pipe(t *testing.T) {
	hub := newHub(t)
	host, events := newClient(t, hub, hostID)
	peripheral, _ := newClient(t, hub, peripheralID)

	in, err := host.OpenInput()
	if err != nil {
		t.Fatalf("OpenInput() error = %v", err)
	}
	out, err := peripheral.OpenOutputFromCommand(in.OpenCommand())
	if err != nil {
		t.Fatalf("OpenOutputFromCommand() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := out.WriteMeta(ctx, []byte("image/raw")); err != nil {
		t.Fatalf("WriteMeta() error = %v", err)
	}
	var sent bytes.Buffer
	for i := 0; i < 10; i++ {
		chunk := bytes.Repeat([]byte{byte(i)}, 100)
		sent.Write(chunk)
		if err := out.Write(ctx, chunk); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
	}
	if err := out.Close(ctx); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	var got bytes.Buffer
	var meta []byte
	waitEvent(t, events, 5*time.Second, func(e Event) bool {
		if e.Port != in.Port() {
			return false
		}
		switch e.Kind {
		case EventPipeMeta:
			meta = e.Packet.Data
		case EventPipeData:
			got.Write(e.Packet.Data)
		case EventPipeClosed:
			return true
		}
		return false
	})

	if string(meta) != "image/raw" {
		t.Errorf("meta = %q", meta)
	}
	if !bytes.Equal(got.Bytes(), sent.Bytes()) {
		t.Errorf("received %d bytes, want %d", got.Len(), sent.Len())
	}
	if !in.Closed() {
		t.Error("input not closed")
	}
}

func TestEventKind_String(t *testing.T) {
	if EventPipeClosed.String() != "pipe-closed" || EventKind(0).String() != "EventKind(0)" {
		t.Errorf("unexpected names %q %q", EventPipeClosed, EventKind(0))
	}
	if StateStopped.String() != "Stopped" || State(9).String() != "Unknown" {
		t.Error("unexpected state names")
	}
}
