package transport

import (
	"testing"
)

func TestManager_NoLinks(t *testing.T) {
	m, err := NewManager(ManagerConfig{FrameHandler: func(*ReceivedFrame) {}})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	if err := m.Start(); err != ErrNoLinks {
		t.Errorf("Start() error = %v, want %v", err, ErrNoLinks)
	}
	if err := m.Send([]byte{1}); err != ErrNoLinks {
		t.Errorf("Send() error = %v, want %v", err, ErrNoLinks)
	}
}

func TestNewManager_RequiresHandler(t *testing.T) {
	if _, err := NewManager(ManagerConfig{}); err != ErrNoHandler {
		t.Errorf("error = %v, want %v", err, ErrNoHandler)
	}
}

// hubBuilder attaches a manager link to a hub.
func hubBuilder(h *Hub) LinkBuilder {
	return func(handler FrameHandler) (Link, error) {
		return h.Attach(handler)
	}
}

func TestManager_Relay(t *testing.T) {
	left := NewHub(HubConfig{})
	right := NewHub(HubConfig{})
	defer left.Close()
	defer right.Close()

	var bridged int
	m, _ := NewManager(ManagerConfig{
		FrameHandler: func(*ReceivedFrame) { bridged++ },
		Relay:        true,
	})
	if _, err := m.Attach(hubBuilder(left)); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	if _, err := m.Attach(hubBuilder(right)); err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	if err := m.Start(); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer m.Stop()

	var leftRx, rightRx [][]byte
	lp, _ := left.Attach(func(f *ReceivedFrame) { leftRx = append(leftRx, f.Data) })
	rp, _ := right.Attach(func(f *ReceivedFrame) { rightRx = append(rightRx, f.Data) })
	lp.Start()
	rp.Start()

	lp.Send([]byte{0x11})
	left.Process()
	right.Process()

	if bridged != 1 {
		t.Errorf("manager handler calls = %d, want 1", bridged)
	}
	if len(rightRx) != 1 || rightRx[0][0] != 0x11 {
		t.Fatalf("right segment received %v, want [[0x11]]", rightRx)
	}
	if len(leftRx) != 0 {
		t.Error("frame relayed back onto its source segment")
	}

	// Manager's own sends reach both segments.
	if err := m.Send([]byte{0x22}); err != nil {
		t.Fatalf("Send() error = %v", err)
	}
	left.Process()
	right.Process()
	if len(leftRx) != 1 || len(rightRx) != 2 {
		t.Errorf("after Send: left=%d right=%d, want 1 and 2", len(leftRx), len(rightRx))
	}
}

func TestManager_AttachAfterStart(t *testing.T) {
	hub := NewHub(HubConfig{})
	defer hub.Close()

	var got int
	m, _ := NewManager(ManagerConfig{FrameHandler: func(*ReceivedFrame) { got++ }})
	m.Attach(hubBuilder(hub))
	m.Start()
	defer m.Stop()

	late, err := m.Attach(hubBuilder(hub))
	if err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	if err := late.Start(); err != ErrAlreadyStarted {
		t.Errorf("late link Start() error = %v, want %v", err, ErrAlreadyStarted)
	}
	if n := len(m.Links()); n != 2 {
		t.Errorf("Links() = %d, want 2", n)
	}

	p, _ := hub.Attach(func(*ReceivedFrame) {})
	p.Start()
	p.Send([]byte{1})
	hub.Process()
	if got != 2 {
		t.Errorf("handler calls = %d, want 2 (one per link)", got)
	}
}
