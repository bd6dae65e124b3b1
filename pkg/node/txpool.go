package node

import "github.com/backkem/devbus/pkg/frame"

// txPool holds two report buffers: one being filled, one handed off to
// the sender. A handed-off buffer is not touched again until the filling
// buffer is handed off in turn.
type txPool struct {
	bufs     [2]frame.Frame
	cur      int
	deviceID uint64
}

func (p *txPool) reset(deviceID uint64) {
	p.deviceID = deviceID
	p.cur = 0
	p.bufs[0].Reset(deviceID, 0)
	p.bufs[1].Reset(deviceID, 0)
}

// filling returns the buffer that collects reports.
func (p *txPool) filling() *frame.Frame {
	return &p.bufs[p.cur]
}

// handOff returns the filling buffer for transmission and switches to the
// other one. Returns nil when there is nothing to send.
func (p *txPool) handOff() *frame.Frame {
	f := &p.bufs[p.cur]
	if f.IsEmpty() {
		return nil
	}
	p.cur ^= 1
	p.bufs[p.cur].Reset(p.deviceID, 0)
	return f
}
