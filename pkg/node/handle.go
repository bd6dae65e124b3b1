package node

import (
	"encoding/binary"

	"github.com/backkem/devbus/pkg/frame"
	"github.com/backkem/devbus/pkg/register"
)

// Handle is a registered service's view of its node. It carries the
// service index and sends reports on its behalf.
type Handle struct {
	node    *Node
	index   uint8
	service Service

	eventCounter uint8
}

// Index returns the service index.
func (h *Handle) Index() uint8 {
	return h.index
}

// Node returns the hosting node.
func (h *Handle) Node() *Node {
	return h.node
}

// Service returns the registered service.
func (h *Handle) Service() Service {
	return h.service
}

// Report queues a report from this service. Reports are batched into the
// node's current frame and transmitted on the next flush.
func (h *Handle) Report(command uint16, data []byte) error {
	return h.node.queueReport(h.index, command, data)
}

// SendEvent reports an event. Each event carries the next value of a
// 7-bit rolling counter so receivers can drop repeats.
func (h *Handle) SendEvent(code uint8, data []byte) error {
	cmd := frame.EventCommand(code, h.eventCounter)
	h.eventCounter = (h.eventCounter + 1) & uint8(frame.CmdEventCounterMask)
	return h.Report(cmd, data)
}

// NotImplemented reports that pkt was addressed to this service but not
// understood.
func (h *Handle) NotImplemented(pkt *frame.Packet) error {
	return h.node.notImplemented(pkt)
}

// HandleRegisters answers a GET or SET against a register block. When
// nothing matches it replies "not implemented" and returns 0; otherwise it
// returns the register.Handle result.
func (h *Handle) HandleRegisters(b *register.Block, pkt *frame.Packet) int {
	r := b.Handle(pkt, h)
	if r == 0 {
		h.NotImplemented(pkt)
	}
	return r
}

func notImplementedPayload(pkt *frame.Packet) []byte {
	var data [4]byte
	binary.LittleEndian.PutUint16(data[0:], pkt.ServiceCommand)
	binary.LittleEndian.PutUint16(data[2:], pkt.CRC)
	return data[:]
}

// Verify Handle implements register.Responder.
var _ register.Responder = (*Handle)(nil)
