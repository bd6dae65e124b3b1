package node

import (
	"github.com/backkem/devbus/pkg/frame"
)

// HandleBytes decodes and handles one received frame.
func (n *Node) HandleBytes(data []byte) error {
	if !n.started {
		return ErrNotStarted
	}
	f, err := frame.Parse(data)
	if err != nil {
		n.diag.ShortFrames++
		return err
	}
	return n.HandleFrame(f)
}

// HandleFrame validates a received frame, acknowledges it when requested,
// dispatches its sub-packets and flushes any replies.
//
// Frames failing the checksum are dropped and counted. A frame requesting
// an acknowledgement gets exactly one CRC-ACK, before its packets are
// dispatched, when it is a command to this node or to a class it hosts.
func (n *Node) HandleFrame(f *frame.Frame) error {
	if !n.started {
		return ErrNotStarted
	}
	if !f.Validate() {
		n.diag.BadCRC++
		if n.log != nil {
			n.log.Debugf("dropping %s: bad checksum", f)
		}
		return frame.ErrBadCRC
	}
	n.diag.FramesReceived++

	if f.Flags.Has(frame.FlagCommand|frame.FlagAckRequested) &&
		!f.Flags.Has(frame.FlagLoopback) &&
		n.addressedToSelf(f) {
		if err := n.queueReport(frame.ServiceIndexCRCAck, f.CRC, nil); err != nil {
			if n.log != nil {
				n.log.Warnf("ack for %04x dropped: %v", f.CRC, err)
			}
		} else {
			n.diag.AcksSent++
		}
	}

	it := f.Packets()
	for {
		pkt, ok := it.Next()
		if !ok {
			break
		}
		n.dispatch(pkt)
	}

	var err error
	if err = it.Err(); err != nil {
		n.diag.BadPackets++
		if n.log != nil {
			n.log.Debugf("%s: %v", f, err)
		}
	}

	if ferr := n.Flush(); err == nil {
		err = ferr
	}
	return err
}

func (n *Node) addressedToSelf(f *frame.Frame) bool {
	if f.Flags.Has(frame.FlagIdentifierIsServiceClass) {
		return n.HostsClass(uint32(f.DeviceID))
	}
	return f.DeviceID == n.config.DeviceID
}

// dispatch routes one packet. Observers see everything; commands go to
// the addressed service, then to command hooks, and are otherwise
// answered with "not implemented".
func (n *Node) dispatch(pkt *frame.Packet) {
	for _, o := range n.observers {
		o.ObservePacket(pkt)
	}

	if !pkt.IsCommand() || pkt.IsLoopback() {
		return
	}

	if pkt.IsBroadcast() {
		h, ok := n.byClass[pkt.BroadcastClass()]
		if !ok {
			return
		}
		pkt.ServiceIndex = h.index
		h.service.HandlePacket(h, pkt)
		return
	}

	if pkt.DeviceID != n.config.DeviceID {
		return
	}

	if h, ok := n.Service(pkt.ServiceIndex & frame.ServiceIndexMask); ok {
		h.service.HandlePacket(h, pkt)
		return
	}

	for _, hook := range n.hooks {
		if hook.HandleCommand(pkt) {
			return
		}
	}
	n.notImplemented(pkt)
}
