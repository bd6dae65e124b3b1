package node

import (
	"github.com/backkem/devbus/pkg/frame"
	"github.com/backkem/devbus/pkg/register"
)

var controlLayout = register.MustCompile(register.Descriptor{
	register.U32(RegProductID),
	register.U32(RegFirmwareVersion),
	register.U64(RegUptime),
})

// controlService is the built-in service at index 0.
type controlService struct {
	block *register.Block
}

func newControlService() *controlService {
	return &controlService{block: register.NewBlock(controlLayout)}
}

func (c *controlService) ServiceClass() uint32 {
	return frame.ServiceClassControl
}

func (c *controlService) HandlePacket(h *Handle, pkt *frame.Packet) {
	n := h.node

	switch pkt.ServiceCommand {
	case frame.CmdAnnounce:
		n.announceNow = true
		return
	case CmdIdentify:
		if n.config.OnIdentify != nil {
			n.config.OnIdentify()
		}
		return
	case CmdReset:
		n.reset()
		return
	case frame.GetCommand(RegDescription):
		h.Report(pkt.ServiceCommand, []byte(n.config.Description))
		return
	}

	c.block.SetUint(RegProductID, uint64(n.config.ProductID))
	c.block.SetUint(RegFirmwareVersion, uint64(n.config.FirmwareVersion))
	c.block.SetUint(RegUptime, uint64(n.Uptime().Microseconds()))
	h.HandleRegisters(c.block, pkt)
}
