package node

// Diagnostics counts frame-level events on a node.
type Diagnostics struct {
	FramesReceived uint32 // valid frames handled
	FramesSent     uint32 // frames handed to the sender
	BadCRC         uint32 // frames dropped for a checksum mismatch
	ShortFrames    uint32 // frames dropped as truncated or oversize
	BadPackets     uint32 // frames with a malformed sub-packet
	NotImplemented uint32 // "not implemented" replies sent
	AcksSent       uint32 // CRC-ACKs sent
	SendErrors     uint32 // sender failures
	ReportsDropped uint32 // reports that could not be queued, CRC-ACKs included
}
