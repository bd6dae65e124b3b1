package pipe

import (
	"encoding/binary"
	"time"

	"github.com/backkem/devbus/pkg/frame"
	"github.com/cenkalti/backoff"
	"github.com/pion/logging"
)

// FrameSender transmits a sealed frame. node.Node satisfies it.
type FrameSender interface {
	SendFrame(f *frame.Frame) error
}

// OutputsConfig configures an output pipe set.
type OutputsConfig struct {
	// Sender transmits pipe frames.
	// Required.
	Sender FrameSender

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time

	// RetryBase is the delay before the first retransmission (default: 8ms).
	RetryBase time.Duration

	// MaxRetries is the number of retransmissions before the grace
	// period (default: 4).
	MaxRetries int

	// LoggerFactory is the factory for creating loggers.
	LoggerFactory logging.LoggerFactory
}

func (c *OutputsConfig) applyDefaults() {
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.RetryBase == 0 {
		c.RetryBase = DefaultRetryBase
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = DefaultMaxRetries
	}
}

// Outputs tracks the output pipes of a node: it retransmits their frames
// and matches incoming CRC-ACKs.
//
// Register it with the node as an observer (for ACKs) and a processor
// (for retries). Like the node, it is not safe for concurrent use.
type Outputs struct {
	config OutputsConfig
	log    logging.LeveledLogger
	active []*Output
}

// NewOutputs creates an output pipe set.
func NewOutputs(config OutputsConfig) (*Outputs, error) {
	if config.Sender == nil {
		return nil, ErrNoSender
	}
	config.applyDefaults()

	o := &Outputs{config: config}
	if config.LoggerFactory != nil {
		o.log = config.LoggerFactory.NewLogger("pipe")
	}
	return o, nil
}

// Open creates an output pipe to a port on a device.
func (o *Outputs) Open(deviceID uint64, port uint16) (*Output, error) {
	if port > PortMask {
		return nil, ErrBadOpenCommand
	}
	p := &Output{
		outputs:  o,
		state:    StateOpen,
		deviceID: deviceID,
		port:     port,
		retry:    newRetrySchedule(o.config.RetryBase, o.config.MaxRetries, o.config.Now),
	}
	p.frame.Reset(deviceID, frame.FlagCommand|frame.FlagAckRequested)
	o.active = append(o.active, p)

	if o.log != nil {
		o.log.Debugf("opened output pipe to %016x port %d", deviceID, port)
	}
	return p, nil
}

// OpenFromCommand opens a pipe from an open command payload:
// device id (u64), port (u16), flags (u16), little-endian.
func (o *Outputs) OpenFromCommand(pkt *frame.Packet) (*Output, error) {
	deviceID, port, err := ParseOpenCommand(pkt.Data)
	if err != nil {
		return nil, err
	}
	return o.Open(deviceID, port)
}

// OpenCommand builds the open payload that asks a peer to stream to the
// given device and port.
func OpenCommand(deviceID uint64, port uint16) []byte {
	data := make([]byte, openPayloadSize)
	binary.LittleEndian.PutUint64(data[0:], deviceID)
	binary.LittleEndian.PutUint16(data[8:], port)
	return data
}

// ParseOpenCommand decodes an open payload.
func ParseOpenCommand(data []byte) (deviceID uint64, port uint16, err error) {
	if len(data) < openPayloadSize {
		return 0, 0, ErrBadOpenCommand
	}
	deviceID = binary.LittleEndian.Uint64(data[0:])
	port = binary.LittleEndian.Uint16(data[8:])
	if port > PortMask {
		return 0, 0, ErrBadOpenCommand
	}
	return deviceID, port, nil
}

// Active returns the number of pipes that are open or awaiting close.
func (o *Outputs) Active() int {
	return len(o.active)
}

// ObservePacket matches CRC-ACK reports against pipes awaiting one.
// Duplicate ACKs match nothing and have no effect.
func (o *Outputs) ObservePacket(pkt *frame.Packet) {
	if !pkt.IsReport() || pkt.ServiceIndex != frame.ServiceIndexCRCAck {
		return
	}
	for _, p := range o.active {
		if p.awaitingAck && p.deviceID == pkt.DeviceID && p.frame.CRC == pkt.ServiceCommand {
			p.acked()
		}
	}
	o.compact()
}

// Process retransmits due frames, drops pipes whose retries ran out, and
// flushes open pipes holding buffered data.
func (o *Outputs) Process(now time.Time) {
	for _, p := range o.active {
		switch {
		case p.awaitingAck:
			if now.Before(p.nextRetry) {
				continue
			}
			p.retransmit(now)
		case p.state == StateOpen && !p.frame.IsEmpty():
			p.Flush()
		}
	}
	o.compact()
}

// compact forgets pipes that are Free or Dropped.
func (o *Outputs) compact() {
	kept := o.active[:0]
	for _, p := range o.active {
		if p.state == StateOpen || p.state == StateClosedWaiting {
			kept = append(kept, p)
		}
	}
	for i := len(kept); i < len(o.active); i++ {
		o.active[i] = nil
	}
	o.active = kept
}

// Output is the sending end of a pipe.
type Output struct {
	outputs  *Outputs
	state    OutputState
	deviceID uint64
	port     uint16
	counter  uint8

	frame       frame.Frame
	awaitingAck bool
	retry       backoff.BackOff
	retries     int
	nextRetry   time.Time
}

// State returns the pipe state.
func (p *Output) State() OutputState {
	return p.state
}

// DeviceID returns the receiving device.
func (p *Output) DeviceID() uint64 {
	return p.deviceID
}

// Port returns the receiving port.
func (p *Output) Port() uint16 {
	return p.port
}

// Retries returns the retransmissions of the outstanding frame.
func (p *Output) Retries() int {
	return p.retries
}

// Write appends a data packet.
func (p *Output) Write(data []byte) error {
	return p.write(data, false)
}

// WriteMeta appends a metadata packet.
func (p *Output) WriteMeta(data []byte) error {
	return p.write(data, true)
}

func (p *Output) write(data []byte, meta bool) error {
	if err := p.writable(); err != nil {
		return err
	}
	if len(data) > frame.MaxPacketDataSize {
		return ErrTooLarge
	}
	if !p.frame.HasRoom(len(data)) {
		p.Flush()
		return ErrTryAgain
	}
	p.push(data, meta, false)
	return nil
}

func (p *Output) writable() error {
	switch p.state {
	case StateDropped:
		return ErrTimeout
	case StateFree, StateClosedWaiting:
		return ErrClosed
	}
	if p.awaitingAck {
		return ErrTryAgain
	}
	return nil
}

func (p *Output) push(data []byte, meta, close bool) {
	cmd := Command(p.port, p.counter, meta, close)
	p.counter = (p.counter + 1) & uint8(CounterMask)
	p.frame.Push(frame.ServiceIndexPipe, cmd, data)
}

// Flush seals the buffered frame, sends it and arms the retry timer.
// It does nothing when the buffer is empty or a frame is outstanding.
func (p *Output) Flush() error {
	if p.state == StateDropped {
		return ErrTimeout
	}
	if p.awaitingAck || p.frame.IsEmpty() {
		return nil
	}

	p.frame.Seal()
	p.awaitingAck = true
	p.retries = 0
	p.retry.Reset()
	p.nextRetry = p.outputs.config.Now().Add(p.retry.NextBackOff())
	return p.send()
}

func (p *Output) send() error {
	err := p.outputs.config.Sender.SendFrame(&p.frame)
	if err != nil && p.outputs.log != nil {
		p.outputs.log.Debugf("pipe %016x:%d send failed: %v", p.deviceID, p.port, err)
	}
	return err
}

func (p *Output) retransmit(now time.Time) {
	d := p.retry.NextBackOff()
	if d == backoff.Stop {
		p.state = StateDropped
		p.awaitingAck = false
		if p.outputs.log != nil {
			p.outputs.log.Warnf("pipe %016x:%d dropped after %d retries", p.deviceID, p.port, p.retries)
		}
		return
	}
	p.retries++
	p.nextRetry = now.Add(d)
	p.send()
}

func (p *Output) acked() {
	p.awaitingAck = false
	p.retries = 0
	p.frame.Reset(p.deviceID, frame.FlagCommand|frame.FlagAckRequested)
	if p.state == StateClosedWaiting {
		p.state = StateFree
		if p.outputs.log != nil {
			p.outputs.log.Debugf("pipe %016x:%d closed", p.deviceID, p.port)
		}
	}
}

// Close sends the close packet. It returns ErrTryAgain until the peer
// acknowledges it, then nil.
func (p *Output) Close() error {
	switch p.state {
	case StateFree:
		return nil
	case StateDropped:
		return ErrTimeout
	case StateClosedWaiting:
		return ErrTryAgain
	}

	if p.awaitingAck {
		return ErrTryAgain
	}
	if !p.frame.HasRoom(0) {
		p.Flush()
		return ErrTryAgain
	}
	p.push(nil, false, true)
	p.state = StateClosedWaiting
	p.Flush()
	return ErrTryAgain
}
