package client

import (
	"context"
	"errors"
	"time"

	"github.com/backkem/devbus/pkg/frame"
	"github.com/backkem/devbus/pkg/pipe"
)

// Input is an input pipe of the host node. Its packets arrive as
// EventPipeData, EventPipeMeta and EventPipeClosed events.
type Input struct {
	c  *Client
	in *pipe.Input
}

// OpenInput opens an input pipe on a free port.
func (c *Client) OpenInput() (*Input, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var in *pipe.Input
	data := func(pkt *frame.Packet) {
		c.emit(Event{Kind: EventPipeData, Port: in.Port(), Packet: pkt})
	}
	meta := func(pkt *frame.Packet) {
		if pkt == nil {
			c.emit(Event{Kind: EventPipeClosed, Port: in.Port()})
			return
		}
		c.emit(Event{Kind: EventPipeMeta, Port: in.Port(), Packet: pkt})
	}

	var err error
	in, err = c.inputs.Open(data, meta)
	if err != nil {
		return nil, err
	}
	return &Input{c: c, in: in}, nil
}

// Port returns the pipe's port.
func (p *Input) Port() uint16 {
	return p.in.Port()
}

// OpenCommand returns the payload a peer needs to open an output pipe
// to this input.
func (p *Input) OpenCommand() []byte {
	return p.in.OpenCommand(p.c.config.DeviceID)
}

// Closed reports whether the pipe is closed.
func (p *Input) Closed() bool {
	p.c.mu.Lock()
	defer p.c.mu.Unlock()
	return p.in.Closed()
}

// Close stops accepting packets for the port.
func (p *Input) Close() {
	p.c.mu.Lock()
	defer p.c.mu.Unlock()
	p.in.Close()
}

// Output is an output pipe of the host node.
type Output struct {
	c   *Client
	out *pipe.Output
}

// OpenOutput opens an output pipe to a port on a device.
func (c *Client) OpenOutput(deviceID uint64, port uint16) (*Output, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out, err := c.outputs.Open(deviceID, port)
	if err != nil {
		return nil, err
	}
	return &Output{c: c, out: out}, nil
}

// OpenOutputFromCommand opens an output pipe from an open-pipe payload.
func (c *Client) OpenOutputFromCommand(data []byte) (*Output, error) {
	deviceID, port, err := pipe.ParseOpenCommand(data)
	if err != nil {
		return nil, err
	}
	return c.OpenOutput(deviceID, port)
}

// State returns the pipe state.
func (p *Output) State() pipe.OutputState {
	p.c.mu.Lock()
	defer p.c.mu.Unlock()
	return p.out.State()
}

// Write queues data, waiting while the previous frame is unacknowledged.
func (p *Output) Write(ctx context.Context, data []byte) error {
	return p.retry(ctx, func() error { return p.out.Write(data) })
}

// WriteMeta queues a metadata packet.
func (p *Output) WriteMeta(ctx context.Context, data []byte) error {
	return p.retry(ctx, func() error { return p.out.WriteMeta(data) })
}

// Flush sends buffered data now instead of at the next pump tick.
func (p *Output) Flush() error {
	p.c.mu.Lock()
	defer p.c.mu.Unlock()
	return p.out.Flush()
}

// Close closes the pipe and waits for the peer to acknowledge it.
func (p *Output) Close(ctx context.Context) error {
	return p.retry(ctx, p.out.Close)
}

func (p *Output) retry(ctx context.Context, op func() error) error {
	var ticker *time.Ticker
	for {
		p.c.mu.Lock()
		err := op()
		p.c.mu.Unlock()
		if !errors.Is(err, pipe.ErrTryAgain) {
			return err
		}

		if ticker == nil {
			ticker = time.NewTicker(p.c.config.PumpInterval)
			defer ticker.Stop()
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.c.stopCh:
			return ErrNotStarted
		case <-ticker.C:
		}
	}
}
