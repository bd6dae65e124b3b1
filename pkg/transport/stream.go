package transport

import (
	"errors"
	"io"
	"net"
	"sync"

	"github.com/backkem/devbus/pkg/frame"
	"github.com/pion/logging"
)

// Stream carries frames over a byte stream such as a serial port or a TCP
// connection. Frames are self-delimiting through their size byte.
//
// A stream that loses framing (short read mid-frame, oversize length) is
// closed; there is no resynchronisation.
type Stream struct {
	conn    io.ReadWriteCloser
	handler FrameHandler
	writer  *frame.StreamWriter
	reader  *frame.StreamReader
	onClose func(err error)
	wg      sync.WaitGroup
	log     logging.LeveledLogger

	writeMu sync.Mutex

	mu      sync.RWMutex
	started bool
	closed  bool
}

// StreamConfig configures a stream link.
type StreamConfig struct {
	// Conn is the underlying byte stream.
	// Required.
	Conn io.ReadWriteCloser

	// FrameHandler is called for each received frame.
	// Required.
	FrameHandler FrameHandler

	// OnClose is called once when the read loop exits, with the error
	// that ended it (nil after Stop or a clean EOF).
	OnClose func(err error)

	// LoggerFactory is the factory for creating loggers.
	// If nil, logging is disabled.
	LoggerFactory logging.LoggerFactory
}

// NewStream creates a new stream link.
func NewStream(config StreamConfig) (*Stream, error) {
	if config.FrameHandler == nil {
		return nil, ErrNoHandler
	}
	if config.Conn == nil {
		return nil, ErrNoConn
	}

	s := &Stream{
		conn:    config.Conn,
		handler: config.FrameHandler,
		writer:  frame.NewStreamWriter(config.Conn),
		reader:  frame.NewStreamReader(config.Conn),
		onClose: config.OnClose,
	}

	if config.LoggerFactory != nil {
		s.log = config.LoggerFactory.NewLogger("transport-stream")
	}

	return s, nil
}

// DialStream connects to a TCP stream endpoint.
func DialStream(addr string, handler FrameHandler, lf logging.LoggerFactory) (*Stream, error) {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	s, err := NewStream(StreamConfig{
		Conn:          conn,
		FrameHandler:  handler,
		LoggerFactory: lf,
	})
	if err != nil {
		conn.Close()
		return nil, err
	}
	return s, nil
}

// Start begins the read loop.
func (s *Stream) Start() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	if s.started {
		s.mu.Unlock()
		return ErrAlreadyStarted
	}
	s.started = true
	s.mu.Unlock()

	if s.log != nil {
		s.log.Info("starting stream link")
	}

	s.wg.Add(1)
	go s.readLoop()

	return nil
}

// Stop closes the stream and waits for the read loop to exit.
func (s *Stream) Stop() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrClosed
	}
	s.closed = true
	s.mu.Unlock()

	if s.log != nil {
		s.log.Info("stopping stream link")
	}

	err := s.conn.Close()
	s.wg.Wait()
	return err
}

// Send writes one encoded frame to the stream.
func (s *Stream) Send(data []byte) error {
	s.mu.RLock()
	closed := s.closed
	s.mu.RUnlock()
	if closed {
		return ErrClosed
	}

	if len(data) > frame.MaxFrameSize {
		return ErrFrameTooLarge
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := s.writer.Write(data); err != nil {
		if s.log != nil {
			s.log.Warnf("stream write failed: %v", err)
		}
		return err
	}
	return nil
}

func (s *Stream) isClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// readLoop reads frames until the stream fails or is closed.
func (s *Stream) readLoop() {
	defer s.wg.Done()

	var exitErr error
	defer func() {
		if s.onClose != nil {
			s.onClose(exitErr)
		}
	}()

	for {
		data, err := s.reader.Read()
		if err != nil {
			if s.isClosed() || errors.Is(err, io.EOF) {
				return
			}
			exitErr = err
			if s.log != nil {
				s.log.Warnf("stream read failed: %v", err)
			}
			s.conn.Close()
			return
		}

		if s.log != nil {
			s.log.Tracef("received %d byte frame", len(data))
		}

		s.handler(&ReceivedFrame{
			Data: data,
			Link: LinkTypeStream,
		})
	}
}

// Verify Stream implements Link.
var _ Link = (*Stream)(nil)
