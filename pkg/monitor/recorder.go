package monitor

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/backkem/devbus/pkg/discovery"
	"github.com/backkem/devbus/pkg/transport"
	"github.com/fxamacker/cbor/v2"
	"github.com/pion/logging"
)

// RecorderConfig configures a Recorder.
type RecorderConfig struct {
	// Host is the identifier of the recording node, stored in the header.
	Host uint64

	// Announces also records announce events of known devices. By
	// default only device creation and destruction are kept.
	Announces bool

	// Now returns the current time. Default: time.Now.
	Now func() time.Time

	// LoggerFactory is the factory for creating loggers.
	LoggerFactory logging.LoggerFactory
}

// Recorder writes a capture. It is safe for concurrent use; link
// goroutines and the node's goroutine may record at the same time.
type Recorder struct {
	config RecorderConfig
	log    logging.LeveledLogger

	mu     sync.Mutex
	enc    *cbor.Encoder
	count  int
	closed bool
}

// NewRecorder writes a capture header to w and returns a recorder that
// appends to it. The caller owns w.
func NewRecorder(w io.Writer, config RecorderConfig) (*Recorder, error) {
	if config.Now == nil {
		config.Now = time.Now
	}

	r := &Recorder{
		config: config,
		enc:    encMode.NewEncoder(w),
	}
	if config.LoggerFactory != nil {
		r.log = config.LoggerFactory.NewLogger("monitor")
	}

	h := Header{
		Magic:   Magic,
		Version: Version,
		Started: config.Now().UnixNano(),
		Host:    config.Host,
	}
	if err := r.enc.Encode(h); err != nil {
		return nil, fmt.Errorf("writing capture header: %w", err)
	}
	return r, nil
}

// Count returns the number of records written.
func (r *Recorder) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

func (r *Recorder) write(rec *Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	rec.At = r.config.Now().UnixNano()
	if err := r.enc.Encode(rec); err != nil {
		if r.log != nil {
			r.log.Warnf("dropping %s record: %v", rec.Kind, err)
		}
		return err
	}
	r.count++
	return nil
}

// RecordFrame records a raw frame.
func (r *Recorder) RecordFrame(kind RecordKind, data []byte, source string) error {
	return r.write(&Record{
		Kind:   kind,
		Frame:  append([]byte(nil), data...),
		Source: source,
	})
}

// RecordEvent records a device table event. Broadcast and packet events
// are skipped: their frames are already in the capture.
func (r *Recorder) RecordEvent(e discovery.Event) error {
	switch e.Kind {
	case discovery.EventCreated, discovery.EventDestroyed:
	case discovery.EventAnnounce:
		if !r.config.Announces {
			return nil
		}
	default:
		return nil
	}
	return r.write(&Record{Kind: KindDevice, Device: deviceRecord(e)})
}

// Close stops recording. Later records return ErrClosed.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	r.closed = true
	if r.log != nil {
		r.log.Debugf("capture closed after %d records", r.count)
	}
	return nil
}

// Tap wraps a link builder so that every frame the link receives or
// sends is recorded.
func (r *Recorder) Tap(build transport.LinkBuilder) transport.LinkBuilder {
	return func(handler transport.FrameHandler) (transport.Link, error) {
		link, err := build(func(f *transport.ReceivedFrame) {
			source := ""
			if f.Source != nil {
				source = f.Source.String()
			}
			r.RecordFrame(KindRx, f.Data, source)
			handler(f)
		})
		if err != nil {
			return nil, err
		}
		return &tappedLink{Link: link, r: r}, nil
	}
}

type tappedLink struct {
	transport.Link
	r *Recorder
}

func (l *tappedLink) Send(data []byte) error {
	err := l.Link.Send(data)
	if err == nil {
		l.r.RecordFrame(KindTx, data, "")
	}
	return err
}
