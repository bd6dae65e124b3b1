package monitor

import (
	"fmt"
	"time"

	"github.com/backkem/devbus/pkg/discovery"
	"github.com/backkem/devbus/pkg/frame"
)

// RecordKind identifies what a record holds.
type RecordKind uint8

const (
	// KindRx is a frame received from the link.
	KindRx RecordKind = iota + 1

	// KindTx is a frame sent on the link.
	KindTx

	// KindDevice is a device table event.
	KindDevice
)

// String returns the kind name.
func (k RecordKind) String() string {
	switch k {
	case KindRx:
		return "rx"
	case KindTx:
		return "tx"
	case KindDevice:
		return "device"
	default:
		return fmt.Sprintf("RecordKind(%d)", uint8(k))
	}
}

// Header opens a capture.
type Header struct {
	Magic   string `cbor:"1,keyasint"`
	Version int    `cbor:"2,keyasint"`

	// Started is the capture start in Unix nanoseconds.
	Started int64 `cbor:"3,keyasint"`

	// Host is the identifier of the recording node, if any.
	Host uint64 `cbor:"4,keyasint,omitempty"`
}

// DeviceRecord is the device part of a KindDevice record.
type DeviceRecord struct {
	Event    string   `cbor:"1,keyasint"`
	ID       uint64   `cbor:"2,keyasint"`
	ShortID  string   `cbor:"3,keyasint"`
	Status   uint32   `cbor:"4,keyasint"`
	Services []uint32 `cbor:"5,keyasint,omitempty"`
}

// Record is one captured item.
type Record struct {
	Kind RecordKind `cbor:"1,keyasint"`

	// At is the capture time in Unix nanoseconds.
	At int64 `cbor:"2,keyasint"`

	// Frame holds the raw frame bytes of KindRx and KindTx records.
	Frame []byte `cbor:"3,keyasint,omitempty"`

	// Source is the link address a received frame came from.
	Source string `cbor:"4,keyasint,omitempty"`

	// Device is set for KindDevice records.
	Device *DeviceRecord `cbor:"5,keyasint,omitempty"`
}

// Time returns the capture time.
func (r *Record) Time() time.Time {
	return time.Unix(0, r.At)
}

// ParseFrame decodes the captured frame.
func (r *Record) ParseFrame() (*frame.Frame, error) {
	return frame.Parse(r.Frame)
}

// String returns a one-line summary.
func (r *Record) String() string {
	ts := r.Time().Format("15:04:05.000")
	switch r.Kind {
	case KindRx, KindTx:
		f, err := r.ParseFrame()
		if err != nil {
			return fmt.Sprintf("%s %s %d bytes: %v", ts, r.Kind, len(r.Frame), err)
		}
		return fmt.Sprintf("%s %s %s", ts, r.Kind, f)
	case KindDevice:
		if r.Device != nil {
			return fmt.Sprintf("%s %s %s %s(%016x) services=%x",
				ts, r.Kind, r.Device.Event, r.Device.ShortID, r.Device.ID, r.Device.Services)
		}
	}
	return fmt.Sprintf("%s %s", ts, r.Kind)
}

func deviceRecord(e discovery.Event) *DeviceRecord {
	return &DeviceRecord{
		Event:    e.Kind.String(),
		ID:       e.Device.ID,
		ShortID:  e.Device.ShortID,
		Status:   e.Device.Status,
		Services: e.Device.Services,
	}
}
