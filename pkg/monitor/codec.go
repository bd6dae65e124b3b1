// Package monitor records bus traffic and device churn to a CBOR
// sequence and reads it back.
//
// A capture is a header item followed by one Record per observed event.
// Records use integer map keys so that captures stay compact.
package monitor

import (
	"errors"

	"github.com/fxamacker/cbor/v2"
)

// Capture format identification.
const (
	// Magic opens every capture header.
	Magic = "devbus-capture"

	// Version is the capture format version.
	Version = 1
)

// Sentinel errors.
var (
	// ErrNotCapture is returned when a stream does not start with a
	// capture header.
	ErrNotCapture = errors.New("monitor: not a capture")

	// ErrVersion is returned for captures of an unknown version.
	ErrVersion = errors.New("monitor: unsupported capture version")

	// ErrClosed is returned when recording to a closed recorder.
	ErrClosed = errors.New("monitor: recorder closed")
)

// encMode uses Core Deterministic Encoding: the same record always
// produces the same bytes.
var encMode cbor.EncMode

var decMode cbor.DecMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("monitor: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("monitor: CBOR decoder initialization failed: " + err.Error())
	}
}

// Diagnose returns the CBOR diagnostic notation of one encoded item.
func Diagnose(data []byte) (string, error) {
	return cbor.Diagnose(data)
}
