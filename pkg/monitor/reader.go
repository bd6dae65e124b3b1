package monitor

import (
	"errors"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// Reader reads a capture.
type Reader struct {
	dec    *cbor.Decoder
	header Header
}

// NewReader reads and checks the capture header.
func NewReader(r io.Reader) (*Reader, error) {
	rd := &Reader{dec: decMode.NewDecoder(r)}
	if err := rd.dec.Decode(&rd.header); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, ErrNotCapture
		}
		return nil, fmt.Errorf("%w: %v", ErrNotCapture, err)
	}
	if rd.header.Magic != Magic {
		return nil, ErrNotCapture
	}
	if rd.header.Version != Version {
		return nil, fmt.Errorf("%w: %d", ErrVersion, rd.header.Version)
	}
	return rd, nil
}

// Header returns the capture header.
func (r *Reader) Header() Header {
	return r.header
}

// Next returns the next record, or io.EOF at the end of the capture.
func (r *Reader) Next() (*Record, error) {
	var rec Record
	if err := r.dec.Decode(&rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

// Replay calls fn for every remaining record and returns how many were
// read. It stops at the first error from fn.
func Replay(r *Reader, fn func(*Record) error) (int, error) {
	n := 0
	for {
		rec, err := r.Next()
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("record %d: %w", n, err)
		}
		n++
		if err := fn(rec); err != nil {
			return n, err
		}
	}
}
