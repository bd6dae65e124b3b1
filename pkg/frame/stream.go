package frame

import (
	"errors"
	"io"
)

// StreamWriter writes frames to a byte stream. Frames are self-delimiting:
// the size byte at offset 2 gives the payload length.
type StreamWriter struct {
	w io.Writer
}

// NewStreamWriter creates a new stream writer.
func NewStreamWriter(w io.Writer) *StreamWriter {
	return &StreamWriter{w: w}
}

// Write writes an already encoded frame.
func (sw *StreamWriter) Write(data []byte) (int, error) {
	if len(data) < HeaderSize {
		return 0, ErrShortFrame
	}
	if len(data) != HeaderSize+int(data[2]) {
		return 0, ErrBadPacket
	}
	return sw.w.Write(data)
}

// WriteFrame encodes and writes a frame.
func (sw *StreamWriter) WriteFrame(f *Frame) error {
	var buf [MaxFrameSize]byte
	n := f.EncodeTo(buf[:])
	_, err := sw.w.Write(buf[:n])
	return err
}

// StreamReader reads frames from a byte stream.
type StreamReader struct {
	r io.Reader
}

// NewStreamReader creates a new stream reader.
func NewStreamReader(r io.Reader) *StreamReader {
	return &StreamReader{r: r}
}

// Read reads one encoded frame from the stream. It returns io.EOF when the
// stream ends cleanly between frames.
func (sr *StreamReader) Read() ([]byte, error) {
	var hdr [HeaderSize]byte
	if _, err := io.ReadFull(sr.r, hdr[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, ErrStreamFailure
	}

	size := int(hdr[2])
	if size > MaxPayloadSize {
		return nil, ErrFrameTooLong
	}

	data := make([]byte, HeaderSize+size)
	copy(data, hdr[:])
	if _, err := io.ReadFull(sr.r, data[HeaderSize:]); err != nil {
		return nil, ErrStreamFailure
	}

	return data, nil
}

// ReadFrame reads and decodes one frame. The checksum is not verified.
func (sr *StreamReader) ReadFrame() (*Frame, error) {
	data, err := sr.Read()
	if err != nil {
		return nil, err
	}
	return Parse(data)
}
