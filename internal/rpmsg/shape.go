package rpmsg

import "bytes"

// MaxMessageSize caps one RawByteStream read.
const MaxMessageSize = 4096

// Shape is fixed when a handle is opened.
type Shape int

const (
	RawByteStream Shape = iota
	LineNotification
)

func (s Shape) String() string {
	switch s {
	case RawByteStream:
		return "raw"
	case LineNotification:
		return "uevent"
	default:
		return "unknown"
	}
}

// CanSend reports whether the shape accepts outbound payloads.
func (s Shape) CanSend() bool {
	return s == RawByteStream
}

// decoder turns the results of underlying reads into messages for one
// shape. Both channel styles feed it exactly what read(2) returned.
type decoder struct {
	shape   Shape
	pending []byte
}

func newDecoder(shape Shape) *decoder {
	return &decoder{shape: shape}
}

// next pops a complete buffered line. Raw streams never buffer.
func (d *decoder) next() ([]byte, bool) {
	if d.shape != LineNotification {
		return nil, false
	}
	i := bytes.IndexByte(d.pending, '\n')
	if i < 0 {
		return nil, false
	}
	msg := bytes.Clone(d.pending[:i+1])
	d.pending = d.pending[i+1:]
	if len(d.pending) == 0 {
		d.pending = nil
	}
	return msg, true
}

// feed decodes the bytes of one read. An empty p is end of stream. It
// reports false when a line is still incomplete and another read is needed.
func (d *decoder) feed(p []byte) ([]byte, bool) {
	if d.shape != LineNotification {
		return append(make([]byte, 0, len(p)), p...), true
	}
	if len(p) == 0 {
		tail := d.pending
		d.pending = nil
		if tail == nil {
			tail = []byte{}
		}
		return tail, true
	}
	d.pending = append(d.pending, p...)
	return d.next()
}

// ready reports whether next would return a message without reading.
func (d *decoder) ready() bool {
	return d.shape == LineNotification && bytes.IndexByte(d.pending, '\n') >= 0
}
