// Package mllp implements the Minimal Lower Layer Protocol transport for
// HL7 v2 messages: stream framing, a TCP listener with one handler
// goroutine per connection, and a small client used for sending messages
// and reading acknowledgements.
package mllp

import (
	"bytes"
	"errors"
	"strings"
	"unicode/utf8"
)

const (
	// StartBlock is the MLLP start-of-message byte (VT).
	StartBlock = 0x0B

	// EndBlock is the MLLP end-of-message byte (FS).
	EndBlock = 0x1C

	// CarriageReturn trails the end block and closes the frame.
	CarriageReturn = 0x0D

	// DefaultMaxMessageBytes caps the per-connection accumulation buffer.
	// A stream that never produces a terminator would otherwise grow the
	// buffer without bound.
	DefaultMaxMessageBytes = 1 << 20
)

// ErrFrameTooLarge is returned by Decoder.Push when the buffered bytes
// exceed the configured maximum without containing a complete frame. The
// connection owning the decoder should be closed.
var ErrFrameTooLarge = errors.New("mllp: frame exceeds maximum message size")

var endSentinel = []byte{EndBlock, CarriageReturn}

// Frame wraps an ER7 payload in MLLP framing: <VT> payload <FS><CR>.
func Frame(payload []byte) []byte {
	out := make([]byte, 0, len(payload)+3)
	out = append(out, StartBlock)
	out = append(out, payload...)
	out = append(out, EndBlock, CarriageReturn)
	return out
}

// Decoder extracts complete MLLP frames from a TCP byte stream. Bytes are
// appended with Push as they arrive; Next repeatedly pops the first
// complete frame. Partial frames stay buffered until more bytes arrive.
type Decoder struct {
	buf []byte
	max int
}

// NewDecoder returns a Decoder whose buffer is capped at max bytes.
// A max of zero or less falls back to DefaultMaxMessageBytes.
func NewDecoder(max int) *Decoder {
	if max <= 0 {
		max = DefaultMaxMessageBytes
	}
	return &Decoder{max: max}
}

// Push appends bytes read from the stream. It fails with ErrFrameTooLarge
// when the buffer exceeds the cap while still holding no complete frame.
func (d *Decoder) Push(p []byte) error {
	d.buf = append(d.buf, p...)
	if len(d.buf) > d.max && !d.hasFrame() {
		return ErrFrameTooLarge
	}
	return nil
}

// Next pops the payload of the first complete frame, or returns ok=false
// when no complete frame is buffered (everything is retained until more
// bytes arrive). Consumed bytes include both sentinels and the trailing
// carriage return, plus any garbage before the start sentinel. Callers
// loop on Next to drain pipelined messages.
func (d *Decoder) Next() (payload []byte, ok bool) {
	start, end := d.scan()
	if end < 0 {
		return nil, false
	}

	payload = append([]byte(nil), d.buf[start+1:end]...)
	d.buf = d.buf[:copy(d.buf, d.buf[end+2:])]
	return payload, true
}

// Buffered reports how many bytes are waiting for a terminator.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

func (d *Decoder) hasFrame() bool {
	_, end := d.scan()
	return end >= 0
}

// scan locates the first start sentinel and the first end-sentinel pair
// strictly after it. end is -1 while the frame is incomplete, which covers
// the boundary case of an FS byte sitting at the very end of the buffer
// with its CR still in flight.
func (d *Decoder) scan() (start, end int) {
	start = bytes.IndexByte(d.buf, StartBlock)
	if start < 0 {
		return -1, -1
	}
	rel := bytes.Index(d.buf[start+1:], endSentinel)
	if rel < 0 {
		return start, -1
	}
	return start, start + 1 + rel
}

// DecodeText converts payload bytes to a string, substituting the Unicode
// replacement character for invalid sequences. A malformed transmission
// must not take the connection down.
func DecodeText(payload []byte) string {
	if utf8.Valid(payload) {
		return string(payload)
	}
	return strings.ToValidUTF8(string(payload), string(utf8.RuneError))
}
