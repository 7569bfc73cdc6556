package protocol

import "encoding/binary"

const (
	// LengthPrefixSize is the size of the big-endian length in front of every payload.
	LengthPrefixSize = 4

	// MaxFrameSize bounds a single payload. A larger length means the stream is corrupt.
	MaxFrameSize = 1 << 20
)

// Frame wraps payload as [4-byte big-endian length][payload].
func Frame(payload []byte) []byte {
	return AppendFrame(make([]byte, 0, LengthPrefixSize+len(payload)), payload)
}

// AppendFrame appends the framed payload to dst.
func AppendFrame(dst []byte, payload []byte) []byte {
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(payload)))
	return append(dst, payload...)
}

// AppendMessage encodes msg and appends it to dst as one frame.
func AppendMessage(dst []byte, msg Message) []byte {
	start := len(dst)
	dst = append(dst, 0, 0, 0, 0)
	dst = msg.AppendBinary(dst)
	binary.BigEndian.PutUint32(dst[start:], uint32(len(dst)-start-LengthPrefixSize))
	return dst
}

// Unframe extracts the frame starting at offset.
// It returns ok=false, and leaves offset untouched, when buf does not yet hold
// the full frame. The returned payload aliases buf.
func Unframe(buf []byte, offset int) (payload []byte, next int, ok bool) {
	if offset+LengthPrefixSize > len(buf) {
		return nil, offset, false
	}
	n := int(binary.BigEndian.Uint32(buf[offset:]))
	end := offset + LengthPrefixSize + n
	if end > len(buf) || end < offset {
		return nil, offset, false
	}
	return buf[offset+LengthPrefixSize : end], end, true
}

// Accumulator collects bytes from a stream and cuts them into frames.
//
// Typical use:
//
//	acc.Write(chunk)
//	for {
//		payload, ok, err := acc.Next()
//		if err != nil || !ok { break }
//		...
//	}
//	acc.Compact()
//
// Payloads returned by Next are only valid until the following Compact or Write.
type Accumulator struct {
	buf    []byte
	offset int
}

// NewAccumulator creates an accumulator with the given initial capacity.
func NewAccumulator(capacity int) *Accumulator {
	return &Accumulator{buf: make([]byte, 0, capacity)}
}

// Write appends received bytes. It never fails.
func (a *Accumulator) Write(p []byte) (int, error) {
	a.buf = append(a.buf, p...)
	return len(p), nil
}

// Next returns the next complete payload. ok is false when more bytes are needed.
func (a *Accumulator) Next() ([]byte, bool, error) {
	if a.offset+LengthPrefixSize <= len(a.buf) {
		if n := binary.BigEndian.Uint32(a.buf[a.offset:]); n > MaxFrameSize {
			return nil, false, ErrFrameTooLarge
		}
	}
	payload, next, ok := Unframe(a.buf, a.offset)
	if !ok {
		return nil, false, nil
	}
	a.offset = next
	return payload, true, nil
}

// Compact discards the bytes of frames already returned by Next.
func (a *Accumulator) Compact() {
	if a.offset == 0 {
		return
	}
	n := copy(a.buf, a.buf[a.offset:])
	a.buf = a.buf[:n]
	a.offset = 0
}

// Buffered returns the number of bytes not yet consumed by Next.
func (a *Accumulator) Buffered() int {
	return len(a.buf) - a.offset
}

// Reset drops everything buffered.
func (a *Accumulator) Reset() {
	a.buf = a.buf[:0]
	a.offset = 0
}
