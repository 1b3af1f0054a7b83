// Package framebuf implements newline-delimited framing for one socket: a read
// side that turns an arbitrarily fragmented byte stream into complete lines,
// and a write side that queues framed lines and resumes after short writes.
package framebuf

import "bytes"

// Delimiter terminates every frame on the wire.
const Delimiter = '\n'

// DefaultCompactThreshold is the consumed-prefix size above which a
// ReadBuffer moves its unconsumed tail to the front of the backing slice.
const DefaultCompactThreshold = 4096

// ReadBuffer accumulates raw bytes and extracts complete lines.
//
// Bytes before the cursor have already been returned as frames. Bytes from the
// cursor to the end are the unconsumed tail: zero or more complete lines plus
// at most one incomplete trailing line. scanned records how far past the
// cursor is known to contain no delimiter, so a line delivered one byte at a
// time is scanned once in total.
type ReadBuffer struct {
	buf              []byte
	cursor           int
	scanned          int
	compactThreshold int
}

// NewReadBuffer creates an empty ReadBuffer.
//
// Parameters:
//   - compactThreshold: Consumed-prefix size that triggers compaction; values
//     <= 0 select DefaultCompactThreshold
//
// Returns:
//   - A new ReadBuffer
func NewReadBuffer(compactThreshold int) *ReadBuffer {
	if compactThreshold <= 0 {
		compactThreshold = DefaultCompactThreshold
	}

	return &ReadBuffer{compactThreshold: compactThreshold}
}

// Ingest appends newly read bytes to the buffer.
//
// Parameters:
//   - p: Bytes read from the socket; the buffer copies them
func (b *ReadBuffer) Ingest(p []byte) {
	b.buf = append(b.buf, p...)
}

// ExtractNext returns the next complete line without its delimiter. When no
// complete line is buffered it returns false and leaves the tail untouched.
// The returned slice is owned by the caller.
//
// Returns:
//   - The frame bytes
//   - true if a frame was extracted
func (b *ReadBuffer) ExtractNext() ([]byte, bool) {
	idx := bytes.IndexByte(b.buf[b.scanned:], Delimiter)
	if idx < 0 {
		b.scanned = len(b.buf)
		return nil, false
	}

	end := b.scanned + idx
	frame := make([]byte, end-b.cursor)
	copy(frame, b.buf[b.cursor:end])

	b.cursor = end + 1
	b.scanned = b.cursor
	b.compact()

	return frame, true
}

// Buffered returns the number of unconsumed bytes.
func (b *ReadBuffer) Buffered() int {
	return len(b.buf) - b.cursor
}

// Reset discards all buffered bytes, including any partial trailing line.
func (b *ReadBuffer) Reset() {
	b.buf = nil
	b.cursor = 0
	b.scanned = 0
}

func (b *ReadBuffer) compact() {
	if b.cursor == len(b.buf) {
		b.buf = b.buf[:0]
		b.cursor = 0
		b.scanned = 0
		return
	}

	if b.cursor < b.compactThreshold {
		return
	}

	n := copy(b.buf, b.buf[b.cursor:])
	b.buf = b.buf[:n]
	b.scanned -= b.cursor
	b.cursor = 0
}
