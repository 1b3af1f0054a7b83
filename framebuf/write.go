package framebuf

import (
	"bytes"
	"errors"
	"io"

	"github.com/cyberinferno/go-jsonlnet/socket"
)

// ErrEmbeddedDelimiter is returned by Enqueue when a payload contains the
// frame delimiter and would therefore split into several frames on the wire.
var ErrEmbeddedDelimiter = errors.New("payload contains frame delimiter")

// WriteBuffer is an ordered queue of framed payloads awaiting transmission.
// offset is the number of bytes of the head frame already written.
type WriteBuffer struct {
	frames   [][]byte
	offset   int
	buffered int
}

// NewWriteBuffer creates an empty WriteBuffer.
func NewWriteBuffer() *WriteBuffer {
	return &WriteBuffer{}
}

// Enqueue copies payload, appends the delimiter, and queues the frame.
//
// Parameters:
//   - payload: One encoded message without a trailing delimiter
//
// Returns:
//   - ErrEmbeddedDelimiter if payload contains a newline
func (b *WriteBuffer) Enqueue(payload []byte) error {
	if bytes.IndexByte(payload, Delimiter) >= 0 {
		return ErrEmbeddedDelimiter
	}

	frame := make([]byte, len(payload)+1)
	copy(frame, payload)
	frame[len(payload)] = Delimiter

	b.frames = append(b.frames, frame)
	b.buffered += len(frame)
	return nil
}

// DrainInto writes queued frames to w, starting at the stored offset of the
// head frame, until the queue is empty or w would block. A short write keeps
// the remainder queued for the next call.
//
// Parameters:
//   - w: A non-blocking writer that reports socket.ErrWouldBlock when full
//
// Returns:
//   - true if the queue is now empty
//   - The number of bytes written during this call
//   - A non-nil error only for failures other than would-block
func (b *WriteBuffer) DrainInto(w io.Writer) (bool, int, error) {
	written := 0
	for len(b.frames) > 0 {
		head := b.frames[0]
		n, err := w.Write(head[b.offset:])
		if n > 0 {
			written += n
			b.offset += n
			b.buffered -= n
			if b.offset == len(head) {
				b.frames[0] = nil
				b.frames = b.frames[1:]
				b.offset = 0
			}
		}

		if err != nil {
			if socket.IsWouldBlock(err) {
				break
			}

			return b.drained(), written, err
		}

		if n == 0 {
			// No progress and no error: treat as would-block rather than spin.
			break
		}
	}

	return b.drained(), written, nil
}

// drained reports whether the queue is empty, releasing the backing slice
// when it is.
func (b *WriteBuffer) drained() bool {
	if len(b.frames) > 0 {
		return false
	}

	b.frames = nil
	return true
}

// Empty reports whether no bytes are waiting to be written.
func (b *WriteBuffer) Empty() bool {
	return len(b.frames) == 0
}

// Len returns the number of queued frames, including a partially written head.
func (b *WriteBuffer) Len() int {
	return len(b.frames)
}

// Buffered returns the number of bytes not yet written.
func (b *WriteBuffer) Buffered() int {
	return b.buffered
}

// Reset discards all queued frames.
func (b *WriteBuffer) Reset() {
	b.frames = nil
	b.offset = 0
	b.buffered = 0
}
