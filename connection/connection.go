// Package connection implements the per-socket state machine: it owns one
// non-blocking socket with its read and write frame buffers and performs the
// I/O that a readiness event allows.
package connection

import (
	"errors"
	"fmt"
	"io"

	"github.com/cyberinferno/go-jsonlnet/framebuf"
	"github.com/cyberinferno/go-jsonlnet/netpoll"
	"github.com/cyberinferno/go-jsonlnet/socket"
)

var (
	// ErrClosed is returned by operations on a Closing or Closed connection.
	ErrClosed = errors.New("connection closed")
	// ErrPeerClosed reports an orderly shutdown by the peer.
	ErrPeerClosed = errors.New("peer closed connection")
	// ErrConnectFailed wraps the socket error of a failed outbound connect.
	ErrConnectFailed = errors.New("connect failed")
	// ErrFrameTooLarge reports an unterminated line longer than MaxFrameSize.
	ErrFrameTooLarge = errors.New("frame exceeds maximum size")
	// ErrBackpressure is returned by Send when MaxQueuedBytes would be exceeded.
	ErrBackpressure = errors.New("write queue full")
)

const (
	// DefaultReadChunkSize is the size of each non-blocking read.
	DefaultReadChunkSize = 4096
	// DefaultMaxFrameSize bounds a single inbound line.
	DefaultMaxFrameSize = 16 * 1024 * 1024
	// DefaultMaxReadPerEvent bounds the bytes consumed by one readable event.
	DefaultMaxReadPerEvent = 256 * 1024
)

// Socket is the non-blocking stream a Connection drives. Read and Write
// return socket.ErrWouldBlock when no progress is possible and Read returns
// io.EOF on orderly peer shutdown.
type Socket interface {
	io.Reader
	io.Writer
	Fd() int
	SocketError() error
	PeerConnected() (bool, error)
	Shutdown() error
	Close() error
}

// Options tune buffering. Zero values select the defaults.
type Options struct {
	// ReadChunkSize is the size of each read attempt.
	ReadChunkSize int
	// CompactThreshold is passed to the read frame buffer.
	CompactThreshold int
	// MaxFrameSize bounds an unterminated inbound line; negative disables the check.
	MaxFrameSize int
	// MaxQueuedBytes bounds unsent outbound bytes; 0 means unbounded.
	MaxQueuedBytes int
	// MaxReadPerEvent bounds the bytes read by one event. Whatever is left in
	// the socket is picked up by the next readiness event.
	MaxReadPerEvent int
}

func (o Options) withDefaults() Options {
	if o.ReadChunkSize <= 0 {
		o.ReadChunkSize = DefaultReadChunkSize
	}

	if o.MaxFrameSize == 0 {
		o.MaxFrameSize = DefaultMaxFrameSize
	}

	if o.MaxReadPerEvent <= 0 {
		o.MaxReadPerEvent = DefaultMaxReadPerEvent
	}

	if o.MaxReadPerEvent < o.ReadChunkSize {
		o.MaxReadPerEvent = o.ReadChunkSize
	}

	return o
}

// Result describes what one HandleEvent call achieved.
type Result struct {
	Frames       [][]byte // Complete inbound lines, in stream order
	BytesRead    int
	BytesWritten int
}

// Connection owns one socket and its frame buffers. It is not safe for
// concurrent use.
type Connection struct {
	id       netpoll.SocketID
	sock     Socket
	state    State
	interest netpoll.Interest
	rbuf     *framebuf.ReadBuffer
	wbuf     *framebuf.WriteBuffer
	chunk    []byte
	opts     Options
}

// NewOpen wraps an accepted socket and registers it for read interest.
//
// Parameters:
//   - reg: The multiplexer registry
//   - id: The identifier to register the socket under
//   - sock: The accepted, non-blocking socket
//   - opts: Buffering options
//
// Returns:
//   - The Open connection
//   - An error if registration failed; the socket is left open for the caller
func NewOpen(reg netpoll.Registry, id netpoll.SocketID, sock Socket, opts Options) (*Connection, error) {
	c := newConnection(id, sock, Open, opts)
	if err := reg.Register(sock.Fd(), id, netpoll.Readable); err != nil {
		return nil, fmt.Errorf("register connection %d: %w", id, err)
	}

	c.interest = netpoll.Readable
	return c, nil
}

// NewConnecting wraps a socket with a connect in progress and registers it for
// write interest, which signals connect completion.
func NewConnecting(reg netpoll.Registry, id netpoll.SocketID, sock Socket, opts Options) (*Connection, error) {
	c := newConnection(id, sock, Connecting, opts)
	if err := reg.Register(sock.Fd(), id, netpoll.Writable); err != nil {
		return nil, fmt.Errorf("register connection %d: %w", id, err)
	}

	c.interest = netpoll.Writable
	return c, nil
}

func newConnection(id netpoll.SocketID, sock Socket, state State, opts Options) *Connection {
	opts = opts.withDefaults()
	return &Connection{
		id:    id,
		sock:  sock,
		state: state,
		rbuf:  framebuf.NewReadBuffer(opts.CompactThreshold),
		wbuf:  framebuf.NewWriteBuffer(),
		chunk: make([]byte, opts.ReadChunkSize),
		opts:  opts,
	}
}

// ID returns the connection's identifier.
func (c *Connection) ID() netpoll.SocketID {
	return c.id
}

// State returns the current lifecycle state.
func (c *Connection) State() State {
	return c.state
}

// QueuedBytes returns the number of outbound bytes not yet written.
func (c *Connection) QueuedBytes() int {
	return c.wbuf.Buffered()
}

// HandleEvent performs the I/O that dir allows and advances the state
// machine. A Connecting connection only acts on writable events and stays
// Connecting until the handshake has finished. Any returned error means the
// connection is now Closed. Frames
// completed before a peer shutdown or an oversized line are still returned
// alongside the error.
//
// Parameters:
//   - reg: The multiplexer registry
//   - dir: The ready directions reported by the multiplexer
//
// Returns:
//   - The frames and byte counts produced by this event
//   - ErrClosed if already closed, ErrPeerClosed on peer shutdown, or the
//     transport/protocol error that closed the connection
func (c *Connection) HandleEvent(reg netpoll.Registry, dir netpoll.Interest) (Result, error) {
	var res Result

	switch c.state {
	case Closed, Closing:
		return res, ErrClosed
	case Connecting:
		if !dir.IsWritable() {
			return res, nil
		}

		connected, err := c.completeConnect(reg)
		if err != nil || !connected {
			return res, err
		}

		// A connect that completed also permits the first flush.
		dir |= netpoll.Writable
	}

	if dir.IsWritable() {
		n, err := c.flush(reg)
		res.BytesWritten += n
		if err != nil {
			return res, err
		}
	}

	if dir.IsReadable() {
		return c.read(reg, res)
	}

	return res, nil
}

// Send queues payload as one frame. On an Open connection write interest is
// registered if it is not already; on a Connecting connection the frame waits
// until the connect completes.
//
// Parameters:
//   - reg: The multiplexer registry
//   - payload: One encoded message without a trailing delimiter
//
// Returns:
//   - ErrClosed, ErrBackpressure, or framebuf.ErrEmbeddedDelimiter without
//     changing state; any other error means registration failed and the
//     connection is now Closed
func (c *Connection) Send(reg netpoll.Registry, payload []byte) error {
	if c.state == Closed || c.state == Closing {
		return ErrClosed
	}

	if c.opts.MaxQueuedBytes > 0 && c.wbuf.Buffered()+len(payload)+1 > c.opts.MaxQueuedBytes {
		return ErrBackpressure
	}

	if err := c.wbuf.Enqueue(payload); err != nil {
		return err
	}

	if c.state == Connecting {
		return nil
	}

	return c.setWriteInterest(reg, true)
}

// CloseGracefully moves through Closing: one best-effort flush of queued
// frames, then Close.
func (c *Connection) CloseGracefully(reg netpoll.Registry) error {
	if c.state == Closed {
		return nil
	}

	if c.state == Open {
		c.state = Closing
		_, _, _ = c.wbuf.DrainInto(c.sock)
	}

	return c.Close(reg)
}

// Close deregisters and releases the socket and discards both buffers. It is
// safe to call multiple times.
func (c *Connection) Close(reg netpoll.Registry) error {
	if c.state == Closed {
		return nil
	}

	c.state = Closed
	c.interest = 0
	c.rbuf.Reset()
	c.wbuf.Reset()

	var errs []error
	if err := reg.Deregister(c.sock.Fd()); err != nil {
		errs = append(errs, err)
	}

	_ = c.sock.Shutdown()
	if err := c.sock.Close(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func (c *Connection) completeConnect(reg netpoll.Registry) (bool, error) {
	if err := c.sock.SocketError(); err != nil {
		_ = c.Close(reg)
		return false, fmt.Errorf("%w: %w", ErrConnectFailed, err)
	}

	// No pending error is not the same as established.
	connected, err := c.sock.PeerConnected()
	if err != nil {
		_ = c.Close(reg)
		return false, fmt.Errorf("%w: %w", ErrConnectFailed, err)
	}

	if !connected {
		return false, nil
	}

	c.state = Open
	return true, c.setWriteInterest(reg, !c.wbuf.Empty())
}

func (c *Connection) flush(reg netpoll.Registry) (int, error) {
	done, n, err := c.wbuf.DrainInto(c.sock)
	if err != nil {
		_ = c.Close(reg)
		return n, err
	}

	return n, c.setWriteInterest(reg, !done)
}

func (c *Connection) read(reg netpoll.Registry, res Result) (Result, error) {
	eof := false
	for res.BytesRead < c.opts.MaxReadPerEvent {
		n, err := c.sock.Read(c.chunk)
		if n > 0 {
			res.BytesRead += n
			c.rbuf.Ingest(c.chunk[:n])
			res.Frames = c.extractFrames(res.Frames)

			if tail := c.rbuf.Buffered(); c.opts.MaxFrameSize > 0 && tail > c.opts.MaxFrameSize {
				_ = c.Close(reg)
				return res, fmt.Errorf("%w: %d bytes without delimiter", ErrFrameTooLarge, tail)
			}
		}

		if err != nil {
			if socket.IsWouldBlock(err) {
				break
			}

			if errors.Is(err, io.EOF) {
				eof = true
				break
			}

			_ = c.Close(reg)
			res.Frames = nil
			return res, err
		}

		if n == 0 {
			break
		}
	}

	if eof {
		_ = c.CloseGracefully(reg)
		return res, ErrPeerClosed
	}

	return res, nil
}

func (c *Connection) extractFrames(frames [][]byte) [][]byte {
	for {
		frame, ok := c.rbuf.ExtractNext()
		if !ok {
			return frames
		}

		frames = append(frames, frame)
	}
}

func (c *Connection) setWriteInterest(reg netpoll.Registry, want bool) error {
	desired := netpoll.Readable
	if want {
		desired |= netpoll.Writable
	}

	if desired == c.interest {
		return nil
	}

	if err := reg.Reregister(c.sock.Fd(), c.id, desired); err != nil {
		_ = c.Close(reg)
		return fmt.Errorf("reregister connection %d: %w", c.id, err)
	}

	c.interest = desired
	return nil
}
