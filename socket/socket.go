// Package socket wraps the raw non-blocking stream socket primitives the
// engines drive from readiness events: listen, accept, connect, read, write,
// shutdown, and connect-completion checks.
package socket

import "errors"

// ErrWouldBlock is returned by non-blocking operations that cannot make
// progress until the socket becomes ready again. It is not a failure.
var ErrWouldBlock = errors.New("operation would block")

// ErrClosed is returned by operations on a socket that was already closed.
var ErrClosed = errors.New("socket closed")

// IsWouldBlock reports whether err is, or wraps, ErrWouldBlock.
func IsWouldBlock(err error) bool {
	return errors.Is(err, ErrWouldBlock)
}
