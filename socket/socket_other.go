//go:build !linux

package socket

import (
	"errors"
	"net"
)

// Listener is only implemented on Linux.
type Listener struct{}

// Listen is only implemented on Linux.
func Listen(addr string) (*Listener, error) {
	return nil, errors.ErrUnsupported
}

func (l *Listener) Fd() int { return -1 }
func (l *Listener) Addr() *net.TCPAddr { return nil }
func (l *Listener) Accept() (*Stream, error) { return nil, errors.ErrUnsupported }
func (l *Listener) Close() error { return nil }

// Stream is only implemented on Linux.
type Stream struct{}

// Connect is only implemented on Linux.
func Connect(addr *net.TCPAddr) (*Stream, error) {
	return nil, errors.ErrUnsupported
}

func (s *Stream) Fd() int { return -1 }
func (s *Stream) RemoteAddr() *net.TCPAddr { return nil }
func (s *Stream) Read(p []byte) (int, error) { return 0, errors.ErrUnsupported }
func (s *Stream) Write(p []byte) (int, error) { return 0, errors.ErrUnsupported }
func (s *Stream) SocketError() error { return errors.ErrUnsupported }
func (s *Stream) PeerConnected() (bool, error) { return false, errors.ErrUnsupported }
func (s *Stream) Shutdown() error { return errors.ErrUnsupported }
func (s *Stream) Close() error { return nil }
