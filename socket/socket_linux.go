//go:build linux

package socket

import (
	"errors"
	"fmt"
	"io"
	"net"

	"golang.org/x/sys/unix"
)

// Listener is a non-blocking listening TCP socket.
type Listener struct {
	fd   int
	addr *net.TCPAddr
}

// Listen binds a non-blocking TCP listener to addr ("host:port"). A port of 0
// selects an ephemeral port; Addr reports the resolved address afterward.
//
// Parameters:
//   - addr: The "host:port" to bind
//
// Returns:
//   - The bound Listener
//   - An error if resolution, bind, or listen fails
func Listen(addr string) (*Listener, error) {
	tcpAddr, err := net.ResolveTCPAddr("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", addr, err)
	}

	sa, family, err := toSockaddr(tcpAddr)
	if err != nil {
		return nil, err
	}

	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return nil, fmt.Errorf("socket: %w", err)
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("setsockopt SO_REUSEADDR: %w", err)
	}

	if err := unix.Bind(fd, sa); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("bind %s: %w", addr, err)
	}

	if err := unix.Listen(fd, unix.SOMAXCONN); err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}

	local, err := unix.Getsockname(fd)
	if err != nil {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("getsockname: %w", err)
	}

	return &Listener{fd: fd, addr: fromSockaddr(local)}, nil
}

// Fd returns the listener's file descriptor, or -1 once closed.
func (l *Listener) Fd() int {
	return l.fd
}

// Addr returns the address the listener is bound to.
func (l *Listener) Addr() *net.TCPAddr {
	return l.addr
}

// Accept takes one pending connection without blocking. The returned Stream
// is non-blocking and has TCP_NODELAY set.
//
// Returns:
//   - The accepted Stream
//   - ErrWouldBlock if no connection is pending, or another error on failure
func (l *Listener) Accept() (*Stream, error) {
	if l.fd < 0 {
		return nil, ErrClosed
	}

	for {
		nfd, sa, err := unix.Accept4(l.fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if err != nil {
			switch {
			case errors.Is(err, unix.EINTR), errors.Is(err, unix.ECONNABORTED):
				continue
			case errors.Is(err, unix.EAGAIN):
				return nil, ErrWouldBlock
			}

			return nil, fmt.Errorf("accept: %w", err)
		}

		_ = unix.SetsockoptInt(nfd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)
		return &Stream{fd: nfd, remote: fromSockaddr(sa)}, nil
	}
}

// Close closes the listener. It is safe to call multiple times.
func (l *Listener) Close() error {
	if l.fd < 0 {
		return nil
	}

	err := unix.Close(l.fd)
	l.fd = -1
	return err
}

// Stream is a non-blocking connected (or connecting) TCP socket.
type Stream struct {
	fd     int
	remote *net.TCPAddr
}

// Connect starts a non-blocking connect to addr. An in-progress connect is
// not an error: completion is signalled by write readiness and confirmed with
// SocketError.
//
// Parameters:
//   - addr: The remote address
//
// Returns:
//   - The Stream, possibly still connecting
//   - An error if the socket could not be created or the connect failed synchronously
func Connect(addr *net.TCPAddr) (*Stream, error) {
	sa, family, err := toSockaddr(addr)
	if err != nil {
		return nil, err
	}

	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return nil, fmt.Errorf("socket: %w", err)
	}

	_ = unix.SetsockoptInt(fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, 1)

	for {
		err = unix.Connect(fd, sa)
		if errors.Is(err, unix.EINTR) {
			continue
		}

		break
	}

	if err != nil && !errors.Is(err, unix.EINPROGRESS) {
		_ = unix.Close(fd)
		return nil, fmt.Errorf("connect %s: %w", addr, err)
	}

	return &Stream{fd: fd, remote: addr}, nil
}

// Fd returns the stream's file descriptor, or -1 once closed.
func (s *Stream) Fd() int {
	return s.fd
}

// RemoteAddr returns the peer address known when the stream was created.
func (s *Stream) RemoteAddr() *net.TCPAddr {
	return s.remote
}

// Read reads available bytes into p without blocking.
//
// Returns:
//   - The number of bytes read
//   - ErrWouldBlock when no data is available, io.EOF on orderly peer shutdown,
//     or another error on failure
func (s *Stream) Read(p []byte) (int, error) {
	if s.fd < 0 {
		return 0, ErrClosed
	}

	if len(p) == 0 {
		return 0, nil
	}

	for {
		n, err := unix.Read(s.fd, p)
		if err != nil {
			switch {
			case errors.Is(err, unix.EINTR):
				continue
			case errors.Is(err, unix.EAGAIN):
				return 0, ErrWouldBlock
			}

			return 0, fmt.Errorf("read: %w", err)
		}

		if n == 0 {
			return 0, io.EOF
		}

		return n, nil
	}
}

// Write writes as much of p as the socket accepts without blocking.
//
// Returns:
//   - The number of bytes written, possibly fewer than len(p)
//   - ErrWouldBlock when no bytes could be written, or another error on failure
func (s *Stream) Write(p []byte) (int, error) {
	if s.fd < 0 {
		return 0, ErrClosed
	}

	for {
		n, err := unix.Write(s.fd, p)
		if err != nil {
			switch {
			case errors.Is(err, unix.EINTR):
				continue
			case errors.Is(err, unix.EAGAIN):
				return 0, ErrWouldBlock
			}

			return 0, fmt.Errorf("write: %w", err)
		}

		return n, nil
	}
}

// SocketError returns the pending error recorded on the socket (SO_ERROR),
// which is how a non-blocking connect reports failure.
func (s *Stream) SocketError() error {
	if s.fd < 0 {
		return ErrClosed
	}

	errno, err := unix.GetsockoptInt(s.fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return fmt.Errorf("getsockopt SO_ERROR: %w", err)
	}

	if errno != 0 {
		return unix.Errno(errno)
	}

	return nil
}

// PeerConnected reports whether the handshake of a non-blocking connect has
// finished. A socket with no pending error may still be waiting for the
// peer's reply.
//
// Returns:
//   - true once the stream has a peer address
//   - An error other than ENOTCONN from getpeername
func (s *Stream) PeerConnected() (bool, error) {
	if s.fd < 0 {
		return false, ErrClosed
	}

	if _, err := unix.Getpeername(s.fd); err != nil {
		if errors.Is(err, unix.ENOTCONN) {
			return false, nil
		}

		return false, fmt.Errorf("getpeername: %w", err)
	}

	return true, nil
}

// Shutdown shuts down both directions of the stream.
func (s *Stream) Shutdown() error {
	if s.fd < 0 {
		return ErrClosed
	}

	return unix.Shutdown(s.fd, unix.SHUT_RDWR)
}

// Close closes the stream. It is safe to call multiple times.
func (s *Stream) Close() error {
	if s.fd < 0 {
		return nil
	}

	err := unix.Close(s.fd)
	s.fd = -1
	return err
}

func toSockaddr(addr *net.TCPAddr) (unix.Sockaddr, int, error) {
	if addr == nil {
		return nil, 0, errors.New("nil address")
	}

	if ip4 := addr.IP.To4(); ip4 != nil || addr.IP == nil {
		sa := &unix.SockaddrInet4{Port: addr.Port}
		if ip4 != nil {
			copy(sa.Addr[:], ip4)
		}

		return sa, unix.AF_INET, nil
	}

	ip6 := addr.IP.To16()
	if ip6 == nil {
		return nil, 0, fmt.Errorf("unsupported address %s", addr)
	}

	sa := &unix.SockaddrInet6{Port: addr.Port}
	copy(sa.Addr[:], ip6)
	if addr.Zone != "" {
		if iface, err := net.InterfaceByName(addr.Zone); err == nil {
			sa.ZoneId = uint32(iface.Index)
		}
	}

	return sa, unix.AF_INET6, nil
}

func fromSockaddr(sa unix.Sockaddr) *net.TCPAddr {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		return &net.TCPAddr{IP: net.IP(append([]byte(nil), v.Addr[:]...)), Port: v.Port}
	case *unix.SockaddrInet6:
		addr := &net.TCPAddr{IP: net.IP(append([]byte(nil), v.Addr[:]...)), Port: v.Port}
		if v.ZoneId != 0 {
			if iface, err := net.InterfaceByIndex(int(v.ZoneId)); err == nil {
				addr.Zone = iface.Name
			}
		}

		return addr
	default:
		return &net.TCPAddr{}
	}
}
