package connection

import (
	"bytes"
	"fmt"
	"io"

	"github.com/cyberinferno/go-jsonlnet/netpoll"
	"github.com/cyberinferno/go-jsonlnet/socket"
)

type registration struct {
	id       netpoll.SocketID
	interest netpoll.Interest
}

// fakeRegistry records registrations by fd.
type fakeRegistry struct {
	regs           map[int]registration
	reregisters    int
	failReregister error
}

func newFakeRegistry() *fakeRegistry {
	return &fakeRegistry{regs: make(map[int]registration)}
}

func (r *fakeRegistry) Register(fd int, id netpoll.SocketID, interest netpoll.Interest) error {
	if _, ok := r.regs[fd]; ok {
		return fmt.Errorf("fd %d already registered", fd)
	}

	r.regs[fd] = registration{id: id, interest: interest}
	return nil
}

func (r *fakeRegistry) Reregister(fd int, id netpoll.SocketID, interest netpoll.Interest) error {
	if r.failReregister != nil {
		return r.failReregister
	}

	if _, ok := r.regs[fd]; !ok {
		return fmt.Errorf("fd %d not registered", fd)
	}

	r.reregisters++
	r.regs[fd] = registration{id: id, interest: interest}
	return nil
}

func (r *fakeRegistry) Deregister(fd int) error {
	if _, ok := r.regs[fd]; !ok {
		return fmt.Errorf("fd %d not registered", fd)
	}

	delete(r.regs, fd)
	return nil
}

// readStep is one scripted result of fakeSocket.Read.
type readStep struct {
	data string
	err  error
}

// fakeSocket serves scripted reads and captures writes, accepting at most
// writeLimit bytes per call (0 = unlimited) and blocking once writeBudget
// bytes have been taken (negative = never).
type fakeSocket struct {
	fd          int
	reads       []readStep
	written     bytes.Buffer
	writeLimit  int
	writeBudget int
	writeErr    error
	sockErr     error
	pending     bool
	closed      bool
	shutdown    bool
}

func newFakeSocket(fd int) *fakeSocket {
	return &fakeSocket{fd: fd, writeBudget: -1}
}

func (s *fakeSocket) Fd() int { return s.fd }

func (s *fakeSocket) Read(p []byte) (int, error) {
	if len(s.reads) == 0 {
		return 0, socket.ErrWouldBlock
	}

	step := &s.reads[0]
	if step.err != nil && step.data == "" {
		s.reads = s.reads[1:]
		return 0, step.err
	}

	n := copy(p, step.data)
	step.data = step.data[n:]
	if step.data == "" {
		if step.err == nil {
			s.reads = s.reads[1:]
		}
	}

	return n, nil
}

func (s *fakeSocket) Write(p []byte) (int, error) {
	if s.writeErr != nil {
		return 0, s.writeErr
	}

	n := len(p)
	if s.writeLimit > 0 && n > s.writeLimit {
		n = s.writeLimit
	}

	if s.writeBudget >= 0 {
		if s.writeBudget == 0 {
			return 0, socket.ErrWouldBlock
		}

		if n > s.writeBudget {
			n = s.writeBudget
		}

		s.writeBudget -= n
	}

	s.written.Write(p[:n])
	return n, nil
}

func (s *fakeSocket) SocketError() error { return s.sockErr }

func (s *fakeSocket) PeerConnected() (bool, error) { return !s.pending, nil }

func (s *fakeSocket) Shutdown() error {
	s.shutdown = true
	return nil
}

func (s *fakeSocket) Close() error {
	s.closed = true
	return nil
}

// floodSocket never runs dry: every Read fills p with pattern, repeated.
type floodSocket struct {
	*fakeSocket
	pattern string
	reads   int
}

func (s *floodSocket) Read(p []byte) (int, error) {
	s.reads++
	for i := range p {
		p[i] = s.pattern[i%len(s.pattern)]
	}

	return len(p), nil
}

var _ Socket = (*fakeSocket)(nil)
var _ Socket = (*floodSocket)(nil)
var _ io.Reader = (*fakeSocket)(nil)
