//go:build linux

package netpoll

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

const defaultEventCapacity = 128

// epoll is a level-triggered epoll backend. The registration id is split
// across the two 32-bit words of the epoll data field so events carry the id
// captured at registration time instead of being resolved through an fd map.
type epoll struct {
	fd     int
	events []unix.EpollEvent
}

// Open creates an epoll-backed Poller.
//
// Returns:
//   - A new Poller; call Close to release it
//   - An error if epoll_create1 fails
func Open() (Poller, error) {
	fd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll_create1: %w", err)
	}

	return &epoll{fd: fd, events: make([]unix.EpollEvent, defaultEventCapacity)}, nil
}

func (p *epoll) Register(fd int, id SocketID, interest Interest) error {
	ev := toEpollEvent(id, interest)
	if err := unix.EpollCtl(p.fd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return fmt.Errorf("epoll_ctl add fd %d: %w", fd, err)
	}

	return nil
}

func (p *epoll) Reregister(fd int, id SocketID, interest Interest) error {
	ev := toEpollEvent(id, interest)
	if err := unix.EpollCtl(p.fd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return fmt.Errorf("epoll_ctl mod fd %d: %w", fd, err)
	}

	return nil
}

func (p *epoll) Deregister(fd int) error {
	if err := unix.EpollCtl(p.fd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return fmt.Errorf("epoll_ctl del fd %d: %w", fd, err)
	}

	return nil
}

func (p *epoll) Poll(timeout time.Duration, buf []Event) ([]Event, error) {
	msec := -1
	if timeout >= 0 {
		msec = int(timeout / time.Millisecond)
		if msec == 0 && timeout > 0 {
			msec = 1
		}
	}

	room := cap(buf) - len(buf)
	if room <= 0 {
		room = defaultEventCapacity
	}

	if room > len(p.events) {
		p.events = make([]unix.EpollEvent, room)
	}

	n, err := unix.EpollWait(p.fd, p.events[:room], msec)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return buf, nil
		}

		return buf, fmt.Errorf("epoll_wait: %w", err)
	}

	for i := 0; i < n; i++ {
		buf = append(buf, fromEpollEvent(&p.events[i]))
	}

	return buf, nil
}

func (p *epoll) Close() error {
	return unix.Close(p.fd)
}

func toEpollEvent(id SocketID, interest Interest) unix.EpollEvent {
	var flags uint32
	if interest.IsReadable() {
		flags |= unix.EPOLLIN | unix.EPOLLRDHUP
	}

	if interest.IsWritable() {
		flags |= unix.EPOLLOUT
	}

	return unix.EpollEvent{
		Events: flags,
		Fd:     int32(uint32(id)),
		Pad:    int32(uint32(id >> 32)),
	}
}

func fromEpollEvent(ev *unix.EpollEvent) Event {
	id := SocketID(uint32(ev.Fd)) | SocketID(uint32(ev.Pad))<<32

	var dir Interest
	if ev.Events&(unix.EPOLLIN|unix.EPOLLRDHUP|unix.EPOLLPRI) != 0 {
		dir |= Readable
	}

	if ev.Events&unix.EPOLLOUT != 0 {
		dir |= Writable
	}

	// Errors and hang-ups surface through I/O on whichever side the owner
	// is currently watching.
	if ev.Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
		dir |= Readable | Writable
	}

	return Event{ID: id, Dir: dir}
}
