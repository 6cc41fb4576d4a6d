// Package epoller wraps Linux epoll behind a thin, uniform readiness
// multiplexer interface, grounded on the EpollCreate1/EpollCtl/EpollWait
// usage in _examples/s00inx-goserver/server/engine/epoll.go, generalized
// from a single hardwired listener loop into an add/modify/remove/wait
// API the reactor drives directly.
package epoller

import "syscall"

// EventMask composes the readiness conditions a caller registers for.
type EventMask uint32

var edgeTrig int32 = syscall.EPOLLET

var (
	Readable EventMask = syscall.EPOLLIN
	Writable EventMask = syscall.EPOLLOUT
	HangUp   EventMask = syscall.EPOLLRDHUP
	ErrMask  EventMask = syscall.EPOLLERR
	EdgeTrig EventMask = EventMask(uint32(edgeTrig))
	OneShot  EventMask = syscall.EPOLLONESHOT
)

// DefaultMaxEvents is the size of the preallocated event buffer Wait
// fills on each call.
const DefaultMaxEvents = 1024

// Poller is a single epoll instance plus the buffer Wait reuses across
// calls to avoid per-call allocation.
type Poller struct {
	fd     int
	events []syscall.EpollEvent
	ready  int
}

// New creates an epoll instance with an event buffer sized maxEvents (or
// DefaultMaxEvents if maxEvents <= 0).
func New(maxEvents int) (*Poller, error) {
	if maxEvents <= 0 {
		maxEvents = DefaultMaxEvents
	}
	fd, err := syscall.EpollCreate1(0)
	if err != nil {
		return nil, err
	}
	return &Poller{fd: fd, events: make([]syscall.EpollEvent, maxEvents)}, nil
}

// Add registers fd for the given event mask.
func (p *Poller) Add(fd int, mask EventMask) error {
	return syscall.EpollCtl(p.fd, syscall.EPOLL_CTL_ADD, fd, &syscall.EpollEvent{
		Events: uint32(mask),
		Fd:     int32(fd),
	})
}

// Modify rearms fd with a new event mask. The reactor calls this after
// every dispatch to a one-shot connection, since delivery disables
// further notifications until rearmed.
func (p *Poller) Modify(fd int, mask EventMask) error {
	return syscall.EpollCtl(p.fd, syscall.EPOLL_CTL_MOD, fd, &syscall.EpollEvent{
		Events: uint32(mask),
		Fd:     int32(fd),
	})
}

// Remove deregisters fd. Safe to call even if fd has already been closed
// by the kernel's implicit epoll removal-on-close, though callers should
// still call this before close to avoid racing a concurrent Wait.
func (p *Poller) Remove(fd int) error {
	return syscall.EpollCtl(p.fd, syscall.EPOLL_CTL_DEL, fd, nil)
}

// Wait blocks until at least one registered fd is ready or timeoutMS
// elapses (-1 blocks indefinitely, 0 returns immediately), and returns
// the number of ready events. EventFD/EventMask read the i-th result.
func (p *Poller) Wait(timeoutMS int) (int, error) {
	n, err := syscall.EpollWait(p.fd, p.events, timeoutMS)
	if err != nil {
		if err == syscall.EINTR {
			p.ready = 0
			return 0, nil
		}
		return 0, err
	}
	p.ready = n
	return n, nil
}

// EventFD returns the file descriptor of the i-th ready event from the
// most recent Wait.
func (p *Poller) EventFD(i int) int {
	return int(p.events[i].Fd)
}

// EventMask returns the readiness bits of the i-th ready event from the
// most recent Wait.
func (p *Poller) EventMask(i int) EventMask {
	return EventMask(p.events[i].Events)
}

// Close releases the underlying epoll instance.
func (p *Poller) Close() error {
	return syscall.Close(p.fd)
}
