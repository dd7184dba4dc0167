//go:build linux

package ws

import (
	"net"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// waitBatch caps how many ready descriptors one epoll_wait call returns.
const waitBatch = 128

// Epoll multiplexes read readiness across every registered WebSocket
// connection through a single kernel epoll instance, so the server needs a
// read goroutine only while a connection actually has data, not one per
// idle socket.
type Epoll struct {
	epfd  int
	mu    sync.RWMutex
	byFd  map[int]net.Conn
	ready []unix.EpollEvent // reused across Wait calls
}

// NewEpoll creates the epoll instance.
func NewEpoll() (*Epoll, error) {
	epfd, err := unix.EpollCreate1(0)
	if err != nil {
		return nil, err
	}
	return &Epoll{
		epfd:  epfd,
		byFd:  make(map[int]net.Conn),
		ready: make([]unix.EpollEvent, waitBatch),
	}, nil
}

// Add puts the connection's descriptor on the interest list for read and
// hangup events.
func (e *Epoll) Add(conn net.Conn) error {
	fd := socketFD(conn)
	event := &unix.EpollEvent{
		Events: unix.EPOLLIN | unix.EPOLLHUP,
		Fd:     int32(fd),
	}
	if err := unix.EpollCtl(e.epfd, syscall.EPOLL_CTL_ADD, fd, event); err != nil {
		return err
	}

	e.mu.Lock()
	e.byFd[fd] = conn
	e.mu.Unlock()
	return nil
}

// Remove takes the connection's descriptor off the interest list.
func (e *Epoll) Remove(conn net.Conn) error {
	fd := socketFD(conn)
	if err := unix.EpollCtl(e.epfd, syscall.EPOLL_CTL_DEL, fd, nil); err != nil {
		return err
	}

	e.mu.Lock()
	delete(e.byFd, fd)
	e.mu.Unlock()
	return nil
}

// Wait blocks until at least one registered connection is readable and
// returns the ready connections. A descriptor removed between the kernel
// reporting it and the lookup here is skipped.
func (e *Epoll) Wait() ([]net.Conn, error) {
	n, err := unix.EpollWait(e.epfd, e.ready, -1)
	if err != nil {
		return nil, err
	}

	conns := make([]net.Conn, 0, n)
	e.mu.RLock()
	for _, ev := range e.ready[:n] {
		if conn, ok := e.byFd[int(ev.Fd)]; ok {
			conns = append(conns, conn)
		}
	}
	e.mu.RUnlock()
	return conns, nil
}

// Close releases the epoll descriptor. Registered connections are not
// closed here; the connection manager owns their lifetimes.
func (e *Epoll) Close() error {
	e.mu.Lock()
	e.byFd = nil
	e.mu.Unlock()
	return unix.Close(e.epfd)
}

// socketFD returns the connection's file descriptor without duplicating it
// (net.Conn.File would dup), so the fd used for epoll registration is the
// live socket fd.
func socketFD(conn net.Conn) int {
	sc, ok := conn.(syscall.Conn)
	if !ok {
		return -1
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return -1
	}

	fd := -1
	_ = raw.Control(func(sfd uintptr) {
		fd = int(sfd)
	})
	return fd
}
