//go:build linux || darwin

package navlink

import (
	"context"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"golang.org/x/sys/unix"
)

// pollLink waits on raw non-blocking sockets with poll(2). A self-pipe lets
// context cancellation interrupt a pending Wait.
type pollLink struct {
	navFd int
	ackFd int
	wakeR int
	wakeW int
	stop  func() bool

	mu     sync.Mutex
	closed bool
}

func openPollLink(ctx context.Context, ep Endpoint) (_ Link, err error) {
	remote, err := resolve4(ctx, ep.Host)
	if err != nil {
		return nil, err
	}
	localIP, localPort, err := parseLocal(ep.LocalAddr)
	if err != nil {
		return nil, err
	}

	l := &pollLink{navFd: -1, ackFd: -1, wakeR: -1, wakeW: -1}
	defer func() {
		if err != nil {
			l.closeFds()
		}
	}()

	if l.navFd, err = socket(unix.SOCK_DGRAM); err != nil {
		return nil, err
	}
	if err = unix.SetsockoptInt(l.navFd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return nil, os.NewSyscallError("setsockopt", err)
	}
	if err = unix.Bind(l.navFd, &unix.SockaddrInet4{Port: localPort, Addr: localIP}); err != nil {
		return nil, fmt.Errorf("bind navdata %s: %w", ep.LocalAddr, os.NewSyscallError("bind", err))
	}
	navAddr := &unix.SockaddrInet4{Port: ep.NavdataPort, Addr: remote}
	if err = unix.Sendto(l.navFd, activation, 0, navAddr); err != nil {
		return nil, fmt.Errorf("activate navdata: %w", os.NewSyscallError("sendto", err))
	}

	if l.ackFd, err = socket(unix.SOCK_STREAM); err != nil {
		return nil, err
	}
	ctlAddr := &unix.SockaddrInet4{Port: ep.ControlPort, Addr: remote}
	if err = connect(l.ackFd, ctlAddr, ep.ConnectTimeout); err != nil {
		return nil, fmt.Errorf("connect control %s:%d: %w", ep.Host, ep.ControlPort, err)
	}

	var p [2]int
	if err = unix.Pipe(p[:]); err != nil {
		return nil, os.NewSyscallError("pipe", err)
	}
	l.wakeR, l.wakeW = p[0], p[1]
	for _, fd := range p {
		unix.CloseOnExec(fd)
		if err = unix.SetNonblock(fd, true); err != nil {
			return nil, os.NewSyscallError("setnonblock", err)
		}
	}

	l.stop = context.AfterFunc(ctx, l.wake)
	return l, nil
}

func socket(typ int) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, typ, 0)
	if err != nil {
		return -1, os.NewSyscallError("socket", err)
	}
	unix.CloseOnExec(fd)
	if err := unix.SetNonblock(fd, true); err != nil {
		unix.Close(fd)
		return -1, os.NewSyscallError("setnonblock", err)
	}
	return fd, nil
}

// connect performs a non-blocking connect bounded by timeout.
func connect(fd int, sa unix.Sockaddr, timeout time.Duration) error {
	err := unix.Connect(fd, sa)
	if err == nil {
		return nil
	}
	if err != unix.EINPROGRESS && err != unix.EINTR {
		return os.NewSyscallError("connect", err)
	}
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLOUT}}
	n, err := poll(fds, timeout)
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("connect: %w", os.ErrDeadlineExceeded)
	}
	soErr, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return os.NewSyscallError("getsockopt", err)
	}
	if soErr != 0 {
		return os.NewSyscallError("connect", unix.Errno(soErr))
	}
	return nil
}

// poll retries on EINTR with the remaining timeout.
func poll(fds []unix.PollFd, timeout time.Duration) (int, error) {
	deadline := time.Now().Add(timeout)
	for {
		remaining := time.Until(deadline)
		if remaining < 0 {
			remaining = 0
		}
		ms := int((remaining + time.Millisecond - 1) / time.Millisecond)
		n, err := unix.Poll(fds, ms)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return 0, os.NewSyscallError("poll", err)
		}
		return n, nil
	}
}

const readable = unix.POLLIN | unix.POLLERR | unix.POLLHUP

func (l *pollLink) Wait(timeout time.Duration) (Ready, error) {
	fds := []unix.PollFd{
		{Fd: int32(l.navFd), Events: unix.POLLIN},
		{Fd: int32(l.ackFd), Events: unix.POLLIN},
		{Fd: int32(l.wakeR), Events: unix.POLLIN},
	}
	if _, err := poll(fds, timeout); err != nil {
		return Ready{}, err
	}
	if fds[2].Revents != 0 {
		return Ready{}, net.ErrClosed
	}
	return Ready{
		Navdata: fds[0].Revents&readable != 0,
		Ack:     fds[1].Revents&readable != 0,
	}, nil
}

func (l *pollLink) ReadNavdata(buf []byte) (int, error) {
	n, _, err := unix.Recvfrom(l.navFd, buf, 0)
	if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
		return 0, ErrWouldBlock
	}
	if err != nil {
		return 0, os.NewSyscallError("recvfrom", err)
	}
	return n, nil
}

func (l *pollLink) ReadAck(buf []byte) (int, error) {
	n, err := unix.Read(l.ackFd, buf)
	if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
		return 0, ErrWouldBlock
	}
	if err != nil {
		return 0, os.NewSyscallError("read", err)
	}
	return n, nil
}

func (l *pollLink) wake() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.closed {
		unix.Write(l.wakeW, []byte{1})
	}
}

// Close releases both sockets and the wake pipe.
func (l *pollLink) Close() error {
	if l.stop != nil {
		l.stop()
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	return l.closeFds()
}

func (l *pollLink) closeFds() error {
	var first error
	for _, fd := range []*int{&l.navFd, &l.ackFd, &l.wakeR, &l.wakeW} {
		if *fd < 0 {
			continue
		}
		if err := unix.Close(*fd); err != nil && first == nil {
			first = os.NewSyscallError("close", err)
		}
		*fd = -1
	}
	return first
}
