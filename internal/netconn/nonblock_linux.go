//go:build linux

package netconn

import (
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/die-net/proxytunnel/internal/bytequeue"
)

// NonBlockingSupported reports whether NewNonBlocking works on this platform.
const NonBlockingSupported = true

// RawConn is a non-blocking duplex connection over a socket descriptor.
type RawConn struct {
	net.Conn
	rc syscall.RawConn
}

// NewNonBlocking wraps c, which must expose its descriptor through
// syscall.Conn (as *net.TCPConn and *net.UnixConn do).
func NewNonBlocking(c net.Conn) (*RawConn, error) {
	sc, ok := c.(syscall.Conn)
	if !ok {
		return nil, fmt.Errorf("non-blocking conn: %T has no descriptor", c)
	}
	rc, err := sc.SyscallConn()
	if err != nil {
		return nil, fmt.Errorf("non-blocking conn: %w", err)
	}
	return &RawConn{Conn: c, rc: rc}, nil
}

// Read reads whatever is available, or returns bytequeue.ErrWouldBlock.
func (c *RawConn) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	var n int
	var opErr error
	// Returning true from the callback keeps the runtime poller from parking
	// on EAGAIN.
	err := c.rc.Read(func(fd uintptr) bool {
		n, opErr = unix.Read(int(fd), p)
		return true
	})
	return readResult(n, err, opErr)
}

// Peek copies available bytes into p without consuming them.
func (c *RawConn) Peek(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	var n int
	var opErr error
	err := c.rc.Read(func(fd uintptr) bool {
		n, _, opErr = unix.Recvfrom(int(fd), p, unix.MSG_PEEK|unix.MSG_DONTWAIT)
		return true
	})
	return readResult(n, err, opErr)
}

// Write writes what the socket buffer accepts, or returns
// bytequeue.ErrWouldBlock if it accepts nothing.
func (c *RawConn) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	var n int
	var opErr error
	err := c.rc.Write(func(fd uintptr) bool {
		n, opErr = unix.Write(int(fd), p)
		return true
	})
	if err != nil {
		return 0, err
	}
	if opErr != nil {
		if errors.Is(opErr, unix.EAGAIN) {
			return 0, bytequeue.ErrWouldBlock
		}
		return 0, &net.OpError{Op: "write", Net: "tcp", Source: c.LocalAddr(), Addr: c.RemoteAddr(), Err: opErr}
	}
	return n, nil
}

// BytesAvailable returns the number of bytes readable without blocking
// (TIOCINQ, the linux name for FIONREAD).
func (c *RawConn) BytesAvailable() int {
	var n int
	var opErr error
	err := c.rc.Control(func(fd uintptr) {
		n, opErr = unix.IoctlGetInt(int(fd), unix.TIOCINQ)
	})
	if err != nil || opErr != nil {
		return 0
	}
	return n
}

// IsBlocking always returns false.
func (c *RawConn) IsBlocking() bool {
	return false
}

func readResult(n int, err, opErr error) (int, error) {
	if err != nil {
		return 0, err
	}
	if opErr != nil {
		if errors.Is(opErr, unix.EAGAIN) {
			return 0, bytequeue.ErrWouldBlock
		}
		return 0, opErr
	}
	if n == 0 {
		return 0, io.EOF
	}
	return n, nil
}
