//go:build !linux

package netconn

import (
	"errors"
	"net"
)

// NonBlockingSupported reports whether NewNonBlocking works on this platform.
const NonBlockingSupported = false

// RawConn is only implemented on Linux.
type RawConn struct {
	net.Conn
}

func NewNonBlocking(_ net.Conn) (*RawConn, error) {
	return nil, errors.New("non-blocking conn is only supported on linux")
}

func (c *RawConn) Peek(_ []byte) (int, error) {
	return 0, errors.ErrUnsupported
}

func (c *RawConn) BytesAvailable() int {
	return 0
}

func (c *RawConn) IsBlocking() bool {
	return false
}
