package bytequeue

import (
	"errors"
	"io"
)

var (
	// ErrWouldBlock is returned by non-blocking connections when an operation
	// cannot complete without blocking. No data is lost; retry later.
	ErrWouldBlock = errors.New("operation would block")

	// ErrFull is returned when a bounded queue has no room left.
	ErrFull = errors.New("byte queue full")
)

// Source is a connection that a Queue can fill itself from.
type Source interface {
	io.Reader

	// BytesAvailable reports how many bytes can be read without blocking.
	BytesAvailable() int
}

// Conn is a byte-oriented duplex connection.
type Conn interface {
	Source
	io.Writer

	// Peek copies currently available bytes into p without consuming them.
	Peek(p []byte) (int, error)

	// IsBlocking reports whether Read, Write and Peek wait for the peer, or
	// return ErrWouldBlock instead.
	IsBlocking() bool
}
