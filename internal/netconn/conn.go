package netconn

import (
	"bufio"
	"errors"
	"net"
)

// Conn is a blocking duplex connection over a net.Conn.
type Conn struct {
	net.Conn
	br *bufio.Reader
}

// NewBlocking wraps c. All reads must go through the returned Conn from now
// on, since it may hold bytes already read from c.
func NewBlocking(c net.Conn) *Conn {
	return &Conn{Conn: c, br: bufio.NewReader(c)}
}

// Read reads buffered bytes first, then from the connection.
func (c *Conn) Read(p []byte) (int, error) {
	return c.br.Read(p)
}

// Peek waits until at least one byte is available and copies as many
// buffered bytes as fit into p, without consuming them. The bytes are copied
// so p stays valid across later reads.
func (c *Conn) Peek(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if c.br.Buffered() == 0 {
		if _, err := c.br.Peek(1); err != nil {
			return 0, err
		}
	}
	b, _ := c.br.Peek(min(len(p), c.br.Buffered()))
	return copy(p, b), nil
}

// BytesAvailable returns the number of bytes already buffered.
func (c *Conn) BytesAvailable() int {
	return c.br.Buffered()
}

// IsBlocking always returns true.
func (c *Conn) IsBlocking() bool {
	return true
}

// CloseWrite shuts down the writing side of the underlying connection, if it
// supports that.
func (c *Conn) CloseWrite() error {
	if cw, ok := c.Conn.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}
	return errors.ErrUnsupported
}
