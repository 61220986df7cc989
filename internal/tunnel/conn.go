package tunnel

import (
	"errors"
	"fmt"
	"net"
)

// Conn is a tunneled connection seen as a net.Conn. Its RemoteAddr is the
// tunnel target rather than the proxy.
type Conn struct {
	net.Conn
	peer net.Addr
}

func (c *Conn) RemoteAddr() net.Addr {
	return c.peer
}

// NetConn returns the tunneled socket as a net.Conn. The transport must
// itself be a net.Conn. Closing either the Conn or the Socket closes the
// transport.
func (s *Socket) NetConn() (*Conn, error) {
	t, err := s.tunneled()
	if err != nil {
		return nil, err
	}
	nc, ok := t.(net.Conn)
	if !ok {
		return nil, fmt.Errorf("tunnel transport %T is not a net.Conn", t)
	}
	return &Conn{Conn: nc, peer: s.PeerAddress()}, nil
}

// CloseWrite shuts down the writing side of the underlying connection, if it
// supports that.
func (c *Conn) CloseWrite() error {
	if cw, ok := c.Conn.(interface{ CloseWrite() error }); ok {
		return cw.CloseWrite()
	}
	return errors.ErrUnsupported
}
