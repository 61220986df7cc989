package tunnel

import (
	"context"
	"io"
	"net"

	"github.com/sirupsen/logrus"

	"github.com/die-net/proxytunnel/internal/bytequeue"
)

// DefaultMaxReplySize bounds the proxy reply header block.
const DefaultMaxReplySize = 4096

// Transport is the connection a Socket talks to the proxy over.
type Transport interface {
	bytequeue.Conn
	io.Closer
	LocalAddr() net.Addr
	RemoteAddr() net.Addr
}

// DialFunc opens a transport to address.
type DialFunc func(ctx context.Context, network, address string) (Transport, error)

type Config struct {
	// Proxy is the proxy host:port. If empty, Connect dials the target
	// directly.
	Proxy string

	// MaxReplySize limits the reply header block, including the final empty
	// line. Zero means DefaultMaxReplySize.
	MaxReplySize int

	// Dial opens transports for Connect. ConnectTransport does not use it.
	Dial DialFunc

	// Logger receives state transitions at debug level. Nil uses the
	// package logger.
	Logger *logrus.Entry
}
