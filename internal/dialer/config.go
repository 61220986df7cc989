package dialer

import (
	"net"
	"time"
)

type Config struct {
	DialTimeout        time.Duration
	NegotiationTimeout time.Duration
	KeepAlive          net.KeepAliveConfig

	// MaxReplySize bounds the proxy's CONNECT reply headers. Zero uses the
	// tunnel default.
	MaxReplySize int
}
