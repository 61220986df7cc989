package proxy

import (
	"net"
	"time"

	"github.com/die-net/proxytunnel/internal/dialer"
)

type Config struct {
	NegotiationTimeout time.Duration

	KeepAlive net.KeepAliveConfig

	// QueueCapacity bounds each direction's relay queue. Zero uses
	// DefaultQueueCapacity.
	QueueCapacity int

	Dialer dialer.Dialer
}

func (c Config) queueCapacity() int {
	if c.QueueCapacity > 0 {
		return c.QueueCapacity
	}
	return DefaultQueueCapacity
}
