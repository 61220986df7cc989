package proxy

import (
	"context"
	"fmt"
	"net"

	"github.com/sirupsen/logrus"

	"github.com/die-net/proxytunnel/internal/dialer"
	"github.com/die-net/proxytunnel/internal/logging"
)

// ForwardServer accepts local connections and tunnels each one to a fixed
// target through the configured dialer.
type ForwardServer struct {
	ctx    context.Context
	dialer dialer.Dialer
	target string
	pool   *queuePool
	log    *logrus.Entry
}

func NewForwardServer(ctx context.Context, cfg Config, target string) *ForwardServer {
	if ctx == nil {
		ctx = context.Background()
	}
	return &ForwardServer{
		ctx:    ctx,
		dialer: cfg.Dialer,
		target: target,
		pool:   newQueuePool(cfg.queueCapacity()),
		log:    logging.WithFields(logrus.Fields{"component": "forward", "target": target}),
	}
}

// Serve accepts connections on ln until it is closed. It returns nil if ln
// was closed because the server's context ended.
func (s *ForwardServer) Serve(ln net.Listener) error {
	for {
		c, err := ln.Accept()
		if err != nil {
			if s.ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		go func() {
			if err := s.handle(c); err != nil {
				s.log.WithField("client", c.RemoteAddr().String()).WithError(err).Warn("connection error")
			}
		}()
	}
}

func (s *ForwardServer) handle(conn net.Conn) error {
	defer conn.Close()
	ctx, cancel := context.WithCancel(s.ctx)
	defer cancel()

	up, err := s.dialer.DialContext(ctx, "tcp", s.target)
	if err != nil {
		return err
	}
	defer up.Close()

	s.log.WithField("client", conn.RemoteAddr().String()).Debug("tunnel established")

	if err := copyBidirectional(ctx, conn, up, s.pool); err != nil {
		return fmt.Errorf("relay: %w", err)
	}
	return nil
}
